// Command admintoken mints an operator token for the admin API when it runs
// with AUTH_MODE=jwt.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/campuspulse/console/internal/config"
	"github.com/campuspulse/console/internal/middleware"
)

func main() {
	userID := flag.String("user", "", "admin user id to embed in the token")
	flag.Parse()

	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if cfg.AuthMode != config.AuthJWT {
		log.Fatalf("AUTH_MODE is %q; operator tokens are only accepted in jwt mode", cfg.AuthMode)
	}

	token, err := middleware.IssueAdminToken(cfg.JWTSecret, *userID, cfg.JWTExpiration)
	if err != nil {
		log.Fatalf("Failed to issue token: %v", err)
	}
	fmt.Println(token)
}
