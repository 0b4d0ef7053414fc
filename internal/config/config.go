package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Store backends.
const (
	BackendFirestore = "firestore"
	BackendMongo     = "mongo"
	BackendFile      = "file"
)

// Auth modes for the admin API.
const (
	AuthFirebase = "firebase"
	AuthJWT      = "jwt"
)

type Config struct {
	Env           string `mapstructure:"app_env"`
	ServerAddress string `mapstructure:"server_address"`
	WorkerAddress string `mapstructure:"worker_address"`

	StoreBackend string `mapstructure:"store_backend"`
	DataDir      string `mapstructure:"data_dir"`

	FirebaseProjectID       string `mapstructure:"firebase_project_id"`
	FirebaseCredentialsJSON string `mapstructure:"firebase_credentials_json"`
	FirebaseCredentialsFile string `mapstructure:"google_application_credentials"`

	MongoURI    string `mapstructure:"mongo_uri"`
	MongoDBName string `mapstructure:"mongo_db_name"`

	AuthMode      string        `mapstructure:"auth_mode"`
	JWTSecret     string        `mapstructure:"jwt_secret"`
	JWTExpiration time.Duration `mapstructure:"jwt_expiration"`

	SendGridAPIKey string `mapstructure:"sendgrid_api_key"`
	AlertFromEmail string `mapstructure:"alert_from_email"`
	AlertToEmails  string `mapstructure:"alert_to_emails"`

	ActivationSchedule string        `mapstructure:"sweep_activation_schedule"`
	ExpirySchedule     string        `mapstructure:"sweep_expiry_schedule"`
	PostExpirySchedule string        `mapstructure:"sweep_posts_schedule"`
	SweepTimeout       time.Duration `mapstructure:"sweep_timeout"`

	ResolveChunkSize int           `mapstructure:"resolve_chunk_size"`
	PushTimeout      time.Duration `mapstructure:"push_timeout"`
	CORSOrigins      string        `mapstructure:"cors_origins"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app_env", "production")
	v.SetDefault("server_address", ":8080")
	v.SetDefault("worker_address", ":8081")

	v.SetDefault("store_backend", BackendFirestore)
	v.SetDefault("data_dir", "./data")

	v.SetDefault("firebase_project_id", "")
	v.SetDefault("firebase_credentials_json", "")
	v.SetDefault("google_application_credentials", "")

	v.SetDefault("mongo_uri", "")
	v.SetDefault("mongo_db_name", "campus")

	v.SetDefault("auth_mode", AuthFirebase)
	v.SetDefault("jwt_secret", "")
	v.SetDefault("jwt_expiration", "24h")

	v.SetDefault("sendgrid_api_key", "")
	v.SetDefault("alert_from_email", "")
	v.SetDefault("alert_to_emails", "")

	v.SetDefault("sweep_activation_schedule", "@every 5m")
	v.SetDefault("sweep_expiry_schedule", "@hourly")
	v.SetDefault("sweep_posts_schedule", "@every 15m")
	v.SetDefault("sweep_timeout", "5m")

	v.SetDefault("resolve_chunk_size", 10)
	v.SetDefault("push_timeout", "10s")
	v.SetDefault("cors_origins", "*")
}

// Load reads configuration from the environment (SERVER_ADDRESS,
// STORE_BACKEND, ...) and, when configFile is set, from that file first.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// AutomaticEnv only covers keys viper already knows; defaults above
	// register all of them.
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.StoreBackend {
	case BackendFirestore:
	case BackendMongo:
		if c.MongoURI == "" {
			return fmt.Errorf("MONGO_URI is required for the mongo backend")
		}
	case BackendFile:
		if c.DataDir == "" {
			return fmt.Errorf("DATA_DIR is required for the file backend")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}

	switch c.AuthMode {
	case AuthFirebase:
	case AuthJWT:
		if c.JWTSecret == "" {
			return fmt.Errorf("JWT_SECRET is required for jwt auth")
		}
	default:
		return fmt.Errorf("unknown AUTH_MODE %q", c.AuthMode)
	}

	if c.ResolveChunkSize <= 0 {
		return fmt.Errorf("RESOLVE_CHUNK_SIZE must be positive")
	}
	return nil
}

// NeedsFirebase reports whether the process must initialise the Admin SDK.
func (c *Config) NeedsFirebase() bool {
	return c.StoreBackend == BackendFirestore || c.AuthMode == AuthFirebase
}

// AlertRecipients splits ALERT_TO_EMAILS on commas.
func (c *Config) AlertRecipients() []string {
	return splitList(c.AlertToEmails)
}

func (c *Config) AllowedOrigins() []string {
	return splitList(c.CORSOrigins)
}

func splitList(s string) []string {
	out := make([]string, 0)
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// InitLogger builds the process logger.
func (c *Config) InitLogger() (*zap.Logger, error) {
	var zc zap.Config
	if c.Env == "development" {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}
