package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"firebase.google.com/go/v4/auth"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/campuspulse/console/internal/models"
)

type contextKey string

const UserIDKey contextKey = "userID"

// IDTokenVerifier is satisfied by *auth.Client.
type IDTokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*auth.Token, error)
}

func bearerToken(w http.ResponseWriter, r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		writeJSON(w, http.StatusUnauthorized, models.NewErrorResponse("Authorization header required"))
		return "", false
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		writeJSON(w, http.StatusUnauthorized, models.NewErrorResponse("Invalid authorization header format"))
		return "", false
	}
	return parts[1], true
}

// JWTAuth accepts HS256 operator tokens carrying user_id and role=admin.
func JWTAuth(jwtSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, ok := bearerToken(w, r)
			if !ok {
				return
			}

			token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return []byte(jwtSecret), nil
			})

			if err != nil || !token.Valid {
				writeJSON(w, http.StatusUnauthorized, models.NewErrorResponse("Invalid or expired token"))
				return
			}

			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok {
				writeJSON(w, http.StatusUnauthorized, models.NewErrorResponse("Invalid token claims"))
				return
			}

			userID, ok := claims["user_id"].(string)
			if !ok || userID == "" {
				writeJSON(w, http.StatusUnauthorized, models.NewErrorResponse("Invalid user ID in token"))
				return
			}

			if role, _ := claims["role"].(string); role != models.RoleAdmin {
				writeJSON(w, http.StatusForbidden, models.NewErrorResponse("Admin access required"))
				return
			}

			ctx := context.WithValue(r.Context(), UserIDKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IssueAdminToken signs an operator token accepted by JWTAuth.
func IssueAdminToken(jwtSecret, userID string, expiration time.Duration) (string, error) {
	if jwtSecret == "" || userID == "" {
		return "", fmt.Errorf("secret and user id are required")
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"user_id": userID,
		"role":    models.RoleAdmin,
		"exp":     now.Add(expiration).Unix(),
		"iat":     now.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(jwtSecret))
}

// FirebaseAuth accepts Firebase ID tokens whose custom claims include
// admin=true.
func FirebaseAuth(verifier IDTokenVerifier, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			idToken, ok := bearerToken(w, r)
			if !ok {
				return
			}

			token, err := verifier.VerifyIDToken(r.Context(), idToken)
			if err != nil {
				logger.Debug("id token rejected", zap.Error(err))
				writeJSON(w, http.StatusUnauthorized, models.NewErrorResponse("Invalid or expired token"))
				return
			}

			if isAdmin, _ := token.Claims["admin"].(bool); !isAdmin {
				writeJSON(w, http.StatusForbidden, models.NewErrorResponse("Admin access required"))
				return
			}

			ctx := context.WithValue(r.Context(), UserIDKey, token.UID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetUserID extracts user ID from context
func GetUserID(ctx context.Context) string {
	userID, ok := ctx.Value(UserIDKey).(string)
	if !ok {
		return ""
	}
	return userID
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
