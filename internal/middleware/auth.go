package middleware

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/viper"
	"golang.org/x/crypto/argon2"
)

type contextKey string

// UserIDKey is the request context key carrying the authenticated user ID.
const UserIDKey contextKey = "userID"

// RoleKey is the request context key carrying the authenticated role.
const RoleKey contextKey = "role"

// UserIDFromContext returns the authenticated user ID, if any.
func UserIDFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(UserIDKey).(string)
	return v, ok && v != ""
}

// RoleFromContext returns the authenticated role, if any.
func RoleFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(RoleKey).(string)
	return v, ok && v != ""
}

func AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Get token from Authorization header
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Authorization header required", http.StatusUnauthorized)
			return
		}

		// Extract token
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			http.Error(w, "Invalid authorization header format", http.StatusUnauthorized)
			return
		}

		token := parts[1]

		userID, role, err := validateToken(token)
		if err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		// Add user identity to context
		ctx := context.WithValue(r.Context(), UserIDKey, userID)
		ctx = context.WithValue(ctx, RoleKey, role)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin allows requests carrying either a JWT with an admin role
// claim or a valid X-Admin-Key header. It validates the bearer token
// itself when AuthMiddleware has not already run, so it can be mounted
// standalone and the API key path stays usable by ops tooling that has
// no user session.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if role, ok := RoleFromContext(r.Context()); ok {
			if role == "admin" {
				next.ServeHTTP(w, r)
				return
			}
		} else if parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2); len(parts) == 2 && parts[0] == "Bearer" {
			if userID, role, err := validateToken(parts[1]); err == nil && role == "admin" {
				ctx := context.WithValue(r.Context(), UserIDKey, userID)
				ctx = context.WithValue(ctx, RoleKey, role)
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}
		}

		if key := r.Header.Get("X-Admin-Key"); key != "" {
			digest := viper.GetString("admin.api_key_digest")
			if digest != "" && verifyAdminKey(key, digest) {
				next.ServeHTTP(w, r)
				return
			}
		}

		http.Error(w, "Admin credential required", http.StatusForbidden)
	})
}

func validateToken(tokenString string) (string, string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(viper.GetString("jwt.secret_key")), nil
	})

	if err != nil || !token.Valid {
		return "", "", fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", "", fmt.Errorf("invalid claims")
	}

	userID, ok := claims["user_id"].(string)
	if !ok || userID == "" {
		return "", "", fmt.Errorf("missing user_id claim")
	}
	role := "user"
	if v, ok := claims["role"].(string); ok && v != "" {
		role = v
	}
	return userID, role, nil
}

// verifyAdminKey checks an API key against a "salt$hash" argon2id digest.
func verifyAdminKey(key, digest string) bool {
	parts := strings.Split(digest, "$")
	if len(parts) != 2 {
		return false
	}

	salt, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return false
	}
	hash, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return false
	}

	computed := argon2.IDKey([]byte(key), salt,
		uint32(viper.GetInt("argon2.time")),
		uint32(viper.GetInt("argon2.memory")),
		uint8(viper.GetInt("argon2.threads")),
		uint32(len(hash)))
	return subtle.ConstantTimeCompare(hash, computed) == 1
}

// SecurityHeaders sets a conservative set of response headers.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		next.ServeHTTP(w, r)
	})
}
