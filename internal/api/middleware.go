/**
 * @description
 * Authentication middleware. Consumer routes carry an HS256 bearer token whose
 * subject is the consumer id; internal routes carry a shared API key.
 */
package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

// ConsumerIDContextKey is the key used to store the consumer ID in the request context.
const ConsumerIDContextKey = contextKey("consumerID")

// ConsumerAuthMiddleware validates HS256 JWTs signed with secret and injects
// the token subject into the request context.
func ConsumerAuthMiddleware(secret string) func(http.Handler) http.Handler {
	key := []byte(secret)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(key) == 0 {
				writeError(w, http.StatusUnauthorized, "Consumer authentication is not configured", "unauthorized")
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeError(w, http.StatusUnauthorized, "Authorization header required", "unauthorized")
				return
			}

			tokenString := strings.TrimPrefix(authHeader, "Bearer ")
			if tokenString == authHeader {
				writeError(w, http.StatusUnauthorized, "Invalid Authorization header format", "unauthorized")
				return
			}

			token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
				return key, nil
			}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
			if err != nil || !token.Valid {
				writeError(w, http.StatusUnauthorized, "Invalid token", "unauthorized")
				return
			}

			consumerID, err := token.Claims.GetSubject()
			if err != nil || strings.TrimSpace(consumerID) == "" {
				writeError(w, http.StatusUnauthorized, "Consumer ID not found in token", "unauthorized")
				return
			}

			ctx := context.WithValue(r.Context(), ConsumerIDContextKey, consumerID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// InternalAuthMiddleware validates the internal API key for server-to-server
// calls. An empty requiredKey disables the check for local runs.
func InternalAuthMiddleware(requiredKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if requiredKey == "" {
				next.ServeHTTP(w, r)
				return
			}

			provided := r.Header.Get("X-Internal-API-Key")
			if provided == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(requiredKey)) != 1 {
				writeError(w, http.StatusUnauthorized, "Unauthorized", "unauthorized")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ConsumerFromContext retrieves the consumer ID from the request context.
func ConsumerFromContext(ctx context.Context) (string, bool) {
	consumerID, ok := ctx.Value(ConsumerIDContextKey).(string)
	return consumerID, ok
}
