package httputil

import (
	"net/http"
	"slices"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Headers browsers may send on cross-origin calls to the function endpoints.
const corsAllowHeaders = "authorization, x-client-info, apikey, content-type, idempotency-key"

// CORSMiddleware adds CORS headers to every response and answers preflight
// OPTIONS requests with 204 and no body. An allowed origin of "*" makes the
// endpoints callable from any browser origin.
func CORSMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	originsSet := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		originsSet[o] = true
	}
	wildcard := originsSet["*"]

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			switch {
			case wildcard:
				w.Header().Set("Access-Control-Allow-Origin", "*")
			case originsSet[origin]:
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
			}

			if r.Method == http.MethodOptions {
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", corsAllowHeaders)
				w.Header().Set("Access-Control-Max-Age", "86400")
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ServiceTokenConfig configures ServiceTokenMiddleware.
type ServiceTokenConfig struct {
	// Secret is the HS256 signing key. Empty disables the check.
	Secret string
	// Roles lists accepted values of the "role" claim. Empty accepts any role.
	Roles []string
}

// ServiceTokenMiddleware guards trigger endpoints with a bearer JWT signed
// by the platform (for example a service-role key used by a scheduler).
func ServiceTokenMiddleware(cfg ServiceTokenConfig) func(http.Handler) http.Handler {
	secret := []byte(cfg.Secret)

	return func(next http.Handler) http.Handler {
		if len(secret) == 0 {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				Error(w, http.StatusUnauthorized, "missing authorization header")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
				Error(w, http.StatusUnauthorized, "invalid authorization header format")
				return
			}

			claims := jwt.MapClaims{}
			_, err := jwt.ParseWithClaims(parts[1], claims, func(_ *jwt.Token) (any, error) {
				return secret, nil
			}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
			if err != nil {
				Error(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}

			if len(cfg.Roles) > 0 {
				role, _ := claims["role"].(string)
				if !slices.Contains(cfg.Roles, role) {
					Error(w, http.StatusForbidden, "insufficient permissions")
					return
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}
