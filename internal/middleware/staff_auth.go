package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

const staffRole = "staff"

// StaffClaims are issued by the portal's admin login.
type StaffClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// StaffAuth requires an HS256 bearer token with role "staff". The subject is
// stored as the staff id.
func StaffAuth(secret []byte) func(http.Handler) http.Handler {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(secret) == 0 {
				WriteError(w, r, http.StatusServiceUnavailable, "staff_auth_unconfigured", "staff authentication is not configured")
				return
			}

			raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || strings.TrimSpace(raw) == "" {
				WriteError(w, r, http.StatusUnauthorized, "missing_token", "missing bearer token")
				return
			}

			var claims StaffClaims
			_, err := parser.ParseWithClaims(strings.TrimSpace(raw), &claims, func(*jwt.Token) (any, error) {
				return secret, nil
			})
			if err != nil {
				WriteError(w, r, http.StatusUnauthorized, "invalid_token", "invalid bearer token")
				return
			}
			if claims.Role != staffRole || claims.Subject == "" {
				WriteError(w, r, http.StatusForbidden, "forbidden", "staff role required")
				return
			}

			ctx := context.WithValue(r.Context(), ctxStaffID, claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
