package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// adminAuth guards operator endpoints with a bearer JWT signed by the
// configured admin secret. With no secret configured the guard is a no-op,
// which is the development mode.
func (s *Server) adminAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		secret := s.config.Server.AdminSecret
		if secret == "" {
			next.ServeHTTP(w, r)
			return
		}

		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			s.writeJSON(w, http.StatusUnauthorized,
				errorResponse{Error: "missing bearer token"})
			return
		}

		token := strings.TrimPrefix(header, "Bearer ")
		if err := verifyAdminToken(token, secret); err != nil {
			s.writeJSON(w, http.StatusUnauthorized,
				errorResponse{Error: "invalid token"})
			return
		}

		next.ServeHTTP(w, r)
	})
}

func verifyAdminToken(token, secret string) error {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return fmt.Errorf("parse token: %w", err)
	}
	if !parsed.Valid {
		return fmt.Errorf("token invalid")
	}
	return nil
}

// GenerateAdminToken mints a short-lived operator token. Exposed for the
// CLI tooling and tests.
func GenerateAdminToken(secret, subject string, ttl time.Duration) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
