package server

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"boardline/internal/identity"
)

type AuthConfig struct {
	// Secret enables HS256 bearer verification. When empty, only the
	// X-Actor-Id header is consulted.
	Secret string
}

// newIdentityMiddleware resolves the acting principal for every request and
// stores it on the context. Resolution is best-effort by contract: a missing
// or malformed credential degrades to the anonymous sentinel, it never fails
// the request.
func newIdentityMiddleware(cfg AuthConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor := resolveActor(r, cfg)
			next.ServeHTTP(w, r.WithContext(identity.WithActor(r.Context(), actor)))
		})
	}
}

func resolveActor(r *http.Request, cfg AuthConfig) string {
	if auth := r.Header.Get("Authorization"); cfg.Secret != "" && strings.HasPrefix(auth, "Bearer ") {
		raw := strings.TrimPrefix(auth, "Bearer ")
		if sub := subjectFromToken(raw, cfg.Secret); sub != "" {
			return sub
		}
	}
	if actor := r.Header.Get("X-Actor-Id"); actor != "" {
		return actor
	}
	return identity.Anonymous
}

func subjectFromToken(raw, secret string) string {
	token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return ""
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return ""
	}
	sub, _ := claims.GetSubject()
	return sub
}
