package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"
)

// TokenCookie is the cookie checked when no Authorization header is present.
const TokenCookie = "auth_token"

// TokenVerifier returns the subject of a valid token.
type TokenVerifier interface {
	AuthenticateJWT(token string) (string, error)
}

type subjectKey struct{}

// RequireToken rejects requests without a valid bearer token (or auth_token cookie).
// The token subject is available to handlers through Subject.
func RequireToken(logger *logrus.Logger, verifier TokenVerifier) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				http.Error(w, "missing token", http.StatusUnauthorized)
				return
			}
			sub, err := verifier.AuthenticateJWT(token)
			if err != nil {
				logger.WithFields(logrus.Fields{"path": r.URL.Path, "remote": r.RemoteAddr}).WithError(err).Warn("rejected token")
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), subjectKey{}, sub)))
		})
	}
}

// Subject returns the authenticated token subject, if any.
func Subject(ctx context.Context) (string, bool) {
	sub, ok := ctx.Value(subjectKey{}).(string)
	return sub, ok
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	c, err := r.Cookie(TokenCookie)
	if err != nil {
		return ""
	}
	return c.Value
}
