// Package ownertoken issues and resolves the anonymous browser
// identity cookie used to scope file visibility. The token is
// client-held and unauthenticated; it must never gate a sensitive
// operation.
package ownertoken

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
)

type contextKey string

const (
	// CookieName is the identity cookie set on first contact.
	CookieName = "browserId"

	cookieMaxAge = 365 * 24 * 60 * 60

	tokenCtxKey = contextKey("owner_token")
)

// Middleware ensures each request carries an owner token. An existing
// cookie is reused; otherwise a fresh token is generated and set with
// a one-year expiry. Failures degrade to an empty token and the
// request proceeds.
func Middleware(secure bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := resolve(w, r, secure)
			ctx := context.WithValue(r.Context(), tokenCtxKey, token)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func resolve(w http.ResponseWriter, r *http.Request, secure bool) string {
	cookie, err := r.Cookie(CookieName)
	if err == nil && cookie.Value != "" {
		return cookie.Value
	}
	token, err := newToken()
	if err != nil {
		slog.Warn("owner token generation failed, proceeding without one", "err", err)
		return ""
	}
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		MaxAge:   cookieMaxAge,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   secure,
		Path:     "/",
	})
	slog.Info("issued new owner token", "token_prefix", token[:8])
	return token
}

func newToken() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// FromContext returns the owner token resolved for this request, or
// empty when resolution failed.
func FromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	token, _ := ctx.Value(tokenCtxKey).(string)
	return token
}
