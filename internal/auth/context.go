package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/streamify/backend/internal/models"
)

// CookieName is the cookie browsers use to carry the access token.
const CookieName = "jwt"

type ctxKey struct{}

// WithUser stores the authenticated account on the context.
func WithUser(ctx context.Context, user models.User) context.Context {
	return context.WithValue(ctx, ctxKey{}, user)
}

// UserFromContext returns the authenticated account, if any.
func UserFromContext(ctx context.Context) (models.User, bool) {
	if ctx == nil {
		return models.User{}, false
	}
	user, ok := ctx.Value(ctxKey{}).(models.User)
	return user, ok && user.ID != ""
}

// TokenFromRequest extracts the access token from the Authorization header,
// falling back to the session cookie.
func TokenFromRequest(r *http.Request) string {
	if header := strings.TrimSpace(r.Header.Get("Authorization")); header != "" {
		scheme, token, ok := strings.Cut(header, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	if cookie, err := r.Cookie(CookieName); err == nil {
		return cookie.Value
	}
	return ""
}
