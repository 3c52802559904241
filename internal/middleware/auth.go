package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/streamify/backend/internal/auth"
	"github.com/streamify/backend/internal/logging"
	"github.com/streamify/backend/internal/models"
	"github.com/streamify/backend/internal/repositories"
)

// Authenticator verifies access tokens.
type Authenticator interface {
	Authenticate(ctx context.Context, accessToken string) (auth.Claims, error)
}

// AccountLoader resolves the account named by a token.
type AccountLoader interface {
	FindByID(ctx context.Context, id string) (models.User, error)
}

// RequireAuth rejects requests without a valid access token and stores the
// authenticated account on the request context.
func RequireAuth(authenticator Authenticator, accounts AccountLoader) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			logger := logging.FromContext(ctx)

			if authenticator == nil || accounts == nil {
				logger.Error("authentication dependencies unavailable")
				writeError(w, http.StatusInternalServerError, "authentication services unavailable")
				return
			}

			claims, err := authenticator.Authenticate(ctx, auth.TokenFromRequest(r))
			if err != nil {
				if errors.Is(err, auth.ErrUnauthenticated) {
					logger.Warn("request unauthenticated", "error", err)
					writeError(w, http.StatusUnauthorized, "unauthorized - invalid or missing token")
					return
				}
				logger.Error("authenticate request", "error", err)
				writeError(w, http.StatusInternalServerError, "unable to verify credentials")
				return
			}

			user, err := accounts.FindByID(ctx, claims.UserID)
			if err != nil {
				if errors.Is(err, repositories.ErrNotFound) {
					logger.Warn("token for unknown account", "userId", claims.UserID)
					writeError(w, http.StatusUnauthorized, "unauthorized - user not found")
					return
				}
				logger.Error("load authenticated account", "userId", claims.UserID, "error", err)
				writeError(w, http.StatusInternalServerError, "unable to verify credentials")
				return
			}

			ctx = auth.WithUser(ctx, user)
			ctx = logging.WithAttrs(ctx, "userId", user.ID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
