package handlers

import (
	"errors"
	"net/http"

	"github.com/streamify/backend/internal/logging"
	"github.com/streamify/backend/internal/stream"
)

// ChatHandler hands out provider credentials to signed-in users.
type ChatHandler struct {
	Tokens ProviderTokenIssuer
}

// Token handles GET /api/get-stream-token. The token is always minted for the
// caller's own account.
func (h ChatHandler) Token(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	if h.Tokens == nil {
		respondError(ctx, w, http.StatusServiceUnavailable, "chat provider unavailable")
		return
	}

	token, err := h.Tokens.Issue(user)
	if err != nil {
		if errors.Is(err, stream.ErrProviderUnavailable) {
			logging.FromContext(ctx).Warn("provider token unavailable", "error", err)
			respondError(ctx, w, http.StatusServiceUnavailable, "chat provider unavailable")
			return
		}
		logging.FromContext(ctx).Error("issue provider token", "error", err)
		respondError(ctx, w, http.StatusInternalServerError, "unable to issue chat token")
		return
	}

	respondJSON(ctx, w, http.StatusOK, token)
}
