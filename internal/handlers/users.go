package handlers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/streamify/backend/internal/friends"
	"github.com/streamify/backend/internal/logging"
	"github.com/streamify/backend/internal/models"
	"github.com/streamify/backend/internal/repositories"
)

const defaultAvatarMaxBytes = 5 << 20

// UserHandler exposes the friend workflow and profile endpoints under /api/users.
type UserHandler struct {
	Friends        FriendService
	Users          UserStore
	Avatars        AvatarStorage
	Sync           ProviderSync
	AvatarMaxBytes int64
	NowFunc        func() time.Time
}

// Recommended handles GET /api/users.
func (h UserHandler) Recommended(w http.ResponseWriter, r *http.Request) {
	h.listSummaries(w, r, "recommended users", FriendService.Recommend)
}

// ListFriends handles GET /api/users/friends.
func (h UserHandler) ListFriends(w http.ResponseWriter, r *http.Request) {
	h.listSummaries(w, r, "friends", FriendService.ListFriends)
}

// OutgoingRequests handles GET /api/users/outgoing-friend-requests.
func (h UserHandler) OutgoingRequests(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	user, ok := h.prepare(w, r)
	if !ok {
		return
	}

	outgoing, err := h.Friends.ListOutgoing(ctx, user.ID)
	if err != nil {
		writeFriendError(w, r, err, "unable to load outgoing friend requests")
		return
	}
	respondJSON(ctx, w, http.StatusOK, outgoing)
}

// FriendRequests handles GET /api/users/friend-requests.
func (h UserHandler) FriendRequests(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	user, ok := h.prepare(w, r)
	if !ok {
		return
	}

	incoming, err := h.Friends.ListIncoming(ctx, user.ID)
	if err != nil {
		writeFriendError(w, r, err, "unable to load friend requests")
		return
	}
	accepted, err := h.Friends.ListAccepted(ctx, user.ID)
	if err != nil {
		writeFriendError(w, r, err, "unable to load friend requests")
		return
	}

	respondJSON(ctx, w, http.StatusOK, friendRequestsResponse{IncomingReqs: incoming, AcceptedReqs: accepted})
}

// SendRequest handles POST /api/users/friend-request/{id}.
func (h UserHandler) SendRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	user, ok := h.prepare(w, r)
	if !ok {
		return
	}

	recipientID := strings.TrimSpace(r.PathValue("id"))
	if recipientID == "" {
		respondError(ctx, w, http.StatusBadRequest, "recipient id is required")
		return
	}

	request, err := h.Friends.SendRequest(ctx, user.ID, recipientID)
	if err != nil {
		writeFriendError(w, r, err, "unable to send friend request")
		return
	}

	respondJSON(ctx, w, http.StatusCreated, newFriendRequestPayload(request))
}

// AcceptRequest handles PUT /api/users/friend-request/{id}/accept.
func (h UserHandler) AcceptRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	user, ok := h.prepare(w, r)
	if !ok {
		return
	}

	requestID := strings.TrimSpace(r.PathValue("id"))
	if requestID == "" {
		respondError(ctx, w, http.StatusBadRequest, "request id is required")
		return
	}

	request, err := h.Friends.Accept(ctx, requestID, user.ID)
	if err != nil {
		writeFriendError(w, r, err, "unable to accept friend request")
		return
	}

	respondJSON(ctx, w, http.StatusOK, map[string]any{
		"message": "friend request accepted",
		"request": newFriendRequestPayload(request),
	})
}

// UploadAvatar handles POST /api/users/avatar. The body is the raw image.
func (h UserHandler) UploadAvatar(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	logger := logging.FromContext(ctx)

	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	if h.Avatars == nil {
		respondError(ctx, w, http.StatusServiceUnavailable, "avatar uploads are not configured")
		return
	}
	if h.Users == nil {
		logger.Error("user store unavailable")
		respondError(ctx, w, http.StatusInternalServerError, "account services unavailable")
		return
	}

	maxBytes := h.AvatarMaxBytes
	if maxBytes <= 0 {
		maxBytes = defaultAvatarMaxBytes
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBytes))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			respondError(ctx, w, http.StatusRequestEntityTooLarge, fmt.Sprintf("avatar exceeds %d bytes", maxBytes))
			return
		}
		respondError(ctx, w, http.StatusBadRequest, "unable to read avatar")
		return
	}
	if len(body) == 0 {
		respondError(ctx, w, http.StatusBadRequest, "avatar body is required")
		return
	}

	ext, ok := imageExtension(http.DetectContentType(body))
	if !ok {
		respondError(ctx, w, http.StatusUnsupportedMediaType, "avatar must be a png, jpeg, gif or webp image")
		return
	}

	key := fmt.Sprintf("avatars/%s/%s%s", user.ID, uuid.NewString(), ext)
	location, err := h.Avatars.Save(ctx, key, bytes.NewReader(body))
	if err != nil {
		logger.Error("avatar upload failed", "key", key, "error", err)
		respondError(ctx, w, http.StatusBadGateway, "unable to store avatar")
		return
	}

	user.ProfilePic = location
	user.UpdatedAt = h.now()
	if err := h.Users.Update(ctx, user); err != nil {
		logger.Error("avatar profile update failed", "userId", user.ID, "error", err)
		respondError(ctx, w, http.StatusInternalServerError, "failed to update profile")
		return
	}

	if h.Sync != nil {
		if err := h.Sync.Enqueue(ctx, user.Identity()); err != nil {
			logger.Warn("schedule provider user sync", "userId", user.ID, "error", err)
		}
	}

	respondJSON(ctx, w, http.StatusOK, map[string]any{"success": true, "user": newAccountView(user)})
}

func (h UserHandler) listSummaries(w http.ResponseWriter, r *http.Request, what string, list func(FriendService, context.Context, string) ([]models.UserSummary, error)) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	user, ok := h.prepare(w, r)
	if !ok {
		return
	}

	summaries, err := list(h.Friends, ctx, user.ID)
	if err != nil {
		writeFriendError(w, r, err, "unable to load "+what)
		return
	}
	respondJSON(ctx, w, http.StatusOK, summaries)
}

// prepare resolves the signed-in user and checks the friend service is wired.
func (h UserHandler) prepare(w http.ResponseWriter, r *http.Request) (models.User, bool) {
	user, ok := currentUser(w, r)
	if !ok {
		return models.User{}, false
	}
	if h.Friends == nil {
		logging.FromContext(r.Context()).Error("friend service unavailable")
		respondError(r.Context(), w, http.StatusInternalServerError, "friend service unavailable")
		return models.User{}, false
	}
	return user, true
}

func (h UserHandler) now() time.Time {
	if h.NowFunc != nil {
		return h.NowFunc()
	}
	return time.Now().UTC()
}

func writeFriendError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	ctx := r.Context()
	switch {
	case errors.Is(err, friends.ErrSelfRequest):
		respondError(ctx, w, http.StatusConflict, "you can't send a friend request to yourself")
	case errors.Is(err, repositories.ErrNotFound):
		respondError(ctx, w, http.StatusNotFound, "user or friend request not found")
	case errors.Is(err, repositories.ErrForbidden):
		respondError(ctx, w, http.StatusForbidden, "you are not authorized to accept this request")
	case errors.Is(err, repositories.ErrConflict):
		respondError(ctx, w, http.StatusConflict, "a friend request already exists or you are already friends")
	case errors.Is(err, repositories.ErrInvalidState):
		respondError(ctx, w, http.StatusConflict, "friend request is no longer pending")
	default:
		logging.FromContext(ctx).Error("friend operation failed", "error", err)
		respondError(ctx, w, http.StatusInternalServerError, fallback)
	}
}

type friendRequestsResponse struct {
	IncomingReqs []models.FriendRequestView `json:"incomingReqs"`
	AcceptedReqs []models.FriendRequestView `json:"acceptedReqs"`
}

type friendRequestPayload struct {
	ID          string     `json:"_id"`
	Sender      string     `json:"sender"`
	Recipient   string     `json:"recipient"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"createdAt"`
	RespondedAt *time.Time `json:"respondedAt,omitempty"`
}

func newFriendRequestPayload(request models.FriendRequest) friendRequestPayload {
	return friendRequestPayload{
		ID:          request.ID,
		Sender:      request.SenderID,
		Recipient:   request.RecipientID,
		Status:      request.Status,
		CreatedAt:   request.CreatedAt,
		RespondedAt: request.RespondedAt,
	}
}

func imageExtension(contentType string) (string, bool) {
	switch contentType {
	case "image/png":
		return ".png", true
	case "image/jpeg":
		return ".jpg", true
	case "image/gif":
		return ".gif", true
	case "image/webp":
		return ".webp", true
	default:
		return "", false
	}
}
