// Package friends implements the friend request workflow: sending, accepting
// and listing requests, and resolving the mutual friend list of an account.
package friends

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/streamify/backend/internal/logging"
	"github.com/streamify/backend/internal/models"
	"github.com/streamify/backend/internal/repositories"
)

// ErrSelfRequest is returned when a user tries to befriend themselves.
var ErrSelfRequest = fmt.Errorf("%w: cannot send a friend request to yourself", repositories.ErrConflict)

// Accounts resolves account records referenced by requests and friend lists.
type Accounts interface {
	FindByID(ctx context.Context, id string) (models.User, error)
	FindByIDs(ctx context.Context, ids []string) ([]models.User, error)
	ListRecommended(ctx context.Context, userID string, limit int) ([]models.User, error)
}

// Service coordinates friend requests between accounts.
type Service struct {
	Store    repositories.FriendRepository
	Accounts Accounts
	NowFunc  func() time.Time
}

// NewService constructs a Service over the provided stores.
func NewService(store repositories.FriendRepository, accounts Accounts) *Service {
	return &Service{Store: store, Accounts: accounts}
}

// SendRequest records a pending request from sender to recipient.
func (s *Service) SendRequest(ctx context.Context, senderID, recipientID string) (models.FriendRequest, error) {
	if senderID == recipientID {
		return models.FriendRequest{}, ErrSelfRequest
	}

	if _, err := s.Accounts.FindByID(ctx, recipientID); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return models.FriendRequest{}, fmt.Errorf("recipient %s: %w", recipientID, repositories.ErrNotFound)
		}
		return models.FriendRequest{}, fmt.Errorf("lookup recipient: %w", err)
	}

	friendIDs, err := s.Store.ListFriendIDs(ctx, senderID)
	if err != nil {
		return models.FriendRequest{}, fmt.Errorf("list friends: %w", err)
	}
	for _, id := range friendIDs {
		if id == recipientID {
			return models.FriendRequest{}, fmt.Errorf("already friends: %w", repositories.ErrConflict)
		}
	}

	existing, err := s.Store.FindRequestBetween(ctx, senderID, recipientID)
	switch {
	case err == nil:
		return models.FriendRequest{}, fmt.Errorf("request %s already %s: %w", existing.ID, existing.Status, repositories.ErrConflict)
	case !errors.Is(err, repositories.ErrNotFound):
		return models.FriendRequest{}, fmt.Errorf("lookup existing request: %w", err)
	}

	request := models.FriendRequest{
		ID:          uuid.NewString(),
		SenderID:    senderID,
		RecipientID: recipientID,
		Status:      models.FriendStatusPending,
		CreatedAt:   s.now(),
	}

	if err := s.Store.CreateRequest(ctx, request); err != nil {
		return models.FriendRequest{}, err
	}

	logging.FromContext(ctx).Info("friend request sent", "requestId", request.ID, "senderId", senderID, "recipientId", recipientID)
	return request, nil
}

// Accept transitions a pending request to accepted on behalf of its recipient
// and makes the two accounts friends of each other.
func (s *Service) Accept(ctx context.Context, requestID, actingUserID string) (models.FriendRequest, error) {
	ctx, span := logging.StartSpan(ctx, "friends.accept")
	defer span.End()

	request, err := s.Store.AcceptRequest(ctx, requestID, actingUserID, s.now())
	if err != nil {
		return models.FriendRequest{}, err
	}

	logging.FromContext(ctx).Info("friend request accepted", "requestId", request.ID, "senderId", request.SenderID, "recipientId", request.RecipientID)
	return request, nil
}

// ListFriends returns the summaries of every friend of userID.
func (s *Service) ListFriends(ctx context.Context, userID string) ([]models.UserSummary, error) {
	ids, err := s.Store.ListFriendIDs(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list friends: %w", err)
	}
	if len(ids) == 0 {
		return []models.UserSummary{}, nil
	}

	users, err := s.Accounts.FindByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("resolve friends: %w", err)
	}

	out := make([]models.UserSummary, 0, len(users))
	for _, user := range users {
		out = append(out, user.Summary())
	}
	return out, nil
}

// ListIncoming returns pending requests addressed to userID with senders resolved.
func (s *Service) ListIncoming(ctx context.Context, userID string) ([]models.FriendRequestView, error) {
	return s.listViews(ctx, repositories.RequestFilter{RecipientID: userID, Status: models.FriendStatusPending})
}

// ListOutgoing returns pending requests sent by userID with recipients resolved.
func (s *Service) ListOutgoing(ctx context.Context, userID string) ([]models.FriendRequestView, error) {
	return s.listViews(ctx, repositories.RequestFilter{SenderID: userID, Status: models.FriendStatusPending})
}

// ListAccepted returns requests sent by userID that the recipient accepted.
func (s *Service) ListAccepted(ctx context.Context, userID string) ([]models.FriendRequestView, error) {
	return s.listViews(ctx, repositories.RequestFilter{SenderID: userID, Status: models.FriendStatusAccepted})
}

// Recommend lists onboarded accounts the user is not yet friends with.
func (s *Service) Recommend(ctx context.Context, userID string) ([]models.UserSummary, error) {
	users, err := s.Accounts.ListRecommended(ctx, userID, 50)
	if err != nil {
		return nil, fmt.Errorf("list recommended users: %w", err)
	}

	out := make([]models.UserSummary, 0, len(users))
	for _, user := range users {
		out = append(out, user.Summary())
	}
	return out, nil
}

func (s *Service) listViews(ctx context.Context, filter repositories.RequestFilter) ([]models.FriendRequestView, error) {
	requests, err := s.Store.ListRequests(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list friend requests: %w", err)
	}
	if len(requests) == 0 {
		return []models.FriendRequestView{}, nil
	}

	seen := make(map[string]struct{})
	var ids []string
	for _, request := range requests {
		for _, id := range []string{request.SenderID, request.RecipientID} {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}

	users, err := s.Accounts.FindByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("resolve request participants: %w", err)
	}
	byID := make(map[string]models.UserSummary, len(users))
	for _, user := range users {
		byID[user.ID] = user.Summary()
	}

	views := make([]models.FriendRequestView, 0, len(requests))
	for _, request := range requests {
		view := models.FriendRequestView{
			ID:        request.ID,
			Status:    request.Status,
			CreatedAt: request.CreatedAt,
		}
		if filter.RecipientID != "" {
			if sender, ok := byID[request.SenderID]; ok {
				view.Sender = &sender
			}
		}
		if filter.SenderID != "" {
			if recipient, ok := byID[request.RecipientID]; ok {
				view.Recipient = &recipient
			}
		}
		views = append(views, view)
	}
	return views, nil
}

func (s *Service) now() time.Time {
	if s.NowFunc != nil {
		return s.NowFunc()
	}
	return time.Now().UTC()
}
