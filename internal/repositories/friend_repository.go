package repositories

import (
	"context"
	"time"

	"github.com/streamify/backend/internal/models"
)

// RequestFilter narrows friend request listings. Empty fields match everything.
type RequestFilter struct {
	SenderID    string
	RecipientID string
	Status      string
}

// FriendRepository defines data access for friend requests and relationships.
type FriendRepository interface {
	CreateRequest(ctx context.Context, request models.FriendRequest) error
	FindRequestBetween(ctx context.Context, userA, userB string) (models.FriendRequest, error)
	ListRequests(ctx context.Context, filter RequestFilter) ([]models.FriendRequest, error)
	AcceptRequest(ctx context.Context, requestID, actingUserID string, at time.Time) (models.FriendRequest, error)
	ListFriendIDs(ctx context.Context, userID string) ([]string, error)
}
