package handlers

import (
	"context"
	"io"

	"github.com/streamify/backend/internal/auth"
	"github.com/streamify/backend/internal/models"
)

// UserStore captures the persistence operations required by the account handlers.
type UserStore interface {
	Create(ctx context.Context, user models.User) error
	FindByEmail(ctx context.Context, email string) (models.User, error)
	FindByID(ctx context.Context, id string) (models.User, error)
	Update(ctx context.Context, user models.User) error
}

// SessionManager issues, verifies and revokes authentication tokens.
type SessionManager interface {
	Issue(ctx context.Context, userID string) (models.SessionTokens, error)
	Refresh(ctx context.Context, refreshToken string) (models.SessionTokens, error)
	Authenticate(ctx context.Context, accessToken string) (auth.Claims, error)
	Revoke(ctx context.Context, refreshToken string)
	RevokeUser(ctx context.Context, userID string) error
	RevokeAccess(ctx context.Context, accessToken string) error
}

// FriendService captures the relationship workflow used by the user handlers.
type FriendService interface {
	SendRequest(ctx context.Context, senderID, recipientID string) (models.FriendRequest, error)
	Accept(ctx context.Context, requestID, actingUserID string) (models.FriendRequest, error)
	ListFriends(ctx context.Context, userID string) ([]models.UserSummary, error)
	ListIncoming(ctx context.Context, userID string) ([]models.FriendRequestView, error)
	ListOutgoing(ctx context.Context, userID string) ([]models.FriendRequestView, error)
	ListAccepted(ctx context.Context, userID string) ([]models.FriendRequestView, error)
	Recommend(ctx context.Context, userID string) ([]models.UserSummary, error)
}

// ProviderTokenIssuer mints chat/video provider tokens.
type ProviderTokenIssuer interface {
	Issue(user models.User) (models.ProviderToken, error)
}

// ProviderSync schedules pushing account identities to the provider.
type ProviderSync interface {
	Enqueue(ctx context.Context, identity models.ProviderIdentity) error
}

// AvatarStorage persists uploaded profile pictures and returns their public URL.
type AvatarStorage interface {
	Save(ctx context.Context, name string, r io.Reader) (string, error)
}
