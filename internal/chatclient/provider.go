// Package chatclient drives a client's chat and video session against the
// hosted provider: it fetches a provider token from the backend, connects the
// chat, opens the one-to-one channel with a peer and lazily joins a video call.
package chatclient

import (
	"context"

	"github.com/streamify/backend/internal/models"
)

// TokenSource yields provider credentials for the signed-in account.
type TokenSource interface {
	Token(ctx context.Context) (models.ProviderToken, error)
}

// ChatProvider opens authenticated chat connections.
type ChatProvider interface {
	Connect(ctx context.Context, user models.ProviderIdentity, apiKey, token string) (ChatConnection, error)
}

// ChatConnection is a live chat connection for one user.
type ChatConnection interface {
	WatchChannel(ctx context.Context, channelType, channelID string, members []string) (Channel, error)
	Disconnect(ctx context.Context) error
}

// Channel is a watched chat channel.
type Channel interface {
	ID() string
	SendMessage(ctx context.Context, text string) error
}

// VideoProvider builds video clients from the same credentials as the chat.
type VideoProvider interface {
	NewClient(ctx context.Context, user models.ProviderIdentity, apiKey, token string) (VideoClient, error)
}

// VideoClient joins calls.
type VideoClient interface {
	JoinCall(ctx context.Context, callType, callID string, create bool) (VideoCall, error)
	Disconnect(ctx context.Context) error
}

// VideoCall is a joined call. Left is closed once the local participant has
// left the call, whether by request or because the provider ended it.
type VideoCall interface {
	ID() string
	Left() <-chan struct{}
	Leave(ctx context.Context) error
}
