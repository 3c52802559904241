package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// UserIDLength keeps two joined account ids inside the provider's 64 character
// channel id limit.
const UserIDLength = 24

// NewUserID returns a random account id of UserIDLength hex characters.
func NewUserID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:UserIDLength]
}

// User represents an account within the Streamify platform.
type User struct {
	ID               string
	Email            string
	Password         string
	FullName         string
	Bio              string
	ProfilePic       string
	NativeLanguage   string
	LearningLanguage string
	Location         string
	IsOnboarded      bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Summary projects the user onto the fields other accounts are allowed to see.
func (u User) Summary() UserSummary {
	return UserSummary{
		ID:               u.ID,
		FullName:         u.FullName,
		ProfilePic:       u.ProfilePic,
		Bio:              u.Bio,
		NativeLanguage:   u.NativeLanguage,
		LearningLanguage: u.LearningLanguage,
		Location:         u.Location,
	}
}

// Identity returns the payload presented to the chat and video provider.
func (u User) Identity() ProviderIdentity {
	return ProviderIdentity{ID: u.ID, Name: u.FullName, Image: u.ProfilePic}
}

// UserSummary is the public view of an account.
type UserSummary struct {
	ID               string `json:"_id"`
	FullName         string `json:"fullName"`
	ProfilePic       string `json:"profilePic"`
	Bio              string `json:"bio,omitempty"`
	NativeLanguage   string `json:"nativeLanguage"`
	LearningLanguage string `json:"learningLanguage"`
	Location         string `json:"location,omitempty"`
}

// Profile groups the fields collected during onboarding.
type Profile struct {
	FullName         string
	Bio              string
	NativeLanguage   string
	LearningLanguage string
	Location         string
}

// Friend request lifecycle states. Accepted is terminal.
const (
	FriendStatusPending  = "pending"
	FriendStatusAccepted = "accepted"
)

// FriendRequest represents the invitation workflow between two users.
type FriendRequest struct {
	ID          string
	SenderID    string
	RecipientID string
	Status      string
	CreatedAt   time.Time
	RespondedAt *time.Time
}

// FriendRequestView is a friend request with the counterpart account resolved.
type FriendRequestView struct {
	ID        string       `json:"_id"`
	Sender    *UserSummary `json:"sender,omitempty"`
	Recipient *UserSummary `json:"recipient,omitempty"`
	Status    string       `json:"status"`
	CreatedAt time.Time    `json:"createdAt"`
}

// SessionTokens groups the bearer credentials issued to authenticated users.
type SessionTokens struct {
	AccessToken      string    `json:"accessToken"`
	AccessExpiresAt  time.Time `json:"accessExpiresAt"`
	RefreshToken     string    `json:"refreshToken"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
}

// ProviderIdentity is the identity shape shared with the chat/video provider.
type ProviderIdentity struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Image string `json:"image"`
}

// ProviderToken is a short-lived credential for the chat/video provider. It is
// never persisted server side.
type ProviderToken struct {
	Token     string           `json:"token"`
	APIKey    string           `json:"apiKey"`
	ExpiresAt time.Time        `json:"expiresAt"`
	User      ProviderIdentity `json:"user"`

	// CallBaseURL is the web origin call links point at.
	CallBaseURL string `json:"callBaseUrl,omitempty"`
}
