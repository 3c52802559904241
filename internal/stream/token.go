// Package stream talks to the hosted chat and video provider: it mints user
// tokens for clients and keeps the provider's user directory in sync.
package stream

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/streamify/backend/internal/models"
)

// ErrProviderUnavailable indicates missing provider credentials or a failed
// provider call.
var ErrProviderUnavailable = errors.New("chat provider unavailable")

// DefaultTokenTTL bounds the lifetime of user tokens when none is configured.
const DefaultTokenTTL = 24 * time.Hour

// TokenIssuer signs provider user tokens with the server-held API secret.
type TokenIssuer struct {
	APIKey  string
	Secret  string
	TTL     time.Duration
	NowFunc func() time.Time

	// CallBaseURL is handed to clients for building call links.
	CallBaseURL string
}

// NewTokenIssuer constructs a TokenIssuer.
func NewTokenIssuer(apiKey, secret string, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{APIKey: apiKey, Secret: secret, TTL: ttl}
}

// Issue returns a token that identifies exactly the given account to the provider.
func (i *TokenIssuer) Issue(user models.User) (models.ProviderToken, error) {
	if i == nil || strings.TrimSpace(i.APIKey) == "" || strings.TrimSpace(i.Secret) == "" {
		return models.ProviderToken{}, fmt.Errorf("%w: credentials not configured", ErrProviderUnavailable)
	}
	if user.ID == "" {
		return models.ProviderToken{}, errors.New("stream: user id must be provided")
	}

	ttl := i.TTL
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	now := i.now()
	expiresAt := now.Add(ttl)

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": user.ID,
		"iat":     now.Unix(),
		"exp":     expiresAt.Unix(),
	}).SignedString([]byte(i.Secret))
	if err != nil {
		return models.ProviderToken{}, fmt.Errorf("%w: sign token: %v", ErrProviderUnavailable, err)
	}

	return models.ProviderToken{
		Token:       signed,
		APIKey:      i.APIKey,
		ExpiresAt:   time.Unix(expiresAt.Unix(), 0).UTC(),
		User:        user.Identity(),
		CallBaseURL: i.CallBaseURL,
	}, nil
}

func (i *TokenIssuer) now() time.Time {
	if i.NowFunc != nil {
		return i.NowFunc()
	}
	return time.Now().UTC()
}

// serverToken signs the credential used for server-side REST calls.
func serverToken(secret string) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"server": true}).SignedString([]byte(secret))
}
