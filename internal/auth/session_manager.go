package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/streamify/backend/internal/cache"
	"github.com/streamify/backend/internal/models"
)

var (
	// ErrSessionNotFound indicates the provided refresh token does not map to an active session.
	ErrSessionNotFound = errors.New("session not found")
	// ErrRefreshTokenExpired indicates the refresh token has expired and cannot be used.
	ErrRefreshTokenExpired = errors.New("refresh token expired")
	// ErrUnauthenticated indicates a missing, malformed, expired or revoked access token.
	ErrUnauthenticated = errors.New("unauthenticated")
)

const revokedKeyPrefix = "auth:revoked:"

// SessionStore persists issued refresh tokens so they can survive process restarts.
type SessionStore interface {
	Save(ctx context.Context, session Session) error
	Find(ctx context.Context, refreshToken string) (Session, error)
	Delete(ctx context.Context, refreshToken string) error
	DeleteForUser(ctx context.Context, userID string) error
}

// Session represents a refresh token issued to a user.
type Session struct {
	RefreshToken string
	UserID       string
	ExpiresAt    time.Time
}

// Claims is the verified content of an access token.
type Claims struct {
	UserID    string
	TokenID   string
	ExpiresAt time.Time
}

// Manager issues signed access tokens and persisted refresh tokens, and tracks
// revoked access tokens until they would have expired anyway.
type Manager struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration

	store   SessionStore
	revoked cache.Cache
	now     func() time.Time
}

// NewManager constructs a Manager. revoked may be nil, in which case logout
// only discards refresh tokens.
func NewManager(secret []byte, accessTTL, refreshTTL time.Duration, store SessionStore, revoked cache.Cache) *Manager {
	if store == nil {
		panic("auth: session store must not be nil")
	}
	if len(secret) == 0 {
		panic("auth: signing secret must not be empty")
	}
	return &Manager{
		secret:     secret,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		store:      store,
		revoked:    revoked,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Issue creates a new pair of access and refresh tokens for the provided user identifier.
func (m *Manager) Issue(ctx context.Context, userID string) (models.SessionTokens, error) {
	if userID == "" {
		return models.SessionTokens{}, errors.New("user id must be provided")
	}

	now := m.now()
	accessExpires := now.Add(m.accessTTL)
	accessToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   userID,
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(accessExpires),
	}).SignedString(m.secret)
	if err != nil {
		return models.SessionTokens{}, fmt.Errorf("sign access token: %w", err)
	}

	refreshToken, err := randomToken()
	if err != nil {
		return models.SessionTokens{}, err
	}

	tokens := models.SessionTokens{
		AccessToken:      accessToken,
		AccessExpiresAt:  accessExpires,
		RefreshToken:     refreshToken,
		RefreshExpiresAt: now.Add(m.refreshTTL),
	}

	if err := m.store.Save(ctx, Session{
		RefreshToken: refreshToken,
		UserID:       userID,
		ExpiresAt:    tokens.RefreshExpiresAt,
	}); err != nil {
		return models.SessionTokens{}, err
	}

	return tokens, nil
}

// Authenticate verifies an access token and returns its claims.
func (m *Manager) Authenticate(ctx context.Context, accessToken string) (Claims, error) {
	claims, err := m.parse(accessToken)
	if err != nil {
		return Claims{}, err
	}

	if m.revoked != nil {
		revoked, err := m.revoked.Exists(ctx, revokedKeyPrefix+claims.TokenID)
		if err != nil {
			return Claims{}, fmt.Errorf("check token revocation: %w", err)
		}
		if revoked {
			return Claims{}, fmt.Errorf("%w: token revoked", ErrUnauthenticated)
		}
	}

	return claims, nil
}

// Refresh exchanges a refresh token for a new session token pair.
func (m *Manager) Refresh(ctx context.Context, refreshToken string) (models.SessionTokens, error) {
	if refreshToken == "" {
		return models.SessionTokens{}, ErrSessionNotFound
	}

	session, err := m.store.Find(ctx, refreshToken)
	if err != nil {
		return models.SessionTokens{}, err
	}

	if m.now().After(session.ExpiresAt) {
		_ = m.store.Delete(ctx, refreshToken)
		return models.SessionTokens{}, ErrRefreshTokenExpired
	}

	if err := m.store.Delete(ctx, refreshToken); err != nil {
		return models.SessionTokens{}, err
	}

	return m.Issue(ctx, session.UserID)
}

// Revoke removes the provided refresh token from the active session store.
func (m *Manager) Revoke(ctx context.Context, refreshToken string) {
	if refreshToken == "" {
		return
	}
	_ = m.store.Delete(ctx, refreshToken)
}

// RevokeUser removes every refresh token issued to userID.
func (m *Manager) RevokeUser(ctx context.Context, userID string) error {
	if userID == "" {
		return nil
	}
	return m.store.DeleteForUser(ctx, userID)
}

// RevokeAccess denylists a still-valid access token until its expiry.
// Tokens that are already invalid need no revocation.
func (m *Manager) RevokeAccess(ctx context.Context, accessToken string) error {
	if m.revoked == nil || accessToken == "" {
		return nil
	}
	claims, err := m.parse(accessToken)
	if err != nil {
		return nil
	}
	ttl := claims.ExpiresAt.Sub(m.now())
	if ttl <= 0 {
		return nil
	}
	if err := m.revoked.Set(ctx, revokedKeyPrefix+claims.TokenID, claims.UserID, ttl); err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (m *Manager) parse(accessToken string) (Claims, error) {
	if accessToken == "" {
		return Claims{}, fmt.Errorf("%w: missing token", ErrUnauthenticated)
	}

	var registered jwt.RegisteredClaims
	token, err := jwt.ParseWithClaims(accessToken, &registered, func(*jwt.Token) (any, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(m.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if !token.Valid || registered.Subject == "" || registered.ID == "" {
		return Claims{}, fmt.Errorf("%w: invalid token claims", ErrUnauthenticated)
	}

	return Claims{
		UserID:    registered.Subject,
		TokenID:   registered.ID,
		ExpiresAt: registered.ExpiresAt.Time,
	}, nil
}

func randomToken() (string, error) {
	const size = 32
	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
