package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/streamify/backend/internal/auth"
	"github.com/streamify/backend/internal/cache"
	"github.com/streamify/backend/internal/friends"
	"github.com/streamify/backend/internal/models"
	"github.com/streamify/backend/internal/repositories"
)

type inMemoryUserStore struct {
	mu      sync.Mutex
	users   map[string]models.User
	friends *friends.MemoryStore
}

func newInMemoryUserStore() *inMemoryUserStore {
	return &inMemoryUserStore{users: make(map[string]models.User)}
}

func (s *inMemoryUserStore) Create(_ context.Context, user models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if existing.Email == user.Email {
			return repositories.ErrConflict
		}
	}
	s.users[user.ID] = user
	return nil
}

func (s *inMemoryUserStore) FindByEmail(_ context.Context, email string) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, user := range s.users {
		if user.Email == email {
			return user, nil
		}
	}
	return models.User{}, repositories.ErrNotFound
}

func (s *inMemoryUserStore) FindByID(_ context.Context, id string) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[id]
	if !ok {
		return models.User{}, repositories.ErrNotFound
	}
	return user, nil
}

func (s *inMemoryUserStore) FindByIDs(ctx context.Context, ids []string) ([]models.User, error) {
	var out []models.User
	for _, id := range ids {
		if user, err := s.FindByID(ctx, id); err == nil {
			out = append(out, user)
		}
	}
	return out, nil
}

func (s *inMemoryUserStore) ListRecommended(ctx context.Context, userID string, limit int) ([]models.User, error) {
	excluded := map[string]struct{}{userID: {}}
	if s.friends != nil {
		ids, err := s.friends.ListFriendIDs(ctx, userID)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			excluded[id] = struct{}{}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.User
	for id, user := range s.users {
		if _, skip := excluded[id]; skip || !user.IsOnboarded {
			continue
		}
		out = append(out, user)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *inMemoryUserStore) Update(_ context.Context, user models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[user.ID]; !ok {
		return repositories.ErrNotFound
	}
	s.users[user.ID] = user
	return nil
}

type syncRecorder struct {
	mu         sync.Mutex
	identities []models.ProviderIdentity
}

func (s *syncRecorder) Enqueue(_ context.Context, identity models.ProviderIdentity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identities = append(s.identities, identity)
	return nil
}

func (s *syncRecorder) Identities() []models.ProviderIdentity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.ProviderIdentity(nil), s.identities...)
}

func newTestManager(t *testing.T) *auth.Manager {
	t.Helper()
	revoked := cache.NewLocal(time.Minute)
	t.Cleanup(func() { _ = revoked.Close() })
	return auth.NewManager([]byte("test-secret"), time.Minute, time.Hour, auth.NewInMemorySessionStore(), revoked)
}

func jsonRequest(t *testing.T, method, target string, payload any) *http.Request {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func withUser(req *http.Request, user models.User) *http.Request {
	return req.WithContext(auth.WithUser(req.Context(), user))
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}
