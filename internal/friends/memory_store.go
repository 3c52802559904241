package friends

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/streamify/backend/internal/models"
	"github.com/streamify/backend/internal/repositories"
)

// MemoryStore implements repositories.FriendRepository for tests and local
// development. It enforces the same pair uniqueness and accept semantics as
// the PostgreSQL repository.
type MemoryStore struct {
	mu       sync.Mutex
	requests map[string]models.FriendRequest
	friends  map[string]map[string]time.Time
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		requests: make(map[string]models.FriendRequest),
		friends:  make(map[string]map[string]time.Time),
	}
}

// CreateRequest stores request unless the unordered pair already has one.
func (s *MemoryStore) CreateRequest(_ context.Context, request models.FriendRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.requests[request.ID]; exists {
		return repositories.ErrConflict
	}
	if _, ok := s.findBetweenLocked(request.SenderID, request.RecipientID); ok {
		return repositories.ErrConflict
	}
	s.requests[request.ID] = request
	return nil
}

// FindRequestBetween returns the request linking the two users in either direction.
func (s *MemoryStore) FindRequestBetween(_ context.Context, userA, userB string) (models.FriendRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	request, ok := s.findBetweenLocked(userA, userB)
	if !ok {
		return models.FriendRequest{}, repositories.ErrNotFound
	}
	return request, nil
}

// ListRequests returns matching requests, newest first.
func (s *MemoryStore) ListRequests(_ context.Context, filter repositories.RequestFilter) ([]models.FriendRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.FriendRequest
	for _, request := range s.requests {
		if filter.SenderID != "" && request.SenderID != filter.SenderID {
			continue
		}
		if filter.RecipientID != "" && request.RecipientID != filter.RecipientID {
			continue
		}
		if filter.Status != "" && request.Status != filter.Status {
			continue
		}
		out = append(out, request)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// AcceptRequest accepts a pending request and records both friendship edges
// under a single lock acquisition.
func (s *MemoryStore) AcceptRequest(_ context.Context, requestID, actingUserID string, at time.Time) (models.FriendRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	request, ok := s.requests[requestID]
	if !ok {
		return models.FriendRequest{}, repositories.ErrNotFound
	}
	if request.RecipientID != actingUserID {
		return models.FriendRequest{}, repositories.ErrForbidden
	}
	if request.Status != models.FriendStatusPending {
		return models.FriendRequest{}, repositories.ErrInvalidState
	}

	at = at.UTC()
	request.Status = models.FriendStatusAccepted
	request.RespondedAt = &at
	s.requests[requestID] = request

	s.addEdgeLocked(request.SenderID, request.RecipientID, at)
	s.addEdgeLocked(request.RecipientID, request.SenderID, at)

	return request, nil
}

// ListFriendIDs returns userID's friends ordered by when the friendship began.
func (s *MemoryStore) ListFriendIDs(_ context.Context, userID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	edges := s.friends[userID]
	ids := make([]string, 0, len(edges))
	for id := range edges {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		ti, tj := edges[ids[i]], edges[ids[j]]
		if ti.Equal(tj) {
			return ids[i] < ids[j]
		}
		return ti.Before(tj)
	})
	return ids, nil
}

func (s *MemoryStore) findBetweenLocked(userA, userB string) (models.FriendRequest, bool) {
	for _, request := range s.requests {
		if (request.SenderID == userA && request.RecipientID == userB) ||
			(request.SenderID == userB && request.RecipientID == userA) {
			return request, true
		}
	}
	return models.FriendRequest{}, false
}

func (s *MemoryStore) addEdgeLocked(from, to string, at time.Time) {
	edges, ok := s.friends[from]
	if !ok {
		edges = make(map[string]time.Time)
		s.friends[from] = edges
	}
	if _, exists := edges[to]; !exists {
		edges[to] = at
	}
}

var _ repositories.FriendRepository = (*MemoryStore)(nil)
