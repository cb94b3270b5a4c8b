package memory

import (
	"context"
	"sort"
	"sync"

	"stock-order-flow/internal/domain"
	"stock-order-flow/internal/storage"
)

// SessionStore is an in-memory implementation of storage.SessionStore.
type SessionStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Session // keyed by session ID
}

// NewSessionStore creates a new in-memory session store.
func NewSessionStore() *SessionStore {
	return &SessionStore{
		data: make(map[string]*domain.Session),
	}
}

// Insert adds a new session. Returns ErrDuplicateKey if the session ID exists.
func (s *SessionStore) Insert(_ context.Context, sess *domain.Session) error {
	if sess == nil || sess.ID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[sess.ID]; exists {
		return storage.ErrDuplicateKey
	}

	sessionCopy := *sess
	s.data[sess.ID] = &sessionCopy
	return nil
}

// Update persists a session's current state. Returns ErrNotFound if the
// session was never inserted.
func (s *SessionStore) Update(_ context.Context, sess *domain.Session) error {
	if sess == nil || sess.ID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[sess.ID]; !exists {
		return storage.ErrNotFound
	}

	sessionCopy := *sess
	s.data[sess.ID] = &sessionCopy
	return nil
}

// GetByID retrieves a session by its ID. Returns ErrNotFound if not exists.
func (s *SessionStore) GetByID(_ context.Context, sessionID string) (*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, exists := s.data[sessionID]
	if !exists {
		return nil, storage.ErrNotFound
	}

	sessionCopy := *sess
	return &sessionCopy, nil
}

// GetByAccountRef retrieves all sessions for an account, newest first.
func (s *SessionStore) GetByAccountRef(_ context.Context, accountRef string) ([]*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Session
	for _, sess := range s.data {
		if sess.AccountRef == accountRef {
			sessionCopy := *sess
			result = append(result, &sessionCopy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt != result[j].CreatedAt {
			return result[i].CreatedAt > result[j].CreatedAt
		}
		return result[i].ID < result[j].ID
	})

	return result, nil
}

// ListByState retrieves all sessions in the given state.
func (s *SessionStore) ListByState(_ context.Context, state domain.SessionState) ([]*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Session
	for _, sess := range s.data {
		if sess.State == state {
			sessionCopy := *sess
			result = append(result, &sessionCopy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt != result[j].CreatedAt {
			return result[i].CreatedAt < result[j].CreatedAt
		}
		return result[i].ID < result[j].ID
	})

	return result, nil
}

// DeleteByState removes all sessions in the given state.
func (s *SessionStore) DeleteByState(_ context.Context, state domain.SessionState) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, sess := range s.data {
		if sess.State == state {
			delete(s.data, id)
			removed++
		}
	}
	return removed, nil
}

// Verify interface compliance at compile time.
var _ storage.SessionStore = (*SessionStore)(nil)
