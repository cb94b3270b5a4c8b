package memory

import (
	"context"
	"sort"
	"sync"

	"stock-order-flow/internal/domain"
	"stock-order-flow/internal/storage"
)

// AccountStore is an in-memory implementation of storage.AccountStore.
type AccountStore struct {
	mu         sync.RWMutex
	data       map[string]*domain.Account // keyed by account ID
	byUsername map[string]string          // username -> account ID
}

// NewAccountStore creates a new in-memory account store.
func NewAccountStore() *AccountStore {
	return &AccountStore{
		data:       make(map[string]*domain.Account),
		byUsername: make(map[string]string),
	}
}

// Insert adds a new account. Returns ErrDuplicateKey if the account ID
// or username already exists.
func (s *AccountStore) Insert(_ context.Context, a *domain.Account) error {
	if a == nil || a.ID == "" || a.Username == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[a.ID]; exists {
		return storage.ErrDuplicateKey
	}
	if _, exists := s.byUsername[a.Username]; exists {
		return storage.ErrDuplicateKey
	}

	// Store a copy to prevent external mutation
	accountCopy := *a
	s.data[a.ID] = &accountCopy
	s.byUsername[a.Username] = a.ID
	return nil
}

// GetByID retrieves an account by its ID. Returns ErrNotFound if not exists.
func (s *AccountStore) GetByID(_ context.Context, accountID string) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, exists := s.data[accountID]
	if !exists {
		return nil, storage.ErrNotFound
	}

	accountCopy := *a
	return &accountCopy, nil
}

// GetByUsername retrieves an account by username. Returns ErrNotFound if not exists.
func (s *AccountStore) GetByUsername(_ context.Context, username string) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, exists := s.byUsername[username]
	if !exists {
		return nil, storage.ErrNotFound
	}

	accountCopy := *s.data[id]
	return &accountCopy, nil
}

// List retrieves all accounts, ordered by creation time ASC.
func (s *AccountStore) List(_ context.Context) ([]*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.Account, 0, len(s.data))
	for _, a := range s.data {
		accountCopy := *a
		result = append(result, &accountCopy)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt != result[j].CreatedAt {
			return result[i].CreatedAt < result[j].CreatedAt
		}
		return result[i].ID < result[j].ID
	})

	return result, nil
}

// Verify interface compliance at compile time.
var _ storage.AccountStore = (*AccountStore)(nil)
