package memory

import (
	"context"
	"sort"
	"sync"

	"stock-order-flow/internal/domain"
	"stock-order-flow/internal/storage"
)

// LargeOrderStore is an in-memory implementation of storage.LargeOrderStore.
type LargeOrderStore struct {
	mu   sync.RWMutex
	data map[string][]domain.LargeOrder // keyed by symbol
}

// NewLargeOrderStore creates a new in-memory large-order store.
func NewLargeOrderStore() *LargeOrderStore {
	return &LargeOrderStore{
		data: make(map[string][]domain.LargeOrder),
	}
}

// InsertBulk adds a batch of classified orders.
func (s *LargeOrderStore) InsertBulk(_ context.Context, orders []domain.LargeOrder) error {
	if len(orders) == 0 {
		return nil
	}
	for _, o := range orders {
		if o.Tick.Symbol == "" {
			return storage.ErrInvalidInput
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, o := range orders {
		s.data[o.Tick.Symbol] = append(s.data[o.Tick.Symbol], o)
	}
	return nil
}

// GetByTimeRange retrieves orders for a symbol within [start, end] millis
// inclusive, ordered by time ASC.
func (s *LargeOrderStore) GetByTimeRange(_ context.Context, symbol string, start, end int64) ([]domain.LargeOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []domain.LargeOrder
	for _, o := range s.data[symbol] {
		if o.Tick.Time >= start && o.Tick.Time <= end {
			result = append(result, o)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Tick.Time != result[j].Tick.Time {
			return result[i].Tick.Time < result[j].Tick.Time
		}
		return result[i].Tick.Seq < result[j].Tick.Seq
	})

	return result, nil
}

// Verify interface compliance at compile time.
var _ storage.LargeOrderStore = (*LargeOrderStore)(nil)
