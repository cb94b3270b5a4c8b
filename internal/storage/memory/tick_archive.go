package memory

import (
	"context"
	"sort"
	"sync"

	"stock-order-flow/internal/domain"
	"stock-order-flow/internal/storage"
)

// TickArchive is an in-memory implementation of storage.TickArchive.
type TickArchive struct {
	mu   sync.RWMutex
	data map[string][]domain.Tick // keyed by symbol
}

// NewTickArchive creates a new in-memory tick archive.
func NewTickArchive() *TickArchive {
	return &TickArchive{
		data: make(map[string][]domain.Tick),
	}
}

// InsertBulk adds a batch of ticks.
func (s *TickArchive) InsertBulk(_ context.Context, ticks []domain.Tick) error {
	if len(ticks) == 0 {
		return nil
	}
	for _, t := range ticks {
		if t.Symbol == "" {
			return storage.ErrInvalidInput
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range ticks {
		s.data[t.Symbol] = append(s.data[t.Symbol], t)
	}
	return nil
}

// GetByTimeRange retrieves ticks for a symbol within [start, end] millis
// inclusive, ordered by time then sequence ASC.
func (s *TickArchive) GetByTimeRange(_ context.Context, symbol string, start, end int64) ([]domain.Tick, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []domain.Tick
	for _, t := range s.data[symbol] {
		if t.Time >= start && t.Time <= end {
			result = append(result, t)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Time != result[j].Time {
			return result[i].Time < result[j].Time
		}
		return result[i].Seq < result[j].Seq
	})

	return result, nil
}

// Verify interface compliance at compile time.
var _ storage.TickArchive = (*TickArchive)(nil)
