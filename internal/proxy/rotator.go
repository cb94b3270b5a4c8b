// Package proxy maintains a health-scored set of proxy endpoints and
// hands one out per session request.
package proxy

import (
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"stock-order-flow/internal/domain"
)

// ErrNoProxy is returned by Lease when every entry is leased or retired.
var ErrNoProxy = errors.New("proxy rotator: no proxy available")

// Scoring constants. An entry starts at full health, loses
// failurePenalty per reported failure, regains successReward per
// reported success, and is retired once it drops below the floor.
const (
	initialHealth  = 100.0
	failurePenalty = 25.0
	successReward  = 5.0
)

// Rotator tracks proxy endpoints and their lease state.
type Rotator struct {
	mu      sync.Mutex
	entries map[string]*domain.ProxyEntry
	floor   float64
	logger  *zap.Logger
	now     func() int64
}

// New builds a rotator over the given endpoints. Entries whose health
// falls below floor are retired from rotation.
func New(endpoints []string, floor float64, logger *zap.Logger) *Rotator {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Rotator{
		entries: make(map[string]*domain.ProxyEntry, len(endpoints)),
		floor:   floor,
		logger:  logger,
		now:     func() int64 { return time.Now().UnixMilli() },
	}
	for _, ep := range endpoints {
		if ep == "" {
			continue
		}
		r.entries[ep] = &domain.ProxyEntry{Endpoint: ep, HealthScore: initialHealth}
	}
	return r
}

// Lease picks the unleased entry with the best health score. Ties break
// on endpoint order for determinism.
func (r *Rotator) Lease() (domain.ProxyEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	candidates := make([]*domain.ProxyEntry, 0, len(r.entries))
	for _, e := range r.entries {
		if !e.Leased && e.HealthScore >= r.floor {
			candidates = append(candidates, e)
		}
	}
	if len(candidates) == 0 {
		return domain.ProxyEntry{}, ErrNoProxy
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].HealthScore != candidates[j].HealthScore {
			return candidates[i].HealthScore > candidates[j].HealthScore
		}
		return candidates[i].Endpoint < candidates[j].Endpoint
	})

	best := candidates[0]
	best.Leased = true
	best.LastUsed = r.now()
	return *best, nil
}

// Report releases a leased entry and adjusts its health from the caller
// outcome. Entries below the floor stay registered but never leased
// again, which keeps them visible in the snapshot.
func (r *Rotator) Report(endpoint string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, exists := r.entries[endpoint]
	if !exists {
		return
	}
	e.Leased = false
	if ok {
		e.HealthScore += successReward
		if e.HealthScore > initialHealth {
			e.HealthScore = initialHealth
		}
		return
	}
	e.FailureCount++
	e.HealthScore -= failurePenalty
	if e.HealthScore < r.floor {
		r.logger.Warn("proxy retired",
			zap.String("endpoint", endpoint),
			zap.Float64("health", e.HealthScore),
			zap.Int("failures", e.FailureCount))
	}
}

// Snapshot returns a copy of all entries sorted by endpoint.
func (r *Rotator) Snapshot() []domain.ProxyEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]domain.ProxyEntry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Endpoint < out[j].Endpoint })
	return out
}

// Len returns how many entries are registered, retired included.
func (r *Rotator) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Healthy returns how many entries are still at or above the floor.
func (r *Rotator) Healthy() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.entries {
		if e.HealthScore >= r.floor {
			n++
		}
	}
	return n
}
