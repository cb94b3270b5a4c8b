// Package phonepool manages the phone numbers used to register crawler
// accounts. All state transitions go through one mutex so that no two
// concurrent reservations can return the same number.
package phonepool

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"stock-order-flow/internal/domain"
)

// ErrEmptyPool is returned by Reserve when no number is available.
var ErrEmptyPool = errors.New("phone pool: no available number")

// ErrUnknownNumber is returned for operations on numbers not in the pool.
var ErrUnknownNumber = errors.New("phone pool: unknown number")

// validPrefixes are the CN mobile prefixes the pool accepts.
var validPrefixes = []string{
	"130", "131", "132", "133", "134", "135", "136", "137", "138", "139",
	"150", "151", "152", "153", "155", "156", "157", "158", "159",
	"180", "181", "182", "183", "184", "185", "186", "187", "188", "189",
}

// Pool holds phone numbers keyed by number. Zero max usage disables the
// usage cap.
type Pool struct {
	mu       sync.Mutex
	phones   map[string]*domain.PhoneNumber
	maxUsage int
	logger   *zap.Logger
	now      func() int64 // millisecond clock, swappable in tests
}

// New creates an empty pool. maxUsage bounds how many reservations a
// number may serve before it is exhausted on release; zero means unbounded.
func New(maxUsage int, logger *zap.Logger) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		phones:   make(map[string]*domain.PhoneNumber),
		maxUsage: maxUsage,
		logger:   logger,
		now:      func() int64 { return time.Now().UnixMilli() },
	}
}

// Add validates and inserts a number in Available state. Re-adding an
// existing number is rejected.
func (p *Pool) Add(number string, source domain.PhoneSource) error {
	if !ValidNumber(number) {
		return fmt.Errorf("phone pool: invalid number %q", number)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.phones[number]; exists {
		return fmt.Errorf("phone pool: number %s already pooled", number)
	}
	p.phones[number] = &domain.PhoneNumber{
		Number:  number,
		State:   domain.PhoneAvailable,
		Source:  source,
		AddedAt: p.now(),
	}
	p.logger.Info("phone added to pool", zap.String("number", number), zap.String("source", string(source)))
	return nil
}

// Reserve atomically picks an Available number and marks it Reserved for
// the given session. Numbers are scanned in insertion-independent sorted
// order so behavior is deterministic under test.
func (p *Pool) Reserve(sessionID string) (domain.PhoneNumber, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	numbers := make([]string, 0, len(p.phones))
	for n := range p.phones {
		numbers = append(numbers, n)
	}
	sort.Strings(numbers)

	for _, n := range numbers {
		ph := p.phones[n]
		if ph.State != domain.PhoneAvailable {
			continue
		}
		ph.State = domain.PhoneReserved
		ph.ReservedBy = sessionID
		ph.UsageCount++
		return *ph, nil
	}
	return domain.PhoneNumber{}, ErrEmptyPool
}

// Release returns a Reserved number to Available, or marks it Exhausted
// once it has hit the usage cap.
func (p *Pool) Release(number string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	ph, ok := p.phones[number]
	if !ok {
		return ErrUnknownNumber
	}
	if ph.State != domain.PhoneReserved {
		return fmt.Errorf("phone pool: number %s not reserved", number)
	}
	ph.ReservedBy = ""
	if p.maxUsage > 0 && ph.UsageCount >= p.maxUsage {
		ph.State = domain.PhoneExhausted
		p.logger.Info("phone exhausted by usage cap", zap.String("number", number), zap.Int("usage", ph.UsageCount))
		return nil
	}
	ph.State = domain.PhoneAvailable
	return nil
}

// MarkExhausted permanently removes a number from rotation, whatever
// state it is in. Exhausted numbers are never returned by Reserve.
func (p *Pool) MarkExhausted(number string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	ph, ok := p.phones[number]
	if !ok {
		return ErrUnknownNumber
	}
	ph.State = domain.PhoneExhausted
	ph.ReservedBy = ""
	return nil
}

// DropExhausted removes all Exhausted numbers and returns how many were
// dropped. Used by the periodic cleanup sweep.
func (p *Pool) DropExhausted() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	dropped := 0
	for n, ph := range p.phones {
		if ph.State == domain.PhoneExhausted {
			delete(p.phones, n)
			dropped++
		}
	}
	return dropped
}

// Snapshot returns a read-only copy of the pool for monitoring, sorted
// by number.
func (p *Pool) Snapshot() []domain.PhoneNumber {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]domain.PhoneNumber, 0, len(p.phones))
	for _, ph := range p.phones {
		out = append(out, *ph)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out
}

// ValidNumber reports whether the string is an 11-digit CN mobile
// number with a known prefix.
func ValidNumber(number string) bool {
	if len(number) != 11 {
		return false
	}
	for _, r := range number {
		if r < '0' || r > '9' {
			return false
		}
	}
	for _, prefix := range validPrefixes {
		if strings.HasPrefix(number, prefix) {
			return true
		}
	}
	return false
}
