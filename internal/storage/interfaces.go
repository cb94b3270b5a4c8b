package storage

import (
	"context"

	"stock-order-flow/internal/domain"
)

// AccountStore provides access to registered crawler accounts.
type AccountStore interface {
	// Insert adds a new account. Returns ErrDuplicateKey if the account ID
	// or username already exists.
	Insert(ctx context.Context, a *domain.Account) error

	// GetByID retrieves an account by its ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, accountID string) (*domain.Account, error)

	// GetByUsername retrieves an account by username. Returns ErrNotFound if not exists.
	GetByUsername(ctx context.Context, username string) (*domain.Account, error)

	// List retrieves all accounts, ordered by creation time ASC.
	List(ctx context.Context) ([]*domain.Account, error)
}

// SessionStore provides access to session records. Unlike the archive
// stores, sessions are mutable: state transitions are persisted in place.
type SessionStore interface {
	// Insert adds a new session. Returns ErrDuplicateKey if the session ID exists.
	Insert(ctx context.Context, s *domain.Session) error

	// Update persists a session's current state. Returns ErrNotFound if
	// the session was never inserted.
	Update(ctx context.Context, s *domain.Session) error

	// GetByID retrieves a session by its ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, sessionID string) (*domain.Session, error)

	// GetByAccountRef retrieves all sessions for an account, newest first.
	GetByAccountRef(ctx context.Context, accountRef string) ([]*domain.Session, error)

	// ListByState retrieves all sessions in the given state.
	ListByState(ctx context.Context, state domain.SessionState) ([]*domain.Session, error)

	// DeleteByState removes all sessions in the given state and returns
	// how many were removed.
	DeleteByState(ctx context.Context, state domain.SessionState) (int, error)
}

// TickArchive provides access to the tick archive. Append-only.
type TickArchive interface {
	// InsertBulk adds a batch of ticks.
	InsertBulk(ctx context.Context, ticks []domain.Tick) error

	// GetByTimeRange retrieves ticks for a symbol within [start, end]
	// millis (inclusive), ordered by time then sequence ASC.
	GetByTimeRange(ctx context.Context, symbol string, start, end int64) ([]domain.Tick, error)
}

// LargeOrderStore provides access to classified large orders. Append-only.
type LargeOrderStore interface {
	// InsertBulk adds a batch of classified orders.
	InsertBulk(ctx context.Context, orders []domain.LargeOrder) error

	// GetByTimeRange retrieves orders for a symbol within [start, end]
	// millis (inclusive), ordered by time ASC.
	GetByTimeRange(ctx context.Context, symbol string, start, end int64) ([]domain.LargeOrder, error)
}
