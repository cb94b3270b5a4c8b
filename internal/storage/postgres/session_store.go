package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"stock-order-flow/internal/domain"
	"stock-order-flow/internal/storage"
)

// SessionStore implements storage.SessionStore using PostgreSQL. The
// browser fingerprint is persisted as JSONB alongside the row.
type SessionStore struct {
	pool *Pool
}

// NewSessionStore creates a new SessionStore.
func NewSessionStore(pool *Pool) *SessionStore {
	return &SessionStore{pool: pool}
}

// Compile-time interface check.
var _ storage.SessionStore = (*SessionStore)(nil)

// Insert adds a new session. Returns ErrDuplicateKey if the session ID exists.
func (s *SessionStore) Insert(ctx context.Context, sess *domain.Session) error {
	if sess == nil || sess.ID == "" {
		return storage.ErrInvalidInput
	}

	fp, err := json.Marshal(sess.Fingerprint)
	if err != nil {
		return fmt.Errorf("marshal fingerprint: %w", err)
	}

	query := `
		INSERT INTO sessions (
			id, account_ref, token, fingerprint, proxy, created_at, expires_at, state, request_count
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err = s.pool.Exec(ctx, query,
		sess.ID,
		sess.AccountRef,
		sess.Token,
		fp,
		sess.Proxy,
		sess.CreatedAt,
		sess.ExpiresAt,
		string(sess.State),
		sess.RequestCount,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// Update persists a session's current state. Returns ErrNotFound if the
// session was never inserted.
func (s *SessionStore) Update(ctx context.Context, sess *domain.Session) error {
	if sess == nil || sess.ID == "" {
		return storage.ErrInvalidInput
	}

	query := `
		UPDATE sessions
		SET token = $2, expires_at = $3, state = $4, request_count = $5
		WHERE id = $1
	`

	tag, err := s.pool.Exec(ctx, query,
		sess.ID,
		sess.Token,
		sess.ExpiresAt,
		string(sess.State),
		sess.RequestCount,
	)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

const sessionColumns = `id, account_ref, token, fingerprint, proxy, created_at, expires_at, state, request_count`

// GetByID retrieves a session by its ID. Returns ErrNotFound if not exists.
func (s *SessionStore) GetByID(ctx context.Context, sessionID string) (*domain.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`

	row := s.pool.QueryRow(ctx, query, sessionID)
	sess, err := scanSession(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

// GetByAccountRef retrieves all sessions for an account, newest first.
func (s *SessionStore) GetByAccountRef(ctx context.Context, accountRef string) ([]*domain.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE account_ref = $1 ORDER BY created_at DESC, id ASC`

	rows, err := s.pool.Query(ctx, query, accountRef)
	if err != nil {
		return nil, fmt.Errorf("get sessions by account: %w", err)
	}
	defer rows.Close()

	return scanSessions(rows)
}

// ListByState retrieves all sessions in the given state.
func (s *SessionStore) ListByState(ctx context.Context, state domain.SessionState) ([]*domain.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE state = $1 ORDER BY created_at ASC, id ASC`

	rows, err := s.pool.Query(ctx, query, string(state))
	if err != nil {
		return nil, fmt.Errorf("list sessions by state: %w", err)
	}
	defer rows.Close()

	return scanSessions(rows)
}

// DeleteByState removes all sessions in the given state.
func (s *SessionStore) DeleteByState(ctx context.Context, state domain.SessionState) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE state = $1`, string(state))
	if err != nil {
		return 0, fmt.Errorf("delete sessions by state: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func scanSession(row pgx.Row) (*domain.Session, error) {
	var sess domain.Session
	var fp []byte
	var state string
	if err := row.Scan(
		&sess.ID,
		&sess.AccountRef,
		&sess.Token,
		&fp,
		&sess.Proxy,
		&sess.CreatedAt,
		&sess.ExpiresAt,
		&state,
		&sess.RequestCount,
	); err != nil {
		return nil, err
	}
	if len(fp) > 0 {
		if err := json.Unmarshal(fp, &sess.Fingerprint); err != nil {
			return nil, fmt.Errorf("unmarshal fingerprint: %w", err)
		}
	}
	sess.State = domain.SessionState(state)
	return &sess, nil
}

func scanSessions(rows pgx.Rows) ([]*domain.Session, error) {
	var result []*domain.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		result = append(result, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return result, nil
}
