package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"stock-order-flow/internal/domain"
	"stock-order-flow/internal/storage"
)

// AccountStore implements storage.AccountStore using PostgreSQL.
type AccountStore struct {
	pool *Pool
}

// NewAccountStore creates a new AccountStore.
func NewAccountStore(pool *Pool) *AccountStore {
	return &AccountStore{pool: pool}
}

// Compile-time interface check.
var _ storage.AccountStore = (*AccountStore)(nil)

// Insert adds a new account. Returns ErrDuplicateKey if the account ID
// or username already exists.
func (s *AccountStore) Insert(ctx context.Context, a *domain.Account) error {
	if a == nil || a.ID == "" || a.Username == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO accounts (
			id, username, email, phone, password, token, fingerprint, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := s.pool.Exec(ctx, query,
		a.ID,
		a.Username,
		a.Email,
		a.Phone,
		a.Password,
		a.Token,
		a.Fingerprint,
		a.CreatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

// GetByID retrieves an account by its ID. Returns ErrNotFound if not exists.
func (s *AccountStore) GetByID(ctx context.Context, accountID string) (*domain.Account, error) {
	query := `
		SELECT id, username, email, phone, password, token, fingerprint, created_at
		FROM accounts
		WHERE id = $1
	`
	return s.getOne(ctx, query, accountID)
}

// GetByUsername retrieves an account by username. Returns ErrNotFound if not exists.
func (s *AccountStore) GetByUsername(ctx context.Context, username string) (*domain.Account, error) {
	query := `
		SELECT id, username, email, phone, password, token, fingerprint, created_at
		FROM accounts
		WHERE username = $1
	`
	return s.getOne(ctx, query, username)
}

func (s *AccountStore) getOne(ctx context.Context, query string, arg any) (*domain.Account, error) {
	var a domain.Account
	err := s.pool.QueryRow(ctx, query, arg).Scan(
		&a.ID,
		&a.Username,
		&a.Email,
		&a.Phone,
		&a.Password,
		&a.Token,
		&a.Fingerprint,
		&a.CreatedAt,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get account: %w", err)
	}
	return &a, nil
}

// List retrieves all accounts, ordered by creation time ASC.
func (s *AccountStore) List(ctx context.Context) ([]*domain.Account, error) {
	query := `
		SELECT id, username, email, phone, password, token, fingerprint, created_at
		FROM accounts
		ORDER BY created_at ASC, id ASC
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	return scanAccounts(rows)
}

func scanAccounts(rows pgx.Rows) ([]*domain.Account, error) {
	var result []*domain.Account
	for rows.Next() {
		var a domain.Account
		if err := rows.Scan(
			&a.ID,
			&a.Username,
			&a.Email,
			&a.Phone,
			&a.Password,
			&a.Token,
			&a.Fingerprint,
			&a.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		result = append(result, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate accounts: %w", err)
	}
	return result, nil
}
