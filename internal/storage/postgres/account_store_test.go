package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stock-order-flow/internal/domain"
	"stock-order-flow/internal/storage"
)

func TestAccountStore_InsertAndGet(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewAccountStore(pool)
	ctx := context.Background()

	acct := &domain.Account{
		ID:        "acct-1",
		Username:  "user1",
		Email:     "user1@example.com",
		Phone:     "13800138000",
		Password:  "hunter2",
		CreatedAt: 1700000000000,
	}
	require.NoError(t, store.Insert(ctx, acct))

	got, err := store.GetByID(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, "user1", got.Username)
	assert.Equal(t, "13800138000", got.Phone)
	assert.Equal(t, int64(1700000000000), got.CreatedAt)

	got, err = store.GetByUsername(ctx, "user1")
	require.NoError(t, err)
	assert.Equal(t, "acct-1", got.ID)
}

func TestAccountStore_DuplicateAndNotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewAccountStore(pool)
	ctx := context.Background()

	acct := &domain.Account{ID: "acct-1", Username: "user1", CreatedAt: 1000}
	require.NoError(t, store.Insert(ctx, acct))

	err := store.Insert(ctx, &domain.Account{ID: "acct-1", Username: "other", CreatedAt: 2000})
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	err = store.Insert(ctx, &domain.Account{ID: "acct-2", Username: "user1", CreatedAt: 2000})
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	_, err = store.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestAccountStore_ListOrdered(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewAccountStore(pool)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, &domain.Account{ID: "acct-2", Username: "user2", CreatedAt: 3000}))
	require.NoError(t, store.Insert(ctx, &domain.Account{ID: "acct-1", Username: "user1", CreatedAt: 1000}))

	accounts, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, accounts, 2)
	assert.Equal(t, "acct-1", accounts[0].ID)
	assert.Equal(t, "acct-2", accounts[1].ID)
}
