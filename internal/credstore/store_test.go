package credstore

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ddezhin/partykit/internal/common"
)

func newTestStore(t *testing.T) (*Store, *sql.DB) {
	t.Helper()

	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "credentials.db")

	db, err := InitDatabase(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return NewStore(NewSQLiteRepository(db)), db
}

func TestInitDatabase_AppliesMigrations(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "credentials.db")

	db, err := InitDatabase(ctx, dsn)
	require.NoError(t, err)
	defer db.Close()

	var n int
	err = db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='credentials'`).Scan(&n)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRunMigrations_IsIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "credentials.db")

	db, err := sql.Open("sqlite", dsn)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, RunMigrations(ctx, db))
	require.NoError(t, RunMigrations(ctx, db))
}

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	ctx := context.Background()

	in := DeviceAuth{AccountID: "acc-1", DeviceID: "dev-1", Secret: "s3cret"}
	require.NoError(t, store.Save(ctx, []byte("passphrase"), in, "Renegade"))

	out, err := store.Load(ctx, []byte("passphrase"), "acc-1")
	require.NoError(t, err)
	assert.Equal(t, in, *out)
}

func TestStore_WrongPassphrase(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	ctx := context.Background()

	in := DeviceAuth{AccountID: "acc-1", DeviceID: "dev-1", Secret: "s3cret"}
	require.NoError(t, store.Save(ctx, []byte("right"), in, ""))

	_, err := store.Load(ctx, []byte("wrong"), "acc-1")
	assert.ErrorIs(t, err, ErrPassphraseMismatch)
}

func TestStore_SaveReplacesExisting(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	ctx := context.Background()

	first := DeviceAuth{AccountID: "acc-1", DeviceID: "dev-1", Secret: "old"}
	require.NoError(t, store.Save(ctx, []byte("p"), first, "A"))

	second := DeviceAuth{AccountID: "acc-1", DeviceID: "dev-2", Secret: "new"}
	require.NoError(t, store.Save(ctx, []byte("p"), second, "B"))

	out, err := store.Load(ctx, []byte("p"), "acc-1")
	require.NoError(t, err)
	assert.Equal(t, second, *out)

	accounts, err := store.Accounts(ctx)
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, "B", accounts[0].DisplayName)
}

func TestStore_AccountsListsWithoutPassphrase(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, []byte("p1"), DeviceAuth{AccountID: "acc-1", DeviceID: "d", Secret: "s"}, "One"))
	require.NoError(t, store.Save(ctx, []byte("p2"), DeviceAuth{AccountID: "acc-2", DeviceID: "d", Secret: "s"}, "Two"))

	accounts, err := store.Accounts(ctx)
	require.NoError(t, err)
	assert.Len(t, accounts, 2)
}

func TestStore_RemoveAndMissing(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, []byte("p"), DeviceAuth{AccountID: "acc-1", DeviceID: "d", Secret: "s"}, ""))
	require.NoError(t, store.Remove(ctx, "acc-1"))

	_, err := store.Load(ctx, []byte("p"), "acc-1")
	assert.ErrorIs(t, err, common.ErrNotFound)

	assert.ErrorIs(t, store.Remove(ctx, "acc-1"), common.ErrNotFound)
}
