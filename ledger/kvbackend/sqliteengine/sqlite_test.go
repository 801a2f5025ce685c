package sqliteengine_test

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/groupledger/groupledger/ledger/kvbackend"
	"github.com/groupledger/groupledger/ledger/kvbackend/sqliteengine"
)

func newTestBackend(t *testing.T, options ...sqliteengine.Option) *sqliteengine.Backend {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	backend, err := sqliteengine.NewBackend(db, options...)
	require.NoError(t, err)

	return backend
}

func Test_NewBackend_RejectsNilConnection(t *testing.T) {
	_, err := sqliteengine.NewBackend(nil)
	assert.ErrorIs(t, err, sqliteengine.ErrNilDatabaseConnection)
}

func Test_NewBackend_RejectsEmptyTableName(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = sqliteengine.NewBackend(db, sqliteengine.WithTableName(""))
	assert.ErrorIs(t, err, sqliteengine.ErrEmptyTableName)
}

func Test_Backend_SetGetDelete_RoundTrip(t *testing.T) {
	backend := newTestBackend(t)
	ctx := context.Background()

	_, err := backend.Get(ctx, "groupledger", "groupledger:g1:ledger")
	require.ErrorIs(t, err, kvbackend.ErrKeyAbsent)

	require.NoError(t, backend.Set(ctx, "groupledger", "groupledger:g1:ledger", []byte(`{"records":{}}`)))

	value, err := backend.Get(ctx, "groupledger", "groupledger:g1:ledger")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"records":{}}`), value)

	// Set replaces wholesale.
	require.NoError(t, backend.Set(ctx, "groupledger", "groupledger:g1:ledger", []byte(`v2`)))

	value, err = backend.Get(ctx, "groupledger", "groupledger:g1:ledger")
	require.NoError(t, err)
	assert.Equal(t, []byte(`v2`), value)

	require.NoError(t, backend.Delete(ctx, "groupledger", "groupledger:g1:ledger"))

	_, err = backend.Get(ctx, "groupledger", "groupledger:g1:ledger")
	assert.ErrorIs(t, err, kvbackend.ErrKeyAbsent)

	// Deleting an absent key is not an error.
	assert.NoError(t, backend.Delete(ctx, "groupledger", "groupledger:g1:ledger"))
}

func Test_Backend_ScopesAreIsolated(t *testing.T) {
	backend := newTestBackend(t)
	ctx := context.Background()

	require.NoError(t, backend.Set(ctx, "scope-a", "k", []byte("a")))
	require.NoError(t, backend.Set(ctx, "scope-b", "k", []byte("b")))

	value, err := backend.Get(ctx, "scope-a", "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), value)
}

func Test_Backend_CustomTableName(t *testing.T) {
	backend := newTestBackend(t, sqliteengine.WithTableName("sync_state"))
	ctx := context.Background()

	require.NoError(t, backend.Set(ctx, "groupledger", "k", []byte("v")))

	value, err := backend.Get(ctx, "groupledger", "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), value)
}
