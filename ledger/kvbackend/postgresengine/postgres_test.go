package postgresengine_test

import (
	"context"
	"database/sql"
	"os"
	"testing"

	_ "github.com/lib/pq" // driver import
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/groupledger/groupledger/ledger/kvbackend"
	"github.com/groupledger/groupledger/ledger/kvbackend/postgresengine"
)

const dsnEnvVar = "GROUPLEDGER_POSTGRES_DSN"

func Test_NewBackend_RejectsNilConnections(t *testing.T) {
	_, err := postgresengine.NewBackendFromPGXPool(nil)
	assert.ErrorIs(t, err, postgresengine.ErrNilDatabaseConnection)

	_, err = postgresengine.NewBackendFromSQLDB(nil)
	assert.ErrorIs(t, err, postgresengine.ErrNilDatabaseConnection)

	_, err = postgresengine.NewBackendFromSQLX(nil)
	assert.ErrorIs(t, err, postgresengine.ErrNilDatabaseConnection)
}

func Test_WithTableName_RejectsEmptyName(t *testing.T) {
	db := &sql.DB{}

	_, err := postgresengine.NewBackendFromSQLDB(db, postgresengine.WithTableName(""))
	assert.ErrorIs(t, err, postgresengine.ErrEmptyTableName)
}

// openTestDB connects to the database named by GROUPLEDGER_POSTGRES_DSN,
// skipping the test when the variable is unset.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	dsn := os.Getenv(dsnEnvVar)
	if dsn == "" {
		t.Skipf("set %s to run database integration tests", dsnEnvVar)
	}

	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, db.Ping())

	return db
}

func Test_Backend_SetGetDelete_RoundTrip(t *testing.T) {
	db := openTestDB(t)

	backend, err := postgresengine.NewBackendFromSQLDB(db)
	require.NoError(t, err)

	ctx := context.Background()
	scope := "groupledger-test"
	key := "groupledger:g1:ledger"
	t.Cleanup(func() { _ = backend.Delete(ctx, scope, key) })

	_, err = backend.Get(ctx, scope, key)
	require.ErrorIs(t, err, kvbackend.ErrKeyAbsent)

	require.NoError(t, backend.Set(ctx, scope, key, []byte(`{"records":{}}`)))

	value, err := backend.Get(ctx, scope, key)
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"records":{}}`), value)

	// Set replaces wholesale.
	require.NoError(t, backend.Set(ctx, scope, key, []byte(`{"records":{"r1":{}}}`)))

	value, err = backend.Get(ctx, scope, key)
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"records":{"r1":{}}}`), value)

	require.NoError(t, backend.Delete(ctx, scope, key))

	_, err = backend.Get(ctx, scope, key)
	assert.ErrorIs(t, err, kvbackend.ErrKeyAbsent)

	// Deleting an absent key is not an error.
	assert.NoError(t, backend.Delete(ctx, scope, key))
}

func Test_Backend_ScopesAreIsolated(t *testing.T) {
	db := openTestDB(t)

	backend, err := postgresengine.NewBackendFromSQLDB(db)
	require.NoError(t, err)

	ctx := context.Background()
	key := "groupledger:g1:ledger"
	t.Cleanup(func() {
		_ = backend.Delete(ctx, "scope-a", key)
		_ = backend.Delete(ctx, "scope-b", key)
	})

	require.NoError(t, backend.Set(ctx, "scope-a", key, []byte("a")))
	require.NoError(t, backend.Set(ctx, "scope-b", key, []byte("b")))

	value, err := backend.Get(ctx, "scope-a", key)
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), value)
}
