package sqliteengine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3" // driver import

	"github.com/groupledger/groupledger/ledger"
	"github.com/groupledger/groupledger/ledger/kvbackend"
)

const (
	defaultTableName = "kv_entries"

	logMsgDBQueryFailed = "database query execution failed"
	logMsgDBExecFailed  = "database execution failed"
	logAttrError        = "error"
	logAttrScope        = "scope"
	logAttrKey          = "key"
)

var (
	// ErrEmptyTableName is returned when an empty table name is configured.
	ErrEmptyTableName = errors.New("table name must not be empty")

	// ErrNilDatabaseConnection is returned when a nil connection is supplied.
	ErrNilDatabaseConnection = errors.New("database connection must not be nil")
)

// Logger interface for operational logging and error reporting.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Backend is the SQLite implementation of kvbackend.Backend, intended for
// single-process deployments and local development. The schema is created on
// construction when missing.
type Backend struct {
	db        *sql.DB
	tableName string
	logger    Logger
}

// Option defines a functional option for configuring the Backend.
type Option func(*Backend) error

// WithTableName sets the table name for the Backend.
func WithTableName(tableName string) Option {
	return func(b *Backend) error {
		if tableName == "" {
			return ErrEmptyTableName
		}

		b.tableName = tableName

		return nil
	}
}

// WithLogger sets the logger for the Backend.
func WithLogger(logger Logger) Option {
	return func(b *Backend) error {
		b.logger = logger
		return nil
	}
}

// NewBackend creates a new Backend over an open SQLite connection with
// optional configuration, creating the table when it does not exist.
func NewBackend(db *sql.DB, options ...Option) (*Backend, error) {
	if db == nil {
		return nil, ErrNilDatabaseConnection
	}

	b := &Backend{
		db:        db,
		tableName: defaultTableName,
	}

	for _, option := range options {
		if err := option(b); err != nil {
			return nil, err
		}
	}

	createStmt := fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s (
			scope       TEXT NOT NULL,
			entry_key   TEXT NOT NULL,
			entry_value BLOB NOT NULL,
			PRIMARY KEY (scope, entry_key)
		)`, b.tableName)

	if _, err := db.Exec(createStmt); err != nil {
		return nil, errors.Join(ledger.ErrBackendUnavailable, err)
	}

	return b, nil
}

// Get retrieves the value stored under scope and key.
// Returns kvbackend.ErrKeyAbsent when no row exists.
func (b *Backend) Get(ctx context.Context, scope, key string) ([]byte, error) {
	query := fmt.Sprintf(
		"SELECT entry_value FROM %s WHERE scope = ? AND entry_key = ?", b.tableName)

	var value []byte
	err := b.db.QueryRowContext(ctx, query, scope, key).Scan(&value)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, kvbackend.ErrKeyAbsent
	}

	if err != nil {
		b.logError(logMsgDBQueryFailed, scope, key, err)
		return nil, errors.Join(ledger.ErrBackendUnavailable, err)
	}

	return value, nil
}

// Set stores value under scope and key, replacing any previous value as a
// single upsert.
func (b *Backend) Set(ctx context.Context, scope, key string, value []byte) error {
	query := fmt.Sprintf(
		"INSERT OR REPLACE INTO %s (scope, entry_key, entry_value) VALUES (?, ?, ?)", b.tableName)

	if _, err := b.db.ExecContext(ctx, query, scope, key, value); err != nil {
		b.logError(logMsgDBExecFailed, scope, key, err)
		return errors.Join(ledger.ErrBackendUnavailable, err)
	}

	return nil
}

// Delete removes the value stored under scope and key. Deleting an absent
// key is not an error.
func (b *Backend) Delete(ctx context.Context, scope, key string) error {
	query := fmt.Sprintf(
		"DELETE FROM %s WHERE scope = ? AND entry_key = ?", b.tableName)

	if _, err := b.db.ExecContext(ctx, query, scope, key); err != nil {
		b.logError(logMsgDBExecFailed, scope, key, err)
		return errors.Join(ledger.ErrBackendUnavailable, err)
	}

	return nil
}

func (b *Backend) logError(msg, scope, key string, err error) {
	if b.logger != nil {
		b.logger.Error(msg,
			logAttrScope, scope,
			logAttrKey, key,
			logAttrError, err.Error())
	}
}
