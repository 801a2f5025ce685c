package postgresengine

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // driver import
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"

	"github.com/groupledger/groupledger/ledger"
	"github.com/groupledger/groupledger/ledger/kvbackend"
	"github.com/groupledger/groupledger/ledger/kvbackend/postgresengine/internal/adapters"
)

const (
	defaultTableName = "kv_entries"

	logMsgBuildQueryFailed = "failed to build query"
	logMsgDBQueryFailed    = "database query execution failed"
	logMsgDBExecFailed     = "database execution failed"
	logMsgCloseRowsFailed  = "failed to close database rows"
	logMsgScanRowFailed    = "failed to scan database row"
	logMsgEntryRead        = "entry read"
	logMsgEntryWritten     = "entry written"
	logMsgEntryDeleted     = "entry deleted"
	logAttrError           = "error"
	logAttrScope           = "scope"
	logAttrKey             = "key"
	logAttrByteCount       = "byte_count"
	logAttrDurationMS      = "duration_ms"

	colScope     = "scope"
	colKey       = "entry_key"
	colValue     = "entry_value"
	colUpdatedAt = "updated_at"

	dialectPostgres = "postgres"
)

var (
	// ErrEmptyTableName is returned when an empty table name is configured.
	ErrEmptyTableName = errors.New("table name must not be empty")

	// ErrNilDatabaseConnection is returned when a nil connection is supplied.
	ErrNilDatabaseConnection = errors.New("database connection must not be nil")
)

// Logger interface for SQL logging, operational metrics, and error reporting.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Backend is the Postgres implementation of kvbackend.Backend. It stores one
// row per scope and key with wholesale value replacement, matching the
// single-logical-put contract the sync engine relies on. It leverages a
// database adapter and supports customizable logging and table configuration.
type Backend struct {
	db        adapters.DBAdapter
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
//
// Debug level: SQL statements with execution timing (development use)
// Info level: not used
// Warn level: non-critical issues like cleanup failures
// Error level: failures that cause operation errors.
func WithLogger(logger Logger) Option {
	return func(b *Backend) error {
		b.logger = logger
		return nil
	}
}

// NewBackendFromPGXPool creates a new Backend using a pgx Pool with optional
// configuration.
func NewBackendFromPGXPool(db *pgxpool.Pool, options ...Option) (*Backend, error) {
	if db == nil {
		return nil, ErrNilDatabaseConnection
	}

	return newBackend(adapters.NewPGXAdapter(db), options...)
}

// NewBackendFromSQLDB creates a new Backend using a sql.DB with optional
// configuration.
func NewBackendFromSQLDB(db *sql.DB, options ...Option) (*Backend, error) {
	if db == nil {
		return nil, ErrNilDatabaseConnection
	}

	return newBackend(adapters.NewSQLAdapter(db), options...)
}

// NewBackendFromSQLX creates a new Backend using a sqlx.DB with optional
// configuration.
func NewBackendFromSQLX(db *sqlx.DB, options ...Option) (*Backend, error) {
	if db == nil {
		return nil, ErrNilDatabaseConnection
	}

	return newBackend(adapters.NewSQLXAdapter(db), options...)
}

func newBackend(db adapters.DBAdapter, options ...Option) (*Backend, error) {
	b := &Backend{
		db:        db,
		tableName: defaultTableName,
	}

	for _, option := range options {
		if err := option(b); err != nil {
			return nil, err
		}
	}

	return b, nil
}

// Get retrieves the value stored under scope and key.
// Returns kvbackend.ErrKeyAbsent when no row exists.
func (b *Backend) Get(ctx context.Context, scope, key string) ([]byte, error) {
	selectStmt := goqu.Dialect(dialectPostgres).
		From(b.tableName).
		Select(colValue).
		Where(goqu.Ex{colScope: scope, colKey: key})

	sqlQuery, _, toSQLErr := selectStmt.ToSQL()
	if toSQLErr != nil {
		b.logError(logMsgBuildQueryFailed, toSQLErr)
		return nil, errors.Join(ledger.ErrBackendUnavailable, toSQLErr)
	}

	start := time.Now()
	rows, queryErr := b.db.Query(ctx, sqlQuery)
	duration := time.Since(start)

	if queryErr != nil {
		b.logError(logMsgDBQueryFailed, queryErr)
		return nil, errors.Join(ledger.ErrBackendUnavailable, queryErr)
	}
	defer b.closeRows(rows)

	if !rows.Next() {
		return nil, kvbackend.ErrKeyAbsent
	}

	var value []byte
	if scanErr := rows.Scan(&value); scanErr != nil {
		b.logError(logMsgScanRowFailed, scanErr)
		return nil, errors.Join(ledger.ErrBackendUnavailable, scanErr)
	}

	if b.logger != nil {
		b.logger.Debug(logMsgEntryRead,
			logAttrScope, scope,
			logAttrKey, key,
			logAttrByteCount, len(value),
			logAttrDurationMS, duration.Milliseconds())
	}

	return value, nil
}

// Set stores value under scope and key, replacing any previous value as a
// single upsert.
func (b *Backend) Set(ctx context.Context, scope, key string, value []byte) error {
	insertStmt := goqu.Dialect(dialectPostgres).
		Insert(b.tableName).
		Cols(colScope, colKey, colValue, colUpdatedAt).
		Vals(goqu.Vals{scope, key, string(value), goqu.L("now()")}).
		OnConflict(goqu.DoUpdate(
			colScope+","+colKey,
			goqu.Record{colValue: string(value), colUpdatedAt: goqu.L("now()")},
		))

	sqlQuery, _, toSQLErr := insertStmt.ToSQL()
	if toSQLErr != nil {
		b.logError(logMsgBuildQueryFailed, toSQLErr)
		return errors.Join(ledger.ErrBackendUnavailable, toSQLErr)
	}

	start := time.Now()
	_, execErr := b.db.Exec(ctx, sqlQuery)
	duration := time.Since(start)

	if execErr != nil {
		b.logError(logMsgDBExecFailed, execErr)
		return errors.Join(ledger.ErrBackendUnavailable, execErr)
	}

	if b.logger != nil {
		b.logger.Debug(logMsgEntryWritten,
			logAttrScope, scope,
			logAttrKey, key,
			logAttrByteCount, len(value),
			logAttrDurationMS, duration.Milliseconds())
	}

	return nil
}

// Delete removes the value stored under scope and key. Deleting an absent
// key is not an error.
func (b *Backend) Delete(ctx context.Context, scope, key string) error {
	deleteStmt := goqu.Dialect(dialectPostgres).
		Delete(b.tableName).
		Where(goqu.Ex{colScope: scope, colKey: key})

	sqlQuery, _, toSQLErr := deleteStmt.ToSQL()
	if toSQLErr != nil {
		b.logError(logMsgBuildQueryFailed, toSQLErr)
		return errors.Join(ledger.ErrBackendUnavailable, toSQLErr)
	}

	_, execErr := b.db.Exec(ctx, sqlQuery)
	if execErr != nil {
		b.logError(logMsgDBExecFailed, execErr)
		return errors.Join(ledger.ErrBackendUnavailable, execErr)
	}

	if b.logger != nil {
		b.logger.Debug(logMsgEntryDeleted, logAttrScope, scope, logAttrKey, key)
	}

	return nil
}

func (b *Backend) logError(msg string, err error) {
	if b.logger != nil {
		b.logger.Error(msg, logAttrError, err.Error())
	}
}

func (b *Backend) closeRows(rows adapters.DBRows) {
	if closeErr := rows.Close(); closeErr != nil {
		if b.logger != nil {
			b.logger.Warn(logMsgCloseRowsFailed, logAttrError, closeErr.Error())
		}
	}
}
