// Package postgresengine provides the Postgres implementation of the
// key-value backend, with adapters for pgx pools, sqlx, and database/sql.
//
// Expected table schema:
//
//	CREATE TABLE IF NOT EXISTS kv_entries (
//	    scope       TEXT NOT NULL,
//	    entry_key   TEXT NOT NULL,
//	    entry_value TEXT NOT NULL,
//	    updated_at  TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now(),
//	    PRIMARY KEY (scope, entry_key)
//	);
package postgresengine
