// Package adapters provides database driver adapters for the Postgres
// key-value backend, allowing it to work with pgx pools, sqlx, and the
// standard database/sql package through a common interface.
package adapters
