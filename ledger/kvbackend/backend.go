// Package kvbackend defines the key-value transport the sync engine polls,
// plus backend implementations. The backend is the only channel between
// instances: opaque get/set/delete on string keys scoped to the account, with
// propagation delay and no transactions or compare-and-swap. The sync
// engine's merge logic is the only consistency mechanism on top of it.
package kvbackend

import (
	"context"
	"errors"
)

// ErrKeyAbsent is returned by Get when no value exists for the key.
// Absence is a normal state (a group never synced from this instance), not a
// transient failure, so it is distinct from ledger.ErrBackendUnavailable.
var ErrKeyAbsent = errors.New("no value stored for this key")

// Backend is the inter-instance transport. Implementations must be safe for
// concurrent use; reads and writes may have non-trivial latency and may fail
// transiently with an error wrapping ledger.ErrBackendUnavailable.
type Backend interface {
	Get(ctx context.Context, scope, key string) ([]byte, error)
	Set(ctx context.Context, scope, key string, value []byte) error
	Delete(ctx context.Context, scope, key string) error
}
