package kvbackend

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/groupledger/groupledger/ledger"
)

var ErrNegativePropagationDelay = errors.New("propagation delay must not be negative")

type memoryEntry struct {
	value     []byte
	visibleAt time.Time
	prev      []byte
	hasPrev   bool
	deleted   bool
}

// MemoryBackend is an in-process Backend. Shared between two clients it
// stands in for the host's account storage, and its optional propagation
// delay reproduces the real backend's staleness window: a write only becomes
// visible to readers after the delay, readers see the previous value until
// then.
//
// It also supports injecting transient failures, which sync engine tests use
// to exercise the retry path.
type MemoryBackend struct {
	mu               sync.Mutex
	scopes           map[string]map[string]memoryEntry
	propagationDelay time.Duration

	failuresLeft int
	failureErr   error
}

// MemoryOption defines a functional option for configuring the MemoryBackend.
type MemoryOption func(*MemoryBackend) error

// WithPropagationDelay makes writes invisible to readers for the given duration.
func WithPropagationDelay(delay time.Duration) MemoryOption {
	return func(b *MemoryBackend) error {
		if delay < 0 {
			return ErrNegativePropagationDelay
		}

		b.propagationDelay = delay
		return nil
	}
}

// NewMemoryBackend creates an empty MemoryBackend with optional configuration.
func NewMemoryBackend(options ...MemoryOption) (*MemoryBackend, error) {
	b := &MemoryBackend{
		scopes: make(map[string]map[string]memoryEntry),
	}

	for _, option := range options {
		if err := option(b); err != nil {
			return nil, err
		}
	}

	return b, nil
}

// FailNext makes the next n operations fail with an error wrapping
// ledger.ErrBackendUnavailable and the given cause.
func (b *MemoryBackend) FailNext(n int, cause error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failuresLeft = n
	b.failureErr = cause
}

func (b *MemoryBackend) maybeFail() error {
	if b.failuresLeft <= 0 {
		return nil
	}

	b.failuresLeft--

	return errors.Join(ledger.ErrBackendUnavailable, b.failureErr)
}

// Get returns the value visible at the time of the call, or ErrKeyAbsent.
func (b *MemoryBackend) Get(ctx context.Context, scope, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Join(ledger.ErrBackendUnavailable, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.maybeFail(); err != nil {
		return nil, err
	}

	entry, ok := b.scopes[scope][key]
	if !ok {
		return nil, ErrKeyAbsent
	}

	if time.Now().Before(entry.visibleAt) {
		if !entry.hasPrev {
			return nil, ErrKeyAbsent
		}

		return append([]byte(nil), entry.prev...), nil
	}

	if entry.deleted {
		return nil, ErrKeyAbsent
	}

	return append([]byte(nil), entry.value...), nil
}

// Set stores the value; it becomes visible after the propagation delay.
func (b *MemoryBackend) Set(ctx context.Context, scope, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return errors.Join(ledger.ErrBackendUnavailable, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.maybeFail(); err != nil {
		return err
	}

	if b.scopes[scope] == nil {
		b.scopes[scope] = make(map[string]memoryEntry)
	}

	prev, hadPrev := b.currentValueLocked(scope, key)
	b.scopes[scope][key] = memoryEntry{
		value:     append([]byte(nil), value...),
		visibleAt: time.Now().Add(b.propagationDelay),
		prev:      prev,
		hasPrev:   hadPrev,
	}

	return nil
}

// Delete removes the key; like Set, the removal propagates after the delay.
func (b *MemoryBackend) Delete(ctx context.Context, scope, key string) error {
	if err := ctx.Err(); err != nil {
		return errors.Join(ledger.ErrBackendUnavailable, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.maybeFail(); err != nil {
		return err
	}

	if b.scopes[scope] == nil {
		return nil
	}

	prev, hadPrev := b.currentValueLocked(scope, key)
	b.scopes[scope][key] = memoryEntry{
		deleted:   true,
		visibleAt: time.Now().Add(b.propagationDelay),
		prev:      prev,
		hasPrev:   hadPrev,
	}

	return nil
}

// currentValueLocked resolves what a reader would see for the key right now.
func (b *MemoryBackend) currentValueLocked(scope, key string) ([]byte, bool) {
	entry, ok := b.scopes[scope][key]
	if !ok {
		return nil, false
	}

	if time.Now().Before(entry.visibleAt) {
		if !entry.hasPrev {
			return nil, false
		}

		return entry.prev, true
	}

	if entry.deleted {
		return nil, false
	}

	return entry.value, true
}
