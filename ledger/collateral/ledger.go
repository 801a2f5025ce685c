// Package collateral tracks the collateral agreements negotiated alongside
// lending records. Agreements travel with the ledger section through the sync
// merge, so both sides of a loan see the same terms.
package collateral

import (
	"sync"

	"github.com/groupledger/groupledger/ledger"
)

// Ledger holds the in-memory collateral agreements, keyed by the loan they secure.
// All operations are safe to call from any goroutine.
type Ledger struct {
	mu         sync.RWMutex
	agreements map[string]ledger.CollateralAgreement
	logger     ledger.Logger
}

// Option defines a functional option for configuring the Ledger.
type Option func(*Ledger) error

// WithLogger sets the logger for the Ledger.
func WithLogger(logger ledger.Logger) Option {
	return func(l *Ledger) error {
		l.logger = logger
		return nil
	}
}

// New creates an empty collateral Ledger with optional configuration.
func New(options ...Option) (*Ledger, error) {
	l := &Ledger{
		agreements: make(map[string]ledger.CollateralAgreement),
	}

	for _, option := range options {
		if err := option(l); err != nil {
			return nil, err
		}
	}

	return l, nil
}

// Open records a new active agreement for the given loan. A loan carries at
// most one agreement; opening a second fails with ledger.ErrInvalidState.
func (l *Ledger) Open(groupID, loanID, description string) (ledger.CollateralAgreement, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if existing, ok := l.agreements[loanID]; ok && existing.IsActive {
		return ledger.CollateralAgreement{}, ledger.ErrInvalidState
	}

	agreement := ledger.BuildCollateralAgreement(groupID, loanID, description)
	l.agreements[loanID] = agreement

	return agreement, nil
}

// Get returns the agreement for the loan or ledger.ErrNotFound.
func (l *Ledger) Get(loanID string) (ledger.CollateralAgreement, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	agreement, ok := l.agreements[loanID]
	if !ok {
		return ledger.CollateralAgreement{}, ledger.ErrNotFound
	}

	return agreement, nil
}

// MarkReturned closes the agreement when its loan completes. Unknown loans
// are a no-op: not every loan carries collateral.
func (l *Ledger) MarkReturned(loanID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	agreement, ok := l.agreements[loanID]
	if !ok || agreement.IsReturned {
		return
	}

	agreement.IsReturned = true
	agreement.IsActive = false
	agreement.LastModified = ledger.NowMilli()
	l.agreements[loanID] = agreement
}

// ListActive returns the group's open agreements.
func (l *Ledger) ListActive(groupID string) []ledger.CollateralAgreement {
	l.mu.RLock()
	defer l.mu.RUnlock()

	result := make([]ledger.CollateralAgreement, 0)
	for _, agreement := range l.agreements {
		if agreement.GroupID == groupID && agreement.IsActive {
			result = append(result, agreement)
		}
	}

	return result
}

// Snapshot returns a copy of every agreement of the group for the sync push path.
func (l *Ledger) Snapshot(groupID string) map[string]ledger.CollateralAgreement {
	l.mu.RLock()
	defer l.mu.RUnlock()

	snapshot := make(map[string]ledger.CollateralAgreement)
	for loanID, agreement := range l.agreements {
		if agreement.GroupID == groupID {
			snapshot[loanID] = agreement
		}
	}

	return snapshot
}

// Replace folds a merged agreement snapshot into the group's state. This is
// the sync engine's write path; local mutators never call it. The fold is
// revision-aware: a snapshot entry only overwrites a local copy that is not
// newer, and local agreements the snapshot does not carry are kept, so an
// Open landing between Snapshot and Replace survives the tick.
func (l *Ledger) Replace(groupID string, agreements map[string]ledger.CollateralAgreement) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for loanID, agreement := range agreements {
		if agreement.GroupID != groupID {
			continue
		}

		if existing, ok := l.agreements[loanID]; ok && existing.Revision() > agreement.Revision() {
			continue
		}

		l.agreements[loanID] = agreement
	}
}

// DeleteGroup drops every agreement of the group, used when the group itself
// is deleted.
func (l *Ledger) DeleteGroup(groupID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for loanID, agreement := range l.agreements {
		if agreement.GroupID == groupID {
			delete(l.agreements, loanID)
		}
	}
}
