package ledgerstore

import (
	"errors"
	"sort"
	"sync"

	"github.com/groupledger/groupledger/ledger"
)

const (
	logMsgRecordCompleted = "lending record completed"
	logMsgRecordRemoved   = "lending record tombstoned"
	logMsgRetentionSweep  = "retention sweep finished"
	logAttrRecordID       = "record_id"
	logAttrGroupID        = "group_id"
	logAttrRemovedCount   = "removed_count"
	logAttrDefaulted      = "defaulted"
)

var ErrEmptyRecordID = errors.New("record id must not be empty")
var ErrEmptyGroupID = errors.New("record group id must not be empty")

// Store holds the authoritative in-memory view of all lending records,
// partitioned per group into available, active, and history.
//
// All operations are safe to call from any goroutine. List operations return
// copied slices, so callers can iterate without holding any lock while writers
// make progress.
type Store struct {
	mu      sync.RWMutex
	records map[string]ledger.LendingRecord
	logger  ledger.Logger
}

// Option defines a functional option for configuring the Store.
type Option func(*Store) error

// WithLogger sets the logger for the Store.
func WithLogger(logger ledger.Logger) Option {
	return func(s *Store) error {
		s.logger = logger
		return nil
	}
}

// New creates an empty Store with optional configuration.
func New(options ...Option) (*Store, error) {
	s := &Store{
		records: make(map[string]ledger.LendingRecord),
	}

	for _, option := range options {
		if err := option(s); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// Put inserts or updates a lending record and bumps its revision.
//
// In-place edits are only legal while the record is still an open offer;
// editing a record with an active borrower or one already completed fails
// with ledger.ErrInvalidState. Moving an offer to an active loan (setting
// the borrower) is allowed, as that is the confirmed hand-off transition.
func (s *Store) Put(record ledger.LendingRecord) error {
	if record.ID == "" {
		return ErrEmptyRecordID
	}

	if record.GroupID == "" {
		return ErrEmptyGroupID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.records[record.ID]
	if ok && (existing.IsActive() || existing.IsHistory()) {
		return ledger.ErrInvalidState
	}

	record.LastModified = ledger.NowMilli()
	s.records[record.ID] = record

	return nil
}

// Get returns the record with the given id or ledger.ErrNotFound.
// Tombstoned records are reported as not found.
func (s *Store) Get(id string) (ledger.LendingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[id]
	if !ok || record.Tombstone {
		return ledger.LendingRecord{}, ledger.ErrNotFound
	}

	return record, nil
}

// ListAvailable returns the group's open offers, most recently touched first.
func (s *Store) ListAvailable(groupID string) []ledger.LendingRecord {
	return s.list(groupID, ledger.LendingRecord.IsAvailable)
}

// ListActive returns the group's open loans, most recently touched first.
func (s *Store) ListActive(groupID string) []ledger.LendingRecord {
	return s.list(groupID, ledger.LendingRecord.IsActive)
}

// ListHistory returns the group's completed loans, most recently touched first.
// Tombstones are internal merge markers and are not reported.
func (s *Store) ListHistory(groupID string) []ledger.LendingRecord {
	return s.list(groupID, func(r ledger.LendingRecord) bool {
		return r.IsHistory() && !r.Tombstone
	})
}

func (s *Store) list(groupID string, keep func(ledger.LendingRecord) bool) []ledger.LendingRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]ledger.LendingRecord, 0)
	for _, record := range s.records {
		if record.GroupID == groupID && keep(record) {
			result = append(result, record)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].LastModified != result[j].LastModified {
			return result[i].LastModified > result[j].LastModified
		}
		return result[i].ID < result[j].ID
	})

	return result
}

// Complete is the single transition point from the active partition to
// history. It stamps the return time, records whether the borrower defaulted,
// and bumps the revision. Completing a record that is not an active loan
// fails with ledger.ErrInvalidState.
func (s *Store) Complete(id string, returnedSuccessfully bool) (ledger.LendingRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[id]
	if !ok || record.Tombstone {
		return ledger.LendingRecord{}, ledger.ErrNotFound
	}

	if !record.IsActive() {
		return ledger.LendingRecord{}, ledger.ErrInvalidState
	}

	now := ledger.NowMilli()
	record.ReturnedTimestamp = now
	record.Defaulted = !returnedSuccessfully
	record.LastModified = now
	s.records[id] = record

	if s.logger != nil {
		s.logger.Info(logMsgRecordCompleted,
			logAttrRecordID, id,
			logAttrGroupID, record.GroupID,
			logAttrDefaulted, record.Defaulted)
	}

	return record, nil
}

// Remove tombstones a record so a stale remote copy cannot resurrect it.
// The tombstone carries a fresh revision, which outranks any pre-deletion
// edit during the merge.
func (s *Store) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[id]
	if !ok || record.Tombstone {
		return ledger.ErrNotFound
	}

	record.Tombstone = true
	record.LastModified = ledger.NowMilli()
	s.records[id] = record

	if s.logger != nil {
		s.logger.Info(logMsgRecordRemoved, logAttrRecordID, id, logAttrGroupID, record.GroupID)
	}

	return nil
}

// DeleteOlderThan drops history records returned before the cutoff and
// reports how many were removed. Open offers and active loans are never
// touched. Each purged record leaves a tombstone behind, like Remove does,
// so the next sync cannot re-adopt it from the backend copy; the tombstones
// age out on their own. Tombstones already older than the cutoff are purged
// as well but are not counted, they were already deleted from the caller's
// point of view.
func (s *Store) DeleteOlderThan(groupID string, cutoff ledger.UnixMilli) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, record := range s.records {
		if record.GroupID != groupID {
			continue
		}

		if record.Tombstone {
			if record.LastModified < cutoff {
				delete(s.records, id)
			}
			continue
		}

		if record.ReturnedTimestamp > 0 && record.ReturnedTimestamp < cutoff {
			record.Tombstone = true
			record.LastModified = ledger.NowMilli()
			s.records[id] = record
			removed++
		}
	}

	if s.logger != nil {
		s.logger.Info(logMsgRetentionSweep, logAttrGroupID, groupID, logAttrRemovedCount, removed)
	}

	return removed
}

// DeleteGroup drops every record of the group, used when the group itself is deleted.
func (s *Store) DeleteGroup(groupID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, record := range s.records {
		if record.GroupID == groupID {
			delete(s.records, id)
		}
	}
}

// Snapshot returns a copy of every record of the group, tombstones included.
// The sync engine serializes this copy as the group's ledger section.
func (s *Store) Snapshot(groupID string) map[string]ledger.LendingRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := make(map[string]ledger.LendingRecord)
	for id, record := range s.records {
		if record.GroupID == groupID {
			snapshot[id] = record
		}
	}

	return snapshot
}

// Replace folds a merged snapshot into the group's records. Records of other
// groups are untouched. This is the sync engine's write path; local mutators
// never call it.
//
// The fold is revision-aware: a snapshot entry only overwrites a local copy
// that is not newer, and local records the snapshot does not carry are kept,
// so a Put landing between Snapshot and Replace survives the tick. Local
// tombstones absent from the snapshot are dropped, the sync engine omits a
// tombstone only once it expired.
func (s *Store) Replace(groupID string, records map[string]ledger.LendingRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, existing := range s.records {
		if existing.GroupID != groupID {
			continue
		}

		if _, known := records[id]; !known && existing.Tombstone {
			delete(s.records, id)
		}
	}

	for id, record := range records {
		if existing, ok := s.records[id]; ok && existing.Revision() > record.Revision() {
			continue
		}

		s.records[id] = record
	}
}
