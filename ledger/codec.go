package ledger

import (
	"errors"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrCorruptSnapshot is returned when a backend blob cannot be decoded.
// The sync engine treats such a blob as empty rather than failing the tick.
var ErrCorruptSnapshot = errors.New("snapshot json is not valid")

// LedgerSnapshot is the serialized form of one group's ledger section:
// all lending records (including tombstones awaiting purge) and the
// collateral agreements attached to them.
type LedgerSnapshot struct {
	Records    map[string]LendingRecord       `json:"records"`
	Agreements map[string]CollateralAgreement `json:"agreements"`
}

// DirectorySnapshot is the serialized form of one group's directory section.
type DirectorySnapshot struct {
	Group Group `json:"group"`
}

// RequestSnapshot is the serialized form of one group's borrow-request section.
type RequestSnapshot struct {
	Requests map[string]BorrowRequest `json:"requests"`
}

// ToJSON serializes the snapshot.
func (s LedgerSnapshot) ToJSON() ([]byte, error) {
	return json.Marshal(s)
}

// LedgerSnapshotFromJSON deserializes a ledger section blob.
// Returns ErrCorruptSnapshot (joined with the cause) for malformed input.
func LedgerSnapshotFromJSON(data []byte) (LedgerSnapshot, error) {
	var s LedgerSnapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return LedgerSnapshot{}, errors.Join(ErrCorruptSnapshot, err)
	}

	if s.Records == nil {
		s.Records = make(map[string]LendingRecord)
	}

	if s.Agreements == nil {
		s.Agreements = make(map[string]CollateralAgreement)
	}

	return s, nil
}

// ToJSON serializes the snapshot.
func (s DirectorySnapshot) ToJSON() ([]byte, error) {
	return json.Marshal(s)
}

// DirectorySnapshotFromJSON deserializes a directory section blob.
// Returns ErrCorruptSnapshot (joined with the cause) for malformed input.
func DirectorySnapshotFromJSON(data []byte) (DirectorySnapshot, error) {
	var s DirectorySnapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return DirectorySnapshot{}, errors.Join(ErrCorruptSnapshot, err)
	}

	if s.Group.Members == nil {
		s.Group.Members = make(map[string]Member)
	}

	if s.Group.Flags == nil {
		s.Group.Flags = make(map[Role]TierFlags)
	}

	return s, nil
}

// ToJSON serializes the snapshot.
func (s RequestSnapshot) ToJSON() ([]byte, error) {
	return json.Marshal(s)
}

// RequestSnapshotFromJSON deserializes a request section blob.
// Returns ErrCorruptSnapshot (joined with the cause) for malformed input.
func RequestSnapshotFromJSON(data []byte) (RequestSnapshot, error) {
	var s RequestSnapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return RequestSnapshot{}, errors.Join(ErrCorruptSnapshot, err)
	}

	if s.Requests == nil {
		s.Requests = make(map[string]BorrowRequest)
	}

	return s, nil
}
