package ledger

import (
	"time"

	"github.com/google/uuid"
)

// UnixMilli is a type alias for int64 millisecond timestamps. A value of 0
// means "unset" throughout the ledger (no due date, not yet returned).
type UnixMilli = int64

// NowMilli returns the current time as a UnixMilli timestamp.
func NowMilli() UnixMilli {
	return time.Now().UnixMilli()
}

// LendingRecord is one entry of a group's ledger.
//
// A record with an empty BorrowerName is an open offer ("available"). A record
// with a borrower and a zero ReturnedTimestamp is an active loan. A non-zero
// ReturnedTimestamp moves the record to the history partition.
//
// LastModified is the revision used for last-writer-wins reconciliation between
// instances; every mutation must bump it. Tombstone marks an intentional
// removal that must survive merging so a stale remote copy cannot resurrect
// the record.
type LendingRecord struct {
	ID                string    `json:"id"`
	GroupID           string    `json:"groupId"`
	ItemID            string    `json:"itemId"`
	ItemName          string    `json:"itemName"`
	Quantity          int       `json:"quantity"`
	LenderName        string    `json:"lenderName"`
	BorrowerName      string    `json:"borrowerName"`
	Value             int64     `json:"value"`
	LendTimestamp     UnixMilli `json:"lendTimestamp"`
	DueTimestamp      UnixMilli `json:"dueTimestamp"`
	ReturnedTimestamp UnixMilli `json:"returnedTimestamp"`
	Defaulted         bool      `json:"defaulted"`
	CollateralValue   int64     `json:"collateralValue"`
	CollateralKind    string    `json:"collateralKind"`
	Notes             string    `json:"notes"`
	LastModified      UnixMilli `json:"lastModified"`
	Tombstone         bool      `json:"tombstone,omitempty"`
}

// BuildLendingRecord creates a new record for an offered item. The record
// starts in the available partition (no borrower) with a fresh id and revision.
func BuildLendingRecord(groupID, lenderName, itemID, itemName string, quantity int, value int64) LendingRecord {
	now := NowMilli()

	return LendingRecord{
		ID:           uuid.NewString(),
		GroupID:      groupID,
		ItemID:       itemID,
		ItemName:     itemName,
		Quantity:     quantity,
		LenderName:   lenderName,
		Value:        value,
		LastModified: now,
	}
}

// IsAvailable reports whether the record is an open offer with no borrower.
func (r LendingRecord) IsAvailable() bool {
	return !r.Tombstone && r.BorrowerName == "" && r.ReturnedTimestamp == 0
}

// IsActive reports whether the record is a loan that has not been returned.
func (r LendingRecord) IsActive() bool {
	return !r.Tombstone && r.BorrowerName != "" && r.ReturnedTimestamp == 0
}

// IsHistory reports whether the record belongs to the history partition.
func (r LendingRecord) IsHistory() bool {
	return r.Tombstone || r.ReturnedTimestamp != 0
}

// IsOverdue reports whether the record is an active loan past its due date.
// Records without a due date are never overdue.
func (r LendingRecord) IsOverdue(now UnixMilli) bool {
	return r.IsActive() && r.DueTimestamp > 0 && now > r.DueTimestamp
}

// WasReturnedLate reports whether a completed loan came back after its due date.
func (r LendingRecord) WasReturnedLate() bool {
	return r.ReturnedTimestamp > 0 && r.DueTimestamp > 0 && r.ReturnedTimestamp > r.DueTimestamp
}

// Revision returns the last-writer-wins revision timestamp.
func (r LendingRecord) Revision() UnixMilli {
	return r.LastModified
}
