package ledger

import (
	"errors"
	"fmt"
)

// Section names one independently-keyed backend blob for a group. Keeping the
// sections separate bounds blob size and lets a corrupt or stale section be
// skipped without affecting the others.
type Section string

const (
	SectionLedger    Section = "ledger"
	SectionDirectory Section = "directory"
	SectionRequests  Section = "requests"
)

// Sections lists all sections in the order the sync engine processes them.
func Sections() []Section {
	return []Section{SectionLedger, SectionDirectory, SectionRequests}
}

const keyPrefix = "groupledger"

var ErrEmptyGroupID = errors.New("group id must not be empty")
var ErrUnknownSection = errors.New("unknown storage section")

// Key is the typed backend key schema: one namespace per group and section.
// All backend keys are rendered through Render, never by ad hoc concatenation.
type Key struct {
	GroupID string
	Section Section
}

// BuildKey creates a validated Key.
func BuildKey(groupID string, section Section) (Key, error) {
	if groupID == "" {
		return Key{}, ErrEmptyGroupID
	}

	switch section {
	case SectionLedger, SectionDirectory, SectionRequests:
	default:
		return Key{}, ErrUnknownSection
	}

	return Key{GroupID: groupID, Section: section}, nil
}

// Render produces the backend key string for this Key.
func (k Key) Render() string {
	return fmt.Sprintf("%s:%s:%s", keyPrefix, k.GroupID, k.Section)
}
