package ledger

import (
	"errors"
)

var (
	// ErrNotFound is returned when a record, group, member or request id is unknown.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateName is returned when a group with the same name already exists for the account.
	ErrDuplicateName = errors.New("a group with this name already exists")

	// ErrDuplicateRequest is returned when an open borrow request for the same requester and item already exists.
	ErrDuplicateRequest = errors.New("an open request for this requester and item already exists")

	// ErrInvalidState is returned when an operation is illegal for the current record or request state.
	ErrInvalidState = errors.New("operation is not valid for the current state")

	// ErrExpired is returned when a borrow request is acted on after its expiration timestamp.
	// It is a specialization of ErrInvalidState; callers may match either sentinel.
	ErrExpired = errors.New("request has expired")

	// ErrPermissionDenied is returned when a rank or permission-flag check fails.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrCodeAlreadyUsed is returned when an invite code was already consumed.
	ErrCodeAlreadyUsed = errors.New("invite code was already used")

	// ErrCodeExpired is returned when an invite code is past its expiry.
	ErrCodeExpired = errors.New("invite code has expired")

	// ErrBackendUnavailable is returned for transient I/O failures talking to the key-value backend.
	ErrBackendUnavailable = errors.New("key-value backend unavailable")
)
