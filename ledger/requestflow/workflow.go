package requestflow

import (
	"errors"
	"sort"
	"sync"

	"github.com/groupledger/groupledger/ledger"
)

const (
	logMsgRequestSubmitted = "borrow request submitted"
	logMsgRequestExpired   = "borrow request expired on access"
	logAttrRequestID       = "request_id"
	logAttrGroupID         = "group_id"
	logAttrRequester       = "requester"
)

var ErrEmptyRequesterID = errors.New("requester id must not be empty")

// Workflow drives the borrow-request negotiation state machine.
//
// The workflow guards state legality only: whether a given caller has
// standing to accept or decline a request is the facade's concern, except for
// cancellation, which the state machine itself restricts to the original
// requester.
type Workflow struct {
	mu       sync.RWMutex
	requests map[string]ledger.BorrowRequest
	logger   ledger.Logger
}

// Option defines a functional option for configuring the Workflow.
type Option func(*Workflow) error

// WithLogger sets the logger for the Workflow.
func WithLogger(logger ledger.Logger) Option {
	return func(w *Workflow) error {
		w.logger = logger
		return nil
	}
}

// New creates an empty Workflow with optional configuration.
func New(options ...Option) (*Workflow, error) {
	w := &Workflow{
		requests: make(map[string]ledger.BorrowRequest),
	}

	for _, option := range options {
		if err := option(w); err != nil {
			return nil, err
		}
	}

	return w, nil
}

// Submit registers a new pending request. Fails with
// ledger.ErrDuplicateRequest if an open request for the same requester and
// item already exists in the group.
func (w *Workflow) Submit(groupID, requesterID, itemID, itemName string, quantity int, expiresAt ledger.UnixMilli) (ledger.BorrowRequest, error) {
	if requesterID == "" {
		return ledger.BorrowRequest{}, ErrEmptyRequesterID
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	for _, existing := range w.requests {
		if existing.GroupID == groupID &&
			existing.RequesterID == requesterID &&
			existing.ItemID == itemID &&
			existing.State.IsOpen() {
			return ledger.BorrowRequest{}, ledger.ErrDuplicateRequest
		}
	}

	request := ledger.BuildBorrowRequest(groupID, requesterID, itemID, itemName, quantity, expiresAt)
	w.requests[request.ID] = request

	if w.logger != nil {
		w.logger.Info(logMsgRequestSubmitted,
			logAttrRequestID, request.ID,
			logAttrGroupID, groupID,
			logAttrRequester, requesterID)
	}

	return request, nil
}

// Accept moves a pending request to ACCEPTED. A request past its expiration
// auto-transitions to EXPIRED instead and the accept fails with
// ledger.ErrExpired (joined with ledger.ErrInvalidState).
func (w *Workflow) Accept(requestID, responderID, message string) (ledger.BorrowRequest, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	request, ok := w.requests[requestID]
	if !ok {
		return ledger.BorrowRequest{}, ledger.ErrNotFound
	}

	if request.State != ledger.RequestPending {
		return ledger.BorrowRequest{}, ledger.ErrInvalidState
	}

	now := ledger.NowMilli()
	if request.IsExpired(now) {
		request.State = ledger.RequestExpired
		request.LastModified = now
		w.requests[requestID] = request

		if w.logger != nil {
			w.logger.Info(logMsgRequestExpired, logAttrRequestID, requestID)
		}

		return ledger.BorrowRequest{}, errors.Join(ledger.ErrInvalidState, ledger.ErrExpired)
	}

	request.State = ledger.RequestAccepted
	request.ResponderID = responderID
	request.ResponderMessage = message
	request.LastModified = now
	w.requests[requestID] = request

	return request, nil
}

// Decline moves a pending request to DECLINED.
func (w *Workflow) Decline(requestID, responderID, message string) (ledger.BorrowRequest, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	request, ok := w.requests[requestID]
	if !ok {
		return ledger.BorrowRequest{}, ledger.ErrNotFound
	}

	if request.State != ledger.RequestPending {
		return ledger.BorrowRequest{}, ledger.ErrInvalidState
	}

	request.State = ledger.RequestDeclined
	request.ResponderID = responderID
	request.ResponderMessage = message
	request.LastModified = ledger.NowMilli()
	w.requests[requestID] = request

	return request, nil
}

// Cancel moves a pending or accepted request to CANCELLED. Only the original
// requester may cancel; anyone else gets ledger.ErrPermissionDenied.
func (w *Workflow) Cancel(requestID, requesterID string) (ledger.BorrowRequest, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	request, ok := w.requests[requestID]
	if !ok {
		return ledger.BorrowRequest{}, ledger.ErrNotFound
	}

	if request.RequesterID != requesterID {
		return ledger.BorrowRequest{}, ledger.ErrPermissionDenied
	}

	if !request.State.IsOpen() {
		return ledger.BorrowRequest{}, ledger.ErrInvalidState
	}

	request.State = ledger.RequestCancelled
	request.LastModified = ledger.NowMilli()
	w.requests[requestID] = request

	return request, nil
}

// Complete moves an accepted request to COMPLETED and returns it so the
// caller can create or update the corresponding lending record.
func (w *Workflow) Complete(requestID string) (ledger.BorrowRequest, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	request, ok := w.requests[requestID]
	if !ok {
		return ledger.BorrowRequest{}, ledger.ErrNotFound
	}

	if request.State != ledger.RequestAccepted {
		return ledger.BorrowRequest{}, ledger.ErrInvalidState
	}

	request.State = ledger.RequestCompleted
	request.LastModified = ledger.NowMilli()
	w.requests[requestID] = request

	return request, nil
}

// Get returns the request with the given id or ledger.ErrNotFound.
func (w *Workflow) Get(requestID string) (ledger.BorrowRequest, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	request, ok := w.requests[requestID]
	if !ok {
		return ledger.BorrowRequest{}, ledger.ErrNotFound
	}

	return request, nil
}

// ListForGroup returns all requests of the group, newest first.
func (w *Workflow) ListForGroup(groupID string) []ledger.BorrowRequest {
	return w.list(groupID, func(ledger.BorrowRequest) bool { return true })
}

// ListOpen returns the group's pending and accepted requests, newest first.
func (w *Workflow) ListOpen(groupID string) []ledger.BorrowRequest {
	return w.list(groupID, func(r ledger.BorrowRequest) bool { return r.State.IsOpen() })
}

func (w *Workflow) list(groupID string, keep func(ledger.BorrowRequest) bool) []ledger.BorrowRequest {
	w.mu.RLock()
	defer w.mu.RUnlock()

	result := make([]ledger.BorrowRequest, 0)
	for _, request := range w.requests {
		if request.GroupID == groupID && keep(request) {
			result = append(result, request)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].RequestTimestamp != result[j].RequestTimestamp {
			return result[i].RequestTimestamp > result[j].RequestTimestamp
		}
		return result[i].ID < result[j].ID
	})

	return result
}

// Snapshot returns a copy of every request of the group for the sync push path.
func (w *Workflow) Snapshot(groupID string) map[string]ledger.BorrowRequest {
	w.mu.RLock()
	defer w.mu.RUnlock()

	snapshot := make(map[string]ledger.BorrowRequest)
	for id, request := range w.requests {
		if request.GroupID == groupID {
			snapshot[id] = request
		}
	}

	return snapshot
}

// Replace folds a merged request snapshot into the group's state. This is
// the sync engine's write path; local mutators never call it. The fold is
// revision-aware: a snapshot entry only overwrites a local copy that is not
// newer, and local requests the snapshot does not carry are kept, so a
// submission landing between Snapshot and Replace survives the tick.
func (w *Workflow) Replace(groupID string, requests map[string]ledger.BorrowRequest) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for id, request := range requests {
		if request.GroupID != groupID {
			continue
		}

		if existing, ok := w.requests[id]; ok && existing.Revision() > request.Revision() {
			continue
		}

		w.requests[id] = request
	}
}

// DeleteGroup drops every request of the group, used when the group itself
// is deleted.
func (w *Workflow) DeleteGroup(groupID string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for id, request := range w.requests {
		if request.GroupID == groupID {
			delete(w.requests, id)
		}
	}
}
