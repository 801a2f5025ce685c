package client

import (
	"errors"

	"github.com/groupledger/groupledger/ledger"
	"github.com/groupledger/groupledger/ledger/riskengine"
)

// AddEntry records a new available offer: the lender puts an item up for
// borrowing. The lender must be a member of the group.
func (c *Client) AddEntry(groupID, lenderName, itemID, itemName string, quantity int, value int64) (ledger.LendingRecord, error) {
	if !c.memberOf(groupID, lenderName) {
		return ledger.LendingRecord{}, ledger.ErrPermissionDenied
	}

	record := ledger.BuildLendingRecord(groupID, lenderName, itemID, itemName, quantity, value)

	if err := c.records.Put(record); err != nil {
		return ledger.LendingRecord{}, err
	}

	if c.logger != nil {
		c.logger.Info(logMsgEntryAdded,
			logAttrGroupID, groupID,
			logAttrRecordID, record.ID)
	}

	return record, nil
}

// UpdateEntry replaces a record wholesale. The store rejects edits to active
// loans, which must go through CompleteEntry.
func (c *Client) UpdateEntry(record ledger.LendingRecord) error {
	return c.records.Put(record)
}

// RemoveEntry deletes a record, leaving a tombstone for the sync merge.
func (c *Client) RemoveEntry(recordID string) error {
	return c.records.Remove(recordID)
}

// CompleteEntry closes an active loan. returnedSuccessfully false marks the
// loan defaulted. The return is reflected in the borrower's risk history,
// any collateral held for the loan is released, and risk sessions tied to
// the record are closed.
func (c *Client) CompleteEntry(recordID string, returnedSuccessfully bool) (ledger.LendingRecord, error) {
	record, err := c.records.Complete(recordID, returnedSuccessfully)
	if err != nil {
		return ledger.LendingRecord{}, err
	}

	if returnedSuccessfully {
		c.risk.RecordReturn(record.GroupID, record.BorrowerName, !record.WasReturnedLate())
	} else {
		c.risk.RecordDefault(record.GroupID, record.BorrowerName, record.Value)
	}

	c.collateral.MarkReturned(record.ID)
	c.risk.CloseSessionsForRecord(record.ID)

	if c.logger != nil {
		c.logger.Info(logMsgEntryCompleted,
			logAttrGroupID, record.GroupID,
			logAttrRecordID, record.ID,
			logAttrDefaulted, record.Defaulted)
	}

	return record, nil
}

// ListAvailable returns the group's open offers, newest first.
func (c *Client) ListAvailable(groupID string) []ledger.LendingRecord {
	return c.records.ListAvailable(groupID)
}

// ListActive returns the group's in-progress loans, newest first.
func (c *Client) ListActive(groupID string) []ledger.LendingRecord {
	return c.records.ListActive(groupID)
}

// ListHistory returns the group's closed loans, newest first.
func (c *Client) ListHistory(groupID string) []ledger.LendingRecord {
	return c.records.ListHistory(groupID)
}

// GetEntry returns one record by id.
func (c *Client) GetEntry(recordID string) (ledger.LendingRecord, error) {
	return c.records.Get(recordID)
}

// PurgeHistoryOlderThan removes history entries returned before the cutoff
// and reports how many were removed.
func (c *Client) PurgeHistoryOlderThan(groupID string, cutoff ledger.UnixMilli) int {
	purged := c.records.DeleteOlderThan(groupID, cutoff)

	if c.logger != nil && purged > 0 {
		c.logger.Info(logMsgHistoryPurged,
			logAttrGroupID, groupID,
			logAttrPurgedCount, purged)
	}

	return purged
}

// SubmitBorrowRequest opens a borrow negotiation. The requester must be a
// member of the group.
func (c *Client) SubmitBorrowRequest(groupID, requesterID, itemID, itemName string, quantity int, expiresAt ledger.UnixMilli) (ledger.BorrowRequest, error) {
	if !c.memberOf(groupID, requesterID) {
		return ledger.BorrowRequest{}, ledger.ErrPermissionDenied
	}

	return c.requests.Submit(groupID, requesterID, itemID, itemName, quantity, expiresAt)
}

// AcceptRequest accepts a pending request. Only the member currently
// offering the item may accept.
func (c *Client) AcceptRequest(requestID, responderID, message string) (ledger.BorrowRequest, error) {
	request, err := c.requests.Get(requestID)
	if err != nil {
		return ledger.BorrowRequest{}, err
	}

	if _, ok := c.findOffer(request.GroupID, request.ItemID, responderID); !ok {
		return ledger.BorrowRequest{}, ledger.ErrPermissionDenied
	}

	return c.requests.Accept(requestID, responderID, message)
}

// DeclineRequest declines a pending request. Only the member currently
// offering the item may decline.
func (c *Client) DeclineRequest(requestID, responderID, message string) (ledger.BorrowRequest, error) {
	request, err := c.requests.Get(requestID)
	if err != nil {
		return ledger.BorrowRequest{}, err
	}

	if _, ok := c.findOffer(request.GroupID, request.ItemID, responderID); !ok {
		return ledger.BorrowRequest{}, ledger.ErrPermissionDenied
	}

	return c.requests.Decline(requestID, responderID, message)
}

// CancelRequest cancels an open request. Only the original requester may
// cancel; the workflow enforces that.
func (c *Client) CancelRequest(requestID, requesterID string) (ledger.BorrowRequest, error) {
	return c.requests.Cancel(requestID, requesterID)
}

// CompleteRequest turns an accepted request into an active loan: the
// responder's open offer for the item gets the requester as borrower and
// the given due timestamp. A borrower flagged HIGH or above by the risk
// check gets a tracking session for the duration of the loan, and an
// agreement is opened when the offer names collateral.
//
// The offer is resolved before the request moves to its terminal state, so a
// vanished offer fails the call with the request still accepted instead of
// leaving it completed without a loan.
func (c *Client) CompleteRequest(requestID string, dueTimestamp ledger.UnixMilli) (ledger.LendingRecord, error) {
	request, err := c.requests.Get(requestID)
	if err != nil {
		return ledger.LendingRecord{}, err
	}

	if request.State != ledger.RequestAccepted {
		return ledger.LendingRecord{}, ledger.ErrInvalidState
	}

	offer, ok := c.findOffer(request.GroupID, request.ItemID, request.ResponderID)
	if !ok {
		return ledger.LendingRecord{}, errors.Join(ledger.ErrInvalidState, ledger.ErrNotFound)
	}

	request, err = c.requests.Complete(requestID)
	if err != nil {
		return ledger.LendingRecord{}, err
	}

	now := ledger.NowMilli()
	offer.BorrowerName = request.RequesterID
	offer.LendTimestamp = now
	offer.DueTimestamp = dueTimestamp
	offer.LastModified = now

	if err := c.records.Put(offer); err != nil {
		return ledger.LendingRecord{}, err
	}

	level := c.risk.Analyze(offer.GroupID, offer.BorrowerName)
	if level.Severity() >= riskengine.LevelHigh.Severity() {
		c.risk.OpenSession(offer.GroupID, offer.BorrowerName, offer.ID, level)

		if c.logger != nil {
			c.logger.Warn(logMsgRiskFlagged,
				logAttrGroupID, offer.GroupID,
				logAttrBorrower, offer.BorrowerName,
				logAttrRiskLevel, string(level))
		}
	}

	if offer.CollateralKind != "" {
		if _, err := c.collateral.Open(offer.GroupID, offer.ID, offer.CollateralKind); err != nil {
			return ledger.LendingRecord{}, err
		}
	}

	if c.logger != nil {
		c.logger.Info(logMsgLoanStarted,
			logAttrGroupID, offer.GroupID,
			logAttrRequestID, request.ID,
			logAttrRecordID, offer.ID,
			logAttrBorrower, offer.BorrowerName)
	}

	return offer, nil
}

// GetRequest returns one borrow request by id.
func (c *Client) GetRequest(requestID string) (ledger.BorrowRequest, error) {
	return c.requests.Get(requestID)
}

// ListRequests returns all requests for the group, newest first.
func (c *Client) ListRequests(groupID string) []ledger.BorrowRequest {
	return c.requests.ListForGroup(groupID)
}

// ListOpenRequests returns the group's pending and accepted requests.
func (c *Client) ListOpenRequests(groupID string) []ledger.BorrowRequest {
	return c.requests.ListOpen(groupID)
}

// RiskFor returns the borrower's current risk level.
func (c *Client) RiskFor(groupID, playerName string) riskengine.Level {
	return c.risk.Analyze(groupID, playerName)
}

// RiskReason returns a human-readable explanation for the borrower's level.
func (c *Client) RiskReason(groupID, playerName string) string {
	return c.risk.Reason(groupID, playerName)
}

// ActiveRiskSessions returns all open risk-tracking sessions.
func (c *Client) ActiveRiskSessions() []riskengine.RiskSession {
	return c.risk.ActiveSessions()
}

// ListActiveCollateral returns the group's currently held agreements.
func (c *Client) ListActiveCollateral(groupID string) []ledger.CollateralAgreement {
	return c.collateral.ListActive(groupID)
}
