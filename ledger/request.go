package ledger

import (
	"github.com/google/uuid"
)

// RequestState is the lifecycle state of a BorrowRequest.
type RequestState string

const (
	RequestPending   RequestState = "PENDING"
	RequestAccepted  RequestState = "ACCEPTED"
	RequestDeclined  RequestState = "DECLINED"
	RequestCancelled RequestState = "CANCELLED"
	RequestCompleted RequestState = "COMPLETED"
	RequestExpired   RequestState = "EXPIRED"
)

// IsTerminal reports whether no further transition may leave this state.
func (s RequestState) IsTerminal() bool {
	switch s {
	case RequestDeclined, RequestCancelled, RequestCompleted, RequestExpired:
		return true
	default:
		return false
	}
}

// IsOpen reports whether the request still awaits an outcome.
func (s RequestState) IsOpen() bool {
	return s == RequestPending || s == RequestAccepted
}

// BorrowRequest is one borrow negotiation between a requester and the member
// currently offering the item.
type BorrowRequest struct {
	ID                  string       `json:"id"`
	GroupID             string       `json:"groupId"`
	RequesterID         string       `json:"requesterId"`
	ItemID              string       `json:"itemId"`
	ItemName            string       `json:"itemName"`
	Quantity            int          `json:"quantity"`
	RequestTimestamp    UnixMilli    `json:"requestTimestamp"`
	ExpirationTimestamp UnixMilli    `json:"expirationTimestamp"`
	State               RequestState `json:"state"`
	ResponderID         string       `json:"responderId,omitempty"`
	ResponderMessage    string       `json:"responderMessage,omitempty"`
	LastModified        UnixMilli    `json:"lastModified"`
}

// BuildBorrowRequest creates a new pending request with a fresh id.
// expiresIn of 0 means the request never expires.
func BuildBorrowRequest(groupID, requesterID, itemID, itemName string, quantity int, expiresAt UnixMilli) BorrowRequest {
	now := NowMilli()

	return BorrowRequest{
		ID:                  uuid.NewString(),
		GroupID:             groupID,
		RequesterID:         requesterID,
		ItemID:              itemID,
		ItemName:            itemName,
		Quantity:            quantity,
		RequestTimestamp:    now,
		ExpirationTimestamp: expiresAt,
		State:               RequestPending,
		LastModified:        now,
	}
}

// IsExpired reports whether the request's expiration timestamp has passed.
// Requests without an expiration never expire.
func (r BorrowRequest) IsExpired(now UnixMilli) bool {
	return r.ExpirationTimestamp > 0 && now > r.ExpirationTimestamp
}

// Revision returns the last-writer-wins revision timestamp.
func (r BorrowRequest) Revision() UnixMilli {
	return r.LastModified
}
