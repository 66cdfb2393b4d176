package friends

import (
	"errors"
	"time"
)

var (
	ErrFriendshipNotFound = errors.New("friendship not found")
	ErrInvalidRequest     = errors.New("invalid friend request")
	ErrNotAddressee       = errors.New("only the invited user can accept")
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
)

type Friendship struct {
	ID          string     `json:"id"`
	RequesterID string     `json:"requester_id"`
	AddresseeID string     `json:"addressee_id"`
	Status      Status     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	AcceptedAt  *time.Time `json:"accepted_at,omitempty"`
}

// Other returns the side of the friendship that is not userID.
func (f Friendship) Other(userID string) string {
	if f.RequesterID == userID {
		return f.AddresseeID
	}
	return f.RequesterID
}

// pairKey is the same for both directions, so a pair can only ever have one row.
func pairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "|" + b
}
