package state

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// UserID is the numeric identity of a chat participant. Zero means no identity.
type UserID uint64

func (id UserID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// Identity is what a connection currently claims to represent.
// For a per-contact connection UserID is the contact and OwnerID is the
// local client that opened it; for an owner connection both are equal.
type Identity struct {
	UserID    UserID  `json:"user_id"`
	OwnerID   UserID  `json:"owner_id"`
	UserToken *string `json:"user_token"`
}

func (i Identity) Identified() bool {
	return i.UserID != 0
}

// Token returns the bearer token or "" when none was supplied.
func (i Identity) Token() string {
	if i.UserToken == nil {
		return ""
	}
	return *i.UserToken
}

// Sender pushes a text frame to one live connection. Sends are fire-and-forget.
type Sender interface {
	Send(message []byte)
}

// representation of a single registered connection.
type Session struct {
	ID        uuid.UUID
	Identity  Identity
	Reply     Sender
	CreatedAt time.Time
}

// ConnectionRef records that a bucket owner has a live connection carrying
// traffic with ContactID.
type ConnectionRef struct {
	ContactID    UserID
	ConnectionID uuid.UUID
}
