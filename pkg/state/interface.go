package state

import (
	"errors"

	"github.com/google/uuid"
)

var ErrUnknownConnection = errors.New("unknown connection")

// Manager holds the session registry and the per-user connection index.
// Implementations are not safe for concurrent use; the relay core owns one
// and is the only goroutine that touches it.
type Manager interface {
	// --- Session Registry ---
	Register(connID uuid.UUID, identity Identity, reply Sender) *Session
	UpdateIdentity(connID uuid.UUID, identity Identity) error
	Lookup(connID uuid.UUID) (Identity, bool)
	Session(connID uuid.UUID) (*Session, bool)
	// Remove returns the removed session; a second call for the same id returns false.
	Remove(connID uuid.UUID) (*Session, bool)
	SessionCount() int

	// --- Connection Index ---
	// AddRef appends unless the same (contact, conn) pair is already in the bucket.
	AddRef(owner, contact UserID, connID uuid.UUID) bool
	FindByContact(owner, contact UserID) (uuid.UUID, bool)
	RemoveByConnection(connID uuid.UUID) int
	Bucket(owner UserID) ([]ConnectionRef, bool)
	// ContactConnections lists connections that carry contact as their
	// counterparty, in every bucket except contact's own.
	ContactConnections(contact UserID) []uuid.UUID
}
