package relay

import (
	"github.com/a-essam23/chirp-relay/pkg/protocol"
	"github.com/a-essam23/chirp-relay/pkg/state"
	"github.com/google/uuid"
)

// Request is one unit of work for the core, always tied to the connection
// it arrived on.
type Request interface {
	ConnectionID() uuid.UUID
}

// Connect registers a new, still unidentified connection.
type Connect struct {
	Conn  uuid.UUID
	Reply state.Sender
}

// Disconnect tears a connection down. Processing it twice is harmless.
type Disconnect struct {
	Conn uuid.UUID
}

type CreateUser struct {
	Conn    uuid.UUID
	Profile protocol.FullUserData
}

type ReconnectUser struct {
	Conn     uuid.UUID
	Identity state.Identity
}

type UpdateIDs struct {
	Conn     uuid.UUID
	Identity state.Identity
}

type SendUserData struct {
	Conn   uuid.UUID
	Target state.UserID
	Token  *string
}

// RouteMessage carries a chat message body that is forwarded verbatim.
type RouteMessage struct {
	Conn uuid.UUID
	From state.UserID
	To   state.UserID
	Body string
}

type UpdateName struct {
	Conn  uuid.UUID
	Name  string
	Token *string
}

type UpdateImage struct {
	Conn  uuid.UUID
	Link  string
	Token *string
}

// internal requests
type (
	flushRequest struct {
		done chan struct{}
	}
	viewRequest struct {
		fn   func(state.Manager)
		done chan struct{}
	}
)

func (r Connect) ConnectionID() uuid.UUID       { return r.Conn }
func (r Disconnect) ConnectionID() uuid.UUID    { return r.Conn }
func (r CreateUser) ConnectionID() uuid.UUID    { return r.Conn }
func (r ReconnectUser) ConnectionID() uuid.UUID { return r.Conn }
func (r UpdateIDs) ConnectionID() uuid.UUID     { return r.Conn }
func (r SendUserData) ConnectionID() uuid.UUID  { return r.Conn }
func (r RouteMessage) ConnectionID() uuid.UUID  { return r.Conn }
func (r UpdateName) ConnectionID() uuid.UUID    { return r.Conn }
func (r UpdateImage) ConnectionID() uuid.UUID   { return r.Conn }
func (flushRequest) ConnectionID() uuid.UUID    { return uuid.Nil }
func (viewRequest) ConnectionID() uuid.UUID     { return uuid.Nil }
