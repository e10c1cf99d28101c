package router

import (
	"fmt"
	"sync"

	"github.com/a-essam23/chirp-relay/internal/relay"
	"github.com/a-essam23/chirp-relay/pkg/protocol"
	"github.com/a-essam23/chirp-relay/pkg/state"
	"github.com/google/uuid"
)

// DecodeFunc builds the relay request for one command payload.
type DecodeFunc func(connID uuid.UUID, payload string) (relay.Request, error)

type Registry struct {
	mu       sync.RWMutex
	decoders map[string]DecodeFunc
}

func NewRegistry() *Registry {
	return &Registry{decoders: make(map[string]DecodeFunc)}
}

func (r *Registry) Register(command string, fn DecodeFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.decoders[command]; exists {
		panic(fmt.Sprintf("command already registered: %s", command))
	}
	r.decoders[command] = fn
}

func (r *Registry) Lookup(command string) (DecodeFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.decoders[command]
	return fn, ok
}

func RegisterCoreCommands(r *Registry) {
	r.Register(protocol.CmdCreateNewUser, decodeCreateUser)
	r.Register(protocol.CmdReconnectUser, decodeReconnectUser)
	r.Register(protocol.CmdUpdateIDs, decodeUpdateIDs)
	r.Register(protocol.CmdMessage, decodeMessage)
	r.Register(protocol.CmdNameUpdated, decodeNameUpdate)
	r.Register(protocol.CmdImageUpdated, decodeImageUpdate)
	r.Register(protocol.CmdGetUserData, decodeGetUserData)
}

func decodeCreateUser(connID uuid.UUID, payload string) (relay.Request, error) {
	var profile protocol.FullUserData
	if err := protocol.Decode(payload, &profile); err != nil {
		return nil, err
	}
	return relay.CreateUser{Conn: connID, Profile: profile}, nil
}

func decodeReconnectUser(connID uuid.UUID, payload string) (relay.Request, error) {
	var ids state.Identity
	if err := protocol.Decode(payload, &ids); err != nil {
		return nil, err
	}
	return relay.ReconnectUser{Conn: connID, Identity: ids}, nil
}

func decodeUpdateIDs(connID uuid.UUID, payload string) (relay.Request, error) {
	var ids state.Identity
	if err := protocol.Decode(payload, &ids); err != nil {
		return nil, err
	}
	return relay.UpdateIDs{Conn: connID, Identity: ids}, nil
}

// The message body is forwarded as received, so only the routing fields
// are read.
func decodeMessage(connID uuid.UUID, payload string) (relay.Request, error) {
	from, to, err := protocol.MessageRoute(payload)
	if err != nil {
		return nil, err
	}
	return relay.RouteMessage{Conn: connID, From: from, To: to, Body: payload}, nil
}

func decodeNameUpdate(connID uuid.UUID, payload string) (relay.Request, error) {
	var upd protocol.NameUpdate
	if err := protocol.Decode(payload, &upd); err != nil {
		return nil, err
	}
	return relay.UpdateName{Conn: connID, Name: upd.NewName, Token: upd.UserToken}, nil
}

func decodeImageUpdate(connID uuid.UUID, payload string) (relay.Request, error) {
	var upd protocol.ImageUpdate
	if err := protocol.Decode(payload, &upd); err != nil {
		return nil, err
	}
	return relay.UpdateImage{Conn: connID, Link: upd.ImageLink, Token: upd.UserToken}, nil
}

func decodeGetUserData(connID uuid.UUID, payload string) (relay.Request, error) {
	var req protocol.GetUserData
	if err := protocol.Decode(payload, &req); err != nil {
		return nil, err
	}
	return relay.SendUserData{Conn: connID, Target: req.UserID, Token: req.UserToken}, nil
}
