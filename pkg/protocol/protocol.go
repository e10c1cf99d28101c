// Package protocol defines the text frames exchanged between chat clients
// and the relay. A frame is "<command> <payload>" split on the first space.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/a-essam23/chirp-relay/pkg/state"
	"github.com/tidwall/gjson"
)

// Server to client.
const (
	CmdUpdateUserID   = "/update-user-id"
	CmdNewUserMessage = "/new-user-message"
)

// Both directions.
const (
	CmdMessage      = "/message"
	CmdGetUserData  = "/get-user-data"
	CmdNameUpdated  = "/name-updated"
	CmdImageUpdated = "/image-updated"
)

// Client to server.
const (
	CmdCreateNewUser = "/create-new-user"
	CmdReconnectUser = "/reconnect-user"
	CmdUpdateIDs     = "/update-ids"
)

var ErrMalformedFrame = errors.New("malformed frame")

type Frame struct {
	Command string
	Payload string
}

// Parse splits a raw text frame into command and payload.
func Parse(raw []byte) (Frame, error) {
	text := string(raw)
	if !strings.HasPrefix(text, "/") {
		return Frame{}, fmt.Errorf("%w: missing command prefix", ErrMalformedFrame)
	}
	command, payload, _ := strings.Cut(text, " ")
	if command == "/" {
		return Frame{}, fmt.Errorf("%w: empty command", ErrMalformedFrame)
	}
	return Frame{Command: command, Payload: payload}, nil
}

// Encode renders a frame for the wire.
func Encode(command, payload string) []byte {
	return []byte(command + " " + payload)
}

// FullUserData is a user profile as sent to clients. Message is set only on
// first-contact introductions.
type FullUserData struct {
	UserID    state.UserID    `json:"user_id"`
	UserName  string          `json:"user_name"`
	ImageLink *string         `json:"image_link"`
	Message   json.RawMessage `json:"message,omitempty"`
}

// MessageData is the chat message body. The relay forwards it verbatim and
// reads only the routing fields.
type MessageData struct {
	FromUser  state.UserID `json:"from_user"`
	ToUser    state.UserID `json:"to_user"`
	Message   string       `json:"message"`
	CreatedAt string       `json:"created_at,omitempty"`
}

type NameUpdate struct {
	NewName   string  `json:"new_name"`
	UserToken *string `json:"user_token"`
}

type ImageUpdate struct {
	ImageLink string  `json:"image_link"`
	UserToken *string `json:"user_token"`
}

type GetUserData struct {
	UserID    state.UserID `json:"user_id"`
	UserToken *string      `json:"user_token"`
}

// Decode unmarshals a JSON payload into v.
func Decode(payload string, v any) error {
	if err := json.Unmarshal([]byte(payload), v); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedFrame, err)
	}
	return nil
}

// MessageRoute reads sender and receiver out of a MessageData payload
// without decoding the rest of it.
func MessageRoute(payload string) (from, to state.UserID, err error) {
	if !gjson.Valid(payload) {
		return 0, 0, fmt.Errorf("%w: message payload is not valid json", ErrMalformedFrame)
	}
	res := gjson.GetMany(payload, "from_user", "to_user")
	if res[0].Type != gjson.Number || res[1].Type != gjson.Number {
		return 0, 0, fmt.Errorf("%w: message payload needs numeric from_user and to_user", ErrMalformedFrame)
	}
	from, to = state.UserID(res[0].Uint()), state.UserID(res[1].Uint())
	if from == 0 || to == 0 {
		return 0, 0, fmt.Errorf("%w: message payload has a zero user id", ErrMalformedFrame)
	}
	return from, to, nil
}

// UpdateUserID builds the payload confirming a freshly allocated identity.
func UpdateUserID(identity state.Identity) (string, error) {
	b, err := json.Marshal(identity)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Profile renders a FullUserData payload.
func Profile(data FullUserData) (string, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
