package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/a-essam23/chirp-relay/internal/store"
	"github.com/a-essam23/chirp-relay/pkg/protocol"
	"github.com/a-essam23/chirp-relay/pkg/state"
	"github.com/google/uuid"
)

func (c *Core) onConnect(r Connect) {
	if _, exists := c.state.Session(r.Conn); exists {
		c.logger.Warn("Connection registered twice, overwriting", slog.String("connID", r.Conn.String()))
	}
	c.state.Register(r.Conn, state.Identity{}, r.Reply)
	c.logger.Debug("Connection registered", slog.String("connID", r.Conn.String()))
}

func (c *Core) onDisconnect(r Disconnect) {
	_, removed := c.state.Remove(r.Conn)
	refs := c.state.RemoveByConnection(r.Conn)
	if !removed && refs == 0 {
		c.logger.Debug("Connection already disconnected", slog.String("connID", r.Conn.String()))
		return
	}
	c.logger.Info("Connection disconnected", slog.String("connID", r.Conn.String()), slog.Int("refsPurged", refs))
}

// identityOf returns the session identity or ErrUnknownSession.
func (c *Core) identityOf(conn uuid.UUID) (state.Identity, error) {
	identity, ok := c.state.Lookup(conn)
	if !ok {
		return state.Identity{}, fmt.Errorf("%w: %s", ErrUnknownSession, conn)
	}
	return identity, nil
}

// Creates and saves a new user, then confirms the id to the connection.
func (c *Core) onCreateUser(r CreateUser) error {
	current, err := c.identityOf(r.Conn)
	if err != nil {
		return err
	}
	if current.Identified() {
		return fmt.Errorf("%w: create requested by user %d", ErrAlreadyIdentified, current.UserID)
	}

	profile := r.Profile
	c.offload(r.Conn, "create_user", func(ctx context.Context) func() {
		user, err := c.allocator.Create(ctx, func(state.UserID) *store.User {
			return &store.User{Name: profile.UserName, ImageLink: profile.ImageLink}
		})
		if err != nil {
			return func() { c.reject(r, fmt.Errorf("create user: %w", err)) }
		}
		var tok *string
		if c.tokens != nil {
			signed, err := c.tokens.Issue(user.ID)
			if err != nil {
				c.logger.Error("Failed to issue user token", slog.Any("userID", user.ID), slog.Any("error", err))
			} else {
				tok = &signed
			}
		}
		return func() { c.finishCreate(r.Conn, user.ID, tok) }
	})
	return nil
}

func (c *Core) finishCreate(conn uuid.UUID, id state.UserID, tok *string) {
	c.metrics.RecordUserCreated()
	identity := state.Identity{UserID: id, OwnerID: id, UserToken: tok}
	if err := c.state.UpdateIdentity(conn, identity); err != nil {
		// The record stays; the client can reconnect with the id later.
		c.logger.Warn("Created user for a connection that is gone", slog.Any("userID", id), slog.Any("error", err))
		return
	}
	c.state.AddRef(id, id, conn)
	c.logger.Info("Created new user", slog.String("connID", conn.String()), slog.Any("userID", id))

	payload, err := protocol.UpdateUserID(identity)
	if err != nil {
		c.logger.Error("Failed to encode user id confirmation", slog.Any("error", err))
		return
	}
	c.push(conn, protocol.CmdUpdateUserID, payload)
}

// Re-attaches a connection to a previously issued user id. An unknown id is
// logged and the client gets no confirmation.
func (c *Core) onReconnectUser(r ReconnectUser) error {
	current, err := c.identityOf(r.Conn)
	if err != nil {
		return err
	}
	if current.Identified() {
		return fmt.Errorf("%w: reconnect requested by user %d", ErrAlreadyIdentified, current.UserID)
	}
	if !r.Identity.Identified() {
		return ErrInvalidIdentity
	}

	userID := r.Identity.UserID
	c.logger.Info("Reconnecting user", slog.Any("userID", userID), slog.String("connID", r.Conn.String()))
	c.offload(r.Conn, "reconnect_user", func(ctx context.Context) func() {
		exists, err := c.store.Exists(ctx, userID)
		return func() {
			switch {
			case err != nil:
				c.reject(r, fmt.Errorf("check user %d: %w", userID, err))
			case !exists:
				c.logger.Error("Unable to reconnect with a non-existing user", slog.Any("userID", userID))
				c.reject(r, fmt.Errorf("reconnect user %d: %w", userID, store.ErrNotFound))
			default:
				if err := c.state.UpdateIdentity(r.Conn, r.Identity); err != nil {
					c.logger.Warn("Reconnected connection is gone", slog.String("connID", r.Conn.String()))
					return
				}
				c.state.AddRef(userID, userID, r.Conn)
			}
		}
	})
	return nil
}

// Records that this connection carries traffic between the owner and one
// contact. Clients send it as the first request on every per-contact
// connection, so unidentified connections are accepted.
func (c *Core) onUpdateIDs(r UpdateIDs) error {
	if _, err := c.identityOf(r.Conn); err != nil {
		return err
	}
	if !r.Identity.Identified() || r.Identity.OwnerID == 0 {
		return ErrInvalidIdentity
	}
	if err := c.state.UpdateIdentity(r.Conn, r.Identity); err != nil {
		return err
	}
	if c.state.AddRef(r.Identity.OwnerID, r.Identity.UserID, r.Conn) {
		c.logger.Debug("Tracking contact connection",
			slog.Any("owner", r.Identity.OwnerID),
			slog.Any("contact", r.Identity.UserID),
			slog.String("connID", r.Conn.String()),
		)
	}
	return nil
}

// Sends the profile of r.Target to the requesting connection.
func (c *Core) onSendUserData(r SendUserData) error {
	current, err := c.identityOf(r.Conn)
	if err != nil {
		return err
	}
	if c.opts.EnforceTokens {
		if !current.Identified() {
			return ErrUnidentifiedConnection
		}
		owner := current.OwnerID
		if owner == 0 {
			owner = current.UserID
		}
		if err := c.verifyToken(r.Token, owner); err != nil {
			return err
		}
	}

	c.logger.Info("Sending user data", slog.Any("userID", r.Target))
	c.offload(r.Conn, "find_user", func(ctx context.Context) func() {
		user, err := c.store.Find(ctx, r.Target)
		return func() {
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					c.logger.Info("Requested user does not exist", slog.Any("userID", r.Target))
					c.metrics.RecordRejected("not_found")
					return
				}
				c.reject(r, err)
				return
			}
			payload, err := protocol.Profile(profileOf(user, nil))
			if err != nil {
				c.logger.Error("Failed to encode profile", slog.Any("error", err))
				return
			}
			c.push(r.Conn, protocol.CmdGetUserData, payload)
		}
	})
	return nil
}

type profileField struct {
	op      string
	command string
	kind    string
	persist func(ctx context.Context, repo store.Repository, id state.UserID, value string) error
}

var (
	profileName = profileField{
		op:      "update_name",
		command: protocol.CmdNameUpdated,
		kind:    "name",
		persist: func(ctx context.Context, repo store.Repository, id state.UserID, v string) error {
			return repo.UpdateName(ctx, id, v)
		},
	}
	profileImage = profileField{
		op:      "update_image",
		command: protocol.CmdImageUpdated,
		kind:    "image",
		persist: func(ctx context.Context, repo store.Repository, id state.UserID, v string) error {
			return repo.UpdateImage(ctx, id, v)
		},
	}
)

// Persists a name or image change and fans it out to every other client
// currently showing this user as a contact.
func (c *Core) onProfileUpdate(conn uuid.UUID, field profileField, value string, tok *string) error {
	current, err := c.identityOf(conn)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnidentifiedConnection, err)
	}
	if !current.Identified() {
		return ErrUnidentifiedConnection
	}
	if c.opts.EnforceTokens {
		if err := c.verifyToken(tok, current.UserID); err != nil {
			return err
		}
	}

	userID := current.UserID
	c.logger.Info("Updating user profile", slog.Any("userID", userID), slog.String("field", field.kind), slog.String("value", value))
	c.offload(conn, field.op, func(ctx context.Context) func() {
		err := field.persist(ctx, c.store, userID, value)
		return func() {
			if err != nil {
				c.logger.Error("Failed to persist profile update", slog.Any("userID", userID), slog.String("field", field.kind), slog.Any("error", err))
				c.metrics.RecordRejected(rejectReason(err))
				return
			}
			c.broadcast(userID, field, value)
		}
	})
	return nil
}

func (c *Core) broadcast(userID state.UserID, field profileField, value string) {
	sent := 0
	for _, conn := range c.state.ContactConnections(userID) {
		if c.push(conn, field.command, value) {
			sent++
		}
	}
	c.metrics.RecordBroadcast(field.kind, sent)
	c.logger.Debug("Broadcast profile update", slog.Any("userID", userID), slog.String("field", field.kind), slog.Int("frames", sent))
}

func (c *Core) verifyToken(tok *string, userID state.UserID) error {
	if c.tokens == nil {
		return nil
	}
	var s string
	if tok != nil {
		s = *tok
	}
	return c.tokens.Verify(s, userID)
}

func profileOf(user *store.User, message []byte) protocol.FullUserData {
	return protocol.FullUserData{
		UserID:    user.ID,
		UserName:  user.Name,
		ImageLink: user.ImageLink,
		Message:   message,
	}
}
