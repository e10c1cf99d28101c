package relay

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/a-essam23/chirp-relay/pkg/protocol"
)

// onRouteMessage delivers a chat message to the receiver's connection for
// this sender. Receivers that never added the sender get the message through
// their introduction channel together with the sender's profile.
func (c *Core) onRouteMessage(r RouteMessage) error {
	if _, err := c.identityOf(r.Conn); err != nil {
		return err
	}
	c.logger.Debug("Sending message", slog.Any("from", r.From), slog.Any("to", r.To))

	if _, ok := c.state.Bucket(r.To); !ok {
		c.logger.Info("No active session found for receiver", slog.Any("to", r.To))
		c.metrics.RecordRoute(routeDropped)
		return nil
	}

	if conn, ok := c.state.FindByContact(r.To, r.From); ok {
		c.push(conn, protocol.CmdMessage, r.Body)
		c.metrics.RecordRoute(routeDirect)
		return nil
	}

	introConn, ok := c.state.FindByContact(r.To, r.To)
	if !ok {
		c.logger.Debug("Receiver has no introduction channel, dropping", slog.Any("to", r.To))
		c.metrics.RecordRoute(routeDropped)
		return nil
	}

	c.logger.Info("Receiver has not added the sender, introducing", slog.Any("from", r.From), slog.Any("to", r.To))
	body := []byte(r.Body)
	c.offload(r.Conn, "find_user", func(ctx context.Context) func() {
		sender, err := c.store.Find(ctx, r.From)
		return func() {
			if err != nil {
				c.metrics.RecordRoute(routeDropped)
				c.reject(r, fmt.Errorf("load sender %d: %w", r.From, err))
				return
			}
			payload, err := protocol.Profile(profileOf(sender, body))
			if err != nil {
				c.metrics.RecordRoute(routeDropped)
				c.reject(r, fmt.Errorf("%w: %w", protocol.ErrMalformedFrame, err))
				return
			}
			if c.push(introConn, protocol.CmdNewUserMessage, payload) {
				c.metrics.RecordRoute(routeIntroduction)
				return
			}
			c.metrics.RecordRoute(routeDropped)
		}
	})
	return nil
}
