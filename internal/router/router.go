package router

import (
	"context"
	"errors"
	"log/slog"

	"github.com/a-essam23/chirp-relay/internal/relay"
	"github.com/a-essam23/chirp-relay/pkg/protocol"
	"github.com/google/uuid"
)

var ErrUnknownCommand = errors.New("unknown command")

// Submitter is the part of the relay core the router needs.
type Submitter interface {
	Submit(req relay.Request) bool
}

// FrameRouter turns raw client frames into relay requests.
type FrameRouter struct {
	logger   *slog.Logger
	core     Submitter
	limiter  *RateLimiter
	metrics  *relay.Metrics
	commands *Registry
}

// NewFrameRouter builds a router with every client command registered.
// limiter and metrics may be nil.
func NewFrameRouter(logger *slog.Logger, core Submitter, limiter *RateLimiter, metrics *relay.Metrics) *FrameRouter {
	commands := NewRegistry()
	RegisterCoreCommands(commands)
	return &FrameRouter{
		logger:   logger.With(slog.String("component", "frame_router")),
		core:     core,
		limiter:  limiter,
		metrics:  metrics,
		commands: commands,
	}
}

// HandleMessage decodes one frame and forwards it to the core. Bad frames
// are logged and dropped; the client gets no error frame.
func (r *FrameRouter) HandleMessage(ctx context.Context, connID uuid.UUID, msg []byte) {
	if !r.limiter.Allow(connID) {
		r.logger.Warn("Rate limit exceeded, dropping frame", slog.String("connID", connID.String()))
		r.metrics.RecordRejected("rate_limited")
		return
	}

	frame, err := protocol.Parse(msg)
	if err != nil {
		r.logger.Warn("Failed to parse client frame", slog.String("connID", connID.String()), slog.Any("error", err))
		r.metrics.RecordRejected("malformed")
		return
	}

	decode, ok := r.commands.Lookup(frame.Command)
	if !ok {
		r.logger.Warn("Received unknown command", slog.String("command", frame.Command), slog.String("connID", connID.String()))
		r.metrics.RecordRejected("unknown_command")
		return
	}

	req, err := decode(connID, frame.Payload)
	if err != nil {
		r.logger.Warn("Failed to decode payload", slog.String("command", frame.Command), slog.String("connID", connID.String()), slog.Any("error", err))
		r.metrics.RecordRejected("malformed")
		return
	}

	if ctx.Err() != nil {
		return
	}
	r.logger.Debug("Submitting request", slog.String("command", frame.Command), slog.String("connID", connID.String()))
	if !r.core.Submit(req) {
		r.logger.Warn("Relay core stopped, dropping request", slog.String("command", frame.Command))
	}
}

// Forget drops per-connection router state once a connection is gone.
func (r *FrameRouter) Forget(connID uuid.UUID) {
	r.limiter.Forget(connID)
}
