package relay

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/a-essam23/chirp-relay/internal/identity"
	"github.com/a-essam23/chirp-relay/internal/store"
	"github.com/a-essam23/chirp-relay/internal/token"
	"github.com/a-essam23/chirp-relay/pkg/protocol"
	"github.com/a-essam23/chirp-relay/pkg/state"
	"github.com/a-essam23/chirp-relay/pkg/state/statemanager"
	"github.com/google/uuid"
)

var (
	ErrUnidentifiedConnection = errors.New("connection has no registered identity")
	ErrAlreadyIdentified      = errors.New("connection is already identified")
	ErrUnknownSession         = errors.New("request from unregistered connection")
	ErrInvalidIdentity        = errors.New("identity is missing a user id")
	ErrCoreStopped            = errors.New("relay core stopped")
)

type Options struct {
	InboxSize     int
	StoreWorkers  int
	StoreTimeout  time.Duration
	EnforceTokens bool
	Metrics       *Metrics
	// Allocator overrides the identity allocator built from the store.
	Allocator *identity.Allocator
}

// job runs on a store worker; the returned continuation runs on the core.
type job struct {
	conn uuid.UUID
	op   string
	run  func(ctx context.Context) func()
}

type completion struct {
	conn  uuid.UUID
	apply func()
}

// Core is the relay's single authoritative owner of session and index state.
// All mutations happen on the goroutine running Run; connection goroutines
// talk to it only through Submit.
type Core struct {
	logger    *slog.Logger
	store     store.Repository
	allocator *identity.Allocator
	tokens    *token.Issuer
	state     state.Manager
	metrics   *Metrics
	opts      Options

	inbox   chan Request
	jobs    chan job
	results chan completion
	done    chan struct{}

	// owned by the Run goroutine
	queue    []job
	parked   map[uuid.UUID][]Request
	inflight int
	flushers []chan struct{}
}

func New(logger *slog.Logger, repo store.Repository, tokens *token.Issuer, opts Options) *Core {
	if opts.InboxSize <= 0 {
		opts.InboxSize = 1024
	}
	if opts.StoreWorkers <= 0 {
		opts.StoreWorkers = 1
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 5 * time.Second
	}
	allocator := opts.Allocator
	if allocator == nil {
		allocator = identity.NewAllocator(repo, logger)
	}
	return &Core{
		logger:    logger.With(slog.String("component", "relay_core")),
		store:     repo,
		allocator: allocator,
		tokens:    tokens,
		state:     statemanager.NewInMemoryManager(logger),
		metrics:   opts.Metrics,
		opts:      opts,
		inbox:     make(chan Request, opts.InboxSize),
		jobs:      make(chan job),
		results:   make(chan completion, opts.StoreWorkers),
		done:      make(chan struct{}),
		parked:    make(map[uuid.UUID][]Request),
	}
}

// Run processes requests until ctx is cancelled. It blocks.
func (c *Core) Run(ctx context.Context) {
	workerCtx, stopWorkers := context.WithCancel(ctx)
	var wg sync.WaitGroup
	for i := 0; i < c.opts.StoreWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.worker(workerCtx)
		}()
	}
	defer func() {
		stopWorkers()
		wg.Wait()
		close(c.done)
		c.logger.Info("Relay core stopped")
	}()

	c.logger.Info("Relay core started", slog.Int("storeWorkers", c.opts.StoreWorkers))
	for {
		// Hand queued jobs to workers without ever blocking the loop.
		var out chan job
		var next job
		if len(c.queue) > 0 {
			out = c.jobs
			next = c.queue[0]
		}

		select {
		case req := <-c.inbox:
			c.dispatch(req)
		case res := <-c.results:
			c.complete(res)
		case out <- next:
			c.queue[0] = job{}
			c.queue = c.queue[1:]
		case <-ctx.Done():
			return
		}
	}
}

// Submit enqueues a request. It blocks while the inbox is full and reports
// false once the core has stopped.
func (c *Core) Submit(req Request) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.inbox <- req:
		return true
	case <-c.done:
		return false
	}
}

// Flush waits until every request submitted before it, including the store
// work they started, has been fully applied.
func (c *Core) Flush(ctx context.Context) error {
	done := make(chan struct{})
	if !c.Submit(flushRequest{done: done}) {
		return ErrCoreStopped
	}
	select {
	case <-done:
		return nil
	case <-c.done:
		return ErrCoreStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// View runs fn against the session state on the core goroutine.
func (c *Core) View(ctx context.Context, fn func(state.Manager)) error {
	done := make(chan struct{})
	if !c.Submit(viewRequest{fn: fn, done: done}) {
		return ErrCoreStopped
	}
	select {
	case <-done:
		return nil
	case <-c.done:
		return ErrCoreStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Core) worker(ctx context.Context) {
	for {
		select {
		case j := <-c.jobs:
			start := time.Now()
			jobCtx, cancel := context.WithTimeout(ctx, c.opts.StoreTimeout)
			apply := j.run(jobCtx)
			cancel()
			c.metrics.ObserveStore(j.op, time.Since(start))

			select {
			case c.results <- completion{conn: j.conn, apply: apply}:
			case <-ctx.Done():
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// dispatch keeps per-connection arrival order: while a connection waits on
// store work its later requests queue behind it.
func (c *Core) dispatch(req Request) {
	switch r := req.(type) {
	case flushRequest:
		c.flushers = append(c.flushers, r.done)
		c.releaseFlushers()
		return
	case viewRequest:
		r.fn(c.state)
		close(r.done)
		return
	}

	id := req.ConnectionID()
	if backlog, parked := c.parked[id]; parked {
		c.parked[id] = append(backlog, req)
		return
	}
	c.handle(req)
}

func (c *Core) complete(res completion) {
	c.inflight--
	if res.apply != nil {
		res.apply()
	}

	backlog := c.parked[res.conn]
	delete(c.parked, res.conn)
	for i, req := range backlog {
		c.handle(req)
		if _, parked := c.parked[res.conn]; parked {
			c.parked[res.conn] = append(c.parked[res.conn], backlog[i+1:]...)
			break
		}
	}
	c.metrics.SetSessions(c.state.SessionCount())
	c.releaseFlushers()
}

func (c *Core) releaseFlushers() {
	if c.inflight > 0 {
		return
	}
	for _, ch := range c.flushers {
		close(ch)
	}
	c.flushers = nil
}

// offload parks conn and schedules run on the store worker pool.
func (c *Core) offload(conn uuid.UUID, op string, run func(ctx context.Context) func()) {
	if _, parked := c.parked[conn]; !parked {
		c.parked[conn] = nil
	}
	c.inflight++
	c.queue = append(c.queue, job{conn: conn, op: op, run: run})
}

func (c *Core) handle(req Request) {
	var err error
	switch r := req.(type) {
	case Connect:
		c.onConnect(r)
	case Disconnect:
		c.onDisconnect(r)
	case CreateUser:
		err = c.onCreateUser(r)
	case ReconnectUser:
		err = c.onReconnectUser(r)
	case UpdateIDs:
		err = c.onUpdateIDs(r)
	case SendUserData:
		err = c.onSendUserData(r)
	case RouteMessage:
		err = c.onRouteMessage(r)
	case UpdateName:
		err = c.onProfileUpdate(r.Conn, profileName, r.Name, r.Token)
	case UpdateImage:
		err = c.onProfileUpdate(r.Conn, profileImage, r.Link, r.Token)
	default:
		c.logger.Error("Unhandled request type", slog.Any("request", req))
		return
	}
	if err != nil {
		c.reject(req, err)
	}
	c.metrics.SetSessions(c.state.SessionCount())
}

func (c *Core) reject(req Request, err error) {
	reason := rejectReason(err)
	c.logger.Warn("Request rejected",
		slog.String("connID", req.ConnectionID().String()),
		slog.String("reason", reason),
		slog.Any("error", err),
	)
	c.metrics.RecordRejected(reason)
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrUnidentifiedConnection):
		return "unidentified"
	case errors.Is(err, ErrAlreadyIdentified):
		return "already_identified"
	case errors.Is(err, ErrUnknownSession):
		return "unknown_session"
	case errors.Is(err, ErrInvalidIdentity):
		return "invalid_identity"
	case errors.Is(err, token.ErrInvalidToken):
		return "invalid_token"
	case errors.Is(err, store.ErrNotFound):
		return "not_found"
	case errors.Is(err, protocol.ErrMalformedFrame):
		return "malformed"
	default:
		return "internal"
	}
}

// push sends a frame to a registered connection; unknown connections are
// skipped because delivery is best-effort.
func (c *Core) push(conn uuid.UUID, command, payload string) bool {
	s, ok := c.state.Session(conn)
	if !ok || s.Reply == nil {
		c.logger.Debug("Dropping frame for unregistered connection", slog.String("connID", conn.String()), slog.String("command", command))
		return false
	}
	s.Reply.Send(protocol.Encode(command, payload))
	return true
}
