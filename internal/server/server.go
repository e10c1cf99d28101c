package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/a-essam23/chirp-relay/internal/relay"
	"github.com/a-essam23/chirp-relay/internal/router"
	"github.com/a-essam23/chirp-relay/internal/server/middleware"
	"github.com/a-essam23/chirp-relay/internal/store"
	"github.com/a-essam23/chirp-relay/internal/token"
	"github.com/a-essam23/chirp-relay/pkg/config"
	"github.com/a-essam23/chirp-relay/pkg/transport"
	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var errShutdown = errors.New("graceful shutdown")

type liveConn struct {
	conn *transport.Connection
	ip   string
}

type App struct {
	logger      *slog.Logger
	config      *config.Config
	repo        store.Repository
	core        *relay.Core
	frameRouter *router.FrameRouter
	wg          sync.WaitGroup
	http        *http.Server
	handler     http.Handler

	ctx          context.Context
	startOnce    sync.Once
	stopCore     context.CancelFunc
	coreDone     chan struct{}
	shutdownOnce sync.Once
	shutdownErr  error

	mu    sync.Mutex
	conns map[uuid.UUID]liveConn
	perIP map[string]int
}

func NewApp(logger *slog.Logger, rootCtx context.Context, cfg *config.Config) (*App, error) {
	repo, err := store.Open(cfg.Store, logger)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := relay.NewMetrics(registry)

	core := relay.New(logger, repo, token.NewIssuer(cfg.Auth.TokenSecret), relay.Options{
		InboxSize:     cfg.Relay.InboxSize,
		StoreWorkers:  cfg.Relay.StoreWorkers,
		StoreTimeout:  cfg.Relay.StoreTimeout,
		EnforceTokens: cfg.Auth.EnforceTokens,
		Metrics:       metrics,
	})

	limiter, err := router.NewRateLimiter(cfg.Transport.RateLimit)
	if err != nil {
		repo.Close()
		return nil, fmt.Errorf("%w: transport.rateLimit: %w", config.ErrInvalidConfig, err)
	}

	app := &App{
		logger:      logger,
		config:      cfg,
		repo:        repo,
		core:        core,
		frameRouter: router.NewFrameRouter(logger, core, limiter, metrics),
		ctx:         rootCtx,
		coreDone:    make(chan struct{}),
		conns:       make(map[uuid.UUID]liveConn),
		perIP:       make(map[string]int),
	}

	mux := http.NewServeMux()
	upgradeHandler := http.HandlerFunc(app.upgradeHandler)
	mux.Handle("/ws",
		middleware.Chain(upgradeHandler,
			middleware.RequestMetadataMiddleware(),
			middleware.NewRequestLogger(app.logger),
			middleware.NewConnectionLimiter(
				logger,
				app.connectionsFrom,
				cfg.Server.ConnectionLimit,
			),
		),
	)
	mux.Handle(cfg.Server.MetricsPath, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	app.handler = mux

	app.http = &http.Server{Addr: cfg.Server.Address, Handler: mux, BaseContext: func(l net.Listener) context.Context {
		return app.ctx
	}}

	return app, nil
}

// Handler exposes the routed HTTP surface.
func (a *App) Handler() http.Handler {
	return a.handler
}

// Start launches the relay core. The core outlives the root context so
// shutdown can drain it after the last connection closed.
func (a *App) Start() {
	a.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		a.stopCore = cancel
		go func() {
			defer close(a.coreDone)
			a.core.Run(ctx)
		}()
	})
}

func (a *App) Run() error {
	a.Start()
	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("Server starting", slog.String("addr", a.http.Addr))
		if err := a.http.ListenAndServe(); err != http.ErrServerClosed {
			a.logger.Error("HTTP server failed", slog.Any("error", err))
			serveErr <- err
		}
	}()

	var err error
	select {
	case <-a.ctx.Done():
	case err = <-serveErr:
	}
	return errors.Join(err, a.Shutdown())
}

func (a *App) upgradeHandler(w http.ResponseWriter, r *http.Request) {
	var ip string
	if reqMeta, ok := middleware.ReqMetadataFrom(r.Context()); ok {
		ip = reqMeta.IP
	}
	connLogger := a.logger.With(slog.String("remoteAddr", ip))

	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		connLogger.Error("Failed to accept websocket connection", slog.Any("error", err))
		return
	}

	conn := transport.NewConnection(
		r.Context(),
		&a.wg,
		wsConn,
		transport.ConnectionConfig{
			ReadTimeout: a.config.Transport.ReadTimeout,
			SendBuffer:  a.config.Transport.SendBuffer,
		},
		a.frameRouter.HandleMessage,
		nil,
		a.logger,
	)
	// Connect is queued before the read pump starts, so the core always sees
	// it ahead of this connection's first frame.
	if !a.core.Submit(relay.Connect{Conn: conn.ID(), Reply: conn}) {
		connLogger.Warn("Relay core stopped, refusing connection")
		conn.Close(relay.ErrCoreStopped)
		return
	}
	a.track(conn, ip)
	conn.SetOnCloseHandler(func(id uuid.UUID, err error) {
		connLogger.Info("Deregistering connection due to closure", slog.String("connID", id.String()))
		a.untrack(id)
		a.frameRouter.Forget(id)
		a.core.Submit(relay.Disconnect{Conn: id})
	})

	connLogger.Info("Connection fully established", slog.String("connID", conn.ID().String()))
	conn.Run()
	<-conn.Done()
}

func (a *App) track(conn *transport.Connection, ip string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.conns[conn.ID()] = liveConn{conn: conn, ip: ip}
	a.perIP[ip]++
}

func (a *App) untrack(id uuid.UUID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	live, ok := a.conns[id]
	if !ok {
		return
	}
	delete(a.conns, id)
	if a.perIP[live.ip]--; a.perIP[live.ip] <= 0 {
		delete(a.perIP, live.ip)
	}
}

func (a *App) connectionsFrom(ip string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.perIP[ip]
}

// graceful shutdown sequence.
func (a *App) Shutdown() error {
	a.shutdownOnce.Do(func() {
		a.shutdownErr = a.shutdown()
	})
	return a.shutdownErr
}

func (a *App) shutdown() error {
	a.logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var errs []error
	if err := a.http.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}

	// close all active WebSocket connections.
	a.logger.Info("Closing all active connections...")
	a.mu.Lock()
	live := make([]*transport.Connection, 0, len(a.conns))
	for _, c := range a.conns {
		live = append(live, c.conn)
	}
	a.mu.Unlock()
	for _, conn := range live {
		conn.Close(errShutdown)
	}

	// wait for all connection goroutines to finish their cleanup.
	a.wg.Wait()

	if a.stopCore != nil {
		if err := a.core.Flush(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("drain relay core: %w", err))
		}
		a.stopCore()
		<-a.coreDone
	}

	if err := a.repo.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}
	a.logger.Info("Server shut down gracefully.")
	return errors.Join(errs...)
}
