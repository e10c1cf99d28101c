package transport

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

var ErrSendBufferFull = errors.New("send buffer full")

// callback executed when a message is received.
type MessageHandler func(ctx context.Context, connId uuid.UUID, msg []byte)

type OnCloseHandler func(connId uuid.UUID, err error)

type ConnectionConfig struct {
	// ReadTimeout bounds the wait for each client frame; zero waits forever.
	ReadTimeout time.Duration
	SendBuffer  int
}

// Connection represents a single, thread-safe WebSocket connection.
type Connection struct {
	id     uuid.UUID
	conn   *websocket.Conn
	config ConnectionConfig
	send   chan []byte

	onMessage MessageHandler
	onClose   OnCloseHandler

	done      chan struct{}
	wg        *sync.WaitGroup
	ctx       context.Context
	closeOnce sync.Once
	cancel    context.CancelFunc

	logger *slog.Logger
}

func NewConnection(parentCtx context.Context, wg *sync.WaitGroup, conn *websocket.Conn, config ConnectionConfig, onMessage MessageHandler, onClose OnCloseHandler, logger *slog.Logger) *Connection {
	id := uuid.New()
	connCtx, cancel := context.WithCancel(parentCtx)
	connLogger := logger.With(slog.String("connID", id.String()))
	if config.SendBuffer <= 0 {
		config.SendBuffer = 256
	}

	wg.Add(1)
	return &Connection{
		id:        id,
		conn:      conn,
		logger:    connLogger,
		config:    config,
		onMessage: onMessage,
		send:      make(chan []byte, config.SendBuffer),
		done:      make(chan struct{}),
		ctx:       connCtx,
		cancel:    cancel,
		onClose:   onClose,
		wg:        wg,
	}
}

func (c *Connection) Run() {
	go c.readPump()
	go c.writePump()

	c.logger.Info("connection established")
}

func (c *Connection) readContext() (context.Context, context.CancelFunc) {
	if c.config.ReadTimeout <= 0 {
		return context.WithCancel(c.ctx)
	}
	return context.WithTimeout(c.ctx, c.config.ReadTimeout)
}

// readPump pumps messages from the WebSocket connection to the message handler.
func (c *Connection) readPump() {
	var readErr error
	defer func() {
		c.Close(readErr)
	}()

	for {
		message, err := c.readMessage()
		if err != nil {
			readErr = err
			return
		}
		if message == nil {
			continue
		}
		c.onMessage(c.ctx, c.id, message)
	}
}

// readMessage returns nil for frames that are neither text nor binary.
func (c *Connection) readMessage() ([]byte, error) {
	readCtx, cancelRead := c.readContext()
	defer cancelRead()

	typ, r, err := c.conn.Reader(readCtx)
	if err != nil {
		return nil, err
	}
	if typ != websocket.MessageText && typ != websocket.MessageBinary {
		return nil, nil
	}
	message, err := io.ReadAll(r)
	if err != nil {
		c.logger.Error("Failed to read client frame", slog.Any("error", err))
		return nil, err
	}
	return message, nil
}

// writePump pumps messages from the send channel to the WebSocket connection.
func (c *Connection) writePump() {
	var writeErr error

	defer func() {
		c.Close(writeErr)
	}()

	for {
		select {
		case message := <-c.send:
			if err := c.conn.Write(c.ctx, websocket.MessageText, message); err != nil {
				writeErr = err
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// Send queues a frame for the client without blocking. Frames sent to a
// closed or backed-up connection are dropped.
func (c *Connection) Send(message []byte) {
	if err := c.TrySend(message); err != nil {
		c.logger.Warn("Dropping outbound frame", slog.Any("error", err))
	}
}

func (c *Connection) TrySend(message []byte) error {
	select {
	case <-c.ctx.Done():
		return net.ErrClosed
	default:
	}
	select {
	case c.send <- message:
		return nil
	case <-c.ctx.Done():
		return net.ErrClosed
	default:
		return ErrSendBufferFull
	}
}

// gracefully shuts down the connection and its resources.
func (c *Connection) Close(err error) {
	c.closeOnce.Do(func() {
		status := websocket.CloseStatus(err)
		c.logger.Info("Transport connection closing", slog.Any("reason", err), slog.String("status", status.String()))

		c.cancel() // Signal goroutines to stop.
		if c.conn != nil {
			c.conn.Close(websocket.StatusNormalClosure, "")
		}
		c.logger.Info("Connection closed")
		if c.onClose != nil {
			c.onClose(c.id, err)
		}
		c.wg.Done()
		close(c.done)
	})
}

// returns a channel that is closed when the connection is fully terminated.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// ID returns the unique identifier of the connection.
func (c *Connection) ID() uuid.UUID {
	return c.id
}

func (c *Connection) SetOnMessageHandler(handler MessageHandler) {
	c.onMessage = handler
}
func (c *Connection) SetOnCloseHandler(handler OnCloseHandler) {
	c.onClose = handler
}
