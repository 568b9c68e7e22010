package ws

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"unitalk/internal/model"
)

const (
	writeTimeout = 10 * time.Second
	pingInterval = 25 * time.Second
	pingTimeout  = 5 * time.Second
)

var (
	// ErrConnectionClosed is returned by Send after the connection went away
	ErrConnectionClosed = errors.New("connection closed")

	// ErrSendBufferFull is returned by Send when the client does not keep up
	ErrSendBufferFull = errors.New("send buffer full")
)

// Conn is one live socket. Outbound events go through a buffered channel
// drained by writeLoop, so Send never waits on the network.
type Conn struct {
	id     string
	userID string
	class  model.DeviceClass

	ws     *websocket.Conn
	send   chan model.Event
	logger *zap.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func newConn(ws *websocket.Conn, userID string, class model.DeviceClass, buffer int, logger *zap.Logger) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.NewString()
	return &Conn{
		id:     id,
		userID: userID,
		class:  class,
		ws:     ws,
		send:   make(chan model.Event, buffer),
		logger: logger.With(zap.String("handle", id), zap.String("user", userID)),
		ctx:    ctx,
		cancel: cancel,
	}
}

// ID is the connection handle stored in the device directory.
func (c *Conn) ID() string { return c.id }

// Send queues ev for writing.
func (c *Conn) Send(ctx context.Context, ev model.Event) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	select {
	case c.send <- ev:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Done is closed once the connection shuts down.
func (c *Conn) Done() <-chan struct{} { return c.ctx.Done() }

func (c *Conn) start() {
	go c.writeLoop()
	go c.keepAliveLoop()
}

func (c *Conn) writeLoop() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case ev := <-c.send:
			writeCtx, cancel := context.WithTimeout(c.ctx, writeTimeout)
			err := wsjson.Write(writeCtx, c.ws, ev)
			cancel()
			if err != nil {
				c.logger.Debug("Write FAILED", zap.String("event", ev.Type), zap.Error(err))
				c.close(websocket.StatusInternalError, "write failed")
				return
			}
		}
	}
}

func (c *Conn) keepAliveLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(c.ctx, pingTimeout)
			err := c.ws.Ping(pingCtx)
			cancel()
			if err != nil {
				c.logger.Debug("Ping FAILED", zap.Error(err))
				c.close(websocket.StatusGoingAway, "ping timeout")
				return
			}
		}
	}
}

func (c *Conn) close(code websocket.StatusCode, reason string) {
	c.closeOnce.Do(func() {
		c.cancel()
		_ = c.ws.Close(code, reason)
	})
}
