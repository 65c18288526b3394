package hub

import (
	"context"
	"log/slog"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/time/rate"
)

// Conn is the transport surface the hub needs from a websocket connection.
// Satisfied by *websocket.Conn; tests substitute in-memory implementations.
type Conn interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Close(code websocket.StatusCode, reason string) error
	CloseNow() error
}

// Client is the process-local handle for one live connection. It owns the
// transport and a buffered outbound channel drained by WritePump; everything
// else in the hub reaches the connection only through enqueue.
type Client struct {
	conn   Conn
	send   chan []byte
	origin string

	ctx    context.Context
	cancel context.CancelFunc

	limiter      *rate.Limiter
	writeTimeout time.Duration
}

// ClientConfig carries the per-connection tunables from process config.
type ClientConfig struct {
	SendBuffer   int
	RateLimit    float64
	RateBurst    int
	WriteTimeout time.Duration
}

// NewClient wraps conn in a Client scoped to parent. Cancelling parent, or
// the client's own cancel, terminates the write pump and the connection.
func NewClient(parent context.Context, conn Conn, origin string, cfg ClientConfig) *Client {
	ctx, cancel := context.WithCancel(parent)
	return &Client{
		conn:         conn,
		send:         make(chan []byte, cfg.SendBuffer),
		origin:       origin,
		ctx:          ctx,
		cancel:       cancel,
		limiter:      rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
		writeTimeout: cfg.WriteTimeout,
	}
}

// Origin returns the network origin the client connected from.
func (c *Client) Origin() string {
	return c.origin
}

// enqueue attempts a non-blocking handoff of payload to the write pump.
// It reports false when the client is cancelled or its buffer is full; the
// caller treats that as a failed delivery for this client only. The
// cancellation check runs on its own so a cancelled client with buffer
// space free never accepts a delivery.
func (c *Client) enqueue(payload []byte) bool {
	select {
	case <-c.ctx.Done():
		return false
	default:
	}

	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// WritePump drains the outbound buffer onto the connection. Each write gets
// its own deadline so one stalled peer is abandoned after writeTimeout
// instead of blocking the pump forever. Returns when the client is
// cancelled or a write fails.
func (c *Client) WritePump() {
	defer c.conn.CloseNow()

	for {
		select {
		case <-c.ctx.Done():
			_ = c.conn.Close(websocket.StatusGoingAway, "server closing")
			return

		case payload := <-c.send:
			wctx, cancel := context.WithTimeout(c.ctx, c.writeTimeout)
			err := c.conn.Write(wctx, websocket.MessageText, payload)
			cancel()
			if err != nil {
				slog.Debug("write failed", "origin", c.origin, "error", err)
				c.cancel()
				return
			}
		}
	}
}
