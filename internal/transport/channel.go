package transport

import (
	"context"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// MessageCallback receives every decoded envelope from the remote end.
type MessageCallback func(*Envelope)

// CloseCallback fires once when the channel stops reading, whatever the
// cause.
type CloseCallback func()

// Channel is the client side of a live session connection. A dropped
// connection is terminal: the session supervisor on the other end treats the
// disconnect as forfeiture, so the channel never reconnects.
type Channel struct {
	url string

	mu      sync.Mutex
	conn    *websocket.Conn
	writeMu sync.Mutex

	onMessage MessageCallback
	onClose   CloseCallback
	closeOnce sync.Once

	pingInterval time.Duration
	stopCh       chan struct{}
	stopOnce     sync.Once

	rootCtx    context.Context
	rootCancel context.CancelFunc
}

func NewChannel(url string) *Channel {
	return &Channel{
		url:          url,
		pingInterval: 30 * time.Second,
		stopCh:       make(chan struct{}),
	}
}

func (c *Channel) OnMessage(cb MessageCallback) { c.onMessage = cb }

func (c *Channel) OnClose(cb CloseCallback) { c.onClose = cb }

// Connect dials the server and starts the read and ping loops. Callbacks must
// be registered before Connect.
func (c *Channel) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return nil
	}

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(dialCtx, c.url, &websocket.DialOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		return err
	}
	conn.SetReadLimit(readLimit)

	c.conn = conn
	c.rootCtx, c.rootCancel = context.WithCancel(context.Background())
	go c.listen()
	go c.pingLoop()
	return nil
}

// Send writes one envelope. ErrUnavailable when the channel is not connected
// or already closed; the caller's state is untouched.
func (c *Channel) Send(ctx context.Context, e *Envelope) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil || c.isStopping() {
		return ErrUnavailable
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := wsjson.Write(wctx, conn, e); err != nil {
		return ErrUnavailable
	}
	return nil
}

func (c *Channel) listen() {
	for {
		select {
		case <-c.stopCh:
			return
		default:
		}

		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return
		}
		var e Envelope
		if err := wsjson.Read(c.rootCtx, conn, &e); err != nil {
			c.shutdown(websocket.StatusGoingAway, "read failure")
			return
		}
		if e.Validate() != nil {
			continue
		}
		if c.onMessage != nil {
			c.onMessage(&e)
		}
	}
}

func (c *Channel) pingLoop() {
	t := time.NewTicker(c.pingInterval)
	defer t.Stop()
	failures := 0
	for {
		select {
		case <-c.stopCh:
			return
		case <-t.C:
			c.mu.Lock()
			conn := c.conn
			c.mu.Unlock()
			if conn == nil {
				return
			}
			ctx, cancel := context.WithTimeout(c.rootCtx, 3*time.Second)
			err := conn.Ping(ctx)
			cancel()
			if err != nil {
				failures++
				if failures >= 2 {
					c.shutdown(websocket.StatusGoingAway, "ping failure")
					return
				}
				continue
			}
			failures = 0
		}
	}
}

// Close ends the channel with a normal closure.
func (c *Channel) Close() {
	c.shutdown(websocket.StatusNormalClosure, "close")
}

func (c *Channel) shutdown(code websocket.StatusCode, reason string) {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close(code, reason)
	}
	if c.rootCancel != nil {
		c.rootCancel()
	}
	c.closeOnce.Do(func() {
		if c.onClose != nil {
			c.onClose()
		}
	})
}

func (c *Channel) isStopping() bool {
	select {
	case <-c.stopCh:
		return true
	default:
		return false
	}
}
