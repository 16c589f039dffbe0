package client

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gorilla/websocket"

	"github.com/jmfields/cowrite/server"
)

const (
	defaultInitialBackoff = time.Second
	defaultMaxBackoff     = 30 * time.Second
	defaultMaxAttempts    = 10
)

// ErrClosed is returned from Send after Close.
var ErrClosed = errors.New("connection closed")

// ConnConfig configures a reconnecting push-transport client.
type ConnConfig struct {
	URL    string
	Header http.Header

	// InitialBackoff is the first reconnect delay; each attempt
	// doubles it up to MaxBackoff. Zero means 1s.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// MaxAttempts bounds one reconnect cycle; when exhausted the
	// client gives up and reports permanent offline. Zero means 10.
	MaxAttempts uint64

	// OnMessage receives every inbound message.
	OnMessage func(env server.Envelope)

	// OnConnect runs after each successful (re)connect, e.g. to
	// re-open the document.
	OnConnect func(c *Conn)

	// OnOffline runs once when reconnecting is abandoned.
	OnOffline func()
}

// Conn is a websocket client that reconnects with capped exponential
// backoff until its attempts run out.
type Conn struct {
	cfg ConnConfig

	mu     sync.Mutex
	ws     *websocket.Conn
	closed bool

	done chan struct{}
}

// Dial starts the connection loop. The returned Conn is usable
// immediately; sends fail until the first connect succeeds.
func Dial(ctx context.Context, cfg ConnConfig) *Conn {
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = defaultInitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = defaultMaxBackoff
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	c := &Conn{cfg: cfg, done: make(chan struct{})}
	go c.run(ctx)
	return c
}

func (c *Conn) run(ctx context.Context) {
	defer close(c.done)

	for {
		if err := c.connect(ctx); err != nil {
			if c.isClosed() || errors.Is(err, context.Canceled) {
				return
			}
			log.Printf("client: giving up after reconnect attempts: %v", err)
			if c.cfg.OnOffline != nil {
				c.cfg.OnOffline()
			}
			return
		}

		if c.cfg.OnConnect != nil {
			c.cfg.OnConnect(c)
		}

		c.readLoop()
		if c.isClosed() || ctx.Err() != nil {
			return
		}
		// Connection dropped; go around and reconnect.
	}
}

// connect dials with exponential backoff: initial delay doubling each
// attempt, capped, bounded attempt count.
func (c *Conn) connect(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.cfg.InitialBackoff
	bo.Multiplier = 2
	bo.MaxInterval = c.cfg.MaxBackoff
	bo.MaxElapsedTime = 0

	return backoff.Retry(func() error {
		if c.isClosed() {
			return backoff.Permanent(ErrClosed)
		}
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		ws, _, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.URL, c.cfg.Header)
		if err != nil {
			return err
		}
		c.mu.Lock()
		c.ws = ws
		c.mu.Unlock()
		return nil
	}, backoff.WithMaxRetries(bo, c.cfg.MaxAttempts))
}

func (c *Conn) readLoop() {
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		return
	}

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var env server.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Printf("client: dropping malformed message: %v", err)
			continue
		}
		if c.cfg.OnMessage != nil {
			c.cfg.OnMessage(env)
		}
	}
}

// Send writes a typed message to the server.
func (c *Conn) Send(msgType string, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	data, err := json.Marshal(server.Envelope{Type: msgType, Payload: raw})
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.ws == nil {
		return errors.New("not connected")
	}
	c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// Close stops reconnecting and closes the socket.
func (c *Conn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	ws := c.ws
	c.mu.Unlock()

	if ws != nil {
		ws.Close()
	}
}

// Done is closed once the connection loop has fully stopped.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

func (c *Conn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
