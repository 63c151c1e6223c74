package livesync

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// ErrNotConnected is returned by Send while the client has no session.
var ErrNotConnected = errors.New("livesync: not connected")

// ClientOptions configures a Client.
type ClientOptions struct {
	URL string
	// MinBackoff and MaxBackoff bound the reconnect delay, which doubles after
	// each failed attempt and resets after a successful session.
	MinBackoff time.Duration
	MaxBackoff time.Duration
	// PongWait is how long the client waits for any frame, pings included,
	// before treating the session as dead.
	PongWait time.Duration

	Dialer *websocket.Dialer
	Clock  clockwork.Clock
	Logger zerolog.Logger
}

// Client is a reconnecting subscriber to a sync channel.
type Client struct {
	opts     ClientOptions
	messages chan Message

	connected atomic.Bool
	mu        sync.Mutex
	conn      *websocket.Conn
	writeMu   sync.Mutex

	// OnConnectionChange is called with the new state after connect and disconnect.
	OnConnectionChange func(connected bool)
}

// NewClient creates a client. Nothing is dialed until Run.
func NewClient(opts ClientOptions) *Client {
	if opts.MinBackoff <= 0 {
		opts.MinBackoff = 500 * time.Millisecond
	}
	if opts.MaxBackoff < opts.MinBackoff {
		opts.MaxBackoff = 10 * time.Second
	}
	if opts.PongWait <= 0 {
		opts.PongWait = DefaultPongWait
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	return &Client{opts: opts, messages: make(chan Message, subscriberBuffer)}
}

// Messages returns the stream of received messages. It is closed when Run returns.
func (c *Client) Messages() <-chan Message {
	return c.messages
}

// Connected reports whether a session is open.
func (c *Client) Connected() bool {
	return c.connected.Load()
}

// Run connects and reconnects until ctx is done.
func (c *Client) Run(ctx context.Context) error {
	defer close(c.messages)

	backoff := c.opts.MinBackoff
	for {
		err := c.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			backoff = c.opts.MinBackoff
		}
		c.opts.Logger.Warn().Err(err).Dur("retry_in", backoff).Msg("sync channel disconnected")

		timer := c.opts.Clock.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.Chan():
		}
		if backoff *= 2; backoff > c.opts.MaxBackoff {
			backoff = c.opts.MaxBackoff
		}
	}
}

// session runs one connection. It returns nil if the connection was
// established and later lost, or the dial error otherwise.
func (c *Client) session(ctx context.Context) error {
	conn, _, err := c.opts.Dialer.DialContext(ctx, c.opts.URL, nil)
	if err != nil {
		return err
	}

	c.setConn(conn)
	defer c.setConn(nil)

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	extend := func() { conn.SetReadDeadline(time.Now().Add(c.opts.PongWait)) }
	extend()
	conn.SetPingHandler(func(appData string) error {
		extend()
		c.writeMu.Lock()
		defer c.writeMu.Unlock()
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return nil
		}
		extend()
		msg, err := DecodeMessage(data)
		if err != nil {
			c.opts.Logger.Warn().Err(err).Msg("ignoring sync message")
			continue
		}
		select {
		case c.messages <- msg:
		case <-ctx.Done():
			return nil
		}
	}
}

func (c *Client) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	old := c.conn
	c.conn = conn
	c.mu.Unlock()

	if old != nil {
		old.Close()
	}
	c.connected.Store(conn != nil)
	if c.OnConnectionChange != nil {
		c.OnConnectionChange(conn != nil)
	}
}

// Send publishes msg to the channel through the current session.
func (c *Client) Send(msg Message) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(msg)
}
