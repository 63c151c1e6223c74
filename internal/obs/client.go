package obs

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const writeWait = 10 * time.Second

// Handler receives events. Handlers run on the connection's read goroutine and
// must not block.
type Handler func(Event)

// Options configures a Client.
type Options struct {
	URL               string
	Password          string
	ConnectTimeout    time.Duration
	ReconnectInterval time.Duration
	Logger            zerolog.Logger
	Dialer            *websocket.Dialer
}

// Client is a session to an OBS websocket server. A single Client is meant to be
// created at startup and injected wherever device access is needed.
type Client struct {
	opts Options
	log  zerolog.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[string]chan responseData
	done    chan struct{}

	writeMu sync.Mutex

	handlersMu  sync.RWMutex
	handlers    map[string]map[uint64]Handler
	nextHandler uint64

	connected atomic.Bool
}

// NewClient creates a client but does not connect.
func NewClient(opts Options) *Client {
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	if opts.ReconnectInterval == 0 {
		opts.ReconnectInterval = 5 * time.Second
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	return &Client{
		opts:     opts,
		log:      opts.Logger,
		handlers: make(map[string]map[uint64]Handler),
	}
}

// Connected reports whether a session is currently open.
func (c *Client) Connected() bool {
	return c.connected.Load()
}

// Connect dials OBS and completes the Hello/Identify handshake.
// It is a no-op if a session is already open.
func (c *Client) Connect(ctx context.Context) error {
	if c.Connected() {
		return nil
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.opts.ConnectTimeout)
	defer cancel()

	conn, _, err := c.opts.Dialer.DialContext(dialCtx, c.opts.URL, nil)
	if err != nil {
		return fmt.Errorf("%w: dial %s: %v", ErrUnreachable, c.opts.URL, err)
	}

	deadline := time.Now().Add(c.opts.ConnectTimeout)
	if d, ok := dialCtx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.handshake(conn, deadline); err != nil {
		conn.Close()
		return fmt.Errorf("%w: handshake: %v", ErrUnreachable, err)
	}

	done := make(chan struct{})
	c.mu.Lock()
	c.conn = conn
	c.pending = make(map[string]chan responseData)
	c.done = done
	c.mu.Unlock()
	c.connected.Store(true)

	go c.readLoop(conn)

	c.log.Info().Str("url", c.opts.URL).Msg("obs connected")
	c.dispatch(Event{Type: EventConnectionOpened})
	return nil
}

func (c *Client) handshake(conn *websocket.Conn, deadline time.Time) error {
	conn.SetReadDeadline(deadline)
	conn.SetWriteDeadline(deadline)
	defer func() {
		conn.SetReadDeadline(time.Time{})
		conn.SetWriteDeadline(time.Time{})
	}()

	var hello helloData
	if err := readOp(conn, opHello, &hello); err != nil {
		return err
	}

	identify := identifyData{
		RPCVersion:         rpcVersion,
		EventSubscriptions: eventSubscriptions,
	}
	if hello.Authentication != nil {
		if c.opts.Password == "" {
			return fmt.Errorf("server requires authentication but no password is configured")
		}
		identify.Authentication = authResponse(c.opts.Password, hello.Authentication.Salt, hello.Authentication.Challenge)
	}

	msg, err := encode(opIdentify, identify)
	if err != nil {
		return err
	}
	if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		return err
	}

	var identified identifiedData
	return readOp(conn, opIdentified, &identified)
}

func readOp(conn *websocket.Conn, op int, out any) error {
	_, raw, err := conn.ReadMessage()
	if err != nil {
		return err
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("invalid message: %w", err)
	}
	if env.Op != op {
		return fmt.Errorf("expected op %d, got %d", op, env.Op)
	}
	return json.Unmarshal(env.D, out)
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			c.teardown(conn, err)
			return
		}

		var env envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			c.log.Warn().Err(err).Msg("obs: dropping malformed message")
			continue
		}

		switch env.Op {
		case opEvent:
			var ev eventData
			if err := json.Unmarshal(env.D, &ev); err != nil {
				c.log.Warn().Err(err).Msg("obs: dropping malformed event")
				continue
			}
			c.dispatch(Event{Type: ev.EventType, Data: ev.EventData})

		case opRequestResponse:
			var resp responseData
			if err := json.Unmarshal(env.D, &resp); err != nil {
				c.log.Warn().Err(err).Msg("obs: dropping malformed response")
				continue
			}
			c.mu.Lock()
			ch, ok := c.pending[resp.RequestID]
			delete(c.pending, resp.RequestID)
			c.mu.Unlock()
			if ok {
				ch <- resp
			}
		}
	}
}

// teardown ends the session for conn. Closing done fails pending requests with
// ErrDisconnected; a ConnectionClosed event is dispatched.
func (c *Client) teardown(conn *websocket.Conn, cause error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.pending = nil
	close(c.done)
	c.done = nil
	c.mu.Unlock()

	c.connected.Store(false)
	conn.Close()

	if cause != nil {
		c.log.Warn().Err(cause).Str("url", c.opts.URL).Msg("obs disconnected")
	} else {
		c.log.Info().Str("url", c.opts.URL).Msg("obs disconnected")
	}
	c.dispatch(Event{Type: EventConnectionClosed})
}

// Close ends the current session, if any.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil
	}

	c.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	c.writeMu.Unlock()

	c.teardown(conn, nil)
	return nil
}

// Run keeps a session open until ctx is cancelled, reconnecting after
// ReconnectInterval whenever the connection drops or a dial fails.
func (c *Client) Run(ctx context.Context) error {
	for {
		if err := c.Connect(ctx); err != nil {
			c.log.Warn().Err(err).Dur("retry_in", c.opts.ReconnectInterval).Msg("obs connect failed")
		}

		c.mu.Lock()
		done := c.done
		c.mu.Unlock()
		if done != nil {
			select {
			case <-ctx.Done():
				c.Close()
				return nil
			case <-done:
			}
		}

		select {
		case <-ctx.Done():
			c.Close()
			return nil
		case <-time.After(c.opts.ReconnectInterval):
		}
	}
}

// Request sends a request and waits for its response data.
func (c *Client) Request(ctx context.Context, requestType string, data any) (json.RawMessage, error) {
	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}
	id := uuid.NewString()
	ch := make(chan responseData, 1)
	c.pending[id] = ch
	done := c.done
	c.mu.Unlock()

	msg, err := encode(opRequest, requestData{
		RequestType: requestType,
		RequestID:   id,
		RequestData: data,
	})
	if err != nil {
		c.forget(id)
		return nil, fmt.Errorf("obs: encode %s: %w", requestType, err)
	}

	c.writeMu.Lock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	err = conn.WriteMessage(websocket.TextMessage, msg)
	c.writeMu.Unlock()
	if err != nil {
		c.forget(id)
		return nil, fmt.Errorf("%w: send %s: %v", ErrUnreachable, requestType, err)
	}

	select {
	case resp := <-ch:
		return decodeResponse(requestType, resp)
	case <-done:
		select {
		case resp := <-ch:
			return decodeResponse(requestType, resp)
		default:
		}
		return nil, fmt.Errorf("%s: %w", requestType, ErrDisconnected)
	case <-ctx.Done():
		c.forget(id)
		return nil, ctx.Err()
	}
}

func decodeResponse(requestType string, resp responseData) (json.RawMessage, error) {
	if !resp.RequestStatus.Result {
		return nil, &RequestError{
			RequestType: requestType,
			Code:        resp.RequestStatus.Code,
			Comment:     resp.RequestStatus.Comment,
		}
	}
	return resp.ResponseData, nil
}

// Call is Request with the response decoded into out (which may be nil).
func (c *Client) Call(ctx context.Context, requestType string, data, out any) error {
	raw, err := c.Request(ctx, requestType, data)
	if err != nil {
		return err
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("obs: decode %s response: %w", requestType, err)
	}
	return nil
}

func (c *Client) forget(id string) {
	c.mu.Lock()
	if c.pending != nil {
		delete(c.pending, id)
	}
	c.mu.Unlock()
}

// On registers h for eventType and returns a function that removes it.
func (c *Client) On(eventType string, h Handler) (off func()) {
	c.handlersMu.Lock()
	c.nextHandler++
	id := c.nextHandler
	if c.handlers[eventType] == nil {
		c.handlers[eventType] = make(map[uint64]Handler)
	}
	c.handlers[eventType][id] = h
	c.handlersMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.handlersMu.Lock()
			delete(c.handlers[eventType], id)
			if len(c.handlers[eventType]) == 0 {
				delete(c.handlers, eventType)
			}
			c.handlersMu.Unlock()
		})
	}
}

// dispatch calls handlers outside the lock so a handler may unregister itself.
func (c *Client) dispatch(ev Event) {
	c.handlersMu.RLock()
	hs := make([]Handler, 0, len(c.handlers[ev.Type]))
	for _, h := range c.handlers[ev.Type] {
		hs = append(hs, h)
	}
	c.handlersMu.RUnlock()

	for _, h := range hs {
		h(ev)
	}
}
