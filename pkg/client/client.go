package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/cord/pkg/log"
	"github.com/cuemby/cord/pkg/metrics"
	"github.com/cuemby/cord/pkg/protocol"
	"github.com/cuemby/cord/pkg/types"
	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
)

// Config holds client settings
type Config struct {
	URL            string
	RequestTimeout time.Duration
	ReconnectDelay time.Duration
	WriteTimeout   time.Duration
	// ReadTimeout is how long the connection may stay silent before it is
	// reset. The server pings periodically, so it must exceed the server's
	// ping interval.
	ReadTimeout time.Duration
	Dialer      *websocket.Dialer
}

// ChangeHandler receives change announcements
type ChangeHandler func(path string, at time.Time)

// StateHandler is told whenever the connection opens or is reset
type StateHandler func(connected bool)

// RemoteError is a failure reported by the server. It unwraps to the
// matching error in package types when the server sent a known code.
type RemoteError struct {
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	return e.Message
}

func (e *RemoteError) Unwrap() error {
	return protocol.SentinelFor(e.Code)
}

// Client is safe for concurrent use. The connection is established lazily
// by the first call and re-established after a reset.
type Client struct {
	cfg    Config
	logger zerolog.Logger

	dialMu sync.Mutex

	mu                sync.Mutex
	conn              *conn
	generation        int
	reconnecting      bool
	closed            bool
	closeCh           chan struct{}
	changeHandlers    []ChangeHandler
	reconnectHandlers []func()
	stateHandlers     []StateHandler
}

// NewClient creates a client for cfg.URL without connecting
func NewClient(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("client URL is required")
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 15 * time.Second
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 45 * time.Second
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	return &Client{
		cfg:     cfg,
		logger:  log.WithComponent("client"),
		closeCh: make(chan struct{}),
	}, nil
}

// OnChange registers a handler for change announcements. Handlers run on
// the connection's read goroutine and must not block.
func (c *Client) OnChange(fn ChangeHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.changeHandlers = append(c.changeHandlers, fn)
}

// OnReconnect registers a handler run after every successful reconnect.
// Registering one also makes the client redial in the background after a
// reset instead of waiting for the next call.
func (c *Client) OnReconnect(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reconnectHandlers = append(c.reconnectHandlers, fn)
}

// OnStateChange registers a handler run on every connect, the first one
// included, and on every reset. Handlers run on their own goroutine, so a
// handler that needs the current state should call Connected.
func (c *Client) OnStateChange(fn StateHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stateHandlers = append(c.stateHandlers, fn)
}

// Connected reports whether a connection is currently open
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Connect establishes the connection if it is not already open
func (c *Client) Connect(ctx context.Context) error {
	_, err := c.connection(ctx)
	return err
}

// Call sends one request and decodes the response result into result,
// which may be nil. It fails with types.ErrTimeout when no response arrives
// within the request timeout and with types.ErrChannelUnavailable when the
// connection cannot be opened or is reset while the call is in flight.
func (c *Client) Call(ctx context.Context, op protocol.Operation, path string, payload, result interface{}) error {
	cn, err := c.connection(ctx)
	if err != nil {
		metrics.ClientCallFailuresTotal.WithLabelValues("channel").Inc()
		return err
	}

	id := ulid.Make().String()
	msg, err := protocol.NewRequest(id, op, path, payload)
	if err != nil {
		return err
	}

	p, err := cn.register(id, op, c.cfg.RequestTimeout)
	if err != nil {
		metrics.ClientCallFailuresTotal.WithLabelValues("channel").Inc()
		return err
	}

	if err := cn.write(msg, c.cfg.WriteTimeout); err != nil {
		cn.take(id)
		c.drop(cn, err)
		metrics.ClientCallFailuresTotal.WithLabelValues("channel").Inc()
		return fmt.Errorf("%w: %v", types.ErrChannelUnavailable, err)
	}

	var res callResult
	select {
	case res = <-p.done:
	case <-ctx.Done():
		if cn.take(id) != nil {
			metrics.ClientCallFailuresTotal.WithLabelValues("canceled").Inc()
			return ctx.Err()
		}
		// The response won the race
		res = <-p.done
	}

	if res.err != nil {
		reason := "channel"
		if errors.Is(res.err, types.ErrTimeout) {
			reason = "timeout"
		}
		metrics.ClientCallFailuresTotal.WithLabelValues(reason).Inc()
		return res.err
	}
	if res.msg.Status != protocol.StatusOK {
		metrics.ClientCallFailuresTotal.WithLabelValues("remote").Inc()
		return &RemoteError{Code: res.msg.Code, Message: res.msg.Error}
	}
	if result != nil {
		return res.msg.DecodeResult(result)
	}
	return nil
}

// Close closes the connection and fails every pending call. It is
// idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.closeCh)
	cn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if cn != nil {
		cn.shutdown(fmt.Errorf("%w: client closed", types.ErrChannelUnavailable), true)
	}
	return nil
}

func (c *Client) connection(ctx context.Context) (*conn, error) {
	c.dialMu.Lock()
	defer c.dialMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: client closed", types.ErrChannelUnavailable)
	}
	if c.conn != nil {
		cn := c.conn
		c.mu.Unlock()
		return cn, nil
	}
	c.mu.Unlock()

	ws, _, err := c.cfg.Dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrChannelUnavailable, err)
	}
	cn := newConn(ws)
	c.keepAlive(cn)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = ws.Close()
		return nil, fmt.Errorf("%w: client closed", types.ErrChannelUnavailable)
	}
	c.conn = cn
	c.generation++
	reconnected := c.generation > 1
	handlers := append([]func(){}, c.reconnectHandlers...)
	state := append([]StateHandler(nil), c.stateHandlers...)
	c.mu.Unlock()

	c.logger.Debug().Str("url", c.cfg.URL).Bool("reconnect", reconnected).Msg("Connected")
	go c.readLoop(cn)
	notifyState(state, true)

	if reconnected {
		// Handlers usually issue calls; they must not run under dialMu
		go func() {
			for _, fn := range handlers {
				fn()
			}
		}()
	}
	return cn, nil
}

// keepAlive resets cn when the peer stays silent for longer than the read
// timeout. Server pings extend the deadline while no frames arrive.
func (c *Client) keepAlive(cn *conn) {
	_ = cn.ws.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
	cn.ws.SetPingHandler(func(data string) error {
		_ = cn.ws.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		err := cn.ws.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(c.cfg.WriteTimeout))
		if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
			return err
		}
		return nil
	})
}

func (c *Client) readLoop(cn *conn) {
	for {
		_, data, err := cn.ws.ReadMessage()
		if err != nil {
			c.drop(cn, err)
			return
		}
		_ = cn.ws.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))

		msg, err := protocol.Decode(data)
		if err != nil {
			c.logger.Warn().Err(err).Msg("Ignoring malformed frame")
			continue
		}

		switch msg.Type {
		case protocol.TypeResponse:
			if p := cn.take(msg.RequestID); p != nil {
				p.done <- callResult{msg: msg}
			}
		case protocol.TypeChange:
			c.mu.Lock()
			handlers := append([]ChangeHandler(nil), c.changeHandlers...)
			c.mu.Unlock()

			at := time.UnixMilli(msg.At)
			for _, fn := range handlers {
				fn(msg.Path, at)
			}
		}
	}
}

// drop resets the transport after a fatal error on cn: every pending call
// fails and the next call redials
func (c *Client) drop(cn *conn, cause error) {
	if !cn.shutdown(fmt.Errorf("%w: %v", types.ErrChannelUnavailable, cause), false) {
		return
	}

	c.mu.Lock()
	if c.conn == cn {
		c.conn = nil
	}
	redial := !c.closed && len(c.reconnectHandlers) > 0 && !c.reconnecting
	if redial {
		c.reconnecting = true
	}
	var state []StateHandler
	if !c.closed {
		state = append(state, c.stateHandlers...)
	}
	c.mu.Unlock()

	c.logger.Info().Err(cause).Msg("Connection reset")
	notifyState(state, false)
	if redial {
		go c.reconnectLoop()
	}
}

func (c *Client) reconnectLoop() {
	defer func() {
		c.mu.Lock()
		c.reconnecting = false
		c.mu.Unlock()
	}()

	for {
		select {
		case <-c.closeCh:
			return
		case <-time.After(c.cfg.ReconnectDelay):
		}

		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.RequestTimeout)
		_, err := c.connection(ctx)
		cancel()
		if err == nil {
			return
		}
		c.logger.Debug().Err(err).Msg("Reconnect failed, retrying")
	}
}

func notifyState(handlers []StateHandler, connected bool) {
	if len(handlers) == 0 {
		return
	}
	go func() {
		for _, fn := range handlers {
			fn(connected)
		}
	}()
}
