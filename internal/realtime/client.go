package realtime

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// ActionSubscribe is the client-to-server frame requesting room delivery.
	ActionSubscribe = "subscribe"
	// OpSubscribeAck confirms a subscribe request before events flow.
	OpSubscribeAck = "subscribe:ack"

	defaultReconnectDelay    = time.Second
	maxReconnectDelay        = 30 * time.Second
	defaultHandshakeDeadline = 10 * time.Second
)

// SubscribeRequest is the client-to-server control frame.
type SubscribeRequest struct {
	Action string   `json:"action"`
	Rooms  []string `json:"rooms"`
}

// ConnectionState describes the client's link to the event stream.
type ConnectionState string

const (
	// StateConnected means events are flowing.
	StateConnected ConnectionState = "connected"
	// StateReconnecting means the link dropped and retries are in progress.
	StateReconnecting ConnectionState = "reconnecting"
	// StateDegraded means the server refused authorization; the widget keeps
	// working from explicit reloads without live updates.
	StateDegraded ConnectionState = "degraded"
	// StateClosed means the client was shut down.
	StateClosed ConnectionState = "closed"
)

var errUnauthorized = errors.New("realtime: authorization refused")

// ClientConfig configures a realtime Client.
type ClientConfig struct {
	// URL is the websocket endpoint, ws:// or wss://.
	URL string
	// Token is the bearer token presented during the handshake.
	Token string
	// Rooms are re-subscribed after every reconnect.
	Rooms []string
	// OnEvent receives every decoded event, including replays; the handler is
	// expected to apply them idempotently.
	OnEvent func(Event)
	// OnStateChange observes connection state transitions. Optional.
	OnStateChange func(ConnectionState)
	// Dialer overrides the websocket dialer. Optional.
	Dialer *websocket.Dialer
	// ReconnectDelay is the initial retry delay, doubled up to a cap. Optional.
	ReconnectDelay time.Duration
	Logger         *zap.Logger
}

// Client maintains a websocket subscription with automatic reconnect.
type Client struct {
	url            string
	token          string
	rooms          []string
	onEvent        func(Event)
	onStateChange  func(ConnectionState)
	dialer         *websocket.Dialer
	reconnectDelay time.Duration
	logger         *zap.Logger

	mu    sync.Mutex
	state ConnectionState
}

var (
	errMissingURL     = errors.New("realtime: endpoint url is required")
	errMissingHandler = errors.New("realtime: event handler is required")
)

// NewClient validates the configuration and returns a disconnected Client.
// Call Run to start the connection loop.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, errMissingURL
	}
	if cfg.OnEvent == nil {
		return nil, errMissingHandler
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{HandshakeTimeout: defaultHandshakeDeadline}
	}
	delay := cfg.ReconnectDelay
	if delay <= 0 {
		delay = defaultReconnectDelay
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		url:            cfg.URL,
		token:          cfg.Token,
		rooms:          append([]string(nil), cfg.Rooms...),
		onEvent:        cfg.OnEvent,
		onStateChange:  cfg.OnStateChange,
		dialer:         dialer,
		reconnectDelay: delay,
		logger:         logger,
	}, nil
}

// State reports the current connection state.
func (c *Client) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Run connects and pumps events until ctx is cancelled. A dropped link is
// retried with exponential backoff and the room set is re-subscribed on each
// new connection. An authorization refusal ends the loop in degraded mode
// instead of retrying a token the server already rejected.
func (c *Client) Run(ctx context.Context) error {
	delay := c.reconnectDelay
	for {
		err := c.runOnce(ctx)
		if ctx.Err() != nil {
			c.setState(StateClosed)
			return ctx.Err()
		}
		if errors.Is(err, errUnauthorized) {
			c.logger.Warn("realtime authorization refused, entering degraded mode")
			c.setState(StateDegraded)
			return err
		}
		if err != nil {
			c.logger.Warn("realtime connection lost", zap.Error(err), zap.Duration("retry_in", delay))
		}
		c.setState(StateReconnecting)

		select {
		case <-ctx.Done():
			c.setState(StateClosed)
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

func (c *Client) runOnce(ctx context.Context) error {
	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}
	conn, response, err := c.dialer.DialContext(ctx, c.url, header)
	if err != nil {
		if response != nil && (response.StatusCode == http.StatusUnauthorized || response.StatusCode == http.StatusForbidden) {
			return errUnauthorized
		}
		return err
	}
	defer conn.Close()

	if err := conn.WriteJSON(SubscribeRequest{Action: ActionSubscribe, Rooms: c.rooms}); err != nil {
		return err
	}

	// Close the connection when ctx ends so ReadJSON unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	acked := false
	for {
		var event Event
		if err := conn.ReadJSON(&event); err != nil {
			if websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
				return errUnauthorized
			}
			return err
		}
		if event.Op == OpSubscribeAck {
			if !acked {
				acked = true
				c.setState(StateConnected)
			}
			continue
		}
		c.onEvent(event)
	}
}

func (c *Client) setState(state ConnectionState) {
	c.mu.Lock()
	if c.state == state {
		c.mu.Unlock()
		return
	}
	c.state = state
	c.mu.Unlock()
	if c.onStateChange != nil {
		c.onStateChange(state)
	}
}
