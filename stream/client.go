package stream

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/opsdash/go-fresh/logger"
)

// State is the connection lifecycle position of a Client.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnectWait
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnectWait:
		return "reconnect_wait"
	default:
		return "unknown"
	}
}

const (
	DefaultReconnectIntervalBase = time.Second
	DefaultBackoffCap            = 30 * time.Second
	DefaultMaxReconnectAttempts  = 10
	DefaultHandshakeTimeout      = 10 * time.Second
)

// Config configures a Client. Start from DefaultConfig — a zero Config is
// disabled.
type Config struct {
	// URL is the websocket endpoint.
	URL string
	// Channels is the channel set subscribed on every successful connect.
	Channels []string
	// Enabled gates Connect entirely.
	Enabled bool
	// ReconnectIntervalBase is the first reconnect delay. Each failure
	// doubles the next delay, bounded by BackoffCap.
	ReconnectIntervalBase time.Duration
	// BackoffCap bounds the reconnect delay.
	BackoffCap time.Duration
	// MaxReconnectAttempts bounds automatic reconnects. Once exhausted the
	// client parks in StateDisconnected until Connect is called again.
	MaxReconnectAttempts int
	// HandshakeTimeout bounds the websocket handshake.
	HandshakeTimeout time.Duration
	// Handlers receive decoded messages.
	Handlers Handlers
	// OnStateChange observes connection-state transitions, for status
	// indicators. Optional.
	OnStateChange func(State)
}

// DefaultConfig returns an enabled Config with production reconnect bounds.
func DefaultConfig() Config {
	return Config{
		Enabled:               true,
		ReconnectIntervalBase: DefaultReconnectIntervalBase,
		BackoffCap:            DefaultBackoffCap,
		MaxReconnectAttempts:  DefaultMaxReconnectAttempts,
		HandshakeTimeout:      DefaultHandshakeTimeout,
	}
}

// Client maintains a live push channel, resubscribes after every reconnect,
// and dispatches inbound messages by type. Connection loss triggers bounded
// exponential-backoff reconnection; a lost message frame never does.
type Client struct {
	cfg      Config
	log      logger.Logger
	dialer   *websocket.Dialer
	disp     *dispatcher
	clientID string
	base     context.Context

	mu            sync.Mutex
	state         State
	attempts      int
	backoff       time.Duration
	lastWait      time.Duration
	conn          *websocket.Conn
	timer         *time.Timer
	sessionCancel context.CancelFunc
	wg            sync.WaitGroup
}

// New returns a Client. Nothing happens until Connect. The parent context
// bounds every session this client opens.
func New(parent context.Context, cfg Config, log logger.Logger) *Client {
	def := DefaultConfig()
	if cfg.ReconnectIntervalBase <= 0 {
		cfg.ReconnectIntervalBase = def.ReconnectIntervalBase
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = def.BackoffCap
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = def.MaxReconnectAttempts
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = def.HandshakeTimeout
	}
	l := log.WithPrefix("[stream]")
	return &Client{
		cfg:      cfg,
		log:      l,
		dialer:   &websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout},
		disp:     &dispatcher{handlers: cfg.Handlers, log: l},
		clientID: uuid.NewString(),
		base:     parent,
		state:    StateDisconnected,
		backoff:  cfg.ReconnectIntervalBase,
		lastWait: cfg.ReconnectIntervalBase,
	}
}

// transitionLocked changes state and returns the observer notification to be
// invoked after the lock is released.
func (c *Client) transitionLocked(to State) func() {
	if c.state == to {
		return func() {}
	}
	c.state = to
	cb := c.cfg.OnStateChange
	if cb == nil {
		return func() {}
	}
	return func() { cb(to) }
}

// Connect begins a session. It is a no-op unless the client is disconnected,
// so calling it after reconnect exhaustion is how a consumer resumes.
func (c *Client) Connect() {
	if !c.cfg.Enabled {
		c.log.Debug("disabled, ignoring connect")
		return
	}
	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return
	}
	c.attempts = 0
	c.backoff = c.cfg.ReconnectIntervalBase
	if c.sessionCancel != nil {
		// A session parked by reconnect exhaustion still holds its cancel.
		c.sessionCancel()
	}
	ctx, cancel := context.WithCancel(c.base)
	c.sessionCancel = cancel
	notify := c.transitionLocked(StateConnecting)
	c.mu.Unlock()
	notify()
	c.wg.Add(1)
	go c.dial(ctx)
}

func (c *Client) dial(ctx context.Context) {
	defer c.wg.Done()
	conn, resp, err := c.dialer.DialContext(ctx, c.cfg.URL, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		c.log.Debug("dial %s failed: %s", c.cfg.URL, err)
		c.connectionLost(ctx, err)
		return
	}

	c.mu.Lock()
	if ctx.Err() != nil {
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.conn = conn
	notify := c.transitionLocked(StateConnected)
	c.mu.Unlock()
	notify()

	if err := conn.WriteJSON(subscribeRequest{
		Action:   "subscribe",
		Channels: c.cfg.Channels,
		ClientID: c.clientID,
	}); err != nil {
		c.log.Warn("subscribe failed: %s", err)
		c.connectionLost(ctx, err)
		return
	}

	// Subscribed: the session is healthy, so the reconnect budget resets.
	c.mu.Lock()
	c.attempts = 0
	c.backoff = c.cfg.ReconnectIntervalBase
	c.lastWait = c.cfg.ReconnectIntervalBase
	c.mu.Unlock()
	c.log.Debug("connected to %s, subscribed to %v", c.cfg.URL, c.cfg.Channels)

	c.readLoop(ctx, conn)
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.Debug("connection lost: %s", err)
			c.connectionLost(ctx, err)
			return
		}
		c.disp.dispatch(data)
	}
}

// connectionLost runs the backoff policy: schedule the next attempt after
// the current interval and double it for the one after, until the attempt
// budget runs out.
func (c *Client) connectionLost(ctx context.Context, cause error) {
	c.mu.Lock()
	if ctx.Err() != nil {
		c.mu.Unlock()
		return
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	if c.attempts >= c.cfg.MaxReconnectAttempts {
		notify := c.transitionLocked(StateDisconnected)
		c.mu.Unlock()
		notify()
		c.log.Warn("reconnect budget of %d exhausted: %s", c.cfg.MaxReconnectAttempts, cause)
		return
	}
	c.attempts++
	wait := c.backoff
	c.lastWait = wait
	c.backoff = min(c.backoff*2, c.cfg.BackoffCap)
	notify := c.transitionLocked(StateReconnectWait)
	c.timer = time.AfterFunc(wait, func() { c.redial(ctx) })
	attempt := c.attempts
	c.mu.Unlock()
	notify()
	c.log.Debug("reconnect %d/%d in %s", attempt, c.cfg.MaxReconnectAttempts, wait)
}

func (c *Client) redial(ctx context.Context) {
	c.mu.Lock()
	if ctx.Err() != nil || c.state != StateReconnectWait {
		c.mu.Unlock()
		return
	}
	notify := c.transitionLocked(StateConnecting)
	c.mu.Unlock()
	notify()
	c.wg.Add(1)
	c.dial(ctx)
}

// Disconnect is callable from any state. It cancels any pending reconnect,
// closes a live connection, and resets the attempt count, leaving the client
// ready for a fresh Connect.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if c.sessionCancel != nil {
		c.sessionCancel()
		c.sessionCancel = nil
	}
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	conn := c.conn
	c.conn = nil
	c.attempts = 0
	c.backoff = c.cfg.ReconnectIntervalBase
	notify := c.transitionLocked(StateDisconnected)
	c.mu.Unlock()
	notify()
	if conn != nil {
		conn.Close()
	}
	c.wg.Wait()
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsConnected reports whether a live, subscribed connection exists.
func (c *Client) IsConnected() bool {
	return c.State() == StateConnected
}

// Attempts returns how many reconnects have been scheduled since the last
// healthy subscribe.
func (c *Client) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// LastBackoff returns the most recently scheduled reconnect interval.
func (c *Client) LastBackoff() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastWait
}
