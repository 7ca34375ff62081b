// Package realtime maintains the live notification stream from the
// Sortify backend.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/nhle/sortify/internal/logging"
)

const (
	dialTimeout  = 10 * time.Second
	writeTimeout = 5 * time.Second
)

// ErrNotConnected is logged when a send is attempted without an open
// connection.
var ErrNotConnected = errors.New("realtime: not connected")

// TokenSource supplies the current bearer token ("" when logged out).
type TokenSource interface {
	Token() string
}

// Config tunes the reconnect policy.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration

	// Schedule defaults to time.AfterFunc.
	Schedule Scheduler
}

// StatusListener observes status transitions.
type StatusListener func(status Status, attempt int)

// Channel owns at most one live connection to the notification stream
// and reconnects it after abnormal closes.
type Channel struct {
	dialer      Dialer
	tokens      TokenSource
	log         *slog.Logger
	maxAttempts int
	baseDelay   time.Duration
	schedule    Scheduler

	mu          sync.Mutex
	status      Status
	attempt     int
	conn        Conn
	gen         uint64
	timer       Timer
	closed      bool
	pending     []string
	lastMessage *Message
	handlers    map[string][]HandlerFunc
	onFailed    []func()
	onStatus    []StatusListener
}

// New creates a disconnected Channel.
func New(dialer Dialer, tokens TokenSource, cfg Config, log *slog.Logger) *Channel {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultBaseDelay
	}
	if cfg.Schedule == nil {
		cfg.Schedule = realScheduler
	}
	return &Channel{
		dialer:      dialer,
		tokens:      tokens,
		log:         logging.OrDefault(log),
		maxAttempts: cfg.MaxAttempts,
		baseDelay:   cfg.BaseDelay,
		schedule:    cfg.Schedule,
		status:      StatusDisconnected,
		handlers:    make(map[string][]HandlerFunc),
	}
}

// Handle registers h for inbound messages of msgType.
func (c *Channel) Handle(msgType string, h HandlerFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[msgType] = append(c.handlers[msgType], h)
}

// OnFailed registers fn to run when automatic reconnects are exhausted.
func (c *Channel) OnFailed(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onFailed = append(c.onFailed, fn)
}

// OnStatusChange registers fn to run after every status transition.
func (c *Channel) OnStatusChange(fn StatusListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onStatus = append(c.onStatus, fn)
}

// Status returns the current connection status.
func (c *Channel) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Attempt returns the number of consecutive reconnect attempts since the
// last successful open.
func (c *Channel) Attempt() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempt
}

// LastMessage returns the most recently dispatched inbound message.
func (c *Channel) LastMessage() (Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastMessage == nil {
		return Message{}, false
	}
	return *c.lastMessage, true
}

// SetPendingSubscriptions queues topics to subscribe to on the next
// successful open, replacing any previously queued set.
func (c *Channel) SetPendingSubscriptions(events []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = append([]string(nil), events...)
}

// Connect opens the stream unless a connection is already open or being
// opened. Without a token it does nothing.
func (c *Channel) Connect(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	c.mu.Lock()
	if c.closed || c.status == StatusConnected || c.status == StatusConnecting {
		c.mu.Unlock()
		return
	}
	token := c.tokens.Token()
	if token == "" {
		c.mu.Unlock()
		c.log.Info("realtime.connect.skipped", "reason", "no token")
		return
	}
	c.stopTimerLocked()
	if c.status == StatusFailed {
		c.attempt = 0
	}
	c.gen++
	gen := c.gen
	listeners := c.setStatusLocked(StatusConnecting)
	c.mu.Unlock()
	listeners()

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	conn, err := c.dialer.Dial(dialCtx, token)
	cancel()

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		if conn != nil {
			_ = conn.Close(websocket.StatusNormalClosure, "superseded")
		}
		return
	}
	if err != nil {
		c.log.Warn("realtime.connect.failed", "attempt", c.attempt, "err", err)
		after := c.abnormalCloseLocked(gen)
		c.mu.Unlock()
		after()
		return
	}

	c.conn = conn
	c.attempt = 0
	pending := c.pending
	c.pending = nil
	listeners = c.setStatusLocked(StatusConnected)
	c.mu.Unlock()
	listeners()

	c.log.Info("realtime.connected")

	go c.readLoop(gen, conn)

	c.SendMessage(PingMessage())
	if len(pending) > 0 {
		c.SendMessage(SubscribeMessage(pending))
	}
}

// Disconnect cancels any pending reconnect, closes the connection with
// a normal closure and resets the attempt counter.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	c.stopTimerLocked()
	c.gen++
	conn := c.conn
	c.conn = nil
	c.attempt = 0
	listeners := func() {}
	if c.status != StatusDisconnected {
		listeners = c.setStatusLocked(StatusDisconnected)
	}
	c.mu.Unlock()
	listeners()

	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "client disconnect")
		c.log.Info("realtime.disconnected")
	}
}

// Close disconnects and refuses further connects. Used when the owning
// context is torn down.
func (c *Channel) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.Disconnect()
}

// SendMessage transmits msg if connected and reports whether it did.
// Nothing is queued when the connection is not ready.
func (c *Channel) SendMessage(msg Message) bool {
	c.mu.Lock()
	conn := c.conn
	connected := c.status == StatusConnected && conn != nil
	c.mu.Unlock()

	if !connected {
		c.log.Debug("realtime.send.dropped", "type", msg.Type, "err", ErrNotConnected)
		return false
	}

	data, err := json.Marshal(msg)
	if err != nil {
		c.log.Warn("realtime.send.marshal_failed", "type", msg.Type, "err", err)
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := conn.Write(ctx, data); err != nil {
		c.log.Warn("realtime.send.failed", "type", msg.Type, "err", err)
		return false
	}
	return true
}

// Ping sends a liveness ping.
func (c *Channel) Ping() bool {
	return c.SendMessage(PingMessage())
}

// Subscribe sends a subscription request now, or queues it for the next
// open when the connection is not ready.
func (c *Channel) Subscribe(events []string) bool {
	if c.SendMessage(SubscribeMessage(events)) {
		return true
	}
	c.SetPendingSubscriptions(events)
	return false
}

// RequestSyncStatus asks the backend to push a sync_status event.
func (c *Channel) RequestSyncStatus() bool {
	return c.SendMessage(SyncStatusRequest())
}

func (c *Channel) readLoop(gen uint64, conn Conn) {
	for {
		data, err := conn.Read(context.Background())
		if err != nil {
			c.handleClosed(gen, err)
			return
		}
		c.dispatch(data)
	}
}

func (c *Channel) handleClosed(gen uint64, err error) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.conn = nil

	code := closeCode(err)
	if code == websocket.StatusNormalClosure {
		listeners := c.setStatusLocked(StatusDisconnected)
		c.mu.Unlock()
		listeners()
		c.log.Info("realtime.closed", "code", int(code))
		return
	}

	c.log.Warn("realtime.closed.abnormal", "code", int(code), "err", err)
	after := c.abnormalCloseLocked(gen)
	c.mu.Unlock()
	after()
}

// abnormalCloseLocked schedules the next reconnect or, once attempts are
// exhausted, marks the channel failed. The returned func must run after
// the lock is released.
func (c *Channel) abnormalCloseLocked(gen uint64) func() {
	if c.attempt >= c.maxAttempts {
		listeners := c.setStatusLocked(StatusFailed)
		failed := append([]func(){}, c.onFailed...)
		c.log.Error("realtime.reconnect.exhausted", "attempts", c.attempt)
		return func() {
			listeners()
			for _, fn := range failed {
				fn()
			}
		}
	}

	c.attempt++
	delay := BackoffDelay(c.baseDelay, c.attempt)
	c.timer = c.schedule(delay, func() { c.reconnect(gen) })
	c.log.Info("realtime.reconnect.scheduled", "attempt", c.attempt, "delay", delay)
	return c.setStatusLocked(StatusError)
}

func (c *Channel) reconnect(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.closed {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	c.mu.Unlock()

	c.Connect(context.Background())
}

func (c *Channel) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// setStatusLocked records the new status and returns a func that
// notifies listeners; call it after unlocking.
func (c *Channel) setStatusLocked(s Status) func() {
	c.status = s
	attempt := c.attempt
	listeners := append([]StatusListener(nil), c.onStatus...)
	return func() {
		for _, fn := range listeners {
			fn(s, attempt)
		}
	}
}

func (c *Channel) dispatch(data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		c.log.Warn("realtime.message.parse_failed", "err", err)
		return
	}

	c.mu.Lock()
	c.lastMessage = &msg
	handlers := append([]HandlerFunc(nil), c.handlers[msg.Type]...)
	c.mu.Unlock()

	switch msg.Type {
	case TypePong:
		c.log.Debug("realtime.pong")
	case TypeEmailSynced, TypeCategoryUpdated, TypeSyncStatus:
		c.log.Debug("realtime.event", "type", msg.Type)
	case TypeConnection:
		c.log.Info("realtime.connection", "message", msg.Message)
	case TypeSubscribed:
		c.log.Info("realtime.subscribed", "events", msg.Events)
	default:
		c.log.Info("realtime.message.unknown", "type", msg.Type)
	}

	for _, h := range handlers {
		h(msg)
	}
}
