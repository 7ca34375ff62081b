package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
)

type staticTokens struct {
	mu    sync.Mutex
	token string
}

func (s *staticTokens) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

type fakeConn struct {
	inbound chan []byte
	written chan Message
	done    chan struct{}

	mu        sync.Mutex
	readErr   error
	closeCode websocket.StatusCode
	closed    bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan []byte, 16),
		written: make(chan Message, 16),
		done:    make(chan struct{}),
	}
}

func (c *fakeConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case data := <-c.inbound:
		return data, nil
	case <-c.done:
		c.mu.Lock()
		defer c.mu.Unlock()
		return nil, c.readErr
	}
}

func (c *fakeConn) Write(_ context.Context, data []byte) error {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return err
	}
	select {
	case c.written <- msg:
	default:
	}
	return nil
}

func (c *fakeConn) Close(code websocket.StatusCode, reason string) error {
	c.mu.Lock()
	c.closeCode = code
	c.mu.Unlock()
	c.fail(websocket.CloseError{Code: code, Reason: reason})
	return nil
}

// fail ends the read loop with err, as a dropped connection would.
func (c *fakeConn) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.readErr = err
	close(c.done)
}

func (c *fakeConn) nextWrite(t *testing.T) Message {
	t.Helper()
	select {
	case msg := <-c.written:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a write")
		return Message{}
	}
}

type fakeDialer struct {
	mu     sync.Mutex
	fail   bool
	dials  int
	tokens []string
	conns  []*fakeConn

	// When gate is set, Dial signals entered and blocks until gate is
	// closed, leaving the channel in the connecting state.
	gate    chan struct{}
	entered chan struct{}
}

func (d *fakeDialer) Dial(_ context.Context, token string) (Conn, error) {
	d.mu.Lock()
	d.dials++
	d.tokens = append(d.tokens, token)
	gate, entered := d.gate, d.entered
	d.mu.Unlock()

	if gate != nil {
		entered <- struct{}{}
		<-gate
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail {
		return nil, errors.New("connection refused")
	}
	c := newFakeConn()
	d.conns = append(d.conns, c)
	return c, nil
}

// hold makes the next dials block until the returned func is called.
func (d *fakeDialer) hold() (entered <-chan struct{}, release func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.gate = make(chan struct{})
	d.entered = make(chan struct{}, 4)
	gate := d.gate
	return d.entered, func() { close(gate) }
}

func (d *fakeDialer) setFail(v bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fail = v
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) lastConn() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[len(d.conns)-1]
}

type manualTimer struct {
	f       func()
	stopped bool
}

func (t *manualTimer) Stop() bool {
	was := !t.stopped
	t.stopped = true
	return was
}

// manualScheduler records requested delays and fires callbacks only when
// the test asks.
type manualScheduler struct {
	mu     sync.Mutex
	delays []time.Duration
	timers []*manualTimer
}

func (s *manualScheduler) schedule(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &manualTimer{f: f}
	s.delays = append(s.delays, d)
	s.timers = append(s.timers, t)
	return t
}

func (s *manualScheduler) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

func (s *manualScheduler) last() *manualTimer {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.timers) == 0 {
		return nil
	}
	return s.timers[len(s.timers)-1]
}

// fireLast runs the most recent timer callback unless it was stopped.
func (s *manualScheduler) fireLast(t *testing.T) {
	t.Helper()
	tm := s.last()
	if tm == nil {
		t.Fatal("no timer scheduled")
	}
	if tm.stopped {
		t.Fatal("last timer was stopped")
	}
	tm.stopped = true
	tm.f()
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
