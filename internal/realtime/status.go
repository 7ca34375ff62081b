package realtime

import "time"

// Status is the connection lifecycle state.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"

	// StatusError means the connection dropped abnormally and a
	// reconnect is pending.
	StatusError Status = "error"

	// StatusFailed means automatic reconnects are exhausted.
	StatusFailed Status = "failed"
)

// Reconnect policy defaults.
const (
	DefaultMaxAttempts = 5
	DefaultBaseDelay   = 3000 * time.Millisecond
)

// BackoffDelay returns the wait before reconnect attempt n (n >= 1).
// The curve is linear: base, 2*base, 3*base, ...
func BackoffDelay(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return base * time.Duration(attempt)
}

// Timer is a pending scheduled call.
type Timer interface {
	Stop() bool
}

// Scheduler runs f once after d.
type Scheduler func(d time.Duration, f func()) Timer

func realScheduler(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
