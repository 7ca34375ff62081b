package session

import (
	"github.com/nhle/sortify/internal/model"
)

// State is the session-level lifecycle position.
type State int

const (
	// StateUnknown holds until Restore has finished.
	StateUnknown State = iota
	StateUnauthenticated
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// Session is a point-in-time copy of the manager's state.
type Session struct {
	Token         string
	Claims        *Claims
	Identity      *model.User
	Authenticated bool
	Loading       bool
	State         State
}

// Result is returned by every Manager operation. On failure Success is
// false and Error carries a human-readable message.
type Result struct {
	Success bool
	Message string
	Error   string
	User    *model.User

	// ResetURL and VerificationURL are echoed from development backends.
	ResetURL        string
	VerificationURL string
}

func failed(msg string) Result {
	return Result{Error: msg}
}
