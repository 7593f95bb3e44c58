package session

import "errors"

// State is a connection's position in its lifecycle. States only move
// forward: Connecting, Authorized, Joined, Closing, Closed. A connection
// denied at authorization goes from Connecting straight to Closing.
type State int32

const (
	StateConnecting State = iota
	StateAuthorized
	StateJoined
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthorized:
		return "authorized"
	case StateJoined:
		return "joined"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "invalid"
	}
}

var (
	// ErrAccessDenied is returned by Serve when the access policy rejects the
	// user. Nothing is broadcast and no presence is recorded.
	ErrAccessDenied = errors.New("access denied")
	// ErrShuttingDown is returned by Serve once Shutdown has started.
	ErrShuttingDown = errors.New("session engine shutting down")
)
