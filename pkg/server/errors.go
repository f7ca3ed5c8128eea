package server

import (
	"errors"
	"fmt"
)

// Sentinel errors for common session and server error conditions.
var (
	// ErrSessionNotFound is returned when a session ID does not exist.
	ErrSessionNotFound = errors.New("server: session not found")

	// ErrSessionClosed is returned when an operation targets a destroyed session.
	ErrSessionClosed = errors.New("server: session closed")

	// ErrServerClosed is returned by Start and Accept after Stop.
	ErrServerClosed = errors.New("server: closed")

	// ErrHandshakeRequired is reported when the first frame on a socket is
	// not Connect or Reconnect.
	ErrHandshakeRequired = errors.New("server: handshake required")

	// ErrMaxSessionsReached is returned when MaxSessions is reached.
	ErrMaxSessionsReached = errors.New("server: max sessions reached")

	// ErrUnresponsive is the detach cause for a socket that stopped
	// answering pings.
	ErrUnresponsive = errors.New("server: connection unresponsive")

	// ErrAlreadyStarted is returned by a second Start call.
	ErrAlreadyStarted = errors.New("server: already started")
)

// SessionError wraps an error with session context for debugging.
type SessionError struct {
	SessionID string
	Op        string // Operation that failed
	Err       error  // Underlying error
}

// Error returns the error message with session context.
func (e *SessionError) Error() string {
	if e.SessionID == "" {
		return fmt.Sprintf("server: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("server: session %s: %s: %v", e.SessionID, e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *SessionError) Unwrap() error {
	return e.Err
}

// ProtocolError reports an inbound frame that could not be decoded or was
// not valid in the session's state. The frame is dropped and the
// connection stays open.
type ProtocolError struct {
	SessionID string
	Err       error
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	if e.SessionID == "" {
		return fmt.Sprintf("server: protocol error: %v", e.Err)
	}
	return fmt.Sprintf("server: session %s: protocol error: %v", e.SessionID, e.Err)
}

// Unwrap returns the decode error.
func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// ConnectionError is a socket-level failure. It detaches the session.
type ConnectionError struct {
	SessionID  string
	RemoteAddr string
	Err        error
}

// Error implements the error interface.
func (e *ConnectionError) Error() string {
	return fmt.Sprintf("server: session %s (%s): connection error: %v", e.SessionID, e.RemoteAddr, e.Err)
}

// Unwrap returns the socket error.
func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// SessionExpiredError reports a Reconnect for a session that no longer
// exists. Fallback is true when the ResumePolicy opened a fresh session
// under the same id instead of rejecting the socket.
type SessionExpiredError struct {
	SessionID     string
	LastMessageID uint64
	Fallback      bool
}

// Error implements the error interface.
func (e *SessionExpiredError) Error() string {
	if e.Fallback {
		return fmt.Sprintf("server: session %s expired, resumed as fresh session", e.SessionID)
	}
	return fmt.Sprintf("server: session %s expired", e.SessionID)
}

// CapacityError reports a bounded resource at its limit. For the pending
// buffer the oldest frames were dropped; for MaxSessions the new session
// was refused.
type CapacityError struct {
	SessionID string
	Resource  string // "pending", "sessions" or "pool"
	Limit     int
	Dropped   int
}

// Error implements the error interface.
func (e *CapacityError) Error() string {
	if e.Dropped > 0 {
		return fmt.Sprintf("server: session %s: %s at capacity (%d), dropped %d", e.SessionID, e.Resource, e.Limit, e.Dropped)
	}
	return fmt.Sprintf("server: %s at capacity (%d)", e.Resource, e.Limit)
}

// Is reports ErrMaxSessionsReached for session-cap errors.
func (e *CapacityError) Is(target error) bool {
	return target == ErrMaxSessionsReached && e.Resource == "sessions"
}
