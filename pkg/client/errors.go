package client

import (
	"errors"
	"fmt"
)

// Client errors.
var (
	// ErrServerDisconnect is reported when the server ends the session with
	// a Disconnect message.
	ErrServerDisconnect = errors.New("client: session closed by server")

	// ErrConnectAborted is returned by Connect when Disconnect runs while
	// the dial is in flight.
	ErrConnectAborted = errors.New("client: connect aborted")
)

// ConnectionError is a socket-level failure: a failed dial, handshake
// write, or an unexpected close.
type ConnectionError struct {
	Op  string
	URL string
	Err error
}

// Error implements the error interface.
func (e *ConnectionError) Error() string {
	return fmt.Sprintf("client: %s %s: %v", e.Op, e.URL, e.Err)
}

// Unwrap returns the underlying error.
func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// ExhaustedRetriesError is reported once when reconnect attempts run out.
// The client is in StatusError and only a new Connect call recovers it.
type ExhaustedRetriesError struct {
	Attempts int
	LastErr  error
}

// Error implements the error interface.
func (e *ExhaustedRetriesError) Error() string {
	return fmt.Sprintf("client: reconnect failed after %d attempts: %v", e.Attempts, e.LastErr)
}

// Unwrap returns the last dial error.
func (e *ExhaustedRetriesError) Unwrap() error {
	return e.LastErr
}

// ProtocolError reports an inbound frame that was dropped. The connection
// stays open.
type ProtocolError struct {
	Err error
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	return "client: protocol error: " + e.Err.Error()
}

// Unwrap returns the decode error.
func (e *ProtocolError) Unwrap() error {
	return e.Err
}
