// Package transport is the socket boundary of wsession.
//
// Session logic talks to a Conn: a message-oriented, bidirectional socket
// that carries binary messages plus transport-level ping/pong probes. The
// package ships a gorilla/websocket adapter for real networks and an
// in-memory Pipe for embedding and tests.
package transport

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// Transport errors.
var (
	ErrClosed      = errors.New("transport: connection closed")
	ErrTextMessage = errors.New("transport: text message received, binary required")
)

// Conn is one live socket.
//
// ReadMessage must only be called from a single goroutine. WriteMessage and
// Ping may be called concurrently with each other and with ReadMessage.
type Conn interface {
	// ReadMessage blocks for the next binary message. Pong handlers run
	// inside ReadMessage. ErrTextMessage is returned for text messages and
	// does not close the connection.
	ReadMessage() ([]byte, error)

	// WriteMessage sends one binary message.
	WriteMessage(data []byte) error

	// Ping sends a transport-level ping. The peer answers with a pong that
	// carries the same payload.
	Ping(payload []byte) error

	// SetPongHandler registers the function called for each received pong.
	SetPongHandler(h func(payload []byte))

	// SetReadDeadline bounds the next reads. A zero time clears it.
	SetReadDeadline(t time.Time) error

	// Close closes the connection. It is safe to call more than once.
	Close() error

	// RemoteAddr returns the peer address.
	RemoteAddr() string
}

// Dialer opens client connections.
type Dialer interface {
	Dial(ctx context.Context, url string, header http.Header) (Conn, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, url string, header http.Header) (Conn, error)

// Dial calls f.
func (f DialerFunc) Dial(ctx context.Context, url string, header http.Header) (Conn, error) {
	return f(ctx, url, header)
}
