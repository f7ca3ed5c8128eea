package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// DefaultWriteTimeout bounds a single write when no timeout is configured.
const DefaultWriteTimeout = 10 * time.Second

// WebSocketConn adapts a gorilla/websocket connection to Conn.
type WebSocketConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	// gorilla allows one concurrent writer; control frames are exempt.
	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// NewWebSocketConn wraps c. writeTimeout <= 0 uses DefaultWriteTimeout.
func NewWebSocketConn(c *websocket.Conn, writeTimeout time.Duration) *WebSocketConn {
	if writeTimeout <= 0 {
		writeTimeout = DefaultWriteTimeout
	}
	return &WebSocketConn{conn: c, writeTimeout: writeTimeout}
}

// ReadMessage implements Conn.
func (w *WebSocketConn) ReadMessage() ([]byte, error) {
	mt, data, err := w.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	if mt != websocket.BinaryMessage {
		return nil, ErrTextMessage
	}
	return data, nil
}

// WriteMessage implements Conn.
func (w *WebSocketConn) WriteMessage(data []byte) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	if err := w.conn.SetWriteDeadline(time.Now().Add(w.writeTimeout)); err != nil {
		return err
	}
	return w.conn.WriteMessage(websocket.BinaryMessage, data)
}

// Ping implements Conn.
func (w *WebSocketConn) Ping(payload []byte) error {
	return w.conn.WriteControl(websocket.PingMessage, payload, time.Now().Add(w.writeTimeout))
}

// SetPongHandler implements Conn.
func (w *WebSocketConn) SetPongHandler(h func(payload []byte)) {
	if h == nil {
		w.conn.SetPongHandler(nil)
		return
	}
	w.conn.SetPongHandler(func(appData string) error {
		h([]byte(appData))
		return nil
	})
}

// SetReadDeadline implements Conn.
func (w *WebSocketConn) SetReadDeadline(t time.Time) error {
	return w.conn.SetReadDeadline(t)
}

// Close sends a normal closure frame and closes the socket.
func (w *WebSocketConn) Close() error {
	return w.CloseWithCode(websocket.CloseNormalClosure, "")
}

// CloseWithCode sends a close frame with the given code and closes the
// socket. Only the first call has any effect.
func (w *WebSocketConn) CloseWithCode(code int, reason string) error {
	w.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(code, reason)
		_ = w.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		w.closeErr = w.conn.Close()
	})
	return w.closeErr
}

// RemoteAddr implements Conn.
func (w *WebSocketConn) RemoteAddr() string {
	return w.conn.RemoteAddr().String()
}

// Underlying returns the wrapped gorilla connection.
func (w *WebSocketConn) Underlying() *websocket.Conn {
	return w.conn
}

// IsExpectedClose reports whether err is a normal end of a connection: a
// local close or a peer close with a normal or going-away code.
func IsExpectedClose(err error) bool {
	if err == nil || errors.Is(err, ErrClosed) || errors.Is(err, net.ErrClosed) {
		return true
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return true
	}
	return false
}

// WebSocketDialer dials with gorilla/websocket.
type WebSocketDialer struct {
	// Dialer is the underlying dialer. Nil uses websocket.DefaultDialer.
	Dialer *websocket.Dialer

	// WriteTimeout bounds each write on dialed connections.
	WriteTimeout time.Duration

	// ReadLimit caps inbound message size. Zero leaves gorilla's default.
	ReadLimit int64
}

// Dial implements Dialer.
func (d *WebSocketDialer) Dial(ctx context.Context, url string, header http.Header) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	c, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("transport: dial %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("transport: dial %s: %w", url, err)
	}
	if d.ReadLimit > 0 {
		c.SetReadLimit(d.ReadLimit)
	}
	return NewWebSocketConn(c, d.WriteTimeout), nil
}
