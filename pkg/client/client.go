// Package client implements the wsession client connection state machine.
//
// A Client owns one socket at a time and a logical Session that survives
// reconnects. After an unexpected close it reconnects with exponential
// backoff and resumes the session by sending Reconnect with the highest
// message id it has processed; the server replays anything newer. Only
// Disconnect destroys the session.
//
//	c := client.New(client.DefaultConfig("wss://example.com/ws"))
//	c.OnMessage(func(m client.Message) { ... })
//	c.OnError(func(err error) { ... })
//	if err := c.Connect(ctx); err != nil { ... }
//	c.Send([]byte("hello"))
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vango-dev/wsession/internal/observer"
	"github.com/vango-dev/wsession/pkg/protocol"
	"github.com/vango-dev/wsession/pkg/transport"
)

// Status is the connection state of a Client.
type Status int32

const (
	StatusDisconnected Status = iota // Initial state and after Disconnect
	StatusConnecting                 // Dial in progress
	StatusConnected                  // Socket open, session bound
	StatusReconnecting               // Waiting for or running a reconnect attempt
	StatusError                      // Reconnect attempts exhausted
)

// String returns the string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "Disconnected"
	case StatusConnecting:
		return "Connecting"
	case StatusConnected:
		return "Connected"
	case StatusReconnecting:
		return "Reconnecting"
	case StatusError:
		return "Error"
	default:
		return "Unknown"
	}
}

// Session is the client side of a logical session.
type Session struct {
	// ID is generated by the client on first connect.
	ID string

	// LastMessageID is the id of the last Data message sent.
	LastMessageID uint64

	// LastReceivedID is the highest Data id received from the server. It
	// is sent in Reconnect.
	LastReceivedID uint64

	// ConnectedAt is when the current socket was bound.
	ConnectedAt time.Time

	// LastHeartbeatAt is when a Heartbeat last arrived from the server.
	LastHeartbeatAt time.Time
}

// Message is an inbound Data message. Payload is owned by the handler.
type Message struct {
	Payload   []byte
	MessageID uint64
	Timestamp uint64 // milliseconds since the Unix epoch, set by the sender
}

// Time returns the sender timestamp as a time.Time.
func (m Message) Time() time.Time {
	return time.UnixMilli(int64(m.Timestamp))
}

// ConnectionEvent is emitted each time a socket is bound to the session.
type ConnectionEvent struct {
	SessionID string
	Resumed   bool
}

// ReconnectingEvent is emitted each time a reconnect attempt is scheduled.
type ReconnectingEvent struct {
	Attempt int // 1-based
	Delay   time.Duration
	Err     error // why the previous connection or attempt failed
}

type timer interface {
	Stop() bool
}

// Client is a session-resuming WebSocket client. It is safe for concurrent
// use.
type Client struct {
	cfg    *Config
	logger *slog.Logger

	mu         sync.Mutex
	status     Status
	session    *Session
	conn       transport.Conn
	gen        uint64 // bumped whenever the current socket is abandoned
	attempt    int
	retryTimer timer
	dialCancel context.CancelFunc
	hbStop     chan struct{}
	hbDone     chan struct{}

	onConnection   observer.List[ConnectionEvent]
	onMessage      observer.List[Message]
	onError        observer.List[error]
	onReconnecting observer.List[ReconnectingEvent]

	now          func() time.Time
	afterFunc    func(d time.Duration, f func()) timer
	newSessionID func() string
}

// New creates a client. cfg is copied; zero fields take defaults.
func New(cfg *Config) *Client {
	if cfg == nil {
		cfg = DefaultConfig("")
	}
	c := cfg.Clone()
	c.applyDefaults()

	return &Client{
		cfg:    c,
		logger: c.Logger.With("component", "client"),
		status: StatusDisconnected,
		now:    time.Now,
		afterFunc: func(d time.Duration, f func()) timer {
			return time.AfterFunc(d, f)
		},
		newSessionID: uuid.NewString,
	}
}

// OnConnection registers a handler for socket binds.
func (c *Client) OnConnection(fn func(ConnectionEvent)) (remove func()) {
	return c.onConnection.Add(fn)
}

// OnMessage registers a handler for inbound Data. Handlers run on the read
// goroutine in message id order.
func (c *Client) OnMessage(fn func(Message)) (remove func()) {
	return c.onMessage.Add(fn)
}

// OnError registers a handler for reported errors: *ProtocolError,
// *protocol.ErrorPayload from the server, ErrServerDisconnect, and the
// terminal *ExhaustedRetriesError.
func (c *Client) OnError(fn func(error)) (remove func()) {
	return c.onError.Add(fn)
}

// OnReconnecting registers a handler for scheduled reconnect attempts.
func (c *Client) OnReconnecting(fn func(ReconnectingEvent)) (remove func()) {
	return c.onReconnecting.Add(fn)
}

// Status returns the current status.
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Session returns a copy of the current session, if any.
func (c *Client) Session() (Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return Session{}, false
	}
	return *c.session, true
}

// Connect opens the socket and binds the session. It returns nil without
// doing anything if the client is already connecting, connected, or
// reconnecting. A failed dial leaves the client Disconnected; calling
// Connect from StatusError starts a fresh round of attempts.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	switch c.status {
	case StatusConnecting, StatusConnected, StatusReconnecting:
		c.mu.Unlock()
		return nil
	}
	c.status = StatusConnecting
	c.attempt = 0
	c.gen++
	gen := c.gen
	dctx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	c.dialCancel = cancel
	c.mu.Unlock()

	c.logger.Debug("connecting", "url", c.cfg.URL)
	conn, err := c.cfg.Dialer.Dial(dctx, c.cfg.URL, c.cfg.Header)
	cancel()

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return &ConnectionError{Op: "connect", URL: c.cfg.URL, Err: ErrConnectAborted}
	}
	c.dialCancel = nil
	if err != nil {
		c.status = StatusDisconnected
		c.mu.Unlock()
		c.logger.Warn("connect failed", "url", c.cfg.URL, "error", err)
		return &ConnectionError{Op: "dial", URL: c.cfg.URL, Err: err}
	}

	ev, err := c.bindLocked(conn, gen)
	if err != nil {
		c.status = StatusDisconnected
		c.mu.Unlock()
		conn.Close()
		return &ConnectionError{Op: "handshake", URL: c.cfg.URL, Err: err}
	}
	c.mu.Unlock()

	c.connected(conn, gen, ev)
	return nil
}

// bindLocked sends Connect or Reconnect on conn and makes it the current
// socket. Caller holds c.mu.
func (c *Client) bindLocked(conn transport.Conn, gen uint64) (ConnectionEvent, error) {
	var msg protocol.Message
	session := c.session
	resumed := session != nil
	if resumed {
		msg = protocol.NewReconnect(session.ID, session.LastReceivedID)
	} else {
		session = &Session{ID: c.newSessionID()}
		msg = protocol.NewConnect(session.ID, c.cfg.ClientVersion)
	}

	frame, err := protocol.Encode(msg)
	if err != nil {
		return ConnectionEvent{}, err
	}
	if err := conn.WriteMessage(frame); err != nil {
		return ConnectionEvent{}, err
	}

	now := c.now()
	session.ConnectedAt = now
	session.LastHeartbeatAt = now
	c.session = session
	c.conn = conn
	c.status = StatusConnected
	c.attempt = 0
	c.startHeartbeatLocked(conn, gen)

	return ConnectionEvent{SessionID: session.ID, Resumed: resumed}, nil
}

// connected announces a bound socket and starts reading from it. The read
// loop starts after the event so handlers see the connection before any
// replayed message.
func (c *Client) connected(conn transport.Conn, gen uint64, ev ConnectionEvent) {
	c.logger.Info("connected",
		"session_id", ev.SessionID,
		"resumed", ev.Resumed)
	c.onConnection.Emit(ev)
	go c.readLoop(conn, gen)
}

// Send wraps payload in a Data message and writes it. It returns false
// unless the client is connected or if the write fails. Message ids are
// allocated before the write and never reused.
func (c *Client) Send(payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status != StatusConnected || c.conn == nil || c.session == nil {
		return false
	}

	c.session.LastMessageID++
	id := c.session.LastMessageID

	frame, err := protocol.Encode(protocol.NewData(id, uint64(c.now().UnixMilli()), payload))
	if err != nil {
		c.logger.Error("encode failed", "message_id", id, "error", err)
		return false
	}
	if err := c.conn.WriteMessage(frame); err != nil {
		c.logger.Debug("send failed",
			"session_id", c.session.ID,
			"message_id", id,
			"error", err)
		return false
	}
	return true
}

// Disconnect ends the session. It cancels any pending reconnect and the
// heartbeat loop before returning, sends Disconnect if a socket is live,
// and clears the session.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if c.status == StatusDisconnected && c.session == nil {
		c.mu.Unlock()
		return
	}
	c.gen++
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
	if c.dialCancel != nil {
		c.dialCancel()
		c.dialCancel = nil
	}
	hbDone := c.stopHeartbeatLocked()

	conn := c.conn
	c.conn = nil
	if conn != nil {
		if frame, err := protocol.Encode(protocol.NewDisconnect("client")); err == nil {
			_ = conn.WriteMessage(frame)
		}
	}
	var sessionID string
	if c.session != nil {
		sessionID = c.session.ID
	}
	c.session = nil
	c.status = StatusDisconnected
	c.attempt = 0
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	if hbDone != nil {
		<-hbDone
	}
	c.logger.Info("disconnected", "session_id", sessionID)
}

func (c *Client) readLoop(conn transport.Conn, gen uint64) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			if errors.Is(err, transport.ErrTextMessage) {
				c.onError.Emit(&ProtocolError{Err: err})
				continue
			}
			c.connectionLost(gen, err)
			return
		}
		c.handleFrame(gen, data)
	}
}

func (c *Client) handleFrame(gen uint64, data []byte) {
	m, err := protocol.Decode(data)
	if err != nil {
		c.logger.Warn("dropping malformed frame", "error", err)
		c.onError.Emit(&ProtocolError{Err: err})
		return
	}

	switch p := m.Payload.(type) {
	case *protocol.DataPayload:
		c.mu.Lock()
		if gen != c.gen || c.session == nil {
			c.mu.Unlock()
			return
		}
		if p.MessageID <= c.session.LastReceivedID {
			c.mu.Unlock()
			c.logger.Debug("dropping duplicate message", "message_id", p.MessageID)
			return
		}
		c.mu.Unlock()

		c.onMessage.Emit(Message{Payload: p.Payload, MessageID: p.MessageID, Timestamp: p.Timestamp})

		c.mu.Lock()
		if gen == c.gen && c.session != nil && p.MessageID > c.session.LastReceivedID {
			c.session.LastReceivedID = p.MessageID
		}
		c.mu.Unlock()

	case *protocol.HeartbeatPayload:
		c.mu.Lock()
		if gen == c.gen && c.session != nil {
			c.session.LastHeartbeatAt = c.now()
		}
		c.mu.Unlock()

	case *protocol.ErrorPayload:
		c.logger.Warn("server reported error",
			"code", p.Code.String(),
			"message", p.Message)
		c.onError.Emit(p)

	case *protocol.DisconnectPayload:
		c.serverDisconnect(gen, p.Reason)

	default:
		c.onError.Emit(&ProtocolError{Err: fmt.Errorf("unexpected %s message from server", m.Type)})
	}
}

// serverDisconnect handles a Disconnect sent by the server: the session is
// gone, so there is nothing to resume.
func (c *Client) serverDisconnect(gen uint64, reason string) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.gen++
	hbDone := c.stopHeartbeatLocked()
	conn := c.conn
	c.conn = nil
	c.session = nil
	c.status = StatusDisconnected
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	if hbDone != nil {
		<-hbDone
	}
	c.logger.Info("session closed by server", "reason", reason)
	c.onError.Emit(fmt.Errorf("%w: %s", ErrServerDisconnect, reason))
}

// connectionLost moves a connected client to Reconnecting and schedules
// the first attempt.
func (c *Client) connectionLost(gen uint64, cause error) {
	c.mu.Lock()
	if gen != c.gen || c.status != StatusConnected {
		c.mu.Unlock()
		return
	}
	c.gen++
	next := c.gen
	hbDone := c.stopHeartbeatLocked()
	conn := c.conn
	c.conn = nil
	c.status = StatusReconnecting
	c.attempt = 0
	delay := Backoff(c.cfg.ReconnectInterval, c.cfg.MaxReconnectDelay, 0)
	c.retryTimer = c.afterFunc(delay, func() { c.reconnect(next) })
	sessionID := c.session.ID
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	if hbDone != nil {
		<-hbDone
	}

	c.logger.Warn("connection lost",
		"session_id", sessionID,
		"error", cause,
		"retry_in", delay)
	c.onReconnecting.Emit(ReconnectingEvent{
		Attempt: 1,
		Delay:   delay,
		Err:     &ConnectionError{Op: "read", URL: c.cfg.URL, Err: cause},
	})
}

// reconnect runs one attempt. gen fences attempts abandoned by Disconnect.
func (c *Client) reconnect(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.status != StatusReconnecting {
		c.mu.Unlock()
		return
	}
	c.retryTimer = nil
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.DialTimeout)
	c.dialCancel = cancel
	c.mu.Unlock()

	conn, err := c.cfg.Dialer.Dial(ctx, c.cfg.URL, c.cfg.Header)
	cancel()

	c.mu.Lock()
	if gen != c.gen || c.status != StatusReconnecting {
		c.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}
	c.dialCancel = nil

	if err == nil {
		ev, bindErr := c.bindLocked(conn, gen)
		if bindErr == nil {
			c.mu.Unlock()
			c.connected(conn, gen, ev)
			return
		}
		conn.Close()
		err = bindErr
	}

	c.attempt++
	attempt := c.attempt
	if attempt >= c.cfg.MaxReconnectAttempts {
		c.gen++
		c.status = StatusError
		c.mu.Unlock()

		exhausted := &ExhaustedRetriesError{Attempts: attempt, LastErr: err}
		c.logger.Error("reconnect attempts exhausted",
			"attempts", attempt,
			"error", err)
		c.onError.Emit(exhausted)
		return
	}

	delay := Backoff(c.cfg.ReconnectInterval, c.cfg.MaxReconnectDelay, attempt)
	c.retryTimer = c.afterFunc(delay, func() { c.reconnect(gen) })
	c.mu.Unlock()

	c.logger.Warn("reconnect failed",
		"attempt", attempt,
		"error", err,
		"retry_in", delay)
	c.onReconnecting.Emit(ReconnectingEvent{
		Attempt: attempt + 1,
		Delay:   delay,
		Err:     &ConnectionError{Op: "dial", URL: c.cfg.URL, Err: err},
	})
}

// startHeartbeatLocked starts the heartbeat loop for conn. Caller holds c.mu.
func (c *Client) startHeartbeatLocked(conn transport.Conn, gen uint64) {
	stop := make(chan struct{})
	done := make(chan struct{})
	c.hbStop, c.hbDone = stop, done
	go c.heartbeatLoop(conn, gen, stop, done)
}

// stopHeartbeatLocked signals the heartbeat loop to exit and returns a
// channel closed once it has. Caller holds c.mu and must wait on the
// channel only after releasing it.
func (c *Client) stopHeartbeatLocked() chan struct{} {
	if c.hbStop == nil {
		return nil
	}
	close(c.hbStop)
	done := c.hbDone
	c.hbStop, c.hbDone = nil, nil
	return done
}

func (c *Client) heartbeatLoop(conn transport.Conn, gen uint64, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	// unanswered is when the oldest Heartbeat not yet followed by one from
	// the server was sent. Zero while nothing is outstanding.
	var unanswered time.Time

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		c.mu.Lock()
		if gen != c.gen || c.status != StatusConnected || c.session == nil {
			c.mu.Unlock()
			return
		}
		now := c.now()
		last := c.session.LastHeartbeatAt
		if !unanswered.IsZero() && !last.Before(unanswered) {
			unanswered = time.Time{}
		}
		if timeout := c.cfg.HeartbeatTimeout; timeout > 0 && !unanswered.IsZero() && now.Sub(unanswered) > timeout {
			c.mu.Unlock()
			c.logger.Warn("server heartbeat timed out",
				"last_heartbeat", last,
				"unanswered_since", unanswered)
			// The read loop sees the close and starts reconnecting.
			conn.Close()
			return
		}
		frame, err := protocol.Encode(protocol.NewHeartbeat(uint64(now.UnixMilli())))
		if err == nil {
			err = conn.WriteMessage(frame)
		}
		if err == nil && unanswered.IsZero() {
			unanswered = now
		}
		c.mu.Unlock()

		if err != nil {
			c.logger.Debug("heartbeat failed", "error", err)
		}
	}
}
