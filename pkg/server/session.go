package server

import (
	"log/slog"
	"sync"
	"time"

	"github.com/vango-dev/wsession/pkg/protocol"
	"github.com/vango-dev/wsession/pkg/quality"
	"github.com/vango-dev/wsession/pkg/transport"
)

// Session is the server side of a logical session. It outlives individual
// sockets: an abrupt close detaches the socket and the session waits up to
// SessionTimeout for a Reconnect.
type Session struct {
	// Immutable after creation
	ID            string
	ClientVersion string
	CreatedAt     time.Time

	logger  *slog.Logger
	quality *quality.Tracker

	mu              sync.Mutex
	conn            transport.Conn // nil while detached
	binding         *binding
	connectedAt     time.Time
	lastSeenAt      time.Time
	lastHeartbeatAt time.Time
	pending         *PendingBuffer
	lastInboundID   uint64
	lastOutboundID  uint64
	closed          bool

	messagesSent     uint64
	messagesReceived uint64
	bytesSent        uint64
	bytesReceived    uint64
	duplicates       uint64
	resumes          uint64
}

// SessionInfo is a point-in-time snapshot of a Session.
type SessionInfo struct {
	ID               string          `json:"id"`
	ClientVersion    string          `json:"client_version"`
	Connected        bool            `json:"connected"`
	RemoteAddr       string          `json:"remote_addr"`
	CreatedAt        time.Time       `json:"created_at"`
	ConnectedAt      time.Time       `json:"connected_at"`
	LastSeenAt       time.Time       `json:"last_seen_at"`
	LastHeartbeatAt  time.Time       `json:"last_heartbeat_at"`
	LastInboundID    uint64          `json:"last_inbound_id"`
	LastOutboundID   uint64          `json:"last_outbound_id"`
	PendingMessages  int             `json:"pending_messages"`
	PendingBytes     int             `json:"pending_bytes"`
	PendingDropped   uint64          `json:"pending_dropped"`
	MessagesSent     uint64          `json:"messages_sent"`
	MessagesReceived uint64          `json:"messages_received"`
	BytesSent        uint64          `json:"bytes_sent"`
	BytesReceived    uint64          `json:"bytes_received"`
	Duplicates       uint64          `json:"duplicates"`
	Resumes          uint64          `json:"resumes"`
	Quality          quality.Metrics `json:"quality"`
}

// Message is an inbound Data message delivered to OnMessage observers.
type Message struct {
	SessionID string
	MessageID uint64
	Timestamp uint64 // sender clock, milliseconds since the Unix epoch
	Payload   []byte
}

func newSession(id, clientVersion string, now time.Time, cfg *Config, logger *slog.Logger) *Session {
	return &Session{
		ID:              id,
		ClientVersion:   clientVersion,
		CreatedAt:       now,
		logger:          logger.With("session_id", id),
		quality:         quality.NewTracker(cfg.Quality),
		pending:         NewPendingBuffer(cfg.MaxPendingMessages, cfg.MaxPendingBytes),
		lastSeenAt:      now,
		lastHeartbeatAt: now,
	}
}

// Quality returns the session's quality tracker.
func (s *Session) Quality() *quality.Tracker {
	return s.quality
}

// Connected reports whether a live socket is bound.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// Info returns a snapshot of the session.
func (s *Session) Info() SessionInfo {
	s.mu.Lock()
	info := SessionInfo{
		ID:               s.ID,
		ClientVersion:    s.ClientVersion,
		Connected:        s.conn != nil,
		CreatedAt:        s.CreatedAt,
		ConnectedAt:      s.connectedAt,
		LastSeenAt:       s.lastSeenAt,
		LastHeartbeatAt:  s.lastHeartbeatAt,
		LastInboundID:    s.lastInboundID,
		LastOutboundID:   s.lastOutboundID,
		PendingMessages:  s.pending.Unsent(),
		PendingBytes:     s.pending.Bytes(),
		PendingDropped:   s.pending.Dropped(),
		MessagesSent:     s.messagesSent,
		MessagesReceived: s.messagesReceived,
		BytesSent:        s.bytesSent,
		BytesReceived:    s.bytesReceived,
		Duplicates:       s.duplicates,
		Resumes:          s.resumes,
	}
	if s.conn != nil {
		info.RemoteAddr = s.conn.RemoteAddr()
	}
	s.mu.Unlock()

	info.Quality = s.quality.Metrics()
	return info
}

// delivery is the outcome of queuing one Data frame on a session.
type delivery struct {
	ok      bool           // the session took the frame (live or buffered)
	live    bool           // the frame was written to a socket
	conn    transport.Conn // set when a live write failed
	err     error
	dropped int // unsent frames evicted from the pending buffer
	bytes   int
}

// deliver stamps a copy of the encoded Data frame tmpl with the next id,
// retains it for replay and writes it if a socket is bound. Ids are
// allocated and written under the session lock, so they reach the wire in
// order.
func (s *Session) deliver(tmpl []byte, now time.Time) delivery {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return delivery{}
	}

	s.lastOutboundID++
	id := s.lastOutboundID

	frame := make([]byte, len(tmpl))
	copy(frame, tmpl)
	if err := protocol.StampDataMessageID(frame, id); err != nil {
		return delivery{err: err}
	}

	d := delivery{ok: true, bytes: len(frame)}
	entry := PendingEntry{ID: id, Frame: frame, AddedAt: now}

	if s.conn == nil {
		s.lastSeenAt = now
		d.dropped = s.pending.Add(entry)
		return d
	}

	if err := s.conn.WriteMessage(frame); err != nil {
		// Kept unsent; replayed on resume.
		d.conn, d.err = s.conn, err
		d.dropped = s.pending.Add(entry)
		return d
	}
	entry.Sent = true
	s.pending.Add(entry)
	d.live = true
	s.messagesSent++
	s.bytesSent += uint64(len(frame))
	return d
}

// write sends a non-Data frame on conn if it is still the bound socket.
func (s *Session) write(conn transport.Conn, frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.conn != conn {
		return ErrSessionClosed
	}
	if err := conn.WriteMessage(frame); err != nil {
		return err
	}
	s.bytesSent += uint64(len(frame))
	return nil
}

// receive applies an inbound Data id. It reports false for duplicates.
func (s *Session) receive(id uint64, n int, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastSeenAt = now
	s.bytesReceived += uint64(n)
	if id <= s.lastInboundID {
		s.duplicates++
		return false
	}
	s.lastInboundID = id
	s.messagesReceived++
	return true
}

func (s *Session) heartbeat(n int, now time.Time) {
	s.mu.Lock()
	s.lastSeenAt = now
	s.lastHeartbeatAt = now
	s.bytesReceived += uint64(n)
	s.mu.Unlock()
}

// binding ties a session to one socket for the keep-alive manager. A new
// binding is created per socket so late callbacks for a replaced socket can
// be recognised and ignored.
type binding struct {
	srv     *Server
	session *Session
	conn    transport.Conn
}

// ID implements keepalive.Target.
func (b *binding) ID() string { return b.session.ID }

// Ping implements keepalive.Target.
func (b *binding) Ping(payload []byte) error { return b.conn.Ping(payload) }

// Quality implements keepalive.Target.
func (b *binding) Quality() *quality.Tracker { return b.session.quality }

// Unresponsive implements keepalive.Target.
func (b *binding) Unresponsive() {
	b.srv.detach(b.session, b.conn, ErrUnresponsive)
}
