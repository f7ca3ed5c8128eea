package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"

	"github.com/vango-dev/wsession/internal/observer"
	"github.com/vango-dev/wsession/pkg/keepalive"
	"github.com/vango-dev/wsession/pkg/pool"
	"github.com/vango-dev/wsession/pkg/protocol"
	"github.com/vango-dev/wsession/pkg/transport"
)

// SessionEvent describes a session lifecycle transition.
type SessionEvent struct {
	SessionID  string
	RemoteAddr string

	// Open events
	Resumed       bool
	FreshFallback bool
	Replayed      int
	ReplayGap     bool

	// Detach and close events
	Reason string
	Err    error
}

// Server accepts sockets, binds them to sessions and routes Data between
// the application and its clients.
type Server struct {
	cfg    *Config
	logger *slog.Logger

	registry  *Registry
	keepalive *keepalive.Manager
	pool      *pool.Pool
	upgrader  websocket.Upgrader
	metrics   *Metrics
	tracer    tracer
	stats     counters

	onSessionOpen   observer.List[SessionEvent]
	onSessionDetach observer.List[SessionEvent]
	onSessionClose  observer.List[SessionEvent]
	onMessage       observer.List[Message]
	onError         observer.List[error]

	mu        sync.Mutex
	started   bool
	stopped   bool
	done      chan struct{}
	sweepDone chan struct{}
	conns     sync.WaitGroup
	startedAt time.Time

	now func() time.Time
}

// New creates a server. cfg is copied; zero fields take defaults.
func New(cfg *Config) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	c := cfg.Clone()
	c.applyDefaults()
	logger := c.Logger.With("component", "server")
	if c.KeepAlive.Logger == nil {
		c.KeepAlive.Logger = c.Logger
	}
	if c.Pool.Logger == nil {
		c.Pool.Logger = c.Logger
	}

	s := &Server{
		cfg:       c,
		logger:    logger,
		registry:  newRegistry(),
		keepalive: keepalive.New(c.KeepAlive),
		pool:      pool.New(c.Pool),
		metrics:   c.Metrics,
		tracer:    newTracer(c.TracerName),
		done:      make(chan struct{}),
		sweepDone: make(chan struct{}),
		now:       time.Now,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:    c.ReadBufferSize,
		WriteBufferSize:   c.WriteBufferSize,
		EnableCompression: c.EnableCompression,
		CheckOrigin:       c.CheckOrigin,
		HandshakeTimeout:  c.HandshakeTimeout,
	}
	s.startedAt = s.now()
	return s
}

// Config returns the effective configuration.
func (s *Server) Config() *Config {
	return s.cfg
}

// Registry returns the session registry.
func (s *Server) Registry() *Registry {
	return s.registry
}

// Logger returns the server's logger.
func (s *Server) Logger() *slog.Logger {
	return s.logger
}

// OnSessionOpen registers a handler called when a socket binds a session,
// whether new, resumed or a fresh fallback.
func (s *Server) OnSessionOpen(fn func(SessionEvent)) (remove func()) {
	return s.onSessionOpen.Add(fn)
}

// OnSessionDetach registers a handler called when a session loses its
// socket without a Disconnect.
func (s *Server) OnSessionDetach(fn func(SessionEvent)) (remove func()) {
	return s.onSessionDetach.Add(fn)
}

// OnSessionClose registers a handler called when a session is destroyed.
func (s *Server) OnSessionClose(fn func(SessionEvent)) (remove func()) {
	return s.onSessionClose.Add(fn)
}

// OnMessage registers a handler for inbound Data. Handlers run on the
// session's read goroutine, in message id order per session.
func (s *Server) OnMessage(fn func(Message)) (remove func()) {
	return s.onMessage.Add(fn)
}

// OnError registers a handler for *ProtocolError, *ConnectionError,
// *SessionExpiredError, *CapacityError and client-reported errors.
func (s *Server) OnError(fn func(error)) (remove func()) {
	return s.onError.Add(fn)
}

// Start begins the expiry sweep.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrServerClosed
	}
	if s.started {
		return ErrAlreadyStarted
	}
	s.started = true
	go s.sweepLoop()

	s.logger.Info("server started",
		"session_timeout", s.cfg.SessionTimeout,
		"sweep_interval", s.cfg.SweepInterval,
		"max_sessions", s.cfg.MaxSessions)
	return nil
}

// Stop closes every session with Disconnect{"server shutdown"}, stops the
// sweep and keep-alive timers and waits for socket goroutines to finish or
// ctx to end.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	started := s.started
	close(s.done)
	s.mu.Unlock()

	if started {
		<-s.sweepDone
	}
	s.keepalive.Stop()

	sessions := s.registry.Snapshot()
	for _, sess := range sessions {
		s.destroy(sess, nil, "shutdown", "server shutdown", true)
	}

	wait := make(chan struct{})
	go func() {
		s.conns.Wait()
		close(wait)
	}()

	select {
	case <-wait:
		s.logger.Info("server stopped", "sessions_closed", len(sessions))
		return nil
	case <-ctx.Done():
		s.logger.Warn("server stop timed out", "error", ctx.Err())
		return ctx.Err()
	}
}

// HandleWebSocket upgrades the request and serves the socket until it
// closes.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	c, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	c.SetReadLimit(s.cfg.MaxMessageSize)

	conn := transport.NewWebSocketConn(c, s.cfg.WriteTimeout)
	if err := s.Accept(conn); err != nil && !errors.Is(err, ErrServerClosed) {
		s.logger.Debug("socket rejected", "remote_addr", conn.RemoteAddr(), "error", err)
	}
}

// Accept runs the handshake on conn and then serves it until it closes.
// It blocks; call it from the goroutine that owns the socket.
func (s *Server) Accept(conn transport.Conn) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		conn.Close()
		return ErrServerClosed
	}
	s.conns.Add(1)
	s.mu.Unlock()
	defer s.conns.Done()

	key := poolKey(conn.RemoteAddr())
	if _, _, err := s.pool.Acquire(key); err != nil {
		s.logger.Debug("pool acquire failed", "remote_addr", conn.RemoteAddr(), "error", err)
	}
	sess, b, err := s.handshake(conn)
	s.pool.Release(key)
	if err != nil {
		s.stats.handshakeFailures.Add(1)
		conn.Close()
		return err
	}

	if s.isStopped() {
		s.destroy(sess, nil, "shutdown", "server shutdown", true)
		return ErrServerClosed
	}

	s.readLoop(sess, b)
	return nil
}

func (s *Server) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

func poolKey(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

func (s *Server) handshake(conn transport.Conn) (*Session, *binding, error) {
	remote := conn.RemoteAddr()

	_ = conn.SetReadDeadline(time.Now().Add(s.cfg.HandshakeTimeout))
	data, err := conn.ReadMessage()
	if err != nil {
		s.logger.Debug("handshake read failed", "remote_addr", remote, "error", err)
		return nil, nil, &ConnectionError{RemoteAddr: remote, Err: err}
	}
	_ = conn.SetReadDeadline(time.Time{})

	m, err := protocol.Decode(data)
	if err != nil {
		s.countProtocolError(decodeKind(err))
		s.reject(conn, protocol.ErrCodeInvalidFrame, "invalid handshake frame", err.Error())
		perr := &ProtocolError{Err: err}
		s.onError.Emit(perr)
		return nil, nil, perr
	}
	s.metrics.frameIn(m.Type.String(), len(data))

	switch p := m.Payload.(type) {
	case *protocol.ConnectPayload:
		return s.connect(conn, p.SessionID, p.ClientVersion, 0, "new")
	case *protocol.ReconnectPayload:
		return s.resume(conn, p)
	default:
		s.countProtocolError("handshake")
		s.reject(conn, protocol.ErrCodeHandshakeRequired, "expected Connect or Reconnect", m.Type.String())
		perr := &ProtocolError{Err: fmt.Errorf("%w: got %s", ErrHandshakeRequired, m.Type)}
		s.onError.Emit(perr)
		return nil, nil, perr
	}
}

// reject writes an Error frame to a socket that is about to be closed.
func (s *Server) reject(conn transport.Conn, code protocol.ErrorCode, msg, details string) {
	frame, err := protocol.Encode(protocol.NewError(code, msg, details))
	if err != nil {
		return
	}
	if err := conn.WriteMessage(frame); err == nil {
		s.metrics.frameOut(protocol.TypeError.String(), len(frame))
	}
}

// connect binds conn to a new session, replacing any session with the same
// id. kind is "new" or "fresh_fallback"; startID seeds the outbound id
// counter.
func (s *Server) connect(conn transport.Conn, id, clientVersion string, startID uint64, kind string) (*Session, *binding, error) {
	if id == "" {
		id = uuid.NewString()
	}
	_, span := s.tracer.start(context.Background(), "wsession.session.open",
		sessionAttr(id),
		attribute.String("wsession.open_kind", kind))

	now := s.now()
	sess := newSession(id, clientVersion, now, s.cfg, s.logger)
	sess.lastOutboundID = startID

	s.registry.mu.Lock()
	old := s.registry.sessions[id]
	if old == nil && s.cfg.MaxSessions > 0 && len(s.registry.sessions) >= s.cfg.MaxSessions {
		s.registry.mu.Unlock()

		err := &CapacityError{Resource: "sessions", Limit: s.cfg.MaxSessions}
		s.logger.Warn("session rejected", "session_id", id, "error", err)
		s.reject(conn, protocol.ErrCodeCapacity, "server at capacity", "")
		s.onError.Emit(err)
		endSpan(span, err)
		return nil, nil, err
	}
	var oldConn transport.Conn
	if old != nil {
		oldConn = s.retireLocked(old)
	}
	s.registry.sessions[id] = sess

	sess.mu.Lock()
	b := s.bindLocked(sess, conn, now)
	sess.mu.Unlock()
	s.registry.mu.Unlock()

	if old != nil {
		if oldConn != nil {
			oldConn.Close()
		}
		s.closed(old, "replaced", "replaced by new connect", oldConn != nil)
	}

	s.stats.sessionsCreated.Add(1)
	s.metrics.sessionOpened(kind)
	endSpan(span, nil)

	ev := SessionEvent{SessionID: id, RemoteAddr: conn.RemoteAddr(), FreshFallback: kind == "fresh_fallback"}
	sess.logger.Info("session opened",
		"remote_addr", ev.RemoteAddr,
		"client_version", clientVersion,
		"kind", kind)
	s.onSessionOpen.Emit(ev)
	return sess, b, nil
}

// resume rebinds an existing session and replays what the client missed.
func (s *Server) resume(conn transport.Conn, p *protocol.ReconnectPayload) (*Session, *binding, error) {
	now := s.now()

	s.registry.mu.Lock()
	sess := s.registry.sessions[p.SessionID]
	var expired *Session
	if sess != nil {
		sess.mu.Lock()
		stale := sess.conn == nil && now.Sub(sess.lastSeenAt) > s.cfg.SessionTimeout
		sess.mu.Unlock()
		if stale {
			s.retireLocked(sess)
			expired, sess = sess, nil
		}
	}
	if sess == nil {
		s.registry.mu.Unlock()
		if expired != nil {
			s.closed(expired, "expired", "session timeout", false)
		}
		return s.resumeExpired(conn, p)
	}

	_, span := s.tracer.start(context.Background(), "wsession.session.resume",
		sessionAttr(sess.ID),
		attribute.Int64("wsession.last_message_id", int64(p.LastMessageID)))

	sess.mu.Lock()
	staleConn := sess.conn
	b := s.bindLocked(sess, conn, now)
	sess.resumes++
	if p.LastMessageID > sess.lastOutboundID {
		sess.lastOutboundID = p.LastMessageID
	}
	frames, gap := sess.pending.After(p.LastMessageID)
	sess.pending.Ack(p.LastMessageID)
	s.registry.mu.Unlock()

	// Replay under the session lock so live traffic queues behind it.
	var werr error
	if gap {
		frame, err := protocol.Encode(protocol.NewError(protocol.ErrCodeReplayIncomplete,
			"replay incomplete",
			fmt.Sprintf("frames after %d were dropped", p.LastMessageID)))
		if err == nil {
			werr = conn.WriteMessage(frame)
		}
	}
	replayed, replayedBytes := 0, 0
	for _, f := range frames {
		if werr != nil {
			break
		}
		if werr = conn.WriteMessage(f); werr == nil {
			replayed++
			replayedBytes += len(f)
		}
	}
	if werr == nil {
		sess.pending.MarkSent()
	}
	sess.messagesSent += uint64(replayed)
	sess.bytesSent += uint64(replayedBytes)
	sess.mu.Unlock()

	if staleConn != nil {
		staleConn.Close()
	}
	s.stats.resumes.Add(1)
	s.stats.messagesSent.Add(uint64(replayed))
	s.stats.bytesSent.Add(uint64(replayedBytes))
	s.metrics.sessionResumed(staleConn == nil)
	span.SetAttributes(attribute.Int("wsession.replayed", replayed), attribute.Bool("wsession.replay_gap", gap))

	if werr != nil {
		endSpan(span, werr)
		s.detach(sess, conn, werr)
		return nil, nil, &ConnectionError{SessionID: sess.ID, RemoteAddr: conn.RemoteAddr(), Err: werr}
	}
	endSpan(span, nil)

	ev := SessionEvent{
		SessionID:  sess.ID,
		RemoteAddr: conn.RemoteAddr(),
		Resumed:    true,
		Replayed:   replayed,
		ReplayGap:  gap,
	}
	if gap {
		sess.logger.Warn("session resumed with gap",
			"last_message_id", p.LastMessageID,
			"replayed", replayed)
	} else {
		sess.logger.Info("session resumed",
			"last_message_id", p.LastMessageID,
			"replayed", replayed)
	}
	s.onSessionOpen.Emit(ev)
	return sess, b, nil
}

func (s *Server) resumeExpired(conn transport.Conn, p *protocol.ReconnectPayload) (*Session, *binding, error) {
	if s.cfg.ResumePolicy.Resume(p.SessionID, p.LastMessageID) == ResumeReject {
		s.stats.rejectedResumes.Add(1)
		err := &SessionExpiredError{SessionID: p.SessionID, LastMessageID: p.LastMessageID}
		s.logger.Info("resume rejected", "session_id", p.SessionID, "error", err)
		s.reject(conn, protocol.ErrCodeSessionExpired, "session expired", p.SessionID)
		s.onError.Emit(err)
		return nil, nil, err
	}

	sess, b, err := s.connect(conn, p.SessionID, "", p.LastMessageID, "fresh_fallback")
	if err != nil {
		return nil, nil, err
	}
	s.stats.freshFallbacks.Add(1)
	s.onError.Emit(&SessionExpiredError{SessionID: p.SessionID, LastMessageID: p.LastMessageID, Fallback: true})
	return sess, b, nil
}

// bindLocked makes conn the session's socket and starts probing it.
// Caller holds sess.mu.
func (s *Server) bindLocked(sess *Session, conn transport.Conn, now time.Time) *binding {
	b := &binding{srv: s, session: sess, conn: conn}
	sess.conn = conn
	sess.binding = b
	sess.connectedAt = now
	sess.lastSeenAt = now
	sess.lastHeartbeatAt = now
	sess.quality.ResetConsecutive()

	id := sess.ID
	conn.SetPongHandler(func(payload []byte) {
		if s.keepalive.HandlePong(id, payload) {
			m := sess.quality.Metrics()
			s.metrics.pong(m.LastLatency, m.Score)
		}
	})
	s.keepalive.Track(b)
	return b
}

// retireLocked removes sess from the registry, marks it closed and stops
// probing it. It returns the socket that was bound, if any, for the caller
// to close outside the locks. Caller holds s.registry.mu.
func (s *Server) retireLocked(sess *Session) transport.Conn {
	if s.registry.sessions[sess.ID] == sess {
		delete(s.registry.sessions, sess.ID)
	}

	sess.mu.Lock()
	sess.closed = true
	conn := sess.conn
	b := sess.binding
	sess.conn = nil
	sess.binding = nil
	sess.pending.Clear()
	sess.mu.Unlock()

	if b != nil {
		s.keepalive.Untrack(b)
	}
	return conn
}

// closed reports a retired session.
func (s *Server) closed(sess *Session, label, reason string, wasLive bool) {
	s.metrics.sessionClosed(label, wasLive)
	sess.logger.Info("session closed", "reason", reason)
	s.onSessionClose.Emit(SessionEvent{SessionID: sess.ID, Reason: reason})
}

// destroy removes sess. If from is non-nil the session is only destroyed
// while from is its bound socket. With notify, a Disconnect carrying
// reason is written to the socket first.
func (s *Server) destroy(sess *Session, from transport.Conn, label, reason string, notify bool) bool {
	_, span := s.tracer.start(context.Background(), "wsession.session.close",
		sessionAttr(sess.ID),
		attribute.String("wsession.close_reason", label))

	s.registry.mu.Lock()
	if s.registry.sessions[sess.ID] != sess {
		s.registry.mu.Unlock()
		endSpan(span, ErrSessionNotFound)
		return false
	}
	if from != nil {
		sess.mu.Lock()
		bound := sess.conn == from
		sess.mu.Unlock()
		if !bound {
			s.registry.mu.Unlock()
			endSpan(span, ErrSessionClosed)
			return false
		}
	}
	conn := s.retireLocked(sess)
	s.registry.mu.Unlock()

	if conn != nil {
		if notify {
			if frame, err := protocol.Encode(protocol.NewDisconnect(reason)); err == nil {
				if conn.WriteMessage(frame) == nil {
					s.metrics.frameOut(protocol.TypeDisconnect.String(), len(frame))
				}
			}
		}
		conn.Close()
	}
	s.closed(sess, label, reason, conn != nil)
	endSpan(span, nil)
	return true
}

// detach drops conn from sess after an abrupt close. The session stays
// resumable until SessionTimeout. Calls for a socket that is no longer
// bound only close it.
func (s *Server) detach(sess *Session, conn transport.Conn, cause error) {
	sess.mu.Lock()
	if sess.closed || sess.conn != conn {
		sess.mu.Unlock()
		conn.Close()
		return
	}
	b := sess.binding
	sess.conn = nil
	sess.binding = nil
	sess.lastSeenAt = s.now()
	sess.mu.Unlock()

	if b != nil {
		s.keepalive.Untrack(b)
	}
	conn.Close()

	s.stats.detaches.Add(1)
	s.metrics.sessionDetached()

	remote := conn.RemoteAddr()
	if transport.IsExpectedClose(cause) {
		sess.logger.Info("session detached", "remote_addr", remote)
	} else {
		sess.logger.Warn("session detached", "remote_addr", remote, "error", cause)
		s.onError.Emit(&ConnectionError{SessionID: sess.ID, RemoteAddr: remote, Err: cause})
	}
	s.onSessionDetach.Emit(SessionEvent{SessionID: sess.ID, RemoteAddr: remote, Reason: "detached", Err: cause})
}

func (s *Server) readLoop(sess *Session, b *binding) {
	conn := b.conn
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			if errors.Is(err, transport.ErrTextMessage) {
				s.protocolError(sess, conn, "text_frame", err, protocol.ErrCodeInvalidFrame)
				continue
			}
			s.detach(sess, conn, err)
			return
		}
		if !s.handleFrame(sess, conn, data) {
			return
		}
	}
}

// handleFrame processes one inbound frame. It returns false once the
// socket should no longer be read.
func (s *Server) handleFrame(sess *Session, conn transport.Conn, data []byte) bool {
	now := s.now()

	m, err := protocol.Decode(data)
	if err != nil {
		s.protocolError(sess, conn, decodeKind(err), err, protocol.ErrCodeInvalidFrame)
		return true
	}
	s.metrics.frameIn(m.Type.String(), len(data))
	s.stats.bytesReceived.Add(uint64(len(data)))

	switch p := m.Payload.(type) {
	case *protocol.DataPayload:
		if !sess.receive(p.MessageID, len(data), now) {
			s.stats.duplicates.Add(1)
			sess.logger.Debug("dropping duplicate message", "message_id", p.MessageID)
			return true
		}
		s.stats.messagesReceived.Add(1)
		s.onMessage.Emit(Message{
			SessionID: sess.ID,
			MessageID: p.MessageID,
			Timestamp: p.Timestamp,
			Payload:   p.Payload,
		})

	case *protocol.HeartbeatPayload:
		sess.heartbeat(len(data), now)
		frame, err := protocol.Encode(protocol.NewHeartbeat(uint64(now.UnixMilli())))
		if err != nil {
			return true
		}
		if err := sess.write(conn, frame); err != nil {
			if errors.Is(err, ErrSessionClosed) {
				return false
			}
			s.detach(sess, conn, err)
			return false
		}
		s.stats.bytesSent.Add(uint64(len(frame)))
		s.metrics.frameOut(protocol.TypeHeartbeat.String(), len(frame))

	case *protocol.DisconnectPayload:
		if !s.destroy(sess, conn, "client_disconnect", p.Reason, false) {
			conn.Close()
		}
		return false

	case *protocol.ErrorPayload:
		sess.logger.Warn("client reported error",
			"code", p.Code.String(),
			"message", p.Message)
		s.onError.Emit(&SessionError{SessionID: sess.ID, Op: "client", Err: p})

	case *protocol.ConnectPayload, *protocol.ReconnectPayload:
		s.protocolError(sess, conn, "unexpected",
			fmt.Errorf("unexpected %s after handshake", m.Type),
			protocol.ErrCodeUnexpectedMessage)
	}
	return true
}

// protocolError counts and reports a dropped frame and tells the client.
// The connection stays open.
func (s *Server) protocolError(sess *Session, conn transport.Conn, kind string, err error, code protocol.ErrorCode) {
	s.countProtocolError(kind)
	sess.logger.Warn("dropping invalid frame", "kind", kind, "error", err)
	s.onError.Emit(&ProtocolError{SessionID: sess.ID, Err: err})

	frame, encErr := protocol.Encode(protocol.NewError(code, "invalid frame", err.Error()))
	if encErr != nil {
		return
	}
	if werr := sess.write(conn, frame); werr != nil {
		if !errors.Is(werr, ErrSessionClosed) {
			s.detach(sess, conn, werr)
		}
		return
	}
	s.metrics.frameOut(protocol.TypeError.String(), len(frame))
}

func (s *Server) countProtocolError(kind string) {
	s.stats.protocolErrors.Add(1)
	s.metrics.protocolError(kind)
}

func decodeKind(err error) string {
	var de *protocol.DecodeError
	if errors.As(err, &de) {
		return strings.ToLower(de.Kind.String())
	}
	return "malformed"
}

// SendToSession sends payload as a Data message to one session. A detached
// session buffers it for replay. It returns false if the session does not
// exist.
func (s *Server) SendToSession(id string, payload []byte) bool {
	sess := s.registry.Get(id)
	if sess == nil {
		return false
	}
	now := s.now()
	tmpl, err := protocol.Encode(protocol.NewData(0, uint64(now.UnixMilli()), payload))
	if err != nil {
		s.logger.Error("encode failed", "session_id", id, "error", err)
		return false
	}
	return s.deliver(sess, tmpl, now)
}

// Broadcast sends payload to every session except those in exclude. The
// frame is encoded once and stamped with each session's next message id.
// Detached sessions buffer it. A failed write detaches that session only.
// It returns the number of sessions that took the message.
func (s *Server) Broadcast(payload []byte, exclude ...string) int {
	_, span := s.tracer.start(context.Background(), "wsession.broadcast",
		attribute.Int("wsession.payload_bytes", len(payload)))

	now := s.now()
	tmpl, err := protocol.Encode(protocol.NewData(0, uint64(now.UnixMilli()), payload))
	if err != nil {
		s.logger.Error("broadcast encode failed", "error", err)
		endSpan(span, err)
		return 0
	}

	n := 0
	for _, sess := range s.registry.Snapshot() {
		if excluded(sess.ID, exclude) {
			continue
		}
		if s.deliver(sess, tmpl, now) {
			n++
		}
	}

	s.stats.broadcasts.Add(1)
	s.metrics.broadcast()
	span.SetAttributes(attribute.Int("wsession.recipients", n))
	endSpan(span, nil)
	return n
}

func excluded(id string, exclude []string) bool {
	for _, e := range exclude {
		if e == id {
			return true
		}
	}
	return false
}

func (s *Server) deliver(sess *Session, tmpl []byte, now time.Time) bool {
	d := sess.deliver(tmpl, now)

	if d.dropped > 0 {
		s.stats.dropped.Add(uint64(d.dropped))
		s.metrics.pendingDrop(d.dropped)
		err := &CapacityError{
			SessionID: sess.ID,
			Resource:  "pending",
			Limit:     s.cfg.MaxPendingMessages,
			Dropped:   d.dropped,
		}
		sess.logger.Warn("pending buffer full, dropped oldest", "dropped", d.dropped)
		s.onError.Emit(err)
	}

	if !d.ok {
		if d.err != nil {
			sess.logger.Error("deliver failed", "error", d.err)
		}
		return false
	}
	if d.conn != nil {
		s.detach(sess, d.conn, d.err)
		return true
	}
	if d.live {
		s.stats.messagesSent.Add(1)
		s.stats.bytesSent.Add(uint64(d.bytes))
		s.metrics.frameOut(protocol.TypeData.String(), d.bytes)
	}
	return true
}

// CloseSession sends Disconnect{reason} to the session's socket, if any,
// and destroys the session.
func (s *Server) CloseSession(id, reason string) bool {
	sess := s.registry.Get(id)
	if sess == nil {
		return false
	}
	return s.destroy(sess, nil, "closed", reason, true)
}

// Session returns a snapshot of the session with id.
func (s *Server) Session(id string) (SessionInfo, bool) {
	sess := s.registry.Get(id)
	if sess == nil {
		return SessionInfo{}, false
	}
	return sess.Info(), true
}

// Sessions returns a snapshot of every session, live and detached, ordered
// by id.
func (s *Server) Sessions() []SessionInfo {
	var out []SessionInfo
	s.registry.ForEach(func(sess *Session) bool {
		out = append(out, sess.Info())
		return true
	})
	return out
}

// ConnectedSessions returns the ids of sessions with a live socket, sorted.
func (s *Server) ConnectedSessions() []string {
	var ids []string
	for _, sess := range s.registry.Snapshot() {
		if sess.Connected() {
			ids = append(ids, sess.ID)
		}
	}
	return ids
}

func (s *Server) sweepLoop() {
	defer close(s.sweepDone)

	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.done:
			return
		}
	}
}

// sweep destroys detached sessions that outlived SessionTimeout and
// expires idle pool entries. It returns the number of sessions removed.
func (s *Server) sweep() int {
	now := s.now()

	var expired []*Session
	s.registry.mu.Lock()
	for _, sess := range s.registry.sessions {
		sess.mu.Lock()
		stale := sess.conn == nil && now.Sub(sess.lastSeenAt) > s.cfg.SessionTimeout
		sess.mu.Unlock()
		if stale {
			s.retireLocked(sess)
			expired = append(expired, sess)
		}
	}
	remaining := len(s.registry.sessions)
	s.registry.mu.Unlock()

	for _, sess := range expired {
		s.closed(sess, "expired", "session timeout", false)
	}
	idle := s.pool.CloseIdleOlderThan(s.cfg.Pool.IdleTimeout)

	if len(expired) > 0 || idle > 0 {
		s.logger.Info("cleaned up expired sessions",
			"count", len(expired),
			"pool_idle_closed", idle,
			"remaining", remaining)
	}
	return len(expired)
}
