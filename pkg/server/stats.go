package server

import (
	"sync/atomic"
	"time"

	"github.com/vango-dev/wsession/pkg/pool"
)

// counters are the server-wide totals behind Stats.
type counters struct {
	sessionsCreated   atomic.Uint64
	messagesSent      atomic.Uint64
	messagesReceived  atomic.Uint64
	bytesSent         atomic.Uint64
	bytesReceived     atomic.Uint64
	broadcasts        atomic.Uint64
	dropped           atomic.Uint64
	duplicates        atomic.Uint64
	protocolErrors    atomic.Uint64
	resumes           atomic.Uint64
	freshFallbacks    atomic.Uint64
	rejectedResumes   atomic.Uint64
	detaches          atomic.Uint64
	handshakeFailures atomic.Uint64
}

// Stats is a point-in-time snapshot of server counters.
type Stats struct {
	// Sessions
	ConnectedSessions int    `json:"connected_sessions"`
	DetachedSessions  int    `json:"detached_sessions"`
	TotalSessions     int    `json:"total_sessions"`
	SessionsCreated   uint64 `json:"sessions_created"`
	Detaches          uint64 `json:"detaches"`

	// Traffic
	MessagesSent     uint64 `json:"messages_sent"`
	MessagesReceived uint64 `json:"messages_received"`
	BytesSent        uint64 `json:"bytes_sent"`
	BytesReceived    uint64 `json:"bytes_received"`
	Broadcasts       uint64 `json:"broadcasts"`

	// Buffering
	BufferedMessages int    `json:"buffered_messages"`
	DroppedMessages  uint64 `json:"dropped_messages"`

	// Errors
	DuplicateMessages uint64 `json:"duplicate_messages"`
	ProtocolErrors    uint64 `json:"protocol_errors"`
	HandshakeFailures uint64 `json:"handshake_failures"`

	// Resumption
	Resumes         uint64 `json:"resumes"`
	FreshFallbacks  uint64 `json:"fresh_fallbacks"`
	RejectedResumes uint64 `json:"rejected_resumes"`

	Uptime      time.Duration `json:"uptime_ns"`
	Pool        pool.Stats    `json:"pool"`
	CollectedAt time.Time     `json:"collected_at"`
}

// Stats collects server statistics.
func (s *Server) Stats() Stats {
	now := s.now()
	st := Stats{
		SessionsCreated:   s.stats.sessionsCreated.Load(),
		Detaches:          s.stats.detaches.Load(),
		MessagesSent:      s.stats.messagesSent.Load(),
		MessagesReceived:  s.stats.messagesReceived.Load(),
		BytesSent:         s.stats.bytesSent.Load(),
		BytesReceived:     s.stats.bytesReceived.Load(),
		Broadcasts:        s.stats.broadcasts.Load(),
		DroppedMessages:   s.stats.dropped.Load(),
		DuplicateMessages: s.stats.duplicates.Load(),
		ProtocolErrors:    s.stats.protocolErrors.Load(),
		HandshakeFailures: s.stats.handshakeFailures.Load(),
		Resumes:           s.stats.resumes.Load(),
		FreshFallbacks:    s.stats.freshFallbacks.Load(),
		RejectedResumes:   s.stats.rejectedResumes.Load(),
		Uptime:            now.Sub(s.startedAt),
		Pool:              s.pool.Stats(),
		CollectedAt:       now,
	}

	for _, sess := range s.registry.Snapshot() {
		sess.mu.Lock()
		if sess.conn != nil {
			st.ConnectedSessions++
		} else {
			st.DetachedSessions++
		}
		st.BufferedMessages += sess.pending.Unsent()
		sess.mu.Unlock()
	}
	st.TotalSessions = st.ConnectedSessions + st.DetachedSessions
	return st
}
