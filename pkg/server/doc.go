// Package server implements the wsession server: a registry of logical
// sessions that survive socket loss.
//
// # Lifecycle
//
// The first frame on a socket must be Connect or Reconnect. Connect creates
// a session (replacing any session with the same id). Reconnect rebinds an
// existing session and replays every retained Data frame with an id above
// the client's lastMessageId, in order, before any live traffic. A
// Reconnect for an unknown or expired session is handed to the
// ResumePolicy.
//
// An abrupt close detaches the socket but keeps the session for
// SessionTimeout. Data sent meanwhile is buffered. An explicit Disconnect,
// CloseSession or the expiry sweep destroys it.
//
// # Buffering
//
// Each session retains its most recent outbound Data frames, bounded by
// MaxPendingMessages and MaxPendingBytes. When the buffer is full the
// oldest frames are dropped. A resuming client that needed a dropped frame
// first receives an Error frame with code ReplayIncomplete.
//
// # Usage
//
//	srv := server.New(server.DefaultConfig())
//	srv.OnMessage(func(m server.Message) {
//	    srv.Broadcast(m.Payload, m.SessionID)
//	})
//	srv.Start()
//	http.HandleFunc("/ws", srv.HandleWebSocket)
package server
