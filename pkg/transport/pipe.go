package transport

import (
	"context"
	"net/http"
	"os"
	"sync"
	"time"
)

type pipeItemKind uint8

const (
	pipeData pipeItemKind = iota
	pipePing
	pipePong
	pipeClose
)

type pipeItem struct {
	kind pipeItemKind
	data []byte
}

// pipeInbox is an unbounded, ordered queue of items for one end.
type pipeInbox struct {
	mu     sync.Mutex
	items  []pipeItem
	closed bool
	wake   chan struct{}
}

func newPipeInbox() *pipeInbox {
	return &pipeInbox{wake: make(chan struct{}, 1)}
}

func (q *pipeInbox) push(it pipeItem) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, it)
	q.mu.Unlock()
	q.signal()
	return true
}

func (q *pipeInbox) close() {
	q.mu.Lock()
	q.closed = true
	q.items = nil
	q.mu.Unlock()
	q.signal()
}

func (q *pipeInbox) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// PipeConn is one end of an in-memory connection created by Pipe. It keeps
// message order, delivers a close to the peer after any messages written
// before it, and answers pings with pongs while the receiving end is
// reading, the way a WebSocket library does.
type PipeConn struct {
	inbox *pipeInbox
	peer  *PipeConn
	addr  string

	mu           sync.Mutex
	pongHandler  func([]byte)
	readDeadline time.Time
	autoPong     bool
	closed       bool
}

// Pipe returns two connected in-memory Conns.
func Pipe() (*PipeConn, *PipeConn) {
	a := &PipeConn{inbox: newPipeInbox(), addr: "pipe-a", autoPong: true}
	b := &PipeConn{inbox: newPipeInbox(), addr: "pipe-b", autoPong: true}
	a.peer, b.peer = b, a
	return a, b
}

// SetAutoPong controls whether pings received by this end are answered.
// Disabling it simulates a peer that stopped responding.
func (p *PipeConn) SetAutoPong(enabled bool) {
	p.mu.Lock()
	p.autoPong = enabled
	p.mu.Unlock()
}

// ReadMessage implements Conn.
func (p *PipeConn) ReadMessage() ([]byte, error) {
	for {
		it, err := p.next()
		if err != nil {
			return nil, err
		}
		switch it.kind {
		case pipeData:
			return it.data, nil
		case pipeClose:
			p.markClosed()
			return nil, ErrClosed
		case pipePing:
			p.mu.Lock()
			answer := p.autoPong
			p.mu.Unlock()
			if answer {
				p.peer.inbox.push(pipeItem{kind: pipePong, data: it.data})
			}
		case pipePong:
			p.mu.Lock()
			h := p.pongHandler
			p.mu.Unlock()
			if h != nil {
				h(it.data)
			}
		}
	}
}

// next blocks until an item is available, the inbox closes, or the read
// deadline passes.
func (p *PipeConn) next() (pipeItem, error) {
	for {
		q := p.inbox
		q.mu.Lock()
		if len(q.items) > 0 {
			it := q.items[0]
			q.items[0] = pipeItem{}
			q.items = q.items[1:]
			q.mu.Unlock()
			return it, nil
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return pipeItem{}, ErrClosed
		}

		p.mu.Lock()
		deadline := p.readDeadline
		p.mu.Unlock()

		var timeout <-chan time.Time
		if !deadline.IsZero() {
			d := time.Until(deadline)
			if d <= 0 {
				return pipeItem{}, os.ErrDeadlineExceeded
			}
			timer := time.NewTimer(d)
			timeout = timer.C
			select {
			case <-q.wake:
				timer.Stop()
			case <-timeout:
				return pipeItem{}, os.ErrDeadlineExceeded
			}
			continue
		}
		<-q.wake
	}
}

func (p *PipeConn) markClosed() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.inbox.close()
}

func (p *PipeConn) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// WriteMessage implements Conn. The data is copied.
func (p *PipeConn) WriteMessage(data []byte) error {
	if p.isClosed() {
		return ErrClosed
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	if !p.peer.inbox.push(pipeItem{kind: pipeData, data: cp}) {
		return ErrClosed
	}
	return nil
}

// Ping implements Conn.
func (p *PipeConn) Ping(payload []byte) error {
	if p.isClosed() {
		return ErrClosed
	}
	cp := append([]byte(nil), payload...)
	if !p.peer.inbox.push(pipeItem{kind: pipePing, data: cp}) {
		return ErrClosed
	}
	return nil
}

// SetPongHandler implements Conn.
func (p *PipeConn) SetPongHandler(h func(payload []byte)) {
	p.mu.Lock()
	p.pongHandler = h
	p.mu.Unlock()
}

// SetReadDeadline implements Conn.
func (p *PipeConn) SetReadDeadline(t time.Time) error {
	p.mu.Lock()
	p.readDeadline = t
	p.mu.Unlock()
	p.inbox.signal()
	return nil
}

// Close implements Conn. The peer reads any messages already written and
// then sees ErrClosed.
func (p *PipeConn) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.inbox.close()
	p.peer.inbox.push(pipeItem{kind: pipeClose})
	return nil
}

// RemoteAddr implements Conn.
func (p *PipeConn) RemoteAddr() string {
	return p.peer.addr
}

// PipeDialer dials in-memory connections. Each Dial creates a Pipe and hands
// the far end to Accept on a new goroutine.
type PipeDialer struct {
	Accept func(Conn)
}

// Dial implements Dialer.
func (d *PipeDialer) Dial(ctx context.Context, url string, header http.Header) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	client, server := Pipe()
	go d.Accept(server)
	return client, nil
}
