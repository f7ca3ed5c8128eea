package server

import "time"

// PendingEntry is one Data frame retained for replay.
type PendingEntry struct {
	ID      uint64 // Data message id stamped into Frame
	Frame   []byte // Encoded Data frame, ready to write
	Sent    bool   // Whether the frame was written to a live socket
	AddedAt time.Time
}

// PendingBuffer retains recent outbound Data frames so a resuming client
// can be brought up to date. It holds frames written while the session was
// detached and, so that frames lost in flight just before an abrupt close
// can be recovered, recently written ones too.
//
// The buffer is bounded by frame count and total frame bytes. When either
// cap is exceeded the oldest frames are dropped first; a resume that needed
// a dropped frame is reported as lossy.
//
// PendingBuffer is not safe for concurrent use; the owning Session guards it.
type PendingBuffer struct {
	entries  []PendingEntry
	bytes    int
	maxLen   int
	maxBytes int

	// Highest id ever dropped for capacity. A resume from below it has a gap.
	droppedThrough uint64
	dropped        uint64 // unsent frames lost to capacity
}

// NewPendingBuffer creates a buffer holding at most maxLen frames and
// maxBytes frame bytes. Non-positive limits use the server defaults.
func NewPendingBuffer(maxLen, maxBytes int) *PendingBuffer {
	def := DefaultConfig()
	if maxLen <= 0 {
		maxLen = def.MaxPendingMessages
	}
	if maxBytes <= 0 {
		maxBytes = def.MaxPendingBytes
	}
	return &PendingBuffer{maxLen: maxLen, maxBytes: maxBytes}
}

// Add appends a frame. Ids must be added in increasing order. It returns
// the number of unsent frames dropped to make room; evicting frames that
// already reached a live socket is routine and not counted.
func (b *PendingBuffer) Add(e PendingEntry) (droppedUnsent int) {
	b.entries = append(b.entries, e)
	b.bytes += len(e.Frame)

	for len(b.entries) > b.maxLen || (b.bytes > b.maxBytes && len(b.entries) > 1) {
		old := b.entries[0]
		b.entries[0] = PendingEntry{}
		b.entries = b.entries[1:]
		b.bytes -= len(old.Frame)
		b.droppedThrough = old.ID
		if !old.Sent {
			droppedUnsent++
			b.dropped++
		}
	}
	return droppedUnsent
}

// After returns the frames with id > lastID in ascending order. gap is true
// when a frame the caller needs was dropped for capacity.
func (b *PendingBuffer) After(lastID uint64) (frames [][]byte, gap bool) {
	gap = b.droppedThrough > lastID
	for _, e := range b.entries {
		if e.ID > lastID {
			frames = append(frames, e.Frame)
		}
	}
	return frames, gap
}

// Ack discards frames with id <= lastID; the client has them.
func (b *PendingBuffer) Ack(lastID uint64) {
	n := 0
	for n < len(b.entries) && b.entries[n].ID <= lastID {
		b.bytes -= len(b.entries[n].Frame)
		b.entries[n] = PendingEntry{}
		n++
	}
	b.entries = b.entries[n:]
}

// MarkSent flags every retained frame as written.
func (b *PendingBuffer) MarkSent() {
	for i := range b.entries {
		b.entries[i].Sent = true
	}
}

// Len returns the number of retained frames.
func (b *PendingBuffer) Len() int {
	return len(b.entries)
}

// Unsent returns the number of retained frames never written to a socket.
func (b *PendingBuffer) Unsent() int {
	n := 0
	for _, e := range b.entries {
		if !e.Sent {
			n++
		}
	}
	return n
}

// Bytes returns the total size of retained frames.
func (b *PendingBuffer) Bytes() int {
	return b.bytes
}

// Dropped returns the number of unsent frames lost to capacity.
func (b *PendingBuffer) Dropped() uint64 {
	return b.dropped
}

// Clear removes all frames.
func (b *PendingBuffer) Clear() {
	b.entries = nil
	b.bytes = 0
}
