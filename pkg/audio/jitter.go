package audio

import (
	"sync"
	"time"
)

// DefaultJitterCapacity is the default amount of buffered playback audio a
// [JitterBuffer] holds before rejecting writes.
const DefaultJitterCapacity = 30 * time.Second

// JitterBuffer is a bounded byte-level FIFO that absorbs arrival-rate
// jitter between the network and the audio output device. The decode stage
// writes whole PCM chunks; the playback drain reads at the device's pace.
//
// The buffer never blocks a writer: a write that would exceed the capacity
// is rejected in full and the chunk is dropped, favoring continuity over
// completeness. Reads always return the oldest buffered bytes first.
//
// All methods are safe for concurrent use.
type JitterBuffer struct {
	format Format

	mu      sync.Mutex
	ring    []byte
	head    int // index of the oldest unread byte
	length  int // bytes currently buffered
	dropped uint64
}

// NewJitterBuffer creates a buffer holding up to capacity of audio in the
// given format. A non-positive capacity uses [DefaultJitterCapacity].
func NewJitterBuffer(format Format, capacity time.Duration) *JitterBuffer {
	if capacity <= 0 {
		capacity = DefaultJitterCapacity
	}
	return &JitterBuffer{
		format: format,
		ring:   make([]byte, format.BytesFor(capacity)),
	}
}

// Write appends pcm to the buffer. It reports whether the chunk was
// accepted: when the chunk would exceed the remaining capacity it is
// dropped whole (no partial writes) and Write returns false. Write never
// blocks.
func (b *JitterBuffer) Write(pcm []byte) bool {
	if len(pcm) == 0 {
		return true
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.length+len(pcm) > len(b.ring) {
		b.dropped++
		return false
	}

	tail := (b.head + b.length) % len(b.ring)
	n := copy(b.ring[tail:], pcm)
	if n < len(pcm) {
		copy(b.ring, pcm[n:])
	}
	b.length += len(pcm)
	return true
}

// Read copies up to len(p) of the oldest buffered bytes into p and returns
// the number of bytes copied. It returns 0 immediately when the buffer is
// empty; it never blocks waiting for data.
func (b *JitterBuffer) Read(p []byte) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := min(len(p), b.length)
	if n == 0 {
		return 0
	}

	c := copy(p[:n], b.ring[b.head:min(b.head+n, len(b.ring))])
	if c < n {
		copy(p[c:n], b.ring)
	}
	b.head = (b.head + n) % len(b.ring)
	b.length -= n
	return n
}

// Flush discards all buffered audio. Used when the remote interrupts the
// current model turn: already-queued speech must not keep playing.
func (b *JitterBuffer) Flush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.head = 0
	b.length = 0
}

// Buffered returns the number of bytes currently buffered.
func (b *JitterBuffer) Buffered() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.length
}

// BufferedMs returns the play time of the currently buffered audio in
// milliseconds. This is the primary instrumentation signal for network
// stalls: a stalled feed degrades BufferedMs rather than failing the
// session.
func (b *JitterBuffer) BufferedMs() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.format.Duration(b.length).Milliseconds()
}

// Dropped returns the number of chunks rejected because the buffer was
// full.
func (b *JitterBuffer) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}
