// Package mock provides in-memory mock implementations of the
// [audio.Capture] and [audio.Player] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so
// that tests can assert on call counts and written data, and they expose
// exported fields that the test can set to control behaviour.
//
// Typical usage:
//
//	cap := &mock.Capture{Chunks: [][]byte{pcm1, pcm2}}
//	ch, _ := cap.Start(ctx)
//	...
//	player := &mock.Player{}
//	sess := live.NewSession(tr, cap, player, ...)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/vesta/pkg/audio"
)

// Compile-time interface assertions.
var (
	_ audio.Capture = (*Capture)(nil)
	_ audio.Player  = (*Player)(nil)
)

// ─── Capture ──────────────────────────────────────────────────────────────────

// Capture is a mock implementation of [audio.Capture]. It emits the
// scripted Chunks and then either closes the stream (when CloseAfter is
// true) or keeps it open until Stop or context cancellation.
type Capture struct {
	// Chunks is the scripted PCM sequence emitted after Start, in order.
	Chunks [][]byte

	// Format stamped onto emitted chunks. Defaults to
	// [audio.CaptureFormat] when zero.
	Format audio.Format

	// CloseAfter makes the stream close once all Chunks are emitted,
	// simulating a device read failure or end of stream.
	CloseAfter bool

	// StartError, when non-nil, is returned by Start.
	StartError error

	mu              sync.Mutex
	CallCountStart  int
	CallCountStop   int
	stop            chan struct{}
	stopped         bool
}

// Start implements [audio.Capture].
func (c *Capture) Start(ctx context.Context) (<-chan audio.Chunk, error) {
	c.mu.Lock()
	c.CallCountStart++
	if c.StartError != nil {
		err := c.StartError
		c.mu.Unlock()
		return nil, err
	}
	c.stop = make(chan struct{})
	c.stopped = false
	stop := c.stop
	format := c.Format
	if format.SampleRate == 0 {
		format = audio.CaptureFormat
	}
	chunks := c.Chunks
	c.mu.Unlock()

	out := make(chan audio.Chunk, len(chunks)+1)
	go func() {
		defer close(out)
		for _, pcm := range chunks {
			select {
			case out <- audio.Chunk{Data: pcm, Format: format}:
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}
		if c.CloseAfter {
			return
		}
		select {
		case <-stop:
		case <-ctx.Done():
		}
	}()
	return out, nil
}

// Stop implements [audio.Capture].
func (c *Capture) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountStop++
	if c.stop != nil && !c.stopped {
		close(c.stop)
		c.stopped = true
	}
	return nil
}

// ─── Player ───────────────────────────────────────────────────────────────────

// Player is a mock implementation of [audio.Player] that records all PCM
// written to it.
type Player struct {
	// StartError, when non-nil, is returned by Start.
	StartError error

	// WriteError, when non-nil, is returned by every Write.
	WriteError error

	mu             sync.Mutex
	written        []byte
	CallCountStart int
	CallCountStop  int
	CallCountWrite int
}

// Start implements [audio.Player].
func (p *Player) Start(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CallCountStart++
	return p.StartError
}

// Write implements [audio.Player].
func (p *Player) Write(pcm []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CallCountWrite++
	if p.WriteError != nil {
		return p.WriteError
	}
	p.written = append(p.written, pcm...)
	return nil
}

// Stop implements [audio.Player].
func (p *Player) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CallCountStop++
	return nil
}

// Written returns a copy of all PCM written so far.
func (p *Player) Written() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]byte, len(p.written))
	copy(out, p.written)
	return out
}

// StopCalls returns how many times Stop was called.
func (p *Player) StopCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.CallCountStop
}
