package audio

import (
	"encoding/base64"
	"log/slog"
	"sync"
	"time"
)

// DefaultDecodeQueueCapacity is the default amount of undecoded audio the
// [DecodeStage] queue holds. Sized generously because the remote generates
// audio faster than real time.
const DefaultDecodeQueueCapacity = 50 * time.Second

// typicalChunk is the assumed play time of one transport chunk, used only
// to convert the queue capacity from a duration into a slot count.
const typicalChunk = 250 * time.Millisecond

// DecodeStage decodes transport-encoded audio payloads off the message
// receive path and writes the resulting PCM into a [JitterBuffer].
//
// Decode cost (and its variance) must never stall the receive loop, so
// [DecodeStage.Enqueue] is non-blocking: when the bounded queue is full the
// new chunk is dropped with a warning (drop-newest — chunks already queued
// are older and must play first, so the freshest arrival is the one
// sacrificed). A decoded chunk that the JitterBuffer rejects is likewise
// dropped rather than blocking the worker.
type DecodeStage struct {
	out   *JitterBuffer
	queue chan string

	mu      sync.Mutex
	dropped uint64
	started bool

	stopOnce sync.Once
	done     chan struct{}
	finished chan struct{}
}

// NewDecodeStage creates a stage writing decoded PCM into out. capacity
// bounds the undecoded queue; non-positive uses
// [DefaultDecodeQueueCapacity].
func NewDecodeStage(out *JitterBuffer, capacity time.Duration) *DecodeStage {
	if capacity <= 0 {
		capacity = DefaultDecodeQueueCapacity
	}
	slots := int(capacity / typicalChunk)
	if slots < 1 {
		slots = 1
	}
	return &DecodeStage{
		out:      out,
		queue:    make(chan string, slots),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
	}
}

// Start launches the decode worker. It may be called once; subsequent
// calls are no-ops.
func (d *DecodeStage) Start() {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return
	}
	d.started = true
	d.mu.Unlock()

	go d.run()
}

// Enqueue hands a transport-encoded (base64) audio payload to the decode
// worker. It never blocks: when the queue is full the chunk is dropped and
// a warning is logged.
func (d *DecodeStage) Enqueue(encoded string) {
	select {
	case <-d.done:
		return
	default:
	}

	select {
	case d.queue <- encoded:
	default:
		d.mu.Lock()
		d.dropped++
		n := d.dropped
		d.mu.Unlock()
		slog.Warn("audio: decode queue full, dropping chunk", "dropped_total", n)
	}
}

// Dropped returns the number of chunks rejected because the queue was
// full.
func (d *DecodeStage) Dropped() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dropped
}

// QueueDepth returns the number of chunks currently awaiting decode.
func (d *DecodeStage) QueueDepth() int { return len(d.queue) }

// Close stops the worker. Chunks still queued are abandoned. Idempotent.
func (d *DecodeStage) Close() {
	d.stopOnce.Do(func() { close(d.done) })

	d.mu.Lock()
	started := d.started
	d.mu.Unlock()
	if started {
		<-d.finished
	}
}

func (d *DecodeStage) run() {
	defer close(d.finished)

	for {
		select {
		case <-d.done:
			return
		case encoded := <-d.queue:
			pcm, err := base64.StdEncoding.DecodeString(encoded)
			if err != nil {
				// A corrupt chunk costs one chunk, never the stream.
				slog.Warn("audio: dropping undecodable chunk", "err", err)
				continue
			}
			if len(pcm) == 0 {
				continue
			}
			if !d.out.Write(pcm) {
				slog.Warn("audio: jitter buffer full, dropping decoded chunk",
					"chunk_bytes", len(pcm),
					"buffered_ms", d.out.BufferedMs(),
				)
			}
		}
	}
}
