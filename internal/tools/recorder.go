package tools

import (
	"sync"
	"time"
)

// Invocation captures one completed tool call for inspection or
// debugging.
type Invocation struct {
	CallID   string
	Name     string
	Args     string
	Result   string
	Error    string
	Duration time.Duration
}

// Recorder keeps an in-memory history of tool invocations. Each session
// owns its own recorder instance; there is no shared global history.
// Safe for concurrent use.
type Recorder struct {
	mu      sync.Mutex
	history []Invocation
	limit   int
}

// DefaultRecorderLimit bounds how many invocations a recorder retains
// before discarding the oldest.
const DefaultRecorderLimit = 256

// NewRecorder creates a recorder retaining up to limit invocations. A
// non-positive limit falls back to [DefaultRecorderLimit].
func NewRecorder(limit int) *Recorder {
	if limit <= 0 {
		limit = DefaultRecorderLimit
	}
	return &Recorder{limit: limit}
}

// Record appends one invocation, evicting the oldest entry when the
// retention limit is reached.
func (r *Recorder) Record(inv Invocation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.history) >= r.limit {
		r.history = r.history[1:]
	}
	r.history = append(r.history, inv)
}

// Invocations returns a copy of the recorded history, oldest first.
func (r *Recorder) Invocations() []Invocation {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Invocation, len(r.history))
	copy(out, r.history)
	return out
}

// Reset discards the recorded history.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history = nil
}
