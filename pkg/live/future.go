package live

import (
	"context"
	"sync"
)

// future is a single-resolution synchronization point: created fresh per
// connection attempt, resolved exactly once with success or failure, and
// observed with a deadline. Redundant resolutions are ignored, which lets
// the opener and the receive loop race to report a handshake outcome
// without coordination.
type future struct {
	once sync.Once
	done chan struct{}
	err  error
}

func newFuture() *future {
	return &future{done: make(chan struct{})}
}

// resolve records the outcome. Only the first call wins.
func (f *future) resolve(err error) {
	f.once.Do(func() {
		f.err = err
		close(f.done)
	})
}

// await blocks until the future resolves or ctx expires, returning the
// resolution error or the context's error respectively.
func (f *future) await(ctx context.Context) error {
	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
