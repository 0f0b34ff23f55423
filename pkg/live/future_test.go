package live

import (
	"context"
	"errors"
	"testing"
	"time"
)

// TestFuture_FirstResolutionWins verifies single-resolution semantics:
// redundant resolutions are ignored.
func TestFuture_FirstResolutionWins(t *testing.T) {
	t.Parallel()
	f := newFuture()

	want := errors.New("handshake failed")
	f.resolve(want)
	f.resolve(nil)
	f.resolve(errors.New("other"))

	if err := f.await(context.Background()); !errors.Is(err, want) {
		t.Errorf("await = %v, want %v", err, want)
	}
}

// TestFuture_AwaitTimeout verifies that an unresolved future honours the
// observer's deadline.
func TestFuture_AwaitTimeout(t *testing.T) {
	t.Parallel()
	f := newFuture()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := f.await(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("await = %v, want DeadlineExceeded", err)
	}
}

// TestFuture_AwaitAfterResolve verifies that late observers see the
// recorded outcome immediately.
func TestFuture_AwaitAfterResolve(t *testing.T) {
	t.Parallel()
	f := newFuture()
	go f.resolve(nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := f.await(ctx); err != nil {
		t.Errorf("await = %v, want nil", err)
	}
}
