// Package app ties wake-word listening to conversation sessions. The
// microphone has exactly one consumer at a time: while idle the detector
// listens for the wake phrase; on detection it is stopped and a
// conversation session takes over; when the session ends, listening
// resumes from clean accumulators.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/vesta/internal/observe"
	"github.com/MrWong99/vesta/pkg/live"
)

// DefaultSessionBackoff is the pause before retrying after a failed
// conversation session.
const DefaultSessionBackoff = 3 * time.Second

// bufferedGaugeInterval paces how often the playback buffer depth is
// reported while a session is active.
const bufferedGaugeInterval = time.Second

// Conversation is the slice of [live.Session] the supervisor drives.
type Conversation interface {
	Start(ctx context.Context) error
	Events() <-chan live.Event
	Done() <-chan struct{}
	Err() error
	BufferedMs() int64
	DroppedChunks() (decodeDrops, jitterDrops uint64)
	Close() error
}

// Detector blocks until the wake phrase is heard or its context is
// cancelled, as [wakeword.Detector.Run] does.
type Detector interface {
	Run(ctx context.Context) error
}

// SessionFactory builds a fresh conversation per wake. Sessions are
// single-use, so the supervisor needs a new one each time.
type SessionFactory func() (Conversation, error)

// Option is a functional option for configuring an [App].
type Option func(*App)

// WithSessionBackoff sets the pause before retrying after a session
// failure.
func WithSessionBackoff(d time.Duration) Option {
	return func(a *App) {
		if d > 0 {
			a.backoff = d
		}
	}
}

// WithMetrics replaces the metrics instance. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) {
		if m != nil {
			a.metrics = m
		}
	}
}

// App supervises the listen → converse → listen loop.
type App struct {
	newSession SessionFactory
	detector   Detector
	backoff    time.Duration
	metrics    *observe.Metrics
}

// New creates a supervisor. detector may be nil, in which case
// conversations start immediately, back to back — the always-on mode
// used when wake-word detection is disabled.
func New(newSession SessionFactory, detector Detector, opts ...Option) (*App, error) {
	if newSession == nil {
		return nil, fmt.Errorf("app: session factory must not be nil")
	}
	a := &App{
		newSession: newSession,
		detector:   detector,
		backoff:    DefaultSessionBackoff,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	return a, nil
}

// Run loops listening and conversing until ctx is cancelled. Session
// failures are logged and retried after a backoff; only cancellation
// ends the loop.
func (a *App) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if a.detector != nil {
			slog.Info("app: listening for wake phrase")
			if err := a.detector.Run(ctx); err != nil {
				return err
			}
			a.metrics.WakewordDetections.Add(ctx, 1)
		}

		if err := a.runSession(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Error("app: session ended with error", "err", err, "backoff", a.backoff)
			a.metrics.RecordSessionFailure(ctx, "session_error")
			select {
			case <-time.After(a.backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		slog.Info("app: session ended, returning to listening")
	}
}

// runSession drives one conversation from start to finish, relaying its
// events into the log and metrics.
func (a *App) runSession(ctx context.Context) error {
	sess, err := a.newSession()
	if err != nil {
		return fmt.Errorf("app: create session: %w", err)
	}
	defer sess.Close()

	if err := sess.Start(ctx); err != nil {
		return fmt.Errorf("app: start session: %w", err)
	}

	a.metrics.ActiveSessions.Add(ctx, 1)
	defer a.metrics.ActiveSessions.Add(context.WithoutCancel(ctx), -1)

	gauge := time.NewTicker(bufferedGaugeInterval)
	defer gauge.Stop()

	// Drop counters are cumulative on the session, so each tick records
	// only the delta since the previous one.
	var lastDecode, lastJitter uint64
	recordDrops := func() {
		decode, jitter := sess.DroppedChunks()
		a.metrics.RecordDrop(ctx, "decode", int64(decode-lastDecode))
		a.metrics.RecordDrop(ctx, "jitter", int64(jitter-lastJitter))
		lastDecode, lastJitter = decode, jitter
	}
	defer recordDrops()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-sess.Done():
			return sess.Err()

		case <-gauge.C:
			a.metrics.PlaybackBufferedMs.Record(ctx, sess.BufferedMs())
			recordDrops()

		case ev, ok := <-sess.Events():
			if !ok {
				continue
			}
			a.handleEvent(ev)
		}
	}
}

func (a *App) handleEvent(ev live.Event) {
	switch ev.Kind {
	case live.EventStateChanged:
		slog.Debug("app: session state changed", "state", ev.State)
	case live.EventTranscript:
		slog.Info("app: transcript", "speaker", ev.Speaker, "text", ev.Text)
	case live.EventInterrupted:
		slog.Debug("app: playback interrupted")
	case live.EventTurnComplete:
		slog.Debug("app: turn complete")
	case live.EventServerError:
		slog.Warn("app: server error", "err", ev.Err)
	}
}
