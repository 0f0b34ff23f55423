package wakeword

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/vesta/pkg/audio"
)

// ErrStreamEnded indicates the capture stream closed while the detector
// was still listening. The detector restarts listening automatically
// unless its context was cancelled.
var ErrStreamEnded = errors.New("wakeword: capture stream ended")

// Defaults applied by [New] when the corresponding Config field is zero.
const (
	DefaultThreshold      = 0.5
	DefaultWarmupFrames   = 20
	DefaultRestartBackoff = 2 * time.Second
)

// Config tunes a [Detector].
type Config struct {
	// Threshold is the score a frame must exceed for detection to fire.
	Threshold float64
	// WarmupFrames is how many initial frames are scored but can never
	// trigger, giving the rolling accumulators time to fill.
	WarmupFrames int
	// TestMode reports every score via OnScore and suppresses triggering
	// outright. Used for threshold calibration; mutually exclusive with
	// normal detection on the same instance.
	TestMode bool
	// RestartBackoff is the pause before relistening after a stream
	// failure.
	RestartBackoff time.Duration

	// OnScore, when set, receives every computed score, warm-up included.
	OnScore func(score float32)
	// OnDetected, when set, is called once from the processing goroutine
	// when detection fires.
	OnDetected func(score float32)
}

// Detector drives a [Model] over a microphone capture stream. It is
// single-shot: [Detector.Run] returns after the first detection, and the
// caller restarts it for the next listening session.
type Detector struct {
	cfg     Config
	model   Model
	capture audio.Capture
}

// New creates a detector scoring frames from capture against model.
func New(model Model, capture audio.Capture, cfg Config) (*Detector, error) {
	if model == nil {
		return nil, fmt.Errorf("wakeword: model must not be nil")
	}
	if capture == nil {
		return nil, fmt.Errorf("wakeword: capture must not be nil")
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.WarmupFrames <= 0 {
		cfg.WarmupFrames = DefaultWarmupFrames
	}
	if cfg.RestartBackoff <= 0 {
		cfg.RestartBackoff = DefaultRestartBackoff
	}
	return &Detector{cfg: cfg, model: model, capture: capture}, nil
}

// Run listens until the wake phrase is detected or ctx is cancelled.
// It returns nil after a detection, ctx.Err() on cancellation. Stream
// failures are not returned: listening restarts from clean accumulators
// after a backoff. In test mode Run only returns on cancellation.
func (d *Detector) Run(ctx context.Context) error {
	for {
		err := d.listenOnce(ctx)
		switch {
		case err == nil:
			return nil
		case ctx.Err() != nil:
			return ctx.Err()
		default:
			slog.Warn("wakeword: listening failed, restarting", "err", err, "backoff", d.cfg.RestartBackoff)
			select {
			case <-time.After(d.cfg.RestartBackoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// listenOnce runs one listening session over a fresh capture stream.
// It returns nil when detection fired, or an error describing why the
// session ended without one.
func (d *Detector) listenOnce(ctx context.Context) error {
	d.model.ResetAccumulators()

	chunks, err := d.capture.Start(ctx)
	if err != nil {
		return fmt.Errorf("wakeword: start capture: %w", err)
	}
	defer func() {
		if err := d.capture.Stop(); err != nil {
			slog.Warn("wakeword: stop capture", "err", err)
		}
	}()

	var (
		frame     = make([]int16, 0, FrameSamples)
		remainder byte
		haveRem   bool
		processed int
	)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case chunk, ok := <-chunks:
			if !ok {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return ErrStreamEnded
			}

			pcm := chunk.Data
			// A chunk may split a sample across its boundary.
			if haveRem && len(pcm) > 0 {
				frame = append(frame, int16(binary.LittleEndian.Uint16([]byte{remainder, pcm[0]})))
				pcm = pcm[1:]
				haveRem = false
			}
			for len(pcm) >= 2 {
				frame = append(frame, int16(binary.LittleEndian.Uint16(pcm[:2])))
				pcm = pcm[2:]

				if len(frame) < FrameSamples {
					continue
				}
				done, err := d.processFrame(frame, &processed)
				frame = frame[:0]
				if err != nil {
					slog.Warn("wakeword: frame inference failed", "err", err)
					continue
				}
				if done {
					return nil
				}
			}
			if len(pcm) == 1 {
				remainder = pcm[0]
				haveRem = true
			}
		}
	}
}

// processFrame scores one complete frame and decides whether detection
// fires. done is true only post-warm-up, outside test mode, at or above
// the threshold.
func (d *Detector) processFrame(frame []int16, processed *int) (done bool, err error) {
	score, err := d.model.ProcessFrame(frame)
	if err != nil {
		return false, err
	}
	*processed++

	if d.cfg.OnScore != nil {
		d.cfg.OnScore(score)
	}
	if d.cfg.TestMode || *processed <= d.cfg.WarmupFrames {
		return false, nil
	}
	if float64(score) > d.cfg.Threshold {
		slog.Info("wakeword: detected", "score", score, "frames", *processed)
		if d.cfg.OnDetected != nil {
			d.cfg.OnDetected(score)
		}
		return true, nil
	}
	return false, nil
}
