// Package miniaudio implements the [audio.Capture] and [audio.Player]
// interfaces on top of miniaudio via github.com/gen2brain/malgo.
//
// miniaudio resamples internally when the hardware does not natively
// support the requested rate, so the devices always deliver and accept the
// fixed Vesta formats (16 kHz capture, 24 kHz playback). miniaudio exposes
// no acoustic echo cancellation; on platforms where the OS applies AEC to
// the default capture device (macOS voice processing, PipeWire echo-cancel
// modules) it is picked up transparently.
package miniaudio

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/MrWong99/vesta/pkg/audio"
)

// Compile-time interface assertions.
var (
	_ audio.Capture = (*CaptureDevice)(nil)
	_ audio.Player  = (*PlayerDevice)(nil)
)

// captureChanDepth bounds the chunk channel between the device callback
// and the consumer. The callback must never block, so chunks beyond this
// depth are dropped.
const captureChanDepth = 32

// CaptureDevice captures microphone PCM in [audio.CaptureFormat].
type CaptureDevice struct {
	opts options

	mu      sync.Mutex
	mctx    *malgo.AllocatedContext
	device  *malgo.Device
	out     chan audio.Chunk
	stopped bool
	dropped atomic.Uint64

	// deviceID backs the pointer handed to malgo's device config; it must
	// stay reachable while the device runs.
	deviceID malgo.DeviceID
}

// NewCapture returns an unstarted capture device.
func NewCapture(opts ...Option) *CaptureDevice {
	c := &CaptureDevice{}
	for _, o := range opts {
		o(&c.opts)
	}
	return c
}

// Start implements [audio.Capture]. The returned channel closes when the
// device stops: on Stop, on ctx cancellation, or when the backend halts
// the device (treated as a recoverable stream failure).
func (c *CaptureDevice) Start(ctx context.Context) (<-chan audio.Chunk, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.device != nil {
		return nil, fmt.Errorf("miniaudio: capture already started")
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("miniaudio: init context: %w", err)
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.SampleRate = uint32(audio.CaptureFormat.SampleRate)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = uint32(audio.CaptureFormat.Channels)
	cfg.Alsa.NoMMap = 1
	if c.opts.deviceName != "" {
		id, err := findDeviceID(mctx, malgo.Capture, c.opts.deviceName)
		if err != nil {
			_ = mctx.Uninit()
			mctx.Free()
			return nil, err
		}
		c.deviceID = id
		cfg.Capture.DeviceID = c.deviceID.Pointer()
	}

	out := make(chan audio.Chunk, captureChanDepth)
	start := time.Now()

	var closeOnce sync.Once
	closeOut := func() { closeOnce.Do(func() { close(out) }) }

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, raw []byte, _ uint32) {
			if len(raw) == 0 {
				return
			}
			chunk := audio.Chunk{
				Data:      append([]byte(nil), raw...),
				Format:    audio.CaptureFormat,
				Timestamp: time.Since(start),
			}
			select {
			case out <- chunk:
			default:
				// The device callback must never block.
				if n := c.dropped.Add(1); n%100 == 1 {
					slog.Warn("miniaudio: capture consumer slow, dropping chunks", "dropped_total", n)
				}
			}
		},
		Stop: func() {
			// Fires on device halt (unplugged, backend error) and on
			// explicit Stop. Either way the chunk sequence ends.
			closeOut()
		},
	}

	device, err := malgo.InitDevice(mctx.Context, cfg, callbacks)
	if err != nil {
		_ = mctx.Uninit()
		mctx.Free()
		return nil, fmt.Errorf("miniaudio: init capture device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		_ = mctx.Uninit()
		mctx.Free()
		return nil, fmt.Errorf("miniaudio: start capture device: %w", err)
	}

	c.mctx = mctx
	c.device = device
	c.out = out
	c.stopped = false

	go func() {
		<-ctx.Done()
		_ = c.Stop()
	}()

	return out, nil
}

// Stop implements [audio.Capture]. Releases the device handle; safe to
// call repeatedly and safe when Start never completed.
func (c *CaptureDevice) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped || c.device == nil {
		c.stopped = true
		return nil
	}
	c.stopped = true

	c.device.Uninit() // stops the device; fires the Stop callback
	c.device = nil
	if c.mctx != nil {
		_ = c.mctx.Uninit()
		c.mctx.Free()
		c.mctx = nil
	}
	return nil
}

// Dropped returns the number of chunks discarded because the consumer was
// slow.
func (c *CaptureDevice) Dropped() uint64 { return c.dropped.Load() }
