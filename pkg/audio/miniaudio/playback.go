package miniaudio

import (
	"context"
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/MrWong99/vesta/pkg/audio"
)

// playerBufferMs bounds the PCM staged between Write and the device
// callback. Writers block once it is full, letting the device pace the
// drain.
const playerBufferMs = 500

// PlayerDevice plays PCM in [audio.PlaybackFormat] through an output
// device (the system default unless [WithDeviceName] says otherwise).
type PlayerDevice struct {
	opts options

	mu      sync.Mutex
	cond    *sync.Cond
	mctx    *malgo.AllocatedContext
	device  *malgo.Device
	pending []byte
	maxBuf  int
	stopped bool

	// deviceID backs the pointer handed to malgo's device config; it must
	// stay reachable while the device runs.
	deviceID malgo.DeviceID
}

// NewPlayer returns an unstarted playback device.
func NewPlayer(opts ...Option) *PlayerDevice {
	p := &PlayerDevice{maxBuf: audio.PlaybackFormat.BytesPerMs() * playerBufferMs}
	p.cond = sync.NewCond(&p.mu)
	for _, o := range opts {
		o(&p.opts)
	}
	return p
}

// Start implements [audio.Player].
func (p *PlayerDevice) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.device != nil {
		return fmt.Errorf("miniaudio: player already started")
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("miniaudio: init context: %w", err)
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.SampleRate = uint32(audio.PlaybackFormat.SampleRate)
	cfg.Playback.Format = malgo.FormatS16
	cfg.Playback.Channels = uint32(audio.PlaybackFormat.Channels)
	cfg.Alsa.NoMMap = 1
	if p.opts.deviceName != "" {
		id, err := findDeviceID(mctx, malgo.Playback, p.opts.deviceName)
		if err != nil {
			_ = mctx.Uninit()
			mctx.Free()
			return err
		}
		p.deviceID = id
		cfg.Playback.DeviceID = p.deviceID.Pointer()
	}

	callbacks := malgo.DeviceCallbacks{
		// The device pulls; whatever is pending is handed over and the
		// remainder of the output buffer stays zeroed (silence).
		Data: func(out, _ []byte, _ uint32) {
			p.mu.Lock()
			n := copy(out, p.pending)
			p.pending = p.pending[n:]
			p.mu.Unlock()
			if n > 0 {
				p.cond.Broadcast()
			}
		},
	}

	device, err := malgo.InitDevice(mctx.Context, cfg, callbacks)
	if err != nil {
		_ = mctx.Uninit()
		mctx.Free()
		return fmt.Errorf("miniaudio: init playback device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		_ = mctx.Uninit()
		mctx.Free()
		return fmt.Errorf("miniaudio: start playback device: %w", err)
	}

	p.mctx = mctx
	p.device = device
	p.stopped = false

	go func() {
		<-ctx.Done()
		_ = p.Stop()
	}()

	return nil
}

// Write implements [audio.Player]. It blocks while the staging buffer is
// full — the device's drain rate paces the caller. A stopped player drops
// the data silently.
func (p *PlayerDevice) Write(pcm []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for len(p.pending)+len(pcm) > p.maxBuf {
		if p.stopped || p.device == nil {
			return nil
		}
		p.cond.Wait()
	}
	if p.stopped || p.device == nil {
		return nil
	}
	p.pending = append(p.pending, pcm...)
	return nil
}

// Stop implements [audio.Player]. Releases the device handle; safe to
// call repeatedly and safe when Start never completed.
func (p *PlayerDevice) Stop() error {
	p.mu.Lock()
	if p.stopped && p.device == nil {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	device := p.device
	mctx := p.mctx
	p.device = nil
	p.mctx = nil
	p.pending = nil
	p.cond.Broadcast()
	p.mu.Unlock()

	// Uninit outside the lock: the device callback grabs p.mu and
	// uninit waits for the callback to drain.
	if device != nil {
		device.Uninit()
	}
	if mctx != nil {
		_ = mctx.Uninit()
		mctx.Free()
	}
	return nil
}
