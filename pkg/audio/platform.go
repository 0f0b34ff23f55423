// Package audio defines the types and interfaces for audio device
// connectivity and stream plumbing within Vesta.
//
// The two primary abstractions are:
//
//   - [Capture] — opens the microphone and emits a continuous sequence of
//     PCM [Chunk] values until stopped.
//   - [Player] — opens the output device and drains PCM written to it.
//
// Implementations of these interfaces are provided by device-specific
// adapter packages (e.g., audio/miniaudio) and by audio/mock for tests.
// The interfaces are intentionally narrow to keep the session orchestrator
// decoupled from device details.
//
// This package lives under pkg/ because external code (alternative device
// backends) is expected to implement [Capture] and [Player].
package audio

import "context"

// Capture opens a microphone at a fixed format and emits PCM chunks.
//
// Implementations must be safe for concurrent use and must tolerate
// repeated Start/Stop cycles without leaking the underlying device handle.
type Capture interface {
	// Start opens the device and returns a channel of captured chunks.
	// The channel is closed when the capture ends: on Stop, on ctx
	// cancellation, or when a device read fails. A device read failure
	// ends the sequence as a recoverable stream failure, not a crash —
	// callers may Start again.
	Start(ctx context.Context) (<-chan Chunk, error)

	// Stop ends the capture and releases the device. Safe to call more
	// than once, and safe to call even if Start never completed.
	Stop() error
}

// Player opens an output device at a fixed format and drains PCM written
// to it.
//
// Implementations must be safe for concurrent use and must tolerate
// repeated Start/Stop cycles without leaking the underlying device handle.
type Player interface {
	// Start opens the output device. Subsequent Write calls deliver PCM
	// to it. Pacing is the device's concern: when the device's internal
	// buffer is full, Write blocks until space frees up.
	Start(ctx context.Context) error

	// Write queues PCM for playback. Returns an error only on device
	// failure; a stopped player drops the data silently.
	Write(pcm []byte) error

	// Stop ends playback and releases the device. Safe to call more than
	// once, and safe to call even if Start never completed.
	Stop() error
}
