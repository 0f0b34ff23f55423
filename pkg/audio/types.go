package audio

import "time"

// BytesPerSample is the size of one PCM sample on the wire and on the
// device: 16-bit signed little-endian.
const BytesPerSample = 2

// Format describes a fixed PCM stream format. All audio in Vesta is mono
// 16-bit signed little-endian; only the sample rate differs between the
// capture and playback sides.
type Format struct {
	// SampleRate in Hz.
	SampleRate int

	// Channels is the channel count (1 for all Vesta streams).
	Channels int
}

// CaptureFormat is the microphone-side format required by the remote
// service: 16 kHz mono s16le. Fixed by the service contract; never
// renegotiated.
var CaptureFormat = Format{SampleRate: 16000, Channels: 1}

// PlaybackFormat is the model-output format required by the remote
// service: 24 kHz mono s16le. Fixed by the service contract; never
// renegotiated.
var PlaybackFormat = Format{SampleRate: 24000, Channels: 1}

// BytesPerMs returns the number of PCM bytes that represent one millisecond
// of audio in this format.
func (f Format) BytesPerMs() int {
	return f.SampleRate * f.Channels * BytesPerSample / 1000
}

// BytesFor returns the number of PCM bytes that represent d of audio in
// this format.
func (f Format) BytesFor(d time.Duration) int {
	return int(d.Milliseconds()) * f.BytesPerMs()
}

// Duration returns the play time of n PCM bytes in this format.
func (f Format) Duration(n int) time.Duration {
	bpm := f.BytesPerMs()
	if bpm == 0 {
		return 0
	}
	return time.Duration(n/bpm) * time.Millisecond
}

// Chunk is a single immutable PCM buffer flowing through the pipeline.
// Chunk sizes vary with device buffer sizes; consumers that need an exact
// sample count (the wake-word detector) reassemble chunks themselves.
type Chunk struct {
	// Data is raw PCM in the stream's [Format]. Never mutated after
	// production.
	Data []byte

	// Format of the PCM data.
	Format Format

	// Timestamp marks when this chunk was captured, relative to stream start.
	Timestamp time.Duration
}
