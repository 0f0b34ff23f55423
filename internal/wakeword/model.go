// Package wakeword listens for a spoken wake phrase on the microphone.
//
// A [Model] is a three-stage inference cascade (mel-spectrogram features,
// embedding, binary classifier) invoked once per fixed-size audio frame.
// The [Detector] reassembles arbitrarily-sized capture chunks into those
// frames, suppresses scores during a warm-up window while the model's
// rolling accumulators fill, and fires exactly once when the score
// crosses the configured threshold.
package wakeword

// Audio geometry shared by every model backend.
const (
	// SampleRate is the capture rate the models were trained on.
	SampleRate = 16000
	// FrameSamples is the fixed per-inference frame size, 80 ms at 16 kHz.
	FrameSamples = 1280
	// FrameBytes is the byte length of one frame of s16le samples.
	FrameBytes = FrameSamples * 2
)

// Model scores successive audio frames for the wake phrase. Implementations
// keep rolling mel-frame and embedding history across calls; the history
// persists until [Model.ResetAccumulators] clears it or [Model.Close]
// releases the backend.
//
// Model implementations are not safe for concurrent use; the Detector
// calls them from a single goroutine.
type Model interface {
	// ProcessFrame scores one frame of exactly [FrameSamples] s16
	// samples, returning a value in [0, 1]. While the rolling history is
	// still filling the returned score is the most recent available one.
	ProcessFrame(frame []int16) (float32, error)

	// ResetAccumulators clears all rolling history. Must be called when a
	// fresh listening session begins so stale context does not bias the
	// first scores.
	ResetAccumulators()

	// Close releases the backend. The model must not be used afterwards.
	Close() error
}
