// Package tflite implements the wake-word model cascade on TensorFlow
// Lite via github.com/mattn/go-tflite, for deployments shipping .tflite
// model files instead of ONNX. The tensor geometry matches the ONNX
// backend so the two are interchangeable.
package tflite

import (
	"fmt"
	"sync"

	"github.com/mattn/go-tflite"

	"github.com/MrWong99/vesta/internal/wakeword"
)

var _ wakeword.Model = (*Model)(nil)

const (
	melBins       = 32
	melFrames     = 5
	melWindowSize = 76
	melStepSize   = 8
	embeddingDim  = 96
	embedFrames   = 16
)

// Config names the model files for a [Model].
type Config struct {
	MelspecPath    string
	EmbeddingPath  string
	ClassifierPath string
	// Threads sets the interpreter thread count. Defaults to 1; wake-word
	// models are small enough that one thread keeps latency predictable.
	Threads int
}

// stage wraps one loaded interpreter with its model handle.
type stage struct {
	model  *tflite.Model
	interp *tflite.Interpreter
}

func newStage(path string, threads int) (*stage, error) {
	model := tflite.NewModelFromFile(path)
	if model == nil {
		return nil, fmt.Errorf("load model %q", path)
	}
	options := tflite.NewInterpreterOptions()
	options.SetNumThread(threads)
	defer options.Delete()

	interp := tflite.NewInterpreter(model, options)
	if interp == nil {
		model.Delete()
		return nil, fmt.Errorf("create interpreter for %q", path)
	}
	if status := interp.AllocateTensors(); status != tflite.OK {
		interp.Delete()
		model.Delete()
		return nil, fmt.Errorf("allocate tensors for %q: status %d", path, status)
	}
	return &stage{model: model, interp: interp}, nil
}

// run copies in into the stage's first input tensor, invokes the
// interpreter and copies the first output tensor into out.
func (s *stage) run(in, out []float32) error {
	input := s.interp.GetInputTensor(0)
	if got := input.Float32s(); len(got) >= len(in) {
		copy(got, in)
	} else {
		return fmt.Errorf("input tensor holds %d floats, need %d", len(input.Float32s()), len(in))
	}
	if status := s.interp.Invoke(); status != tflite.OK {
		return fmt.Errorf("invoke: status %d", status)
	}
	output := s.interp.GetOutputTensor(0)
	if got := output.Float32s(); len(got) >= len(out) {
		copy(out, got)
	} else {
		return fmt.Errorf("output tensor holds %d floats, need %d", len(output.Float32s()), len(out))
	}
	return nil
}

func (s *stage) close() {
	if s == nil {
		return
	}
	if s.interp != nil {
		s.interp.Delete()
	}
	if s.model != nil {
		s.model.Delete()
	}
}

// Model is the TensorFlow Lite backend for the wake-word cascade.
type Model struct {
	melspec *stage
	embed   *stage
	class   *stage

	melScratch   []float32
	embedScratch []float32

	melBuffer   []float32
	embedBuffer []float32
	lastScore   float32

	closeOnce sync.Once
}

// New loads the three cascade models.
func New(cfg Config) (m *Model, err error) {
	threads := cfg.Threads
	if threads <= 0 {
		threads = 1
	}

	m = &Model{
		melScratch:   make([]float32, melFrames*melBins),
		embedScratch: make([]float32, embeddingDim),
		melBuffer:    make([]float32, 0, 4*melWindowSize*melBins),
		embedBuffer:  make([]float32, embedFrames*embeddingDim),
	}
	defer func() {
		if err != nil {
			_ = m.Close()
		}
	}()

	if m.melspec, err = newStage(cfg.MelspecPath, threads); err != nil {
		return nil, fmt.Errorf("tflite: melspectrogram model: %w", err)
	}
	if m.embed, err = newStage(cfg.EmbeddingPath, threads); err != nil {
		return nil, fmt.Errorf("tflite: embedding model: %w", err)
	}
	if m.class, err = newStage(cfg.ClassifierPath, threads); err != nil {
		return nil, fmt.Errorf("tflite: classifier model: %w", err)
	}
	return m, nil
}

// ProcessFrame implements [wakeword.Model].
func (m *Model) ProcessFrame(frame []int16) (float32, error) {
	if len(frame) != wakeword.FrameSamples {
		return 0, fmt.Errorf("tflite: frame has %d samples, want %d", len(frame), wakeword.FrameSamples)
	}

	in := make([]float32, wakeword.FrameSamples)
	for i, v := range frame {
		in[i] = float32(v)
	}
	if err := m.melspec.run(in, m.melScratch); err != nil {
		return 0, fmt.Errorf("tflite: melspectrogram: %w", err)
	}
	for _, v := range m.melScratch {
		m.melBuffer = append(m.melBuffer, v/10.0+2.0)
	}

	for len(m.melBuffer) >= melWindowSize*melBins {
		if err := m.embed.run(m.melBuffer[:melWindowSize*melBins], m.embedScratch); err != nil {
			return 0, fmt.Errorf("tflite: embedding: %w", err)
		}

		copy(m.embedBuffer, m.embedBuffer[embeddingDim:])
		copy(m.embedBuffer[(embedFrames-1)*embeddingDim:], m.embedScratch)

		n := copy(m.melBuffer, m.melBuffer[melStepSize*melBins:])
		m.melBuffer = m.melBuffer[:n]

		var score [1]float32
		if err := m.class.run(m.embedBuffer, score[:]); err != nil {
			return 0, fmt.Errorf("tflite: classifier: %w", err)
		}
		m.lastScore = score[0]
	}

	return m.lastScore, nil
}

// ResetAccumulators implements [wakeword.Model].
func (m *Model) ResetAccumulators() {
	m.melBuffer = m.melBuffer[:0]
	clear(m.embedBuffer)
	m.lastScore = 0
}

// Close implements [wakeword.Model].
func (m *Model) Close() error {
	m.closeOnce.Do(func() {
		m.class.close()
		m.embed.close()
		m.melspec.close()
	})
	return nil
}
