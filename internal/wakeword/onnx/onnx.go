// Package onnx implements the wake-word model cascade on ONNX Runtime
// via github.com/yalue/onnxruntime_go. It follows the openWakeWord
// pipeline: a melspectrogram model turns each 80 ms frame into mel
// frames, an embedding model condenses a window of mel frames into a
// 96-dim vector, and the classifier scores a window of embeddings.
package onnx

import (
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/MrWong99/vesta/internal/wakeword"
)

var _ wakeword.Model = (*Model)(nil)

// Tensor geometry of the openWakeWord models.
const (
	melBins       = 32 // mel bands per spectrogram frame
	melFrames     = 5  // mel frames produced per 1280-sample input
	melWindowSize = 76 // mel frames consumed per embedding
	melStepSize   = 8  // mel frames advanced between embeddings
	embeddingDim  = 96
	embedFrames   = 16 // embeddings consumed per classification
)

// initRuntime loads the ONNX Runtime shared library once per process.
var (
	runtimeOnce sync.Once
	runtimeErr  error
)

func initRuntime(libPath string) error {
	runtimeOnce.Do(func() {
		if libPath != "" {
			ort.SetSharedLibraryPath(libPath)
		}
		runtimeErr = ort.InitializeEnvironment()
	})
	return runtimeErr
}

// Config names the model files for a [Model].
type Config struct {
	// MelspecPath, EmbeddingPath and ClassifierPath locate the three
	// cascade models.
	MelspecPath    string
	EmbeddingPath  string
	ClassifierPath string
	// RuntimeLibPath locates the ONNX Runtime shared library. Loaded once
	// per process; subsequent models reuse the first environment.
	RuntimeLibPath string
}

// Model is the ONNX Runtime backend for the wake-word cascade.
type Model struct {
	melspecIn  *ort.Tensor[float32]
	melspecOut *ort.Tensor[float32]
	melspec    *ort.AdvancedSession

	embedIn  *ort.Tensor[float32]
	embedOut *ort.Tensor[float32]
	embed    *ort.AdvancedSession

	classIn  *ort.Tensor[float32]
	classOut *ort.Tensor[float32]
	class    *ort.AdvancedSession

	// Rolling accumulators.
	melBuffer   []float32 // flattened mel frames, melBins floats each
	embedBuffer []float32 // embedFrames × embeddingDim sliding window
	lastScore   float32

	closeOnce sync.Once
}

// New loads the three cascade models and allocates their tensors.
func New(cfg Config) (m *Model, err error) {
	if err := initRuntime(cfg.RuntimeLibPath); err != nil {
		return nil, fmt.Errorf("onnx: initialize runtime: %w", err)
	}

	m = &Model{
		melBuffer:   make([]float32, 0, 4*melWindowSize*melBins),
		embedBuffer: make([]float32, embedFrames*embeddingDim),
	}
	defer func() {
		if err != nil {
			_ = m.Close()
		}
	}()

	m.melspecIn, m.melspecOut, m.melspec, err = newStage(cfg.MelspecPath,
		ort.NewShape(1, wakeword.FrameSamples),
		ort.NewShape(1, 1, melFrames, melBins))
	if err != nil {
		return nil, fmt.Errorf("onnx: melspectrogram model: %w", err)
	}

	m.embedIn, m.embedOut, m.embed, err = newStage(cfg.EmbeddingPath,
		ort.NewShape(1, melWindowSize, melBins, 1),
		ort.NewShape(1, 1, 1, embeddingDim))
	if err != nil {
		return nil, fmt.Errorf("onnx: embedding model: %w", err)
	}

	m.classIn, m.classOut, m.class, err = newStage(cfg.ClassifierPath,
		ort.NewShape(1, embedFrames, embeddingDim),
		ort.NewShape(1, 1))
	if err != nil {
		return nil, fmt.Errorf("onnx: classifier model: %w", err)
	}

	return m, nil
}

// newStage loads one model with fixed input/output tensors bound to its
// first input and output.
func newStage(path string, inShape, outShape ort.Shape) (*ort.Tensor[float32], *ort.Tensor[float32], *ort.AdvancedSession, error) {
	in, err := ort.NewEmptyTensor[float32](inShape)
	if err != nil {
		return nil, nil, nil, err
	}
	out, err := ort.NewEmptyTensor[float32](outShape)
	if err != nil {
		in.Destroy()
		return nil, nil, nil, err
	}
	inInfo, outInfo, err := ort.GetInputOutputInfo(path)
	if err != nil {
		in.Destroy()
		out.Destroy()
		return nil, nil, nil, err
	}
	sess, err := ort.NewAdvancedSession(path,
		[]string{inInfo[0].Name}, []string{outInfo[0].Name},
		[]ort.Value{in}, []ort.Value{out},
		nil,
	)
	if err != nil {
		in.Destroy()
		out.Destroy()
		return nil, nil, nil, err
	}
	return in, out, sess, nil
}

// ProcessFrame implements [wakeword.Model]. Until enough mel history has
// accumulated to produce a fresh embedding the previous score is
// returned.
func (m *Model) ProcessFrame(frame []int16) (float32, error) {
	if len(frame) != wakeword.FrameSamples {
		return 0, fmt.Errorf("onnx: frame has %d samples, want %d", len(frame), wakeword.FrameSamples)
	}

	// Stage 1: melspectrogram over the raw frame.
	inData := m.melspecIn.GetData()
	for i, v := range frame {
		inData[i] = float32(v)
	}
	if err := m.melspec.Run(); err != nil {
		return 0, fmt.Errorf("onnx: melspectrogram: %w", err)
	}
	melData := m.melspecOut.GetData()
	for _, v := range melData[:melFrames*melBins] {
		// openWakeWord rescales mel output before embedding.
		m.melBuffer = append(m.melBuffer, v/10.0+2.0)
	}

	// Stage 2: one embedding per full mel window, advancing by the step.
	for len(m.melBuffer) >= melWindowSize*melBins {
		copy(m.embedIn.GetData(), m.melBuffer[:melWindowSize*melBins])
		if err := m.embed.Run(); err != nil {
			return 0, fmt.Errorf("onnx: embedding: %w", err)
		}

		// Slide the embedding window left and append the new vector.
		copy(m.embedBuffer, m.embedBuffer[embeddingDim:])
		copy(m.embedBuffer[(embedFrames-1)*embeddingDim:], m.embedOut.GetData()[:embeddingDim])

		n := copy(m.melBuffer, m.melBuffer[melStepSize*melBins:])
		m.melBuffer = m.melBuffer[:n]

		// Stage 3: classify the embedding window.
		copy(m.classIn.GetData(), m.embedBuffer)
		if err := m.class.Run(); err != nil {
			return 0, fmt.Errorf("onnx: classifier: %w", err)
		}
		m.lastScore = m.classOut.GetData()[0]
	}

	return m.lastScore, nil
}

// ResetAccumulators implements [wakeword.Model].
func (m *Model) ResetAccumulators() {
	m.melBuffer = m.melBuffer[:0]
	clear(m.embedBuffer)
	m.lastScore = 0
}

// Close implements [wakeword.Model]. The process-wide runtime
// environment stays loaded for other models.
func (m *Model) Close() error {
	m.closeOnce.Do(func() {
		for _, s := range []*ort.AdvancedSession{m.melspec, m.embed, m.class} {
			if s != nil {
				s.Destroy()
			}
		}
		for _, t := range []*ort.Tensor[float32]{
			m.melspecIn, m.melspecOut,
			m.embedIn, m.embedOut,
			m.classIn, m.classOut,
		} {
			if t != nil {
				t.Destroy()
			}
		}
	})
	return nil
}
