// Package config provides the configuration schema and loader for the
// Vesta voice assistant.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps [time.Duration] so values like "10s" decode from YAML.
type Duration time.Duration

// UnmarshalYAML implements [yaml.Unmarshaler].
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns d as a [time.Duration].
func (d Duration) Std() time.Duration { return time.Duration(d) }

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// WakewordBackend selects the inference runtime for the wake-word models.
type WakewordBackend string

const (
	BackendONNX   WakewordBackend = "onnx"
	BackendTFLite WakewordBackend = "tflite"
)

// IsValid reports whether b is a recognised backend.
func (b WakewordBackend) IsValid() bool {
	return b == BackendONNX || b == BackendTFLite
}

// ToolsBackend selects where tool calls are executed.
type ToolsBackend string

const (
	ToolsNone ToolsBackend = "none"
	ToolsHass ToolsBackend = "hass"
	ToolsMCP  ToolsBackend = "mcp"
)

// IsValid reports whether t is a recognised tools backend.
func (t ToolsBackend) IsValid() bool {
	switch t {
	case ToolsNone, ToolsHass, ToolsMCP:
		return true
	}
	return false
}

// Config is the root configuration structure for Vesta.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Session  SessionConfig  `yaml:"session"`
	Audio    AudioConfig    `yaml:"audio"`
	Wakeword WakewordConfig `yaml:"wakeword"`
	Tools    ToolsConfig    `yaml:"tools"`
}

// ServerConfig holds logging and metrics settings.
type ServerConfig struct {
	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// MetricsAddr is the TCP address the Prometheus /metrics endpoint
	// listens on (e.g., ":9090"). Empty disables the endpoint.
	MetricsAddr string `yaml:"metrics_addr"`
}

// SessionConfig holds conversation session settings.
type SessionConfig struct {
	// Endpoint is the live API websocket URL. Required.
	Endpoint string `yaml:"endpoint"`

	// APIKey authenticates against the live API. Appended to the
	// endpoint as a query parameter when set.
	APIKey string `yaml:"api_key"`

	// Model names the generative model (e.g., "gemini-2.0-flash-exp").
	Model string `yaml:"model"`

	// Voice selects the prebuilt voice for audio responses.
	Voice string `yaml:"voice"`

	// SystemInstruction is prepended to every session.
	SystemInstruction string `yaml:"system_instruction"`

	// AllowInterruptions flushes buffered playback when the model
	// reports the user barged in.
	AllowInterruptions bool `yaml:"allow_interruptions"`

	// SetupTimeout bounds the wait for the handshake acknowledgment.
	SetupTimeout Duration `yaml:"setup_timeout"`
}

// AudioConfig holds device and buffering settings.
type AudioConfig struct {
	// CaptureDevice and PlaybackDevice name the audio devices to open.
	// Empty selects the platform default.
	CaptureDevice  string `yaml:"capture_device"`
	PlaybackDevice string `yaml:"playback_device"`

	// JitterBufferMs sizes the playback jitter buffer in milliseconds
	// of audio.
	JitterBufferMs int `yaml:"jitter_buffer_ms"`

	// DecodeQueueMs sizes the decode stage's inbound queue in
	// milliseconds of audio.
	DecodeQueueMs int `yaml:"decode_queue_ms"`
}

// WakewordConfig holds wake-word detection settings.
type WakewordConfig struct {
	// Enabled turns wake-word listening on. When false the assistant
	// starts a conversation session immediately.
	Enabled bool `yaml:"enabled"`

	// Backend selects the inference runtime: onnx or tflite.
	Backend WakewordBackend `yaml:"backend"`

	// MelspecModel, EmbeddingModel and ClassifierModel locate the three
	// cascade model files.
	MelspecModel    string `yaml:"melspec_model"`
	EmbeddingModel  string `yaml:"embedding_model"`
	ClassifierModel string `yaml:"classifier_model"`

	// RuntimeLib locates the ONNX Runtime shared library. Ignored by the
	// tflite backend.
	RuntimeLib string `yaml:"runtime_lib"`

	// Threshold is the detection score threshold in (0, 1].
	Threshold float64 `yaml:"threshold"`

	// WarmupFrames is how many initial frames can never trigger.
	WarmupFrames int `yaml:"warmup_frames"`

	// TestMode logs every score and never triggers. For threshold
	// calibration only.
	TestMode bool `yaml:"test_mode"`
}

// ToolsConfig holds tool execution settings.
type ToolsConfig struct {
	// Backend selects the executor: none, hass or mcp.
	Backend ToolsBackend `yaml:"backend"`

	// HassURL and HassToken configure the Home Assistant executor.
	HassURL   string `yaml:"hass_url"`
	HassToken string `yaml:"hass_token"`

	// MCPCommand launches a stdio MCP server; MCPURL connects to a
	// streamable-HTTP one. Exactly one applies for the mcp backend.
	MCPCommand string `yaml:"mcp_command"`
	MCPURL     string `yaml:"mcp_url"`

	// Declarations are the function declarations advertised to the
	// model for the hass backend. The mcp backend discovers its own.
	Declarations []ToolDeclaration `yaml:"declarations"`
}

// ToolDeclaration describes one callable function advertised during
// session setup.
type ToolDeclaration struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Parameters  map[string]any `yaml:"parameters"`
}
