package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Unknown YAML keys are rejected. Useful in tests where configs are
// constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Session.Endpoint == "" {
		errs = append(errs, errors.New("session.endpoint is required"))
	}
	if cfg.Session.Model == "" {
		errs = append(errs, errors.New("session.model is required"))
	}
	if cfg.Session.SetupTimeout < 0 {
		errs = append(errs, fmt.Errorf("session.setup_timeout %v must not be negative", cfg.Session.SetupTimeout.Std()))
	}

	if cfg.Audio.JitterBufferMs < 0 {
		errs = append(errs, fmt.Errorf("audio.jitter_buffer_ms %d must not be negative", cfg.Audio.JitterBufferMs))
	}
	if cfg.Audio.DecodeQueueMs < 0 {
		errs = append(errs, fmt.Errorf("audio.decode_queue_ms %d must not be negative", cfg.Audio.DecodeQueueMs))
	}

	if cfg.Wakeword.Enabled {
		if !cfg.Wakeword.Backend.IsValid() {
			errs = append(errs, fmt.Errorf("wakeword.backend %q is invalid; valid values: onnx, tflite", cfg.Wakeword.Backend))
		}
		for key, path := range map[string]string{
			"wakeword.melspec_model":    cfg.Wakeword.MelspecModel,
			"wakeword.embedding_model":  cfg.Wakeword.EmbeddingModel,
			"wakeword.classifier_model": cfg.Wakeword.ClassifierModel,
		} {
			if path == "" {
				errs = append(errs, fmt.Errorf("%s is required when wakeword is enabled", key))
			}
		}
		if cfg.Wakeword.Threshold < 0 || cfg.Wakeword.Threshold > 1 {
			errs = append(errs, fmt.Errorf("wakeword.threshold %.2f is out of range [0, 1]", cfg.Wakeword.Threshold))
		}
		if cfg.Wakeword.WarmupFrames < 0 {
			errs = append(errs, fmt.Errorf("wakeword.warmup_frames %d must not be negative", cfg.Wakeword.WarmupFrames))
		}
	}

	switch cfg.Tools.Backend {
	case "", ToolsNone:
	case ToolsHass:
		if cfg.Tools.HassURL == "" {
			errs = append(errs, errors.New("tools.hass_url is required for the hass backend"))
		}
		if cfg.Tools.HassToken == "" {
			errs = append(errs, errors.New("tools.hass_token is required for the hass backend"))
		}
	case ToolsMCP:
		if (cfg.Tools.MCPCommand == "") == (cfg.Tools.MCPURL == "") {
			errs = append(errs, errors.New("tools backend mcp requires exactly one of tools.mcp_command or tools.mcp_url"))
		}
	default:
		errs = append(errs, fmt.Errorf("tools.backend %q is invalid; valid values: none, hass, mcp", cfg.Tools.Backend))
	}

	seen := make(map[string]int, len(cfg.Tools.Declarations))
	for i, decl := range cfg.Tools.Declarations {
		prefix := fmt.Sprintf("tools.declarations[%d]", i)
		if decl.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		if prev, ok := seen[decl.Name]; ok {
			errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of tools.declarations[%d]", prefix, decl.Name, prev))
		}
		seen[decl.Name] = i
	}

	return errors.Join(errs...)
}
