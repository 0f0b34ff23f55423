// Command vesta is a voice-assistant satellite: it waits for a wake
// phrase, then holds a live audio conversation with a generative model
// and brokers the model's tool calls to a home-automation backend.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/vesta/internal/app"
	"github.com/MrWong99/vesta/internal/config"
	"github.com/MrWong99/vesta/internal/health"
	"github.com/MrWong99/vesta/internal/observe"
	"github.com/MrWong99/vesta/internal/tools"
	"github.com/MrWong99/vesta/internal/tools/hass"
	"github.com/MrWong99/vesta/internal/tools/mcptool"
	"github.com/MrWong99/vesta/internal/wakeword"
	"github.com/MrWong99/vesta/internal/wakeword/onnx"
	"github.com/MrWong99/vesta/internal/wakeword/tflite"
	"github.com/MrWong99/vesta/pkg/audio/miniaudio"
	"github.com/MrWong99/vesta/pkg/live"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "vesta: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "vesta: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	slog.SetDefault(newLogger(cfg.Server.LogLevel))

	slog.Info("vesta starting",
		"config", *configPath,
		"model", cfg.Session.Model,
		"wakeword", cfg.Wakeword.Enabled,
		"tools", cfg.Tools.Backend,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "vesta"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Tool executor ─────────────────────────────────────────────────────────
	bridge, decls, cleanup, err := buildTools(ctx, cfg, metrics)
	if err != nil {
		slog.Error("failed to build tool executor", "err", err)
		return 1
	}
	defer cleanup()

	// ── Diagnostics listener ──────────────────────────────────────────────────
	if cfg.Server.MetricsAddr != "" {
		srv := newDiagnosticsServer(cfg)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("diagnostics listener failed", "err", err)
			}
		}()
		defer func() {
			shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shCtx)
		}()
		slog.Info("diagnostics listening", "addr", cfg.Server.MetricsAddr)
	}

	// ── Audio devices ─────────────────────────────────────────────────────────
	// One capture device serves both the detector and the sessions; they
	// never run at the same time.
	capture := miniaudio.NewCapture(miniaudio.WithDeviceName(cfg.Audio.CaptureDevice))
	player := miniaudio.NewPlayer(miniaudio.WithDeviceName(cfg.Audio.PlaybackDevice))

	// ── Session factory ───────────────────────────────────────────────────────
	endpoint := cfg.Session.Endpoint
	if cfg.Session.APIKey != "" {
		endpoint += "?key=" + cfg.Session.APIKey
	}
	// A typed nil must not become a non-nil ToolHandler interface.
	var toolHandler live.ToolHandler
	if bridge != nil {
		toolHandler = bridge
	}
	factory := func() (app.Conversation, error) {
		tr := live.NewTransport(endpoint)
		return live.NewSession(tr, capture, player, toolHandler, live.Config{
			Model:               cfg.Session.Model,
			Voice:               cfg.Session.Voice,
			SystemInstruction:   cfg.Session.SystemInstruction,
			Tools:               decls,
			AllowInterruptions:  cfg.Session.AllowInterruptions,
			SetupTimeout:        cfg.Session.SetupTimeout.Std(),
			JitterCapacity:      time.Duration(cfg.Audio.JitterBufferMs) * time.Millisecond,
			DecodeQueueCapacity: time.Duration(cfg.Audio.DecodeQueueMs) * time.Millisecond,
		}), nil
	}

	// ── Wake-word detector ────────────────────────────────────────────────────
	var detector app.Detector
	if cfg.Wakeword.Enabled {
		model, err := buildWakewordModel(cfg.Wakeword)
		if err != nil {
			slog.Error("failed to load wake-word models", "err", err)
			return 1
		}
		defer model.Close()

		det, err := wakeword.New(model, capture, wakeword.Config{
			Threshold:    cfg.Wakeword.Threshold,
			WarmupFrames: cfg.Wakeword.WarmupFrames,
			TestMode:     cfg.Wakeword.TestMode,
			OnScore: func(score float32) {
				metrics.WakewordScore.Record(ctx, float64(score))
			},
		})
		if err != nil {
			slog.Error("failed to create detector", "err", err)
			return 1
		}
		detector = det
	}

	// ── Supervisor ────────────────────────────────────────────────────────────
	application, err := app.New(factory, detector, app.WithMetrics(metrics))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("ready — press Ctrl+C to shut down")
	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// newLogger builds the default text logger at the configured level.
func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// buildTools creates the tool bridge and function declarations for the
// configured backend. The returned cleanup releases backend resources.
func buildTools(ctx context.Context, cfg *config.Config, metrics *observe.Metrics) (*tools.Bridge, []live.FunctionDeclaration, func(), error) {
	noop := func() {}

	switch cfg.Tools.Backend {
	case "", config.ToolsNone:
		return nil, nil, noop, nil

	case config.ToolsHass:
		exec, err := hass.NewExecutor(cfg.Tools.HassURL, hass.StaticToken(cfg.Tools.HassToken))
		if err != nil {
			return nil, nil, noop, err
		}
		bridge, err := tools.NewBridge(exec,
			tools.WithRecorder(tools.NewRecorder(0)),
			tools.WithMetrics(metrics))
		if err != nil {
			return nil, nil, noop, err
		}
		decls := make([]live.FunctionDeclaration, 0, len(cfg.Tools.Declarations))
		for _, d := range cfg.Tools.Declarations {
			decls = append(decls, live.FunctionDeclaration{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  d.Parameters,
			})
		}
		return bridge, decls, noop, nil

	case config.ToolsMCP:
		mcpCfg := mcptool.Config{Transport: mcptool.TransportStdio, Command: cfg.Tools.MCPCommand}
		if cfg.Tools.MCPURL != "" {
			mcpCfg = mcptool.Config{Transport: mcptool.TransportStreamableHTTP, URL: cfg.Tools.MCPURL}
		}
		exec, err := mcptool.Connect(ctx, mcpCfg)
		if err != nil {
			return nil, nil, noop, err
		}
		bridge, err := tools.NewBridge(exec,
			tools.WithRecorder(tools.NewRecorder(0)),
			tools.WithMetrics(metrics))
		if err != nil {
			_ = exec.Close()
			return nil, nil, noop, err
		}
		return bridge, exec.Declarations(), func() { _ = exec.Close() }, nil

	default:
		return nil, nil, noop, fmt.Errorf("unknown tools backend %q", cfg.Tools.Backend)
	}
}

// buildWakewordModel constructs the configured inference backend.
func buildWakewordModel(cfg config.WakewordConfig) (wakeword.Model, error) {
	switch cfg.Backend {
	case config.BackendONNX:
		return onnx.New(onnx.Config{
			MelspecPath:    cfg.MelspecModel,
			EmbeddingPath:  cfg.EmbeddingModel,
			ClassifierPath: cfg.ClassifierModel,
			RuntimeLibPath: cfg.RuntimeLib,
		})
	case config.BackendTFLite:
		return tflite.New(tflite.Config{
			MelspecPath:    cfg.MelspecModel,
			EmbeddingPath:  cfg.EmbeddingModel,
			ClassifierPath: cfg.ClassifierModel,
		})
	default:
		return nil, fmt.Errorf("unknown wakeword backend %q", cfg.Backend)
	}
}

// newDiagnosticsServer serves /metrics plus liveness and readiness
// probes on the metrics address.
func newDiagnosticsServer(cfg *config.Config) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())

	var checkers []health.Checker
	if cfg.Tools.Backend == config.ToolsHass {
		url := cfg.Tools.HassURL
		checkers = append(checkers, health.Checker{
			Name: "hass",
			Check: func(ctx context.Context) error {
				req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
				if err != nil {
					return err
				}
				resp, err := http.DefaultClient.Do(req)
				if err != nil {
					return err
				}
				resp.Body.Close()
				return nil
			},
		})
	}
	health.New(checkers...).Register(mux)

	return &http.Server{
		Addr:              cfg.Server.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
