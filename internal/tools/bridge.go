package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/vesta/internal/observe"
	"github.com/MrWong99/vesta/pkg/live"
)

// Compile-time assertions that Bridge satisfies the session's tool
// interfaces.
var (
	_ live.ToolHandler  = (*Bridge)(nil)
	_ live.ToolCanceler = (*Bridge)(nil)
)

// defaultToolTimeout is the context deadline applied to each tool
// execution.
const defaultToolTimeout = 30 * time.Second

// Option is a functional option for configuring a [Bridge].
type Option func(*Bridge)

// WithToolTimeout sets the deadline applied to each individual tool
// execution. If a call exceeds this duration its context is cancelled and
// an error-shaped response is produced. The default is 30 seconds.
func WithToolTimeout(d time.Duration) Option {
	return func(b *Bridge) {
		if d > 0 {
			b.timeout = d
		}
	}
}

// WithRecorder attaches a per-session invocation [Recorder]. The recorder
// is an explicit object passed by reference, so separate sessions (and
// separate tests) never share call history.
func WithRecorder(r *Recorder) Option {
	return func(b *Bridge) { b.recorder = r }
}

// WithMetrics attaches a metrics instance recording per-call latency and
// outcome counters. Without it no metrics are emitted.
func WithMetrics(m *observe.Metrics) Option {
	return func(b *Bridge) { b.metrics = m }
}

// Bridge routes the session's function calls to an [Executor] and shapes
// the results as protocol responses. Safe for concurrent use; one bridge
// serves one session.
type Bridge struct {
	exec     Executor
	recorder *Recorder
	metrics  *observe.Metrics
	timeout  time.Duration

	mu       sync.Mutex
	inflight map[string]context.CancelFunc
}

// NewBridge creates a bridge executing calls against exec.
func NewBridge(exec Executor, opts ...Option) (*Bridge, error) {
	if exec == nil {
		return nil, fmt.Errorf("tools: executor must not be nil")
	}
	b := &Bridge{
		exec:     exec,
		timeout:  defaultToolTimeout,
		inflight: make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Handle implements [live.ToolHandler]. Every call in the inbound message
// is executed independently and concurrently; Handle returns once all of
// them have a response. For every call with id X the result slice holds
// exactly one response with id X and the same name — carrying either a
// "result" value or an "error" value, never both.
func (b *Bridge) Handle(ctx context.Context, calls []live.FunctionCall) []live.FunctionResponse {
	responses := make([]live.FunctionResponse, len(calls))

	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func() {
			defer wg.Done()
			responses[i] = b.execute(ctx, call)
		}()
	}
	wg.Wait()

	return responses
}

// Cancel implements [live.ToolCanceler]: it aborts the in-flight
// executions for the given call ids. Already-finished calls are
// unaffected; their responses have been produced.
func (b *Bridge) Cancel(ids []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, id := range ids {
		if cancel, ok := b.inflight[id]; ok {
			cancel()
		}
	}
}

// execute runs one call to completion and shapes the outcome. It never
// panics: an executor panic is caught and converted into an error
// response like any other failure.
func (b *Bridge) execute(ctx context.Context, call live.FunctionCall) (resp live.FunctionResponse) {
	resp = live.FunctionResponse{ID: call.ID, Name: call.Name}
	start := time.Now()

	argsJSON := "{}"
	if len(call.Args) > 0 {
		data, err := json.Marshal(call.Args)
		if err != nil {
			resp.Response = errorPayload(fmt.Errorf("encode args: %w", err))
			b.record(call, argsJSON, "", err, time.Since(start))
			b.observeCall(ctx, call.Name, err, time.Since(start))
			return resp
		}
		argsJSON = string(data)
	}

	callCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	b.track(call.ID, cancel)
	defer b.untrack(call.ID)

	result, err := b.callSafely(callCtx, call.Name, argsJSON)
	elapsed := time.Since(start)
	b.record(call, argsJSON, result, err, elapsed)
	b.observeCall(ctx, call.Name, err, elapsed)

	if err != nil {
		slog.Warn("tools: call failed", "tool", call.Name, "call_id", call.ID, "err", err)
		resp.Response = errorPayload(err)
		return resp
	}

	resp.Response = resultPayload(result)
	return resp
}

// callSafely invokes the executor, converting a panic into an error.
func (b *Bridge) callSafely(ctx context.Context, name, argsJSON string) (result string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool panicked: %v", r)
		}
	}()
	return b.exec.CallTool(ctx, name, argsJSON)
}

func (b *Bridge) track(id string, cancel context.CancelFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.inflight[id] = cancel
}

func (b *Bridge) untrack(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.inflight, id)
}

func (b *Bridge) observeCall(ctx context.Context, tool string, err error, elapsed time.Duration) {
	if b.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	b.metrics.RecordToolCall(ctx, tool, status, elapsed)
}

func (b *Bridge) record(call live.FunctionCall, args, result string, err error, elapsed time.Duration) {
	if b.recorder == nil {
		return
	}
	inv := Invocation{
		CallID:   call.ID,
		Name:     call.Name,
		Args:     args,
		Result:   result,
		Duration: elapsed,
	}
	if err != nil {
		inv.Error = err.Error()
	}
	b.recorder.Record(inv)
}

// resultPayload wraps a tool's textual result as a structured value. When
// the result is itself valid JSON it is embedded as-is; otherwise it is
// carried as a plain string.
func resultPayload(result string) map[string]any {
	var parsed any
	if err := json.Unmarshal([]byte(result), &parsed); err == nil && result != "" {
		return map[string]any{"result": parsed}
	}
	return map[string]any{"result": result}
}

func errorPayload(err error) map[string]any {
	return map[string]any{"error": err.Error()}
}
