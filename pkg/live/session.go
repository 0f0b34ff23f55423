// Package live implements the real-time conversation engine: the
// BidiGenerateContent wire protocol, the persistent WebSocket transport,
// and the session state machine that coordinates audio capture, playback,
// and tool-call round-trips.
//
// A [Session] owns one conversation. Audio flows microphone → capture →
// encode → [Transport] → remote model → [Transport] → decode stage →
// jitter buffer → playback. Tool calls flow inbound through the session's
// [ToolHandler] and back out as tool responses. The caller observes
// progress via [Session.Events].
package live

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/vesta/pkg/audio"
)

// Session errors.
var (
	// ErrSetupTimeout is returned by Start when the server does not
	// acknowledge the setup envelope within the configured bound.
	ErrSetupTimeout = errors.New("live: setup not acknowledged in time")

	// ErrNotIdle is returned by Start when the session was already
	// started or closed.
	ErrNotIdle = errors.New("live: session already started")
)

const (
	// DefaultSetupTimeout bounds the handshake acknowledgment wait.
	DefaultSetupTimeout = 10 * time.Second

	// eventBuffer is the depth of the events channel. Overflow drops the
	// oldest unconsumed event.
	eventBuffer = 64

	// playbackQuantum is how much buffered audio the playback drain
	// hands the device per write, and the poll interval when the jitter
	// buffer runs dry.
	playbackQuantum = 20 * time.Millisecond
)

// ToolHandler executes the function calls of one inbound tool-call
// envelope and returns exactly one response per call, correlated by ID
// and name. Implementations must never panic across this boundary and
// must shape internal failures as error responses.
type ToolHandler interface {
	Handle(ctx context.Context, calls []FunctionCall) []FunctionResponse
}

// ToolCanceler is optionally implemented by a [ToolHandler] that can
// abort in-flight calls when the remote withdraws them.
type ToolCanceler interface {
	Cancel(ids []string)
}

// Config holds the per-conversation session parameters.
type Config struct {
	// Model is the model identifier sent in the setup envelope.
	Model string

	// Voice selects the prebuilt voice; empty leaves the service default.
	Voice string

	// SystemInstruction is the session's system prompt; empty omits it.
	SystemInstruction string

	// Tools are the function declarations offered to the model.
	Tools []FunctionDeclaration

	// AllowInterruptions flushes queued playback when the remote reports
	// the user spoke over the model.
	AllowInterruptions bool

	// SetupTimeout bounds the handshake acknowledgment wait.
	// Non-positive uses [DefaultSetupTimeout].
	SetupTimeout time.Duration

	// JitterCapacity bounds buffered playback audio; non-positive uses
	// [audio.DefaultJitterCapacity].
	JitterCapacity time.Duration

	// DecodeQueueCapacity bounds undecoded audio; non-positive uses
	// [audio.DefaultDecodeQueueCapacity].
	DecodeQueueCapacity time.Duration
}

// Session drives one conversation. Exactly one live Session exists per
// conversation; there is no pooling. Create with [NewSession], run with
// [Session.Start], and always [Session.Close].
//
// All methods are safe for concurrent use.
type Session struct {
	id      string
	tr      *Transport
	capture audio.Capture
	player  audio.Player
	tools   ToolHandler
	cfg     Config

	jitter *audio.JitterBuffer
	decode *audio.DecodeStage
	events chan Event

	mu    sync.Mutex
	state State
	err   error

	cancel    context.CancelFunc
	closeOnce sync.Once
	done      chan struct{}
	toolWG    sync.WaitGroup
}

// NewSession creates a session over tr. tools may be nil when the config
// declares no tools.
func NewSession(tr *Transport, capture audio.Capture, player audio.Player, tools ToolHandler, cfg Config) *Session {
	if cfg.SetupTimeout <= 0 {
		cfg.SetupTimeout = DefaultSetupTimeout
	}
	jitter := audio.NewJitterBuffer(audio.PlaybackFormat, cfg.JitterCapacity)
	return &Session{
		id:      uuid.NewString(),
		tr:      tr,
		capture: capture,
		player:  player,
		tools:   tools,
		cfg:     cfg,
		jitter:  jitter,
		decode:  audio.NewDecodeStage(jitter, cfg.DecodeQueueCapacity),
		events:  make(chan Event, eventBuffer),
		state:   StateIdle,
		done:    make(chan struct{}),
	}
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// State returns the current state-machine state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the terminal error, if the session failed. Valid once Done
// is closed.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Done is closed when the session has fully terminated.
func (s *Session) Done() <-chan struct{} { return s.done }

// Events returns the session's event stream. Slow consumers lose the
// oldest unconsumed event rather than stalling the protocol loops.
func (s *Session) Events() <-chan Event { return s.events }

// BufferedMs reports the play time of audio currently queued for the
// output device, the observable that degrades when the network stalls.
func (s *Session) BufferedMs() int64 { return s.jitter.BufferedMs() }

// DroppedChunks reports the cumulative number of audio chunks discarded
// under pressure, per stage: undecoded chunks the decode queue rejected
// and decoded chunks the jitter buffer rejected.
func (s *Session) DroppedChunks() (decodeDrops, jitterDrops uint64) {
	return s.decode.Dropped(), s.jitter.Dropped()
}

// Start runs the handshake and, on success, launches the steady-state
// streaming tasks. It returns once the session is Active or has failed
// terminally. Setup failure is the one error surface the caller must
// handle; afterwards only Close remains.
func (s *Session) Start(ctx context.Context) error {
	if err := s.transition(StateIdle, StateConnecting); err != nil {
		return err
	}

	if err := s.tr.Connect(ctx); err != nil {
		s.fail(fmt.Errorf("live: connect: %w", err))
		return fmt.Errorf("live: connect: %w", err)
	}

	// Subscribe before sending setup so the ack cannot slip past us.
	msgs := s.tr.Messages()

	if err := s.transition(StateConnecting, StateAwaitingSetupAck); err != nil {
		return err
	}
	if err := s.tr.Send(ctx, s.setupEnvelope()); err != nil {
		err = fmt.Errorf("live: send setup: %w", err)
		s.fail(err)
		return err
	}

	sessCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	// The dispatch goroutine resolves the setup future. It must do so
	// before touching any session lock so the Start goroutine blocked in
	// await can never deadlock against it.
	setupAck := newFuture()
	g, gctx := errgroup.WithContext(sessCtx)
	g.Go(func() error { return s.dispatchLoop(gctx, msgs, setupAck) })

	ackCtx, ackCancel := context.WithTimeout(ctx, s.cfg.SetupTimeout)
	err := setupAck.await(ackCtx)
	ackCancel()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = ErrSetupTimeout
		}
		s.fail(err)
		s.teardown()
		_ = g.Wait()
		return err
	}

	if err := s.transition(StateAwaitingSetupAck, StateActive); err != nil {
		return err
	}

	// Steady state: capture→send, playback drain, decode worker.
	chunks, err := s.capture.Start(sessCtx)
	if err != nil {
		err = fmt.Errorf("live: start capture: %w", err)
		s.fail(err)
		s.teardown()
		_ = g.Wait()
		return err
	}
	if err := s.player.Start(sessCtx); err != nil {
		err = fmt.Errorf("live: start playback: %w", err)
		s.fail(err)
		s.teardown()
		_ = g.Wait()
		return err
	}
	s.decode.Start()

	g.Go(func() error { return s.sendLoop(gctx, chunks) })
	g.Go(func() error { return s.playbackLoop(gctx) })

	// Supervise: the first task failure tears the whole session down.
	go func() {
		err := g.Wait()
		if err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("live: session task failed", "session_id", s.id, "err", err)
			s.fail(err)
		}
		s.Close()
	}()

	return nil
}

// SendText injects a user text turn into the active conversation. Outside
// Active it is a no-op with a logged warning, never an error — a caller
// racing session teardown is not penalized.
func (s *Session) SendText(text string) {
	if s.State() != StateActive {
		slog.Warn("live: SendText outside active session, dropping", "session_id", s.id)
		return
	}

	env := ClientEnvelope{
		ClientContent: &ClientContent{
			Turns: []ContentTurn{
				{Role: "user", Parts: []Part{{Text: text}}},
			},
			TurnComplete: true,
		},
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.tr.Send(ctx, env); err != nil {
		slog.Warn("live: SendText failed", "session_id", s.id, "err", err)
	}
}

// Close tears the session down: stop pushing and draining audio, release
// the audio hardware, close the transport, then cancel remaining
// background work. Idempotent — always safe to call again.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.setState(StateClosing)

		// Order matters: no new audio first.
		_ = s.capture.Stop()
		s.decode.Close()
		_ = s.player.Stop()
		_ = s.tr.Close()

		s.mu.Lock()
		cancel := s.cancel
		s.mu.Unlock()
		if cancel != nil {
			cancel()
		}

		s.setState(StateClosed)
		close(s.done)
	})
	return nil
}

// ── Internals ──────────────────────────────────────────────────────────────────

func (s *Session) setupEnvelope() ClientEnvelope {
	setup := &Setup{
		Model: s.cfg.Model,
		GenerationConfig: GenerationConfig{
			ResponseModalities: []string{"audio"},
		},
	}
	if !strings.HasPrefix(setup.Model, "models/") {
		setup.Model = "models/" + setup.Model
	}
	if s.cfg.Voice != "" {
		setup.GenerationConfig.SpeechConfig = &SpeechConfig{
			VoiceConfig: VoiceConfig{
				PrebuiltVoiceConfig: PrebuiltVoiceConfig{VoiceName: s.cfg.Voice},
			},
		}
	}
	if s.cfg.SystemInstruction != "" {
		setup.SystemInstruction = &SystemInstruction{
			Parts: []Part{{Text: s.cfg.SystemInstruction}},
		}
	}
	if len(s.cfg.Tools) > 0 {
		setup.Tools = []Tool{{FunctionDeclarations: s.cfg.Tools}}
	}
	return ClientEnvelope{Setup: setup}
}

// dispatchLoop consumes the inbound envelope stream and routes each
// variant. It resolves setupAck exactly once, on the first setupComplete
// (or with an error when the stream ends first).
func (s *Session) dispatchLoop(ctx context.Context, msgs <-chan ServerEnvelope, setupAck *future) error {
	defer s.toolWG.Wait()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env, ok := <-msgs:
			if !ok {
				err := errors.New("live: message stream ended")
				setupAck.resolve(err)
				if s.State() == StateClosing || s.State() == StateClosed {
					return nil
				}
				return err
			}

			switch {
			case env.SetupComplete != nil:
				setupAck.resolve(nil)

			case env.ServerContent != nil:
				if s.State() == StateActive {
					s.handleServerContent(env.ServerContent)
				}

			case env.ToolCall != nil:
				if s.State() != StateActive || len(env.ToolCall.FunctionCalls) == 0 {
					continue
				}
				calls := env.ToolCall.FunctionCalls
				s.toolWG.Add(1)
				go func() {
					defer s.toolWG.Done()
					s.handleToolCall(ctx, calls)
				}()

			case env.ToolCallCancellation != nil:
				if tc, ok := s.tools.(ToolCanceler); ok && s.tools != nil {
					tc.Cancel(env.ToolCallCancellation.IDs)
				}

			case env.Error != nil:
				slog.Warn("live: server error", "session_id", s.id,
					"code", env.Error.Code, "message", env.Error.Message)
				s.emit(Event{Kind: EventServerError, Err: fmt.Errorf("live: server: %s", env.Error.Message)})
			}
		}
	}
}

func (s *Session) handleServerContent(sc *ServerContent) {
	if sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			if p.InlineData != nil && strings.HasPrefix(p.InlineData.MIMEType, "audio/pcm") {
				s.decode.Enqueue(p.InlineData.Data)
			}
			if p.Text != "" {
				s.emit(Event{Kind: EventTranscript, Speaker: "model", Text: p.Text})
			}
		}
	}
	if sc.InputTranscription != nil && sc.InputTranscription.Text != "" {
		s.emit(Event{Kind: EventTranscript, Speaker: "user", Text: sc.InputTranscription.Text})
	}
	if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
		s.emit(Event{Kind: EventTranscript, Speaker: "model", Text: sc.OutputTranscription.Text})
	}
	if sc.Interrupted {
		if s.cfg.AllowInterruptions {
			// Queued speech must not keep playing over the user.
			s.jitter.Flush()
		}
		s.emit(Event{Kind: EventInterrupted})
	}
	if sc.TurnComplete {
		s.emit(Event{Kind: EventTurnComplete})
	}
}

// handleToolCall executes all calls of one inbound envelope and sends
// every response before returning. The remote is never left waiting: the
// handler shapes failures as error responses, and a missing handler
// produces explicit error responses too.
func (s *Session) handleToolCall(ctx context.Context, calls []FunctionCall) {
	var responses []FunctionResponse
	if s.tools == nil {
		for _, c := range calls {
			responses = append(responses, FunctionResponse{
				ID:       c.ID,
				Name:     c.Name,
				Response: map[string]any{"error": "no tool handler configured"},
			})
		}
	} else {
		responses = s.tools.Handle(ctx, calls)
	}

	for _, resp := range responses {
		env := ClientEnvelope{ToolResponse: &ToolResponse{
			FunctionResponses: []FunctionResponse{resp},
		}}
		sendCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.tr.Send(sendCtx, env); err != nil {
			slog.Warn("live: tool response send failed", "session_id", s.id,
				"call_id", resp.ID, "err", err)
		}
		cancel()
	}
}

// sendLoop forwards captured PCM to the remote. It ends when the capture
// stream ends; an unexpected end is a session-fatal stream failure (the
// caller must start a fresh session).
func (s *Session) sendLoop(ctx context.Context, chunks <-chan audio.Chunk) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case chunk, ok := <-chunks:
			if !ok {
				if ctx.Err() != nil || s.State() >= StateClosing {
					return nil
				}
				return errors.New("live: capture stream ended")
			}
			env := ClientEnvelope{RealtimeInput: &RealtimeInput{
				MediaChunks: []MediaChunk{{
					MIMEType: PCMMimeType,
					Data:     base64.StdEncoding.EncodeToString(chunk.Data),
				}},
			}}
			if err := s.tr.Send(ctx, env); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("live: send audio: %w", err)
			}
		}
	}
}

// playbackLoop drains the jitter buffer into the output device. The
// device's internal buffer paces the writes; when the jitter buffer runs
// dry there is simply nothing to write this tick.
func (s *Session) playbackLoop(ctx context.Context) error {
	quantum := audio.PlaybackFormat.BytesFor(playbackQuantum)
	buf := make([]byte, quantum)

	ticker := time.NewTicker(playbackQuantum)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			n := s.jitter.Read(buf)
			if n == 0 {
				continue
			}
			if err := s.player.Write(buf[:n]); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("live: playback write: %w", err)
			}
		}
	}
}

func (s *Session) transition(from, to State) error {
	s.mu.Lock()
	if s.state != from {
		state := s.state
		s.mu.Unlock()
		if to == StateConnecting {
			return ErrNotIdle
		}
		return fmt.Errorf("live: invalid transition %s → %s", state, to)
	}
	s.state = to
	s.mu.Unlock()
	s.emit(Event{Kind: EventStateChanged, State: to})
	return nil
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	if s.state == state || s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = state
	s.mu.Unlock()
	s.emit(Event{Kind: EventStateChanged, State: state})
}

// fail records the first terminal error.
func (s *Session) fail(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
}

// teardown is the failure-path cleanup used before the session ever
// reached Active.
func (s *Session) teardown() {
	s.Close()
}

// emit delivers ev on the events channel, evicting the oldest unconsumed
// event when the consumer has fallen behind.
func (s *Session) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
		select {
		case <-s.events:
		default:
		}
		select {
		case s.events <- ev:
		default:
		}
	}
}
