package live_test

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	audiomock "github.com/MrWong99/vesta/pkg/audio/mock"
	"github.com/MrWong99/vesta/pkg/live"
)

// sendSetupComplete sends the server-side handshake acknowledgment.
func sendSetupComplete(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	writeJSON(t, conn, map[string]any{"setupComplete": map[string]any{}})
}

// holdOpen blocks until the peer closes the connection or the deadline
// passes. Test handlers call it to keep the session alive.
func holdOpen(conn *websocket.Conn) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			return
		}
	}
}

// stubHandler is a live.ToolHandler driven by a response function.
type stubHandler struct {
	mu     sync.Mutex
	calls  [][]live.FunctionCall
	handle func(calls []live.FunctionCall) []live.FunctionResponse
}

func (h *stubHandler) Handle(_ context.Context, calls []live.FunctionCall) []live.FunctionResponse {
	h.mu.Lock()
	h.calls = append(h.calls, calls)
	h.mu.Unlock()
	if h.handle != nil {
		return h.handle(calls)
	}
	out := make([]live.FunctionResponse, len(calls))
	for i, c := range calls {
		out[i] = live.FunctionResponse{ID: c.ID, Name: c.Name, Response: map[string]any{"result": "ok"}}
	}
	return out
}

// newTestSession builds a session against srv with quiet mock devices.
func newTestSession(srv string, tools live.ToolHandler, cfg live.Config) (*live.Session, *audiomock.Capture, *audiomock.Player) {
	if cfg.Model == "" {
		cfg.Model = "test-model"
	}
	mic := &audiomock.Capture{}
	player := &audiomock.Player{}
	tr := live.NewTransport(srv)
	return live.NewSession(tr, mic, player, tools, cfg), mic, player
}

// awaitState polls until the session reaches want or the deadline passes.
func awaitState(t *testing.T, s *live.Session, want live.State) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if s.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("session state = %s, want %s", s.State(), want)
}

// awaitEvent drains the event stream until an event of kind arrives.
func awaitEvent(t *testing.T, s *live.Session, kind live.EventKind) live.Event {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev := <-s.Events():
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", kind)
		}
	}
}

// ── Tests ─────────────────────────────────────────────────────────────────────

// TestSession_HandshakeSendsSetup verifies the setup envelope content and
// the Idle → Active walk on acknowledgment.
func TestSession_HandshakeSendsSetup(t *testing.T) {
	t.Parallel()
	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var env live.ClientEnvelope
		readJSON(t, conn, &env)

		if env.Setup == nil {
			t.Error("first envelope is not setup")
			return
		}
		if env.Setup.Model != "models/test-model" {
			t.Errorf("setup model = %q, want %q", env.Setup.Model, "models/test-model")
		}
		if got := env.Setup.GenerationConfig.ResponseModalities; len(got) != 1 || got[0] != "audio" {
			t.Errorf("response modalities = %v, want [audio]", got)
		}
		if env.Setup.GenerationConfig.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName != "Aoede" {
			t.Error("voice name not propagated into setup")
		}
		if env.Setup.SystemInstruction == nil || env.Setup.SystemInstruction.Parts[0].Text != "be brief" {
			t.Error("system instruction not propagated into setup")
		}
		if len(env.Setup.Tools) != 1 || env.Setup.Tools[0].FunctionDeclarations[0].Name != "light_on" {
			t.Error("tool declarations not propagated into setup")
		}

		sendSetupComplete(t, conn)
		holdOpen(conn)
	})

	sess, mic, player := newTestSession(wsURL(srv), nil, live.Config{
		Voice:             "Aoede",
		SystemInstruction: "be brief",
		Tools:             []live.FunctionDeclaration{{Name: "light_on"}},
	})
	defer sess.Close()

	if err := sess.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := sess.State(); got != live.StateActive {
		t.Fatalf("state after Start = %s, want ACTIVE", got)
	}
	if mic.CallCountStart != 1 {
		t.Errorf("capture Start calls = %d, want 1", mic.CallCountStart)
	}
	if player.CallCountStart != 1 {
		t.Errorf("player Start calls = %d, want 1", player.CallCountStart)
	}
}

// TestSession_SetupTimeout verifies that a silent server makes Start fail
// deterministically, the session lands in Closed, and no audio task was
// ever started.
func TestSession_SetupTimeout(t *testing.T) {
	t.Parallel()
	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var env live.ClientEnvelope
		readJSON(t, conn, &env) // swallow setup, never acknowledge
		holdOpen(conn)
	})

	sess, mic, _ := newTestSession(wsURL(srv), nil, live.Config{
		SetupTimeout: 150 * time.Millisecond,
	})

	err := sess.Start(context.Background())
	if !errors.Is(err, live.ErrSetupTimeout) {
		t.Fatalf("Start error = %v, want ErrSetupTimeout", err)
	}
	awaitState(t, sess, live.StateClosed)
	if mic.CallCountStart != 0 {
		t.Errorf("capture started despite setup failure (%d calls)", mic.CallCountStart)
	}

	select {
	case <-sess.Done():
	case <-time.After(3 * time.Second):
		t.Error("session not done after setup failure")
	}
}

// TestSession_StartTwice verifies that a second Start is rejected.
func TestSession_StartTwice(t *testing.T) {
	t.Parallel()
	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var env live.ClientEnvelope
		readJSON(t, conn, &env)
		sendSetupComplete(t, conn)
		holdOpen(conn)
	})

	sess, _, _ := newTestSession(wsURL(srv), nil, live.Config{})
	defer sess.Close()

	if err := sess.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := sess.Start(context.Background()); !errors.Is(err, live.ErrNotIdle) {
		t.Fatalf("second Start error = %v, want ErrNotIdle", err)
	}
}

// TestSession_SendTextRoundTrip verifies that SendText while Active
// produces exactly one clientContent envelope with the expected turn.
func TestSession_SendTextRoundTrip(t *testing.T) {
	t.Parallel()
	received := make(chan live.ClientEnvelope, 1)
	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var setup live.ClientEnvelope
		readJSON(t, conn, &setup)
		sendSetupComplete(t, conn)

		var env live.ClientEnvelope
		readJSON(t, conn, &env)
		received <- env
		holdOpen(conn)
	})

	sess, _, _ := newTestSession(wsURL(srv), nil, live.Config{})
	defer sess.Close()

	if err := sess.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	sess.SendText("hello")

	select {
	case env := <-received:
		cc := env.ClientContent
		if cc == nil {
			t.Fatalf("expected clientContent, got %+v", env)
		}
		if len(cc.Turns) != 1 || cc.Turns[0].Role != "user" {
			t.Fatalf("turns = %+v, want one user turn", cc.Turns)
		}
		if got := cc.Turns[0].Parts[0].Text; got != "hello" {
			t.Errorf("text = %q, want %q", got, "hello")
		}
		if !cc.TurnComplete {
			t.Error("turnComplete not set")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("server never received the text envelope")
	}
}

// TestSession_SendTextOutsideActive verifies the no-op contract: no
// panic, no envelope, no state change.
func TestSession_SendTextOutsideActive(t *testing.T) {
	t.Parallel()
	sess, _, _ := newTestSession("ws://127.0.0.1:1/unused", nil, live.Config{})
	sess.SendText("dropped")
	if got := sess.State(); got != live.StateIdle {
		t.Errorf("state after SendText while idle = %s, want IDLE", got)
	}
}

// TestSession_AudioRoundTrip pushes one captured chunk through to the
// server and one model audio chunk back down to the player.
func TestSession_AudioRoundTrip(t *testing.T) {
	t.Parallel()
	captured := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	modelPCM := []byte{10, 20, 30, 40}

	gotAudio := make(chan []byte, 1)
	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var setup live.ClientEnvelope
		readJSON(t, conn, &setup)
		sendSetupComplete(t, conn)

		var env live.ClientEnvelope
		readJSON(t, conn, &env)
		if env.RealtimeInput == nil || len(env.RealtimeInput.MediaChunks) != 1 {
			t.Errorf("expected one media chunk, got %+v", env)
			return
		}
		chunk := env.RealtimeInput.MediaChunks[0]
		if chunk.MIMEType != live.PCMMimeType {
			t.Errorf("mime type = %q, want %q", chunk.MIMEType, live.PCMMimeType)
		}
		pcm, err := base64.StdEncoding.DecodeString(chunk.Data)
		if err != nil {
			t.Errorf("chunk not base64: %v", err)
			return
		}
		gotAudio <- pcm

		// Model reply: audio part plus turn completion.
		writeJSON(t, conn, map[string]any{
			"serverContent": map[string]any{
				"modelTurn": map[string]any{
					"parts": []map[string]any{{
						"inlineData": map[string]any{
							"mimeType": "audio/pcm;rate=24000",
							"data":     base64.StdEncoding.EncodeToString(modelPCM),
						},
					}},
				},
				"turnComplete": true,
			},
		})
		holdOpen(conn)
	})

	sess, mic, player := newTestSession(wsURL(srv), nil, live.Config{})
	mic.Chunks = [][]byte{captured}
	defer sess.Close()

	if err := sess.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	select {
	case pcm := <-gotAudio:
		if string(pcm) != string(captured) {
			t.Errorf("server received %v, want %v", pcm, captured)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("server never received captured audio")
	}

	awaitEvent(t, sess, live.EventTurnComplete)

	// The decode worker and playback drain move the model audio to the
	// player shortly after.
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if string(player.Written()) == string(modelPCM) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Errorf("player received %v, want %v", player.Written(), modelPCM)
}

// TestSession_ToolCallRoundTrip verifies that an inbound toolCall reaches
// the handler and every response is sent back with matching id and name.
func TestSession_ToolCallRoundTrip(t *testing.T) {
	t.Parallel()
	responses := make(chan live.ClientEnvelope, 2)
	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var setup live.ClientEnvelope
		readJSON(t, conn, &setup)
		sendSetupComplete(t, conn)

		writeJSON(t, conn, map[string]any{
			"toolCall": map[string]any{
				"functionCalls": []map[string]any{
					{"id": "call-1", "name": "light_on", "args": map[string]any{"room": "kitchen"}},
					{"id": "call-2", "name": "light_off", "args": map[string]any{}},
				},
			},
		})

		for range 2 {
			var env live.ClientEnvelope
			readJSON(t, conn, &env)
			responses <- env
		}
		holdOpen(conn)
	})

	handler := &stubHandler{}
	sess, _, _ := newTestSession(wsURL(srv), handler, live.Config{})
	defer sess.Close()

	if err := sess.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	seen := map[string]bool{}
	for range 2 {
		select {
		case env := <-responses:
			if env.ToolResponse == nil || len(env.ToolResponse.FunctionResponses) != 1 {
				t.Fatalf("expected one function response per envelope, got %+v", env)
			}
			fr := env.ToolResponse.FunctionResponses[0]
			seen[fr.ID] = true
			if fr.Response["result"] != "ok" {
				t.Errorf("response payload = %v, want result ok", fr.Response)
			}
		case <-time.After(3 * time.Second):
			t.Fatal("tool responses never arrived")
		}
	}
	if !seen["call-1"] || !seen["call-2"] {
		t.Errorf("response ids = %v, want call-1 and call-2", seen)
	}
}

// TestSession_InterruptedEventAndFlush verifies that an interruption
// flushes queued playback and surfaces an event.
func TestSession_InterruptedEventAndFlush(t *testing.T) {
	t.Parallel()
	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var setup live.ClientEnvelope
		readJSON(t, conn, &setup)
		sendSetupComplete(t, conn)
		writeJSON(t, conn, map[string]any{
			"serverContent": map[string]any{"interrupted": true},
		})
		holdOpen(conn)
	})

	sess, _, _ := newTestSession(wsURL(srv), nil, live.Config{AllowInterruptions: true})
	defer sess.Close()

	if err := sess.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	awaitEvent(t, sess, live.EventInterrupted)
	if got := sess.BufferedMs(); got != 0 {
		t.Errorf("BufferedMs after interruption = %d, want 0", got)
	}
}

// TestSession_CloseIsIdempotent verifies double close releases resources
// exactly once.
func TestSession_CloseIsIdempotent(t *testing.T) {
	t.Parallel()
	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var setup live.ClientEnvelope
		readJSON(t, conn, &setup)
		sendSetupComplete(t, conn)
		holdOpen(conn)
	})

	sess, mic, player := newTestSession(wsURL(srv), nil, live.Config{})
	if err := sess.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := sess.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	if got := player.StopCalls(); got != 1 {
		t.Errorf("player Stop calls = %d, want 1", got)
	}
	if mic.CallCountStop != 1 {
		t.Errorf("capture Stop calls = %d, want 1", mic.CallCountStop)
	}
	if got := sess.State(); got != live.StateClosed {
		t.Errorf("state after Close = %s, want CLOSED", got)
	}
}
