package live

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// Transport errors.
var (
	// ErrNotConnected is returned by Send when no socket is open.
	ErrNotConnected = errors.New("live: transport not connected")
)

const (
	// defaultDialTimeout bounds a Connect attempt when the caller's
	// context carries no deadline of its own.
	defaultDialTimeout = 15 * time.Second

	// defaultSubscriberBuffer is the per-subscriber message buffer depth.
	defaultSubscriberBuffer = 64

	keepaliveInterval = 20 * time.Second
	keepaliveTimeout  = 5 * time.Second
)

// TransportOption is a functional option for configuring a [Transport].
type TransportOption func(*Transport)

// WithHTTPHeader sets additional headers sent with the WebSocket upgrade
// request (e.g. an Authorization bearer token).
func WithHTTPHeader(h http.Header) TransportOption {
	return func(t *Transport) { t.header = h }
}

// WithSubscriberBuffer sets the buffer depth of channels returned by
// [Transport.Messages]. When a slow consumer falls this far behind, the
// oldest unconsumed message is dropped to make room — the stream favors
// freshness over completeness. The default is 64.
func WithSubscriberBuffer(n int) TransportOption {
	return func(t *Transport) {
		if n > 0 {
			t.subBuffer = n
		}
	}
}

// Transport manages the persistent bidirectional WebSocket carrying
// protocol envelopes. It serializes outbound envelopes, deserializes
// inbound ones, and fans them out to subscribers.
//
// All methods are safe for concurrent use.
type Transport struct {
	url       string
	header    http.Header
	subBuffer int

	// dialMu serializes connection attempts. It is never held while a
	// caller could be waiting on a message subscription, so the opener
	// can always signal outcomes without deadlocking a waiter.
	dialMu sync.Mutex

	mu     sync.Mutex
	conn   *websocket.Conn
	subs   []chan ServerEnvelope
	closed bool
	cancel context.CancelFunc
}

// NewTransport creates a transport for the given WebSocket URL. No
// connection is attempted until [Transport.Connect].
func NewTransport(url string, opts ...TransportOption) *Transport {
	t := &Transport{
		url:       url,
		subBuffer: defaultSubscriberBuffer,
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Connect dials the endpoint. The attempt is bounded by ctx, or by a
// 15-second default when ctx has no deadline. Concurrent Connect calls
// serialize; calling Connect while already connected is a no-op returning
// nil.
func (t *Transport) Connect(ctx context.Context) error {
	t.dialMu.Lock()
	defer t.dialMu.Unlock()

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return fmt.Errorf("live: transport closed")
	}
	if t.conn != nil {
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultDialTimeout)
		defer cancel()
	}

	conn, _, err := websocket.Dial(ctx, t.url, &websocket.DialOptions{
		HTTPHeader: t.header,
	})
	if err != nil {
		return fmt.Errorf("live: dial: %w", err)
	}
	// Inbound audio bursts can exceed coder/websocket's 32 KiB default.
	conn.SetReadLimit(4 << 20)

	recvCtx, cancel := context.WithCancel(context.Background())

	t.mu.Lock()
	t.conn = conn
	t.cancel = cancel
	t.mu.Unlock()

	go t.receiveLoop(recvCtx, conn)
	go t.keepaliveLoop(recvCtx, conn)
	return nil
}

// Send marshals env and writes it as a single text frame. Fire-and-forget:
// there is no delivery guarantee beyond the socket write succeeding.
func (t *Transport) Send(ctx context.Context, env ClientEnvelope) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("live: marshal: %w", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("live: write: %w", err)
	}
	return nil
}

// Messages registers and returns a new subscription to the inbound
// envelope stream. Every subscriber sees every message, subject to the
// drop-oldest overflow policy (see [WithSubscriberBuffer]). The channel is
// closed when the connection ends.
func (t *Transport) Messages() <-chan ServerEnvelope {
	t.mu.Lock()
	defer t.mu.Unlock()

	ch := make(chan ServerEnvelope, t.subBuffer)
	if t.closed {
		close(ch)
		return ch
	}
	t.subs = append(t.subs, ch)
	return ch
}

// Close tears down the connection and closes all subscriptions. Always
// safe to call, any number of times.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	conn := t.conn
	cancel := t.cancel
	t.conn = nil
	var subs []chan ServerEnvelope
	if conn == nil {
		// No receive loop ever ran, so nothing else will close the
		// subscriptions. With a live connection they stay registered:
		// receiveLoop's closeSubs owns them, and closing here would
		// race its fan-out sends.
		subs = t.subs
		t.subs = nil
	}
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "transport closed")
	}
	for _, ch := range subs {
		close(ch)
	}
	return nil
}

// receiveLoop reads frames until the connection dies, fanning envelopes
// out to subscribers. It owns the subscriber channels: they are closed
// when it exits.
func (t *Transport) receiveLoop(ctx context.Context, conn *websocket.Conn) {
	defer t.closeSubs()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil {
				slog.Warn("live: transport read failed", "err", err)
			}
			return
		}

		var env ServerEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			// Malformed frames are dropped, never fatal.
			slog.Debug("live: dropping malformed frame", "err", err, "bytes", len(data))
			continue
		}

		t.fanOut(env)
	}
}

func (t *Transport) fanOut(env ServerEnvelope) {
	t.mu.Lock()
	subs := t.subs
	t.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- env:
		default:
			// Subscriber is full: evict the oldest unconsumed message
			// and retry once. If the consumer drained meanwhile, the
			// second send just succeeds.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- env:
			default:
			}
		}
	}
}

func (t *Transport) closeSubs() {
	t.mu.Lock()
	subs := t.subs
	t.subs = nil
	t.conn = nil
	t.mu.Unlock()

	for _, ch := range subs {
		close(ch)
	}
}

// keepaliveLoop pings the peer so intermediaries keep the idle socket
// open during long model turns.
func (t *Transport) keepaliveLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, keepaliveTimeout)
			_ = conn.Ping(pingCtx)
			cancel()
		}
	}
}
