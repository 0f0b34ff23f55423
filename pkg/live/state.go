package live

// State is the connection state of a [Session]. Transitions are strictly
// forward: Idle → Connecting → AwaitingSetupAck → Active → Closing →
// Closed. An error or timeout from any state jumps to Closed, which is
// terminal.
type State int

const (
	// StateIdle is the initial state before Start.
	StateIdle State = iota

	// StateConnecting covers the socket dial.
	StateConnecting

	// StateAwaitingSetupAck covers the window between sending the setup
	// envelope and receiving the server's acknowledgment.
	StateAwaitingSetupAck

	// StateActive is the steady duplex-streaming state. It is the only
	// state in which audio and tool traffic is processed.
	StateActive

	// StateClosing covers teardown in progress.
	StateClosing

	// StateClosed is terminal.
	StateClosed
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateConnecting:
		return "CONNECTING"
	case StateAwaitingSetupAck:
		return "AWAITING_SETUP_ACK"
	case StateActive:
		return "ACTIVE"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// EventKind classifies events emitted by a [Session].
type EventKind int

const (
	// EventStateChanged reports a state-machine transition.
	EventStateChanged EventKind = iota

	// EventTranscript carries a speech-recognition fragment for either
	// the user or the model.
	EventTranscript

	// EventInterrupted reports that the remote cut the current model
	// turn short (the user spoke over it).
	EventInterrupted

	// EventTurnComplete reports that the model finished its turn.
	EventTurnComplete

	// EventServerError carries a non-fatal error the server embedded in
	// the stream.
	EventServerError
)

// String returns the human-readable name of the event kind.
func (k EventKind) String() string {
	switch k {
	case EventStateChanged:
		return "STATE_CHANGED"
	case EventTranscript:
		return "TRANSCRIPT"
	case EventInterrupted:
		return "INTERRUPTED"
	case EventTurnComplete:
		return "TURN_COMPLETE"
	case EventServerError:
		return "SERVER_ERROR"
	default:
		return "UNKNOWN"
	}
}

// Event is one typed notification from a [Session]. Instead of embedding
// callback closures in the protocol loop, the session emits events onto a
// channel and the caller subscribes.
type Event struct {
	Kind EventKind

	// State is set for EventStateChanged.
	State State

	// Speaker is "user" or "model" for EventTranscript.
	Speaker string

	// Text is set for EventTranscript.
	Text string

	// Err is set for EventServerError.
	Err error
}
