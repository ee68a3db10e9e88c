package live

import "fmt"

// State is the readiness of a single channel handle.
type State int

const (
	// StateConnecting means the handshake has not finished.
	StateConnecting State = iota
	// StateOpen means frames can be sent and received.
	StateOpen
	// StateClosed means the connection ended with a close.
	StateClosed
	// StateFailed means dialling or reading failed.
	StateFailed
)

// String returns the string representation of State.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateOpen:
		return "OPEN"
	case StateClosed:
		return "CLOSED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Phase is where the logical channel is in its reconnect cycle.
type Phase int32

const (
	// PhaseIdle is before Run and after it returns.
	PhaseIdle Phase = iota
	// PhaseConnecting waits for the current handle to open.
	PhaseConnecting
	// PhaseOpen has a connected handle.
	PhaseOpen
	// PhaseReconnecting follows a close; a new handle is dialled at once.
	PhaseReconnecting
	// PhaseReconnectingAfterDelay follows an error; a reconnect is scheduled.
	PhaseReconnectingAfterDelay
)

// String returns the string representation of Phase.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseConnecting:
		return "connecting"
	case PhaseOpen:
		return "open"
	case PhaseReconnecting:
		return "reconnecting"
	case PhaseReconnectingAfterDelay:
		return "reconnecting_after_delay"
	default:
		return fmt.Sprintf("phase(%d)", int32(p))
	}
}

// EventKind tags an Event.
type EventKind int

const (
	// EventMessage carries one inbound text frame.
	EventMessage EventKind = iota
	// EventOpened reports a finished handshake.
	EventOpened
	// EventClosed reports a close, with the peer's reason if any.
	EventClosed
	// EventErrored reports a dial or read failure.
	EventErrored
)

// String returns the string representation of EventKind.
func (k EventKind) String() string {
	switch k {
	case EventMessage:
		return "message"
	case EventOpened:
		return "opened"
	case EventClosed:
		return "closed"
	case EventErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Event is something a handle reports about its connection.
type Event struct {
	Kind    EventKind
	Payload []byte
	Reason  string
	Err     error

	// handle is stamped by the Channel so stale events can be told apart.
	handle uint64
}

// MessageEvent reports an inbound frame.
func MessageEvent(payload []byte) Event {
	return Event{Kind: EventMessage, Payload: payload}
}

// OpenedEvent reports that the handle finished connecting.
func OpenedEvent() Event {
	return Event{Kind: EventOpened}
}

// ClosedEvent reports a graceful or server-initiated close.
func ClosedEvent(reason string) Event {
	return Event{Kind: EventClosed, Reason: reason}
}

// ErroredEvent reports a network or handshake failure.
func ErroredEvent(err error) Event {
	ev := Event{Kind: EventErrored, Err: err}
	if err != nil {
		ev.Reason = err.Error()
	}
	return ev
}
