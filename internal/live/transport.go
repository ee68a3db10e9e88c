package live

// Sink receives the events of one handle, in the order they happen.
type Sink func(Event)

// Transport creates channel handles to an endpoint.
//
// Open must not block: connection progress is reported through sink.
type Transport interface {
	Open(url string, sink Sink) Handle
}

// Handle is a single duplex connection created by a Transport.
type Handle interface {
	// State reports the current readiness of the connection.
	State() State

	// Send queues one text frame and returns without waiting for the
	// write. It fails unless State is StateOpen.
	Send(data []byte) error

	// Detach drops the sink; no event is delivered after it returns.
	Detach()

	// Close tears the connection down.
	Close() error
}
