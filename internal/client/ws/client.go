// Package ws provides the WebSocket transport for the live chat channel.
package ws

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/omochice/cats-chat/internal/live"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultWriteTimeout     = 5 * time.Second
)

var (
	// ErrNotOpen is returned when sending on a handle that is not open.
	ErrNotOpen = errors.New("websocket is not open")
	// ErrSendBusy is returned when the previous frame has not been written yet.
	ErrSendBusy = errors.New("websocket send already pending")
)

// Transport dials WebSocket handles with gorilla/websocket.
type Transport struct {
	dialer       *websocket.Dialer
	header       http.Header
	writeTimeout time.Duration
	logger       zerolog.Logger
}

// Option configures a Transport.
type Option func(*Transport)

// WithHeader adds request headers to every handshake.
func WithHeader(h http.Header) Option {
	return func(t *Transport) {
		t.header = h
	}
}

// WithWriteTimeout bounds every frame write.
func WithWriteTimeout(d time.Duration) Option {
	return func(t *Transport) {
		t.writeTimeout = d
	}
}

// WithHandshakeTimeout bounds the opening handshake.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(t *Transport) {
		t.dialer.HandshakeTimeout = d
	}
}

// New creates a new Transport.
func New(opts ...Option) *Transport {
	t := &Transport{
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: defaultHandshakeTimeout,
		},
		writeTimeout: defaultWriteTimeout,
		logger:       log.With().Str("component", "transport").Str("transport", "ws").Logger(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Open starts dialing url in the background and returns the handle at once.
func (t *Transport) Open(url string, sink live.Sink) live.Handle {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Handle{
		transport: t,
		sink:      sink,
		state:     live.StateConnecting,
		cancel:    cancel,
		done:      make(chan struct{}),
		out:       make(chan []byte, 1),
		quit:      make(chan struct{}),
		logger:    t.logger.With().Str("url", url).Logger(),
	}
	go h.run(ctx, url)
	return h
}

// Handle is one WebSocket connection.
type Handle struct {
	transport *Transport
	logger    zerolog.Logger
	cancel    context.CancelFunc
	done      chan struct{}
	out       chan []byte
	quit      chan struct{}

	mu     sync.Mutex
	conn   *websocket.Conn
	sink   live.Sink
	state  live.State
	closed bool
}

// State implements live.Handle.
func (h *Handle) State() live.State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Send implements live.Handle.
// The frame is queued for the writer goroutine and Send returns at once;
// at most one frame waits, later ones fail with ErrSendBusy.
func (h *Handle) Send(data []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conn == nil || h.state != live.StateOpen {
		return ErrNotOpen
	}

	select {
	case h.out <- data:
		return nil
	default:
		return ErrSendBusy
	}
}

// Detach implements live.Handle.
func (h *Handle) Detach() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sink = nil
}

// Close implements live.Handle.
// The close frame is written in the background, so Close never waits on the
// network.
func (h *Handle) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	close(h.quit)
	conn := h.conn
	h.state = live.StateClosed
	h.mu.Unlock()

	h.cancel()

	if conn != nil {
		go func() {
			_ = conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(h.transport.writeTimeout),
			)
			if err := conn.Close(); err != nil {
				h.logger.Debug().Err(err).Msg("close")
			}
		}()
	}
	return nil
}

// Done is closed once the handle's reader goroutine has exited.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

func (h *Handle) run(ctx context.Context, url string) {
	defer close(h.done)

	conn, _, err := h.transport.dialer.DialContext(ctx, url, h.transport.header)
	if err != nil {
		if h.finish(live.StateFailed) {
			h.logger.Debug().Err(err).Msg("dial failed")
			h.emit(live.ErroredEvent(err))
		}
		return
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.conn = conn
	h.state = live.StateOpen
	h.mu.Unlock()

	go h.writeLoop(conn)
	h.emit(live.OpenedEvent())
	h.readLoop(conn)
}

func (h *Handle) writeLoop(conn *websocket.Conn) {
	for {
		select {
		case <-h.quit:
			return
		case data := <-h.out:
			_ = conn.SetWriteDeadline(time.Now().Add(h.transport.writeTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.logger.Debug().Err(err).Msg("write failed")
			}
		}
	}
}

func (h *Handle) readLoop(conn *websocket.Conn) {
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				if h.finish(live.StateClosed) {
					h.emit(live.ClosedEvent(closeReason(closeErr)))
				}
				return
			}
			if h.finish(live.StateFailed) {
				h.logger.Debug().Err(err).Msg("read failed")
				h.emit(live.ErroredEvent(err))
			}
			return
		}

		if messageType != websocket.TextMessage {
			h.logger.Debug().Int("type", messageType).Msg("ignoring non-text frame")
			continue
		}
		h.emit(live.MessageEvent(data))
	}
}

// finish records the terminal state unless Close got there first.
func (h *Handle) finish(state live.State) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.closed = true
	close(h.quit)
	h.state = state
	if h.conn != nil {
		_ = h.conn.Close()
	}
	return true
}

func (h *Handle) emit(ev live.Event) {
	h.mu.Lock()
	sink := h.sink
	h.mu.Unlock()
	if sink != nil {
		sink(ev)
	}
}

func closeReason(err *websocket.CloseError) string {
	if err.Text != "" {
		return err.Text
	}
	return err.Error()
}
