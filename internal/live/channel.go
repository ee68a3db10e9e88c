// Package live keeps a push channel to the node open, re-establishing it
// whenever the transport closes or fails, and hands every decoded chat
// message to a registered handler.
//
// All channel state is owned by the goroutine running Channel.Run. Transport
// callbacks, reconnect timers and heartbeat ticks are turned into commands on
// a mailbox and applied one at a time, so no locking is needed around the
// handle or the retry flag.
package live

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/omochice/cats-chat/pkg/protocol"
)

const (
	// DefaultReconnectDelay is how long to wait after a transport error.
	DefaultReconnectDelay = 3 * time.Second
	// DefaultHeartbeatInterval is the period of the keep-alive tick.
	DefaultHeartbeatInterval = 10 * time.Second

	mailboxSize = 64
)

// ErrAlreadyRunning is returned by Run when called more than once.
var ErrAlreadyRunning = errors.New("live channel is already running")

// MessageHandler receives each successfully decoded inbound message.
type MessageHandler func(protocol.Message)

// Option configures a Channel.
type Option func(*Channel)

// WithClock replaces the wall clock used for timers and the heartbeat ticker.
func WithClock(clk clock.Clock) Option {
	return func(c *Channel) {
		c.clock = clk
	}
}

// WithReconnectDelay sets the delay between a transport error and the next
// connection attempt.
func WithReconnectDelay(d time.Duration) Option {
	return func(c *Channel) {
		if d > 0 {
			c.reconnectDelay = d
		}
	}
}

// WithHeartbeatInterval sets the keep-alive period.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(c *Channel) {
		if d > 0 {
			c.heartbeatInterval = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Channel) {
		c.logger = logger
	}
}

type commandKind int

const (
	cmdEvent commandKind = iota
	cmdOpen
	cmdReconnect
	cmdHeartbeat
)

type command struct {
	kind  commandKind
	event Event
}

// Channel is a self-healing live channel to a single endpoint.
type Channel struct {
	url               string
	transport         Transport
	clock             clock.Clock
	reconnectDelay    time.Duration
	heartbeatInterval time.Duration
	logger            zerolog.Logger
	handler           MessageHandler

	mailbox chan command
	done    chan struct{}
	running atomic.Bool
	phase   atomic.Int32

	// Owned by the run loop.
	handle         Handle
	handleID       uint64
	retryScheduled bool
	retryTimer     *clock.Timer
}

// New creates a Channel to url. Nothing is dialled until Run.
func New(url string, tr Transport, opts ...Option) *Channel {
	c := &Channel{
		url:               url,
		transport:         tr,
		clock:             clock.New(),
		reconnectDelay:    DefaultReconnectDelay,
		heartbeatInterval: DefaultHeartbeatInterval,
		logger:            log.With().Str("component", "live").Logger(),
		mailbox:           make(chan command, mailboxSize),
		done:              make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OnMessage registers the inbound message handler. It must be called before
// Run; the handler runs on the channel goroutine and should not block.
func (c *Channel) OnMessage(h MessageHandler) {
	c.handler = h
}

// Phase returns the current phase of the channel.
func (c *Channel) Phase() Phase {
	return Phase(c.phase.Load())
}

// Open asks the channel to (re)connect now. It is a no-op while a
// reconnect is already scheduled.
func (c *Channel) Open() {
	c.post(command{kind: cmdOpen})
}

// SendHeartbeat asks the channel to send a keep-alive frame now, in addition
// to the periodic ones.
func (c *Channel) SendHeartbeat() {
	c.post(command{kind: cmdHeartbeat})
}

// Run connects and keeps the channel alive until ctx is cancelled.
func (c *Channel) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(c.done)

	ticker := c.clock.Ticker(c.heartbeatInterval)
	defer ticker.Stop()

	c.logger.Info().Str("url", c.url).Msg("starting live channel")
	c.open()

	for {
		select {
		case <-ctx.Done():
			c.teardown()
			c.logger.Info().Msg("live channel stopped")
			return nil
		case <-ticker.C:
			c.sendHeartbeat()
		case cmd := <-c.mailbox:
			c.dispatch(cmd)
		}
	}
}

func (c *Channel) post(cmd command) {
	select {
	case c.mailbox <- cmd:
	case <-c.done:
	}
}

func (c *Channel) dispatch(cmd command) {
	switch cmd.kind {
	case cmdEvent:
		c.handleEvent(cmd.event)
	case cmdOpen:
		c.open()
	case cmdReconnect:
		c.retryTimer = nil
		c.connect()
	case cmdHeartbeat:
		c.sendHeartbeat()
	}
}

func (c *Channel) open() {
	if c.retryScheduled {
		c.logger.Debug().Msg("open skipped: reconnect already scheduled")
		return
	}
	c.connect()
}

// connect replaces the current handle with a fresh one.
func (c *Channel) connect() {
	if c.handle != nil {
		// Detach first so the superseded handle cannot report anything.
		c.handle.Detach()
		if err := c.handle.Close(); err != nil {
			c.logger.Debug().Err(err).Msg("close superseded handle")
		}
		c.handle = nil
	}

	c.handleID++
	id := c.handleID
	c.setPhase(PhaseConnecting)
	c.logger.Debug().Uint64("handle", id).Msg("connecting")

	c.handle = c.transport.Open(c.url, func(ev Event) {
		ev.handle = id
		c.post(command{kind: cmdEvent, event: ev})
	})
	c.retryScheduled = false
}

func (c *Channel) handleEvent(ev Event) {
	if c.handle == nil || ev.handle != c.handleID {
		c.logger.Debug().
			Uint64("handle", ev.handle).
			Stringer("event", ev.Kind).
			Msg("dropping event from superseded handle")
		return
	}

	switch ev.Kind {
	case EventMessage:
		c.deliver(ev.Payload)
	case EventOpened:
		c.setPhase(PhaseOpen)
		c.logger.Info().Uint64("handle", ev.handle).Msg("live channel open")
	case EventClosed:
		if c.retryScheduled {
			return
		}
		c.logger.Info().Str("reason", ev.Reason).Msg("live channel closed, reconnecting")
		c.retryScheduled = true
		c.setPhase(PhaseReconnecting)
		c.connect()
	case EventErrored:
		if c.retryScheduled {
			return
		}
		c.logger.Warn().
			Str("reason", ev.Reason).
			Dur("retry_in", c.reconnectDelay).
			Msg("live channel error, reconnecting after delay")
		c.retryScheduled = true
		c.setPhase(PhaseReconnectingAfterDelay)
		c.retryTimer = c.clock.AfterFunc(c.reconnectDelay, func() {
			c.post(command{kind: cmdReconnect})
		})
	}
}

func (c *Channel) deliver(payload []byte) {
	msg, err := protocol.DecodeMessage(payload)
	if err != nil {
		c.logger.Warn().Err(err).Int("len", len(payload)).Msg("dropping malformed frame")
		return
	}
	if c.handler != nil {
		c.handler(msg)
	}
}

func (c *Channel) sendHeartbeat() {
	if c.handle == nil || c.handle.State() != StateOpen {
		return
	}
	if err := c.handle.Send(protocol.Heartbeat); err != nil {
		c.logger.Debug().Err(err).Msg("heartbeat failed")
	}
}

func (c *Channel) teardown() {
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
	if c.handle != nil {
		c.handle.Detach()
		_ = c.handle.Close()
		c.handle = nil
	}
	c.retryScheduled = false
	c.setPhase(PhaseIdle)
}

func (c *Channel) setPhase(p Phase) {
	c.phase.Store(int32(p))
}
