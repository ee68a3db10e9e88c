// Package client ties the live channel, the send API and the message bus
// into one chat session.
package client

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/omochice/cats-chat/internal/bus"
	"github.com/omochice/cats-chat/internal/client/api"
	"github.com/omochice/cats-chat/internal/client/ws"
	"github.com/omochice/cats-chat/internal/config"
	"github.com/omochice/cats-chat/internal/live"
	"github.com/omochice/cats-chat/internal/render"
	"github.com/omochice/cats-chat/pkg/protocol"
)

// Session is a connected chat client.
type Session struct {
	channel *live.Channel
	api     *api.Client
	bus     bus.MessageBus
	dest    *protocol.Destination
	logger  zerolog.Logger
}

// New builds a Session from cfg. transport may be nil to use WebSocket.
// Each part logs through logger tagged with its own component.
func New(cfg config.Config, transport live.Transport, logger zerolog.Logger) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}
	chatURL, err := cfg.ChatURL()
	if err != nil {
		return nil, err
	}
	apiBase, err := cfg.APIBase()
	if err != nil {
		return nil, err
	}
	if transport == nil {
		transport = ws.New()
	}

	s := &Session{
		channel: live.New(chatURL, transport,
			live.WithReconnectDelay(cfg.ReconnectDelay()),
			live.WithHeartbeatInterval(cfg.HeartbeatInterval()),
			live.WithLogger(logger.With().Str("component", "live").Logger()),
		),
		api:    api.New(apiBase),
		bus:    bus.New(logger),
		logger: logger.With().Str("component", "session").Logger(),
	}
	if cfg.Destination != "" {
		d, err := protocol.ParseDestination(cfg.Destination)
		if err != nil {
			return nil, err
		}
		s.dest = &d
	}

	s.channel.OnMessage(func(msg protocol.Message) {
		s.bus.Publish(bus.TopicInbound, msg)
	})
	return s, nil
}

// Channel exposes the underlying live channel.
func (s *Session) Channel() *live.Channel {
	return s.channel
}

// Attach feeds every inbound message to r, in arrival order, until the
// returned detach func is called or the session stops running.
func (s *Session) Attach(r render.Renderer) (detach func()) {
	sub := s.bus.Subscribe(bus.TopicInbound)
	var detached atomic.Bool

	go func() {
		// Keep draining after detach until the bus closes the subscription.
		for v := range sub {
			if detached.Load() {
				continue
			}
			msg, ok := v.(protocol.Message)
			if !ok {
				continue
			}
			if err := r.Render(msg); err != nil {
				s.logger.Warn().Err(err).Msg("render failed")
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			detached.Store(true)
			s.bus.Unsubscribe(sub, bus.TopicInbound)
		})
	}
}

// Run keeps the live channel up until ctx is cancelled.
func (s *Session) Run(ctx context.Context) error {
	defer s.bus.Close()
	return s.channel.Run(ctx)
}

// Say sends comment to the session's default destination, or to nobody
// when none is configured.
func (s *Session) Say(ctx context.Context, comment string) error {
	var dests []protocol.Destination
	if s.dest != nil {
		dests = append(dests, *s.dest)
	}
	return s.Send(ctx, comment, dests...)
}

// Send posts comment to the given destinations.
func (s *Session) Send(ctx context.Context, comment string, dests ...protocol.Destination) error {
	return s.api.SendPacket(ctx, protocol.NewSendPacketRequest(comment, dests...))
}
