// Package bus fans inbound chat messages out to every interested renderer.
package bus

import (
	"reflect"
	"sync"

	"github.com/cskr/pubsub"
	"github.com/rs/zerolog"
)

// TopicInbound carries protocol.Message values decoded from the live channel.
const TopicInbound = "chat.inbound"

const capacity = 128

// Subscription receives published values in order. It is closed when the
// subscriber unsubscribes or the bus closes.
type Subscription chan any

// MessageBus is a topic-based in-process fan-out.
type MessageBus interface {
	Publish(topic string, msg any)
	Subscribe(topic string) Subscription
	Unsubscribe(ch Subscription, topics ...string)
	Close()
}

// PubSubBus implements MessageBus on cskr/pubsub. Once closed, publishes are
// dropped, unsubscribes are no-ops and new subscriptions come back closed,
// so late callers never block on the stopped pubsub goroutine.
type PubSubBus struct {
	ps     *pubsub.PubSub
	logger zerolog.Logger

	mu     sync.RWMutex
	closed bool
}

// New creates a bus whose subscribers buffer up to 128 values each.
func New(logger zerolog.Logger) *PubSubBus {
	return &PubSubBus{
		ps:     pubsub.New(capacity),
		logger: logger.With().Str("component", "bus").Logger(),
	}
}

// Publish sends msg to every subscriber of topic.
func (b *PubSubBus) Publish(topic string, msg any) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		b.logger.Debug().Str("topic", topic).Msg("publish after close dropped")
		return
	}
	b.logger.Trace().Str("topic", topic).Str("payload_type", payloadType(msg)).Msg("publish")
	b.ps.Pub(msg, topic)
}

// Subscribe returns a new subscription to topic.
func (b *PubSubBus) Subscribe(topic string) Subscription {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		ch := make(Subscription)
		close(ch)
		return ch
	}
	b.logger.Debug().Str("topic", topic).Msg("subscribe")
	return b.ps.Sub(topic)
}

// Unsubscribe removes ch from topics, or from every topic when none are
// given. The caller must keep draining ch until it is closed.
func (b *PubSubBus) Unsubscribe(ch Subscription, topics ...string) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	if len(topics) == 0 {
		b.ps.Unsub(ch)
		b.logger.Debug().Str("mode", "all").Msg("unsubscribe")
		return
	}
	b.ps.Unsub(ch, topics...)
	b.logger.Debug().Strs("topics", topics).Msg("unsubscribe")
}

// Close shuts the bus down and closes every subscription channel.
func (b *PubSubBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	b.ps.Shutdown()
}

func payloadType(v any) string {
	if v == nil {
		return "<nil>"
	}
	return reflect.TypeOf(v).String()
}
