package bus_test

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/omochice/cats-chat/internal/bus"
)

func receive(t *testing.T, sub bus.Subscription) any {
	t.Helper()
	select {
	case v := <-sub:
		return v
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for published value")
		return nil
	}
}

func TestPubSubBus_FanOutInOrder(t *testing.T) {
	b := bus.New(zerolog.Nop())
	defer b.Close()

	first := b.Subscribe(bus.TopicInbound)
	second := b.Subscribe(bus.TopicInbound)

	for i := 0; i < 3; i++ {
		b.Publish(bus.TopicInbound, i)
	}

	for _, sub := range []bus.Subscription{first, second} {
		for want := 0; want < 3; want++ {
			if got := receive(t, sub); got != want {
				t.Errorf("received %v, want %v", got, want)
			}
		}
	}
}

func TestPubSubBus_TopicsAreSeparate(t *testing.T) {
	b := bus.New(zerolog.Nop())
	defer b.Close()

	inbound := b.Subscribe(bus.TopicInbound)
	other := b.Subscribe("other")

	b.Publish("other", "x")
	b.Publish(bus.TopicInbound, "y")

	if got := receive(t, inbound); got != "y" {
		t.Errorf("inbound received %v, want y", got)
	}
	if got := receive(t, other); got != "x" {
		t.Errorf("other received %v, want x", got)
	}
}

func TestPubSubBus_UnsubscribeClosesChannel(t *testing.T) {
	b := bus.New(zerolog.Nop())
	defer b.Close()

	sub := b.Subscribe(bus.TopicInbound)
	b.Unsubscribe(sub)

	select {
	case _, ok := <-sub:
		if ok {
			t.Error("received value after unsubscribe")
		}
	case <-time.After(time.Second):
		t.Fatal("subscription was not closed")
	}
}

func TestPubSubBus_CallsAfterCloseDoNotBlock(t *testing.T) {
	b := bus.New(zerolog.Nop())
	sub := b.Subscribe(bus.TopicInbound)
	b.Close()

	done := make(chan bus.Subscription)
	go func() {
		b.Publish(bus.TopicInbound, "late")
		b.Unsubscribe(sub, bus.TopicInbound)
		b.Close()
		done <- b.Subscribe(bus.TopicInbound)
	}()

	select {
	case late := <-done:
		if _, ok := <-late; ok {
			t.Error("subscription after Close is open")
		}
	case <-time.After(time.Second):
		t.Fatal("bus call blocked after Close")
	}

	if _, ok := <-sub; ok {
		t.Error("subscription still open after Close")
	}
}
