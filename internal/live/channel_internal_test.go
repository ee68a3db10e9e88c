package live

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omochice/cats-chat/pkg/protocol"
)

const testURL = "ws://node.test/chat/ws"

type fakeHandle struct {
	mu       sync.Mutex
	sink     Sink
	state    State
	sent     [][]byte
	sendErr  error
	closed   bool
	detached bool
}

func (h *fakeHandle) emit(ev Event) {
	h.mu.Lock()
	sink := h.sink
	h.mu.Unlock()
	if sink != nil {
		sink(ev)
	}
}

func (h *fakeHandle) setState(s State) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state = s
}

func (h *fakeHandle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

func (h *fakeHandle) Send(data []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sendErr != nil {
		return h.sendErr
	}
	h.sent = append(h.sent, append([]byte(nil), data...))
	return nil
}

func (h *fakeHandle) Sent() [][]byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([][]byte(nil), h.sent...)
}

func (h *fakeHandle) Detach() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sink = nil
	h.detached = true
}

func (h *fakeHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	h.state = StateClosed
	return nil
}

type fakeTransport struct {
	mu      sync.Mutex
	urls    []string
	handles []*fakeHandle
	opened  chan *fakeHandle
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{opened: make(chan *fakeHandle, 16)}
}

func (f *fakeTransport) Open(url string, sink Sink) Handle {
	h := &fakeHandle{sink: sink, state: StateConnecting}
	f.mu.Lock()
	f.urls = append(f.urls, url)
	f.handles = append(f.handles, h)
	f.mu.Unlock()
	select {
	case f.opened <- h:
	default:
	}
	return h
}

func (f *fakeTransport) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handles)
}

func (f *fakeTransport) Last() *fakeHandle {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handles[len(f.handles)-1]
}

func newTestChannel(tr Transport, clk clock.Clock) *Channel {
	return New(testURL, tr,
		WithClock(clk),
		WithLogger(zerolog.Nop()),
	)
}

// drain applies every queued command, as the run loop would.
func drain(c *Channel) {
	for {
		select {
		case cmd := <-c.mailbox:
			c.dispatch(cmd)
		default:
			return
		}
	}
}

// step waits for one command and applies it.
func step(t *testing.T, c *Channel) {
	t.Helper()
	select {
	case cmd := <-c.mailbox:
		c.dispatch(cmd)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for command")
	}
}

func TestChannel_OpenCreatesHandle(t *testing.T) {
	tr := newFakeTransport()
	c := newTestChannel(tr, clock.NewMock())

	require.Equal(t, PhaseIdle, c.Phase())
	c.open()

	require.Equal(t, 1, tr.Count())
	assert.Equal(t, []string{testURL}, tr.urls)
	assert.Equal(t, PhaseConnecting, c.Phase())
	assert.False(t, c.retryScheduled)

	tr.Last().setState(StateOpen)
	tr.Last().emit(OpenedEvent())
	drain(c)
	assert.Equal(t, PhaseOpen, c.Phase())
}

func TestChannel_OpenReplacesAndDetachesPreviousHandle(t *testing.T) {
	tr := newFakeTransport()
	c := newTestChannel(tr, clock.NewMock())

	c.open()
	first := tr.Last()
	c.open()

	require.Equal(t, 2, tr.Count())
	assert.True(t, first.detached)
	assert.True(t, first.closed)
	assert.Nil(t, first.sink)
}

func TestChannel_MessageDeliveredInOrder(t *testing.T) {
	tr := newFakeTransport()
	c := newTestChannel(tr, clock.NewMock())

	var got []protocol.Message
	c.OnMessage(func(m protocol.Message) {
		got = append(got, m)
	})

	c.open()
	h := tr.Last()
	h.emit(MessageEvent([]byte(`{"received_at":1700000000,"from_callsign":"N0CALL","from_ssid":1,"comment":"hi"}`)))
	h.emit(MessageEvent([]byte(`{"received_at":1700000001,"from_callsign":"N1CALL","from_ssid":2,"comment":"there"}`)))
	drain(c)

	require.Len(t, got, 2)
	assert.Equal(t, "N0CALL", got[0].FromCallsign)
	assert.Equal(t, uint8(1), got[0].FromSSID)
	assert.Equal(t, "hi", got[0].Comment)
	assert.True(t, got[0].ReceivedAt.Equal(time.Unix(1700000000, 0)))
	assert.Equal(t, "N1CALL", got[1].FromCallsign)
}

func TestChannel_MalformedMessageDropped(t *testing.T) {
	tr := newFakeTransport()
	c := newTestChannel(tr, clock.NewMock())

	calls := 0
	c.OnMessage(func(protocol.Message) { calls++ })

	c.open()
	h := tr.Last()
	h.emit(MessageEvent([]byte(`not json`)))
	h.emit(MessageEvent([]byte(`{"from_callsign":"N0CALL"}`)))
	h.emit(MessageEvent([]byte(`{"received_at":1700000000,"from_callsign":"N0CALL","from_ssid":1,"comment":"ok"}`)))
	drain(c)

	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, tr.Count(), "a bad frame must not cost the connection")
}

func TestChannel_CloseReconnectsImmediately(t *testing.T) {
	tr := newFakeTransport()
	c := newTestChannel(tr, clock.NewMock())

	c.open()
	tr.Last().emit(ClosedEvent("server going away"))
	drain(c)

	assert.Equal(t, 2, tr.Count())
	assert.False(t, c.retryScheduled)
	assert.Equal(t, PhaseConnecting, c.Phase())
}

func TestChannel_ErrorReconnectsAfterDelay(t *testing.T) {
	tr := newFakeTransport()
	clk := clock.NewMock()
	c := newTestChannel(tr, clk)

	c.open()
	tr.Last().emit(ErroredEvent(errors.New("connection refused")))
	drain(c)

	assert.Equal(t, 1, tr.Count())
	assert.True(t, c.retryScheduled)
	assert.Equal(t, PhaseReconnectingAfterDelay, c.Phase())

	clk.Add(DefaultReconnectDelay - time.Millisecond)
	drain(c)
	assert.Equal(t, 1, tr.Count(), "reconnected before the delay elapsed")

	clk.Add(time.Millisecond)
	step(t, c)

	assert.Equal(t, 2, tr.Count())
	assert.False(t, c.retryScheduled)
}

func TestChannel_ErrorThenCloseCreatesOneHandle(t *testing.T) {
	tr := newFakeTransport()
	clk := clock.NewMock()
	c := newTestChannel(tr, clk)

	c.open()
	h := tr.Last()
	h.emit(ErroredEvent(errors.New("reset by peer")))
	h.emit(ClosedEvent("abnormal closure"))
	drain(c)

	clk.Add(time.Second)
	h.emit(ClosedEvent("late close"))
	drain(c)
	assert.Equal(t, 1, tr.Count())

	clk.Add(DefaultReconnectDelay)
	step(t, c)
	drain(c)

	assert.Equal(t, 2, tr.Count())
	assert.False(t, c.retryScheduled)
}

func TestChannel_OpenIgnoredWhileRetryScheduled(t *testing.T) {
	tr := newFakeTransport()
	clk := clock.NewMock()
	c := newTestChannel(tr, clk)

	c.open()
	tr.Last().emit(ErroredEvent(errors.New("handshake failed")))
	drain(c)

	c.Open()
	c.Open()
	drain(c)
	assert.Equal(t, 1, tr.Count())

	clk.Add(DefaultReconnectDelay)
	step(t, c)
	assert.Equal(t, 2, tr.Count())

	c.Open()
	drain(c)
	assert.Equal(t, 3, tr.Count(), "open must work again once the retry completed")
}

func TestChannel_RetryFlagClearedAllowsNextAttempt(t *testing.T) {
	tr := newFakeTransport()
	clk := clock.NewMock()
	c := newTestChannel(tr, clk)

	c.open()
	for i := 0; i < 3; i++ {
		tr.Last().emit(ErroredEvent(errors.New("down")))
		drain(c)
		require.True(t, c.retryScheduled)

		clk.Add(DefaultReconnectDelay)
		step(t, c)
		require.False(t, c.retryScheduled)
	}
	tr.Last().emit(ClosedEvent("bye"))
	drain(c)

	assert.Equal(t, 5, tr.Count())
}

func TestChannel_StaleHandleEventsIgnored(t *testing.T) {
	tr := newFakeTransport()
	c := newTestChannel(tr, clock.NewMock())

	calls := 0
	c.OnMessage(func(protocol.Message) { calls++ })

	c.open()
	old := tr.Last()
	// Queued before the handle was replaced; the detach cannot recall it.
	old.emit(ClosedEvent("queued before replacement"))
	old.emit(MessageEvent([]byte(`{"received_at":1,"from_callsign":"OLD","from_ssid":0,"comment":""}`)))
	c.open()
	drain(c)

	assert.Equal(t, 2, tr.Count())
	assert.Equal(t, 0, calls)
	assert.False(t, c.retryScheduled)
}

func TestChannel_HeartbeatOnlyWhenOpen(t *testing.T) {
	tr := newFakeTransport()
	c := newTestChannel(tr, clock.NewMock())

	c.sendHeartbeat()

	c.open()
	h := tr.Last()
	c.sendHeartbeat()
	assert.Empty(t, h.Sent(), "heartbeat sent while connecting")

	h.setState(StateOpen)
	c.sendHeartbeat()
	require.Len(t, h.Sent(), 1)
	assert.Equal(t, "{}", string(h.Sent()[0]))

	h.setState(StateClosed)
	c.sendHeartbeat()
	assert.Len(t, h.Sent(), 1)
}

func TestChannel_HeartbeatFailureSwallowed(t *testing.T) {
	tr := newFakeTransport()
	c := newTestChannel(tr, clock.NewMock())

	c.open()
	h := tr.Last()
	h.setState(StateOpen)
	h.sendErr = errors.New("broken pipe")

	require.NotPanics(t, c.sendHeartbeat)
	assert.Equal(t, 1, tr.Count())
	assert.False(t, c.retryScheduled)
}

func TestChannel_RunHeartbeatTicks(t *testing.T) {
	tr := newFakeTransport()
	clk := clock.NewMock()
	c := newTestChannel(tr, clk)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	var h *fakeHandle
	select {
	case h = <-tr.opened:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for first handle")
	}
	h.setState(StateOpen)
	h.emit(OpenedEvent())
	require.Eventually(t, func() bool { return c.Phase() == PhaseOpen }, time.Second, 5*time.Millisecond)

	clk.Add(DefaultHeartbeatInterval)
	require.Eventually(t, func() bool { return len(h.Sent()) == 1 }, time.Second, 5*time.Millisecond)
	clk.Add(DefaultHeartbeatInterval)
	require.Eventually(t, func() bool { return len(h.Sent()) == 2 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.True(t, h.closed)
	assert.Equal(t, PhaseIdle, c.Phase())
}

func TestChannel_RunTwice(t *testing.T) {
	c := newTestChannel(newFakeTransport(), clock.NewMock())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	require.Eventually(t, func() bool { return c.running.Load() }, time.Second, 5*time.Millisecond)

	assert.ErrorIs(t, c.Run(context.Background()), ErrAlreadyRunning)

	cancel()
	<-done
}
