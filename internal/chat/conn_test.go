package chat_test

import (
	"context"
	"sync"

	"github.com/omochice/cats-chat/internal/chat"
)

// mockConn records how the hub closed it. Reads block until ctx ends and
// writes are accepted silently; the hub itself never calls either.
type mockConn struct {
	mu          sync.Mutex
	closed      bool
	closeReason string
	remoteAddr  string
}

func newMockConn(addr string) *mockConn {
	return &mockConn{remoteAddr: addr}
}

func (m *mockConn) Read(ctx context.Context) ([]byte, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (m *mockConn) Write(ctx context.Context, data []byte) error {
	return nil
}

func (m *mockConn) Close(reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.closeReason = reason
	return nil
}

func (m *mockConn) RemoteAddr() string {
	return m.remoteAddr
}

func (m *mockConn) IsClosed() (bool, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed, m.closeReason
}

var _ chat.Conn = (*mockConn)(nil)
