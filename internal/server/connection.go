package server

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// WebSocketConnection adapts a hijacked connection to chat.Conn using gobwas/ws.
type WebSocketConnection struct {
	conn       net.Conn
	remoteAddr string
	writeMu    sync.Mutex
	closeOnce  sync.Once
	closeErr   error
}

// NewWebSocketConnection wraps an upgraded connection.
func NewWebSocketConnection(conn net.Conn, remoteAddr string) *WebSocketConnection {
	if remoteAddr == "" {
		remoteAddr = conn.RemoteAddr().String()
	}
	return &WebSocketConnection{conn: conn, remoteAddr: remoteAddr}
}

// Read implements chat.Conn.
// Control frames are answered internally; text and binary payloads are returned.
func (wc *WebSocketConnection) Read(ctx context.Context) ([]byte, error) {
	if deadline, ok := ctx.Deadline(); ok {
		_ = wc.conn.SetReadDeadline(deadline)
	} else {
		_ = wc.conn.SetReadDeadline(time.Time{})
	}
	data, _, err := wsutil.ReadClientData(wc.conn)
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Write implements chat.Conn.
// Writes a text message using gobwas/ws.
func (wc *WebSocketConnection) Write(ctx context.Context, data []byte) error {
	wc.writeMu.Lock()
	defer wc.writeMu.Unlock()
	if deadline, ok := ctx.Deadline(); ok {
		_ = wc.conn.SetWriteDeadline(deadline)
	} else {
		_ = wc.conn.SetWriteDeadline(time.Time{})
	}
	return wsutil.WriteServerText(wc.conn, data)
}

// Close implements chat.Conn.
// Sends a going-away close frame carrying reason, then closes the socket.
func (wc *WebSocketConnection) Close(reason string) error {
	wc.closeOnce.Do(func() {
		wc.writeMu.Lock()
		_ = wc.conn.SetWriteDeadline(time.Now().Add(time.Second))
		body := ws.NewCloseFrameBody(ws.StatusGoingAway, reason)
		_ = wsutil.WriteServerMessage(wc.conn, ws.OpClose, body)
		wc.writeMu.Unlock()
		wc.closeErr = wc.conn.Close()
	})
	return wc.closeErr
}

// RemoteAddr implements chat.Conn.
func (wc *WebSocketConnection) RemoteAddr() string {
	return wc.remoteAddr
}
