// Package server implements a development node: it serves the live chat
// channel and the send_packet API, looping every sent packet back to all
// connected clients as if it had been received over the air.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gobwas/ws"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/omochice/cats-chat/internal/chat"
	"github.com/omochice/cats-chat/pkg/protocol"
)

const (
	// ChatPath serves the live chat channel.
	ChatPath = "/chat/ws"
	// SendPacketPath accepts outbound packets.
	SendPacketPath = "/api/send_packet"

	maxRequestBody = 64 << 10
	writeTimeout   = 5 * time.Second
)

// Identity is the station the node transmits as.
type Identity struct {
	Callsign string
	SSID     uint8
}

// Server represents the development node.
type Server struct {
	address  string
	identity Identity
	hub      *chat.Hub
	router   chi.Router
	now      func() time.Time
	logger   zerolog.Logger

	server *http.Server
	wg     sync.WaitGroup

	mu       sync.Mutex
	listener net.Listener
	stopOnce sync.Once
}

// New creates a Server that will listen on address.
func New(address string, identity Identity) *Server {
	s := &Server{
		address:  address,
		identity: identity,
		hub:      chat.NewHub(),
		now:      time.Now,
		logger:   log.With().Str("component", "node").Logger(),
	}
	s.router = s.routes()
	s.server = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get(ChatPath, s.handleChatWS)
	r.Post(SendPacketPath, s.handleSendPacket)
	return r
}

// Handler returns the node's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens and serves until Stop is called. Calling Stop first makes
// Start return nil at once.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	s.logger.Info().Str("addr", listener.Addr().String()).Msg("node listening")

	if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

// Stop shuts the HTTP server down and disconnects every chat client.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("http shutdown")
		}
		s.hub.CloseAll("node shutting down")
		s.wg.Wait()
	})
}

// Addr returns the listening address, or "" before Start has bound it.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// ClientCount returns the number of connected chat clients.
func (s *Server) ClientCount() int {
	return s.hub.ClientCount()
}

// DropClients closes every chat connection, as a restarting node would.
func (s *Server) DropClients(reason string) {
	s.hub.CloseAll(reason)
}

// Inject pushes msg to every chat client and returns how many got it.
func (s *Server) Inject(msg protocol.Message) (int, error) {
	data, err := msg.Encode()
	if err != nil {
		return 0, err
	}
	return s.hub.Broadcast(data), nil
}

func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		s.logger.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	client := chat.NewClient(NewWebSocketConnection(conn, r.RemoteAddr))
	s.hub.Register(client)

	s.wg.Add(2)
	go s.readLoop(client)
	go s.writeLoop(client)
}

// readLoop drains frames from the client. Heartbeats carry nothing, so
// everything read is discarded; the loop exists to notice the disconnect.
func (s *Server) readLoop(client *chat.Client) {
	defer s.wg.Done()
	defer close(client.Outgoing)
	defer s.hub.Unregister(client)

	logger := s.logger.With().Str("client", client.ID.String()).Logger()
	for {
		data, err := client.Conn.Read(context.Background())
		if err != nil {
			logger.Debug().Err(err).Msg("client read ended")
			return
		}
		logger.Trace().Int("len", len(data)).Msg("client frame")
	}
}

func (s *Server) writeLoop(client *chat.Client) {
	defer s.wg.Done()
	defer client.Conn.Close("")

	for data := range client.Outgoing {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := client.Conn.Write(ctx, data)
		cancel()
		if err != nil {
			s.logger.Warn().Err(err).Str("client", client.ID.String()).Msg("write to chat client failed")
			s.hub.Unregister(client)
			_ = client.Conn.Close("write failed")
			for range client.Outgoing {
			}
			return
		}
	}
}

func (s *Server) handleSendPacket(w http.ResponseWriter, r *http.Request) {
	var req protocol.SendPacketRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := dec.Decode(&req); err != nil {
		http.Error(w, "invalid request: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := req.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	msg := protocol.Message{
		ReceivedAt:   s.now().UTC().Truncate(time.Second),
		FromCallsign: s.identity.Callsign,
		FromSSID:     s.identity.SSID,
	}
	if req.Comment != nil {
		msg.Comment = *req.Comment
	}

	delivered, err := s.Inject(msg)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	s.logger.Info().
		Int("destinations", len(req.Destinations)).
		Int("delivered", delivered).
		Msg("send_packet looped back")
	w.WriteHeader(http.StatusOK)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("took", time.Since(start)).
			Msg("http request")
	})
}
