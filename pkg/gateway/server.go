package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harun/parley/internal/observability"
	"github.com/harun/parley/internal/tracing"
	"github.com/harun/parley/pkg/agent"
	"github.com/harun/parley/pkg/chat"
	"github.com/harun/parley/pkg/session"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
)

const (
	defaultWriteTimeout = 10 * time.Second
	readLimit           = 4 * MaxContentLength
)

// Server is the WebSocket chat gateway. Every connection is one chat session.
type Server struct {
	host           string
	port           int
	writeTimeout   time.Duration
	limits         RateLimits
	server         *http.Server
	listener       net.Listener
	mux            *http.ServeMux
	upgrader       websocket.Upgrader
	clients        *ClientRegistry
	authHandler    *AuthHandler
	broadcaster    *EventBroadcaster
	handler        *chat.Handler
	logger         zerolog.Logger
	isShuttingDown bool
	shutdownMu     sync.RWMutex
	connections    sync.WaitGroup
}

// Config holds server configuration
type Config struct {
	Host         string
	Port         int
	SharedSecret string
	Handler      *chat.Handler
	RateLimits   RateLimits
	WriteTimeout time.Duration
	Logger       zerolog.Logger
}

// NewServer creates a new gateway server. Port 0 picks a free port on Start.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Port < 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if cfg.Handler == nil {
		return nil, fmt.Errorf("chat handler is required")
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}

	clients := NewClientRegistry()
	limiter := NewClientRateLimiter(cfg.RateLimits)

	s := &Server{
		host:         cfg.Host,
		port:         cfg.Port,
		writeTimeout: cfg.WriteTimeout,
		limits:       limiter.limits,
		clients:      clients,
		authHandler:  NewAuthHandler(cfg.SharedSecret),
		broadcaster:  NewEventBroadcaster(clients, cfg.Logger),
		handler:      cfg.Handler,
		logger:       cfg.Logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}

	s.mux = http.NewServeMux()
	s.mux.HandleFunc("/ws", s.handleWebSocket)
	s.mux.HandleFunc("/clients", s.handleClients)
	s.mux.Handle("/metrics", observability.MetricsHandler())
	s.mux.HandleFunc("/healthz", s.handleHealth)

	return s, nil
}

// Handler exposes the HTTP routes without binding a listener
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start binds the listener and serves in the background
func (s *Server) Start() error {
	addr := net.JoinHostPort(s.host, strconv.Itoa(s.port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.listener = listener
	s.server = &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info().Str("addr", listener.Addr().String()).Msg("Starting Gateway Server")

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Gateway server error")
		}
	}()

	return nil
}

// Addr returns the bound address once started
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// ClientCount returns the number of open connections
func (s *Server) ClientCount() int {
	return s.clients.Count()
}

// Stop announces the shutdown, closes every connection and waits for their
// sessions to end, up to ctx's deadline.
func (s *Server) Stop(ctx context.Context) error {
	s.shutdownMu.Lock()
	if s.isShuttingDown {
		s.shutdownMu.Unlock()
		return nil
	}
	s.isShuttingDown = true
	s.shutdownMu.Unlock()

	s.logger.Info().Int("clients", s.ClientCount()).Msg("Shutting down Gateway Server")

	s.broadcaster.Broadcast(EventShutdown, map[string]interface{}{
		"message": "Server is shutting down",
	})

	for _, client := range s.clients.GetAll() {
		closeMsg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown")
		_ = client.Conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(time.Second))
		client.Conn.Close()
	}

	done := make(chan struct{})
	go func() {
		s.connections.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info().Msg("All connections closed")
	case <-ctx.Done():
		s.logger.Warn().Msg("Shutdown timeout reached, forcing close")
	}

	if s.server == nil {
		return nil
	}
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.logger.Info().Msg("Gateway Server stopped")
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	running, queued := 0, 0
	for _, lane := range s.handler.QueueStats() {
		queued += lane.Queued
		if lane.Running {
			running++
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":        "ok",
		"clients":       s.ClientCount(),
		"turns_running": running,
		"turns_queued":  queued,
	})
}

func (s *Server) handleClients(w http.ResponseWriter, r *http.Request) {
	if !s.authHandler.Authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, s.clients.ConnectedClients())
}

// handleWebSocket upgrades the connection and serves its session until the
// client goes away.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.shutdownMu.RLock()
	if s.isShuttingDown {
		s.shutdownMu.RUnlock()
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}
	s.connections.Add(1)
	s.shutdownMu.RUnlock()
	defer s.connections.Done()

	if !s.authHandler.Authorize(r) {
		s.logger.Warn().Str("ip", r.RemoteAddr).Msg("Rejected connection with bad secret")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}
	conn.SetReadLimit(readLimit)

	clientID, err := gonanoid.New()
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to generate client id")
		conn.Close()
		return
	}

	now := time.Now()
	client := &Client{
		ID:           clientID,
		Conn:         conn,
		ConnectedAt:  now,
		LastActivity: now,
		IPAddress:    r.RemoteAddr,
		RateLimiter:  NewClientRateLimiter(s.limits),
		writeTimeout: s.writeTimeout,
	}

	s.clients.Add(client)
	observability.SetGatewayConnections(s.clients.Count())

	s.logger.Info().
		Str("clientId", clientID).
		Str("ip", r.RemoteAddr).
		Msg("Client connected")

	s.serveClient(r.Context(), client)
}

// serveClient runs one session: messages are handed to a single worker in
// arrival order while the read loop keeps watching for disconnects.
func (s *Server) serveClient(reqCtx context.Context, client *Client) {
	// the session lives as long as the connection, not the upgrade request,
	// and keeps the request's trace
	ctx, cancel := context.WithCancel(tracing.Detach(tracing.NewRequestContext(reqCtx)))
	logger := tracing.LoggerFromContext(ctx, s.logger).With().Str("clientId", client.ID).Logger()

	defer func() {
		cancel()
		client.Conn.Close()
		s.clients.Remove(client.ID)
		observability.SetGatewayConnections(s.clients.Count())
		logger.Info().Msg("Client disconnected")
	}()

	renderer := newClientRenderer(client)
	sessionID, err := s.handler.OnSessionStart(ctx, renderer)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to start session")
		return
	}
	logger = logger.With().Str("session_key", sessionID).Logger()

	inbox := make(chan string, s.limits.MaxPending)
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		s.dispatch(ctx, client, sessionID, renderer, inbox, logger)
	}()

	s.readLoop(client, inbox, logger)

	s.handler.OnSessionEnd(sessionID)
	close(inbox)
	cancel()
	<-workerDone
}

func (s *Server) readLoop(client *Client, inbox chan<- string, logger zerolog.Logger) {
	for {
		_, raw, err := client.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn().Err(err).Msg("WebSocket error")
			}
			return
		}

		s.clients.UpdateActivity(client.ID)

		frame, err := ParseFrame(raw)
		if err != nil {
			s.sendError(client, err.Error(), logger)
			continue
		}

		if allowed, reason := client.RateLimiter.Acquire(); !allowed {
			s.sendError(client, reason, logger)
			continue
		}

		// Acquire bounds pending messages by the inbox capacity
		inbox <- frame.Content
	}
}

func (s *Server) dispatch(ctx context.Context, client *Client, sessionID string, renderer chat.Renderer, inbox <-chan string, logger zerolog.Logger) {
	for text := range inbox {
		err := s.handler.OnMessage(ctx, sessionID, text, renderer)
		client.RateLimiter.Release()

		switch {
		case err == nil || ctx.Err() != nil:
		case errors.Is(err, session.ErrSessionNotFound):
			// Reaped while idle; the connection has nothing left to talk to
			logger.Info().Msg("Session expired, closing connection")
			s.sendError(client, ReasonSessionExpired, logger)
			client.Conn.Close()
		case agent.IsRunFailure(err):
			// the session ended under a running turn; nobody is waiting for it
			logger.Debug().Err(err).Msg("Turn abandoned")
		default:
			logger.Warn().Err(err).Msg("Failed to deliver turn")
		}
	}
}

func (s *Server) sendError(client *Client, message string, logger zerolog.Logger) {
	if err := client.Send(EventMessage{Event: EventError, Data: ErrorData{Message: message}}); err != nil {
		logger.Debug().Err(err).Msg("Failed to send error event")
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
