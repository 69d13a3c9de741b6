package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/JJ-Intelligence/duel-lobby/pkg/comms"
	"github.com/JJ-Intelligence/duel-lobby/pkg/config"
	"github.com/JJ-Intelligence/duel-lobby/pkg/lobby"
	"github.com/JJ-Intelligence/duel-lobby/pkg/ratelimit"
	"github.com/JJ-Intelligence/duel-lobby/pkg/room"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

var errLobbyStopped = errors.New("lobby stopped")

// Server stores all connection dependencies for the websocket server.
type Server struct {
	log            *zap.Logger
	cfg            config.Config
	store          *ConnectionStore
	lobby          *lobby.Lobby
	limiter        ratelimit.Limiter
	socketUpgrader websocket.Upgrader
	newID          func() string

	// connections tracks the handlers of upgraded connections, which
	// http.Server.Shutdown does not wait for.
	connections sync.WaitGroup
}

// NewServer constructs a new Server instance.
func NewServer(log *zap.Logger, cfg config.Config, limiter ratelimit.Limiter) (*Server, error) {
	mode, err := room.ParseMode(cfg.Rooms.Mode)
	if err != nil {
		return nil, err
	}
	rooms, err := room.New(mode, cfg.Rooms.PoolSize)
	if err != nil {
		return nil, err
	}

	store := NewConnectionStore(log.Named("connections"))
	s := &Server{
		log:     log,
		cfg:     cfg,
		store:   store,
		lobby:   lobby.New(log.Named("lobby"), store, rooms),
		limiter: limiter,
		newID:   func() string { return uuid.New().String() },
	}
	s.socketUpgrader = websocket.Upgrader{CheckOrigin: s.checkOrigin}
	return s, nil
}

// Handler routes the websocket endpoint and the health check.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(s.rateLimit)
	r.HandleFunc("/ws", s.connectionHandler).Methods(http.MethodGet)
	r.HandleFunc("/health", healthCheck).Methods(http.MethodGet)
	return r
}

// Run starts up the websocket server on the configured port and serves until
// ctx is done.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", ":"+s.cfg.Port)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, then closes every connection and lets
// the lobby handle their disconnects before returning.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	lobbyCtx, stopLobby := context.WithCancel(context.Background())
	lobbyDone := make(chan struct{})
	go func() {
		s.lobby.Run(lobbyCtx)
		close(lobbyDone)
	}()

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Serve(ln)
	}()
	s.log.Info("Started server", zap.String("addr", ln.Addr().String()))

	var err error
	select {
	case <-ctx.Done():
		s.log.Info("Shutting down server")
	case err = <-serveErr:
		s.log.Error("Server failed", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil && err == nil {
		err = shutdownErr
	}
	s.store.CloseAll()
	s.connections.Wait()
	stopLobby()
	<-lobbyDone

	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// checkOrigin checks a requests origin, returning true if the origin is valid.
func (s *Server) checkOrigin(r *http.Request) bool {
	if s.cfg.FrontendHost == "" {
		return true
	}
	origin, err := url.Parse(r.Header.Get("Origin"))
	if err != nil || origin.Host == "" {
		return false
	}

	allowed, err := url.Parse(s.cfg.FrontendHost)
	if err == nil && allowed.Host != "" {
		return origin.Scheme == allowed.Scheme && origin.Host == allowed.Host
	}
	return origin.Host == s.cfg.FrontendHost || origin.Hostname() == s.cfg.FrontendHost
}

// rateLimit rejects requests from an IP over its limit with 429.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter == nil {
			next.ServeHTTP(w, r)
			return
		}
		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			ip = r.RemoteAddr
		}
		if err := s.limiter.Allow(r.Context(), ip); err != nil {
			s.log.Info("Rate limited request", zap.String("ip", ip), zap.String("path", r.URL.Path))
			http.Error(w, err.Error(), http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func healthCheck(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// connectionHandler upgrades new HTTP requests from clients to websockets,
// reading in further messages from those clients until they disconnect.
func (s *Server) connectionHandler(w http.ResponseWriter, r *http.Request) {
	s.connections.Add(1)
	defer s.connections.Done()

	// Upgrade HTTP GET request to a socket connection
	socket, err := s.socketUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Info("Unable to upgrade connection", zap.Error(err))
		return
	}

	conn := comms.NewConnectionWrapper(s.log, socket, s.newID(), s.cfg.SendBuffer)
	conn.Configure(s.cfg.MaxMessageSize, s.cfg.IdleTimeout)
	s.store.Connect(conn)
	go conn.WritePump(s.cfg.PingInterval)

	conn.Enqueue(comms.ToMessage(lobby.ConnectedType, lobby.ConnectedResponse{ClientID: conn.ID}))
	s.lobby.Submit(conn.ID, lobby.ConnectEvent{})

	defer func() {
		s.store.Disconnect(conn.ID)
		conn.Close()
		s.lobby.Submit(conn.ID, lobby.DisconnectEvent{})
	}()

	// Forever handle messages from this new client
	for {
		if err := s.handleIncomingMessage(conn); err != nil {
			s.log.Info("Client errored or disconnected", zap.String("conn", conn.ID), zap.Error(err))
			return
		}
	}
}

// handleIncomingMessage reads a message from a socket and submits it to the
// lobby, returning an error if the client has disconnected.
func (s *Server) handleIncomingMessage(conn *comms.ConnectionWrapper) error {
	message, err := conn.ReadMessage()
	switch {
	case errors.Is(err, comms.ErrMalformedMessage):
		s.log.Warn("Unable to decode incoming message", zap.String("conn", conn.ID), zap.Error(err))
		conn.Enqueue(comms.ToError(err.Error()))
		return nil
	case err != nil:
		return err
	}

	if !s.lobby.SubmitMessage(conn.ID, message) {
		return errLobbyStopped
	}
	return nil
}
