package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/cuemby/cord/pkg/log"
	"github.com/cuemby/cord/pkg/manager"
	"github.com/cuemby/cord/pkg/metrics"
	"github.com/cuemby/cord/pkg/protocol"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Config tunes the transport
type Config struct {
	SlowRequestThreshold time.Duration
	MaxMessageSize       int64
	PingInterval         time.Duration
	WriteTimeout         time.Duration
}

// DefaultConfig returns the transport defaults
func DefaultConfig() Config {
	return Config{
		SlowRequestThreshold: 350 * time.Millisecond,
		MaxMessageSize:       16 << 20,
		PingInterval:         20 * time.Second,
		WriteTimeout:         10 * time.Second,
	}
}

// Server is the network face of a Manager
type Server struct {
	manager  *manager.Manager
	cfg      Config
	router   *mux.Router
	upgrader websocket.Upgrader
	http     *http.Server
	logger   zerolog.Logger

	mu       sync.Mutex
	sessions map[*session]struct{}
}

// NewServer creates a new API server
func NewServer(mgr *manager.Manager, cfg Config) *Server {
	def := DefaultConfig()
	if cfg.SlowRequestThreshold <= 0 {
		cfg.SlowRequestThreshold = def.SlowRequestThreshold
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = def.MaxMessageSize
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}

	s := &Server{
		manager: mgr,
		cfg:     cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Browser collaborators connect from arbitrary origins
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger:   log.WithComponent("api"),
		sessions: make(map[*session]struct{}),
	}
	s.router = s.routes()
	registerHealth(mgr)
	return s
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(instrument(s.logger))

	r.Methods(http.MethodGet).Path("/ws").HandlerFunc(s.serveWS)

	r.Methods(http.MethodGet).Path("/api/db").HandlerFunc(s.restRead)
	r.Methods(http.MethodPut).Path("/api/db").HandlerFunc(s.restWrite)
	r.Methods(http.MethodPatch).Path("/api/db").HandlerFunc(s.restMerge)
	r.Methods(http.MethodDelete).Path("/api/db").HandlerFunc(s.restDelete)
	r.Methods(http.MethodPost).Path("/api/db/update-root").HandlerFunc(s.restBatch)
	r.Methods(http.MethodPost).Path("/api/auth/anonymous").HandlerFunc(s.restIdentity)
	r.Methods(http.MethodGet).Path("/api/log").HandlerFunc(s.restLog)

	r.Methods(http.MethodGet).Path("/health").HandlerFunc(metrics.HealthHandler())
	r.Methods(http.MethodGet).Path("/ready").HandlerFunc(metrics.ReadyHandler())
	r.Methods(http.MethodGet).Path("/live").HandlerFunc(metrics.LivenessHandler())
	r.Methods(http.MethodGet).Path("/metrics").Handler(metrics.Handler())
	return r
}

// Handler returns the HTTP handler for embedding in other servers
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on addr and serves until Stop is called
func (s *Server) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %v", err)
	}
	return s.Serve(lis)
}

// Serve serves on an existing listener until Stop is called
func (s *Server) Serve(lis net.Listener) error {
	s.mu.Lock()
	s.http = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	srv := s.http
	s.mu.Unlock()

	metrics.RegisterComponent("api", true, "")
	s.logger.Info().Str("addr", lis.Addr().String()).Msg("API listening")

	if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		metrics.UpdateComponent("api", false, err.Error())
		return err
	}
	return nil
}

// Stop stops accepting requests and closes every websocket session.
// Hijacked websocket connections are not tracked by http.Server, so they
// are closed explicitly.
func (s *Server) Stop(ctx context.Context) error {
	metrics.UpdateComponent("api", false, "shutting down")

	s.mu.Lock()
	srv := s.http
	s.mu.Unlock()

	var err error
	if srv != nil {
		err = srv.Shutdown(ctx)
	}
	s.DisconnectAll()
	return err
}

// DisconnectAll closes every open session. Clients observe a channel
// reset and reconnect.
func (s *Server) DisconnectAll() {
	s.mu.Lock()
	sessions := make([]*session, 0, len(s.sessions))
	for sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.close(websocket.CloseGoingAway, "server closing")
	}
}

// ConnectionCount returns the number of open sessions
func (s *Server) ConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Server) addSession(sess *session) {
	s.mu.Lock()
	s.sessions[sess] = struct{}{}
	s.mu.Unlock()
	metrics.ConnectionsActive.Inc()
}

func (s *Server) removeSession(sess *session) {
	s.mu.Lock()
	_, ok := s.sessions[sess]
	delete(s.sessions, sess)
	s.mu.Unlock()
	if ok {
		metrics.ConnectionsActive.Dec()
	}
}

// execute runs one operation for either transport, recording metrics and
// flagging slow requests
func (s *Server) execute(logger zerolog.Logger, op protocol.Operation, path string, payload json.RawMessage) (interface{}, error) {
	timer := metrics.NewTimer()
	result, err := s.manager.Execute(op, path, payload)
	took := timer.Duration()

	status := string(protocol.StatusOK)
	if err != nil {
		status = string(protocol.StatusError)
	}
	metrics.RPCRequestsTotal.WithLabelValues(string(op), status).Inc()
	timer.ObserveDurationVec(metrics.RPCRequestDuration, string(op))

	var ev *zerolog.Event
	switch {
	case took > s.cfg.SlowRequestThreshold:
		ev = logger.Warn().Bool("slow", true)
	case err != nil:
		ev = logger.Info()
	case op.Mutating():
		ev = logger.Info()
	default:
		ev = logger.Debug()
	}
	ev.Str("op", string(op)).Str("path", path).Dur("took", took).Err(err).Msg("request")

	return result, err
}
