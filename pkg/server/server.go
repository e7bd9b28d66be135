// Package server exposes the crane over HTTP: a websocket endpoint giving
// each client its own session and motion controller, REST endpoints for
// one-shot kinematics, and the metrics endpoint.
package server

import (
	"context"
	"net"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"crane-go/pkg/crane"
	"crane-go/pkg/errors"
	"crane-go/pkg/log"
	"crane-go/pkg/metrics"
	"crane-go/pkg/reactor"
	"crane-go/pkg/safety"
	"crane-go/pkg/session"
)

// Publisher receives every snapshot of every session. Listen is called on
// the motion tick and must not block.
type Publisher interface {
	Listen(sessionID string, snap session.Snapshot)
	Forget(sessionID string)
}

// Config holds server configuration.
type Config struct {
	// HTTP address to listen on (e.g., ":8000")
	Addr string

	Spec    *crane.Spec
	Initial crane.JointState

	TickInterval     time.Duration
	MaxDuration      time.Duration
	SnapshotInterval time.Duration

	// Reactor drives motions and snapshot pumps. The server creates and
	// runs its own when nil.
	Reactor *reactor.Reactor

	// Safety latches the emergency stop shared by every session. The
	// server creates its own when nil.
	Safety *safety.Manager

	Metrics     *metrics.CraneMetrics
	MetricsAuth metrics.HandlerConfig
	Publisher   Publisher
	Logger      *log.Logger
}

// Server is the crane HTTP and websocket server.
type Server struct {
	cfg         Config
	reactor     *reactor.Reactor
	ownsReactor bool
	safety      *safety.Manager
	metrics     *metrics.CraneMetrics
	logger      *log.Logger
	handler     http.Handler
	wsUpgrader  websocket.Upgrader

	httpServer *http.Server

	clientsMu sync.RWMutex
	clients   map[string]*wsClient

	running   atomic.Bool
	startTime time.Time
}

// New creates a server. It fails when the spec or initial state is invalid.
func New(cfg Config) (*Server, error) {
	if cfg.Spec == nil {
		return nil, errors.RuntimeErrorInit("server", "nil crane spec")
	}
	if err := cfg.Spec.Validate(); err != nil {
		return nil, errors.Wrap(err, errors.ErrConfigValidation, "invalid crane spec")
	}
	if !cfg.Initial.IsFinite() {
		return nil, errors.ConfigValidationError("initial_state", "every axis must be finite")
	}
	if cfg.SnapshotInterval <= 0 {
		cfg.SnapshotInterval = 100 * time.Millisecond
	}

	s := &Server{
		cfg:       cfg,
		reactor:   cfg.Reactor,
		safety:    cfg.Safety,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
		clients:   make(map[string]*wsClient),
		startTime: time.Now(),
	}
	if s.reactor == nil {
		s.reactor = reactor.New()
		s.ownsReactor = true
	}
	if s.metrics == nil {
		s.metrics = metrics.NewCraneMetrics()
	}
	if s.logger == nil {
		s.logger = log.GetLogger("server")
	}
	if s.safety == nil {
		s.safety = safety.New()
	}
	s.safety.OnStateChange(func(oldState, newState safety.StopState) {
		s.logger.WithFields(log.Fields{"from": oldState.String(), "to": newState.String()}).Warn("emergency stop state changed")
	})
	s.wsUpgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
	s.handler = corsMiddleware(s.routes())

	s.reactor.Run()
	s.running.Store(true)
	return s, nil
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/ws", s.handleWebSocket)
	r.Handle("/metrics", metrics.Handler(s.metrics, s.cfg.MetricsAuth))

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	api.HandleFunc("/spec", s.handleSpec).Methods(http.MethodGet)
	api.HandleFunc("/sessions", s.handleSessions).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}", s.handleSession).Methods(http.MethodGet)
	api.HandleFunc("/kinematics/forward", s.handleForward).Methods(http.MethodPost)
	api.HandleFunc("/kinematics/inverse", s.handleInverse).Methods(http.MethodPost)
	api.HandleFunc("/estop", s.handleEStopStatus).Methods(http.MethodGet)
	api.HandleFunc("/estop", s.handleEStop).Methods(http.MethodPost)
	api.HandleFunc("/estop/reset", s.handleEStopReset).Methods(http.MethodPost)
	return r
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Safety returns the server's emergency stop.
func (s *Server) Safety() *safety.Manager {
	return s.safety
}

// Metrics returns the server's metric set.
func (s *Server) Metrics() *metrics.CraneMetrics {
	return s.metrics
}

// ListenAndServe listens on cfg.Addr and serves until Shutdown.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return errors.Wrap(err, errors.ErrRuntimeInit, "listen on "+s.cfg.Addr)
	}
	return s.Serve(ln)
}

// Serve serves on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.clientsMu.Lock()
	s.httpServer = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv := s.httpServer
	s.clientsMu.Unlock()

	s.logger.Info("crane server listening on %s", ln.Addr())
	if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown halts every motion, closes every websocket session and stops
// the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if !s.running.Swap(false) {
		return nil
	}
	s.safety.Shutdown("server shutting down")

	s.clientsMu.Lock()
	clients := make([]*wsClient, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	srv := s.httpServer
	s.clientsMu.Unlock()

	for _, c := range clients {
		c.Close()
	}

	var err error
	if srv != nil {
		err = srv.Shutdown(ctx)
	}
	if s.ownsReactor {
		s.reactor.End()
		s.reactor.Wait()
	}
	return err
}

// SessionIDs returns the ids of the connected sessions in order.
func (s *Server) SessionIDs() []string {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	ids := make([]string, 0, len(s.clients))
	for id := range s.clients {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *Server) lookup(id string) (*session.Session, bool) {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	c, ok := s.clients[id]
	if !ok {
		return nil, false
	}
	return c.session, true
}

func (s *Server) addClient(c *wsClient) bool {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	if !s.running.Load() {
		return false
	}
	s.clients[c.session.ID()] = c
	return true
}

func (s *Server) removeClient(c *wsClient) {
	s.clientsMu.Lock()
	delete(s.clients, c.session.ID())
	s.clientsMu.Unlock()
}

func (s *Server) newSession() (*session.Session, error) {
	return session.New(session.Config{
		Spec:               s.cfg.Spec,
		Initial:            s.cfg.Initial,
		TickInterval:       s.cfg.TickInterval,
		DefaultMaxDuration: s.cfg.MaxDuration,
		Reactor:            s.reactor,
		Validator:          s.safety.Guard(s.cfg.Spec),
		Gate:               s.safety.CheckOperational,
		Observer:           s.metrics,
		Recorder:           s.metrics,
		Logger:             s.logger.WithPrefix("session"),
	})
}

// corsMiddleware allows cross-origin requests from browser clients
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
