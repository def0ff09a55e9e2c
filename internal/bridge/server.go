// Package bridge exposes a running counter session over HTTP so scripts and
// other processes can issue the same commands as the terminal controls.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/kingrea/reactive-counter/internal/session"
)

var errServerDisabled = errors.New("bridge: server disabled")

// Server wraps the HTTP listener and handlers backing the command bridge.
type Server struct {
	settings Settings
	control  Controller
	metrics  http.Handler
	logger   Logger
	clock    func() time.Time
	limiter  *rate.Limiter
	recent   *recentCommands

	mu        sync.RWMutex
	server    *http.Server
	addr      string
	draining  bool
	startTime time.Time
}

// Option customizes server construction.
type Option func(*Server)

// WithMetricsHandler serves h on /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) {
		s.metrics = h
	}
}

// WithLogger overrides the default no-op logger.
func WithLogger(l Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock allows tests to control timestamps.
func WithClock(clock func() time.Time) Option {
	return func(s *Server) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewServer prepares a bridge server driving control. Zero settings fields
// take their defaults, except Port 0 which binds an ephemeral port.
func NewServer(settings Settings, control Controller, opts ...Option) *Server {
	port := settings.Port
	settings = settings.withDefaults()
	if port == 0 {
		settings.Port = 0
	}
	s := &Server{
		settings: settings,
		control:  control,
		logger:   nopLogger{},
		clock:    func() time.Time { return time.Now().UTC() },
		limiter:  rate.NewLimiter(rate.Limit(settings.RatePerSecond), settings.Burst),
		recent:   newRecentCommands(defaultDedupeWindow),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Start binds the TCP listener and serves in the background until Shutdown.
func (s *Server) Start(ctx context.Context) error {
	if !s.settings.Enabled {
		return errServerDisabled
	}
	if s.control == nil {
		return errors.New("bridge: no controller")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server != nil {
		return errors.New("bridge: server already started")
	}
	listener, err := net.Listen("tcp", s.settings.Address())
	if err != nil {
		return fmt.Errorf("bridge: listen %s: %w", s.settings.Address(), err)
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/commands", s.handleCommands)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics)
	}
	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  s.settings.Timeout,
		WriteTimeout: s.settings.Timeout,
		IdleTimeout:  s.settings.IdleTimeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}
	s.addr = listener.Addr().String()
	s.startTime = s.clock()
	s.draining = false
	go func(server *http.Server) {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Printf("bridge: serve error: %v", err)
		}
	}(s.server)
	s.logger.Printf("bridge: listening on %s", s.addr)
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	server := s.server
	s.draining = true
	s.mu.Unlock()
	if server == nil {
		return nil
	}
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("bridge: shutdown: %w", err)
	}
	s.mu.Lock()
	s.server = nil
	s.addr = ""
	s.mu.Unlock()
	return nil
}

// URL returns the base URL of the running server, or of the configured
// address before Start.
func (s *Server) URL() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.addr != "" {
		return "http://" + s.addr
	}
	return "http://" + s.settings.Address()
}

func (s *Server) status() (string, int64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch {
	case s.server == nil:
		return "stopped", 0
	case s.draining:
		return "draining", 0
	}
	return "ready", int64(s.clock().Sub(s.startTime).Seconds())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", fmt.Sprintf("%s, %s", http.MethodGet, http.MethodHead))
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	status, uptime := s.status()
	resp := healthResponse{
		Status:        status,
		Version:       ProtocolVersion,
		SessionID:     s.control.ID(),
		LockedOut:     s.control.LockedOut(),
		UptimeSeconds: uptime,
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCommands(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	if !s.limiter.Allow() {
		w.Header().Set("Retry-After", "1")
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate limit exceeded"})
		return
	}
	if r.Body == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "empty body"})
		return
	}
	reader := http.MaxBytesReader(w, r.Body, s.settings.MaxBodyBytes)
	defer reader.Close()
	body, err := io.ReadAll(reader)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "payload exceeds limit"})
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unable to read body"})
		return
	}
	var cmd CommandRequest
	if err := json.Unmarshal(body, &cmd); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	cmd.Normalize()
	if err := cmd.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if s.recent.seen(cmd.CommandID) {
		writeJSON(w, http.StatusOK, commandResponse{Status: "duplicate", Command: cmd.Command, ServerTime: s.clock().UTC()})
		return
	}
	if err := s.apply(cmd.Command); err != nil {
		s.recent.forget(cmd.CommandID)
		if errors.Is(err, session.ErrLockedOut) {
			writeJSON(w, http.StatusConflict, map[string]string{"error": "controls are locked"})
			return
		}
		s.logger.Printf("bridge: %s failed: %v", cmd.Command, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "command failed"})
		return
	}
	writeJSON(w, http.StatusAccepted, commandResponse{Status: "accepted", Command: cmd.Command, ServerTime: s.clock().UTC()})
}

func (s *Server) apply(command string) error {
	switch command {
	case CommandIncrease:
		return s.control.Increase()
	case CommandDecrease:
		return s.control.Decrease()
	case CommandStop:
		if s.control.LockedOut() {
			return session.ErrLockedOut
		}
		return s.control.Stop()
	}
	return fmt.Errorf("unknown command %q", command)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}
