// Package gateway exposes the instrument bridge over HTTP: thin 1:1 REST
// adapters over the session pool, a live status stream over websocket, and
// the Prometheus scrape endpoint.
package gateway

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/vibelab/vvbridge/internal/metrics"
	"github.com/vibelab/vvbridge/pkg/instrument"
	"github.com/vibelab/vvbridge/pkg/profiles"
)

// Config holds gateway configuration.
type Config struct {
	Host           string
	Port           int
	CORSOrigins    []string
	RequestTimeout time.Duration
	AcquireTimeout time.Duration
	StatusInterval time.Duration
}

// Server bridges HTTP requests into pool sessions.
type Server struct {
	cfg      Config
	pool     *instrument.Pool
	catalog  *profiles.Catalog
	metrics  *metrics.Metrics
	logger   zerolog.Logger
	router   *mux.Router
	handler  http.Handler
	server   *http.Server
	upgrader websocket.Upgrader
	started  time.Time
}

// NewServer creates a gateway over the given pool. The catalog and metrics
// are optional; without a catalog the profile endpoints report the feature as
// unconfigured.
func NewServer(cfg Config, pool *instrument.Pool, catalog *profiles.Catalog, m *metrics.Metrics, logger zerolog.Logger) (*Server, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if cfg.Port <= 0 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = 30 * time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = 2 * time.Second
	}

	s := &Server{
		cfg:     cfg,
		pool:    pool,
		catalog: catalog,
		metrics: m,
		logger:  logger.With().Str("component", "gateway").Logger(),
		started: time.Now(),
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			for _, allowed := range cfg.CORSOrigins {
				if allowed == "*" || allowed == origin {
					return true
				}
			}
			return false
		},
	}
	s.setupRoutes()
	return s, nil
}

func (s *Server) setupRoutes() {
	s.router = mux.NewRouter()

	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(s.requestIDMiddleware)
	api.Use(s.loggingMiddleware)

	// Test control
	api.HandleFunc("/starttest", s.handleStartTest).Methods("GET", "POST")
	api.HandleFunc("/stoptest", s.handleStopTest).Methods("GET", "POST")
	api.HandleFunc("/resumetest", s.handleResumeTest).Methods("GET", "POST")
	api.HandleFunc("/runtest", s.handleRunTest).Methods("GET", "POST")
	api.HandleFunc("/opentest", s.handleOpenTest).Methods("GET", "POST")
	api.HandleFunc("/closetest", s.handleCloseTest).Methods("GET", "POST")

	// Status properties
	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/isready", s.handleBoolProp("IsReady")).Methods("GET")
	api.HandleFunc("/isrunning", s.handleBoolProp("IsRunning")).Methods("GET")
	api.HandleFunc("/isaborted", s.handleBoolProp("IsAborted")).Methods("GET")
	api.HandleFunc("/canresumetest", s.handleBoolProp("CanResumeTest")).Methods("GET")

	// Hardware configuration
	api.HandleFunc("/gethardwareinputchannels", s.handleIntProp("GetHardwareInputChannels")).Methods("GET")
	api.HandleFunc("/gethardwareoutputchannels", s.handleIntProp("GetHardwareOutputChannels")).Methods("GET")
	api.HandleFunc("/gethardwareserialnumber", s.handleValueProp("GetHardwareSerialNumber")).Methods("GET")
	api.HandleFunc("/getsoftwareversion", s.handleValueProp("GetSoftwareVersion")).Methods("GET")

	// Reporting
	api.HandleFunc("/reportfield", s.handleReportField).Methods("GET")
	api.HandleFunc("/reportfields", s.handleReportFields).Methods("POST")
	api.HandleFunc("/reportvector", s.handleReportVector).Methods("GET")

	// Profiles
	api.HandleFunc("/profiles", s.handleProfiles).Methods("GET")

	// Service endpoints
	api.HandleFunc("/health", s.handleHealth).Methods("GET")
	api.HandleFunc("/docs", s.handleDocs).Methods("GET")
	api.HandleFunc("/ws", s.handleWebSocket)

	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics.Handler()).Methods("GET")
	}

	// CORS wraps the whole router so preflight requests are answered even
	// when no route matches the OPTIONS method.
	s.handler = s.corsMiddleware(s.router)
}

// Start begins serving in the background. Errors other than a clean shutdown
// are reported through the returned channel.
func (s *Server) Start(ctx context.Context) <-chan error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:      s.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: s.cfg.RequestTimeout,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	s.logger.Info().Str("addr", s.server.Addr).Msg("starting gateway")
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()
	return errCh
}

// Shutdown drains in-flight HTTP requests. The pool is shut down separately
// by the caller once the HTTP surface is quiet.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("shutting down gateway")
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router exposes the handler for tests.
func (s *Server) Router() http.Handler {
	return s.handler
}

// acquire leases a session with the configured acquire timeout applied on
// top of the request context.
func (s *Server) acquire(ctx context.Context) (*instrument.Session, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.AcquireTimeout)
	defer cancel()

	start := time.Now()
	sess, err := s.pool.Acquire(ctx)
	if s.metrics != nil {
		s.metrics.AcquireDuration.Observe(time.Since(start).Seconds())
		if err != nil && ctx.Err() != nil {
			s.metrics.AcquireTimeoutsTotal.Inc()
		}
	}
	return sess, err
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.sendData(w, map[string]interface{}{
		"status":         "ok",
		"uptime_seconds": int(time.Since(s.started).Seconds()),
		"pool":           s.pool.Stats(),
	}, "")
}

func (s *Server) handleDocs(w http.ResponseWriter, r *http.Request) {
	s.sendData(w, map[string]interface{}{
		"service": "vvbridge",
		"modules": map[string]interface{}{
			"control":   []string{"/api/starttest", "/api/stoptest", "/api/runtest", "/api/resumetest", "/api/opentest", "/api/closetest"},
			"status":    []string{"/api/status", "/api/isready", "/api/isrunning", "/api/isaborted", "/api/canresumetest"},
			"hardware":  []string{"/api/gethardwareinputchannels", "/api/gethardwareoutputchannels", "/api/gethardwareserialnumber", "/api/getsoftwareversion"},
			"reporting": []string{"/api/reportfield", "/api/reportfields", "/api/reportvector"},
			"profiles":  []string{"/api/profiles"},
			"service":   []string{"/api/health", "/api/docs", "/api/ws", "/metrics"},
		},
	}, "")
}
