// Package api provides the HTTP REST API of the ipsweep daemon: job
// submission and status, result export, the host inventory, external
// discovery imports, a websocket progress feed and Prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	httpSwagger "github.com/swaggo/http-swagger/v2"

	_ "github.com/anstrom/ipsweep/docs/swagger" // Register generated swagger docs
	apihandlers "github.com/anstrom/ipsweep/internal/api/handlers"
	"github.com/anstrom/ipsweep/internal/api/middleware"
	"github.com/anstrom/ipsweep/internal/config"
	"github.com/anstrom/ipsweep/internal/logging"
	"github.com/anstrom/ipsweep/internal/metrics"
)

// Server timeout constants.
const (
	readHeaderTimeout = 10 * time.Second
	idleTimeout       = 60 * time.Second
	maxHeaderBytes    = 1 << 20
)

// Server represents the API server.
type Server struct {
	httpServer *http.Server
	router     *mux.Router
	config     config.APIConfig
	handlers   *apihandlers.HandlerManager
	metrics    *metrics.Metrics
	logger     *logging.Logger

	mu   sync.Mutex
	addr net.Addr
}

// New creates a new API server instance. m may be nil, in which case
// /metrics is not served.
func New(cfg config.APIConfig, deps apihandlers.Dependencies, m *metrics.Metrics, logger *logging.Logger) (*Server, error) {
	if logger == nil {
		logger = logging.Default()
	}
	if deps.Jobs == nil {
		return nil, fmt.Errorf("api server requires a job service")
	}
	if deps.Hosts == nil {
		return nil, fmt.Errorf("api server requires a host lister")
	}

	s := &Server{
		router:  mux.NewRouter(),
		config:  cfg,
		metrics: m,
		logger:  logger.WithComponent("api"),
	}
	s.handlers = apihandlers.New(deps, logger)
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:              net.JoinHostPort(cfg.ListenAddr, strconv.Itoa(cfg.Port)),
		Handler:           s.wrap(s.router),
		ReadHeaderTimeout: readHeaderTimeout,
		IdleTimeout:       idleTimeout,
		MaxHeaderBytes:    maxHeaderBytes,
	}
	return s, nil
}

// Start listens and serves until ctx is cancelled or the server fails.
// Cancelling ctx shuts the server down gracefully.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("API server failed to listen on %s: %w", s.httpServer.Addr, err)
	}
	s.mu.Lock()
	s.addr = ln.Addr()
	s.mu.Unlock()

	s.logger.Info("Starting API server",
		"address", ln.Addr().String(),
		"tls", s.config.TLS.Enabled,
		"auth", len(s.config.APIKeyHashes) > 0)

	errChan := make(chan error, 1)
	go func() {
		var err error
		if s.config.TLS.Enabled {
			err = s.httpServer.ServeTLS(ln, s.config.TLS.CertFile, s.config.TLS.KeyFile)
		} else {
			err = s.httpServer.Serve(ln)
		}
		if err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("API server failed: %w", err)
		}
		close(errChan)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err, ok := <-errChan:
		if !ok {
			return nil
		}
		return err
	}
}

// Stop gracefully stops the API server and disconnects websocket clients.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping API server")
	_ = s.handlers.Close()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("API server shutdown error", "error", err)
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	s.logger.Info("API server stopped successfully")
	return nil
}

// Addr returns the bound listen address once Start has listened.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.addr == nil {
		return ""
	}
	return s.addr.String()
}

// GetRouter returns the configured router.
func (s *Server) GetRouter() *mux.Router {
	return s.router
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	hm := s.handlers

	api := s.router.PathPrefix("/api/v1").Subrouter()
	if s.metrics != nil {
		api.Use(middleware.Metrics(s.metrics))
	}
	if len(s.config.APIKeyHashes) > 0 {
		auth := middleware.NewAuthenticator(s.config.APIKeyHashes, s.logger,
			"/api/v1/health", "/api/v1/version")
		api.Use(auth.Middleware)
	}
	api.Use(middleware.ContentType())
	api.Use(middleware.MaxBodySize(s.config.MaxRequestSize))
	api.Use(middleware.RequestTimeout(s.config.RequestTimeout))

	api.HandleFunc("/health", hm.Health).Methods(http.MethodGet)
	api.HandleFunc("/version", hm.Version).Methods(http.MethodGet)

	api.HandleFunc("/jobs", hm.SubmitJob).Methods(http.MethodPost)
	api.HandleFunc("/jobs", hm.ListJobs).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{id}", hm.GetJob).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{id}", hm.CancelJob).Methods(http.MethodDelete)
	api.HandleFunc("/jobs/{id}/export", hm.ExportJob).Methods(http.MethodGet)

	api.HandleFunc("/hosts", hm.ListHosts).Methods(http.MethodGet)
	api.HandleFunc("/discovery/import", hm.ImportExternal).Methods(http.MethodPost)

	api.HandleFunc("/ws/jobs", hm.JobsWebSocket).Methods(http.MethodGet)

	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}

	s.router.PathPrefix("/swagger/").Handler(httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
		httpSwagger.DeepLinking(true),
		httpSwagger.DocExpansion("none"),
	))
	s.router.HandleFunc("/docs", s.redirectToSwagger).Methods(http.MethodGet)
	s.router.HandleFunc("/", s.index).Methods(http.MethodGet)
}

// wrap applies the middleware that must also see unmatched routes.
func (s *Server) wrap(h http.Handler) http.Handler {
	if s.config.CORS.Enabled {
		h = handlers.CORS(
			handlers.AllowedOrigins(s.config.CORS.AllowedOrigins),
			handlers.AllowedMethods(s.config.CORS.AllowedMethods),
			handlers.AllowedHeaders(s.config.CORS.AllowedHeaders),
			handlers.ExposedHeaders([]string{middleware.RequestIDHeader, "Location"}),
		)(h)
	}
	h = handlers.RecoveryHandler(
		handlers.RecoveryLogger(recoveryLogger{s.logger}),
		handlers.PrintRecoveryStack(false),
	)(h)
	h = middleware.Logging(s.logger)(h)
	return middleware.RequestID()(h)
}

// index describes the API for root requests.
func (s *Server) index(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"service": "ipsweep",
		"version": "v1",
		"endpoints": map[string]string{
			"health":  "/api/v1/health",
			"jobs":    "/api/v1/jobs",
			"hosts":   "/api/v1/hosts",
			"metrics": "/metrics",
			"docs":    "/swagger/",
		},
		"timestamp": time.Now().UTC(),
	})
}

// redirectToSwagger redirects to the Swagger UI.
func (s *Server) redirectToSwagger(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/swagger/index.html", http.StatusMovedPermanently)
}

// recoveryLogger adapts the logger to gorilla's RecoveryHandlerLogger.
type recoveryLogger struct {
	l *logging.Logger
}

func (r recoveryLogger) Println(v ...interface{}) {
	r.l.Error("Panic in API handler", "panic", fmt.Sprint(v...))
}
