package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"log/slog"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/exafs/flowadmin/internal/config"
	"github.com/exafs/flowadmin/internal/dispatch"
	"github.com/exafs/flowadmin/internal/handler"
	"github.com/exafs/flowadmin/internal/openapi"
	"github.com/exafs/flowadmin/internal/rule"
	"github.com/exafs/flowadmin/internal/server/middleware"
	"github.com/exafs/flowadmin/internal/service"
)

// Config holds the HTTP server configuration.
type Config struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
	CORSOrigins     []string
	RatePerMinute   int
	TokenHeader     string
	KeyHeader       string
	TokenTTL        time.Duration
	Version         string
}

// DefaultConfig returns a Config with sensible production defaults.
func DefaultConfig() Config {
	return Config{
		Host:            "0.0.0.0",
		Port:            8080,
		ShutdownTimeout: 30 * time.Second,
		CORSOrigins:     []string{"*"},
		RatePerMinute:   300,
		TokenHeader:     "x-access-token",
		KeyHeader:       "x-api-key",
		TokenTTL:        6 * time.Hour,
		Version:         "dev",
	}
}

// Server is the portal's HTTP server. It owns the Chi router, the store, the
// auth service, and the single authorization gate every rule entry point
// passes through.
type Server struct {
	cfg        Config
	router     chi.Router
	store      *config.Store
	authSvc    *service.AuthService
	authz      *service.Authorizer
	normalizer *rule.Normalizer
	dispatcher dispatch.Dispatcher
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a new Server, wires up all routes and middleware, and returns
// it ready to listen. Call ListenAndServe to start accepting connections.
func New(cfg Config, store *config.Store, authSvc *service.AuthService, dispatcher dispatch.Dispatcher, logger *slog.Logger) *Server {
	s := &Server{
		cfg:        cfg,
		store:      store,
		authSvc:    authSvc,
		authz:      service.NewAuthorizer(),
		normalizer: rule.NewNormalizer(),
		dispatcher: dispatcher,
		logger:     logger,
	}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// --- Global middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(s.logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Requested-With", s.cfg.TokenHeader, s.cfg.KeyHeader},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	if s.cfg.RatePerMinute > 0 {
		r.Use(middleware.RateLimit(s.cfg.KeyHeader, s.cfg.RatePerMinute))
	}
	r.Use(chimw.Compress(5))

	// --- Health checks (no auth required) ---
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)

	// --- OpenAPI spec (no auth required) ---
	r.Get("/openapi.json", s.handleOpenAPI)

	// --- API routes ---
	tokenHandler := handler.NewTokenHandler(s.store, s.authSvc, s.cfg.TokenTTL, s.logger)
	ruleHandler := handler.NewRuleHandler(s.store, s.authz, s.normalizer, s.dispatcher, s.logger)

	r.Route("/api/v3", func(r chi.Router) {
		// Login is the only unauthenticated endpoint.
		r.Post("/auth/session", tokenHandler.Login)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Authenticate(s.authSvc, s.cfg.TokenHeader, s.cfg.KeyHeader, s.logger))

			r.Get("/test_token", tokenHandler.TestToken)
			r.Get("/auth", tokenHandler.Exchange)

			r.Get("/rules", ruleHandler.List)
			r.Get("/rules/{id}", ruleHandler.Get)
			r.Post("/rules/ipv4", ruleHandler.CreateIPv4)
			r.Post("/rules/ipv6", ruleHandler.CreateIPv6)
			r.Post("/rules/rtbh", ruleHandler.CreateRTBH)
			r.Delete("/rules/{id}", ruleHandler.Delete)
		})
	})

	s.router = r
}

// handleHealthz is a liveness probe. Returns 200 if the process is running.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// handleReadyz is a readiness probe. Returns 200 when the portal database
// is reachable, 503 otherwise.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	httpStatus := http.StatusOK
	checks := map[string]string{"database": "ok"}

	if err := s.store.Ping(r.Context()); err != nil {
		checks["database"] = "error: " + err.Error()
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": status,
		"checks": checks,
	})
}

// handleOpenAPI serves the static OpenAPI 3 document for the /api/v3 surface.
func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	doc := openapi.Generate("http://"+r.Host, s.cfg.Version)
	data, err := doc.MarshalJSON()
	if err != nil {
		http.Error(w, "failed to render spec", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// ListenAndServe starts the HTTP server and blocks until a SIGINT or SIGTERM
// is received. It then performs a graceful shutdown, draining in-flight
// requests before returning.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server listen: %w", err)
	case <-ctx.Done():
		s.logger.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the underlying Chi router, useful for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// ServeHTTP implements http.Handler, delegating to the router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
