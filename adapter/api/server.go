package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	onboardingapp "github.com/ramxx/tminus/internal/onboarding/application"

	feedsapp "github.com/ramxx/tminus/internal/feeds/application"
	govapp "github.com/ramxx/tminus/internal/governance/application"
	storeapp "github.com/ramxx/tminus/internal/store/application"
	"github.com/ramxx/tminus/pkg/observability"
)

// Server is the HTTP API server.
type Server struct {
	mux        *http.ServeMux
	server     *http.Server
	logger     *slog.Logger
	metrics    *observability.Metrics
	health     *observability.HealthRegistry
	auth       Authenticator
	store      *storeapp.Service
	onboarding *onboardingapp.Service
	feeds      *feedsapp.Service
	governance *govapp.Service
}

// ServerConfig holds configuration for the API server.
type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DefaultServerConfig returns the default server configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:         "0.0.0.0:8080",
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// Services bundles the application services the API fronts.
type Services struct {
	Auth       Authenticator
	Store      *storeapp.Service
	Onboarding *onboardingapp.Service
	Feeds      *feedsapp.Service
	Governance *govapp.Service
	Metrics    *observability.Metrics
	Health     *observability.HealthRegistry
}

// NewServer creates the API server.
func NewServer(cfg ServerConfig, services Services, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		mux:        http.NewServeMux(),
		logger:     logger,
		metrics:    services.Metrics,
		health:     services.Health,
		auth:       services.Auth,
		store:      services.Store,
		onboarding: services.Onboarding,
		feeds:      services.Feeds,
		governance: services.Governance,
	}
	s.registerRoutes()

	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.withMiddleware(s.mux),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics.Handler())
	}

	// Onboarding
	s.mux.HandleFunc("POST /v1/onboarding/session", s.requireAuth(s.handleCreateSession))
	s.mux.HandleFunc("GET /v1/onboarding/session", s.requireAuth(s.handleGetSession))
	s.mux.HandleFunc("POST /v1/onboarding/session/account", s.requireAuth(s.handleAddSessionAccount))
	s.mux.HandleFunc("PATCH /v1/onboarding/session/account", s.requireAuth(s.handleUpdateSessionAccount))
	s.mux.HandleFunc("POST /v1/onboarding/session/complete", s.requireAuth(s.handleCompleteSession))
	s.mux.HandleFunc("GET /v1/onboarding/status", s.requireAuth(s.handleOnboardingStatus))

	// Feeds
	s.mux.HandleFunc("POST /v1/feeds", s.requireAuth(s.handleAddFeed))
	s.mux.HandleFunc("GET /v1/feeds", s.requireAuth(s.handleListFeeds))
	s.mux.HandleFunc("GET /v1/feeds/{id}/health", s.requireAuth(s.handleFeedHealth))
	s.mux.HandleFunc("POST /v1/feeds/{id}/upgrade", s.requireAuth(s.handleUpgradeFeed))
	s.mux.HandleFunc("POST /v1/feeds/downgrade", s.requireAuth(s.handleDowngrade))

	// Events and allocations
	s.mux.HandleFunc("GET /v1/events", s.requireAuth(s.handleListEvents))
	s.mux.HandleFunc("POST /v1/events/{id}/allocation", s.requireAuth(s.handleCreateAllocation))
	s.mux.HandleFunc("GET /v1/events/{id}/allocation", s.requireAuth(s.handleGetAllocation))

	// Sync health
	s.mux.HandleFunc("GET /v1/sync/health", s.requireAuth(s.handleSyncHealth))

	// VIP policies (premium)
	s.mux.HandleFunc("POST /v1/vip-policies", s.requireTier(TierPremium, s.handleCreateVipPolicy))
	s.mux.HandleFunc("GET /v1/vip-policies", s.requireTier(TierPremium, s.handleListVipPolicies))
	s.mux.HandleFunc("DELETE /v1/vip-policies/{id}", s.requireTier(TierPremium, s.handleDeleteVipPolicy))

	// Commitments and proofs (premium)
	s.mux.HandleFunc("POST /v1/commitments", s.requireTier(TierPremium, s.handleCreateCommitment))
	s.mux.HandleFunc("GET /v1/commitments", s.requireTier(TierPremium, s.handleListCommitments))
	s.mux.HandleFunc("GET /v1/commitments/{id}/status", s.requireTier(TierPremium, s.handleCommitmentStatus))
	s.mux.HandleFunc("DELETE /v1/commitments/{id}", s.requireTier(TierPremium, s.handleDeleteCommitment))
	s.mux.HandleFunc("POST /v1/commitments/{id}/export", s.requireTier(TierPremium, s.handleExportProof))
	s.mux.HandleFunc("GET /v1/proofs/{key...}", s.requireTier(TierPremium, s.handleDownloadProof))

	// Constraints
	s.mux.HandleFunc("POST /v1/constraints", s.requireAuth(s.handleAddConstraint))
	s.mux.HandleFunc("GET /v1/constraints", s.requireAuth(s.handleListConstraints))
	s.mux.HandleFunc("DELETE /v1/constraints/{id}", s.requireAuth(s.handleDeleteConstraint))

	// Analytics
	s.mux.HandleFunc("GET /v1/cognitive-load", s.requireAuth(s.handleCognitiveLoad))
	s.mux.HandleFunc("GET /v1/context-switches", s.requireAuth(s.handleContextSwitches))
	s.mux.HandleFunc("GET /v1/deep-work", s.requireAuth(s.handleDeepWork))
	s.mux.HandleFunc("GET /v1/risk-scores", s.requireAuth(s.handleRiskScores))
	s.mux.HandleFunc("GET /v1/probabilistic-availability", s.requireAuth(s.handleAvailability))
}

// withMiddleware wraps the mux with request IDs, panic recovery, and
// request counting.
func (s *Server) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := observability.NewRequestContext(r.Context(), r.Header.Get("X-Correlation-ID"))

		defer func() {
			if recovered := recover(); recovered != nil {
				s.logger.ErrorContext(ctx, "panic in handler",
					"path", r.URL.Path,
					"panic", fmt.Sprintf("%v", recovered),
				)
				writeJSON(w, http.StatusInternalServerError, envelope{
					OK:        false,
					Error:     "internal error",
					ErrorCode: "internal",
				})
			}
		}()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))

		if s.metrics != nil {
			s.metrics.HTTPRequests.WithLabelValues(r.URL.Path, statusClass(rec.status)).Inc()
		}
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	default:
		return "2xx"
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
		return
	}
	results := s.health.Check(r.Context())
	overall := observability.Overall(results)
	status := http.StatusOK
	if overall == observability.HealthStatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"status":     overall,
		"components": results,
		"time":       time.Now().UTC().Format(time.RFC3339),
	})
}

// Start starts the API server.
func (s *Server) Start() error {
	s.logger.Info("starting API server", "addr", s.server.Addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Handler exposes the wrapped handler for tests.
func (s *Server) Handler() http.Handler {
	return s.withMiddleware(s.mux)
}
