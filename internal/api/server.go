package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/compliscope/compliscope/internal/analytics"
	"github.com/compliscope/compliscope/internal/archive"
	"github.com/compliscope/compliscope/internal/auth"
	"github.com/compliscope/compliscope/internal/catalog"
	"github.com/compliscope/compliscope/internal/config"
	"github.com/compliscope/compliscope/internal/history"
	"github.com/compliscope/compliscope/internal/integrations"
	"github.com/compliscope/compliscope/internal/metrics"
	"github.com/compliscope/compliscope/internal/models"
	"github.com/compliscope/compliscope/internal/queue"
	"github.com/compliscope/compliscope/internal/reports"
	"github.com/compliscope/compliscope/internal/scheduler"
	"github.com/compliscope/compliscope/internal/service"
	"github.com/compliscope/compliscope/internal/settings"
	"github.com/compliscope/compliscope/internal/simulation"
)

// ExportQueue is the part of the export queue the API uses.
type ExportQueue interface {
	Enqueue(ctx context.Context, job *queue.Job) error
	GetProgress(ctx context.Context, jobID uuid.UUID) (*queue.JobProgress, error)
	Stats(ctx context.Context) (queue.Stats, error)
}

// Deps are the components behind the routes. Service and Auth are required;
// routes whose component is nil answer 503.
type Deps struct {
	Service       *service.Service
	Auth          *auth.Service
	Subscriptions *settings.SubscriptionStore
	Branding      *settings.BrandingStore
	Webhooks      *settings.WebhookStore
	Integrations  *integrations.Registry
	Workday       *integrations.WorkdayStore
	Scheduler     *scheduler.Scheduler
	Exports       ExportQueue
	Archive       archive.Storage
	// Ready reports whether backing stores are reachable.
	Ready func(ctx context.Context) error
}

type Server struct {
	cfg    config.ServerConfig
	deps   Deps
	router *chi.Mux
	http   *http.Server
	logger *slog.Logger
}

type ServerOption func(*Server)

func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

func NewServer(cfg config.ServerConfig, deps Deps, opts ...ServerOption) *Server {
	s := &Server{
		cfg:    cfg,
		deps:   deps,
		router: chi.NewRouter(),
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.http = &http.Server{
		Addr:         cfg.Addr(),
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))
	s.router.Use(metrics.Middleware)
	s.router.Use(s.corsMiddleware())
}

func (s *Server) corsMiddleware() func(http.Handler) http.Handler {
	allowOrigin := s.cfg.CORSAllowOrigin
	if allowOrigin == "" {
		allowOrigin = "*"
		s.logger.Warn("CORS Allow-Origin set to '*' - configure server.cors_allow_origin in production")
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", allowOrigin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type")
			w.Header().Set("Access-Control-Allow-Credentials", "true")

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}

			w.Header().Set("Content-Type", "application/json")
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.healthCheck)
	s.router.Get("/ready", s.readyCheck)
	s.router.With(metricsAuth(s.cfg.MetricsUsername, s.cfg.MetricsPassword)).Handle("/metrics", promhttp.Handler())

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(s.deps.Auth.Middleware)

		r.Get("/me", s.getCurrentUser)
		r.Get("/industries", s.listIndustries)
		r.Get("/scenarios", s.listScenarios)

		r.Route("/simulations", func(r chi.Router) {
			r.Post("/", s.runSimulation)
			r.Post("/pdf", s.simulationPDF)
		})

		r.Route("/reports", func(r chi.Router) {
			r.Get("/", s.listReports)
			r.Post("/", s.createReport)
			r.Get("/export.csv", s.exportHistoryCSV)
			r.Get("/{documentID}", s.getReport)
			r.Delete("/{documentID}", s.deleteReport)
			r.Get("/{documentID}/pdf", s.reportPDF)
		})

		r.Post("/analytics/compare", s.compareTrends)

		r.Route("/integrations", func(r chi.Router) {
			r.Get("/", s.listConnections)
			r.Delete("/", s.resetIntegrations)
			r.Post("/scan", s.scanAllIntegrations)
			r.Get("/workday/config", s.getWorkdayConfig)
			r.Put("/workday/config", s.saveWorkdayConfig)
			r.Get("/workday/syncs", s.getWorkdaySyncs)
			r.Post("/{provider}/connect", s.connectIntegration)
			r.Post("/{provider}/disconnect", s.disconnectIntegration)
			r.Post("/{provider}/scan", s.scanIntegration)
		})

		r.Route("/subscription", func(r chi.Router) {
			r.Get("/", s.getSubscription)
			r.Put("/", s.updateSubscription)
			r.Delete("/", s.cancelSubscription)
		})

		r.Get("/branding", s.getBranding)

		r.Route("/exports", func(r chi.Router) {
			r.Post("/", s.createExport)
			r.With(auth.RequireRole(auth.RoleAdmin)).Get("/stats", s.exportStats)
			r.Get("/{jobID}", s.getExport)
			r.Get("/{jobID}/download", s.downloadExport)
		})

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRole(auth.RoleAdmin))

			r.Put("/branding", s.saveBranding)
			r.Delete("/branding", s.resetBranding)

			r.Route("/webhooks", func(r chi.Router) {
				r.Get("/", s.listWebhooks)
				r.Post("/", s.createWebhook)
				r.Delete("/{webhookID}", s.deleteWebhook)
			})

			r.Route("/jobs", func(r chi.Router) {
				r.Get("/", s.listScheduledJobs)
				r.Post("/", s.createScheduledJob)
				r.Get("/{jobID}", s.getScheduledJob)
				r.Put("/{jobID}", s.updateScheduledJob)
				r.Delete("/{jobID}", s.deleteScheduledJob)
				r.Post("/{jobID}/run", s.runScheduledJobNow)
				r.Get("/{jobID}/executions", s.getJobExecutions)
			})
		})
	})
}

func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("starting server", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	}
}

type apiResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *apiError   `json:"error,omitempty"`
	Meta    *apiMeta    `json:"meta,omitempty"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type apiMeta struct {
	Total  int `json:"total,omitempty"`
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apiResponse{
		Success: status >= 200 && status < 300,
		Data:    data,
	})
}

func respondJSONWithMeta(w http.ResponseWriter, status int, data interface{}, meta *apiMeta) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apiResponse{
		Success: status >= 200 && status < 300,
		Data:    data,
		Meta:    meta,
	})
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apiResponse{
		Success: false,
		Error: &apiError{
			Code:    code,
			Message: message,
		},
	})
}

// respondFailure maps a component error to a status and code.
func (s *Server) respondFailure(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, history.ErrReportNotFound),
		errors.Is(err, settings.ErrWebhookNotFound),
		errors.Is(err, scheduler.ErrJobNotFound),
		errors.Is(err, queue.ErrJobNotFound),
		errors.Is(err, archive.ErrNotFound):
		respondError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, catalog.ErrNoData), errors.Is(err, catalog.ErrScenarioNotFound):
		respondError(w, http.StatusNotFound, "scenario_not_found", err.Error())
	case errors.Is(err, history.ErrDocumentConflict):
		respondError(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, service.ErrQuotaExceeded):
		respondError(w, http.StatusPaymentRequired, "quota_exceeded", err.Error())
	case errors.Is(err, integrations.ErrNotConnected):
		respondError(w, http.StatusConflict, "not_connected", err.Error())
	case errors.Is(err, service.ErrNoIntegration):
		respondError(w, http.StatusServiceUnavailable, "unavailable", err.Error())
	case errors.Is(err, simulation.ErrInvalidInput),
		errors.Is(err, analytics.ErrUnknownMetric),
		errors.Is(err, models.ErrMissingDocumentID),
		errors.Is(err, models.ErrScoreOutOfRange),
		errors.Is(err, models.ErrMissingSimulation),
		errors.Is(err, models.ErrInvalidRiskSeverity),
		errors.Is(err, settings.ErrInvalidBranding),
		errors.Is(err, settings.ErrInvalidWebhook),
		errors.Is(err, settings.ErrUnknownPlan),
		errors.Is(err, integrations.ErrUnknownProvider),
		errors.Is(err, integrations.ErrMissingAccount),
		errors.Is(err, integrations.ErrInvalidConfig),
		errors.Is(err, queue.ErrInvalidJob),
		errors.Is(err, scheduler.ErrInvalidJob),
		errors.Is(err, reports.ErrNoAnalysis):
		respondError(w, http.StatusBadRequest, "validation_error", err.Error())
	default:
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		respondError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func respondUnavailable(w http.ResponseWriter, what string) {
	respondError(w, http.StatusServiceUnavailable, "unavailable", fmt.Sprintf("%s is not configured", what))
}

func writeExport(w http.ResponseWriter, exp *reports.Export) {
	w.Header().Set("Content-Type", exp.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", exp.Filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(exp.Data)))
	_, _ = w.Write(exp.Data)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return false
	}
	return true
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

func (s *Server) readyCheck(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ready != nil {
		if err := s.deps.Ready(r.Context()); err != nil {
			respondError(w, http.StatusServiceUnavailable, "store_unavailable", "Storage not available")
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ready",
	})
}

func (s *Server) getCurrentUser(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.GetUserFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "Not authenticated")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"userId": claims.UserID,
		"email":  claims.Email,
		"role":   claims.Role,
	})
}
