// Package service ties the catalog, simulation runner, report history,
// settings and renderers together into the operations the API, the CLI and
// the background workers call.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/compliscope/compliscope/internal/analytics"
	"github.com/compliscope/compliscope/internal/catalog"
	"github.com/compliscope/compliscope/internal/history"
	"github.com/compliscope/compliscope/internal/integrations"
	"github.com/compliscope/compliscope/internal/models"
	"github.com/compliscope/compliscope/internal/notifications"
	"github.com/compliscope/compliscope/internal/reports"
	"github.com/compliscope/compliscope/internal/settings"
	"github.com/compliscope/compliscope/internal/simulation"
)

// Deps are the collaborators of a Service. Webhooks, Integrations and
// Notifier are optional.
type Deps struct {
	Catalog       catalog.Source
	Runner        *simulation.Runner
	History       *history.Store
	Branding      *settings.BrandingStore
	Subscriptions *settings.SubscriptionStore
	Webhooks      *settings.WebhookStore
	Integrations  *integrations.Registry
	Notifier      *notifications.Service
	Assembler     *reports.Assembler
	Clock         clockwork.Clock
	Logger        *slog.Logger
}

type Service struct {
	catalog       catalog.Source
	runner        *simulation.Runner
	history       *history.Store
	branding      *settings.BrandingStore
	subscriptions *settings.SubscriptionStore
	webhooks      *settings.WebhookStore
	integrations  *integrations.Registry
	notifier      *notifications.Service
	assembler     *reports.Assembler
	clock         clockwork.Clock
	logger        *slog.Logger
}

func New(d Deps) *Service {
	s := &Service{
		catalog:       d.Catalog,
		runner:        d.Runner,
		history:       d.History,
		branding:      d.Branding,
		subscriptions: d.Subscriptions,
		webhooks:      d.Webhooks,
		integrations:  d.Integrations,
		notifier:      d.Notifier,
		assembler:     d.Assembler,
		clock:         d.Clock,
		logger:        d.Logger,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.clock == nil {
		s.clock = clockwork.NewRealClock()
	}
	if s.catalog == nil {
		s.catalog = catalog.NewStatic()
	}
	if s.runner == nil {
		s.runner = simulation.NewRunner(s.catalog, simulation.WithClock(s.clock), simulation.WithLogger(s.logger))
	}
	if s.assembler == nil {
		s.assembler = reports.NewAssembler(s.logger)
	}
	return s
}

var (
	ErrQuotaExceeded = errors.New("simulation quota exhausted")
	ErrNoIntegration = errors.New("integrations are not configured")
)

func (s *Service) Scenarios(ctx context.Context, industry string) ([]models.SimulationScenario, error) {
	return s.catalog.GetScenarios(ctx, industry)
}

// SimulationRequest names the base report either by DocumentID, looked up in
// the user's history, or inline through Report.
type SimulationRequest struct {
	DocumentID string                   `json:"documentId,omitempty"`
	Report     *models.ComplianceReport `json:"report,omitempty"`
	ScenarioID string                   `json:"scenarioId"`
	// Persist stores the derived simulation report in history.
	Persist bool `json:"persist,omitempty"`
}

type SimulationResult struct {
	Analysis *models.PredictiveAnalysis `json:"analysis"`
	Report   *models.ComplianceReport   `json:"report,omitempty"`
	// Remaining is the quota left after this run; -1 is unlimited.
	Remaining int `json:"remaining"`
}

// Simulate runs a scenario against a base report, enforcing the user's
// simulation quota. Nothing is stored unless req.Persist is set.
func (s *Service) Simulate(ctx context.Context, userID string, req SimulationRequest) (*SimulationResult, error) {
	base, err := s.baseReport(ctx, userID, req)
	if err != nil {
		return nil, err
	}

	remaining := settings.Unlimited
	if s.subscriptions != nil {
		ok, left, err := s.subscriptions.CanRunSimulation(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("checking subscription: %w", err)
		}
		if !ok {
			return nil, ErrQuotaExceeded
		}
		remaining = left
	}

	analysis, err := s.runner.Run(ctx, base, req.ScenarioID)
	if err != nil {
		return nil, err
	}
	result := &SimulationResult{Analysis: analysis, Remaining: remaining}

	if s.subscriptions != nil {
		if err := s.subscriptions.RecordSimulation(ctx, userID); err != nil {
			return nil, fmt.Errorf("recording simulation: %w", err)
		}
		if remaining > 0 {
			result.Remaining = remaining - 1
		}
	}

	if req.Persist {
		report := simulation.ToSimulationReport(base, analysis, s.clock.Now())
		if err := s.history.PrependReport(ctx, report); err != nil {
			return nil, err
		}
		result.Report = report
	}

	s.dispatch(ctx, settings.EventSimulationCompleted, map[string]any{
		"userId":         userID,
		"scenarioId":     analysis.ScenarioID,
		"baseDocumentId": analysis.BaseDocumentID,
		"overallDelta":   analysis.ScoreDifferences.Overall,
		"persisted":      req.Persist,
	})
	return result, nil
}

func (s *Service) baseReport(ctx context.Context, userID string, req SimulationRequest) (*models.ComplianceReport, error) {
	if req.Report != nil {
		r := *req.Report
		r.UserID = userID
		return &r, nil
	}
	if req.DocumentID == "" {
		return nil, fmt.Errorf("%w: a base document is required", simulation.ErrInvalidInput)
	}
	return s.history.GetReport(ctx, userID, req.DocumentID)
}

// Compare evaluates past predictions of userID against their actual reports.
func (s *Service) Compare(ctx context.Context, userID string, current *models.PredictiveAnalysis, metric models.Metric) (*analytics.Comparison, error) {
	all, err := s.history.GetReportsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return analytics.CompareTrends(current, all, all, metric)
}

func (s *Service) Reports(ctx context.Context, userID string) ([]models.ComplianceReport, error) {
	return s.history.GetReportsForUser(ctx, userID)
}

func (s *Service) Report(ctx context.Context, userID, documentID string) (*models.ComplianceReport, error) {
	return s.history.GetReport(ctx, userID, documentID)
}

// AddReport stores report for userID at the front of the history, replacing
// the user's earlier report with the same document id. A missing document id
// or timestamp is filled in.
func (s *Service) AddReport(ctx context.Context, userID string, report *models.ComplianceReport) error {
	report.UserID = userID
	if report.DocumentID == "" {
		report.DocumentID = uuid.New().String()
	}
	if report.Timestamp.IsZero() {
		report.Timestamp = s.clock.Now()
	}
	if err := s.history.PrependReport(ctx, report); err != nil {
		return err
	}

	s.dispatch(ctx, settings.EventReportCreated, map[string]any{
		"userId":       userID,
		"documentId":   report.DocumentID,
		"documentName": report.DocumentName,
		"overallScore": report.OverallScore,
		"isSimulation": report.IsSimulation,
	})
	return nil
}

func (s *Service) DeleteReport(ctx context.Context, userID, documentID string) (bool, error) {
	deleted, err := s.history.DeleteReport(ctx, documentID, userID)
	if err != nil || !deleted {
		return deleted, err
	}
	s.dispatch(ctx, settings.EventReportDeleted, map[string]any{
		"userId":     userID,
		"documentId": documentID,
	})
	return true, nil
}

// PurgeSimulations removes simulation reports older than cutoff.
func (s *Service) PurgeSimulations(ctx context.Context, cutoff time.Time) (int, error) {
	n, err := s.history.PurgeSimulations(ctx, func(r models.ComplianceReport) bool {
		return !r.Timestamp.Before(cutoff)
	})
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("purged simulation reports", "count", n, "cutoff", cutoff)
	}
	return n, nil
}

func (s *Service) currentBranding(ctx context.Context) *models.Branding {
	if s.branding == nil {
		b := settings.DefaultBranding
		return &b
	}
	b, err := s.branding.Get(ctx)
	if err != nil {
		s.logger.Warn("loading branding, using defaults", "error", err)
		b = settings.DefaultBranding
	}
	return &b
}

func (s *Service) dispatch(ctx context.Context, event settings.Event, data any) {
	if s.webhooks == nil {
		return
	}
	deliveries, err := s.webhooks.Dispatch(ctx, event, data)
	if err != nil {
		s.logger.Warn("dispatching webhook", "event", event, "error", err)
		return
	}
	for _, d := range deliveries {
		if d.Error != "" {
			s.logger.Warn("webhook delivery failed", "event", event, "webhook_id", d.WebhookID, "error", d.Error)
		}
	}
}
