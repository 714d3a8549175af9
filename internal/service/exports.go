package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/compliscope/compliscope/internal/catalog"
	"github.com/compliscope/compliscope/internal/charts"
	"github.com/compliscope/compliscope/internal/history"
	"github.com/compliscope/compliscope/internal/models"
	"github.com/compliscope/compliscope/internal/queue"
	"github.com/compliscope/compliscope/internal/reports"
	"github.com/compliscope/compliscope/internal/simulation"
)

// SimulationPDF renders the predictive analysis export. A chart that fails to
// render is left out; the assembler prints its placeholder instead.
func (s *Service) SimulationPDF(ctx context.Context, documentName string, analysis *models.PredictiveAnalysis) (*reports.Export, error) {
	if analysis == nil {
		return nil, reports.ErrNoAnalysis
	}

	chart, err := charts.ScoreComparisonPNG(analysis.OriginalScores, analysis.PredictedScores)
	if err != nil {
		s.logger.Warn("rendering score chart", "scenario_id", analysis.ScenarioID, "error", err)
		chart = nil
	}

	return s.assembler.Export(&reports.ExportData{
		DocumentName: documentName,
		Analysis:     analysis,
		ChartPNG:     chart,
		Branding:     s.currentBranding(ctx),
		GeneratedAt:  s.clock.Now(),
	})
}

// ReportPDF renders one stored report.
func (s *Service) ReportPDF(ctx context.Context, userID, documentID string) (*reports.Export, error) {
	r, err := s.history.GetReport(ctx, userID, documentID)
	if err != nil {
		return nil, err
	}
	return reports.RenderDetail(r, s.currentBranding(ctx), s.clock.Now())
}

// HistoryCSV exports the user's whole history.
func (s *Service) HistoryCSV(ctx context.Context, userID string) (*reports.Export, error) {
	all, err := s.history.GetReportsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return reports.HistoryCSV(all, s.clock.Now())
}

// Render produces the file an export job asks for. Lookups that can never
// succeed are marked permanent so the queue does not retry them.
func (s *Service) Render(ctx context.Context, job *queue.Job) (*queue.RenderResult, error) {
	res, err := s.render(ctx, job)
	if err != nil && isPermanent(err) {
		return nil, fmt.Errorf("%w: %w", queue.ErrPermanent, err)
	}
	return res, err
}

func (s *Service) render(ctx context.Context, job *queue.Job) (*queue.RenderResult, error) {
	switch job.Kind {
	case queue.KindHistoryCSV:
		exp, err := s.HistoryCSV(ctx, job.UserID)
		if err != nil {
			return nil, err
		}
		return &queue.RenderResult{Export: exp, DocumentName: "Report history"}, nil

	case queue.KindReportPDF:
		r, err := s.history.GetReport(ctx, job.UserID, job.DocumentID)
		if err != nil {
			return nil, err
		}
		exp, err := reports.RenderDetail(r, s.currentBranding(ctx), s.clock.Now())
		if err != nil {
			return nil, err
		}
		return &queue.RenderResult{
			Export:       exp,
			DocumentName: r.DocumentName,
			OverallScore: r.OverallScore,
			RiskCount:    len(r.Risks),
			IsSimulation: r.IsSimulation,
		}, nil

	case queue.KindSimulationPDF:
		base, err := s.history.GetReport(ctx, job.UserID, job.DocumentID)
		if err != nil {
			return nil, err
		}
		analysis, err := s.runner.Run(ctx, base, job.ScenarioID)
		if err != nil {
			return nil, err
		}
		exp, err := s.SimulationPDF(ctx, base.DocumentName, analysis)
		if err != nil {
			return nil, err
		}
		return &queue.RenderResult{
			Export:       exp,
			DocumentName: fmt.Sprintf("%s (Simulation: %s)", base.DocumentName, analysis.ScenarioName),
			OverallScore: analysis.PredictedScores.Overall,
			RiskCount:    len(analysis.RiskTrends),
			IsSimulation: true,
		}, nil

	default:
		return nil, fmt.Errorf("%w: unknown kind %q", queue.ErrInvalidJob, job.Kind)
	}
}

func isPermanent(err error) bool {
	return errors.Is(err, history.ErrReportNotFound) ||
		errors.Is(err, catalog.ErrNoData) ||
		errors.Is(err, catalog.ErrScenarioNotFound) ||
		errors.Is(err, simulation.ErrInvalidInput) ||
		errors.Is(err, queue.ErrInvalidJob)
}
