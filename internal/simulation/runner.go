package simulation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/compliscope/compliscope/internal/catalog"
	"github.com/compliscope/compliscope/internal/metrics"
	"github.com/compliscope/compliscope/internal/models"
)

// ErrInvalidInput is returned when the base report cannot be simulated.
var ErrInvalidInput = errors.New("invalid simulation input")

// Runner produces predictive analyses from a base report and a catalog scenario.
type Runner struct {
	catalog  catalog.Source
	assessor RiskAssessor
	clock    clockwork.Clock
	logger   *slog.Logger
}

type Option func(*Runner)

func WithAssessor(a RiskAssessor) Option {
	return func(r *Runner) {
		r.assessor = a
	}
}

func WithClock(c clockwork.Clock) Option {
	return func(r *Runner) {
		r.clock = c
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) {
		r.logger = l
	}
}

func NewRunner(src catalog.Source, opts ...Option) *Runner {
	r := &Runner{
		catalog:  src,
		assessor: NewRuleAssessor(),
		clock:    clockwork.NewRealClock(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run simulates scenarioID against report. Nothing is persisted; a failed run
// returns no partial analysis.
func (r *Runner) Run(ctx context.Context, report *models.ComplianceReport, scenarioID string) (*models.PredictiveAnalysis, error) {
	if report == nil || report.DocumentID == "" {
		return nil, fmt.Errorf("%w: a document id is required", ErrInvalidInput)
	}
	if report.Industry == "" {
		return nil, fmt.Errorf("%w: an industry is required", ErrInvalidInput)
	}
	if scenarioID == "" {
		return nil, fmt.Errorf("%w: a scenario id is required", ErrInvalidInput)
	}

	analysis, err := r.run(ctx, report, scenarioID)
	if err != nil {
		metrics.SimulationsTotal.WithLabelValues(report.Industry, "failed").Inc()
		r.logger.Warn("simulation failed",
			"document_id", report.DocumentID,
			"scenario_id", scenarioID,
			"error", err)
		return nil, err
	}

	metrics.SimulationsTotal.WithLabelValues(report.Industry, "completed").Inc()
	r.logger.Info("simulation completed",
		"document_id", report.DocumentID,
		"scenario_id", scenarioID,
		"overall_delta", analysis.ScoreDifferences.Overall)
	return analysis, nil
}

func (r *Runner) run(ctx context.Context, report *models.ComplianceReport, scenarioID string) (*models.PredictiveAnalysis, error) {
	scenario, err := catalog.FindScenario(ctx, r.catalog, report.Industry, scenarioID)
	if err != nil {
		return nil, fmt.Errorf("loading scenario: %w", err)
	}

	deltas, err := r.assessor.Assess(ctx, report, scenario)
	if err != nil {
		return nil, fmt.Errorf("assessing scenario: %w", err)
	}

	original := report.Scores().Clamp()
	predicted := applyDeltas(original, deltas).Clamp()

	trends := buildRiskTrends(scenario, original, predicted)

	return &models.PredictiveAnalysis{
		ScenarioID:          scenario.ID,
		ScenarioName:        scenario.Name,
		ScenarioDescription: scenario.Description,
		BaseDocumentID:      report.DocumentID,
		GeneratedAt:         r.clock.Now(),
		OriginalScores:      original,
		PredictedScores:     predicted,
		ScoreDifferences:    predicted.Sub(original),
		RiskTrends:          trends,
		Recommendations:     buildRecommendations(scenario, trends),
	}, nil
}

func applyDeltas(s, d models.ScoreSet) models.ScoreSet {
	out := models.ScoreSet{
		Overall: s.Overall + d.Overall,
		GDPR:    s.GDPR + d.GDPR,
		HIPAA:   s.HIPAA + d.HIPAA,
		SOC2:    s.SOC2 + d.SOC2,
	}
	if s.PCIDSS != nil {
		v := *s.PCIDSS
		if d.PCIDSS != nil {
			v += *d.PCIDSS
		}
		out.PCIDSS = &v
	}
	return out
}

// TrendFor maps a regulation change onto the direction of risk severity.
// Repeals reduce risk; new or updated obligations raise it unless their impact
// is low.
func TrendFor(ch models.RegulationChange) models.TrendDirection {
	switch ch.ChangeType {
	case models.ChangeRepeal:
		return models.TrendDecrease
	case models.ChangeNew, models.ChangeUpdate:
		if ch.ImpactLevel == models.ImpactLow {
			return models.TrendStable
		}
		return models.TrendIncrease
	default:
		return models.TrendStable
	}
}

func scoreFor(s models.ScoreSet, reg models.Regulation) (int, bool) {
	m, ok := models.MetricForRegulation(reg)
	if !ok {
		return s.Overall, false
	}
	return s.Get(m)
}

func buildRiskTrends(scenario *models.SimulationScenario, original, predicted models.ScoreSet) []models.RiskTrend {
	trends := make([]models.RiskTrend, 0, len(scenario.RegulationChanges))
	for _, ch := range scenario.RegulationChanges {
		direction := TrendFor(ch)

		current, hasScore := scoreFor(original, ch.Regulation)
		if !hasScore {
			current = original.Overall
		}
		severity := models.SeverityForScore(current)

		shift := 0
		switch direction {
		case models.TrendIncrease:
			shift = 1
		case models.TrendDecrease:
			shift = -1
		}

		trend := models.RiskTrend{
			Regulation:        ch.Regulation,
			Description:       ch.Description,
			Trend:             direction,
			Impact:            ch.ImpactLevel,
			CurrentSeverity:   severity,
			ProjectedSeverity: severity.Shift(shift),
		}
		if hasScore {
			next, _ := scoreFor(predicted, ch.Regulation)
			trend.PreviousScore = models.IntPtr(current)
			trend.PredictedScore = models.IntPtr(next)
		}
		trends = append(trends, trend)
	}
	return trends
}

func buildRecommendations(scenario *models.SimulationScenario, trends []models.RiskTrend) []string {
	recs := append([]string(nil), scenario.Actions...)
	for _, t := range trends {
		switch t.Trend {
		case models.TrendIncrease:
			recs = append(recs, fmt.Sprintf("Prioritise %s controls ahead of the change: %s", t.Regulation, t.Description))
		case models.TrendDecrease:
			recs = append(recs, fmt.Sprintf("Review %s controls that the repeal makes redundant: %s", t.Regulation, t.Description))
		}
	}
	return recs
}

// ToSimulationReport derives the history entry for a simulation run. The
// result is flagged as a simulation and links back to its scenario and base
// document.
func ToSimulationReport(base *models.ComplianceReport, analysis *models.PredictiveAnalysis, now time.Time) *models.ComplianceReport {
	report := &models.ComplianceReport{
		DocumentID:   uuid.New().String(),
		UserID:       base.UserID,
		DocumentName: fmt.Sprintf("%s (Simulation: %s)", base.DocumentName, analysis.ScenarioName),
		Timestamp:    now,
		Industry:     base.Industry,
		Risks:        make([]models.ComplianceRisk, 0, len(analysis.RiskTrends)),
		Suggestions:  append([]string(nil), analysis.Recommendations...),
		IsSimulation: true,
		SimulationDetails: &models.SimulationDetails{
			ScenarioID:       analysis.ScenarioID,
			ScenarioName:     analysis.ScenarioName,
			BaseDocumentID:   base.DocumentID,
			PredictedScores:  analysis.PredictedScores,
			ScoreDifferences: analysis.ScoreDifferences,
		},
	}
	report.SetScores(analysis.PredictedScores)

	for i, t := range analysis.RiskTrends {
		if t.Trend != models.TrendIncrease {
			continue
		}
		report.Risks = append(report.Risks, models.ComplianceRisk{
			ID:          fmt.Sprintf("%s-risk-%d", analysis.ScenarioID, i+1),
			Title:       fmt.Sprintf("Projected %s exposure", t.Regulation),
			Description: t.Description,
			Severity:    t.ProjectedSeverity,
			Regulation:  t.Regulation,
		})
	}
	return report
}
