package analytics

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/compliscope/compliscope/internal/models"
)

// CorrelationWindow is how long before an actual report a simulation may have
// run and still be paired with it on the trend series.
const CorrelationWindow = 24 * time.Hour

var ErrUnknownMetric = errors.New("unknown metric")

// TrendPoint is one point on the actual-vs-predicted chart. Either side may be
// missing: the current analysis only has a prediction.
type TrendPoint struct {
	Timestamp  time.Time `json:"timestamp"`
	DocumentID string    `json:"documentId,omitempty"`
	Actual     *int      `json:"actual,omitempty"`
	Predicted  *int      `json:"predicted,omitempty"`
}

// AccuracyItem compares one framework's predicted score with what was actually
// measured afterwards.
type AccuracyItem struct {
	Regulation models.Regulation `json:"regulation"`
	Actual     int               `json:"actual"`
	Predicted  int               `json:"predicted"`
	Accuracy   int               `json:"accuracy"`
}

type Comparison struct {
	Metric           models.Metric  `json:"metric"`
	TrendSeries      []TrendPoint   `json:"trendSeries"`
	AccuracyItems    []AccuracyItem `json:"accuracyItems"`
	NoHistoricalData bool           `json:"noHistoricalData"`
	AverageAccuracy  int            `json:"averageAccuracy"`
}

// Accuracy scores a prediction out of 100. The error is capped at 100 so the
// result never goes negative.
func Accuracy(actual, predicted int) int {
	diff := actual - predicted
	if diff < 0 {
		diff = -diff
	}
	if diff > 100 {
		diff = 100
	}
	return 100 - diff
}

// CompareTrends pairs earlier simulation results with the reports measured
// after them and scores how well the simulations predicted reality.
//
// previousResults are simulation reports; historicalReports are the actual
// analyses. Simulation reports mixed into historicalReports are ignored. current
// may be nil.
func CompareTrends(current *models.PredictiveAnalysis, previousResults, historicalReports []models.ComplianceReport, metric models.Metric) (*Comparison, error) {
	if !metric.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMetric, metric)
	}

	cmp := &Comparison{
		Metric:        metric,
		TrendSeries:   []TrendPoint{},
		AccuracyItems: []AccuracyItem{},
	}

	simulations := simulationsOnly(previousResults)
	if len(simulations) == 0 {
		cmp.NoHistoricalData = true
		if current != nil {
			cmp.TrendSeries = append(cmp.TrendSeries, currentPoint(current, metric))
		}
		return cmp, nil
	}

	actuals := actualsOnly(historicalReports)

	cmp.TrendSeries = buildTrendSeries(simulations, actuals, metric)
	if current != nil {
		cmp.TrendSeries = append(cmp.TrendSeries, currentPoint(current, metric))
	}

	if len(actuals) > 0 {
		cmp.AccuracyItems = accuracyItems(latest(simulations), latest(actuals))
	}

	scores := make([]int, 0, len(cmp.AccuracyItems))
	for _, item := range cmp.AccuracyItems {
		scores = append(scores, item.Accuracy)
	}
	cmp.AverageAccuracy = models.RoundMean(scores)

	return cmp, nil
}

func simulationsOnly(reports []models.ComplianceReport) []models.ComplianceReport {
	var out []models.ComplianceReport
	for _, r := range reports {
		if r.IsSimulation && r.SimulationDetails != nil {
			out = append(out, r)
		}
	}
	return out
}

func actualsOnly(reports []models.ComplianceReport) []models.ComplianceReport {
	var out []models.ComplianceReport
	for _, r := range reports {
		if !r.IsSimulation {
			out = append(out, r)
		}
	}
	return out
}

// precedesWithin reports whether sim ran no later than actual and at most
// CorrelationWindow before it.
func precedesWithin(actual, sim time.Time) bool {
	if sim.After(actual) {
		return false
	}
	return actual.Sub(sim) <= CorrelationWindow
}

// buildTrendSeries walks the actual reports and pairs each with the first
// simulation, in slice order, that ran inside the correlation window before it.
func buildTrendSeries(simulations, actuals []models.ComplianceReport, metric models.Metric) []TrendPoint {
	points := make([]TrendPoint, 0, len(actuals))
	for _, report := range actuals {
		actual, ok := report.Scores().Get(metric)
		if !ok {
			continue
		}
		for _, sim := range simulations {
			if !precedesWithin(report.Timestamp, sim.Timestamp) {
				continue
			}
			predicted, ok := sim.SimulationDetails.PredictedScores.Get(metric)
			if !ok {
				break
			}
			points = append(points, TrendPoint{
				Timestamp:  report.Timestamp,
				DocumentID: report.DocumentID,
				Actual:     models.IntPtr(actual),
				Predicted:  models.IntPtr(predicted),
			})
			break
		}
	}
	sort.SliceStable(points, func(i, j int) bool {
		return points[i].Timestamp.Before(points[j].Timestamp)
	})
	return points
}

func currentPoint(current *models.PredictiveAnalysis, metric models.Metric) TrendPoint {
	p := TrendPoint{Timestamp: current.GeneratedAt}
	if v, ok := current.PredictedScores.Get(metric); ok {
		p.Predicted = models.IntPtr(v)
	}
	return p
}

func latest(reports []models.ComplianceReport) models.ComplianceReport {
	best := reports[0]
	for _, r := range reports[1:] {
		if r.Timestamp.After(best.Timestamp) {
			best = r
		}
	}
	return best
}

func accuracyItems(sim, actual models.ComplianceReport) []AccuracyItem {
	predicted := sim.SimulationDetails.PredictedScores
	measured := actual.Scores()

	items := make([]AccuracyItem, 0, len(models.Regulations))
	for _, reg := range models.Regulations {
		m, _ := models.MetricForRegulation(reg)
		p, ok := predicted.Get(m)
		if !ok {
			continue
		}
		a, ok := measured.Get(m)
		if !ok {
			continue
		}
		items = append(items, AccuracyItem{
			Regulation: reg,
			Actual:     a,
			Predicted:  p,
			Accuracy:   Accuracy(a, p),
		})
	}
	return items
}

// MeanAbsoluteError averages |actual - predicted| over the points that carry
// both values. It returns 0 when no point does.
func MeanAbsoluteError(points []TrendPoint) float64 {
	var sum, n int
	for _, p := range points {
		if p.Actual == nil || p.Predicted == nil {
			continue
		}
		d := *p.Actual - *p.Predicted
		if d < 0 {
			d = -d
		}
		sum += d
		n++
	}
	if n == 0 {
		return 0
	}
	return float64(sum) / float64(n)
}
