package analytics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compliscope/compliscope/internal/models"
)

var t0 = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

func actualReport(id string, at time.Time, overall, gdpr, hipaa, soc2 int) models.ComplianceReport {
	return models.ComplianceReport{
		DocumentID:   id,
		Timestamp:    at,
		OverallScore: overall,
		GDPRScore:    gdpr,
		HIPAAScore:   hipaa,
		SOC2Score:    soc2,
	}
}

func simReport(id string, at time.Time, predicted models.ScoreSet) models.ComplianceReport {
	r := models.ComplianceReport{
		DocumentID:   id,
		Timestamp:    at,
		IsSimulation: true,
		SimulationDetails: &models.SimulationDetails{
			ScenarioID:      "sc-1",
			BaseDocumentID:  "base",
			PredictedScores: predicted,
		},
	}
	r.SetScores(predicted)
	return r
}

func TestAccuracy(t *testing.T) {
	tests := []struct {
		actual, predicted, want int
	}{
		{80, 95, 85},
		{10, 95, 15},
		{95, 80, 85},
		{50, 50, 100},
		{0, 100, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Accuracy(tt.actual, tt.predicted), "actual=%d predicted=%d", tt.actual, tt.predicted)
	}
}

func TestCompareTrends_NoPreviousResults(t *testing.T) {
	cmp, err := CompareTrends(nil, nil, []models.ComplianceReport{actualReport("a", t0, 70, 70, 70, 70)}, models.MetricOverall)
	require.NoError(t, err)

	assert.True(t, cmp.NoHistoricalData)
	assert.Empty(t, cmp.TrendSeries)
	assert.Empty(t, cmp.AccuracyItems)
	assert.Equal(t, 0, cmp.AverageAccuracy)
}

func TestCompareTrends_NoPreviousResultsKeepsCurrent(t *testing.T) {
	current := &models.PredictiveAnalysis{GeneratedAt: t0, PredictedScores: models.ScoreSet{Overall: 66}}

	cmp, err := CompareTrends(current, []models.ComplianceReport{}, nil, models.MetricOverall)
	require.NoError(t, err)

	assert.True(t, cmp.NoHistoricalData)
	require.Len(t, cmp.TrendSeries, 1)
	assert.Equal(t, 66, *cmp.TrendSeries[0].Predicted)
	assert.Nil(t, cmp.TrendSeries[0].Actual)
}

func TestCompareTrends_AccuracyAgainstLatestReports(t *testing.T) {
	previous := []models.ComplianceReport{
		simReport("old-sim", t0, models.ScoreSet{Overall: 50, GDPR: 50, HIPAA: 50, SOC2: 50}),
		simReport("new-sim", t0.Add(48*time.Hour), models.ScoreSet{Overall: 90, GDPR: 95, HIPAA: 95, SOC2: 70}),
	}
	historical := []models.ComplianceReport{
		actualReport("new-actual", t0.Add(60*time.Hour), 78, 80, 10, 70),
		actualReport("old-actual", t0.Add(time.Hour), 40, 40, 40, 40),
	}

	cmp, err := CompareTrends(nil, previous, historical, models.MetricGDPR)
	require.NoError(t, err)
	assert.False(t, cmp.NoHistoricalData)

	require.Len(t, cmp.AccuracyItems, 3)
	byReg := map[models.Regulation]AccuracyItem{}
	for _, item := range cmp.AccuracyItems {
		byReg[item.Regulation] = item
	}
	assert.Equal(t, 85, byReg[models.RegulationGDPR].Accuracy)
	assert.Equal(t, 15, byReg[models.RegulationHIPAA].Accuracy)
	assert.Equal(t, 100, byReg[models.RegulationSOC2].Accuracy)
	assert.Equal(t, 67, cmp.AverageAccuracy)
}

func TestCompareTrends_TrendSeriesWindow(t *testing.T) {
	previous := []models.ComplianceReport{
		simReport("sim-a", t0, models.ScoreSet{Overall: 60, HIPAA: 61}),
		simReport("sim-b", t0.Add(2*time.Hour), models.ScoreSet{Overall: 64, HIPAA: 65}),
	}
	historical := []models.ComplianceReport{
		actualReport("late", t0.Add(72*time.Hour), 90, 90, 90, 90),
		actualReport("close", t0.Add(3*time.Hour), 62, 0, 63, 0),
		simReport("ignored", t0.Add(time.Hour), models.ScoreSet{Overall: 1}),
	}
	current := &models.PredictiveAnalysis{GeneratedAt: t0.Add(96 * time.Hour), PredictedScores: models.ScoreSet{HIPAA: 70}}

	cmp, err := CompareTrends(current, previous, historical, models.MetricHIPAA)
	require.NoError(t, err)

	require.Len(t, cmp.TrendSeries, 2)
	first := cmp.TrendSeries[0]
	assert.Equal(t, "close", first.DocumentID)
	assert.Equal(t, 63, *first.Actual)
	// Both simulations are in the window; the first in slice order wins.
	assert.Equal(t, 61, *first.Predicted)

	last := cmp.TrendSeries[1]
	assert.Equal(t, current.GeneratedAt, last.Timestamp)
	assert.Equal(t, 70, *last.Predicted)
}

func TestCompareTrends_PCIOnlyWhenBothSidesHaveIt(t *testing.T) {
	pci := 80
	sim := simReport("sim", t0, models.ScoreSet{GDPR: 70, HIPAA: 70, SOC2: 70, PCIDSS: &pci})
	actual := actualReport("actual", t0.Add(time.Hour), 70, 70, 70, 70)

	cmp, err := CompareTrends(nil, []models.ComplianceReport{sim}, []models.ComplianceReport{actual}, models.MetricPCIDSS)
	require.NoError(t, err)
	assert.Len(t, cmp.AccuracyItems, 3)
	assert.Empty(t, cmp.TrendSeries)
}

func TestCompareTrends_UnknownMetric(t *testing.T) {
	_, err := CompareTrends(nil, nil, nil, models.Metric("iso27001"))
	assert.ErrorIs(t, err, ErrUnknownMetric)
}

func TestMeanAbsoluteError(t *testing.T) {
	assert.Equal(t, 0.0, MeanAbsoluteError(nil))

	points := []TrendPoint{
		{Actual: models.IntPtr(80), Predicted: models.IntPtr(90)},
		{Actual: models.IntPtr(50), Predicted: models.IntPtr(46)},
		{Predicted: models.IntPtr(70)},
	}
	assert.Equal(t, 7.0, MeanAbsoluteError(points))
}

func TestCompareTrends_LaterSimulationIsNotAPrediction(t *testing.T) {
	previous := []models.ComplianceReport{
		simReport("after", t0.Add(2*time.Hour), models.ScoreSet{Overall: 90, HIPAA: 90}),
		simReport("before", t0.Add(-2*time.Hour), models.ScoreSet{Overall: 55, HIPAA: 58}),
	}
	historical := []models.ComplianceReport{
		actualReport("actual", t0, 60, 60, 60, 60),
	}

	cmp, err := CompareTrends(nil, previous, historical, models.MetricHIPAA)
	require.NoError(t, err)

	require.Len(t, cmp.TrendSeries, 1)
	assert.Equal(t, 58, *cmp.TrendSeries[0].Predicted)

	cmp, err = CompareTrends(nil, previous[:1], historical, models.MetricHIPAA)
	require.NoError(t, err)
	assert.Empty(t, cmp.TrendSeries)
}
