package reports

import (
	"bytes"
	"encoding/csv"
	"image/color"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compliscope/compliscope/internal/charts"
	"github.com/compliscope/compliscope/internal/models"
)

var generatedAt = time.Date(2024, 7, 15, 14, 30, 0, 0, time.UTC)

func analysis() *models.PredictiveAnalysis {
	original := models.ScoreSet{Overall: 70, GDPR: 75, HIPAA: 65, SOC2: 72}
	predicted := models.ScoreSet{Overall: 71, GDPR: 78, HIPAA: 61, SOC2: 76}
	return &models.PredictiveAnalysis{
		ScenarioID:          "hc-hipaa-breach-notification",
		ScenarioName:        "HIPAA Breach Notification Overhaul",
		ScenarioDescription: "A new HIPAA rule shortens breach notification windows.",
		BaseDocumentID:      "doc-1",
		GeneratedAt:         generatedAt,
		OriginalScores:      original,
		PredictedScores:     predicted,
		ScoreDifferences:    predicted.Sub(original),
		RiskTrends: []models.RiskTrend{
			{
				Regulation:        models.RegulationHIPAA,
				Description:       "New HIPAA requirement",
				Trend:             models.TrendIncrease,
				Impact:            models.ImpactHigh,
				CurrentSeverity:   models.SeverityMedium,
				ProjectedSeverity: models.SeverityHigh,
				PreviousScore:     models.IntPtr(65),
				PredictedScore:    models.IntPtr(61),
			},
			{
				Regulation:      models.RegulationGDPR,
				Description:     "Clarified guidance",
				Trend:           models.TrendStable,
				Impact:          models.ImpactLow,
				CurrentSeverity: models.SeverityMedium,
			},
		},
		Recommendations: []string{"Encrypt all PHI stores"},
	}
}

func longRecommendations(n int) []string {
	sentence := "Review every data processing agreement with downstream vendors, confirm breach notification clauses match the shortened window, and record the evidence in the control register. "
	recs := make([]string, n)
	for i := range recs {
		recs[i] = strings.Repeat(sentence, 2)
	}
	return recs
}

func TestAssembler_ContinuedMarkersOnEveryExtraPage(t *testing.T) {
	a := analysis()
	a.Recommendations = longRecommendations(12)

	doc, err := NewAssembler(nil).Build(&ExportData{Analysis: a, GeneratedAt: generatedAt})
	require.NoError(t, err)

	require.GreaterOrEqual(t, doc.PageCount(), 2)
	for page := 2; page <= doc.PageCount(); page++ {
		headings := doc.Headings(page)
		require.NotEmpty(t, headings, "page %d has no headings", page)
		assert.True(t, strings.HasSuffix(headings[0], "(continued)"), "page %d starts with %q", page, headings[0])
	}
	assert.Equal(t, SectionRecommendations+" (continued)", doc.Headings(2)[0])
}

func TestAssembler_SectionOrder(t *testing.T) {
	chart, err := charts.ScoreComparisonPNG(analysis().OriginalScores, analysis().PredictedScores)
	require.NoError(t, err)

	doc, err := NewAssembler(nil).Build(&ExportData{Analysis: analysis(), ChartPNG: chart, GeneratedAt: generatedAt})
	require.NoError(t, err)

	var all []string
	for page := 1; page <= doc.PageCount(); page++ {
		all = append(all, doc.Headings(page)...)
	}
	want := []string{SectionHeader, SectionChart, SectionScores, SectionRiskTrends, SectionRecommendations, SectionDisclaimer}
	var got []string
	for _, h := range all {
		if !strings.HasSuffix(h, "(continued)") {
			got = append(got, h)
		}
	}
	assert.Equal(t, want, got)
	assert.NotContains(t, doc.Written(), ChartPlaceholder)
}

func TestAssembler_BrokenChartFallsBackToPlaceholder(t *testing.T) {
	doc, err := NewAssembler(nil).Build(&ExportData{
		Analysis:    analysis(),
		ChartPNG:    []byte("\x89PNG but not really"),
		GeneratedAt: generatedAt,
	})
	require.NoError(t, err)

	assert.Contains(t, doc.Written(), ChartPlaceholder)
	headings := doc.Headings(1)
	assert.Contains(t, headings, SectionRecommendations)
	assert.Contains(t, headings, SectionDisclaimer)

	pdf, err := doc.Output()
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(pdf, []byte("%PDF-")))
}

func TestAssembler_Export(t *testing.T) {
	exp, err := NewAssembler(nil).Export(&ExportData{Analysis: analysis(), GeneratedAt: generatedAt})
	require.NoError(t, err)

	assert.Equal(t, "application/pdf", exp.MimeType)
	assert.Equal(t, "simulation_hipaa-breach-notification-overhaul_20240715.pdf", exp.Filename)
	assert.True(t, bytes.HasPrefix(exp.Data, []byte("%PDF-")))
}

func TestAssembler_RequiresAnalysis(t *testing.T) {
	_, err := NewAssembler(nil).Export(&ExportData{})
	assert.ErrorIs(t, err, ErrNoAnalysis)
}

func TestAssembler_CustomSteps(t *testing.T) {
	var order []string
	step := func(name string) Step {
		return func(doc *Document, data *ExportData, y float64) float64 {
			order = append(order, name)
			return y + 10
		}
	}

	_, err := NewAssembler(nil, step("a"), step("b"), step("c")).Build(&ExportData{Analysis: analysis()})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestFormatDiff(t *testing.T) {
	assert.Equal(t, "+3", FormatDiff(3))
	assert.Equal(t, "-4", FormatDiff(-4))
	assert.Equal(t, "+0", FormatDiff(0))
}

func TestEnsureSpace(t *testing.T) {
	doc := NewDocument(nil)
	y := doc.AddPage()

	assert.Equal(t, y, doc.EnsureSpace(y, 50, "Anything"))
	assert.Equal(t, 1, doc.PageCount())

	next := doc.EnsureSpace(PageThreshold-2, 6, "Risk Trends")
	assert.Equal(t, 2, doc.PageCount())
	assert.Less(t, next, 40.0)
	assert.Equal(t, []string{"Risk Trends (continued)"}, doc.Headings(2))
}

func TestBuildDetail_EmptyStates(t *testing.T) {
	r := &models.ComplianceReport{
		DocumentID:   "doc-1",
		DocumentName: "Clean Policy",
		Industry:     "Retail",
		Timestamp:    generatedAt,
		OverallScore: 95,
		GDPRScore:    96,
		HIPAAScore:   94,
		SOC2Score:    95,
		Risks:        []models.ComplianceRisk{},
		Suggestions:  []string{},
	}

	d := BuildDetail(r)
	assert.Empty(t, d.Risks.Items)
	assert.Equal(t, EmptyRisksMessage, d.Risks.EmptyMessage)
	assert.Empty(t, d.Suggestions.Items)
	assert.Equal(t, EmptySuggestionsMessage, d.Suggestions.EmptyMessage)

	doc := BuildDetailDocument(r, nil)
	assert.Contains(t, doc.Written(), EmptyRisksMessage)
	assert.Contains(t, doc.Written(), EmptySuggestionsMessage)
}

func TestBuildDetail_WithContent(t *testing.T) {
	r := &models.ComplianceReport{
		DocumentID:   "doc-2",
		DocumentName: "Vendor DPA",
		Timestamp:    generatedAt,
		PCIDSSScore:  models.IntPtr(40),
		Risks: []models.ComplianceRisk{
			{Title: "Retention", Severity: models.SeverityHigh, Mitigation: "Define a schedule"},
		},
		Suggestions: []string{"Add a retention schedule"},
	}

	d := BuildDetail(r)
	assert.Empty(t, d.Risks.EmptyMessage)
	assert.Empty(t, d.Suggestions.EmptyMessage)
	assert.Len(t, d.Scores, 5)
	assert.Equal(t, 1, d.Severity[models.SeverityHigh])

	exp, err := RenderDetail(r, &models.Branding{OrganizationName: "Acme", PrimaryColor: "#0a7c3e"}, generatedAt)
	require.NoError(t, err)
	assert.Equal(t, "compliance_report_vendor-dpa_20240715.pdf", exp.Filename)
}

func TestHistoryCSV(t *testing.T) {
	reports := []models.ComplianceReport{
		{DocumentID: "doc-1", DocumentName: "Policy, v2", Industry: "Finance", Timestamp: generatedAt, OverallScore: 70, PCIDSSScore: models.IntPtr(55)},
		{
			DocumentID: "sim-1", DocumentName: "Policy (Simulation)", Timestamp: generatedAt, IsSimulation: true,
			SimulationDetails: &models.SimulationDetails{ScenarioName: "PCI-DSS v4.0 Enforcement", BaseDocumentID: "doc-1"},
		},
	}

	exp, err := HistoryCSV(reports, generatedAt)
	require.NoError(t, err)
	assert.Equal(t, "text/csv", exp.MimeType)

	records, err := csv.NewReader(bytes.NewReader(exp.Data)).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, historyHeader, records[0])
	assert.Equal(t, "Policy, v2", records[1][1])
	assert.Equal(t, "55", records[1][8])
	assert.Equal(t, "-", records[2][8])
	assert.Equal(t, "true", records[2][10])
	assert.Equal(t, "doc-1", records[2][12])
}

func TestParseHexColor(t *testing.T) {
	c, ok := parseHexColor("#0A7C3E")
	require.True(t, ok)
	assert.Equal(t, rgb{10, 124, 62}, c)

	_, ok = parseHexColor("green")
	assert.False(t, ok)
}

func TestAssembler_LeavesInputUntouched(t *testing.T) {
	data := &ExportData{Analysis: analysis()}

	exp, err := NewAssembler(nil).Export(data)
	require.NoError(t, err)
	assert.True(t, data.GeneratedAt.IsZero())
	assert.Contains(t, exp.Filename, "simulation_hipaa-breach-notification-overhaul_")

	_, err = NewAssembler(nil).Build(data)
	require.NoError(t, err)
	assert.True(t, data.GeneratedAt.IsZero())
}

func TestImage_TallImageFitsOnOnePage(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, imaging.New(100, 2000, color.White), imaging.PNG))

	doc := NewDocument(nil)
	y := doc.AddPage()
	y = doc.Paragraph(y, SectionChart, "Score comparison")

	next, err := doc.Image(y, SectionChart, "tall", buf.Bytes(), 170, 3400)
	require.NoError(t, err)
	assert.Equal(t, 2, doc.PageCount())
	assert.LessOrEqual(t, next-4, PageThreshold)
}

func TestTruncate_Runes(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 80))

	s := truncate("Überprüfung der Datenschutzmaßnahmen für Auftragsverarbeiter", 20)
	assert.True(t, utf8.ValidString(s))
	assert.Equal(t, 20, utf8.RuneCountInString(s))
	assert.Equal(t, "Überprüfung der D...", s)
}
