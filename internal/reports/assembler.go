package reports

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/compliscope/compliscope/internal/charts"
	"github.com/compliscope/compliscope/internal/metrics"
	"github.com/compliscope/compliscope/internal/models"
)

const (
	SectionHeader          = "Predictive Compliance Analysis"
	SectionChart           = "Score Comparison Chart"
	SectionScores          = "Score Comparison"
	SectionRiskTrends      = "Risk Trends"
	SectionRecommendations = "Recommendations"
	SectionDisclaimer      = "Disclaimer"

	// ChartPlaceholder replaces a chart that could not be embedded.
	ChartPlaceholder = "[Chart image could not be rendered]"

	defaultDisclaimer = "This analysis is a simulation of a hypothetical regulatory change. Predicted scores " +
		"are estimates derived from rule-based projections and are not legal advice."

	chartWidthMM = 150.0
	chartMaxPx   = 1200
)

var ErrNoAnalysis = errors.New("export requires a predictive analysis")

// ExportData is everything the simulation export renders.
type ExportData struct {
	DocumentName string
	Analysis     *models.PredictiveAnalysis
	// ChartPNG is optional; an undecodable image renders as a placeholder.
	ChartPNG    []byte
	Branding    *models.Branding
	GeneratedAt time.Time
	Disclaimer  string
}

// Step appends one section to the document and returns the next y position.
type Step func(doc *Document, data *ExportData, y float64) float64

// DefaultSteps is the section order of a simulation export.
func DefaultSteps(logger *slog.Logger) []Step {
	return []Step{
		HeaderStep,
		ChartStep(logger),
		ScoreTableStep,
		RiskTrendStep,
		RecommendationsStep,
		FooterStep,
	}
}

// Assembler runs export steps strictly in order over one document.
type Assembler struct {
	steps  []Step
	logger *slog.Logger
}

func NewAssembler(logger *slog.Logger, steps ...Step) *Assembler {
	if logger == nil {
		logger = slog.Default()
	}
	if len(steps) == 0 {
		steps = DefaultSteps(logger)
	}
	return &Assembler{steps: steps, logger: logger}
}

// Build runs the pipeline and returns the document without rendering it. data
// is not modified.
func (a *Assembler) Build(data *ExportData) (*Document, error) {
	doc, _, err := a.build(data)
	return doc, err
}

func (a *Assembler) build(in *ExportData) (*Document, *ExportData, error) {
	if in == nil || in.Analysis == nil {
		return nil, nil, ErrNoAnalysis
	}
	data := *in
	if data.GeneratedAt.IsZero() {
		data.GeneratedAt = time.Now()
	}

	doc := NewDocument(data.Branding)
	y := doc.AddPage()
	for _, step := range a.steps {
		y = step(doc, &data, y)
	}
	return doc, &data, nil
}

// Export builds and renders the simulation PDF.
func (a *Assembler) Export(in *ExportData) (*Export, error) {
	doc, data, err := a.build(in)
	if err != nil {
		return nil, err
	}

	pdf, err := doc.Output()
	if err != nil {
		return nil, err
	}

	metrics.ReportsGenerated.WithLabelValues(string(FormatPDF)).Inc()
	a.logger.Info("simulation export rendered",
		"scenario_id", data.Analysis.ScenarioID,
		"pages", doc.PageCount(),
		"bytes", len(pdf))

	return &Export{
		Data:     pdf,
		Filename: filename("simulation", data.Analysis.ScenarioName, data.GeneratedAt, FormatPDF),
		MimeType: mimePDF,
	}, nil
}

func HeaderStep(doc *Document, data *ExportData, y float64) float64 {
	subtitle := fmt.Sprintf("Generated: %s", data.GeneratedAt.Format("January 2, 2006 3:04 PM"))
	if data.Branding != nil && data.Branding.OrganizationName != "" {
		subtitle = data.Branding.OrganizationName + " | " + subtitle
	}
	y = doc.Title(y, SectionHeader, subtitle)

	a := data.Analysis
	y = doc.Paragraph(y, SectionHeader, "Scenario: "+a.ScenarioName)
	if data.DocumentName != "" {
		y = doc.Paragraph(y, SectionHeader, "Base document: "+data.DocumentName)
	}
	if a.ScenarioDescription != "" {
		y = doc.Muted(y, SectionHeader, a.ScenarioDescription)
	}
	return y + 4
}

// ChartStep embeds data.ChartPNG, fitted to the page. Any failure is logged and
// replaced by a placeholder line.
func ChartStep(logger *slog.Logger) Step {
	return func(doc *Document, data *ExportData, y float64) float64 {
		if len(data.ChartPNG) == 0 {
			return y
		}
		y = doc.Section(y, SectionChart)

		png, size, err := charts.Fit(data.ChartPNG, chartMaxPx)
		if err == nil {
			height := chartWidthMM * float64(size.Y) / float64(size.X)
			var next float64
			next, err = doc.Image(y, SectionChart, "score-chart", png, chartWidthMM, height)
			if err == nil {
				return next
			}
		}

		logger.Warn("chart image skipped", "error", err)
		return doc.Muted(y, SectionChart, ChartPlaceholder)
	}
}

// FormatDiff renders a score difference with an explicit sign.
func FormatDiff(v int) string {
	return fmt.Sprintf("%+d", v)
}

var scoreRows = []struct {
	label  string
	metric models.Metric
}{
	{"Overall", models.MetricOverall},
	{"GDPR", models.MetricGDPR},
	{"HIPAA", models.MetricHIPAA},
	{"SOC2", models.MetricSOC2},
	{"PCI-DSS", models.MetricPCIDSS},
}

func ScoreTableStep(doc *Document, data *ExportData, y float64) float64 {
	a := data.Analysis
	y = doc.Section(y, SectionScores)

	rows := make([][]Cell, 0, len(scoreRows))
	for _, sr := range scoreRows {
		orig, ok := a.OriginalScores.Get(sr.metric)
		if !ok {
			continue
		}
		pred, _ := a.PredictedScores.Get(sr.metric)
		diff, ok := a.ScoreDifferences.Get(sr.metric)
		if !ok {
			diff = pred - orig
		}
		rows = append(rows, []Cell{
			{Text: sr.label},
			{Text: fmt.Sprintf("%d", orig)},
			{Text: fmt.Sprintf("%d", pred)},
			{Text: FormatDiff(diff), Negative: diff < 0},
		})
	}

	return doc.Table(y, SectionScores,
		[]string{"Framework", "Current", "Predicted", "Change"},
		[]float64{60, 40, 40, 40},
		rows)
}

func RiskTrendStep(doc *Document, data *ExportData, y float64) float64 {
	a := data.Analysis
	y = doc.Section(y, SectionRiskTrends)

	if len(a.RiskTrends) == 0 {
		return doc.Muted(y, SectionRiskTrends, "No risk trends were projected for this scenario.")
	}

	rows := make([][]Cell, 0, len(a.RiskTrends))
	for _, t := range a.RiskTrends {
		rows = append(rows, trendRow(t))
	}

	return doc.Table(y, SectionRiskTrends,
		[]string{"Regulation", "Trend", "Impact", "Current", "Projected", "Change", "Description"},
		[]float64{22, 20, 18, 20, 20, 16, 64},
		rows)
}

func trendRow(t models.RiskTrend) []Cell {
	projected := string(t.ProjectedSeverity)
	if projected == "" {
		projected = "-"
	}
	change := Cell{Text: "-"}
	if t.PreviousScore != nil && t.PredictedScore != nil {
		d := *t.PredictedScore - *t.PreviousScore
		change = Cell{Text: FormatDiff(d), Negative: d < 0}
	}
	return []Cell{
		{Text: string(t.Regulation)},
		{Text: trendLabel(t.Trend), Negative: t.Trend == models.TrendIncrease},
		{Text: string(t.Impact)},
		{Text: string(t.CurrentSeverity)},
		{Text: projected},
		change,
		{Text: truncate(t.Description, 80)},
	}
}

func trendLabel(t models.TrendDirection) string {
	switch t {
	case models.TrendIncrease:
		return "Increase"
	case models.TrendDecrease:
		return "Decrease"
	default:
		return "Stable"
	}
}

func RecommendationsStep(doc *Document, data *ExportData, y float64) float64 {
	y = doc.Section(y, SectionRecommendations)

	recs := data.Analysis.Recommendations
	if len(recs) == 0 {
		return doc.Muted(y, SectionRecommendations, "No recommendations for this scenario.")
	}
	for i, rec := range recs {
		y = doc.Bullet(y, SectionRecommendations, fmt.Sprintf("%d.", i+1), strings.TrimSpace(rec))
	}
	return y
}

func FooterStep(doc *Document, data *ExportData, y float64) float64 {
	text := data.Disclaimer
	if text == "" {
		text = defaultDisclaimer
	}
	y = doc.Section(y, SectionDisclaimer)
	return doc.Muted(y, SectionDisclaimer, text)
}
