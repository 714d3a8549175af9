package reports

import (
	"fmt"
	"time"

	"github.com/compliscope/compliscope/internal/metrics"
	"github.com/compliscope/compliscope/internal/models"
)

const (
	EmptyRisksMessage       = "No compliance risks were identified in this document."
	EmptySuggestionsMessage = "No improvement suggestions are available for this document."
)

type ScoreLine struct {
	Label string `json:"label"`
	Score int    `json:"score"`
}

type DetailSection[T any] struct {
	Items []T `json:"items"`
	// EmptyMessage is set only when Items is empty.
	EmptyMessage string `json:"emptyMessage,omitempty"`
}

// Detail is the presentation of a single report, shared by the JSON API and
// the PDF renderer.
type Detail struct {
	DocumentID   string                               `json:"documentId"`
	DocumentName string                               `json:"documentName"`
	Industry     string                               `json:"industry"`
	Timestamp    time.Time                            `json:"timestamp"`
	IsSimulation bool                                 `json:"isSimulation"`
	Scenario     string                               `json:"scenario,omitempty"`
	Scores       []ScoreLine                          `json:"scores"`
	Severity     map[models.Severity]int              `json:"riskCounts"`
	Risks        DetailSection[models.ComplianceRisk] `json:"risks"`
	Suggestions  DetailSection[string]                `json:"suggestions"`
}

func BuildDetail(r *models.ComplianceReport) *Detail {
	d := &Detail{
		DocumentID:   r.DocumentID,
		DocumentName: r.DocumentName,
		Industry:     r.Industry,
		Timestamp:    r.Timestamp,
		IsSimulation: r.IsSimulation,
		Severity:     r.RisksBySeverity(),
		Risks:        DetailSection[models.ComplianceRisk]{Items: append([]models.ComplianceRisk{}, r.Risks...)},
		Suggestions:  DetailSection[string]{Items: append([]string{}, r.Suggestions...)},
	}
	if r.SimulationDetails != nil {
		d.Scenario = r.SimulationDetails.ScenarioName
	}

	scores := r.Scores()
	for _, sr := range scoreRows {
		if v, ok := scores.Get(sr.metric); ok {
			d.Scores = append(d.Scores, ScoreLine{Label: sr.label, Score: v})
		}
	}

	if len(d.Risks.Items) == 0 {
		d.Risks.EmptyMessage = EmptyRisksMessage
	}
	if len(d.Suggestions.Items) == 0 {
		d.Suggestions.EmptyMessage = EmptySuggestionsMessage
	}
	return d
}

const (
	sectionSummary     = "Score Summary"
	sectionRisks       = "Identified Risks"
	sectionSuggestions = "Suggestions"
)

// BuildDetailDocument lays out a report detail PDF without rendering it.
func BuildDetailDocument(r *models.ComplianceReport, branding *models.Branding) *Document {
	d := BuildDetail(r)
	doc := NewDocument(branding)
	y := doc.AddPage()

	subtitle := fmt.Sprintf("%s | %s", d.Industry, d.Timestamp.Format("January 2, 2006"))
	if branding != nil && branding.OrganizationName != "" {
		subtitle = branding.OrganizationName + " | " + subtitle
	}
	y = doc.Title(y, d.DocumentName, subtitle)
	if d.IsSimulation {
		y = doc.Muted(y, d.DocumentName, "Simulation of scenario: "+d.Scenario)
	}

	y = doc.Section(y, sectionSummary)
	rows := make([][]Cell, 0, len(d.Scores))
	for _, s := range d.Scores {
		rows = append(rows, []Cell{{Text: s.Label}, {Text: fmt.Sprintf("%d", s.Score)}, {Text: string(models.SeverityForScore(s.Score))}})
	}
	y = doc.Table(y, sectionSummary, []string{"Framework", "Score", "Risk Band"}, []float64{80, 50, 50}, rows)

	y = doc.Section(y, sectionRisks)
	if d.Risks.EmptyMessage != "" {
		y = doc.Muted(y, sectionRisks, d.Risks.EmptyMessage)
	} else {
		rows = rows[:0]
		for _, risk := range d.Risks.Items {
			rows = append(rows, []Cell{
				{Text: risk.Title},
				{Text: string(risk.Severity), Negative: risk.Severity.Rank() >= models.SeverityHigh.Rank()},
				{Text: string(risk.Regulation)},
				{Text: risk.Section},
			})
		}
		y = doc.Table(y, sectionRisks, []string{"Risk", "Severity", "Regulation", "Section"}, []float64{90, 30, 30, 30}, rows)
		for _, risk := range d.Risks.Items {
			if risk.Mitigation != "" {
				y = doc.Bullet(y, sectionRisks, "-", risk.Title+": "+risk.Mitigation)
			}
		}
	}

	y = doc.Section(y, sectionSuggestions)
	if d.Suggestions.EmptyMessage != "" {
		doc.Muted(y, sectionSuggestions, d.Suggestions.EmptyMessage)
	} else {
		for i, s := range d.Suggestions.Items {
			y = doc.Bullet(y, sectionSuggestions, fmt.Sprintf("%d.", i+1), s)
		}
	}
	return doc
}

// RenderDetail renders a single compliance report as a PDF.
func RenderDetail(r *models.ComplianceReport, branding *models.Branding, now time.Time) (*Export, error) {
	doc := BuildDetailDocument(r, branding)
	pdf, err := doc.Output()
	if err != nil {
		return nil, err
	}
	metrics.ReportsGenerated.WithLabelValues(string(FormatPDF)).Inc()
	return &Export{
		Data:     pdf,
		Filename: filename("compliance_report", r.DocumentName, now, FormatPDF),
		MimeType: mimePDF,
	}, nil
}
