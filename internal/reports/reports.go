package reports

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/compliscope/compliscope/internal/metrics"
	"github.com/compliscope/compliscope/internal/models"
)

type ReportFormat string

const (
	FormatCSV ReportFormat = "csv"
	FormatPDF ReportFormat = "pdf"
)

// Export is a rendered document ready for download.
type Export struct {
	Data     []byte
	Filename string
	MimeType string
}

const (
	mimePDF = "application/pdf"
	mimeCSV = "text/csv"
)

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

func slug(s string) string {
	s = nonSlug.ReplaceAllString(strings.ToLower(s), "-")
	s = strings.Trim(s, "-")
	if s == "" {
		return "report"
	}
	return s
}

func filename(prefix, name string, at time.Time, format ReportFormat) string {
	return fmt.Sprintf("%s_%s_%s.%s", prefix, slug(name), at.Format("20060102"), format)
}

func scoreOrDash(v *int) string {
	if v == nil {
		return "-"
	}
	return strconv.Itoa(*v)
}

// truncate shortens s to length runes, ending in "...".
func truncate(s string, length int) string {
	r := []rune(s)
	if len(r) <= length {
		return s
	}
	return string(r[:length-3]) + "..."
}

var historyHeader = []string{
	"Document ID", "Document Name", "Industry", "Timestamp",
	"Overall", "GDPR", "HIPAA", "SOC2", "PCI-DSS",
	"Risks", "Simulation", "Scenario", "Base Document",
}

// HistoryCSV exports a report history as CSV, one row per report.
func HistoryCSV(reports []models.ComplianceReport, now time.Time) (*Export, error) {
	var buf bytes.Buffer
	if err := WriteHistoryCSV(&buf, reports); err != nil {
		return nil, err
	}
	metrics.ReportsGenerated.WithLabelValues(string(FormatCSV)).Inc()
	return &Export{
		Data:     buf.Bytes(),
		Filename: filename("report_history", "export", now, FormatCSV),
		MimeType: mimeCSV,
	}, nil
}

// WriteHistoryCSV streams the history rows to w.
func WriteHistoryCSV(w io.Writer, reports []models.ComplianceReport) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(historyHeader); err != nil {
		return err
	}

	for _, r := range reports {
		scenario, base := "", ""
		if r.SimulationDetails != nil {
			scenario = r.SimulationDetails.ScenarioName
			base = r.SimulationDetails.BaseDocumentID
		}
		row := []string{
			r.DocumentID,
			r.DocumentName,
			r.Industry,
			r.Timestamp.Format(time.RFC3339),
			strconv.Itoa(r.OverallScore),
			strconv.Itoa(r.GDPRScore),
			strconv.Itoa(r.HIPAAScore),
			strconv.Itoa(r.SOC2Score),
			scoreOrDash(r.PCIDSSScore),
			strconv.Itoa(len(r.Risks)),
			strconv.FormatBool(r.IsSimulation),
			scenario,
			base,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}
