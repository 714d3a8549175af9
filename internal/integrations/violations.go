package integrations

import (
	"fmt"
	"time"

	"github.com/compliscope/compliscope/internal/models"
)

// ViolationGenerator turns scanned items into flagged compliance reports.
type ViolationGenerator interface {
	Generate(provider Provider, userID string, items []Item, at time.Time) []models.ComplianceReport
}

type violationTemplate struct {
	title      string
	regulation models.Regulation
	section    string
	mitigation string
}

var violationTemplates = []violationTemplate{
	{"Personal data shared outside the organisation", models.RegulationGDPR, "Art. 32", "Restrict external sharing and review access links"},
	{"Health information stored without access controls", models.RegulationHIPAA, "164.312(a)", "Move the content to a restricted location"},
	{"Credentials posted in plain text", models.RegulationSOC2, "CC6.1", "Rotate the credential and remove the message"},
	{"Cardholder data present in a shared file", models.RegulationPCIDSS, "Req. 3.4", "Remove or tokenise the card numbers"},
	{"Retention period exceeded", models.RegulationGDPR, "Art. 5(1)(e)", "Delete or archive the content under the retention schedule"},
}

// RandomViolations flags each item with probability Rate. Output is fully
// determined by the injected random source.
type RandomViolations struct {
	Rate float64

	rng Rand
}

func NewRandomViolations(rng Rand, rate float64) *RandomViolations {
	return &RandomViolations{rng: rng, Rate: rate}
}

func (g *RandomViolations) Generate(provider Provider, userID string, items []Item, at time.Time) []models.ComplianceReport {
	out := []models.ComplianceReport{}
	for _, item := range items {
		if g.rng.Float64() >= g.Rate {
			continue
		}
		tpl := violationTemplates[g.rng.Intn(len(violationTemplates))]

		scores := models.ScoreSet{
			GDPR:  40 + g.rng.Intn(50),
			HIPAA: 40 + g.rng.Intn(50),
			SOC2:  40 + g.rng.Intn(50),
		}
		if tpl.regulation == models.RegulationPCIDSS {
			scores.PCIDSS = models.IntPtr(30 + g.rng.Intn(40))
		}
		scores.Overall = models.RoundMean([]int{scores.GDPR, scores.HIPAA, scores.SOC2})

		report := models.ComplianceReport{
			DocumentID:   fmt.Sprintf("%s-%s", provider, item.ID),
			DocumentName: item.Name,
			UserID:       userID,
			Industry:     "General",
			Timestamp:    at,
			Risks: []models.ComplianceRisk{{
				ID:          fmt.Sprintf("%s-%s-risk-1", provider, item.ID),
				Title:       tpl.title,
				Description: fmt.Sprintf("Detected in %s %q during a %s scan.", item.Kind, item.Name, provider),
				Severity:    models.SeverityForScore(scores.Overall),
				Regulation:  tpl.regulation,
				Section:     tpl.section,
				Mitigation:  tpl.mitigation,
			}},
			Suggestions: []string{tpl.mitigation},
		}
		report.SetScores(scores)
		out = append(out, report)
	}
	return out
}
