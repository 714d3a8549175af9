package models

import (
	"errors"
	"fmt"
	"math"
	"time"
)

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

func (s Severity) Valid() bool {
	switch s {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow:
		return true
	default:
		return false
	}
}

// Rank orders severities from low (1) to critical (4). Unknown values rank 0.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

var severityByRank = []Severity{SeverityLow, SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}

// Shift moves a severity by n steps, saturating at low and critical.
func (s Severity) Shift(n int) Severity {
	r := s.Rank() + n
	if r < 1 {
		r = 1
	}
	if r > 4 {
		r = 4
	}
	return severityByRank[r]
}

type Regulation string

const (
	RegulationGDPR   Regulation = "GDPR"
	RegulationHIPAA  Regulation = "HIPAA"
	RegulationSOC2   Regulation = "SOC2"
	RegulationPCIDSS Regulation = "PCI-DSS"
)

// Regulations lists the frameworks that carry a dedicated sub-score.
var Regulations = []Regulation{RegulationGDPR, RegulationHIPAA, RegulationSOC2, RegulationPCIDSS}

type ChangeType string

const (
	ChangeNew    ChangeType = "new"
	ChangeUpdate ChangeType = "update"
	ChangeRepeal ChangeType = "repeal"
)

func (c ChangeType) Valid() bool {
	switch c {
	case ChangeNew, ChangeUpdate, ChangeRepeal:
		return true
	default:
		return false
	}
}

type ImpactLevel string

const (
	ImpactHigh   ImpactLevel = "high"
	ImpactMedium ImpactLevel = "medium"
	ImpactLow    ImpactLevel = "low"
)

func (i ImpactLevel) Valid() bool {
	switch i {
	case ImpactHigh, ImpactMedium, ImpactLow:
		return true
	default:
		return false
	}
}

type TrendDirection string

const (
	TrendIncrease TrendDirection = "increase"
	TrendDecrease TrendDirection = "decrease"
	TrendStable   TrendDirection = "stable"
)

// Metric names a score column that analytics can chart.
type Metric string

const (
	MetricOverall Metric = "overall"
	MetricGDPR    Metric = "gdpr"
	MetricHIPAA   Metric = "hipaa"
	MetricSOC2    Metric = "soc2"
	MetricPCIDSS  Metric = "pciDss"
)

func (m Metric) Valid() bool {
	switch m {
	case MetricOverall, MetricGDPR, MetricHIPAA, MetricSOC2, MetricPCIDSS:
		return true
	default:
		return false
	}
}

// MetricForRegulation maps a framework to its score column.
func MetricForRegulation(r Regulation) (Metric, bool) {
	switch r {
	case RegulationGDPR:
		return MetricGDPR, true
	case RegulationHIPAA:
		return MetricHIPAA, true
	case RegulationSOC2:
		return MetricSOC2, true
	case RegulationPCIDSS:
		return MetricPCIDSS, true
	default:
		return "", false
	}
}

// ClampScore bounds a score to the [0,100] range.
func ClampScore(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// ScoreSet holds the overall score and per-framework sub-scores.
// PCIDSS is nil when the framework was not evaluated.
type ScoreSet struct {
	Overall int  `json:"overall"`
	GDPR    int  `json:"gdpr"`
	HIPAA   int  `json:"hipaa"`
	SOC2    int  `json:"soc2"`
	PCIDSS  *int `json:"pciDss,omitempty"`
}

func (s ScoreSet) Get(m Metric) (int, bool) {
	switch m {
	case MetricOverall:
		return s.Overall, true
	case MetricGDPR:
		return s.GDPR, true
	case MetricHIPAA:
		return s.HIPAA, true
	case MetricSOC2:
		return s.SOC2, true
	case MetricPCIDSS:
		if s.PCIDSS == nil {
			return 0, false
		}
		return *s.PCIDSS, true
	default:
		return 0, false
	}
}

func (s ScoreSet) Clamp() ScoreSet {
	out := ScoreSet{
		Overall: ClampScore(s.Overall),
		GDPR:    ClampScore(s.GDPR),
		HIPAA:   ClampScore(s.HIPAA),
		SOC2:    ClampScore(s.SOC2),
	}
	if s.PCIDSS != nil {
		v := ClampScore(*s.PCIDSS)
		out.PCIDSS = &v
	}
	return out
}

// Sub returns s - o per column. PCIDSS is set only when both sides carry it.
func (s ScoreSet) Sub(o ScoreSet) ScoreSet {
	out := ScoreSet{
		Overall: s.Overall - o.Overall,
		GDPR:    s.GDPR - o.GDPR,
		HIPAA:   s.HIPAA - o.HIPAA,
		SOC2:    s.SOC2 - o.SOC2,
	}
	if s.PCIDSS != nil && o.PCIDSS != nil {
		v := *s.PCIDSS - *o.PCIDSS
		out.PCIDSS = &v
	}
	return out
}

func IntPtr(v int) *int {
	return &v
}

type ComplianceRisk struct {
	ID          string     `json:"id,omitempty"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Severity    Severity   `json:"severity"`
	Regulation  Regulation `json:"regulation,omitempty"`
	Section     string     `json:"section,omitempty"`
	Mitigation  string     `json:"mitigation,omitempty"`
}

type SimulationDetails struct {
	ScenarioID       string   `json:"scenarioId"`
	ScenarioName     string   `json:"scenarioName"`
	BaseDocumentID   string   `json:"baseDocumentId"`
	PredictedScores  ScoreSet `json:"predictedScores"`
	ScoreDifferences ScoreSet `json:"scoreDifferences"`
}

type ComplianceReport struct {
	DocumentID        string             `json:"documentId"`
	UserID            string             `json:"userId,omitempty"`
	DocumentName      string             `json:"documentName"`
	Timestamp         time.Time          `json:"timestamp"`
	Industry          string             `json:"industry"`
	OverallScore      int                `json:"overallScore"`
	GDPRScore         int                `json:"gdprScore"`
	HIPAAScore        int                `json:"hipaaScore"`
	SOC2Score         int                `json:"soc2Score"`
	PCIDSSScore       *int               `json:"pciDssScore,omitempty"`
	Risks             []ComplianceRisk   `json:"risks"`
	Suggestions       []string           `json:"suggestions"`
	IsSimulation      bool               `json:"isSimulation,omitempty"`
	SimulationDetails *SimulationDetails `json:"simulationDetails,omitempty"`
}

var (
	ErrMissingDocumentID   = errors.New("report is missing a document id")
	ErrScoreOutOfRange     = errors.New("score outside the range 0-100")
	ErrMissingSimulation   = errors.New("simulation report is missing simulation details")
	ErrInvalidRiskSeverity = errors.New("risk has an invalid severity")
)

// Scores returns the report's score columns as a ScoreSet.
func (r *ComplianceReport) Scores() ScoreSet {
	s := ScoreSet{
		Overall: r.OverallScore,
		GDPR:    r.GDPRScore,
		HIPAA:   r.HIPAAScore,
		SOC2:    r.SOC2Score,
	}
	if r.PCIDSSScore != nil {
		v := *r.PCIDSSScore
		s.PCIDSS = &v
	}
	return s
}

// SetScores overwrites the report's score columns.
func (r *ComplianceReport) SetScores(s ScoreSet) {
	r.OverallScore = s.Overall
	r.GDPRScore = s.GDPR
	r.HIPAAScore = s.HIPAA
	r.SOC2Score = s.SOC2
	r.PCIDSSScore = nil
	if s.PCIDSS != nil {
		v := *s.PCIDSS
		r.PCIDSSScore = &v
	}
}

// Validate checks the structural invariants of a report. The overall score is
// intentionally not checked against the sub-scores.
func (r *ComplianceReport) Validate() error {
	if r.DocumentID == "" {
		return ErrMissingDocumentID
	}
	for _, v := range []int{r.OverallScore, r.GDPRScore, r.HIPAAScore, r.SOC2Score} {
		if v < 0 || v > 100 {
			return fmt.Errorf("%w: %d", ErrScoreOutOfRange, v)
		}
	}
	if r.PCIDSSScore != nil && (*r.PCIDSSScore < 0 || *r.PCIDSSScore > 100) {
		return fmt.Errorf("%w: %d", ErrScoreOutOfRange, *r.PCIDSSScore)
	}
	for i, risk := range r.Risks {
		if !risk.Severity.Valid() {
			return fmt.Errorf("%w: risk %d (%q)", ErrInvalidRiskSeverity, i, risk.Severity)
		}
	}
	if r.IsSimulation {
		if r.SimulationDetails == nil || r.SimulationDetails.ScenarioID == "" || r.SimulationDetails.BaseDocumentID == "" {
			return ErrMissingSimulation
		}
	}
	return nil
}

// RisksBySeverity counts risks per severity level.
func (r *ComplianceReport) RisksBySeverity() map[Severity]int {
	counts := make(map[Severity]int, 4)
	for _, risk := range r.Risks {
		counts[risk.Severity]++
	}
	return counts
}

type RegulationChange struct {
	Regulation  Regulation  `json:"regulation"`
	ChangeType  ChangeType  `json:"changeType"`
	ImpactLevel ImpactLevel `json:"impactLevel"`
	Description string      `json:"description"`
}

type SimulationScenario struct {
	ID                    string             `json:"id"`
	Name                  string             `json:"name"`
	Description           string             `json:"description"`
	Industry              string             `json:"industry,omitempty"`
	RegulationChanges     []RegulationChange `json:"regulationChanges"`
	Actions               []string           `json:"actions"`
	PredictedImprovements int                `json:"predictedImprovements"`
}

type RiskTrend struct {
	Regulation        Regulation     `json:"regulation"`
	Description       string         `json:"description"`
	Trend             TrendDirection `json:"trend"`
	Impact            ImpactLevel    `json:"impact"`
	CurrentSeverity   Severity       `json:"currentSeverity"`
	ProjectedSeverity Severity       `json:"projectedSeverity,omitempty"`
	PreviousScore     *int           `json:"previousScore,omitempty"`
	PredictedScore    *int           `json:"predictedScore,omitempty"`
}

type PredictiveAnalysis struct {
	ScenarioID          string      `json:"scenarioId"`
	ScenarioName        string      `json:"scenarioName"`
	ScenarioDescription string      `json:"scenarioDescription"`
	BaseDocumentID      string      `json:"baseDocumentId"`
	GeneratedAt         time.Time   `json:"generatedAt"`
	OriginalScores      ScoreSet    `json:"originalScores"`
	PredictedScores     ScoreSet    `json:"predictedScores"`
	ScoreDifferences    ScoreSet    `json:"scoreDifferences"`
	RiskTrends          []RiskTrend `json:"riskTrends"`
	Recommendations     []string    `json:"recommendations"`
}

// SeverityForScore maps a compliance score onto the severity of the risk it
// implies: the lower the score, the more severe.
func SeverityForScore(score int) Severity {
	switch {
	case score < 40:
		return SeverityCritical
	case score < 60:
		return SeverityHigh
	case score < 80:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// RoundMean returns the rounded mean of values, 0 for an empty slice.
func RoundMean(values []int) int {
	if len(values) == 0 {
		return 0
	}
	sum := 0
	for _, v := range values {
		sum += v
	}
	return int(math.Round(float64(sum) / float64(len(values))))
}

// Branding customises exported documents for an organization.
type Branding struct {
	OrganizationName string `json:"organizationName"`
	PrimaryColor     string `json:"primaryColor,omitempty"`
	LogoURL          string `json:"logoUrl,omitempty"`
}
