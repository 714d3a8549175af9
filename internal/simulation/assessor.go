package simulation

import (
	"context"

	"github.com/compliscope/compliscope/internal/models"
)

// RiskAssessor predicts how a scenario moves a report's scores. Implementations
// return per-column deltas; the Runner clamps the resulting scores.
type RiskAssessor interface {
	Assess(ctx context.Context, report *models.ComplianceReport, scenario *models.SimulationScenario) (models.ScoreSet, error)
}

// changeDelta is the score movement a single regulation change causes before
// remediation actions are taken into account.
var changeDelta = map[models.ChangeType]map[models.ImpactLevel]int{
	models.ChangeNew: {
		models.ImpactHigh:   -8,
		models.ImpactMedium: -5,
		models.ImpactLow:    -2,
	},
	models.ChangeUpdate: {
		models.ImpactHigh:   -6,
		models.ImpactMedium: -3,
		models.ImpactLow:    -1,
	},
	models.ChangeRepeal: {
		models.ImpactHigh:   4,
		models.ImpactMedium: 3,
		models.ImpactLow:    2,
	},
}

// RuleAssessor is the deterministic, table-driven assessor. Every change moves
// its own framework's score; the scenario's predicted improvements lift every
// framework; the overall delta is the rounded mean of the framework deltas.
type RuleAssessor struct{}

func NewRuleAssessor() *RuleAssessor {
	return &RuleAssessor{}
}

func (a *RuleAssessor) Assess(_ context.Context, report *models.ComplianceReport, scenario *models.SimulationScenario) (models.ScoreSet, error) {
	perRegulation := make(map[models.Regulation]int, len(models.Regulations))
	for _, ch := range scenario.RegulationChanges {
		perRegulation[ch.Regulation] += changeDelta[ch.ChangeType][ch.ImpactLevel]
	}

	lift := scenario.PredictedImprovements
	deltas := models.ScoreSet{
		GDPR:  perRegulation[models.RegulationGDPR] + lift,
		HIPAA: perRegulation[models.RegulationHIPAA] + lift,
		SOC2:  perRegulation[models.RegulationSOC2] + lift,
	}
	frameworkDeltas := []int{deltas.GDPR, deltas.HIPAA, deltas.SOC2}

	if report.PCIDSSScore != nil {
		pci := perRegulation[models.RegulationPCIDSS] + lift
		deltas.PCIDSS = &pci
		frameworkDeltas = append(frameworkDeltas, pci)
	}

	deltas.Overall = models.RoundMean(frameworkDeltas)
	return deltas, nil
}
