package catalog

import "github.com/compliscope/compliscope/internal/models"

// scenarioData is the static scenario table, keyed by normalised industry name.
var scenarioData = map[string][]models.SimulationScenario{
	"healthcare": {
		{
			ID:          "hc-hipaa-breach-notification",
			Name:        "HIPAA Breach Notification Overhaul",
			Description: "A new HIPAA rule shortens breach notification windows and adds mandatory encryption of PHI at rest.",
			RegulationChanges: []models.RegulationChange{
				{Regulation: models.RegulationHIPAA, ChangeType: models.ChangeNew, ImpactLevel: models.ImpactHigh, Description: "New HIPAA requirement: 30-day breach notification and PHI encryption at rest"},
				{Regulation: models.RegulationGDPR, ChangeType: models.ChangeUpdate, ImpactLevel: models.ImpactLow, Description: "Clarified guidance on cross-border health data transfers"},
			},
			Actions: []string{
				"Encrypt all PHI stores with customer-managed keys",
				"Rehearse the breach notification runbook against the 30-day window",
			},
			PredictedImprovements: 4,
		},
		{
			ID:          "hc-telehealth-privacy",
			Name:        "Telehealth Privacy Expansion",
			Description: "Telehealth platforms become covered entities with updated SOC2 evidence expectations.",
			RegulationChanges: []models.RegulationChange{
				{Regulation: models.RegulationHIPAA, ChangeType: models.ChangeUpdate, ImpactLevel: models.ImpactMedium, Description: "Telehealth vendors treated as business associates"},
				{Regulation: models.RegulationSOC2, ChangeType: models.ChangeUpdate, ImpactLevel: models.ImpactMedium, Description: "Availability criteria extended to patient-facing video services"},
			},
			Actions: []string{
				"Sign business associate agreements with video vendors",
				"Add uptime monitoring evidence to the SOC2 control set",
			},
			PredictedImprovements: 3,
		},
		{
			ID:          "hc-legacy-waiver-repeal",
			Name:        "Repeal of Legacy Records Waiver",
			Description: "A legacy paper-records waiver is repealed, removing an audit exception.",
			RegulationChanges: []models.RegulationChange{
				{Regulation: models.RegulationHIPAA, ChangeType: models.ChangeRepeal, ImpactLevel: models.ImpactMedium, Description: "Legacy paper-records waiver repealed"},
			},
			Actions:               []string{"Digitise remaining paper records"},
			PredictedImprovements: 2,
		},
	},
	"finance": {
		{
			ID:          "fin-pci-dss-v4",
			Name:        "PCI-DSS v4.0 Enforcement",
			Description: "Future-dated PCI-DSS v4.0 requirements become mandatory.",
			RegulationChanges: []models.RegulationChange{
				{Regulation: models.RegulationPCIDSS, ChangeType: models.ChangeUpdate, ImpactLevel: models.ImpactHigh, Description: "Targeted risk analysis and MFA for all cardholder data access"},
				{Regulation: models.RegulationSOC2, ChangeType: models.ChangeUpdate, ImpactLevel: models.ImpactLow, Description: "Change management evidence aligned with PCI controls"},
			},
			Actions: []string{
				"Roll out MFA to every cardholder data environment account",
				"Document targeted risk analyses for flexible requirements",
			},
			PredictedImprovements: 5,
		},
		{
			ID:          "fin-open-banking-consent",
			Name:        "Open Banking Consent Rules",
			Description: "New consent and data-minimisation rules for account aggregation APIs.",
			RegulationChanges: []models.RegulationChange{
				{Regulation: models.RegulationGDPR, ChangeType: models.ChangeNew, ImpactLevel: models.ImpactMedium, Description: "Granular consent records for third-party account access"},
			},
			Actions:               []string{"Store consent receipts per aggregation partner"},
			PredictedImprovements: 3,
		},
	},
	"technology": {
		{
			ID:          "tech-ai-transparency",
			Name:        "AI Transparency Obligations",
			Description: "Automated decision-making disclosures extended to AI features.",
			RegulationChanges: []models.RegulationChange{
				{Regulation: models.RegulationGDPR, ChangeType: models.ChangeNew, ImpactLevel: models.ImpactHigh, Description: "Mandatory disclosure and opt-out for automated decisions"},
				{Regulation: models.RegulationSOC2, ChangeType: models.ChangeUpdate, ImpactLevel: models.ImpactMedium, Description: "Processing integrity criteria cover model outputs"},
			},
			Actions: []string{
				"Publish model cards for customer-facing AI features",
				"Add human review to high-impact automated decisions",
			},
			PredictedImprovements: 4,
		},
		{
			ID:          "tech-data-localisation",
			Name:        "Data Localisation Requirement",
			Description: "Personal data of EU residents must stay in-region.",
			RegulationChanges: []models.RegulationChange{
				{Regulation: models.RegulationGDPR, ChangeType: models.ChangeUpdate, ImpactLevel: models.ImpactHigh, Description: "Regional storage for EU personal data"},
			},
			Actions:               []string{"Pin EU tenants to EU regions"},
			PredictedImprovements: 2,
		},
		{
			ID:          "tech-soc2-sunset",
			Name:        "Sunset of SOC2 Type I Acceptance",
			Description: "Customers stop accepting Type I reports; the Type I exception is repealed.",
			RegulationChanges: []models.RegulationChange{
				{Regulation: models.RegulationSOC2, ChangeType: models.ChangeRepeal, ImpactLevel: models.ImpactLow, Description: "Type I reports no longer accepted in procurement"},
			},
			Actions:               []string{"Schedule a Type II observation window"},
			PredictedImprovements: 1,
		},
	},
	"retail": {
		{
			ID:          "retail-card-skimming",
			Name:        "E-commerce Skimming Controls",
			Description: "Payment page script integrity controls become mandatory.",
			RegulationChanges: []models.RegulationChange{
				{Regulation: models.RegulationPCIDSS, ChangeType: models.ChangeNew, ImpactLevel: models.ImpactHigh, Description: "Inventory and integrity checks for payment page scripts"},
			},
			Actions:               []string{"Deploy subresource integrity on checkout pages"},
			PredictedImprovements: 3,
		},
		{
			ID:          "retail-loyalty-profiling",
			Name:        "Loyalty Profiling Limits",
			Description: "Restrictions on profiling loyalty members without explicit consent.",
			RegulationChanges: []models.RegulationChange{
				{Regulation: models.RegulationGDPR, ChangeType: models.ChangeUpdate, ImpactLevel: models.ImpactMedium, Description: "Explicit consent for loyalty profiling"},
			},
			Actions:               []string{"Re-consent existing loyalty members"},
			PredictedImprovements: 2,
		},
	},
	"education": {
		{
			ID:          "edu-student-records",
			Name:        "Student Records Privacy Update",
			Description: "Stronger access logging for student records held by vendors.",
			RegulationChanges: []models.RegulationChange{
				{Regulation: models.RegulationGDPR, ChangeType: models.ChangeUpdate, ImpactLevel: models.ImpactMedium, Description: "Access logging for minors' personal data"},
				{Regulation: models.RegulationSOC2, ChangeType: models.ChangeUpdate, ImpactLevel: models.ImpactLow, Description: "Vendor access reviews each term"},
			},
			Actions:               []string{"Enable access logging on the student information system"},
			PredictedImprovements: 2,
		},
	},
}

var generalScenarios = []models.SimulationScenario{
	{
		ID:          "gen-privacy-baseline",
		Name:        "Privacy Baseline Refresh",
		Description: "Cross-industry refresh of records-of-processing requirements.",
		RegulationChanges: []models.RegulationChange{
			{Regulation: models.RegulationGDPR, ChangeType: models.ChangeUpdate, ImpactLevel: models.ImpactMedium, Description: "Records of processing reviewed annually"},
		},
		Actions:               []string{"Review the records of processing activities"},
		PredictedImprovements: 2,
	},
}

var industryNames = map[string]string{
	"healthcare": "Healthcare",
	"finance":    "Finance",
	"technology": "Technology",
	"retail":     "Retail",
	"education":  "Education",
}
