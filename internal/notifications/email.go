package notifications

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"net/mail"
	"sort"
	"time"
)

type EmailType string

const (
	EmailWelcome      EmailType = "welcome"
	EmailSubscription EmailType = "subscription"
	EmailReport       EmailType = "report"
	EmailScan         EmailType = "scan"
	EmailFeedback     EmailType = "feedback"
	EmailDigest       EmailType = "digest"
)

type PlanDetails struct {
	PlanName     string    `json:"planName"`
	Price        string    `json:"price"`
	BillingCycle string    `json:"billingCycle"`
	RenewalDate  time.Time `json:"renewalDate"`
}

type ReportDetails struct {
	DocumentName string `json:"documentName"`
	OverallScore int    `json:"overallScore"`
	RiskCount    int    `json:"riskCount"`
	IsSimulation bool   `json:"isSimulation,omitempty"`
	DownloadURL  string `json:"downloadUrl,omitempty"`
}

type ScanDetails struct {
	Provider        string `json:"provider"`
	ItemsScanned    int    `json:"itemsScanned"`
	ViolationsFound int    `json:"violationsFound"`
}

type FeedbackDetails struct {
	Rating  int    `json:"rating"`
	Message string `json:"message"`
	Page    string `json:"page,omitempty"`
}

type DigestDetails struct {
	Period        string `json:"period"`
	Reports       int    `json:"reports"`
	Simulations   int    `json:"simulations"`
	AverageScore  int    `json:"averageScore"`
	CriticalRisks int    `json:"criticalRisks"`
}

// EmailPayload is the request to send one transactional email. Exactly the
// detail block matching Type is required; welcome needs none.
type EmailPayload struct {
	Type            EmailType        `json:"type"`
	Email           string           `json:"email"`
	Name            string           `json:"name,omitempty"`
	PlanDetails     *PlanDetails     `json:"planDetails,omitempty"`
	ReportDetails   *ReportDetails   `json:"reportDetails,omitempty"`
	ScanDetails     *ScanDetails     `json:"scanDetails,omitempty"`
	FeedbackDetails *FeedbackDetails `json:"feedbackDetails,omitempty"`
	DigestDetails   *DigestDetails   `json:"digestDetails,omitempty"`
}

var (
	ErrInvalidPayload = errors.New("invalid email payload")
	ErrUnknownType    = errors.New("unknown email type")
)

func (p *EmailPayload) Validate() error {
	if _, err := mail.ParseAddress(p.Email); err != nil {
		return fmt.Errorf("%w: invalid recipient %q", ErrInvalidPayload, p.Email)
	}

	missing := ""
	switch p.Type {
	case EmailWelcome:
	case EmailSubscription:
		if p.PlanDetails == nil {
			missing = "planDetails"
		}
	case EmailReport:
		if p.ReportDetails == nil {
			missing = "reportDetails"
		}
	case EmailScan:
		if p.ScanDetails == nil {
			missing = "scanDetails"
		}
	case EmailFeedback:
		if p.FeedbackDetails == nil {
			missing = "feedbackDetails"
		} else if p.FeedbackDetails.Rating < 1 || p.FeedbackDetails.Rating > 5 {
			return fmt.Errorf("%w: rating must be between 1 and 5", ErrInvalidPayload)
		}
	case EmailDigest:
		if p.DigestDetails == nil {
			missing = "digestDetails"
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownType, p.Type)
	}
	if missing != "" {
		return fmt.Errorf("%w: %s email requires %s", ErrInvalidPayload, p.Type, missing)
	}
	return nil
}

const layout = `{{define "layout"}}<!DOCTYPE html>
<html>
<head>
    <style>
        body { font-family: Arial, sans-serif; margin: 0; padding: 20px; background-color: #f5f5f5; }
        .container { max-width: 600px; margin: 0 auto; background: white; border-radius: 8px; }
        .header { padding: 20px; background: {{.Color}}; color: white; border-radius: 8px 8px 0 0; }
        .content { padding: 20px; }
        .data-table { width: 100%; border-collapse: collapse; margin-top: 15px; }
        .data-table td { padding: 8px; border-bottom: 1px solid #eee; }
        .data-table td:first-child { font-weight: bold; width: 40%; }
        .footer { padding: 15px 20px; background: #f9f9f9; border-radius: 0 0 8px 8px; font-size: 12px; color: #666; }
    </style>
</head>
<body>
    <div class="container">
        <div class="header"><h2 style="margin:0;">{{.Heading}}</h2></div>
        <div class="content">
            <p>Hi {{.Name}},</p>
            {{template "body" .}}
        </div>
        <div class="footer"><p>You are receiving this email because you have a Compliscope account.</p></div>
    </div>
</body>
</html>{{end}}`

var bodies = map[EmailType]string{
	EmailWelcome: `{{define "body"}}<p>Welcome to Compliscope. Upload a policy or contract to get your first compliance score across GDPR, HIPAA, SOC 2 and PCI-DSS.</p>{{end}}`,
	EmailSubscription: `{{define "body"}}{{with .Payload.PlanDetails}}<p>Your subscription is active.</p>
<table class="data-table">
<tr><td>Plan</td><td>{{.PlanName}}</td></tr>
<tr><td>Price</td><td>{{.Price}} / {{.BillingCycle}}</td></tr>
<tr><td>Renews</td><td>{{.RenewalDate.Format "January 2, 2006"}}</td></tr>
</table>{{end}}{{end}}`,
	EmailReport: `{{define "body"}}{{with .Payload.ReportDetails}}<p>Your {{if .IsSimulation}}simulation{{else}}compliance{{end}} report for <strong>{{.DocumentName}}</strong> is ready.</p>
<table class="data-table">
<tr><td>Overall score</td><td>{{.OverallScore}}</td></tr>
<tr><td>Risks identified</td><td>{{.RiskCount}}</td></tr>
</table>
{{if .DownloadURL}}<p><a href="{{.DownloadURL}}">Download the PDF</a></p>{{end}}{{end}}{{end}}`,
	EmailScan: `{{define "body"}}{{with .Payload.ScanDetails}}<p>A scan of your {{.Provider}} workspace has finished.</p>
<table class="data-table">
<tr><td>Items scanned</td><td>{{.ItemsScanned}}</td></tr>
<tr><td>Violations found</td><td>{{.ViolationsFound}}</td></tr>
</table>{{end}}{{end}}`,
	EmailFeedback: `{{define "body"}}{{with .Payload.FeedbackDetails}}<p>Thanks for your feedback. We read every message.</p>
<table class="data-table">
<tr><td>Rating</td><td>{{.Rating}} / 5</td></tr>
{{if .Page}}<tr><td>Page</td><td>{{.Page}}</td></tr>{{end}}
<tr><td>Message</td><td>{{.Message}}</td></tr>
</table>{{end}}{{end}}`,
	EmailDigest: `{{define "body"}}{{with .Payload.DigestDetails}}<p>Here is your compliance summary for {{.Period}}.</p>
<table class="data-table">
<tr><td>Reports</td><td>{{.Reports}}</td></tr>
<tr><td>Simulations</td><td>{{.Simulations}}</td></tr>
<tr><td>Average score</td><td>{{.AverageScore}}</td></tr>
<tr><td>Critical risks</td><td>{{.CriticalRisks}}</td></tr>
</table>{{end}}{{end}}`,
}

type emailMeta struct {
	subject string
	heading string
	color   string
}

var meta = map[EmailType]emailMeta{
	EmailWelcome:      {"Welcome to Compliscope", "Welcome aboard", "#2196F3"},
	EmailSubscription: {"Your Compliscope subscription", "Subscription confirmed", "#2196F3"},
	EmailReport:       {"Your compliance report is ready", "Report ready", "#0A7C3E"},
	EmailScan:         {"Integration scan complete", "Scan complete", "#FF9800"},
	EmailFeedback:     {"Thanks for your feedback", "Feedback received", "#2196F3"},
	EmailDigest:       {"Your compliance digest", "Compliance digest", "#0A7C3E"},
}

var templates = func() map[EmailType]*template.Template {
	out := make(map[EmailType]*template.Template, len(bodies))
	for typ, body := range bodies {
		t := template.Must(template.New(string(typ)).Parse(layout))
		out[typ] = template.Must(t.Parse(body))
	}
	return out
}()

// Render validates payload and returns the subject and HTML body.
func Render(payload *EmailPayload) (string, string, error) {
	if err := payload.Validate(); err != nil {
		return "", "", err
	}

	m := meta[payload.Type]
	name := payload.Name
	if name == "" {
		name = "there"
	}

	var buf bytes.Buffer
	err := templates[payload.Type].ExecuteTemplate(&buf, "layout", map[string]any{
		"Heading": m.heading,
		"Color":   template.CSS(m.color),
		"Name":    name,
		"Payload": payload,
	})
	if err != nil {
		return "", "", fmt.Errorf("rendering %s email: %w", payload.Type, err)
	}

	subject := m.subject
	if payload.Type == EmailReport {
		subject = fmt.Sprintf("%s: %s", subject, payload.ReportDetails.DocumentName)
	}
	return subject, buf.String(), nil
}

var alertTemplate = template.Must(template.New("alert").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif;">
    <h2 style="color: {{.Color}};">{{.Alert.Title}}</h2>
    <p>{{.Alert.Message}}</p>
    <p>Severity: <strong>{{.Alert.Severity}}</strong></p>
    <table>
        {{range .Keys}}<tr><td><strong>{{.}}</strong></td><td>{{index $.Alert.Fields .}}</td></tr>{{end}}
    </table>
    <p style="font-size: 12px; color: #666;">Generated at: {{.Alert.Timestamp.Format "Mon, 02 Jan 2006 15:04:05 MST"}}</p>
</body>
</html>`))

func renderAlert(alert *Alert) (string, string, error) {
	var buf bytes.Buffer
	err := alertTemplate.Execute(&buf, map[string]any{
		"Alert": alert,
		"Color": template.CSS(severityColor(alert.Severity)),
		"Keys":  sortedKeys(alert.Fields),
	})
	if err != nil {
		return "", "", err
	}
	return "[Compliscope Alert] " + alert.Title, buf.String(), nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
