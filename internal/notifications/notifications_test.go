package notifications

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compliscope/compliscope/internal/models"
)

type sentMail struct {
	addr string
	from string
	to   []string
	msg  string
}

func capture(out *[]sentMail) MailFunc {
	return func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		*out = append(*out, sentMail{addr: addr, from: from, to: to, msg: string(msg)})
		return nil
	}
}

func TestRender_RequiresMatchingDetails(t *testing.T) {
	tests := []struct {
		name    string
		payload EmailPayload
		wantErr error
	}{
		{"welcome needs nothing", EmailPayload{Type: EmailWelcome, Email: "a@acme.test"}, nil},
		{"subscription without plan", EmailPayload{Type: EmailSubscription, Email: "a@acme.test"}, ErrInvalidPayload},
		{"report without details", EmailPayload{Type: EmailReport, Email: "a@acme.test"}, ErrInvalidPayload},
		{"scan without details", EmailPayload{Type: EmailScan, Email: "a@acme.test", ReportDetails: &ReportDetails{}}, ErrInvalidPayload},
		{"feedback rating out of range", EmailPayload{Type: EmailFeedback, Email: "a@acme.test", FeedbackDetails: &FeedbackDetails{Rating: 9}}, ErrInvalidPayload},
		{"bad address", EmailPayload{Type: EmailWelcome, Email: "not-an-email"}, ErrInvalidPayload},
		{"unknown type", EmailPayload{Type: "invoice", Email: "a@acme.test"}, ErrUnknownType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Render(&tt.payload)
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestRender_Report(t *testing.T) {
	subject, body, err := Render(&EmailPayload{
		Type:  EmailReport,
		Email: "dana@acme.test",
		Name:  "Dana",
		ReportDetails: &ReportDetails{
			DocumentName: "Vendor <DPA>",
			OverallScore: 72,
			RiskCount:    3,
			DownloadURL:  "https://app.compliscope.test/exports/1",
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "Your compliance report is ready: Vendor <DPA>", subject)
	assert.Contains(t, body, "Hi Dana,")
	assert.Contains(t, body, "Vendor &lt;DPA&gt;")
	assert.Contains(t, body, "<td>72</td>")
	assert.Contains(t, body, `href="https://app.compliscope.test/exports/1"`)
}

func TestRender_Subscription(t *testing.T) {
	_, body, err := Render(&EmailPayload{
		Type:  EmailSubscription,
		Email: "dana@acme.test",
		PlanDetails: &PlanDetails{
			PlanName:     "Professional",
			Price:        "$49",
			BillingCycle: "month",
			RenewalDate:  time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC),
		},
	})
	require.NoError(t, err)
	assert.Contains(t, body, "Hi there,")
	assert.Contains(t, body, "September 1, 2024")
}

func TestSendEmail(t *testing.T) {
	var sent []sentMail
	svc := NewService(Config{Email: EmailConfig{
		SMTPHost: "smtp.acme.test",
		SMTPPort: 587,
		From:     "noreply@compliscope.test",
		Enabled:  true,
	}}, nil, WithMailFunc(capture(&sent)))

	err := svc.SendEmail(context.Background(), &EmailPayload{Type: EmailWelcome, Email: "dana@acme.test"})
	require.NoError(t, err)
	require.Len(t, sent, 1)
	assert.Equal(t, "smtp.acme.test:587", sent[0].addr)
	assert.Equal(t, []string{"dana@acme.test"}, sent[0].to)
	assert.Contains(t, sent[0].msg, "Subject: Welcome to Compliscope\r\n")
	assert.Contains(t, sent[0].msg, "Content-Type: text/html; charset=UTF-8\r\n")
}

func TestSendEmail_Disabled(t *testing.T) {
	var sent []sentMail
	svc := NewService(Config{}, nil, WithMailFunc(capture(&sent)))

	require.NoError(t, svc.SendEmail(context.Background(), &EmailPayload{Type: EmailWelcome, Email: "dana@acme.test"}))
	assert.Empty(t, sent)

	err := svc.SendEmail(context.Background(), &EmailPayload{Type: EmailScan, Email: "dana@acme.test"})
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestNotifyScan_Slack(t *testing.T) {
	var got SlackMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	now := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	svc := NewService(Config{Slack: SlackConfig{
		WebhookURL:  srv.URL,
		Channel:     "#compliance",
		Enabled:     true,
		MinSeverity: models.SeverityMedium,
	}}, nil, WithNow(func() time.Time { return now }))

	err := svc.NotifyScan(context.Background(), "alice", ScanDetails{Provider: "slack", ItemsScanned: 40, ViolationsFound: 4})
	require.NoError(t, err)

	require.Len(t, got.Attachments, 1)
	att := got.Attachments[0]
	assert.Equal(t, "#compliance", got.Channel)
	assert.Equal(t, severityColor(models.SeverityHigh), att.Color)
	assert.Equal(t, now.Unix(), att.Timestamp)
	require.Len(t, att.Fields, 4)
	assert.Equal(t, "Items", att.Fields[0].Title)
}

func TestSend_BelowThresholdIsSkipped(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer srv.Close()

	svc := NewService(Config{Slack: SlackConfig{WebhookURL: srv.URL, Enabled: true, MinSeverity: models.SeverityHigh}}, nil)
	require.NoError(t, svc.NotifyScan(context.Background(), "alice", ScanDetails{Provider: "jira", ItemsScanned: 10}))
	assert.Zero(t, calls)
}

func TestSend_AlertEmailAndSlackFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	var sent []sentMail
	svc := NewService(Config{
		Slack: SlackConfig{WebhookURL: srv.URL, Enabled: true},
		Email: EmailConfig{SMTPHost: "smtp", SMTPPort: 25, From: "a@b.test", AlertRecipients: []string{"ops@acme.test"}, Enabled: true},
	}, nil, WithMailFunc(capture(&sent)))

	err := svc.Send(context.Background(), &Alert{Title: "Scan failed", Message: "boom", Severity: models.SeverityCritical})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "slack returned status 500")

	require.Len(t, sent, 1)
	assert.True(t, strings.Contains(sent[0].msg, "[Compliscope Alert] Scan failed"))
}
