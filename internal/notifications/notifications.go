// Package notifications renders transactional emails and delivers alerts over
// SMTP and Slack.
package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/smtp"
	"strings"
	"time"

	"github.com/compliscope/compliscope/internal/models"
)

// Config holds notification configuration
type Config struct {
	Slack SlackConfig `yaml:"slack"`
	Email EmailConfig `yaml:"email"`
}

type SlackConfig struct {
	WebhookURL  string          `yaml:"webhook_url"`
	Channel     string          `yaml:"channel"`
	Username    string          `yaml:"username"`
	IconEmoji   string          `yaml:"icon_emoji"`
	Enabled     bool            `yaml:"enabled"`
	MinSeverity models.Severity `yaml:"min_severity"` // Minimum severity to notify
}

type EmailConfig struct {
	SMTPHost string `yaml:"smtp_host"`
	SMTPPort int    `yaml:"smtp_port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
	// AlertRecipients receive operational alerts sent through Send.
	AlertRecipients []string        `yaml:"alert_recipients"`
	Enabled         bool            `yaml:"enabled"`
	MinSeverity     models.Severity `yaml:"min_severity"`
}

// MailFunc matches smtp.SendMail.
type MailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Service handles notifications
type Service struct {
	config Config
	logger *slog.Logger
	client *http.Client
	mail   MailFunc
	now    func() time.Time
}

type Option func(*Service)

// WithMailFunc replaces smtp.SendMail.
func WithMailFunc(f MailFunc) Option {
	return func(s *Service) { s.mail = f }
}

func WithHTTPClient(c *http.Client) Option {
	return func(s *Service) { s.client = c }
}

func WithNow(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(config Config, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Service{
		config: config,
		logger: logger,
		client: &http.Client{Timeout: 10 * time.Second},
		mail:   smtp.SendMail,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SendEmail renders payload and mails it to payload.Email. With email delivery
// disabled the rendered message is only logged.
func (s *Service) SendEmail(ctx context.Context, payload *EmailPayload) error {
	subject, body, err := Render(payload)
	if err != nil {
		return err
	}

	if !s.config.Email.Enabled {
		s.logger.Info("email delivery disabled, skipping",
			"type", payload.Type,
			"to", payload.Email,
			"subject", subject)
		return nil
	}

	if err := s.deliver(ctx, subject, body, []string{payload.Email}); err != nil {
		return fmt.Errorf("sending %s email: %w", payload.Type, err)
	}

	s.logger.Info("email sent", "type", payload.Type, "to", payload.Email)
	return nil
}

func (s *Service) deliver(ctx context.Context, subject, body string, to []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := s.buildEmailMessage(subject, body, to)
	var auth smtp.Auth
	if s.config.Email.Username != "" {
		auth = smtp.PlainAuth("", s.config.Email.Username, s.config.Email.Password, s.config.Email.SMTPHost)
	}
	addr := fmt.Sprintf("%s:%d", s.config.Email.SMTPHost, s.config.Email.SMTPPort)

	return s.mail(addr, auth, s.config.Email.From, to, []byte(msg))
}

func (s *Service) buildEmailMessage(subject, body string, to []string) string {
	var msg strings.Builder
	msg.WriteString(fmt.Sprintf("From: %s\r\n", s.config.Email.From))
	msg.WriteString(fmt.Sprintf("To: %s\r\n", strings.Join(to, ",")))
	msg.WriteString(fmt.Sprintf("Subject: %s\r\n", subject))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(body)
	return msg.String()
}

// Alert is an operational notification for the team running the service.
type Alert struct {
	Title     string
	Message   string
	Severity  models.Severity
	Fields    map[string]string
	Timestamp time.Time
}

// Send delivers an alert to every enabled channel whose threshold it meets.
func (s *Service) Send(ctx context.Context, alert *Alert) error {
	if alert.Timestamp.IsZero() {
		alert.Timestamp = s.now()
	}

	var errs []error
	if s.config.Slack.Enabled && meetsThreshold(alert.Severity, s.config.Slack.MinSeverity) {
		if err := s.sendSlack(ctx, alert); err != nil {
			errs = append(errs, fmt.Errorf("slack: %w", err))
		}
	}

	if s.config.Email.Enabled && len(s.config.Email.AlertRecipients) > 0 && meetsThreshold(alert.Severity, s.config.Email.MinSeverity) {
		subject, body, err := renderAlert(alert)
		if err == nil {
			err = s.deliver(ctx, subject, body, s.config.Email.AlertRecipients)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("email: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("notification errors: %v", errs)
	}
	return nil
}

func meetsThreshold(actual, minimum models.Severity) bool {
	return actual.Rank() >= minimum.Rank()
}

type SlackMessage struct {
	Channel     string            `json:"channel,omitempty"`
	Username    string            `json:"username,omitempty"`
	IconEmoji   string            `json:"icon_emoji,omitempty"`
	Text        string            `json:"text,omitempty"`
	Attachments []SlackAttachment `json:"attachments,omitempty"`
}

type SlackAttachment struct {
	Color     string       `json:"color,omitempty"`
	Title     string       `json:"title,omitempty"`
	Text      string       `json:"text,omitempty"`
	Fallback  string       `json:"fallback,omitempty"`
	Fields    []SlackField `json:"fields,omitempty"`
	Footer    string       `json:"footer,omitempty"`
	Timestamp int64        `json:"ts,omitempty"`
}

type SlackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

func (s *Service) sendSlack(ctx context.Context, alert *Alert) error {
	fields := make([]SlackField, 0, len(alert.Fields))
	for _, k := range sortedKeys(alert.Fields) {
		fields = append(fields, SlackField{Title: k, Value: alert.Fields[k], Short: true})
	}

	msg := SlackMessage{
		Channel:   s.config.Slack.Channel,
		Username:  s.config.Slack.Username,
		IconEmoji: s.config.Slack.IconEmoji,
		Attachments: []SlackAttachment{{
			Color:     severityColor(alert.Severity),
			Title:     alert.Title,
			Text:      alert.Message,
			Fallback:  fmt.Sprintf("%s: %s", alert.Title, alert.Message),
			Fields:    fields,
			Footer:    "Compliscope",
			Timestamp: alert.Timestamp.Unix(),
		}},
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.Slack.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack returned status %d", resp.StatusCode)
	}

	s.logger.Info("slack notification sent", "title", alert.Title)
	return nil
}

func severityColor(severity models.Severity) string {
	switch severity {
	case models.SeverityCritical:
		return "#F44336"
	case models.SeverityHigh:
		return "#FF9800"
	case models.SeverityMedium:
		return "#FFC107"
	default:
		return "#36A64F"
	}
}

// NotifyScan alerts on a completed integration scan. Clean scans are alerted
// at low severity so that the channel threshold can filter them out.
func (s *Service) NotifyScan(ctx context.Context, userID string, scan ScanDetails) error {
	severity := models.SeverityLow
	switch {
	case scan.ViolationsFound >= 10:
		severity = models.SeverityCritical
	case scan.ViolationsFound >= 3:
		severity = models.SeverityHigh
	case scan.ViolationsFound > 0:
		severity = models.SeverityMedium
	}

	return s.Send(ctx, &Alert{
		Title:    fmt.Sprintf("%s scan completed", scan.Provider),
		Message:  fmt.Sprintf("%d violations found in %d items", scan.ViolationsFound, scan.ItemsScanned),
		Severity: severity,
		Fields: map[string]string{
			"User":       userID,
			"Provider":   scan.Provider,
			"Items":      fmt.Sprintf("%d", scan.ItemsScanned),
			"Violations": fmt.Sprintf("%d", scan.ViolationsFound),
		},
	})
}
