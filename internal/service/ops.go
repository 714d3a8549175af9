package service

import (
	"context"
	"fmt"
	"time"

	"github.com/compliscope/compliscope/internal/integrations"
	"github.com/compliscope/compliscope/internal/models"
	"github.com/compliscope/compliscope/internal/notifications"
	"github.com/compliscope/compliscope/internal/scheduler"
	"github.com/compliscope/compliscope/internal/settings"
)

const digestPeriod = 7 * 24 * time.Hour

// Scan scans one connected integration and records what it found.
func (s *Service) Scan(ctx context.Context, userID string, p integrations.Provider) (integrations.Result, error) {
	if s.integrations == nil {
		return integrations.Result{}, ErrNoIntegration
	}
	c, err := s.integrations.Get(userID, p)
	if err != nil {
		return integrations.Result{}, err
	}
	res := c.Scan(ctx, userID)
	s.recordScan(ctx, userID, res)
	return res, nil
}

// ScanIntegrations scans every connected integration of userID, or of every
// user with a connection when userID is empty. It returns the number of
// violations found.
func (s *Service) ScanIntegrations(ctx context.Context, userID string) (int, error) {
	if s.integrations == nil {
		return 0, ErrNoIntegration
	}

	users := []string{userID}
	if userID == "" {
		users = s.integrations.Users()
	}

	total := 0
	for _, u := range users {
		for _, res := range s.integrations.ScanAll(ctx, u) {
			total += s.recordScan(ctx, u, res)
		}
		if err := ctx.Err(); err != nil {
			return total, err
		}
	}
	return total, nil
}

func (s *Service) recordScan(ctx context.Context, userID string, res integrations.Result) int {
	data, ok := res.Data.(integrations.ScanData)
	if !res.Success || !ok {
		return 0
	}

	for i := range data.Violations {
		if err := s.history.PrependReport(ctx, &data.Violations[i]); err != nil {
			s.logger.Error("storing scan violation",
				"user_id", userID,
				"provider", data.Provider,
				"document_id", data.Violations[i].DocumentID,
				"error", err)
		}
	}

	if s.notifier != nil {
		err := s.notifier.NotifyScan(ctx, userID, notifications.ScanDetails{
			Provider:        string(data.Provider),
			ItemsScanned:    data.ItemsScanned,
			ViolationsFound: data.ViolationsFound,
		})
		if err != nil {
			s.logger.Warn("scan notification failed", "provider", data.Provider, "error", err)
		}
	}

	s.dispatch(ctx, settings.EventScanCompleted, map[string]any{
		"userId":          userID,
		"provider":        data.Provider,
		"status":          res.Status,
		"itemsScanned":    data.ItemsScanned,
		"violationsFound": data.ViolationsFound,
	})
	return data.ViolationsFound
}

// Digest summarises every report stored in the period ending now.
func (s *Service) Digest(ctx context.Context, period time.Duration) (notifications.DigestDetails, error) {
	all, err := s.history.All(ctx)
	if err != nil {
		return notifications.DigestDetails{}, err
	}

	now := s.clock.Now()
	since := now.Add(-period)
	d := notifications.DigestDetails{
		Period: fmt.Sprintf("%s to %s", since.Format("Jan 2"), now.Format("Jan 2, 2006")),
	}

	var scores []int
	for _, r := range all {
		if r.Timestamp.Before(since) {
			continue
		}
		if r.IsSimulation {
			d.Simulations++
			continue
		}
		d.Reports++
		scores = append(scores, r.OverallScore)
		d.CriticalRisks += r.RisksBySeverity()[models.SeverityCritical]
	}
	d.AverageScore = models.RoundMean(scores)
	return d, nil
}

// SendDigest emails the weekly digest to email.
func (s *Service) SendDigest(ctx context.Context, email string) error {
	if s.notifier == nil {
		return fmt.Errorf("notifications are not configured")
	}
	d, err := s.Digest(ctx, digestPeriod)
	if err != nil {
		return err
	}
	return s.notifier.SendEmail(ctx, &notifications.EmailPayload{
		Type:          notifications.EmailDigest,
		Email:         email,
		DigestDetails: &d,
	})
}

// SchedulerHandlers binds the maintenance jobs to this service.
func (s *Service) SchedulerHandlers() *scheduler.Handlers {
	h := &scheduler.Handlers{
		PurgeFunc:  s.PurgeSimulations,
		DigestFunc: s.SendDigest,
	}
	if s.integrations != nil {
		h.ScanFunc = s.ScanIntegrations
	}
	return h
}
