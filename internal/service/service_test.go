package service

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compliscope/compliscope/internal/history"
	"github.com/compliscope/compliscope/internal/integrations"
	"github.com/compliscope/compliscope/internal/kv"
	"github.com/compliscope/compliscope/internal/models"
	"github.com/compliscope/compliscope/internal/notifications"
	"github.com/compliscope/compliscope/internal/queue"
	"github.com/compliscope/compliscope/internal/settings"
)

var epoch = time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)

type fixture struct {
	svc     *Service
	clock   *clockwork.FakeClock
	repo    *kv.Memory
	history *history.Store
}

func newFixture(t *testing.T, mutate ...func(*Deps)) *fixture {
	t.Helper()
	repo := kv.NewMemory()
	clock := clockwork.NewFakeClockAt(epoch)
	hist := history.NewStore(repo, nil)
	deps := Deps{
		History:       hist,
		Branding:      settings.NewBrandingStore(repo),
		Subscriptions: settings.NewSubscriptionStore(repo, clock),
		Clock:         clock,
	}
	for _, m := range mutate {
		m(&deps)
	}
	return &fixture{svc: New(deps), clock: clock, repo: repo, history: hist}
}

func baseReport() *models.ComplianceReport {
	return &models.ComplianceReport{
		DocumentID:   "doc-1",
		DocumentName: "Privacy Policy",
		Timestamp:    epoch.Add(-48 * time.Hour),
		Industry:     "Healthcare",
		OverallScore: 70,
		GDPRScore:    75,
		HIPAAScore:   65,
		SOC2Score:    72,
		Risks: []models.ComplianceRisk{
			{Title: "PHI at rest", Description: "Unencrypted backups", Severity: models.SeverityCritical, Regulation: models.RegulationHIPAA},
		},
	}
}

func TestSimulate_PersistsAndConsumesQuota(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.svc.AddReport(ctx, "alice", baseReport()))

	req := SimulationRequest{DocumentID: "doc-1", ScenarioID: "hc-hipaa-breach-notification", Persist: true}
	res, err := f.svc.Simulate(ctx, "alice", req)
	require.NoError(t, err)
	assert.Equal(t, 61, res.Analysis.PredictedScores.HIPAA)
	assert.Equal(t, settings.SimulationQuota[settings.PlanFree]-1, res.Remaining)

	require.NotNil(t, res.Report)
	assert.True(t, res.Report.IsSimulation)
	assert.Equal(t, "doc-1", res.Report.SimulationDetails.BaseDocumentID)
	assert.Equal(t, epoch, res.Report.Timestamp)

	all, err := f.svc.Reports(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, res.Report.DocumentID, all[0].DocumentID, "simulations are prepended")

	for i := 1; i < settings.SimulationQuota[settings.PlanFree]; i++ {
		req.Persist = false
		_, err := f.svc.Simulate(ctx, "alice", req)
		require.NoError(t, err)
	}
	_, err = f.svc.Simulate(ctx, "alice", req)
	assert.ErrorIs(t, err, ErrQuotaExceeded)

	all, err = f.svc.Reports(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestSimulate_InlineReportAndMissingBase(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	res, err := f.svc.Simulate(ctx, "bob", SimulationRequest{Report: baseReport(), ScenarioID: "hc-hipaa-breach-notification"})
	require.NoError(t, err)
	assert.Nil(t, res.Report)
	assert.Equal(t, "doc-1", res.Analysis.BaseDocumentID)

	_, err = f.svc.Simulate(ctx, "bob", SimulationRequest{DocumentID: "nope", ScenarioID: "hc-hipaa-breach-notification"})
	assert.ErrorIs(t, err, history.ErrReportNotFound)
}

func TestCompare_NoHistory(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.svc.AddReport(ctx, "alice", baseReport()))

	cmp, err := f.svc.Compare(ctx, "alice", nil, models.MetricOverall)
	require.NoError(t, err)
	assert.True(t, cmp.NoHistoricalData)
}

func TestReports_WebhooksFire(t *testing.T) {
	ctx := context.Background()

	var (
		mu     sync.Mutex
		events []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		events = append(events, r.Header.Get(settings.EventHeader))
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	hooks := settings.NewWebhookStore(kv.NewMemory(), nil)
	require.NoError(t, hooks.Init(ctx))
	_, err := hooks.Add(ctx, srv.URL, nil, "")
	require.NoError(t, err)

	f := newFixture(t, func(d *Deps) { d.Webhooks = hooks })

	r := baseReport()
	r.DocumentID = ""
	require.NoError(t, f.svc.AddReport(ctx, "alice", r))
	assert.NotEmpty(t, r.DocumentID)
	assert.Equal(t, "alice", r.UserID)

	deleted, err := f.svc.DeleteReport(ctx, "mallory", r.DocumentID)
	require.NoError(t, err)
	assert.False(t, deleted)

	deleted, err = f.svc.DeleteReport(ctx, "alice", r.DocumentID)
	require.NoError(t, err)
	assert.True(t, deleted)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{string(settings.EventReportCreated), string(settings.EventReportDeleted)}, events)
}

func TestPurgeSimulations(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.svc.AddReport(ctx, "alice", baseReport()))

	_, err := f.svc.Simulate(ctx, "alice", SimulationRequest{DocumentID: "doc-1", ScenarioID: "hc-hipaa-breach-notification", Persist: true})
	require.NoError(t, err)

	n, err := f.svc.PurgeSimulations(ctx, epoch.Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = f.svc.PurgeSimulations(ctx, epoch.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	all, _ := f.svc.Reports(ctx, "alice")
	require.Len(t, all, 1)
	assert.False(t, all[0].IsSimulation)
}

func TestRender(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.svc.AddReport(ctx, "alice", baseReport()))

	res, err := f.svc.Render(ctx, &queue.Job{Kind: queue.KindSimulationPDF, UserID: "alice", DocumentID: "doc-1", ScenarioID: "hc-hipaa-breach-notification"})
	require.NoError(t, err)
	assert.True(t, res.IsSimulation)
	assert.Equal(t, "application/pdf", res.Export.MimeType)
	assert.True(t, bytes.HasPrefix(res.Export.Data, []byte("%PDF")))

	res, err = f.svc.Render(ctx, &queue.Job{Kind: queue.KindReportPDF, UserID: "alice", DocumentID: "doc-1"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.RiskCount)
	assert.Equal(t, "Privacy Policy", res.DocumentName)

	res, err = f.svc.Render(ctx, &queue.Job{Kind: queue.KindHistoryCSV, UserID: "alice"})
	require.NoError(t, err)
	assert.Equal(t, "text/csv", res.Export.MimeType)

	_, err = f.svc.Render(ctx, &queue.Job{Kind: queue.KindReportPDF, UserID: "alice", DocumentID: "missing"})
	assert.ErrorIs(t, err, queue.ErrPermanent)
	assert.ErrorIs(t, err, history.ErrReportNotFound)
}

type zeroRand struct{}

func (zeroRand) Intn(int) int      { return 0 }
func (zeroRand) Float64() float64 { return 0 }

func TestScanIntegrations_StoresViolations(t *testing.T) {
	ctx := context.Background()
	reg := integrations.NewRegistry(zeroRand{})
	f := newFixture(t, func(d *Deps) { d.Integrations = reg })

	c, err := reg.Get("alice", integrations.ProviderSlack)
	require.NoError(t, err)
	require.True(t, c.Connect(ctx, integrations.Credentials{Account: "acme.slack.com"}).Success)

	n, err := f.svc.ScanIntegrations(ctx, "")
	require.NoError(t, err)
	assert.Positive(t, n)

	all, err := f.svc.Reports(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, all, n)
}

func TestSendDigest(t *testing.T) {
	ctx := context.Background()

	var sent []byte
	notifier := notifications.NewService(notifications.Config{Email: notifications.EmailConfig{
		SMTPHost: "smtp.acme.test", SMTPPort: 25, From: "noreply@compliscope.test", Enabled: true,
	}}, nil, notifications.WithMailFunc(func(_ string, _ smtp.Auth, _ string, _ []string, msg []byte) error {
		sent = msg
		return nil
	}))
	f := newFixture(t, func(d *Deps) { d.Notifier = notifier })

	require.NoError(t, f.svc.AddReport(ctx, "alice", baseReport()))
	old := baseReport()
	old.DocumentID = "doc-old"
	old.Timestamp = epoch.Add(-30 * 24 * time.Hour)
	require.NoError(t, f.svc.AddReport(ctx, "alice", old))

	d, err := f.svc.Digest(ctx, digestPeriod)
	require.NoError(t, err)
	assert.Equal(t, 1, d.Reports)
	assert.Equal(t, 70, d.AverageScore)
	assert.Equal(t, 1, d.CriticalRisks)

	require.NoError(t, f.svc.SendDigest(ctx, "ops@acme.test"))
	assert.Contains(t, string(sent), "Subject: Your compliance digest")

	h := f.svc.SchedulerHandlers()
	assert.NotNil(t, h.DigestFunc)
	assert.Nil(t, h.ScanFunc)
}
