package queue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compliscope/compliscope/internal/archive"
	"github.com/compliscope/compliscope/internal/notifications"
	"github.com/compliscope/compliscope/internal/reports"
)

// memQueue is a FIFO JobQueue without backoff.
type memQueue struct {
	mu        sync.Mutex
	pending   []*Job
	progress  map[uuid.UUID]*JobProgress
	completed map[uuid.UUID]bool
	requeued  []string
}

func newMemQueue(jobs ...*Job) *memQueue {
	q := &memQueue{progress: map[uuid.UUID]*JobProgress{}, completed: map[uuid.UUID]bool{}}
	for _, j := range jobs {
		if j.ID == uuid.Nil {
			j.ID = uuid.New()
		}
		q.pending = append(q.pending, j)
	}
	return q
}

func (q *memQueue) Dequeue(context.Context, string) (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil, nil
	}
	j := q.pending[0]
	q.pending = q.pending[1:]
	return j, nil
}

func (q *memQueue) Complete(_ context.Context, job *Job, success bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.completed[job.ID] = success
	return nil
}

func (q *memQueue) Requeue(_ context.Context, job *Job, msg string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	job.Attempts++
	q.requeued = append(q.requeued, msg)
	q.pending = append(q.pending, job)
	return nil
}

func (q *memQueue) GetProgress(_ context.Context, id uuid.UUID) (*JobProgress, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	p, ok := q.progress[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (q *memQueue) UpdateProgress(_ context.Context, p *JobProgress) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	cp := *p
	q.progress[p.JobID] = &cp
	return nil
}

func (q *memQueue) WorkerHeartbeat(context.Context, string) error { return nil }

func (q *memQueue) CleanupStaleJobs(context.Context, time.Duration) (int, error) { return 0, nil }

type stubRenderer struct {
	err error
}

func (r stubRenderer) Render(_ context.Context, job *Job) (*RenderResult, error) {
	if r.err != nil {
		return nil, r.err
	}
	return &RenderResult{
		Export:       &reports.Export{Data: []byte("%PDF-1.3 test"), Filename: "simulation_gdpr_20240402.pdf", MimeType: "application/pdf"},
		DocumentName: "Privacy Policy",
		OverallScore: 81,
		RiskCount:    2,
		IsSimulation: job.Kind == KindSimulationPDF,
	}, nil
}

type captureMailer struct {
	sent []*notifications.EmailPayload
}

func (m *captureMailer) SendEmail(_ context.Context, p *notifications.EmailPayload) error {
	m.sent = append(m.sent, p)
	return nil
}

var workerEpoch = time.Date(2024, 4, 2, 10, 0, 0, 0, time.UTC)

func newTestWorker(t *testing.T, q JobQueue, r Renderer, m Mailer) (*Worker, archive.Storage) {
	t.Helper()
	store, err := archive.NewLocalStorage(archive.LocalConfig{Dir: t.TempDir(), BaseURL: "https://files.test"}, nil)
	require.NoError(t, err)
	w := NewWorker(WorkerConfig{
		Queue:    q,
		Renderer: r,
		Archive:  store,
		Mailer:   m,
		Clock:    clockwork.NewFakeClockAt(workerEpoch),
	})
	return w, store
}

func TestWorker_ProcessNext(t *testing.T) {
	ctx := context.Background()
	job := &Job{Kind: KindSimulationPDF, UserID: "alice", DocumentID: "doc-1", ScenarioID: "hc-1", Email: "alice@acme.test"}
	q := newMemQueue(job)
	mailer := &captureMailer{}
	w, store := newTestWorker(t, q, stubRenderer{}, mailer)

	found, err := w.ProcessNext(ctx)
	require.NoError(t, err)
	assert.True(t, found)
	assert.True(t, q.completed[job.ID])

	progress, err := q.GetProgress(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, progress)
	assert.Equal(t, "exports/alice/20240402T100000/simulation_gdpr_20240402.pdf", progress.ArtifactKey)
	assert.Equal(t, "https://files.test/"+progress.ArtifactKey, progress.DownloadURL)

	rc, info, err := store.Get(ctx, progress.ArtifactKey)
	require.NoError(t, err)
	defer rc.Close()
	body, _ := io.ReadAll(rc)
	assert.Equal(t, "%PDF-1.3 test", string(body))
	assert.Equal(t, int64(len(body)), info.Size)

	require.Len(t, mailer.sent, 1)
	sent := mailer.sent[0]
	assert.Equal(t, notifications.EmailReport, sent.Type)
	assert.Equal(t, "alice@acme.test", sent.Email)
	assert.True(t, sent.ReportDetails.IsSimulation)
	assert.Equal(t, progress.DownloadURL, sent.ReportDetails.DownloadURL)

	found, err = w.ProcessNext(ctx)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestWorker_TransientFailureRequeues(t *testing.T) {
	job := &Job{Kind: KindHistoryCSV, UserID: "bob"}
	q := newMemQueue(job)
	w, _ := newTestWorker(t, q, stubRenderer{err: errors.New("redis timeout")}, nil)

	found, err := w.ProcessNext(context.Background())
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []string{"rendering: redis timeout"}, q.requeued)
	_, done := q.completed[job.ID]
	assert.False(t, done)
}

func TestWorker_PermanentFailure(t *testing.T) {
	job := &Job{Kind: KindReportPDF, UserID: "bob", DocumentID: "gone"}
	q := newMemQueue(job)
	w, _ := newTestWorker(t, q, stubRenderer{err: fmt.Errorf("%w: report not found", ErrPermanent)}, nil)

	_, err := w.ProcessNext(context.Background())
	require.NoError(t, err)

	success, done := q.completed[job.ID]
	assert.True(t, done)
	assert.False(t, success)
	assert.Empty(t, q.requeued)

	progress, _ := q.GetProgress(context.Background(), job.ID)
	require.NotNil(t, progress)
	require.Len(t, progress.Errors, 1)
	assert.Contains(t, progress.Errors[0], "report not found")
}

func TestWorker_StartStop(t *testing.T) {
	q := newMemQueue()
	w, _ := newTestWorker(t, q, stubRenderer{}, nil)

	require.NoError(t, w.Start(context.Background()))
	assert.Error(t, w.Start(context.Background()))
	w.Stop()
	w.Stop()
}
