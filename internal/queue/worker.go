package queue

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/compliscope/compliscope/internal/archive"
	"github.com/compliscope/compliscope/internal/metrics"
	"github.com/compliscope/compliscope/internal/notifications"
	"github.com/compliscope/compliscope/internal/reports"
)

// JobQueue is the part of Queue a worker drives.
type JobQueue interface {
	Dequeue(ctx context.Context, workerID string) (*Job, error)
	Complete(ctx context.Context, job *Job, success bool) error
	Requeue(ctx context.Context, job *Job, errorMsg string) error
	GetProgress(ctx context.Context, jobID uuid.UUID) (*JobProgress, error)
	UpdateProgress(ctx context.Context, progress *JobProgress) error
	WorkerHeartbeat(ctx context.Context, workerID string) error
	CleanupStaleJobs(ctx context.Context, timeout time.Duration) (int, error)
}

// Renderer produces the document an export job asks for.
type Renderer interface {
	Render(ctx context.Context, job *Job) (*RenderResult, error)
}

// RenderResult carries the rendered file plus the facts the ready email
// reports.
type RenderResult struct {
	Export       *reports.Export
	DocumentName string
	OverallScore int
	RiskCount    int
	IsSimulation bool
}

type Mailer interface {
	SendEmail(ctx context.Context, payload *notifications.EmailPayload) error
}

// ErrPermanent marks render failures that retrying cannot fix.
var ErrPermanent = errors.New("permanent export failure")

type WorkerConfig struct {
	Queue    JobQueue
	Renderer Renderer
	Archive  archive.Storage
	// Mailer is optional.
	Mailer    Mailer
	Logger    *slog.Logger
	Clock     clockwork.Clock
	URLExpiry time.Duration
	// IdleWait is how long the loop sleeps when the queue is empty.
	IdleWait     time.Duration
	StaleTimeout time.Duration
}

type Worker struct {
	id       string
	queue    JobQueue
	renderer Renderer
	archive  archive.Storage
	mailer   Mailer
	logger   *slog.Logger
	clock    clockwork.Clock

	urlExpiry    time.Duration
	idleWait     time.Duration
	staleTimeout time.Duration

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mu      sync.Mutex
}

func NewWorker(cfg WorkerConfig) *Worker {
	hostname, _ := os.Hostname()
	w := &Worker{
		id:           fmt.Sprintf("%s-%s", hostname, uuid.New().String()[:8]),
		queue:        cfg.Queue,
		renderer:     cfg.Renderer,
		archive:      cfg.Archive,
		mailer:       cfg.Mailer,
		logger:       cfg.Logger,
		clock:        cfg.Clock,
		urlExpiry:    cfg.URLExpiry,
		idleWait:     cfg.IdleWait,
		staleTimeout: cfg.StaleTimeout,
	}
	if w.logger == nil {
		w.logger = slog.Default()
	}
	w.logger = w.logger.With("worker_id", w.id)
	if w.clock == nil {
		w.clock = clockwork.NewRealClock()
	}
	if w.urlExpiry <= 0 {
		w.urlExpiry = 24 * time.Hour
	}
	if w.idleWait <= 0 {
		w.idleWait = time.Second
	}
	if w.staleTimeout <= 0 {
		w.staleTimeout = 30 * time.Minute
	}
	return w
}

func (w *Worker) ID() string {
	return w.id
}

func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return fmt.Errorf("worker already running")
	}
	w.running = true
	ctx, w.cancel = context.WithCancel(ctx)

	w.logger.Info("export worker starting")

	w.wg.Add(3)
	go w.heartbeatLoop(ctx)
	go w.processLoop(ctx)
	go w.cleanupLoop(ctx)
	return nil
}

func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.cancel()
	w.mu.Unlock()

	w.wg.Wait()
	w.logger.Info("export worker stopped")
}

func (w *Worker) heartbeatLoop(ctx context.Context) {
	defer w.wg.Done()

	ticker := w.clock.NewTicker(10 * time.Second)
	defer ticker.Stop()

	_ = w.queue.WorkerHeartbeat(ctx, w.id)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if err := w.queue.WorkerHeartbeat(ctx, w.id); err != nil {
				w.logger.Warn("heartbeat failed", "error", err)
			}
		}
	}
}

func (w *Worker) processLoop(ctx context.Context) {
	defer w.wg.Done()

	for {
		processed, err := w.ProcessNext(ctx)
		if ctx.Err() != nil {
			return
		}

		wait := time.Duration(0)
		switch {
		case err != nil:
			w.logger.Error("dequeuing export job", "error", err)
			wait = 5 * w.idleWait
		case !processed:
			wait = w.idleWait
		}
		if wait == 0 {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-w.clock.After(wait):
		}
	}
}

func (w *Worker) cleanupLoop(ctx context.Context) {
	defer w.wg.Done()

	ticker := w.clock.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			cleaned, err := w.queue.CleanupStaleJobs(ctx, w.staleTimeout)
			if err != nil {
				w.logger.Error("cleaning stale export jobs", "error", err)
			} else if cleaned > 0 {
				w.logger.Info("requeued stale export jobs", "count", cleaned)
			}
		}
	}
}

// ProcessNext claims and runs one job. It reports whether a job was found;
// job failures are recorded on the queue, not returned.
func (w *Worker) ProcessNext(ctx context.Context) (bool, error) {
	job, err := w.queue.Dequeue(ctx, w.id)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}

	log := w.logger.With("job_id", job.ID, "kind", job.Kind, "user_id", job.UserID)
	log.Info("processing export job", "attempt", job.Attempts+1)

	start := w.clock.Now()
	err = w.process(ctx, job)
	metrics.JobDuration.WithLabelValues(string(job.Kind)).Observe(w.clock.Since(start).Seconds())

	switch {
	case err == nil:
		metrics.JobsTotal.WithLabelValues(string(job.Kind), string(StatusCompleted)).Inc()
		log.Info("export job completed")
		if cerr := w.queue.Complete(ctx, job, true); cerr != nil {
			log.Error("marking export job complete", "error", cerr)
		}
	case errors.Is(err, ErrPermanent):
		metrics.JobsTotal.WithLabelValues(string(job.Kind), string(StatusFailed)).Inc()
		log.Error("export job failed permanently", "error", err)
		w.recordError(ctx, job, err)
		if cerr := w.queue.Complete(ctx, job, false); cerr != nil {
			log.Error("marking export job failed", "error", cerr)
		}
	default:
		metrics.JobsTotal.WithLabelValues(string(job.Kind), "retry").Inc()
		log.Warn("export job failed, requeuing", "error", err)
		if rerr := w.queue.Requeue(ctx, job, err.Error()); rerr != nil {
			log.Error("requeuing export job", "error", rerr)
		}
	}
	return true, nil
}

func (w *Worker) process(ctx context.Context, job *Job) error {
	progress, err := w.queue.GetProgress(ctx, job.ID)
	if err != nil {
		return err
	}
	if progress == nil {
		progress = &JobProgress{JobID: job.ID, UserID: job.UserID, Kind: job.Kind, Status: StatusRunning}
	}
	w.setPercent(ctx, progress, 10)

	result, err := w.renderer.Render(ctx, job)
	if err != nil {
		return fmt.Errorf("rendering: %w", err)
	}
	w.setPercent(ctx, progress, 60)

	exp := result.Export
	key := archive.ExportKey(job.UserID, exp.Filename, w.clock.Now())
	err = w.archive.Put(ctx, key, bytes.NewReader(exp.Data), archive.PutOptions{
		ContentType: exp.MimeType,
		Overwrite:   true,
	})
	if err != nil {
		return fmt.Errorf("archiving: %w", err)
	}

	url, err := w.archive.URL(ctx, key, w.urlExpiry)
	if err != nil {
		w.logger.Warn("building download url", "job_id", job.ID, "error", err)
	}

	progress.ArtifactKey = key
	progress.Filename = exp.Filename
	progress.DownloadURL = url
	w.setPercent(ctx, progress, 90)

	if job.Email != "" && w.mailer != nil {
		err := w.mailer.SendEmail(ctx, &notifications.EmailPayload{
			Type:  notifications.EmailReport,
			Email: job.Email,
			ReportDetails: &notifications.ReportDetails{
				DocumentName: result.DocumentName,
				OverallScore: result.OverallScore,
				RiskCount:    result.RiskCount,
				IsSimulation: result.IsSimulation,
				DownloadURL:  url,
			},
		})
		// email failures do not fail the job
		if err != nil {
			w.logger.Warn("sending report email", "job_id", job.ID, "error", err)
		}
	}
	return nil
}

func (w *Worker) setPercent(ctx context.Context, progress *JobProgress, pct int) {
	progress.Percent = pct
	if err := w.queue.UpdateProgress(ctx, progress); err != nil {
		w.logger.Warn("updating export progress", "job_id", progress.JobID, "error", err)
	}
}

func (w *Worker) recordError(ctx context.Context, job *Job, err error) {
	progress, _ := w.queue.GetProgress(ctx, job.ID)
	if progress == nil {
		progress = &JobProgress{JobID: job.ID, UserID: job.UserID, Kind: job.Kind}
	}
	progress.Errors = append(progress.Errors, err.Error())
	_ = w.queue.UpdateProgress(ctx, progress)
}
