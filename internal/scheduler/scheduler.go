// Package scheduler runs recurring maintenance jobs on cron schedules.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"

	"github.com/compliscope/compliscope/internal/metrics"
)

// Job represents a scheduled job
type Job struct {
	ID          string            `json:"id" db:"id"`
	Name        string            `json:"name" db:"name"`
	Description string            `json:"description" db:"description"`
	Schedule    string            `json:"schedule" db:"schedule"` // Cron expression
	JobType     JobType           `json:"jobType" db:"job_type"`
	Config      map[string]string `json:"config" db:"config"`
	Enabled     bool              `json:"enabled" db:"enabled"`
	LastRun     *time.Time        `json:"lastRun,omitempty" db:"last_run"`
	NextRun     *time.Time        `json:"nextRun,omitempty" db:"next_run"`
	CreatedAt   time.Time         `json:"createdAt" db:"created_at"`
	UpdatedAt   time.Time         `json:"updatedAt" db:"updated_at"`
}

type JobType string

const (
	// JobTypeScanIntegrations scans connected integrations. Config "user_id"
	// limits the scan to one user.
	JobTypeScanIntegrations JobType = "scan_integrations"
	// JobTypePurgeSimulations removes simulation reports older than config
	// "retention_days" (default 30).
	JobTypePurgeSimulations JobType = "purge_simulations"
	// JobTypeSendDigest emails a history digest to config "email".
	JobTypeSendDigest JobType = "send_digest"
)

func (t JobType) Valid() bool {
	switch t {
	case JobTypeScanIntegrations, JobTypePurgeSimulations, JobTypeSendDigest:
		return true
	}
	return false
}

// JobExecution tracks job execution history
type JobExecution struct {
	ID        string          `json:"id" db:"id"`
	JobID     string          `json:"jobId" db:"job_id"`
	Status    ExecutionStatus `json:"status" db:"status"`
	StartedAt time.Time       `json:"startedAt" db:"started_at"`
	EndedAt   *time.Time      `json:"endedAt,omitempty" db:"ended_at"`
	Error     string          `json:"error,omitempty" db:"error"`
	Output    string          `json:"output,omitempty" db:"output"`
}

type ExecutionStatus string

const (
	StatusRunning   ExecutionStatus = "running"
	StatusCompleted ExecutionStatus = "completed"
	StatusFailed    ExecutionStatus = "failed"
)

var (
	ErrJobNotFound = errors.New("job not found")
	ErrInvalidJob  = errors.New("invalid job")
	ErrNoHandler   = errors.New("no handler registered for job type")
)

// DefaultRetention applies to purge jobs without a retention_days setting.
const DefaultRetention = 30 * 24 * time.Hour

var defaultCronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Validate checks the job's name, type and cron expression.
func (j *Job) Validate() error {
	if j.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidJob)
	}
	if !j.JobType.Valid() {
		return fmt.Errorf("%w: unknown job type %q", ErrInvalidJob, j.JobType)
	}
	if _, err := defaultCronParser.Parse(j.Schedule); err != nil {
		return fmt.Errorf("%w: invalid cron expression: %v", ErrInvalidJob, err)
	}
	return nil
}

// JobHandler executes a job and returns a short summary of what it did.
type JobHandler func(ctx context.Context, job *Job) (string, error)

// Store defines the interface for job persistence
type Store interface {
	GetJob(ctx context.Context, id string) (*Job, error)
	ListJobs(ctx context.Context) ([]*Job, error)
	CreateJob(ctx context.Context, job *Job) error
	UpdateJob(ctx context.Context, job *Job) error
	DeleteJob(ctx context.Context, id string) error
	UpdateLastRun(ctx context.Context, id string, lastRun time.Time) error
	CreateExecution(ctx context.Context, exec *JobExecution) error
	UpdateExecution(ctx context.Context, exec *JobExecution) error
	GetJobExecutions(ctx context.Context, jobID string, limit int) ([]*JobExecution, error)
}

// Scheduler manages scheduled jobs
type Scheduler struct {
	cron     *cron.Cron
	store    Store
	handlers map[JobType]JobHandler
	entries  map[string]cron.EntryID
	clock    clockwork.Clock
	timeout  time.Duration
	mu       sync.RWMutex
	logger   *slog.Logger
	wg       sync.WaitGroup
}

type Option func(*Scheduler)

func WithClock(c clockwork.Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithJobTimeout bounds each job execution.
func WithJobTimeout(d time.Duration) Option {
	return func(s *Scheduler) { s.timeout = d }
}

func NewScheduler(store Store, logger *slog.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Scheduler{
		cron:     cron.New(cron.WithParser(defaultCronParser)),
		store:    store,
		handlers: make(map[JobType]JobHandler),
		entries:  make(map[string]cron.EntryID),
		clock:    clockwork.NewRealClock(),
		timeout:  10 * time.Minute,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Scheduler) RegisterHandler(jobType JobType, handler JobHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[jobType] = handler
}

// Start schedules every enabled stored job and starts the cron loop.
func (s *Scheduler) Start(ctx context.Context) error {
	jobs, err := s.store.ListJobs(ctx)
	if err != nil {
		return fmt.Errorf("failed to load jobs: %w", err)
	}

	scheduled := 0
	for _, job := range jobs {
		if !job.Enabled {
			continue
		}
		if err := s.scheduleJob(job); err != nil {
			s.logger.Error("failed to schedule job",
				"job_id", job.ID,
				"job_name", job.Name,
				"error", err)
			continue
		}
		scheduled++
	}

	s.cron.Start()
	s.logger.Info("scheduler started", "jobs_count", len(jobs), "scheduled", scheduled)
	return nil
}

// Stop stops the cron loop and waits for running jobs, including ones started
// by RunJobNow.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.wg.Wait()
}

// EnsureDefaults creates any of DefaultJobs whose type has no stored job yet.
func (s *Scheduler) EnsureDefaults(ctx context.Context) error {
	jobs, err := s.store.ListJobs(ctx)
	if err != nil {
		return err
	}
	have := make(map[JobType]bool, len(jobs))
	for _, j := range jobs {
		have[j.JobType] = true
	}
	for _, j := range DefaultJobs() {
		if have[j.JobType] {
			continue
		}
		if err := s.AddJob(ctx, j); err != nil {
			return fmt.Errorf("creating default job %s: %w", j.Name, err)
		}
	}
	return nil
}

// DefaultJobs are the maintenance jobs every deployment starts with.
func DefaultJobs() []*Job {
	return []*Job{
		{
			Name:        "Scan connected integrations",
			Description: "Scan every connected integration for new violations",
			Schedule:    "@every 1h",
			JobType:     JobTypeScanIntegrations,
			Enabled:     true,
		},
		{
			Name:        "Purge old simulations",
			Description: "Remove simulation reports past the retention period",
			Schedule:    "@daily",
			JobType:     JobTypePurgeSimulations,
			Config:      map[string]string{"retention_days": "30"},
			Enabled:     true,
		},
		{
			Name:        "Weekly compliance digest",
			Description: "Email a summary of recent reports",
			Schedule:    "0 8 * * 1",
			JobType:     JobTypeSendDigest,
			Enabled:     false,
		},
	}
}

func (s *Scheduler) AddJob(ctx context.Context, job *Job) error {
	if err := job.Validate(); err != nil {
		return err
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		return err
	}

	if job.Enabled {
		return s.scheduleJob(job)
	}
	return nil
}

func (s *Scheduler) UpdateJob(ctx context.Context, job *Job) error {
	if err := job.Validate(); err != nil {
		return err
	}
	s.unscheduleJob(job.ID)

	if err := s.store.UpdateJob(ctx, job); err != nil {
		return err
	}

	if job.Enabled {
		return s.scheduleJob(job)
	}
	return nil
}

func (s *Scheduler) DeleteJob(ctx context.Context, id string) error {
	s.unscheduleJob(id)
	return s.store.DeleteJob(ctx, id)
}

func (s *Scheduler) GetJob(ctx context.Context, id string) (*Job, error) {
	return s.store.GetJob(ctx, id)
}

func (s *Scheduler) ListJobs(ctx context.Context) ([]*Job, error) {
	return s.store.ListJobs(ctx)
}

func (s *Scheduler) Executions(ctx context.Context, jobID string, limit int) ([]*JobExecution, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.store.GetJobExecutions(ctx, jobID, limit)
}

func (s *Scheduler) EnableJob(ctx context.Context, id string) error {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return err
	}

	job.Enabled = true
	if err := s.scheduleJob(job); err != nil {
		return err
	}
	return s.store.UpdateJob(ctx, job)
}

func (s *Scheduler) DisableJob(ctx context.Context, id string) error {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return err
	}

	job.Enabled = false
	job.NextRun = nil
	s.unscheduleJob(id)

	return s.store.UpdateJob(ctx, job)
}

// RunJobNow starts a job in the background.
func (s *Scheduler) RunJobNow(ctx context.Context, id string) error {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.executeJob(context.Background(), job)
	}()
	return nil
}

// Run executes a job synchronously and returns its execution record.
func (s *Scheduler) Run(ctx context.Context, id string) (*JobExecution, error) {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.executeJob(ctx, job), nil
}

// GetNextRuns returns the next count runs of a scheduled job.
func (s *Scheduler) GetNextRuns(id string, count int) []time.Time {
	s.mu.RLock()
	entryID, ok := s.entries[id]
	s.mu.RUnlock()

	if !ok {
		return nil
	}

	entry := s.cron.Entry(entryID)
	if entry.ID == 0 {
		return nil
	}

	next := entry.Next
	if next.IsZero() {
		next = entry.Schedule.Next(s.clock.Now())
	}
	runs := make([]time.Time, 0, count)
	for i := 0; i < count; i++ {
		runs = append(runs, next)
		next = entry.Schedule.Next(next)
	}
	return runs
}

func (s *Scheduler) scheduleJob(job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entryID, ok := s.entries[job.ID]; ok {
		s.cron.Remove(entryID)
		delete(s.entries, job.ID)
	}

	schedule, err := defaultCronParser.Parse(job.Schedule)
	if err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}

	jobID := job.ID
	entryID := s.cron.Schedule(schedule, cron.FuncJob(func() {
		current, err := s.store.GetJob(context.Background(), jobID)
		if err != nil {
			s.logger.Error("scheduled job vanished", "job_id", jobID, "error", err)
			return
		}
		s.wg.Add(1)
		defer s.wg.Done()
		s.executeJob(context.Background(), current)
	}))
	s.entries[job.ID] = entryID

	nextRun := schedule.Next(s.clock.Now())
	job.NextRun = &nextRun

	s.logger.Info("scheduled job",
		"job_id", job.ID,
		"job_name", job.Name,
		"schedule", job.Schedule,
		"next_run", nextRun)
	return nil
}

func (s *Scheduler) unscheduleJob(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entryID, ok := s.entries[id]; ok {
		s.cron.Remove(entryID)
		delete(s.entries, id)
	}
}

func (s *Scheduler) executeJob(ctx context.Context, job *Job) *JobExecution {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	startTime := s.clock.Now()
	exec := &JobExecution{
		ID:        uuid.New().String(),
		JobID:     job.ID,
		Status:    StatusRunning,
		StartedAt: startTime,
	}

	if err := s.store.CreateExecution(ctx, exec); err != nil {
		s.logger.Error("failed to create execution record", "job_id", job.ID, "error", err)
	}

	s.logger.Info("executing job",
		"job_id", job.ID,
		"job_name", job.Name,
		"execution_id", exec.ID)

	s.mu.RLock()
	handler, ok := s.handlers[job.JobType]
	s.mu.RUnlock()

	var (
		output string
		err    error
	)
	if ok {
		output, err = handler(ctx, job)
	} else {
		err = fmt.Errorf("%w: %s", ErrNoHandler, job.JobType)
	}

	endTime := s.clock.Now()
	exec.EndedAt = &endTime
	exec.Output = output
	duration := endTime.Sub(startTime)

	if err != nil {
		exec.Status = StatusFailed
		exec.Error = err.Error()
		s.logger.Error("job execution failed",
			"job_id", job.ID,
			"job_name", job.Name,
			"error", err,
			"duration", duration)
	} else {
		exec.Status = StatusCompleted
		s.logger.Info("job execution completed",
			"job_id", job.ID,
			"job_name", job.Name,
			"output", output,
			"duration", duration)
	}

	metrics.JobsTotal.WithLabelValues(string(job.JobType), string(exec.Status)).Inc()
	metrics.JobDuration.WithLabelValues(string(job.JobType)).Observe(duration.Seconds())

	if err := s.store.UpdateExecution(ctx, exec); err != nil {
		s.logger.Error("failed to update execution record", "execution_id", exec.ID, "error", err)
	}
	if err := s.store.UpdateLastRun(ctx, job.ID, startTime); err != nil {
		s.logger.Error("failed to update last run", "job_id", job.ID, "error", err)
	}
	return exec
}

// Handlers wires the maintenance jobs to the functions that do the work.
type Handlers struct {
	// ScanFunc scans one user's integrations, or every user's when userID is
	// empty, and returns the number of violations found.
	ScanFunc func(ctx context.Context, userID string) (int, error)
	// PurgeFunc removes simulations older than the cutoff and returns how many.
	PurgeFunc func(ctx context.Context, cutoff time.Time) (int, error)
	// DigestFunc sends a digest to email.
	DigestFunc func(ctx context.Context, email string) error
}

// Register registers every non-nil handler with the scheduler.
func (h *Handlers) Register(s *Scheduler) {
	if h.ScanFunc != nil {
		s.RegisterHandler(JobTypeScanIntegrations, func(ctx context.Context, job *Job) (string, error) {
			n, err := h.ScanFunc(ctx, job.Config["user_id"])
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("%d violations found", n), nil
		})
	}

	if h.PurgeFunc != nil {
		s.RegisterHandler(JobTypePurgeSimulations, func(ctx context.Context, job *Job) (string, error) {
			retention := DefaultRetention
			if d, ok := job.Config["retention_days"]; ok {
				days, err := strconv.Atoi(d)
				if err != nil || days < 1 {
					return "", fmt.Errorf("invalid retention_days %q", d)
				}
				retention = time.Duration(days) * 24 * time.Hour
			}
			n, err := h.PurgeFunc(ctx, s.clock.Now().Add(-retention))
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("%d simulations purged", n), nil
		})
	}

	if h.DigestFunc != nil {
		s.RegisterHandler(JobTypeSendDigest, func(ctx context.Context, job *Job) (string, error) {
			email := job.Config["email"]
			if email == "" {
				return "", fmt.Errorf("email not specified in job config")
			}
			if err := h.DigestFunc(ctx, email); err != nil {
				return "", err
			}
			return "digest sent to " + email, nil
		})
	}
}
