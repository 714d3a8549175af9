// Package queue is a Redis-backed work queue for document exports. Jobs sit
// in a sorted set scored by the time they become runnable; workers claim,
// render and archive them.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultPrefix      = "compliscope:exports:"
	DefaultMaxAttempts = 3
	progressTTL        = 24 * time.Hour
	retryBackoff       = 30 * time.Second
	// priorityWeight moves a job this many seconds ahead per priority point.
	priorityWeight = 1000
)

type JobKind string

const (
	KindSimulationPDF JobKind = "simulation_pdf"
	KindReportPDF     JobKind = "report_pdf"
	KindHistoryCSV    JobKind = "history_csv"
)

func (k JobKind) Valid() bool {
	switch k {
	case KindSimulationPDF, KindReportPDF, KindHistoryCSV:
		return true
	}
	return false
}

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

var (
	ErrInvalidJob  = errors.New("invalid export job")
	ErrJobNotFound = errors.New("export job not found")
)

type Config struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Job is one export request. DocumentID names the base report for PDF kinds;
// ScenarioID is required for simulation exports.
type Job struct {
	ID         uuid.UUID `json:"id"`
	Kind       JobKind   `json:"kind"`
	UserID     string    `json:"userId"`
	DocumentID string    `json:"documentId,omitempty"`
	ScenarioID string    `json:"scenarioId,omitempty"`
	// Email receives a report-ready notification when set.
	Email     string    `json:"email,omitempty"`
	Priority  int       `json:"priority"`
	CreatedAt time.Time `json:"createdAt"`
	Attempts  int       `json:"attempts"`
}

func (j *Job) Validate() error {
	if !j.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidJob, j.Kind)
	}
	if j.UserID == "" {
		return fmt.Errorf("%w: user_id is required", ErrInvalidJob)
	}
	if j.Kind != KindHistoryCSV && j.DocumentID == "" {
		return fmt.Errorf("%w: document_id is required for %s", ErrInvalidJob, j.Kind)
	}
	if j.Kind == KindSimulationPDF && j.ScenarioID == "" {
		return fmt.Errorf("%w: scenario_id is required for %s", ErrInvalidJob, j.Kind)
	}
	return nil
}

type JobProgress struct {
	JobID       uuid.UUID  `json:"jobId"`
	UserID      string     `json:"userId"`
	Kind        JobKind    `json:"kind"`
	Status      Status     `json:"status"`
	Percent     int        `json:"percent"`
	ArtifactKey string     `json:"artifactKey,omitempty"`
	Filename    string     `json:"filename,omitempty"`
	DownloadURL string     `json:"downloadUrl,omitempty"`
	Errors      []string   `json:"errors"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	WorkerID    string     `json:"workerId,omitempty"`
}

type Stats struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
}

type Queue struct {
	client      redis.UniversalClient
	clock       clockwork.Clock
	prefix      string
	maxAttempts int
}

type Option func(*Queue)

func WithClock(c clockwork.Clock) Option {
	return func(q *Queue) { q.clock = c }
}

// WithPrefix namespaces every key the queue touches.
func WithPrefix(prefix string) Option {
	return func(q *Queue) { q.prefix = prefix }
}

func WithMaxAttempts(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.maxAttempts = n
		}
	}
}

// New connects to Redis and verifies the connection.
func New(cfg Config, opts ...Option) (*Queue, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return NewWithClient(client, opts...), nil
}

func NewWithClient(client redis.UniversalClient, opts ...Option) *Queue {
	q := &Queue{
		client:      client,
		clock:       clockwork.NewRealClock(),
		prefix:      DefaultPrefix,
		maxAttempts: DefaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (q *Queue) Close() error {
	return q.client.Close()
}

func (q *Queue) key(name string) string {
	return q.prefix + name
}

func (q *Queue) progressKey(id uuid.UUID) string {
	return q.prefix + "progress:" + id.String()
}

// Enqueue assigns an ID when missing and makes the job runnable now.
func (q *Queue) Enqueue(ctx context.Context, job *Job) error {
	if err := job.Validate(); err != nil {
		return err
	}
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	now := q.clock.Now()
	job.CreatedAt = now

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshaling job: %w", err)
	}

	score := float64(now.Unix()) - float64(job.Priority*priorityWeight)
	if err := q.client.ZAdd(ctx, q.key("pending"), redis.Z{Score: score, Member: string(data)}).Err(); err != nil {
		return fmt.Errorf("enqueueing job: %w", err)
	}

	return q.UpdateProgress(ctx, &JobProgress{
		JobID:  job.ID,
		UserID: job.UserID,
		Kind:   job.Kind,
		Status: StatusPending,
	})
}

// Dequeue claims the next runnable job. It returns nil when nothing is due.
func (q *Queue) Dequeue(ctx context.Context, workerID string) (*Job, error) {
	now := q.clock.Now()
	for {
		members, err := q.client.ZRangeByScore(ctx, q.key("pending"), &redis.ZRangeBy{
			Min:   "-inf",
			Max:   strconv.FormatInt(now.Unix(), 10),
			Count: 1,
		}).Result()
		if err != nil {
			return nil, fmt.Errorf("dequeuing job: %w", err)
		}
		if len(members) == 0 {
			return nil, nil
		}

		removed, err := q.client.ZRem(ctx, q.key("pending"), members[0]).Result()
		if err != nil {
			return nil, fmt.Errorf("claiming job: %w", err)
		}
		if removed == 0 {
			// another worker claimed it first
			continue
		}

		var job Job
		if err := json.Unmarshal([]byte(members[0]), &job); err != nil {
			return nil, fmt.Errorf("unmarshaling job: %w", err)
		}

		if err := q.client.HSet(ctx, q.key("processing"), job.ID.String(), members[0]).Err(); err != nil {
			q.client.ZAdd(ctx, q.key("pending"), redis.Z{Score: float64(now.Unix()), Member: members[0]})
			return nil, fmt.Errorf("marking job as processing: %w", err)
		}

		progress := q.progressOrNew(ctx, &job)
		progress.Status = StatusRunning
		progress.StartedAt = &now
		progress.WorkerID = workerID
		_ = q.UpdateProgress(ctx, progress)

		return &job, nil
	}
}

// Complete moves a claimed job to the completed or failed set. The caller's
// progress updates (artifact key, download URL) are kept.
func (q *Queue) Complete(ctx context.Context, job *Job, success bool) error {
	q.client.HDel(ctx, q.key("processing"), job.ID.String())

	target, status := q.key("completed"), StatusCompleted
	if !success {
		target, status = q.key("failed"), StatusFailed
	}
	if err := q.client.SAdd(ctx, target, job.ID.String()).Err(); err != nil {
		return fmt.Errorf("marking job complete: %w", err)
	}

	now := q.clock.Now()
	progress := q.progressOrNew(ctx, job)
	progress.Status = status
	if success {
		progress.Percent = 100
	}
	progress.CompletedAt = &now
	return q.UpdateProgress(ctx, progress)
}

// Requeue schedules a failed attempt for retry with linear backoff, or fails
// the job once it has used all attempts.
func (q *Queue) Requeue(ctx context.Context, job *Job, errorMsg string) error {
	q.client.HDel(ctx, q.key("processing"), job.ID.String())

	job.Attempts++
	progress := q.progressOrNew(ctx, job)
	progress.Errors = append(progress.Errors, errorMsg)
	if err := q.UpdateProgress(ctx, progress); err != nil {
		return err
	}

	if job.Attempts >= q.maxAttempts {
		return q.Complete(ctx, job, false)
	}

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshaling job: %w", err)
	}
	backoff := time.Duration(job.Attempts) * retryBackoff
	score := float64(q.clock.Now().Add(backoff).Unix())
	if err := q.client.ZAdd(ctx, q.key("pending"), redis.Z{Score: score, Member: string(data)}).Err(); err != nil {
		return fmt.Errorf("requeuing job: %w", err)
	}

	progress.Status = StatusPending
	progress.Percent = 0
	return q.UpdateProgress(ctx, progress)
}

func (q *Queue) progressOrNew(ctx context.Context, job *Job) *JobProgress {
	progress, err := q.GetProgress(ctx, job.ID)
	if err != nil || progress == nil {
		return &JobProgress{JobID: job.ID, UserID: job.UserID, Kind: job.Kind}
	}
	return progress
}

func (q *Queue) UpdateProgress(ctx context.Context, progress *JobProgress) error {
	progress.UpdatedAt = q.clock.Now()
	data, err := json.Marshal(progress)
	if err != nil {
		return fmt.Errorf("marshaling progress: %w", err)
	}
	if err := q.client.Set(ctx, q.progressKey(progress.JobID), data, progressTTL).Err(); err != nil {
		return fmt.Errorf("updating progress: %w", err)
	}
	return nil
}

// GetProgress returns nil, nil for unknown or expired jobs.
func (q *Queue) GetProgress(ctx context.Context, jobID uuid.UUID) (*JobProgress, error) {
	data, err := q.client.Get(ctx, q.progressKey(jobID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting progress: %w", err)
	}

	var progress JobProgress
	if err := json.Unmarshal(data, &progress); err != nil {
		return nil, fmt.Errorf("unmarshaling progress: %w", err)
	}
	return &progress, nil
}

func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	pipe := q.client.Pipeline()
	pending := pipe.ZCard(ctx, q.key("pending"))
	processing := pipe.HLen(ctx, q.key("processing"))
	completed := pipe.SCard(ctx, q.key("completed"))
	failed := pipe.SCard(ctx, q.key("failed"))
	if _, err := pipe.Exec(ctx); err != nil {
		return Stats{}, fmt.Errorf("reading queue stats: %w", err)
	}
	return Stats{
		Pending:    pending.Val(),
		Processing: processing.Val(),
		Completed:  completed.Val(),
		Failed:     failed.Val(),
	}, nil
}

func (q *Queue) WorkerHeartbeat(ctx context.Context, workerID string) error {
	return q.client.HSet(ctx, q.key("workers"), workerID, q.clock.Now().Unix()).Err()
}

func (q *Queue) ActiveWorkers(ctx context.Context, timeout time.Duration) ([]string, error) {
	workers, err := q.client.HGetAll(ctx, q.key("workers")).Result()
	if err != nil {
		return nil, fmt.Errorf("getting workers: %w", err)
	}

	cutoff := q.clock.Now().Add(-timeout).Unix()
	var active []string
	for id, lastSeen := range workers {
		ts, err := strconv.ParseInt(lastSeen, 10, 64)
		if err == nil && ts > cutoff {
			active = append(active, id)
		}
	}
	return active, nil
}

// CleanupStaleJobs requeues processing jobs whose progress has not moved for
// timeout, which happens when a worker dies mid-export.
func (q *Queue) CleanupStaleJobs(ctx context.Context, timeout time.Duration) (int, error) {
	claimed, err := q.client.HGetAll(ctx, q.key("processing")).Result()
	if err != nil {
		return 0, fmt.Errorf("getting processing jobs: %w", err)
	}

	cleaned := 0
	for _, data := range claimed {
		var job Job
		if err := json.Unmarshal([]byte(data), &job); err != nil {
			continue
		}
		progress, err := q.GetProgress(ctx, job.ID)
		if err != nil {
			continue
		}
		if progress != nil && q.clock.Since(progress.UpdatedAt) <= timeout {
			continue
		}
		if err := q.Requeue(ctx, &job, "worker stopped responding"); err != nil {
			return cleaned, err
		}
		cleaned++
	}
	return cleaned, nil
}
