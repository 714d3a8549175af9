package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is a Store for single-process deployments and tests.
type MemoryStore struct {
	mu    sync.Mutex
	jobs  map[string]*Job
	execs map[string][]*JobExecution
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:  make(map[string]*Job),
		execs: make(map[string][]*JobExecution),
		now:   time.Now,
	}
}

func copyJob(j *Job) *Job {
	c := *j
	if j.Config != nil {
		c.Config = make(map[string]string, len(j.Config))
		for k, v := range j.Config {
			c.Config[k] = v
		}
	}
	return &c
}

func (m *MemoryStore) GetJob(_ context.Context, id string) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return copyJob(j), nil
}

func (m *MemoryStore) ListJobs(_ context.Context) ([]*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	jobs := make([]*Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		jobs = append(jobs, copyJob(j))
	}
	sort.Slice(jobs, func(a, b int) bool {
		if jobs[a].CreatedAt.Equal(jobs[b].CreatedAt) {
			return jobs[a].ID < jobs[b].ID
		}
		return jobs[a].CreatedAt.Before(jobs[b].CreatedAt)
	})
	return jobs, nil
}

func (m *MemoryStore) CreateJob(_ context.Context, job *Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	now := m.now()
	job.CreatedAt = now
	job.UpdatedAt = now
	m.jobs[job.ID] = copyJob(job)
	return nil
}

func (m *MemoryStore) UpdateJob(_ context.Context, job *Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.jobs[job.ID]
	if !ok {
		return ErrJobNotFound
	}
	job.CreatedAt = existing.CreatedAt
	job.LastRun = existing.LastRun
	job.UpdatedAt = m.now()
	m.jobs[job.ID] = copyJob(job)
	return nil
}

func (m *MemoryStore) DeleteJob(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.jobs[id]; !ok {
		return ErrJobNotFound
	}
	delete(m.jobs, id)
	delete(m.execs, id)
	return nil
}

func (m *MemoryStore) UpdateLastRun(_ context.Context, id string, lastRun time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	j.LastRun = &lastRun
	j.UpdatedAt = m.now()
	return nil
}

func (m *MemoryStore) CreateExecution(_ context.Context, exec *JobExecution) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if exec.ID == "" {
		exec.ID = uuid.New().String()
	}
	c := *exec
	m.execs[exec.JobID] = append(m.execs[exec.JobID], &c)
	return nil
}

func (m *MemoryStore) UpdateExecution(_ context.Context, exec *JobExecution) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, e := range m.execs[exec.JobID] {
		if e.ID == exec.ID {
			c := *exec
			m.execs[exec.JobID][i] = &c
			return nil
		}
	}
	return ErrJobNotFound
}

func (m *MemoryStore) GetJobExecutions(_ context.Context, jobID string, limit int) ([]*JobExecution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	all := m.execs[jobID]
	out := make([]*JobExecution, 0, len(all))
	for i := len(all) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		c := *all[i]
		out = append(out, &c)
	}
	return out, nil
}
