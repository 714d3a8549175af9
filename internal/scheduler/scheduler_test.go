package scheduler

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compliscope/compliscope/internal/kv"
	"github.com/compliscope/compliscope/internal/migrations"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestScheduler(t *testing.T) (*Scheduler, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	s := NewScheduler(store, nil, WithClock(clockwork.NewFakeClockAt(epoch)))
	t.Cleanup(s.Stop)
	return s, store
}

func TestJob_Validate(t *testing.T) {
	tests := []struct {
		name    string
		job     Job
		wantErr bool
	}{
		{"valid", Job{Name: "scan", Schedule: "@every 1h", JobType: JobTypeScanIntegrations}, false},
		{"with seconds", Job{Name: "scan", Schedule: "0 30 * * * *", JobType: JobTypeScanIntegrations}, false},
		{"missing name", Job{Schedule: "@daily", JobType: JobTypeSendDigest}, true},
		{"unknown type", Job{Name: "x", Schedule: "@daily", JobType: "scan_account"}, true},
		{"bad cron", Job{Name: "x", Schedule: "every day", JobType: JobTypePurgeSimulations}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.job.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidJob)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestScheduler_RunRecordsExecution(t *testing.T) {
	ctx := context.Background()
	s, store := newTestScheduler(t)

	var gotUser string
	(&Handlers{
		ScanFunc: func(ctx context.Context, userID string) (int, error) {
			gotUser = userID
			return 3, nil
		},
	}).Register(s)

	job := &Job{Name: "scan alice", Schedule: "@every 1h", JobType: JobTypeScanIntegrations, Config: map[string]string{"user_id": "alice"}, Enabled: true}
	require.NoError(t, s.AddJob(ctx, job))
	require.NotNil(t, job.NextRun)
	assert.Equal(t, epoch.Add(time.Hour), *job.NextRun)

	exec, err := s.Run(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, exec.Status)
	assert.Equal(t, "3 violations found", exec.Output)
	assert.Equal(t, "alice", gotUser)

	execs, err := s.Executions(ctx, job.ID, 0)
	require.NoError(t, err)
	require.Len(t, execs, 1)
	assert.Equal(t, StatusCompleted, execs[0].Status)

	stored, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.LastRun)
	assert.Equal(t, epoch, *stored.LastRun)
}

func TestScheduler_FailuresAreRecorded(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestScheduler(t)

	(&Handlers{
		DigestFunc: func(ctx context.Context, email string) error { return errors.New("smtp down") },
	}).Register(s)

	digest := &Job{Name: "digest", Schedule: "@weekly", JobType: JobTypeSendDigest, Config: map[string]string{"email": "ops@acme.test"}}
	require.NoError(t, s.AddJob(ctx, digest))
	exec, err := s.Run(ctx, digest.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, exec.Status)
	assert.Equal(t, "smtp down", exec.Error)

	purge := &Job{Name: "purge", Schedule: "@daily", JobType: JobTypePurgeSimulations}
	require.NoError(t, s.AddJob(ctx, purge))
	exec, err = s.Run(ctx, purge.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, exec.Status)
	assert.Contains(t, exec.Error, ErrNoHandler.Error())
}

func TestHandlers_PurgeCutoff(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestScheduler(t)

	var cutoff time.Time
	(&Handlers{
		PurgeFunc: func(ctx context.Context, c time.Time) (int, error) {
			cutoff = c
			return 4, nil
		},
	}).Register(s)

	job := &Job{Name: "purge", Schedule: "@daily", JobType: JobTypePurgeSimulations, Config: map[string]string{"retention_days": "7"}}
	require.NoError(t, s.AddJob(ctx, job))
	exec, err := s.Run(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "4 simulations purged", exec.Output)
	assert.Equal(t, epoch.Add(-7*24*time.Hour), cutoff)

	job.Config["retention_days"] = "soon"
	require.NoError(t, s.UpdateJob(ctx, job))
	exec, err = s.Run(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, exec.Status)
}

func TestScheduler_EnableDisable(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestScheduler(t)

	job := &Job{Name: "digest", Schedule: "0 8 * * 1", JobType: JobTypeSendDigest}
	require.NoError(t, s.AddJob(ctx, job))
	assert.Nil(t, s.GetNextRuns(job.ID, 2))

	require.NoError(t, s.EnableJob(ctx, job.ID))
	runs := s.GetNextRuns(job.ID, 2)
	require.Len(t, runs, 2)
	assert.True(t, runs[1].After(runs[0]))
	for _, r := range runs {
		assert.Equal(t, time.Monday, r.Weekday())
		assert.Equal(t, 8, r.Hour())
	}

	require.NoError(t, s.DisableJob(ctx, job.ID))
	assert.Nil(t, s.GetNextRuns(job.ID, 2))

	stored, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.False(t, stored.Enabled)
}

func TestScheduler_EnsureDefaults(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestScheduler(t)

	require.NoError(t, s.EnsureDefaults(ctx))
	require.NoError(t, s.EnsureDefaults(ctx))

	jobs, err := s.ListJobs(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, len(DefaultJobs()))

	types := map[JobType]bool{}
	for _, j := range jobs {
		types[j.JobType] = true
	}
	assert.True(t, types[JobTypeScanIntegrations])
	assert.True(t, types[JobTypePurgeSimulations])
	assert.True(t, types[JobTypeSendDigest])
}

func TestScheduler_DeleteMissing(t *testing.T) {
	s, _ := newTestScheduler(t)
	assert.ErrorIs(t, s.DeleteJob(context.Background(), "nope"), ErrJobNotFound)
	_, err := s.Run(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestScheduler_RunJobNow(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestScheduler(t)

	done := make(chan string, 1)
	(&Handlers{
		ScanFunc: func(ctx context.Context, userID string) (int, error) {
			done <- userID
			return 0, nil
		},
	}).Register(s)

	job := &Job{Name: "scan", Schedule: "@hourly", JobType: JobTypeScanIntegrations}
	require.NoError(t, s.AddJob(ctx, job))
	require.NoError(t, s.RunJobNow(ctx, job.ID))

	select {
	case u := <-done:
		assert.Empty(t, u)
	case <-time.After(2 * time.Second):
		t.Fatal("job did not run")
	}
}

func getTestDSN() string {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		dsn = "host=localhost port=5432 user=compliscope password=compliscope dbname=compliscope_test sslmode=disable"
	}
	return dsn
}

func TestPostgresStore(t *testing.T) {
	db, err := kv.Connect(kv.PostgresConfig{DSN: getTestDSN(), MaxOpenConns: 5, MaxIdleConns: 2})
	if err != nil {
		t.Skipf("Skipping test, database not available: %v", err)
	}
	defer db.Close()
	require.NoError(t, migrations.Up(db.DB))

	ctx := context.Background()
	store := NewPostgresStore(db)

	job := &Job{Name: "purge", Schedule: "@daily", JobType: JobTypePurgeSimulations, Config: map[string]string{"retention_days": "14"}, Enabled: true}
	require.NoError(t, store.CreateJob(ctx, job))
	defer store.DeleteJob(ctx, job.ID)

	got, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "14", got.Config["retention_days"])

	exec := &JobExecution{JobID: job.ID, Status: StatusRunning, StartedAt: time.Now().UTC()}
	require.NoError(t, store.CreateExecution(ctx, exec))
	exec.Status = StatusCompleted
	require.NoError(t, store.UpdateExecution(ctx, exec))

	execs, err := store.GetJobExecutions(ctx, job.ID, 5)
	require.NoError(t, err)
	require.Len(t, execs, 1)
	assert.Equal(t, StatusCompleted, execs[0].Status)

	_, err = store.GetJob(ctx, "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
}
