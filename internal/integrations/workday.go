package integrations

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/compliscope/compliscope/internal/kv"
)

const (
	workdayConfigKey  = "workday_config"
	workdayHistoryKey = "workday_sync_history"

	// MaxSyncHistory bounds the stored Workday sync records.
	MaxSyncHistory = 50
)

type WorkdayConfig struct {
	TenantURL     string   `json:"tenantUrl"`
	SyncFrequency string   `json:"syncFrequency"`
	Modules       []string `json:"modules"`
	Enabled       bool     `json:"enabled"`
}

func (c WorkdayConfig) Validate() error {
	if c.TenantURL == "" {
		return fmt.Errorf("%w: tenant url is required", ErrInvalidConfig)
	}
	switch c.SyncFrequency {
	case "hourly", "daily", "weekly":
	default:
		return fmt.Errorf("%w: unsupported sync frequency %q", ErrInvalidConfig, c.SyncFrequency)
	}
	return nil
}

type SyncRecord struct {
	UserID          string    `json:"userId"`
	SyncedAt        time.Time `json:"syncedAt"`
	Status          Status    `json:"status"`
	RecordsScanned  int       `json:"recordsScanned"`
	ViolationsFound int       `json:"violationsFound"`
}

// WorkdayStore persists the Workday configuration and its sync history.
type WorkdayStore struct {
	config  *kv.JSON[WorkdayConfig]
	history *kv.JSON[[]SyncRecord]
	logger  *slog.Logger
	mu      sync.Mutex
}

func NewWorkdayStore(repo kv.Repository, logger *slog.Logger) *WorkdayStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &WorkdayStore{
		config:  kv.NewJSON[WorkdayConfig](repo, workdayConfigKey),
		history: kv.NewJSON[[]SyncRecord](repo, workdayHistoryKey),
		logger:  logger,
	}
}

// Config returns the saved configuration, or the defaults when none is saved.
func (s *WorkdayStore) Config(ctx context.Context) (WorkdayConfig, error) {
	cfg, ok, err := s.config.Load(ctx)
	if err != nil {
		return WorkdayConfig{}, err
	}
	if !ok {
		return WorkdayConfig{SyncFrequency: "daily", Modules: []string{"workers"}}, nil
	}
	return cfg, nil
}

func (s *WorkdayStore) SaveConfig(ctx context.Context, cfg WorkdayConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	return s.config.Save(ctx, cfg)
}

// RecordSync prepends rec to the history, keeping at most MaxSyncHistory.
func (s *WorkdayStore) RecordSync(ctx context.Context, rec SyncRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	history, _, err := s.history.Load(ctx)
	if err != nil {
		return err
	}
	history = append([]SyncRecord{rec}, history...)
	if len(history) > MaxSyncHistory {
		history = history[:MaxSyncHistory]
	}
	return s.history.Save(ctx, history)
}

// SyncHistory returns the stored records, newest first.
func (s *WorkdayStore) SyncHistory(ctx context.Context) ([]SyncRecord, error) {
	history, _, err := s.history.Load(ctx)
	if err != nil {
		return nil, err
	}
	if history == nil {
		history = []SyncRecord{}
	}
	return history, nil
}

// Hook records every Workday scan as a sync.
func (s *WorkdayStore) Hook() ScanHook {
	return func(ctx context.Context, userID string, data ScanData, status Status) {
		rec := SyncRecord{
			UserID:          userID,
			SyncedAt:        data.ScannedAt,
			Status:          status,
			RecordsScanned:  data.ItemsScanned,
			ViolationsFound: data.ViolationsFound,
		}
		if err := s.RecordSync(ctx, rec); err != nil {
			s.logger.Error("failed to record workday sync", "user_id", userID, "error", err)
		}
	}
}
