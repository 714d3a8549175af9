// Package history keeps the per-user list of compliance and simulation reports.
package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/compliscope/compliscope/internal/kv"
	"github.com/compliscope/compliscope/internal/metrics"
	"github.com/compliscope/compliscope/internal/models"
)

// Key is the repository key holding the report list.
const Key = "report_history"

var (
	ErrReportNotFound = errors.New("report not found")
	// ErrDocumentConflict is returned when a document id already belongs to
	// another user.
	ErrDocumentConflict = errors.New("document id belongs to another user")
)

// Store persists reports as one ordered JSON list. Every mutation rewrites the
// whole list; mu serialises those read-modify-write cycles within the process.
type Store struct {
	doc    *kv.JSON[[]models.ComplianceReport]
	logger *slog.Logger
	mu     sync.Mutex
}

func NewStore(repo kv.Repository, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		doc:    kv.NewJSON[[]models.ComplianceReport](repo, Key),
		logger: logger,
	}
}

// AddReport appends report to the end of the list. A report whose document id
// is already stored for the same user replaces that entry in place.
func (s *Store) AddReport(ctx context.Context, report *models.ComplianceReport) error {
	return s.insert(ctx, report, false)
}

// PrependReport puts report at the front of the list, newest first. Like
// AddReport it replaces an entry with the same document id in place.
func (s *Store) PrependReport(ctx context.Context, report *models.ComplianceReport) error {
	return s.insert(ctx, report, true)
}

func (s *Store) insert(ctx context.Context, report *models.ComplianceReport, front bool) error {
	if err := report.Validate(); err != nil {
		return err
	}
	// Stored timestamps carry no monotonic reading or zone so that a report
	// reads back equal to what was written.
	report.Timestamp = report.Timestamp.UTC().Round(0)

	s.mu.Lock()
	defer s.mu.Unlock()

	reports, err := s.load(ctx)
	if err != nil {
		return err
	}

	for i := range reports {
		if reports[i].DocumentID != report.DocumentID {
			continue
		}
		if reports[i].UserID != report.UserID {
			return fmt.Errorf("%w: %s", ErrDocumentConflict, report.DocumentID)
		}
		reports[i] = *report
		return s.save(ctx, reports)
	}

	if front {
		reports = append([]models.ComplianceReport{*report}, reports...)
	} else {
		reports = append(reports, *report)
	}
	return s.save(ctx, reports)
}

// GetReportsForUser returns the user's reports in stored order.
func (s *Store) GetReportsForUser(ctx context.Context, userID string) ([]models.ComplianceReport, error) {
	reports, err := s.load(ctx)
	if err != nil {
		return nil, err
	}

	out := []models.ComplianceReport{}
	for _, r := range reports {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	return out, nil
}

// All returns every stored report, across users.
func (s *Store) All(ctx context.Context) ([]models.ComplianceReport, error) {
	return s.load(ctx)
}

func (s *Store) GetReport(ctx context.Context, userID, documentID string) (*models.ComplianceReport, error) {
	reports, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	for i := range reports {
		if reports[i].DocumentID == documentID && reports[i].UserID == userID {
			return &reports[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrReportNotFound, documentID)
}

// DeleteReport removes the report when userID owns it. It reports false, and
// leaves the list untouched, when no such report exists.
func (s *Store) DeleteReport(ctx context.Context, documentID, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reports, err := s.load(ctx)
	if err != nil {
		return false, err
	}

	idx := -1
	for i, r := range reports {
		if r.DocumentID == documentID && r.UserID == userID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false, nil
	}

	reports = append(reports[:idx], reports[idx+1:]...)
	if err := s.save(ctx, reports); err != nil {
		return false, err
	}
	return true, nil
}

// PurgeSimulations drops the simulation reports keep rejects and returns how
// many were removed. Actual reports are never touched.
func (s *Store) PurgeSimulations(ctx context.Context, keep func(models.ComplianceReport) bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reports, err := s.load(ctx)
	if err != nil {
		return 0, err
	}

	kept := reports[:0]
	removed := 0
	for _, r := range reports {
		if r.IsSimulation && !keep(r) {
			removed++
			continue
		}
		kept = append(kept, r)
	}
	if removed == 0 {
		return 0, nil
	}
	if err := s.save(ctx, kept); err != nil {
		return 0, err
	}
	return removed, nil
}

// Clear removes every stored report.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.doc.Clear(ctx); err != nil {
		s.fail("clear", err)
		return fmt.Errorf("clearing report history: %w", err)
	}
	return nil
}

func (s *Store) load(ctx context.Context) ([]models.ComplianceReport, error) {
	reports, _, err := s.doc.Load(ctx)
	if err != nil {
		s.fail("load", err)
		return nil, fmt.Errorf("loading report history: %w", err)
	}
	return reports, nil
}

func (s *Store) save(ctx context.Context, reports []models.ComplianceReport) error {
	if err := s.doc.Save(ctx, reports); err != nil {
		s.fail("save", err)
		return fmt.Errorf("saving report history: %w", err)
	}
	return nil
}

func (s *Store) fail(op string, err error) {
	metrics.PersistenceErrors.WithLabelValues(op).Inc()
	s.logger.Error("report history persistence failed", "op", op, "error", err)
}
