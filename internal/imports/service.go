package imports

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/rodworks/catalogsync/internal/catalog"
	"github.com/rodworks/catalogsync/internal/shared"
)

// Service exposes run persistence and the review read paths.
type Service struct {
	repo   Repository
	logger *slog.Logger
	now    func() time.Time
}

// NewService constructs a Service.
func NewService(repo Repository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger, now: time.Now}
}

// RunDetail is a run with one page of its items.
type RunDetail struct {
	Run        ImportRun         `json:"run"`
	Items      []RunItem         `json:"items"`
	Pagination shared.Pagination `json:"pagination"`
}

// RunList is one page of runs.
type RunList struct {
	Runs       []ImportRun       `json:"runs"`
	Pagination shared.Pagination `json:"pagination"`
}

// SaveRunDiff records a finished diff: the run row and one item per diff,
// all or nothing.
func (s *Service) SaveRunDiff(ctx context.Context, supplier SupplierRef, diffs []catalog.Diff, status RunStatus, summary map[string]any) (ImportRun, catalog.Summary, error) {
	if strings.TrimSpace(supplier.Slug) == "" {
		return ImportRun{}, catalog.Summary{}, fmt.Errorf("%w: supplier slug required", ErrInvalidInput)
	}
	if status == "" {
		status = RunStatusDiffed
	}
	if !status.Valid() {
		return ImportRun{}, catalog.Summary{}, fmt.Errorf("%w: status %q", ErrInvalidInput, status)
	}
	counts := tally(diffs)
	now := s.now().UTC()

	var run ImportRun
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		created, err := tx.CreateRun(ctx, ImportRun{
			SupplierSlug: supplier.Slug,
			SupplierID:   supplier.ID,
			Status:       status,
			StartedAt:    now,
			FinishedAt:   &now,
			Totals:       counts,
			Summary:      summary,
		})
		if err != nil {
			return fmt.Errorf("imports: create run: %w", err)
		}
		if err := tx.InsertItems(ctx, created.ID, diffs); err != nil {
			return err
		}
		run = created
		return nil
	})
	if err != nil {
		return ImportRun{}, catalog.Summary{}, err
	}
	return run, counts, nil
}

// CreatePendingRun records a run in the diffing state so callers get a run id
// before the diff job executes.
func (s *Service) CreatePendingRun(ctx context.Context, supplierSlug string) (ImportRun, error) {
	supplierSlug = strings.TrimSpace(supplierSlug)
	if supplierSlug == "" {
		return ImportRun{}, fmt.Errorf("%w: supplier slug required", ErrInvalidInput)
	}
	var run ImportRun
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		created, err := tx.CreateRun(ctx, ImportRun{
			SupplierSlug: supplierSlug,
			Status:       RunStatusDiffing,
			StartedAt:    s.now().UTC(),
		})
		run = created
		return err
	})
	return run, err
}

// CompleteRunDiff stores the diff of a pending run and marks it diffed.
func (s *Service) CompleteRunDiff(ctx context.Context, runID int64, supplierID *int64, diffs []catalog.Diff, patch map[string]any) (catalog.Summary, error) {
	counts := tally(diffs)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.InsertItems(ctx, runID, diffs); err != nil {
			return err
		}
		return tx.CompleteDiff(ctx, runID, supplierID, counts, patch, s.now().UTC())
	})
	return counts, err
}

// GetRunDetail loads a run and a page of its items.
func (s *Service) GetRunDetail(ctx context.Context, runID int64, filters ItemFilters) (RunDetail, error) {
	if filters.Kind != "" && !filters.Kind.Valid() {
		return RunDetail{}, fmt.Errorf("%w: kind %q", ErrInvalidInput, filters.Kind)
	}
	run, err := s.repo.GetRun(ctx, runID)
	if err != nil {
		return RunDetail{}, err
	}
	items, total, err := s.repo.ListItems(ctx, runID, filters)
	if err != nil {
		return RunDetail{}, err
	}
	return RunDetail{
		Run:        run,
		Items:      items,
		Pagination: shared.NewPagination(filters.Page, filters.PerPage, total),
	}, nil
}

// ListRuns returns a page of runs, newest first.
func (s *Service) ListRuns(ctx context.Context, filters RunFilters) (RunList, error) {
	if filters.Status != "" && !filters.Status.Valid() {
		return RunList{}, fmt.Errorf("%w: status %q", ErrInvalidInput, filters.Status)
	}
	runs, total, err := s.repo.ListRuns(ctx, filters)
	if err != nil {
		return RunList{}, err
	}
	return RunList{Runs: runs, Pagination: shared.NewPagination(filters.Page, filters.PerPage, total)}, nil
}

// GetRun loads a run.
func (s *Service) GetRun(ctx context.Context, runID int64) (ImportRun, error) {
	return s.repo.GetRun(ctx, runID)
}

// SetItemResolution records a reviewer decision. An empty resolution clears it.
func (s *Service) SetItemResolution(ctx context.Context, runID, itemID int64, resolution string) error {
	resolution = strings.TrimSpace(strings.ToLower(resolution))
	var value *Resolution
	switch resolution {
	case "":
	case string(ResolutionApprove):
		res := ResolutionApprove
		value = &res
	default:
		return fmt.Errorf("%w: resolution %q", ErrInvalidInput, resolution)
	}
	return s.repo.SetItemResolution(ctx, runID, itemID, value)
}

// RequestCancel flags a diffing run for cooperative cancellation.
func (s *Service) RequestCancel(ctx context.Context, runID int64) error {
	run, err := s.repo.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.Status != RunStatusDiffing {
		return fmt.Errorf("%w: run %d is %s", ErrInvalidInput, runID, run.Status)
	}
	return s.repo.MergeSummary(ctx, runID, map[string]any{
		SummaryKeyCancelRequested: true,
		"cancelRequestedAt":       s.now().UTC(),
	})
}

// MarkCancelled moves a diffing run to cancelled.
func (s *Service) MarkCancelled(ctx context.Context, runID int64) error {
	now := s.now().UTC()
	return s.repo.UpdateStatus(ctx, runID, RunStatusCancelled, &now)
}

// MarkFailed moves a run to failed and records the cause in its summary.
func (s *Service) MarkFailed(ctx context.Context, runID int64, cause error) error {
	now := s.now().UTC()
	if cause != nil {
		if err := s.repo.MergeSummary(ctx, runID, map[string]any{SummaryKeyError: cause.Error()}); err != nil {
			s.logger.Warn("record run failure", slog.Int64("run_id", runID), slog.Any("error", err))
		}
	}
	return s.repo.UpdateStatus(ctx, runID, RunStatusFailed, &now)
}

func tally(diffs []catalog.Diff) catalog.Summary {
	var counts catalog.Summary
	for _, d := range diffs {
		counts.Add(d.Kind)
	}
	return counts
}
