package imports

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/rodworks/catalogsync/internal/catalog"
	"github.com/rodworks/catalogsync/internal/versions"
)

// DefaultChunkSize is the number of staging records converted between two
// cancellation checks.
const DefaultChunkSize = 500

// RunnerConfig wires the diff runner.
type RunnerConfig struct {
	Service    *Service
	Repository Repository
	Mapper     *versions.Mapper
	ChunkSize  int
	Logger     *slog.Logger
}

// Runner computes the staging-versus-canonical diff of a pending run.
type Runner struct {
	service   *Service
	repo      Repository
	mapper    *versions.Mapper
	chunkSize int
	logger    *slog.Logger
}

// NewRunner constructs a Runner.
func NewRunner(cfg RunnerConfig) *Runner {
	size := cfg.ChunkSize
	if size <= 0 {
		size = DefaultChunkSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{service: cfg.Service, repo: cfg.Repository, mapper: cfg.Mapper, chunkSize: size, logger: logger}
}

// DiffSupplier creates a run for supplierSlug and computes its diff inline.
func (r *Runner) DiffSupplier(ctx context.Context, supplierSlug string) (ImportRun, error) {
	run, err := r.service.CreatePendingRun(ctx, supplierSlug)
	if err != nil {
		return ImportRun{}, err
	}
	if _, err := r.Run(ctx, run.ID); err != nil {
		if !errors.Is(err, ErrRunCancelled) {
			if markErr := r.service.MarkFailed(context.WithoutCancel(ctx), run.ID, err); markErr != nil {
				r.logger.Error("mark run failed", slog.Int64("run_id", run.ID), slog.Any("error", markErr))
			}
		}
		return run, err
	}
	return r.service.GetRun(ctx, run.ID)
}

// Run loads the supplier staging and canonical snapshots, diffs them and
// stores the result on the run. A cancel request is honoured between chunks.
func (r *Runner) Run(ctx context.Context, runID int64) (catalog.Summary, error) {
	run, err := r.repo.GetRun(ctx, runID)
	if err != nil {
		return catalog.Summary{}, err
	}
	if run.Status != RunStatusDiffing {
		return catalog.Summary{}, fmt.Errorf("%w: run %d is %s", ErrRunNotDiffed, runID, run.Status)
	}

	vrepo := r.repo.Versions()
	var supplierID *int64
	supplier, err := vrepo.FindSupplierBySlug(ctx, run.SupplierSlug)
	switch {
	case err == nil:
		id := supplier.ID
		supplierID = &id
	case errors.Is(err, versions.ErrSupplierNotFound):
		r.logger.Info("diff for unknown supplier", slog.Int64("run_id", runID), slog.String("supplier", run.SupplierSlug))
	default:
		return catalog.Summary{}, fmt.Errorf("imports: resolve supplier: %w", err)
	}

	var existing, staging []catalog.Snapshot
	if supplierID != nil {
		latest, err := vrepo.ListLatest(ctx, *supplierID)
		if err != nil {
			return catalog.Summary{}, fmt.Errorf("imports: load canonical: %w", err)
		}
		for _, lv := range latest {
			if snap, ok := SnapshotFromCanonical(run.SupplierSlug, lv); ok {
				existing = append(existing, r.categorize(snap))
			}
		}

		records, err := r.repo.ListStaging(ctx, *supplierID)
		if err != nil {
			return catalog.Summary{}, fmt.Errorf("imports: load staging: %w", err)
		}
		staging = make([]catalog.Snapshot, 0, len(records))
		for start := 0; start < len(records); start += r.chunkSize {
			if err := r.checkCancel(ctx, runID); err != nil {
				return catalog.Summary{}, err
			}
			end := min(start+r.chunkSize, len(records))
			for _, rec := range records[start:end] {
				staging = append(staging, r.categorize(SnapshotFromStaging(run.SupplierSlug, rec)))
			}
		}
	}
	if err := r.checkCancel(ctx, runID); err != nil {
		return catalog.Summary{}, err
	}

	result := catalog.ComputeDiff(existing, staging)
	counts, err := r.service.CompleteRunDiff(ctx, runID, supplierID, result.Diffs, map[string]any{
		"canonicalCount": len(existing),
		"stagingCount":   len(staging),
	})
	if err != nil {
		return catalog.Summary{}, err
	}
	r.logger.Info("run diffed",
		slog.Int64("run_id", runID),
		slog.String("supplier", run.SupplierSlug),
		slog.Int("adds", counts.Adds),
		slog.Int("changes", counts.Changes),
		slog.Int("deletes", counts.Deletes),
	)
	return counts, nil
}

func (r *Runner) checkCancel(ctx context.Context, runID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	run, err := r.repo.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if !run.CancelRequested() {
		return nil
	}
	if err := r.service.MarkCancelled(ctx, runID); err != nil {
		return fmt.Errorf("imports: mark cancelled: %w", err)
	}
	r.logger.Info("run cancelled", slog.Int64("run_id", runID))
	return ErrRunCancelled
}

func (r *Runner) categorize(snap catalog.Snapshot) catalog.Snapshot {
	if r.mapper != nil {
		snap.Category = r.mapper.Profile(snap.Category).Name
	}
	return snap
}
