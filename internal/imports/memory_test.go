package imports

import (
	"context"
	"maps"
	"slices"
	"time"

	"github.com/rodworks/catalogsync/internal/catalog"
	"github.com/rodworks/catalogsync/internal/versions"
	"github.com/rodworks/catalogsync/internal/versions/versionstest"
)

type memoryRepo struct {
	runs       map[int64]ImportRun
	items      map[int64][]RunItem
	staging    []StagingRecord
	lastSync   map[int64]RunStatus
	versions   *versionstest.Repository
	nextRunID  int64
	nextItemID int64
	insertErr  error
	stagingErr error
	txCount    int
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		runs:     make(map[int64]ImportRun),
		items:    make(map[int64][]RunItem),
		lastSync: make(map[int64]RunStatus),
		versions: versionstest.New(),
	}
}

// WithTx restores runs and items when fn fails. Canonical writes are not
// rolled back.
func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.txCount++
	runs := make(map[int64]ImportRun, len(r.runs))
	for id, run := range r.runs {
		run.Summary = maps.Clone(run.Summary)
		runs[id] = run
	}
	items := make(map[int64][]RunItem, len(r.items))
	for id, list := range r.items {
		items[id] = slices.Clone(list)
	}
	lastSync := maps.Clone(r.lastSync)
	nextRunID, nextItemID := r.nextRunID, r.nextItemID
	if err := fn(ctx, r); err != nil {
		r.runs, r.items, r.lastSync = runs, items, lastSync
		r.nextRunID, r.nextItemID = nextRunID, nextItemID
		return err
	}
	return nil
}

func (r *memoryRepo) Versions() versions.Repository {
	return r.versions
}

func (r *memoryRepo) GetRun(ctx context.Context, id int64) (ImportRun, error) {
	run, ok := r.runs[id]
	if !ok {
		return ImportRun{}, ErrRunNotFound
	}
	run.Summary = maps.Clone(run.Summary)
	return run, nil
}

func (r *memoryRepo) ListRuns(ctx context.Context, filters RunFilters) ([]ImportRun, int, error) {
	var out []ImportRun
	for _, run := range r.runs {
		if filters.Status != "" && run.Status != filters.Status {
			continue
		}
		if filters.Supplier != "" && run.SupplierSlug != filters.Supplier {
			continue
		}
		out = append(out, run)
	}
	slices.SortFunc(out, func(a, b ImportRun) int { return int(b.ID - a.ID) })
	return out, len(out), nil
}

func (r *memoryRepo) ListItems(ctx context.Context, runID int64, filters ItemFilters) ([]RunItem, int, error) {
	var out []RunItem
	for _, item := range r.items[runID] {
		if filters.Kind != "" && item.Kind != filters.Kind {
			continue
		}
		out = append(out, item)
	}
	return out, len(out), nil
}

func (r *memoryRepo) SetItemResolution(ctx context.Context, runID, itemID int64, resolution *Resolution) error {
	for i, item := range r.items[runID] {
		if item.ID == itemID {
			r.items[runID][i].Resolution = resolution
			return nil
		}
	}
	return ErrItemNotFound
}

func (r *memoryRepo) MergeSummary(ctx context.Context, runID int64, patch map[string]any) error {
	run, ok := r.runs[runID]
	if !ok {
		return ErrRunNotFound
	}
	if run.Summary == nil {
		run.Summary = map[string]any{}
	}
	maps.Copy(run.Summary, patch)
	r.runs[runID] = run
	return nil
}

func (r *memoryRepo) UpdateStatus(ctx context.Context, runID int64, status RunStatus, finishedAt *time.Time) error {
	run, ok := r.runs[runID]
	if !ok {
		return ErrRunNotFound
	}
	run.Status = status
	if finishedAt != nil {
		run.FinishedAt = finishedAt
	}
	r.runs[runID] = run
	return nil
}

func (r *memoryRepo) ListStaging(ctx context.Context, supplierID int64) ([]StagingRecord, error) {
	if r.stagingErr != nil {
		return nil, r.stagingErr
	}
	var out []StagingRecord
	for _, rec := range r.staging {
		if rec.SupplierID == supplierID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (r *memoryRepo) CreateRun(ctx context.Context, run ImportRun) (ImportRun, error) {
	r.nextRunID++
	run.ID = r.nextRunID
	if run.Summary == nil {
		run.Summary = map[string]any{}
	}
	r.runs[run.ID] = run
	return run, nil
}

func (r *memoryRepo) CompleteDiff(ctx context.Context, runID int64, supplierID *int64, totals catalog.Summary, patch map[string]any, finishedAt time.Time) error {
	run, ok := r.runs[runID]
	if !ok || run.Status != RunStatusDiffing {
		return ErrRunNotDiffed
	}
	run.Status = RunStatusDiffed
	if supplierID != nil {
		run.SupplierID = supplierID
	}
	run.Totals = totals
	run.FinishedAt = &finishedAt
	maps.Copy(run.Summary, patch)
	r.runs[runID] = run
	return nil
}

func (r *memoryRepo) InsertItems(ctx context.Context, runID int64, diffs []catalog.Diff) error {
	if r.insertErr != nil {
		return r.insertErr
	}
	for i, d := range diffs {
		r.nextItemID++
		r.items[runID] = append(r.items[runID], RunItem{
			ID:            r.nextItemID,
			RunID:         runID,
			Position:      i,
			Kind:          d.Kind,
			ProductCode:   d.ProductCode,
			Category:      d.Category,
			Family:        d.Family,
			Before:        d.Before,
			After:         d.After,
			ChangedFields: d.ChangedFields,
		})
	}
	return nil
}

func (r *memoryRepo) LockRun(ctx context.Context, id int64) (ImportRun, error) {
	return r.GetRun(ctx, id)
}

func (r *memoryRepo) ListRunItems(ctx context.Context, runID int64) ([]RunItem, error) {
	return slices.Clone(r.items[runID]), nil
}

func (r *memoryRepo) FindStaging(ctx context.Context, supplierID int64, codes []string) (map[string]StagingRecord, error) {
	out := make(map[string]StagingRecord)
	for _, rec := range r.staging {
		if rec.SupplierID == supplierID && slices.Contains(codes, rec.ExternalID) {
			out[rec.ExternalID] = rec
		}
	}
	return out, nil
}

func (r *memoryRepo) TransitionApplied(ctx context.Context, runID int64, status RunStatus, finishedAt time.Time) error {
	run, ok := r.runs[runID]
	if !ok {
		return ErrRunNotFound
	}
	if run.Status != RunStatusDiffed {
		return ErrRunAlreadyApplied
	}
	run.Status = status
	run.FinishedAt = &finishedAt
	r.runs[runID] = run
	return nil
}

func (r *memoryRepo) UpdateSupplierLastSync(ctx context.Context, supplierID int64, status RunStatus, at time.Time, runID int64) error {
	r.lastSync[supplierID] = status
	return nil
}
