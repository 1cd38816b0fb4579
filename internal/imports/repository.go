package imports

import (
	"context"
	"time"

	"github.com/rodworks/catalogsync/internal/catalog"
	"github.com/rodworks/catalogsync/internal/versions"
)

// Repository is the read side of run persistence plus the transaction entry.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error

	GetRun(ctx context.Context, id int64) (ImportRun, error)
	ListRuns(ctx context.Context, filters RunFilters) ([]ImportRun, int, error)
	ListItems(ctx context.Context, runID int64, filters ItemFilters) ([]RunItem, int, error)
	SetItemResolution(ctx context.Context, runID, itemID int64, resolution *Resolution) error
	MergeSummary(ctx context.Context, runID int64, patch map[string]any) error
	UpdateStatus(ctx context.Context, runID int64, status RunStatus, finishedAt *time.Time) error
	ListStaging(ctx context.Context, supplierID int64) ([]StagingRecord, error)
	Versions() versions.Repository
}

// TxRepository groups the writes that must commit together.
type TxRepository interface {
	CreateRun(ctx context.Context, run ImportRun) (ImportRun, error)
	CompleteDiff(ctx context.Context, runID int64, supplierID *int64, totals catalog.Summary, patch map[string]any, finishedAt time.Time) error
	InsertItems(ctx context.Context, runID int64, diffs []catalog.Diff) error

	LockRun(ctx context.Context, id int64) (ImportRun, error)
	ListRunItems(ctx context.Context, runID int64) ([]RunItem, error)
	FindStaging(ctx context.Context, supplierID int64, codes []string) (map[string]StagingRecord, error)
	MergeSummary(ctx context.Context, runID int64, patch map[string]any) error
	TransitionApplied(ctx context.Context, runID int64, status RunStatus, finishedAt time.Time) error
	UpdateSupplierLastSync(ctx context.Context, supplierID int64, status RunStatus, at time.Time, runID int64) error

	Versions() versions.Repository
}
