package publish

import (
	"context"

	"github.com/rodworks/catalogsync/internal/imports"
)

// Repository is the storage contract of the publish engine. It only reads
// canonical state; writes are limited to the run summary.
type Repository interface {
	GetRun(ctx context.Context, runID int64) (imports.ImportRun, error)
	ApprovedItems(ctx context.Context, run imports.ImportRun) ([]Item, error)
	MergeSummary(ctx context.Context, runID int64, patch map[string]any) error
	FindSession(ctx context.Context, shop string) (Session, error)
	LastSession(ctx context.Context, supplierID int64) (Session, error)
	CountSkipMarkers(ctx context.Context, runID int64) (map[string]int, error)
}
