package versions

import (
	"context"

	"github.com/google/uuid"
)

// Repository is the storage contract of the version store. Ensure* methods
// create-if-absent atomically and report whether a row was created.
type Repository interface {
	FindSupplierByID(ctx context.Context, id int64) (Supplier, error)
	FindSupplierBySlug(ctx context.Context, slug string) (Supplier, error)
	EnsureSupplier(ctx context.Context, slug, name string) (Supplier, error)

	EnsureProduct(ctx context.Context, p Product) (Product, bool, error)
	RefreshProductDisplay(ctx context.Context, id uuid.UUID, title, partType string, readiness map[string]any) error
	SetLatestVersion(ctx context.Context, productID, versionID uuid.UUID) error
	DeactivateProducts(ctx context.Context, supplierID int64, skus []string) (int64, error)
	ListLatest(ctx context.Context, supplierID int64) ([]LatestVersion, error)

	EnsureVersion(ctx context.Context, v Version) (Version, bool, error)

	UpsertSource(ctx context.Context, src Source) error
	LastReadinessHash(ctx context.Context, productID uuid.UUID) (string, bool, error)
	InsertAudit(ctx context.Context, entry AuditEntry) error
}
