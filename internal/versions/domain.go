// Package versions is the content-addressed canonical product store. Every
// distinct normalized content of a product is kept as exactly one version.
package versions

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// AvailabilityOutOfStock is written to products removed by a delete diff.
const AvailabilityOutOfStock = "OUT_OF_STOCK"

// Supplier is the owner of a catalog.
type Supplier struct {
	ID   int64
	Slug string
	Name string
}

// Product is the canonical record for one (supplier, sku).
type Product struct {
	ID              uuid.UUID
	SupplierID      int64
	SKU             string
	LatestVersionID *uuid.UUID
	Active          bool
	Title           string
	PartType        string
	Availability    *string
	Readiness       map[string]any
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Version is an immutable content snapshot of a product.
type Version struct {
	ID                uuid.UUID
	ProductID         uuid.UUID
	ContentHash       string
	NormalizedPayload map[string]any
	Description       *string
	Images            []string
	PriceMSRP         *float64
	PriceWholesale    *float64
	Availability      *string
	FetchedAt         time.Time
	CreatedAt         time.Time
}

// Source records where a product was seen.
type Source struct {
	SupplierID int64
	URL        string
	ProductID  uuid.UUID
	SeenAt     time.Time
}

// AuditEntry is written when the readiness annotation of a product changes.
type AuditEntry struct {
	ProductID     uuid.UUID
	VersionID     uuid.UUID
	Action        string
	ContentHash   string
	ReadinessHash string
	Readiness     map[string]any
	At            time.Time
}

// Audit actions.
const (
	AuditVersionCreated = "version.created"
	AuditVersionReused  = "version.reused"
)

// LatestVersion joins a product with its latest version for diffing.
type LatestVersion struct {
	Product Product
	Version *Version
}

// ProductInput is the enriched payload handed to UpsertNormalizedProduct.
type ProductInput struct {
	SupplierID     int64
	SupplierName   string
	SKU            string
	Title          string
	Category       string
	PartType       string
	Description    *string
	Images         []string
	Specs          map[string]any
	PriceMSRP      *float64
	PriceWholesale *float64
	Availability   *string
	Readiness      map[string]any
	SourceURL      string
	FetchedAt      time.Time
}

// UpsertResult reports what UpsertNormalizedProduct did.
type UpsertResult struct {
	ProductID      uuid.UUID
	VersionID      uuid.UUID
	CreatedProduct bool
	CreatedVersion bool
	ContentHash    string
}

var (
	// ErrSupplierRequired occurs when neither supplier id nor name is given.
	ErrSupplierRequired = errors.New("versions: supplier required")
	// ErrSupplierNotFound occurs when a supplier lookup misses.
	ErrSupplierNotFound = errors.New("versions: supplier not found")
	// ErrSKURequired occurs when the input carries no sku.
	ErrSKURequired = errors.New("versions: sku required")
	// ErrInvalidPayload occurs when a normalized payload fails the shape check.
	ErrInvalidPayload = errors.New("versions: invalid normalized payload")
)
