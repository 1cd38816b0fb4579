// Package versionstest provides an in-memory versions.Repository for tests.
package versionstest

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/rodworks/catalogsync/internal/versions"
)

// Repository keeps suppliers, products, versions, sources and audits in maps.
// The *Err fields inject failures into the matching method.
type Repository struct {
	Suppliers map[int64]versions.Supplier
	Products  map[string]versions.Product
	Versions  map[uuid.UUID][]versions.Version
	Sources   map[string]versions.Source
	Audits    []versions.AuditEntry
	Refreshes int

	SourceErr     error
	AuditErr      error
	RefreshErr    error
	VersionErr    error
	DeactivateErr error

	nextSupID int64
}

// New returns an empty Repository.
func New() *Repository {
	return &Repository{
		Suppliers: make(map[int64]versions.Supplier),
		Products:  make(map[string]versions.Product),
		Versions:  make(map[uuid.UUID][]versions.Version),
		Sources:   make(map[string]versions.Source),
	}
}

var _ versions.Repository = (*Repository)(nil)

// AddSupplier registers a supplier.
func (r *Repository) AddSupplier(s versions.Supplier) {
	r.Suppliers[s.ID] = s
	if s.ID > r.nextSupID {
		r.nextSupID = s.ID
	}
}

// Product returns the product stored for (supplierID, sku).
func (r *Repository) Product(supplierID int64, sku string) (versions.Product, bool) {
	p, ok := r.Products[productKey(supplierID, sku)]
	return p, ok
}

// ProductByID looks a product up by id.
func (r *Repository) ProductByID(id uuid.UUID) (versions.Product, bool) {
	_, p, ok := r.productByID(id)
	return p, ok
}

func productKey(supplierID int64, sku string) string {
	return fmt.Sprintf("%d/%s", supplierID, sku)
}

func (r *Repository) productByID(id uuid.UUID) (string, versions.Product, bool) {
	for key, p := range r.Products {
		if p.ID == id {
			return key, p, true
		}
	}
	return "", versions.Product{}, false
}

func (r *Repository) FindSupplierByID(ctx context.Context, id int64) (versions.Supplier, error) {
	s, ok := r.Suppliers[id]
	if !ok {
		return versions.Supplier{}, versions.ErrSupplierNotFound
	}
	return s, nil
}

func (r *Repository) FindSupplierBySlug(ctx context.Context, slug string) (versions.Supplier, error) {
	for _, s := range r.Suppliers {
		if s.Slug == slug {
			return s, nil
		}
	}
	return versions.Supplier{}, versions.ErrSupplierNotFound
}

func (r *Repository) EnsureSupplier(ctx context.Context, slug, name string) (versions.Supplier, error) {
	if s, err := r.FindSupplierBySlug(ctx, slug); err == nil {
		return s, nil
	}
	r.nextSupID++
	s := versions.Supplier{ID: r.nextSupID, Slug: slug, Name: name}
	r.Suppliers[s.ID] = s
	return s, nil
}

func (r *Repository) EnsureProduct(ctx context.Context, p versions.Product) (versions.Product, bool, error) {
	key := productKey(p.SupplierID, p.SKU)
	if existing, ok := r.Products[key]; ok {
		return existing, false, nil
	}
	r.Products[key] = p
	return p, true, nil
}

func (r *Repository) RefreshProductDisplay(ctx context.Context, id uuid.UUID, title, partType string, readiness map[string]any) error {
	r.Refreshes++
	if r.RefreshErr != nil {
		return r.RefreshErr
	}
	key, p, ok := r.productByID(id)
	if !ok {
		return errors.New("versionstest: product missing")
	}
	p.Title, p.PartType, p.Active = title, partType, true
	if readiness != nil {
		p.Readiness = readiness
	}
	r.Products[key] = p
	return nil
}

func (r *Repository) SetLatestVersion(ctx context.Context, productID, versionID uuid.UUID) error {
	key, p, ok := r.productByID(productID)
	if !ok {
		return errors.New("versionstest: product missing")
	}
	id := versionID
	p.LatestVersionID = &id
	r.Products[key] = p
	return nil
}

func (r *Repository) DeactivateProducts(ctx context.Context, supplierID int64, skus []string) (int64, error) {
	if r.DeactivateErr != nil {
		return 0, r.DeactivateErr
	}
	var n int64
	for _, sku := range skus {
		key := productKey(supplierID, sku)
		p, ok := r.Products[key]
		if !ok {
			continue
		}
		out := versions.AvailabilityOutOfStock
		p.Active = false
		p.Availability = &out
		r.Products[key] = p
		n++
	}
	return n, nil
}

func (r *Repository) ListLatest(ctx context.Context, supplierID int64) ([]versions.LatestVersion, error) {
	var out []versions.LatestVersion
	for _, p := range r.Products {
		if p.SupplierID != supplierID || !p.Active {
			continue
		}
		item := versions.LatestVersion{Product: p}
		for _, v := range r.Versions[p.ID] {
			if p.LatestVersionID != nil && v.ID == *p.LatestVersionID {
				v := v
				item.Version = &v
			}
		}
		out = append(out, item)
	}
	return out, nil
}

func (r *Repository) EnsureVersion(ctx context.Context, v versions.Version) (versions.Version, bool, error) {
	if r.VersionErr != nil {
		return versions.Version{}, false, r.VersionErr
	}
	for _, existing := range r.Versions[v.ProductID] {
		if existing.ContentHash == v.ContentHash {
			return existing, false, nil
		}
	}
	r.Versions[v.ProductID] = append(r.Versions[v.ProductID], v)
	return v, true, nil
}

func (r *Repository) UpsertSource(ctx context.Context, src versions.Source) error {
	if r.SourceErr != nil {
		return r.SourceErr
	}
	key := fmt.Sprintf("%d/%s", src.SupplierID, src.URL)
	if existing, ok := r.Sources[key]; ok {
		existing.ProductID = src.ProductID
		existing.SeenAt = src.SeenAt
		r.Sources[key] = existing
		return nil
	}
	r.Sources[key] = src
	return nil
}

func (r *Repository) LastReadinessHash(ctx context.Context, productID uuid.UUID) (string, bool, error) {
	for i := len(r.Audits) - 1; i >= 0; i-- {
		if r.Audits[i].ProductID == productID {
			return r.Audits[i].ReadinessHash, true, nil
		}
	}
	return "", false, nil
}

func (r *Repository) InsertAudit(ctx context.Context, entry versions.AuditEntry) error {
	if r.AuditErr != nil {
		return r.AuditErr
	}
	r.Audits = append(r.Audits, entry)
	return nil
}
