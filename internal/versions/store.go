package versions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Store implements the content-addressed upsert on top of a Repository.
type Store struct {
	repo      Repository
	annotator Annotator
	logger    *slog.Logger
	now       func() time.Time
	newID     func() uuid.UUID
}

// Option customises a Store.
type Option func(*Store)

// WithAnnotator sets the readiness annotator used when the input carries none.
func WithAnnotator(a Annotator) Option {
	return func(s *Store) { s.annotator = a }
}

// WithClock overrides the clock for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore builds a Store.
func NewStore(repo Repository, logger *slog.Logger, opts ...Option) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{repo: repo, logger: logger, now: time.Now, newID: uuid.New}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WithRepository returns a copy of s bound to repo, typically a
// transaction-scoped repository.
func (s *Store) WithRepository(repo Repository) *Store {
	clone := *s
	clone.repo = repo
	return &clone
}

// Repository exposes the underlying repository.
func (s *Store) Repository() Repository {
	return s.repo
}

// UpsertNormalizedProduct records in as the current content of its product,
// reusing an existing version when the content hash is already known.
// Supplier, product and version writes are fatal; source links, display
// refreshes and audit entries are best-effort.
func (s *Store) UpsertNormalizedProduct(ctx context.Context, in ProductInput) (UpsertResult, error) {
	in.SKU = strings.TrimSpace(in.SKU)
	if in.SKU == "" {
		return UpsertResult{}, ErrSKURequired
	}
	supplier, err := s.resolveSupplier(ctx, in)
	if err != nil {
		return UpsertResult{}, err
	}
	if in.Readiness == nil && s.annotator != nil {
		in.Readiness = s.annotator.Annotate(in)
	}
	now := s.now().UTC()
	if in.FetchedAt.IsZero() {
		in.FetchedAt = now
	}

	product, createdProduct, err := s.repo.EnsureProduct(ctx, Product{
		ID:           s.newID(),
		SupplierID:   supplier.ID,
		SKU:          in.SKU,
		Active:       true,
		Title:        in.Title,
		PartType:     in.PartType,
		Availability: in.Availability,
		Readiness:    in.Readiness,
	})
	if err != nil {
		return UpsertResult{}, fmt.Errorf("versions: ensure product %s: %w", in.SKU, err)
	}
	if !createdProduct {
		if err := s.repo.RefreshProductDisplay(ctx, product.ID, in.Title, in.PartType, in.Readiness); err != nil {
			s.logger.Warn("refresh product display", slog.String("sku", in.SKU), slog.Any("error", err))
		}
	}

	hash, err := ComputeContentHash(ContentInput{
		Title:          in.Title,
		Type:           in.PartType,
		Description:    in.Description,
		Images:         in.Images,
		Specs:          in.Specs,
		PriceMSRP:      in.PriceMSRP,
		PriceWholesale: in.PriceWholesale,
		Availability:   in.Availability,
		Readiness:      in.Readiness,
	})
	if err != nil {
		return UpsertResult{}, err
	}

	version, createdVersion, err := s.repo.EnsureVersion(ctx, Version{
		ID:                s.newID(),
		ProductID:         product.ID,
		ContentHash:       hash,
		NormalizedPayload: normalizedPayload(in),
		Description:       in.Description,
		Images:            in.Images,
		PriceMSRP:         in.PriceMSRP,
		PriceWholesale:    in.PriceWholesale,
		Availability:      in.Availability,
		FetchedAt:         in.FetchedAt,
	})
	if err != nil {
		return UpsertResult{}, fmt.Errorf("versions: ensure version %s: %w", in.SKU, err)
	}
	if product.LatestVersionID == nil || *product.LatestVersionID != version.ID {
		if err := s.repo.SetLatestVersion(ctx, product.ID, version.ID); err != nil {
			return UpsertResult{}, fmt.Errorf("versions: set latest version %s: %w", in.SKU, err)
		}
	}

	if in.SourceURL != "" {
		src := Source{SupplierID: supplier.ID, URL: in.SourceURL, ProductID: product.ID, SeenAt: now}
		if err := s.repo.UpsertSource(ctx, src); err != nil {
			s.logger.Warn("upsert product source", slog.String("sku", in.SKU), slog.String("url", in.SourceURL), slog.Any("error", err))
		}
	}

	action := AuditVersionReused
	if createdVersion {
		action = AuditVersionCreated
	}
	s.recordAudit(ctx, AuditEntry{
		ProductID:   product.ID,
		VersionID:   version.ID,
		Action:      action,
		ContentHash: hash,
		Readiness:   in.Readiness,
		At:          now,
	})

	return UpsertResult{
		ProductID:      product.ID,
		VersionID:      version.ID,
		CreatedProduct: createdProduct,
		CreatedVersion: createdVersion,
		ContentHash:    hash,
	}, nil
}

// UpsertBatch upserts records for supplier in order. The first fatal error
// aborts the batch and is returned with the results completed so far.
func (s *Store) UpsertBatch(ctx context.Context, supplier Supplier, records []CategoryRecord) ([]UpsertResult, error) {
	results := make([]UpsertResult, 0, len(records))
	for _, record := range records {
		res, err := s.UpsertNormalizedProduct(ctx, record.Input(supplier.ID, supplier.Name))
		if err != nil {
			return results, fmt.Errorf("versions: upsert %s: %w", record.SKU, err)
		}
		results = append(results, res)
	}
	return results, nil
}

func (s *Store) resolveSupplier(ctx context.Context, in ProductInput) (Supplier, error) {
	if in.SupplierID != 0 {
		supplier, err := s.repo.FindSupplierByID(ctx, in.SupplierID)
		if err == nil {
			return supplier, nil
		}
		if !errors.Is(err, ErrSupplierNotFound) || strings.TrimSpace(in.SupplierName) == "" {
			return Supplier{}, err
		}
	}
	name := strings.TrimSpace(in.SupplierName)
	slug := Slugify(name)
	if slug == "" {
		return Supplier{}, ErrSupplierRequired
	}
	supplier, err := s.repo.EnsureSupplier(ctx, slug, name)
	if err != nil {
		return Supplier{}, fmt.Errorf("versions: ensure supplier %s: %w", slug, err)
	}
	return supplier, nil
}

// recordAudit writes entry only when the readiness hash moved since the last
// audit row of the product.
func (s *Store) recordAudit(ctx context.Context, entry AuditEntry) {
	hash, err := ReadinessHash(entry.Readiness)
	if err != nil {
		s.logger.Warn("readiness hash", slog.String("product_id", entry.ProductID.String()), slog.Any("error", err))
		return
	}
	last, found, err := s.repo.LastReadinessHash(ctx, entry.ProductID)
	if err != nil {
		s.logger.Warn("load last audit", slog.String("product_id", entry.ProductID.String()), slog.Any("error", err))
		return
	}
	if found && last == hash {
		return
	}
	entry.ReadinessHash = hash
	if err := s.repo.InsertAudit(ctx, entry); err != nil {
		s.logger.Warn("insert product audit", slog.String("product_id", entry.ProductID.String()), slog.Any("error", err))
	}
}

func normalizedPayload(in ProductInput) map[string]any {
	payload := map[string]any{
		"sku":       in.SKU,
		"title":     in.Title,
		"part_type": in.PartType,
		"specs":     in.Specs,
	}
	if in.Category != "" {
		payload["category"] = in.Category
	}
	if in.Description != nil {
		payload["description"] = *in.Description
	}
	if len(in.Images) > 0 {
		payload["images"] = in.Images
	}
	if in.PriceMSRP != nil {
		payload["price_msrp"] = *in.PriceMSRP
	}
	if in.PriceWholesale != nil {
		payload["price_wholesale"] = *in.PriceWholesale
	}
	if in.Availability != nil {
		payload["availability"] = *in.Availability
	}
	if in.Readiness != nil {
		payload["readiness"] = in.Readiness
	}
	return payload
}
