package versions

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/rodworks/catalogsync/internal/platform/db"
)

// PGRepository is the Postgres implementation of Repository.
type PGRepository struct {
	conn db.DBTX
}

// NewPGRepository binds the repository to a pool or transaction.
func NewPGRepository(conn db.DBTX) *PGRepository {
	return &PGRepository{conn: conn}
}

var _ Repository = (*PGRepository)(nil)

// FindSupplierByID loads a supplier.
func (r *PGRepository) FindSupplierByID(ctx context.Context, id int64) (Supplier, error) {
	var s Supplier
	err := r.conn.QueryRow(ctx, `SELECT id, slug, name FROM catalog_suppliers WHERE id = $1`, id).Scan(&s.ID, &s.Slug, &s.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return Supplier{}, ErrSupplierNotFound
	}
	return s, err
}

// FindSupplierBySlug loads a supplier by slug.
func (r *PGRepository) FindSupplierBySlug(ctx context.Context, slug string) (Supplier, error) {
	var s Supplier
	err := r.conn.QueryRow(ctx, `SELECT id, slug, name FROM catalog_suppliers WHERE slug = $1`, slug).Scan(&s.ID, &s.Slug, &s.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return Supplier{}, ErrSupplierNotFound
	}
	return s, err
}

// EnsureSupplier creates the supplier when its slug is unknown.
func (r *PGRepository) EnsureSupplier(ctx context.Context, slug, name string) (Supplier, error) {
	query := `
		INSERT INTO catalog_suppliers (slug, name, created_at, updated_at)
		VALUES ($1, $2, NOW(), NOW())
		ON CONFLICT (slug) DO UPDATE SET slug = EXCLUDED.slug
		RETURNING id, slug, name
	`
	var s Supplier
	err := r.conn.QueryRow(ctx, query, slug, name).Scan(&s.ID, &s.Slug, &s.Name)
	return s, err
}

// EnsureProduct inserts p unless (supplier_id, sku) exists, returning the
// stored row and whether it was created.
func (r *PGRepository) EnsureProduct(ctx context.Context, p Product) (Product, bool, error) {
	query := `
		INSERT INTO catalog_products (
			id, supplier_id, sku, active, title, part_type, availability, readiness, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
		ON CONFLICT (supplier_id, sku) DO UPDATE SET sku = EXCLUDED.sku
		RETURNING id, supplier_id, sku, latest_version_id, active, title, part_type,
		          availability, readiness, created_at, updated_at, (xmax = 0) AS inserted
	`
	var out Product
	var inserted bool
	err := r.conn.QueryRow(ctx, query,
		p.ID, p.SupplierID, p.SKU, p.Active, p.Title, p.PartType, p.Availability, p.Readiness,
	).Scan(
		&out.ID, &out.SupplierID, &out.SKU, &out.LatestVersionID, &out.Active, &out.Title, &out.PartType,
		&out.Availability, &out.Readiness, &out.CreatedAt, &out.UpdatedAt, &inserted,
	)
	if err != nil {
		return Product{}, false, err
	}
	return out, inserted, nil
}

// RefreshProductDisplay updates display fields and reactivates the product.
// It runs in a savepoint so a failure leaves the caller's transaction intact.
func (r *PGRepository) RefreshProductDisplay(ctx context.Context, id uuid.UUID, title, partType string, readiness map[string]any) error {
	return db.Savepoint(ctx, r.conn, func(conn db.DBTX) error {
		_, err := conn.Exec(ctx, `
			UPDATE catalog_products
			SET title = $2, part_type = $3, readiness = COALESCE($4, readiness), active = TRUE, updated_at = NOW()
			WHERE id = $1
		`, id, title, partType, readiness)
		return err
	})
}

// SetLatestVersion repoints the product to versionID.
func (r *PGRepository) SetLatestVersion(ctx context.Context, productID, versionID uuid.UUID) error {
	tag, err := r.conn.Exec(ctx, `
		UPDATE catalog_products SET latest_version_id = $2, updated_at = NOW() WHERE id = $1
	`, productID, versionID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// DeactivateProducts marks the listed skus inactive and out of stock.
func (r *PGRepository) DeactivateProducts(ctx context.Context, supplierID int64, skus []string) (int64, error) {
	if len(skus) == 0 {
		return 0, nil
	}
	tag, err := r.conn.Exec(ctx, `
		UPDATE catalog_products
		SET active = FALSE, availability = $3, updated_at = NOW()
		WHERE supplier_id = $1 AND sku = ANY($2)
	`, supplierID, skus, AvailabilityOutOfStock)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ListLatest returns active products of a supplier with their latest version.
func (r *PGRepository) ListLatest(ctx context.Context, supplierID int64) ([]LatestVersion, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT p.id, p.supplier_id, p.sku, p.latest_version_id, p.active, p.title, p.part_type,
		       p.availability, p.readiness, p.created_at, p.updated_at,
		       v.id, v.content_hash, v.normalized_payload, v.price_msrp::float8, v.price_wholesale::float8,
		       v.availability, v.fetched_at
		FROM catalog_products p
		LEFT JOIN catalog_product_versions v ON v.id = p.latest_version_id
		WHERE p.supplier_id = $1 AND p.active
		ORDER BY p.sku
	`, supplierID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LatestVersion
	for rows.Next() {
		var (
			p            Product
			versionID    *uuid.UUID
			hash         *string
			payload      map[string]any
			msrp         *float64
			wholesale    *float64
			availability *string
			fetchedAt    *time.Time
		)
		if err := rows.Scan(
			&p.ID, &p.SupplierID, &p.SKU, &p.LatestVersionID, &p.Active, &p.Title, &p.PartType,
			&p.Availability, &p.Readiness, &p.CreatedAt, &p.UpdatedAt,
			&versionID, &hash, &payload, &msrp, &wholesale, &availability, &fetchedAt,
		); err != nil {
			return nil, err
		}
		item := LatestVersion{Product: p}
		if versionID != nil {
			v := &Version{
				ID:                *versionID,
				ProductID:         p.ID,
				NormalizedPayload: payload,
				PriceMSRP:         msrp,
				PriceWholesale:    wholesale,
				Availability:      availability,
			}
			if hash != nil {
				v.ContentHash = *hash
			}
			if fetchedAt != nil {
				v.FetchedAt = *fetchedAt
			}
			item.Version = v
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// EnsureVersion inserts v unless (product_id, content_hash) exists and
// returns the stored version.
func (r *PGRepository) EnsureVersion(ctx context.Context, v Version) (Version, bool, error) {
	query := `
		INSERT INTO catalog_product_versions (
			id, product_id, content_hash, normalized_payload, description, images,
			price_msrp, price_wholesale, availability, fetched_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
		ON CONFLICT (product_id, content_hash) DO UPDATE SET content_hash = EXCLUDED.content_hash
		RETURNING id, created_at, (xmax = 0) AS inserted
	`
	images := v.Images
	if images == nil {
		images = []string{}
	}
	var inserted bool
	out := v
	err := r.conn.QueryRow(ctx, query,
		v.ID, v.ProductID, v.ContentHash, v.NormalizedPayload, v.Description, images,
		v.PriceMSRP, v.PriceWholesale, v.Availability, v.FetchedAt,
	).Scan(&out.ID, &out.CreatedAt, &inserted)
	if err != nil {
		return Version{}, false, err
	}
	return out, inserted, nil
}

// UpsertSource records a provenance URL, bumping last_seen_at on repeats.
func (r *PGRepository) UpsertSource(ctx context.Context, src Source) error {
	return db.Savepoint(ctx, r.conn, func(conn db.DBTX) error {
		_, err := conn.Exec(ctx, `
			INSERT INTO catalog_product_sources (supplier_id, url, product_id, first_seen_at, last_seen_at)
			VALUES ($1, $2, $3, $4, $4)
			ON CONFLICT (supplier_id, url) DO UPDATE
			SET product_id = EXCLUDED.product_id, last_seen_at = EXCLUDED.last_seen_at
		`, src.SupplierID, src.URL, src.ProductID, src.SeenAt)
		return err
	})
}

// LastReadinessHash returns the readiness hash of the newest audit row.
func (r *PGRepository) LastReadinessHash(ctx context.Context, productID uuid.UUID) (string, bool, error) {
	var hash string
	err := r.conn.QueryRow(ctx, `
		SELECT readiness_hash FROM catalog_product_audits
		WHERE product_id = $1
		ORDER BY occurred_at DESC, id DESC
		LIMIT 1
	`, productID).Scan(&hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return hash, true, nil
}

// InsertAudit appends an audit row inside a savepoint.
func (r *PGRepository) InsertAudit(ctx context.Context, entry AuditEntry) error {
	return db.Savepoint(ctx, r.conn, func(conn db.DBTX) error {
		_, err := conn.Exec(ctx, `
			INSERT INTO catalog_product_audits (product_id, version_id, action, content_hash, readiness_hash, readiness, occurred_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, entry.ProductID, entry.VersionID, entry.Action, entry.ContentHash, entry.ReadinessHash, entry.Readiness, entry.At)
		return err
	})
}
