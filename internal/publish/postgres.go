package publish

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rodworks/catalogsync/internal/catalog"
	"github.com/rodworks/catalogsync/internal/imports"
)

var _ Repository = (*PGRepository)(nil)

// PGRepository reads approved items and sessions from Postgres. Run reads and
// summary writes go through the imports repository.
type PGRepository struct {
	pool *pgxpool.Pool
	runs imports.Repository
}

// NewPGRepository constructs the Postgres backed repository.
func NewPGRepository(pool *pgxpool.Pool, runs imports.Repository) *PGRepository {
	return &PGRepository{pool: pool, runs: runs}
}

func (r *PGRepository) GetRun(ctx context.Context, runID int64) (imports.ImportRun, error) {
	return r.runs.GetRun(ctx, runID)
}

func (r *PGRepository) MergeSummary(ctx context.Context, runID int64, patch map[string]any) error {
	return r.runs.MergeSummary(ctx, runID, patch)
}

func (r *PGRepository) ApprovedItems(ctx context.Context, run imports.ImportRun) ([]Item, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT i.id, i.kind, i.product_code, i.category, i.before, i.after,
		       p.id, p.title, p.active, v.description, v.images, v.normalized_payload, v.price_msrp::float8
		FROM import_run_items i
		LEFT JOIN catalog_products p ON p.supplier_id = $2 AND p.sku = i.product_code
		LEFT JOIN catalog_product_versions v ON v.id = p.latest_version_id
		WHERE i.run_id = $1 AND i.resolution = 'approve'
		ORDER BY i.position`, run.ID, run.SupplierID)
	if err != nil {
		return nil, fmt.Errorf("publish: approved items: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var (
			id             int64
			kind           string
			code, category string
			before, after  *catalog.Snapshot
			canon          canonicalRow
		)
		if err := rows.Scan(&id, &kind, &code, &category, &before, &after,
			&canon.ProductID, &canon.Title, &canon.Active, &canon.Description, &canon.Images,
			&canon.Payload, &canon.PriceMSRP); err != nil {
			return nil, err
		}
		items = append(items, buildItem(id, catalog.Kind(kind), code, category, run.SupplierSlug, before, after, canon))
	}
	return items, rows.Err()
}

func (r *PGRepository) FindSession(ctx context.Context, shop string) (Session, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT shop, access_token FROM publish_sessions
		WHERE lower(shop) = lower($1)
		ORDER BY created_at DESC LIMIT 1`, strings.TrimSpace(shop))
	return scanSession(row)
}

func (r *PGRepository) LastSession(ctx context.Context, supplierID int64) (Session, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT shop, access_token FROM publish_sessions
		WHERE supplier_id = $1
		ORDER BY created_at DESC LIMIT 1`, supplierID)
	return scanSession(row)
}

func (r *PGRepository) CountSkipMarkers(ctx context.Context, runID int64) (map[string]int, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT reason, COUNT(*) FROM publish_skip_markers
		WHERE run_id = $1 GROUP BY reason`, runID)
	if err != nil {
		return nil, fmt.Errorf("publish: count skip markers: %w", err)
	}
	defer rows.Close()
	out := make(map[string]int)
	for rows.Next() {
		var (
			reason string
			count  int
		)
		if err := rows.Scan(&reason, &count); err != nil {
			return nil, err
		}
		out[reason] = count
	}
	return out, rows.Err()
}

func scanSession(row pgx.Row) (Session, error) {
	var s Session
	if err := row.Scan(&s.Shop, &s.AccessToken); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Session{}, ErrSessionNotFound
		}
		return Session{}, err
	}
	return s, nil
}
