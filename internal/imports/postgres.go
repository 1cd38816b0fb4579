package imports

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rodworks/catalogsync/internal/catalog"
	"github.com/rodworks/catalogsync/internal/platform/db"
	"github.com/rodworks/catalogsync/internal/shared"
	"github.com/rodworks/catalogsync/internal/versions"
)

const runColumns = `id, supplier_slug, supplier_id, status, started_at, finished_at, adds, changes, deletes, summary`

const itemColumns = `id, run_id, position, kind, product_code, category, family, before, after, changed_fields, resolution`

// Ensure implementation
var _ Repository = (*pgRepository)(nil)
var _ TxRepository = (*pgTxRepository)(nil)

type pgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the Postgres backed repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &pgRepository{pool: pool}
}

// WithTx runs fn in a read-committed transaction so that row locks taken by
// LockRun observe the latest committed status once acquired.
func (r *pgRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTxOptions(ctx, r.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		return fn(ctx, &pgTxRepository{conn: tx})
	})
}

func (r *pgRepository) Versions() versions.Repository {
	return versions.NewPGRepository(r.pool)
}

func (r *pgRepository) GetRun(ctx context.Context, id int64) (ImportRun, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM import_runs WHERE id = $1`, id)
	return scanRun(row)
}

func (r *pgRepository) ListRuns(ctx context.Context, filters RunFilters) ([]ImportRun, int, error) {
	var (
		where []string
		args  []any
	)
	if filters.Status != "" {
		args = append(args, string(filters.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if filters.Supplier != "" {
		args = append(args, filters.Supplier)
		where = append(where, fmt.Sprintf("supplier_slug = $%d", len(args)))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM import_runs`+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit, offset := pageWindow(filters.Page, filters.PerPage)
	args = append(args, limit, offset)
	query := fmt.Sprintf(`SELECT %s FROM import_runs%s ORDER BY started_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		runColumns, clause, len(args)-1, len(args))
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var runs []ImportRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, 0, err
		}
		runs = append(runs, run)
	}
	return runs, total, rows.Err()
}

func (r *pgRepository) ListItems(ctx context.Context, runID int64, filters ItemFilters) ([]RunItem, int, error) {
	args := []any{runID}
	clause := " WHERE run_id = $1"
	if filters.Kind != "" {
		args = append(args, string(filters.Kind))
		clause += " AND kind = $2"
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM import_run_items`+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit, offset := pageWindow(filters.Page, filters.PerPage)
	args = append(args, limit, offset)
	query := fmt.Sprintf(`SELECT %s FROM import_run_items%s ORDER BY position LIMIT $%d OFFSET $%d`,
		itemColumns, clause, len(args)-1, len(args))
	items, err := queryItems(ctx, r.pool, query, args...)
	return items, total, err
}

func (r *pgRepository) SetItemResolution(ctx context.Context, runID, itemID int64, resolution *Resolution) error {
	var value *string
	if resolution != nil {
		s := string(*resolution)
		value = &s
	}
	tag, err := r.pool.Exec(ctx, `UPDATE import_run_items SET resolution = $3 WHERE run_id = $1 AND id = $2`, runID, itemID, value)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrItemNotFound
	}
	return nil
}

func (r *pgRepository) MergeSummary(ctx context.Context, runID int64, patch map[string]any) error {
	return mergeSummary(ctx, r.pool, runID, patch)
}

func (r *pgRepository) UpdateStatus(ctx context.Context, runID int64, status RunStatus, finishedAt *time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE import_runs SET status = $2, finished_at = COALESCE($3, finished_at) WHERE id = $1
	`, runID, string(status), finishedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRunNotFound
	}
	return nil
}

func (r *pgRepository) ListStaging(ctx context.Context, supplierID int64) ([]StagingRecord, error) {
	rows, err := r.pool.Query(ctx, stagingSelect+` WHERE supplier_id = $1 ORDER BY id`, supplierID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []StagingRecord
	for rows.Next() {
		rec, err := scanStaging(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type pgTxRepository struct {
	conn db.DBTX
}

func (t *pgTxRepository) Versions() versions.Repository {
	return versions.NewPGRepository(t.conn)
}

func (t *pgTxRepository) CreateRun(ctx context.Context, run ImportRun) (ImportRun, error) {
	summary := run.Summary
	if summary == nil {
		summary = map[string]any{}
	}
	row := t.conn.QueryRow(ctx, `
		INSERT INTO import_runs (supplier_slug, supplier_id, status, started_at, finished_at, adds, changes, deletes, summary)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+runColumns,
		run.SupplierSlug, run.SupplierID, string(run.Status), run.StartedAt, run.FinishedAt,
		run.Totals.Adds, run.Totals.Changes, run.Totals.Deletes, summary,
	)
	created, err := scanRun(row)
	if db.IsUniqueViolation(err) {
		return ImportRun{}, fmt.Errorf("%w: supplier %s", ErrRunInProgress, run.SupplierSlug)
	}
	return created, err
}

func (t *pgTxRepository) CompleteDiff(ctx context.Context, runID int64, supplierID *int64, totals catalog.Summary, patch map[string]any, finishedAt time.Time) error {
	if patch == nil {
		patch = map[string]any{}
	}
	tag, err := t.conn.Exec(ctx, `
		UPDATE import_runs
		SET status = 'diffed', supplier_id = COALESCE($2, supplier_id),
		    adds = $3, changes = $4, deletes = $5,
		    summary = summary || $6::jsonb, finished_at = $7
		WHERE id = $1 AND status = 'diffing'
	`, runID, supplierID, totals.Adds, totals.Changes, totals.Deletes, patch, finishedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRunNotDiffed
	}
	return nil
}

func (t *pgTxRepository) InsertItems(ctx context.Context, runID int64, diffs []catalog.Diff) error {
	if len(diffs) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for i, d := range diffs {
		var changed any
		if d.ChangedFields != nil {
			changed = d.ChangedFields
		}
		batch.Queue(`
			INSERT INTO import_run_items (run_id, position, kind, product_code, category, family, before, after, changed_fields)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, runID, i, string(d.Kind), d.ProductCode, d.Category, d.Family, d.Before, d.After, changed)
	}
	results := t.conn.SendBatch(ctx, batch)
	for i := range diffs {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return fmt.Errorf("imports: insert item %s: %w", diffs[i].ProductCode, err)
		}
	}
	return results.Close()
}

func (t *pgTxRepository) LockRun(ctx context.Context, id int64) (ImportRun, error) {
	row := t.conn.QueryRow(ctx, `SELECT `+runColumns+` FROM import_runs WHERE id = $1 FOR UPDATE`, id)
	return scanRun(row)
}

func (t *pgTxRepository) ListRunItems(ctx context.Context, runID int64) ([]RunItem, error) {
	return queryItems(ctx, t.conn, `SELECT `+itemColumns+` FROM import_run_items WHERE run_id = $1 ORDER BY position`, runID)
}

func (t *pgTxRepository) FindStaging(ctx context.Context, supplierID int64, codes []string) (map[string]StagingRecord, error) {
	out := make(map[string]StagingRecord, len(codes))
	if len(codes) == 0 {
		return out, nil
	}
	rows, err := t.conn.Query(ctx, stagingSelect+` WHERE supplier_id = $1 AND external_id = ANY($2)`, supplierID, codes)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		rec, err := scanStaging(rows)
		if err != nil {
			return nil, err
		}
		out[rec.ExternalID] = rec
	}
	return out, rows.Err()
}

func (t *pgTxRepository) MergeSummary(ctx context.Context, runID int64, patch map[string]any) error {
	return mergeSummary(ctx, t.conn, runID, patch)
}

func (t *pgTxRepository) TransitionApplied(ctx context.Context, runID int64, status RunStatus, finishedAt time.Time) error {
	tag, err := t.conn.Exec(ctx, `
		UPDATE import_runs SET status = $2, finished_at = $3 WHERE id = $1 AND status = 'diffed'
	`, runID, string(status), finishedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRunAlreadyApplied
	}
	return nil
}

func (t *pgTxRepository) UpdateSupplierLastSync(ctx context.Context, supplierID int64, status RunStatus, at time.Time, runID int64) error {
	_, err := t.conn.Exec(ctx, `
		UPDATE catalog_suppliers
		SET last_sync_status = $2, last_sync_at = $3, last_sync_run_id = $4, updated_at = NOW()
		WHERE id = $1
	`, supplierID, string(status), at, runID)
	return err
}

func mergeSummary(ctx context.Context, conn db.DBTX, runID int64, patch map[string]any) error {
	if len(patch) == 0 {
		return nil
	}
	tag, err := conn.Exec(ctx, `UPDATE import_runs SET summary = summary || $2::jsonb WHERE id = $1`, runID, patch)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRunNotFound
	}
	return nil
}

func scanRun(row pgx.Row) (ImportRun, error) {
	var (
		run    ImportRun
		status string
	)
	err := row.Scan(&run.ID, &run.SupplierSlug, &run.SupplierID, &status, &run.StartedAt, &run.FinishedAt,
		&run.Totals.Adds, &run.Totals.Changes, &run.Totals.Deletes, &run.Summary)
	if errors.Is(err, pgx.ErrNoRows) {
		return ImportRun{}, ErrRunNotFound
	}
	if err != nil {
		return ImportRun{}, err
	}
	run.Status = RunStatus(status)
	if run.Summary == nil {
		run.Summary = map[string]any{}
	}
	return run, nil
}

func queryItems(ctx context.Context, conn db.DBTX, query string, args ...any) ([]RunItem, error) {
	rows, err := conn.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []RunItem
	for rows.Next() {
		var (
			item       RunItem
			kind       string
			resolution *string
		)
		if err := rows.Scan(&item.ID, &item.RunID, &item.Position, &kind, &item.ProductCode, &item.Category,
			&item.Family, &item.Before, &item.After, &item.ChangedFields, &resolution); err != nil {
			return nil, err
		}
		item.Kind = catalog.Kind(kind)
		if resolution != nil {
			res := Resolution(*resolution)
			item.Resolution = &res
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

const stagingSelect = `
	SELECT supplier_id, external_id, title, part_type, raw_specs, norm_specs, normalized,
	       price_msrp::float8, price_wholesale::float8, availability, images, url, description, fetched_at
	FROM staging_products`

func scanStaging(row pgx.Row) (StagingRecord, error) {
	var rec StagingRecord
	err := row.Scan(&rec.SupplierID, &rec.ExternalID, &rec.Title, &rec.PartType, &rec.RawSpecs, &rec.NormSpecs,
		&rec.Normalized, &rec.PriceMSRP, &rec.PriceWholesale, &rec.Availability, &rec.Images, &rec.URL,
		&rec.Description, &rec.FetchedAt)
	return rec, err
}

func pageWindow(page, perPage int) (int, int) {
	p := shared.NewPagination(page, perPage, 0)
	return p.PerPage, p.Offset()
}
