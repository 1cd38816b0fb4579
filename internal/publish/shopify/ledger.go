package shopify

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rodworks/catalogsync/internal/platform/db"
)

// LedgerEntry remembers what was last published for an external id.
type LedgerEntry struct {
	Shop        string
	ExternalID  string
	ProductID   int64
	Handle      string
	PayloadHash string
	Title       string
	SpecsHash   string
	Active      bool
	PublishedAt time.Time
}

// Ledger stores publish state and skip markers.
type Ledger interface {
	Find(ctx context.Context, shop, externalID string) (LedgerEntry, bool, error)
	Save(ctx context.Context, entry LedgerEntry) error
	RecordSkip(ctx context.Context, runID int64, externalID, reason string) error
	ClearSkips(ctx context.Context, runID int64) error
}

var _ Ledger = (*PGLedger)(nil)

// PGLedger is the Postgres ledger.
type PGLedger struct {
	conn db.DBTX
}

// NewPGLedger constructs a PGLedger.
func NewPGLedger(conn db.DBTX) *PGLedger {
	return &PGLedger{conn: conn}
}

func (l *PGLedger) Find(ctx context.Context, shop, externalID string) (LedgerEntry, bool, error) {
	var (
		e         LedgerEntry
		productID string
	)
	err := l.conn.QueryRow(ctx, `
		SELECT shop, external_id, product_id, handle, payload_hash, title, specs_hash, active, published_at
		FROM publish_ledger WHERE shop = $1 AND external_id = $2`, shop, externalID).
		Scan(&e.Shop, &e.ExternalID, &productID, &e.Handle, &e.PayloadHash, &e.Title, &e.SpecsHash, &e.Active, &e.PublishedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return LedgerEntry{}, false, nil
	}
	if err != nil {
		return LedgerEntry{}, false, err
	}
	e.ProductID = parseID(productID)
	return e, true, nil
}

func (l *PGLedger) Save(ctx context.Context, e LedgerEntry) error {
	_, err := l.conn.Exec(ctx, `
		INSERT INTO publish_ledger (shop, external_id, product_id, handle, payload_hash, title, specs_hash, active, published_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (shop, external_id) DO UPDATE SET
			product_id = EXCLUDED.product_id,
			handle = EXCLUDED.handle,
			payload_hash = EXCLUDED.payload_hash,
			title = EXCLUDED.title,
			specs_hash = EXCLUDED.specs_hash,
			active = EXCLUDED.active,
			published_at = EXCLUDED.published_at`,
		e.Shop, e.ExternalID, formatID(e.ProductID), e.Handle, e.PayloadHash, e.Title, e.SpecsHash, e.Active, e.PublishedAt)
	return err
}

func (l *PGLedger) RecordSkip(ctx context.Context, runID int64, externalID, reason string) error {
	_, err := l.conn.Exec(ctx, `
		INSERT INTO publish_skip_markers (run_id, external_id, reason)
		VALUES ($1, $2, $3)
		ON CONFLICT (run_id, external_id) DO UPDATE SET reason = EXCLUDED.reason, created_at = NOW()`,
		runID, externalID, reason)
	return err
}

func (l *PGLedger) ClearSkips(ctx context.Context, runID int64) error {
	_, err := l.conn.Exec(ctx, `DELETE FROM publish_skip_markers WHERE run_id = $1`, runID)
	return err
}
