package imports

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"time"

	"github.com/rodworks/catalogsync/internal/catalog"
	"github.com/rodworks/catalogsync/internal/versions"
)

// Applier commits the diffs of a run into the canonical catalog.
type Applier struct {
	repo   Repository
	store  *versions.Store
	mapper *versions.Mapper
	logger *slog.Logger
	now    func() time.Time
}

// NewApplier constructs an Applier. store is rebound to the apply transaction
// on every call.
func NewApplier(repo Repository, store *versions.Store, mapper *versions.Mapper, logger *slog.Logger) *Applier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Applier{repo: repo, store: store, mapper: mapper, logger: logger, now: time.Now}
}

type upsertCandidate struct {
	item   RunItem
	record versions.CategoryRecord
}

// Apply commits the selected kinds of run runID. Row level problems are
// collected into the result; database failures abort without changing the
// run status.
func (a *Applier) Apply(ctx context.Context, runID int64, opts ApplyOptions) (ApplyResult, error) {
	kinds, err := selectedKinds(opts.Kinds)
	if err != nil {
		return ApplyResult{}, err
	}
	actor := strings.TrimSpace(opts.Actor)
	if actor == "" {
		actor = "system"
	}

	var result ApplyResult
	err = a.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		run, err := tx.LockRun(ctx, runID)
		if err != nil {
			return err
		}
		if run.Status.Applied() {
			return ErrRunAlreadyApplied
		}
		if run.Status != RunStatusDiffed {
			return fmt.Errorf("%w: run %d is %s", ErrRunNotDiffed, runID, run.Status)
		}

		vrepo := tx.Versions()
		supplier, err := resolveRunSupplier(ctx, vrepo, run)
		if err != nil {
			return err
		}
		items, err := tx.ListRunItems(ctx, runID)
		if err != nil {
			return fmt.Errorf("imports: load items: %w", err)
		}

		res := ApplyResult{RunID: runID, Counts: make(map[catalog.Kind]KindCounts), Errors: []RowError{}}
		var upserts []RunItem
		var deletes []string
		for _, item := range items {
			if _, ok := kinds[item.Kind]; !ok {
				continue
			}
			counts := res.Counts[item.Kind]
			counts.Attempted++
			res.Counts[item.Kind] = counts
			if item.Kind == catalog.KindDelete {
				deletes = append(deletes, item.ProductCode)
				continue
			}
			upserts = append(upserts, item)
		}

		candidates, rowErrors, err := a.resolveCandidates(ctx, tx, supplier.ID, upserts)
		if err != nil {
			return err
		}
		res.Errors = append(res.Errors, rowErrors...)

		records := make([]versions.CategoryRecord, 0, len(candidates))
		for _, c := range candidates {
			records = append(records, c.record)
		}
		if _, err := a.store.WithRepository(vrepo).UpsertBatch(ctx, supplier, records); err != nil {
			return fmt.Errorf("imports: apply batch: %w", err)
		}
		for _, c := range candidates {
			counts := res.Counts[c.item.Kind]
			counts.Applied++
			res.Counts[c.item.Kind] = counts
		}

		if len(deletes) > 0 {
			n, err := vrepo.DeactivateProducts(ctx, supplier.ID, deletes)
			if err != nil {
				return fmt.Errorf("imports: deactivate products: %w", err)
			}
			res.Deactivated = n
			counts := res.Counts[catalog.KindDelete]
			counts.Applied = int(n)
			res.Counts[catalog.KindDelete] = counts
		}

		res.Status = RunStatusApplied
		if len(res.Errors) > 0 {
			res.Status = RunStatusAppliedWithWarnings
		}
		now := a.now().UTC()
		if err := tx.MergeSummary(ctx, runID, map[string]any{SummaryKeyApply: applySummary(res, actor, now)}); err != nil {
			return fmt.Errorf("imports: record apply summary: %w", err)
		}
		if err := tx.TransitionApplied(ctx, runID, res.Status, now); err != nil {
			return err
		}
		if err := tx.UpdateSupplierLastSync(ctx, supplier.ID, res.Status, now, runID); err != nil {
			return fmt.Errorf("imports: update supplier last sync: %w", err)
		}
		result = res
		return nil
	})
	if err != nil {
		return ApplyResult{}, err
	}

	for _, rowErr := range result.Errors {
		a.logger.Warn("apply row skipped",
			slog.Int64("run_id", runID),
			slog.String("code", rowErr.Code),
			slog.String("reason", rowErr.Reason),
		)
	}
	a.logger.Info("run applied", slog.Int64("run_id", runID), slog.String("status", string(result.Status)), slog.Int("errors", len(result.Errors)))
	return result, nil
}

// resolveCandidates pairs upsert items with their staging rows and parses
// the normalized payloads.
func (a *Applier) resolveCandidates(ctx context.Context, tx TxRepository, supplierID int64, items []RunItem) ([]upsertCandidate, []RowError, error) {
	if len(items) == 0 {
		return nil, nil, nil
	}
	codes := make([]string, 0, len(items))
	for _, item := range items {
		codes = append(codes, item.ProductCode)
	}
	staged, err := tx.FindStaging(ctx, supplierID, codes)
	if err != nil {
		return nil, nil, fmt.Errorf("imports: load staging: %w", err)
	}

	var (
		out     []upsertCandidate
		rowErrs []RowError
	)
	for _, item := range items {
		rec, ok := staged[item.ProductCode]
		if !ok {
			rowErrs = append(rowErrs, RowError{Code: item.ProductCode, Kind: item.Kind, Reason: ReasonMissingStaging})
			continue
		}
		category := item.Category
		if category == "" || category == catalog.UnknownCategory {
			category = rec.PartType
		}
		record, err := a.mapper.Parse(category, rec.Normalized)
		if err != nil {
			rowErrs = append(rowErrs, RowError{Code: item.ProductCode, Kind: item.Kind, Reason: ReasonInvalidNormalized, Detail: err.Error()})
			continue
		}
		enrichFromStaging(&record, rec)
		out = append(out, upsertCandidate{item: item, record: record})
	}
	return out, rowErrs, nil
}

// enrichFromStaging fills fields the normalized payload left out from the
// staging columns.
func enrichFromStaging(record *versions.CategoryRecord, rec StagingRecord) {
	if len(record.Specs) == 0 && len(rec.NormSpecs) > 0 {
		record.Specs = maps.Clone(rec.NormSpecs)
	}
	if record.Title == record.SKU && strings.TrimSpace(rec.Title) != "" {
		record.Title = strings.TrimSpace(rec.Title)
	}
	if record.PriceMSRP == nil {
		record.PriceMSRP = rec.PriceMSRP
	}
	if record.PriceWholesale == nil {
		record.PriceWholesale = rec.PriceWholesale
	}
	if record.Availability == nil {
		record.Availability = rec.Availability
	}
	if record.Description == nil {
		record.Description = rec.Description
	}
	if len(record.Images) == 0 {
		record.Images = rec.Images
	}
	if record.SourceURL == "" && rec.URL != nil {
		record.SourceURL = *rec.URL
	}
	record.FetchedAt = rec.FetchedAt
}

func resolveRunSupplier(ctx context.Context, vrepo versions.Repository, run ImportRun) (versions.Supplier, error) {
	if run.SupplierID != nil {
		supplier, err := vrepo.FindSupplierByID(ctx, *run.SupplierID)
		if err == nil {
			return supplier, nil
		}
		if !errors.Is(err, versions.ErrSupplierNotFound) {
			return versions.Supplier{}, fmt.Errorf("imports: load supplier: %w", err)
		}
	}
	supplier, err := vrepo.FindSupplierBySlug(ctx, run.SupplierSlug)
	if err == nil {
		return supplier, nil
	}
	if !errors.Is(err, versions.ErrSupplierNotFound) {
		return versions.Supplier{}, fmt.Errorf("imports: load supplier: %w", err)
	}
	slug := versions.Slugify(run.SupplierSlug)
	if slug == "" {
		return versions.Supplier{}, fmt.Errorf("%w: run %d has no supplier", ErrInvalidInput, run.ID)
	}
	return vrepo.EnsureSupplier(ctx, slug, run.SupplierSlug)
}

func selectedKinds(kinds []catalog.Kind) (map[catalog.Kind]struct{}, error) {
	if len(kinds) == 0 {
		kinds = catalog.AllKinds
	}
	out := make(map[catalog.Kind]struct{}, len(kinds))
	for _, k := range kinds {
		if !k.Valid() {
			return nil, fmt.Errorf("%w: kind %q", ErrInvalidInput, k)
		}
		out[k] = struct{}{}
	}
	return out, nil
}

func applySummary(res ApplyResult, actor string, at time.Time) map[string]any {
	attempted := make(map[string]int, len(res.Counts))
	applied := make(map[string]int, len(res.Counts))
	for kind, c := range res.Counts {
		attempted[string(kind)] = c.Attempted
		applied[string(kind)] = c.Applied
	}
	return map[string]any{
		"appliedAt":   at,
		"actor":       actor,
		"attempted":   attempted,
		"applied":     applied,
		"deactivated": res.Deactivated,
		"errors":      res.Errors,
	}
}
