package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rodworks/catalogsync/internal/catalog"
	"github.com/rodworks/catalogsync/internal/imports"
)

// ServiceConfig wires the publish service. DefaultSession is used when no
// shop override resolves.
type ServiceConfig struct {
	Repository       Repository
	Platform         Platform
	DefaultSession   Session
	ProgressInterval time.Duration
	Logger           *slog.Logger
}

// Service publishes approved run items.
type Service struct {
	repo     Repository
	platform Platform
	fallback Session
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// NewService constructs a Service.
func NewService(cfg ServiceConfig) *Service {
	interval := cfg.ProgressInterval
	if interval <= 0 {
		interval = DefaultProgressInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:     cfg.Repository,
		platform: cfg.Platform,
		fallback: cfg.DefaultSession,
		interval: interval,
		logger:   logger,
		now:      time.Now,
	}
}

// PublishRun pushes the approved items of runID. Without a resolvable
// destination the dry-run estimate is returned with Estimated set.
func (s *Service) PublishRun(ctx context.Context, runID int64, opts Options) (Result, error) {
	run, err := s.repo.GetRun(ctx, runID)
	if err != nil {
		return Result{}, err
	}
	switch run.Status {
	case imports.RunStatusDiffed, imports.RunStatusApplied, imports.RunStatusAppliedWithWarnings:
	default:
		return Result{}, fmt.Errorf("%w: run %d is %s", ErrRunNotPublishable, runID, run.Status)
	}

	items, err := s.repo.ApprovedItems(ctx, run)
	if err != nil {
		return Result{}, err
	}
	target := len(items)
	progress := newProgressTracker(s.repo, s.logger, s.now, s.interval, runID, target)
	progress.Update(ctx, 0)

	if opts.DryRun {
		res := s.estimate(runID, items)
		res.DryRun = true
		return s.finish(ctx, progress, res), nil
	}

	session, ok, err := s.resolveSession(ctx, run, opts.Shop)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		s.logger.Info("publish destination unavailable, returning estimate", slog.Int64("run_id", runID), slog.String("supplier", run.SupplierSlug))
		return s.finish(ctx, progress, s.estimate(runID, items)), nil
	}

	res := Result{RunID: runID, Shop: session.Shop, Target: target, Detailed: emptyDetailed(), ProductIDs: []string{}}
	if target == 0 {
		return s.finish(ctx, progress, res), nil
	}

	results, err := s.platform.UpsertBatch(ctx, BatchRequest{
		RunID:   runID,
		Session: session,
		Items:   items,
		OnProgress: func(processed int) {
			progress.Update(ctx, processed)
		},
	})
	if err != nil {
		return Result{}, fmt.Errorf("publish: upsert batch: %w", err)
	}

	var created, rawUpdated, failed int
	for _, r := range results {
		switch {
		case r.Action == ActionFailed || r.Error != "":
			failed++
			continue
		case r.Action == ActionCreated:
			created++
		case r.Action == ActionUpdated:
			rawUpdated++
		}
		if r.ProductID != "" {
			res.ProductIDs = append(res.ProductIDs, r.ProductID)
		}
	}

	markers, err := s.repo.CountSkipMarkers(ctx, runID)
	if err != nil {
		return Result{}, err
	}
	noops := 0
	for _, reason := range NoopReasons {
		res.Detailed[reason] = markers[reason]
		noops += markers[reason]
	}
	res.Totals = reconcile(target, created, rawUpdated, failed, noops)
	res.Detailed["raw_updated"] = rawUpdated
	return s.finish(ctx, progress, res), nil
}

// reconcile adjusts the raw platform counts for no-op upserts. Skipped is
// computed from the raw counts so no-ops are not counted twice.
func reconcile(target, created, rawUpdated, failed, noops int) Totals {
	return Totals{
		Created: created,
		Updated: max(0, rawUpdated-noops),
		Skipped: max(0, target-(created+rawUpdated+failed)),
		Failed:  failed,
	}
}

// estimate classifies items by diff kind only.
func (s *Service) estimate(runID int64, items []Item) Result {
	res := Result{RunID: runID, Estimated: true, Target: len(items), Detailed: emptyDetailed(), ProductIDs: []string{}}
	for _, item := range items {
		if item.Kind == catalog.KindAdd {
			res.Totals.Created++
		} else {
			res.Totals.Updated++
		}
	}
	return res
}

func (s *Service) resolveSession(ctx context.Context, run imports.ImportRun, shop string) (Session, bool, error) {
	if shop != "" {
		session, err := s.repo.FindSession(ctx, shop)
		switch {
		case err == nil && session.Valid():
			return session, true, nil
		case err != nil && !errors.Is(err, ErrSessionNotFound):
			return Session{}, false, err
		}
		s.logger.Warn("no session for requested shop", slog.String("shop", shop), slog.Int64("run_id", run.ID))
	}
	if s.fallback.Valid() {
		return s.fallback, true, nil
	}
	if run.SupplierID != nil {
		session, err := s.repo.LastSession(ctx, *run.SupplierID)
		switch {
		case err == nil && session.Valid():
			return session, true, nil
		case err != nil && !errors.Is(err, ErrSessionNotFound):
			return Session{}, false, err
		}
	}
	return Session{}, false, nil
}

func (s *Service) finish(ctx context.Context, progress *progressTracker, res Result) Result {
	progress.Update(ctx, res.Target)
	res.CompletedAt = s.now().UTC()
	if err := s.repo.MergeSummary(ctx, res.RunID, map[string]any{SummaryKeyPublish: res}); err != nil {
		s.logger.Warn("publish summary write", slog.Int64("run_id", res.RunID), slog.Any("error", err))
	}
	s.logger.Info("run published",
		slog.Int64("run_id", res.RunID),
		slog.Bool("dry_run", res.DryRun),
		slog.Bool("estimated", res.Estimated),
		slog.Int("created", res.Totals.Created),
		slog.Int("updated", res.Totals.Updated),
		slog.Int("skipped", res.Totals.Skipped),
		slog.Int("failed", res.Totals.Failed),
	)
	return res
}

func emptyDetailed() map[string]int {
	out := make(map[string]int, len(NoopReasons))
	for _, reason := range NoopReasons {
		out[reason] = 0
	}
	return out
}
