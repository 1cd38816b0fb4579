package publish

import (
	"context"
	"log/slog"
	"time"
)

// DefaultProgressInterval is the minimum gap between two progress writes.
const DefaultProgressInterval = 500 * time.Millisecond

// progressTracker persists Progress into the run summary. Intermediate
// writes are throttled; the first and the final write always go through.
// Write failures are logged and never returned.
type progressTracker struct {
	repo      Repository
	logger    *slog.Logger
	now       func() time.Time
	interval  time.Duration
	runID     int64
	target    int
	startedAt time.Time
	lastWrite time.Time
	writes    int
}

func newProgressTracker(repo Repository, logger *slog.Logger, now func() time.Time, interval time.Duration, runID int64, target int) *progressTracker {
	return &progressTracker{
		repo:      repo,
		logger:    logger,
		now:       now,
		interval:  interval,
		runID:     runID,
		target:    target,
		startedAt: now().UTC(),
	}
}

// Update records processed items. It reports whether a write was attempted.
func (p *progressTracker) Update(ctx context.Context, processed int) bool {
	now := p.now().UTC()
	final := processed >= p.target
	if !final && p.writes > 0 && now.Sub(p.lastWrite) < p.interval {
		return false
	}
	processed = min(processed, p.target)
	p.lastWrite = now
	p.writes++
	err := p.repo.MergeSummary(ctx, p.runID, map[string]any{
		SummaryKeyProgress: Progress{Processed: processed, Target: p.target, StartedAt: p.startedAt, UpdatedAt: now},
	})
	if err != nil {
		p.logger.Warn("publish progress write", slog.Int64("run_id", p.runID), slog.Int("processed", processed), slog.Any("error", err))
	}
	return true
}
