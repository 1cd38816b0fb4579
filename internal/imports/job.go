package imports

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/rodworks/catalogsync/internal/catalog"
	jobmetrics "github.com/rodworks/catalogsync/internal/jobs"
	"github.com/rodworks/catalogsync/internal/platform/cache"
	"github.com/rodworks/catalogsync/jobs"
)

// DefaultApplyLockTTL bounds how long a crashed apply can keep a run locked.
const DefaultApplyLockTTL = 5 * time.Minute

// Locker hands out exclusive locks keyed by name.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error)
}

var _ Locker = (*cache.Locker)(nil)

// DiffJob processes catalog:diff tasks.
type DiffJob struct {
	runner  *Runner
	service *Service
	metrics *jobmetrics.Metrics
	logger  *slog.Logger
}

// NewDiffJob constructs a diff job handler.
func NewDiffJob(runner *Runner, service *Service, metrics *jobmetrics.Metrics, logger *slog.Logger) *DiffJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &DiffJob{runner: runner, service: service, metrics: metrics, logger: logger.With(slog.String("job", jobs.TaskCatalogDiff))}
}

// Handle fulfils the asynq.HandlerFunc contract.
func (j *DiffJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.runner == nil || j.service == nil {
		return fmt.Errorf("diff job not configured")
	}
	var payload jobs.DiffPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.RunID <= 0 {
		return asynq.SkipRetry
	}
	tracker := j.metrics.Track(jobs.TaskCatalogDiff)
	_, err := j.runner.Run(ctx, payload.RunID)
	switch {
	case err == nil:
		return tracker.End(nil)
	case errors.Is(err, ErrRunCancelled):
		return tracker.End(nil)
	case errors.Is(err, ErrRunNotFound), errors.Is(err, ErrRunNotDiffed):
		j.logger.Warn("diff skipped", slog.Int64("run_id", payload.RunID), slog.Any("error", err))
		_ = tracker.End(err)
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	j.logger.Error("diff run", slog.Int64("run_id", payload.RunID), slog.Any("error", err))
	if finalAttempt(ctx) {
		if markErr := j.service.MarkFailed(context.WithoutCancel(ctx), payload.RunID, err); markErr != nil {
			j.logger.Error("mark run failed", slog.Int64("run_id", payload.RunID), slog.Any("error", markErr))
		}
	}
	return tracker.End(err)
}

// ApplyJob processes catalog:apply tasks.
type ApplyJob struct {
	applier *Applier
	locker  Locker
	lockTTL time.Duration
	metrics *jobmetrics.Metrics
	logger  *slog.Logger
}

// ApplyJobConfig wires the apply job.
type ApplyJobConfig struct {
	Applier *Applier
	Locker  Locker
	LockTTL time.Duration
	Metrics *jobmetrics.Metrics
	Logger  *slog.Logger
}

// NewApplyJob constructs an apply job handler.
func NewApplyJob(cfg ApplyJobConfig) *ApplyJob {
	ttl := cfg.LockTTL
	if ttl <= 0 {
		ttl = DefaultApplyLockTTL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ApplyJob{applier: cfg.Applier, locker: cfg.Locker, lockTTL: ttl, metrics: cfg.Metrics, logger: logger.With(slog.String("job", jobs.TaskCatalogApply))}
}

// Handle fulfils the asynq.HandlerFunc contract.
func (j *ApplyJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.applier == nil {
		return fmt.Errorf("apply job not configured")
	}
	var payload jobs.ApplyPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.RunID <= 0 {
		return asynq.SkipRetry
	}
	kinds, err := ParseKinds(payload.Kinds)
	if err != nil {
		return asynq.SkipRetry
	}

	release := func(context.Context) error { return nil }
	if j.locker != nil {
		release, err = j.locker.Acquire(ctx, cache.RunApplyLockKey(payload.RunID), j.lockTTL)
		if err != nil {
			// Another worker holds the run; retry later.
			return err
		}
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			j.logger.Warn("release apply lock", slog.Int64("run_id", payload.RunID), slog.Any("error", err))
		}
	}()

	tracker := j.metrics.Track(jobs.TaskCatalogApply)
	res, err := j.applier.Apply(ctx, payload.RunID, ApplyOptions{Kinds: kinds, Actor: payload.Actor})
	if err != nil {
		_ = tracker.End(err)
		if errors.Is(err, ErrRunAlreadyApplied) || errors.Is(err, ErrRunNotDiffed) || errors.Is(err, ErrRunNotFound) {
			j.logger.Warn("apply skipped", slog.Int64("run_id", payload.RunID), slog.Any("error", err))
			return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
		}
		return err
	}
	for reason, n := range countReasons(res.Errors) {
		j.metrics.AddRowErrors(reason, n)
	}
	return tracker.End(nil)
}

// ParseKinds converts raw kind names into catalog kinds.
func ParseKinds(raw []string) ([]catalog.Kind, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make([]catalog.Kind, 0, len(raw))
	for _, v := range raw {
		k := catalog.Kind(v)
		if !k.Valid() {
			return nil, fmt.Errorf("%w: kind %q", ErrInvalidInput, v)
		}
		out = append(out, k)
	}
	return out, nil
}

func countReasons(rowErrs []RowError) map[string]int {
	out := make(map[string]int)
	for _, e := range rowErrs {
		out[e.Reason]++
	}
	return out
}

func finalAttempt(ctx context.Context) bool {
	retried, ok := asynq.GetRetryCount(ctx)
	if !ok {
		return true
	}
	maxRetry, ok := asynq.GetMaxRetry(ctx)
	if !ok {
		return true
	}
	return retried >= maxRetry
}
