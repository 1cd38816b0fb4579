package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/rodworks/catalogsync/internal/imports"
	jobmetrics "github.com/rodworks/catalogsync/internal/jobs"
	"github.com/rodworks/catalogsync/jobs"
)

// Job processes catalog:publish tasks.
type Job struct {
	service *Service
	metrics *jobmetrics.Metrics
	logger  *slog.Logger
}

// NewJob constructs a publish job handler.
func NewJob(service *Service, metrics *jobmetrics.Metrics, logger *slog.Logger) *Job {
	if logger == nil {
		logger = slog.Default()
	}
	return &Job{service: service, metrics: metrics, logger: logger.With(slog.String("job", jobs.TaskCatalogPublish))}
}

// Handle fulfils the asynq.HandlerFunc contract.
func (j *Job) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.service == nil {
		return fmt.Errorf("publish job not configured")
	}
	var payload jobs.PublishPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.RunID <= 0 {
		return asynq.SkipRetry
	}
	tracker := j.metrics.Track(jobs.TaskCatalogPublish)
	res, err := j.service.PublishRun(ctx, payload.RunID, Options{DryRun: payload.DryRun, Shop: payload.Shop})
	if err != nil {
		_ = tracker.End(err)
		if errors.Is(err, imports.ErrRunNotFound) || errors.Is(err, ErrRunNotPublishable) {
			j.logger.Warn("publish skipped", slog.Int64("run_id", payload.RunID), slog.Any("error", err))
			return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
		}
		j.logger.Error("publish run", slog.Int64("run_id", payload.RunID), slog.Any("error", err))
		return err
	}
	if !res.DryRun && !res.Estimated {
		j.metrics.AddPublishTotal("created", res.Totals.Created)
		j.metrics.AddPublishTotal("updated", res.Totals.Updated)
		j.metrics.AddPublishTotal("skipped", res.Totals.Skipped)
		j.metrics.AddPublishTotal("failed", res.Totals.Failed)
		for _, reason := range NoopReasons {
			j.metrics.AddPublishTotal(reason, res.Detailed[reason])
		}
	}
	return tracker.End(nil)
}
