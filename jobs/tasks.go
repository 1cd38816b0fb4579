package jobs

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueCritical carries apply tasks, which hold run locks.
	QueueCritical = "critical"

	// TaskCatalogDiff computes the diff of a pending import run.
	TaskCatalogDiff = "catalog:diff"
	// TaskCatalogApply applies a diffed import run.
	TaskCatalogApply = "catalog:apply"
	// TaskCatalogPublish publishes the approved items of a run.
	TaskCatalogPublish = "catalog:publish"
)

// DiffPayload identifies the pending run to diff.
type DiffPayload struct {
	RunID int64 `json:"run_id"`
}

// ApplyPayload describes an apply request.
type ApplyPayload struct {
	RunID int64    `json:"run_id"`
	Kinds []string `json:"kinds,omitempty"`
	Actor string   `json:"actor,omitempty"`
}

// PublishPayload describes a publish request.
type PublishPayload struct {
	RunID  int64  `json:"run_id"`
	DryRun bool   `json:"dry_run"`
	Shop   string `json:"shop,omitempty"`
}

// NewDiffTask constructs an Asynq task for diffing a run.
func NewDiffTask(payload DiffPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskCatalogDiff, body,
		asynq.Queue(QueueDefault),
		asynq.TaskID(fmt.Sprintf("%s:%d", TaskCatalogDiff, payload.RunID)),
		asynq.MaxRetry(3),
	), nil
}

// NewApplyTask constructs an Asynq task for applying a run. The task id is
// derived from the run so a run can only be queued for apply once.
func NewApplyTask(payload ApplyPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskCatalogApply, body,
		asynq.Queue(QueueCritical),
		asynq.TaskID(fmt.Sprintf("%s:%d", TaskCatalogApply, payload.RunID)),
		asynq.MaxRetry(3),
	), nil
}

// NewPublishTask constructs an Asynq task for publishing a run.
func NewPublishTask(payload PublishPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskCatalogPublish, body, asynq.Queue(QueueDefault), asynq.MaxRetry(2)), nil
}
