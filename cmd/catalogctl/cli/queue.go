package cli

import (
	"context"
	"errors"

	"github.com/hibiken/asynq"

	"github.com/rodworks/catalogsync/jobs"
)

// QueueStats summarises the state of one queue.
type QueueStats struct {
	Queue     string `json:"queue"`
	Pending   int    `json:"pending"`
	Active    int    `json:"active"`
	Scheduled int    `json:"scheduled"`
	Retry     int    `json:"retry"`
}

var _ QueueInspector = (*JobsCLI)(nil)

// JobsCLI wraps the Asynq inspector for the queue command.
type JobsCLI struct {
	inspector *asynq.Inspector
}

// NewJobsCLI initialises the helper for the given Redis connection.
func NewJobsCLI(redis asynq.RedisClientOpt) *JobsCLI {
	return &JobsCLI{inspector: asynq.NewInspector(redis)}
}

// Close releases underlying resources.
func (c *JobsCLI) Close() error {
	if c == nil || c.inspector == nil {
		return nil
	}
	return c.inspector.Close()
}

// QueueStats reports the critical and default queues. A queue that has never
// received a task reports zeros.
func (c *JobsCLI) QueueStats(ctx context.Context) ([]QueueStats, error) {
	if c == nil || c.inspector == nil {
		return nil, errors.New("jobs cli: inspector not configured")
	}
	out := make([]QueueStats, 0, 2)
	for _, queue := range []string{jobs.QueueCritical, jobs.QueueDefault} {
		info, err := c.inspector.GetQueueInfo(queue)
		if errors.Is(err, asynq.ErrQueueNotFound) {
			out = append(out, QueueStats{Queue: queue})
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, QueueStats{
			Queue:     queue,
			Pending:   info.Pending,
			Active:    info.Active,
			Scheduled: info.Scheduled,
			Retry:     info.Retry,
		})
	}
	return out, nil
}
