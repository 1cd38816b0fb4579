package jobs

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewApplyTaskCarriesPayload(t *testing.T) {
	task, err := NewApplyTask(ApplyPayload{RunID: 42, Kinds: []string{"add"}, Actor: "ops"})
	require.NoError(t, err)
	assert.Equal(t, TaskCatalogApply, task.Type())

	var payload ApplyPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	assert.Equal(t, int64(42), payload.RunID)
	assert.Equal(t, []string{"add"}, payload.Kinds)
}

func TestNewDiffAndPublishTasks(t *testing.T) {
	diff, err := NewDiffTask(DiffPayload{RunID: 7})
	require.NoError(t, err)
	assert.Equal(t, TaskCatalogDiff, diff.Type())
	assert.JSONEq(t, `{"run_id":7}`, string(diff.Payload()))

	pub, err := NewPublishTask(PublishPayload{RunID: 7, DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, TaskCatalogPublish, pub.Type())
	assert.JSONEq(t, `{"run_id":7,"dry_run":true}`, string(pub.Payload()))
}

func TestNewWorkerRequiresHandlers(t *testing.T) {
	_, err := NewWorker(WorkerConfig{RedisOpts: asynq.RedisClientOpt{Addr: "127.0.0.1:0"}})
	require.Error(t, err)

	_, err = NewWorker(WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: "127.0.0.1:0"},
		Handlers:  []TaskHandler{{Type: TaskCatalogDiff}},
	})
	require.Error(t, err, "handlers without a func are ignored")
}

func TestHealthWithoutInspectorReportsEmptyQueues(t *testing.T) {
	r := chi.NewRouter()
	NewHandler(nil, slog.New(slog.NewTextHandler(io.Discard, nil))).MountRoutes(r)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `[
		{"queue":"critical","pending":0,"active":0,"retry":0},
		{"queue":"default","pending":0,"active":0,"retry":0}
	]`, rr.Body.String())
}
