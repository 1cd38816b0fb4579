package importshttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rodworks/catalogsync/internal/catalog"
	"github.com/rodworks/catalogsync/internal/imports"
	"github.com/rodworks/catalogsync/internal/versions"
	"github.com/rodworks/catalogsync/jobs"
)

// stubRepo covers the run read paths; transactional writes other than
// CreateRun panic through the nil embedded interface.
type stubRepo struct {
	imports.TxRepository
	runs      map[int64]imports.ImportRun
	items     map[int64][]imports.RunItem
	nextID    int64
	createErr error
}

func newStubRepo(runs ...imports.ImportRun) *stubRepo {
	repo := &stubRepo{runs: make(map[int64]imports.ImportRun), items: make(map[int64][]imports.RunItem)}
	for _, run := range runs {
		if run.Summary == nil {
			run.Summary = map[string]any{}
		}
		repo.runs[run.ID] = run
		repo.nextID = max(repo.nextID, run.ID)
	}
	return repo
}

func (s *stubRepo) WithTx(ctx context.Context, fn func(context.Context, imports.TxRepository) error) error {
	return fn(ctx, s)
}

func (s *stubRepo) CreateRun(ctx context.Context, run imports.ImportRun) (imports.ImportRun, error) {
	if s.createErr != nil {
		return imports.ImportRun{}, s.createErr
	}
	s.nextID++
	run.ID = s.nextID
	run.Summary = map[string]any{}
	s.runs[run.ID] = run
	return run, nil
}

func (s *stubRepo) GetRun(ctx context.Context, id int64) (imports.ImportRun, error) {
	run, ok := s.runs[id]
	if !ok {
		return imports.ImportRun{}, imports.ErrRunNotFound
	}
	return run, nil
}

func (s *stubRepo) ListRuns(ctx context.Context, filters imports.RunFilters) ([]imports.ImportRun, int, error) {
	var out []imports.ImportRun
	for _, run := range s.runs {
		if filters.Status == "" || run.Status == filters.Status {
			out = append(out, run)
		}
	}
	return out, len(out), nil
}

func (s *stubRepo) ListItems(ctx context.Context, runID int64, filters imports.ItemFilters) ([]imports.RunItem, int, error) {
	var out []imports.RunItem
	for _, item := range s.items[runID] {
		if filters.Kind == "" || item.Kind == filters.Kind {
			out = append(out, item)
		}
	}
	return out, len(out), nil
}

func (s *stubRepo) SetItemResolution(ctx context.Context, runID, itemID int64, resolution *imports.Resolution) error {
	for i, item := range s.items[runID] {
		if item.ID == itemID {
			s.items[runID][i].Resolution = resolution
			return nil
		}
	}
	return imports.ErrItemNotFound
}

func (s *stubRepo) MergeSummary(ctx context.Context, runID int64, patch map[string]any) error {
	run, ok := s.runs[runID]
	if !ok {
		return imports.ErrRunNotFound
	}
	for k, v := range patch {
		run.Summary[k] = v
	}
	s.runs[runID] = run
	return nil
}

func (s *stubRepo) UpdateStatus(ctx context.Context, runID int64, status imports.RunStatus, finishedAt *time.Time) error {
	run := s.runs[runID]
	run.Status = status
	s.runs[runID] = run
	return nil
}

func (s *stubRepo) ListStaging(ctx context.Context, supplierID int64) ([]imports.StagingRecord, error) {
	return nil, nil
}

func (s *stubRepo) Versions() versions.Repository {
	return nil
}

type stubEnqueuer struct {
	diffs     []jobs.DiffPayload
	applies   []jobs.ApplyPayload
	publishes []jobs.PublishPayload
	err       error
}

func (e *stubEnqueuer) EnqueueDiff(ctx context.Context, payload jobs.DiffPayload) (*asynq.TaskInfo, error) {
	if e.err != nil {
		return nil, e.err
	}
	e.diffs = append(e.diffs, payload)
	return &asynq.TaskInfo{ID: "diff-task"}, nil
}

func (e *stubEnqueuer) EnqueueApply(ctx context.Context, payload jobs.ApplyPayload) (*asynq.TaskInfo, error) {
	if e.err != nil {
		return nil, e.err
	}
	e.applies = append(e.applies, payload)
	return &asynq.TaskInfo{ID: "apply-task"}, nil
}

func (e *stubEnqueuer) EnqueuePublish(ctx context.Context, payload jobs.PublishPayload) (*asynq.TaskInfo, error) {
	if e.err != nil {
		return nil, e.err
	}
	e.publishes = append(e.publishes, payload)
	return &asynq.TaskInfo{ID: "publish-task"}, nil
}

func newTestRouter(repo *stubRepo, enq *stubEnqueuer) http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewHandler(logger, imports.NewService(repo, logger), enq)
	r := chi.NewRouter()
	h.MountRoutes(r)
	return r
}

func do(t *testing.T, router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func diffedRun() imports.ImportRun {
	return imports.ImportRun{ID: 7, SupplierSlug: "pacbay", Status: imports.RunStatusDiffed, Totals: catalog.Summary{Adds: 1}}
}

func TestTriggerSyncCreatesRunAndEnqueuesDiff(t *testing.T) {
	repo := newStubRepo()
	enq := &stubEnqueuer{}
	rr := do(t, newTestRouter(repo, enq), http.MethodPost, "/api/suppliers/pacbay/sync", "")

	require.Equal(t, http.StatusAccepted, rr.Code)
	var body queuedResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "diff-task", body.TaskID)
	assert.Equal(t, "diffing", body.Status)
	assert.Equal(t, []jobs.DiffPayload{{RunID: body.RunID}}, enq.diffs)
	assert.Equal(t, "pacbay", repo.runs[body.RunID].SupplierSlug)
}

func TestTriggerSyncMarksRunFailedWhenQueueDown(t *testing.T) {
	repo := newStubRepo()
	enq := &stubEnqueuer{err: errors.New("dial tcp: connection refused")}
	rr := do(t, newTestRouter(repo, enq), http.MethodPost, "/api/suppliers/pacbay/sync", "")

	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Equal(t, imports.RunStatusFailed, repo.runs[1].Status)
}

func TestTriggerSyncConflictsWhileDiffing(t *testing.T) {
	repo := newStubRepo()
	repo.createErr = fmt.Errorf("%w: supplier pacbay", imports.ErrRunInProgress)
	enq := &stubEnqueuer{}
	rr := do(t, newTestRouter(repo, enq), http.MethodPost, "/api/suppliers/pacbay/sync", "")

	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Contains(t, rr.Body.String(), "Run In Progress")
	assert.Empty(t, enq.diffs)
}

func TestApplyRunValidatesAndEnqueues(t *testing.T) {
	repo := newStubRepo(diffedRun())
	enq := &stubEnqueuer{}
	router := newTestRouter(repo, enq)

	rr := do(t, router, http.MethodPost, "/api/runs/7/apply", `{"kinds":["rename"]}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/problem+json")

	rr = do(t, router, http.MethodPost, "/api/runs/7/apply", `{"kinds":["add","delete"],"actor":"ops"}`)
	require.Equal(t, http.StatusAccepted, rr.Code)
	assert.Equal(t, []jobs.ApplyPayload{{RunID: 7, Kinds: []string{"add", "delete"}, Actor: "ops"}}, enq.applies)

	enq.err = asynq.ErrTaskIDConflict
	rr = do(t, router, http.MethodPost, "/api/runs/7/apply", "")
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestApplyRunRejectsAppliedAndUnknownRuns(t *testing.T) {
	applied := diffedRun()
	applied.Status = imports.RunStatusApplied
	router := newTestRouter(newStubRepo(applied), &stubEnqueuer{})

	rr := do(t, router, http.MethodPost, "/api/runs/7/apply", "")
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = do(t, router, http.MethodPost, "/api/runs/99/apply", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = do(t, router, http.MethodPost, "/api/runs/abc/apply", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestPublishRunEnqueuesDryRun(t *testing.T) {
	enq := &stubEnqueuer{}
	router := newTestRouter(newStubRepo(diffedRun()), enq)

	rr := do(t, router, http.MethodPost, "/api/runs/7/publish", `{"dry_run":true,"shop":"rods.myshopify.com"}`)
	require.Equal(t, http.StatusAccepted, rr.Code)
	assert.Equal(t, []jobs.PublishPayload{{RunID: 7, DryRun: true, Shop: "rods.myshopify.com"}}, enq.publishes)

	rr = do(t, router, http.MethodPost, "/api/runs/7/publish", `{"shop":"not a host"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, router, http.MethodPost, "/api/runs/7/publish", `{"unknown":1}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestShowRunAndList(t *testing.T) {
	repo := newStubRepo(diffedRun())
	repo.items[7] = []imports.RunItem{
		{ID: 1, RunID: 7, Kind: catalog.KindAdd, ProductCode: "A"},
		{ID: 2, RunID: 7, Kind: catalog.KindDelete, ProductCode: "B"},
	}
	router := newTestRouter(repo, &stubEnqueuer{})

	rr := do(t, router, http.MethodGet, "/api/runs/7?kind=add", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var detail imports.RunDetail
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &detail))
	require.Len(t, detail.Items, 1)
	assert.Equal(t, "A", detail.Items[0].ProductCode)
	assert.Equal(t, 1, detail.Pagination.Total)

	rr = do(t, router, http.MethodGet, "/api/runs/7?kind=rename", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, router, http.MethodGet, "/api/runs?status=diffed", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var list imports.RunList
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	assert.Len(t, list.Runs, 1)

	rr = do(t, router, http.MethodGet, "/api/runs?status=bogus", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestResolveItem(t *testing.T) {
	repo := newStubRepo(diffedRun())
	repo.items[7] = []imports.RunItem{{ID: 1, RunID: 7, Kind: catalog.KindAdd, ProductCode: "A"}}
	router := newTestRouter(repo, &stubEnqueuer{})

	rr := do(t, router, http.MethodPut, "/api/runs/7/items/1/resolution", `{"resolution":"approve"}`)
	require.Equal(t, http.StatusNoContent, rr.Code)
	require.NotNil(t, repo.items[7][0].Resolution)
	assert.Equal(t, imports.ResolutionApprove, *repo.items[7][0].Resolution)

	rr = do(t, router, http.MethodPut, "/api/runs/7/items/1/resolution", `{"resolution":""}`)
	require.Equal(t, http.StatusNoContent, rr.Code)
	assert.Nil(t, repo.items[7][0].Resolution)

	rr = do(t, router, http.MethodPut, "/api/runs/7/items/1/resolution", `{"resolution":"reject"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, router, http.MethodPut, "/api/runs/7/items/9/resolution", `{"resolution":"approve"}`)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestCancelRun(t *testing.T) {
	pending := imports.ImportRun{ID: 3, SupplierSlug: "pacbay", Status: imports.RunStatusDiffing}
	repo := newStubRepo(pending, diffedRun())
	router := newTestRouter(repo, &stubEnqueuer{})

	rr := do(t, router, http.MethodPost, "/api/runs/3/cancel", "")
	require.Equal(t, http.StatusAccepted, rr.Code)
	assert.True(t, repo.runs[3].CancelRequested())

	rr = do(t, router, http.MethodPost, "/api/runs/7/cancel", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
