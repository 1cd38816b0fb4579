package importshttp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"

	"github.com/rodworks/catalogsync/internal/catalog"
	"github.com/rodworks/catalogsync/internal/imports"
	"github.com/rodworks/catalogsync/internal/platform/httpx"
	"github.com/rodworks/catalogsync/jobs"
)

// Enqueuer submits catalog tasks. *jobs.Client satisfies it.
type Enqueuer interface {
	EnqueueDiff(ctx context.Context, payload jobs.DiffPayload) (*asynq.TaskInfo, error)
	EnqueueApply(ctx context.Context, payload jobs.ApplyPayload) (*asynq.TaskInfo, error)
	EnqueuePublish(ctx context.Context, payload jobs.PublishPayload) (*asynq.TaskInfo, error)
}

var _ Enqueuer = (*jobs.Client)(nil)

// Handler exposes the run review API.
type Handler struct {
	logger    *slog.Logger
	service   *imports.Service
	jobs      Enqueuer
	validator *validator.Validate
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, service *imports.Service, jobsClient Enqueuer) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, jobs: jobsClient, validator: validator.New()}
}

// MountRoutes registers routes under /api.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Post("/suppliers/{slug}/sync", h.triggerSync)
		r.Get("/runs", h.listRuns)
		r.Route("/runs/{id}", func(r chi.Router) {
			r.Get("/", h.showRun)
			r.Post("/apply", h.applyRun)
			r.Post("/publish", h.publishRun)
			r.Post("/cancel", h.cancelRun)
			r.Put("/items/{itemID}/resolution", h.resolveItem)
		})
	})
}

var problems = []httpx.Mapping{
	{Err: imports.ErrRunNotFound, Status: http.StatusNotFound, Title: "Run Not Found"},
	{Err: imports.ErrItemNotFound, Status: http.StatusNotFound, Title: "Item Not Found"},
	{Err: imports.ErrRunAlreadyApplied, Status: http.StatusConflict, Title: "Run Already Applied"},
	{Err: imports.ErrRunNotDiffed, Status: http.StatusConflict, Title: "Run Not Diffed"},
	{Err: imports.ErrRunInProgress, Status: http.StatusConflict, Title: "Run In Progress"},
	{Err: imports.ErrInvalidInput, Status: http.StatusBadRequest, Title: "Validation Failed"},
	{Err: asynq.ErrTaskIDConflict, Status: http.StatusConflict, Title: "Already Queued"},
	{Err: asynq.ErrDuplicateTask, Status: http.StatusConflict, Title: "Already Queued"},
}

type applyRequest struct {
	Kinds []string `json:"kinds" validate:"omitempty,dive,oneof=add change delete"`
	Actor string   `json:"actor" validate:"omitempty,max=120"`
}

type publishRequest struct {
	DryRun bool   `json:"dry_run"`
	Shop   string `json:"shop" validate:"omitempty,fqdn"`
}

type resolutionRequest struct {
	Resolution string `json:"resolution" validate:"omitempty,oneof=approve"`
}

type queuedResponse struct {
	RunID  int64  `json:"run_id"`
	TaskID string `json:"task_id,omitempty"`
	Status string `json:"status"`
}

func (h *Handler) triggerSync(w http.ResponseWriter, r *http.Request) {
	slug := strings.TrimSpace(chi.URLParam(r, "slug"))
	run, err := h.service.CreatePendingRun(r.Context(), slug)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	info, err := h.jobs.EnqueueDiff(r.Context(), jobs.DiffPayload{RunID: run.ID})
	if err != nil {
		if markErr := h.service.MarkFailed(r.Context(), run.ID, err); markErr != nil {
			h.logger.Warn("mark run failed", slog.Int64("run_id", run.ID), slog.Any("error", markErr))
		}
		h.fail(w, r, fmt.Errorf("%w: enqueue diff: %v", httpx.ErrUnavailable, err))
		return
	}
	httpx.JSON(w, http.StatusAccepted, queuedResponse{RunID: run.ID, TaskID: info.ID, Status: string(run.Status)})
}

func (h *Handler) listRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	list, err := h.service.ListRuns(r.Context(), imports.RunFilters{
		Status:   imports.RunStatus(strings.TrimSpace(q.Get("status"))),
		Supplier: strings.TrimSpace(q.Get("supplier")),
		Page:     parseInt(q.Get("page")),
		PerPage:  parseInt(q.Get("per_page")),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, list)
}

func (h *Handler) showRun(w http.ResponseWriter, r *http.Request) {
	id, ok := h.runID(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	detail, err := h.service.GetRunDetail(r.Context(), id, imports.ItemFilters{
		Kind:    catalog.Kind(strings.TrimSpace(q.Get("kind"))),
		Page:    parseInt(q.Get("page")),
		PerPage: parseInt(q.Get("per_page")),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, detail)
}

func (h *Handler) applyRun(w http.ResponseWriter, r *http.Request) {
	id, ok := h.runID(w, r)
	if !ok {
		return
	}
	var req applyRequest
	if !h.decode(w, r, &req) {
		return
	}
	run, err := h.service.GetRun(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	switch {
	case run.Status.Applied():
		h.fail(w, r, imports.ErrRunAlreadyApplied)
		return
	case run.Status != imports.RunStatusDiffed:
		h.fail(w, r, fmt.Errorf("%w: run %d is %s", imports.ErrRunNotDiffed, id, run.Status))
		return
	}
	info, err := h.jobs.EnqueueApply(r.Context(), jobs.ApplyPayload{RunID: id, Kinds: req.Kinds, Actor: req.Actor})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusAccepted, queuedResponse{RunID: id, TaskID: info.ID, Status: string(run.Status)})
}

func (h *Handler) publishRun(w http.ResponseWriter, r *http.Request) {
	id, ok := h.runID(w, r)
	if !ok {
		return
	}
	var req publishRequest
	if !h.decode(w, r, &req) {
		return
	}
	run, err := h.service.GetRun(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	info, err := h.jobs.EnqueuePublish(r.Context(), jobs.PublishPayload{RunID: id, DryRun: req.DryRun, Shop: req.Shop})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusAccepted, queuedResponse{RunID: id, TaskID: info.ID, Status: string(run.Status)})
}

func (h *Handler) cancelRun(w http.ResponseWriter, r *http.Request) {
	id, ok := h.runID(w, r)
	if !ok {
		return
	}
	if err := h.service.RequestCancel(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusAccepted, queuedResponse{RunID: id, Status: string(imports.RunStatusDiffing)})
}

func (h *Handler) resolveItem(w http.ResponseWriter, r *http.Request) {
	id, ok := h.runID(w, r)
	if !ok {
		return
	}
	itemID, err := strconv.ParseInt(chi.URLParam(r, "itemID"), 10, 64)
	if err != nil || itemID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid item id")
		return
	}
	var req resolutionRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.service.SetItemResolution(r.Context(), id, itemID, req.Resolution); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) runID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid run id")
		return 0, false
	}
	return id, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.RespondError(w, err)
		return false
	}
	if err := h.validator.Struct(target); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			msgs := make([]string, 0, len(fieldErrs))
			for _, fe := range fieldErrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
			}
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", strings.Join(msgs, "; "))
			return false
		}
		httpx.RespondError(w, err)
		return false
	}
	return true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.Warn("runs api", slog.String("path", r.URL.Path), slog.Any("error", err))
	httpx.RespondError(w, err, problems...)
}

func parseInt(value string) int {
	v, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0
	}
	return v
}
