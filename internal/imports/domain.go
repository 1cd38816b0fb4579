// Package imports persists diff runs, applies approved diffs to the canonical
// catalog and runs the staging-versus-canonical diff for a supplier.
package imports

import (
	"errors"
	"time"

	"github.com/rodworks/catalogsync/internal/catalog"
)

// RunStatus enumerates import run lifecycle states.
type RunStatus string

const (
	// RunStatusDiffing marks a run queued or computing its diff.
	RunStatusDiffing RunStatus = "diffing"
	// RunStatusDiffed marks a run ready for review and apply.
	RunStatusDiffed RunStatus = "diffed"
	// RunStatusApplied marks a run applied without row errors.
	RunStatusApplied RunStatus = "applied"
	// RunStatusAppliedWithWarnings marks a run applied with recoverable row errors.
	RunStatusAppliedWithWarnings RunStatus = "applied_with_warnings"
	// RunStatusCancelled marks a diff aborted on request.
	RunStatusCancelled RunStatus = "cancelled"
	// RunStatusFailed marks a diff that errored.
	RunStatusFailed RunStatus = "failed"
)

// Applied reports whether s is a terminal applied state.
func (s RunStatus) Applied() bool {
	return s == RunStatusApplied || s == RunStatusAppliedWithWarnings
}

// Valid reports whether s is a known status.
func (s RunStatus) Valid() bool {
	switch s {
	case RunStatusDiffing, RunStatusDiffed, RunStatusApplied, RunStatusAppliedWithWarnings, RunStatusCancelled, RunStatusFailed:
		return true
	}
	return false
}

// Resolution is the reviewer decision attached to a run item.
type Resolution string

// ResolutionApprove selects an item for publish.
const ResolutionApprove Resolution = "approve"

// Summary keys written into the run summary blob.
const (
	SummaryKeyCancelRequested = "cancelRequested"
	SummaryKeyApply           = "apply"
	SummaryKeyError           = "error"
)

// SupplierRef identifies the supplier a run belongs to.
type SupplierRef struct {
	ID   *int64
	Slug string
}

// ImportRun is one diff run of a supplier catalog.
type ImportRun struct {
	ID           int64           `json:"id"`
	SupplierSlug string          `json:"supplier_slug"`
	SupplierID   *int64          `json:"supplier_id,omitempty"`
	Status       RunStatus       `json:"status"`
	StartedAt    time.Time       `json:"started_at"`
	FinishedAt   *time.Time      `json:"finished_at,omitempty"`
	Totals       catalog.Summary `json:"totals"`
	Summary      map[string]any  `json:"summary"`
}

// CancelRequested reports whether a cooperative cancel was requested.
func (r ImportRun) CancelRequested() bool {
	v, _ := r.Summary[SummaryKeyCancelRequested].(bool)
	return v
}

// RunItem is a persisted diff line.
type RunItem struct {
	ID            int64                 `json:"id"`
	RunID         int64                 `json:"run_id"`
	Position      int                   `json:"position"`
	Kind          catalog.Kind          `json:"kind"`
	ProductCode   string                `json:"product_code"`
	Category      string                `json:"category"`
	Family        *string               `json:"family,omitempty"`
	Before        *catalog.Snapshot     `json:"before,omitempty"`
	After         *catalog.Snapshot     `json:"after,omitempty"`
	ChangedFields []catalog.FieldChange `json:"changed_fields"`
	Resolution    *Resolution           `json:"resolution"`
}

// RunFilters narrows ListRuns.
type RunFilters struct {
	Status   RunStatus
	Supplier string
	Page     int
	PerPage  int
}

// ItemFilters narrows the items of GetRunDetail.
type ItemFilters struct {
	Kind    catalog.Kind
	Page    int
	PerPage int
}

// StagingRecord is a supplier product captured by the ingestion pipeline.
type StagingRecord struct {
	SupplierID     int64
	ExternalID     string
	Title          string
	PartType       string
	RawSpecs       map[string]any
	NormSpecs      map[string]any
	Normalized     []byte
	PriceMSRP      *float64
	PriceWholesale *float64
	Availability   *string
	Images         []string
	URL            *string
	Description    *string
	FetchedAt      time.Time
}

// ApplyOptions restricts an apply call.
type ApplyOptions struct {
	Kinds []catalog.Kind
	Actor string
}

// Row error reasons.
const (
	ReasonMissingStaging    = "missing-staging"
	ReasonInvalidNormalized = "invalid-normalized"
)

// RowError is a recoverable failure isolated to one run item.
type RowError struct {
	Code   string       `json:"code"`
	Kind   catalog.Kind `json:"kind"`
	Reason string       `json:"reason"`
	Detail string       `json:"detail,omitempty"`
}

// KindCounts tracks attempted and applied items of one kind.
type KindCounts struct {
	Attempted int `json:"attempted"`
	Applied   int `json:"applied"`
}

// ApplyResult reports the outcome of an apply call.
type ApplyResult struct {
	RunID       int64                       `json:"run_id"`
	Status      RunStatus                   `json:"status"`
	Counts      map[catalog.Kind]KindCounts `json:"counts"`
	Errors      []RowError                  `json:"errors"`
	Deactivated int64                       `json:"deactivated"`
}

var (
	// ErrRunNotFound occurs when a run id is unknown.
	ErrRunNotFound = errors.New("imports: run not found")
	// ErrRunAlreadyApplied occurs when applying a run twice.
	ErrRunAlreadyApplied = errors.New("imports: run already applied")
	// ErrRunNotDiffed occurs when a run is not in a state that can be applied.
	ErrRunNotDiffed = errors.New("imports: run not diffed")
	// ErrRunInProgress occurs when the supplier already has a run diffing.
	ErrRunInProgress = errors.New("imports: run already in progress")
	// ErrRunCancelled occurs when a diff observed a cancel request.
	ErrRunCancelled = errors.New("imports: run cancelled")
	// ErrItemNotFound occurs when an item is not part of the run.
	ErrItemNotFound = errors.New("imports: item not found")
	// ErrInvalidInput occurs when caller supplied values fail validation.
	ErrInvalidInput = errors.New("imports: invalid input")
)
