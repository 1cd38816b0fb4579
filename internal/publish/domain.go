// Package publish pushes the approved items of an import run to the
// storefront and reconciles the reported totals.
package publish

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/rodworks/catalogsync/internal/catalog"
)

// Skip reasons recorded by a platform when an upsert turned out to be a no-op
// or a partial touch of an already published product.
const (
	ReasonHashUnchangedTitleOnly       = "hash_unchanged_title_only"
	ReasonHashUnchangedSpecsBackfilled = "hash_unchanged_specs_backfilled"
	ReasonUnchangedActive              = "unchanged_active"
	ReasonUnchangedSpecsBackfilled     = "unchanged_specs_backfilled"
)

// NoopReasons lists the reasons subtracted from the raw updated count.
var NoopReasons = []string{
	ReasonHashUnchangedTitleOnly,
	ReasonHashUnchangedSpecsBackfilled,
	ReasonUnchangedActive,
	ReasonUnchangedSpecsBackfilled,
}

// Summary keys written into the run summary blob.
const (
	SummaryKeyProgress = "publishProgress"
	SummaryKeyPublish  = "publish"
)

// Action is the per-item outcome reported by a platform.
type Action string

const (
	ActionCreated Action = "created"
	ActionUpdated Action = "updated"
	ActionFailed  Action = "failed"
)

// Totals are the coarse publish counters.
type Totals struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// Progress is the advisory live progress stored on the run.
type Progress struct {
	Processed int       `json:"processed"`
	Target    int       `json:"target"`
	StartedAt time.Time `json:"startedAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Session is a resolved storefront destination.
type Session struct {
	Shop        string
	AccessToken string
}

// Valid reports whether the session can be used for API calls.
func (s Session) Valid() bool {
	return s.Shop != "" && s.AccessToken != ""
}

// Item is one approved run item joined with its canonical product.
type Item struct {
	RunItemID   int64
	ExternalID  string
	Kind        catalog.Kind
	Category    string
	Supplier    string
	ProductID   *uuid.UUID
	Title       string
	Description *string
	Images      []string
	Specs       map[string]any
	PriceMSRP   *float64
	Active      bool
}

// ItemResult is the platform's answer for one item.
type ItemResult struct {
	ExternalID string `json:"external_id"`
	ProductID  string `json:"product_id,omitempty"`
	Handle     string `json:"handle,omitempty"`
	Action     Action `json:"action"`
	Error      string `json:"error,omitempty"`
}

// BatchRequest is the single upsert call made for a run.
type BatchRequest struct {
	RunID      int64
	Session    Session
	Items      []Item
	OnProgress func(processed int)
}

// Platform upserts a batch of items into an external commerce platform. It
// records a skip marker for each item it left unchanged.
type Platform interface {
	UpsertBatch(ctx context.Context, req BatchRequest) ([]ItemResult, error)
}

// Options tune one publish call. Shop overrides the destination and must
// match a stored session.
type Options struct {
	DryRun bool
	Shop   string
}

// Result is the outcome of PublishRun.
type Result struct {
	RunID       int64          `json:"run_id"`
	DryRun      bool           `json:"dry_run"`
	Estimated   bool           `json:"estimated"`
	Shop        string         `json:"shop,omitempty"`
	Totals      Totals         `json:"totals"`
	Detailed    map[string]int `json:"totals_detailed"`
	ProductIDs  []string       `json:"product_ids"`
	Target      int            `json:"target"`
	CompletedAt time.Time      `json:"completed_at"`
}

var (
	// ErrRunNotPublishable occurs when the run has no reviewable diff yet.
	ErrRunNotPublishable = errors.New("publish: run not publishable")
	// ErrSessionNotFound occurs when no session is stored for a shop or supplier.
	ErrSessionNotFound = errors.New("publish: session not found")
)
