package publish

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"maps"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rodworks/catalogsync/internal/catalog"
	"github.com/rodworks/catalogsync/internal/imports"
)

type memoryRepo struct {
	runs       map[int64]imports.ImportRun
	items      map[int64][]Item
	sessions   map[string]Session
	bySupplier map[int64]Session
	markers    map[int64]map[string]int
	writes     []map[string]any
	summaryErr error
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		runs:       make(map[int64]imports.ImportRun),
		items:      make(map[int64][]Item),
		sessions:   make(map[string]Session),
		bySupplier: make(map[int64]Session),
		markers:    make(map[int64]map[string]int),
	}
}

func (r *memoryRepo) GetRun(ctx context.Context, runID int64) (imports.ImportRun, error) {
	run, ok := r.runs[runID]
	if !ok {
		return imports.ImportRun{}, imports.ErrRunNotFound
	}
	return run, nil
}

func (r *memoryRepo) ApprovedItems(ctx context.Context, run imports.ImportRun) ([]Item, error) {
	return r.items[run.ID], nil
}

func (r *memoryRepo) MergeSummary(ctx context.Context, runID int64, patch map[string]any) error {
	r.writes = append(r.writes, maps.Clone(patch))
	if r.summaryErr != nil {
		return r.summaryErr
	}
	run := r.runs[runID]
	if run.Summary == nil {
		run.Summary = map[string]any{}
	}
	maps.Copy(run.Summary, patch)
	r.runs[runID] = run
	return nil
}

func (r *memoryRepo) FindSession(ctx context.Context, shop string) (Session, error) {
	s, ok := r.sessions[shop]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	return s, nil
}

func (r *memoryRepo) LastSession(ctx context.Context, supplierID int64) (Session, error) {
	s, ok := r.bySupplier[supplierID]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	return s, nil
}

func (r *memoryRepo) CountSkipMarkers(ctx context.Context, runID int64) (map[string]int, error) {
	return maps.Clone(r.markers[runID]), nil
}

func (r *memoryRepo) progressWrites() []Progress {
	var out []Progress
	for _, w := range r.writes {
		if p, ok := w[SummaryKeyProgress].(Progress); ok {
			out = append(out, p)
		}
	}
	return out
}

// scriptedPlatform answers with fixed results and records markers into repo.
type scriptedPlatform struct {
	repo     *memoryRepo
	results  []ItemResult
	markers  map[string]int
	err      error
	calls    int
	sessions []Session
}

func (p *scriptedPlatform) UpsertBatch(ctx context.Context, req BatchRequest) ([]ItemResult, error) {
	p.calls++
	p.sessions = append(p.sessions, req.Session)
	if p.err != nil {
		return nil, p.err
	}
	for i := range req.Items {
		req.OnProgress(i + 1)
	}
	if p.markers != nil {
		p.repo.markers[req.RunID] = p.markers
	}
	return p.results, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func ptr[T any](v T) *T { return &v }

func itemsOf(kinds ...catalog.Kind) []Item {
	out := make([]Item, 0, len(kinds))
	for i, k := range kinds {
		out = append(out, Item{RunItemID: int64(i + 1), ExternalID: string(rune('A' + i)), Kind: k, Active: k != catalog.KindDelete})
	}
	return out
}

func newFixture(kinds ...catalog.Kind) (*memoryRepo, *scriptedPlatform, *Service) {
	repo := newMemoryRepo()
	repo.runs[1] = imports.ImportRun{ID: 1, SupplierSlug: "pacbay", SupplierID: ptr(int64(4)), Status: imports.RunStatusApplied, Summary: map[string]any{}}
	repo.items[1] = itemsOf(kinds...)
	platform := &scriptedPlatform{repo: repo}
	svc := NewService(ServiceConfig{Repository: repo, Platform: platform, Logger: discardLogger()})
	return repo, platform, svc
}

func TestDryRunClassifiesByKind(t *testing.T) {
	repo, platform, svc := newFixture(catalog.KindAdd, catalog.KindAdd, catalog.KindChange, catalog.KindDelete)

	res, err := svc.PublishRun(context.Background(), 1, Options{DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, Totals{Created: 2, Updated: 2, Skipped: 0, Failed: 0}, res.Totals)
	assert.True(t, res.DryRun)
	assert.Zero(t, platform.calls)

	progress := repo.progressWrites()
	require.NotEmpty(t, progress)
	last := progress[len(progress)-1]
	assert.Equal(t, 4, last.Processed)
	assert.Equal(t, 4, last.Target)
	assert.Contains(t, repo.runs[1].Summary, SummaryKeyPublish)
}

func TestPublishReconcilesNoopUpserts(t *testing.T) {
	repo, platform, svc := newFixture(catalog.KindAdd, catalog.KindAdd, catalog.KindChange, catalog.KindChange, catalog.KindChange)
	repo.bySupplier[4] = Session{Shop: "rods.myshopify.com", AccessToken: "tok"}
	platform.results = []ItemResult{
		{ExternalID: "A", ProductID: "101", Action: ActionCreated},
		{ExternalID: "B", ProductID: "102", Action: ActionCreated},
		{ExternalID: "C", ProductID: "103", Action: ActionUpdated},
		{ExternalID: "D", ProductID: "104", Action: ActionUpdated},
		{ExternalID: "E", ProductID: "105", Action: ActionUpdated},
	}
	platform.markers = map[string]int{
		ReasonHashUnchangedTitleOnly:   2,
		ReasonUnchangedSpecsBackfilled: 1,
	}

	res, err := svc.PublishRun(context.Background(), 1, Options{})
	require.NoError(t, err)
	assert.Equal(t, Totals{Created: 2, Updated: 0, Skipped: 0, Failed: 0}, res.Totals)
	assert.Equal(t, 2, res.Detailed[ReasonHashUnchangedTitleOnly])
	assert.Equal(t, 1, res.Detailed[ReasonUnchangedSpecsBackfilled])
	assert.Equal(t, 0, res.Detailed[ReasonUnchangedActive])
	assert.Equal(t, []string{"101", "102", "103", "104", "105"}, res.ProductIDs)
	assert.Equal(t, "rods.myshopify.com", res.Shop)
	assert.Equal(t, 1, platform.calls)

	progress := repo.progressWrites()
	last := progress[len(progress)-1]
	assert.Equal(t, last.Target, last.Processed)
}

func TestPublishAttributesItemFailures(t *testing.T) {
	repo, platform, svc := newFixture(catalog.KindAdd, catalog.KindChange, catalog.KindChange)
	repo.bySupplier[4] = Session{Shop: "rods.myshopify.com", AccessToken: "tok"}
	platform.results = []ItemResult{
		{ExternalID: "A", ProductID: "101", Action: ActionCreated},
		{ExternalID: "B", Action: ActionFailed, Error: "422 Unprocessable Entity"},
	}

	res, err := svc.PublishRun(context.Background(), 1, Options{})
	require.NoError(t, err)
	assert.Equal(t, Totals{Created: 1, Updated: 0, Skipped: 1, Failed: 1}, res.Totals)
}

func TestPublishWithoutDestinationReturnsEstimate(t *testing.T) {
	_, platform, svc := newFixture(catalog.KindAdd, catalog.KindDelete)

	res, err := svc.PublishRun(context.Background(), 1, Options{})
	require.NoError(t, err)
	assert.True(t, res.Estimated)
	assert.False(t, res.DryRun)
	assert.Equal(t, Totals{Created: 1, Updated: 1}, res.Totals)
	assert.Zero(t, platform.calls)
}

func TestPublishSessionResolutionOrder(t *testing.T) {
	repo, platform, _ := newFixture(catalog.KindAdd)
	platform.results = []ItemResult{{ExternalID: "A", ProductID: "1", Action: ActionCreated}}
	repo.sessions["override.myshopify.com"] = Session{Shop: "override.myshopify.com", AccessToken: "o"}
	repo.bySupplier[4] = Session{Shop: "last.myshopify.com", AccessToken: "l"}
	svc := NewService(ServiceConfig{
		Repository:     repo,
		Platform:       platform,
		DefaultSession: Session{Shop: "env.myshopify.com", AccessToken: "e"},
		Logger:         discardLogger(),
	})
	ctx := context.Background()

	_, err := svc.PublishRun(ctx, 1, Options{Shop: "override.myshopify.com"})
	require.NoError(t, err)
	_, err = svc.PublishRun(ctx, 1, Options{})
	require.NoError(t, err)
	_, err = svc.PublishRun(ctx, 1, Options{Shop: "unknown.myshopify.com"})
	require.NoError(t, err)

	noEnv := NewService(ServiceConfig{Repository: repo, Platform: platform, Logger: discardLogger()})
	_, err = noEnv.PublishRun(ctx, 1, Options{})
	require.NoError(t, err)

	shops := make([]string, 0, len(platform.sessions))
	for _, s := range platform.sessions {
		shops = append(shops, s.Shop)
	}
	assert.Equal(t, []string{"override.myshopify.com", "env.myshopify.com", "env.myshopify.com", "last.myshopify.com"}, shops)
}

func TestPublishRejectsUnpublishableRuns(t *testing.T) {
	repo, _, svc := newFixture(catalog.KindAdd)
	run := repo.runs[1]
	run.Status = imports.RunStatusDiffing
	repo.runs[1] = run

	_, err := svc.PublishRun(context.Background(), 1, Options{DryRun: true})
	assert.ErrorIs(t, err, ErrRunNotPublishable)

	_, err = svc.PublishRun(context.Background(), 9, Options{DryRun: true})
	assert.ErrorIs(t, err, imports.ErrRunNotFound)
}

func TestPublishPlatformErrorIsFatal(t *testing.T) {
	repo, platform, svc := newFixture(catalog.KindAdd)
	repo.bySupplier[4] = Session{Shop: "rods.myshopify.com", AccessToken: "tok"}
	platform.err = errors.New("connection reset")

	_, err := svc.PublishRun(context.Background(), 1, Options{})
	require.ErrorIs(t, err, platform.err)
	assert.NotContains(t, repo.runs[1].Summary, SummaryKeyPublish)
}

func TestPublishSurvivesSummaryWriteFailures(t *testing.T) {
	repo, _, svc := newFixture(catalog.KindAdd, catalog.KindChange)
	repo.summaryErr = errors.New("deadlock detected")

	res, err := svc.PublishRun(context.Background(), 1, Options{DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, Totals{Created: 1, Updated: 1}, res.Totals)
}

func TestProgressTrackerThrottles(t *testing.T) {
	repo := newMemoryRepo()
	repo.runs[1] = imports.ImportRun{ID: 1, Summary: map[string]any{}}
	clock := time.Date(2024, 5, 2, 9, 0, 0, 0, time.UTC)
	now := func() time.Time { return clock }
	tracker := newProgressTracker(repo, discardLogger(), now, DefaultProgressInterval, 1, 10)
	ctx := context.Background()

	assert.True(t, tracker.Update(ctx, 0), "first write always goes through")
	clock = clock.Add(100 * time.Millisecond)
	assert.False(t, tracker.Update(ctx, 3))
	clock = clock.Add(450 * time.Millisecond)
	assert.True(t, tracker.Update(ctx, 5))
	clock = clock.Add(10 * time.Millisecond)
	assert.False(t, tracker.Update(ctx, 9))
	assert.True(t, tracker.Update(ctx, 10), "final write always flushes")

	progress := repo.progressWrites()
	require.Len(t, progress, 3)
	assert.Equal(t, []int{0, 5, 10}, []int{progress[0].Processed, progress[1].Processed, progress[2].Processed})
}

func TestReconcileNeverGoesNegative(t *testing.T) {
	assert.Equal(t, Totals{Created: 1, Updated: 0, Skipped: 0, Failed: 0}, reconcile(3, 1, 2, 0, 5))
	assert.Equal(t, Totals{Created: 0, Updated: 1, Skipped: 2, Failed: 0}, reconcile(3, 0, 1, 0, 0))
}
