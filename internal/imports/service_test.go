package imports

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rodworks/catalogsync/internal/catalog"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func ptr[T any](v T) *T { return &v }

func sampleDiffs() []catalog.Diff {
	a := catalog.Snapshot{Supplier: "pacbay", ProductCode: "A", Category: "blank", MSRP: ptr(10.0), Attributes: map[string]any{}}
	a2 := a
	a2.MSRP = ptr(12.0)
	b := catalog.Snapshot{Supplier: "pacbay", ProductCode: "B", Category: "grip", Attributes: map[string]any{}}
	c := catalog.Snapshot{Supplier: "pacbay", ProductCode: "C", Category: "guide", Attributes: map[string]any{}}
	return []catalog.Diff{
		{Kind: catalog.KindChange, ProductCode: "A", Category: "blank", Before: &a, After: &a2,
			ChangedFields: []catalog.FieldChange{{Field: "msrp", Before: 10.0, After: 12.0}}},
		{Kind: catalog.KindAdd, ProductCode: "C", Category: "guide", After: &c},
		{Kind: catalog.KindDelete, ProductCode: "B", Category: "grip", Before: &b},
	}
}

func TestSaveRunDiffPersistsRunAndItems(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, discardLogger())

	run, counts, err := svc.SaveRunDiff(context.Background(), SupplierRef{Slug: "pacbay"}, sampleDiffs(), RunStatusDiffed, map[string]any{"source": "test"})
	require.NoError(t, err)
	assert.Equal(t, catalog.Summary{Adds: 1, Changes: 1, Deletes: 1}, counts)
	assert.Equal(t, counts, run.Totals)
	assert.Equal(t, RunStatusDiffed, run.Status)
	assert.Equal(t, "test", run.Summary["source"])

	items := repo.items[run.ID]
	require.Len(t, items, 3)
	assert.Equal(t, catalog.KindChange, items[0].Kind)
	assert.Len(t, items[0].ChangedFields, 1)
	assert.Nil(t, items[1].ChangedFields, "adds carry no changed fields")
	assert.Nil(t, items[2].After)
}

func TestSaveRunDiffRollsBackOnItemFailure(t *testing.T) {
	repo := newMemoryRepo()
	repo.insertErr = errors.New("batch insert failed")
	svc := NewService(repo, discardLogger())

	_, _, err := svc.SaveRunDiff(context.Background(), SupplierRef{Slug: "pacbay"}, sampleDiffs(), RunStatusDiffed, nil)
	require.ErrorIs(t, err, repo.insertErr)
	assert.Empty(t, repo.runs)
	assert.Empty(t, repo.items)
}

func TestSaveRunDiffValidatesInput(t *testing.T) {
	svc := NewService(newMemoryRepo(), discardLogger())

	_, _, err := svc.SaveRunDiff(context.Background(), SupplierRef{}, nil, RunStatusDiffed, nil)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, _, err = svc.SaveRunDiff(context.Background(), SupplierRef{Slug: "x"}, nil, RunStatus("bogus"), nil)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestGetRunDetailFiltersByKind(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, discardLogger())
	run, _, err := svc.SaveRunDiff(context.Background(), SupplierRef{Slug: "pacbay"}, sampleDiffs(), RunStatusDiffed, nil)
	require.NoError(t, err)

	detail, err := svc.GetRunDetail(context.Background(), run.ID, ItemFilters{Kind: catalog.KindAdd})
	require.NoError(t, err)
	require.Len(t, detail.Items, 1)
	assert.Equal(t, "C", detail.Items[0].ProductCode)
	assert.Equal(t, 1, detail.Pagination.Total)
	assert.Equal(t, 20, detail.Pagination.PerPage)

	_, err = svc.GetRunDetail(context.Background(), run.ID, ItemFilters{Kind: "rename"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.GetRunDetail(context.Background(), 999, ItemFilters{})
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestListRunsFiltersByStatusAndSupplier(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, discardLogger())
	ctx := context.Background()
	_, _, err := svc.SaveRunDiff(ctx, SupplierRef{Slug: "pacbay"}, nil, RunStatusDiffed, nil)
	require.NoError(t, err)
	_, err = svc.CreatePendingRun(ctx, "fuji")
	require.NoError(t, err)

	list, err := svc.ListRuns(ctx, RunFilters{Status: RunStatusDiffing})
	require.NoError(t, err)
	require.Len(t, list.Runs, 1)
	assert.Equal(t, "fuji", list.Runs[0].SupplierSlug)

	list, err = svc.ListRuns(ctx, RunFilters{Supplier: "pacbay"})
	require.NoError(t, err)
	require.Len(t, list.Runs, 1)

	_, err = svc.ListRuns(ctx, RunFilters{Status: "done"})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestSetItemResolution(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, discardLogger())
	ctx := context.Background()
	run, _, err := svc.SaveRunDiff(ctx, SupplierRef{Slug: "pacbay"}, sampleDiffs(), RunStatusDiffed, nil)
	require.NoError(t, err)
	itemID := repo.items[run.ID][0].ID

	require.NoError(t, svc.SetItemResolution(ctx, run.ID, itemID, "Approve"))
	require.NotNil(t, repo.items[run.ID][0].Resolution)
	assert.Equal(t, ResolutionApprove, *repo.items[run.ID][0].Resolution)

	require.NoError(t, svc.SetItemResolution(ctx, run.ID, itemID, ""))
	assert.Nil(t, repo.items[run.ID][0].Resolution)

	assert.ErrorIs(t, svc.SetItemResolution(ctx, run.ID, itemID, "reject"), ErrInvalidInput)
	assert.ErrorIs(t, svc.SetItemResolution(ctx, run.ID, 9999, "approve"), ErrItemNotFound)
}

func TestRequestCancelOnlyForDiffingRuns(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, discardLogger())
	ctx := context.Background()

	pending, err := svc.CreatePendingRun(ctx, "pacbay")
	require.NoError(t, err)
	require.NoError(t, svc.RequestCancel(ctx, pending.ID))
	assert.True(t, repo.runs[pending.ID].CancelRequested())

	done, _, err := svc.SaveRunDiff(ctx, SupplierRef{Slug: "pacbay"}, nil, RunStatusDiffed, nil)
	require.NoError(t, err)
	assert.ErrorIs(t, svc.RequestCancel(ctx, done.ID), ErrInvalidInput)
}

func TestMarkFailedRecordsCause(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, discardLogger())
	ctx := context.Background()
	run, err := svc.CreatePendingRun(ctx, "pacbay")
	require.NoError(t, err)

	require.NoError(t, svc.MarkFailed(ctx, run.ID, errors.New("staging unavailable")))
	assert.Equal(t, RunStatusFailed, repo.runs[run.ID].Status)
	assert.Equal(t, "staging unavailable", repo.runs[run.ID].Summary[SummaryKeyError])
	assert.NotNil(t, repo.runs[run.ID].FinishedAt)
}
