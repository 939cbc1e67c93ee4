package batch_test

import (
	"testing"
	"time"

	"github.com/lepinkainen/bookstock/internal/batch"
	bserrors "github.com/lepinkainen/bookstock/internal/errors"
	"github.com/lepinkainen/bookstock/internal/library"
	"github.com/lepinkainen/bookstock/internal/testutil"
	"github.com/stretchr/testify/assert"
)

func TestSelections(t *testing.T) {
	repo := testutil.NewMemoryRepository()
	books := testutil.SeedBooks(t, repo, 6)

	withErr := library.NewBook(testutil.CatalogItem("9780000000007", "Broken", "A"), testutil.FixedTime.Add(-time.Hour))
	withErr.API.Errors = map[library.SourceID]string{library.SourceMetroEbook: "timeout"}
	withErr = repo.Seed(withErr)

	lib := testutil.NewLoadedLibrary(t, repo)
	newest := func(i int) int64 { return books[len(books)-1-i].ID }

	tests := []struct {
		name string
		sel  batch.Selection
		want []int64
	}{
		{"recent", batch.Recent(3), []int64{newest(0), newest(1), newest(2)}},
		{"recent beyond size", batch.Recent(100), lib.IDs()},
		{"oldest", batch.Oldest(2), []int64{withErr.ID, books[0].ID}},
		{"range", batch.Range(1, 3), []int64{newest(1), newest(2)}},
		{"range out of bounds", batch.Range(10, 20), nil},
		{"inverted range", batch.Range(3, 1), nil},
		{"all", batch.All(), lib.IDs()},
		{"with errors", batch.WithErrors(), []int64{withErr.ID}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.sel.Resolve(lib)
			if len(tt.want) == 0 {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.want, got)
			assert.NotEmpty(t, tt.sel.String())
		})
	}
}

func TestSummaryErr(t *testing.T) {
	assert.NoError(t, batch.Summary{Succeeded: 3, Total: 3}.Err())
	assert.NoError(t, batch.Summary{}.Err())
	assert.ErrorIs(t, batch.Summary{Failed: []int64{1}, Total: 1}.Err(), bserrors.ErrServiceUnavailable)
	assert.ErrorIs(t, batch.Summary{Skipped: 2, Total: 2}.Err(), bserrors.ErrServiceUnavailable)
	assert.NoError(t, batch.Summary{Succeeded: 1, Skipped: 1, Total: 2}.Err())
	assert.True(t, bserrors.IsPartialFailureError(batch.Summary{Succeeded: 1, Failed: []int64{2}, Total: 2}.Err()))
	assert.True(t, bserrors.IsStopProcessingError(batch.Summary{Cancelled: true, Total: 4}.Err()))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "paused", batch.StatePaused.String())
	assert.True(t, batch.StateCancelled.Finished())
	assert.False(t, batch.StateRunning.Finished())
}
