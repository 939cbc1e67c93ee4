package refresh_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lepinkainen/bookstock/internal/cache"
	bserrors "github.com/lepinkainen/bookstock/internal/errors"
	"github.com/lepinkainen/bookstock/internal/library"
	"github.com/lepinkainen/bookstock/internal/refresh"
	"github.com/lepinkainen/bookstock/internal/sources"
	"github.com/lepinkainen/bookstock/internal/sources/httpjson"
	"github.com/lepinkainen/bookstock/internal/sources/paperstock"
	"github.com/lepinkainen/bookstock/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var refreshedAt = time.Date(2024, 4, 2, 9, 30, 0, 0, time.UTC)

type fixture struct {
	repo    *testutil.MemoryRepository
	lib     *library.Library
	catalog *testutil.FakeCatalog
	paper   *testutil.FakePaperStock
	ebooks  map[library.SourceID]*testutil.FakeEbook
	svc     *refresh.Service
	book    library.Book
	notes   *testutil.RecordingNotifier
}

func newFixture(t *testing.T, title string) *fixture {
	t.Helper()

	f := &fixture{repo: testutil.NewMemoryRepository(), notes: &testutil.RecordingNotifier{}}
	item := testutil.CatalogItem("9788974797485", title, "크리스 나이바우어 (지은이)")
	f.book = f.repo.Seed(library.NewBook(item, testutil.FixedTime))
	f.lib = testutil.NewLoadedLibrary(t, f.repo, library.WithNotifier(f.notes))

	f.catalog = testutil.NewFakeCatalog(item)
	var set sources.Set
	set, f.paper, f.ebooks = testutil.FakeSources(f.catalog)
	f.svc = refresh.New(f.lib, set, refresh.WithClock(func() time.Time { return refreshedAt }))
	return f
}

func (f *fixture) refresh(t *testing.T) error {
	t.Helper()
	b, ok := f.lib.Get(f.book.ID)
	require.True(t, ok)
	return f.svc.Refresh(context.Background(), b.ID, b.Catalog.ISBN13, b.Catalog.Title, b.Catalog.Author)
}

func TestRefresh_CommitsEverySource(t *testing.T) {
	f := newFixture(t, "The Joy of Less: A Minimalist Guide")
	f.paper.Payload = library.PaperStockPayload{Rows: []library.BranchRow{
		{Branch: library.BranchPrimary, Loanable: true, RecKey: "R", BookKey: "B", PublishFormCode: "BO"},
		{Branch: library.BranchSecondary},
	}}
	f.ebooks[library.SourceEduEbook].Payload = library.EbookPayload{Total: 2, Available: 1, Owned: 2}
	f.ebooks[library.SourceMetroEbook].Payload = library.EbookPayload{Items: []library.EbookItem{
		{Title: "The Joy", ISBN: "9788974797485", Available: true, Owned: true},
		{Title: "Other", ISBN: "9780000000000", Available: true},
	}}

	require.NoError(t, f.refresh(t))

	got, ok := f.lib.Get(f.book.ID)
	require.True(t, ok)
	require.NotNil(t, got.API.PaperStock)
	assert.Equal(t, library.BranchSummary{Total: 1, Available: 1}, got.API.PaperStock.Primary)
	assert.Equal(t, library.BranchSummary{Total: 1}, got.API.PaperStock.Secondary)
	require.NotNil(t, got.API.PaperStock.Loan)
	assert.Equal(t, "R", got.API.PaperStock.Loan.RecKey)

	require.NotNil(t, got.API.EduEbook)
	assert.Equal(t, 2, got.API.EduEbook.Total)
	require.NotNil(t, got.API.MetroEbook)
	assert.Equal(t, 1, got.API.MetroEbook.Total, "metro results must be filtered by identity")
	assert.Empty(t, got.API.Errors)
	assert.Equal(t, refreshedAt, got.API.LastUpdated)

	stored, ok := f.repo.Stored(f.book.ID)
	require.True(t, ok)
	assert.Equal(t, got.API, stored.API)

	q := f.ebooks[library.SourceCountyEbook].Queries
	require.Len(t, q, 1)
	assert.Equal(t, "The Joy of", q[0].SearchKey)
	assert.Equal(t, "9788974797485", q[0].ISBN)
}

func TestRefresh_SourceErrorKeepsPreviousSummary(t *testing.T) {
	f := newFixture(t, "Demian")
	f.ebooks[library.SourceMetroEbook].Payload = library.EbookPayload{Items: []library.EbookItem{
		{Title: "Demian", ISBN: "9788974797485", Available: true},
	}}
	require.NoError(t, f.refresh(t))

	f.ebooks[library.SourceMetroEbook].Err = errors.New("timeout")
	f.ebooks[library.SourceEduEbook].Payload = library.EbookPayload{Total: 5}
	require.NoError(t, f.refresh(t))

	got, _ := f.lib.Get(f.book.ID)
	require.NotNil(t, got.API.MetroEbook, "an error must not blank the previous summary")
	assert.Equal(t, 1, got.API.MetroEbook.Total)
	assert.Equal(t, "timeout", got.API.Errors[library.SourceMetroEbook])
	require.NotNil(t, got.API.EduEbook)
	assert.Equal(t, 5, got.API.EduEbook.Total, "one failing source must not blank the others")
}

func TestRefresh_UserBlockSurvives(t *testing.T) {
	f := newFixture(t, "Demian")
	ctx := context.Background()
	require.NoError(t, f.lib.SetRating(ctx, f.book.ID, 4))
	require.NoError(t, f.lib.SetTags(ctx, f.book.ID, []string{"t1"}))
	require.NoError(t, f.lib.SetNote(ctx, f.book.ID, "lent to Mia"))

	require.NoError(t, f.refresh(t))

	got, _ := f.lib.Get(f.book.ID)
	assert.Equal(t, 4, got.User.Rating)
	assert.Equal(t, []string{"t1"}, got.User.TagIDs)
	assert.Equal(t, "lent to Mia", got.User.Note)
}

func TestRefresh_CatalogMissLeavesBookUntouched(t *testing.T) {
	f := newFixture(t, "Demian")
	delete(f.catalog.Items, f.book.Catalog.ISBN13)
	updatesBefore := f.repo.Updates

	err := f.refresh(t)
	require.Error(t, err)
	assert.True(t, bserrors.IsCatalogMissError(err))
	assert.ErrorIs(t, err, bserrors.ErrNoResults)

	got, _ := f.lib.Get(f.book.ID)
	assert.Equal(t, f.book.API, got.API)
	assert.Equal(t, updatesBefore, f.repo.Updates)
	assert.Empty(t, f.ebooks[library.SourceEduEbook].Queries, "no source is queried after a catalog miss")
}

func TestRefresh_PersistenceFailureRollsBack(t *testing.T) {
	f := newFixture(t, "Demian")
	f.ebooks[library.SourceEduEbook].Payload = library.EbookPayload{Total: 3}
	f.repo.FailUpdates()

	err := f.refresh(t)
	require.Error(t, err)
	assert.True(t, bserrors.IsPersistenceError(err))

	got, _ := f.lib.Get(f.book.ID)
	assert.Nil(t, got.API.EduEbook)
	assert.True(t, got.API.LastUpdated.IsZero())
	assert.Equal(t, 1, f.notes.Count(library.LevelError))
}

func TestRefresh_CustomSearchTitle(t *testing.T) {
	f := newFixture(t, "Demian: Die Geschichte von Emil Sinclairs Jugend")
	require.NoError(t, f.lib.SetCustomSearchTitle(context.Background(), f.book.ID, "데미안"))

	require.NoError(t, f.refresh(t))

	q := f.ebooks[library.SourceEduEbook].Queries
	require.Len(t, q, 1)
	assert.Equal(t, "데미안", q[0].SearchKey)
}

func TestRefresh_EbookISBNPreferred(t *testing.T) {
	f := newFixture(t, "Demian")
	f.catalog.Items[f.book.Catalog.ISBN13] = testutil.WithEbookISBN(f.book.Catalog, "9791190000001")

	require.NoError(t, f.refresh(t))

	q := f.ebooks[library.SourceSubscriptionEbook].Queries
	require.Len(t, q, 1)
	assert.Equal(t, "9791190000001", q[0].ISBN)

	got, _ := f.lib.Get(f.book.ID)
	assert.Equal(t, "9791190000001", got.EbookISBN(), "confirmed catalog item replaces the stored one")
}

func TestRefresh_NotResident(t *testing.T) {
	f := newFixture(t, "Demian")
	err := f.svc.Refresh(context.Background(), 999, "1", "x", "y")
	assert.ErrorIs(t, err, bserrors.ErrNotFound)
}

func TestRefresh_CancelledDiscardsResults(t *testing.T) {
	f := newFixture(t, "Demian")
	ctx, cancel := context.WithCancel(context.Background())
	f.ebooks[library.SourceEduEbook].Hook = func(context.Context, sources.Query) { cancel() }

	err := f.svc.Refresh(ctx, f.book.ID, f.book.Catalog.ISBN13, f.book.Catalog.Title, f.book.Catalog.Author)
	assert.ErrorIs(t, err, context.Canceled)

	got, _ := f.lib.Get(f.book.ID)
	assert.True(t, got.API.LastUpdated.IsZero())
}

func TestRaw_DoesNotMutate(t *testing.T) {
	f := newFixture(t, "Demian")
	f.ebooks[library.SourceCountyEbook].Err = errors.New("503")
	f.ebooks[library.SourceEduEbook].Payload = library.EbookPayload{Total: 1}

	raw, err := f.svc.Raw(context.Background(), f.book.ID)
	require.NoError(t, err)

	assert.Equal(t, "Demian", raw.Catalog.Title)
	edu, ok := raw.EduEbook.Get()
	require.True(t, ok)
	assert.Equal(t, 1, edu.Total)
	reason, failed := raw.CountyEbook.Error()
	assert.True(t, failed)
	assert.Equal(t, "503", reason)

	got, _ := f.lib.Get(f.book.ID)
	assert.True(t, got.API.LastUpdated.IsZero())
}

func TestRefresh_SecondRefreshSeesChangedStock(t *testing.T) {
	testutil.SetTestConfig(t)
	f := newFixture(t, "Demian")

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			_, _ = w.Write([]byte(`{"rows":[{"branch":"primary","loanable":false}]}`))
			return
		}
		_, _ = w.Write([]byte(`{"rows":[{"branch":"primary","loanable":true,"recKey":"R","bookKey":"B","publishFormCode":"BO"}]}`))
	}))
	defer srv.Close()

	db, err := cache.Open(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	set := sources.Set{
		Catalog:    f.catalog,
		PaperStock: paperstock.New(httpjson.New("paper_stock", srv.URL), db),
	}
	svc := refresh.New(f.lib, set, refresh.WithClock(func() time.Time { return refreshedAt }))

	require.NoError(t, svc.RefreshBook(context.Background(), f.book.ID))
	b, _ := f.lib.Get(f.book.ID)
	require.NotNil(t, b.API.PaperStock)
	assert.Equal(t, 0, b.API.PaperStock.Primary.Available)

	require.NoError(t, svc.RefreshBook(context.Background(), f.book.ID))
	b, _ = f.lib.Get(f.book.ID)
	require.NotNil(t, b.API.PaperStock)
	assert.Equal(t, 1, b.API.PaperStock.Primary.Available)
	assert.NotNil(t, b.API.PaperStock.Loan)
	assert.Equal(t, int32(2), calls.Load())
}

func TestRaw_MayAnswerFromCache(t *testing.T) {
	testutil.SetTestConfig(t)
	f := newFixture(t, "Demian")

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"rows":[{"branch":"secondary","loanable":true}]}`))
	}))
	defer srv.Close()

	db, err := cache.Open(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	set := sources.Set{
		Catalog:    f.catalog,
		PaperStock: paperstock.New(httpjson.New("paper_stock", srv.URL), db),
	}
	svc := refresh.New(f.lib, set)

	require.NoError(t, svc.RefreshBook(context.Background(), f.book.ID))
	_, err = svc.Raw(context.Background(), f.book.ID)
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
}
