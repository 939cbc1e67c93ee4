package catalog

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/lepinkainen/bookstock/internal/cache"
	bserrors "github.com/lepinkainen/bookstock/internal/errors"
	"github.com/lepinkainen/bookstock/internal/sources"
	"github.com/lepinkainen/bookstock/internal/sources/httpjson"
	"github.com/lepinkainen/bookstock/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const lookupBody = `{"totalResults":1,"item":[{"itemId":123,"isbn13":"9788974797485","isbn":"8974797488","title":"마음의 작동법","author":"크리스 나이바우어 (지은이)","publisher":"김영사","priceSales":13500,"subInfo":{"ebookList":[{"isbn13":"9791190000001"}]}}]}`

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *cache.CacheDB) {
	t.Helper()
	testutil.SetTestConfig(t)

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	db, err := cache.Open(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return New(httpjson.New("catalog", srv.URL, httpjson.WithRetryAttempts(1)), db), db
}

func TestLookup_DecodesAndCaches(t *testing.T) {
	var calls atomic.Int32
	c, db := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/lookup", r.URL.Path)
		assert.Equal(t, "9788974797485", r.URL.Query().Get("isbn"))
		_, _ = w.Write([]byte(lookupBody))
	})

	item, err := c.Lookup(context.Background(), "978-89-7479-748-5")
	require.NoError(t, err)
	assert.Equal(t, "마음의 작동법", item.Title)
	assert.Equal(t, "8974797488", item.ISBN10)
	assert.Equal(t, 13500, item.PriceSales)
	require.Len(t, item.SubInfo.EbookList, 1)
	assert.Equal(t, "9791190000001", item.SubInfo.EbookList[0].ISBN13)

	_, err = c.Lookup(context.Background(), "9788974797485")
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
	assert.True(t, db.CacheExists(cache.CatalogTable, "9788974797485"))
}

func TestLookup_MissIsNoResultsAndNegativelyCached(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"totalResults":0,"item":[]}`))
	})

	for range 2 {
		_, err := c.Lookup(context.Background(), "9790000000000")
		assert.True(t, errors.Is(err, bserrors.ErrNoResults))
	}
	assert.Equal(t, int32(1), calls.Load())
}

func TestLookup_HardFailureNotCached(t *testing.T) {
	var calls atomic.Int32
	c, db := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"error":"invalid key"}`))
	})

	_, err := c.Lookup(context.Background(), "9788974797485")
	require.Error(t, err)
	assert.True(t, bserrors.IsSourceError(err))
	assert.False(t, errors.Is(err, bserrors.ErrNoResults))
	assert.False(t, db.CacheExists(cache.CatalogTable, "9788974797485"))
}

func TestSearch(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("query") {
		case "마음":
			assert.Equal(t, "title", r.URL.Query().Get("queryType"))
			_, _ = w.Write([]byte(lookupBody))
		default:
			_, _ = w.Write([]byte(`{"totalResults":0,"item":[]}`))
		}
	})

	items, err := c.Search(context.Background(), "마음", sources.QueryTitle)
	require.NoError(t, err)
	require.Len(t, items, 1)

	_, err = c.Search(context.Background(), "없는 책", sources.QueryKeyword)
	assert.True(t, errors.Is(err, bserrors.ErrNoResults))

	_, err = c.Search(context.Background(), "", sources.QueryKeyword)
	assert.True(t, bserrors.IsValidationError(err))
}

func TestSearch_ISBNUsesLookup(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/lookup", r.URL.Path)
		_, _ = w.Write([]byte(lookupBody))
	})

	items, err := c.Search(context.Background(), "9788974797485", sources.QueryISBN)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}
