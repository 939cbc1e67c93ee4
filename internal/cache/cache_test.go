package cache

import (
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/lepinkainen/bookstock/internal/library"
	"github.com/lepinkainen/bookstock/internal/testutil"
	"github.com/spf13/viper"
)

type TestData struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

type testError struct {
	msg string
}

func (e *testError) Error() string {
	return e.msg
}

func setupTestCache(t *testing.T) *CacheDB {
	t.Helper()

	testutil.ResetConfig(t)

	env := testutil.NewTestEnv(t)
	cache, err := Open(filepath.Join(env.RootDir(), "test_cache.db"))
	if err != nil {
		t.Fatalf("Failed to create cache database: %v", err)
	}
	t.Cleanup(func() { _ = cache.Close() })

	viper.Set("cache.ttl", "1h")
	viper.Set("cache.stockttl", "10m")

	return cache
}

func withGlobalCache(t *testing.T, cache *CacheDB) {
	t.Helper()

	oldCache := globalCache
	globalCache = cache
	globalCacheOnce = sync.Once{}
	globalCacheOnce.Do(func() {})

	t.Cleanup(func() {
		globalCache = oldCache
		globalCacheOnce = sync.Once{}
	})
}

// advance moves the cache clock forward by d.
func advance(cache *CacheDB, d time.Duration) {
	base := cache.now
	cache.now = func() time.Time { return base().Add(d) }
}

func TestGetOrFetch_CacheHit(t *testing.T) {
	cache := setupTestCache(t)
	withGlobalCache(t, cache)

	if err := cache.Set(CatalogTable, "9788974797485", `{"id":1,"name":"Test"}`, time.Hour); err != nil {
		t.Fatalf("Failed to pre-populate cache: %v", err)
	}

	fetchCalled := false
	result, fromCache, err := GetOrFetch(CatalogTable, "9788974797485", func() (TestData, error) {
		fetchCalled = true
		return TestData{}, nil
	})

	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if !fromCache {
		t.Error("Expected fromCache to be true")
	}
	if fetchCalled {
		t.Error("Expected fetch function not to be called")
	}
	if result != (TestData{ID: 1, Name: "Test"}) {
		t.Errorf("Unexpected result %+v", result)
	}
}

func TestGetOrFetch_CacheMiss(t *testing.T) {
	cache := setupTestCache(t)
	withGlobalCache(t, cache)

	expected := TestData{ID: 2, Name: "Fetched"}
	fetchCalled := 0
	fetchFunc := func() (TestData, error) {
		fetchCalled++
		return expected, nil
	}

	result, fromCache, err := GetOrFetch(MetroEbookTable, "key", fetchFunc)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if fromCache {
		t.Error("Expected fromCache to be false")
	}
	if result != expected {
		t.Errorf("Expected %+v, got %+v", expected, result)
	}
	if !cache.CacheExists(MetroEbookTable, "key") {
		t.Error("Expected cache entry to be created")
	}

	result, fromCache, err = GetOrFetch(MetroEbookTable, "key", fetchFunc)
	if err != nil {
		t.Fatalf("Expected no error on second call, got %v", err)
	}
	if !fromCache || fetchCalled != 1 {
		t.Errorf("Expected second call from cache, fromCache=%v fetches=%d", fromCache, fetchCalled)
	}
	if result != expected {
		t.Errorf("Expected %+v from cache, got %+v", expected, result)
	}
}

func TestGetOrFetch_StockTablesExpireSooner(t *testing.T) {
	cache := setupTestCache(t)
	withGlobalCache(t, cache)

	fetches := 0
	fetch := func() (TestData, error) {
		fetches++
		return TestData{ID: fetches}, nil
	}

	if _, _, err := GetOrFetch(PaperStockTable, "k", fetch); err != nil {
		t.Fatalf("GetOrFetch paper stock: %v", err)
	}
	if _, _, err := GetOrFetch(CatalogTable, "k", fetch); err != nil {
		t.Fatalf("GetOrFetch catalog: %v", err)
	}

	// past the 10m stock TTL but inside the 1h catalog TTL
	advance(cache, 30*time.Minute)

	stock, stockHit, err := GetOrFetch(PaperStockTable, "k", fetch)
	if err != nil {
		t.Fatalf("GetOrFetch paper stock: %v", err)
	}
	_, catalogHit, err := GetOrFetch(CatalogTable, "k", fetch)
	if err != nil {
		t.Fatalf("GetOrFetch catalog: %v", err)
	}

	if stockHit {
		t.Error("Expected stock entry to have expired")
	}
	if stock.ID != 3 {
		t.Errorf("Expected refetched stock data, got %+v", stock)
	}
	if !catalogHit {
		t.Error("Expected catalog entry to still be fresh")
	}
}

func TestGetOrFetch_FetchError(t *testing.T) {
	cache := setupTestCache(t)
	withGlobalCache(t, cache)

	result, fromCache, err := GetOrFetch(CatalogTable, "key", func() (TestData, error) {
		return TestData{}, &testError{"fetch failed"}
	})

	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	if fromCache {
		t.Error("Expected fromCache to be false")
	}
	if result != (TestData{}) {
		t.Errorf("Expected zero value, got %+v", result)
	}
	if cache.CacheExists(CatalogTable, "key") {
		t.Error("Failed fetches must not be cached")
	}
}

func TestGetOrFetchWithTTL_NegativeCaching(t *testing.T) {
	cache := setupTestCache(t)
	withGlobalCache(t, cache)

	type cachedItem struct {
		Data     *TestData `json:"data"`
		NotFound bool      `json:"not_found"`
	}

	selector := SelectNegativeCacheTTL(CatalogTable, func(r cachedItem) bool { return r.NotFound })

	_, _, err := GetOrFetchWithTTL(CatalogTable, "missing", func() (cachedItem, error) {
		return cachedItem{NotFound: true}, nil
	}, selector)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	// beyond the 1h positive TTL, inside the 7 day negative TTL
	advance(cache, 48*time.Hour)

	result, fromCache, err := GetOrFetchWithTTL(CatalogTable, "missing", func() (cachedItem, error) {
		t.Fatal("negative entry should still be cached")
		return cachedItem{}, nil
	}, selector)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if !fromCache || !result.NotFound {
		t.Errorf("Expected cached not-found result, got %+v fromCache=%v", result, fromCache)
	}
}

func TestFetch_NilCacheCallsThrough(t *testing.T) {
	calls := 0
	result, fromCache, err := Fetch[TestData](nil, CatalogTable, "k", func() (TestData, error) {
		calls++
		return TestData{ID: 9}, nil
	}, nil)

	if err != nil || fromCache || calls != 1 || result.ID != 9 {
		t.Fatalf("unexpected result %+v fromCache=%v calls=%d err=%v", result, fromCache, calls, err)
	}
}

func TestFetchFresh_IgnoresCachedValueAndWritesThrough(t *testing.T) {
	cache := setupTestCache(t)

	if _, _, err := Fetch(cache, PaperStockTable, "k", func() (TestData, error) {
		return TestData{ID: 1, Name: "stale"}, nil
	}, nil); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	calls := 0
	fresh, err := FetchFresh(cache, PaperStockTable, "k", func() (TestData, error) {
		calls++
		return TestData{ID: 1, Name: "fresh"}, nil
	}, nil)
	if err != nil || calls != 1 || fresh.Name != "fresh" {
		t.Fatalf("unexpected result %+v calls=%d err=%v", fresh, calls, err)
	}

	cached, fromCache, err := Fetch(cache, PaperStockTable, "k", func() (TestData, error) {
		t.Error("fetch should not run on a cache hit")
		return TestData{}, nil
	}, nil)
	if err != nil || !fromCache || cached.Name != "fresh" {
		t.Fatalf("expected the fresh value from cache, got %+v fromCache=%v err=%v", cached, fromCache, err)
	}
}

func TestFetchFresh_ErrorKeepsCachedValue(t *testing.T) {
	cache := setupTestCache(t)

	if _, _, err := Fetch(cache, PaperStockTable, "k", func() (TestData, error) {
		return TestData{ID: 1, Name: "kept"}, nil
	}, nil); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	_, err := FetchFresh(cache, PaperStockTable, "k", func() (TestData, error) {
		return TestData{}, &testError{msg: "down"}
	}, nil)
	if err == nil {
		t.Fatal("Expected an error")
	}
	if !cache.CacheExists(PaperStockTable, "k") {
		t.Error("Expected the earlier entry to survive a failed fetch")
	}
}

func TestFetch_NonPositiveTTLSkipsStore(t *testing.T) {
	cache := setupTestCache(t)

	_, _, err := Fetch(cache, EduEbookTable, "k", func() (TestData, error) {
		return TestData{ID: 1}, nil
	}, func(TestData) time.Duration { return 0 })
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if cache.CacheExists(EduEbookTable, "k") {
		t.Error("Expected nothing to be stored")
	}
}

func TestCacheDB_GetSet(t *testing.T) {
	cache := setupTestCache(t)

	if err := cache.Set(CountyEbookTable, "k", `{"id":5,"name":"x"}`, time.Hour); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	data, found, err := cache.Get(CountyEbookTable, "k")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !found {
		t.Fatal("Expected entry to be found")
	}

	var decoded TestData
	if err := json.Unmarshal([]byte(data), &decoded); err != nil {
		t.Fatalf("Failed to unmarshal: %v", err)
	}
	if decoded.ID != 5 {
		t.Errorf("Expected id 5, got %d", decoded.ID)
	}
}

func TestCacheDB_GetExpired(t *testing.T) {
	cache := setupTestCache(t)

	if err := cache.Set(CatalogTable, "k", `{}`, time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	advance(cache, 2*time.Minute)

	_, found, err := cache.Get(CatalogTable, "k")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if found {
		t.Error("Expected expired entry to be a miss")
	}
	if !cache.CacheExists(CatalogTable, "k") {
		t.Error("Expired entries stay until cleared")
	}
}

func TestCacheDB_ClearExpired(t *testing.T) {
	cache := setupTestCache(t)

	if err := cache.Set(CatalogTable, "old", `{}`, time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := cache.Set(CatalogTable, "new", `{}`, 24*time.Hour); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	advance(cache, time.Hour)

	if err := cache.ClearExpired(CatalogTable); err != nil {
		t.Fatalf("ClearExpired failed: %v", err)
	}

	if cache.CacheExists(CatalogTable, "old") {
		t.Error("Expected old entry to be removed")
	}
	if !cache.CacheExists(CatalogTable, "new") {
		t.Error("Expected new entry to remain")
	}
}

func TestCacheDB_InvalidateSource(t *testing.T) {
	cache := setupTestCache(t)

	for _, key := range []string{"a", "b", "c"} {
		if err := cache.Set(PaperStockTable, key, `{}`, time.Hour); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
	}
	if err := cache.Set(CatalogTable, "a", `{}`, time.Hour); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	rows, err := cache.InvalidateSource(PaperStockTable)
	if err != nil {
		t.Fatalf("InvalidateSource failed: %v", err)
	}
	if rows != 3 {
		t.Errorf("Expected 3 rows deleted, got %d", rows)
	}
	if !cache.CacheExists(CatalogTable, "a") {
		t.Error("Other tables must be untouched")
	}
}

func TestCacheDB_InvalidTableRejected(t *testing.T) {
	cache := setupTestCache(t)

	if _, err := cache.InvalidateSource("books; DROP TABLE books"); err == nil {
		t.Error("Expected invalid table name to be rejected")
	}
	if err := cache.Set("unknown_cache", "k", "{}", time.Hour); err == nil {
		t.Error("Expected Set on unknown table to fail")
	}
}

func TestTableFor(t *testing.T) {
	for _, id := range append([]library.SourceID{library.SourceCatalog}, library.AvailabilitySources...) {
		table, err := TableFor(id)
		if err != nil {
			t.Fatalf("TableFor(%s): %v", id, err)
		}
		if !ValidCacheTableNames[table] {
			t.Errorf("table %s for %s is not whitelisted", table, id)
		}
	}

	if _, err := TableFor("goodreads"); err == nil {
		t.Error("Expected unknown source to fail")
	}
}

func TestTablesFor(t *testing.T) {
	all, err := tablesFor("all")
	if err != nil {
		t.Fatalf("tablesFor(all): %v", err)
	}
	if len(all) != len(ValidCacheTableNames) {
		t.Errorf("Expected %d tables, got %d", len(ValidCacheTableNames), len(all))
	}

	one, err := tablesFor("metro_ebook")
	if err != nil || len(one) != 1 || one[0] != MetroEbookTable {
		t.Errorf("tablesFor(metro_ebook) = %v, %v", one, err)
	}

	if _, err := tablesFor("tmdb"); err == nil {
		t.Error("Expected unknown source to fail")
	}
}
