package cache

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/spf13/viper"
	_ "modernc.org/sqlite"
)

const (
	// DefaultCacheTTL is the default time-to-live for catalog entries (30 days)
	DefaultCacheTTL = 720 * time.Hour
	// DefaultStockTTL is the default time-to-live for availability entries
	DefaultStockTTL = 6 * time.Hour
	// NegativeCacheTTL is the TTL for "not found" responses (7 days)
	NegativeCacheTTL = 168 * time.Hour
)

// FetchFunc represents a function that fetches data from an external source
type FetchFunc[T any] func() (T, error)

// CacheDB manages the SQLite database connection for caching
type CacheDB struct {
	db   *sql.DB
	mu   sync.RWMutex
	path string
	now  func() time.Time
}

var (
	globalCache     *CacheDB
	globalCacheOnce sync.Once
)

// ResetGlobalCache closes the current global cache and resets the singleton
// so the next call to GetGlobalCache will create a new instance.
func ResetGlobalCache() error {
	if globalCache != nil {
		if err := globalCache.Close(); err != nil {
			return err
		}
	}
	globalCache = nil
	globalCacheOnce = sync.Once{}
	return nil
}

// GetGlobalCache returns the singleton cache database instance
func GetGlobalCache() (*CacheDB, error) {
	var initErr error
	globalCacheOnce.Do(func() {
		dbPath := viper.GetString("cache.dbfile")
		if dbPath == "" {
			dbPath = "./cache.db"
		}
		globalCache, initErr = Open(dbPath)
	})
	if initErr != nil {
		return nil, initErr
	}
	return globalCache, nil
}

// Open opens the cache database and creates every source table.
func Open(dbPath string) (*CacheDB, error) {
	c, err := NewCacheDB(dbPath)
	if err != nil {
		return nil, err
	}
	for _, schema := range AllCacheSchemas {
		if err := c.CreateTable(schema); err != nil {
			return nil, errors.Join(fmt.Errorf("failed to create cache table: %w", err), c.Close())
		}
	}
	return c, nil
}

// NewCacheDB creates a new CacheDB instance and opens the database connection
func NewCacheDB(dbPath string) (*CacheDB, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	if err := db.Ping(); err != nil {
		closeErr := db.Close()
		return nil, errors.Join(fmt.Errorf("failed to connect to cache database: %w", err), closeErr)
	}

	return &CacheDB{
		db:   db,
		path: dbPath,
		now:  time.Now,
	}, nil
}

// Path returns the database file path.
func (c *CacheDB) Path() string {
	return c.path
}

// CreateTable creates a table using the provided schema
func (c *CacheDB) CreateTable(schema string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}
	return nil
}

// Close closes the database connection
func (c *CacheDB) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// QueryRow executes a query that returns at most one row
func (c *CacheDB) QueryRow(query string, args ...any) *sql.Row {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.db.QueryRow(query, args...)
}

// Exec executes a query without returning any rows
func (c *CacheDB) Exec(query string, args ...any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.db.Exec(query, args...)
	return err
}

// InvalidateSource deletes all entries from the specified cache table and
// returns the number of rows deleted.
func (c *CacheDB) InvalidateSource(tableName string) (int64, error) {
	if err := validateTableName(tableName); err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	result, err := c.db.Exec(fmt.Sprintf("DELETE FROM %s", tableName))
	if err != nil {
		return 0, fmt.Errorf("failed to delete cache entries: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	slog.Debug("Cache table cleared", "table", tableName, "rows_deleted", rowsAffected)
	return rowsAffected, nil
}

// validateTableName checks if the table name is in the whitelist
// to prevent SQL injection attacks
func validateTableName(tableName string) error {
	if !ValidCacheTableNames[tableName] {
		return fmt.Errorf("invalid cache table name: %s", tableName)
	}
	return nil
}

// TTLFor returns the configured lifetime for entries in tableName.
func TTLFor(tableName string) time.Duration {
	if IsStockTable(tableName) {
		return configDuration("cache.stockttl", DefaultStockTTL)
	}
	return configDuration("cache.ttl", DefaultCacheTTL)
}

func configDuration(key string, fallback time.Duration) time.Duration {
	raw := viper.GetString(key)
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		slog.Warn("Invalid cache TTL, using default", "key", key, "ttl", raw, "error", err)
		return fallback
	}
	return d
}

// GetOrFetch retrieves data from the global cache or fetches it using the
// provided function. The entry lives for the table's configured TTL.
func GetOrFetch[T any](tableName, cacheKey string, fetchFunc FetchFunc[T]) (T, bool, error) {
	c, err := GetGlobalCache()
	if err != nil {
		slog.Warn("Failed to initialize cache, fetching directly", "error", err)
		data, fetchErr := fetchFunc()
		return data, false, fetchErr
	}
	return Fetch(c, tableName, cacheKey, fetchFunc, nil)
}

// GetOrFetchWithTTL is GetOrFetch with a TTL chosen from the fetched value.
func GetOrFetchWithTTL[T any](tableName, cacheKey string, fetchFunc FetchFunc[T], ttlSelector func(T) time.Duration) (T, bool, error) {
	c, err := GetGlobalCache()
	if err != nil {
		slog.Warn("Failed to initialize cache, fetching directly", "error", err)
		data, fetchErr := fetchFunc()
		return data, false, fetchErr
	}
	return Fetch(c, tableName, cacheKey, fetchFunc, ttlSelector)
}

// SelectNegativeCacheTTL returns a TTL selector that caches "not found"
// results for NegativeCacheTTL and everything else for the table's TTL.
func SelectNegativeCacheTTL[T any](tableName string, isNotFound func(T) bool) func(T) time.Duration {
	return func(result T) time.Duration {
		if isNotFound(result) {
			return NegativeCacheTTL
		}
		return TTLFor(tableName)
	}
}

// Fetch reads cacheKey from c, calling fetchFunc on a miss and storing its
// result. A nil c disables caching. A nil ttlSelector uses TTLFor(tableName);
// a selected TTL of zero or less skips the store.
func Fetch[T any](c *CacheDB, tableName, cacheKey string, fetchFunc FetchFunc[T], ttlSelector func(T) time.Duration) (T, bool, error) {
	var zero T

	if c == nil {
		data, err := fetchFunc()
		return data, false, err
	}

	cached, fromCache, err := c.Get(tableName, cacheKey)
	if err != nil {
		slog.Warn("Cache lookup failed", "table", tableName, "key", cacheKey, "error", err)
	}
	if fromCache {
		var result T
		if err := json.Unmarshal([]byte(cached), &result); err == nil {
			slog.Debug("Cache hit", "table", tableName, "key", cacheKey)
			return result, true, nil
		}
		slog.Warn("Failed to unmarshal cached data, will refetch", "table", tableName, "key", cacheKey, "error", err)
	}

	slog.Debug("Cache miss, fetching data", "table", tableName, "key", cacheKey)
	data, err := fetchFunc()
	if err != nil {
		return zero, false, fmt.Errorf("failed to fetch data: %w", err)
	}

	storeValue(c, tableName, cacheKey, data, ttlSelector)
	return data, false, nil
}

// FetchFresh always calls fetchFunc and writes the result through to c, so a
// later Fetch sees the new value. A nil c disables caching.
func FetchFresh[T any](c *CacheDB, tableName, cacheKey string, fetchFunc FetchFunc[T], ttlSelector func(T) time.Duration) (T, error) {
	var zero T

	data, err := fetchFunc()
	if err != nil {
		return zero, fmt.Errorf("failed to fetch data: %w", err)
	}
	if c != nil {
		storeValue(c, tableName, cacheKey, data, ttlSelector)
	}
	return data, nil
}

func storeValue[T any](c *CacheDB, tableName, cacheKey string, data T, ttlSelector func(T) time.Duration) {
	ttl := TTLFor(tableName)
	if ttlSelector != nil {
		ttl = ttlSelector(data)
	}
	if ttl <= 0 {
		slog.Debug("Skipping cache store per policy", "table", tableName, "key", cacheKey)
		return
	}

	jsonData, err := json.Marshal(data)
	if err != nil {
		slog.Warn("Failed to marshal data for caching", "table", tableName, "key", cacheKey, "error", err)
		return
	}
	if err := c.Set(tableName, cacheKey, string(jsonData), ttl); err != nil {
		// caching failure must not fail the lookup
		slog.Warn("Failed to cache data", "table", tableName, "key", cacheKey, "error", err)
		return
	}
	slog.Debug("Data cached", "table", tableName, "key", cacheKey, "ttl", ttl)
}

// Get retrieves an unexpired value from the specified table.
// Returns the cached data, whether it was found, and any error.
func (c *CacheDB) Get(tableName, key string) (string, bool, error) {
	if err := validateTableName(tableName); err != nil {
		return "", false, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	query := fmt.Sprintf(`SELECT data, expires_at FROM %s WHERE cache_key = ?`, tableName)

	var data string
	var expiresAt time.Time
	err := c.db.QueryRow(query, key).Scan(&data, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to query cache: %w", err)
	}

	if !c.now().UTC().Before(expiresAt) {
		slog.Debug("Cache expired", "table", tableName, "key", key, "expired_at", expiresAt)
		return "", false, nil
	}

	return data, true, nil
}

// Set stores a value that expires after ttl.
func (c *CacheDB) Set(tableName, key, data string, ttl time.Duration) error {
	if err := validateTableName(tableName); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now().UTC()
	query := fmt.Sprintf(`
		INSERT OR REPLACE INTO %s (cache_key, data, cached_at, expires_at)
		VALUES (?, ?, ?, ?)
	`, tableName)

	if _, err := c.db.Exec(query, key, data, now, now.Add(ttl)); err != nil {
		return fmt.Errorf("failed to set cache: %w", err)
	}
	return nil
}

// ClearExpired removes expired entries from the specified table
func (c *CacheDB) ClearExpired(tableName string) error {
	if err := validateTableName(tableName); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	query := fmt.Sprintf(`DELETE FROM %s WHERE expires_at <= ?`, tableName)
	result, err := c.db.Exec(query, c.now().UTC())
	if err != nil {
		return fmt.Errorf("failed to clear expired cache: %w", err)
	}

	if rows, _ := result.RowsAffected(); rows > 0 {
		slog.Info("Cleared expired cache entries", "table", tableName, "count", rows)
	}
	return nil
}

// ClearAll removes all cache entries from the specified table
func (c *CacheDB) ClearAll(tableName string) error {
	if _, err := c.InvalidateSource(tableName); err != nil {
		return fmt.Errorf("failed to clear cache: %w", err)
	}
	slog.Info("Cache cleared", "table", tableName)
	return nil
}

// CacheExists checks if a cache entry exists for the given key, expired or not
func (c *CacheDB) CacheExists(tableName, key string) bool {
	if err := validateTableName(tableName); err != nil {
		return false
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	query := fmt.Sprintf(`SELECT 1 FROM %s WHERE cache_key = ? LIMIT 1`, tableName)

	var exists int
	return c.db.QueryRow(query, key).Scan(&exists) == nil
}
