package testutil

import (
	"testing"

	"github.com/lepinkainen/bookstock/internal/config"
	"github.com/spf13/viper"
)

// ResetConfig resets viper and schedules another reset when the test
// completes.
func ResetConfig(t *testing.T) {
	t.Helper()

	viper.Reset()
	t.Cleanup(viper.Reset)
}

// SetTestConfigOption is a functional option for configuring test config.
type SetTestConfigOption func(*testConfigOptions)

type testConfigOptions struct {
	batchSize  int
	sourceURLs map[string]string
	apiKey     string
}

// WithBatchSize overrides batch.size.
func WithBatchSize(n int) SetTestConfigOption {
	return func(o *testConfigOptions) {
		o.batchSize = n
	}
}

// WithSourceURL points the source section (e.g. "catalog", "ebook.metro")
// at url, typically an httptest server.
func WithSourceURL(section, url string) SetTestConfigOption {
	return func(o *testConfigOptions) {
		o.sourceURLs[section] = url
	}
}

// WithAPIKey sets the API key used for every source.
func WithAPIKey(key string) SetTestConfigOption {
	return func(o *testConfigOptions) {
		o.apiKey = key
	}
}

// SetTestConfig resets viper, registers the defaults and applies test
// overrides. Batch delays are zeroed so batch tests run fast.
func SetTestConfig(t *testing.T, opts ...SetTestConfigOption) config.Config {
	t.Helper()

	ResetConfig(t)
	config.SetDefaults()

	options := testConfigOptions{
		batchSize:  10,
		sourceURLs: map[string]string{},
		apiKey:     "test-key",
	}
	for _, opt := range opts {
		opt(&options)
	}

	viper.Set("batch.size", options.batchSize)
	viper.Set("batch.delay", "1ms")
	viper.Set("batch.pollinterval", "1ms")
	viper.Set("http.retries", 1)
	for _, section := range []string{"catalog", "paperstock", "ebook.edu", "ebook.county", "ebook.metro", "ebook.subscription"} {
		viper.Set(section+".apikey", options.apiKey)
		viper.Set(section+".rate", 1000)
	}
	for section, url := range options.sourceURLs {
		viper.Set(section+".baseurl", url)
	}

	return config.Load()
}

// SetViperValue sets a viper configuration value and schedules cleanup.
func SetViperValue(t *testing.T, key string, value any) {
	t.Helper()

	oldValue := viper.Get(key)
	hadValue := viper.IsSet(key)

	viper.Set(key, value)

	t.Cleanup(func() {
		// viper has no Unset, so a previously unset key keeps the test value
		if hadValue {
			viper.Set(key, oldValue)
		}
	})
}

// SetupTestCache points the response cache at a database inside env.
func SetupTestCache(t *testing.T, env *TestEnv) string {
	t.Helper()

	env.MkdirAll("cache")
	dbPath := env.Path("cache", "test-cache.db")

	SetViperValue(t, "cache.dbfile", dbPath)
	SetViperValue(t, "cache.ttl", "24h")
	SetViperValue(t, "cache.stockttl", "1h")

	return dbPath
}

// SetupTestDatabase points the library database at a file inside env and
// returns its path.
func SetupTestDatabase(t *testing.T, env *TestEnv) string {
	t.Helper()

	dbPath := env.Path("bookstock.db")
	SetViperValue(t, "database.file", dbPath)
	return dbPath
}
