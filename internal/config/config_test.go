package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	SetDefaults()
	cfg := Load()

	assert.Equal(t, "./bookstock.db", cfg.DatabasePath)
	assert.Equal(t, 720*time.Hour, cfg.CacheTTL)
	assert.Equal(t, 6*time.Hour, cfg.StockCacheTTL)
	assert.Equal(t, 10, cfg.BatchSize)
	assert.Equal(t, time.Second, cfg.BatchDelay)
	assert.Equal(t, 500*time.Millisecond, cfg.PausePoll)
	assert.Equal(t, 2, cfg.MetroEbook.RatePerSecond)
	assert.Equal(t, 3, cfg.RetryAttempts)
}

func TestLoad_Overrides(t *testing.T) {
	testCases := []struct {
		name  string
		key   string
		value any
		check func(t *testing.T, cfg Config)
	}{
		{
			name:  "batch size",
			key:   "batch.size",
			value: 25,
			check: func(t *testing.T, cfg Config) { assert.Equal(t, 25, cfg.BatchSize) },
		},
		{
			name:  "non-positive batch size falls back",
			key:   "batch.size",
			value: 0,
			check: func(t *testing.T, cfg Config) { assert.Equal(t, 10, cfg.BatchSize) },
		},
		{
			name:  "invalid delay falls back",
			key:   "batch.delay",
			value: "soon",
			check: func(t *testing.T, cfg Config) { assert.Equal(t, time.Second, cfg.BatchDelay) },
		},
		{
			name:  "source base url",
			key:   "ebook.metro.baseurl",
			value: "http://metro.example",
			check: func(t *testing.T, cfg Config) { assert.Equal(t, "http://metro.example", cfg.MetroEbook.BaseURL) },
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			viper.Reset()
			t.Cleanup(viper.Reset)
			SetDefaults()

			viper.Set(tc.key, tc.value)

			tc.check(t, Load())
		})
	}
}

func TestBindEnv_APIKey(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	t.Setenv("CATALOG_API_KEY", "ttb-secret")

	SetDefaults()
	BindEnv()

	assert.Equal(t, "ttb-secret", Load().Catalog.APIKey)
}
