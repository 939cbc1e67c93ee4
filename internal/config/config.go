// Package config exposes the viper-backed settings as a typed snapshot.
package config

import (
	"log/slog"
	"time"

	"github.com/spf13/viper"
)

// SourceConfig holds connection settings for one external source.
type SourceConfig struct {
	BaseURL       string
	APIKey        string
	RatePerSecond int
}

// Config is a snapshot of all settings.
type Config struct {
	DatabasePath     string
	RemoteStoreURL   string
	RemoteStoreToken string

	CacheDBFile   string
	CacheTTL      time.Duration
	StockCacheTTL time.Duration

	Catalog           SourceConfig
	PaperStock        SourceConfig
	EduEbook          SourceConfig
	CountyEbook       SourceConfig
	MetroEbook        SourceConfig
	SubscriptionEbook SourceConfig

	BatchSize       int
	BatchDelay      time.Duration
	PausePoll       time.Duration
	HTTPTimeout     time.Duration
	RetryAttempts   int
	CoverDir        string
	CoverMaxWidth   int
	MetricsAddr     string
	RecentLoadLimit int
}

// sourceKeys are the viper sections for each source.
var sourceKeys = []string{"catalog", "paperstock", "ebook.edu", "ebook.county", "ebook.metro", "ebook.subscription"}

// SetDefaults registers default values for every key.
func SetDefaults() {
	viper.SetDefault("database.file", "./bookstock.db")
	viper.SetDefault("remote.url", "")
	viper.SetDefault("remote.token", "")

	viper.SetDefault("cache.dbfile", "./cache.db")
	viper.SetDefault("cache.ttl", "720h")   // catalog data: 30 days
	viper.SetDefault("cache.stockttl", "6h") // availability goes stale quickly

	for _, key := range sourceKeys {
		viper.SetDefault(key+".baseurl", "")
		viper.SetDefault(key+".apikey", "")
		viper.SetDefault(key+".rate", 2)
	}

	viper.SetDefault("batch.size", 10)
	viper.SetDefault("batch.delay", "1s")
	viper.SetDefault("batch.pollinterval", "500ms")
	viper.SetDefault("batch.recentlimit", 50)

	viper.SetDefault("http.timeout", "10s")
	viper.SetDefault("http.retries", 3)

	viper.SetDefault("covers.dir", "./covers")
	viper.SetDefault("covers.maxwidth", 600)

	viper.SetDefault("metrics.addr", "")
}

// BindEnv binds API keys to their conventional environment variables.
func BindEnv() {
	bindings := map[string]string{
		"catalog.apikey":            "CATALOG_API_KEY",
		"paperstock.apikey":         "PAPERSTOCK_API_KEY",
		"ebook.edu.apikey":          "EBOOK_EDU_API_KEY",
		"ebook.county.apikey":       "EBOOK_COUNTY_API_KEY",
		"ebook.metro.apikey":        "EBOOK_METRO_API_KEY",
		"ebook.subscription.apikey": "EBOOK_SUBSCRIPTION_API_KEY",
		"remote.token":              "BOOKSTOCK_REMOTE_TOKEN",
	}
	for key, env := range bindings {
		if err := viper.BindEnv(key, env); err != nil {
			slog.Error("Failed to bind environment variable", "key", key, "env", env, "error", err)
		}
	}
}

// Load reads the current viper state.
func Load() Config {
	return Config{
		DatabasePath:     viper.GetString("database.file"),
		RemoteStoreURL:   viper.GetString("remote.url"),
		RemoteStoreToken: viper.GetString("remote.token"),

		CacheDBFile:   viper.GetString("cache.dbfile"),
		CacheTTL:      duration("cache.ttl", 720*time.Hour),
		StockCacheTTL: duration("cache.stockttl", 6*time.Hour),

		Catalog:           source("catalog"),
		PaperStock:        source("paperstock"),
		EduEbook:          source("ebook.edu"),
		CountyEbook:       source("ebook.county"),
		MetroEbook:        source("ebook.metro"),
		SubscriptionEbook: source("ebook.subscription"),

		BatchSize:       positive(viper.GetInt("batch.size"), 10),
		BatchDelay:      duration("batch.delay", time.Second),
		PausePoll:       duration("batch.pollinterval", 500*time.Millisecond),
		HTTPTimeout:     duration("http.timeout", 10*time.Second),
		RetryAttempts:   positive(viper.GetInt("http.retries"), 3),
		CoverDir:        viper.GetString("covers.dir"),
		CoverMaxWidth:   positive(viper.GetInt("covers.maxwidth"), 600),
		MetricsAddr:     viper.GetString("metrics.addr"),
		RecentLoadLimit: positive(viper.GetInt("batch.recentlimit"), 50),
	}
}

func source(key string) SourceConfig {
	return SourceConfig{
		BaseURL:       viper.GetString(key + ".baseurl"),
		APIKey:        viper.GetString(key + ".apikey"),
		RatePerSecond: positive(viper.GetInt(key+".rate"), 2),
	}
}

// duration parses a duration key, falling back on empty or invalid values.
func duration(key string, fallback time.Duration) time.Duration {
	raw := viper.GetString(key)
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		slog.Warn("Invalid duration in config, using default", "key", key, "value", raw, "error", err)
		return fallback
	}
	return d
}

func positive(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}
