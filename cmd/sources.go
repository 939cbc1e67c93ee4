package cmd

import (
	"fmt"
	"log/slog"

	"github.com/lepinkainen/bookstock/internal/breaker"
	"github.com/lepinkainen/bookstock/internal/cache"
	"github.com/lepinkainen/bookstock/internal/config"
	"github.com/lepinkainen/bookstock/internal/library"
	"github.com/lepinkainen/bookstock/internal/ratelimit"
	"github.com/lepinkainen/bookstock/internal/sources"
	"github.com/lepinkainen/bookstock/internal/sources/catalog"
	"github.com/lepinkainen/bookstock/internal/sources/ebook"
	"github.com/lepinkainen/bookstock/internal/sources/httpjson"
	"github.com/lepinkainen/bookstock/internal/sources/paperstock"
)

// buildSources creates the HTTP clients for every configured source. Each
// source gets its own limiter and breaker. Only the catalog is required;
// availability sources without a base URL are left out of the set.
func buildSources(cfg config.Config) (sources.Set, error) {
	if cfg.Catalog.BaseURL == "" {
		return sources.Set{}, fmt.Errorf("catalog.baseurl is not configured")
	}

	responses, err := cache.GetGlobalCache()
	if err != nil {
		slog.Warn("Response cache unavailable, continuing without it", "error", err)
		responses = nil
	}

	limiters := ratelimit.NewRegistry()
	breakers := breaker.NewRegistry(httpjson.BreakerSettings())

	client := func(id library.SourceID, sc config.SourceConfig) *httpjson.Client {
		name := string(id)
		return httpjson.New(name, sc.BaseURL,
			httpjson.WithTimeout(cfg.HTTPTimeout),
			httpjson.WithAPIKey(sc.APIKey),
			httpjson.WithLimiter(limiters.Get(name, sc.RatePerSecond)),
			httpjson.WithBreaker(breakers.Get(name)),
			httpjson.WithRetryAttempts(cfg.RetryAttempts),
		)
	}

	set := sources.Set{
		Catalog: catalog.New(client(library.SourceCatalog, cfg.Catalog), responses),
	}

	if cfg.PaperStock.BaseURL != "" {
		set.PaperStock = paperstock.New(client(library.SourcePaperStock, cfg.PaperStock), responses)
	} else {
		slog.Debug("Paper stock source not configured")
	}

	ebooks := []struct {
		id library.SourceID
		sc config.SourceConfig
	}{
		{library.SourceEduEbook, cfg.EduEbook},
		{library.SourceCountyEbook, cfg.CountyEbook},
		{library.SourceMetroEbook, cfg.MetroEbook},
		{library.SourceSubscriptionEbook, cfg.SubscriptionEbook},
	}
	for _, e := range ebooks {
		if e.sc.BaseURL == "" {
			slog.Debug("E-book source not configured", "source", e.id)
			continue
		}
		set.Ebooks = append(set.Ebooks, ebook.New(e.id, client(e.id, e.sc), responses))
	}

	return set, nil
}
