// Package paperstock is the client for the paper holdings service that covers
// both physical branches.
package paperstock

import (
	"context"
	"net/url"

	"github.com/lepinkainen/bookstock/internal/cache"
	bserrors "github.com/lepinkainen/bookstock/internal/errors"
	"github.com/lepinkainen/bookstock/internal/library"
	"github.com/lepinkainen/bookstock/internal/matcher"
	"github.com/lepinkainen/bookstock/internal/metrics"
	"github.com/lepinkainen/bookstock/internal/sources"
	"github.com/lepinkainen/bookstock/internal/sources/httpjson"
)

// Client implements sources.PaperStock.
type Client struct {
	http  *httpjson.Client
	cache *cache.CacheDB
}

var _ sources.PaperStock = (*Client)(nil)

// New creates a paper-stock client. A nil cache disables response caching.
func New(http *httpjson.Client, c *cache.CacheDB) *Client {
	return &Client{http: http, cache: c}
}

// Fetch returns every holding row for the book at both branches. A context
// marked with sources.WithFreshStock bypasses cached answers.
func (c *Client) Fetch(ctx context.Context, subject, isbn string) (library.PaperStockPayload, error) {
	isbn = matcher.NormalizeISBN(isbn)
	if isbn == "" && subject == "" {
		return library.PaperStockPayload{}, &bserrors.ValidationError{Field: "isbn", Message: "isbn or subject required"}
	}

	fetch := func() (library.PaperStockPayload, error) {
		var p library.PaperStockPayload
		err := c.http.GetJSON(ctx, "holdings", url.Values{"subject": {subject}, "isbn": {isbn}}, &p)
		return p, err
	}
	key := isbn + "|" + subject

	if sources.FreshStock(ctx) {
		return cache.FetchFresh(c.cache, cache.PaperStockTable, key, fetch, nil)
	}

	payload, fromCache, err := cache.Fetch(c.cache, cache.PaperStockTable, key, fetch, nil)
	if err != nil {
		return library.PaperStockPayload{}, err
	}
	if fromCache {
		metrics.SourceCacheHits.WithLabelValues(string(library.SourcePaperStock)).Inc()
	}
	return payload, nil
}
