// Package catalog is the client for the book-catalog lookup service.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/lepinkainen/bookstock/internal/cache"
	bserrors "github.com/lepinkainen/bookstock/internal/errors"
	"github.com/lepinkainen/bookstock/internal/library"
	"github.com/lepinkainen/bookstock/internal/matcher"
	"github.com/lepinkainen/bookstock/internal/metrics"
	"github.com/lepinkainen/bookstock/internal/sources"
	"github.com/lepinkainen/bookstock/internal/sources/httpjson"
)

// MaxResults caps a search page.
const MaxResults = 50

// Client implements sources.Catalog.
type Client struct {
	http  *httpjson.Client
	cache *cache.CacheDB
}

var _ sources.Catalog = (*Client)(nil)

// New creates a catalog client. A nil cache disables response caching.
func New(http *httpjson.Client, c *cache.CacheDB) *Client {
	return &Client{http: http, cache: c}
}

// response matches the catalog's item list envelope.
type response struct {
	TotalResults int                   `json:"totalResults"`
	Items        []library.CatalogItem `json:"item"`
}

// cachedLookup wraps a lookup result for caching, including misses.
type cachedLookup struct {
	Item     *library.CatalogItem `json:"item"`
	NotFound bool                 `json:"not_found"`
}

// Search runs a catalog search. Searches are not cached.
func (c *Client) Search(ctx context.Context, query string, qt sources.QueryType) ([]library.CatalogItem, error) {
	if query == "" {
		return nil, &bserrors.ValidationError{Field: "query", Message: "must not be empty"}
	}
	if qt == sources.QueryISBN {
		item, err := c.Lookup(ctx, query)
		if err != nil {
			return nil, err
		}
		return []library.CatalogItem{item}, nil
	}

	params := url.Values{
		"query":      {query},
		"queryType":  {string(qt)},
		"maxResults": {fmt.Sprint(MaxResults)},
	}

	var resp response
	if err := c.http.GetJSON(ctx, "search", params, &resp); err != nil {
		return nil, err
	}
	if len(resp.Items) == 0 {
		return nil, fmt.Errorf("%q: %w", query, bserrors.ErrNoResults)
	}
	return resp.Items, nil
}

// Lookup fetches the item for an ISBN. Misses are cached for
// cache.NegativeCacheTTL.
func (c *Client) Lookup(ctx context.Context, isbn string) (library.CatalogItem, error) {
	isbn = matcher.NormalizeISBN(isbn)
	if isbn == "" {
		return library.CatalogItem{}, &bserrors.ValidationError{Field: "isbn", Message: "must not be empty"}
	}

	cached, fromCache, err := cache.Fetch(c.cache, cache.CatalogTable, isbn, func() (cachedLookup, error) {
		return c.fetchLookup(ctx, isbn)
	}, cache.SelectNegativeCacheTTL(cache.CatalogTable, func(r cachedLookup) bool {
		return r.NotFound
	}))
	if err != nil {
		return library.CatalogItem{}, err
	}
	if fromCache {
		metrics.SourceCacheHits.WithLabelValues(string(library.SourceCatalog)).Inc()
	}
	if cached.NotFound || cached.Item == nil {
		return library.CatalogItem{}, fmt.Errorf("isbn %s: %w", isbn, bserrors.ErrNoResults)
	}
	return *cached.Item, nil
}

func (c *Client) fetchLookup(ctx context.Context, isbn string) (cachedLookup, error) {
	var resp response
	err := c.http.GetJSON(ctx, "lookup", url.Values{"isbn": {isbn}}, &resp)
	if errors.Is(err, bserrors.ErrNotFound) {
		return cachedLookup{NotFound: true}, nil
	}
	if err != nil {
		return cachedLookup{}, err
	}
	if len(resp.Items) == 0 {
		return cachedLookup{NotFound: true}, nil
	}
	item := resp.Items[0]
	return cachedLookup{Item: &item}, nil
}
