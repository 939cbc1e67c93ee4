// Package ebook is the client shared by the electronic-library sources. Each
// source speaks the same search endpoint; they differ in base URL, key and
// whether their result list has to be identity-matched.
package ebook

import (
	"context"
	"net/url"
	"strings"

	"github.com/lepinkainen/bookstock/internal/cache"
	bserrors "github.com/lepinkainen/bookstock/internal/errors"
	"github.com/lepinkainen/bookstock/internal/library"
	"github.com/lepinkainen/bookstock/internal/matcher"
	"github.com/lepinkainen/bookstock/internal/metrics"
	"github.com/lepinkainen/bookstock/internal/sources"
	"github.com/lepinkainen/bookstock/internal/sources/httpjson"
)

// Client implements sources.Ebook for one source.
type Client struct {
	id    library.SourceID
	http  *httpjson.Client
	cache *cache.CacheDB
}

var _ sources.Ebook = (*Client)(nil)

// New creates a client for source id. A nil cache disables response caching.
func New(id library.SourceID, http *httpjson.Client, c *cache.CacheDB) *Client {
	return &Client{id: id, http: http, cache: c}
}

// ID returns the source this client talks to.
func (c *Client) ID() library.SourceID {
	return c.id
}

// Fetch queries the source for q. A context marked with
// sources.WithFreshStock bypasses cached answers.
func (c *Client) Fetch(ctx context.Context, q sources.Query) (library.EbookPayload, error) {
	isbn := matcher.NormalizeISBN(q.ISBN)
	key := strings.TrimSpace(q.SearchKey)
	if key == "" && isbn == "" {
		return library.EbookPayload{}, &bserrors.ValidationError{Field: "query", Message: "search key or isbn required"}
	}

	table, err := cache.TableFor(c.id)
	if err != nil {
		return library.EbookPayload{}, err
	}

	params := url.Values{"query": {key}}
	if isbn != "" {
		params.Set("isbn", isbn)
	}
	if q.Author != "" {
		params.Set("author", q.Author)
	}

	fetch := func() (library.EbookPayload, error) {
		var p library.EbookPayload
		err := c.http.GetJSON(ctx, "search", params, &p)
		return p, err
	}

	if sources.FreshStock(ctx) {
		return cache.FetchFresh(c.cache, table, key+"|"+isbn, fetch, nil)
	}

	payload, fromCache, err := cache.Fetch(c.cache, table, key+"|"+isbn, fetch, nil)
	if err != nil {
		return library.EbookPayload{}, err
	}
	if fromCache {
		metrics.SourceCacheHits.WithLabelValues(string(c.id)).Inc()
	}
	return payload, nil
}
