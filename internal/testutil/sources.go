package testutil

import (
	"context"
	"fmt"
	"sync"

	bserrors "github.com/lepinkainen/bookstock/internal/errors"
	"github.com/lepinkainen/bookstock/internal/library"
	"github.com/lepinkainen/bookstock/internal/sources"
)

// FakeCatalog serves items from a map keyed by ISBN-13.
type FakeCatalog struct {
	mu    sync.Mutex
	Items map[string]library.CatalogItem
	Err   error
	Calls int
}

var _ sources.Catalog = (*FakeCatalog)(nil)

// NewFakeCatalog returns a catalog that knows items.
func NewFakeCatalog(items ...library.CatalogItem) *FakeCatalog {
	c := &FakeCatalog{Items: make(map[string]library.CatalogItem)}
	for _, item := range items {
		c.Items[item.ISBN13] = item
	}
	return c
}

func (c *FakeCatalog) Search(ctx context.Context, query string, qt sources.QueryType) ([]library.CatalogItem, error) {
	if qt == sources.QueryISBN {
		item, err := c.Lookup(ctx, query)
		if err != nil {
			return nil, err
		}
		return []library.CatalogItem{item}, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Calls++
	if c.Err != nil {
		return nil, c.Err
	}
	var out []library.CatalogItem
	for _, item := range c.Items {
		if item.Title == query || item.Author == query {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return nil, bserrors.ErrNoResults
	}
	return out, nil
}

func (c *FakeCatalog) Lookup(_ context.Context, isbn string) (library.CatalogItem, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Calls++
	if c.Err != nil {
		return library.CatalogItem{}, c.Err
	}
	item, ok := c.Items[isbn]
	if !ok {
		return library.CatalogItem{}, fmt.Errorf("isbn %s: %w", isbn, bserrors.ErrNoResults)
	}
	return item, nil
}

// FakePaperStock returns a fixed payload or error.
type FakePaperStock struct {
	Payload library.PaperStockPayload
	Err     error
}

var _ sources.PaperStock = (*FakePaperStock)(nil)

func (p *FakePaperStock) Fetch(ctx context.Context, _, _ string) (library.PaperStockPayload, error) {
	if err := ctx.Err(); err != nil {
		return library.PaperStockPayload{}, err
	}
	if p.Err != nil {
		return library.PaperStockPayload{}, p.Err
	}
	return p.Payload, nil
}

// FakeEbook returns a fixed payload or error for one e-book source. Hook,
// when set, runs before every fetch.
type FakeEbook struct {
	Source  library.SourceID
	Payload library.EbookPayload
	Err     error
	Hook    func(ctx context.Context, q sources.Query)

	mu      sync.Mutex
	Queries []sources.Query
}

var _ sources.Ebook = (*FakeEbook)(nil)

func (e *FakeEbook) ID() library.SourceID { return e.Source }

func (e *FakeEbook) Fetch(ctx context.Context, q sources.Query) (library.EbookPayload, error) {
	e.mu.Lock()
	e.Queries = append(e.Queries, q)
	e.mu.Unlock()
	if e.Hook != nil {
		e.Hook(ctx, q)
	}
	if err := ctx.Err(); err != nil {
		return library.EbookPayload{}, err
	}
	if e.Err != nil {
		return library.EbookPayload{}, bserrors.NewSourceError(string(e.Source), e.Err)
	}
	return e.Payload, nil
}

// FakeSources returns a Set with an empty paper stock and four e-book
// sources that report nothing available.
func FakeSources(catalog *FakeCatalog) (sources.Set, *FakePaperStock, map[library.SourceID]*FakeEbook) {
	paper := &FakePaperStock{}
	ebooks := make(map[library.SourceID]*FakeEbook)
	set := sources.Set{Catalog: catalog, PaperStock: paper}
	for _, id := range library.AvailabilitySources[1:] {
		e := &FakeEbook{Source: id}
		ebooks[id] = e
		set.Ebooks = append(set.Ebooks, e)
	}
	return set, paper, ebooks
}
