// Package sources defines the boundary to the external catalog and
// availability services. Implementations live in the subpackages.
package sources

import (
	"context"
	"fmt"

	"github.com/lepinkainen/bookstock/internal/library"
)

// QueryType selects which catalog field a search runs against.
type QueryType string

const (
	QueryKeyword   QueryType = "keyword"
	QueryTitle     QueryType = "title"
	QueryAuthor    QueryType = "author"
	QueryPublisher QueryType = "publisher"
	QueryISBN      QueryType = "isbn"
)

// ParseQueryType validates a user-supplied query type.
func ParseQueryType(s string) (QueryType, error) {
	switch qt := QueryType(s); qt {
	case QueryKeyword, QueryTitle, QueryAuthor, QueryPublisher, QueryISBN:
		return qt, nil
	case "":
		return QueryKeyword, nil
	}
	return "", fmt.Errorf("unknown query type %q", s)
}

// Catalog is the book-catalog lookup source. Search returns
// errors.ErrNoResults when nothing matched.
type Catalog interface {
	Search(ctx context.Context, query string, qt QueryType) ([]library.CatalogItem, error)
	Lookup(ctx context.Context, isbn string) (library.CatalogItem, error)
}

// PaperStock returns holding rows for both physical branches.
type PaperStock interface {
	Fetch(ctx context.Context, subject, isbn string) (library.PaperStockPayload, error)
}

// Query identifies the book an e-book source is asked about.
type Query struct {
	// SearchKey is the normalized title (or the user's override).
	SearchKey string
	ISBN      string
	Author    string
}

// Ebook is one electronic-library source.
type Ebook interface {
	ID() library.SourceID
	Fetch(ctx context.Context, q Query) (library.EbookPayload, error)
}

// Set bundles every source a refresh fans out to.
type Set struct {
	Catalog    Catalog
	PaperStock PaperStock
	Ebooks     []Ebook
}

type freshStockKey struct{}

// WithFreshStock marks ctx so availability sources skip cached answers. The
// fresh answer is still written back to the cache.
func WithFreshStock(ctx context.Context) context.Context {
	return context.WithValue(ctx, freshStockKey{}, true)
}

// FreshStock reports whether ctx was marked by WithFreshStock.
func FreshStock(ctx context.Context) bool {
	fresh, _ := ctx.Value(freshStockKey{}).(bool)
	return fresh
}
