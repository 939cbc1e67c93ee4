package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/lepinkainen/bookstock/internal/library"
)

// FixedTime is the clock used by fixtures.
var FixedTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// CatalogItem returns a catalog item with the given ISBN and title.
func CatalogItem(isbn, title, author string) library.CatalogItem {
	return library.CatalogItem{
		ISBN13:    isbn,
		Title:     title,
		Author:    author,
		Publisher: "Test Press",
		PubDate:   "2023-05-01",
	}
}

// WithEbookISBN attaches an e-book edition to item.
func WithEbookISBN(item library.CatalogItem, isbn string) library.CatalogItem {
	item.SubInfo.EbookList = append(item.SubInfo.EbookList, library.EbookEdition{ISBN13: isbn})
	return item
}

// SeedBooks stores n books in repo, the i-th (0-based) added i minutes after
// FixedTime, and returns them in insertion order.
func SeedBooks(t *testing.T, repo *MemoryRepository, n int) []library.Book {
	t.Helper()

	books := make([]library.Book, 0, n)
	for i := range n {
		item := CatalogItem(fmt.Sprintf("979119276%04d", i), fmt.Sprintf("Book %d", i), "Author")
		b := library.NewBook(item, FixedTime.Add(time.Duration(i)*time.Minute))
		books = append(books, repo.Seed(b))
	}
	return books
}

// NewLoadedLibrary returns a library over repo with everything loaded.
func NewLoadedLibrary(t *testing.T, repo *MemoryRepository, opts ...library.Option) *library.Library {
	t.Helper()

	opts = append([]library.Option{library.WithClock(func() time.Time { return FixedTime })}, opts...)
	lib := library.New(repo, opts...)
	if err := lib.Load(context.Background()); err != nil {
		t.Fatalf("failed to load library: %v", err)
	}
	return lib
}
