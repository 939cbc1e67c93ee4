// Package refresh reconciles one book against every external source and
// commits the result through the library's mutation pipeline.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lepinkainen/bookstock/internal/combiner"
	bserrors "github.com/lepinkainen/bookstock/internal/errors"
	"github.com/lepinkainen/bookstock/internal/library"
	"github.com/lepinkainen/bookstock/internal/metrics"
	"github.com/lepinkainen/bookstock/internal/sources"
	"github.com/lepinkainen/bookstock/internal/titlekey"
	"golang.org/x/sync/errgroup"
)

// Service refreshes books held by a library.
type Service struct {
	lib     *library.Library
	sources sources.Set
	now     func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates a refresh service.
func New(lib *library.Library, set sources.Set, opts ...Option) *Service {
	s := &Service{lib: lib, sources: set, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Library returns the library the service writes to.
func (s *Service) Library() *library.Library {
	return s.lib
}

// Refresh confirms the book's catalog entry, fetches every availability source
// and commits the merged API block. A catalog miss aborts the refresh and
// leaves the book untouched. Individual source failures are stored on the book
// as error markers and are not returned.
func (s *Service) Refresh(ctx context.Context, id int64, isbn, title, author string) error {
	start := time.Now()
	err := s.refresh(ctx, id, isbn, title, author)
	metrics.RecordRefresh(refreshResult(err), time.Since(start))
	return err
}

// RefreshBook is Refresh with the arguments taken from the resident book.
func (s *Service) RefreshBook(ctx context.Context, id int64) error {
	b, ok := s.lib.Get(id)
	if !ok {
		slog.Debug("Refresh skipped, book not resident", "id", id)
		return fmt.Errorf("book %d: %w", id, bserrors.ErrNotFound)
	}
	return s.Refresh(ctx, id, b.Catalog.ISBN13, b.Catalog.Title, b.Catalog.Author)
}

func (s *Service) refresh(ctx context.Context, id int64, isbn, title, author string) error {
	book, ok := s.lib.Get(id)
	if !ok {
		slog.Debug("Refresh skipped, book not resident", "id", id)
		return fmt.Errorf("book %d: %w", id, bserrors.ErrNotFound)
	}

	catalog, err := s.sources.Catalog.Lookup(ctx, isbn)
	if err != nil {
		slog.Warn("Catalog lookup failed, refresh aborted", "id", id, "isbn", isbn, "error", err)
		return &bserrors.CatalogMissError{ISBN: isbn, Err: err}
	}

	probe := book.Clone()
	probe.Catalog = catalog
	payloads := s.fetchAll(sources.WithFreshStock(ctx), &probe, titlekey.ForBook(book.User.CustomSearchTitle, title), author)

	// fetches that finished after a cancel are discarded
	if err := ctx.Err(); err != nil {
		return err
	}

	combined := combiner.Canonical(book, catalog, payloads, s.now().UTC())
	if err := s.lib.ApplyRefresh(ctx, id, catalog, func(prev library.APIBlock) library.APIBlock {
		return combiner.Merge(prev, combined)
	}); err != nil {
		return err
	}

	slog.Info("Book refreshed", "id", id, "isbn", isbn, "errors", len(combined.API.Errors))
	return nil
}

// Raw performs the same fetches as Refresh and returns the unmodified
// payloads without changing the book. Unlike Refresh it may answer from the
// response cache.
func (s *Service) Raw(ctx context.Context, id int64) (combiner.RawCombined, error) {
	book, ok := s.lib.Get(id)
	if !ok {
		return combiner.RawCombined{}, fmt.Errorf("book %d: %w", id, bserrors.ErrNotFound)
	}

	catalog, err := s.sources.Catalog.Lookup(ctx, book.Catalog.ISBN13)
	if err != nil {
		return combiner.RawCombined{}, &bserrors.CatalogMissError{ISBN: book.Catalog.ISBN13, Err: err}
	}

	probe := book.Clone()
	probe.Catalog = catalog
	key := titlekey.ForBook(book.User.CustomSearchTitle, catalog.Title)
	return combiner.Raw(catalog, s.fetchAll(ctx, &probe, key, catalog.Author)), nil
}

// fetchAll queries every availability source concurrently. Each source
// failure becomes an error marker in its own slot.
func (s *Service) fetchAll(ctx context.Context, book *library.Book, searchKey, author string) library.Payloads {
	var payloads library.Payloads
	var g errgroup.Group

	isbn := book.PaperISBN()
	if s.sources.PaperStock != nil {
		g.Go(func() error {
			p, err := s.sources.PaperStock.Fetch(ctx, searchKey, isbn)
			payloads.PaperStock = toResult(library.SourcePaperStock, p, err)
			return nil
		})
	}

	q := sources.Query{SearchKey: searchKey, ISBN: isbn, Author: author}
	if ebookISBN := book.EbookISBN(); ebookISBN != "" {
		q.ISBN = ebookISBN
	}
	for _, src := range s.sources.Ebooks {
		slot := payloads.Ebook(src.ID())
		if slot == nil {
			slog.Warn("Unknown e-book source ignored", "source", src.ID())
			continue
		}
		g.Go(func() error {
			p, err := src.Fetch(ctx, q)
			*slot = toResult(src.ID(), p, err)
			return nil
		})
	}

	_ = g.Wait()
	return payloads
}

func toResult[T any](source library.SourceID, payload T, err error) library.Result[T] {
	if err != nil {
		slog.Debug("Source fetch failed", "source", source, "error", err)
		return library.Err[T](errorReason(err))
	}
	return library.Ok(payload)
}

func errorReason(err error) string {
	var se *bserrors.SourceError
	if errors.As(err, &se) && se.Err != nil {
		return se.Err.Error()
	}
	return err.Error()
}

func refreshResult(err error) string {
	switch {
	case err == nil:
		return "success"
	case bserrors.IsCatalogMissError(err):
		return "catalog_miss"
	case bserrors.IsPersistenceError(err):
		return "persistence_error"
	case errors.Is(err, bserrors.ErrNotFound):
		return "not_found"
	}
	return "error"
}
