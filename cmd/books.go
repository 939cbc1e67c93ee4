package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	bserrors "github.com/lepinkainen/bookstock/internal/errors"
	"github.com/lepinkainen/bookstock/internal/library"
	"github.com/lepinkainen/bookstock/internal/sources"
	"github.com/lepinkainen/bookstock/internal/tui"
)

// selectCatalogItem shows the interactive picker; tests replace it.
var selectCatalogItem = tui.Select

// SearchCmd searches the catalog
type SearchCmd struct {
	Query  string `arg:"" help:"Search text"`
	Type   string `short:"t" help:"Field to search: keyword, title, author, publisher, isbn" default:"keyword" enum:"keyword,title,author,publisher,isbn"`
	Select bool   `short:"s" help:"Pick a result interactively and add it to the library"`
}

func (s *SearchCmd) Run(ctx context.Context) error {
	qt, err := sources.ParseQueryType(s.Type)
	if err != nil {
		return err
	}

	return withApp(ctx, func(a *app) error {
		set, err := a.Sources()
		if err != nil {
			return err
		}

		// membership marks need every book, not just the recent ones
		if !a.lib.FullyLoaded() {
			if err := a.lib.Load(ctx); err != nil {
				return err
			}
		}

		items, err := set.Catalog.Search(ctx, s.Query, qt)
		if errors.Is(err, bserrors.ErrNoResults) {
			fmt.Fprintf(stdout, "No results for %q\n", s.Query)
			return nil
		}
		if err != nil {
			return err
		}

		a.lib.SetSearchResults(items)
		hits := a.lib.SearchResults()

		if !s.Select {
			return writeCatalogTable(stdout, hits)
		}

		result, err := selectCatalogItem(s.Query, hits)
		if err != nil {
			return fmt.Errorf("selection failed: %w", err)
		}
		switch result.Action {
		case tui.ActionSelected:
			if result.Selection == nil {
				return nil
			}
			book, err := a.lib.Add(ctx, *result.Selection)
			if err != nil {
				return err
			}
			fmt.Fprintf(stdout, "Added #%d %s\n", book.ID, book.Catalog.Title)
		case tui.ActionStopped:
			return bserrors.NewStopProcessingError("search cancelled")
		}
		return nil
	})
}

// AddCmd adds a book by ISBN
type AddCmd struct {
	ISBN    string `arg:"" help:"ISBN-13 of the book"`
	Refresh bool   `short:"r" help:"Refresh availability right after adding"`
}

func (c *AddCmd) Run(ctx context.Context) error {
	return withApp(ctx, func(a *app) error {
		set, err := a.Sources()
		if err != nil {
			return err
		}

		if !a.lib.FullyLoaded() {
			if err := a.lib.Load(ctx); err != nil {
				return err
			}
		}

		item, err := set.Catalog.Lookup(ctx, c.ISBN)
		if err != nil {
			return &bserrors.CatalogMissError{ISBN: c.ISBN, Err: err}
		}

		book, err := a.lib.Add(ctx, item)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "Added #%d %s\n", book.ID, book.Catalog.Title)

		if !c.Refresh {
			return nil
		}
		svc, err := a.Refresher()
		if err != nil {
			return err
		}
		if err := svc.RefreshBook(ctx, book.ID); err != nil {
			return err
		}
		if b, ok := a.lib.Get(book.ID); ok {
			fmt.Fprintln(stdout, stockSummary(b.API))
		}
		return nil
	})
}

// ListCmd lists library books
type ListCmd struct {
	Tag       string `help:"Only books carrying this tag"`
	Errors    bool   `help:"Only books whose last refresh had source errors"`
	Favorites bool   `help:"Only favorite books"`
	All       bool   `short:"a" help:"Load the whole library instead of the most recent books"`
}

func (l *ListCmd) Run(ctx context.Context) error {
	return withApp(ctx, func(a *app) error {
		if (l.All || l.Tag != "" || l.Errors || l.Favorites) && !a.lib.FullyLoaded() {
			if err := a.lib.Load(ctx); err != nil {
				return err
			}
		}

		a.lib.SetTagFilter(l.Tag)
		var books []library.Book
		for _, b := range a.lib.TagFiltered() {
			if l.Errors && !b.API.HasErrors() {
				continue
			}
			if l.Favorites && !b.User.Favorite {
				continue
			}
			books = append(books, b)
		}

		if len(books) == 0 {
			fmt.Fprintln(stdout, "No books")
			return nil
		}
		return writeBookTable(stdout, books)
	})
}

// ShowCmd prints one book
type ShowCmd struct {
	ID     int64  `arg:"" help:"Book ID"`
	Format string `short:"f" help:"Output format" default:"yaml" enum:"yaml,json"`
}

func (s *ShowCmd) Run(ctx context.Context) error {
	return withBook(ctx, s.ID, func(_ *app, b library.Book) error {
		return writeDocument(stdout, b, s.Format)
	})
}

// RemoveCmd removes a book
type RemoveCmd struct {
	ID int64 `arg:"" help:"Book ID"`
}

func (r *RemoveCmd) Run(ctx context.Context) error {
	return withBook(ctx, r.ID, func(a *app, b library.Book) error {
		if err := a.lib.Remove(ctx, r.ID); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "Removed #%d %s\n", b.ID, b.Catalog.Title)
		return nil
	})
}

// RateCmd sets a rating
type RateCmd struct {
	ID     int64 `arg:"" help:"Book ID"`
	Rating int   `arg:"" help:"Stars, 0 to 5"`
}

func (r *RateCmd) Run(ctx context.Context) error {
	return withBook(ctx, r.ID, func(a *app, _ library.Book) error {
		return a.lib.SetRating(ctx, r.ID, r.Rating)
	})
}

// TagCmd replaces tags
type TagCmd struct {
	ID   int64    `arg:"" help:"Book ID"`
	Tags []string `arg:"" optional:"" help:"Tags; none clears them"`
}

func (t *TagCmd) Run(ctx context.Context) error {
	return withBook(ctx, t.ID, func(a *app, _ library.Book) error {
		return a.lib.SetTags(ctx, t.ID, t.Tags)
	})
}

// FavoriteCmd toggles the favorite flag
type FavoriteCmd struct {
	ID int64 `arg:"" help:"Book ID"`
}

func (f *FavoriteCmd) Run(ctx context.Context) error {
	return withBook(ctx, f.ID, func(a *app, _ library.Book) error {
		if err := a.lib.ToggleFavorite(ctx, f.ID); err != nil {
			return err
		}
		if b, ok := a.lib.Get(f.ID); ok {
			slog.Info("Favorite updated", "id", f.ID, "favorite", b.User.Favorite)
		}
		return nil
	})
}

// NoteCmd sets the note
type NoteCmd struct {
	ID   int64    `arg:"" help:"Book ID"`
	Text []string `arg:"" optional:"" help:"Note text; none clears it"`
}

func (n *NoteCmd) Run(ctx context.Context) error {
	return withBook(ctx, n.ID, func(a *app, _ library.Book) error {
		return a.lib.SetNote(ctx, n.ID, strings.Join(n.Text, " "))
	})
}

// StatusCmd sets the reading status
type StatusCmd struct {
	ID     int64  `arg:"" help:"Book ID"`
	Status string `arg:"" help:"unread, reading or finished" enum:"unread,reading,finished"`
}

func (s *StatusCmd) Run(ctx context.Context) error {
	return withBook(ctx, s.ID, func(a *app, _ library.Book) error {
		return a.lib.SetReadStatus(ctx, s.ID, library.ReadStatus(s.Status))
	})
}

// SearchTitleCmd overrides the availability search key
type SearchTitleCmd struct {
	ID    int64    `arg:"" help:"Book ID"`
	Title []string `arg:"" optional:"" help:"Search title; none restores the derived one"`
}

func (s *SearchTitleCmd) Run(ctx context.Context) error {
	return withBook(ctx, s.ID, func(a *app, _ library.Book) error {
		return a.lib.SetCustomSearchTitle(ctx, s.ID, strings.Join(s.Title, " "))
	})
}
