package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lepinkainen/bookstock/internal/csvutil"
	bserrors "github.com/lepinkainen/bookstock/internal/errors"
)

// ImportCmd bulk-adds books listed in a CSV export
type ImportCmd struct {
	Input   string `arg:"" type:"existingfile" help:"CSV file with an ISBN13 or ISBN column (e.g. a Goodreads export)"`
	Column  string `help:"Name of the ISBN column (default: ISBN13, then ISBN)"`
	Refresh bool   `short:"r" help:"Refresh availability for each added book"`
}

func (c *ImportCmd) Run(ctx context.Context) error {
	var columns []string
	if c.Column != "" {
		columns = []string{c.Column}
	}
	isbns, err := csvutil.ReadISBNs(c.Input, columns...)
	if err != nil {
		return err
	}
	slog.Info("Importing books", "file", c.Input, "isbns", len(isbns))

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

		var added, present, missed int
		var addedIDs []int64
		for _, isbn := range isbns {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if a.lib.HasISBN(isbn) {
				present++
				continue
			}

			item, err := set.Catalog.Lookup(ctx, isbn)
			if err != nil {
				slog.Warn("Catalog has no item, skipping", "isbn", isbn, "error", err)
				missed++
				continue
			}

			book, err := a.lib.Add(ctx, item)
			switch {
			case errors.Is(err, bserrors.ErrDuplicateISBN):
				// the catalog resolved to an ISBN already in the library
				present++
				continue
			case err != nil:
				return err
			}
			added++
			addedIDs = append(addedIDs, book.ID)
		}

		if c.Refresh && len(addedIDs) > 0 {
			svc, err := a.Refresher()
			if err != nil {
				return err
			}
			for _, id := range addedIDs {
				if err := svc.RefreshBook(ctx, id); err != nil {
					slog.Warn("Refresh after import failed", "id", id, "error", err)
				}
			}
		}

		fmt.Fprintf(stdout, "Imported %d books (%d already in library, %d not in catalog)\n", added, present, missed)
		if added == 0 && missed > 0 {
			return fmt.Errorf("no listed ISBN was found in the catalog: %w", bserrors.ErrNoResults)
		}
		return nil
	})
}
