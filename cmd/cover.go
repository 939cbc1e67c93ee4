package cmd

import (
	"context"
	"fmt"
	"net/http"

	"github.com/lepinkainen/bookstock/internal/covers"
	"github.com/lepinkainen/bookstock/internal/library"
)

// newCoverDownloader is swapped in tests.
var newCoverDownloader = func() *covers.Downloader {
	return covers.New(&http.Client{})
}

// CoverCmd downloads a cover
type CoverCmd struct {
	ID     int64  `arg:"" help:"Book ID"`
	Dir    string `help:"Directory to save covers in (default from config)"`
	Update bool   `help:"Re-download even if the cover already exists"`
}

func (c *CoverCmd) Run(ctx context.Context) error {
	return withBook(ctx, c.ID, func(a *app, b library.Book) error {
		dir := c.Dir
		if dir == "" {
			dir = a.cfg.CoverDir
		}

		res, err := newCoverDownloader().Download(ctx, covers.DownloadOptions{
			URL:      b.Catalog.Cover,
			Dir:      dir,
			Filename: covers.BuildFilename(b.Catalog.ISBN13, b.Catalog.Title),
			MaxWidth: a.cfg.CoverMaxWidth,
			Update:   c.Update,
		})
		if err != nil {
			return fmt.Errorf("cover for #%d: %w", b.ID, err)
		}

		if res.Downloaded {
			fmt.Fprintf(stdout, "Saved %s\n", res.Path)
		} else {
			fmt.Fprintf(stdout, "Already present: %s\n", res.Path)
		}
		return nil
	})
}
