package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/lepinkainen/bookstock/internal/config"
	"github.com/lepinkainen/bookstock/internal/datastore"
	bserrors "github.com/lepinkainen/bookstock/internal/errors"
	"github.com/lepinkainen/bookstock/internal/library"
	"github.com/lepinkainen/bookstock/internal/refresh"
	"github.com/lepinkainen/bookstock/internal/sources"
)

// stdout is where command output goes; tests swap it for a buffer.
var stdout io.Writer = os.Stdout

// openApp wires the store, library and sources for one command invocation.
var openApp = defaultOpenApp

// app is everything a command needs. Sources are built on first use so
// commands that only edit user fields work without any source configured.
type app struct {
	cfg        config.Config
	lib        *library.Library
	newSources func(config.Config) (sources.Set, error)
	set        *sources.Set
	closers    []func() error
}

func defaultOpenApp(ctx context.Context) (*app, error) {
	cfg := config.Load()

	store, err := datastore.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}

	lib := library.New(store)
	if err := lib.LoadRecent(ctx, cfg.RecentLoadLimit); err != nil {
		_ = store.Close()
		return nil, err
	}

	return &app{
		cfg:        cfg,
		lib:        lib,
		newSources: buildSources,
		closers:    []func() error{store.Close},
	}, nil
}

// Sources returns the source set, building it on first call.
func (a *app) Sources() (sources.Set, error) {
	if a.set != nil {
		return *a.set, nil
	}
	set, err := a.newSources(a.cfg)
	if err != nil {
		return sources.Set{}, err
	}
	a.set = &set
	return set, nil
}

// Refresher returns a refresh service over the app's library.
func (a *app) Refresher() (*refresh.Service, error) {
	set, err := a.Sources()
	if err != nil {
		return nil, err
	}
	return refresh.New(a.lib, set), nil
}

// Book returns the book with id, loading the rest of the library when only
// the recent part is resident.
func (a *app) Book(ctx context.Context, id int64) (library.Book, error) {
	if b, ok := a.lib.Get(id); ok {
		return b, nil
	}
	if !a.lib.FullyLoaded() {
		if err := a.lib.Load(ctx); err != nil {
			return library.Book{}, err
		}
		if b, ok := a.lib.Get(id); ok {
			return b, nil
		}
	}
	return library.Book{}, fmt.Errorf("book %d: %w", id, bserrors.ErrNotFound)
}

// Close releases the store.
func (a *app) Close() {
	for _, c := range a.closers {
		if err := c(); err != nil {
			slog.Warn("Failed to close resource", "error", err)
		}
	}
}

// withApp opens the app, runs fn and closes it again.
func withApp(ctx context.Context, fn func(a *app) error) error {
	a, err := openApp(ctx)
	if err != nil {
		return fmt.Errorf("failed to open library: %w", err)
	}
	defer a.Close()
	return fn(a)
}

// withBook is withApp for commands that act on one existing book.
func withBook(ctx context.Context, id int64, fn func(a *app, b library.Book) error) error {
	return withApp(ctx, func(a *app) error {
		b, err := a.Book(ctx, id)
		if err != nil {
			return err
		}
		return fn(a, b)
	})
}
