// Package datastore persists library books, either to a local SQLite file or
// to a remote Datasette instance.
package datastore

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lepinkainen/bookstock/internal/config"
	"github.com/lepinkainen/bookstock/internal/library"
)

// Store is a library.Repository that owns a connection.
type Store interface {
	library.Repository

	// Connect establishes a connection to the data store and prepares its schema
	Connect(ctx context.Context) error

	// Close closes the connection to the data store
	Close() error
}

// Open connects to the remote store when a URL is configured and to the
// local SQLite file otherwise.
func Open(ctx context.Context, cfg config.Config) (Store, error) {
	var s Store
	if cfg.RemoteStoreURL != "" {
		slog.Debug("Using remote store", "url", cfg.RemoteStoreURL)
		s = NewRemoteStore(cfg.RemoteStoreURL, cfg.RemoteStoreToken)
	} else {
		slog.Debug("Using SQLite store", "path", cfg.DatabasePath)
		s = NewSQLiteStore(cfg.DatabasePath)
	}
	if err := s.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connecting to store: %w", err)
	}
	return s, nil
}
