package cache

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/lepinkainen/bookstock/internal/library"
	"github.com/spf13/viper"
)

// InvalidateCacheCmd represents the cache invalidate subcommand
type InvalidateCacheCmd struct {
	Source string `arg:"" help:"Cache source to invalidate: catalog, paper_stock, edu_ebook, county_ebook, metro_ebook, subscription_ebook, all" required:""`
}

func (i *InvalidateCacheCmd) Run() error {
	slog.Info("Invalidating cache", "source", i.Source, "database", viper.GetString("cache.dbfile"))

	tables, err := tablesFor(i.Source)
	if err != nil {
		return err
	}

	cacheInstance, err := GetGlobalCache()
	if err != nil {
		return fmt.Errorf("failed to open cache database: %w", err)
	}

	var total int64
	for _, table := range tables {
		rowsDeleted, err := cacheInstance.InvalidateSource(table)
		if err != nil {
			return fmt.Errorf("failed to invalidate cache: %w", err)
		}
		total += rowsDeleted
	}

	slog.Info("Cache invalidated", "source", i.Source, "rows_deleted", total)
	return nil
}

func tablesFor(source string) ([]string, error) {
	if source == "all" {
		tables := make([]string, 0, len(sourceTables))
		for _, table := range sourceTables {
			tables = append(tables, table)
		}
		slices.Sort(tables)
		return tables, nil
	}

	table, err := TableFor(library.SourceID(source))
	if err != nil {
		names := make([]string, 0, len(sourceTables))
		for id := range sourceTables {
			names = append(names, string(id))
		}
		slices.Sort(names)
		return nil, fmt.Errorf("invalid cache source '%s'; valid sources are: %s, all", source, strings.Join(names, ", "))
	}
	return []string{table}, nil
}
