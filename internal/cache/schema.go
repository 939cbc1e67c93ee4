package cache

import (
	"fmt"

	"github.com/lepinkainen/bookstock/internal/library"
)

// Cache tables, one per external source. Every table shares the same layout
// with "cache_key" as the primary key.
const (
	CatalogTable           = "catalog_cache"
	PaperStockTable        = "paper_stock_cache"
	EduEbookTable          = "edu_ebook_cache"
	CountyEbookTable       = "county_ebook_cache"
	MetroEbookTable        = "metro_ebook_cache"
	SubscriptionEbookTable = "subscription_ebook_cache"
)

// tableSchema renders the shared layout for one table.
func tableSchema(table string) string {
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	cache_key TEXT PRIMARY KEY NOT NULL,
	data TEXT NOT NULL,
	cached_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	expires_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_%[1]s_expires_at ON %[1]s(expires_at);
`, table)
}

// sourceTables maps each source to its cache table.
var sourceTables = map[library.SourceID]string{
	library.SourceCatalog:           CatalogTable,
	library.SourcePaperStock:        PaperStockTable,
	library.SourceEduEbook:          EduEbookTable,
	library.SourceCountyEbook:       CountyEbookTable,
	library.SourceMetroEbook:        MetroEbookTable,
	library.SourceSubscriptionEbook: SubscriptionEbookTable,
}

// AllCacheSchemas contains all cache table schemas for easy initialization
var AllCacheSchemas = func() []string {
	out := make([]string, 0, len(sourceTables))
	for _, id := range append([]library.SourceID{library.SourceCatalog}, library.AvailabilitySources...) {
		out = append(out, tableSchema(sourceTables[id]))
	}
	return out
}()

// ValidCacheTableNames is the whitelist of allowed cache table names
// Used to prevent SQL injection when interpolating table names
var ValidCacheTableNames = map[string]bool{
	CatalogTable:           true,
	PaperStockTable:        true,
	EduEbookTable:          true,
	CountyEbookTable:       true,
	MetroEbookTable:        true,
	SubscriptionEbookTable: true,
}

// TableFor returns the cache table for a source.
func TableFor(source library.SourceID) (string, error) {
	table, ok := sourceTables[source]
	if !ok {
		return "", fmt.Errorf("no cache table for source %q", source)
	}
	return table, nil
}

// IsStockTable reports whether table holds availability data, which uses the
// shorter stock TTL.
func IsStockTable(table string) bool {
	return table != CatalogTable && ValidCacheTableNames[table]
}
