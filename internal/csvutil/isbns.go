package csvutil

import (
	"fmt"
	"strings"

	"github.com/lepinkainen/bookstock/internal/matcher"
)

// DefaultISBNColumns are tried in order when no column is given.
var DefaultISBNColumns = []string{"isbn13", "isbn"}

// ReadISBNs returns the distinct ISBNs listed in filename, in file order.
// The first of columns present in the header is used. Spreadsheet-style
// values such as ="9788974797485" are unwrapped and hyphens dropped.
func ReadISBNs(filename string, columns ...string) ([]string, error) {
	if len(columns) == 0 {
		columns = DefaultISBNColumns
	}

	seen := make(map[string]bool)
	var column string
	isbns, err := ProcessCSV(filename, func(r Record) (string, error) {
		if column == "" {
			for _, c := range columns {
				if r.Has(c) {
					column = c
					break
				}
			}
			if column == "" {
				return "", fmt.Errorf("no ISBN column (tried %s)", strings.Join(columns, ", "))
			}
		}

		isbn := CleanISBN(r.Get(column))
		if isbn == "" || seen[isbn] {
			return "", ErrSkip
		}
		seen[isbn] = true
		return isbn, nil
	}, ProcessorOptions{})
	if err != nil {
		return nil, err
	}
	return isbns, nil
}

// CleanISBN unwraps ="..." quoting and normalizes the ISBN.
func CleanISBN(raw string) string {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "=")
	raw = strings.Trim(raw, `"`)
	return matcher.NormalizeISBN(raw)
}
