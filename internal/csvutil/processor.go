// Package csvutil reads header-addressed CSV files such as reading-list
// exports.
package csvutil

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// ProcessorOptions configures CSV processing behavior.
type ProcessorOptions struct {
	// SkipInvalid controls whether to skip invalid records or return an error.
	SkipInvalid bool
}

// Record is one data row. Fields are looked up by header name.
type Record struct {
	Line   int
	header map[string]int
	fields []string
}

// Get returns the trimmed value of column name, or "" when the column is
// missing from the header or the row is short.
func (r Record) Get(name string) string {
	i, ok := r.header[strings.ToLower(name)]
	if !ok || i >= len(r.fields) {
		return ""
	}
	return strings.TrimSpace(r.fields[i])
}

// Has reports whether the header contains column name.
func (r Record) Has(name string) bool {
	_, ok := r.header[strings.ToLower(name)]
	return ok
}

// ProcessCSV reads a CSV file and parses each record into type T.
func ProcessCSV[T any](filename string, parser func(Record) (T, error), opts ProcessorOptions) ([]T, error) {
	csvFile, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer func() { _ = csvFile.Close() }()

	if fi, err := csvFile.Stat(); err != nil || fi.Size() == 0 {
		return nil, fmt.Errorf("CSV file is empty or cannot be read")
	}

	return Process(csvFile, parser, opts)
}

// Process parses CSV from r. The first row is the header; column names are
// matched case-insensitively. A parser returning ErrSkip drops the row
// without counting it as invalid.
func Process[T any](r io.Reader, parser func(Record) (T, error), opts ProcessorOptions) ([]T, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	headerRow, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	header := make(map[string]int, len(headerRow))
	for i, name := range headerRow {
		name = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
		if _, dup := header[name]; !dup {
			header[name] = i
		}
	}

	var items []T
	line := 1
	for {
		fields, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			slog.Warn("Error reading record", "line", line, "error", err)
			continue
		}

		item, err := parser(Record{Line: line, header: header, fields: fields})
		if errors.Is(err, ErrSkip) {
			continue
		}
		if err != nil {
			if opts.SkipInvalid {
				slog.Warn("Skipping invalid record", "line", line, "error", err)
				continue
			}
			return nil, fmt.Errorf("invalid record on line %d: %w", line, err)
		}

		items = append(items, item)
	}

	return items, nil
}

// ErrSkip tells Process to drop a row silently.
var ErrSkip = errors.New("skip record")
