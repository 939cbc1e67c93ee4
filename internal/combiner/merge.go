package combiner

import (
	"maps"

	"github.com/lepinkainen/bookstock/internal/library"
)

// Merge folds a canonical result into the previous API block:
//
//   - a present summary replaces the previous one and clears its error,
//   - an absent summary keeps the previous one,
//   - an error reason is recorded without touching the summary.
//
// Sources that were never fetched keep both their summary and error marker.
func Merge(prev library.APIBlock, next Combined) library.APIBlock {
	out := prev.Clone()
	errs := maps.Clone(prev.Errors)
	if errs == nil {
		errs = make(map[library.SourceID]string)
	}

	if next.API.PaperStock != nil {
		out.PaperStock = library.APIBlock{PaperStock: next.API.PaperStock}.Clone().PaperStock
		delete(errs, library.SourcePaperStock)
	}

	for _, id := range library.AvailabilitySources[1:] {
		if s := *next.API.Ebook(id); s != nil {
			cp := *s
			*out.Ebook(id) = &cp
			delete(errs, id)
		}
	}

	for id, reason := range next.API.Errors {
		errs[id] = reason
	}
	if len(errs) == 0 {
		errs = nil
	}
	out.Errors = errs

	if !next.API.LastUpdated.IsZero() {
		out.LastUpdated = next.API.LastUpdated
	}
	return out
}
