// Package combiner turns per-source payloads into the canonical API block.
// Everything here is a pure transform: no I/O, no clock reads.
package combiner

import (
	"time"

	"github.com/lepinkainen/bookstock/internal/library"
)

// RawCombined is the untransformed view of one refresh, for inspection.
type RawCombined struct {
	Catalog library.CatalogItem `json:"catalog"`
	library.Payloads
}

// Combined is the canonical result of one refresh. API holds the derived
// summaries: a nil summary means the source gave no usable data.
type Combined struct {
	Catalog  library.CatalogItem
	Payloads library.Payloads
	API      library.APIBlock
}

// Raw labels each payload without deriving anything.
func Raw(catalog library.CatalogItem, payloads library.Payloads) RawCombined {
	return RawCombined{Catalog: catalog, Payloads: payloads}
}

// Canonical derives per-source summaries from payloads. book supplies the
// identity used to filter search-style sources; its catalog is replaced by
// the confirmed catalog item first.
func Canonical(book library.Book, catalog library.CatalogItem, payloads library.Payloads, now time.Time) Combined {
	probe := book.Clone()
	probe.Catalog = catalog

	api := library.APIBlock{LastUpdated: now}

	if p, ok := payloads.PaperStock.Get(); ok {
		api.PaperStock = SummarizePaperStock(p)
	} else if reason, failed := payloads.PaperStock.Error(); failed {
		setError(&api, library.SourcePaperStock, reason)
	}

	for _, id := range library.AvailabilitySources[1:] {
		res := payloads.Ebook(id)
		if p, ok := res.Get(); ok {
			var s *library.EbookSummary
			if id == library.SourceMetroEbook {
				s = SummarizeMatchedEbooks(&probe, p)
			} else {
				s = SummarizeEbook(p)
			}
			*api.Ebook(id) = s
		} else if reason, failed := res.Error(); failed {
			setError(&api, id, reason)
		}
	}

	return Combined{Catalog: catalog, Payloads: payloads, API: api}
}

func setError(api *library.APIBlock, id library.SourceID, reason string) {
	if api.Errors == nil {
		api.Errors = make(map[library.SourceID]string)
	}
	api.Errors[id] = reason
}
