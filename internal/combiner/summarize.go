package combiner

import (
	"github.com/lepinkainen/bookstock/internal/library"
	"github.com/lepinkainen/bookstock/internal/matcher"
)

// SummarizePaperStock counts rows per branch. The loan link comes from the
// first loanable primary-branch row that carries all three keys.
func SummarizePaperStock(p library.PaperStockPayload) *library.PaperStockSummary {
	s := &library.PaperStockSummary{}
	for _, row := range p.Rows {
		var branch *library.BranchSummary
		switch row.Branch {
		case library.BranchPrimary:
			branch = &s.Primary
		case library.BranchSecondary:
			branch = &s.Secondary
		default:
			continue
		}

		branch.Total++
		if !row.Loanable {
			continue
		}
		branch.Available++

		if s.Loan == nil && row.Branch == library.BranchPrimary &&
			row.RecKey != "" && row.BookKey != "" && row.PublishFormCode != "" {
			s.Loan = &library.LoanLink{
				RecKey:          row.RecKey,
				BookKey:         row.BookKey,
				PublishFormCode: row.PublishFormCode,
			}
		}
	}
	return s
}

// SummarizeEbook takes the counts a source reports for a single book.
func SummarizeEbook(p library.EbookPayload) *library.EbookSummary {
	return &library.EbookSummary{
		Total:        p.Total,
		Available:    p.Available,
		Owned:        p.Owned,
		Subscription: p.Subscription,
	}
}

// SummarizeMatchedEbooks keeps only the items that match book and recounts
// from them. Used for search-style sources that return many books.
func SummarizeMatchedEbooks(book matcher.Identity, p library.EbookPayload) *library.EbookSummary {
	matched := matcher.Filter(book, p.Items, func(it library.EbookItem) matcher.Record {
		return matcher.Record{Title: it.Title, Author: it.Author, ISBN: it.ISBN}
	})

	s := &library.EbookSummary{Total: len(matched)}
	for _, it := range matched {
		if it.Available {
			s.Available++
		}
		if it.Owned {
			s.Owned++
		}
		if it.Subscription {
			s.Subscription++
		}
	}
	return s
}
