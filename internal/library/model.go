// Package library holds the canonical book table, its derived indices and the
// mutation pipeline every state change goes through.
package library

import (
	"slices"
	"strings"
	"time"

	"github.com/lepinkainen/bookstock/internal/matcher"
)

// SourceID names one external source.
type SourceID string

const (
	SourceCatalog           SourceID = "catalog"
	SourcePaperStock        SourceID = "paper_stock"
	SourceEduEbook          SourceID = "edu_ebook"
	SourceCountyEbook       SourceID = "county_ebook"
	SourceMetroEbook        SourceID = "metro_ebook"
	SourceSubscriptionEbook SourceID = "subscription_ebook"
)

// AvailabilitySources lists the sources a refresh fans out to, in display order.
var AvailabilitySources = []SourceID{
	SourcePaperStock,
	SourceEduEbook,
	SourceCountyEbook,
	SourceMetroEbook,
	SourceSubscriptionEbook,
}

// ReadStatus is the user's reading progress for a book.
type ReadStatus string

const (
	StatusUnread   ReadStatus = "unread"
	StatusReading  ReadStatus = "reading"
	StatusFinished ReadStatus = "finished"
)

// Valid reports whether s is one of the known statuses.
func (s ReadStatus) Valid() bool {
	switch s {
	case StatusUnread, StatusReading, StatusFinished:
		return true
	}
	return false
}

const (
	// MaxRating is the highest star rating.
	MaxRating = 5
	// MaxNoteLength is the note limit in characters (runes).
	MaxNoteLength = 50
)

// EbookEdition is an e-book edition the catalog links to a paper edition.
type EbookEdition struct {
	ISBN13 string `json:"isbn13"`
	ItemID int64  `json:"itemId,omitempty"`
	Link   string `json:"link,omitempty"`
}

// SubInfo carries the catalog's nested edition data.
type SubInfo struct {
	EbookList []EbookEdition `json:"ebookList,omitempty"`
}

// CatalogItem is one item as returned by the catalog lookup source.
type CatalogItem struct {
	ItemID        int64   `json:"itemId,omitempty"`
	ISBN13        string  `json:"isbn13"`
	ISBN10        string  `json:"isbn,omitempty"`
	Title         string  `json:"title"`
	Author        string  `json:"author"`
	Publisher     string  `json:"publisher,omitempty"`
	PubDate       string  `json:"pubDate,omitempty"`
	Cover         string  `json:"cover,omitempty"`
	PriceStandard int     `json:"priceStandard,omitempty"`
	PriceSales    int     `json:"priceSales,omitempty"`
	Link          string  `json:"link,omitempty"`
	SubInfo       SubInfo `json:"subInfo"`
}

// BranchSummary counts copies at one physical branch.
type BranchSummary struct {
	Total     int `json:"total"`
	Available int `json:"available"`
}

// LoanLink identifies a loanable copy at the primary branch.
type LoanLink struct {
	RecKey          string `json:"recKey"`
	BookKey         string `json:"bookKey"`
	PublishFormCode string `json:"publishFormCode"`
}

// PaperStockSummary is the derived paper availability for both branches.
type PaperStockSummary struct {
	Primary   BranchSummary `json:"primary"`
	Secondary BranchSummary `json:"secondary"`
	Loan      *LoanLink     `json:"loan,omitempty"`
}

// EbookSummary is the derived availability at one electronic library.
type EbookSummary struct {
	Total        int `json:"total"`
	Available    int `json:"available"`
	Owned        int `json:"owned"`
	Subscription int `json:"subscription"`
}

// APIBlock is the part of a book owned by reconciliation. A nil summary means
// "no data" and is never the same as zero stock.
type APIBlock struct {
	PaperStock        *PaperStockSummary  `json:"paperStock,omitempty"`
	EduEbook          *EbookSummary       `json:"eduEbook,omitempty"`
	CountyEbook       *EbookSummary       `json:"countyEbook,omitempty"`
	MetroEbook        *EbookSummary       `json:"metroEbook,omitempty"`
	SubscriptionEbook *EbookSummary       `json:"subscriptionEbook,omitempty"`
	Errors            map[SourceID]string `json:"errors,omitempty"`
	LastUpdated       time.Time           `json:"lastUpdated,omitzero"`
}

// Ebook returns the summary slot for an e-book source.
func (a *APIBlock) Ebook(id SourceID) **EbookSummary {
	switch id {
	case SourceEduEbook:
		return &a.EduEbook
	case SourceCountyEbook:
		return &a.CountyEbook
	case SourceMetroEbook:
		return &a.MetroEbook
	case SourceSubscriptionEbook:
		return &a.SubscriptionEbook
	}
	return nil
}

// HasErrors reports whether any source failed during the last refresh.
func (a APIBlock) HasErrors() bool {
	return len(a.Errors) > 0
}

// UserBlock holds fields only the user may change. Refreshes never touch it.
type UserBlock struct {
	AddedAt           time.Time  `json:"addedAt"`
	ReadStatus        ReadStatus `json:"readStatus"`
	Rating            int        `json:"rating"`
	Favorite          bool       `json:"favorite"`
	Note              string     `json:"note,omitempty"`
	TagIDs            []string   `json:"tagIds,omitempty"`
	CustomSearchTitle string     `json:"customSearchTitle,omitempty"`
}

// Book is the canonical record for one library entry.
type Book struct {
	ID      int64       `json:"id"`
	Catalog CatalogItem `json:"catalog"`
	API     APIBlock    `json:"api"`
	User    UserBlock   `json:"user"`
}

var _ matcher.Identity = (*Book)(nil)

// NewBook seeds a book from a catalog item with an empty API block and default
// user fields. The ID is assigned by the store.
func NewBook(item CatalogItem, now time.Time) Book {
	return Book{
		Catalog: item,
		User: UserBlock{
			AddedAt:    now,
			ReadStatus: StatusUnread,
		},
	}
}

// PaperISBN returns the catalog ISBN-13.
func (b *Book) PaperISBN() string {
	return b.Catalog.ISBN13
}

// EbookISBN returns the first e-book edition ISBN known to the catalog.
func (b *Book) EbookISBN() string {
	for _, ed := range b.Catalog.SubInfo.EbookList {
		if ed.ISBN13 != "" {
			return ed.ISBN13
		}
	}
	return ""
}

// AuthorName returns the free-text author string.
func (b *Book) AuthorName() string {
	return b.Catalog.Author
}

// HasTag reports whether the book carries tag id.
func (b *Book) HasTag(id string) bool {
	return slices.Contains(b.User.TagIDs, id)
}

// Clone returns a deep copy so pre-images can't be aliased by later writes.
func (b Book) Clone() Book {
	out := b
	out.Catalog.SubInfo.EbookList = slices.Clone(b.Catalog.SubInfo.EbookList)
	out.API = b.API.Clone()
	out.User.TagIDs = slices.Clone(b.User.TagIDs)
	return out
}

// Clone deep-copies the block.
func (a APIBlock) Clone() APIBlock {
	out := a
	if a.PaperStock != nil {
		ps := *a.PaperStock
		if a.PaperStock.Loan != nil {
			loan := *a.PaperStock.Loan
			ps.Loan = &loan
		}
		out.PaperStock = &ps
	}
	for _, id := range []SourceID{SourceEduEbook, SourceCountyEbook, SourceMetroEbook, SourceSubscriptionEbook} {
		src := *a.Ebook(id)
		if src != nil {
			cp := *src
			*out.Ebook(id) = &cp
		}
	}
	if a.Errors != nil {
		out.Errors = make(map[SourceID]string, len(a.Errors))
		for k, v := range a.Errors {
			out.Errors[k] = v
		}
	}
	return out
}

// normalizeTags trims, dedupes and sorts tag ids.
func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
