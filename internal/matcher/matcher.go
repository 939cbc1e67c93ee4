// Package matcher decides whether a loosely described external record refers
// to the same book as a canonical library entry.
package matcher

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// AuthorPrefixLength is how many leading characters of the first author are
// compared by the fallback heuristic.
//
// The 3-character comparison has no measured false-positive rate against real
// author-name collisions; it is kept as-is for compatibility with stored data.
const AuthorPrefixLength = 3

// Identity is what the matcher needs to know about a canonical book.
type Identity interface {
	PaperISBN() string
	EbookISBN() string
	AuthorName() string
}

// Record is an external record in its loosest common form.
type Record struct {
	Title  string
	Author string
	ISBN   string
}

// Match reports whether rec denotes book. Checks run in order and stop at the
// first hit: paper ISBN, e-book ISBN, then author prefix. The author fallback
// only applies when the catalog knows no e-book edition, because an ISBN
// mismatch against a confirmed e-book edition means a different edition.
func Match(book Identity, rec Record) bool {
	recISBN := NormalizeISBN(rec.ISBN)

	if recISBN != "" {
		if paper := NormalizeISBN(book.PaperISBN()); paper != "" && paper == recISBN {
			return true
		}
	}

	ebook := NormalizeISBN(book.EbookISBN())
	if ebook != "" {
		return recISBN != "" && ebook == recISBN
	}

	bookKey := AuthorKey(book.AuthorName())
	recKey := AuthorKey(rec.Author)
	return bookKey != "" && bookKey == recKey
}

// Filter returns the records that match book, in their original order.
func Filter[R any](book Identity, recs []R, toRecord func(R) Record) []R {
	var out []R
	for _, r := range recs {
		if Match(book, toRecord(r)) {
			out = append(out, r)
		}
	}
	return out
}

// NormalizeISBN strips hyphens and whitespace from an ISBN.
func NormalizeISBN(isbn string) string {
	return strings.Map(func(r rune) rune {
		if r == '-' || unicode.IsSpace(r) {
			return -1
		}
		return r
	}, isbn)
}

// AuthorKey reduces an author string to the comparison key used by the
// fallback: parenthetical annotations such as "(지은이)" or "(translator)"
// removed, first comma-separated author, first AuthorPrefixLength characters.
// Comparison is case-sensitive.
func AuthorKey(author string) string {
	author = stripParenthetical(norm.NFC.String(author))

	first, _, _ := strings.Cut(author, ",")
	first = strings.TrimSpace(first)
	if first == "" {
		return ""
	}

	runes := []rune(first)
	if len(runes) > AuthorPrefixLength {
		runes = runes[:AuthorPrefixLength]
	}
	return string(runes)
}

// stripParenthetical removes every "(...)" span, including unbalanced tails.
func stripParenthetical(s string) string {
	var sb strings.Builder
	depth := 0
	for _, r := range s {
		switch r {
		case '(', '（':
			depth++
		case ')', '）':
			if depth > 0 {
				depth--
			}
		default:
			if depth == 0 {
				sb.WriteRune(r)
			}
		}
	}
	return sb.String()
}
