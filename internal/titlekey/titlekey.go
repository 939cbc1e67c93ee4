// Package titlekey derives short search keys from book titles.
//
// External library search endpoints match poorly on long titles with
// subtitles, so every source is queried with at most the first few words of
// the main title.
package titlekey

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// WordLimit is the maximum number of words in a search key.
const WordLimit = 3

// subtitleMarkers start a subtitle or an annotation. Everything from the first
// one onwards is dropped.
const subtitleMarkers = ":-()[]{}<>〈〉《》「」『』【】（）［］"

// Normalize returns the search key for title: the text before the first
// subtitle marker, limited to WordLimit whitespace-separated words.
func Normalize(title string) string {
	title = norm.NFC.String(title)

	if idx := strings.IndexAny(title, subtitleMarkers); idx >= 0 {
		title = title[:idx]
	}

	words := strings.Fields(title)
	if len(words) > WordLimit {
		words = words[:WordLimit]
	}
	return strings.Join(words, " ")
}

// ForBook returns the user's custom search title when set, otherwise the
// normalized catalog title.
func ForBook(customTitle, title string) string {
	if custom := strings.TrimSpace(customTitle); custom != "" {
		return custom
	}
	return Normalize(title)
}
