package batch

import (
	"fmt"
	"slices"

	"github.com/lepinkainen/bookstock/internal/library"
)

// Selection picks the books a job works on. It is resolved once, when the
// job starts.
type Selection interface {
	Resolve(lib *library.Library) []int64
	String() string
}

type selection struct {
	name    string
	resolve func(lib *library.Library) []int64
}

func (s selection) Resolve(lib *library.Library) []int64 { return s.resolve(lib) }
func (s selection) String() string                        { return s.name }

// Recent selects the n most recently added books, newest first.
func Recent(n int) Selection {
	return selection{
		name: fmt.Sprintf("recent %d", n),
		resolve: func(lib *library.Library) []int64 {
			ids := lib.IDs()
			return ids[:clamp(n, len(ids))]
		},
	}
}

// Oldest selects the n earliest added books, oldest first.
func Oldest(n int) Selection {
	return selection{
		name: fmt.Sprintf("oldest %d", n),
		resolve: func(lib *library.Library) []int64 {
			ids := lib.IDs()
			slices.Reverse(ids)
			return ids[:clamp(n, len(ids))]
		},
	}
}

// Range selects positions [start, end) of the newest-first list. Out of range
// bounds are clamped.
func Range(start, end int) Selection {
	return selection{
		name: fmt.Sprintf("range %d:%d", start, end),
		resolve: func(lib *library.Library) []int64 {
			ids := lib.IDs()
			s, e := clamp(start, len(ids)), clamp(end, len(ids))
			if s >= e {
				return nil
			}
			return ids[s:e]
		},
	}
}

// All selects every book, newest first.
func All() Selection {
	return selection{
		name:    "all",
		resolve: func(lib *library.Library) []int64 { return lib.IDs() },
	}
}

// WithErrors selects the books whose last refresh recorded a source error.
func WithErrors() Selection {
	return selection{
		name: "with errors",
		resolve: func(lib *library.Library) []int64 {
			var ids []int64
			for _, b := range lib.List() {
				if b.API.HasErrors() {
					ids = append(ids, b.ID)
				}
			}
			return ids
		},
	}
}

func clamp(n, limit int) int {
	return max(0, min(n, limit))
}
