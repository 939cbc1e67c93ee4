package library

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/lepinkainen/bookstock/internal/matcher"
)

// Repository is the persistence layer behind the library. Insert assigns the
// book's ID.
type Repository interface {
	Insert(ctx context.Context, b *Book) (int64, error)
	Update(ctx context.Context, b *Book) error
	Delete(ctx context.Context, id int64) error
	List(ctx context.Context) ([]Book, error)
	ListRecent(ctx context.Context, limit int) ([]Book, error)
}

// Level classifies a user-visible notification.
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notification is a message meant for the user rather than the log.
type Notification struct {
	Level   Level
	Message string
}

// Notifier delivers user-visible notifications.
type Notifier interface {
	Notify(n Notification)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Notification)

// Notify calls f(n).
func (f NotifierFunc) Notify(n Notification) { f(n) }

// SlogNotifier logs notifications; used when no UI is attached.
type SlogNotifier struct{}

// Notify logs n at a level matching its severity.
func (SlogNotifier) Notify(n Notification) {
	switch n.Level {
	case LevelError:
		slog.Error(n.Message)
	case LevelWarning:
		slog.Warn(n.Message)
	default:
		slog.Info(n.Message)
	}
}

// WorkingSet is implemented by batch jobs so removed books leave their queue.
type WorkingSet interface {
	Forget(id int64)
}

// SearchHit is a catalog search result joined with the library entry for the
// same ISBN, if there is one.
type SearchHit struct {
	Item CatalogItem
	Book *Book
}

// projections are derived from the table and rebuilt on every write.
type projections struct {
	order       []int64
	isbns       map[string]int64
	tagCounts   map[string]int
	tagFiltered []int64
}

// Library owns the canonical book table. Every view the UI shows (full list,
// tag-filtered list, search results, current selection) is a projection over
// that table, so a write can never leave one of them stale.
type Library struct {
	repo     Repository
	notifier Notifier
	now      func() time.Time

	mu          sync.RWMutex
	books       map[int64]Book
	proj        projections
	fullyLoaded bool
	tagFilter   string
	search      []CatalogItem
	selected    int64

	jobsMu sync.Mutex
	jobs   map[WorkingSet]struct{}
}

// Option configures a Library.
type Option func(*Library)

// WithNotifier sets where failure notifications go.
func WithNotifier(n Notifier) Option {
	return func(l *Library) {
		if n != nil {
			l.notifier = n
		}
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Library) {
		if now != nil {
			l.now = now
		}
	}
}

// New creates an empty library backed by repo.
func New(repo Repository, opts ...Option) *Library {
	l := &Library{
		repo:     repo,
		notifier: SlogNotifier{},
		now:      time.Now,
		books:    make(map[int64]Book),
		jobs:     make(map[WorkingSet]struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.rebuildLocked()
	return l
}

// Load replaces the table with the full set from the store.
func (l *Library) Load(ctx context.Context) error {
	books, err := l.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading library: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.books = make(map[int64]Book, len(books))
	for _, b := range books {
		l.books[b.ID] = b.Clone()
	}
	l.fullyLoaded = true
	l.rebuildLocked()

	slog.Debug("Library loaded", "books", len(books))
	return nil
}

// LoadRecent loads only the newest limit books. The library then reports
// FullyLoaded() == false until Load is called.
func (l *Library) LoadRecent(ctx context.Context, limit int) error {
	books, err := l.repo.ListRecent(ctx, limit)
	if err != nil {
		return fmt.Errorf("loading recent books: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.books = make(map[int64]Book, len(books))
	for _, b := range books {
		l.books[b.ID] = b.Clone()
	}
	l.fullyLoaded = false
	l.rebuildLocked()
	return nil
}

// FullyLoaded reports whether every stored book is resident.
func (l *Library) FullyLoaded() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.fullyLoaded
}

// Get returns a copy of the book with id.
func (l *Library) Get(id int64) (Book, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	b, ok := l.books[id]
	if !ok {
		return Book{}, false
	}
	return b.Clone(), true
}

// Len returns the number of resident books.
func (l *Library) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.books)
}

// List returns every resident book, newest first.
func (l *Library) List() []Book {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.resolveLocked(l.proj.order)
}

// IDs returns resident book ids, newest first.
func (l *Library) IDs() []int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return slices.Clone(l.proj.order)
}

// ListByTag returns books carrying tag, newest first.
func (l *Library) ListByTag(tag string) []Book {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []Book
	for _, id := range l.proj.order {
		if b := l.books[id]; b.HasTag(tag) {
			out = append(out, b.Clone())
		}
	}
	return out
}

// HasISBN reports whether a book with this ISBN-13 is in the library.
func (l *Library) HasISBN(isbn string) bool {
	_, ok := l.LookupISBN(isbn)
	return ok
}

// LookupISBN returns the id of the book with this ISBN-13.
func (l *Library) LookupISBN(isbn string) (int64, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	id, ok := l.proj.isbns[matcher.NormalizeISBN(isbn)]
	return id, ok
}

// TagCounts returns how many books carry each tag.
func (l *Library) TagCounts() map[string]int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[string]int, len(l.proj.tagCounts))
	for k, v := range l.proj.tagCounts {
		out[k] = v
	}
	return out
}

// SetTagFilter selects the tag for the tag-filtered view; "" clears it.
func (l *Library) SetTagFilter(tag string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tagFilter = tag
	l.rebuildLocked()
}

// TagFiltered returns the tag-filtered view.
func (l *Library) TagFiltered() []Book {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.resolveLocked(l.proj.tagFiltered)
}

// SetSearchResults stores the latest catalog search results.
func (l *Library) SetSearchResults(items []CatalogItem) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.search = slices.Clone(items)
}

// SearchResults returns the last catalog search joined with library state.
func (l *Library) SearchResults() []SearchHit {
	l.mu.RLock()
	defer l.mu.RUnlock()
	hits := make([]SearchHit, 0, len(l.search))
	for _, item := range l.search {
		hit := SearchHit{Item: item}
		if id, ok := l.proj.isbns[matcher.NormalizeISBN(item.ISBN13)]; ok {
			b := l.books[id].Clone()
			hit.Book = &b
		}
		hits = append(hits, hit)
	}
	return hits
}

// Select marks id as the currently selected book; 0 clears the selection.
func (l *Library) Select(id int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.selected = id
}

// Selected returns the currently selected book.
func (l *Library) Selected() (Book, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.selected == 0 {
		return Book{}, false
	}
	b, ok := l.books[l.selected]
	if !ok {
		return Book{}, false
	}
	return b.Clone(), true
}

// RegisterJob adds a batch job's working set so Remove can reach it.
func (l *Library) RegisterJob(ws WorkingSet) {
	l.jobsMu.Lock()
	defer l.jobsMu.Unlock()
	l.jobs[ws] = struct{}{}
}

// UnregisterJob removes a finished job.
func (l *Library) UnregisterJob(ws WorkingSet) {
	l.jobsMu.Lock()
	defer l.jobsMu.Unlock()
	delete(l.jobs, ws)
}

func (l *Library) forgetInJobs(id int64) {
	l.jobsMu.Lock()
	defer l.jobsMu.Unlock()
	for ws := range l.jobs {
		ws.Forget(id)
	}
}

func (l *Library) resolveLocked(ids []int64) []Book {
	out := make([]Book, 0, len(ids))
	for _, id := range ids {
		if b, ok := l.books[id]; ok {
			out = append(out, b.Clone())
		}
	}
	return out
}

// rebuildLocked recomputes every projection from the table. Callers hold mu.
func (l *Library) rebuildLocked() {
	order := make([]int64, 0, len(l.books))
	isbns := make(map[string]int64, len(l.books))
	tagCounts := make(map[string]int)

	for id, b := range l.books {
		order = append(order, id)
		if isbn := matcher.NormalizeISBN(b.Catalog.ISBN13); isbn != "" {
			isbns[isbn] = id
		}
		for _, tag := range b.User.TagIDs {
			tagCounts[tag]++
		}
	}

	slices.SortFunc(order, func(a, b int64) int {
		ta, tb := l.books[a].User.AddedAt, l.books[b].User.AddedAt
		if c := tb.Compare(ta); c != 0 {
			return c
		}
		switch {
		case a > b:
			return -1
		case a < b:
			return 1
		}
		return 0
	})

	var filtered []int64
	if l.tagFilter != "" {
		for _, id := range order {
			if b := l.books[id]; b.HasTag(l.tagFilter) {
				filtered = append(filtered, id)
			}
		}
	} else {
		filtered = order
	}

	l.proj = projections{
		order:       order,
		isbns:       isbns,
		tagCounts:   tagCounts,
		tagFiltered: filtered,
	}
}
