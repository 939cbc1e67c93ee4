package testutil

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	bserrors "github.com/lepinkainen/bookstock/internal/errors"
	"github.com/lepinkainen/bookstock/internal/library"
)

// ErrInjected is returned by MemoryRepository when a failure is injected.
var ErrInjected = errors.New("injected persistence failure")

// MemoryRepository is an in-memory library.Repository with failure
// injection. IDs are assigned sequentially from 1.
type MemoryRepository struct {
	mu     sync.Mutex
	books  map[int64]library.Book
	nextID int64

	// FailUpdate, when set, decides whether an Update for the book fails.
	FailUpdate func(b *library.Book) error
	FailInsert error
	FailDelete error

	Updates int
}

var _ library.Repository = (*MemoryRepository)(nil)

// NewMemoryRepository returns an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		books:  make(map[int64]library.Book),
		nextID: 1,
	}
}

// FailUpdates makes every subsequent Update fail with ErrInjected.
func (r *MemoryRepository) FailUpdates() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.FailUpdate = func(*library.Book) error { return ErrInjected }
}

// Seed stores b under its own ID (or the next ID when zero) and returns it.
func (r *MemoryRepository) Seed(b library.Book) library.Book {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b.ID == 0 {
		b.ID = r.nextID
	}
	if b.ID >= r.nextID {
		r.nextID = b.ID + 1
	}
	r.books[b.ID] = b.Clone()
	return b
}

// Stored returns the persisted copy of the book.
func (r *MemoryRepository) Stored(id int64) (library.Book, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.books[id]
	return b.Clone(), ok
}

func (r *MemoryRepository) Insert(_ context.Context, b *library.Book) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailInsert != nil {
		return 0, r.FailInsert
	}
	id := r.nextID
	r.nextID++
	stored := b.Clone()
	stored.ID = id
	r.books[id] = stored
	return id, nil
}

func (r *MemoryRepository) Update(_ context.Context, b *library.Book) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Updates++
	if r.FailUpdate != nil {
		if err := r.FailUpdate(b); err != nil {
			return err
		}
	}
	if _, ok := r.books[b.ID]; !ok {
		return fmt.Errorf("book %d: %w", b.ID, bserrors.ErrNotFound)
	}
	r.books[b.ID] = b.Clone()
	return nil
}

func (r *MemoryRepository) Delete(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailDelete != nil {
		return r.FailDelete
	}
	delete(r.books, id)
	return nil
}

func (r *MemoryRepository) List(_ context.Context) ([]library.Book, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]library.Book, 0, len(r.books))
	for _, b := range r.books {
		out = append(out, b.Clone())
	}
	slices.SortFunc(out, func(a, b library.Book) int { return int(b.ID - a.ID) })
	return out, nil
}

func (r *MemoryRepository) ListRecent(ctx context.Context, limit int) ([]library.Book, error) {
	all, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// RecordingNotifier collects notifications for assertions.
type RecordingNotifier struct {
	mu   sync.Mutex
	sent []library.Notification
}

var _ library.Notifier = (*RecordingNotifier)(nil)

func (n *RecordingNotifier) Notify(note library.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, note)
}

// Notifications returns everything sent so far.
func (n *RecordingNotifier) Notifications() []library.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return slices.Clone(n.sent)
}

// Count returns the number of notifications at level.
func (n *RecordingNotifier) Count(level library.Level) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	count := 0
	for _, note := range n.sent {
		if note.Level == level {
			count++
		}
	}
	return count
}
