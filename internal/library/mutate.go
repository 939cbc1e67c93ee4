package library

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	bserrors "github.com/lepinkainen/bookstock/internal/errors"
	"github.com/lepinkainen/bookstock/internal/matcher"
	"github.com/lepinkainen/bookstock/internal/metrics"
)

// Patch edits a working copy of a book.
type Patch func(b *Book) error

// Mutate is the single path for changing a resident book:
//
//  1. look the book up (a missing id is a logged no-op),
//  2. apply patch to a copy,
//  3. write the copy into the table and rebuild every projection under one lock,
//  4. persist it,
//  5. on a persistence failure put the exact pre-image back, rebuild, notify
//     the user once and return a PersistenceError.
//
// Callers must not run two mutations for the same id concurrently.
func (l *Library) Mutate(ctx context.Context, id int64, op string, patch Patch) error {
	err := l.mutate(ctx, id, op, patch)
	if errors.Is(err, bserrors.ErrNotFound) {
		return nil
	}
	return err
}

// MutateStrict is Mutate but reports a missing id as ErrNotFound.
func (l *Library) MutateStrict(ctx context.Context, id int64, op string, patch Patch) error {
	return l.mutate(ctx, id, op, patch)
}

func (l *Library) mutate(ctx context.Context, id int64, op string, patch Patch) error {
	l.mu.Lock()
	current, ok := l.books[id]
	if !ok {
		l.mu.Unlock()
		slog.Warn("Mutation skipped, book not resident", "id", id, "op", op)
		return bserrors.ErrNotFound
	}

	preImage := current.Clone()
	next := current.Clone()
	if err := patch(&next); err != nil {
		l.mu.Unlock()
		return err
	}
	next.ID = preImage.ID

	l.books[id] = next
	l.rebuildLocked()
	l.mu.Unlock()

	if err := l.repo.Update(ctx, &next); err != nil {
		l.rollback(id, preImage)
		metrics.Rollbacks.Inc()
		slog.Error("Persisting book failed, rolled back", "id", id, "op", op, "error", err)
		l.notifier.Notify(Notification{
			Level:   LevelError,
			Message: fmt.Sprintf("Could not save %s for %q", op, preImage.Catalog.Title),
		})
		return &bserrors.PersistenceError{Op: op, ID: id, Err: err}
	}

	slog.Debug("Book updated", "id", id, "op", op)
	return nil
}

// rollback restores preImage unless the book was removed in the meantime.
func (l *Library) rollback(id int64, preImage Book) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.books[id]; !ok {
		return
	}
	l.books[id] = preImage
	l.rebuildLocked()
}

// SetRating sets the star rating (0 to MaxRating).
func (l *Library) SetRating(ctx context.Context, id int64, rating int) error {
	if rating < 0 || rating > MaxRating {
		return &bserrors.ValidationError{Field: "rating", Message: fmt.Sprintf("must be between 0 and %d", MaxRating)}
	}
	return l.Mutate(ctx, id, "rating", func(b *Book) error {
		b.User.Rating = rating
		return nil
	})
}

// SetTags replaces the tag set.
func (l *Library) SetTags(ctx context.Context, id int64, tags []string) error {
	tags = normalizeTags(tags)
	return l.Mutate(ctx, id, "tags", func(b *Book) error {
		b.User.TagIDs = tags
		return nil
	})
}

// ToggleFavorite flips the favorite flag.
func (l *Library) ToggleFavorite(ctx context.Context, id int64) error {
	return l.Mutate(ctx, id, "favorite", func(b *Book) error {
		b.User.Favorite = !b.User.Favorite
		return nil
	})
}

// SetNote sets the free-text note.
func (l *Library) SetNote(ctx context.Context, id int64, note string) error {
	note = strings.TrimSpace(note)
	if utf8.RuneCountInString(note) > MaxNoteLength {
		return &bserrors.ValidationError{Field: "note", Message: fmt.Sprintf("must be at most %d characters", MaxNoteLength)}
	}
	return l.Mutate(ctx, id, "note", func(b *Book) error {
		b.User.Note = note
		return nil
	})
}

// SetReadStatus sets the reading status.
func (l *Library) SetReadStatus(ctx context.Context, id int64, status ReadStatus) error {
	if !status.Valid() {
		return &bserrors.ValidationError{Field: "read status", Message: fmt.Sprintf("unknown status %q", status)}
	}
	return l.Mutate(ctx, id, "read status", func(b *Book) error {
		b.User.ReadStatus = status
		return nil
	})
}

// SetCustomSearchTitle overrides the search key used for availability lookups.
func (l *Library) SetCustomSearchTitle(ctx context.Context, id int64, title string) error {
	title = strings.TrimSpace(title)
	return l.Mutate(ctx, id, "search title", func(b *Book) error {
		b.User.CustomSearchTitle = title
		return nil
	})
}

// ApplyRefresh commits a reconciliation result. merge receives the current API
// block and returns the new one; the user block is never handed to it.
func (l *Library) ApplyRefresh(ctx context.Context, id int64, catalog CatalogItem, merge func(prev APIBlock) APIBlock) error {
	return l.MutateStrict(ctx, id, "stock refresh", func(b *Book) error {
		b.Catalog = catalog
		b.API = merge(b.API.Clone())
		return nil
	})
}

// Add persists a new book built from item and inserts it with its assigned ID.
func (l *Library) Add(ctx context.Context, item CatalogItem) (Book, error) {
	if isbn := matcher.NormalizeISBN(item.ISBN13); isbn != "" && l.HasISBN(isbn) {
		return Book{}, fmt.Errorf("%s: %w", isbn, bserrors.ErrDuplicateISBN)
	}

	b := NewBook(item, l.now().UTC())
	id, err := l.repo.Insert(ctx, &b)
	if err != nil {
		l.notifier.Notify(Notification{Level: LevelError, Message: fmt.Sprintf("Could not add %q", item.Title)})
		return Book{}, &bserrors.PersistenceError{Op: "insert", Err: err}
	}
	b.ID = id

	l.mu.Lock()
	l.books[id] = b.Clone()
	l.rebuildLocked()
	l.mu.Unlock()

	slog.Info("Book added", "id", id, "isbn", item.ISBN13, "title", item.Title)
	return b, nil
}

// Remove deletes the book from the store, the table, every projection and
// every active batch job.
func (l *Library) Remove(ctx context.Context, id int64) error {
	l.mu.RLock()
	b, ok := l.books[id]
	l.mu.RUnlock()
	if !ok {
		slog.Warn("Remove skipped, book not resident", "id", id)
		return nil
	}

	if err := l.repo.Delete(ctx, id); err != nil {
		l.notifier.Notify(Notification{Level: LevelError, Message: fmt.Sprintf("Could not remove %q", b.Catalog.Title)})
		return &bserrors.PersistenceError{Op: "delete", ID: id, Err: err}
	}

	l.mu.Lock()
	delete(l.books, id)
	if l.selected == id {
		l.selected = 0
	}
	l.rebuildLocked()
	l.mu.Unlock()

	l.forgetInJobs(id)

	slog.Info("Book removed", "id", id, "title", b.Catalog.Title)
	return nil
}
