package datastore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	bserrors "github.com/lepinkainen/bookstock/internal/errors"
	"github.com/lepinkainen/bookstock/internal/library"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store on a local SQLite file
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
	now    func() time.Time
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLiteStore instance
func NewSQLiteStore(dbPath string) *SQLiteStore {
	return &SQLiteStore{
		dbPath: dbPath,
		now:    time.Now,
	}
}

// Connect opens the database and creates the books table
func (s *SQLiteStore) Connect(ctx context.Context) error {
	db, err := sql.Open("sqlite", s.dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	// one writer keeps SQLite from reporting SQLITE_BUSY under batch refreshes
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		return errors.Join(fmt.Errorf("failed to connect to database: %w", err), db.Close())
	}
	if _, err := db.ExecContext(ctx, BooksSchema); err != nil {
		return errors.Join(fmt.Errorf("failed to create table: %w", err), db.Close())
	}
	s.db = db
	return nil
}

// Insert stores a new book and returns its assigned ID
func (s *SQLiteStore) Insert(ctx context.Context, b *library.Book) (int64, error) {
	row, err := encodeBook(b, s.now())
	if err != nil {
		return 0, err
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO books (title, author, note, data, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		row.Title, row.Author, row.Note, row.Data, row.CreatedAt, row.UpdatedAt)
	if err != nil {
		return 0, fmt.Errorf("failed to insert book: %w", err)
	}
	return res.LastInsertId()
}

// Update replaces the stored book with the same ID
func (s *SQLiteStore) Update(ctx context.Context, b *library.Book) error {
	row, err := encodeBook(b, s.now())
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE books SET title = ?, author = ?, note = ?, data = ?, updated_at = ? WHERE id = ?`,
		row.Title, row.Author, row.Note, row.Data, row.UpdatedAt, b.ID)
	if err != nil {
		return fmt.Errorf("failed to update book %d: %w", b.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("book %d: %w", b.ID, bserrors.ErrNotFound)
	}
	return nil
}

// Delete removes a book. Deleting a missing ID is not an error.
func (s *SQLiteStore) Delete(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM books WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete book %d: %w", id, err)
	}
	return nil
}

// List returns every book, newest first
func (s *SQLiteStore) List(ctx context.Context) ([]library.Book, error) {
	return s.query(ctx, `SELECT id, title, author, note, data, created_at, updated_at FROM books ORDER BY created_at DESC, id DESC`)
}

// ListRecent returns the newest limit books
func (s *SQLiteStore) ListRecent(ctx context.Context, limit int) ([]library.Book, error) {
	if limit <= 0 {
		return s.List(ctx)
	}
	return s.query(ctx, `SELECT id, title, author, note, data, created_at, updated_at FROM books ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
}

func (s *SQLiteStore) query(ctx context.Context, query string, args ...any) ([]library.Book, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query books: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var books []library.Book
	for rows.Next() {
		var r bookRow
		if err := rows.Scan(&r.ID, &r.Title, &r.Author, &r.Note, &r.Data, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan book: %w", err)
		}
		b, err := decodeBook(r)
		if err != nil {
			return nil, err
		}
		books = append(books, b)
	}
	return books, rows.Err()
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
