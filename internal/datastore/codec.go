package datastore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/lepinkainen/bookstock/internal/library"
)

// BooksTable is the only table the store owns.
const BooksTable = "books"

// BooksSchema is the SQLite layout. data holds the catalog, API and user
// blocks as JSON; the note lives in its own column.
const BooksSchema = `
CREATE TABLE IF NOT EXISTS books (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	title TEXT NOT NULL,
	author TEXT NOT NULL DEFAULT '',
	note TEXT NOT NULL DEFAULT '',
	data TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_books_created_at ON books(created_at);
`

// document is the JSON stored in the data column.
type document struct {
	Catalog library.CatalogItem `json:"catalog"`
	API     library.APIBlock    `json:"api"`
	User    library.UserBlock   `json:"user"`
}

// bookRow is one row of the books table.
type bookRow struct {
	ID        int64  `json:"id,omitempty"`
	Title     string `json:"title"`
	Author    string `json:"author"`
	Note      string `json:"note"`
	Data      string `json:"data"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

func encodeBook(b *library.Book, now time.Time) (bookRow, error) {
	doc := document{Catalog: b.Catalog, API: b.API, User: b.User}
	doc.User.Note = ""

	data, err := json.Marshal(doc)
	if err != nil {
		return bookRow{}, fmt.Errorf("encoding book %d: %w", b.ID, err)
	}

	return bookRow{
		ID:        b.ID,
		Title:     b.Catalog.Title,
		Author:    b.Catalog.Author,
		Note:      b.User.Note,
		Data:      string(data),
		CreatedAt: formatTime(b.User.AddedAt),
		UpdatedAt: formatTime(now),
	}, nil
}

func decodeBook(r bookRow) (library.Book, error) {
	var doc document
	if err := json.Unmarshal([]byte(r.Data), &doc); err != nil {
		return library.Book{}, fmt.Errorf("decoding book %d: %w", r.ID, err)
	}

	b := library.Book{
		ID:      r.ID,
		Catalog: doc.Catalog,
		API:     doc.API,
		User:    doc.User,
	}
	b.User.Note = r.Note
	if b.User.AddedAt.IsZero() && r.CreatedAt != "" {
		if t, err := time.Parse(time.RFC3339, r.CreatedAt); err == nil {
			b.User.AddedAt = t
		}
	}
	if b.User.ReadStatus == "" {
		b.User.ReadStatus = library.StatusUnread
	}
	return b, nil
}

// timeLayout has a fixed-width fraction so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}
