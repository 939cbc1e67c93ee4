package datastore

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/lepinkainen/bookstock/internal/config"
	"github.com/lepinkainen/bookstock/internal/library"
)

func newTestRemote(t *testing.T, h http.HandlerFunc) *RemoteStore {
	t.Helper()
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)

	store := NewRemoteStore(ts.URL, "testtoken")
	store.now = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }
	if err := store.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	return store
}

func TestRemoteStore_Insert_Success(t *testing.T) {
	var got map[string]any
	store := newTestRemote(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/bookstock/books/-/insert" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer testtoken" {
			t.Errorf("Authorization = %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		_, _ = w.Write([]byte(`{"ok": true, "rows": [{"id": 42}]}`))
	})

	b := library.NewBook(library.CatalogItem{ISBN13: "9788937460449", Title: "Demian", Author: "Hesse"}, time.Now())
	b.User.Note = "gift"

	id, err := store.Insert(context.Background(), &b)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if id != 42 {
		t.Fatalf("id = %d, want 42", id)
	}

	row, ok := got["row"].(map[string]any)
	if !ok {
		t.Fatalf("request has no row: %v", got)
	}
	if row["title"] != "Demian" || row["note"] != "gift" {
		t.Fatalf("unexpected row %v", row)
	}
	if _, hasID := row["id"]; hasID {
		t.Fatalf("insert row must not carry an id: %v", row)
	}
	if strings.Contains(row["data"].(string), "gift") {
		t.Fatalf("note leaked into data column: %s", row["data"])
	}
}

func TestRemoteStore_Insert_APIError(t *testing.T) {
	store := newTestRemote(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		if err := json.NewEncoder(w).Encode(map[string]any{"ok": false, "errors": []string{"forbidden"}}); err != nil {
			t.Errorf("Failed to encode error response: %v", err)
		}
	})

	b := library.NewBook(library.CatalogItem{Title: "x"}, time.Now())
	_, err := store.Insert(context.Background(), &b)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "forbidden") {
		t.Errorf("error should carry API message, got %v", err)
	}
}

func TestRemoteStore_UpdateAndDelete(t *testing.T) {
	var paths []string
	var update map[string]any
	store := newTestRemote(t, func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		if strings.HasSuffix(r.URL.Path, "/update") {
			var body map[string]map[string]any
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Errorf("decoding update: %v", err)
			}
			update = body["update"]
		}
		if strings.HasPrefix(r.URL.Path, "/bookstock/books/9/") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"ok": true}`))
	})

	b := library.NewBook(library.CatalogItem{Title: "Demian"}, time.Now())
	b.ID = 7
	b.User.Rating = 4
	if err := store.Update(context.Background(), &b); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if update["title"] != "Demian" || !strings.Contains(update["data"].(string), `"rating":4`) {
		t.Fatalf("unexpected update body %v", update)
	}

	if err := store.Delete(context.Background(), 7); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if err := store.Delete(context.Background(), 9); err != nil {
		t.Fatalf("deleting a missing row should succeed, got %v", err)
	}

	want := []string{"/bookstock/books/7/-/update", "/bookstock/books/7/-/delete", "/bookstock/books/9/-/delete"}
	if strings.Join(paths, ",") != strings.Join(want, ",") {
		t.Fatalf("paths = %v, want %v", paths, want)
	}
}

func TestRemoteStore_ListRecent(t *testing.T) {
	store := newTestRemote(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/bookstock/books.json" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("_shape") != "objects" || q.Get("_sort_desc") != "created_at" || q.Get("_size") != "2" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		_, _ = w.Write([]byte(`{"rows": [
			{"id": 2, "title": "B", "author": "", "note": "n", "data": "{\"catalog\":{\"isbn13\":\"2\",\"title\":\"B\",\"author\":\"\",\"subInfo\":{}},\"api\":{},\"user\":{\"addedAt\":\"2024-03-02T00:00:00Z\",\"readStatus\":\"reading\",\"rating\":0,\"favorite\":false}}", "created_at": "2024-03-02T00:00:00Z"},
			{"id": 1, "title": "A", "author": "", "note": "", "data": "{}", "created_at": "2024-03-01T00:00:00Z"}
		], "next": "1"}`))
	})

	books, err := store.ListRecent(context.Background(), 2)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(books) != 2 {
		t.Fatalf("got %d books, want 2", len(books))
	}
	if books[0].ID != 2 || books[0].User.Note != "n" || books[0].User.ReadStatus != library.StatusReading {
		t.Fatalf("unexpected first book %+v", books[0])
	}
	if books[1].User.ReadStatus != library.StatusUnread {
		t.Fatalf("missing status should default to unread, got %q", books[1].User.ReadStatus)
	}
	if !books[1].User.AddedAt.Equal(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("AddedAt should fall back to created_at, got %v", books[1].User.AddedAt)
	}
}

func TestRemoteStore_Connect_InvalidURL(t *testing.T) {
	store := NewRemoteStore("not a url", "")
	if err := store.Connect(context.Background()); err == nil {
		t.Fatal("expected error for invalid URL")
	}
}

func TestRemoteStore_ListFollowsNextToken(t *testing.T) {
	var tokens []string
	store := newTestRemote(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("_size") != "max" {
			t.Errorf("unexpected size %q", q.Get("_size"))
		}
		tokens = append(tokens, q.Get("_next"))
		switch q.Get("_next") {
		case "":
			_, _ = w.Write([]byte(`{"rows": [{"id": 3, "title": "C", "data": "{}", "created_at": "2024-03-03T00:00:00Z"},
				{"id": 2, "title": "B", "data": "{}", "created_at": "2024-03-02T00:00:00Z"}], "next": "2024-03-02,2"}`))
		case "2024-03-02,2":
			_, _ = w.Write([]byte(`{"rows": [{"id": 1, "title": "A", "data": "{}", "created_at": "2024-03-01T00:00:00Z"}], "next": null}`))
		default:
			t.Errorf("unexpected token %q", q.Get("_next"))
		}
	})

	books, err := store.List(context.Background())
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(books) != 3 {
		t.Fatalf("got %d books, want 3", len(books))
	}
	for i, want := range []int64{3, 2, 1} {
		if books[i].ID != want {
			t.Errorf("books[%d].ID = %d, want %d", i, books[i].ID, want)
		}
	}
	if strings.Join(tokens, "|") != "|2024-03-02,2" {
		t.Errorf("tokens = %q", tokens)
	}
}

func TestRemoteStore_ListRecentStopsAtLimit(t *testing.T) {
	calls := 0
	store := newTestRemote(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		_, _ = w.Write([]byte(`{"rows": [{"id": 2, "title": "B", "data": "{}", "created_at": "2024-03-02T00:00:00Z"}], "next": "more"}`))
	})

	books, err := store.ListRecent(context.Background(), 1)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(books) != 1 || calls != 1 {
		t.Fatalf("got %d books in %d calls, want 1 in 1", len(books), calls)
	}
}

func TestOpen_RemoteStore(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	t.Cleanup(ts.Close)

	s, err := Open(context.Background(), config.Config{RemoteStoreURL: ts.URL, DatabasePath: "unused.db"})
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if _, ok := s.(*RemoteStore); !ok {
		t.Fatalf("Open returned %T, want *RemoteStore", s)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
}
