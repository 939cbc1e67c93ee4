package datastore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	bserrors "github.com/lepinkainen/bookstock/internal/errors"
	"github.com/lepinkainen/bookstock/internal/library"
)

// RemoteDatabase is the Datasette database the books table lives in.
const RemoteDatabase = "bookstock"

// RemoteStore implements Store against the Datasette JSON write API
type RemoteStore struct {
	baseURL  string
	apiToken string
	client   *http.Client
	now      func() time.Time
}

var _ Store = (*RemoteStore)(nil)

// NewRemoteStore creates a new RemoteStore instance
func NewRemoteStore(baseURL, apiToken string) *RemoteStore {
	return &RemoteStore{
		baseURL:  strings.TrimRight(baseURL, "/"),
		apiToken: apiToken,
		client:   &http.Client{Timeout: 15 * time.Second},
		now:      time.Now,
	}
}

// Connect validates the base URL; the table is created by the first insert
func (c *RemoteStore) Connect(_ context.Context) error {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid base URL: %q", c.baseURL)
	}
	return nil
}

// Insert sends the row to the insert API and returns the assigned ID
func (c *RemoteStore) Insert(ctx context.Context, b *library.Book) (int64, error) {
	row, err := encodeBook(b, c.now())
	if err != nil {
		return 0, err
	}
	row.ID = 0

	var resp struct {
		Rows []struct {
			ID int64 `json:"id"`
		} `json:"rows"`
	}
	payload := map[string]any{"row": row, "return": true, "pk": "id"}
	if err := c.post(ctx, c.tablePath("-", "insert"), payload, &resp); err != nil {
		return 0, err
	}
	if len(resp.Rows) == 0 || resp.Rows[0].ID == 0 {
		return 0, fmt.Errorf("insert response carried no row id")
	}
	return resp.Rows[0].ID, nil
}

// Update replaces the stored row
func (c *RemoteStore) Update(ctx context.Context, b *library.Book) error {
	row, err := encodeBook(b, c.now())
	if err != nil {
		return err
	}
	update := map[string]any{
		"title":      row.Title,
		"author":     row.Author,
		"note":       row.Note,
		"data":       row.Data,
		"updated_at": row.UpdatedAt,
	}
	return c.post(ctx, c.tablePath(strconv.FormatInt(b.ID, 10), "-", "update"), map[string]any{"update": update}, nil)
}

// Delete removes the row. A missing row is not an error.
func (c *RemoteStore) Delete(ctx context.Context, id int64) error {
	err := c.post(ctx, c.tablePath(strconv.FormatInt(id, 10), "-", "delete"), map[string]any{}, nil)
	if errors.Is(err, bserrors.ErrNotFound) {
		return nil
	}
	return err
}

// List returns every book, newest first
func (c *RemoteStore) List(ctx context.Context) ([]library.Book, error) {
	return c.list(ctx, 0)
}

// ListRecent returns the newest limit books
func (c *RemoteStore) ListRecent(ctx context.Context, limit int) ([]library.Book, error) {
	return c.list(ctx, limit)
}

// Close releases idle connections
func (c *RemoteStore) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

// list follows Datasette's next token until the table or limit is exhausted.
// A limit of zero or less means every row.
func (c *RemoteStore) list(ctx context.Context, limit int) ([]library.Book, error) {
	size := "max"
	if limit > 0 {
		size = strconv.Itoa(limit)
	}

	var books []library.Book
	next := ""
	for {
		page, err := c.listPage(ctx, size, next)
		if err != nil {
			return nil, err
		}
		for _, r := range page.Rows {
			b, err := decodeBook(r)
			if err != nil {
				return nil, err
			}
			books = append(books, b)
			if limit > 0 && len(books) == limit {
				return books, nil
			}
		}
		if page.Next == "" || len(page.Rows) == 0 {
			return books, nil
		}
		next = page.Next
	}
}

type rowsPage struct {
	Rows []bookRow `json:"rows"`
	Next string    `json:"next"`
}

func (c *RemoteStore) listPage(ctx context.Context, size, next string) (rowsPage, error) {
	q := url.Values{
		"_shape":     {"objects"},
		"_sort_desc": {"created_at"},
		"_size":      {size},
	}
	if next != "" {
		q.Set("_next", next)
	}
	endpoint := c.baseURL + "/" + path.Join(RemoteDatabase, BooksTable+".json") + "?" + q.Encode()

	var page rowsPage
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return page, fmt.Errorf("failed to create request: %w", err)
	}
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return page, fmt.Errorf("failed to send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := checkStatus(resp); err != nil {
		return page, err
	}
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return page, fmt.Errorf("failed to decode rows: %w", err)
	}
	return page, nil
}

func (c *RemoteStore) tablePath(elem ...string) string {
	return "/" + path.Join(append([]string{RemoteDatabase, BooksTable}, elem...)...)
}

func (c *RemoteStore) post(ctx context.Context, p string, payload any, target any) error {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal JSON payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+p, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := checkStatus(resp); err != nil {
		return err
	}
	if target == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *RemoteStore) authorize(req *http.Request) {
	if c.apiToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiToken)
	}
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("remote store: %w", bserrors.ErrNotFound)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	var errResp struct {
		Errors []string `json:"errors"`
		Error  string   `json:"error"`
	}
	if err := json.Unmarshal(body, &errResp); err == nil {
		if len(errResp.Errors) > 0 {
			return fmt.Errorf("API error (status %d): %s", resp.StatusCode, strings.Join(errResp.Errors, "; "))
		}
		if errResp.Error != "" {
			return fmt.Errorf("API error (status %d): %s", resp.StatusCode, errResp.Error)
		}
	}
	return fmt.Errorf("request failed with status %d", resp.StatusCode)
}
