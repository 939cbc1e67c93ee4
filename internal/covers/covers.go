// Package covers downloads catalog cover images and stores them resized.
package covers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/disintegration/imaging"
)

// DefaultMaxWidth is used when no width is configured.
const DefaultMaxWidth = 600

// ErrNoCover is returned when the catalog item has no cover URL.
var ErrNoCover = errors.New("no cover image")

// DownloadOptions holds options for downloading a cover image.
type DownloadOptions struct {
	// URL is the source URL of the cover image
	URL string
	// Dir is the directory the cover is saved in
	Dir string
	// Filename is the name of the cover file (see BuildFilename)
	Filename string
	// MaxWidth scales wider images down, keeping the aspect ratio
	MaxWidth int
	// Update forces re-downloading even if the cover exists
	Update bool
}

// Result holds the result of a cover download.
type Result struct {
	// Downloaded indicates if a new file was written
	Downloaded bool
	// Path is the full path to the cover
	Path string
}

// Downloader fetches cover images.
type Downloader struct {
	client *http.Client
}

// New returns a Downloader. A nil client gets a 30 second timeout.
func New(client *http.Client) *Downloader {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Downloader{client: client}
}

// Download fetches opts.URL, scales it to opts.MaxWidth and saves it as JPEG.
// An existing file is kept unless opts.Update is set.
func (d *Downloader) Download(ctx context.Context, opts DownloadOptions) (*Result, error) {
	if opts.URL == "" {
		return nil, ErrNoCover
	}
	maxWidth := opts.MaxWidth
	if maxWidth <= 0 {
		maxWidth = DefaultMaxWidth
	}

	path := filepath.Join(opts.Dir, opts.Filename)
	result := &Result{Path: path}

	if fileExists(path) && !opts.Update {
		slog.Debug("Cover already exists, skipping download", "path", path)
		return result, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, opts.URL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download cover: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %d downloading cover from %s", resp.StatusCode, opts.URL)
	}

	img, err := imaging.Decode(resp.Body, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode cover: %w", err)
	}

	if img.Bounds().Dx() > maxWidth {
		img = imaging.Resize(img, maxWidth, 0, imaging.Lanczos)
	}

	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cover directory: %w", err)
	}
	if err := imaging.Save(img, path, imaging.JPEGQuality(85)); err != nil {
		return nil, fmt.Errorf("failed to write cover file: %w", err)
	}

	slog.Info("Downloaded cover", "path", path)
	result.Downloaded = true
	return result, nil
}

// BuildFilename creates the cover filename for a book.
// Returns: "9788937460449 - Title.jpg"
func BuildFilename(isbn, title string) string {
	name := sanitizeFilename(title)
	if isbn == "" {
		return name + ".jpg"
	}
	if name == "" {
		return isbn + ".jpg"
	}
	return isbn + " - " + name + ".jpg"
}

func sanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, ":", " -")
	name = strings.ReplaceAll(name, "/", "-")
	name = strings.ReplaceAll(name, "\\", "-")
	return strings.TrimSpace(name)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
