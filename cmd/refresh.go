package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/lepinkainen/bookstock/internal/batch"
	bserrors "github.com/lepinkainen/bookstock/internal/errors"
	"github.com/lepinkainen/bookstock/internal/library"
	"github.com/lepinkainen/bookstock/internal/tui"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// runBatchUI shows the progress view; tests replace it.
var runBatchUI = func(title string, job *batch.Job) error {
	return tui.RunBatch(title, job)
}

// RefreshCmd refreshes one book
type RefreshCmd struct {
	ID int64 `arg:"" help:"Book ID"`
}

func (r *RefreshCmd) Run(ctx context.Context) error {
	return withBook(ctx, r.ID, func(a *app, _ library.Book) error {
		svc, err := a.Refresher()
		if err != nil {
			return err
		}
		if err := svc.RefreshBook(ctx, r.ID); err != nil {
			return err
		}
		b, _ := a.lib.Get(r.ID)
		fmt.Fprintf(stdout, "#%d %s\n%s\n", b.ID, b.Catalog.Title, stockSummary(b.API))
		for source, reason := range b.API.Errors {
			fmt.Fprintf(stdout, "  %s: %s\n", source, reason)
		}
		return nil
	})
}

// RawCmd prints raw payloads
type RawCmd struct {
	ID int64 `arg:"" help:"Book ID"`
}

func (r *RawCmd) Run(ctx context.Context) error {
	return withBook(ctx, r.ID, func(a *app, _ library.Book) error {
		svc, err := a.Refresher()
		if err != nil {
			return err
		}
		raw, err := svc.Raw(ctx, r.ID)
		if err != nil {
			return err
		}
		return writeDocument(stdout, raw, "json")
	})
}

// RefreshAllCmd runs a batch refresh
type RefreshAllCmd struct {
	Recent      int    `help:"Refresh the N most recently added books" xor:"selection"`
	Oldest      int    `help:"Refresh the N oldest books" xor:"selection"`
	Range       string `help:"Refresh books start:end in newest-first order (end exclusive)" xor:"selection"`
	All         bool   `help:"Refresh every book" xor:"selection"`
	Errors      bool   `help:"Refresh books whose last refresh had source errors" xor:"selection"`
	NoTUI       bool   `name:"no-tui" help:"Log progress instead of showing the progress view"`
	BatchSize   int    `help:"Books per batch (default from config)"`
	MetricsAddr string `help:"Serve Prometheus metrics on this address while the job runs (e.g. :9090)"`
}

// selection picks the strategy from the flags. With no flag it refreshes
// one batch of the most recent books.
func (r *RefreshAllCmd) selection(batchSize int) (batch.Selection, error) {
	switch {
	case r.All:
		return batch.All(), nil
	case r.Errors:
		return batch.WithErrors(), nil
	case r.Range != "":
		start, end, err := parseRange(r.Range)
		if err != nil {
			return nil, err
		}
		return batch.Range(start, end), nil
	case r.Oldest > 0:
		return batch.Oldest(r.Oldest), nil
	case r.Recent > 0:
		return batch.Recent(r.Recent), nil
	}
	return batch.Recent(batchSize), nil
}

func parseRange(s string) (int, int, error) {
	before, after, ok := strings.Cut(s, ":")
	if !ok {
		return 0, 0, fmt.Errorf("invalid range %q, want start:end", s)
	}
	start, err := strconv.Atoi(strings.TrimSpace(before))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid range start %q: %w", before, err)
	}
	end, err := strconv.Atoi(strings.TrimSpace(after))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid range end %q: %w", after, err)
	}
	if start < 0 || end < start {
		return 0, 0, fmt.Errorf("invalid range %q", s)
	}
	return start, end, nil
}

func (r *RefreshAllCmd) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	return withApp(ctx, func(a *app) error {
		batchSize := a.cfg.BatchSize
		if r.BatchSize > 0 {
			batchSize = r.BatchSize
		}

		sel, err := r.selection(batchSize)
		if err != nil {
			return err
		}

		svc, err := a.Refresher()
		if err != nil {
			return err
		}

		metricsAddr := r.MetricsAddr
		if metricsAddr == "" {
			metricsAddr = a.cfg.MetricsAddr
		}
		if metricsAddr != "" {
			shutdown := serveMetrics(metricsAddr)
			defer shutdown()
		}

		ctrl := batch.New(a.lib, svc,
			batch.WithBatchSize(batchSize),
			batch.WithDelay(a.cfg.BatchDelay),
			batch.WithPollInterval(a.cfg.PausePoll),
		)

		var cb batch.Callbacks
		if r.NoTUI {
			cb.OnProgress = func(p batch.Progress) {
				slog.Info("Refresh progress", "current", p.Current, "total", p.Total, "failed", len(p.Failed))
			}
		}

		job, err := ctrl.Start(ctx, sel, cb)
		if err != nil {
			return err
		}

		if !r.NoTUI {
			if err := runBatchUI(fmt.Sprintf("Refreshing %s", sel), job); err != nil {
				job.Cancel()
				slog.Warn("Progress view failed, cancelling job", "error", err)
			}
		}

		summary := job.Wait()
		fmt.Fprintf(stdout, "Refreshed %d of %d books (%d failed, %d skipped)\n",
			summary.Succeeded, summary.Total, len(summary.Failed), summary.Skipped)

		err = summary.Err()
		if bserrors.IsStopProcessingError(err) {
			slog.Warn("Batch refresh cancelled", "job", job.ID())
			return nil
		}
		return err
	})
}

// serveMetrics exposes the Prometheus registry until the returned func is
// called.
func serveMetrics(addr string) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		slog.Info("Serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics server failed", "error", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			slog.Warn("Metrics server shutdown failed", "error", err)
		}
	}
}
