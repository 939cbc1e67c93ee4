// Package batch runs pausable, cancellable refresh jobs over a selection of
// library books.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	bserrors "github.com/lepinkainen/bookstock/internal/errors"
	"github.com/lepinkainen/bookstock/internal/library"
	"github.com/lepinkainen/bookstock/internal/metrics"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultBatchSize    = 10
	DefaultDelay        = time.Second
	DefaultPollInterval = 500 * time.Millisecond
)

// Refresher refreshes one resident book.
type Refresher interface {
	RefreshBook(ctx context.Context, id int64) error
}

// RefresherFunc adapts a function to Refresher.
type RefresherFunc func(ctx context.Context, id int64) error

// RefreshBook calls f(ctx, id).
func (f RefresherFunc) RefreshBook(ctx context.Context, id int64) error { return f(ctx, id) }

// Controller starts batch jobs against one library.
type Controller struct {
	lib          *library.Library
	refresher    Refresher
	batchSize    int
	concurrency  int
	delay        time.Duration
	pollInterval time.Duration
	sleep        func(ctx context.Context, d time.Duration) error
}

// Option configures a Controller.
type Option func(*Controller)

// WithBatchSize sets how many books make up one batch.
func WithBatchSize(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.batchSize = n
		}
	}
}

// WithConcurrency caps how many books of a batch refresh at once. Defaults to
// the batch size.
func WithConcurrency(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithDelay sets the pause between batches.
func WithDelay(d time.Duration) Option {
	return func(c *Controller) {
		if d >= 0 {
			c.delay = d
		}
	}
}

// WithPollInterval sets how often a paused job checks whether to continue.
func WithPollInterval(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

// WithSleep replaces the context-aware sleep, for tests.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Controller) {
		if sleep != nil {
			c.sleep = sleep
		}
	}
}

// New creates a controller.
func New(lib *library.Library, r Refresher, opts ...Option) *Controller {
	c := &Controller{
		lib:          lib,
		refresher:    r,
		batchSize:    DefaultBatchSize,
		delay:        DefaultDelay,
		pollInterval: DefaultPollInterval,
		sleep:        sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.concurrency == 0 {
		c.concurrency = c.batchSize
	}
	return c
}

// Start resolves sel, loading the full library first when only part of it is
// resident, and runs the job in the background.
func (c *Controller) Start(ctx context.Context, sel Selection, cb Callbacks) (*Job, error) {
	if !c.lib.FullyLoaded() {
		slog.Info("Loading full library before batch refresh")
		if err := c.lib.Load(ctx); err != nil {
			return nil, fmt.Errorf("starting batch job: %w", err)
		}
	}

	job := newJob(uuid.NewString(), sel.String(), sel.Resolve(c.lib), cb)
	c.lib.RegisterJob(job)

	slog.Info("Batch job started", "job", job.id, "selection", job.selection, "total", len(job.items), "batch_size", c.batchSize)
	metrics.UpdateBatchProgress(job.id, 0, len(job.items))

	job.setState(StateRunning)
	go c.run(ctx, job)
	return job, nil
}

func (c *Controller) run(ctx context.Context, job *Job) {
	start := time.Now()
	var summary Summary
	stopped := false

	var reportMu sync.Mutex
	record := func(id int64, outcome string) {
		reportMu.Lock()
		defer reportMu.Unlock()

		job.mu.Lock()
		job.progress.Current++
		switch outcome {
		case "success":
			summary.Succeeded++
		case "failure":
			job.progress.Failed = append(job.progress.Failed, id)
		case "skipped":
			job.progress.Skipped++
		}
		p := job.progress.clone()
		job.mu.Unlock()

		metrics.BatchItems.WithLabelValues(outcome).Inc()
		metrics.UpdateBatchProgress(job.id, p.Current, p.Total)
		if job.callbacks.OnProgress != nil {
			job.callbacks.OnProgress(p)
		}
	}

	for batchNo, offset := 0, 0; offset < len(job.items); batchNo, offset = batchNo+1, offset+c.batchSize {
		if c.cancelled(ctx, job) {
			stopped = true
			break
		}
		if batchNo > 0 {
			if !c.waitWhilePaused(ctx, job) {
				stopped = true
				break
			}
			if err := c.sleep(ctx, c.delay); err != nil {
				stopped = true
				break
			}
		}

		end := min(offset+c.batchSize, len(job.items))
		slog.Debug("Processing batch", "job", job.id, "batch", batchNo+1, "from", offset, "to", end)

		var g errgroup.Group
		g.SetLimit(c.concurrency)
		for _, id := range job.items[offset:end] {
			if c.cancelled(ctx, job) {
				stopped = true
				break
			}
			g.Go(func() error {
				if c.cancelled(ctx, job) {
					return nil
				}
				if outcome := c.process(ctx, job, id); outcome != "" {
					record(id, outcome)
				}
				return nil
			})
		}
		_ = g.Wait()
		if stopped {
			break
		}
	}

	if c.cancelled(ctx, job) && job.Progress().Current < len(job.items) {
		stopped = true
	}

	p := job.Progress()
	summary.Failed = p.Failed
	summary.Skipped = p.Skipped
	summary.Total = p.Total
	summary.Cancelled = stopped

	state, outcome := StateCompleted, "completed"
	if stopped {
		state, outcome = StateCancelled, "cancelled"
	}

	job.mu.Lock()
	job.summary = summary
	job.mu.Unlock()

	c.lib.UnregisterJob(job)
	metrics.BatchJobs.WithLabelValues(outcome).Inc()
	metrics.ForgetBatchJob(job.id)

	slog.Info("Batch job finished",
		"job", job.id,
		"state", state,
		"succeeded", summary.Succeeded,
		"failed", len(summary.Failed),
		"skipped", summary.Skipped,
		"total", summary.Total,
		"duration", time.Since(start).Round(time.Millisecond))

	job.setState(state)
	if job.callbacks.OnComplete != nil {
		job.callbacks.OnComplete(summary.clone())
	}
	close(job.done)
}

// process refreshes one book and classifies the outcome. An empty outcome
// means the result was discarded because the job's context ended.
func (c *Controller) process(ctx context.Context, job *Job, id int64) string {
	if job.isRemoved(id) {
		slog.Debug("Book removed during batch, skipping", "job", job.id, "id", id)
		return "skipped"
	}

	err := c.refresher.RefreshBook(ctx, id)
	switch {
	case err == nil:
		return "success"
	case ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)):
		return ""
	case errors.Is(err, bserrors.ErrNotFound):
		return "skipped"
	}

	slog.Warn("Batch refresh failed", "job", job.id, "id", id, "error", err)
	return "failure"
}

// waitWhilePaused polls until the job is resumed. It returns false when the
// job was cancelled while paused.
func (c *Controller) waitWhilePaused(ctx context.Context, job *Job) bool {
	if !job.shouldPause() {
		return true
	}

	slog.Info("Batch job paused", "job", job.id, "current", job.Progress().Current)
	job.setState(StatePaused)
	metrics.SetBatchPaused(job.id, true)
	defer metrics.SetBatchPaused(job.id, false)

	for job.shouldPause() {
		if c.cancelled(ctx, job) {
			return false
		}
		if err := c.sleep(ctx, c.pollInterval); err != nil {
			return false
		}
	}
	if c.cancelled(ctx, job) {
		return false
	}

	slog.Info("Batch job resumed", "job", job.id)
	job.setState(StateRunning)
	return true
}

func (c *Controller) cancelled(ctx context.Context, job *Job) bool {
	return ctx.Err() != nil || job.shouldCancel()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
