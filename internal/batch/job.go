package batch

import (
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	bserrors "github.com/lepinkainen/bookstock/internal/errors"
)

// State is a job's lifecycle state.
type State int

const (
	StateIdle State = iota
	StateRunning
	StatePaused
	StateCompleted
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Finished reports whether the job has stopped for good.
func (s State) Finished() bool {
	return s == StateCompleted || s == StateCancelled
}

// Progress is reported after every item.
type Progress struct {
	Current int
	Total   int
	Failed  []int64
	Skipped int
}

// Summary is reported once, when the job ends.
type Summary struct {
	Succeeded int
	Failed    []int64
	Skipped   int
	Total     int
	Cancelled bool
}

// Err classifies the run: a cancel is a StopProcessingError, a non-empty run
// where nothing succeeded is ErrServiceUnavailable (even when every book was
// skipped) and a run with some failures is a PartialFailureError.
func (s Summary) Err() error {
	switch {
	case s.Cancelled:
		return bserrors.NewStopProcessingError(fmt.Sprintf("cancelled after %d of %d books", s.Succeeded+len(s.Failed)+s.Skipped, s.Total))
	case s.Total > 0 && s.Succeeded == 0:
		return fmt.Errorf("none of %d refreshes succeeded (%d failed, %d skipped): %w", s.Total, len(s.Failed), s.Skipped, bserrors.ErrServiceUnavailable)
	case len(s.Failed) > 0:
		return &bserrors.PartialFailureError{Succeeded: s.Succeeded, Failed: len(s.Failed)}
	}
	return nil
}

// Callbacks lets the caller observe and steer a job. Every field is optional.
// ShouldPause and ShouldCancel are OR-ed with the job's own flags.
type Callbacks struct {
	OnProgress    func(Progress)
	OnComplete    func(Summary)
	OnStateChange func(State)
	ShouldPause   func() bool
	ShouldCancel  func() bool
}

// Job is one batch refresh run.
type Job struct {
	id        string
	selection string
	items     []int64
	callbacks Callbacks

	paused    atomic.Bool
	cancelled atomic.Bool

	mu       sync.Mutex
	state    State
	progress Progress
	summary  Summary
	removed  map[int64]struct{}

	done chan struct{}
}

func newJob(id, selection string, items []int64, cb Callbacks) *Job {
	return &Job{
		id:        id,
		selection: selection,
		items:     items,
		callbacks: cb,
		state:     StateIdle,
		progress:  Progress{Total: len(items)},
		removed:   make(map[int64]struct{}),
		done:      make(chan struct{}),
	}
}

// ID returns the job's unique id.
func (j *Job) ID() string { return j.id }

// Selection describes what the job was started with.
func (j *Job) Selection() string { return j.selection }

// Items returns the working list in processing order.
func (j *Job) Items() []int64 { return slices.Clone(j.items) }

// Pause asks the job to stop before its next batch.
func (j *Job) Pause() { j.paused.Store(true) }

// Resume clears a pause request.
func (j *Job) Resume() { j.paused.Store(false) }

// Cancel asks the job to stop. Items already running finish.
func (j *Job) Cancel() { j.cancelled.Store(true) }

// State returns the current state.
func (j *Job) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// Progress returns a snapshot of the running totals.
func (j *Job) Progress() Progress {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.progress.clone()
}

// Done is closed when the job ends.
func (j *Job) Done() <-chan struct{} { return j.done }

// Wait blocks until the job ends and returns its summary.
func (j *Job) Wait() Summary {
	<-j.done
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.summary.clone()
}

// Forget drops id from the working set. The item is counted as skipped when
// its turn comes.
func (j *Job) Forget(id int64) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.removed[id] = struct{}{}
}

func (j *Job) isRemoved(id int64) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	_, ok := j.removed[id]
	return ok
}

func (j *Job) shouldPause() bool {
	return j.paused.Load() || (j.callbacks.ShouldPause != nil && j.callbacks.ShouldPause())
}

func (j *Job) shouldCancel() bool {
	return j.cancelled.Load() || (j.callbacks.ShouldCancel != nil && j.callbacks.ShouldCancel())
}

func (j *Job) setState(s State) {
	j.mu.Lock()
	changed := j.state != s
	j.state = s
	j.mu.Unlock()
	if changed && j.callbacks.OnStateChange != nil {
		j.callbacks.OnStateChange(s)
	}
}

func (p Progress) clone() Progress {
	p.Failed = slices.Clone(p.Failed)
	return p
}

func (s Summary) clone() Summary {
	s.Failed = slices.Clone(s.Failed)
	return s
}
