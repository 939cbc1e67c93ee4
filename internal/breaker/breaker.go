// Package breaker wraps sony/gobreaker with per-source naming, logging and
// metrics.
package breaker

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/lepinkainen/bookstock/internal/metrics"
)

// Settings tunes when a breaker opens.
type Settings struct {
	// MinRequests is how many requests the window needs before tripping.
	MinRequests uint32
	// FailureRatio opens the circuit once failures/requests reaches it.
	FailureRatio float64
	// Interval resets counts while closed.
	Interval time.Duration
	// Timeout is how long the circuit stays open before probing.
	Timeout time.Duration
	// IsSuccessful classifies errors that should not count as failures.
	IsSuccessful func(err error) bool
}

// DefaultSettings opens after 60% failures over at least 10 requests and
// probes again after 2 minutes.
func DefaultSettings() Settings {
	return Settings{
		MinRequests:  10,
		FailureRatio: 0.6,
		Interval:     time.Minute,
		Timeout:      2 * time.Minute,
	}
}

// Breaker protects calls to one source.
type Breaker struct {
	cb   *gobreaker.CircuitBreaker[any]
	name string
}

// New creates a breaker named after the source it protects.
func New(name string, s Settings) *Breaker {
	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    s.Interval,
		Timeout:     s.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < s.MinRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			if ratio >= s.FailureRatio {
				slog.Warn("Opening circuit", "source", name, "failures", counts.TotalFailures, "failure_rate", ratio)
				return true
			}
			return false
		},
		IsSuccessful: s.IsSuccessful,
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Info("Circuit state changed", "source", name, "from", from.String(), "to", to.String())
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
		},
	})

	return &Breaker{cb: cb, name: name}
}

// Name returns the protected source name.
func (b *Breaker) Name() string {
	return b.name
}

// State returns the current circuit state.
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}

// Do runs fn unless the circuit is open. Rejections return an error that
// IsOpen recognizes.
func Do[T any](b *Breaker, fn func() (T, error)) (T, error) {
	var zero T

	result, err := b.cb.Execute(func() (any, error) {
		return fn()
	})
	if err != nil {
		if IsOpen(err) {
			metrics.CircuitBreakerRequests.WithLabelValues(b.name, "rejected").Inc()
			slog.Debug("Request rejected by open circuit", "source", b.name)
		} else {
			metrics.CircuitBreakerRequests.WithLabelValues(b.name, "failure").Inc()
		}
		// fn's own result is still returned when it failed
		if typed, ok := result.(T); ok {
			return typed, err
		}
		return zero, err
	}

	metrics.CircuitBreakerRequests.WithLabelValues(b.name, "success").Inc()
	typed, ok := result.(T)
	if !ok {
		return zero, nil
	}
	return typed, nil
}

// IsOpen reports whether err is a circuit rejection.
func IsOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// Registry hands out one breaker per source.
type Registry struct {
	mu       sync.Mutex
	settings Settings
	breakers map[string]*Breaker
}

// NewRegistry creates breakers on demand with s.
func NewRegistry(s Settings) *Registry {
	return &Registry{settings: s, breakers: make(map[string]*Breaker)}
}

// Get returns the breaker for name, creating it on first use.
func (r *Registry) Get(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[name]; ok {
		return b
	}
	b := New(name, r.settings)
	r.breakers[name] = b
	return b
}
