package ratelimit

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiter_BurstThenBlock(t *testing.T) {
	l := New("catalog", 2)

	assert.True(t, l.Allow())
	assert.True(t, l.Allow())
	assert.False(t, l.Allow())
	assert.Equal(t, "catalog", l.Name())
}

func TestLimiter_WaitHonoursContext(t *testing.T) {
	l := NewWithBurst("paper_stock", 1, 1)
	require.True(t, l.Allow())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := l.Wait(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Contains(t, err.Error(), "paper_stock")
}

func TestNewWithBurst_ClampsBurst(t *testing.T) {
	l := NewWithBurst("zero", 1, 0)
	assert.True(t, l.Allow())
}

func TestRegistry_SharesLimiters(t *testing.T) {
	r := NewRegistry()

	a := r.Get("metro_ebook", 5)
	b := r.Get("metro_ebook", 50)
	c := r.Get("edu_ebook", 5)

	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
}
