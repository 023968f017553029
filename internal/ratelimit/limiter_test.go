package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestLimiter_Burst(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	l := New(Config{Limit: 3, Window: time.Minute, Now: clock.Now})

	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow(), "request %d", i)
	}
	assert.False(t, l.Allow())
}

func TestLimiter_Refill(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	l := New(Config{Limit: 60, Window: time.Minute, Now: clock.Now})

	for l.Allow() {
	}
	assert.InDelta(t, 0, l.Tokens(), 0.001)

	// 60 в минуту: один токен в секунду
	clock.Advance(500 * time.Millisecond)
	assert.False(t, l.Allow())
	clock.Advance(500 * time.Millisecond)
	assert.True(t, l.Allow())

	// Корзина не переполняется
	clock.Advance(time.Hour)
	assert.InDelta(t, 60, l.Tokens(), 0.001)
}

func TestLimiter_CustomBurst(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	l := New(Config{Limit: 10, Window: time.Second, Burst: 2, Now: clock.Now})

	assert.True(t, l.Allow())
	assert.True(t, l.Allow())
	assert.False(t, l.Allow())

	clock.Advance(100 * time.Millisecond)
	assert.True(t, l.Allow())
}

func TestLimiter_WaitContextDeadline(t *testing.T) {
	l := New(Config{Limit: 1, Window: time.Hour})
	require.True(t, l.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := l.Wait(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLimiter_WaitCanceled(t *testing.T) {
	l := New(Config{Limit: 1, Window: time.Hour})
	require.True(t, l.Allow())

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(10*time.Millisecond, cancel)

	require.ErrorIs(t, l.Wait(ctx), context.Canceled)
}

func TestLimiter_WaitTimeout(t *testing.T) {
	l := New(Config{Limit: 1, Window: time.Hour, WaitTimeout: 20 * time.Millisecond})
	require.True(t, l.Allow())

	require.ErrorIs(t, l.Wait(context.Background()), ErrWaitTimeout)
}

func TestLimiter_WaitGetsRefilledToken(t *testing.T) {
	l := New(Config{Limit: 1, Window: 50 * time.Millisecond})
	require.True(t, l.Allow())

	start := time.Now()
	require.NoError(t, l.Wait(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestNew_Defaults(t *testing.T) {
	l := New(Config{})
	assert.InDelta(t, DefaultLimit, l.Tokens(), 0.001)
}
