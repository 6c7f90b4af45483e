package refresher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/B-Hartley/tunnelflight/pkg/types"
)

func TestRefresherRunsImmediately(t *testing.T) {
	var mu sync.Mutex
	refreshed := make(map[string]int)
	done := make(chan struct{}, 2)

	r := New(func(ctx context.Context, accountID string) error {
		mu.Lock()
		refreshed[accountID]++
		mu.Unlock()
		done <- struct{}{}
		return nil
	})
	r.Start()
	defer r.Stop()

	r.Register("a")
	r.Register("b")

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for initial refresh")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, refreshed["a"])
	assert.Equal(t, 1, refreshed["b"])
}

func TestRefresherBackoffOnFailure(t *testing.T) {
	calls := make(chan time.Time, 10)

	r := New(func(ctx context.Context, accountID string) error {
		calls <- time.Now()
		return errors.New("platform down")
	})
	// shrink the backoff so the test is fast
	r.backoffMin = 20 * time.Millisecond
	r.backoffMax = 100 * time.Millisecond
	r.Start()
	defer r.Stop()

	r.Register("a")

	var times []time.Time
	for i := 0; i < 3; i++ {
		select {
		case ts := <-calls:
			times = append(times, ts)
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for retries")
		}
	}

	require.Len(t, times, 3)
	// second retry waits roughly twice as long as the first
	first := times[1].Sub(times[0])
	second := times[2].Sub(times[1])
	assert.GreaterOrEqual(t, first, 20*time.Millisecond)
	assert.GreaterOrEqual(t, second, 40*time.Millisecond)
}

func TestRefresherDeregister(t *testing.T) {
	var mu sync.Mutex
	var count int

	r := New(func(ctx context.Context, accountID string) error {
		mu.Lock()
		count++
		mu.Unlock()
		return nil
	})
	r.Start()
	defer r.Stop()

	r.Register("a")
	// wait for the initial refresh
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 1
	}, 5*time.Second, 10*time.Millisecond)

	r.Deregister("a")
	// re-registering runs again immediately
	r.Register("a")
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 2
	}, 5*time.Second, 10*time.Millisecond)
}

func TestRefresherPaused(t *testing.T) {
	var mu sync.Mutex
	var count int

	r := New(func(ctx context.Context, accountID string) error {
		mu.Lock()
		count++
		mu.Unlock()
		return nil
	})
	r.ApplySettings(types.Settings{Pause: true, RefreshIntervalMinutes: 360})
	r.Start()
	defer r.Stop()

	r.Register("a")
	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Zero(t, count, "paused refresher should not refresh")
}

func TestBackoff(t *testing.T) {
	min := 5 * time.Minute
	max := time.Hour
	assert.Equal(t, 5*time.Minute, backoff(min, max, 1))
	assert.Equal(t, 10*time.Minute, backoff(min, max, 2))
	assert.Equal(t, 40*time.Minute, backoff(min, max, 4))
	assert.Equal(t, time.Hour, backoff(min, max, 5))
	assert.Equal(t, time.Hour, backoff(min, max, 20))
}

func TestJitterBounds(t *testing.T) {
	r := New(nil)
	for i := 0; i < 100; i++ {
		d := r.jitter(time.Hour)
		assert.GreaterOrEqual(t, d, 54*time.Minute)
		assert.LessOrEqual(t, d, 66*time.Minute)
	}
}
