package poller

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poachwatch/poachwatch/internal/observability/metrics"
)

// updates collects OnUpdate calls on a channel.
type updates chan string

func (u updates) fn(id string) { u <- id }

func waitUpdate(t *testing.T, u updates, want string) {
	t.Helper()
	select {
	case got := <-u:
		assert.Equal(t, want, got)
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for update from %s", want)
	}
}

func TestScheduleAppliesFirstBatchImmediately(t *testing.T) {
	t.Parallel()

	u := make(updates, 4)
	p := New(WithOnUpdate(u.fn))
	defer p.Stop()

	require.NoError(t, p.Schedule("movement", time.Hour, func(context.Context) (any, error) {
		return []int{1, 2, 3}, nil
	}))
	waitUpdate(t, u, "movement")

	batch, ok := Latest[[]int](p, "movement")
	require.True(t, ok)
	assert.Equal(t, []int{1, 2, 3}, batch)

	_, ok = Latest[[]string](p, "movement")
	assert.False(t, ok, "wrong type must not be returned")
}

func TestScheduleRejectsInvalidArguments(t *testing.T) {
	t.Parallel()

	p := New()
	defer p.Stop()
	fetch := func(context.Context) (any, error) { return nil, nil }

	require.Error(t, p.Schedule("", time.Second, fetch))
	require.Error(t, p.Schedule("image", 0, fetch))
	require.Error(t, p.Schedule("image", time.Second, nil))
}

func TestFailedFetchKeepsPreviousBatch(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	u := make(updates, 4)
	p := New(WithOnUpdate(u.fn))
	defer p.Stop()

	require.NoError(t, p.Schedule("image", 20*time.Millisecond, func(context.Context) (any, error) {
		if calls.Add(1) == 1 {
			return []string{"img1"}, nil
		}
		return nil, errors.New("connection refused")
	}))
	waitUpdate(t, u, "image")

	require.Eventually(t, func() bool {
		_, st, _ := p.Latest("image")
		return st.ConsecutiveFailures >= 2
	}, 2*time.Second, 5*time.Millisecond)

	batch, ok := Latest[[]string](p, "image")
	require.True(t, ok)
	assert.Equal(t, []string{"img1"}, batch)

	_, st, _ := p.Latest("image")
	assert.Contains(t, st.LastError, "connection refused")
	assert.True(t, st.Stale())
}

func TestTickSkippedWhileFetchInFlight(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	var calls, concurrent, maxConcurrent atomic.Int32
	p := New()

	require.NoError(t, p.Schedule("movement", 5*time.Millisecond, func(context.Context) (any, error) {
		calls.Add(1)
		n := concurrent.Add(1)
		defer concurrent.Add(-1)
		for {
			cur := maxConcurrent.Load()
			if n <= cur || maxConcurrent.CompareAndSwap(cur, n) {
				break
			}
		}
		<-release
		return []int{}, nil
	}))

	require.Eventually(t, func() bool {
		_, st, _ := p.Latest("movement")
		return st.SkippedTicks >= 3
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, int32(1), calls.Load(), "skipped ticks must not be queued")
	close(release)
	p.Stop()

	assert.Equal(t, int32(1), maxConcurrent.Load())
}

func TestResultDiscardedAfterCancel(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	release := make(chan struct{})
	var updated atomic.Bool

	registry := prometheus.NewRegistry()
	m, err := metrics.NewPollerMetrics(registry)
	require.NoError(t, err)

	p := New(WithMetrics(m), WithOnUpdate(func(string) { updated.Store(true) }))
	require.NoError(t, p.Schedule("positions", time.Hour, func(context.Context) (any, error) {
		close(started)
		<-release
		return []int{42}, nil
	}))

	<-started
	assert.True(t, p.Cancel("positions"))
	close(release)
	p.Stop()

	assert.False(t, updated.Load(), "cancelled result must not be applied")
	_, _, ok := p.Latest("positions")
	assert.False(t, ok)
	assert.InDelta(t, 1, testutil.ToFloat64(m.DiscardedResults.WithLabelValues("positions")), 0)
}

func TestStopDiscardsInFlightResultAndRejectsSchedule(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	release := make(chan struct{})
	p := New()

	var once sync.Once
	require.NoError(t, p.Schedule("image", time.Hour, func(context.Context) (any, error) {
		once.Do(func() { close(started) })
		<-release
		return []string{"late"}, nil
	}))
	<-started

	done := make(chan struct{})
	go func() {
		p.Stop()
		close(done)
	}()

	// Stop waits for the in-flight fetch.
	select {
	case <-done:
		t.Fatal("Stop returned before the in-flight fetch completed")
	case <-time.After(20 * time.Millisecond):
	}
	close(release)
	<-done

	_, st, ok := p.Latest("image")
	require.True(t, ok)
	assert.False(t, st.HasData)
	assert.True(t, st.Cancelled)

	err := p.Schedule("image", time.Second, func(context.Context) (any, error) { return nil, nil })
	require.Error(t, err)
}

func TestFetchTimeoutIsApplied(t *testing.T) {
	t.Parallel()

	u := make(chan error, 1)
	p := New(WithFetchTimeout(10 * time.Millisecond))
	defer p.Stop()

	require.NoError(t, p.Schedule("movement", time.Hour, func(ctx context.Context) (any, error) {
		<-ctx.Done()
		u <- ctx.Err()
		return nil, ctx.Err()
	}))

	select {
	case err := <-u:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(2 * time.Second):
		t.Fatal("fetch was not bounded by the timeout")
	}
}

func TestRescheduleReplacesSource(t *testing.T) {
	t.Parallel()

	u := make(updates, 4)
	p := New(WithOnUpdate(u.fn))
	defer p.Stop()

	require.NoError(t, p.Schedule("movement", time.Hour, func(context.Context) (any, error) { return "v1", nil }))
	waitUpdate(t, u, "movement")
	require.NoError(t, p.Schedule("movement", time.Hour, func(context.Context) (any, error) { return "v2", nil }))
	waitUpdate(t, u, "movement")

	got, ok := Latest[string](p, "movement")
	require.True(t, ok)
	assert.Equal(t, "v2", got)
	assert.Len(t, p.Statuses(), 1)
}

func TestStatusesOrderedByID(t *testing.T) {
	t.Parallel()

	p := New()
	defer p.Stop()
	fetch := func(context.Context) (any, error) { return nil, nil }
	for _, id := range []string{"positions:rhino", "image", "movement"} {
		require.NoError(t, p.Schedule(id, time.Hour, fetch))
	}

	statuses := p.Statuses()
	require.Len(t, statuses, 3)
	assert.Equal(t, "image", statuses[0].SourceID)
	assert.Equal(t, "movement", statuses[1].SourceID)
	assert.Equal(t, "positions:rhino", statuses[2].SourceID)
}
