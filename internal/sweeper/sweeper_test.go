package sweeper

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/tokenguard/internal/metrics"
)

type expiringRows struct {
	mu   sync.Mutex
	rows map[string]time.Time
}

func (e *expiringRows) deleteExpired(_ context.Context, now time.Time) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var n int64
	for k, exp := range e.rows {
		if exp.Before(now) {
			delete(e.rows, k)
			n++
		}
	}
	return n, nil
}

func TestNextRun(t *testing.T) {
	t.Parallel()
	at := time.Date(2026, 3, 1, 10, 17, 42, 0, time.UTC)
	require.Equal(t, time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC), NextRun(at))

	top := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	require.Equal(t, top.Add(time.Hour), NextRun(top))
}

func TestRunOnce_TwiceEqualsOnce(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	rows := &expiringRows{rows: map[string]time.Time{
		"expired":  now.Add(-time.Minute),
		"boundary": now,
		"live":     now.Add(time.Hour),
	}}
	s := New(zaptest.NewLogger(t), Job{Name: "test_pending", Run: rows.deleteExpired})
	s.now = func() time.Time { return now }

	before := testutil.ToFloat64(metrics.SweepDeleted.WithLabelValues("test_pending"))

	ran, err := s.RunOnce(context.Background())
	require.True(t, ran)
	require.NoError(t, err)
	ran, err = s.RunOnce(context.Background())
	require.True(t, ran)
	require.NoError(t, err)

	require.Len(t, rows.rows, 2)
	require.Contains(t, rows.rows, "boundary")
	require.Contains(t, rows.rows, "live")
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.SweepDeleted.WithLabelValues("test_pending"))-before)
}

func TestRunOnce_SkipsWhileRunning(t *testing.T) {
	t.Parallel()
	entered := make(chan struct{})
	release := make(chan struct{})
	var calls int
	var mu sync.Mutex
	block := Job{Name: "block", Run: func(ctx context.Context, _ time.Time) (int64, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		close(entered)
		<-release
		return 0, nil
	}}
	s := New(zaptest.NewLogger(t), block)

	done := make(chan struct{})
	var firstRan bool
	var firstErr error
	go func() {
		defer close(done)
		firstRan, firstErr = s.RunOnce(context.Background())
	}()
	<-entered

	ran, err := s.RunOnce(context.Background())
	require.False(t, ran)
	require.NoError(t, err)

	close(release)
	<-done
	require.True(t, firstRan)
	require.NoError(t, firstErr)
	mu.Lock()
	require.Equal(t, 1, calls)
	mu.Unlock()
}

func TestRunOnce_JobErrorDoesNotStopOthers(t *testing.T) {
	t.Parallel()
	var second bool
	s := New(zaptest.NewLogger(t),
		Job{Name: "bad", Run: func(context.Context, time.Time) (int64, error) { return 0, errors.New("boom") }},
		Job{Name: "good", Run: func(context.Context, time.Time) (int64, error) { second = true; return 2, nil }},
	)

	ran, err := s.RunOnce(context.Background())
	require.True(t, ran)
	require.ErrorContains(t, err, "bad: boom")
	require.True(t, second)
}

func TestRun_FiresAtTopOfHourAndStops(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 1, 10, 45, 0, 0, time.UTC)
	ticks := make(chan time.Time)
	waits := make(chan time.Duration, 4)
	ran := make(chan struct{}, 4)

	s := New(zaptest.NewLogger(t), Job{Name: "count", Run: func(context.Context, time.Time) (int64, error) {
		ran <- struct{}{}
		return 0, nil
	}})
	s.now = func() time.Time { return now }
	s.after = func(d time.Duration) <-chan time.Time {
		waits <- d
		return ticks
	}

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(stopped)
	}()

	require.Equal(t, 15*time.Minute, <-waits)
	ticks <- now
	<-ran
	<-waits

	cancel()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop on cancel")
	}
}
