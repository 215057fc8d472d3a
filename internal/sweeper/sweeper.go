// Package sweeper runs periodic cleanup jobs at the top of every hour.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/and161185/tokenguard/internal/metrics"
)

// Job deletes rows that expired before now and reports how many it removed.
// Jobs must be idempotent.
type Job struct {
	Name string
	Run  func(ctx context.Context, now time.Time) (int64, error)
}

// Sweeper runs its jobs on a wall-clock schedule. At most one run is in flight;
// a run that would overlap is skipped.
type Sweeper struct {
	jobs  []Job
	log   *zap.Logger
	sem   *semaphore.Weighted
	now   func() time.Time
	after func(time.Duration) <-chan time.Time
	wg    sync.WaitGroup
}

// New constructs a Sweeper.
func New(log *zap.Logger, jobs ...Job) *Sweeper {
	return &Sweeper{
		jobs:  jobs,
		log:   log,
		sem:   semaphore.NewWeighted(1),
		now:   time.Now,
		after: time.After,
	}
}

// NextRun returns the top of the hour following t.
func NextRun(t time.Time) time.Time {
	return t.Truncate(time.Hour).Add(time.Hour)
}

// Run fires at every top of the hour until ctx is done, then waits for an
// in-flight run to finish.
func (s *Sweeper) Run(ctx context.Context) {
	defer s.wg.Wait()
	for {
		now := s.now()
		select {
		case <-ctx.Done():
			return
		case <-s.after(NextRun(now).Sub(now)):
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			_, _ = s.RunOnce(ctx)
		}()
	}
}

// RunOnce runs every job once. It returns false without running anything when
// another run holds the slot.
func (s *Sweeper) RunOnce(ctx context.Context) (bool, error) {
	if !s.sem.TryAcquire(1) {
		s.log.Info("sweep skipped: previous run still in progress")
		metrics.SweepRuns.WithLabelValues("skipped").Inc()
		return false, nil
	}
	defer s.sem.Release(1)

	start := s.now()
	var errAll error
	for _, j := range s.jobs {
		n, err := j.Run(ctx, start)
		if err != nil {
			s.log.Error("sweep job failed", zap.String("job", j.Name), zap.Error(err))
			errAll = errors.Join(errAll, fmt.Errorf("%s: %w", j.Name, err))
			continue
		}
		metrics.SweepDeleted.WithLabelValues(j.Name).Add(float64(n))
		s.log.Info("sweep job done", zap.String("job", j.Name), zap.Int64("deleted", n))
	}

	result := "ok"
	if errAll != nil {
		result = "error"
	}
	metrics.SweepRuns.WithLabelValues(result).Inc()
	s.log.Info("sweep finished", zap.String("result", result), zap.Duration("dur", time.Since(start)))
	return true, errAll
}
