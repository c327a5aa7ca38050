package scheduler

import (
	"context"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/username/finflow/src/logger"
)

func TestMain(m *testing.M) {
	logger.InitLogger("error")
	os.Exit(m.Run())
}

func TestSchedulerRunsTaskPeriodically(t *testing.T) {
	var runs atomic.Int64
	s := New(&Task{
		Name:     "tick-counter",
		Interval: 10 * time.Millisecond,
		Run: func(ctx context.Context) error {
			runs.Add(1)
			return nil
		},
	})

	s.Start()
	time.Sleep(100 * time.Millisecond)
	s.Stop()

	if got := runs.Load(); got < 2 {
		t.Fatalf("expected at least 2 runs in 100ms at 10ms cadence, got %d", got)
	}
}

func TestSchedulerSkipsTickWhileRunning(t *testing.T) {
	var runs, skips atomic.Int64
	block := make(chan struct{})
	s := New(&Task{
		Name:     "slow-task",
		Interval: 10 * time.Millisecond,
		Run: func(ctx context.Context) error {
			runs.Add(1)
			select {
			case <-block:
			case <-ctx.Done():
			}
			return nil
		},
		Skipped: func() { skips.Add(1) },
	})

	s.Start()
	time.Sleep(100 * time.Millisecond)
	close(block)
	s.Stop()

	if got := runs.Load(); got != 1 {
		t.Fatalf("expected exactly 1 overlapping run, got %d", got)
	}
	if skips.Load() == 0 {
		t.Fatal("expected skipped ticks while the run was in flight")
	}
}

func TestSchedulerRunsTasksIndependently(t *testing.T) {
	var fast atomic.Int64
	block := make(chan struct{})
	s := New(
		&Task{
			Name:     "stuck",
			Interval: 5 * time.Millisecond,
			Run: func(ctx context.Context) error {
				select {
				case <-block:
				case <-ctx.Done():
				}
				return nil
			},
		},
		&Task{
			Name:     "fast",
			Interval: 10 * time.Millisecond,
			Run: func(ctx context.Context) error {
				fast.Add(1)
				return nil
			},
		},
	)

	s.Start()
	time.Sleep(100 * time.Millisecond)
	close(block)
	s.Stop()

	if fast.Load() < 2 {
		t.Fatalf("a stuck task must not block its sibling, fast ran %d times", fast.Load())
	}
}

func TestSchedulerStopIsIdempotent(t *testing.T) {
	s := New(&Task{
		Name:     "noop",
		Interval: 10 * time.Millisecond,
		Run:      func(ctx context.Context) error { return nil },
	})

	s.Start()
	s.Stop()
	s.Stop() // second stop must not panic or hang
}

func TestSchedulerStopWithoutStart(t *testing.T) {
	s := New()
	s.Stop()
}
