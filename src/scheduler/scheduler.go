// Package scheduler is the process-wide clock trigger for the engine's
// periodic tasks. Explicit lifecycle: start on boot, stop on shutdown,
// stop is idempotent.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/username/finflow/src/logger"
)

// Task is one periodic job. Runs never overlap themselves: a tick that
// arrives while the previous run is still going is skipped (skip-if-running
// bounds resource use; anything missed is rediscovered on the next tick).
type Task struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
	// Skipped, when set, is called for each tick dropped because the
	// previous run was still in flight.
	Skipped func()

	busy atomic.Bool
}

type Scheduler struct {
	tasks  []*Task
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startOnce sync.Once
	stopOnce  sync.Once
}

func New(tasks ...*Task) *Scheduler {
	return &Scheduler{tasks: tasks}
}

// Start launches one ticker loop per task.
func (s *Scheduler) Start() {
	s.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		s.cancel = cancel
		for _, t := range s.tasks {
			s.wg.Add(1)
			go s.loop(ctx, t)
			logger.L.Info("Scheduled periodic task", "task", t.Name, "interval", t.Interval.String())
		}
	})
}

// Stop cancels all task loops and waits for in-flight runs. Safe to call
// more than once.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()
		logger.L.Info("Scheduler stopped")
	})
}

func (s *Scheduler) loop(ctx context.Context, t *Task) {
	defer s.wg.Done()
	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !t.busy.CompareAndSwap(false, true) {
				logger.L.Warn("Skipping tick, previous run still in flight", "task", t.Name)
				if t.Skipped != nil {
					t.Skipped()
				}
				continue
			}
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				defer t.busy.Store(false)
				started := time.Now()
				if err := t.Run(ctx); err != nil {
					logger.L.Error("Periodic task failed", "task", t.Name, "error", err, "elapsed", time.Since(started).String())
				} else {
					logger.L.Debug("Periodic task completed", "task", t.Name, "elapsed", time.Since(started).String())
				}
			}()
		}
	}
}
