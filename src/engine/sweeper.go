package engine

import (
	"context"
	"fmt"

	"github.com/username/finflow/src/clock"
	"github.com/username/finflow/src/logger"
	"github.com/username/finflow/src/metrics"
	"github.com/username/finflow/src/recurrence"
	"github.com/username/finflow/src/store"
)

// Sweeper runs one due-work sweep: scan for recurring transactions whose
// next occurrence has passed and dispatch each as an independent unit.
type Sweeper struct {
	store      *store.Store
	dispatcher *Dispatcher
	clock      clock.Clock
}

func NewSweeper(s *store.Store, d *Dispatcher, c clock.Clock) *Sweeper {
	return &Sweeper{store: s, dispatcher: d, clock: c}
}

// Sweep scans and dispatches. An enqueue cut short by shutdown is not an
// error worth retrying here: whatever was not dispatched is still due and
// the next sweep rediscovers it.
func (s *Sweeper) Sweep(ctx context.Context) error {
	now := s.clock.Now()
	metrics.Engine.SweepsRun.Add(1)

	due, err := s.store.FindDue(ctx, now)
	if err != nil {
		metrics.Engine.StoreErrors.Add(1)
		return fmt.Errorf("due-work scan: %w", err)
	}
	metrics.Engine.DueFound.Add(int64(len(due)))
	if len(due) == 0 {
		logger.L.Debug("Sweep found no due recurring transactions")
		return nil
	}
	logger.L.Info("Sweep found due recurring transactions", "count", len(due))

	for _, t := range due {
		if t.RecurringInterval == nil || !recurrence.IsValidInterval(string(*t.RecurringInterval)) {
			logger.L.Error("Due transaction has invalid recurring interval, not dispatching",
				"transactionID", t.ID)
			continue
		}
		msg := DispatchMessage{TransactionID: t.ID, OwnerID: t.UserID}
		if err := s.dispatcher.Enqueue(ctx, msg); err != nil {
			logger.L.Warn("Sweep stopped before dispatching all due work",
				"dispatched", msg.TransactionID, "error", err)
			return nil
		}
	}
	return nil
}
