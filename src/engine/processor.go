package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/username/finflow/src/clock"
	"github.com/username/finflow/src/logger"
	"github.com/username/finflow/src/metrics"
	"github.com/username/finflow/src/models"
	"github.com/username/finflow/src/recurrence"
	"github.com/username/finflow/src/store"
)

const (
	maxProcessAttempts = 3
	retryBackoffBase   = 250 * time.Millisecond
)

// recurrenceSuffix marks realized transactions created from a recurring
// template, matching what the account views display.
const recurrenceSuffix = " (Recurring)"

// Processor realizes one due recurring transaction. All of its writes — the
// realization insert, the balance delta, the schedule advance — happen in a
// single store transaction, so a failure anywhere rolls back everything.
type Processor struct {
	store *store.Store
	clock clock.Clock
}

func NewProcessor(s *store.Store, c clock.Clock) *Processor {
	return &Processor{store: s, clock: c}
}

// Process handles one dispatch message. Dispatch is at-least-once: the
// in-transaction re-fetch requires the template to still be due, so a
// duplicate delivery finds nothing and is skipped, not failed. Store errors
// are retried a bounded number of times with backoff before being reported.
func (p *Processor) Process(ctx context.Context, transactionID, ownerID string) error {
	var err error
	for attempt := 1; attempt <= maxProcessAttempts; attempt++ {
		err = p.processOnce(ctx, transactionID, ownerID)
		if err == nil {
			return nil
		}
		if errors.Is(err, store.ErrNotFound) {
			metrics.Engine.DuplicatesSkipped.Add(1)
			logger.L.Debug("Recurring transaction no longer due, skipping",
				"transactionID", transactionID, "ownerID", ownerID)
			return nil
		}
		metrics.Engine.StoreErrors.Add(1)
		logger.L.Warn("Recurring transaction processing failed, will retry",
			"transactionID", transactionID, "attempt", attempt, "error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryBackoffBase << (attempt - 1)):
		}
	}
	logger.L.Error("Recurring transaction processing exhausted retries",
		"transactionID", transactionID, "ownerID", ownerID, "error", err)
	return fmt.Errorf("processing transaction %s: %w", transactionID, err)
}

func (p *Processor) processOnce(ctx context.Context, transactionID, ownerID string) error {
	now := p.clock.Now()

	return p.store.WithTransaction(ctx, func(tx *sql.Tx) error {
		src, err := p.store.GetDueTransactionTx(tx, transactionID, ownerID, now)
		if err != nil {
			return err
		}
		if src.RecurringInterval == nil {
			return fmt.Errorf("recurring transaction %s has no interval", src.ID)
		}

		realized := &models.Transaction{
			ID:          uuid.NewString(),
			UserID:      src.UserID,
			AccountID:   src.AccountID,
			Type:        src.Type,
			Amount:      src.Amount,
			Description: src.Description + recurrenceSuffix,
			Date:        now,
			Category:    src.Category,
			IsRecurring: false,
		}
		if err := p.store.InsertTransactionTx(tx, realized); err != nil {
			return err
		}

		newBalance, err := p.store.ApplyBalanceDeltaTx(tx, src.AccountID, realized.SignedAmount())
		if err != nil {
			return err
		}

		next, err := recurrence.Next(now, *src.RecurringInterval)
		if err != nil {
			return err
		}
		if err := p.store.AdvanceScheduleTx(tx, src.ID, now, next); err != nil {
			return err
		}

		metrics.Engine.Processed.Add(1)
		logger.L.Info("Recurring transaction realized",
			"sourceID", src.ID,
			"realizedID", realized.ID,
			"accountID", src.AccountID,
			"type", string(src.Type),
			"amount", src.Amount.String(),
			"newBalance", newBalance.String(),
			"nextRecurringDate", next.UTC().Format(time.RFC3339))
		return nil
	})
}
