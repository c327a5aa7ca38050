// Package budget evaluates monthly spending against default budgets and
// raises one alert per budget per calendar month.
package budget

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/shopspring/decimal"
	"github.com/username/finflow/src/clock"
	"github.com/username/finflow/src/logger"
	"github.com/username/finflow/src/metrics"
	"github.com/username/finflow/src/models"
	"github.com/username/finflow/src/services"
	"github.com/username/finflow/src/store"
)

const maxAlertStampAttempts = 3

// alertThresholdPercent is the budget usage at which an alert fires.
var alertThresholdPercent = decimal.NewFromInt(80)

type Evaluator struct {
	store  *store.Store
	sender services.NotificationSender
	clock  clock.Clock
}

func NewEvaluator(s *store.Store, sender services.NotificationSender, c clock.Clock) *Evaluator {
	return &Evaluator{store: s, sender: sender, clock: c}
}

// EvaluateAll checks every account-default budget. Budgets are independent:
// a failure on one is collected and reported, never aborting its siblings.
func (e *Evaluator) EvaluateAll(ctx context.Context) error {
	now := e.clock.Now()
	metrics.Engine.EvaluationsRun.Add(1)

	budgets, err := e.store.ListDefaultBudgets(ctx)
	if err != nil {
		metrics.Engine.StoreErrors.Add(1)
		return fmt.Errorf("listing default budgets: %w", err)
	}
	logger.L.Debug("Budget evaluation started", "budgets", len(budgets))

	var errs *multierror.Error
	for i := range budgets {
		if err := e.evaluateOne(ctx, &budgets[i], now); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("budget %s: %w", budgets[i].ID, err))
		}
	}
	return errs.ErrorOrNil()
}

func (e *Evaluator) evaluateOne(ctx context.Context, b *models.Budget, now time.Time) error {
	account, err := e.store.GetDefaultAccount(ctx, b.UserID)
	if errors.Is(err, store.ErrNotFound) {
		// Owner has no default account; nothing to measure against.
		logger.L.Debug("Skipping budget without default account", "budgetID", b.ID, "userID", b.UserID)
		return nil
	}
	if err != nil {
		metrics.Engine.StoreErrors.Add(1)
		return err
	}

	if b.Amount.IsZero() {
		logger.L.Warn("Skipping budget with zero amount", "budgetID", b.ID)
		return nil
	}

	start, end := monthBounds(now)
	totalExpenses, err := e.store.SumExpenses(ctx, b.UserID, account.ID, start, end)
	if err != nil {
		metrics.Engine.StoreErrors.Add(1)
		return err
	}

	percentageUsed := totalExpenses.Div(b.Amount).Mul(decimal.NewFromInt(100))
	if percentageUsed.LessThan(alertThresholdPercent) {
		return nil
	}
	if b.LastAlertSent != nil && sameMonth(*b.LastAlertSent, now) {
		logger.L.Debug("Budget alert already sent this month",
			"budgetID", b.ID, "lastAlertSent", b.LastAlertSent.Format(time.RFC3339))
		return nil
	}

	payload := services.BudgetAlertPayload{
		AccountName:    account.Name,
		PercentageUsed: percentageUsed,
		BudgetAmount:   b.Amount,
		TotalExpenses:  totalExpenses,
	}
	subject := fmt.Sprintf("Budget Alert for %s Account", account.Name)
	if err := services.SendWithTimeout(ctx, e.sender, b.UserEmail, subject, payload); err != nil {
		metrics.Engine.NotifyErrors.Add(1)
		return fmt.Errorf("sending alert: %w", err)
	}
	metrics.Engine.AlertsSent.Add(1)
	logger.L.Info("Budget alert sent",
		"budgetID", b.ID,
		"accountName", account.Name,
		"percentageUsed", percentageUsed.StringFixed(1),
		"totalExpenses", totalExpenses.String())

	// The send and the suppression stamp are one logical step. If the stamp
	// write keeps failing the alert may repeat next cycle, so the write is
	// retried before giving up.
	var stampErr error
	for attempt := 1; attempt <= maxAlertStampAttempts; attempt++ {
		if stampErr = e.store.UpdateLastAlertSent(ctx, b.ID, now); stampErr == nil {
			return nil
		}
		logger.L.Warn("Failed to stamp last_alert_sent, retrying",
			"budgetID", b.ID, "attempt", attempt, "error", stampErr)
	}
	metrics.Engine.StoreErrors.Add(1)
	return fmt.Errorf("stamping last_alert_sent after alert (alert may repeat next cycle): %w", stampErr)
}

// monthBounds returns the inclusive UTC range of now's calendar month.
func monthBounds(now time.Time) (time.Time, time.Time) {
	now = now.UTC()
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0).Add(-time.Second)
	return start, end
}

func sameMonth(a, b time.Time) bool {
	a, b = a.UTC(), b.UTC()
	return a.Month() == b.Month() && a.Year() == b.Year()
}
