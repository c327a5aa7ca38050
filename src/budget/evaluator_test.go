package budget

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/username/finflow/src/clock"
	"github.com/username/finflow/src/database"
	"github.com/username/finflow/src/logger"
	"github.com/username/finflow/src/services"
	"github.com/username/finflow/src/store"
	_ "modernc.org/sqlite"
)

func TestMain(m *testing.M) {
	logger.InitLogger("error")
	os.Exit(m.Run())
}

var evalNow = time.Date(2025, time.June, 20, 8, 0, 0, 0, time.UTC)

type recordedAlert struct {
	To      string
	Subject string
	Payload services.BudgetAlertPayload
}

type recordingSender struct {
	mu     sync.Mutex
	alerts []recordedAlert
	err    error
}

func (r *recordingSender) Send(ctx context.Context, to, subject string, payload services.BudgetAlertPayload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.alerts = append(r.alerts, recordedAlert{To: to, Subject: subject, Payload: payload})
	return nil
}

func (r *recordingSender) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.alerts)
}

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open in-memory database: %v", err)
	}
	db.SetMaxOpenConns(1)
	if err := database.EnsureSchema(db); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// seedBudgetScenario creates a user with a default account, a default budget
// of 1000, and this month's expenses totalling the given amount.
func seedBudgetScenario(t *testing.T, db *sql.DB, monthlyExpenses string, lastAlertSent *time.Time) {
	t.Helper()
	if _, err := db.Exec(`INSERT INTO users (id, name, email) VALUES ('u1', 'Test User', 'u1@example.com')`); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO accounts (id, user_id, name, balance, is_default) VALUES ('a1', 'u1', 'Checking', '0', 1)`); err != nil {
		t.Fatalf("seed account: %v", err)
	}
	var lastAlert interface{}
	if lastAlertSent != nil {
		lastAlert = lastAlertSent.UTC().Format(time.RFC3339)
	}
	if _, err := db.Exec(`
		INSERT INTO budgets (id, user_id, account_id, amount, is_account_default_budget, last_alert_sent)
		VALUES ('b1', 'u1', 'a1', '1000', 1, ?)`, lastAlert); err != nil {
		t.Fatalf("seed budget: %v", err)
	}
	if _, err := db.Exec(`
		INSERT INTO transactions (id, user_id, account_id, type, amount, description, date, category, is_recurring)
		VALUES ('e1', 'u1', 'a1', 'EXPENSE', ?, 'groceries', ?, 'groceries', 0)`,
		monthlyExpenses, evalNow.AddDate(0, 0, -5).Format(time.RFC3339)); err != nil {
		t.Fatalf("seed expense: %v", err)
	}
}

func lastAlertSentOf(t *testing.T, db *sql.DB) *time.Time {
	t.Helper()
	var s sql.NullString
	if err := db.QueryRow(`SELECT last_alert_sent FROM budgets WHERE id = 'b1'`).Scan(&s); err != nil {
		t.Fatalf("read last_alert_sent: %v", err)
	}
	if !s.Valid {
		return nil
	}
	parsed, err := time.Parse(time.RFC3339, s.String)
	if err != nil {
		t.Fatalf("parse last_alert_sent %q: %v", s.String, err)
	}
	return &parsed
}

func TestEvaluateAllSendsOneAlertAt85Percent(t *testing.T) {
	db := newTestDB(t)
	seedBudgetScenario(t, db, "850", nil)

	sender := &recordingSender{}
	e := NewEvaluator(store.New(db), sender, clock.Fixed{T: evalNow})

	if err := e.EvaluateAll(context.Background()); err != nil {
		t.Fatalf("EvaluateAll: %v", err)
	}
	if sender.count() != 1 {
		t.Fatalf("expected exactly 1 alert at 85%% usage, got %d", sender.count())
	}

	alert := sender.alerts[0]
	if alert.To != "u1@example.com" {
		t.Fatalf("alert sent to %q", alert.To)
	}
	if !alert.Payload.PercentageUsed.Equal(decimal.NewFromInt(85)) {
		t.Fatalf("expected percentageUsed 85, got %s", alert.Payload.PercentageUsed)
	}
	if !alert.Payload.TotalExpenses.Equal(decimal.NewFromInt(850)) || !alert.Payload.BudgetAmount.Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("unexpected payload: %+v", alert.Payload)
	}
	if alert.Payload.AccountName != "Checking" {
		t.Fatalf("expected account name in payload, got %q", alert.Payload.AccountName)
	}

	stamped := lastAlertSentOf(t, db)
	if stamped == nil || !stamped.Equal(evalNow) {
		t.Fatalf("expected last_alert_sent stamped with evaluation now %s, got %v", evalNow, stamped)
	}

	// Second evaluation within the same month sends nothing new.
	if err := e.EvaluateAll(context.Background()); err != nil {
		t.Fatalf("second EvaluateAll: %v", err)
	}
	if sender.count() != 1 {
		t.Fatalf("same-month re-evaluation must not re-alert, got %d alerts", sender.count())
	}
}

func TestEvaluateAllBelowThresholdSendsNothing(t *testing.T) {
	db := newTestDB(t)
	seedBudgetScenario(t, db, "750", nil)

	sender := &recordingSender{}
	e := NewEvaluator(store.New(db), sender, clock.Fixed{T: evalNow})

	if err := e.EvaluateAll(context.Background()); err != nil {
		t.Fatalf("EvaluateAll: %v", err)
	}
	if sender.count() != 0 {
		t.Fatalf("expected no alert at 75%% usage, got %d", sender.count())
	}
	if stamped := lastAlertSentOf(t, db); stamped != nil {
		t.Fatalf("last_alert_sent must stay null below threshold, got %v", stamped)
	}
}

func TestEvaluateAllAlertsAgainInNewMonth(t *testing.T) {
	db := newTestDB(t)
	lastMonth := evalNow.AddDate(0, -1, 0)
	seedBudgetScenario(t, db, "900", &lastMonth)

	sender := &recordingSender{}
	e := NewEvaluator(store.New(db), sender, clock.Fixed{T: evalNow})

	if err := e.EvaluateAll(context.Background()); err != nil {
		t.Fatalf("EvaluateAll: %v", err)
	}
	if sender.count() != 1 {
		t.Fatalf("expected a fresh alert after the calendar month changed, got %d", sender.count())
	}
}

func TestEvaluateAllSkipsOwnerWithoutDefaultAccount(t *testing.T) {
	db := newTestDB(t)
	if _, err := db.Exec(`INSERT INTO users (id, name, email) VALUES ('u1', 'Test User', 'u1@example.com')`); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	// The budget references an account that is no longer the default.
	if _, err := db.Exec(`INSERT INTO accounts (id, user_id, name, balance, is_default) VALUES ('a1', 'u1', 'Checking', '0', 0)`); err != nil {
		t.Fatalf("seed account: %v", err)
	}
	if _, err := db.Exec(`
		INSERT INTO budgets (id, user_id, account_id, amount, is_account_default_budget)
		VALUES ('b1', 'u1', 'a1', '1000', 1)`); err != nil {
		t.Fatalf("seed budget: %v", err)
	}

	sender := &recordingSender{}
	e := NewEvaluator(store.New(db), sender, clock.Fixed{T: evalNow})

	if err := e.EvaluateAll(context.Background()); err != nil {
		t.Fatalf("missing default account must be a no-op, not an error: %v", err)
	}
	if sender.count() != 0 {
		t.Fatalf("expected no alerts, got %d", sender.count())
	}
}

func TestEvaluateAllIsolatesPerBudgetFailures(t *testing.T) {
	db := newTestDB(t)
	seedBudgetScenario(t, db, "850", nil)
	// A second over-threshold budget for another user.
	if _, err := db.Exec(`INSERT INTO users (id, name, email) VALUES ('u2', 'Other User', 'u2@example.com')`); err != nil {
		t.Fatalf("seed user 2: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO accounts (id, user_id, name, balance, is_default) VALUES ('a2', 'u2', 'Savings', '0', 1)`); err != nil {
		t.Fatalf("seed account 2: %v", err)
	}
	if _, err := db.Exec(`
		INSERT INTO budgets (id, user_id, account_id, amount, is_account_default_budget)
		VALUES ('b2', 'u2', 'a2', '100', 1)`); err != nil {
		t.Fatalf("seed budget 2: %v", err)
	}
	if _, err := db.Exec(`
		INSERT INTO transactions (id, user_id, account_id, type, amount, description, date, category, is_recurring)
		VALUES ('e2', 'u2', 'a2', 'EXPENSE', '95', 'bills', ?, 'bills', 0)`,
		evalNow.AddDate(0, 0, -1).Format(time.RFC3339)); err != nil {
		t.Fatalf("seed expense 2: %v", err)
	}

	sendErr := errors.New("smtp down")
	sender := &recordingSender{err: sendErr}
	e := NewEvaluator(store.New(db), sender, clock.Fixed{T: evalNow})

	err := e.EvaluateAll(context.Background())
	if err == nil {
		t.Fatal("expected collected send failures")
	}
	// Both budgets were attempted: the collected error mentions each.
	if !errors.Is(err, sendErr) {
		t.Fatalf("expected wrapped send error, got %v", err)
	}
	if stamped := lastAlertSentOf(t, db); stamped != nil {
		t.Fatalf("failed send must not stamp last_alert_sent, got %v", stamped)
	}
}
