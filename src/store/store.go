package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/username/finflow/src/models"
)

var (
	// ErrNotFound means the entity vanished or was raced away by a
	// concurrent writer. Callers skip the unit of work, not fail the cycle.
	ErrNotFound = errors.New("entity not found")
)

// dateFormat is RFC3339 in UTC. Stored as TEXT, it compares correctly with
// SQL range predicates because the encoding is lexicographically ordered.
const dateFormat = time.RFC3339

// Store wraps the ledger database. All multi-entity mutations go through
// WithTransaction so atomicity boundaries stay visible at the call site.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// WithTransaction runs fn inside a single database transaction, committing
// on nil and rolling back on error or panic.
func (s *Store) WithTransaction(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error beginning database transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("error committing database transaction: %w", err)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(dateFormat)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(dateFormat, s)
}

// FindDue returns every recurring transaction whose next occurrence date has
// passed relative to now. Process-wide: no owner filter. The ordering is for
// stable query plans only, callers must not rely on it.
func (s *Store) FindDue(ctx context.Context, now time.Time) ([]models.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, account_id, type, amount, description, date, category,
		       is_recurring, recurring_interval, next_recurring_date, last_processed
		FROM transactions
		WHERE is_recurring = 1 AND next_recurring_date IS NOT NULL AND next_recurring_date <= ?
		ORDER BY next_recurring_date`,
		formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("error querying due transactions: %w", err)
	}
	defer rows.Close()

	var due []models.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		due = append(due, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating due transactions: %w", err)
	}
	return due, nil
}

// GetDueTransactionTx re-fetches a recurring transaction by (id, owner)
// inside the caller's transaction, requiring it to still be due at now.
// Returns ErrNotFound when it is absent or a racing processor already
// advanced its schedule; duplicate dispatches die here.
func (s *Store) GetDueTransactionTx(tx *sql.Tx, id, userID string, now time.Time) (*models.Transaction, error) {
	row := tx.QueryRow(`
		SELECT id, user_id, account_id, type, amount, description, date, category,
		       is_recurring, recurring_interval, next_recurring_date, last_processed
		FROM transactions
		WHERE id = ? AND user_id = ? AND is_recurring = 1
		  AND next_recurring_date IS NOT NULL AND next_recurring_date <= ?`,
		id, userID, formatTime(now))
	t, err := scanTransaction(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// InsertTransactionTx inserts a transaction row inside the caller's
// transaction. Used for realizations of recurring templates.
func (s *Store) InsertTransactionTx(tx *sql.Tx, t *models.Transaction) error {
	var interval, nextDate, lastProcessed interface{}
	if t.RecurringInterval != nil {
		interval = string(*t.RecurringInterval)
	}
	if t.NextRecurringDate != nil {
		nextDate = formatTime(*t.NextRecurringDate)
	}
	if t.LastProcessed != nil {
		lastProcessed = formatTime(*t.LastProcessed)
	}

	_, err := tx.Exec(`
		INSERT INTO transactions (id, user_id, account_id, type, amount, description, date,
		                          category, is_recurring, recurring_interval, next_recurring_date, last_processed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.UserID, t.AccountID, string(t.Type), t.Amount.String(), t.Description,
		formatTime(t.Date), t.Category, boolToInt(t.IsRecurring), interval, nextDate, lastProcessed)
	if err != nil {
		return fmt.Errorf("error inserting transaction (ID: %s): %w", t.ID, err)
	}
	return nil
}

// ApplyBalanceDeltaTx applies a signed decimal delta to an account balance
// inside the caller's transaction and returns the new balance. The
// read-modify-write is serialized by the store's transaction isolation; no
// in-process lock is held. Arithmetic stays in decimal end to end.
func (s *Store) ApplyBalanceDeltaTx(tx *sql.Tx, accountID string, delta decimal.Decimal) (decimal.Decimal, error) {
	var balanceStr string
	err := tx.QueryRow(`SELECT balance FROM accounts WHERE id = ?`, accountID).Scan(&balanceStr)
	if err == sql.ErrNoRows {
		return decimal.Zero, ErrNotFound
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("error reading balance for account %s: %w", accountID, err)
	}

	balance, err := decimal.NewFromString(balanceStr)
	if err != nil {
		return decimal.Zero, fmt.Errorf("corrupt balance %q for account %s: %w", balanceStr, accountID, err)
	}

	newBalance := balance.Add(delta)
	_, err = tx.Exec(`UPDATE accounts SET balance = ?, updated_at = ? WHERE id = ?`,
		newBalance.String(), formatTime(time.Now()), accountID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("error updating balance for account %s: %w", accountID, err)
	}
	return newBalance, nil
}

// AdvanceScheduleTx stamps a recurring transaction as processed and moves
// its next occurrence forward, inside the caller's transaction.
func (s *Store) AdvanceScheduleTx(tx *sql.Tx, id string, lastProcessed, next time.Time) error {
	res, err := tx.Exec(`
		UPDATE transactions SET last_processed = ?, next_recurring_date = ?
		WHERE id = ?`,
		formatTime(lastProcessed), formatTime(next), id)
	if err != nil {
		return fmt.Errorf("error advancing schedule for transaction %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("error checking schedule advance for transaction %s: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListDefaultBudgets returns every budget flagged as its account's default,
// with the owner's contact fields resolved in the same query.
func (s *Store) ListDefaultBudgets(ctx context.Context) ([]models.Budget, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT b.id, b.user_id, b.account_id, b.amount, b.is_account_default_budget,
		       b.last_alert_sent, u.email, u.name
		FROM budgets b
		JOIN users u ON u.id = b.user_id
		WHERE b.is_account_default_budget = 1`)
	if err != nil {
		return nil, fmt.Errorf("error querying default budgets: %w", err)
	}
	defer rows.Close()

	var budgets []models.Budget
	for rows.Next() {
		var b models.Budget
		var amountStr string
		var isDefault int
		var lastAlert sql.NullString
		if err := rows.Scan(&b.ID, &b.UserID, &b.AccountID, &amountStr, &isDefault,
			&lastAlert, &b.UserEmail, &b.UserName); err != nil {
			return nil, fmt.Errorf("error scanning budget row: %w", err)
		}
		b.Amount, err = decimal.NewFromString(amountStr)
		if err != nil {
			return nil, fmt.Errorf("corrupt amount %q for budget %s: %w", amountStr, b.ID, err)
		}
		b.IsAccountDefaultBudget = isDefault != 0
		if lastAlert.Valid {
			t, err := parseTime(lastAlert.String)
			if err != nil {
				return nil, fmt.Errorf("corrupt last_alert_sent %q for budget %s: %w", lastAlert.String, b.ID, err)
			}
			b.LastAlertSent = &t
		}
		budgets = append(budgets, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating budget rows: %w", err)
	}
	return budgets, nil
}

// GetDefaultAccount returns the owner's default account, or ErrNotFound
// when the owner has none.
func (s *Store) GetDefaultAccount(ctx context.Context, userID string) (*models.Account, error) {
	var a models.Account
	var balanceStr string
	var isDefault int
	var createdAt, updatedAt sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, balance, is_default, created_at, updated_at
		FROM accounts WHERE user_id = ? AND is_default = 1`, userID).
		Scan(&a.ID, &a.UserID, &a.Name, &balanceStr, &isDefault, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error querying default account for user %s: %w", userID, err)
	}
	a.Balance, err = decimal.NewFromString(balanceStr)
	if err != nil {
		return nil, fmt.Errorf("corrupt balance %q for account %s: %w", balanceStr, a.ID, err)
	}
	a.IsDefault = isDefault != 0
	return &a, nil
}

// SumExpenses sums EXPENSE transaction amounts for an account in the
// inclusive [start, end] range. The summation runs in Go on decimals rather
// than in SQL, which would coerce the TEXT amounts to floats.
func (s *Store) SumExpenses(ctx context.Context, userID, accountID string, start, end time.Time) (decimal.Decimal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT amount FROM transactions
		WHERE user_id = ? AND account_id = ? AND type = ?
		  AND date >= ? AND date <= ?`,
		userID, accountID, string(models.TypeExpense), formatTime(start), formatTime(end))
	if err != nil {
		return decimal.Zero, fmt.Errorf("error querying expenses for account %s: %w", accountID, err)
	}
	defer rows.Close()

	total := decimal.Zero
	for rows.Next() {
		var amountStr string
		if err := rows.Scan(&amountStr); err != nil {
			return decimal.Zero, fmt.Errorf("error scanning expense amount: %w", err)
		}
		amount, err := decimal.NewFromString(amountStr)
		if err != nil {
			return decimal.Zero, fmt.Errorf("corrupt expense amount %q: %w", amountStr, err)
		}
		total = total.Add(amount)
	}
	if err := rows.Err(); err != nil {
		return decimal.Zero, fmt.Errorf("error iterating expense rows: %w", err)
	}
	return total, nil
}

// UpdateLastAlertSent stamps a budget's alert suppression timestamp.
func (s *Store) UpdateLastAlertSent(ctx context.Context, budgetID string, when time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE budgets SET last_alert_sent = ? WHERE id = ?`, formatTime(when), budgetID)
	if err != nil {
		return fmt.Errorf("error updating last_alert_sent for budget %s: %w", budgetID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("error checking last_alert_sent update for budget %s: %w", budgetID, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTransaction(row rowScanner) (*models.Transaction, error) {
	var t models.Transaction
	var typeStr, amountStr, dateStr string
	var description, category sql.NullString
	var isRecurring int
	var interval, nextDate, lastProcessed sql.NullString

	err := row.Scan(&t.ID, &t.UserID, &t.AccountID, &typeStr, &amountStr, &description,
		&dateStr, &category, &isRecurring, &interval, &nextDate, &lastProcessed)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("error scanning transaction row: %w", err)
	}

	t.Type = models.TransactionType(typeStr)
	t.Amount, err = decimal.NewFromString(amountStr)
	if err != nil {
		return nil, fmt.Errorf("corrupt amount %q for transaction %s: %w", amountStr, t.ID, err)
	}
	t.Description = description.String
	t.Category = category.String
	t.Date, err = parseTime(dateStr)
	if err != nil {
		return nil, fmt.Errorf("corrupt date %q for transaction %s: %w", dateStr, t.ID, err)
	}
	t.IsRecurring = isRecurring != 0
	if interval.Valid {
		iv := models.RecurringInterval(interval.String)
		t.RecurringInterval = &iv
	}
	if nextDate.Valid {
		nd, err := parseTime(nextDate.String)
		if err != nil {
			return nil, fmt.Errorf("corrupt next_recurring_date %q for transaction %s: %w", nextDate.String, t.ID, err)
		}
		t.NextRecurringDate = &nd
	}
	if lastProcessed.Valid {
		lp, err := parseTime(lastProcessed.String)
		if err != nil {
			return nil, fmt.Errorf("corrupt last_processed %q for transaction %s: %w", lastProcessed.String, t.ID, err)
		}
		t.LastProcessed = &lp
	}
	return &t, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
