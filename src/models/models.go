package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType marks the direction of a transaction's effect on a balance.
type TransactionType string

const (
	TypeIncome  TransactionType = "INCOME"
	TypeExpense TransactionType = "EXPENSE"
)

// RecurringInterval is the cadence of a recurring transaction.
type RecurringInterval string

const (
	IntervalDaily   RecurringInterval = "DAILY"
	IntervalWeekly  RecurringInterval = "WEEKLY"
	IntervalMonthly RecurringInterval = "MONTHLY"
	IntervalYearly  RecurringInterval = "YEARLY"
)

// Account is a user's money account. Balance is mutated only through the
// ledger store's balance reconciliation inside a store transaction.
type Account struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	Name      string          `json:"name"`
	Balance   decimal.Decimal `json:"balance"`
	IsDefault bool            `json:"is_default"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Transaction is a single income or expense entry. Recurring transactions
// act as templates: each time one comes due the engine realizes a new
// non-recurring transaction from it and advances NextRecurringDate.
type Transaction struct {
	ID                string             `json:"id"`
	UserID            string             `json:"user_id"`
	AccountID         string             `json:"account_id"`
	Type              TransactionType    `json:"type"`
	Amount            decimal.Decimal    `json:"amount"`
	Description       string             `json:"description"`
	Date              time.Time          `json:"date"`
	Category          string             `json:"category"`
	IsRecurring       bool               `json:"is_recurring"`
	RecurringInterval *RecurringInterval `json:"recurring_interval,omitempty"`
	NextRecurringDate *time.Time         `json:"next_recurring_date,omitempty"`
	LastProcessed     *time.Time         `json:"last_processed,omitempty"`
}

// SignedAmount is the transaction's effect on its account balance:
// +Amount for income, -Amount for expense.
func (t *Transaction) SignedAmount() decimal.Decimal {
	if t.Type == TypeExpense {
		return t.Amount.Neg()
	}
	return t.Amount
}

// Budget is a monthly spending limit tied to a user's default account.
// LastAlertSent, once set within a calendar month, suppresses further
// alerts until the month changes.
type Budget struct {
	ID                     string          `json:"id"`
	UserID                 string          `json:"user_id"`
	AccountID              string          `json:"account_id"`
	Amount                 decimal.Decimal `json:"amount"`
	IsAccountDefaultBudget bool            `json:"is_account_default_budget"`
	LastAlertSent          *time.Time      `json:"last_alert_sent,omitempty"`

	// Contact fields resolved alongside the budget row so the evaluator
	// does not need a separate user lookup per alert.
	UserEmail string `json:"-"`
	UserName  string `json:"-"`
}
