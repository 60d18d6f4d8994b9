package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================
// Transactions
// ============================================================

// TransactionKind is the direction of a transaction.
type TransactionKind string

const (
	KindExpense TransactionKind = "expense"
	KindReceipt TransactionKind = "receipt"
)

// PaymentChannel is how a transaction was (or will be) settled.
// Credit-channel transactions only hit an account balance when their
// statement is paid.
type PaymentChannel string

const (
	ChannelCredit   PaymentChannel = "credit"
	ChannelDebit    PaymentChannel = "debit"
	ChannelCash     PaymentChannel = "cash"
	ChannelTransfer PaymentChannel = "transfer"
	ChannelOther    PaymentChannel = "other"
)

// Recurrence is the repetition schedule of a recurring template.
type Recurrence string

const (
	RecurrenceNone    Recurrence = "none"
	RecurrenceDaily   Recurrence = "daily"
	RecurrenceWeekly  Recurrence = "weekly"
	RecurrenceMonthly Recurrence = "monthly"
	RecurrenceYearly  Recurrence = "yearly"
)

// Transaction is a single income/expense entry. Created, edited and
// deleted by the transaction-entry workflow; the engine only reads it
// and toggles IsPaid.
type Transaction struct {
	ID          string          `json:"id"`
	OwnerID     string          `json:"owner_id"`
	Kind        TransactionKind `json:"kind"`
	Amount      decimal.Decimal `json:"amount"` // always > 0, Kind carries the sign
	Date        time.Time       `json:"date"`   // ledger date
	PaymentDate time.Time       `json:"payment_date,omitempty"`
	Channel     PaymentChannel  `json:"channel"`
	AccountID   *string         `json:"account_id,omitempty"`
	IsPaid      bool            `json:"is_paid"`
	Recurrence  Recurrence      `json:"recurrence,omitempty"`
	Description string          `json:"description"`
	Category    string          `json:"category,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// EffectivePaymentDate is the payment date, defaulting to the ledger date.
func (t *Transaction) EffectivePaymentDate() time.Time {
	if t.PaymentDate.IsZero() {
		return t.Date
	}
	return t.PaymentDate
}

// IsRecurring reports whether the transaction is a recurring template.
func (t *Transaction) IsRecurring() bool {
	return t.Recurrence != "" && t.Recurrence != RecurrenceNone
}

// Signed returns the amount with the sign convention used by balance
// application: receipts positive, expenses negative.
func (t *Transaction) Signed() decimal.Decimal {
	if t.Kind == KindExpense {
		return t.Amount.Neg()
	}
	return t.Amount
}

// BalanceEligible reports whether the transaction should affect an
// account balance as of the given day: its effective payment date has
// arrived and it is not settled via a credit statement.
func (t *Transaction) BalanceEligible(today time.Time) bool {
	if t.Channel == ChannelCredit {
		return false
	}
	y1, m1, d1 := t.EffectivePaymentDate().Date()
	y2, m2, d2 := today.Date()
	due := time.Date(y1, m1, d1, 0, 0, 0, 0, time.UTC)
	ref := time.Date(y2, m2, d2, 0, 0, 0, 0, time.UTC)
	return !due.After(ref)
}
