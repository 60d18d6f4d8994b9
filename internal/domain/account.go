package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================
// Accounts
// ============================================================

// AccountKind classifies an account for balance aggregation rules.
type AccountKind string

const (
	AccountOrdinary AccountKind = "ordinary"
	AccountSavings  AccountKind = "savings"
	AccountCredit   AccountKind = "credit"
	AccountOther    AccountKind = "other"
)

// Account is a bank-like account holding a running balance.
type Account struct {
	ID        string          `json:"id"`
	OwnerID   string          `json:"owner_id"`
	Name      string          `json:"name"`
	Kind      AccountKind     `json:"kind"`
	Balance   decimal.Decimal `json:"balance"`
	IsPrimary bool            `json:"is_primary"`
	CreatedAt time.Time       `json:"created_at"`
}

// Spendable reports whether the account's balance counts toward the
// owner's total spendable balance. Savings accounts hold guarded money
// and are excluded.
func (a *Account) Spendable() bool {
	return a.Kind != AccountSavings
}
