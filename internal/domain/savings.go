package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================
// Savings ledgers (dinheiro guardado)
// ============================================================

// EntryClass tells whether a ledger entry represents real money moved by
// the owner or internal bookkeeping (association, balance correction,
// transfer plumbing). It is set at creation time; semantics are never
// inferred from the free-text description.
type EntryClass string

const (
	EntryReal        EntryClass = "real"
	EntryBookkeeping EntryClass = "bookkeeping"
)

// LedgerEntryKind is the direction of a savings ledger entry.
type LedgerEntryKind string

const (
	EntryDeposit    LedgerEntryKind = "deposit"
	EntryWithdrawal LedgerEntryKind = "withdrawal"
)

// SavingsLedger is a guarded sub-account backed by a savings-kind
// account. Its guarded value is derived purely from real entries.
type SavingsLedger struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	AccountID string    `json:"account_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// LedgerEntry is one deposit or withdrawal against a savings ledger.
type LedgerEntry struct {
	ID              string          `json:"id"`
	LedgerID        string          `json:"ledger_id"`
	Kind            LedgerEntryKind `json:"kind"`
	Amount          decimal.Decimal `json:"amount"`
	Description     string          `json:"description,omitempty"`
	SourceAccountID string          `json:"source_account_id,omitempty"`
	Class           EntryClass      `json:"class"`
	CreatedAt       time.Time       `json:"created_at"`
}
