package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================
// Statements (faturas)
// ============================================================

// Statement summarizes the credit-channel transactions of one billing
// period for an account (nil AccountID = the unassigned bucket).
// TotalAmount is derived from the period's transaction set and is fully
// recomputed, never patched.
type Statement struct {
	ID               string          `json:"id"`
	OwnerID          string          `json:"owner_id"`
	AccountID        *string         `json:"account_id,omitempty"`
	ClosingDate      time.Time       `json:"closing_date"`
	DueDate          time.Time       `json:"due_date"`
	BestPurchaseDate *time.Time      `json:"best_purchase_date,omitempty"`
	TotalAmount      decimal.Decimal `json:"total_amount"`
	IsPaid           bool            `json:"is_paid"`
	PaidAccountID    *string         `json:"paid_account_id,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}

// StatementLine is one line of an assembled statement. Projected lines
// come from recurring templates not yet materialized as transactions.
type StatementLine struct {
	TransactionID string          `json:"transaction_id"`
	Description   string          `json:"description"`
	Amount        decimal.Decimal `json:"amount"`
	Date          time.Time       `json:"date"`
	Projected     bool            `json:"projected"`
}

// AssembledStatement is the side-effect-free result of collecting one
// period's real and projected lines.
type AssembledStatement struct {
	Total decimal.Decimal `json:"total"`
	Lines []StatementLine `json:"lines"`
}

// PaymentSplit is one leg of a statement settlement. A single-account
// settlement is a slice with one leg covering the full total.
type PaymentSplit struct {
	AccountID string          `json:"account_id"`
	Amount    decimal.Decimal `json:"amount"`
}

// SettlementLeg records an applied settlement leg so that marking a
// statement unpaid can reverse exactly what was applied.
type SettlementLeg struct {
	StatementID string          `json:"statement_id"`
	AccountID   string          `json:"account_id"`
	Amount      decimal.Decimal `json:"amount"`
}

// SplitTolerance is the maximum accepted difference between the sum of
// settlement legs and the statement total.
var SplitTolerance = decimal.RequireFromString("0.01")
