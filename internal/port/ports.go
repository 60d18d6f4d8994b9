// Package port defines the interfaces (ports) for the engine's external
// dependencies. Following hexagonal architecture, these ports decouple
// the domain/service layer from concrete store implementations, and keep
// sibling components on narrow read-only capability sets instead of
// concrete references.
package port

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mfbaptista/billcycle/internal/domain"
)

// BalanceAdjuster applies one signed delta to an account's running
// balance. It is the only mutation the effects dispatcher needs.
type BalanceAdjuster interface {
	AdjustBalance(ctx context.Context, accountID string, delta decimal.Decimal) (*domain.Account, error)
}

// AccountStore handles account records and balances.
type AccountStore interface {
	BalanceAdjuster

	CreateAccount(ctx context.Context, acct *domain.Account) error
	GetAccount(ctx context.Context, ownerID, accountID string) (*domain.Account, error)
	ListAccounts(ctx context.Context, ownerID string) ([]domain.Account, error)
	// SetPrimaryAccount flips IsPrimary to the given account and clears
	// it on every other account of the owner, keeping the single-primary
	// invariant.
	SetPrimaryAccount(ctx context.Context, ownerID, accountID string) error
}

// TransactionReader is the engine's read view of the transaction
// history owned by the transaction-entry workflow.
type TransactionReader interface {
	GetTransaction(ctx context.Context, ownerID, txID string) (*domain.Transaction, error)
	// ListByChannelInRange returns non-template transactions on the given
	// channel whose effective payment date lies in [from, to], with an
	// exact match on the nullable account reference (nil matches only
	// the unassigned bucket).
	ListByChannelInRange(ctx context.Context, ownerID string, accountID *string, channel domain.PaymentChannel, from, to time.Time) ([]domain.Transaction, error)
	// ListRecurringTemplates returns recurring templates with the given
	// recurrence on the channel/account filter whose ledger date falls
	// before the given instant.
	ListRecurringTemplates(ctx context.Context, ownerID string, accountID *string, channel domain.PaymentChannel, rec domain.Recurrence, before time.Time) ([]domain.Transaction, error)
	ListInMonth(ctx context.Context, ownerID string, year int, month time.Month) ([]domain.Transaction, error)
}

// TransactionWriter covers the one transaction mutation the engine owns.
type TransactionWriter interface {
	SetTransactionPaid(ctx context.Context, txID string, paid bool) error
}

// StatementStore handles statement records and settlement legs.
type StatementStore interface {
	CreateStatement(ctx context.Context, st *domain.Statement) error
	GetStatement(ctx context.Context, statementID string) (*domain.Statement, error)
	ListStatements(ctx context.Context, ownerID string, accountID *string) ([]domain.Statement, error)
	// LatestStatement returns the statement with the most recent closing
	// date for the owner/account grouping, or ErrNotFound.
	LatestStatement(ctx context.Context, ownerID string, accountID *string) (*domain.Statement, error)
	// StatementInMonth returns the statement whose closing date falls in
	// the given calendar month, or ErrNotFound. At most one exists per
	// (owner, account, month).
	StatementInMonth(ctx context.Context, ownerID string, accountID *string, year int, month time.Month) (*domain.Statement, error)
	SetStatementPaid(ctx context.Context, statementID string, paid bool, paidAccountID *string) error
	// ListStatementGroups returns the distinct account references
	// (including nil for the unassigned bucket) that have at least one
	// statement for the owner.
	ListStatementGroups(ctx context.Context, ownerID string) ([]*string, error)

	SaveSettlementLegs(ctx context.Context, legs []domain.SettlementLeg) error
	ListSettlementLegs(ctx context.Context, statementID string) ([]domain.SettlementLeg, error)
	DeleteSettlementLegs(ctx context.Context, statementID string) error
}

// SavingsStore handles savings ledgers and their entries.
type SavingsStore interface {
	CreateLedger(ctx context.Context, ledger *domain.SavingsLedger) error
	GetLedger(ctx context.Context, ledgerID string) (*domain.SavingsLedger, error)
	ListEntries(ctx context.Context, ledgerID string) ([]domain.LedgerEntry, error)
	AppendEntry(ctx context.Context, entry *domain.LedgerEntry) error
}

// EngineStore is the full store surface the engine composes at the
// application root. WithinTx runs fn against a transactional view: all
// mutations inside fn commit together or not at all.
type EngineStore interface {
	AccountStore
	TransactionReader
	TransactionWriter
	StatementStore
	SavingsStore

	WithinTx(ctx context.Context, fn func(tx EngineStore) error) error
	ListOwners(ctx context.Context) ([]string, error)
}

// EffectApplier applies one balance effect idempotently. Implemented by
// the effects dispatcher; injected into the service layer so the two
// packages stay acyclic.
type EffectApplier interface {
	Apply(ctx context.Context, effect domain.BalanceEffect) error
}
