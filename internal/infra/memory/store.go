// Package memory provides an in-memory EngineStore. It backs tests and
// the default worker configuration when no database path is set.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mfbaptista/billcycle/internal/domain"
	"github.com/mfbaptista/billcycle/internal/port"
)

// Store keeps all engine state in process memory. Individual operations
// are atomic; WithinTx serializes transactions against each other and
// restores a snapshot when fn fails.
type Store struct {
	mu   sync.RWMutex
	txMu sync.Mutex

	accounts     map[string]domain.Account
	transactions map[string]domain.Transaction
	statements   map[string]domain.Statement
	legs         map[string][]domain.SettlementLeg
	ledgers      map[string]domain.SavingsLedger
	entries      map[string][]domain.LedgerEntry
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		accounts:     make(map[string]domain.Account),
		transactions: make(map[string]domain.Transaction),
		statements:   make(map[string]domain.Statement),
		legs:         make(map[string][]domain.SettlementLeg),
		ledgers:      make(map[string]domain.SavingsLedger),
		entries:      make(map[string][]domain.LedgerEntry),
	}
}

var _ port.EngineStore = (*Store)(nil)

// ------------------------------------------------------------
// Accounts
// ------------------------------------------------------------

func (s *Store) CreateAccount(_ context.Context, acct *domain.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[acct.ID] = *acct
	return nil
}

func (s *Store) GetAccount(_ context.Context, ownerID, accountID string) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acct, ok := s.accounts[accountID]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "account", ID: accountID}
	}
	if acct.OwnerID != ownerID {
		return nil, &domain.ErrForbidden{Resource: "account", ID: accountID}
	}
	cp := acct
	return &cp, nil
}

func (s *Store) ListAccounts(_ context.Context, ownerID string) ([]domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Account
	for _, acct := range s.accounts {
		if acct.OwnerID == ownerID {
			out = append(out, acct)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) SetPrimaryAccount(_ context.Context, ownerID, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	target, ok := s.accounts[accountID]
	if !ok || target.OwnerID != ownerID {
		return &domain.ErrNotFound{Resource: "account", ID: accountID}
	}
	for id, acct := range s.accounts {
		if acct.OwnerID != ownerID {
			continue
		}
		acct.IsPrimary = id == accountID
		s.accounts[id] = acct
	}
	return nil
}

func (s *Store) AdjustBalance(_ context.Context, accountID string, delta decimal.Decimal) (*domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[accountID]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "account", ID: accountID}
	}
	acct.Balance = acct.Balance.Add(delta)
	s.accounts[accountID] = acct
	cp := acct
	return &cp, nil
}

// ------------------------------------------------------------
// Transactions
// ------------------------------------------------------------

// CreateTransaction seeds a transaction record. The engine itself never
// creates transactions; the transaction-entry workflow (and tests) do.
func (s *Store) CreateTransaction(_ context.Context, tx *domain.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transactions[tx.ID] = *tx
	return nil
}

func (s *Store) GetTransaction(_ context.Context, ownerID, txID string) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.transactions[txID]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "transaction", ID: txID}
	}
	if tx.OwnerID != ownerID {
		return nil, &domain.ErrForbidden{Resource: "transaction", ID: txID}
	}
	cp := tx
	return &cp, nil
}

func (s *Store) ListByChannelInRange(_ context.Context, ownerID string, accountID *string, channel domain.PaymentChannel, from, to time.Time) ([]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Transaction
	for _, tx := range s.transactions {
		if tx.OwnerID != ownerID || tx.Channel != channel || tx.IsRecurring() {
			continue
		}
		if !sameAccountRef(tx.AccountID, accountID) {
			continue
		}
		d := tx.EffectivePaymentDate()
		if d.Before(from) || d.After(to) {
			continue
		}
		out = append(out, tx)
	}
	sortByDate(out)
	return out, nil
}

func (s *Store) ListRecurringTemplates(_ context.Context, ownerID string, accountID *string, channel domain.PaymentChannel, rec domain.Recurrence, before time.Time) ([]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Transaction
	for _, tx := range s.transactions {
		if tx.OwnerID != ownerID || tx.Channel != channel || tx.Recurrence != rec {
			continue
		}
		if !sameAccountRef(tx.AccountID, accountID) || !tx.Date.Before(before) {
			continue
		}
		out = append(out, tx)
	}
	sortByDate(out)
	return out, nil
}

func (s *Store) ListInMonth(_ context.Context, ownerID string, year int, month time.Month) ([]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Transaction
	for _, tx := range s.transactions {
		if tx.OwnerID != ownerID {
			continue
		}
		y, m, _ := tx.Date.Date()
		if y == year && m == month {
			out = append(out, tx)
		}
	}
	sortByDate(out)
	return out, nil
}

func (s *Store) SetTransactionPaid(_ context.Context, txID string, paid bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.transactions[txID]
	if !ok {
		return &domain.ErrNotFound{Resource: "transaction", ID: txID}
	}
	tx.IsPaid = paid
	s.transactions[txID] = tx
	return nil
}

// ------------------------------------------------------------
// Statements
// ------------------------------------------------------------

func (s *Store) CreateStatement(_ context.Context, st *domain.Statement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statements[st.ID] = *st
	return nil
}

func (s *Store) GetStatement(_ context.Context, statementID string) (*domain.Statement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.statements[statementID]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "statement", ID: statementID}
	}
	cp := st
	return &cp, nil
}

func (s *Store) ListStatements(_ context.Context, ownerID string, accountID *string) ([]domain.Statement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Statement
	for _, st := range s.statements {
		if st.OwnerID == ownerID && sameAccountRef(st.AccountID, accountID) {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClosingDate.Before(out[j].ClosingDate) })
	return out, nil
}

func (s *Store) LatestStatement(_ context.Context, ownerID string, accountID *string) (*domain.Statement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *domain.Statement
	for _, st := range s.statements {
		if st.OwnerID != ownerID || !sameAccountRef(st.AccountID, accountID) {
			continue
		}
		if latest == nil || st.ClosingDate.After(latest.ClosingDate) {
			cp := st
			latest = &cp
		}
	}
	if latest == nil {
		return nil, &domain.ErrNotFound{Resource: "statement", ID: "latest"}
	}
	return latest, nil
}

func (s *Store) StatementInMonth(_ context.Context, ownerID string, accountID *string, year int, month time.Month) (*domain.Statement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, st := range s.statements {
		if st.OwnerID != ownerID || !sameAccountRef(st.AccountID, accountID) {
			continue
		}
		y, m, _ := st.ClosingDate.Date()
		if y == year && m == month {
			cp := st
			return &cp, nil
		}
	}
	return nil, &domain.ErrNotFound{Resource: "statement", ID: "month"}
}

func (s *Store) SetStatementPaid(_ context.Context, statementID string, paid bool, paidAccountID *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.statements[statementID]
	if !ok {
		return &domain.ErrNotFound{Resource: "statement", ID: statementID}
	}
	st.IsPaid = paid
	st.PaidAccountID = paidAccountID
	s.statements[statementID] = st
	return nil
}

func (s *Store) ListStatementGroups(_ context.Context, ownerID string) ([]*string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]*string)
	for _, st := range s.statements {
		if st.OwnerID != ownerID {
			continue
		}
		if st.AccountID == nil {
			seen[""] = nil
		} else {
			id := *st.AccountID
			seen[id] = &id
		}
	}

	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]*string, 0, len(keys))
	for _, k := range keys {
		out = append(out, seen[k])
	}
	return out, nil
}

func (s *Store) SaveSettlementLegs(_ context.Context, legs []domain.SettlementLeg) error {
	if len(legs) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id := legs[0].StatementID
	s.legs[id] = append(s.legs[id], legs...)
	return nil
}

func (s *Store) ListSettlementLegs(_ context.Context, statementID string) ([]domain.SettlementLeg, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.SettlementLeg(nil), s.legs[statementID]...), nil
}

func (s *Store) DeleteSettlementLegs(_ context.Context, statementID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.legs, statementID)
	return nil
}

// ------------------------------------------------------------
// Savings
// ------------------------------------------------------------

func (s *Store) CreateLedger(_ context.Context, ledger *domain.SavingsLedger) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ledgers[ledger.ID] = *ledger
	return nil
}

func (s *Store) GetLedger(_ context.Context, ledgerID string) (*domain.SavingsLedger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ledger, ok := s.ledgers[ledgerID]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "savings ledger", ID: ledgerID}
	}
	cp := ledger
	return &cp, nil
}

func (s *Store) ListEntries(_ context.Context, ledgerID string) ([]domain.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.LedgerEntry(nil), s.entries[ledgerID]...), nil
}

func (s *Store) AppendEntry(_ context.Context, entry *domain.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entry.LedgerID] = append(s.entries[entry.LedgerID], *entry)
	return nil
}

// ------------------------------------------------------------
// Transactions / owners
// ------------------------------------------------------------

// WithinTx runs fn against the store itself. Transactions serialize
// against each other; when fn fails every map is restored to its
// pre-transaction snapshot.
func (s *Store) WithinTx(_ context.Context, fn func(tx port.EngineStore) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	snap := s.snapshot()
	if err := fn(s); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

func (s *Store) ListOwners(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, acct := range s.accounts {
		seen[acct.OwnerID] = struct{}{}
	}
	for _, st := range s.statements {
		seen[st.OwnerID] = struct{}{}
	}
	for _, tx := range s.transactions {
		seen[tx.OwnerID] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for owner := range seen {
		out = append(out, owner)
	}
	sort.Strings(out)
	return out, nil
}

// ------------------------------------------------------------
// Internals
// ------------------------------------------------------------

type snapshot struct {
	accounts     map[string]domain.Account
	transactions map[string]domain.Transaction
	statements   map[string]domain.Statement
	legs         map[string][]domain.SettlementLeg
	ledgers      map[string]domain.SavingsLedger
	entries      map[string][]domain.LedgerEntry
}

func (s *Store) snapshot() snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshot{
		accounts:     copyMap(s.accounts),
		transactions: copyMap(s.transactions),
		statements:   copyMap(s.statements),
		legs:         copySliceMap(s.legs),
		ledgers:      copyMap(s.ledgers),
		entries:      copySliceMap(s.entries),
	}
}

func (s *Store) restore(snap snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts = snap.accounts
	s.transactions = snap.transactions
	s.statements = snap.statements
	s.legs = snap.legs
	s.ledgers = snap.ledgers
	s.entries = snap.entries
}

func copyMap[V any](in map[string]V) map[string]V {
	out := make(map[string]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func copySliceMap[V any](in map[string][]V) map[string][]V {
	out := make(map[string][]V, len(in))
	for k, v := range in {
		out[k] = append([]V(nil), v...)
	}
	return out
}

func sameAccountRef(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func sortByDate(txs []domain.Transaction) {
	sort.Slice(txs, func(i, j int) bool { return txs[i].Date.Before(txs[j].Date) })
}
