package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"

	"github.com/mfbaptista/billcycle/internal/domain"
	"github.com/mfbaptista/billcycle/internal/port"
)

var storeTracer = otel.Tracer("infra/sqlite")

// querier is satisfied by both *sql.DB and *sql.Tx, letting WithinTx
// reuse every query against the transaction.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements port.EngineStore over SQLite.
type Store struct {
	db *sql.DB
	q  querier
}

// NewStore wraps an opened database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, q: db}
}

var _ port.EngineStore = (*Store)(nil)

// ------------------------------------------------------------
// Accounts
// ------------------------------------------------------------

func (s *Store) CreateAccount(ctx context.Context, acct *domain.Account) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO accounts (id, owner_id, name, kind, balance, is_primary, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		acct.ID, acct.OwnerID, acct.Name, string(acct.Kind),
		acct.Balance.String(), boolToInt(acct.IsPrimary), fmtTime(acct.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

func (s *Store) GetAccount(ctx context.Context, ownerID, accountID string) (*domain.Account, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT id, owner_id, name, kind, balance, is_primary, created_at
		 FROM accounts WHERE id = ?`, accountID)

	acct, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &domain.ErrNotFound{Resource: "account", ID: accountID}
		}
		return nil, err
	}
	if acct.OwnerID != ownerID {
		return nil, &domain.ErrForbidden{Resource: "account", ID: accountID}
	}
	return acct, nil
}

func (s *Store) ListAccounts(ctx context.Context, ownerID string) ([]domain.Account, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT id, owner_id, name, kind, balance, is_primary, created_at
		 FROM accounts WHERE owner_id = ? ORDER BY created_at`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("query accounts: %w", err)
	}
	defer rows.Close()

	var out []domain.Account
	for rows.Next() {
		acct, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *acct)
	}
	return out, rows.Err()
}

func (s *Store) SetPrimaryAccount(ctx context.Context, ownerID, accountID string) error {
	var owner string
	err := s.q.QueryRowContext(ctx, `SELECT owner_id FROM accounts WHERE id = ?`, accountID).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && owner != ownerID) {
		return &domain.ErrNotFound{Resource: "account", ID: accountID}
	}
	if err != nil {
		return fmt.Errorf("set primary account: %w", err)
	}

	if _, err := s.q.ExecContext(ctx,
		`UPDATE accounts SET is_primary = (id = ?) WHERE owner_id = ?`,
		accountID, ownerID); err != nil {
		return fmt.Errorf("set primary account: %w", err)
	}
	return nil
}

func (s *Store) AdjustBalance(ctx context.Context, accountID string, delta decimal.Decimal) (*domain.Account, error) {
	ctx, span := storeTracer.Start(ctx, "Store.AdjustBalance")
	defer span.End()

	row := s.q.QueryRowContext(ctx, `SELECT balance FROM accounts WHERE id = ?`, accountID)
	var raw string
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &domain.ErrNotFound{Resource: "account", ID: accountID}
		}
		return nil, fmt.Errorf("read balance: %w", err)
	}
	balance, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, fmt.Errorf("parse balance %q: %w", raw, err)
	}

	balance = balance.Add(delta)
	if _, err := s.q.ExecContext(ctx,
		`UPDATE accounts SET balance = ? WHERE id = ?`, balance.String(), accountID); err != nil {
		return nil, fmt.Errorf("write balance: %w", err)
	}

	row = s.q.QueryRowContext(ctx,
		`SELECT id, owner_id, name, kind, balance, is_primary, created_at
		 FROM accounts WHERE id = ?`, accountID)
	return scanAccount(row)
}

// ------------------------------------------------------------
// Transactions
// ------------------------------------------------------------

const txColumns = `id, owner_id, kind, amount, date, payment_date, channel,
	account_id, is_paid, recurrence, description, category, created_at`

// CreateTransaction seeds a transaction record on behalf of the
// transaction-entry workflow.
func (s *Store) CreateTransaction(ctx context.Context, tx *domain.Transaction) error {
	rec := tx.Recurrence
	if rec == "" {
		rec = domain.RecurrenceNone
	}
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO transactions (`+txColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.ID, tx.OwnerID, string(tx.Kind), tx.Amount.String(),
		fmtTime(tx.Date), fmtNullTime(tx.PaymentDate), string(tx.Channel),
		nullStr(tx.AccountID), boolToInt(tx.IsPaid), string(rec),
		tx.Description, tx.Category, fmtTime(tx.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

func (s *Store) GetTransaction(ctx context.Context, ownerID, txID string) (*domain.Transaction, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+txColumns+` FROM transactions WHERE id = ?`, txID)

	tx, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &domain.ErrNotFound{Resource: "transaction", ID: txID}
		}
		return nil, err
	}
	if tx.OwnerID != ownerID {
		return nil, &domain.ErrForbidden{Resource: "transaction", ID: txID}
	}
	return tx, nil
}

func (s *Store) ListByChannelInRange(ctx context.Context, ownerID string, accountID *string, channel domain.PaymentChannel, from, to time.Time) ([]domain.Transaction, error) {
	ctx, span := storeTracer.Start(ctx, "Store.ListByChannelInRange")
	defer span.End()

	query := `SELECT ` + txColumns + ` FROM transactions
		 WHERE owner_id = ? AND channel = ? AND recurrence = 'none'
		   AND COALESCE(payment_date, date) BETWEEN ? AND ?
		   AND ` + accountFilter(accountID) + `
		 ORDER BY date`
	args := []any{ownerID, string(channel), fmtTime(from), fmtTime(to)}
	if accountID != nil {
		args = append(args, *accountID)
	}

	return s.queryTransactions(ctx, query, args...)
}

func (s *Store) ListRecurringTemplates(ctx context.Context, ownerID string, accountID *string, channel domain.PaymentChannel, rec domain.Recurrence, before time.Time) ([]domain.Transaction, error) {
	query := `SELECT ` + txColumns + ` FROM transactions
		 WHERE owner_id = ? AND channel = ? AND recurrence = ? AND date < ?
		   AND ` + accountFilter(accountID) + `
		 ORDER BY date`
	args := []any{ownerID, string(channel), string(rec), fmtTime(before)}
	if accountID != nil {
		args = append(args, *accountID)
	}

	return s.queryTransactions(ctx, query, args...)
}

func (s *Store) ListInMonth(ctx context.Context, ownerID string, year int, month time.Month) ([]domain.Transaction, error) {
	start := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)

	return s.queryTransactions(ctx,
		`SELECT `+txColumns+` FROM transactions
		 WHERE owner_id = ? AND date >= ? AND date < ?
		 ORDER BY date`,
		ownerID, fmtTime(start), fmtTime(end))
}

func (s *Store) SetTransactionPaid(ctx context.Context, txID string, paid bool) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE transactions SET is_paid = ? WHERE id = ?`, boolToInt(paid), txID)
	if err != nil {
		return fmt.Errorf("set transaction paid: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &domain.ErrNotFound{Resource: "transaction", ID: txID}
	}
	return nil
}

func (s *Store) queryTransactions(ctx context.Context, query string, args ...any) ([]domain.Transaction, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	var out []domain.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *tx)
	}
	return out, rows.Err()
}

// ------------------------------------------------------------
// Statements
// ------------------------------------------------------------

const stColumns = `id, owner_id, account_id, closing_date, due_date,
	best_purchase_date, total_amount, is_paid, paid_account_id, created_at`

func (s *Store) CreateStatement(ctx context.Context, st *domain.Statement) error {
	var best any
	if st.BestPurchaseDate != nil {
		best = fmtTime(*st.BestPurchaseDate)
	}
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO statements (`+stColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		st.ID, st.OwnerID, nullStr(st.AccountID),
		fmtTime(st.ClosingDate), fmtTime(st.DueDate), best,
		st.TotalAmount.String(), boolToInt(st.IsPaid),
		nullStr(st.PaidAccountID), fmtTime(st.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert statement: %w", err)
	}
	return nil
}

func (s *Store) GetStatement(ctx context.Context, statementID string) (*domain.Statement, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+stColumns+` FROM statements WHERE id = ?`, statementID)
	st, err := scanStatement(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.ErrNotFound{Resource: "statement", ID: statementID}
	}
	return st, err
}

func (s *Store) ListStatements(ctx context.Context, ownerID string, accountID *string) ([]domain.Statement, error) {
	query := `SELECT ` + stColumns + ` FROM statements
		 WHERE owner_id = ? AND ` + accountFilter(accountID) + `
		 ORDER BY closing_date`
	args := []any{ownerID}
	if accountID != nil {
		args = append(args, *accountID)
	}

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query statements: %w", err)
	}
	defer rows.Close()

	var out []domain.Statement
	for rows.Next() {
		st, err := scanStatement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *st)
	}
	return out, rows.Err()
}

func (s *Store) LatestStatement(ctx context.Context, ownerID string, accountID *string) (*domain.Statement, error) {
	query := `SELECT ` + stColumns + ` FROM statements
		 WHERE owner_id = ? AND ` + accountFilter(accountID) + `
		 ORDER BY closing_date DESC LIMIT 1`
	args := []any{ownerID}
	if accountID != nil {
		args = append(args, *accountID)
	}

	st, err := scanStatement(s.q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.ErrNotFound{Resource: "statement", ID: "latest"}
	}
	return st, err
}

func (s *Store) StatementInMonth(ctx context.Context, ownerID string, accountID *string, year int, month time.Month) (*domain.Statement, error) {
	start := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)

	query := `SELECT ` + stColumns + ` FROM statements
		 WHERE owner_id = ? AND closing_date >= ? AND closing_date < ?
		   AND ` + accountFilter(accountID) + `
		 LIMIT 1`
	args := []any{ownerID, fmtTime(start), fmtTime(end)}
	if accountID != nil {
		args = append(args, *accountID)
	}

	st, err := scanStatement(s.q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.ErrNotFound{Resource: "statement", ID: "month"}
	}
	return st, err
}

func (s *Store) SetStatementPaid(ctx context.Context, statementID string, paid bool, paidAccountID *string) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE statements SET is_paid = ?, paid_account_id = ? WHERE id = ?`,
		boolToInt(paid), nullStr(paidAccountID), statementID)
	if err != nil {
		return fmt.Errorf("set statement paid: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &domain.ErrNotFound{Resource: "statement", ID: statementID}
	}
	return nil
}

func (s *Store) ListStatementGroups(ctx context.Context, ownerID string) ([]*string, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT DISTINCT account_id FROM statements WHERE owner_id = ? ORDER BY account_id`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("query statement groups: %w", err)
	}
	defer rows.Close()

	var out []*string
	for rows.Next() {
		var id sql.NullString
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		if id.Valid {
			v := id.String
			out = append(out, &v)
		} else {
			out = append(out, nil)
		}
	}
	return out, rows.Err()
}

func (s *Store) SaveSettlementLegs(ctx context.Context, legs []domain.SettlementLeg) error {
	for _, leg := range legs {
		if _, err := s.q.ExecContext(ctx,
			`INSERT INTO settlement_legs (statement_id, account_id, amount) VALUES (?, ?, ?)`,
			leg.StatementID, leg.AccountID, leg.Amount.String()); err != nil {
			return fmt.Errorf("insert settlement leg: %w", err)
		}
	}
	return nil
}

func (s *Store) ListSettlementLegs(ctx context.Context, statementID string) ([]domain.SettlementLeg, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT statement_id, account_id, amount FROM settlement_legs WHERE statement_id = ?`, statementID)
	if err != nil {
		return nil, fmt.Errorf("query settlement legs: %w", err)
	}
	defer rows.Close()

	var out []domain.SettlementLeg
	for rows.Next() {
		var leg domain.SettlementLeg
		var raw string
		if err := rows.Scan(&leg.StatementID, &leg.AccountID, &raw); err != nil {
			return nil, err
		}
		if leg.Amount, err = decimal.NewFromString(raw); err != nil {
			return nil, fmt.Errorf("parse leg amount %q: %w", raw, err)
		}
		out = append(out, leg)
	}
	return out, rows.Err()
}

func (s *Store) DeleteSettlementLegs(ctx context.Context, statementID string) error {
	if _, err := s.q.ExecContext(ctx,
		`DELETE FROM settlement_legs WHERE statement_id = ?`, statementID); err != nil {
		return fmt.Errorf("delete settlement legs: %w", err)
	}
	return nil
}

// ------------------------------------------------------------
// Savings
// ------------------------------------------------------------

func (s *Store) CreateLedger(ctx context.Context, ledger *domain.SavingsLedger) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO savings_ledgers (id, owner_id, account_id, name, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		ledger.ID, ledger.OwnerID, ledger.AccountID, ledger.Name, fmtTime(ledger.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert savings ledger: %w", err)
	}
	return nil
}

func (s *Store) GetLedger(ctx context.Context, ledgerID string) (*domain.SavingsLedger, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT id, owner_id, account_id, name, created_at
		 FROM savings_ledgers WHERE id = ?`, ledgerID)

	var ledger domain.SavingsLedger
	var created string
	err := row.Scan(&ledger.ID, &ledger.OwnerID, &ledger.AccountID, &ledger.Name, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &domain.ErrNotFound{Resource: "savings ledger", ID: ledgerID}
		}
		return nil, err
	}
	if ledger.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	return &ledger, nil
}

func (s *Store) ListEntries(ctx context.Context, ledgerID string) ([]domain.LedgerEntry, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT id, ledger_id, kind, amount, description, source_account_id, class, created_at
		 FROM ledger_entries WHERE ledger_id = ? ORDER BY created_at`, ledgerID)
	if err != nil {
		return nil, fmt.Errorf("query ledger entries: %w", err)
	}
	defer rows.Close()

	var out []domain.LedgerEntry
	for rows.Next() {
		var e domain.LedgerEntry
		var kind, class, amount, created string
		if err := rows.Scan(&e.ID, &e.LedgerID, &kind, &amount, &e.Description, &e.SourceAccountID, &class, &created); err != nil {
			return nil, err
		}
		e.Kind = domain.LedgerEntryKind(kind)
		e.Class = domain.EntryClass(class)
		if e.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("parse entry amount %q: %w", amount, err)
		}
		if e.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) AppendEntry(ctx context.Context, entry *domain.LedgerEntry) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO ledger_entries (id, ledger_id, kind, amount, description, source_account_id, class, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.LedgerID, string(entry.Kind), entry.Amount.String(),
		entry.Description, entry.SourceAccountID, string(entry.Class), fmtTime(entry.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert ledger entry: %w", err)
	}
	return nil
}

// ------------------------------------------------------------
// Transactions / owners
// ------------------------------------------------------------

// WithinTx runs fn against a database transaction. Calling WithinTx on
// a store already inside a transaction reuses it.
func (s *Store) WithinTx(ctx context.Context, fn func(tx port.EngineStore) error) error {
	if _, nested := s.q.(*sql.Tx); nested {
		return fn(s)
	}

	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(&Store{db: s.db, q: dbTx}); err != nil {
		if rbErr := dbTx.Rollback(); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}
	if err := dbTx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *Store) ListOwners(ctx context.Context) ([]string, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT owner_id FROM accounts
		 UNION SELECT owner_id FROM statements
		 UNION SELECT owner_id FROM transactions
		 ORDER BY owner_id`)
	if err != nil {
		return nil, fmt.Errorf("query owners: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var owner string
		if err := rows.Scan(&owner); err != nil {
			return nil, err
		}
		out = append(out, owner)
	}
	return out, rows.Err()
}

// ------------------------------------------------------------
// Scanning helpers
// ------------------------------------------------------------

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*domain.Account, error) {
	var acct domain.Account
	var kind, balance, created string
	var primary int
	if err := row.Scan(&acct.ID, &acct.OwnerID, &acct.Name, &kind, &balance, &primary, &created); err != nil {
		return nil, err
	}

	var err error
	acct.Kind = domain.AccountKind(kind)
	acct.IsPrimary = primary != 0
	if acct.Balance, err = decimal.NewFromString(balance); err != nil {
		return nil, fmt.Errorf("parse balance %q: %w", balance, err)
	}
	if acct.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	return &acct, nil
}

func scanTransaction(row rowScanner) (*domain.Transaction, error) {
	var tx domain.Transaction
	var kind, amount, date, channel, rec, created string
	var payDate, accountID sql.NullString
	var paid int
	if err := row.Scan(&tx.ID, &tx.OwnerID, &kind, &amount, &date, &payDate, &channel,
		&accountID, &paid, &rec, &tx.Description, &tx.Category, &created); err != nil {
		return nil, err
	}

	var err error
	tx.Kind = domain.TransactionKind(kind)
	tx.Channel = domain.PaymentChannel(channel)
	tx.Recurrence = domain.Recurrence(rec)
	tx.IsPaid = paid != 0
	if tx.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	if tx.Date, err = parseTime(date); err != nil {
		return nil, err
	}
	if payDate.Valid {
		if tx.PaymentDate, err = parseTime(payDate.String); err != nil {
			return nil, err
		}
	}
	if accountID.Valid {
		v := accountID.String
		tx.AccountID = &v
	}
	if tx.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	return &tx, nil
}

func scanStatement(row rowScanner) (*domain.Statement, error) {
	var st domain.Statement
	var closing, due, total, created string
	var accountID, best, paidAccount sql.NullString
	var paid int
	if err := row.Scan(&st.ID, &st.OwnerID, &accountID, &closing, &due,
		&best, &total, &paid, &paidAccount, &created); err != nil {
		return nil, err
	}

	var err error
	st.IsPaid = paid != 0
	if st.TotalAmount, err = decimal.NewFromString(total); err != nil {
		return nil, fmt.Errorf("parse total %q: %w", total, err)
	}
	if st.ClosingDate, err = parseTime(closing); err != nil {
		return nil, err
	}
	if st.DueDate, err = parseTime(due); err != nil {
		return nil, err
	}
	if best.Valid {
		t, err := parseTime(best.String)
		if err != nil {
			return nil, err
		}
		st.BestPurchaseDate = &t
	}
	if accountID.Valid {
		v := accountID.String
		st.AccountID = &v
	}
	if paidAccount.Valid {
		v := paidAccount.String
		st.PaidAccountID = &v
	}
	if st.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	return &st, nil
}

// accountFilter builds the nullable account-reference predicate. The
// caller appends the value when the reference is non-nil.
func accountFilter(accountID *string) string {
	if accountID == nil {
		return "account_id IS NULL"
	}
	return "account_id = ?"
}

func nullStr(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func fmtNullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return fmtTime(t)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}
