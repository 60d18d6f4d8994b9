package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mfbaptista/billcycle/internal/domain"
)

// CreateAccount registers an account with the given opening balance.
// The owner's first account becomes the primary one automatically.
func (s *EngineService) CreateAccount(ctx context.Context, ownerID, name string, kind domain.AccountKind, opening decimal.Decimal) (*domain.Account, error) {
	ctx, span := engineTracer.Start(ctx, "EngineService.CreateAccount")
	defer span.End()

	if name == "" {
		return nil, &domain.ErrInvalidArgument{Field: "name", Message: "required"}
	}

	existing, err := s.store.ListAccounts(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}

	acct := &domain.Account{
		ID:        uuid.New().String(),
		OwnerID:   ownerID,
		Name:      name,
		Kind:      kind,
		Balance:   opening,
		IsPrimary: len(existing) == 0,
		CreatedAt: s.now(),
	}
	if err := s.store.CreateAccount(ctx, acct); err != nil {
		return nil, fmt.Errorf("create account: %w", err)
	}

	s.logger.Info("account created",
		zap.String("account_id", acct.ID),
		zap.String("kind", string(kind)),
		zap.Bool("primary", acct.IsPrimary),
	)
	return acct, nil
}

// GetAccount loads one account, enforcing ownership.
func (s *EngineService) GetAccount(ctx context.Context, ownerID, accountID string) (*domain.Account, error) {
	ctx, span := engineTracer.Start(ctx, "EngineService.GetAccount")
	defer span.End()
	return s.store.GetAccount(ctx, ownerID, accountID)
}

// ListAccounts returns all accounts of the owner.
func (s *EngineService) ListAccounts(ctx context.Context, ownerID string) ([]domain.Account, error) {
	ctx, span := engineTracer.Start(ctx, "EngineService.ListAccounts")
	defer span.End()
	return s.store.ListAccounts(ctx, ownerID)
}

// SetPrimaryAccount makes the given account the owner's primary one and
// clears the flag everywhere else.
func (s *EngineService) SetPrimaryAccount(ctx context.Context, ownerID, accountID string) error {
	ctx, span := engineTracer.Start(ctx, "EngineService.SetPrimaryAccount")
	defer span.End()

	if _, err := s.store.GetAccount(ctx, ownerID, accountID); err != nil {
		return err
	}
	return s.store.SetPrimaryAccount(ctx, ownerID, accountID)
}

// SpendableBalance sums the balances of the owner's spendable accounts.
// Savings accounts hold guarded money and are left out.
func (s *EngineService) SpendableBalance(ctx context.Context, ownerID string) (decimal.Decimal, error) {
	ctx, span := engineTracer.Start(ctx, "EngineService.SpendableBalance")
	defer span.End()

	accounts, err := s.store.ListAccounts(ctx, ownerID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("list accounts: %w", err)
	}

	total := decimal.Zero
	for i := range accounts {
		if accounts[i].Spendable() {
			total = total.Add(accounts[i].Balance)
		}
	}
	return total, nil
}

// MonthlySummary aggregates the owner's real transactions for one
// calendar month. Recurring templates are projections, not entries, and
// do not count.
func (s *EngineService) MonthlySummary(ctx context.Context, ownerID string, year int, month time.Month) (*domain.MonthlySummary, error) {
	ctx, span := engineTracer.Start(ctx, "EngineService.MonthlySummary")
	defer span.End()

	txs, err := s.store.ListInMonth(ctx, ownerID, year, month)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}

	summary := &domain.MonthlySummary{
		Year:    year,
		Month:   month,
		Income:  decimal.Zero,
		Expense: decimal.Zero,
	}
	for i := range txs {
		tx := &txs[i]
		if tx.IsRecurring() {
			continue
		}
		switch tx.Kind {
		case domain.KindReceipt:
			summary.Income = summary.Income.Add(tx.Amount)
		case domain.KindExpense:
			summary.Expense = summary.Expense.Add(tx.Amount)
		}
		summary.Count++
	}
	summary.Net = summary.Income.Sub(summary.Expense)
	return summary, nil
}
