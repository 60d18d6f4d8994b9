package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mfbaptista/billcycle/internal/domain"
	"github.com/mfbaptista/billcycle/internal/port"
)

// CreateSavingsLedger opens a guarded ledger over an existing
// savings-kind account. The account's balance at association time is
// recorded as a bookkeeping entry, so the guarded value starts at zero
// regardless of what the account already held.
func (s *EngineService) CreateSavingsLedger(ctx context.Context, ownerID, accountID, name string) (*domain.SavingsLedger, error) {
	ctx, span := engineTracer.Start(ctx, "EngineService.CreateSavingsLedger")
	defer span.End()

	acct, err := s.store.GetAccount(ctx, ownerID, accountID)
	if err != nil {
		return nil, err
	}
	if acct.Kind != domain.AccountSavings {
		return nil, &domain.ErrInvalidArgument{Field: "account_id", Message: "ledger requires a savings account"}
	}

	ledger := &domain.SavingsLedger{
		ID:        uuid.New().String(),
		OwnerID:   ownerID,
		AccountID: accountID,
		Name:      name,
		CreatedAt: s.now(),
	}

	err = s.store.WithinTx(ctx, func(tx port.EngineStore) error {
		if err := tx.CreateLedger(ctx, ledger); err != nil {
			return err
		}
		if acct.Balance.IsZero() {
			return nil
		}
		return tx.AppendEntry(ctx, &domain.LedgerEntry{
			ID:          uuid.New().String(),
			LedgerID:    ledger.ID,
			Kind:        domain.EntryDeposit,
			Amount:      acct.Balance,
			Description: "account association",
			Class:       domain.EntryBookkeeping,
			CreatedAt:   s.now(),
		})
	})
	if err != nil {
		return nil, fmt.Errorf("create savings ledger: %w", err)
	}

	s.logger.Info("savings ledger created",
		zap.String("ledger_id", ledger.ID),
		zap.String("account_id", accountID),
	)
	return ledger, nil
}

// GuardedValue is the money the owner explicitly moved into the ledger:
// real deposits minus real withdrawals. Bookkeeping entries never count.
func (s *EngineService) GuardedValue(ctx context.Context, ownerID, ledgerID string) (decimal.Decimal, error) {
	ctx, span := engineTracer.Start(ctx, "EngineService.GuardedValue")
	defer span.End()

	if _, err := s.ownedLedger(ctx, ownerID, ledgerID); err != nil {
		return decimal.Zero, err
	}
	return guardedValue(ctx, s.store, ledgerID)
}

// DepositToSavings moves money from a spendable account into the
// ledger's savings account and records a real deposit. The move and the
// entry commit together.
func (s *EngineService) DepositToSavings(ctx context.Context, ownerID, ledgerID, sourceAccountID string, amount decimal.Decimal, description string) (*domain.LedgerEntry, error) {
	ctx, span := engineTracer.Start(ctx, "EngineService.DepositToSavings")
	defer span.End()

	if !amount.IsPositive() {
		return nil, &domain.ErrInvalidArgument{Field: "amount", Message: "must be positive"}
	}
	ledger, err := s.ownedLedger(ctx, ownerID, ledgerID)
	if err != nil {
		return nil, err
	}

	lockKey := "ledger:" + ledgerID
	if err := s.locks.Acquire(ctx, lockKey); err != nil {
		return nil, fmt.Errorf("acquire ledger lock: %w", err)
	}
	defer s.locks.Release(lockKey)

	entry := &domain.LedgerEntry{
		ID:              uuid.New().String(),
		LedgerID:        ledgerID,
		Kind:            domain.EntryDeposit,
		Amount:          amount,
		Description:     description,
		SourceAccountID: sourceAccountID,
		Class:           domain.EntryReal,
		CreatedAt:       s.now(),
	}
	err = s.store.WithinTx(ctx, func(tx port.EngineStore) error {
		source, err := tx.GetAccount(ctx, ownerID, sourceAccountID)
		if err != nil {
			return err
		}
		if !source.Spendable() {
			return &domain.ErrInvalidArgument{Field: "source_account_id", Message: "deposits must come from a spendable account"}
		}
		if source.Balance.LessThan(amount) {
			return &domain.ErrInsufficientFunds{Available: source.Balance, Required: amount}
		}
		if _, err := tx.AdjustBalance(ctx, sourceAccountID, amount.Neg()); err != nil {
			return err
		}
		if _, err := tx.AdjustBalance(ctx, ledger.AccountID, amount); err != nil {
			return err
		}
		return tx.AppendEntry(ctx, entry)
	})
	if err != nil {
		return nil, fmt.Errorf("deposit to savings: %w", err)
	}

	s.logger.Info("savings deposit",
		zap.String("ledger_id", ledgerID),
		zap.String("amount", amount.StringFixed(2)),
	)
	return entry, nil
}

// WithdrawFromSavings moves money out of the ledger's savings account
// back to a spendable account. Withdrawals are capped by the guarded
// value, not the account balance: money the ledger never guarded cannot
// leave through it.
func (s *EngineService) WithdrawFromSavings(ctx context.Context, ownerID, ledgerID, destAccountID string, amount decimal.Decimal, description string) (*domain.LedgerEntry, error) {
	ctx, span := engineTracer.Start(ctx, "EngineService.WithdrawFromSavings")
	defer span.End()

	if !amount.IsPositive() {
		return nil, &domain.ErrInvalidArgument{Field: "amount", Message: "must be positive"}
	}
	ledger, err := s.ownedLedger(ctx, ownerID, ledgerID)
	if err != nil {
		return nil, err
	}

	lockKey := "ledger:" + ledgerID
	if err := s.locks.Acquire(ctx, lockKey); err != nil {
		return nil, fmt.Errorf("acquire ledger lock: %w", err)
	}
	defer s.locks.Release(lockKey)

	entry := &domain.LedgerEntry{
		ID:              uuid.New().String(),
		LedgerID:        ledgerID,
		Kind:            domain.EntryWithdrawal,
		Amount:          amount,
		Description:     description,
		SourceAccountID: destAccountID,
		Class:           domain.EntryReal,
		CreatedAt:       s.now(),
	}
	err = s.store.WithinTx(ctx, func(tx port.EngineStore) error {
		guarded, err := guardedValue(ctx, tx, ledgerID)
		if err != nil {
			return err
		}
		if guarded.LessThan(amount) {
			return &domain.ErrInvalidArgument{
				Field:   "amount",
				Message: fmt.Sprintf("withdrawal %s exceeds guarded value %s", amount.StringFixed(2), guarded.StringFixed(2)),
			}
		}
		dest, err := tx.GetAccount(ctx, ownerID, destAccountID)
		if err != nil {
			return err
		}
		if !dest.Spendable() {
			return &domain.ErrInvalidArgument{Field: "dest_account_id", Message: "withdrawals must go to a spendable account"}
		}
		if _, err := tx.AdjustBalance(ctx, ledger.AccountID, amount.Neg()); err != nil {
			return err
		}
		if _, err := tx.AdjustBalance(ctx, destAccountID, amount); err != nil {
			return err
		}
		return tx.AppendEntry(ctx, entry)
	})
	if err != nil {
		return nil, fmt.Errorf("withdraw from savings: %w", err)
	}

	s.logger.Info("savings withdrawal",
		zap.String("ledger_id", ledgerID),
		zap.String("amount", amount.StringFixed(2)),
	)
	return entry, nil
}

func (s *EngineService) ownedLedger(ctx context.Context, ownerID, ledgerID string) (*domain.SavingsLedger, error) {
	ledger, err := s.store.GetLedger(ctx, ledgerID)
	if err != nil {
		return nil, err
	}
	if ledger.OwnerID != ownerID {
		return nil, &domain.ErrForbidden{Resource: "savings ledger", ID: ledgerID}
	}
	return ledger, nil
}

func guardedValue(ctx context.Context, store port.SavingsStore, ledgerID string) (decimal.Decimal, error) {
	entries, err := store.ListEntries(ctx, ledgerID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("list ledger entries: %w", err)
	}

	total := decimal.Zero
	for _, e := range entries {
		if e.Class != domain.EntryReal {
			continue
		}
		switch e.Kind {
		case domain.EntryDeposit:
			total = total.Add(e.Amount)
		case domain.EntryWithdrawal:
			total = total.Sub(e.Amount)
		}
	}
	return total, nil
}
