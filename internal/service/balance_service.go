package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/mfbaptista/billcycle/internal/domain"
)

// ApplyTransactionBalanceEffect reflects a transaction mutation on
// account running balances. The caller passes the mutation kind and, for
// updates, the prior snapshot. Credit-channel transactions and
// transactions whose payment date has not arrived never touch balances;
// an update that crosses the eligibility boundary degrades to the
// matching create or delete.
func (s *EngineService) ApplyTransactionBalanceEffect(ctx context.Context, ownerID string, op domain.BalanceOp, tx *domain.Transaction, prior *domain.Transaction) error {
	ctx, span := engineTracer.Start(ctx, "EngineService.ApplyTransactionBalanceEffect")
	defer span.End()

	if tx == nil {
		return &domain.ErrInvalidArgument{Field: "transaction", Message: "required"}
	}
	if tx.OwnerID != ownerID {
		return &domain.ErrForbidden{Resource: "transaction", ID: tx.ID}
	}

	today := s.now()
	eligible := tx.AccountID != nil && tx.BalanceEligible(today)
	priorEligible := op == domain.OpUpdate && prior != nil &&
		prior.AccountID != nil && prior.BalanceEligible(today)

	effect, ok := buildEffect(op, tx, prior, eligible, priorEligible)
	if !ok {
		s.logger.Debug("transaction has no balance effect",
			zap.String("transaction_id", tx.ID),
			zap.String("op", string(op)),
		)
		return nil
	}

	if err := s.effects.Apply(ctx, effect); err != nil {
		return fmt.Errorf("dispatch balance effect: %w", err)
	}
	return nil
}

// buildEffect maps a transaction mutation onto a balance effect, or
// reports that none applies.
func buildEffect(op domain.BalanceOp, tx, prior *domain.Transaction, eligible, priorEligible bool) (domain.BalanceEffect, bool) {
	switch op {
	case domain.OpCreate:
		if !eligible {
			return domain.BalanceEffect{}, false
		}
		return domain.BalanceEffect{
			TransactionID: tx.ID,
			Op:            domain.OpCreate,
			AccountID:     *tx.AccountID,
			Amount:        tx.Amount,
			Kind:          tx.Kind,
		}, true

	case domain.OpDelete:
		if !eligible {
			return domain.BalanceEffect{}, false
		}
		return domain.BalanceEffect{
			TransactionID: tx.ID,
			Op:            domain.OpDelete,
			AccountID:     *tx.AccountID,
			Amount:        tx.Amount,
			Kind:          tx.Kind,
		}, true

	case domain.OpUpdate:
		switch {
		case eligible && priorEligible:
			priorAmount := prior.Amount
			return domain.BalanceEffect{
				TransactionID:  tx.ID,
				Op:             domain.OpUpdate,
				AccountID:      *tx.AccountID,
				Amount:         tx.Amount,
				Kind:           tx.Kind,
				PriorAmount:    &priorAmount,
				PriorAccountID: prior.AccountID,
			}, true
		case eligible:
			// Became eligible: apply as a fresh create.
			return domain.BalanceEffect{
				TransactionID: tx.ID,
				Op:            domain.OpCreate,
				AccountID:     *tx.AccountID,
				Amount:        tx.Amount,
				Kind:          tx.Kind,
			}, true
		case priorEligible:
			// Left eligibility: undo the prior application.
			return domain.BalanceEffect{
				TransactionID: tx.ID,
				Op:            domain.OpDelete,
				AccountID:     *prior.AccountID,
				Amount:        prior.Amount,
				Kind:          prior.Kind,
			}, true
		}
	}
	return domain.BalanceEffect{}, false
}

// MarkTransactionPaid flags a transaction as settled and applies its
// balance effect. Credit-channel transactions settle through their
// statement instead; flipping one only refreshes future statements,
// and a refresh failure does not fail the flip.
func (s *EngineService) MarkTransactionPaid(ctx context.Context, ownerID, txID string) error {
	return s.setTransactionPaid(ctx, ownerID, txID, true)
}

// MarkTransactionUnpaid clears the settled flag and reverses the
// balance effect of a previously paid transaction.
func (s *EngineService) MarkTransactionUnpaid(ctx context.Context, ownerID, txID string) error {
	return s.setTransactionPaid(ctx, ownerID, txID, false)
}

func (s *EngineService) setTransactionPaid(ctx context.Context, ownerID, txID string, paid bool) error {
	ctx, span := engineTracer.Start(ctx, "EngineService.setTransactionPaid")
	defer span.End()

	tx, err := s.store.GetTransaction(ctx, ownerID, txID)
	if err != nil {
		return err
	}
	if tx.IsPaid == paid {
		return nil
	}
	if err := s.store.SetTransactionPaid(ctx, txID, paid); err != nil {
		return fmt.Errorf("set transaction paid: %w", err)
	}

	if tx.Channel == domain.ChannelCredit {
		if _, err := s.GenerateFutureStatements(ctx, ownerID); err != nil {
			s.logger.Warn("statement refresh after paid flip failed",
				zap.String("transaction_id", txID),
				zap.Error(err),
			)
		}
		return nil
	}

	if tx.AccountID == nil {
		return nil
	}
	op := domain.OpCreate
	if !paid {
		op = domain.OpDelete
	}
	effect := domain.BalanceEffect{
		TransactionID: tx.ID,
		Op:            op,
		AccountID:     *tx.AccountID,
		Amount:        tx.Amount,
		Kind:          tx.Kind,
	}
	if err := s.effects.Apply(ctx, effect); err != nil {
		return fmt.Errorf("dispatch balance effect: %w", err)
	}
	return nil
}
