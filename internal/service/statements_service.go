package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mfbaptista/billcycle/internal/domain"
	"github.com/mfbaptista/billcycle/internal/period"
)

// GenerateFutureStatements walks every statement grouping of the owner
// and creates the statements for the next months, returning the new
// ones. It is idempotent: months that already carry a statement are
// skipped, and months whose assembly comes out empty produce nothing. A
// failure in one grouping does not stop the others; the joined error
// reports all of them.
func (s *EngineService) GenerateFutureStatements(ctx context.Context, ownerID string) ([]domain.Statement, error) {
	ctx, span := engineTracer.Start(ctx, "EngineService.GenerateFutureStatements")
	defer span.End()

	start := s.now()
	defer func() {
		s.metrics.RecordOperationDuration("generate_future_statements", time.Since(start))
	}()

	groups, err := s.store.ListStatementGroups(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list statement groups: %w", err)
	}

	var (
		mu        sync.Mutex
		created   []domain.Statement
		groupErrs []error
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, accountID := range groups {
		accountID := accountID
		g.Go(func() error {
			sts, err := s.GenerateStatementsForGroup(gctx, ownerID, accountID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				groupErrs = append(groupErrs, fmt.Errorf("group %s: %w", groupKey(ownerID, accountID), err))
			}
			created = append(created, sts...)
			return nil // isolate groups from each other
		})
	}
	if err := g.Wait(); err != nil {
		return created, err
	}
	return created, errors.Join(groupErrs...)
}

// GenerateStatementsForGroup advances one grouping. Closing and due
// days are seeded from the group's latest statement; the anchor only
// moves when a month actually carries a statement, so empty months stay
// contiguous with the next real period.
func (s *EngineService) GenerateStatementsForGroup(ctx context.Context, ownerID string, accountID *string) ([]domain.Statement, error) {
	key := groupKey(ownerID, accountID)
	if err := s.locks.Acquire(ctx, key); err != nil {
		return nil, fmt.Errorf("acquire group lock: %w", err)
	}
	defer s.locks.Release(key)

	latest, err := s.store.LatestStatement(ctx, ownerID, accountID)
	if err != nil {
		var notFound *domain.ErrNotFound
		if errors.As(err, &notFound) {
			return nil, nil // nothing to seed from
		}
		return nil, fmt.Errorf("latest statement: %w", err)
	}

	closingDay := latest.ClosingDate.Day()
	dueDay := latest.DueDate.Day()
	anchor := latest.ClosingDate
	var created []domain.Statement

	// Walk months numerically: AddDate on a day-29..31 closing date
	// normalizes past short months and would skip February entirely.
	seedYear, seedMonth, _ := latest.ClosingDate.Date()
	for i := 1; i <= s.opts.MonthsAhead; i++ {
		y, m, _ := time.Date(seedYear, seedMonth+time.Month(i), 1, 0, 0, 0, 0, time.UTC).Date()

		existing, err := s.store.StatementInMonth(ctx, ownerID, accountID, y, m)
		if err == nil {
			s.metrics.IncrStatementOutcome("skipped_existing")
			anchor = existing.ClosingDate
			continue
		}
		var notFound *domain.ErrNotFound
		if !errors.As(err, &notFound) {
			return created, fmt.Errorf("statement in %d-%02d: %w", y, m, err)
		}

		p := period.Anchored(anchor, closingDay, dueDay, y, m)
		assembled, err := s.AssembleStatement(ctx, ownerID, accountID, p)
		if err != nil {
			return created, fmt.Errorf("assemble %d-%02d: %w", y, m, err)
		}
		if len(assembled.Lines) == 0 {
			s.metrics.IncrStatementOutcome("skipped_empty")
			continue
		}

		best := p.ClosingDate.AddDate(0, 0, 1)
		st := &domain.Statement{
			ID:               uuid.New().String(),
			OwnerID:          ownerID,
			AccountID:        accountID,
			ClosingDate:      p.ClosingDate,
			DueDate:          p.DueDate,
			BestPurchaseDate: &best,
			TotalAmount:      assembled.Total,
			CreatedAt:        s.now(),
		}
		if err := s.store.CreateStatement(ctx, st); err != nil {
			return created, fmt.Errorf("create statement %d-%02d: %w", y, m, err)
		}
		s.metrics.IncrStatementOutcome("created")
		anchor = p.ClosingDate
		created = append(created, *st)
	}

	if len(created) > 0 {
		s.stmtCache.Delete(key)
		s.logger.Info("future statements generated",
			zap.String("group", key),
			zap.Int("created", len(created)),
		)
	}
	return created, nil
}

// GetCurrentStatement returns the open statement of the grouping: the
// one with the earliest closing date not yet past. When none exists it
// triggers generation once and retries; a grouping with genuinely
// nothing upcoming yields (nil, nil).
func (s *EngineService) GetCurrentStatement(ctx context.Context, ownerID string, accountID *string) (*domain.Statement, error) {
	ctx, span := engineTracer.Start(ctx, "EngineService.GetCurrentStatement")
	defer span.End()

	key := groupKey(ownerID, accountID)
	if st, ok := s.stmtCache.Get(key); ok {
		s.metrics.IncrCacheHit(currentStatementCache)
		return st, nil
	}
	s.metrics.IncrCacheMiss(currentStatementCache)

	st, err := s.openStatement(ctx, ownerID, accountID)
	if err != nil {
		return nil, err
	}
	if st == nil {
		if _, err := s.GenerateFutureStatements(ctx, ownerID); err != nil {
			return nil, err
		}
		if st, err = s.openStatement(ctx, ownerID, accountID); err != nil {
			return nil, err
		}
	}
	if st != nil {
		s.stmtCache.Set(key, st)
	}
	return st, nil
}

func (s *EngineService) openStatement(ctx context.Context, ownerID string, accountID *string) (*domain.Statement, error) {
	all, err := s.store.ListStatements(ctx, ownerID, accountID)
	if err != nil {
		return nil, fmt.Errorf("list statements: %w", err)
	}

	today := dayOf(s.now())
	var open *domain.Statement
	for i := range all {
		st := &all[i]
		if st.ClosingDate.Before(today) {
			continue
		}
		if open == nil || st.ClosingDate.Before(open.ClosingDate) {
			open = st
		}
	}
	if open == nil {
		return nil, nil
	}
	cp := *open
	return &cp, nil
}

// MarkStatementPaid settles a statement against one or more accounts
// and returns the updated record. The split is validated before
// anything mutates; each leg is applied as an idempotent balance
// effect; on a mid-split failure the already applied legs are rolled
// back. Applied legs are recorded so the settlement can later be
// reversed exactly.
func (s *EngineService) MarkStatementPaid(ctx context.Context, ownerID, statementID string, splits []domain.PaymentSplit) (*domain.Statement, error) {
	ctx, span := engineTracer.Start(ctx, "EngineService.MarkStatementPaid")
	defer span.End()

	lockKey := "stmt:" + statementID
	if err := s.locks.Acquire(ctx, lockKey); err != nil {
		return nil, fmt.Errorf("acquire statement lock: %w", err)
	}
	defer s.locks.Release(lockKey)

	st, err := s.ownedStatement(ctx, ownerID, statementID)
	if err != nil {
		return nil, err
	}
	if st.IsPaid {
		return st, nil
	}

	if err := s.validateSplits(ctx, ownerID, st, splits); err != nil {
		s.metrics.IncrSettlementRejection()
		return nil, err
	}

	legs := make([]domain.SettlementLeg, 0, len(splits))
	var applied []domain.BalanceEffect
	for _, split := range splits {
		effect := settlementEffect(st.ID, split.AccountID, split.Amount, domain.OpCreate)
		if err := s.effects.Apply(ctx, effect); err != nil {
			s.rollbackLegs(ctx, applied)
			return nil, fmt.Errorf("apply settlement leg: %w", err)
		}
		applied = append(applied, effect)
		legs = append(legs, domain.SettlementLeg{
			StatementID: st.ID,
			AccountID:   split.AccountID,
			Amount:      split.Amount,
		})
	}

	if err := s.store.SaveSettlementLegs(ctx, legs); err != nil {
		s.rollbackLegs(ctx, applied)
		return nil, fmt.Errorf("save settlement legs: %w", err)
	}

	var paidAccount *string
	if len(splits) == 1 {
		paidAccount = &splits[0].AccountID
	}
	if err := s.store.SetStatementPaid(ctx, st.ID, true, paidAccount); err != nil {
		return nil, fmt.Errorf("set statement paid: %w", err)
	}

	s.stmtCache.Delete(groupKey(ownerID, st.AccountID))
	s.logger.Info("statement settled",
		zap.String("statement_id", st.ID),
		zap.Int("legs", len(legs)),
		zap.String("total", st.TotalAmount.StringFixed(2)),
	)

	st.IsPaid = true
	st.PaidAccountID = paidAccount
	return st, nil
}

// MarkStatementUnpaid reverses a settlement by replaying the recorded
// legs in the opposite direction and clearing them.
func (s *EngineService) MarkStatementUnpaid(ctx context.Context, ownerID, statementID string) (*domain.Statement, error) {
	ctx, span := engineTracer.Start(ctx, "EngineService.MarkStatementUnpaid")
	defer span.End()

	lockKey := "stmt:" + statementID
	if err := s.locks.Acquire(ctx, lockKey); err != nil {
		return nil, fmt.Errorf("acquire statement lock: %w", err)
	}
	defer s.locks.Release(lockKey)

	st, err := s.ownedStatement(ctx, ownerID, statementID)
	if err != nil {
		return nil, err
	}
	if !st.IsPaid {
		return st, nil
	}

	legs, err := s.store.ListSettlementLegs(ctx, st.ID)
	if err != nil {
		return nil, fmt.Errorf("list settlement legs: %w", err)
	}
	for _, leg := range legs {
		effect := settlementEffect(st.ID, leg.AccountID, leg.Amount, domain.OpDelete)
		if err := s.effects.Apply(ctx, effect); err != nil {
			return nil, fmt.Errorf("reverse settlement leg: %w", err)
		}
	}
	if err := s.store.DeleteSettlementLegs(ctx, st.ID); err != nil {
		return nil, fmt.Errorf("delete settlement legs: %w", err)
	}
	if err := s.store.SetStatementPaid(ctx, st.ID, false, nil); err != nil {
		return nil, fmt.Errorf("set statement unpaid: %w", err)
	}

	s.stmtCache.Delete(groupKey(ownerID, st.AccountID))
	s.logger.Info("statement settlement reversed", zap.String("statement_id", st.ID))

	st.IsPaid = false
	st.PaidAccountID = nil
	return st, nil
}

func (s *EngineService) ownedStatement(ctx context.Context, ownerID, statementID string) (*domain.Statement, error) {
	st, err := s.store.GetStatement(ctx, statementID)
	if err != nil {
		return nil, err
	}
	if st.OwnerID != ownerID {
		return nil, &domain.ErrForbidden{Resource: "statement", ID: statementID}
	}
	return st, nil
}

// validateSplits rejects the whole settlement before any balance moves:
// legs must reference distinct, spendable accounts of the owner, carry
// positive amounts, and sum to the statement total within tolerance.
// Distinctness matters: the leg effect is keyed per (statement,
// account), so a repeated account would be suppressed as a duplicate.
func (s *EngineService) validateSplits(ctx context.Context, ownerID string, st *domain.Statement, splits []domain.PaymentSplit) error {
	if len(splits) == 0 {
		return &domain.ErrInvalidArgument{Field: "splits", Message: "at least one settlement leg required"}
	}

	sum := decimal.Zero
	seen := make(map[string]struct{}, len(splits))
	for _, split := range splits {
		if !split.Amount.IsPositive() {
			return &domain.ErrInvalidArgument{Field: "splits", Message: "leg amounts must be positive"}
		}
		if _, dup := seen[split.AccountID]; dup {
			return &domain.ErrInvalidArgument{Field: "splits", Message: fmt.Sprintf("account %s appears in more than one leg", split.AccountID)}
		}
		seen[split.AccountID] = struct{}{}
		acct, err := s.store.GetAccount(ctx, ownerID, split.AccountID)
		if err != nil {
			return err
		}
		if !acct.Spendable() {
			return &domain.ErrInvalidArgument{Field: "splits", Message: fmt.Sprintf("account %s cannot settle statements", split.AccountID)}
		}
		sum = sum.Add(split.Amount)
	}

	if sum.Sub(st.TotalAmount).Abs().GreaterThan(domain.SplitTolerance) {
		return &domain.ErrInvalidArgument{
			Field:   "splits",
			Message: fmt.Sprintf("legs sum to %s, statement total is %s", sum.StringFixed(2), st.TotalAmount.StringFixed(2)),
		}
	}
	return nil
}

// rollbackLegs best-effort reverses settlement legs applied before a
// failure. Reversal errors are logged, not propagated: the original
// failure is what the caller needs to see.
func (s *EngineService) rollbackLegs(ctx context.Context, applied []domain.BalanceEffect) {
	for _, effect := range applied {
		inverse := effect
		inverse.Op = domain.OpDelete
		if err := s.effects.Apply(ctx, inverse); err != nil {
			s.logger.Error("settlement rollback failed",
				zap.String("key", inverse.Key()),
				zap.Error(err),
			)
		}
	}
}

// settlementEffect builds the balance effect of one settlement leg. The
// synthetic transaction id keys idempotency per (statement, account).
func settlementEffect(statementID, accountID string, amount decimal.Decimal, op domain.BalanceOp) domain.BalanceEffect {
	return domain.BalanceEffect{
		TransactionID: "stmt:" + statementID + ":" + accountID,
		Op:            op,
		AccountID:     accountID,
		Amount:        amount,
		Kind:          domain.KindExpense,
	}
}

// dayOf truncates an instant to its UTC calendar day.
func dayOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
