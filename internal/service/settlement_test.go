package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mfbaptista/billcycle/internal/domain"
	"github.com/mfbaptista/billcycle/internal/infra/memory"
	"github.com/mfbaptista/billcycle/internal/infra/observability"
)

func seedSettlementFixture(t *testing.T, store *memory.Store) *domain.Statement {
	t.Helper()
	ctx := context.Background()

	for _, acct := range []*domain.Account{
		{ID: "acc-1", OwnerID: "owner-1", Name: "checking", Kind: domain.AccountOrdinary, Balance: dec("500.00")},
		{ID: "acc-2", OwnerID: "owner-1", Name: "wallet", Kind: domain.AccountOrdinary, Balance: dec("300.00")},
		{ID: "acc-sav", OwnerID: "owner-1", Name: "nest egg", Kind: domain.AccountSavings, Balance: dec("1000.00")},
	} {
		if err := store.CreateAccount(ctx, acct); err != nil {
			t.Fatalf("seed account: %v", err)
		}
	}

	st := &domain.Statement{
		ID: "st-1", OwnerID: "owner-1", AccountID: strPtr("card-1"),
		ClosingDate: date(2026, time.January, 15),
		DueDate:     date(2026, time.February, 5),
		TotalAmount: dec("200.00"),
	}
	if err := store.CreateStatement(ctx, st); err != nil {
		t.Fatalf("seed statement: %v", err)
	}
	return st
}

func accountBalance(t *testing.T, store *memory.Store, accountID string) string {
	t.Helper()
	acct, err := store.GetAccount(context.Background(), "owner-1", accountID)
	if err != nil {
		t.Fatalf("get account %s: %v", accountID, err)
	}
	return acct.Balance.StringFixed(2)
}

func TestMarkStatementPaid_SplitAcrossAccounts(t *testing.T) {
	store := memory.NewStore()
	eng := newTestEngine(t, store, date(2026, time.February, 1))
	st := seedSettlementFixture(t, store)
	ctx := context.Background()

	splits := []domain.PaymentSplit{
		{AccountID: "acc-1", Amount: dec("150.00")},
		{AccountID: "acc-2", Amount: dec("50.00")},
	}
	if _, err := eng.MarkStatementPaid(ctx, "owner-1", st.ID, splits); err != nil {
		t.Fatalf("MarkStatementPaid failed: %v", err)
	}

	if got := accountBalance(t, store, "acc-1"); got != "350.00" {
		t.Errorf("expected acc-1 at 350.00, got %s", got)
	}
	if got := accountBalance(t, store, "acc-2"); got != "250.00" {
		t.Errorf("expected acc-2 at 250.00, got %s", got)
	}

	paid, err := store.GetStatement(ctx, st.ID)
	if err != nil {
		t.Fatalf("get statement: %v", err)
	}
	if !paid.IsPaid {
		t.Error("expected statement marked paid")
	}
	if paid.PaidAccountID != nil {
		t.Errorf("multi-leg settlement must not record a single paid account, got %v", *paid.PaidAccountID)
	}

	legs, err := store.ListSettlementLegs(ctx, st.ID)
	if err != nil {
		t.Fatalf("list legs: %v", err)
	}
	if len(legs) != 2 {
		t.Errorf("expected 2 recorded legs, got %d", len(legs))
	}
}

func TestMarkStatementPaid_SingleLegRecordsAccount(t *testing.T) {
	store := memory.NewStore()
	eng := newTestEngine(t, store, date(2026, time.February, 1))
	st := seedSettlementFixture(t, store)
	ctx := context.Background()

	if _, err := eng.MarkStatementPaid(ctx, "owner-1", st.ID, []domain.PaymentSplit{{AccountID: "acc-1", Amount: dec("200.00")}}); err != nil {
		t.Fatalf("MarkStatementPaid failed: %v", err)
	}

	paid, err := store.GetStatement(ctx, st.ID)
	if err != nil {
		t.Fatalf("get statement: %v", err)
	}
	if paid.PaidAccountID == nil || *paid.PaidAccountID != "acc-1" {
		t.Errorf("expected paid account acc-1, got %v", paid.PaidAccountID)
	}
}

func TestMarkStatementPaid_RejectsSplitOutsideTolerance(t *testing.T) {
	store := memory.NewStore()
	eng := newTestEngine(t, store, date(2026, time.February, 1))
	st := seedSettlementFixture(t, store)
	ctx := context.Background()

	splits := []domain.PaymentSplit{
		{AccountID: "acc-1", Amount: dec("150.00")},
		{AccountID: "acc-2", Amount: dec("49.00")},
	}
	var invalid *domain.ErrInvalidArgument
	if _, err := eng.MarkStatementPaid(ctx, "owner-1", st.ID, splits); !errors.As(err, &invalid) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}

	// Nothing moved, nothing recorded.
	if got := accountBalance(t, store, "acc-1"); got != "500.00" {
		t.Errorf("expected acc-1 untouched at 500.00, got %s", got)
	}
	if got := accountBalance(t, store, "acc-2"); got != "300.00" {
		t.Errorf("expected acc-2 untouched at 300.00, got %s", got)
	}
	after, err := store.GetStatement(ctx, st.ID)
	if err != nil {
		t.Fatalf("get statement: %v", err)
	}
	if after.IsPaid {
		t.Error("statement must stay unpaid after a rejected split")
	}
}

func TestMarkStatementPaid_AcceptsSplitWithinTolerance(t *testing.T) {
	store := memory.NewStore()
	eng := newTestEngine(t, store, date(2026, time.February, 1))
	st := seedSettlementFixture(t, store)

	splits := []domain.PaymentSplit{
		{AccountID: "acc-1", Amount: dec("150.00")},
		{AccountID: "acc-2", Amount: dec("50.01")},
	}
	if _, err := eng.MarkStatementPaid(context.Background(), "owner-1", st.ID, splits); err != nil {
		t.Fatalf("expected split 0.01 off to be accepted, got %v", err)
	}
}

func TestMarkStatementPaid_RejectsSavingsAccountLeg(t *testing.T) {
	store := memory.NewStore()
	eng := newTestEngine(t, store, date(2026, time.February, 1))
	st := seedSettlementFixture(t, store)

	var invalid *domain.ErrInvalidArgument
	_, err := eng.MarkStatementPaid(context.Background(), "owner-1", st.ID, []domain.PaymentSplit{{AccountID: "acc-sav", Amount: dec("200.00")}})
	if !errors.As(err, &invalid) {
		t.Fatalf("expected ErrInvalidArgument for savings leg, got %v", err)
	}
}

func TestMarkStatementPaid_RejectsDuplicateAccountLegs(t *testing.T) {
	store := memory.NewStore()
	eng := newTestEngine(t, store, date(2026, time.February, 1))
	st := seedSettlementFixture(t, store)
	ctx := context.Background()

	splits := []domain.PaymentSplit{
		{AccountID: "acc-1", Amount: dec("150.00")},
		{AccountID: "acc-1", Amount: dec("50.00")},
	}
	var invalid *domain.ErrInvalidArgument
	if _, err := eng.MarkStatementPaid(ctx, "owner-1", st.ID, splits); !errors.As(err, &invalid) {
		t.Fatalf("expected ErrInvalidArgument for repeated account, got %v", err)
	}

	// Nothing moved and the statement stays open.
	if got := accountBalance(t, store, "acc-1"); got != "500.00" {
		t.Errorf("expected acc-1 untouched at 500.00, got %s", got)
	}
	after, err := store.GetStatement(ctx, st.ID)
	if err != nil {
		t.Fatalf("get statement: %v", err)
	}
	if after.IsPaid {
		t.Error("expected statement unpaid")
	}
}

func TestMarkStatementPaid_IsIdempotent(t *testing.T) {
	store := memory.NewStore()
	eng := newTestEngine(t, store, date(2026, time.February, 1))
	st := seedSettlementFixture(t, store)
	ctx := context.Background()

	splits := []domain.PaymentSplit{{AccountID: "acc-1", Amount: dec("200.00")}}
	for i := 0; i < 2; i++ {
		if _, err := eng.MarkStatementPaid(ctx, "owner-1", st.ID, splits); err != nil {
			t.Fatalf("pay %d failed: %v", i, err)
		}
	}

	if got := accountBalance(t, store, "acc-1"); got != "300.00" {
		t.Errorf("expected single deduction to 300.00, got %s", got)
	}
}

func TestMarkStatementUnpaid_ReversesExactLegs(t *testing.T) {
	store := memory.NewStore()
	eng := newTestEngine(t, store, date(2026, time.February, 1))
	st := seedSettlementFixture(t, store)
	ctx := context.Background()

	splits := []domain.PaymentSplit{
		{AccountID: "acc-1", Amount: dec("150.00")},
		{AccountID: "acc-2", Amount: dec("50.00")},
	}
	if _, err := eng.MarkStatementPaid(ctx, "owner-1", st.ID, splits); err != nil {
		t.Fatalf("MarkStatementPaid failed: %v", err)
	}
	if _, err := eng.MarkStatementUnpaid(ctx, "owner-1", st.ID); err != nil {
		t.Fatalf("MarkStatementUnpaid failed: %v", err)
	}

	if got := accountBalance(t, store, "acc-1"); got != "500.00" {
		t.Errorf("expected acc-1 restored to 500.00, got %s", got)
	}
	if got := accountBalance(t, store, "acc-2"); got != "300.00" {
		t.Errorf("expected acc-2 restored to 300.00, got %s", got)
	}

	after, err := store.GetStatement(ctx, st.ID)
	if err != nil {
		t.Fatalf("get statement: %v", err)
	}
	if after.IsPaid {
		t.Error("expected statement unpaid")
	}
	legs, err := store.ListSettlementLegs(ctx, st.ID)
	if err != nil {
		t.Fatalf("list legs: %v", err)
	}
	if len(legs) != 0 {
		t.Errorf("expected legs cleared, got %d", len(legs))
	}
}

func TestMarkStatementPaid_PayUnpayPayCycle(t *testing.T) {
	store := memory.NewStore()
	eng := newTestEngine(t, store, date(2026, time.February, 1))
	st := seedSettlementFixture(t, store)
	ctx := context.Background()

	splits := []domain.PaymentSplit{{AccountID: "acc-1", Amount: dec("200.00")}}
	if _, err := eng.MarkStatementPaid(ctx, "owner-1", st.ID, splits); err != nil {
		t.Fatalf("first pay failed: %v", err)
	}
	if _, err := eng.MarkStatementUnpaid(ctx, "owner-1", st.ID); err != nil {
		t.Fatalf("unpay failed: %v", err)
	}
	if _, err := eng.MarkStatementPaid(ctx, "owner-1", st.ID, splits); err != nil {
		t.Fatalf("second pay failed: %v", err)
	}

	if got := accountBalance(t, store, "acc-1"); got != "300.00" {
		t.Errorf("expected 300.00 after pay/unpay/pay, got %s", got)
	}
}

func TestMarkStatementPaid_RejectsForeignStatement(t *testing.T) {
	store := memory.NewStore()
	eng := newTestEngine(t, store, date(2026, time.February, 1))
	st := seedSettlementFixture(t, store)

	var forbidden *domain.ErrForbidden
	_, err := eng.MarkStatementPaid(context.Background(), "owner-2", st.ID, []domain.PaymentSplit{{AccountID: "acc-1", Amount: dec("200.00")}})
	if !errors.As(err, &forbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

// failingApplier applies effects through the store until the configured
// call fails, recording everything it was asked to do.
type failingApplier struct {
	inner    *memory.Store
	failAt   int
	calls    int
	requests []domain.BalanceEffect
}

func (f *failingApplier) Apply(ctx context.Context, effect domain.BalanceEffect) error {
	f.calls++
	f.requests = append(f.requests, effect)
	if f.calls == f.failAt {
		return errors.New("store unavailable")
	}
	deltas, err := effect.Deltas()
	if err != nil {
		return err
	}
	for _, d := range deltas {
		if _, err := f.inner.AdjustBalance(ctx, d.AccountID, d.Delta); err != nil {
			return err
		}
	}
	return nil
}

func TestMarkStatementPaid_RollsBackAppliedLegsOnFailure(t *testing.T) {
	store := memory.NewStore()
	applier := &failingApplier{inner: store, failAt: 2}
	eng := New(store, applier, Options{MonthsAhead: 3, CacheTTL: time.Minute, LockWait: time.Second}, observability.NewMetrics(), zap.NewNop())
	eng.now = func() time.Time { return date(2026, time.February, 1) }
	t.Cleanup(eng.Close)

	st := seedSettlementFixture(t, store)
	ctx := context.Background()

	splits := []domain.PaymentSplit{
		{AccountID: "acc-1", Amount: dec("150.00")},
		{AccountID: "acc-2", Amount: dec("50.00")},
	}
	if _, err := eng.MarkStatementPaid(ctx, "owner-1", st.ID, splits); err == nil {
		t.Fatal("expected settlement failure")
	}

	// The first leg was applied and then reversed.
	if got := accountBalance(t, store, "acc-1"); got != "500.00" {
		t.Errorf("expected acc-1 rolled back to 500.00, got %s", got)
	}
	if got := accountBalance(t, store, "acc-2"); got != "300.00" {
		t.Errorf("expected acc-2 untouched at 300.00, got %s", got)
	}

	after, err := store.GetStatement(ctx, st.ID)
	if err != nil {
		t.Fatalf("get statement: %v", err)
	}
	if after.IsPaid {
		t.Error("statement must stay unpaid after a failed settlement")
	}
	legs, err := store.ListSettlementLegs(ctx, st.ID)
	if err != nil {
		t.Fatalf("list legs: %v", err)
	}
	if len(legs) != 0 {
		t.Errorf("expected no recorded legs, got %d", len(legs))
	}
}
