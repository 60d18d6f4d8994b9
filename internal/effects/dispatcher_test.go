package effects

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mfbaptista/billcycle/internal/domain"
	"github.com/mfbaptista/billcycle/internal/infra/observability"
	"github.com/mfbaptista/billcycle/internal/infra/resilience"
)

type mockBalances struct {
	mu       sync.Mutex
	balances map[string]decimal.Decimal
	calls    int
	failNext int
}

func newMockBalances() *mockBalances {
	return &mockBalances{balances: make(map[string]decimal.Decimal)}
}

func (m *mockBalances) AdjustBalance(_ context.Context, accountID string, delta decimal.Decimal) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if m.failNext > 0 {
		m.failNext--
		return nil, errors.New("store unavailable")
	}
	m.balances[accountID] = m.balances[accountID].Add(delta)
	return &domain.Account{ID: accountID, Balance: m.balances[accountID]}, nil
}

func (m *mockBalances) balance(accountID string) decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[accountID]
}

func newTestDispatcher(balances *mockBalances) *Dispatcher {
	cfg := resilience.Config{MaxRetries: 2, InitialBackoff: time.Millisecond}
	return NewDispatcher(balances, cfg, observability.NewMetrics(), zap.NewNop())
}

func TestDispatcher_AppliesExpenseCreate(t *testing.T) {
	balances := newMockBalances()
	d := newTestDispatcher(balances)

	effect := domain.BalanceEffect{
		TransactionID: "tx-1",
		Op:            domain.OpCreate,
		AccountID:     "acc-1",
		Amount:        decimal.RequireFromString("120.00"),
		Kind:          domain.KindExpense,
	}

	if err := d.Apply(context.Background(), effect); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if got := balances.balance("acc-1"); !got.Equal(decimal.RequireFromString("-120.00")) {
		t.Errorf("expected balance -120.00, got %s", got)
	}
}

func TestDispatcher_SuppressesDuplicateKey(t *testing.T) {
	balances := newMockBalances()
	d := newTestDispatcher(balances)

	effect := domain.BalanceEffect{
		TransactionID: "tx-1",
		Op:            domain.OpCreate,
		AccountID:     "acc-1",
		Amount:        decimal.RequireFromString("50.00"),
		Kind:          domain.KindReceipt,
	}

	for i := 0; i < 3; i++ {
		if err := d.Apply(context.Background(), effect); err != nil {
			t.Fatalf("Apply %d failed: %v", i, err)
		}
	}

	if got := balances.balance("acc-1"); !got.Equal(decimal.RequireFromString("50.00")) {
		t.Errorf("expected balance 50.00 after duplicate dispatches, got %s", got)
	}
	if balances.calls != 1 {
		t.Errorf("expected 1 store call, got %d", balances.calls)
	}
}

func TestDispatcher_InverseKeyAllowsPayUnpayCycles(t *testing.T) {
	balances := newMockBalances()
	d := newTestDispatcher(balances)

	create := domain.BalanceEffect{
		TransactionID: "tx-1",
		Op:            domain.OpCreate,
		AccountID:     "acc-1",
		Amount:        decimal.RequireFromString("30.00"),
		Kind:          domain.KindExpense,
	}
	del := create
	del.Op = domain.OpDelete

	// pay, unpay, pay again: each step must land.
	steps := []domain.BalanceEffect{create, del, create}
	for i, e := range steps {
		if err := d.Apply(context.Background(), e); err != nil {
			t.Fatalf("step %d failed: %v", i, err)
		}
	}

	if got := balances.balance("acc-1"); !got.Equal(decimal.RequireFromString("-30.00")) {
		t.Errorf("expected balance -30.00 after pay/unpay/pay, got %s", got)
	}
	if balances.calls != 3 {
		t.Errorf("expected 3 store calls, got %d", balances.calls)
	}
}

func TestDispatcher_CrossAccountUpdateMovesValue(t *testing.T) {
	balances := newMockBalances()
	balances.balances["acc-old"] = decimal.RequireFromString("-80.00")
	d := newTestDispatcher(balances)

	prior := decimal.RequireFromString("80.00")
	priorAcc := "acc-old"
	effect := domain.BalanceEffect{
		TransactionID:  "tx-1",
		Op:             domain.OpUpdate,
		AccountID:      "acc-new",
		Amount:         decimal.RequireFromString("95.00"),
		Kind:           domain.KindExpense,
		PriorAmount:    &prior,
		PriorAccountID: &priorAcc,
	}

	if err := d.Apply(context.Background(), effect); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if got := balances.balance("acc-old"); !got.IsZero() {
		t.Errorf("expected old account restored to 0, got %s", got)
	}
	if got := balances.balance("acc-new"); !got.Equal(decimal.RequireFromString("-95.00")) {
		t.Errorf("expected new account -95.00, got %s", got)
	}
}

func TestDispatcher_RetriesTransientFailure(t *testing.T) {
	balances := newMockBalances()
	balances.failNext = 1
	d := newTestDispatcher(balances)

	effect := domain.BalanceEffect{
		TransactionID: "tx-1",
		Op:            domain.OpCreate,
		AccountID:     "acc-1",
		Amount:        decimal.RequireFromString("10.00"),
		Kind:          domain.KindReceipt,
	}

	if err := d.Apply(context.Background(), effect); err != nil {
		t.Fatalf("Apply failed despite retries: %v", err)
	}
	if got := balances.balance("acc-1"); !got.Equal(decimal.RequireFromString("10.00")) {
		t.Errorf("expected balance 10.00, got %s", got)
	}
}

func TestDispatcher_FailedEffectNotMarkedApplied(t *testing.T) {
	balances := newMockBalances()
	balances.failNext = 10 // exhaust all retries
	d := newTestDispatcher(balances)

	effect := domain.BalanceEffect{
		TransactionID: "tx-1",
		Op:            domain.OpCreate,
		AccountID:     "acc-1",
		Amount:        decimal.RequireFromString("10.00"),
		Kind:          domain.KindReceipt,
	}

	if err := d.Apply(context.Background(), effect); err == nil {
		t.Fatal("expected error when all retries fail")
	}

	// A later dispatch of the same key must go through.
	balances.failNext = 0
	if err := d.Apply(context.Background(), effect); err != nil {
		t.Fatalf("redispatch failed: %v", err)
	}
	if got := balances.balance("acc-1"); !got.Equal(decimal.RequireFromString("10.00")) {
		t.Errorf("expected balance 10.00 after redispatch, got %s", got)
	}
}

func TestDispatcher_RejectsInvalidEffect(t *testing.T) {
	d := newTestDispatcher(newMockBalances())

	effect := domain.BalanceEffect{
		TransactionID: "tx-1",
		Op:            domain.OpCreate,
		Amount:        decimal.RequireFromString("10.00"),
		Kind:          domain.KindReceipt,
	}

	var invalid *domain.ErrInvalidArgument
	if err := d.Apply(context.Background(), effect); !errors.As(err, &invalid) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}
