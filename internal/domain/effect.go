package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ============================================================
// Balance effects
// ============================================================

// BalanceOp is the transaction mutation a balance effect derives from.
type BalanceOp string

const (
	OpCreate BalanceOp = "create"
	OpUpdate BalanceOp = "update"
	OpDelete BalanceOp = "delete"
)

// BalanceEffect describes the effect of one transaction mutation on
// account running balances. TransactionID + Op form the idempotency key.
// The effect is unconditional: callers gate it on Transaction.BalanceEligible.
type BalanceEffect struct {
	TransactionID  string           `json:"transaction_id"`
	Op             BalanceOp        `json:"op"`
	AccountID      string           `json:"account_id"`
	Amount         decimal.Decimal  `json:"amount"`
	Kind           TransactionKind  `json:"kind"`
	PriorAmount    *decimal.Decimal `json:"prior_amount,omitempty"`
	PriorAccountID *string          `json:"prior_account_id,omitempty"`
}

// Key is the idempotency key for duplicate suppression.
func (e BalanceEffect) Key() string {
	return e.TransactionID + ":" + string(e.Op)
}

// InverseKey is the key of the opposite mutation. Applying a delete
// clears the matching create so the pair can repeat (pay, unpay, pay).
func (e BalanceEffect) InverseKey() string {
	switch e.Op {
	case OpCreate:
		return e.TransactionID + ":" + string(OpDelete)
	case OpDelete:
		return e.TransactionID + ":" + string(OpCreate)
	}
	return ""
}

// AccountDelta is one signed balance mutation on one account.
type AccountDelta struct {
	AccountID string
	Delta     decimal.Decimal
}

// Deltas expands the effect into the ordered balance mutations to apply.
// Sign convention: receipts add, expenses subtract. A cross-account
// update becomes a delete on the prior account followed by a create on
// the new one; the two mutations are sequential, not atomic.
func (e BalanceEffect) Deltas() ([]AccountDelta, error) {
	if e.AccountID == "" {
		return nil, &ErrInvalidArgument{Field: "account_id", Message: "required"}
	}
	if !e.Amount.IsPositive() {
		return nil, &ErrInvalidArgument{Field: "amount", Message: "must be positive"}
	}

	sign := decimal.NewFromInt(1)
	if e.Kind == KindExpense {
		sign = decimal.NewFromInt(-1)
	}

	switch e.Op {
	case OpCreate:
		return []AccountDelta{{AccountID: e.AccountID, Delta: e.Amount.Mul(sign)}}, nil

	case OpDelete:
		return []AccountDelta{{AccountID: e.AccountID, Delta: e.Amount.Mul(sign).Neg()}}, nil

	case OpUpdate:
		if e.PriorAmount == nil {
			return nil, &ErrInvalidArgument{Field: "prior_amount", Message: "required for update"}
		}
		if e.PriorAccountID != nil && *e.PriorAccountID != e.AccountID {
			// Account changed: undo on the old account, redo on the new.
			return []AccountDelta{
				{AccountID: *e.PriorAccountID, Delta: e.PriorAmount.Mul(sign).Neg()},
				{AccountID: e.AccountID, Delta: e.Amount.Mul(sign)},
			}, nil
		}
		return []AccountDelta{
			{AccountID: e.AccountID, Delta: e.Amount.Sub(*e.PriorAmount).Mul(sign)},
		}, nil
	}

	return nil, &ErrInvalidArgument{Field: "op", Message: fmt.Sprintf("unknown operation '%s'", e.Op)}
}
