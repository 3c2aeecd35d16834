/*
effect.go - Pure effect calculation

PURPOSE:
  Maps a transaction's (kind, amount) to the signed deltas it applies to
  the owning account's balance and, for expenses, to a budget's used
  amount. This math was historically reimplemented at every call site of
  the tracker and diverged; here it exists exactly once, with no storage
  or validation mixed in, so update/delete reversal is always the exact
  negation of what was originally applied.

CONTRACT:
  Income      balance +amount          budget 0
  Expense     balance -abs(amount)     budget +abs(amount)
  Transfer    balance +amount as stored (sign carries direction), budget 0

  For an update, the net effect is Calculate(new) - Calculate(old),
  computed independently per component. That stays correct even when
  kind, amount and category all change at once.

SEE ALSO:
  - engine.go: applies these deltas inside atomic units
  - audit.go:  folds these deltas to verify stored aggregates
*/
package ledger

import "github.com/shopspring/decimal"

// Effect is the signed delta a transaction applies to the aggregates.
type Effect struct {
	// Balance is added to the owning account's balance.
	Balance decimal.Decimal
	// Budget is added to the matching budget's used amount, if one exists.
	// Non-zero only for expenses.
	Budget decimal.Decimal
}

// Calculate returns the effect of a transaction with the given kind and
// stored amount. Pure; no side effects.
func Calculate(kind Kind, amount decimal.Decimal) Effect {
	switch kind {
	case KindIncome:
		return Effect{Balance: amount}
	case KindExpense:
		// Callers must not rely on the stored sign meaning "already
		// negative"; expenses are normalized to their magnitude.
		return Effect{Balance: amount.Abs().Neg(), Budget: amount.Abs()}
	case KindTransfer:
		// Sign carries direction: outgoing leg negative, incoming positive.
		return Effect{Balance: amount}
	default:
		return Effect{}
	}
}

// Neg returns the inverse effect, used to undo a transaction on update
// or delete.
func (e Effect) Neg() Effect {
	return Effect{Balance: e.Balance.Neg(), Budget: e.Budget.Neg()}
}

// Add returns the component-wise sum of two effects.
func (e Effect) Add(o Effect) Effect {
	return Effect{Balance: e.Balance.Add(o.Balance), Budget: e.Budget.Add(o.Budget)}
}

// NetEffect returns the delta to apply when a transaction changes from
// old to new: Calculate(new) - Calculate(old), per component.
//
// Note the budget components of old and new may target DIFFERENT budget
// rows when the category changes; the engine applies them separately and
// this helper is only valid when old and new categories resolve to the
// same budget.
func NetEffect(oldKind Kind, oldAmount decimal.Decimal, newKind Kind, newAmount decimal.Decimal) Effect {
	return Calculate(newKind, newAmount).Add(Calculate(oldKind, oldAmount).Neg())
}
