/*
budget.go - Budget resolution and lifecycle

PURPOSE:
  Budgets cap spending per (user, category). They never reference accounts
  directly: a transaction finds its budget by joining through the owning
  account's user id plus the transaction's category. A category with no
  budget row simply accrues no tracked usage.

  Usage deltas are applied without clamping - Used legitimately exceeds
  Limit; that state is a warning surfaced to callers, never an error.
*/
package ledger

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// applyBudgetUsage resolves the budget for (userID, category) and adds
// delta to its used amount. Returns the budget's post-delta state, or nil
// when no budget row matches (which is not an error). A zero delta still
// resolves the row so callers can report its state.
func applyBudgetUsage(ctx context.Context, s Store, userID UserID, category string, delta decimal.Decimal) (*Budget, error) {
	budget, err := s.FindBudget(ctx, userID, category)
	if err != nil {
		return nil, err
	}
	if budget == nil {
		return nil, nil
	}
	if !delta.IsZero() {
		if err := s.ApplyBudgetDelta(ctx, budget.ID, delta); err != nil {
			return nil, err
		}
		budget.Used = budget.Used.Add(delta)
	}
	return budget, nil
}

// =============================================================================
// BUDGET MANAGEMENT
// =============================================================================

// SetBudget creates the budget for (user, category) or, when one already
// exists, resets its limit while preserving accrued usage.
func (e *Engine) SetBudget(ctx context.Context, userID UserID, category string, limit decimal.Decimal) (Budget, error) {
	if category == "" {
		return Budget{}, invalidf("category", "cannot be empty")
	}
	if category == TransferCategory {
		return Budget{}, invalidf("category", "%q is reserved", TransferCategory)
	}
	if limit.IsNegative() {
		return Budget{}, invalidf("limit", "cannot be negative")
	}

	var result Budget
	err := e.store.WithTx(ctx, func(s Store) error {
		user, err := s.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		if user == nil {
			return &NotFoundError{Entity: "user", ID: string(userID)}
		}

		existing, err := s.FindBudget(ctx, userID, category)
		if err != nil {
			return err
		}
		if existing != nil {
			if err := s.UpdateBudgetLimit(ctx, existing.ID, limit); err != nil {
				return err
			}
			existing.Limit = limit
			result = *existing
			return nil
		}

		result = Budget{
			ID:       BudgetID(uuid.NewString()),
			UserID:   userID,
			Category: category,
			Limit:    limit,
		}
		// Expenses in this category may predate the budget. Usage always
		// equals the fold over existing expense rows, so seed it from one.
		result.Used, err = RecomputeBudgetUsage(ctx, s, result)
		if err != nil {
			return err
		}
		return s.CreateBudget(ctx, result)
	})
	return result, err
}

// GetBudget returns the budget for (user, category).
func (e *Engine) GetBudget(ctx context.Context, userID UserID, category string) (*Budget, error) {
	b, err := e.store.FindBudget(ctx, userID, category)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, &NotFoundError{Entity: "budget", ID: string(userID) + "/" + category}
	}
	return b, nil
}

// ListBudgets returns all budgets for a user.
func (e *Engine) ListBudgets(ctx context.Context, userID UserID) ([]Budget, error) {
	return e.store.ListBudgets(ctx, userID)
}

// DeleteBudget removes the budget for (user, category). Transactions are
// untouched; the category simply stops being tracked.
func (e *Engine) DeleteBudget(ctx context.Context, userID UserID, category string) error {
	return e.store.WithTx(ctx, func(s Store) error {
		b, err := s.FindBudget(ctx, userID, category)
		if err != nil {
			return err
		}
		if b == nil {
			return &NotFoundError{Entity: "budget", ID: string(userID) + "/" + category}
		}
		return s.DeleteBudget(ctx, b.ID)
	})
}
