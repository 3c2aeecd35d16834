/*
engine.go - Atomic transaction operations

PURPOSE:
  The Engine orchestrates add/update/delete/transfer of transactions as
  atomic units of work. Every operation either commits all of its writes
  (transaction row, account balance, budget usage) or none of them.

THE HARD INVARIANTS:
  - account.Balance == account.InitialBalance
      + sum of signed effects of every existing transaction on it
  - budget.Used == sum of abs(amount) over every existing expense
      transaction of that user in that category

  Both are maintained incrementally here and verifiable independently via
  audit.go. The update path is the historically bug-prone one: the correct
  order is always read old -> compute both deltas -> write new fields ->
  apply both deltas, as one unit. A category change may decrement one
  budget and increment a different one; both land in the same unit.

BUDGET EXCEEDED:
  Usage passing a budget's limit is a non-fatal signal. The write still
  succeeds; the result carries the flag and the budget state so callers
  can warn the user.

SEE ALSO:
  - effect.go: the delta math
  - manage.go: user/account lifecycle (including cascading deletes)
  - budget.go: budget lifecycle and lookup
*/
package ledger

import (
	"context"
	"log"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Engine executes ledger operations against an explicit store handle.
type Engine struct {
	store TxStore
}

// NewEngine creates an engine bound to the given store.
func NewEngine(store TxStore) *Engine {
	return &Engine{store: store}
}

// Store exposes the underlying store for read-only callers (reports, audit).
func (e *Engine) Store() TxStore { return e.store }

// =============================================================================
// ADD
// =============================================================================

// AddTransactionInput carries the caller's intent for a new transaction.
type AddTransactionInput struct {
	AccountID   AccountID
	Date        Date
	Amount      decimal.Decimal
	Kind        Kind
	Description string
	Category    string
}

// AddResult reports the outcome of AddTransaction.
type AddResult struct {
	TransactionID TransactionID
	// BudgetExceeded is set when the write pushed the matching budget's
	// usage past its limit. The operation still succeeded.
	BudgetExceeded bool
	// Budget is the matching budget's state after the write, nil when the
	// category has no budget row.
	Budget *Budget
}

func validateTransactionInput(date Date, amount decimal.Decimal, kind Kind, description, category string) error {
	if description == "" {
		return invalidf("description", "cannot be empty")
	}
	if kind != KindIncome && kind != KindExpense {
		return invalidf("kind", "must be %q or %q", KindIncome, KindExpense)
	}
	if !amount.IsPositive() {
		return invalidf("amount", "must be positive")
	}
	if category == "" {
		return invalidf("category", "cannot be empty")
	}
	if date.IsZero() {
		return invalidf("date", "is required")
	}
	return nil
}

// AddTransaction inserts a transaction and applies its effect to the
// owning account's balance and, for expenses, to the matching budget's
// usage, all in one atomic unit.
//
// Transfer rows are never created here; use Transfer.
func (e *Engine) AddTransaction(ctx context.Context, in AddTransactionInput) (AddResult, error) {
	if err := validateTransactionInput(in.Date, in.Amount, in.Kind, in.Description, in.Category); err != nil {
		return AddResult{}, err
	}

	result := AddResult{TransactionID: TransactionID(uuid.NewString())}
	err := e.store.WithTx(ctx, func(s Store) error {
		acct, err := s.GetAccount(ctx, in.AccountID)
		if err != nil {
			return err
		}
		if acct == nil {
			return &NotFoundError{Entity: "account", ID: string(in.AccountID)}
		}

		tx := Transaction{
			ID:          result.TransactionID,
			AccountID:   in.AccountID,
			Date:        in.Date,
			Amount:      in.Amount,
			Kind:        in.Kind,
			Description: in.Description,
			Category:    in.Category,
		}
		if err := s.InsertTransaction(ctx, tx); err != nil {
			return err
		}

		eff := Calculate(in.Kind, in.Amount)
		if err := s.ApplyBalanceDelta(ctx, acct.ID, eff.Balance); err != nil {
			return err
		}
		if eff.Budget.IsZero() {
			return nil
		}

		budget, err := applyBudgetUsage(ctx, s, acct.UserID, in.Category, eff.Budget)
		if err != nil {
			return err
		}
		if budget != nil {
			result.Budget = budget
			result.BudgetExceeded = budget.Exceeded()
		}
		return nil
	})
	if err != nil {
		return AddResult{}, err
	}

	if result.BudgetExceeded {
		log.Printf("warning: budget exceeded for category %q: used %s of %s",
			result.Budget.Category, result.Budget.Used, result.Budget.Limit)
	}
	return result, nil
}

// =============================================================================
// UPDATE
// =============================================================================

// UpdateTransactionInput is the full replacement field set for an update.
type UpdateTransactionInput struct {
	Date        Date
	Amount      decimal.Decimal
	Kind        Kind
	Description string
	Category    string
}

// UpdateResult reports budget state after an update, mirroring AddResult.
type UpdateResult struct {
	BudgetExceeded bool
	Budget         *Budget
}

// UpdateTransaction rewrites a transaction's fields and corrects every
// aggregate its previous state affected.
//
// When the category changes, the old category's budget is decremented and
// the new category's budget incremented, both inside the same unit. The
// legs of a transfer cannot be updated; delete and re-transfer instead.
func (e *Engine) UpdateTransaction(ctx context.Context, id TransactionID, in UpdateTransactionInput) (UpdateResult, error) {
	if err := validateTransactionInput(in.Date, in.Amount, in.Kind, in.Description, in.Category); err != nil {
		return UpdateResult{}, err
	}

	var result UpdateResult
	err := e.store.WithTx(ctx, func(s Store) error {
		// Read old BEFORE writing anything. Writing fields first loses the
		// state needed to reverse the original effect.
		old, err := s.GetTransaction(ctx, id)
		if err != nil {
			return err
		}
		if old == nil {
			return &NotFoundError{Entity: "transaction", ID: string(id)}
		}
		if old.Kind == KindTransfer {
			return invalidf("kind", "transfer legs cannot be updated")
		}

		acct, err := s.GetAccount(ctx, old.AccountID)
		if err != nil {
			return err
		}
		if acct == nil {
			return &ConsistencyError{Op: "update transaction",
				Detail: "transaction " + string(id) + " references missing account " + string(old.AccountID)}
		}

		oldEff := Calculate(old.Kind, old.Amount)
		newEff := Calculate(in.Kind, in.Amount)

		updated := Transaction{
			ID:          old.ID,
			AccountID:   old.AccountID,
			Date:        in.Date,
			Amount:      in.Amount,
			Kind:        in.Kind,
			Description: in.Description,
			Category:    in.Category,
		}
		if err := s.UpdateTransactionFields(ctx, updated); err != nil {
			return err
		}

		balanceDelta := newEff.Balance.Sub(oldEff.Balance)
		if !balanceDelta.IsZero() {
			if err := s.ApplyBalanceDelta(ctx, acct.ID, balanceDelta); err != nil {
				return err
			}
		}

		if old.Category == in.Category {
			// One budget row at most; apply the net. An edit where neither
			// version is an expense never touches or reports a budget.
			delta := newEff.Budget.Sub(oldEff.Budget)
			if delta.IsZero() && newEff.Budget.IsZero() {
				return nil
			}
			budget, err := applyBudgetUsage(ctx, s, acct.UserID, in.Category, delta)
			if err != nil {
				return err
			}
			if budget != nil && !newEff.Budget.IsZero() {
				result.Budget = budget
				result.BudgetExceeded = budget.Exceeded()
			}
			return nil
		}

		// Category changed: the reversal and the new effect may land on two
		// different budget rows. Only an expense result is reported back.
		if !oldEff.Budget.IsZero() {
			if _, err := applyBudgetUsage(ctx, s, acct.UserID, old.Category, oldEff.Budget.Neg()); err != nil {
				return err
			}
		}
		if newEff.Budget.IsZero() {
			return nil
		}
		budget, err := applyBudgetUsage(ctx, s, acct.UserID, in.Category, newEff.Budget)
		if err != nil {
			return err
		}
		if budget != nil {
			result.Budget = budget
			result.BudgetExceeded = budget.Exceeded()
		}
		return nil
	})
	if err != nil {
		return UpdateResult{}, err
	}

	if result.BudgetExceeded {
		log.Printf("warning: budget exceeded for category %q: used %s of %s",
			result.Budget.Category, result.Budget.Used, result.Budget.Limit)
	}
	return result, nil
}

// =============================================================================
// DELETE
// =============================================================================

// DeleteTransaction reverses exactly the effect the transaction originally
// applied, then removes the row. The row is deleted LAST so a failed read
// or effect application removes nothing.
func (e *Engine) DeleteTransaction(ctx context.Context, id TransactionID) error {
	return e.store.WithTx(ctx, func(s Store) error {
		old, err := s.GetTransaction(ctx, id)
		if err != nil {
			return err
		}
		if old == nil {
			return &NotFoundError{Entity: "transaction", ID: string(id)}
		}

		acct, err := s.GetAccount(ctx, old.AccountID)
		if err != nil {
			return err
		}
		if acct == nil {
			return &ConsistencyError{Op: "delete transaction",
				Detail: "transaction " + string(id) + " references missing account " + string(old.AccountID)}
		}

		inverse := Calculate(old.Kind, old.Amount).Neg()
		if err := s.ApplyBalanceDelta(ctx, acct.ID, inverse.Balance); err != nil {
			return err
		}
		if !inverse.Budget.IsZero() {
			if _, err := applyBudgetUsage(ctx, s, acct.UserID, old.Category, inverse.Budget); err != nil {
				return err
			}
		}

		return s.DeleteTransaction(ctx, id)
	})
}

// =============================================================================
// TRANSFER
// =============================================================================

// TransferInput moves funds between two accounts of any users.
type TransferInput struct {
	FromAccountID AccountID
	ToAccountID   AccountID
	Date          Date
	Amount        decimal.Decimal
	Description   string
}

// TransferResult carries the ids of the two linked legs.
type TransferResult struct {
	FromTransactionID TransactionID
	ToTransactionID   TransactionID
	TransferGroupID   string
}

// Transfer records a fund movement as two linked Transfer rows, one per
// account, with opposite-signed amounts, and adjusts both balances in one
// atomic unit. Transfers never touch budgets.
func (e *Engine) Transfer(ctx context.Context, in TransferInput) (TransferResult, error) {
	if !in.Amount.IsPositive() {
		return TransferResult{}, invalidf("amount", "must be positive")
	}
	if in.Description == "" {
		return TransferResult{}, invalidf("description", "cannot be empty")
	}
	if in.FromAccountID == in.ToAccountID {
		return TransferResult{}, invalidf("to_account_id", "cannot equal from_account_id")
	}
	if in.Date.IsZero() {
		return TransferResult{}, invalidf("date", "is required")
	}

	result := TransferResult{
		FromTransactionID: TransactionID(uuid.NewString()),
		ToTransactionID:   TransactionID(uuid.NewString()),
		TransferGroupID:   uuid.NewString(),
	}
	err := e.store.WithTx(ctx, func(s Store) error {
		for _, id := range []AccountID{in.FromAccountID, in.ToAccountID} {
			acct, err := s.GetAccount(ctx, id)
			if err != nil {
				return err
			}
			if acct == nil {
				return &NotFoundError{Entity: "account", ID: string(id)}
			}
		}

		legs := []Transaction{
			{
				ID:              result.FromTransactionID,
				AccountID:       in.FromAccountID,
				Date:            in.Date,
				Amount:          in.Amount.Neg(),
				Kind:            KindTransfer,
				Description:     in.Description,
				Category:        TransferCategory,
				TransferGroupID: result.TransferGroupID,
			},
			{
				ID:              result.ToTransactionID,
				AccountID:       in.ToAccountID,
				Date:            in.Date,
				Amount:          in.Amount,
				Kind:            KindTransfer,
				Description:     in.Description,
				Category:        TransferCategory,
				TransferGroupID: result.TransferGroupID,
			},
		}
		for _, leg := range legs {
			if err := s.InsertTransaction(ctx, leg); err != nil {
				return err
			}
			if err := s.ApplyBalanceDelta(ctx, leg.AccountID, Calculate(leg.Kind, leg.Amount).Balance); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return TransferResult{}, err
	}
	return result, nil
}

// =============================================================================
// QUERIES
// =============================================================================

// GetTransaction returns a transaction by id.
func (e *Engine) GetTransaction(ctx context.Context, id TransactionID) (*Transaction, error) {
	tx, err := e.store.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	if tx == nil {
		return nil, &NotFoundError{Entity: "transaction", ID: string(id)}
	}
	return tx, nil
}

// ListTransactions returns transactions matching the filter, ordered by
// date then insertion order.
func (e *Engine) ListTransactions(ctx context.Context, f TransactionFilter) ([]Transaction, error) {
	return e.store.ListTransactions(ctx, f)
}
