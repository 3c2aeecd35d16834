/*
audit.go - Drift detection for the maintained aggregates

PURPOSE:
  Account.Balance and Budget.Used are materialized views over the
  transaction log, maintained incrementally inside the same atomic unit
  as each log write. This file is the independent check: it recomputes
  both aggregates from scratch as a pure fold over the existing
  transactions and reports every row whose stored value diverges.

  The fold is the formal definition of the aggregates:
    balance = initial_balance + sum of signed effects
    used    = sum of abs(amount) over matching expense rows

  Used by tests to verify the engine and exposed for offline auditing.
  Not on any hot path.
*/
package ledger

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// Drift is one aggregate whose stored value diverged from its fold.
type Drift struct {
	Entity   string // "account" or "budget"
	ID       string
	Stored   decimal.Decimal
	Computed decimal.Decimal
}

func (d Drift) String() string {
	return fmt.Sprintf("%s %s: stored %s, computed %s", d.Entity, d.ID, d.Stored, d.Computed)
}

// RecomputeAccountBalance folds every existing transaction of the account
// over its initial balance.
func RecomputeAccountBalance(ctx context.Context, s Store, id AccountID) (decimal.Decimal, error) {
	acct, err := s.GetAccount(ctx, id)
	if err != nil {
		return decimal.Zero, err
	}
	if acct == nil {
		return decimal.Zero, &NotFoundError{Entity: "account", ID: string(id)}
	}

	txs, err := s.ListTransactions(ctx, TransactionFilter{AccountID: &id})
	if err != nil {
		return decimal.Zero, err
	}
	balance := acct.InitialBalance
	for _, tx := range txs {
		balance = balance.Add(Calculate(tx.Kind, tx.Amount).Balance)
	}
	return balance, nil
}

// RecomputeBudgetUsage folds abs(amount) over every existing expense
// transaction whose account belongs to the budget's user and whose
// category matches.
func RecomputeBudgetUsage(ctx context.Context, s Store, b Budget) (decimal.Decimal, error) {
	accounts, err := s.ListAccounts(ctx, b.UserID)
	if err != nil {
		return decimal.Zero, err
	}

	used := decimal.Zero
	kind := KindExpense
	for i := range accounts {
		txs, err := s.ListTransactions(ctx, TransactionFilter{
			AccountID: &accounts[i].ID,
			Category:  &b.Category,
			Kind:      &kind,
		})
		if err != nil {
			return decimal.Zero, err
		}
		for _, tx := range txs {
			used = used.Add(Calculate(tx.Kind, tx.Amount).Budget)
		}
	}
	return used, nil
}

// Audit recomputes every aggregate for a user and returns the rows that
// drifted. An empty result means the stored state is exactly the fold.
func (e *Engine) Audit(ctx context.Context, userID UserID) ([]Drift, error) {
	var drifts []Drift

	accounts, err := e.store.ListAccounts(ctx, userID)
	if err != nil {
		return nil, err
	}
	for i := range accounts {
		computed, err := RecomputeAccountBalance(ctx, e.store, accounts[i].ID)
		if err != nil {
			return nil, err
		}
		if !computed.Equal(accounts[i].Balance) {
			drifts = append(drifts, Drift{
				Entity:   "account",
				ID:       string(accounts[i].ID),
				Stored:   accounts[i].Balance,
				Computed: computed,
			})
		}
	}

	budgets, err := e.store.ListBudgets(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, b := range budgets {
		computed, err := RecomputeBudgetUsage(ctx, e.store, b)
		if err != nil {
			return nil, err
		}
		if !computed.Equal(b.Used) {
			drifts = append(drifts, Drift{
				Entity:   "budget",
				ID:       string(b.ID),
				Stored:   b.Used,
				Computed: computed,
			})
		}
	}

	return drifts, nil
}

// Repair overwrites each drifted aggregate with its recomputed value,
// one atomic unit per user. Returns the drifts that were fixed.
func (e *Engine) Repair(ctx context.Context, userID UserID) ([]Drift, error) {
	var fixed []Drift
	err := e.store.WithTx(ctx, func(s Store) error {
		accounts, err := s.ListAccounts(ctx, userID)
		if err != nil {
			return err
		}
		for i := range accounts {
			computed, err := RecomputeAccountBalance(ctx, s, accounts[i].ID)
			if err != nil {
				return err
			}
			if diff := computed.Sub(accounts[i].Balance); !diff.IsZero() {
				if err := s.ApplyBalanceDelta(ctx, accounts[i].ID, diff); err != nil {
					return err
				}
				fixed = append(fixed, Drift{
					Entity: "account", ID: string(accounts[i].ID),
					Stored: accounts[i].Balance, Computed: computed,
				})
			}
		}

		budgets, err := s.ListBudgets(ctx, userID)
		if err != nil {
			return err
		}
		for _, b := range budgets {
			computed, err := RecomputeBudgetUsage(ctx, s, b)
			if err != nil {
				return err
			}
			if diff := computed.Sub(b.Used); !diff.IsZero() {
				if err := s.ApplyBudgetDelta(ctx, b.ID, diff); err != nil {
					return err
				}
				fixed = append(fixed, Drift{
					Entity: "budget", ID: string(b.ID),
					Stored: b.Used, Computed: computed,
				})
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return fixed, nil
}
