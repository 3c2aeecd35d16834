/*
manage.go - User and account lifecycle

PURPOSE:
  Creation, rename and cascading deletion of users and accounts. Deletes
  cascade inside one atomic unit: a user delete removes every owned
  account, those accounts' transactions, and every owned budget together.
  Partial cascade is a correctness bug.

  Account balances are never set from the outside after creation; they
  change only through transaction operations, so the balance fold
  invariant stays checkable.
*/
package ledger

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// USERS
// =============================================================================

// AddUser creates a user.
func (e *Engine) AddUser(ctx context.Context, name string) (User, error) {
	if name == "" {
		return User{}, invalidf("name", "cannot be empty")
	}
	u := User{ID: UserID(uuid.NewString()), Name: name}
	if err := e.store.CreateUser(ctx, u); err != nil {
		return User{}, err
	}
	return u, nil
}

// GetUser returns a user by id.
func (e *Engine) GetUser(ctx context.Context, id UserID) (*User, error) {
	u, err := e.store.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, &NotFoundError{Entity: "user", ID: string(id)}
	}
	return u, nil
}

// RenameUser changes a user's name.
func (e *Engine) RenameUser(ctx context.Context, id UserID, name string) error {
	if name == "" {
		return invalidf("name", "cannot be empty")
	}
	return e.store.RenameUser(ctx, id, name)
}

// DeleteUser removes a user and everything reachable from it: accounts,
// their transactions, and budgets, as one atomic unit.
func (e *Engine) DeleteUser(ctx context.Context, id UserID) error {
	return e.store.WithTx(ctx, func(s Store) error {
		u, err := s.GetUser(ctx, id)
		if err != nil {
			return err
		}
		if u == nil {
			return &NotFoundError{Entity: "user", ID: string(id)}
		}
		return s.DeleteUser(ctx, id)
	})
}

// =============================================================================
// ACCOUNTS
// =============================================================================

// AddAccount creates an account with an explicit initial balance. The
// initial balance must be non-negative at creation; the running balance
// may go negative later through expenses.
func (e *Engine) AddAccount(ctx context.Context, userID UserID, name string, initialBalance decimal.Decimal) (Account, error) {
	if name == "" {
		return Account{}, invalidf("name", "cannot be empty")
	}
	if initialBalance.IsNegative() {
		return Account{}, invalidf("initial_balance", "cannot be negative")
	}

	a := Account{
		ID:             AccountID(uuid.NewString()),
		UserID:         userID,
		Name:           name,
		InitialBalance: initialBalance,
		Balance:        initialBalance,
	}
	err := e.store.WithTx(ctx, func(s Store) error {
		u, err := s.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		if u == nil {
			return &NotFoundError{Entity: "user", ID: string(userID)}
		}
		return s.CreateAccount(ctx, a)
	})
	if err != nil {
		return Account{}, err
	}
	return a, nil
}

// GetAccount returns an account by id.
func (e *Engine) GetAccount(ctx context.Context, id AccountID) (*Account, error) {
	a, err := e.store.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, &NotFoundError{Entity: "account", ID: string(id)}
	}
	return a, nil
}

// ListAccounts returns all accounts owned by a user.
func (e *Engine) ListAccounts(ctx context.Context, userID UserID) ([]Account, error) {
	return e.store.ListAccounts(ctx, userID)
}

// RenameAccount changes an account's display name. Balance is not part of
// this operation; balances change only through transactions.
func (e *Engine) RenameAccount(ctx context.Context, id AccountID, name string) error {
	if name == "" {
		return invalidf("name", "cannot be empty")
	}
	return e.store.RenameAccount(ctx, id, name)
}

// DeleteAccount removes an account together with its transactions, as one
// atomic unit. Budget usage accrued by the removed expense rows is rolled
// back too, so budgets keep tracking exactly the transactions that exist.
func (e *Engine) DeleteAccount(ctx context.Context, id AccountID) error {
	return e.store.WithTx(ctx, func(s Store) error {
		a, err := s.GetAccount(ctx, id)
		if err != nil {
			return err
		}
		if a == nil {
			return &NotFoundError{Entity: "account", ID: string(id)}
		}

		txs, err := s.ListTransactions(ctx, TransactionFilter{AccountID: &id})
		if err != nil {
			return err
		}
		usageByCategory := make(map[string]decimal.Decimal)
		for _, tx := range txs {
			if used := Calculate(tx.Kind, tx.Amount).Budget; !used.IsZero() {
				usageByCategory[tx.Category] = usageByCategory[tx.Category].Add(used)
			}
		}
		for category, used := range usageByCategory {
			if _, err := applyBudgetUsage(ctx, s, a.UserID, category, used.Neg()); err != nil {
				return err
			}
		}

		return s.DeleteAccount(ctx, id)
	})
}
