/*
store.go - Persistence interface for the ledger engine

PURPOSE:
  Defines the boundary between the engine and the database. The engine is
  handed an explicit TxStore at construction; there is no package-level
  connection and no ambient session state.

KEY INTERFACES:
  Store:   entity reads/writes plus relative aggregate updates
  TxStore: Store + WithTx for atomic units of work

RELATIVE AGGREGATE UPDATES:
  ApplyBalanceDelta and ApplyBudgetDelta are deliberately relative (add
  this delta) rather than absolute overwrites computed by the caller.
  Implementations apply the delta while the unit's lock is held, so two
  concurrent operations on the same account cannot both read a stale
  balance and overwrite each other's delta.

CASCADES:
  DeleteUser and DeleteAccount remove every dependent row in the same
  atomic unit. A user delete that leaves orphaned transactions behind is
  a correctness bug, not an acceptable outcome.

IMPLEMENTATIONS:
  - store/sqlite: production SQLite store
  - ledger/store: in-memory store for tests and dev
*/
package ledger

import (
	"context"

	"github.com/shopspring/decimal"
)

// TransactionFilter narrows ListTransactions. Nil fields match everything.
type TransactionFilter struct {
	AccountID *AccountID
	From      *Date
	To        *Date
	Category  *string
	Kind      *Kind
}

// Store handles persistence for users, accounts, transactions and budgets.
//
// Get* methods return (nil, nil) when the entity is absent; the engine
// turns that into a NotFoundError with context. Write methods against a
// missing row return a NotFoundError directly.
type Store interface {
	// Users
	CreateUser(ctx context.Context, u User) error
	GetUser(ctx context.Context, id UserID) (*User, error)
	ListUsers(ctx context.Context) ([]User, error)
	RenameUser(ctx context.Context, id UserID, name string) error
	// DeleteUser removes the user and cascades to all owned accounts,
	// their transactions, and all owned budgets.
	DeleteUser(ctx context.Context, id UserID) error

	// Accounts
	CreateAccount(ctx context.Context, a Account) error
	GetAccount(ctx context.Context, id AccountID) (*Account, error)
	ListAccounts(ctx context.Context, userID UserID) ([]Account, error)
	RenameAccount(ctx context.Context, id AccountID, name string) error
	// ApplyBalanceDelta adds delta to the account's balance in place.
	ApplyBalanceDelta(ctx context.Context, id AccountID, delta decimal.Decimal) error
	// DeleteAccount removes the account and cascades to its transactions.
	DeleteAccount(ctx context.Context, id AccountID) error

	// Transactions
	InsertTransaction(ctx context.Context, tx Transaction) error
	GetTransaction(ctx context.Context, id TransactionID) (*Transaction, error)
	ListTransactions(ctx context.Context, f TransactionFilter) ([]Transaction, error)
	// UpdateTransactionFields rewrites date, amount, kind, description and
	// category of the row identified by tx.ID. Aggregates are NOT touched;
	// that is the engine's job.
	UpdateTransactionFields(ctx context.Context, tx Transaction) error
	DeleteTransaction(ctx context.Context, id TransactionID) error

	// Budgets
	CreateBudget(ctx context.Context, b Budget) error
	GetBudget(ctx context.Context, id BudgetID) (*Budget, error)
	// FindBudget resolves the budget for (owner, category), nil when the
	// category has no budget row.
	FindBudget(ctx context.Context, userID UserID, category string) (*Budget, error)
	ListBudgets(ctx context.Context, userID UserID) ([]Budget, error)
	UpdateBudgetLimit(ctx context.Context, id BudgetID, limit decimal.Decimal) error
	// ApplyBudgetDelta adds delta to the budget's used amount in place.
	// Never clamps; over-limit usage is representable and meaningful.
	ApplyBudgetDelta(ctx context.Context, id BudgetID, delta decimal.Decimal) error
	DeleteBudget(ctx context.Context, id BudgetID) error
}

// TxStore wraps Store with atomic units of work.
type TxStore interface {
	Store

	// WithTx executes fn within one atomic unit. If fn returns an error
	// every write made through its Store argument is rolled back;
	// otherwise all of them commit together.
	WithTx(ctx context.Context, fn func(Store) error) error
}
