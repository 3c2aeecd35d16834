/*
Package ledger provides the core transaction and aggregate consistency engine.

PURPOSE:
  This package owns the hard part of the finance tracker: keeping the
  denormalized aggregates (account balances, budget usage) exactly in sync
  with an append/modify/delete-able log of transactions. A single write
  touches up to three entities - the transaction row, the account balance,
  and a budget's used amount - and every update or delete must compute and
  apply an inverse effect before applying a new one.

KEY CONCEPTS IN THIS FILE (types.go):
  - Kind: Income, Expense or Transfer
  - Date: a calendar date with no time component
  - User / Account / Transaction / Budget: the persisted entities
  - Typed identifiers to keep account and transaction ids from mixing

DESIGN PRINCIPLES:
  1. Precision: decimal.Decimal everywhere, never float64
  2. Explicit handles: the engine receives its store, no ambient globals
  3. Aggregates are folds: Account.Balance and Budget.Used are always equal
     to a pure fold over the existing transactions (see audit.go)

SEE ALSO:
  - effect.go: pure mapping from a transaction to its aggregate deltas
  - engine.go: the four atomic mutating operations
  - store.go:  persistence interface
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type UserID string
type AccountID string
type TransactionID string
type BudgetID string

// =============================================================================
// KIND - What a transaction does to money
// =============================================================================

type Kind string

const (
	KindIncome   Kind = "Income"
	KindExpense  Kind = "Expense"
	KindTransfer Kind = "Transfer"
)

// TransferCategory is the sentinel category stamped on both legs of a
// transfer. Transfer rows never participate in budget tracking.
const TransferCategory = "Transfer"

// Valid reports whether k is one of the three known kinds.
func (k Kind) Valid() bool {
	return k == KindIncome || k == KindExpense || k == KindTransfer
}

// =============================================================================
// DATE - Calendar date, no time component
// =============================================================================

// Date is a calendar date. Transactions carry dates, not timestamps;
// two transactions on the same day have no defined intra-day order.
type Date struct {
	t time.Time
}

const dateLayout = "2006-01-02"

func NewDate(year int, month time.Month, day int) Date {
	return Date{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

func Today() Date {
	now := time.Now().UTC()
	return NewDate(now.Year(), now.Month(), now.Day())
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, err
	}
	return Date{t: t}, nil
}

func (d Date) String() string      { return d.t.Format(dateLayout) }
func (d Date) Time() time.Time     { return d.t }
func (d Date) IsZero() bool        { return d.t.IsZero() }
func (d Date) Before(o Date) bool  { return d.t.Before(o.t) }
func (d Date) After(o Date) bool   { return d.t.After(o.t) }
func (d Date) Equal(o Date) bool   { return d.t.Equal(o.t) }
func (d Date) AddDays(n int) Date  { return Date{t: d.t.AddDate(0, 0, n)} }

// =============================================================================
// ENTITIES
// =============================================================================

// User is the identity anchor. Credentials live with the auth layer,
// not here.
type User struct {
	ID   UserID
	Name string
}

// Account is a named balance bucket owned by exactly one user.
//
// Balance is a maintained aggregate: it always equals InitialBalance plus
// the signed effect of every existing transaction on this account. It may
// go negative through expenses; only the initial balance must be >= 0.
type Account struct {
	ID             AccountID
	UserID         UserID
	Name           string
	InitialBalance decimal.Decimal
	Balance        decimal.Decimal
}

// Transaction is a record of money movement against one account.
//
// For Income and Expense rows the stored amount is a magnitude and Kind
// carries the direction. For Transfer rows the sign of Amount carries the
// direction: the outgoing leg is stored negative, the incoming leg positive.
// The two legs of a transfer share a TransferGroupID.
type Transaction struct {
	ID              TransactionID
	AccountID       AccountID
	Date            Date
	Amount          decimal.Decimal
	Kind            Kind
	Description     string
	Category        string
	TransferGroupID string
}

// Budget is a per-user, per-category spending cap.
//
// Used is a maintained aggregate: the sum of abs(amount) over every existing
// expense transaction whose account belongs to this user and whose category
// matches. Used may exceed Limit; that is a warning, not an error.
type Budget struct {
	ID       BudgetID
	UserID   UserID
	Category string
	Limit    decimal.Decimal
	Used     decimal.Decimal
}

// Exceeded reports whether usage has passed the configured limit.
func (b *Budget) Exceeded() bool {
	return b.Used.GreaterThan(b.Limit)
}

// Remaining returns Limit - Used. Negative when over budget.
func (b *Budget) Remaining() decimal.Decimal {
	return b.Limit.Sub(b.Used)
}
