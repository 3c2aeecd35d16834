package ledger_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tally/ledger-engine/ledger"
	"github.com/tally/ledger-engine/ledger/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func newTestEngine() *ledger.Engine {
	return ledger.NewEngine(store.NewMemory())
}

func march(day int) ledger.Date {
	return ledger.NewDate(2025, time.March, day)
}

// seedUserAccount creates a user with one account holding the given
// starting balance.
func seedUserAccount(t *testing.T, e *ledger.Engine, initial string) (ledger.User, ledger.Account) {
	t.Helper()
	ctx := context.Background()

	user, err := e.AddUser(ctx, "Ada")
	require.NoError(t, err)
	account, err := e.AddAccount(ctx, user.ID, "Checking", dec(initial))
	require.NoError(t, err)
	return user, account
}

func expense(accountID ledger.AccountID, amount, category string) ledger.AddTransactionInput {
	return ledger.AddTransactionInput{
		AccountID:   accountID,
		Date:        march(10),
		Amount:      dec(amount),
		Kind:        ledger.KindExpense,
		Description: "test expense",
		Category:    category,
	}
}

func income(accountID ledger.AccountID, amount string) ledger.AddTransactionInput {
	return ledger.AddTransactionInput{
		AccountID:   accountID,
		Date:        march(5),
		Amount:      dec(amount),
		Kind:        ledger.KindIncome,
		Description: "test income",
		Category:    "Salary",
	}
}

func requireBalance(t *testing.T, e *ledger.Engine, id ledger.AccountID, want string) {
	t.Helper()
	acct, err := e.GetAccount(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, acct.Balance.Equal(dec(want)),
		"balance: want %s, got %s", want, acct.Balance)
}

func requireUsed(t *testing.T, e *ledger.Engine, userID ledger.UserID, category, want string) {
	t.Helper()
	b, err := e.GetBudget(context.Background(), userID, category)
	require.NoError(t, err)
	assert.True(t, b.Used.Equal(dec(want)),
		"budget %q used: want %s, got %s", category, want, b.Used)
}

// requireClean asserts that every stored aggregate matches a fold over the
// transaction log.
func requireClean(t *testing.T, e *ledger.Engine, userID ledger.UserID) {
	t.Helper()
	drifts, err := e.Audit(context.Background(), userID)
	require.NoError(t, err)
	assert.Empty(t, drifts, "aggregates drifted from the transaction log")
}

// =============================================================================
// ADD
// =============================================================================

func TestAddTransaction_Expense_UpdatesBalanceAndBudget(t *testing.T) {
	// GIVEN: An account with 1000 and a 200 Groceries budget
	// WHEN: Recording a 150 Groceries expense
	// THEN: Balance drops to 850, budget usage becomes 150, no exceeded flag

	ctx := context.Background()
	e := newTestEngine()
	user, account := seedUserAccount(t, e, "1000")
	_, err := e.SetBudget(ctx, user.ID, "Groceries", dec("200"))
	require.NoError(t, err)

	result, err := e.AddTransaction(ctx, expense(account.ID, "150", "Groceries"))
	require.NoError(t, err)

	assert.False(t, result.BudgetExceeded)
	require.NotNil(t, result.Budget)
	requireBalance(t, e, account.ID, "850")
	requireUsed(t, e, user.ID, "Groceries", "150")
	requireClean(t, e, user.ID)
}

func TestAddTransaction_Income_IgnoresBudget(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine()
	user, account := seedUserAccount(t, e, "100")
	_, err := e.SetBudget(ctx, user.ID, "Salary", dec("50"))
	require.NoError(t, err)

	result, err := e.AddTransaction(ctx, income(account.ID, "500"))
	require.NoError(t, err)

	assert.False(t, result.BudgetExceeded)
	assert.Nil(t, result.Budget, "income must not resolve a budget")
	requireBalance(t, e, account.ID, "600")
	requireUsed(t, e, user.ID, "Salary", "0")
}

func TestAddTransaction_ExceedingBudget_CommitsAndFlags(t *testing.T) {
	// GIVEN: A 100 Dining budget with 80 already used
	// WHEN: Recording another 30 Dining expense
	// THEN: The write commits and the result reports the breach

	ctx := context.Background()
	e := newTestEngine()
	user, account := seedUserAccount(t, e, "1000")
	_, err := e.SetBudget(ctx, user.ID, "Dining", dec("100"))
	require.NoError(t, err)
	_, err = e.AddTransaction(ctx, expense(account.ID, "80", "Dining"))
	require.NoError(t, err)

	result, err := e.AddTransaction(ctx, expense(account.ID, "30", "Dining"))
	require.NoError(t, err, "a breached budget must not fail the write")

	assert.True(t, result.BudgetExceeded)
	require.NotNil(t, result.Budget)
	assert.True(t, result.Budget.Used.Equal(dec("110")))
	requireBalance(t, e, account.ID, "890")
	requireUsed(t, e, user.ID, "Dining", "110")
}

func TestAddTransaction_NoBudgetRow_TracksNothing(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine()
	user, account := seedUserAccount(t, e, "500")

	result, err := e.AddTransaction(ctx, expense(account.ID, "75", "Hobbies"))
	require.NoError(t, err)

	assert.Nil(t, result.Budget)
	assert.False(t, result.BudgetExceeded)
	requireBalance(t, e, account.ID, "425")
	requireClean(t, e, user.ID)
}

func TestAddTransaction_Validation(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine()
	_, account := seedUserAccount(t, e, "100")

	cases := []struct {
		name  string
		input ledger.AddTransactionInput
	}{
		{"zero amount", ledger.AddTransactionInput{
			AccountID: account.ID, Date: march(1), Amount: dec("0"),
			Kind: ledger.KindExpense, Description: "x", Category: "Misc"}},
		{"negative amount", ledger.AddTransactionInput{
			AccountID: account.ID, Date: march(1), Amount: dec("-5"),
			Kind: ledger.KindExpense, Description: "x", Category: "Misc"}},
		{"empty description", ledger.AddTransactionInput{
			AccountID: account.ID, Date: march(1), Amount: dec("5"),
			Kind: ledger.KindExpense, Description: "", Category: "Misc"}},
		{"empty category", ledger.AddTransactionInput{
			AccountID: account.ID, Date: march(1), Amount: dec("5"),
			Kind: ledger.KindExpense, Description: "x", Category: ""}},
		{"transfer kind", ledger.AddTransactionInput{
			AccountID: account.ID, Date: march(1), Amount: dec("5"),
			Kind: ledger.KindTransfer, Description: "x", Category: "Misc"}},
		{"missing date", ledger.AddTransactionInput{
			AccountID: account.ID, Amount: dec("5"),
			Kind: ledger.KindExpense, Description: "x", Category: "Misc"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := e.AddTransaction(ctx, tc.input)
			assert.ErrorIs(t, err, ledger.ErrValidation)
		})
	}

	// Nothing may have committed.
	requireBalance(t, e, account.ID, "100")
}

func TestAddTransaction_UnknownAccount_NotFound(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine()

	_, err := e.AddTransaction(ctx, expense("missing", "10", "Misc"))
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

// =============================================================================
// UPDATE
// =============================================================================

func TestUpdateTransaction_AmountChange_AdjustsByNet(t *testing.T) {
	// GIVEN: A 50 Groceries expense against a 1000 account
	// WHEN: Raising the amount to 80
	// THEN: Balance moves by the net -30 and budget usage by +30

	ctx := context.Background()
	e := newTestEngine()
	user, account := seedUserAccount(t, e, "1000")
	_, err := e.SetBudget(ctx, user.ID, "Groceries", dec("500"))
	require.NoError(t, err)
	added, err := e.AddTransaction(ctx, expense(account.ID, "50", "Groceries"))
	require.NoError(t, err)

	_, err = e.UpdateTransaction(ctx, added.TransactionID, ledger.UpdateTransactionInput{
		Date: march(11), Amount: dec("80"), Kind: ledger.KindExpense,
		Description: "bigger shop", Category: "Groceries",
	})
	require.NoError(t, err)

	requireBalance(t, e, account.ID, "920")
	requireUsed(t, e, user.ID, "Groceries", "80")
	requireClean(t, e, user.ID)
}

func TestUpdateTransaction_CategoryChange_MovesUsageBetweenBudgets(t *testing.T) {
	// GIVEN: A 60 expense categorized Groceries, budgets on both categories
	// WHEN: Recategorizing it as Dining
	// THEN: Groceries usage drops to 0, Dining usage rises to 60, balance unchanged

	ctx := context.Background()
	e := newTestEngine()
	user, account := seedUserAccount(t, e, "1000")
	_, err := e.SetBudget(ctx, user.ID, "Groceries", dec("200"))
	require.NoError(t, err)
	_, err = e.SetBudget(ctx, user.ID, "Dining", dec("200"))
	require.NoError(t, err)
	added, err := e.AddTransaction(ctx, expense(account.ID, "60", "Groceries"))
	require.NoError(t, err)

	result, err := e.UpdateTransaction(ctx, added.TransactionID, ledger.UpdateTransactionInput{
		Date: march(10), Amount: dec("60"), Kind: ledger.KindExpense,
		Description: "was dining out", Category: "Dining",
	})
	require.NoError(t, err)

	require.NotNil(t, result.Budget)
	assert.Equal(t, "Dining", result.Budget.Category)
	requireBalance(t, e, account.ID, "940")
	requireUsed(t, e, user.ID, "Groceries", "0")
	requireUsed(t, e, user.ID, "Dining", "60")
	requireClean(t, e, user.ID)
}

func TestUpdateTransaction_KindFlip_SwingsBalanceBothWays(t *testing.T) {
	// Expense 50 -> Income 50 swings the balance by +100.
	ctx := context.Background()
	e := newTestEngine()
	user, account := seedUserAccount(t, e, "1000")
	_, err := e.SetBudget(ctx, user.ID, "Misc", dec("100"))
	require.NoError(t, err)
	added, err := e.AddTransaction(ctx, expense(account.ID, "50", "Misc"))
	require.NoError(t, err)
	requireBalance(t, e, account.ID, "950")

	_, err = e.UpdateTransaction(ctx, added.TransactionID, ledger.UpdateTransactionInput{
		Date: march(10), Amount: dec("50"), Kind: ledger.KindIncome,
		Description: "was a refund", Category: "Misc",
	})
	require.NoError(t, err)

	requireBalance(t, e, account.ID, "1050")
	requireUsed(t, e, user.ID, "Misc", "0")
	requireClean(t, e, user.ID)
}

func TestUpdateTransaction_IncomeEditInOverspentCategory_NoBudgetFlag(t *testing.T) {
	// GIVEN: A Groceries budget already over its limit, plus an income row
	// recorded in the same category
	ctx := context.Background()
	e := newTestEngine()
	user, account := seedUserAccount(t, e, "1000")
	_, err := e.SetBudget(ctx, user.ID, "Groceries", dec("50"))
	require.NoError(t, err)
	_, err = e.AddTransaction(ctx, expense(account.ID, "80", "Groceries"))
	require.NoError(t, err)
	added, err := e.AddTransaction(ctx, ledger.AddTransactionInput{
		AccountID: account.ID, Date: march(12), Amount: dec("200"),
		Kind: ledger.KindIncome, Description: "refund", Category: "Groceries",
	})
	require.NoError(t, err)

	// WHEN: Editing the income's amount
	result, err := e.UpdateTransaction(ctx, added.TransactionID, ledger.UpdateTransactionInput{
		Date: march(12), Amount: dec("250"), Kind: ledger.KindIncome,
		Description: "refund", Category: "Groceries",
	})
	require.NoError(t, err)

	// THEN: Income never touches a budget, so nothing is reported
	assert.False(t, result.BudgetExceeded)
	assert.Nil(t, result.Budget)
	requireUsed(t, e, user.ID, "Groceries", "80")
	requireBalance(t, e, account.ID, "1170") // 1000 - 80 + 250
	requireClean(t, e, user.ID)
}

func TestUpdateTransaction_EquivalentToDeleteThenAdd(t *testing.T) {
	// The update path must land on exactly the state a delete followed by a
	// re-add would produce.
	ctx := context.Background()

	runUpdate := func() (*ledger.Engine, ledger.UserID, ledger.AccountID) {
		e := newTestEngine()
		user, account := seedUserAccount(t, e, "1000")
		_, err := e.SetBudget(ctx, user.ID, "Groceries", dec("300"))
		require.NoError(t, err)
		_, err = e.SetBudget(ctx, user.ID, "Dining", dec("300"))
		require.NoError(t, err)
		added, err := e.AddTransaction(ctx, expense(account.ID, "120", "Groceries"))
		require.NoError(t, err)
		_, err = e.UpdateTransaction(ctx, added.TransactionID, ledger.UpdateTransactionInput{
			Date: march(12), Amount: dec("45"), Kind: ledger.KindExpense,
			Description: "actually dining", Category: "Dining",
		})
		require.NoError(t, err)
		return e, user.ID, account.ID
	}

	runDeleteAdd := func() (*ledger.Engine, ledger.UserID, ledger.AccountID) {
		e := newTestEngine()
		user, account := seedUserAccount(t, e, "1000")
		_, err := e.SetBudget(ctx, user.ID, "Groceries", dec("300"))
		require.NoError(t, err)
		_, err = e.SetBudget(ctx, user.ID, "Dining", dec("300"))
		require.NoError(t, err)
		added, err := e.AddTransaction(ctx, expense(account.ID, "120", "Groceries"))
		require.NoError(t, err)
		require.NoError(t, e.DeleteTransaction(ctx, added.TransactionID))
		_, err = e.AddTransaction(ctx, ledger.AddTransactionInput{
			AccountID: account.ID, Date: march(12), Amount: dec("45"),
			Kind: ledger.KindExpense, Description: "actually dining", Category: "Dining",
		})
		require.NoError(t, err)
		return e, user.ID, account.ID
	}

	e1, u1, a1 := runUpdate()
	e2, u2, a2 := runDeleteAdd()

	acct1, err := e1.GetAccount(ctx, a1)
	require.NoError(t, err)
	acct2, err := e2.GetAccount(ctx, a2)
	require.NoError(t, err)
	assert.True(t, acct1.Balance.Equal(acct2.Balance),
		"update %s vs delete+add %s", acct1.Balance, acct2.Balance)

	for _, category := range []string{"Groceries", "Dining"} {
		b1, err := e1.GetBudget(ctx, u1, category)
		require.NoError(t, err)
		b2, err := e2.GetBudget(ctx, u2, category)
		require.NoError(t, err)
		assert.True(t, b1.Used.Equal(b2.Used),
			"%s: update %s vs delete+add %s", category, b1.Used, b2.Used)
	}
}

func TestUpdateTransaction_TransferLeg_Rejected(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine()
	user, from := seedUserAccount(t, e, "500")
	to, err := e.AddAccount(ctx, user.ID, "Savings", dec("0"))
	require.NoError(t, err)

	result, err := e.Transfer(ctx, ledger.TransferInput{
		FromAccountID: from.ID, ToAccountID: to.ID,
		Date: march(1), Amount: dec("100"), Description: "stash",
	})
	require.NoError(t, err)

	_, err = e.UpdateTransaction(ctx, result.FromTransactionID, ledger.UpdateTransactionInput{
		Date: march(1), Amount: dec("999"), Kind: ledger.KindExpense,
		Description: "tamper", Category: "Misc",
	})
	assert.ErrorIs(t, err, ledger.ErrValidation)

	// Both legs and balances untouched.
	requireBalance(t, e, from.ID, "400")
	requireBalance(t, e, to.ID, "100")
}

func TestUpdateTransaction_Unknown_NotFound(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine()
	seedUserAccount(t, e, "100")

	_, err := e.UpdateTransaction(ctx, "missing", ledger.UpdateTransactionInput{
		Date: march(1), Amount: dec("5"), Kind: ledger.KindExpense,
		Description: "x", Category: "Misc",
	})
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

// =============================================================================
// DELETE
// =============================================================================

func TestDeleteTransaction_RoundTripRestoresState(t *testing.T) {
	// GIVEN: A snapshot of balances and budget usage
	// WHEN: Adding an expense and deleting it again
	// THEN: All aggregates return exactly to the snapshot

	ctx := context.Background()
	e := newTestEngine()
	user, account := seedUserAccount(t, e, "1000")
	_, err := e.SetBudget(ctx, user.ID, "Groceries", dec("200"))
	require.NoError(t, err)
	_, err = e.AddTransaction(ctx, expense(account.ID, "30", "Groceries"))
	require.NoError(t, err)

	added, err := e.AddTransaction(ctx, expense(account.ID, "55", "Groceries"))
	require.NoError(t, err)
	require.NoError(t, e.DeleteTransaction(ctx, added.TransactionID))

	requireBalance(t, e, account.ID, "970")
	requireUsed(t, e, user.ID, "Groceries", "30")
	requireClean(t, e, user.ID)

	_, err = e.GetTransaction(ctx, added.TransactionID)
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestDeleteTransaction_Income_ReversesBalanceOnly(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine()
	user, account := seedUserAccount(t, e, "100")

	added, err := e.AddTransaction(ctx, income(account.ID, "250"))
	require.NoError(t, err)
	require.NoError(t, e.DeleteTransaction(ctx, added.TransactionID))

	requireBalance(t, e, account.ID, "100")
	requireClean(t, e, user.ID)
}

func TestDeleteTransaction_SingleTransferLeg_ReversesThatLegOnly(t *testing.T) {
	// Deleting one leg reverses only that leg's balance effect; the other
	// leg stays recorded.
	ctx := context.Background()
	e := newTestEngine()
	user, from := seedUserAccount(t, e, "500")
	to, err := e.AddAccount(ctx, user.ID, "Savings", dec("0"))
	require.NoError(t, err)

	result, err := e.Transfer(ctx, ledger.TransferInput{
		FromAccountID: from.ID, ToAccountID: to.ID,
		Date: march(3), Amount: dec("200"), Description: "stash",
	})
	require.NoError(t, err)

	require.NoError(t, e.DeleteTransaction(ctx, result.FromTransactionID))

	requireBalance(t, e, from.ID, "500")
	requireBalance(t, e, to.ID, "200")

	_, err = e.GetTransaction(ctx, result.ToTransactionID)
	assert.NoError(t, err, "the other leg must survive")
	requireClean(t, e, user.ID)
}

func TestDeleteTransaction_Unknown_NotFound(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine()
	seedUserAccount(t, e, "100")

	err := e.DeleteTransaction(ctx, "missing")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

// =============================================================================
// TRANSFER
// =============================================================================

func TestTransfer_MovesMoneyConservingTotal(t *testing.T) {
	// GIVEN: Checking 500 and Savings 100
	// WHEN: Transferring 150 from Checking to Savings
	// THEN: 350/250, two linked legs, overall total unchanged

	ctx := context.Background()
	e := newTestEngine()
	user, from := seedUserAccount(t, e, "500")
	to, err := e.AddAccount(ctx, user.ID, "Savings", dec("100"))
	require.NoError(t, err)

	result, err := e.Transfer(ctx, ledger.TransferInput{
		FromAccountID: from.ID, ToAccountID: to.ID,
		Date: march(8), Amount: dec("150"), Description: "monthly saving",
	})
	require.NoError(t, err)

	requireBalance(t, e, from.ID, "350")
	requireBalance(t, e, to.ID, "250")

	fromLeg, err := e.GetTransaction(ctx, result.FromTransactionID)
	require.NoError(t, err)
	toLeg, err := e.GetTransaction(ctx, result.ToTransactionID)
	require.NoError(t, err)

	assert.Equal(t, ledger.KindTransfer, fromLeg.Kind)
	assert.Equal(t, ledger.KindTransfer, toLeg.Kind)
	assert.Equal(t, ledger.TransferCategory, fromLeg.Category)
	assert.Equal(t, result.TransferGroupID, fromLeg.TransferGroupID)
	assert.Equal(t, result.TransferGroupID, toLeg.TransferGroupID)
	assert.True(t, fromLeg.Amount.Equal(dec("-150")))
	assert.True(t, toLeg.Amount.Equal(dec("150")))

	requireClean(t, e, user.ID)
}

func TestTransfer_NeverTouchesBudgets(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine()
	user, from := seedUserAccount(t, e, "500")
	to, err := e.AddAccount(ctx, user.ID, "Savings", dec("0"))
	require.NoError(t, err)
	_, err = e.SetBudget(ctx, user.ID, "Groceries", dec("100"))
	require.NoError(t, err)

	_, err = e.Transfer(ctx, ledger.TransferInput{
		FromAccountID: from.ID, ToAccountID: to.ID,
		Date: march(8), Amount: dec("400"), Description: "big move",
	})
	require.NoError(t, err)

	requireUsed(t, e, user.ID, "Groceries", "0")
}

func TestTransfer_Validation(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine()
	_, from := seedUserAccount(t, e, "500")

	cases := []struct {
		name  string
		input ledger.TransferInput
	}{
		{"same account", ledger.TransferInput{
			FromAccountID: from.ID, ToAccountID: from.ID,
			Date: march(1), Amount: dec("10"), Description: "loop"}},
		{"non-positive amount", ledger.TransferInput{
			FromAccountID: from.ID, ToAccountID: "other",
			Date: march(1), Amount: dec("0"), Description: "zero"}},
		{"empty description", ledger.TransferInput{
			FromAccountID: from.ID, ToAccountID: "other",
			Date: march(1), Amount: dec("10"), Description: ""}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := e.Transfer(ctx, tc.input)
			assert.ErrorIs(t, err, ledger.ErrValidation)
		})
	}

	_, err := e.Transfer(ctx, ledger.TransferInput{
		FromAccountID: from.ID, ToAccountID: "missing",
		Date: march(1), Amount: dec("10"), Description: "nowhere",
	})
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	requireBalance(t, e, from.ID, "500")
}

// =============================================================================
// ATOMICITY UNDER FORCED FAILURE
// =============================================================================

// failingStore wraps a TxStore and fails one named operation inside units
// of work, exercising mid-unit rollback.
type failingStore struct {
	ledger.TxStore
	failOn string
}

func (f *failingStore) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	return f.TxStore.WithTx(ctx, func(s ledger.Store) error {
		return fn(&failingView{Store: s, failOn: f.failOn})
	})
}

type failingView struct {
	ledger.Store
	failOn string
}

var errInjected = errors.New("injected failure")

func (v *failingView) ApplyBudgetDelta(ctx context.Context, id ledger.BudgetID, delta decimal.Decimal) error {
	if v.failOn == "ApplyBudgetDelta" {
		return errInjected
	}
	return v.Store.ApplyBudgetDelta(ctx, id, delta)
}

func (v *failingView) ApplyBalanceDelta(ctx context.Context, id ledger.AccountID, delta decimal.Decimal) error {
	if v.failOn == "ApplyBalanceDelta" {
		return errInjected
	}
	return v.Store.ApplyBalanceDelta(ctx, id, delta)
}

func TestAddTransaction_FailureAfterBalanceWrite_RollsBackEverything(t *testing.T) {
	// GIVEN: A store that fails the budget write, after the transaction row
	//        and the balance delta have already been applied
	// WHEN: Adding an expense in a budgeted category
	// THEN: No partial state survives: no row, untouched balance and budget

	ctx := context.Background()
	mem := store.NewMemory()
	e := ledger.NewEngine(mem)
	user, account := seedUserAccount(t, e, "1000")
	_, err := e.SetBudget(ctx, user.ID, "Groceries", dec("200"))
	require.NoError(t, err)

	broken := ledger.NewEngine(&failingStore{TxStore: mem, failOn: "ApplyBudgetDelta"})
	_, err = broken.AddTransaction(ctx, expense(account.ID, "150", "Groceries"))
	require.ErrorIs(t, err, errInjected)

	requireBalance(t, e, account.ID, "1000")
	requireUsed(t, e, user.ID, "Groceries", "0")
	txs, err := e.ListTransactions(ctx, ledger.TransactionFilter{AccountID: &account.ID})
	require.NoError(t, err)
	assert.Empty(t, txs, "the inserted row must be rolled back")
}

func TestTransfer_FailureOnSecondLeg_RollsBackFirstLeg(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	e := ledger.NewEngine(mem)
	user, from := seedUserAccount(t, e, "500")
	to, err := e.AddAccount(ctx, user.ID, "Savings", dec("0"))
	require.NoError(t, err)

	broken := ledger.NewEngine(&failingStore{TxStore: mem, failOn: "ApplyBalanceDelta"})
	_, err = broken.Transfer(ctx, ledger.TransferInput{
		FromAccountID: from.ID, ToAccountID: to.ID,
		Date: march(1), Amount: dec("100"), Description: "stash",
	})
	require.ErrorIs(t, err, errInjected)

	requireBalance(t, e, from.ID, "500")
	requireBalance(t, e, to.ID, "0")
	txs, err := e.ListTransactions(ctx, ledger.TransactionFilter{})
	require.NoError(t, err)
	assert.Empty(t, txs)
	requireClean(t, e, user.ID)
}

// =============================================================================
// AGGREGATES STAY EXACT OVER MIXED HISTORIES
// =============================================================================

func TestMixedOperationSequence_AggregatesMatchFold(t *testing.T) {
	// A longer arbitrary sequence of adds, updates, deletes and transfers
	// after which every stored aggregate must still equal its fold.
	ctx := context.Background()
	e := newTestEngine()
	user, checking := seedUserAccount(t, e, "2500")
	savings, err := e.AddAccount(ctx, user.ID, "Savings", dec("300"))
	require.NoError(t, err)
	_, err = e.SetBudget(ctx, user.ID, "Groceries", dec("400"))
	require.NoError(t, err)
	_, err = e.SetBudget(ctx, user.ID, "Dining", dec("150"))
	require.NoError(t, err)

	_, err = e.AddTransaction(ctx, income(checking.ID, "1200"))
	require.NoError(t, err)
	groceries, err := e.AddTransaction(ctx, expense(checking.ID, "230.40", "Groceries"))
	require.NoError(t, err)
	dining, err := e.AddTransaction(ctx, expense(checking.ID, "48.75", "Dining"))
	require.NoError(t, err)
	_, err = e.Transfer(ctx, ledger.TransferInput{
		FromAccountID: checking.ID, ToAccountID: savings.ID,
		Date: march(15), Amount: dec("500"), Description: "monthly saving",
	})
	require.NoError(t, err)
	_, err = e.UpdateTransaction(ctx, groceries.TransactionID, ledger.UpdateTransactionInput{
		Date: march(10), Amount: dec("210.40"), Kind: ledger.KindExpense,
		Description: "returned an item", Category: "Groceries",
	})
	require.NoError(t, err)
	require.NoError(t, e.DeleteTransaction(ctx, dining.TransactionID))

	// 2500 + 1200 - 210.40 - 500
	requireBalance(t, e, checking.ID, "2989.60")
	requireBalance(t, e, savings.ID, "800")
	requireUsed(t, e, user.ID, "Groceries", "210.40")
	requireUsed(t, e, user.ID, "Dining", "0")
	requireClean(t, e, user.ID)
}

// =============================================================================
// CONCURRENCY
// =============================================================================

func TestAddTransaction_ConcurrentAddsKeepAggregatesExact(t *testing.T) {
	// GIVEN: One account and one budget hit by many parallel adds
	// THEN: No add may read a stale balance and overwrite another's delta;
	//       the stored aggregates equal the fold over the log
	ctx := context.Background()
	e := newTestEngine()
	user, account := seedUserAccount(t, e, "1000")
	_, err := e.SetBudget(ctx, user.ID, "Groceries", dec("10000"))
	require.NoError(t, err)

	const workers = 25
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.AddTransaction(ctx, expense(account.ID, "7", "Groceries"))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	requireBalance(t, e, account.ID, "825") // 1000 - 25*7
	requireUsed(t, e, user.ID, "Groceries", "175")
	requireClean(t, e, user.ID)
}
