/*
Package sqlite provides the SQLite-backed implementation of ledger.TxStore.

PURPOSE:
  Durable persistence for users, accounts, transactions and budgets with
  the relational integrity the engine depends on. The same patterns apply
  to PostgreSQL - only minor SQL dialect differences.

KEY TABLES:
  users:        identity anchors
  accounts:     balance buckets, UNIQUE(user_id, name)
  transactions: the money-movement log
  budgets:      per-user per-category caps, UNIQUE(user_id, category)

MONEY REPRESENTATION:
  Amounts are stored as TEXT holding decimal strings and parsed with
  shopspring/decimal. SQL-level arithmetic on them would fall back to
  floating point, so ApplyBalanceDelta/ApplyBudgetDelta read, add in Go,
  and write back - always inside the unit's transaction and the store
  mutex, so no other unit can interleave.

CONCURRENCY:
  A mutex serializes mutating units (SQLite has a single writer anyway);
  the database transaction provides atomicity and rollback. Reads take a
  shared lock. WAL mode keeps readers unblocked.

MIGRATION:
  Schema is created on New(). For production, a versioned migration tool
  would replace this.

SEE ALSO:
  - ledger/store.go: interface definitions
  - ledger/store/memory.go: in-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/tally/ledger-engine/ledger"
)

// Store implements ledger.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New opens (or creates) the database at dbPath and migrates the schema.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One pooled connection: SQLite has a single writer anyway, and a
	// second connection to a :memory: database would see a different,
	// empty database.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id),
		name TEXT NOT NULL,
		initial_balance TEXT NOT NULL,
		balance TEXT NOT NULL,
		created_at TEXT NOT NULL,
		UNIQUE(user_id, name)
	);

	CREATE INDEX IF NOT EXISTS idx_accounts_user ON accounts(user_id);

	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL REFERENCES accounts(id),
		date TEXT NOT NULL,
		amount TEXT NOT NULL,
		kind TEXT NOT NULL,
		description TEXT NOT NULL,
		category TEXT NOT NULL,
		transfer_group_id TEXT,
		created_at TEXT NOT NULL
	);

	-- Hot path: per-account listing and balance recomputation
	CREATE INDEX IF NOT EXISTS idx_transactions_account_date
		ON transactions(account_id, date);
	CREATE INDEX IF NOT EXISTS idx_transactions_category
		ON transactions(category);
	CREATE INDEX IF NOT EXISTS idx_transactions_transfer_group
		ON transactions(transfer_group_id) WHERE transfer_group_id IS NOT NULL;

	CREATE TABLE IF NOT EXISTS budgets (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id),
		category TEXT NOT NULL,
		limit_amount TEXT NOT NULL,
		used_amount TEXT NOT NULL DEFAULT '0',
		created_at TEXT NOT NULL,
		UNIQUE(user_id, category)
	);

	CREATE INDEX IF NOT EXISTS idx_budgets_user ON budgets(user_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// dbtx abstracts *sql.DB and *sql.Tx so every query helper runs both
// standalone and inside a unit of work.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// =============================================================================
// UNIT OF WORK
// =============================================================================

// WithTx executes fn within one database transaction. The store mutex is
// held for the whole unit, so mutating units never interleave.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// txStore is the view handed to a unit of work. It reuses every query
// helper against the open *sql.Tx and takes no locks (WithTx holds one).
type txStore struct {
	tx *sql.Tx
}

// =============================================================================
// USERS
// =============================================================================

func createUser(ctx context.Context, db dbtx, u ledger.User) error {
	_, err := db.ExecContext(ctx,
		"INSERT INTO users (id, name, created_at) VALUES (?, ?, ?)",
		u.ID, u.Name, now(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

func getUser(ctx context.Context, db dbtx, id ledger.UserID) (*ledger.User, error) {
	var u ledger.User
	err := db.QueryRowContext(ctx,
		"SELECT id, name FROM users WHERE id = ?", id,
	).Scan(&u.ID, &u.Name)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

func listUsers(ctx context.Context, db dbtx) ([]ledger.User, error) {
	rows, err := db.QueryContext(ctx, "SELECT id, name FROM users ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []ledger.User
	for rows.Next() {
		var u ledger.User
		if err := rows.Scan(&u.ID, &u.Name); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func renameUser(ctx context.Context, db dbtx, id ledger.UserID, name string) error {
	res, err := db.ExecContext(ctx, "UPDATE users SET name = ? WHERE id = ?", name, id)
	if err != nil {
		return err
	}
	return requireAffected(res, "user", string(id))
}

func deleteUser(ctx context.Context, db dbtx, id ledger.UserID) error {
	// Cascade order matters with foreign keys: transactions first,
	// then accounts, budgets, and finally the user row.
	statements := []string{
		"DELETE FROM transactions WHERE account_id IN (SELECT id FROM accounts WHERE user_id = ?)",
		"DELETE FROM accounts WHERE user_id = ?",
		"DELETE FROM budgets WHERE user_id = ?",
		"DELETE FROM users WHERE id = ?",
	}
	for _, query := range statements {
		if _, err := db.ExecContext(ctx, query, id); err != nil {
			return fmt.Errorf("failed to cascade user delete: %w", err)
		}
	}
	return nil
}

func (s *Store) CreateUser(ctx context.Context, u ledger.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return createUser(ctx, s.db, u)
}

func (s *Store) GetUser(ctx context.Context, id ledger.UserID) (*ledger.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getUser(ctx, s.db, id)
}

func (s *Store) ListUsers(ctx context.Context) ([]ledger.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listUsers(ctx, s.db)
}

func (s *Store) RenameUser(ctx context.Context, id ledger.UserID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return renameUser(ctx, s.db, id, name)
}

func (s *Store) DeleteUser(ctx context.Context, id ledger.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deleteUser(ctx, s.db, id)
}

func (ts *txStore) CreateUser(ctx context.Context, u ledger.User) error {
	return createUser(ctx, ts.tx, u)
}
func (ts *txStore) GetUser(ctx context.Context, id ledger.UserID) (*ledger.User, error) {
	return getUser(ctx, ts.tx, id)
}
func (ts *txStore) ListUsers(ctx context.Context) ([]ledger.User, error) {
	return listUsers(ctx, ts.tx)
}
func (ts *txStore) RenameUser(ctx context.Context, id ledger.UserID, name string) error {
	return renameUser(ctx, ts.tx, id, name)
}
func (ts *txStore) DeleteUser(ctx context.Context, id ledger.UserID) error {
	return deleteUser(ctx, ts.tx, id)
}

// =============================================================================
// ACCOUNTS
// =============================================================================

func createAccount(ctx context.Context, db dbtx, a ledger.Account) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO accounts (id, user_id, name, initial_balance, balance, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.UserID, a.Name, a.InitialBalance.String(), a.Balance.String(), now(),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return &ledger.ValidationError{Field: "name", Reason: "account name already in use"}
		}
		return fmt.Errorf("failed to insert account: %w", err)
	}
	return nil
}

func scanAccount(row interface{ Scan(...any) error }) (*ledger.Account, error) {
	var (
		a                ledger.Account
		initial, balance string
	)
	err := row.Scan(&a.ID, &a.UserID, &a.Name, &initial, &balance)
	if err != nil {
		return nil, err
	}
	if a.InitialBalance, err = decimal.NewFromString(initial); err != nil {
		return nil, fmt.Errorf("corrupt initial_balance %q: %w", initial, err)
	}
	if a.Balance, err = decimal.NewFromString(balance); err != nil {
		return nil, fmt.Errorf("corrupt balance %q: %w", balance, err)
	}
	return &a, nil
}

func getAccount(ctx context.Context, db dbtx, id ledger.AccountID) (*ledger.Account, error) {
	row := db.QueryRowContext(ctx,
		"SELECT id, user_id, name, initial_balance, balance FROM accounts WHERE id = ?", id)
	a, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return a, nil
}

func listAccounts(ctx context.Context, db dbtx, userID ledger.UserID) ([]ledger.Account, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT id, user_id, name, initial_balance, balance FROM accounts WHERE user_id = ? ORDER BY name",
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []ledger.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *a)
	}
	return accounts, rows.Err()
}

func renameAccount(ctx context.Context, db dbtx, id ledger.AccountID, name string) error {
	res, err := db.ExecContext(ctx, "UPDATE accounts SET name = ? WHERE id = ?", name, id)
	if err != nil {
		if isUniqueConstraintError(err) {
			return &ledger.ValidationError{Field: "name", Reason: "account name already in use"}
		}
		return err
	}
	return requireAffected(res, "account", string(id))
}

func applyBalanceDelta(ctx context.Context, db dbtx, id ledger.AccountID, delta decimal.Decimal) error {
	var stored string
	err := db.QueryRowContext(ctx, "SELECT balance FROM accounts WHERE id = ?", id).Scan(&stored)
	if err == sql.ErrNoRows {
		return &ledger.NotFoundError{Entity: "account", ID: string(id)}
	}
	if err != nil {
		return fmt.Errorf("failed to read balance: %w", err)
	}
	balance, err := decimal.NewFromString(stored)
	if err != nil {
		return fmt.Errorf("corrupt balance %q: %w", stored, err)
	}

	res, err := db.ExecContext(ctx,
		"UPDATE accounts SET balance = ? WHERE id = ?",
		balance.Add(delta).String(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}
	return requireAffected(res, "account", string(id))
}

func deleteAccount(ctx context.Context, db dbtx, id ledger.AccountID) error {
	if _, err := db.ExecContext(ctx, "DELETE FROM transactions WHERE account_id = ?", id); err != nil {
		return fmt.Errorf("failed to cascade account delete: %w", err)
	}
	res, err := db.ExecContext(ctx, "DELETE FROM accounts WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}
	return requireAffected(res, "account", string(id))
}

func (s *Store) CreateAccount(ctx context.Context, a ledger.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return createAccount(ctx, s.db, a)
}

func (s *Store) GetAccount(ctx context.Context, id ledger.AccountID) (*ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getAccount(ctx, s.db, id)
}

func (s *Store) ListAccounts(ctx context.Context, userID ledger.UserID) ([]ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listAccounts(ctx, s.db, userID)
}

func (s *Store) RenameAccount(ctx context.Context, id ledger.AccountID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return renameAccount(ctx, s.db, id, name)
}

func (s *Store) ApplyBalanceDelta(ctx context.Context, id ledger.AccountID, delta decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return applyBalanceDelta(ctx, s.db, id, delta)
}

func (s *Store) DeleteAccount(ctx context.Context, id ledger.AccountID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deleteAccount(ctx, s.db, id)
}

func (ts *txStore) CreateAccount(ctx context.Context, a ledger.Account) error {
	return createAccount(ctx, ts.tx, a)
}
func (ts *txStore) GetAccount(ctx context.Context, id ledger.AccountID) (*ledger.Account, error) {
	return getAccount(ctx, ts.tx, id)
}
func (ts *txStore) ListAccounts(ctx context.Context, userID ledger.UserID) ([]ledger.Account, error) {
	return listAccounts(ctx, ts.tx, userID)
}
func (ts *txStore) RenameAccount(ctx context.Context, id ledger.AccountID, name string) error {
	return renameAccount(ctx, ts.tx, id, name)
}
func (ts *txStore) ApplyBalanceDelta(ctx context.Context, id ledger.AccountID, delta decimal.Decimal) error {
	return applyBalanceDelta(ctx, ts.tx, id, delta)
}
func (ts *txStore) DeleteAccount(ctx context.Context, id ledger.AccountID) error {
	return deleteAccount(ctx, ts.tx, id)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

const transactionColumns = "id, account_id, date, amount, kind, description, category, transfer_group_id"

func insertTransaction(ctx context.Context, db dbtx, tx ledger.Transaction) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO transactions (id, account_id, date, amount, kind, description, category, transfer_group_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.ID, tx.AccountID, tx.Date.String(), tx.Amount.String(),
		tx.Kind, tx.Description, tx.Category, nullString(tx.TransferGroupID), now(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return nil
}

func scanTransaction(row interface{ Scan(...any) error }) (*ledger.Transaction, error) {
	var (
		tx            ledger.Transaction
		dateStr       string
		amountStr     string
		transferGroup sql.NullString
	)
	err := row.Scan(&tx.ID, &tx.AccountID, &dateStr, &amountStr,
		&tx.Kind, &tx.Description, &tx.Category, &transferGroup)
	if err != nil {
		return nil, err
	}
	if tx.Date, err = ledger.ParseDate(dateStr); err != nil {
		return nil, fmt.Errorf("corrupt date %q: %w", dateStr, err)
	}
	if tx.Amount, err = decimal.NewFromString(amountStr); err != nil {
		return nil, fmt.Errorf("corrupt amount %q: %w", amountStr, err)
	}
	tx.TransferGroupID = transferGroup.String
	return &tx, nil
}

func getTransaction(ctx context.Context, db dbtx, id ledger.TransactionID) (*ledger.Transaction, error) {
	row := db.QueryRowContext(ctx,
		"SELECT "+transactionColumns+" FROM transactions WHERE id = ?", id)
	tx, err := scanTransaction(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return tx, nil
}

func listTransactions(ctx context.Context, db dbtx, f ledger.TransactionFilter) ([]ledger.Transaction, error) {
	query := "SELECT " + transactionColumns + " FROM transactions WHERE 1=1"
	var args []any
	if f.AccountID != nil {
		query += " AND account_id = ?"
		args = append(args, *f.AccountID)
	}
	if f.From != nil {
		query += " AND date >= ?"
		args = append(args, f.From.String())
	}
	if f.To != nil {
		query += " AND date <= ?"
		args = append(args, f.To.String())
	}
	if f.Category != nil {
		query += " AND category = ?"
		args = append(args, *f.Category)
	}
	if f.Kind != nil {
		query += " AND kind = ?"
		args = append(args, *f.Kind)
	}
	query += " ORDER BY date ASC, rowid ASC"

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var txs []ledger.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, *tx)
	}
	return txs, rows.Err()
}

func updateTransactionFields(ctx context.Context, db dbtx, tx ledger.Transaction) error {
	res, err := db.ExecContext(ctx,
		"UPDATE transactions SET date = ?, amount = ?, kind = ?, description = ?, category = ? WHERE id = ?",
		tx.Date.String(), tx.Amount.String(), tx.Kind, tx.Description, tx.Category, tx.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update transaction: %w", err)
	}
	return requireAffected(res, "transaction", string(tx.ID))
}

func deleteTransaction(ctx context.Context, db dbtx, id ledger.TransactionID) error {
	res, err := db.ExecContext(ctx, "DELETE FROM transactions WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete transaction: %w", err)
	}
	return requireAffected(res, "transaction", string(id))
}

func (s *Store) InsertTransaction(ctx context.Context, tx ledger.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertTransaction(ctx, s.db, tx)
}

func (s *Store) GetTransaction(ctx context.Context, id ledger.TransactionID) (*ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getTransaction(ctx, s.db, id)
}

func (s *Store) ListTransactions(ctx context.Context, f ledger.TransactionFilter) ([]ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listTransactions(ctx, s.db, f)
}

func (s *Store) UpdateTransactionFields(ctx context.Context, tx ledger.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateTransactionFields(ctx, s.db, tx)
}

func (s *Store) DeleteTransaction(ctx context.Context, id ledger.TransactionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deleteTransaction(ctx, s.db, id)
}

func (ts *txStore) InsertTransaction(ctx context.Context, tx ledger.Transaction) error {
	return insertTransaction(ctx, ts.tx, tx)
}
func (ts *txStore) GetTransaction(ctx context.Context, id ledger.TransactionID) (*ledger.Transaction, error) {
	return getTransaction(ctx, ts.tx, id)
}
func (ts *txStore) ListTransactions(ctx context.Context, f ledger.TransactionFilter) ([]ledger.Transaction, error) {
	return listTransactions(ctx, ts.tx, f)
}
func (ts *txStore) UpdateTransactionFields(ctx context.Context, tx ledger.Transaction) error {
	return updateTransactionFields(ctx, ts.tx, tx)
}
func (ts *txStore) DeleteTransaction(ctx context.Context, id ledger.TransactionID) error {
	return deleteTransaction(ctx, ts.tx, id)
}

// =============================================================================
// BUDGETS
// =============================================================================

const budgetColumns = "id, user_id, category, limit_amount, used_amount"

func createBudget(ctx context.Context, db dbtx, b ledger.Budget) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO budgets (id, user_id, category, limit_amount, used_amount, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		b.ID, b.UserID, b.Category, b.Limit.String(), b.Used.String(), now(),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return &ledger.ValidationError{Field: "category", Reason: "budget already exists"}
		}
		return fmt.Errorf("failed to insert budget: %w", err)
	}
	return nil
}

func scanBudget(row interface{ Scan(...any) error }) (*ledger.Budget, error) {
	var (
		b           ledger.Budget
		limit, used string
	)
	err := row.Scan(&b.ID, &b.UserID, &b.Category, &limit, &used)
	if err != nil {
		return nil, err
	}
	if b.Limit, err = decimal.NewFromString(limit); err != nil {
		return nil, fmt.Errorf("corrupt limit_amount %q: %w", limit, err)
	}
	if b.Used, err = decimal.NewFromString(used); err != nil {
		return nil, fmt.Errorf("corrupt used_amount %q: %w", used, err)
	}
	return &b, nil
}

func getBudget(ctx context.Context, db dbtx, id ledger.BudgetID) (*ledger.Budget, error) {
	row := db.QueryRowContext(ctx,
		"SELECT "+budgetColumns+" FROM budgets WHERE id = ?", id)
	b, err := scanBudget(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get budget: %w", err)
	}
	return b, nil
}

func findBudget(ctx context.Context, db dbtx, userID ledger.UserID, category string) (*ledger.Budget, error) {
	row := db.QueryRowContext(ctx,
		"SELECT "+budgetColumns+" FROM budgets WHERE user_id = ? AND category = ?",
		userID, category)
	b, err := scanBudget(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find budget: %w", err)
	}
	return b, nil
}

func listBudgets(ctx context.Context, db dbtx, userID ledger.UserID) ([]ledger.Budget, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT "+budgetColumns+" FROM budgets WHERE user_id = ? ORDER BY category",
		userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var budgets []ledger.Budget
	for rows.Next() {
		b, err := scanBudget(rows)
		if err != nil {
			return nil, err
		}
		budgets = append(budgets, *b)
	}
	return budgets, rows.Err()
}

func updateBudgetLimit(ctx context.Context, db dbtx, id ledger.BudgetID, limit decimal.Decimal) error {
	res, err := db.ExecContext(ctx,
		"UPDATE budgets SET limit_amount = ? WHERE id = ?", limit.String(), id)
	if err != nil {
		return fmt.Errorf("failed to update budget limit: %w", err)
	}
	return requireAffected(res, "budget", string(id))
}

func applyBudgetDelta(ctx context.Context, db dbtx, id ledger.BudgetID, delta decimal.Decimal) error {
	var stored string
	err := db.QueryRowContext(ctx, "SELECT used_amount FROM budgets WHERE id = ?", id).Scan(&stored)
	if err == sql.ErrNoRows {
		return &ledger.NotFoundError{Entity: "budget", ID: string(id)}
	}
	if err != nil {
		return fmt.Errorf("failed to read budget usage: %w", err)
	}
	used, err := decimal.NewFromString(stored)
	if err != nil {
		return fmt.Errorf("corrupt used_amount %q: %w", stored, err)
	}

	res, err := db.ExecContext(ctx,
		"UPDATE budgets SET used_amount = ? WHERE id = ?",
		used.Add(delta).String(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update budget usage: %w", err)
	}
	return requireAffected(res, "budget", string(id))
}

func deleteBudget(ctx context.Context, db dbtx, id ledger.BudgetID) error {
	res, err := db.ExecContext(ctx, "DELETE FROM budgets WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete budget: %w", err)
	}
	return requireAffected(res, "budget", string(id))
}

func (s *Store) CreateBudget(ctx context.Context, b ledger.Budget) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return createBudget(ctx, s.db, b)
}

func (s *Store) GetBudget(ctx context.Context, id ledger.BudgetID) (*ledger.Budget, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getBudget(ctx, s.db, id)
}

func (s *Store) FindBudget(ctx context.Context, userID ledger.UserID, category string) (*ledger.Budget, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return findBudget(ctx, s.db, userID, category)
}

func (s *Store) ListBudgets(ctx context.Context, userID ledger.UserID) ([]ledger.Budget, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listBudgets(ctx, s.db, userID)
}

func (s *Store) UpdateBudgetLimit(ctx context.Context, id ledger.BudgetID, limit decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateBudgetLimit(ctx, s.db, id, limit)
}

func (s *Store) ApplyBudgetDelta(ctx context.Context, id ledger.BudgetID, delta decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return applyBudgetDelta(ctx, s.db, id, delta)
}

func (s *Store) DeleteBudget(ctx context.Context, id ledger.BudgetID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deleteBudget(ctx, s.db, id)
}

func (ts *txStore) CreateBudget(ctx context.Context, b ledger.Budget) error {
	return createBudget(ctx, ts.tx, b)
}
func (ts *txStore) GetBudget(ctx context.Context, id ledger.BudgetID) (*ledger.Budget, error) {
	return getBudget(ctx, ts.tx, id)
}
func (ts *txStore) FindBudget(ctx context.Context, userID ledger.UserID, category string) (*ledger.Budget, error) {
	return findBudget(ctx, ts.tx, userID, category)
}
func (ts *txStore) ListBudgets(ctx context.Context, userID ledger.UserID) ([]ledger.Budget, error) {
	return listBudgets(ctx, ts.tx, userID)
}
func (ts *txStore) UpdateBudgetLimit(ctx context.Context, id ledger.BudgetID, limit decimal.Decimal) error {
	return updateBudgetLimit(ctx, ts.tx, id, limit)
}
func (ts *txStore) ApplyBudgetDelta(ctx context.Context, id ledger.BudgetID, delta decimal.Decimal) error {
	return applyBudgetDelta(ctx, ts.tx, id, delta)
}
func (ts *txStore) DeleteBudget(ctx context.Context, id ledger.BudgetID) error {
	return deleteBudget(ctx, ts.tx, id)
}

// =============================================================================
// HELPERS
// =============================================================================

func requireAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &ledger.NotFoundError{Entity: entity, ID: id}
	}
	return nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
