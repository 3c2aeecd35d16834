// Package store provides an in-memory ledger.TxStore for tests and dev.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/tally/ledger-engine/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory keeps all entities in maps. WithTx is simulated with a full
// snapshot and rollback on error, which is exactly the atomicity contract
// the engine needs and fast enough at test scale.
//
// Locking: mu guards every access. Public methods take it per call; WithTx
// holds the write lock for the unit's whole duration, so no read or write
// can interleave with an open unit and a rollback can never erase a write
// that landed outside the unit.
type Memory struct {
	mu           sync.RWMutex
	users        map[ledger.UserID]ledger.User
	accounts     map[ledger.AccountID]ledger.Account
	transactions map[ledger.TransactionID]ledger.Transaction
	budgets      map[ledger.BudgetID]ledger.Budget
	seq          map[ledger.TransactionID]int // insertion order, for stable listing
	nextSeq      int
}

func NewMemory() *Memory {
	return &Memory{
		users:        make(map[ledger.UserID]ledger.User),
		accounts:     make(map[ledger.AccountID]ledger.Account),
		transactions: make(map[ledger.TransactionID]ledger.Transaction),
		budgets:      make(map[ledger.BudgetID]ledger.Budget),
		seq:          make(map[ledger.TransactionID]int),
	}
}

// =============================================================================
// USERS
// =============================================================================

func (m *Memory) CreateUser(ctx context.Context, u ledger.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createUserLocked(u)
}

func (m *Memory) createUserLocked(u ledger.User) error {
	m.users[u.ID] = u
	return nil
}

func (m *Memory) GetUser(ctx context.Context, id ledger.UserID) (*ledger.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getUserLocked(id)
}

func (m *Memory) getUserLocked(id ledger.UserID) (*ledger.User, error) {
	if u, ok := m.users[id]; ok {
		return &u, nil
	}
	return nil, nil
}

func (m *Memory) ListUsers(ctx context.Context) ([]ledger.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listUsersLocked()
}

func (m *Memory) listUsersLocked() ([]ledger.User, error) {
	users := make([]ledger.User, 0, len(m.users))
	for _, u := range m.users {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Name < users[j].Name })
	return users, nil
}

func (m *Memory) RenameUser(ctx context.Context, id ledger.UserID, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.renameUserLocked(id, name)
}

func (m *Memory) renameUserLocked(id ledger.UserID, name string) error {
	u, ok := m.users[id]
	if !ok {
		return &ledger.NotFoundError{Entity: "user", ID: string(id)}
	}
	u.Name = name
	m.users[id] = u
	return nil
}

func (m *Memory) DeleteUser(ctx context.Context, id ledger.UserID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteUserLocked(id)
}

func (m *Memory) deleteUserLocked(id ledger.UserID) error {
	if _, ok := m.users[id]; !ok {
		return &ledger.NotFoundError{Entity: "user", ID: string(id)}
	}
	delete(m.users, id)
	for aid, a := range m.accounts {
		if a.UserID != id {
			continue
		}
		m.deleteAccountCascadeLocked(aid)
	}
	for bid, b := range m.budgets {
		if b.UserID == id {
			delete(m.budgets, bid)
		}
	}
	return nil
}

// =============================================================================
// ACCOUNTS
// =============================================================================

func (m *Memory) CreateAccount(ctx context.Context, a ledger.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createAccountLocked(a)
}

func (m *Memory) createAccountLocked(a ledger.Account) error {
	for _, existing := range m.accounts {
		if existing.UserID == a.UserID && existing.Name == a.Name {
			return &ledger.ValidationError{Field: "name", Reason: "account name already in use"}
		}
	}
	m.accounts[a.ID] = a
	return nil
}

func (m *Memory) GetAccount(ctx context.Context, id ledger.AccountID) (*ledger.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getAccountLocked(id)
}

func (m *Memory) getAccountLocked(id ledger.AccountID) (*ledger.Account, error) {
	if a, ok := m.accounts[id]; ok {
		return &a, nil
	}
	return nil, nil
}

func (m *Memory) ListAccounts(ctx context.Context, userID ledger.UserID) ([]ledger.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listAccountsLocked(userID)
}

func (m *Memory) listAccountsLocked(userID ledger.UserID) ([]ledger.Account, error) {
	var accounts []ledger.Account
	for _, a := range m.accounts {
		if a.UserID == userID {
			accounts = append(accounts, a)
		}
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].Name < accounts[j].Name })
	return accounts, nil
}

func (m *Memory) RenameAccount(ctx context.Context, id ledger.AccountID, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.renameAccountLocked(id, name)
}

func (m *Memory) renameAccountLocked(id ledger.AccountID, name string) error {
	a, ok := m.accounts[id]
	if !ok {
		return &ledger.NotFoundError{Entity: "account", ID: string(id)}
	}
	for _, existing := range m.accounts {
		if existing.ID != id && existing.UserID == a.UserID && existing.Name == name {
			return &ledger.ValidationError{Field: "name", Reason: "account name already in use"}
		}
	}
	a.Name = name
	m.accounts[id] = a
	return nil
}

func (m *Memory) ApplyBalanceDelta(ctx context.Context, id ledger.AccountID, delta decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.applyBalanceDeltaLocked(id, delta)
}

func (m *Memory) applyBalanceDeltaLocked(id ledger.AccountID, delta decimal.Decimal) error {
	a, ok := m.accounts[id]
	if !ok {
		return &ledger.NotFoundError{Entity: "account", ID: string(id)}
	}
	a.Balance = a.Balance.Add(delta)
	m.accounts[id] = a
	return nil
}

func (m *Memory) DeleteAccount(ctx context.Context, id ledger.AccountID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteAccountLocked(id)
}

func (m *Memory) deleteAccountLocked(id ledger.AccountID) error {
	if _, ok := m.accounts[id]; !ok {
		return &ledger.NotFoundError{Entity: "account", ID: string(id)}
	}
	m.deleteAccountCascadeLocked(id)
	return nil
}

func (m *Memory) deleteAccountCascadeLocked(id ledger.AccountID) {
	delete(m.accounts, id)
	for tid, tx := range m.transactions {
		if tx.AccountID == id {
			delete(m.transactions, tid)
			delete(m.seq, tid)
		}
	}
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func (m *Memory) InsertTransaction(ctx context.Context, tx ledger.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertTransactionLocked(tx)
}

func (m *Memory) insertTransactionLocked(tx ledger.Transaction) error {
	m.transactions[tx.ID] = tx
	m.seq[tx.ID] = m.nextSeq
	m.nextSeq++
	return nil
}

func (m *Memory) GetTransaction(ctx context.Context, id ledger.TransactionID) (*ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getTransactionLocked(id)
}

func (m *Memory) getTransactionLocked(id ledger.TransactionID) (*ledger.Transaction, error) {
	if tx, ok := m.transactions[id]; ok {
		return &tx, nil
	}
	return nil, nil
}

func (m *Memory) ListTransactions(ctx context.Context, f ledger.TransactionFilter) ([]ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listTransactionsLocked(f)
}

func (m *Memory) listTransactionsLocked(f ledger.TransactionFilter) ([]ledger.Transaction, error) {
	var txs []ledger.Transaction
	for _, tx := range m.transactions {
		if f.AccountID != nil && tx.AccountID != *f.AccountID {
			continue
		}
		if f.From != nil && tx.Date.Before(*f.From) {
			continue
		}
		if f.To != nil && tx.Date.After(*f.To) {
			continue
		}
		if f.Category != nil && tx.Category != *f.Category {
			continue
		}
		if f.Kind != nil && tx.Kind != *f.Kind {
			continue
		}
		txs = append(txs, tx)
	}
	sort.Slice(txs, func(i, j int) bool {
		if !txs[i].Date.Equal(txs[j].Date) {
			return txs[i].Date.Before(txs[j].Date)
		}
		return m.seq[txs[i].ID] < m.seq[txs[j].ID]
	})
	return txs, nil
}

func (m *Memory) UpdateTransactionFields(ctx context.Context, tx ledger.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateTransactionFieldsLocked(tx)
}

func (m *Memory) updateTransactionFieldsLocked(tx ledger.Transaction) error {
	old, ok := m.transactions[tx.ID]
	if !ok {
		return &ledger.NotFoundError{Entity: "transaction", ID: string(tx.ID)}
	}
	old.Date = tx.Date
	old.Amount = tx.Amount
	old.Kind = tx.Kind
	old.Description = tx.Description
	old.Category = tx.Category
	m.transactions[tx.ID] = old
	return nil
}

func (m *Memory) DeleteTransaction(ctx context.Context, id ledger.TransactionID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteTransactionLocked(id)
}

func (m *Memory) deleteTransactionLocked(id ledger.TransactionID) error {
	if _, ok := m.transactions[id]; !ok {
		return &ledger.NotFoundError{Entity: "transaction", ID: string(id)}
	}
	delete(m.transactions, id)
	delete(m.seq, id)
	return nil
}

// =============================================================================
// BUDGETS
// =============================================================================

func (m *Memory) CreateBudget(ctx context.Context, b ledger.Budget) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createBudgetLocked(b)
}

func (m *Memory) createBudgetLocked(b ledger.Budget) error {
	for _, existing := range m.budgets {
		if existing.UserID == b.UserID && existing.Category == b.Category {
			return &ledger.ValidationError{Field: "category", Reason: "budget already exists"}
		}
	}
	m.budgets[b.ID] = b
	return nil
}

func (m *Memory) GetBudget(ctx context.Context, id ledger.BudgetID) (*ledger.Budget, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getBudgetLocked(id)
}

func (m *Memory) getBudgetLocked(id ledger.BudgetID) (*ledger.Budget, error) {
	if b, ok := m.budgets[id]; ok {
		return &b, nil
	}
	return nil, nil
}

func (m *Memory) FindBudget(ctx context.Context, userID ledger.UserID, category string) (*ledger.Budget, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.findBudgetLocked(userID, category)
}

func (m *Memory) findBudgetLocked(userID ledger.UserID, category string) (*ledger.Budget, error) {
	for _, b := range m.budgets {
		if b.UserID == userID && b.Category == category {
			return &b, nil
		}
	}
	return nil, nil
}

func (m *Memory) ListBudgets(ctx context.Context, userID ledger.UserID) ([]ledger.Budget, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listBudgetsLocked(userID)
}

func (m *Memory) listBudgetsLocked(userID ledger.UserID) ([]ledger.Budget, error) {
	var budgets []ledger.Budget
	for _, b := range m.budgets {
		if b.UserID == userID {
			budgets = append(budgets, b)
		}
	}
	sort.Slice(budgets, func(i, j int) bool { return budgets[i].Category < budgets[j].Category })
	return budgets, nil
}

func (m *Memory) UpdateBudgetLimit(ctx context.Context, id ledger.BudgetID, limit decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateBudgetLimitLocked(id, limit)
}

func (m *Memory) updateBudgetLimitLocked(id ledger.BudgetID, limit decimal.Decimal) error {
	b, ok := m.budgets[id]
	if !ok {
		return &ledger.NotFoundError{Entity: "budget", ID: string(id)}
	}
	b.Limit = limit
	m.budgets[id] = b
	return nil
}

func (m *Memory) ApplyBudgetDelta(ctx context.Context, id ledger.BudgetID, delta decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.applyBudgetDeltaLocked(id, delta)
}

func (m *Memory) applyBudgetDeltaLocked(id ledger.BudgetID, delta decimal.Decimal) error {
	b, ok := m.budgets[id]
	if !ok {
		return &ledger.NotFoundError{Entity: "budget", ID: string(id)}
	}
	b.Used = b.Used.Add(delta)
	m.budgets[id] = b
	return nil
}

func (m *Memory) DeleteBudget(ctx context.Context, id ledger.BudgetID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteBudgetLocked(id)
}

func (m *Memory) deleteBudgetLocked(id ledger.BudgetID) error {
	if _, ok := m.budgets[id]; !ok {
		return &ledger.NotFoundError{Entity: "budget", ID: string(id)}
	}
	delete(m.budgets, id)
	return nil
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// WithTx executes fn against a lock-free view, restoring a pre-call
// snapshot if fn fails. The write lock is held for the unit's whole
// duration: concurrent units serialize, and direct reads and writes block
// until the unit commits or rolls back. A write that lands after a failed
// unit's rollback is therefore never part of the discarded snapshot.
func (m *Memory) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.snapshotLocked()
	if err := fn(&txView{m: m}); err != nil {
		m.restoreLocked(snapshot)
		return err
	}
	return nil
}

// txView is the store handed to a unit of work. The unit already holds
// the write lock, so every method delegates to the lock-free internals.
type txView struct {
	m *Memory
}

func (v *txView) CreateUser(ctx context.Context, u ledger.User) error {
	return v.m.createUserLocked(u)
}
func (v *txView) GetUser(ctx context.Context, id ledger.UserID) (*ledger.User, error) {
	return v.m.getUserLocked(id)
}
func (v *txView) ListUsers(ctx context.Context) ([]ledger.User, error) {
	return v.m.listUsersLocked()
}
func (v *txView) RenameUser(ctx context.Context, id ledger.UserID, name string) error {
	return v.m.renameUserLocked(id, name)
}
func (v *txView) DeleteUser(ctx context.Context, id ledger.UserID) error {
	return v.m.deleteUserLocked(id)
}

func (v *txView) CreateAccount(ctx context.Context, a ledger.Account) error {
	return v.m.createAccountLocked(a)
}
func (v *txView) GetAccount(ctx context.Context, id ledger.AccountID) (*ledger.Account, error) {
	return v.m.getAccountLocked(id)
}
func (v *txView) ListAccounts(ctx context.Context, userID ledger.UserID) ([]ledger.Account, error) {
	return v.m.listAccountsLocked(userID)
}
func (v *txView) RenameAccount(ctx context.Context, id ledger.AccountID, name string) error {
	return v.m.renameAccountLocked(id, name)
}
func (v *txView) ApplyBalanceDelta(ctx context.Context, id ledger.AccountID, delta decimal.Decimal) error {
	return v.m.applyBalanceDeltaLocked(id, delta)
}
func (v *txView) DeleteAccount(ctx context.Context, id ledger.AccountID) error {
	return v.m.deleteAccountLocked(id)
}

func (v *txView) InsertTransaction(ctx context.Context, tx ledger.Transaction) error {
	return v.m.insertTransactionLocked(tx)
}
func (v *txView) GetTransaction(ctx context.Context, id ledger.TransactionID) (*ledger.Transaction, error) {
	return v.m.getTransactionLocked(id)
}
func (v *txView) ListTransactions(ctx context.Context, f ledger.TransactionFilter) ([]ledger.Transaction, error) {
	return v.m.listTransactionsLocked(f)
}
func (v *txView) UpdateTransactionFields(ctx context.Context, tx ledger.Transaction) error {
	return v.m.updateTransactionFieldsLocked(tx)
}
func (v *txView) DeleteTransaction(ctx context.Context, id ledger.TransactionID) error {
	return v.m.deleteTransactionLocked(id)
}

func (v *txView) CreateBudget(ctx context.Context, b ledger.Budget) error {
	return v.m.createBudgetLocked(b)
}
func (v *txView) GetBudget(ctx context.Context, id ledger.BudgetID) (*ledger.Budget, error) {
	return v.m.getBudgetLocked(id)
}
func (v *txView) FindBudget(ctx context.Context, userID ledger.UserID, category string) (*ledger.Budget, error) {
	return v.m.findBudgetLocked(userID, category)
}
func (v *txView) ListBudgets(ctx context.Context, userID ledger.UserID) ([]ledger.Budget, error) {
	return v.m.listBudgetsLocked(userID)
}
func (v *txView) UpdateBudgetLimit(ctx context.Context, id ledger.BudgetID, limit decimal.Decimal) error {
	return v.m.updateBudgetLimitLocked(id, limit)
}
func (v *txView) ApplyBudgetDelta(ctx context.Context, id ledger.BudgetID, delta decimal.Decimal) error {
	return v.m.applyBudgetDeltaLocked(id, delta)
}
func (v *txView) DeleteBudget(ctx context.Context, id ledger.BudgetID) error {
	return v.m.deleteBudgetLocked(id)
}

// =============================================================================
// SNAPSHOT / RESTORE
// =============================================================================

type memorySnapshot struct {
	users        map[ledger.UserID]ledger.User
	accounts     map[ledger.AccountID]ledger.Account
	transactions map[ledger.TransactionID]ledger.Transaction
	budgets      map[ledger.BudgetID]ledger.Budget
	seq          map[ledger.TransactionID]int
	nextSeq      int
}

func (m *Memory) snapshotLocked() memorySnapshot {
	s := memorySnapshot{
		users:        make(map[ledger.UserID]ledger.User, len(m.users)),
		accounts:     make(map[ledger.AccountID]ledger.Account, len(m.accounts)),
		transactions: make(map[ledger.TransactionID]ledger.Transaction, len(m.transactions)),
		budgets:      make(map[ledger.BudgetID]ledger.Budget, len(m.budgets)),
		seq:          make(map[ledger.TransactionID]int, len(m.seq)),
		nextSeq:      m.nextSeq,
	}
	for k, v := range m.users {
		s.users[k] = v
	}
	for k, v := range m.accounts {
		s.accounts[k] = v
	}
	for k, v := range m.transactions {
		s.transactions[k] = v
	}
	for k, v := range m.budgets {
		s.budgets[k] = v
	}
	for k, v := range m.seq {
		s.seq[k] = v
	}
	return s
}

func (m *Memory) restoreLocked(s memorySnapshot) {
	m.users = s.users
	m.accounts = s.accounts
	m.transactions = s.transactions
	m.budgets = s.budgets
	m.seq = s.seq
	m.nextSeq = s.nextSeq
}
