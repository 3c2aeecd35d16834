/*
handlers.go - HTTP API handlers for the ledger engine

PURPOSE:
  Exposes the ledger engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to domain logic. No correctness logic
  lives here: every balance and budget rule is enforced by the engine.

ENDPOINTS:
  Users:
    GET    /api/users                   List all users
    POST   /api/users                   Create user
    GET    /api/users/{id}              Get user details
    PUT    /api/users/{id}              Rename user
    DELETE /api/users/{id}              Delete user (cascades)
    GET    /api/users/{id}/accounts     List the user's accounts
    POST   /api/users/{id}/accounts     Create account
    GET    /api/users/{id}/budgets      List budgets
    PUT    /api/users/{id}/budgets      Set budget (upsert by category)
    GET    /api/users/{id}/report       Cash-flow summary

  Accounts:
    GET    /api/accounts/{id}              Get account
    PUT    /api/accounts/{id}              Rename account
    DELETE /api/accounts/{id}              Delete account (cascades)
    GET    /api/accounts/{id}/transactions List transactions (filtered)
    POST   /api/accounts/{id}/transactions Record income/expense

  Transactions:
    GET    /api/transactions/{id}       Get transaction
    PUT    /api/transactions/{id}       Update transaction
    DELETE /api/transactions/{id}       Delete transaction

  Transfers:
    POST   /api/transfers               Move money between accounts

  Admin:
    GET    /api/admin/audit/{userID}    Detect aggregate drift
    POST   /api/admin/repair/{userID}   Repair detected drift

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Resource not found
  - 500: Consistency violations, internal errors
  A breached budget is NOT an error: the write commits and the response
  carries budget_exceeded=true.

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - ledger/engine.go: The domain logic behind every mutating route
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tally/ledger-engine/ledger"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine *ledger.Engine
}

// NewHandler creates a new handler backed by the given engine.
func NewHandler(engine *ledger.Engine) *Handler {
	return &Handler{Engine: engine}
}

// =============================================================================
// USER HANDLERS
// =============================================================================

// ListUsers returns all users.
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.Engine.Store().ListUsers(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list users", err)
		return
	}

	dtos := make([]UserDTO, len(users))
	for i, u := range users {
		dtos[i] = toUserDTO(u)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateUser creates a new user.
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	user, err := h.Engine.AddUser(r.Context(), req.Name)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toUserDTO(user))
}

// GetUser returns a single user.
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	id := ledger.UserID(chi.URLParam(r, "id"))

	user, err := h.Engine.GetUser(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserDTO(*user))
}

// RenameUser updates a user's name.
func (h *Handler) RenameUser(w http.ResponseWriter, r *http.Request) {
	id := ledger.UserID(chi.URLParam(r, "id"))

	var req RenameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if err := h.Engine.RenameUser(r.Context(), id, req.Name); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// DeleteUser removes a user together with their accounts, transactions
// and budgets.
func (h *Handler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	id := ledger.UserID(chi.URLParam(r, "id"))

	if err := h.Engine.DeleteUser(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// =============================================================================
// ACCOUNT HANDLERS
// =============================================================================

// ListAccounts returns all accounts of a user.
func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	userID := ledger.UserID(chi.URLParam(r, "id"))

	accounts, err := h.Engine.ListAccounts(r.Context(), userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	dtos := make([]AccountDTO, len(accounts))
	for i, a := range accounts {
		dtos[i] = toAccountDTO(a)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateAccount creates an account for a user.
func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	userID := ledger.UserID(chi.URLParam(r, "id"))

	var req CreateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	account, err := h.Engine.AddAccount(r.Context(), userID, req.Name, req.InitialBalance)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAccountDTO(account))
}

// GetAccount returns a single account with its current balance.
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	id := ledger.AccountID(chi.URLParam(r, "id"))

	account, err := h.Engine.GetAccount(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTO(*account))
}

// RenameAccount updates an account's name.
func (h *Handler) RenameAccount(w http.ResponseWriter, r *http.Request) {
	id := ledger.AccountID(chi.URLParam(r, "id"))

	var req RenameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if err := h.Engine.RenameAccount(r.Context(), id, req.Name); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// DeleteAccount removes an account, its transactions, and their budget
// contributions.
func (h *Handler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	id := ledger.AccountID(chi.URLParam(r, "id"))

	if err := h.Engine.DeleteAccount(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// =============================================================================
// TRANSACTION HANDLERS
// =============================================================================

// ListTransactions returns an account's transactions, optionally filtered
// by date range, category and kind via query parameters.
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	accountID := ledger.AccountID(chi.URLParam(r, "id"))
	filter := ledger.TransactionFilter{AccountID: &accountID}

	q := r.URL.Query()
	if v := q.Get("from"); v != "" {
		from, err := ledger.ParseDate(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid from date (use YYYY-MM-DD)", err)
			return
		}
		filter.From = &from
	}
	if v := q.Get("to"); v != "" {
		to, err := ledger.ParseDate(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid to date (use YYYY-MM-DD)", err)
			return
		}
		filter.To = &to
	}
	if v := q.Get("category"); v != "" {
		filter.Category = &v
	}
	if v := q.Get("kind"); v != "" {
		kind := ledger.Kind(v)
		if !kind.Valid() {
			writeError(w, http.StatusBadRequest, "Invalid kind", nil)
			return
		}
		filter.Kind = &kind
	}

	txs, err := h.Engine.ListTransactions(r.Context(), filter)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	dtos := make([]TransactionDTO, len(txs))
	for i, tx := range txs {
		dtos[i] = toTransactionDTO(tx)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// AddTransaction records an income or expense against an account.
func (h *Handler) AddTransaction(w http.ResponseWriter, r *http.Request) {
	accountID := ledger.AccountID(chi.URLParam(r, "id"))

	var req AddTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	date, err := ledger.ParseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
		return
	}

	result, err := h.Engine.AddTransaction(r.Context(), ledger.AddTransactionInput{
		AccountID:   accountID,
		Date:        date,
		Amount:      req.Amount,
		Kind:        ledger.Kind(req.Kind),
		Description: req.Description,
		Category:    req.Category,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	dto := TransactionResultDTO{
		TransactionID:  string(result.TransactionID),
		BudgetExceeded: result.BudgetExceeded,
	}
	if result.Budget != nil {
		b := toBudgetDTO(*result.Budget)
		dto.Budget = &b
	}
	writeJSON(w, http.StatusCreated, dto)
}

// GetTransaction returns a single transaction.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	id := ledger.TransactionID(chi.URLParam(r, "id"))

	tx, err := h.Engine.GetTransaction(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTO(*tx))
}

// UpdateTransaction rewrites a transaction's fields, correcting every
// aggregate the old version affected.
func (h *Handler) UpdateTransaction(w http.ResponseWriter, r *http.Request) {
	id := ledger.TransactionID(chi.URLParam(r, "id"))

	var req UpdateTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	date, err := ledger.ParseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
		return
	}

	result, err := h.Engine.UpdateTransaction(r.Context(), id, ledger.UpdateTransactionInput{
		Date:        date,
		Amount:      req.Amount,
		Kind:        ledger.Kind(req.Kind),
		Description: req.Description,
		Category:    req.Category,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	dto := TransactionResultDTO{
		TransactionID:  string(id),
		BudgetExceeded: result.BudgetExceeded,
	}
	if result.Budget != nil {
		b := toBudgetDTO(*result.Budget)
		dto.Budget = &b
	}
	writeJSON(w, http.StatusOK, dto)
}

// DeleteTransaction removes a transaction and reverses its effects.
func (h *Handler) DeleteTransaction(w http.ResponseWriter, r *http.Request) {
	id := ledger.TransactionID(chi.URLParam(r, "id"))

	if err := h.Engine.DeleteTransaction(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// =============================================================================
// TRANSFER HANDLERS
// =============================================================================

// CreateTransfer moves money between two accounts as a linked pair of
// transactions.
func (h *Handler) CreateTransfer(w http.ResponseWriter, r *http.Request) {
	var req TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	date, err := ledger.ParseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
		return
	}

	result, err := h.Engine.Transfer(r.Context(), ledger.TransferInput{
		FromAccountID: ledger.AccountID(req.FromAccountID),
		ToAccountID:   ledger.AccountID(req.ToAccountID),
		Date:          date,
		Amount:        req.Amount,
		Description:   req.Description,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, TransferResultDTO{
		FromTransactionID: string(result.FromTransactionID),
		ToTransactionID:   string(result.ToTransactionID),
		TransferGroupID:   result.TransferGroupID,
	})
}

// =============================================================================
// BUDGET HANDLERS
// =============================================================================

// ListBudgets returns all budgets of a user.
func (h *Handler) ListBudgets(w http.ResponseWriter, r *http.Request) {
	userID := ledger.UserID(chi.URLParam(r, "id"))

	budgets, err := h.Engine.ListBudgets(r.Context(), userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	dtos := make([]BudgetDTO, len(budgets))
	for i, b := range budgets {
		dtos[i] = toBudgetDTO(b)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// SetBudget creates the budget for a category or updates its limit,
// preserving accumulated usage.
func (h *Handler) SetBudget(w http.ResponseWriter, r *http.Request) {
	userID := ledger.UserID(chi.URLParam(r, "id"))

	var req SetBudgetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	budget, err := h.Engine.SetBudget(r.Context(), userID, req.Category, req.Limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBudgetDTO(budget))
}

// GetBudget returns the budget for one category.
func (h *Handler) GetBudget(w http.ResponseWriter, r *http.Request) {
	userID := ledger.UserID(chi.URLParam(r, "id"))
	category := chi.URLParam(r, "category")

	budget, err := h.Engine.GetBudget(r.Context(), userID, category)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBudgetDTO(*budget))
}

// DeleteBudget removes the budget for one category. Transactions in that
// category are untouched.
func (h *Handler) DeleteBudget(w http.ResponseWriter, r *http.Request) {
	userID := ledger.UserID(chi.URLParam(r, "id"))
	category := chi.URLParam(r, "category")

	if err := h.Engine.DeleteBudget(r.Context(), userID, category); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// =============================================================================
// REPORT HANDLERS
// =============================================================================

// GetReport returns the cash-flow summary for a user, optionally bounded
// by from/to query parameters.
func (h *Handler) GetReport(w http.ResponseWriter, r *http.Request) {
	userID := ledger.UserID(chi.URLParam(r, "id"))

	var from, to ledger.Date
	q := r.URL.Query()
	if v := q.Get("from"); v != "" {
		parsed, err := ledger.ParseDate(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid from date (use YYYY-MM-DD)", err)
			return
		}
		from = parsed
	}
	if v := q.Get("to"); v != "" {
		parsed, err := ledger.ParseDate(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid to date (use YYYY-MM-DD)", err)
			return
		}
		to = parsed
	}

	report, err := h.Engine.BuildReport(r.Context(), userID, from, to)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	dto := ReportDTO{
		UserID:   string(report.UserID),
		Accounts: make([]AccountSummaryDTO, len(report.Accounts)),
		Inflow:   report.Inflow,
		Outflow:  report.Outflow,
		Net:      report.Net,
	}
	if !report.From.IsZero() {
		dto.From = report.From.String()
	}
	if !report.To.IsZero() {
		dto.To = report.To.String()
	}
	for i, s := range report.Accounts {
		dto.Accounts[i] = AccountSummaryDTO{
			AccountID: string(s.Account.ID),
			Name:      s.Account.Name,
			Balance:   s.Account.Balance,
			Inflow:    s.Inflow,
			Outflow:   s.Outflow,
		}
	}
	writeJSON(w, http.StatusOK, dto)
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// AuditUser recomputes every aggregate of a user from the transaction
// log and reports divergences. Read-only.
func (h *Handler) AuditUser(w http.ResponseWriter, r *http.Request) {
	userID := ledger.UserID(chi.URLParam(r, "userID"))

	drifts, err := h.Engine.Audit(r.Context(), userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"clean":  len(drifts) == 0,
		"drifts": toDriftDTOs(drifts),
	})
}

// RepairUser overwrites drifted aggregates with values recomputed from
// the transaction log, in one atomic unit.
func (h *Handler) RepairUser(w http.ResponseWriter, r *http.Request) {
	userID := ledger.UserID(chi.URLParam(r, "userID"))

	repaired, err := h.Engine.Repair(r.Context(), userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"repaired": toDriftDTOs(repaired),
	})
}

func toDriftDTOs(drifts []ledger.Drift) []DriftDTO {
	dtos := make([]DriftDTO, len(drifts))
	for i, d := range drifts {
		dtos[i] = DriftDTO{
			Entity:   d.Entity,
			ID:       d.ID,
			Stored:   d.Stored,
			Computed: d.Computed,
		}
	}
	return dtos
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps the ledger error taxonomy onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrValidation):
		writeError(w, http.StatusBadRequest, "Invalid request", err)
	case errors.Is(err, ledger.ErrNotFound):
		writeError(w, http.StatusNotFound, "Not found", err)
	default:
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}
