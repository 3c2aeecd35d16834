/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY FIELDS:
  Money is decimal.Decimal end to end. shopspring/decimal marshals as a
  quoted string ("42.50") and accepts both strings and numbers on input,
  so clients never see float rounding.

VALIDATION:
  Structural validation (parseable dates, decodable JSON) is done in
  handlers; domain validation lives in the ledger package and surfaces
  here as 400s.

SEE ALSO:
  - handlers.go: Uses these types
  - ledger/types.go: Domain model
*/
package api

import (
	"github.com/shopspring/decimal"

	"github.com/tally/ledger-engine/ledger"
)

// =============================================================================
// REQUEST/RESPONSE TYPES
// =============================================================================

// UserDTO represents a user in API responses.
type UserDTO struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// CreateUserRequest is the request to create a user.
type CreateUserRequest struct {
	Name string `json:"name"`
}

// RenameRequest renames a user or an account.
type RenameRequest struct {
	Name string `json:"name"`
}

// AccountDTO represents an account in API responses.
type AccountDTO struct {
	ID             string          `json:"id"`
	UserID         string          `json:"user_id"`
	Name           string          `json:"name"`
	InitialBalance decimal.Decimal `json:"initial_balance"`
	Balance        decimal.Decimal `json:"balance"`
}

// CreateAccountRequest is the request to create an account for a user.
type CreateAccountRequest struct {
	Name           string          `json:"name"`
	InitialBalance decimal.Decimal `json:"initial_balance"`
}

// TransactionDTO represents a transaction in API responses.
type TransactionDTO struct {
	ID              string          `json:"id"`
	AccountID       string          `json:"account_id"`
	Date            string          `json:"date"`
	Amount          decimal.Decimal `json:"amount"`
	Kind            string          `json:"kind"`
	Description     string          `json:"description"`
	Category        string          `json:"category"`
	TransferGroupID string          `json:"transfer_group_id,omitempty"`
}

// AddTransactionRequest is the request to record an income or expense.
type AddTransactionRequest struct {
	Date        string          `json:"date"`
	Amount      decimal.Decimal `json:"amount"`
	Kind        string          `json:"kind"`
	Description string          `json:"description"`
	Category    string          `json:"category"`
}

// UpdateTransactionRequest is the request to rewrite a transaction's fields.
type UpdateTransactionRequest struct {
	Date        string          `json:"date"`
	Amount      decimal.Decimal `json:"amount"`
	Kind        string          `json:"kind"`
	Description string          `json:"description"`
	Category    string          `json:"category"`
}

// TransactionResultDTO reports the outcome of an add or update. The
// budget_exceeded flag is advisory: the write has already committed.
type TransactionResultDTO struct {
	TransactionID  string     `json:"transaction_id"`
	BudgetExceeded bool       `json:"budget_exceeded"`
	Budget         *BudgetDTO `json:"budget,omitempty"`
}

// TransferRequest is the request to move money between two accounts.
type TransferRequest struct {
	FromAccountID string          `json:"from_account_id"`
	ToAccountID   string          `json:"to_account_id"`
	Date          string          `json:"date"`
	Amount        decimal.Decimal `json:"amount"`
	Description   string          `json:"description"`
}

// TransferResultDTO identifies both legs of a committed transfer.
type TransferResultDTO struct {
	FromTransactionID string `json:"from_transaction_id"`
	ToTransactionID   string `json:"to_transaction_id"`
	TransferGroupID   string `json:"transfer_group_id"`
}

// BudgetDTO represents a budget in API responses.
type BudgetDTO struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	Category  string          `json:"category"`
	Limit     decimal.Decimal `json:"limit"`
	Used      decimal.Decimal `json:"used"`
	Remaining decimal.Decimal `json:"remaining"`
	Exceeded  bool            `json:"exceeded"`
}

// SetBudgetRequest creates or updates the budget for a category.
type SetBudgetRequest struct {
	Category string          `json:"category"`
	Limit    decimal.Decimal `json:"limit"`
}

// AccountSummaryDTO is one account's slice of a cash-flow report.
type AccountSummaryDTO struct {
	AccountID string          `json:"account_id"`
	Name      string          `json:"name"`
	Balance   decimal.Decimal `json:"balance"`
	Inflow    decimal.Decimal `json:"inflow"`
	Outflow   decimal.Decimal `json:"outflow"`
}

// ReportDTO is the cash-flow summary for a user over a date range.
type ReportDTO struct {
	UserID   string              `json:"user_id"`
	From     string              `json:"from,omitempty"`
	To       string              `json:"to,omitempty"`
	Accounts []AccountSummaryDTO `json:"accounts"`
	Inflow   decimal.Decimal     `json:"inflow"`
	Outflow  decimal.Decimal     `json:"outflow"`
	Net      decimal.Decimal     `json:"net"`
}

// DriftDTO is one detected divergence between a stored aggregate and the
// value recomputed from the transaction log.
type DriftDTO struct {
	Entity   string          `json:"entity"`
	ID       string          `json:"id"`
	Stored   decimal.Decimal `json:"stored"`
	Computed decimal.Decimal `json:"computed"`
}

// ErrorResponse is the JSON body for all error statuses.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERTERS
// =============================================================================

func toUserDTO(u ledger.User) UserDTO {
	return UserDTO{ID: string(u.ID), Name: u.Name}
}

func toAccountDTO(a ledger.Account) AccountDTO {
	return AccountDTO{
		ID:             string(a.ID),
		UserID:         string(a.UserID),
		Name:           a.Name,
		InitialBalance: a.InitialBalance,
		Balance:        a.Balance,
	}
}

func toTransactionDTO(tx ledger.Transaction) TransactionDTO {
	return TransactionDTO{
		ID:              string(tx.ID),
		AccountID:       string(tx.AccountID),
		Date:            tx.Date.String(),
		Amount:          tx.Amount,
		Kind:            string(tx.Kind),
		Description:     tx.Description,
		Category:        tx.Category,
		TransferGroupID: tx.TransferGroupID,
	}
}

func toBudgetDTO(b ledger.Budget) BudgetDTO {
	return BudgetDTO{
		ID:        string(b.ID),
		UserID:    string(b.UserID),
		Category:  b.Category,
		Limit:     b.Limit,
		Used:      b.Used,
		Remaining: b.Remaining(),
		Exceeded:  b.Exceeded(),
	}
}
