// report.go - Cash-flow summary over a user's transaction history.
package ledger

import (
	"context"

	"github.com/shopspring/decimal"
)

// AccountSummary is one account's standing within a report.
type AccountSummary struct {
	Account Account
	Inflow  decimal.Decimal
	Outflow decimal.Decimal
}

// Report aggregates a user's accounts and cash flow over a date range.
type Report struct {
	UserID   UserID
	From     Date
	To       Date
	Accounts []AccountSummary
	Inflow   decimal.Decimal
	Outflow  decimal.Decimal
	Net      decimal.Decimal
}

// BuildReport summarizes per-account and total cash flow for a user over
// [from, to]. Inflow collects positive balance effects, outflow the
// magnitudes of negative ones; transfers between the user's own accounts
// therefore appear on both sides and cancel in Net. Read-only.
func (e *Engine) BuildReport(ctx context.Context, userID UserID, from, to Date) (Report, error) {
	user, err := e.store.GetUser(ctx, userID)
	if err != nil {
		return Report{}, err
	}
	if user == nil {
		return Report{}, &NotFoundError{Entity: "user", ID: string(userID)}
	}

	accounts, err := e.store.ListAccounts(ctx, userID)
	if err != nil {
		return Report{}, err
	}

	report := Report{
		UserID:  userID,
		From:    from,
		To:      to,
		Inflow:  decimal.Zero,
		Outflow: decimal.Zero,
	}
	filter := TransactionFilter{}
	if !from.IsZero() {
		filter.From = &from
	}
	if !to.IsZero() {
		filter.To = &to
	}

	for i := range accounts {
		f := filter
		f.AccountID = &accounts[i].ID
		txs, err := e.store.ListTransactions(ctx, f)
		if err != nil {
			return Report{}, err
		}

		summary := AccountSummary{
			Account: accounts[i],
			Inflow:  decimal.Zero,
			Outflow: decimal.Zero,
		}
		for _, tx := range txs {
			delta := Calculate(tx.Kind, tx.Amount).Balance
			if delta.IsNegative() {
				summary.Outflow = summary.Outflow.Add(delta.Abs())
			} else {
				summary.Inflow = summary.Inflow.Add(delta)
			}
		}
		report.Inflow = report.Inflow.Add(summary.Inflow)
		report.Outflow = report.Outflow.Add(summary.Outflow)
		report.Accounts = append(report.Accounts, summary)
	}

	report.Net = report.Inflow.Sub(report.Outflow)
	return report, nil
}
