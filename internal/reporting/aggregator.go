// Package reporting holds the aggregation arithmetic behind the dashboard:
// sales, cost of goods sold, expenses, and profit over a set of bills.
// It is pure computation; callers fetch the rows.
package reporting

import (
	"github.com/shopspring/decimal"

	"shopledger/backend/internal/domain"
)

// LowStockThreshold is the stock quantity below which a product counts as
// low stock on the dashboard.
const LowStockThreshold = 5

type Totals struct {
	Sales    decimal.Decimal
	COGS     decimal.Decimal
	Expenses decimal.Decimal
	Profit   decimal.Decimal
}

// Summarize totals the given bills and expenses. COGS multiplies each bill
// item's quantity by the product's current cost price (carried on the item
// by the store's read-time join), so editing a cost price shifts profit
// figures for past periods as well.
func Summarize(bills []domain.Bill, expenses []domain.Expense) Totals {
	totals := Totals{
		Sales:    decimal.Zero,
		COGS:     decimal.Zero,
		Expenses: decimal.Zero,
	}

	for _, bill := range bills {
		totals.Sales = totals.Sales.Add(bill.TotalAmount)
		for _, item := range bill.Items {
			totals.COGS = totals.COGS.Add(item.CostPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
		}
	}
	for _, expense := range expenses {
		totals.Expenses = totals.Expenses.Add(expense.Amount)
	}

	totals.Profit = totals.Sales.Sub(totals.COGS).Sub(totals.Expenses)
	return totals
}
