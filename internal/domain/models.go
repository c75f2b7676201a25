package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

func init() {
	// Amounts are emitted as JSON numbers ("3.5", not "\"3.5\""), matching
	// what the billing frontend expects.
	decimal.MarshalJSONWithoutQuotes = true
}

type Product struct {
	ID            int64           `json:"id"`
	Name          string          `json:"name"`
	Barcode       string          `json:"barcode"`
	Price         decimal.Decimal `json:"price"`
	CostPrice     decimal.Decimal `json:"cost_price"`
	StockQuantity int             `json:"stock_quantity"`
	Category      string          `json:"category"`
}

// CostValue is the cost-price value of the on-hand stock.
func (p Product) CostValue() decimal.Decimal {
	return p.CostPrice.Mul(decimal.NewFromInt(int64(p.StockQuantity)))
}

// SaleValue is the sale-price value of the on-hand stock.
func (p Product) SaleValue() decimal.Decimal {
	return p.Price.Mul(decimal.NewFromInt(int64(p.StockQuantity)))
}

// UnitProfit is sale price minus cost price for a single unit.
func (p Product) UnitProfit() decimal.Decimal {
	return p.Price.Sub(p.CostPrice)
}

// MarginPercent is unit profit as a percentage of cost price. A product
// with zero cost but a positive price reports 100%; a free product 0%.
func (p Product) MarginPercent() decimal.Decimal {
	hundred := decimal.NewFromInt(100)
	if p.CostPrice.IsPositive() {
		return p.UnitProfit().Div(p.CostPrice).Mul(hundred)
	}
	if p.Price.IsPositive() {
		return hundred
	}
	return decimal.Zero
}

type ProductCreateRequest struct {
	Name          string          `json:"name" validate:"required"`
	Barcode       string          `json:"barcode" validate:"required"`
	Price         decimal.Decimal `json:"price"`
	CostPrice     decimal.Decimal `json:"cost_price"`
	StockQuantity int             `json:"stock_quantity" validate:"gte=0"`
	Category      string          `json:"category"`
}

// ProductUpdateRequest is a partial patch: nil fields keep prior values.
type ProductUpdateRequest struct {
	Name          *string          `json:"name,omitempty"`
	Barcode       *string          `json:"barcode,omitempty"`
	Price         *decimal.Decimal `json:"price,omitempty"`
	CostPrice     *decimal.Decimal `json:"cost_price,omitempty"`
	StockQuantity *int             `json:"stock_quantity,omitempty"`
	Category      *string          `json:"category,omitempty"`
}

type Bill struct {
	ID             int64           `json:"id"`
	BillNumber     string          `json:"bill_number"`
	Date           time.Time       `json:"date"`
	CustomerName   string          `json:"customer_name"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	TaxAmount      decimal.Decimal `json:"tax"`
	DiscountAmount decimal.Decimal `json:"discount"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	PaymentMode    string          `json:"payment_mode"`
	Items          []BillItem      `json:"items"`
}

// BillItem snapshots quantity and sale price at checkout time. ProductName
// and CostPrice are joined from the product at read time: the name for
// display, the current (not historical) cost price for COGS reporting.
type BillItem struct {
	ID          int64           `json:"-"`
	BillID      int64           `json:"-"`
	ProductID   int64           `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	PriceAtSale decimal.Decimal `json:"price"`
	Subtotal    decimal.Decimal `json:"subtotal"`
	CostPrice   decimal.Decimal `json:"-"`
}

type CheckoutItem struct {
	ProductID int64           `json:"product_id" validate:"required"`
	Quantity  int             `json:"quantity" validate:"gte=1"`
	Price     decimal.Decimal `json:"price"`
	Subtotal  decimal.Decimal `json:"subtotal"`
}

type CheckoutRequest struct {
	CustomerName   string          `json:"customer_name"`
	PaymentMode    string          `json:"payment_mode"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	TaxAmount      decimal.Decimal `json:"tax_amount"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	Items          []CheckoutItem  `json:"items" validate:"dive"`
}

type CheckoutResponse struct {
	BillID     int64  `json:"bill_id"`
	BillNumber string `json:"bill_number"`
	Date       string `json:"date"`
}

type Expense struct {
	ID          int64           `json:"id"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	Category    string          `json:"category"`
	Date        time.Time       `json:"date"`
}

type ExpenseCreateRequest struct {
	Description string          `json:"description" validate:"required"`
	Amount      decimal.Decimal `json:"amount"`
	Category    string          `json:"category"`
}

// Settings is a singleton record stored under a fixed id.
type Settings struct {
	ShopName       string          `json:"shop_name"`
	Address        string          `json:"address"`
	Phone          string          `json:"phone"`
	CurrencySymbol string          `json:"currency_symbol"`
	DefaultTaxRate decimal.Decimal `json:"default_tax_rate"`
}

// DefaultSettings are written on first access when no settings row exists.
func DefaultSettings() Settings {
	return Settings{
		ShopName:       "My Grocery Shop",
		Address:        "123 Market St",
		Phone:          "555-0123",
		CurrencySymbol: "$",
		DefaultTaxRate: decimal.Zero,
	}
}

type SettingsUpdateRequest struct {
	ShopName       *string          `json:"shop_name,omitempty"`
	Address        *string          `json:"address,omitempty"`
	Phone          *string          `json:"phone,omitempty"`
	CurrencySymbol *string          `json:"currency_symbol,omitempty"`
	DefaultTaxRate *decimal.Decimal `json:"default_tax_rate,omitempty"`
}

type SeriesPoint struct {
	Label    string          `json:"label"`
	Sales    decimal.Decimal `json:"sales"`
	Expenses decimal.Decimal `json:"expenses"`
	Profit   decimal.Decimal `json:"profit"`
}

type DashboardMetrics struct {
	TotalProducts int             `json:"total_products"`
	LowStockCount int             `json:"low_stock_count"`
	TodaySales    decimal.Decimal `json:"today_sales"`
	TodayProfit   decimal.Decimal `json:"today_profit"`
	TodayExpenses decimal.Decimal `json:"today_expenses"`
	MonthSales    decimal.Decimal `json:"month_sales"`
	MonthProfit   decimal.Decimal `json:"month_profit"`
	RecentBills   []Bill          `json:"recent_bills"`
	Series        []SeriesPoint   `json:"series"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

type CashierCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type CashierUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}
