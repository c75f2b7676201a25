package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"shopledger/backend/internal/domain"
	"shopledger/backend/internal/store"
	"shopledger/backend/internal/store/memory"
)

func newTestService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	repo := memory.NewSeeded()
	return New(repo, nil, time.Minute), repo
}

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("bad decimal %q: %v", s, err)
	}
	return d
}

func TestCheckoutDecrementsStock(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	milk, err := svc.LookupProductByBarcode(ctx, "1001")
	if err != nil {
		t.Fatalf("lookup milk: %v", err)
	}
	if milk.StockQuantity != 50 {
		t.Fatalf("seed stock = %d, want 50", milk.StockQuantity)
	}

	resp, err := svc.Checkout(ctx, domain.CheckoutRequest{
		Subtotal:    dec(t, "7.00"),
		TotalAmount: dec(t, "7.00"),
		Items: []domain.CheckoutItem{
			{ProductID: milk.ID, Quantity: 2, Price: milk.Price, Subtotal: dec(t, "7.00")},
		},
	})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if resp.BillNumber == "" {
		t.Fatal("bill number is empty")
	}
	if len(resp.BillNumber) != 8 {
		t.Fatalf("bill number %q, want 8 chars", resp.BillNumber)
	}

	after, err := svc.GetProduct(ctx, milk.ID)
	if err != nil {
		t.Fatalf("reload milk: %v", err)
	}
	if after.StockQuantity != 48 {
		t.Fatalf("stock after checkout = %d, want 48", after.StockQuantity)
	}

	bill, err := svc.GetBill(ctx, resp.BillID)
	if err != nil {
		t.Fatalf("get bill: %v", err)
	}
	if !bill.TotalAmount.Equal(dec(t, "7.00")) {
		t.Fatalf("bill total = %s, want 7.00", bill.TotalAmount)
	}
	if bill.CustomerName != "Walk-in" || bill.PaymentMode != "Cash" {
		t.Fatalf("defaults not applied: customer=%q payment=%q", bill.CustomerName, bill.PaymentMode)
	}
	if len(bill.Items) != 1 || bill.Items[0].ProductName != "Milk" {
		t.Fatalf("unexpected bill items: %+v", bill.Items)
	}
}

func TestCheckoutInsufficientStock(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.CreateProduct(ctx, domain.ProductCreateRequest{
		Name:          "Saffron",
		Barcode:       "2001",
		Price:         dec(t, "9.00"),
		CostPrice:     dec(t, "6.00"),
		StockQuantity: 1,
	})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}

	_, err = svc.Checkout(ctx, domain.CheckoutRequest{
		TotalAmount: dec(t, "45.00"),
		Items: []domain.CheckoutItem{
			{ProductID: created.ID, Quantity: 5, Price: created.Price, Subtotal: dec(t, "45.00")},
		},
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("err = %v, want insufficient stock", err)
	}
	var stockErr *store.InsufficientStockError
	if !errors.As(err, &stockErr) {
		t.Fatalf("err %T does not carry product detail", err)
	}
	if stockErr.ProductName != "Saffron" || stockErr.Requested != 5 || stockErr.Available != 1 {
		t.Fatalf("unexpected detail: %+v", stockErr)
	}

	after, err := svc.GetProduct(ctx, created.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if after.StockQuantity != 1 {
		t.Fatalf("stock changed to %d on failed checkout", after.StockQuantity)
	}

	bills, err := svc.ListBills(ctx, 10)
	if err != nil {
		t.Fatalf("list bills: %v", err)
	}
	if len(bills) != 0 {
		t.Fatalf("found %d bills after failed checkout, want 0", len(bills))
	}
}

func TestCheckoutRollsBackEarlierLines(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	milk, _ := svc.LookupProductByBarcode(ctx, "1001")
	rice, _ := svc.LookupProductByBarcode(ctx, "1005")

	_, err := svc.Checkout(ctx, domain.CheckoutRequest{
		TotalAmount: dec(t, "110.00"),
		Items: []domain.CheckoutItem{
			{ProductID: milk.ID, Quantity: 2, Price: milk.Price, Subtotal: dec(t, "7.00")},
			{ProductID: rice.ID, Quantity: 999, Price: rice.Price, Subtotal: dec(t, "103.00")},
		},
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("err = %v, want insufficient stock", err)
	}

	milkAfter, _ := svc.GetProduct(ctx, milk.ID)
	if milkAfter.StockQuantity != 50 {
		t.Fatalf("milk stock = %d after rollback, want 50", milkAfter.StockQuantity)
	}
}

func TestCheckoutSkipsUnknownProducts(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	milk, _ := svc.LookupProductByBarcode(ctx, "1001")

	resp, err := svc.Checkout(ctx, domain.CheckoutRequest{
		TotalAmount: dec(t, "3.50"),
		Items: []domain.CheckoutItem{
			{ProductID: milk.ID, Quantity: 1, Price: milk.Price, Subtotal: dec(t, "3.50")},
			{ProductID: 99999, Quantity: 1, Price: dec(t, "1.00"), Subtotal: dec(t, "1.00")},
		},
	})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}

	bill, err := svc.GetBill(ctx, resp.BillID)
	if err != nil {
		t.Fatalf("get bill: %v", err)
	}
	if len(bill.Items) != 1 {
		t.Fatalf("bill has %d items, want 1 (unknown line dropped)", len(bill.Items))
	}
	if bill.Items[0].ProductID != milk.ID {
		t.Fatalf("kept item product = %d, want %d", bill.Items[0].ProductID, milk.ID)
	}
}

func TestCheckoutValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Checkout(ctx, domain.CheckoutRequest{
		TotalAmount: dec(t, "-1.00"),
	})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v, want validation error", err)
	}
	if _, ok := verr.Fields["total_amount"]; !ok {
		t.Fatalf("fields = %v, want total_amount entry", verr.Fields)
	}

	_, err = svc.Checkout(ctx, domain.CheckoutRequest{
		TotalAmount: dec(t, "3.50"),
		Items: []domain.CheckoutItem{
			{ProductID: 1, Quantity: 0, Price: dec(t, "3.50"), Subtotal: dec(t, "3.50")},
		},
	})
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v, want validation error for zero quantity", err)
	}
}

func TestCreateProductDuplicateBarcode(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateProduct(ctx, domain.ProductCreateRequest{
		Name:    "Other Milk",
		Barcode: "1001",
		Price:   dec(t, "3.00"),
	})
	if !errors.Is(err, store.ErrDuplicateBarcode) {
		t.Fatalf("err = %v, want duplicate barcode", err)
	}
}

func TestCreateProductDefaultsCategory(t *testing.T) {
	svc, _ := newTestService(t)

	created, err := svc.CreateProduct(context.Background(), domain.ProductCreateRequest{
		Name:    "Soap",
		Barcode: "3001",
		Price:   dec(t, "1.50"),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.Category != "General" {
		t.Fatalf("category = %q, want General", created.Category)
	}
}

func TestUpdateProductPartialPatch(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	milk, _ := svc.LookupProductByBarcode(ctx, "1001")

	newPrice := dec(t, "3.75")
	updated, err := svc.UpdateProduct(ctx, milk.ID, domain.ProductUpdateRequest{Price: &newPrice})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !updated.Price.Equal(newPrice) {
		t.Fatalf("price = %s, want 3.75", updated.Price)
	}
	if updated.Name != "Milk" || updated.Barcode != "1001" || updated.StockQuantity != 50 {
		t.Fatalf("untouched fields changed: %+v", updated)
	}
}

func TestUpdateProductNotFound(t *testing.T) {
	svc, _ := newTestService(t)

	name := "Ghost"
	_, err := svc.UpdateProduct(context.Background(), 99999, domain.ProductUpdateRequest{Name: &name})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
}

func TestDeleteProductReferencedByBill(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	milk, _ := svc.LookupProductByBarcode(ctx, "1001")
	_, err := svc.Checkout(ctx, domain.CheckoutRequest{
		TotalAmount: dec(t, "3.50"),
		Items: []domain.CheckoutItem{
			{ProductID: milk.ID, Quantity: 1, Price: milk.Price, Subtotal: dec(t, "3.50")},
		},
	})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}

	if err := svc.DeleteProduct(ctx, milk.ID); !errors.Is(err, store.ErrProductReferenced) {
		t.Fatalf("err = %v, want product referenced", err)
	}
	if _, err := svc.GetProduct(ctx, milk.ID); err != nil {
		t.Fatalf("product gone after blocked delete: %v", err)
	}

	apple, _ := svc.LookupProductByBarcode(ctx, "1004")
	if err := svc.DeleteProduct(ctx, apple.ID); err != nil {
		t.Fatalf("delete unsold product: %v", err)
	}
	if _, err := svc.GetProduct(ctx, apple.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err = %v, want not found after delete", err)
	}
}

func TestSearchProducts(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	byName, err := svc.SearchProducts(ctx, "milk")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(byName) != 1 || byName[0].Name != "Milk" {
		t.Fatalf("search by name = %+v", byName)
	}

	byBarcode, err := svc.SearchProducts(ctx, "100")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(byBarcode) != 5 {
		t.Fatalf("barcode prefix matched %d products, want 5", len(byBarcode))
	}

	all, err := svc.SearchProducts(ctx, "")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(all) != 5 {
		t.Fatalf("empty query returned %d products, want full catalog", len(all))
	}
}

func TestDashboardMetricsEmptyDay(t *testing.T) {
	svc, _ := newTestService(t)

	metrics, err := svc.DashboardMetrics(context.Background())
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	if metrics.TotalProducts != 5 {
		t.Fatalf("total products = %d, want 5", metrics.TotalProducts)
	}
	if metrics.LowStockCount != 0 {
		t.Fatalf("low stock = %d, want 0", metrics.LowStockCount)
	}
	if !metrics.TodaySales.IsZero() || !metrics.TodayProfit.IsZero() || !metrics.TodayExpenses.IsZero() {
		t.Fatalf("empty day not zeroed: %+v", metrics)
	}
	if len(metrics.Series) != 7 {
		t.Fatalf("series has %d points, want 7", len(metrics.Series))
	}
	wantLabel := time.Now().UTC().Format("Jan 02")
	if metrics.Series[6].Label != wantLabel {
		t.Fatalf("last series label = %q, want %q", metrics.Series[6].Label, wantLabel)
	}
}

func TestDashboardMetricsAfterSales(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	milk, _ := svc.LookupProductByBarcode(ctx, "1001")
	_, err := svc.Checkout(ctx, domain.CheckoutRequest{
		Subtotal:    dec(t, "17.50"),
		TotalAmount: dec(t, "17.50"),
		Items: []domain.CheckoutItem{
			{ProductID: milk.ID, Quantity: 5, Price: milk.Price, Subtotal: dec(t, "17.50")},
		},
	})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	_, err = svc.AddExpense(ctx, domain.ExpenseCreateRequest{
		Description: "Ice",
		Amount:      dec(t, "3.25"),
	})
	if err != nil {
		t.Fatalf("add expense: %v", err)
	}

	metrics, err := svc.DashboardMetrics(ctx)
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	if !metrics.TodaySales.Equal(dec(t, "17.50")) {
		t.Fatalf("today sales = %s, want 17.50", metrics.TodaySales)
	}
	if !metrics.TodayExpenses.Equal(dec(t, "3.25")) {
		t.Fatalf("today expenses = %s, want 3.25", metrics.TodayExpenses)
	}
	// Sales 17.50 - COGS (5 x 2.00) - expenses 3.25.
	if !metrics.TodayProfit.Equal(dec(t, "4.25")) {
		t.Fatalf("today profit = %s, want 4.25", metrics.TodayProfit)
	}
	if len(metrics.RecentBills) != 1 {
		t.Fatalf("recent bills = %d, want 1", len(metrics.RecentBills))
	}
}

func TestDashboardProfitTracksCostEdits(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	milk, _ := svc.LookupProductByBarcode(ctx, "1001")
	_, err := svc.Checkout(ctx, domain.CheckoutRequest{
		TotalAmount: dec(t, "3.50"),
		Items: []domain.CheckoutItem{
			{ProductID: milk.ID, Quantity: 1, Price: milk.Price, Subtotal: dec(t, "3.50")},
		},
	})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}

	newCost := dec(t, "3.00")
	if _, err := svc.UpdateProduct(ctx, milk.ID, domain.ProductUpdateRequest{CostPrice: &newCost}); err != nil {
		t.Fatalf("update cost: %v", err)
	}

	metrics, err := svc.DashboardMetrics(ctx)
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	// COGS uses the current cost price, so profit is 3.50 - 3.00.
	if !metrics.TodayProfit.Equal(dec(t, "0.50")) {
		t.Fatalf("today profit = %s, want 0.50", metrics.TodayProfit)
	}
}

func TestLowStockCount(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	rice, _ := svc.LookupProductByBarcode(ctx, "1005")
	lowStock := 4
	if _, err := svc.UpdateProduct(ctx, rice.ID, domain.ProductUpdateRequest{StockQuantity: &lowStock}); err != nil {
		t.Fatalf("update stock: %v", err)
	}
	exactlyThreshold := 5
	milk, _ := svc.LookupProductByBarcode(ctx, "1001")
	if _, err := svc.UpdateProduct(ctx, milk.ID, domain.ProductUpdateRequest{StockQuantity: &exactlyThreshold}); err != nil {
		t.Fatalf("update stock: %v", err)
	}

	metrics, err := svc.DashboardMetrics(ctx)
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	// Strictly below 5 counts; exactly 5 does not.
	if metrics.LowStockCount != 1 {
		t.Fatalf("low stock = %d, want 1", metrics.LowStockCount)
	}
}

func TestSettingsLazyDefaultsAndUpdate(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	settings, err := svc.GetSettings(ctx)
	if err != nil {
		t.Fatalf("get settings: %v", err)
	}
	if settings.ShopName != "My Grocery Shop" || settings.CurrencySymbol != "$" {
		t.Fatalf("defaults = %+v", settings)
	}
	if !settings.DefaultTaxRate.IsZero() {
		t.Fatalf("default tax rate = %s, want 0", settings.DefaultTaxRate)
	}

	name := "Corner Mart"
	rate := dec(t, "7.5")
	updated, err := svc.UpdateSettings(ctx, domain.SettingsUpdateRequest{
		ShopName:       &name,
		DefaultTaxRate: &rate,
	})
	if err != nil {
		t.Fatalf("update settings: %v", err)
	}
	if updated.ShopName != "Corner Mart" || !updated.DefaultTaxRate.Equal(rate) {
		t.Fatalf("updated = %+v", updated)
	}
	if updated.Address != "123 Market St" {
		t.Fatalf("untouched address changed: %q", updated.Address)
	}

	again, err := svc.GetSettings(ctx)
	if err != nil {
		t.Fatalf("reload settings: %v", err)
	}
	if again.ShopName != "Corner Mart" {
		t.Fatalf("update not persisted: %+v", again)
	}
}

func TestAddExpenseValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.AddExpense(ctx, domain.ExpenseCreateRequest{Amount: dec(t, "5.00")})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v, want validation error for missing description", err)
	}

	created, err := svc.AddExpense(ctx, domain.ExpenseCreateRequest{
		Description: "Rent",
		Amount:      dec(t, "500.00"),
	})
	if err != nil {
		t.Fatalf("add expense: %v", err)
	}
	if created.Category != "Operational" {
		t.Fatalf("category = %q, want Operational", created.Category)
	}

	expenses, err := svc.ListExpenses(ctx, 10)
	if err != nil {
		t.Fatalf("list expenses: %v", err)
	}
	if len(expenses) != 1 {
		t.Fatalf("expenses = %d, want 1", len(expenses))
	}
}
