package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"shopledger/backend/internal/billno"
	"shopledger/backend/internal/cache"
	"shopledger/backend/internal/domain"
	"shopledger/backend/internal/reporting"
	"shopledger/backend/internal/store"
)

const billNumberAttempts = 3

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// ValidationError carries per-field messages for a rejected request body.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %d field(s)", len(e.Fields))
}

type Service struct {
	repo     store.Repository
	cache    cache.LookupCache
	validate *validator.Validate
	cacheTTL time.Duration
	now      func() time.Time
}

func New(repo store.Repository, lookupCache cache.LookupCache, cacheTTL time.Duration) *Service {
	if lookupCache == nil {
		lookupCache = cache.NoopLookupCache{}
	}
	if cacheTTL <= 0 {
		cacheTTL = time.Minute
	}

	return &Service{
		repo:     repo,
		cache:    lookupCache,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		cacheTTL: cacheTTL,
		now:      time.Now,
	}
}

func (s *Service) validateStruct(req any) error {
	err := s.validate.Struct(req)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[strings.ToLower(fe.Field())] = fmt.Sprintf("failed on the '%s' rule", fe.Tag())
	}
	return &ValidationError{Fields: fields}
}

func fieldError(field string, message string) error {
	return &ValidationError{Fields: map[string]string{field: message}}
}

// --- Products ---

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (*domain.Product, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Barcode = strings.TrimSpace(req.Barcode)
	req.Category = strings.TrimSpace(req.Category)
	if req.Category == "" {
		req.Category = "General"
	}

	if err := s.validateStruct(req); err != nil {
		return nil, err
	}
	if req.Price.IsNegative() {
		return nil, fieldError("price", "must not be negative")
	}
	if req.CostPrice.IsNegative() {
		return nil, fieldError("cost_price", "must not be negative")
	}

	product := domain.Product{
		Name:          req.Name,
		Barcode:       req.Barcode,
		Price:         req.Price,
		CostPrice:     req.CostPrice,
		StockQuantity: req.StockQuantity,
		Category:      req.Category,
	}

	created, err := s.repo.CreateProduct(ctx, product)
	if err != nil {
		return nil, err
	}

	s.logActor(ctx, "product created", slog.String("barcode", created.Barcode))
	return created, nil
}

func (s *Service) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	return s.repo.GetProduct(ctx, id)
}

// LookupProductByBarcode serves the billing screen's scan path, fronted by
// the lookup cache when one is configured.
func (s *Service) LookupProductByBarcode(ctx context.Context, barcode string) (*domain.Product, error) {
	barcode = strings.TrimSpace(barcode)
	if barcode == "" {
		return nil, fieldError("barcode", "must not be empty")
	}

	if cached, ok, err := s.cache.GetProduct(ctx, barcode); err != nil {
		slog.Warn("product cache read failed", "barcode", barcode, "error", err)
	} else if ok {
		return cached, nil
	}

	product, err := s.repo.GetProductByBarcode(ctx, barcode)
	if err != nil {
		return nil, err
	}

	if err := s.cache.SetProduct(ctx, barcode, product, s.cacheTTL); err != nil {
		slog.Warn("product cache write failed", "barcode", barcode, "error", err)
	}
	return product, nil
}

// SearchProducts matches name or barcode substrings; an empty query
// returns the full catalog.
func (s *Service) SearchProducts(ctx context.Context, query string) ([]domain.Product, error) {
	return s.repo.SearchProducts(ctx, strings.TrimSpace(query))
}

// UpdateProduct applies a partial patch: only the fields present in the
// request change, the rest keep their stored values.
func (s *Service) UpdateProduct(ctx context.Context, id int64, req domain.ProductUpdateRequest) (*domain.Product, error) {
	existing, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return nil, err
	}
	priorBarcode := existing.Barcode

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, fieldError("name", "must not be empty")
		}
		existing.Name = name
	}
	if req.Barcode != nil {
		barcode := strings.TrimSpace(*req.Barcode)
		if barcode == "" {
			return nil, fieldError("barcode", "must not be empty")
		}
		existing.Barcode = barcode
	}
	if req.Price != nil {
		if req.Price.IsNegative() {
			return nil, fieldError("price", "must not be negative")
		}
		existing.Price = *req.Price
	}
	if req.CostPrice != nil {
		if req.CostPrice.IsNegative() {
			return nil, fieldError("cost_price", "must not be negative")
		}
		existing.CostPrice = *req.CostPrice
	}
	if req.StockQuantity != nil {
		if *req.StockQuantity < 0 {
			return nil, fieldError("stock_quantity", "must not be negative")
		}
		existing.StockQuantity = *req.StockQuantity
	}
	if req.Category != nil {
		existing.Category = strings.TrimSpace(*req.Category)
	}

	updated, err := s.repo.UpdateProduct(ctx, *existing)
	if err != nil {
		return nil, err
	}

	s.invalidateProduct(ctx, priorBarcode)
	if updated.Barcode != priorBarcode {
		s.invalidateProduct(ctx, updated.Barcode)
	}
	s.logActor(ctx, "product updated", slog.Int64("id", id))
	return updated, nil
}

func (s *Service) DeleteProduct(ctx context.Context, id int64) error {
	existing, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return err
	}

	if err := s.repo.DeleteProduct(ctx, id); err != nil {
		return err
	}

	s.invalidateProduct(ctx, existing.Barcode)
	s.logActor(ctx, "product deleted", slog.Int64("id", id))
	return nil
}

func (s *Service) invalidateProduct(ctx context.Context, barcode string) {
	if err := s.cache.InvalidateProduct(ctx, barcode); err != nil {
		slog.Warn("product cache invalidation failed", "barcode", barcode, "error", err)
	}
}

// --- Checkout ---

// Checkout persists a bill for the cart. Line items, stock decrements,
// and the bill row commit or roll back together; a retry loop handles
// the rare bill number collision.
func (s *Service) Checkout(ctx context.Context, req domain.CheckoutRequest) (*domain.CheckoutResponse, error) {
	if err := s.validateStruct(req); err != nil {
		return nil, err
	}
	for _, amount := range []struct {
		name  string
		value decimal.Decimal
	}{
		{"subtotal", req.Subtotal},
		{"tax_amount", req.TaxAmount},
		{"discount_amount", req.DiscountAmount},
		{"total_amount", req.TotalAmount},
	} {
		if amount.value.IsNegative() {
			return nil, fieldError(amount.name, "must not be negative")
		}
	}

	customer := strings.TrimSpace(req.CustomerName)
	if customer == "" {
		customer = "Walk-in"
	}
	payment := strings.TrimSpace(req.PaymentMode)
	if payment == "" {
		payment = "Cash"
	}

	items := make([]domain.BillItem, 0, len(req.Items))
	for _, line := range req.Items {
		items = append(items, domain.BillItem{
			ProductID:   line.ProductID,
			Quantity:    line.Quantity,
			PriceAtSale: line.Price,
			Subtotal:    line.Subtotal,
		})
	}

	bill := domain.Bill{
		Date:           s.now().UTC(),
		CustomerName:   customer,
		Subtotal:       req.Subtotal,
		TaxAmount:      req.TaxAmount,
		DiscountAmount: req.DiscountAmount,
		TotalAmount:    req.TotalAmount,
		PaymentMode:    payment,
		Items:          items,
	}

	var created *domain.Bill
	var err error
	for attempt := 0; attempt < billNumberAttempts; attempt++ {
		bill.BillNumber = billno.New()
		created, err = s.repo.CreateBill(ctx, bill)
		if err == nil {
			break
		}
		if !errors.Is(err, store.ErrDuplicateBillNumber) {
			return nil, err
		}
		slog.Warn("bill number collision, regenerating", "bill_number", bill.BillNumber)
	}
	if err != nil {
		return nil, err
	}

	if dropped := len(bill.Items) - len(created.Items); dropped > 0 {
		slog.Warn("checkout dropped unresolvable cart lines", "bill_number", created.BillNumber, "dropped", dropped)
	}

	s.logActor(ctx, "checkout completed",
		slog.String("bill_number", created.BillNumber),
		slog.Int("items", len(created.Items)),
		slog.String("total", created.TotalAmount.String()))

	return &domain.CheckoutResponse{
		BillID:     created.ID,
		BillNumber: created.BillNumber,
		Date:       created.Date.Format(time.RFC3339),
	}, nil
}

func (s *Service) GetBill(ctx context.Context, id int64) (*domain.Bill, error) {
	return s.repo.GetBill(ctx, id)
}

func (s *Service) ListBills(ctx context.Context, limit int) ([]domain.Bill, error) {
	if limit < 1 || limit > 500 {
		limit = 100
	}
	return s.repo.ListBills(ctx, limit)
}

// --- Expenses ---

func (s *Service) AddExpense(ctx context.Context, req domain.ExpenseCreateRequest) (*domain.Expense, error) {
	req.Description = strings.TrimSpace(req.Description)
	req.Category = strings.TrimSpace(req.Category)
	if req.Category == "" {
		req.Category = "Operational"
	}

	if err := s.validateStruct(req); err != nil {
		return nil, err
	}
	if req.Amount.IsNegative() {
		return nil, fieldError("amount", "must not be negative")
	}

	expense := domain.Expense{
		Description: req.Description,
		Amount:      req.Amount,
		Category:    req.Category,
		Date:        s.now().UTC(),
	}

	created, err := s.repo.AddExpense(ctx, expense)
	if err != nil {
		return nil, err
	}

	s.logActor(ctx, "expense recorded", slog.String("amount", created.Amount.String()))
	return created, nil
}

func (s *Service) ListExpenses(ctx context.Context, limit int) ([]domain.Expense, error) {
	if limit < 1 || limit > 500 {
		limit = 200
	}
	return s.repo.ListExpenses(ctx, limit)
}

// --- Settings ---

func (s *Service) GetSettings(ctx context.Context) (*domain.Settings, error) {
	if cached, ok, err := s.cache.GetSettings(ctx); err != nil {
		slog.Warn("settings cache read failed", "error", err)
	} else if ok {
		return cached, nil
	}

	settings, err := s.repo.GetSettings(ctx)
	if err != nil {
		return nil, err
	}

	if err := s.cache.SetSettings(ctx, settings, s.cacheTTL); err != nil {
		slog.Warn("settings cache write failed", "error", err)
	}
	return settings, nil
}

func (s *Service) UpdateSettings(ctx context.Context, req domain.SettingsUpdateRequest) (*domain.Settings, error) {
	existing, err := s.repo.GetSettings(ctx)
	if err != nil {
		return nil, err
	}

	if req.ShopName != nil {
		name := strings.TrimSpace(*req.ShopName)
		if name == "" {
			return nil, fieldError("shop_name", "must not be empty")
		}
		existing.ShopName = name
	}
	if req.Address != nil {
		existing.Address = strings.TrimSpace(*req.Address)
	}
	if req.Phone != nil {
		existing.Phone = strings.TrimSpace(*req.Phone)
	}
	if req.CurrencySymbol != nil {
		symbol := strings.TrimSpace(*req.CurrencySymbol)
		if symbol == "" {
			return nil, fieldError("currency_symbol", "must not be empty")
		}
		existing.CurrencySymbol = symbol
	}
	if req.DefaultTaxRate != nil {
		if req.DefaultTaxRate.IsNegative() {
			return nil, fieldError("default_tax_rate", "must not be negative")
		}
		existing.DefaultTaxRate = *req.DefaultTaxRate
	}

	updated, err := s.repo.UpdateSettings(ctx, *existing)
	if err != nil {
		return nil, err
	}

	if err := s.cache.InvalidateSettings(ctx); err != nil {
		slog.Warn("settings cache invalidation failed", "error", err)
	}
	s.logActor(ctx, "settings updated")
	return updated, nil
}

// --- Dashboard ---

// DashboardMetrics assembles the landing page figures. A failed store read
// logs a warning and leaves that figure zeroed rather than failing the
// whole response.
func (s *Service) DashboardMetrics(ctx context.Context) (*domain.DashboardMetrics, error) {
	now := s.now().UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	seriesStart := dayStart.AddDate(0, 0, -6)

	metrics := &domain.DashboardMetrics{
		TodaySales:    decimal.Zero,
		TodayProfit:   decimal.Zero,
		TodayExpenses: decimal.Zero,
		MonthSales:    decimal.Zero,
		MonthProfit:   decimal.Zero,
		RecentBills:   []domain.Bill{},
	}

	if count, err := s.repo.CountProducts(ctx); err != nil {
		slog.Warn("dashboard: product count failed", "error", err)
	} else {
		metrics.TotalProducts = count
	}
	if count, err := s.repo.CountLowStock(ctx, reporting.LowStockThreshold); err != nil {
		slog.Warn("dashboard: low stock count failed", "error", err)
	} else {
		metrics.LowStockCount = count
	}

	todayBills, err := s.repo.ListBillsBetween(ctx, dayStart, dayStart.AddDate(0, 0, 1))
	if err != nil {
		slog.Warn("dashboard: today's bills query failed", "error", err)
	}
	todayExpenses, err := s.repo.ListExpensesBetween(ctx, dayStart, dayStart.AddDate(0, 0, 1))
	if err != nil {
		slog.Warn("dashboard: today's expenses query failed", "error", err)
	}
	today := reporting.Summarize(todayBills, todayExpenses)
	metrics.TodaySales = today.Sales
	metrics.TodayProfit = today.Profit
	metrics.TodayExpenses = today.Expenses

	monthBills, err := s.repo.ListBillsBetween(ctx, monthStart, monthStart.AddDate(0, 1, 0))
	if err != nil {
		slog.Warn("dashboard: month bills query failed", "error", err)
	}
	monthExpenses, err := s.repo.ListExpensesBetween(ctx, monthStart, monthStart.AddDate(0, 1, 0))
	if err != nil {
		slog.Warn("dashboard: month expenses query failed", "error", err)
	}
	month := reporting.Summarize(monthBills, monthExpenses)
	metrics.MonthSales = month.Sales
	metrics.MonthProfit = month.Profit

	if recent, err := s.repo.ListBills(ctx, 5); err != nil {
		slog.Warn("dashboard: recent bills query failed", "error", err)
	} else {
		metrics.RecentBills = recent
	}

	metrics.Series = s.dailySeries(ctx, seriesStart, dayStart)
	return metrics, nil
}

// dailySeries buckets one window of bills and expenses into per-day totals
// for the trailing seven days, labelled "Jan 02" style.
func (s *Service) dailySeries(ctx context.Context, from time.Time, lastDay time.Time) []domain.SeriesPoint {
	bills, err := s.repo.ListBillsBetween(ctx, from, lastDay.AddDate(0, 0, 1))
	if err != nil {
		slog.Warn("dashboard: series bills query failed", "error", err)
	}
	expenses, err := s.repo.ListExpensesBetween(ctx, from, lastDay.AddDate(0, 0, 1))
	if err != nil {
		slog.Warn("dashboard: series expenses query failed", "error", err)
	}

	billsByDay := make(map[string][]domain.Bill)
	for _, bill := range bills {
		key := bill.Date.UTC().Format("2006-01-02")
		billsByDay[key] = append(billsByDay[key], bill)
	}
	expensesByDay := make(map[string][]domain.Expense)
	for _, expense := range expenses {
		key := expense.Date.UTC().Format("2006-01-02")
		expensesByDay[key] = append(expensesByDay[key], expense)
	}

	series := make([]domain.SeriesPoint, 0, 7)
	for day := from; !day.After(lastDay); day = day.AddDate(0, 0, 1) {
		key := day.Format("2006-01-02")
		totals := reporting.Summarize(billsByDay[key], expensesByDay[key])
		series = append(series, domain.SeriesPoint{
			Label:    day.Format("Jan 02"),
			Sales:    totals.Sales,
			Expenses: totals.Expenses,
			Profit:   totals.Profit,
		})
	}
	return series
}

func (s *Service) logActor(ctx context.Context, msg string, attrs ...any) {
	if actor, ok := ActorFromContext(ctx); ok {
		attrs = append(attrs, slog.String("user", actor.Username))
	}
	slog.Info(msg, attrs...)
}
