package memory

import (
	"context"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"shopledger/backend/internal/domain"
	"shopledger/backend/internal/store"
)

type Store struct {
	mu            sync.RWMutex
	products      map[int64]domain.Product
	bills         map[int64]domain.Bill
	billNumbers   map[string]int64
	expenses      []domain.Expense
	settings      *domain.Settings
	users         map[string]domain.UserAccount
	nextProductID int64
	nextBillID    int64
	nextItemID    int64
	nextExpenseID int64
}

// seedUsers builds the initial in-memory accounts for dev/demo mode.
// Credentials come from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD;
// unset variables fall back to hardcoded dev defaults with a warning.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		slog.Warn("memory store using default dev credentials; set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"cashier", cashierPwd, "cashier"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.MinCost)
		if err != nil {
			slog.Error("failed to hash seed password", "username", u.username, "error", err)
			os.Exit(1)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func dec(s string) decimal.Decimal {
	d, _ := decimal.NewFromString(s)
	return d
}

func New() *Store {
	return &Store{
		products:    make(map[int64]domain.Product),
		bills:       make(map[int64]domain.Bill),
		billNumbers: make(map[string]int64),
		expenses:    make([]domain.Expense, 0, 64),
		users:       seedUsers(),
	}
}

func NewSeeded() *Store {
	s := New()
	seed := []domain.Product{
		{Name: "Milk", Barcode: "1001", Price: dec("3.50"), CostPrice: dec("2.00"), StockQuantity: 50, Category: "Dairy"},
		{Name: "Bread", Barcode: "1002", Price: dec("2.50"), CostPrice: dec("1.20"), StockQuantity: 40, Category: "Bakery"},
		{Name: "Eggs (Dozen)", Barcode: "1003", Price: dec("4.00"), CostPrice: dec("2.80"), StockQuantity: 30, Category: "Dairy"},
		{Name: "Apple", Barcode: "1004", Price: dec("0.80"), CostPrice: dec("0.40"), StockQuantity: 100, Category: "Fruits"},
		{Name: "Rice (1kg)", Barcode: "1005", Price: dec("5.00"), CostPrice: dec("3.50"), StockQuantity: 20, Category: "Grains"},
	}
	for _, p := range seed {
		s.nextProductID++
		p.ID = s.nextProductID
		s.products[p.ID] = p
	}
	return s
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.products {
		if existing.Barcode == product.Barcode {
			return nil, store.ErrDuplicateBarcode
		}
	}

	s.nextProductID++
	product.ID = s.nextProductID
	s.products[product.ID] = product

	created := product
	return &created, nil
}

func (s *Store) GetProduct(_ context.Context, id int64) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, exists := s.products[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copied := product
	return &copied, nil
}

func (s *Store) GetProductByBarcode(_ context.Context, barcode string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, product := range s.products {
		if product.Barcode == barcode {
			copied := product
			return &copied, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) SearchProducts(_ context.Context, query string) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	needle := strings.ToLower(strings.TrimSpace(query))
	products := make([]domain.Product, 0, len(s.products))
	for _, product := range s.products {
		if needle != "" &&
			!strings.Contains(strings.ToLower(product.Name), needle) &&
			!strings.Contains(strings.ToLower(product.Barcode), needle) {
			continue
		}
		products = append(products, product)
	}

	slices.SortFunc(products, func(a, b domain.Product) int {
		return strings.Compare(a.Name, b.Name)
	})
	return products, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.products[product.ID]; !exists {
		return nil, store.ErrNotFound
	}
	for id, existing := range s.products {
		if id != product.ID && existing.Barcode == product.Barcode {
			return nil, store.ErrDuplicateBarcode
		}
	}

	s.products[product.ID] = product
	updated := product
	return &updated, nil
}

func (s *Store) DeleteProduct(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.products[id]; !exists {
		return store.ErrNotFound
	}
	for _, bill := range s.bills {
		for _, item := range bill.Items {
			if item.ProductID == id {
				return store.ErrProductReferenced
			}
		}
	}

	delete(s.products, id)
	return nil
}

func (s *Store) CountProducts(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.products), nil
}

func (s *Store) CountLowStock(_ context.Context, threshold int) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, product := range s.products {
		if product.StockQuantity < threshold {
			count++
		}
	}
	return count, nil
}

// CreateBill applies the checkout in two phases under the write lock:
// first every line is resolved and its stock verified, then the decrements
// and the bill write happen together. A failed line leaves no state behind.
func (s *Store) CreateBill(_ context.Context, bill domain.Bill) (*domain.Bill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.billNumbers[bill.BillNumber]; exists {
		return nil, store.ErrDuplicateBillNumber
	}

	type resolvedLine struct {
		product domain.Product
		item    domain.BillItem
	}
	resolved := make([]resolvedLine, 0, len(bill.Items))
	for _, item := range bill.Items {
		product, exists := s.products[item.ProductID]
		if !exists {
			// Unresolvable cart lines are dropped, not fatal.
			continue
		}
		if product.StockQuantity < item.Quantity {
			return nil, &store.InsufficientStockError{
				ProductName: product.Name,
				Requested:   item.Quantity,
				Available:   product.StockQuantity,
			}
		}
		resolved = append(resolved, resolvedLine{product: product, item: item})
	}

	s.nextBillID++
	bill.ID = s.nextBillID
	items := make([]domain.BillItem, 0, len(resolved))
	for _, line := range resolved {
		product := line.product
		product.StockQuantity -= line.item.Quantity
		s.products[product.ID] = product

		s.nextItemID++
		item := line.item
		item.ID = s.nextItemID
		item.BillID = bill.ID
		item.ProductName = product.Name
		item.CostPrice = product.CostPrice
		items = append(items, item)
	}
	bill.Items = items

	s.bills[bill.ID] = bill
	s.billNumbers[bill.BillNumber] = bill.ID

	created := bill
	return &created, nil
}

func (s *Store) GetBill(_ context.Context, id int64) (*domain.Bill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bill, exists := s.bills[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copied := bill
	copied.Items = s.itemsWithLiveCost(bill.Items)
	return &copied, nil
}

func (s *Store) ListBills(_ context.Context, limit int) ([]domain.Bill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bills := s.sortedBillsLocked()
	if limit > 0 && len(bills) > limit {
		bills = bills[:limit]
	}
	return bills, nil
}

func (s *Store) ListBillsBetween(_ context.Context, from time.Time, to time.Time) ([]domain.Bill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bills := make([]domain.Bill, 0, 16)
	for _, bill := range s.sortedBillsLocked() {
		if bill.Date.Before(from) || !bill.Date.Before(to) {
			continue
		}
		bills = append(bills, bill)
	}
	return bills, nil
}

func (s *Store) sortedBillsLocked() []domain.Bill {
	bills := make([]domain.Bill, 0, len(s.bills))
	for _, bill := range s.bills {
		copied := bill
		copied.Items = s.itemsWithLiveCost(bill.Items)
		bills = append(bills, copied)
	}
	slices.SortFunc(bills, func(a, b domain.Bill) int {
		if a.Date.Equal(b.Date) {
			return int(b.ID - a.ID)
		}
		if a.Date.After(b.Date) {
			return -1
		}
		return 1
	})
	return bills
}

// itemsWithLiveCost mirrors the SQL stores' read-time join: the product's
// current cost price and name, not a snapshot, ride on each item.
func (s *Store) itemsWithLiveCost(items []domain.BillItem) []domain.BillItem {
	out := make([]domain.BillItem, len(items))
	for i, item := range items {
		if product, exists := s.products[item.ProductID]; exists {
			item.ProductName = product.Name
			item.CostPrice = product.CostPrice
		}
		out[i] = item
	}
	return out
}

func (s *Store) AddExpense(_ context.Context, expense domain.Expense) (*domain.Expense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextExpenseID++
	expense.ID = s.nextExpenseID
	s.expenses = append(s.expenses, expense)

	created := expense
	return &created, nil
}

func (s *Store) ListExpenses(_ context.Context, limit int) ([]domain.Expense, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	expenses := make([]domain.Expense, len(s.expenses))
	copy(expenses, s.expenses)
	slices.SortFunc(expenses, func(a, b domain.Expense) int {
		if a.Date.Equal(b.Date) {
			return int(b.ID - a.ID)
		}
		if a.Date.After(b.Date) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(expenses) > limit {
		expenses = expenses[:limit]
	}
	return expenses, nil
}

func (s *Store) ListExpensesBetween(_ context.Context, from time.Time, to time.Time) ([]domain.Expense, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	expenses := make([]domain.Expense, 0, 16)
	for _, expense := range s.expenses {
		if expense.Date.Before(from) || !expense.Date.Before(to) {
			continue
		}
		expenses = append(expenses, expense)
	}
	return expenses, nil
}

func (s *Store) GetSettings(_ context.Context) (*domain.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.settings == nil {
		defaults := domain.DefaultSettings()
		s.settings = &defaults
	}
	copied := *s.settings
	return &copied, nil
}

func (s *Store) UpdateSettings(_ context.Context, settings domain.Settings) (*domain.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.settings = &settings
	copied := settings
	return &copied, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[user.Username]; exists {
		return store.ErrDuplicateUser
	}
	s.users[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.users))
	for _, user := range s.users {
		users = append(users, user)
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, exists := s.users[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.users[username] = user
	return nil
}
