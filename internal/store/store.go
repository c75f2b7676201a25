package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"shopledger/backend/internal/domain"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrDuplicateBarcode    = errors.New("barcode already exists")
	ErrDuplicateBillNumber = errors.New("bill number already exists")
	ErrProductReferenced   = errors.New("product is referenced by existing bills")
	ErrDuplicateUser       = errors.New("username already exists")
	ErrInsufficientStock   = errors.New("insufficient stock")
)

// InsufficientStockError reports which product could not cover the
// requested quantity. It matches store.ErrInsufficientStock via errors.Is.
type InsufficientStockError struct {
	ProductName string
	Requested   int
	Available   int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s", e.ProductName)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

type Repository interface {
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	GetProduct(ctx context.Context, id int64) (*domain.Product, error)
	GetProductByBarcode(ctx context.Context, barcode string) (*domain.Product, error)
	SearchProducts(ctx context.Context, query string) ([]domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	DeleteProduct(ctx context.Context, id int64) error
	CountProducts(ctx context.Context) (int, error)
	CountLowStock(ctx context.Context, threshold int) (int, error)

	// CreateBill persists the bill, its items, and the matching stock
	// decrements as a single atomic unit. Lines whose product id does not
	// resolve are dropped; a line exceeding available stock aborts the
	// whole transaction with an InsufficientStockError.
	CreateBill(ctx context.Context, bill domain.Bill) (*domain.Bill, error)
	GetBill(ctx context.Context, id int64) (*domain.Bill, error)
	ListBills(ctx context.Context, limit int) ([]domain.Bill, error)
	ListBillsBetween(ctx context.Context, from time.Time, to time.Time) ([]domain.Bill, error)

	AddExpense(ctx context.Context, expense domain.Expense) (*domain.Expense, error)
	ListExpenses(ctx context.Context, limit int) ([]domain.Expense, error)
	ListExpensesBetween(ctx context.Context, from time.Time, to time.Time) ([]domain.Expense, error)

	GetSettings(ctx context.Context) (*domain.Settings, error)
	UpdateSettings(ctx context.Context, settings domain.Settings) (*domain.Settings, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
