// Package sqlite provides a SQLite-backed implementation of the
// store.Repository interface. It is the default backend: a single file,
// no server, which suits a one-register shop.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	"shopledger/backend/internal/domain"
	"shopledger/backend/internal/store"
)

// Ensure Store implements store.Repository
var _ store.Repository = (*Store)(nil)

type Store struct {
	db *sql.DB
}

// New opens (creating parent directories if needed) the database at
// dbPath, applies the schema, and seeds default user accounts when the
// users table is empty.
func New(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// The driver requires a single writer; a second writer would get
	// SQLITE_BUSY instead of queueing.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	s := &Store{db: db}
	if err := s.seedUsersIfEmpty(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to seed users: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) seedUsersIfEmpty() error {
	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM users").Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		slog.Warn("seeding default dev credentials; set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override")
	}

	now := time.Now().UTC().Unix()
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"cashier", cashierPwd, "cashier"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			return err
		}
		_, err = s.db.Exec(
			"INSERT INTO users (username, password, role, active, created_at) VALUES (?, ?, ?, 1, ?)",
			u.username, string(hash), u.role, now,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO products (name, barcode, price, cost_price, stock_quantity, category)
		VALUES (?, ?, ?, ?, ?, ?)
	`, product.Name, product.Barcode, product.Price.String(), product.CostPrice.String(), product.StockQuantity, product.Category)
	if err != nil {
		if isUniqueViolation(err, "products.barcode") {
			return nil, store.ErrDuplicateBarcode
		}
		return nil, err
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	product.ID = id
	created := product
	return &created, nil
}

func (s *Store) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	return s.getProduct(ctx, "id", id)
}

func (s *Store) GetProductByBarcode(ctx context.Context, barcode string) (*domain.Product, error) {
	return s.getProduct(ctx, "barcode", barcode)
}

func (s *Store) getProduct(ctx context.Context, column string, value any) (*domain.Product, error) {
	if column != "id" && column != "barcode" {
		return nil, fmt.Errorf("unsupported product lookup column: %s", column)
	}

	var p domain.Product
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, barcode, price, cost_price, stock_quantity, category
		FROM products
		WHERE `+column+` = ?
	`, value).Scan(&p.ID, &p.Name, &p.Barcode, &p.Price, &p.CostPrice, &p.StockQuantity, &p.Category)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *Store) SearchProducts(ctx context.Context, query string) ([]domain.Product, error) {
	needle := "%" + strings.ToLower(strings.TrimSpace(query)) + "%"
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, barcode, price, cost_price, stock_quantity, category
		FROM products
		WHERE lower(name) LIKE ? OR lower(barcode) LIKE ?
		ORDER BY name
	`, needle, needle)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 64)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Barcode, &p.Price, &p.CostPrice, &p.StockQuantity, &p.Category); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET name = ?, barcode = ?, price = ?, cost_price = ?, stock_quantity = ?, category = ?
		WHERE id = ?
	`, product.Name, product.Barcode, product.Price.String(), product.CostPrice.String(), product.StockQuantity, product.Category, product.ID)
	if err != nil {
		if isUniqueViolation(err, "products.barcode") {
			return nil, store.ErrDuplicateBarcode
		}
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}

	updated := product
	return &updated, nil
}

func (s *Store) DeleteProduct(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM products WHERE id = ?", id)
	if err != nil {
		if isForeignKeyViolation(err) {
			return store.ErrProductReferenced
		}
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) CountProducts(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM products").Scan(&count)
	return count, err
}

func (s *Store) CountLowStock(ctx context.Context, threshold int) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM products WHERE stock_quantity < ?", threshold).Scan(&count)
	return count, err
}

// CreateBill runs the checkout transaction: the bill row, the stock
// decrements, and the item rows commit or roll back together. The stock
// check is a conditional update (qty >= requested in the WHERE clause)
// so concurrent checkouts cannot oversell.
func (s *Store) CreateBill(ctx context.Context, bill domain.Bill) (*domain.Bill, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO bills (bill_number, date, customer_name, subtotal, tax_amount, discount_amount, total_amount, payment_mode)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, bill.BillNumber, bill.Date.UTC().Unix(), bill.CustomerName,
		bill.Subtotal.String(), bill.TaxAmount.String(), bill.DiscountAmount.String(),
		bill.TotalAmount.String(), bill.PaymentMode)
	if err != nil {
		if isUniqueViolation(err, "bills.bill_number") {
			return nil, store.ErrDuplicateBillNumber
		}
		return nil, err
	}
	billID, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	kept := make([]domain.BillItem, 0, len(bill.Items))
	for _, item := range bill.Items {
		var name string
		var available int
		var costPrice string
		err := tx.QueryRowContext(ctx,
			"SELECT name, stock_quantity, cost_price FROM products WHERE id = ?",
			item.ProductID,
		).Scan(&name, &available, &costPrice)
		if errors.Is(err, sql.ErrNoRows) {
			// Unresolvable cart lines are dropped, not fatal.
			continue
		}
		if err != nil {
			return nil, err
		}

		decRes, err := tx.ExecContext(ctx, `
			UPDATE products
			SET stock_quantity = stock_quantity - ?
			WHERE id = ? AND stock_quantity >= ?
		`, item.Quantity, item.ProductID, item.Quantity)
		if err != nil {
			return nil, err
		}
		affected, err := decRes.RowsAffected()
		if err != nil {
			return nil, err
		}
		if affected == 0 {
			return nil, &store.InsufficientStockError{
				ProductName: name,
				Requested:   item.Quantity,
				Available:   available,
			}
		}

		itemRes, err := tx.ExecContext(ctx, `
			INSERT INTO bill_items (bill_id, product_id, quantity, price_at_sale, subtotal)
			VALUES (?, ?, ?, ?, ?)
		`, billID, item.ProductID, item.Quantity, item.PriceAtSale.String(), item.Subtotal.String())
		if err != nil {
			return nil, err
		}
		itemID, err := itemRes.LastInsertId()
		if err != nil {
			return nil, err
		}

		item.ID = itemID
		item.BillID = billID
		item.ProductName = name
		kept = append(kept, item)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	bill.ID = billID
	bill.Items = kept
	created := bill
	return &created, nil
}

func (s *Store) GetBill(ctx context.Context, id int64) (*domain.Bill, error) {
	var bill domain.Bill
	var unix int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, bill_number, date, customer_name, subtotal, tax_amount, discount_amount, total_amount, payment_mode
		FROM bills
		WHERE id = ?
	`, id).Scan(&bill.ID, &bill.BillNumber, &unix, &bill.CustomerName,
		&bill.Subtotal, &bill.TaxAmount, &bill.DiscountAmount, &bill.TotalAmount, &bill.PaymentMode)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	bill.Date = time.Unix(unix, 0).UTC()

	items, err := s.billItems(ctx, bill.ID)
	if err != nil {
		return nil, err
	}
	bill.Items = items
	return &bill, nil
}

func (s *Store) ListBills(ctx context.Context, limit int) ([]domain.Bill, error) {
	if limit < 1 {
		limit = 100
	}
	return s.queryBills(ctx, `
		SELECT id, bill_number, date, customer_name, subtotal, tax_amount, discount_amount, total_amount, payment_mode
		FROM bills
		ORDER BY date DESC, id DESC
		LIMIT ?
	`, limit)
}

func (s *Store) ListBillsBetween(ctx context.Context, from time.Time, to time.Time) ([]domain.Bill, error) {
	return s.queryBills(ctx, `
		SELECT id, bill_number, date, customer_name, subtotal, tax_amount, discount_amount, total_amount, payment_mode
		FROM bills
		WHERE date >= ? AND date < ?
		ORDER BY date DESC, id DESC
	`, from.UTC().Unix(), to.UTC().Unix())
}

func (s *Store) queryBills(ctx context.Context, query string, args ...any) ([]domain.Bill, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	bills := make([]domain.Bill, 0, 32)
	for rows.Next() {
		var bill domain.Bill
		var unix int64
		if err := rows.Scan(&bill.ID, &bill.BillNumber, &unix, &bill.CustomerName,
			&bill.Subtotal, &bill.TaxAmount, &bill.DiscountAmount, &bill.TotalAmount, &bill.PaymentMode); err != nil {
			return nil, err
		}
		bill.Date = time.Unix(unix, 0).UTC()
		bills = append(bills, bill)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range bills {
		items, err := s.billItems(ctx, bills[i].ID)
		if err != nil {
			return nil, err
		}
		bills[i].Items = items
	}
	return bills, nil
}

// billItems joins the product for its name and *current* cost price;
// profit reporting deliberately tracks cost edits instead of a snapshot.
func (s *Store) billItems(ctx context.Context, billID int64) ([]domain.BillItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT bi.id, bi.bill_id, bi.product_id, COALESCE(p.name, ''), bi.quantity,
			bi.price_at_sale, bi.subtotal, COALESCE(p.cost_price, '0')
		FROM bill_items bi
		LEFT JOIN products p ON p.id = bi.product_id
		WHERE bi.bill_id = ?
		ORDER BY bi.id
	`, billID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.BillItem, 0, 8)
	for rows.Next() {
		var item domain.BillItem
		if err := rows.Scan(&item.ID, &item.BillID, &item.ProductID, &item.ProductName,
			&item.Quantity, &item.PriceAtSale, &item.Subtotal, &item.CostPrice); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) AddExpense(ctx context.Context, expense domain.Expense) (*domain.Expense, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO expenses (description, amount, category, date)
		VALUES (?, ?, ?, ?)
	`, expense.Description, expense.Amount.String(), expense.Category, expense.Date.UTC().Unix())
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	expense.ID = id
	created := expense
	return &created, nil
}

func (s *Store) ListExpenses(ctx context.Context, limit int) ([]domain.Expense, error) {
	if limit < 1 {
		limit = 200
	}
	return s.queryExpenses(ctx, `
		SELECT id, description, amount, category, date
		FROM expenses
		ORDER BY date DESC, id DESC
		LIMIT ?
	`, limit)
}

func (s *Store) ListExpensesBetween(ctx context.Context, from time.Time, to time.Time) ([]domain.Expense, error) {
	return s.queryExpenses(ctx, `
		SELECT id, description, amount, category, date
		FROM expenses
		WHERE date >= ? AND date < ?
		ORDER BY date DESC, id DESC
	`, from.UTC().Unix(), to.UTC().Unix())
}

func (s *Store) queryExpenses(ctx context.Context, query string, args ...any) ([]domain.Expense, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	expenses := make([]domain.Expense, 0, 32)
	for rows.Next() {
		var expense domain.Expense
		var unix int64
		if err := rows.Scan(&expense.ID, &expense.Description, &expense.Amount, &expense.Category, &unix); err != nil {
			return nil, err
		}
		expense.Date = time.Unix(unix, 0).UTC()
		expenses = append(expenses, expense)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return expenses, nil
}

// GetSettings returns the singleton row under the fixed id 1, creating it
// with defaults on first access.
func (s *Store) GetSettings(ctx context.Context) (*domain.Settings, error) {
	defaults := domain.DefaultSettings()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (id, shop_name, address, phone, currency_symbol, default_tax_rate)
		VALUES (1, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING
	`, defaults.ShopName, defaults.Address, defaults.Phone, defaults.CurrencySymbol, defaults.DefaultTaxRate.String())
	if err != nil {
		return nil, err
	}

	var settings domain.Settings
	err = s.db.QueryRowContext(ctx, `
		SELECT shop_name, address, phone, currency_symbol, default_tax_rate
		FROM settings
		WHERE id = 1
	`).Scan(&settings.ShopName, &settings.Address, &settings.Phone, &settings.CurrencySymbol, &settings.DefaultTaxRate)
	if err != nil {
		return nil, err
	}
	return &settings, nil
}

func (s *Store) UpdateSettings(ctx context.Context, settings domain.Settings) (*domain.Settings, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (id, shop_name, address, phone, currency_symbol, default_tax_rate)
		VALUES (1, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			shop_name = excluded.shop_name,
			address = excluded.address,
			phone = excluded.phone,
			currency_symbol = excluded.currency_symbol,
			default_tax_rate = excluded.default_tax_rate
	`, settings.ShopName, settings.Address, settings.Phone, settings.CurrencySymbol, settings.DefaultTaxRate.String())
	if err != nil {
		return nil, err
	}
	updated := settings
	return &updated, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password, role, active, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, user.Username, user.Password, user.Role, boolToInt(user.Active), user.CreatedAt.UTC().Unix())
	if err != nil && isUniqueViolation(err, "users.username") {
		return store.ErrDuplicateUser
	}
	return err
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT username, password, role, active, created_at FROM users")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 8)
	for rows.Next() {
		var user domain.UserAccount
		var active int
		var unix int64
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &active, &unix); err != nil {
			return nil, err
		}
		user.Active = active != 0
		user.CreatedAt = time.Unix(unix, 0).UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	res, err := s.db.ExecContext(ctx, "UPDATE users SET password = ? WHERE username = ?", password, username)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueViolation(err error, constraint string) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") && strings.Contains(msg, constraint)
}

func isForeignKeyViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}
