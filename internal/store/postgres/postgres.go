package postgres

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"golang.org/x/crypto/bcrypt"

	"shopledger/backend/internal/domain"
	"shopledger/backend/internal/store"
)

var _ store.Repository = (*Store)(nil)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	if err := ensureSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{db: db}
	if err := s.seedUsersIfEmpty(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) seedUsersIfEmpty(ctx context.Context) error {
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&count); err != nil {
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

	now := time.Now().UTC()
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
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO users (username, password, role, active, created_at)
			VALUES ($1, $2, $3, true, $4)
			ON CONFLICT (username) DO NOTHING
		`, u.username, string(hash), u.role, now)
		if err != nil {
			return err
		}
	}
	return nil
}

func envOr(key string, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (s *Store) Close() error {
	return s.db.Close()
}

// ensureSchema creates the tables on first start. bill_items.product_id
// has no ON DELETE action, so deleting a sold product raises a foreign
// key violation and the ledger keeps its history.
func ensureSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS products (
			id BIGSERIAL PRIMARY KEY,
			name TEXT NOT NULL,
			barcode TEXT NOT NULL UNIQUE,
			price NUMERIC(12,2) NOT NULL,
			cost_price NUMERIC(12,2) NOT NULL DEFAULT 0,
			stock_quantity INTEGER NOT NULL DEFAULT 0 CHECK (stock_quantity >= 0),
			category TEXT NOT NULL DEFAULT 'General'
		);
		CREATE TABLE IF NOT EXISTS bills (
			id BIGSERIAL PRIMARY KEY,
			bill_number TEXT NOT NULL UNIQUE,
			date TIMESTAMPTZ NOT NULL DEFAULT now(),
			customer_name TEXT NOT NULL DEFAULT 'Walk-in',
			subtotal NUMERIC(12,2) NOT NULL DEFAULT 0,
			tax_amount NUMERIC(12,2) NOT NULL DEFAULT 0,
			discount_amount NUMERIC(12,2) NOT NULL DEFAULT 0,
			total_amount NUMERIC(12,2) NOT NULL,
			payment_mode TEXT NOT NULL DEFAULT 'Cash'
		);
		CREATE TABLE IF NOT EXISTS bill_items (
			id BIGSERIAL PRIMARY KEY,
			bill_id BIGINT NOT NULL REFERENCES bills(id) ON DELETE CASCADE,
			product_id BIGINT NOT NULL REFERENCES products(id),
			quantity INTEGER NOT NULL,
			price_at_sale NUMERIC(12,2) NOT NULL,
			subtotal NUMERIC(12,2) NOT NULL
		);
		CREATE TABLE IF NOT EXISTS expenses (
			id BIGSERIAL PRIMARY KEY,
			description TEXT NOT NULL,
			amount NUMERIC(12,2) NOT NULL,
			category TEXT NOT NULL DEFAULT 'Operational',
			date TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE TABLE IF NOT EXISTS settings (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			shop_name TEXT NOT NULL,
			address TEXT NOT NULL,
			phone TEXT NOT NULL,
			currency_symbol TEXT NOT NULL,
			default_tax_rate NUMERIC(6,3) NOT NULL
		);
		CREATE TABLE IF NOT EXISTS users (
			username TEXT PRIMARY KEY,
			password TEXT NOT NULL,
			role TEXT NOT NULL,
			active BOOLEAN NOT NULL DEFAULT true,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS idx_bill_items_bill_id ON bill_items(bill_id);
		CREATE INDEX IF NOT EXISTS idx_bill_items_product_id ON bill_items(product_id);
		CREATE INDEX IF NOT EXISTS idx_bills_date ON bills(date);
		CREATE INDEX IF NOT EXISTS idx_expenses_date ON expenses(date);
	`)
	return err
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO products (name, barcode, price, cost_price, stock_quantity, category)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, product.Name, product.Barcode, product.Price.String(), product.CostPrice.String(),
		product.StockQuantity, product.Category).Scan(&product.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicateBarcode
		}
		return nil, err
	}

	created := product
	return &created, nil
}

func (s *Store) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	return s.getProduct(ctx, "id = $1", id)
}

func (s *Store) GetProductByBarcode(ctx context.Context, barcode string) (*domain.Product, error) {
	return s.getProduct(ctx, "barcode = $1", barcode)
}

func (s *Store) getProduct(ctx context.Context, where string, arg any) (*domain.Product, error) {
	var p domain.Product
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, barcode, price::text, cost_price::text, stock_quantity, category
		FROM products
		WHERE `+where, arg).Scan(&p.ID, &p.Name, &p.Barcode, &p.Price, &p.CostPrice, &p.StockQuantity, &p.Category)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *Store) SearchProducts(ctx context.Context, query string) ([]domain.Product, error) {
	needle := "%" + query + "%"
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, barcode, price::text, cost_price::text, stock_quantity, category
		FROM products
		WHERE name ILIKE $1 OR barcode ILIKE $1
		ORDER BY name
	`, needle)
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
		SET name = $2, barcode = $3, price = $4, cost_price = $5, stock_quantity = $6, category = $7
		WHERE id = $1
	`, product.ID, product.Name, product.Barcode, product.Price.String(), product.CostPrice.String(),
		product.StockQuantity, product.Category)
	if err != nil {
		if isUniqueViolation(err) {
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
	res, err := s.db.ExecContext(ctx, "DELETE FROM products WHERE id = $1", id)
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
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM products WHERE stock_quantity < $1", threshold).Scan(&count)
	return count, err
}

// CreateBill is the checkout transaction. The stock check-and-decrement
// is a single conditional UPDATE (stock_quantity >= requested in the
// WHERE clause) so two concurrent checkouts cannot both take the last
// units; the loser sees zero rows affected and the whole transaction
// rolls back.
func (s *Store) CreateBill(ctx context.Context, bill domain.Bill) (*domain.Bill, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO bills (bill_number, date, customer_name, subtotal, tax_amount, discount_amount, total_amount, payment_mode)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`, bill.BillNumber, bill.Date.UTC(), bill.CustomerName,
		bill.Subtotal.String(), bill.TaxAmount.String(), bill.DiscountAmount.String(),
		bill.TotalAmount.String(), bill.PaymentMode).Scan(&bill.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicateBillNumber
		}
		return nil, err
	}

	kept := make([]domain.BillItem, 0, len(bill.Items))
	for _, item := range bill.Items {
		var name string
		var available int
		err := tx.QueryRowContext(ctx,
			"SELECT name, stock_quantity FROM products WHERE id = $1",
			item.ProductID,
		).Scan(&name, &available)
		if errors.Is(err, sql.ErrNoRows) {
			// Unresolvable cart lines are dropped, not fatal.
			continue
		}
		if err != nil {
			return nil, err
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE products
			SET stock_quantity = stock_quantity - $2
			WHERE id = $1 AND stock_quantity >= $2
		`, item.ProductID, item.Quantity)
		if err != nil {
			return nil, err
		}
		affected, err := res.RowsAffected()
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

		err = tx.QueryRowContext(ctx, `
			INSERT INTO bill_items (bill_id, product_id, quantity, price_at_sale, subtotal)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id
		`, bill.ID, item.ProductID, item.Quantity, item.PriceAtSale.String(), item.Subtotal.String()).Scan(&item.ID)
		if err != nil {
			return nil, err
		}

		item.BillID = bill.ID
		item.ProductName = name
		kept = append(kept, item)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	bill.Items = kept
	created := bill
	return &created, nil
}

func (s *Store) GetBill(ctx context.Context, id int64) (*domain.Bill, error) {
	var bill domain.Bill
	err := s.db.QueryRowContext(ctx, `
		SELECT id, bill_number, date, customer_name, subtotal::text, tax_amount::text,
			discount_amount::text, total_amount::text, payment_mode
		FROM bills
		WHERE id = $1
	`, id).Scan(&bill.ID, &bill.BillNumber, &bill.Date, &bill.CustomerName,
		&bill.Subtotal, &bill.TaxAmount, &bill.DiscountAmount, &bill.TotalAmount, &bill.PaymentMode)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	bill.Date = bill.Date.UTC()

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
		SELECT id, bill_number, date, customer_name, subtotal::text, tax_amount::text,
			discount_amount::text, total_amount::text, payment_mode
		FROM bills
		ORDER BY date DESC, id DESC
		LIMIT $1
	`, limit)
}

func (s *Store) ListBillsBetween(ctx context.Context, from time.Time, to time.Time) ([]domain.Bill, error) {
	return s.queryBills(ctx, `
		SELECT id, bill_number, date, customer_name, subtotal::text, tax_amount::text,
			discount_amount::text, total_amount::text, payment_mode
		FROM bills
		WHERE date >= $1 AND date < $2
		ORDER BY date DESC, id DESC
	`, from.UTC(), to.UTC())
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
		if err := rows.Scan(&bill.ID, &bill.BillNumber, &bill.Date, &bill.CustomerName,
			&bill.Subtotal, &bill.TaxAmount, &bill.DiscountAmount, &bill.TotalAmount, &bill.PaymentMode); err != nil {
			return nil, err
		}
		bill.Date = bill.Date.UTC()
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
			bi.price_at_sale::text, bi.subtotal::text, COALESCE(p.cost_price, 0)::text
		FROM bill_items bi
		LEFT JOIN products p ON p.id = bi.product_id
		WHERE bi.bill_id = $1
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
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO expenses (description, amount, category, date)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, expense.Description, expense.Amount.String(), expense.Category, expense.Date.UTC()).Scan(&expense.ID)
	if err != nil {
		return nil, err
	}
	created := expense
	return &created, nil
}

func (s *Store) ListExpenses(ctx context.Context, limit int) ([]domain.Expense, error) {
	if limit < 1 {
		limit = 200
	}
	return s.queryExpenses(ctx, `
		SELECT id, description, amount::text, category, date
		FROM expenses
		ORDER BY date DESC, id DESC
		LIMIT $1
	`, limit)
}

func (s *Store) ListExpensesBetween(ctx context.Context, from time.Time, to time.Time) ([]domain.Expense, error) {
	return s.queryExpenses(ctx, `
		SELECT id, description, amount::text, category, date
		FROM expenses
		WHERE date >= $1 AND date < $2
		ORDER BY date DESC, id DESC
	`, from.UTC(), to.UTC())
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
		if err := rows.Scan(&expense.ID, &expense.Description, &expense.Amount, &expense.Category, &expense.Date); err != nil {
			return nil, err
		}
		expense.Date = expense.Date.UTC()
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
		VALUES (1, $1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
	`, defaults.ShopName, defaults.Address, defaults.Phone, defaults.CurrencySymbol, defaults.DefaultTaxRate.String())
	if err != nil {
		return nil, err
	}

	var settings domain.Settings
	err = s.db.QueryRowContext(ctx, `
		SELECT shop_name, address, phone, currency_symbol, default_tax_rate::text
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
		VALUES (1, $1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			shop_name = EXCLUDED.shop_name,
			address = EXCLUDED.address,
			phone = EXCLUDED.phone,
			currency_symbol = EXCLUDED.currency_symbol,
			default_tax_rate = EXCLUDED.default_tax_rate
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
		VALUES ($1, $2, $3, $4, $5)
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt.UTC())
	if err != nil && isUniqueViolation(err) {
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
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	res, err := s.db.ExecContext(ctx, "UPDATE users SET password = $2 WHERE username = $1", username, password)
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

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}
