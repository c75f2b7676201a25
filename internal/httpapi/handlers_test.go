package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"shopledger/backend/internal/domain"
	"shopledger/backend/internal/service"
	"shopledger/backend/internal/store/memory"
)

type testEnv struct {
	handler      http.Handler
	adminToken   string
	cashierToken string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	repo := memory.NewSeeded()
	svc := service.New(repo, nil, time.Minute)
	auth := NewAuthManager("test-secret", time.Hour, repo)
	api := New(svc, auth, "*")

	admin, err := auth.Login(domain.LoginRequest{Username: "admin", Password: "admin123"})
	if err != nil {
		t.Fatalf("admin login: %v", err)
	}
	cashier, err := auth.Login(domain.LoginRequest{Username: "cashier", Password: "cashier123"})
	if err != nil {
		t.Fatalf("cashier login: %v", err)
	}

	return &testEnv{
		handler:      api.Handler(),
		adminToken:   admin.AccessToken,
		cashierToken: cashier.AccessToken,
	}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dest any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), dest); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{
		Username: "admin",
		Password: "wrong",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestLoginRateLimited(t *testing.T) {
	env := newTestEnv(t)
	var last int
	for i := 0; i < 6; i++ {
		rec := env.do(t, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{
			Username: "admin",
			Password: "wrong",
		})
		last = rec.Code
	}
	if last != http.StatusTooManyRequests {
		t.Fatalf("sixth attempt status = %d, want 429", last)
	}
}

func TestAuthRequired(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/v1/products", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestCashierCannotCreateProduct(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/v1/products", env.cashierToken, map[string]any{
		"name": "Sugar", "barcode": "4001", "price": 2.0,
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestProductCreateAndSearch(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/products", env.adminToken, map[string]any{
		"name":           "Sugar",
		"barcode":        "4001",
		"price":          2.25,
		"cost_price":     1.10,
		"stock_quantity": 15,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodGet, "/api/v1/products?q=sugar", env.cashierToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("search status = %d", rec.Code)
	}
	var resp struct {
		Products []domain.Product `json:"products"`
	}
	decodeBody(t, rec, &resp)
	if len(resp.Products) != 1 || resp.Products[0].Name != "Sugar" {
		t.Fatalf("search result = %+v", resp.Products)
	}
}

func TestProductCreateDuplicateBarcodeConflict(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/v1/products", env.adminToken, map[string]any{
		"name": "Other Milk", "barcode": "1001", "price": 3.0,
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409: %s", rec.Code, rec.Body.String())
	}
}

func TestProductCreateValidationFields(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/v1/products", env.adminToken, map[string]any{
		"barcode": "5001", "price": 1.0,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Fields map[string]string `json:"fields"`
	}
	decodeBody(t, rec, &resp)
	if _, ok := resp.Fields["name"]; !ok {
		t.Fatalf("fields = %v, want name entry", resp.Fields)
	}
}

func TestBarcodeLookup(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/products/barcode/1001", env.cashierToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Product domain.Product `json:"product"`
	}
	decodeBody(t, rec, &resp)
	if resp.Product.Name != "Milk" {
		t.Fatalf("product = %+v", resp.Product)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/products/barcode/0000", env.cashierToken, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown barcode status = %d, want 404", rec.Code)
	}
}

func TestCheckoutEndToEnd(t *testing.T) {
	env := newTestEnv(t)

	lookup := env.do(t, http.MethodGet, "/api/v1/products/barcode/1001", env.cashierToken, nil)
	var product struct {
		Product domain.Product `json:"product"`
	}
	decodeBody(t, lookup, &product)

	rec := env.do(t, http.MethodPost, "/api/v1/checkout", env.cashierToken, map[string]any{
		"subtotal":     7.0,
		"total_amount": 7.0,
		"items": []map[string]any{
			{"product_id": product.Product.ID, "quantity": 2, "price": 3.5, "subtotal": 7.0},
		},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("checkout status = %d: %s", rec.Code, rec.Body.String())
	}
	var resp domain.CheckoutResponse
	decodeBody(t, rec, &resp)
	if resp.BillNumber == "" || resp.BillID == 0 {
		t.Fatalf("checkout response = %+v", resp)
	}

	billRec := env.do(t, http.MethodGet, fmt.Sprintf("/api/v1/bills/%d", resp.BillID), env.cashierToken, nil)
	if billRec.Code != http.StatusOK {
		t.Fatalf("get bill status = %d", billRec.Code)
	}

	after := env.do(t, http.MethodGet, "/api/v1/products/barcode/1001", env.cashierToken, nil)
	decodeBody(t, after, &product)
	if product.Product.StockQuantity != 48 {
		t.Fatalf("stock = %d, want 48", product.Product.StockQuantity)
	}
}

func TestCheckoutInsufficientStockBadRequest(t *testing.T) {
	env := newTestEnv(t)

	lookup := env.do(t, http.MethodGet, "/api/v1/products/barcode/1005", env.cashierToken, nil)
	var product struct {
		Product domain.Product `json:"product"`
	}
	decodeBody(t, lookup, &product)

	rec := env.do(t, http.MethodPost, "/api/v1/checkout", env.cashierToken, map[string]any{
		"total_amount": 5000.0,
		"items": []map[string]any{
			{"product_id": product.Product.ID, "quantity": 1000, "price": 5.0, "subtotal": 5000.0},
		},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Error string `json:"error"`
	}
	decodeBody(t, rec, &resp)
	if resp.Error == "" {
		t.Fatal("error message missing")
	}
}

func TestDeleteReferencedProductConflict(t *testing.T) {
	env := newTestEnv(t)

	lookup := env.do(t, http.MethodGet, "/api/v1/products/barcode/1001", env.cashierToken, nil)
	var product struct {
		Product domain.Product `json:"product"`
	}
	decodeBody(t, lookup, &product)

	checkout := env.do(t, http.MethodPost, "/api/v1/checkout", env.cashierToken, map[string]any{
		"total_amount": 3.5,
		"items": []map[string]any{
			{"product_id": product.Product.ID, "quantity": 1, "price": 3.5, "subtotal": 3.5},
		},
	})
	if checkout.Code != http.StatusCreated {
		t.Fatalf("checkout status = %d", checkout.Code)
	}

	rec := env.do(t, http.MethodDelete, fmt.Sprintf("/api/v1/products/%d", product.Product.ID), env.adminToken, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("delete status = %d, want 409: %s", rec.Code, rec.Body.String())
	}
}

func TestPartialProductUpdate(t *testing.T) {
	env := newTestEnv(t)

	lookup := env.do(t, http.MethodGet, "/api/v1/products/barcode/1001", env.cashierToken, nil)
	var product struct {
		Product domain.Product `json:"product"`
	}
	decodeBody(t, lookup, &product)

	rec := env.do(t, http.MethodPut, fmt.Sprintf("/api/v1/products/%d", product.Product.ID), env.adminToken, map[string]any{
		"price": 3.99,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("update status = %d: %s", rec.Code, rec.Body.String())
	}
	var updated struct {
		Product domain.Product `json:"product"`
	}
	decodeBody(t, rec, &updated)
	if updated.Product.Name != "Milk" || updated.Product.StockQuantity != 50 {
		t.Fatalf("untouched fields changed: %+v", updated.Product)
	}
	if updated.Product.Price.StringFixed(2) != "3.99" {
		t.Fatalf("price = %s, want 3.99", updated.Product.Price)
	}
}

func TestExpensesRoundTrip(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/expenses", env.cashierToken, map[string]any{
		"description": "Cleaning supplies",
		"amount":      12.50,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", rec.Code, rec.Body.String())
	}

	list := env.do(t, http.MethodGet, "/api/v1/expenses", env.cashierToken, nil)
	var resp struct {
		Expenses []domain.Expense `json:"expenses"`
	}
	decodeBody(t, list, &resp)
	if len(resp.Expenses) != 1 || resp.Expenses[0].Category != "Operational" {
		t.Fatalf("expenses = %+v", resp.Expenses)
	}
}

func TestDashboardMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/dashboard/metrics", env.adminToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var metrics domain.DashboardMetrics
	decodeBody(t, rec, &metrics)
	if metrics.TotalProducts != 5 {
		t.Fatalf("total products = %d, want 5", metrics.TotalProducts)
	}
	if len(metrics.Series) != 7 {
		t.Fatalf("series points = %d, want 7", len(metrics.Series))
	}
}

func TestSettingsDefaultsAndUpdate(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/settings", env.cashierToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Settings domain.Settings `json:"settings"`
	}
	decodeBody(t, rec, &resp)
	if resp.Settings.ShopName != "My Grocery Shop" {
		t.Fatalf("defaults = %+v", resp.Settings)
	}

	update := env.do(t, http.MethodPut, "/api/v1/settings", env.adminToken, map[string]any{
		"shop_name": "Corner Mart",
	})
	if update.Code != http.StatusOK {
		t.Fatalf("update status = %d: %s", update.Code, update.Body.String())
	}
	decodeBody(t, update, &resp)
	if resp.Settings.ShopName != "Corner Mart" || resp.Settings.CurrencySymbol != "$" {
		t.Fatalf("updated = %+v", resp.Settings)
	}

	forbidden := env.do(t, http.MethodPut, "/api/v1/settings", env.cashierToken, map[string]any{
		"shop_name": "Hacked",
	})
	if forbidden.Code != http.StatusForbidden {
		t.Fatalf("cashier settings update status = %d, want 403", forbidden.Code)
	}
}

func TestCashierManagement(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/users/cashiers", env.adminToken, map[string]any{
		"username": "evening",
		"password": "secret99",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create cashier status = %d: %s", rec.Code, rec.Body.String())
	}

	list := env.do(t, http.MethodGet, "/api/v1/users/cashiers", env.adminToken, nil)
	var resp struct {
		Cashiers []domain.CashierUser `json:"cashiers"`
	}
	decodeBody(t, list, &resp)
	if len(resp.Cashiers) != 2 {
		t.Fatalf("cashiers = %+v, want 2", resp.Cashiers)
	}

	denied := env.do(t, http.MethodGet, "/api/v1/users/cashiers", env.cashierToken, nil)
	if denied.Code != http.StatusForbidden {
		t.Fatalf("cashier listing cashiers status = %d, want 403", denied.Code)
	}
}
