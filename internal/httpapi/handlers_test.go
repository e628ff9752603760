package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"invenda/backend/internal/domain"
	"invenda/backend/internal/service"
	"invenda/backend/internal/store/memory"
)

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()
	return newTestAPIWithOptions(t, service.Options{})
}

func newTestAPIWithOptions(t *testing.T, opts service.Options) *API {
	t.Helper()
	t.Setenv("SEED_ADMIN_PASSWORD", "admin123")
	t.Setenv("SEED_OWNER_PASSWORD", "demo1234")

	repo := memory.NewSeeded()
	svc := service.New(repo, opts)
	auth := NewAuthManager(context.Background(), "test-secret-key", time.Hour, repo)

	return New(svc, auth, "*")
}

// bearerFor mints a token without going through bcrypt.
func bearerFor(t *testing.T, api *API, username string, role string) string {
	t.Helper()
	token, err := api.auth.sign(username, role, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func doJSON(t *testing.T, api *API, method string, path string, token string, payload any) *httptest.ResponseRecorder {
	t.Helper()

	var body *bytes.Reader
	if payload == nil {
		body = bytes.NewReader(nil)
	} else {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if method != http.MethodGet {
		req.Header.Set("X-CSRF-Token", api.generateCSRFToken())
	}
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dest any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(dest); err != nil {
		t.Fatalf("decode body: %v (raw: %s)", err, rec.Body.String())
	}
}

func createProductOverHTTP(t *testing.T, api *API, token string, name string, price int64, stock int) domain.ProductView {
	t.Helper()
	rec := doJSON(t, api, http.MethodPost, "/api/v1/products", token, domain.ProductCreateRequest{
		Name:           name,
		Model:          "Universal",
		Variation:      "Padrao",
		SalePriceCents: price,
		InitialStock:   stock,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create product: expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var resp struct {
		Product domain.ProductView `json:"product"`
	}
	decodeBody(t, rec, &resp)
	return resp.Product
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)

	rec := doJSON(t, api, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body map[string]any
	decodeBody(t, rec, &body)
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestHandleLogin_Success(t *testing.T) {
	api := newTestAPI(t)

	rec := doJSON(t, api, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{
		Username: "admin",
		Password: "admin123",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var resp domain.LoginResponse
	decodeBody(t, rec, &resp)
	if resp.AccessToken == "" {
		t.Fatalf("expected non-empty access_token")
	}
	if resp.Role != domain.RoleAdmin {
		t.Fatalf("expected role admin, got %s", resp.Role)
	}
}

func TestHandleLogin_WrongPassword(t *testing.T) {
	api := newTestAPI(t)

	rec := doJSON(t, api, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{
		Username: "demo",
		Password: "not-the-password",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestRegisterThenLoginAndUseToken(t *testing.T) {
	api := newTestAPI(t)

	rec := doJSON(t, api, http.MethodPost, "/api/v1/auth/register", "", domain.RegisterRequest{
		Username: "lojanova",
		Password: "senha-forte",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register: expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, api, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{
		Username: "lojanova",
		Password: "senha-forte",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d", rec.Code)
	}
	var login domain.LoginResponse
	decodeBody(t, rec, &login)

	rec = doJSON(t, api, http.MethodGet, "/api/v1/products", login.AccessToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list products: expected 200, got %d", rec.Code)
	}
	var list struct {
		Products []domain.ProductView `json:"products"`
	}
	decodeBody(t, rec, &list)
	if len(list.Products) != 0 {
		t.Fatalf("new account must not see the demo catalog, got %d products", len(list.Products))
	}

	rec = doJSON(t, api, http.MethodPost, "/api/v1/auth/register", "", domain.RegisterRequest{
		Username: "lojanova",
		Password: "senha-forte",
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate register: expected 409, got %d", rec.Code)
	}
}

func TestProtectedRouteRequiresBearer(t *testing.T) {
	api := newTestAPI(t)

	rec := doJSON(t, api, http.MethodGet, "/api/v1/products", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}

	rec = doJSON(t, api, http.MethodGet, "/api/v1/products", "not-a-jwt", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for malformed token, got %d", rec.Code)
	}
}

func TestProductEndpoints(t *testing.T) {
	api := newTestAPI(t)
	token := bearerFor(t, api, "ana", domain.RoleOwner)

	product := createProductOverHTTP(t, api, token, "Capinha", 4990, 3)
	if product.StockStatus != domain.StockLow || len(product.SKU) != 7 {
		t.Fatalf("unexpected product %+v", product)
	}

	rec := doJSON(t, api, http.MethodGet, "/api/v1/products/sku/"+strings.ToLower(product.SKU), token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("sku lookup: expected 200, got %d", rec.Code)
	}

	rec = doJSON(t, api, http.MethodPost, "/api/v1/products/"+product.ID+"/stock", token, domain.StockUpdateRequest{Delta: -5})
	if rec.Code != http.StatusConflict {
		t.Fatalf("negative stock: expected 409, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, api, http.MethodPost, "/api/v1/products/"+product.ID+"/restock", token, domain.RestockRequest{Quantity: 20})
	if rec.Code != http.StatusOK {
		t.Fatalf("restock: expected 200, got %d", rec.Code)
	}
	var restock domain.RestockResponse
	decodeBody(t, rec, &restock)
	if restock.PreviousStock != 3 || restock.Product.Stock != 23 {
		t.Fatalf("unexpected restock response %+v", restock)
	}

	rec = doJSON(t, api, http.MethodPatch, "/api/v1/products/"+product.ID, token, map[string]any{"sale_price_cents": 5990})
	if rec.Code != http.StatusOK {
		t.Fatalf("update: expected 200, got %d", rec.Code)
	}

	rec = doJSON(t, api, http.MethodGet, "/api/v1/products/"+product.ID, bearerFor(t, api, "bia", domain.RoleOwner), nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("other owner: expected 404, got %d", rec.Code)
	}
}

func TestDeleteProductEndpoint(t *testing.T) {
	api := newTestAPI(t)
	token := bearerFor(t, api, "ana", domain.RoleOwner)
	product := createProductOverHTTP(t, api, token, "Capinha", 4990, 3)

	rec := doJSON(t, api, http.MethodDelete, "/api/v1/products/"+product.ID, bearerFor(t, api, "bia", domain.RoleOwner), nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("other owner delete: expected 404, got %d", rec.Code)
	}

	rec = doJSON(t, api, http.MethodDelete, "/api/v1/products/"+product.ID, token, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete: expected 204, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, api, http.MethodGet, "/api/v1/products/"+product.ID, token, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("get after delete: expected 404, got %d", rec.Code)
	}
}

func TestValidationErrorNamesField(t *testing.T) {
	api := newTestAPI(t)
	token := bearerFor(t, api, "ana", domain.RoleOwner)

	rec := doJSON(t, api, http.MethodPost, "/api/v1/products", token, domain.ProductCreateRequest{
		Name:      "Capinha",
		Variation: "Azul",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	var body map[string]string
	decodeBody(t, rec, &body)
	if body["field"] != "model" {
		t.Fatalf("expected field model, got %v", body)
	}
}

func TestUnknownJSONFieldsRejected(t *testing.T) {
	api := newTestAPI(t)
	token := bearerFor(t, api, "ana", domain.RoleOwner)

	rec := doJSON(t, api, http.MethodPost, "/api/v1/customers", token, map[string]any{
		"name":  "Maria",
		"email": "maria@example.com",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestInstallmentSaleEndpoints(t *testing.T) {
	api := newTestAPI(t)
	token := bearerFor(t, api, "ana", domain.RoleOwner)
	product := createProductOverHTTP(t, api, token, "Notebook", 30000, 2)

	rec := doJSON(t, api, http.MethodPost, "/api/v1/customers", token, domain.CustomerCreateRequest{Name: "Maria", Phone: "11 90000-0000"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create customer: expected 201, got %d", rec.Code)
	}
	var customerResp struct {
		Customer domain.Customer `json:"customer"`
	}
	decodeBody(t, rec, &customerResp)

	rec = doJSON(t, api, http.MethodPost, "/api/v1/installment-sales", token, domain.InstallmentSaleCreateRequest{
		CustomerID:          customerResp.Customer.ID,
		Items:               []domain.CartLine{{ProductID: product.ID, Quantity: 1}},
		PaymentMethod:       "pix",
		InitialPaymentCents: 5000,
		Installments:        5,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create installment sale: expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var saleResp struct {
		Sale domain.InstallmentSaleView `json:"installment_sale"`
	}
	decodeBody(t, rec, &saleResp)
	sale := saleResp.Sale
	if sale.InstallmentAmountCents != 5000 || sale.RemainingCents != 25000 {
		t.Fatalf("unexpected sale view %+v", sale)
	}

	rec = doJSON(t, api, http.MethodPost, "/api/v1/installment-sales/"+sale.ID+"/payments", token, domain.PaymentCreateRequest{AmountCents: 30000})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("overpayment: expected 422, got %d", rec.Code)
	}
	var errBody map[string]string
	decodeBody(t, rec, &errBody)
	if !strings.Contains(errBody["error"], "maximum allowed is 250.00") {
		t.Fatalf("expected maximum in message, got %q", errBody["error"])
	}

	rec = doJSON(t, api, http.MethodPost, "/api/v1/installment-sales/"+sale.ID+"/payments", token, domain.PaymentCreateRequest{AmountCents: 10000})
	if rec.Code != http.StatusCreated {
		t.Fatalf("payment: expected 201, got %d", rec.Code)
	}
	var payment domain.PaymentResponse
	decodeBody(t, rec, &payment)
	if payment.Sale.RemainingCents != 15000 || payment.Settled {
		t.Fatalf("unexpected payment response %+v", payment)
	}

	rec = doJSON(t, api, http.MethodGet, "/api/v1/installment-sales?open=true&customer_id="+customerResp.Customer.ID, token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list open: expected 200, got %d", rec.Code)
	}
	var listResp struct {
		Sales []domain.InstallmentSaleView `json:"installment_sales"`
	}
	decodeBody(t, rec, &listResp)
	if len(listResp.Sales) != 1 {
		t.Fatalf("expected 1 open sale, got %d", len(listResp.Sales))
	}

	rec = doJSON(t, api, http.MethodGet, "/api/v1/installment-sales?open=maybe", token, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad open flag: expected 400, got %d", rec.Code)
	}

	rec = doJSON(t, api, http.MethodDelete, "/api/v1/installment-sales/"+sale.ID, token, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete: expected 204, got %d", rec.Code)
	}
	rec = doJSON(t, api, http.MethodGet, "/api/v1/products/"+product.ID, token, nil)
	var productResp struct {
		Product domain.ProductView `json:"product"`
	}
	decodeBody(t, rec, &productResp)
	if productResp.Product.Stock != 2 {
		t.Fatalf("expected stock restored to 2, got %d", productResp.Product.Stock)
	}
}

func TestRegisterSaleOutOfStockReturns409(t *testing.T) {
	api := newTestAPI(t)
	token := bearerFor(t, api, "ana", domain.RoleOwner)
	product := createProductOverHTTP(t, api, token, "Pelicula", 2990, 1)

	rec := doJSON(t, api, http.MethodPost, "/api/v1/sales", token, domain.SaleCreateRequest{
		Items:         []domain.CartLine{{ProductID: product.ID, Quantity: 2}},
		PaymentMethod: "cash",
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestDashboardAndSalesEndpoints(t *testing.T) {
	api := newTestAPI(t)
	token := bearerFor(t, api, "ana", domain.RoleOwner)
	product := createProductOverHTTP(t, api, token, "Cabo", 1500, 10)

	rec := doJSON(t, api, http.MethodPost, "/api/v1/sales", token, domain.SaleCreateRequest{
		Items:         []domain.CartLine{{ProductID: product.ID, Quantity: 2}},
		PaymentMethod: "card",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register sale: expected 201, got %d", rec.Code)
	}

	rec = doJSON(t, api, http.MethodGet, "/api/v1/dashboard", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("dashboard: expected 200, got %d", rec.Code)
	}
	var dash domain.Dashboard
	decodeBody(t, rec, &dash)
	if dash.DailyTotalCents != 3000 || dash.ItemsSoldToday != 2 {
		t.Fatalf("unexpected dashboard %+v", dash)
	}

	rec = doJSON(t, api, http.MethodGet, "/api/v1/sales?month=2024-13", token, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad month: expected 400, got %d", rec.Code)
	}
}

func TestPlanLimitReturns402(t *testing.T) {
	api := newTestAPIWithOptions(t, service.Options{FreeProductLimit: 1})
	token := bearerFor(t, api, "ana", domain.RoleOwner)
	createProductOverHTTP(t, api, token, "Capinha", 1000, 1)

	rec := doJSON(t, api, http.MethodPost, "/api/v1/products", token, domain.ProductCreateRequest{
		Name: "Pelicula", Model: "X", Variation: "Y",
	})
	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d", rec.Code)
	}

	rec = doJSON(t, api, http.MethodGet, "/api/v1/subscription/check/products", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("check: expected 200, got %d", rec.Code)
	}
	var check domain.LimitCheck
	decodeBody(t, rec, &check)
	if check.Allowed || check.CurrentCount != 1 {
		t.Fatalf("unexpected check %+v", check)
	}

	rec = doJSON(t, api, http.MethodGet, "/api/v1/subscription/check/widgets", token, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown resource: expected 400, got %d", rec.Code)
	}
}

func TestSetPremiumIsAdminOnly(t *testing.T) {
	api := newTestAPIWithOptions(t, service.Options{FreeProductLimit: 1})
	owner := bearerFor(t, api, "ana", domain.RoleOwner)
	admin := bearerFor(t, api, "admin", domain.RoleAdmin)

	rec := doJSON(t, api, http.MethodPost, "/api/v1/admin/subscriptions/ana", owner, domain.SubscriptionUpdateRequest{IsPremium: true})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("owner: expected 403, got %d", rec.Code)
	}

	rec = doJSON(t, api, http.MethodPost, "/api/v1/admin/subscriptions/ana", admin, domain.SubscriptionUpdateRequest{IsPremium: true})
	if rec.Code != http.StatusOK {
		t.Fatalf("admin: expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, api, http.MethodGet, "/api/v1/subscription/usage", owner, nil)
	var stats domain.UsageStats
	decodeBody(t, rec, &stats)
	if !stats.IsPremium {
		t.Fatalf("expected premium usage after upgrade")
	}
}

func TestUnknownRouteAndMethod(t *testing.T) {
	api := newTestAPI(t)
	token := bearerFor(t, api, "ana", domain.RoleOwner)

	rec := doJSON(t, api, http.MethodGet, "/api/v1/nowhere", token, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}

	rec = doJSON(t, api, http.MethodPut, "/api/v1/products", token, map[string]any{})
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}
