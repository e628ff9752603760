package domain

import "time"

type Product struct {
	ID             string    `json:"id"`
	OwnerID        string    `json:"owner_id"`
	Name           string    `json:"name"`
	Model          string    `json:"model"`
	Variation      string    `json:"variation"`
	SalePriceCents int64     `json:"sale_price_cents"`
	Stock          int       `json:"stock"`
	SKU            string    `json:"sku"`
	CreatedAt      time.Time `json:"created_at"`
}

type ProductView struct {
	Product
	StockStatus StockStatus `json:"stock_status"`
}

type ProductCreateRequest struct {
	Name           string `json:"name"`
	Model          string `json:"model"`
	Variation      string `json:"variation"`
	SalePriceCents int64  `json:"sale_price_cents"`
	InitialStock   int    `json:"initial_stock"`
}

type ProductUpdateRequest struct {
	Name           *string `json:"name,omitempty"`
	Model          *string `json:"model,omitempty"`
	Variation      *string `json:"variation,omitempty"`
	SalePriceCents *int64  `json:"sale_price_cents,omitempty"`
}

type StockUpdateRequest struct {
	Delta int `json:"delta"`
}

type RestockRequest struct {
	Quantity int `json:"quantity"`
}

type RestockResponse struct {
	Product       ProductView `json:"product"`
	PreviousStock int         `json:"previous_stock"`
	Added         int         `json:"added"`
}

type Customer struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone"`
	CreatedAt time.Time `json:"created_at"`
}

type CustomerCreateRequest struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

type CustomerUpdateRequest struct {
	Name  *string `json:"name,omitempty"`
	Phone *string `json:"phone,omitempty"`
}

type CustomerSummary struct {
	Customer            Customer              `json:"customer"`
	InstallmentSales    []InstallmentSaleView `json:"installment_sales"`
	TotalPurchasesCents int64                 `json:"total_purchases_cents"`
	OpenSales           int                   `json:"open_sales"`
	TotalOpenCents      int64                 `json:"total_open_cents"`
}

// CartLine is a requested sale line before pricing.
type CartLine struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type SaleItem struct {
	ProductID       string `json:"product_id"`
	ProductName     string `json:"product_name"`
	ProductSKU      string `json:"product_sku"`
	Quantity        int    `json:"quantity"`
	UnitPriceCents  int64  `json:"unit_price_cents"`
	TotalPriceCents int64  `json:"total_price_cents"`
}

type Sale struct {
	ID              string     `json:"id"`
	OwnerID         string     `json:"owner_id"`
	Items           []SaleItem `json:"items"`
	PaymentMethod   string     `json:"payment_method"`
	TotalPriceCents int64      `json:"total_price_cents"`
	Date            time.Time  `json:"date"`
}

type SaleCreateRequest struct {
	Items         []CartLine `json:"items"`
	PaymentMethod string     `json:"payment_method"`
}

type Payment struct {
	ID          string    `json:"id"`
	AmountCents int64     `json:"amount_cents"`
	Date        time.Time `json:"date"`
}

type InstallmentSale struct {
	ID                     string     `json:"id"`
	OwnerID                string     `json:"owner_id"`
	CustomerID             string     `json:"customer_id"`
	CustomerName           string     `json:"customer_name"`
	Items                  []SaleItem `json:"items"`
	PaymentMethod          string     `json:"payment_method"`
	TotalAmountCents       int64      `json:"total_amount_cents"`
	InitialPaymentCents    int64      `json:"initial_payment_cents"`
	Installments           int        `json:"installments"`
	InstallmentAmountCents int64      `json:"installment_amount_cents"`
	Date                   time.Time  `json:"date"`
	Payments               []Payment  `json:"payments"`
}

// InstallmentSaleView carries the derived ledger state. It is never persisted.
type InstallmentSaleView struct {
	InstallmentSale
	PaidCents       int64 `json:"paid_cents"`
	RemainingCents  int64 `json:"remaining_cents"`
	IsOpen          bool  `json:"is_open"`
	ProgressPercent int   `json:"progress_percent"`
}

type InstallmentSaleCreateRequest struct {
	CustomerID          string     `json:"customer_id"`
	Items               []CartLine `json:"items"`
	PaymentMethod       string     `json:"payment_method"`
	InitialPaymentCents int64      `json:"initial_payment_cents"`
	Installments        int        `json:"installments"`
}

type InstallmentSaleFilter struct {
	CustomerID string
	OpenOnly   bool
}

type PaymentCreateRequest struct {
	AmountCents int64 `json:"amount_cents"`
}

type PaymentResponse struct {
	Sale    InstallmentSaleView `json:"sale"`
	Payment Payment             `json:"payment"`
	Settled bool                `json:"settled"`
}

type Dashboard struct {
	Month            string                `json:"month"`
	DailyTotalCents  int64                 `json:"daily_total_cents"`
	WeeklyTotalCents int64                 `json:"weekly_total_cents"`
	MonthTotalCents  int64                 `json:"monthly_total_cents"`
	ItemsSoldToday   int                   `json:"items_sold_today"`
	TodaySales       []Sale                `json:"today_sales"`
	OpenSales        []InstallmentSaleView `json:"open_sales"`
	TotalOpenCents   int64                 `json:"total_open_cents"`
}

type Subscription struct {
	OwnerID   string    `json:"owner_id"`
	IsPremium bool      `json:"is_premium"`
	UpdatedAt time.Time `json:"updated_at"`
}

type SubscriptionUpdateRequest struct {
	IsPremium bool `json:"is_premium"`
}

type UsageCounter struct {
	Count      int  `json:"count"`
	Limit      *int `json:"limit"`
	Percentage *int `json:"percentage"`
}

type UsageStats struct {
	IsPremium bool         `json:"is_premium"`
	Products  UsageCounter `json:"products"`
	Sales     UsageCounter `json:"sales"`
}

type LimitCheck struct {
	Allowed      bool   `json:"allowed"`
	IsPremium    bool   `json:"is_premium"`
	CurrentCount int    `json:"current_count"`
	Limit        *int   `json:"limit"`
	Message      string `json:"message,omitempty"`
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

type RegisterRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type Account struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type Actor struct {
	Username string
	Role     string
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

type AuditLog struct {
	ID            string    `json:"id"`
	OwnerID       string    `json:"owner_id"`
	ActorUsername string    `json:"actor_username"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

const (
	PaymentMethodCash = "cash"
	PaymentMethodPix  = "pix"
	PaymentMethodCard = "card"
)

const (
	RoleOwner = "owner"
	RoleAdmin = "admin"
)

func IsSupportedPaymentMethod(method string) bool {
	switch method {
	case PaymentMethodCash, PaymentMethodPix, PaymentMethodCard:
		return true
	default:
		return false
	}
}
