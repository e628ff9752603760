package store

import (
	"context"
	"errors"
	"time"

	"invenda/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrValidation        = errors.New("validation failed")
	ErrConflict          = errors.New("conflict")
	ErrOverpayment       = errors.New("payment exceeds remaining balance")
	ErrPlanLimit         = errors.New("plan limit reached")
	ErrUnauthenticated   = errors.New("unauthenticated")
	ErrForbidden         = errors.New("forbidden")
)

// PaymentGuard inspects the current state of a sale, as seen inside the
// store's write lock, and rejects the payment by returning an error.
type PaymentGuard func(sale domain.InstallmentSale, amountCents int64) error

// Repository is scoped by owner on every call. Records of other owners are
// reported as ErrNotFound.
type Repository interface {
	ListProducts(ctx context.Context, ownerID string) ([]domain.Product, error)
	SearchProducts(ctx context.Context, ownerID string, query string) ([]domain.Product, error)
	GetProduct(ctx context.Context, ownerID string, id string) (*domain.Product, error)
	GetProductBySKU(ctx context.Context, ownerID string, sku string) (*domain.Product, error)
	GetProductsByIDs(ctx context.Context, ownerID string, ids []string) (map[string]domain.Product, error)
	CountProducts(ctx context.Context, ownerID string) (int, error)
	// CreateProduct reports ErrConflict when the SKU is already taken by the owner.
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	// AdjustStock applies delta atomically and refuses to go below zero.
	AdjustStock(ctx context.Context, ownerID string, productID string, delta int) (*domain.Product, error)
	// DeleteProduct removes the product. Past sales keep their item snapshots.
	DeleteProduct(ctx context.Context, ownerID string, id string) error

	ListCustomers(ctx context.Context, ownerID string) ([]domain.Customer, error)
	GetCustomer(ctx context.Context, ownerID string, id string) (*domain.Customer, error)
	CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	UpdateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)

	// CreateSale persists header and items and decrements stock in one unit.
	// Nothing is written when any line lacks stock.
	CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error)
	GetSale(ctx context.Context, ownerID string, id string) (*domain.Sale, error)
	// ListSales returns sales dated in [from, to). A zero bound is open.
	ListSales(ctx context.Context, ownerID string, from time.Time, to time.Time) ([]domain.Sale, error)
	// DeleteSale puts every item back in stock before removing the sale.
	DeleteSale(ctx context.Context, ownerID string, id string) error

	CreateInstallmentSale(ctx context.Context, sale domain.InstallmentSale) (*domain.InstallmentSale, error)
	GetInstallmentSale(ctx context.Context, ownerID string, id string) (*domain.InstallmentSale, error)
	ListInstallmentSales(ctx context.Context, ownerID string, customerID string) ([]domain.InstallmentSale, error)
	AddPayment(ctx context.Context, ownerID string, saleID string, payment domain.Payment, guard PaymentGuard) (*domain.InstallmentSale, error)
	DeleteInstallmentSale(ctx context.Context, ownerID string, id string) error

	// CountSalesSince counts cash and installment sales dated at or after from.
	CountSalesSince(ctx context.Context, ownerID string, from time.Time) (int, error)

	GetSubscription(ctx context.Context, ownerID string) (*domain.Subscription, error)
	UpsertSubscription(ctx context.Context, sub domain.Subscription) (*domain.Subscription, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, ownerID string, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
