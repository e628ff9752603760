package memory

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"invenda/backend/internal/domain"
	"invenda/backend/internal/store"
	"invenda/backend/internal/xid"
)

type Store struct {
	mu               sync.RWMutex
	products         map[string]domain.Product
	customers        map[string]domain.Customer
	sales            map[string]domain.Sale
	installmentSales map[string]domain.InstallmentSale
	subscriptions    map[string]domain.Subscription
	auditLogs        []domain.AuditLog
	usersByUsername  map[string]domain.UserAccount
}

func New() *Store {
	return &Store{
		products:         make(map[string]domain.Product),
		customers:        make(map[string]domain.Customer),
		sales:            make(map[string]domain.Sale),
		installmentSales: make(map[string]domain.InstallmentSale),
		subscriptions:    make(map[string]domain.Subscription),
		auditLogs:        make([]domain.AuditLog, 0, 128),
		usersByUsername:  make(map[string]domain.UserAccount),
	}
}

// seedUsers builds the dev/demo accounts. Passwords come from
// SEED_ADMIN_PASSWORD and SEED_OWNER_PASSWORD, with dev defaults otherwise.
// The memory store is never used when DATABASE_URL is set.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	ownerPwd := envOr("SEED_OWNER_PASSWORD", "demo1234")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_OWNER_PASSWORD") == "" {
		log.WithField("component", "memory-store").Warn("using default dev credentials; set SEED_ADMIN_PASSWORD and SEED_OWNER_PASSWORD to override")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, domain.RoleAdmin},
		{"demo", ownerPwd, domain.RoleOwner},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.WithError(err).Fatalf("hash seed password for %s", u.username)
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

// NewSeeded returns a store with the demo accounts and a small catalog
// owned by the "demo" account.
func NewSeeded() *Store {
	s := New()
	s.usersByUsername = seedUsers()

	now := time.Now().UTC()
	for _, p := range []domain.Product{
		{Name: "Capinha", Model: "iPhone 13", Variation: "Preta", SalePriceCents: 4990, Stock: 25},
		{Name: "Capinha", Model: "iPhone 13", Variation: "Transparente", SalePriceCents: 3990, Stock: 8},
		{Name: "Pelicula", Model: "Galaxy S23", Variation: "Vidro 3D", SalePriceCents: 2990, Stock: 40},
		{Name: "Carregador", Model: "USB-C 20W", Variation: "Branco", SalePriceCents: 8990, Stock: 12},
		{Name: "Fone Bluetooth", Model: "Pods Lite", Variation: "Branco", SalePriceCents: 15990, Stock: 0},
	} {
		p.ID = xid.New("prd")
		p.OwnerID = "demo"
		p.SKU = xid.NewSKU()
		p.CreatedAt = now
		s.products[p.ID] = p
	}
	return s
}

func (s *Store) ListProducts(_ context.Context, ownerID string) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if p.OwnerID != ownerID {
			continue
		}
		products = append(products, p)
	}
	sortProducts(products)
	return products, nil
}

func (s *Store) SearchProducts(_ context.Context, ownerID string, query string) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	needle := strings.ToLower(strings.TrimSpace(query))
	products := make([]domain.Product, 0, 16)
	for _, p := range s.products {
		if p.OwnerID != ownerID {
			continue
		}
		if needle == "" || matchesProduct(p, needle) {
			products = append(products, p)
		}
	}
	sortProducts(products)
	return products, nil
}

func (s *Store) GetProduct(_ context.Context, ownerID string, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, ok := s.products[id]
	if !ok || product.OwnerID != ownerID {
		return nil, store.ErrNotFound
	}
	return &product, nil
}

func (s *Store) GetProductBySKU(_ context.Context, ownerID string, sku string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.products {
		if p.OwnerID == ownerID && strings.EqualFold(p.SKU, sku) {
			found := p
			return &found, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) GetProductsByIDs(_ context.Context, ownerID string, ids []string) (map[string]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := s.products[id]; ok && p.OwnerID == ownerID {
			result[id] = p
		}
	}
	return result, nil
}

func (s *Store) CountProducts(_ context.Context, ownerID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, p := range s.products {
		if p.OwnerID == ownerID {
			count++
		}
	}
	return count, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.OwnerID == "" || product.SKU == "" || product.Stock < 0 || product.SalePriceCents < 0 {
		return nil, store.ErrValidation
	}
	for _, p := range s.products {
		if p.OwnerID == product.OwnerID && strings.EqualFold(p.SKU, product.SKU) {
			return nil, fmt.Errorf("%w: sku %s already in use", store.ErrConflict, product.SKU)
		}
	}
	if product.ID == "" {
		product.ID = xid.New("prd")
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}
	s.products[product.ID] = product
	created := product
	return &created, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.products[product.ID]
	if !ok || existing.OwnerID != product.OwnerID {
		return nil, store.ErrNotFound
	}
	existing.Name = product.Name
	existing.Model = product.Model
	existing.Variation = product.Variation
	existing.SalePriceCents = product.SalePriceCents
	s.products[existing.ID] = existing
	updated := existing
	return &updated, nil
}

func (s *Store) AdjustStock(_ context.Context, ownerID string, productID string, delta int) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	product, ok := s.products[productID]
	if !ok || product.OwnerID != ownerID {
		return nil, store.ErrNotFound
	}
	if product.Stock+delta < 0 {
		return nil, fmt.Errorf("%w for %s", store.ErrInsufficientStock, product.Name)
	}
	product.Stock += delta
	s.products[productID] = product
	updated := product
	return &updated, nil
}

func (s *Store) DeleteProduct(_ context.Context, ownerID string, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	product, ok := s.products[id]
	if !ok || product.OwnerID != ownerID {
		return store.ErrNotFound
	}
	delete(s.products, id)
	return nil
}

func (s *Store) ListCustomers(_ context.Context, ownerID string) ([]domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customers := make([]domain.Customer, 0, len(s.customers))
	for _, c := range s.customers {
		if c.OwnerID == ownerID {
			customers = append(customers, c)
		}
	}
	slices.SortFunc(customers, func(a, b domain.Customer) int {
		if a.Name == b.Name {
			return strings.Compare(a.ID, b.ID)
		}
		return strings.Compare(a.Name, b.Name)
	})
	return customers, nil
}

func (s *Store) GetCustomer(_ context.Context, ownerID string, id string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customer, ok := s.customers[id]
	if !ok || customer.OwnerID != ownerID {
		return nil, store.ErrNotFound
	}
	return &customer, nil
}

func (s *Store) CreateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if customer.OwnerID == "" || strings.TrimSpace(customer.Name) == "" {
		return nil, store.ErrValidation
	}
	if customer.ID == "" {
		customer.ID = xid.New("cus")
	}
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = time.Now().UTC()
	}
	s.customers[customer.ID] = customer
	created := customer
	return &created, nil
}

func (s *Store) UpdateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.customers[customer.ID]
	if !ok || existing.OwnerID != customer.OwnerID {
		return nil, store.ErrNotFound
	}
	existing.Name = customer.Name
	existing.Phone = customer.Phone
	s.customers[existing.ID] = existing
	updated := existing
	return &updated, nil
}

func (s *Store) CreateSale(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(sale.Items) == 0 {
		return nil, store.ErrValidation
	}
	if err := s.decrementStockLocked(sale.OwnerID, sale.Items); err != nil {
		return nil, err
	}
	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	if sale.Date.IsZero() {
		sale.Date = time.Now().UTC()
	}
	sale.Items = slices.Clone(sale.Items)
	s.sales[sale.ID] = sale
	created := cloneSale(sale)
	return &created, nil
}

func (s *Store) GetSale(_ context.Context, ownerID string, id string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.sales[id]
	if !ok || sale.OwnerID != ownerID {
		return nil, store.ErrNotFound
	}
	found := cloneSale(sale)
	return &found, nil
}

func (s *Store) ListSales(_ context.Context, ownerID string, from time.Time, to time.Time) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Sale, 0, 32)
	for _, sale := range s.sales {
		if sale.OwnerID != ownerID || !inRange(sale.Date, from, to) {
			continue
		}
		result = append(result, cloneSale(sale))
	}
	slices.SortFunc(result, func(a, b domain.Sale) int {
		return compareNewestFirst(a.Date, b.Date, a.ID, b.ID)
	})
	return result, nil
}

func (s *Store) DeleteSale(_ context.Context, ownerID string, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, ok := s.sales[id]
	if !ok || sale.OwnerID != ownerID {
		return store.ErrNotFound
	}
	s.restockLocked(ownerID, sale.Items)
	delete(s.sales, id)
	return nil
}

func (s *Store) CreateInstallmentSale(_ context.Context, sale domain.InstallmentSale) (*domain.InstallmentSale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(sale.Items) == 0 || sale.Installments < 1 {
		return nil, store.ErrValidation
	}
	customer, ok := s.customers[sale.CustomerID]
	if !ok || customer.OwnerID != sale.OwnerID {
		return nil, fmt.Errorf("customer: %w", store.ErrNotFound)
	}
	if err := s.decrementStockLocked(sale.OwnerID, sale.Items); err != nil {
		return nil, err
	}
	if sale.ID == "" {
		sale.ID = xid.New("inst")
	}
	if sale.Date.IsZero() {
		sale.Date = time.Now().UTC()
	}
	sale.CustomerName = customer.Name
	sale.Items = slices.Clone(sale.Items)
	sale.Payments = []domain.Payment{}
	s.installmentSales[sale.ID] = sale
	created := cloneInstallmentSale(sale)
	return &created, nil
}

func (s *Store) GetInstallmentSale(_ context.Context, ownerID string, id string) (*domain.InstallmentSale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.installmentSales[id]
	if !ok || sale.OwnerID != ownerID {
		return nil, store.ErrNotFound
	}
	found := cloneInstallmentSale(sale)
	return &found, nil
}

func (s *Store) ListInstallmentSales(_ context.Context, ownerID string, customerID string) ([]domain.InstallmentSale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.InstallmentSale, 0, 32)
	for _, sale := range s.installmentSales {
		if sale.OwnerID != ownerID {
			continue
		}
		if customerID != "" && sale.CustomerID != customerID {
			continue
		}
		result = append(result, cloneInstallmentSale(sale))
	}
	slices.SortFunc(result, func(a, b domain.InstallmentSale) int {
		return compareNewestFirst(a.Date, b.Date, a.ID, b.ID)
	})
	return result, nil
}

func (s *Store) AddPayment(_ context.Context, ownerID string, saleID string, payment domain.Payment, guard store.PaymentGuard) (*domain.InstallmentSale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, ok := s.installmentSales[saleID]
	if !ok || sale.OwnerID != ownerID {
		return nil, store.ErrNotFound
	}
	if guard != nil {
		if err := guard(cloneInstallmentSale(sale), payment.AmountCents); err != nil {
			return nil, err
		}
	}
	if payment.ID == "" {
		payment.ID = xid.New("pay")
	}
	if payment.Date.IsZero() {
		payment.Date = time.Now().UTC()
	}
	sale.Payments = append(slices.Clone(sale.Payments), payment)
	s.installmentSales[saleID] = sale
	updated := cloneInstallmentSale(sale)
	return &updated, nil
}

func (s *Store) DeleteInstallmentSale(_ context.Context, ownerID string, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, ok := s.installmentSales[id]
	if !ok || sale.OwnerID != ownerID {
		return store.ErrNotFound
	}
	s.restockLocked(ownerID, sale.Items)
	delete(s.installmentSales, id)
	return nil
}

func (s *Store) CountSalesSince(_ context.Context, ownerID string, from time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, sale := range s.sales {
		if sale.OwnerID == ownerID && !sale.Date.Before(from) {
			count++
		}
	}
	for _, sale := range s.installmentSales {
		if sale.OwnerID == ownerID && !sale.Date.Before(from) {
			count++
		}
	}
	return count, nil
}

func (s *Store) GetSubscription(_ context.Context, ownerID string) (*domain.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.subscriptions[ownerID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &sub, nil
}

func (s *Store) UpsertSubscription(_ context.Context, sub domain.Subscription) (*domain.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sub.OwnerID == "" {
		return nil, store.ErrValidation
	}
	if sub.UpdatedAt.IsZero() {
		sub.UpdatedAt = time.Now().UTC()
	}
	s.subscriptions[sub.OwnerID] = sub
	saved := sub
	return &saved, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, ownerID string, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, 64)
	for _, entry := range s.auditLogs {
		if ownerID != "" && entry.OwnerID != ownerID {
			continue
		}
		result = append(result, entry)
	}
	slices.SortFunc(result, func(a, b domain.AuditLog) int {
		return compareNewestFirst(a.CreatedAt, b.CreatedAt, a.ID, b.ID)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrValidation
	}
	if _, exists := s.usersByUsername[username]; exists {
		return fmt.Errorf("%w: username already exists", store.ErrConflict)
	}
	user.Username = username
	if user.Role == "" {
		user.Role = domain.RoleOwner
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrValidation
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

// decrementStockLocked validates every line before touching any product.
// Lines for the same product are summed. Callers hold s.mu.
func (s *Store) decrementStockLocked(ownerID string, items []domain.SaleItem) error {
	needed := make(map[string]int, len(items))
	order := make([]string, 0, len(items))
	for _, item := range items {
		if item.Quantity < 1 {
			return store.ErrValidation
		}
		if _, seen := needed[item.ProductID]; !seen {
			order = append(order, item.ProductID)
		}
		needed[item.ProductID] += item.Quantity
	}
	for _, id := range order {
		product, ok := s.products[id]
		if !ok || product.OwnerID != ownerID {
			return fmt.Errorf("product %s: %w", id, store.ErrNotFound)
		}
		if product.Stock < needed[id] {
			return fmt.Errorf("%w for %s", store.ErrInsufficientStock, product.Name)
		}
	}
	for _, id := range order {
		product := s.products[id]
		product.Stock -= needed[id]
		s.products[id] = product
	}
	return nil
}

// restockLocked skips products that were removed since the sale.
func (s *Store) restockLocked(ownerID string, items []domain.SaleItem) {
	for _, item := range items {
		product, ok := s.products[item.ProductID]
		if !ok || product.OwnerID != ownerID {
			continue
		}
		product.Stock += item.Quantity
		s.products[item.ProductID] = product
	}
}

func matchesProduct(p domain.Product, needle string) bool {
	for _, field := range []string{p.Name, p.Model, p.Variation, p.SKU} {
		if strings.Contains(strings.ToLower(field), needle) {
			return true
		}
	}
	return false
}

func sortProducts(products []domain.Product) {
	slices.SortFunc(products, func(a, b domain.Product) int {
		if a.Name != b.Name {
			return strings.Compare(a.Name, b.Name)
		}
		if a.Model != b.Model {
			return strings.Compare(a.Model, b.Model)
		}
		return strings.Compare(a.Variation, b.Variation)
	})
}

func inRange(at time.Time, from time.Time, to time.Time) bool {
	if !from.IsZero() && at.Before(from) {
		return false
	}
	if !to.IsZero() && !at.Before(to) {
		return false
	}
	return true
}

func compareNewestFirst(a, b time.Time, aID, bID string) int {
	if a.Equal(b) {
		return strings.Compare(bID, aID)
	}
	if a.After(b) {
		return -1
	}
	return 1
}

func cloneSale(src domain.Sale) domain.Sale {
	dup := src
	dup.Items = slices.Clone(src.Items)
	return dup
}

func cloneInstallmentSale(src domain.InstallmentSale) domain.InstallmentSale {
	dup := src
	dup.Items = slices.Clone(src.Items)
	dup.Payments = slices.Clone(src.Payments)
	if dup.Payments == nil {
		dup.Payments = []domain.Payment{}
	}
	return dup
}
