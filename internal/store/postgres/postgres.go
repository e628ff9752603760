package postgres

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"invenda/backend/internal/domain"
	"invenda/backend/internal/store"
	"invenda/backend/internal/xid"
)

type Store struct {
	db *sqlx.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sqlx.Open("pgx", databaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "ping database")
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

const productColumns = `id, owner_id, name, model, variation, sale_price_cents, stock, sku, created_at`

type productRow struct {
	ID             string    `db:"id"`
	OwnerID        string    `db:"owner_id"`
	Name           string    `db:"name"`
	Model          string    `db:"model"`
	Variation      string    `db:"variation"`
	SalePriceCents int64     `db:"sale_price_cents"`
	Stock          int       `db:"stock"`
	SKU            string    `db:"sku"`
	CreatedAt      time.Time `db:"created_at"`
}

func (r productRow) toDomain() domain.Product {
	return domain.Product{
		ID:             r.ID,
		OwnerID:        r.OwnerID,
		Name:           r.Name,
		Model:          r.Model,
		Variation:      r.Variation,
		SalePriceCents: r.SalePriceCents,
		Stock:          r.Stock,
		SKU:            r.SKU,
		CreatedAt:      r.CreatedAt.UTC(),
	}
}

func productsFromRows(rows []productRow) []domain.Product {
	products := make([]domain.Product, 0, len(rows))
	for _, r := range rows {
		products = append(products, r.toDomain())
	}
	return products
}

func (s *Store) ListProducts(ctx context.Context, ownerID string) ([]domain.Product, error) {
	var rows []productRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+productColumns+`
		FROM products
		WHERE owner_id = $1
		ORDER BY name, model, variation
	`, ownerID)
	if err != nil {
		return nil, errors.Wrap(err, "list products")
	}
	return productsFromRows(rows), nil
}

func (s *Store) SearchProducts(ctx context.Context, ownerID string, query string) ([]domain.Product, error) {
	pattern := "%" + escapeLike(strings.TrimSpace(query)) + "%"
	var rows []productRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+productColumns+`
		FROM products
		WHERE owner_id = $1
		  AND (name ILIKE $2 OR model ILIKE $2 OR variation ILIKE $2 OR sku ILIKE $2)
		ORDER BY name, model, variation
	`, ownerID, pattern)
	if err != nil {
		return nil, errors.Wrap(err, "search products")
	}
	return productsFromRows(rows), nil
}

func (s *Store) GetProduct(ctx context.Context, ownerID string, id string) (*domain.Product, error) {
	var row productRow
	err := s.db.GetContext(ctx, &row, `
		SELECT `+productColumns+`
		FROM products
		WHERE owner_id = $1 AND id = $2
	`, ownerID, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, errors.Wrap(err, "get product")
	}
	product := row.toDomain()
	return &product, nil
}

func (s *Store) GetProductBySKU(ctx context.Context, ownerID string, sku string) (*domain.Product, error) {
	var row productRow
	err := s.db.GetContext(ctx, &row, `
		SELECT `+productColumns+`
		FROM products
		WHERE owner_id = $1 AND upper(sku) = upper($2)
	`, ownerID, sku)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, errors.Wrap(err, "get product by sku")
	}
	product := row.toDomain()
	return &product, nil
}

func (s *Store) GetProductsByIDs(ctx context.Context, ownerID string, ids []string) (map[string]domain.Product, error) {
	result := make(map[string]domain.Product, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	var rows []productRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+productColumns+`
		FROM products
		WHERE owner_id = $1 AND id = ANY($2)
	`, ownerID, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get products by id")
	}
	for _, r := range rows {
		result[r.ID] = r.toDomain()
	}
	return result, nil
}

func (s *Store) CountProducts(ctx context.Context, ownerID string) (int, error) {
	var count int
	if err := s.db.GetContext(ctx, &count, `SELECT count(*) FROM products WHERE owner_id = $1`, ownerID); err != nil {
		return 0, errors.Wrap(err, "count products")
	}
	return count, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.OwnerID == "" || product.SKU == "" || product.Stock < 0 || product.SalePriceCents < 0 {
		return nil, store.ErrValidation
	}
	if product.ID == "" {
		product.ID = xid.New("prd")
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO products (id, owner_id, name, model, variation, sale_price_cents, stock, sku, created_at)
		VALUES (:id, :owner_id, :name, :model, :variation, :sale_price_cents, :stock, :sku, :created_at)
	`, productRow{
		ID:             product.ID,
		OwnerID:        product.OwnerID,
		Name:           product.Name,
		Model:          product.Model,
		Variation:      product.Variation,
		SalePriceCents: product.SalePriceCents,
		Stock:          product.Stock,
		SKU:            product.SKU,
		CreatedAt:      product.CreatedAt,
	})
	if err != nil {
		if isUniqueViolation(err) {
			return nil, errors.Wrapf(store.ErrConflict, "sku %s already in use", product.SKU)
		}
		return nil, errors.Wrap(err, "insert product")
	}
	created := product
	return &created, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	var row productRow
	err := s.db.GetContext(ctx, &row, `
		UPDATE products
		SET name = $3, model = $4, variation = $5, sale_price_cents = $6
		WHERE owner_id = $1 AND id = $2
		RETURNING `+productColumns,
		product.OwnerID, product.ID, product.Name, product.Model, product.Variation, product.SalePriceCents)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, errors.Wrap(err, "update product")
	}
	updated := row.toDomain()
	return &updated, nil
}

func (s *Store) AdjustStock(ctx context.Context, ownerID string, productID string, delta int) (*domain.Product, error) {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, errors.Wrap(err, "begin stock adjustment")
	}
	defer func() { _ = tx.Rollback() }()

	var row productRow
	err = tx.GetContext(ctx, &row, `
		SELECT `+productColumns+`
		FROM products
		WHERE owner_id = $1 AND id = $2
		FOR UPDATE
	`, ownerID, productID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, errors.Wrap(err, "lock product")
	}
	if row.Stock+delta < 0 {
		return nil, errors.Wrapf(store.ErrInsufficientStock, "not enough stock for %s", row.Name)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE products SET stock = stock + $2 WHERE id = $1`, productID, delta); err != nil {
		return nil, errors.Wrap(err, "update stock")
	}
	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "commit stock adjustment")
	}

	row.Stock += delta
	product := row.toDomain()
	return &product, nil
}

func (s *Store) DeleteProduct(ctx context.Context, ownerID string, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM products WHERE owner_id = $1 AND id = $2`, ownerID, id)
	if err != nil {
		return errors.Wrap(err, "delete product")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "delete product")
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

const customerColumns = `id, owner_id, name, phone, created_at`

type customerRow struct {
	ID        string    `db:"id"`
	OwnerID   string    `db:"owner_id"`
	Name      string    `db:"name"`
	Phone     string    `db:"phone"`
	CreatedAt time.Time `db:"created_at"`
}

func (r customerRow) toDomain() domain.Customer {
	return domain.Customer{ID: r.ID, OwnerID: r.OwnerID, Name: r.Name, Phone: r.Phone, CreatedAt: r.CreatedAt.UTC()}
}

func (s *Store) ListCustomers(ctx context.Context, ownerID string) ([]domain.Customer, error) {
	var rows []customerRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+customerColumns+`
		FROM customers
		WHERE owner_id = $1
		ORDER BY name, id
	`, ownerID)
	if err != nil {
		return nil, errors.Wrap(err, "list customers")
	}
	customers := make([]domain.Customer, 0, len(rows))
	for _, r := range rows {
		customers = append(customers, r.toDomain())
	}
	return customers, nil
}

func (s *Store) GetCustomer(ctx context.Context, ownerID string, id string) (*domain.Customer, error) {
	var row customerRow
	err := s.db.GetContext(ctx, &row, `
		SELECT `+customerColumns+`
		FROM customers
		WHERE owner_id = $1 AND id = $2
	`, ownerID, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, errors.Wrap(err, "get customer")
	}
	customer := row.toDomain()
	return &customer, nil
}

func (s *Store) CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	if customer.OwnerID == "" || strings.TrimSpace(customer.Name) == "" {
		return nil, store.ErrValidation
	}
	if customer.ID == "" {
		customer.ID = xid.New("cus")
	}
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO customers (id, owner_id, name, phone, created_at)
		VALUES (:id, :owner_id, :name, :phone, :created_at)
	`, customerRow{ID: customer.ID, OwnerID: customer.OwnerID, Name: customer.Name, Phone: customer.Phone, CreatedAt: customer.CreatedAt})
	if err != nil {
		return nil, errors.Wrap(err, "insert customer")
	}
	created := customer
	return &created, nil
}

func (s *Store) UpdateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	var row customerRow
	err := s.db.GetContext(ctx, &row, `
		UPDATE customers
		SET name = $3, phone = $4
		WHERE owner_id = $1 AND id = $2
		RETURNING `+customerColumns,
		customer.OwnerID, customer.ID, customer.Name, customer.Phone)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, errors.Wrap(err, "update customer")
	}
	updated := row.toDomain()
	return &updated, nil
}

type itemRow struct {
	ParentID        string `db:"parent_id"`
	ProductID       string `db:"product_id"`
	ProductName     string `db:"product_name"`
	ProductSKU      string `db:"product_sku"`
	Quantity        int    `db:"quantity"`
	UnitPriceCents  int64  `db:"unit_price_cents"`
	TotalPriceCents int64  `db:"total_price_cents"`
}

func (r itemRow) toDomain() domain.SaleItem {
	return domain.SaleItem{
		ProductID:       r.ProductID,
		ProductName:     r.ProductName,
		ProductSKU:      r.ProductSKU,
		Quantity:        r.Quantity,
		UnitPriceCents:  r.UnitPriceCents,
		TotalPriceCents: r.TotalPriceCents,
	}
}

func itemRows(parentID string, items []domain.SaleItem) []itemRow {
	rows := make([]itemRow, 0, len(items))
	for _, item := range items {
		rows = append(rows, itemRow{
			ParentID:        parentID,
			ProductID:       item.ProductID,
			ProductName:     item.ProductName,
			ProductSKU:      item.ProductSKU,
			Quantity:        item.Quantity,
			UnitPriceCents:  item.UnitPriceCents,
			TotalPriceCents: item.TotalPriceCents,
		})
	}
	return rows
}

type saleRow struct {
	ID              string    `db:"id"`
	OwnerID         string    `db:"owner_id"`
	PaymentMethod   string    `db:"payment_method"`
	TotalPriceCents int64     `db:"total_price_cents"`
	SaleDate        time.Time `db:"sale_date"`
}

const saleColumns = `id, owner_id, payment_method, total_price_cents, sale_date`

func (s *Store) CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	if len(sale.Items) == 0 {
		return nil, store.ErrValidation
	}
	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	if sale.Date.IsZero() {
		sale.Date = time.Now().UTC()
	}

	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, errors.Wrap(err, "begin sale")
	}
	defer func() { _ = tx.Rollback() }()

	if err := decrementStock(ctx, tx, sale.OwnerID, sale.Items); err != nil {
		return nil, err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO sales (id, owner_id, payment_method, total_price_cents, sale_date)
		VALUES ($1,$2,$3,$4,$5)
	`, sale.ID, sale.OwnerID, sale.PaymentMethod, sale.TotalPriceCents, sale.Date)
	if err != nil {
		return nil, errors.Wrap(err, "insert sale")
	}
	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO sale_items (sale_id, product_id, product_name, product_sku, quantity, unit_price_cents, total_price_cents)
		VALUES (:parent_id, :product_id, :product_name, :product_sku, :quantity, :unit_price_cents, :total_price_cents)
	`, itemRows(sale.ID, sale.Items))
	if err != nil {
		return nil, errors.Wrap(err, "insert sale items")
	}
	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "commit sale")
	}

	created := sale
	return &created, nil
}

func (s *Store) GetSale(ctx context.Context, ownerID string, id string) (*domain.Sale, error) {
	var row saleRow
	err := s.db.GetContext(ctx, &row, `
		SELECT `+saleColumns+`
		FROM sales
		WHERE owner_id = $1 AND id = $2
	`, ownerID, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, errors.Wrap(err, "get sale")
	}
	sales, err := s.attachSaleItems(ctx, []saleRow{row})
	if err != nil {
		return nil, err
	}
	return &sales[0], nil
}

func (s *Store) ListSales(ctx context.Context, ownerID string, from time.Time, to time.Time) ([]domain.Sale, error) {
	var rows []saleRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+saleColumns+`
		FROM sales
		WHERE owner_id = $1
		  AND ($2::timestamptz IS NULL OR sale_date >= $2)
		  AND ($3::timestamptz IS NULL OR sale_date < $3)
		ORDER BY sale_date DESC, id DESC
	`, ownerID, nullBound(from), nullBound(to))
	if err != nil {
		return nil, errors.Wrap(err, "list sales")
	}
	return s.attachSaleItems(ctx, rows)
}

func (s *Store) attachSaleItems(ctx context.Context, rows []saleRow) ([]domain.Sale, error) {
	sales := make([]domain.Sale, 0, len(rows))
	if len(rows) == 0 {
		return sales, nil
	}
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ID)
	}
	var items []itemRow
	err := s.db.SelectContext(ctx, &items, `
		SELECT sale_id AS parent_id, product_id, product_name, product_sku, quantity, unit_price_cents, total_price_cents
		FROM sale_items
		WHERE sale_id = ANY($1)
		ORDER BY id
	`, ids)
	if err != nil {
		return nil, errors.Wrap(err, "load sale items")
	}
	byParent := make(map[string][]domain.SaleItem, len(rows))
	for _, item := range items {
		byParent[item.ParentID] = append(byParent[item.ParentID], item.toDomain())
	}
	for _, r := range rows {
		saleItems := byParent[r.ID]
		if saleItems == nil {
			saleItems = []domain.SaleItem{}
		}
		sales = append(sales, domain.Sale{
			ID:              r.ID,
			OwnerID:         r.OwnerID,
			Items:           saleItems,
			PaymentMethod:   r.PaymentMethod,
			TotalPriceCents: r.TotalPriceCents,
			Date:            r.SaleDate.UTC(),
		})
	}
	return sales, nil
}

func (s *Store) DeleteSale(ctx context.Context, ownerID string, id string) error {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return errors.Wrap(err, "begin sale delete")
	}
	defer func() { _ = tx.Rollback() }()

	var found string
	err = tx.GetContext(ctx, &found, `SELECT id FROM sales WHERE owner_id = $1 AND id = $2 FOR UPDATE`, ownerID, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		return errors.Wrap(err, "lock sale")
	}
	if err := restockItems(ctx, tx, ownerID, `SELECT product_id, quantity FROM sale_items WHERE sale_id = $1`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sale_items WHERE sale_id = $1`, id); err != nil {
		return errors.Wrap(err, "delete sale items")
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sales WHERE id = $1`, id); err != nil {
		return errors.Wrap(err, "delete sale")
	}
	return errors.Wrap(tx.Commit(), "commit sale delete")
}

type installmentRow struct {
	ID                     string    `db:"id"`
	OwnerID                string    `db:"owner_id"`
	CustomerID             string    `db:"customer_id"`
	CustomerName           string    `db:"customer_name"`
	PaymentMethod          string    `db:"payment_method"`
	TotalAmountCents       int64     `db:"total_amount_cents"`
	InitialPaymentCents    int64     `db:"initial_payment_cents"`
	Installments           int       `db:"installments"`
	InstallmentAmountCents int64     `db:"installment_amount_cents"`
	SaleDate               time.Time `db:"sale_date"`
}

const installmentColumns = `id, owner_id, customer_id, customer_name, payment_method, total_amount_cents,
	initial_payment_cents, installments, installment_amount_cents, sale_date`

type paymentRow struct {
	ID          string    `db:"id"`
	SaleID      string    `db:"installment_sale_id"`
	AmountCents int64     `db:"amount_cents"`
	PaidAt      time.Time `db:"paid_at"`
}

func (s *Store) CreateInstallmentSale(ctx context.Context, sale domain.InstallmentSale) (*domain.InstallmentSale, error) {
	if len(sale.Items) == 0 || sale.Installments < 1 {
		return nil, store.ErrValidation
	}
	if sale.ID == "" {
		sale.ID = xid.New("inst")
	}
	if sale.Date.IsZero() {
		sale.Date = time.Now().UTC()
	}

	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, errors.Wrap(err, "begin installment sale")
	}
	defer func() { _ = tx.Rollback() }()

	var customerName string
	err = tx.GetContext(ctx, &customerName, `SELECT name FROM customers WHERE owner_id = $1 AND id = $2`, sale.OwnerID, sale.CustomerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Wrap(store.ErrNotFound, "customer")
		}
		return nil, errors.Wrap(err, "load customer")
	}
	sale.CustomerName = customerName

	if err := decrementStock(ctx, tx, sale.OwnerID, sale.Items); err != nil {
		return nil, err
	}
	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO installment_sales (`+installmentColumns+`)
		VALUES (:id, :owner_id, :customer_id, :customer_name, :payment_method, :total_amount_cents,
			:initial_payment_cents, :installments, :installment_amount_cents, :sale_date)
	`, installmentRow{
		ID:                     sale.ID,
		OwnerID:                sale.OwnerID,
		CustomerID:             sale.CustomerID,
		CustomerName:           sale.CustomerName,
		PaymentMethod:          sale.PaymentMethod,
		TotalAmountCents:       sale.TotalAmountCents,
		InitialPaymentCents:    sale.InitialPaymentCents,
		Installments:           sale.Installments,
		InstallmentAmountCents: sale.InstallmentAmountCents,
		SaleDate:               sale.Date,
	})
	if err != nil {
		return nil, errors.Wrap(err, "insert installment sale")
	}
	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO installment_sale_items (installment_sale_id, product_id, product_name, product_sku, quantity, unit_price_cents, total_price_cents)
		VALUES (:parent_id, :product_id, :product_name, :product_sku, :quantity, :unit_price_cents, :total_price_cents)
	`, itemRows(sale.ID, sale.Items))
	if err != nil {
		return nil, errors.Wrap(err, "insert installment sale items")
	}
	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "commit installment sale")
	}

	sale.Payments = []domain.Payment{}
	created := sale
	return &created, nil
}

func (s *Store) GetInstallmentSale(ctx context.Context, ownerID string, id string) (*domain.InstallmentSale, error) {
	sale, err := getInstallmentSale(ctx, s.db, ownerID, id, false)
	if err != nil {
		return nil, err
	}
	return sale, nil
}

func (s *Store) ListInstallmentSales(ctx context.Context, ownerID string, customerID string) ([]domain.InstallmentSale, error) {
	var rows []installmentRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+installmentColumns+`
		FROM installment_sales
		WHERE owner_id = $1 AND ($2 = '' OR customer_id = $2)
		ORDER BY sale_date DESC, id DESC
	`, ownerID, customerID)
	if err != nil {
		return nil, errors.Wrap(err, "list installment sales")
	}
	return attachInstallmentDetails(ctx, s.db, rows)
}

func (s *Store) AddPayment(ctx context.Context, ownerID string, saleID string, payment domain.Payment, guard store.PaymentGuard) (*domain.InstallmentSale, error) {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, errors.Wrap(err, "begin payment")
	}
	defer func() { _ = tx.Rollback() }()

	sale, err := getInstallmentSale(ctx, tx, ownerID, saleID, true)
	if err != nil {
		return nil, err
	}
	if guard != nil {
		if err := guard(*sale, payment.AmountCents); err != nil {
			return nil, err
		}
	}
	if payment.ID == "" {
		payment.ID = xid.New("pay")
	}
	if payment.Date.IsZero() {
		payment.Date = time.Now().UTC()
	}
	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO installment_payments (id, installment_sale_id, amount_cents, paid_at)
		VALUES (:id, :installment_sale_id, :amount_cents, :paid_at)
	`, paymentRow{ID: payment.ID, SaleID: saleID, AmountCents: payment.AmountCents, PaidAt: payment.Date})
	if err != nil {
		return nil, errors.Wrap(err, "insert payment")
	}
	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "commit payment")
	}

	sale.Payments = append(sale.Payments, payment)
	return sale, nil
}

// DeleteInstallmentSale removes payments, then items, then the header.
func (s *Store) DeleteInstallmentSale(ctx context.Context, ownerID string, id string) error {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return errors.Wrap(err, "begin installment sale delete")
	}
	defer func() { _ = tx.Rollback() }()

	var found string
	err = tx.GetContext(ctx, &found, `SELECT id FROM installment_sales WHERE owner_id = $1 AND id = $2 FOR UPDATE`, ownerID, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		return errors.Wrap(err, "lock installment sale")
	}
	if err := restockItems(ctx, tx, ownerID, `SELECT product_id, quantity FROM installment_sale_items WHERE installment_sale_id = $1`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM installment_payments WHERE installment_sale_id = $1`, id); err != nil {
		return errors.Wrap(err, "delete payments")
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM installment_sale_items WHERE installment_sale_id = $1`, id); err != nil {
		return errors.Wrap(err, "delete installment sale items")
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM installment_sales WHERE id = $1`, id); err != nil {
		return errors.Wrap(err, "delete installment sale")
	}
	return errors.Wrap(tx.Commit(), "commit installment sale delete")
}

func (s *Store) CountSalesSince(ctx context.Context, ownerID string, from time.Time) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count, `
		SELECT
			(SELECT count(*) FROM sales WHERE owner_id = $1 AND sale_date >= $2) +
			(SELECT count(*) FROM installment_sales WHERE owner_id = $1 AND sale_date >= $2)
	`, ownerID, from)
	if err != nil {
		return 0, errors.Wrap(err, "count sales")
	}
	return count, nil
}

type subscriptionRow struct {
	OwnerID   string    `db:"owner_id"`
	IsPremium bool      `db:"is_premium"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (s *Store) GetSubscription(ctx context.Context, ownerID string) (*domain.Subscription, error) {
	var row subscriptionRow
	err := s.db.GetContext(ctx, &row, `
		SELECT owner_id, is_premium, updated_at
		FROM subscriptions
		WHERE owner_id = $1
	`, ownerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, errors.Wrap(err, "get subscription")
	}
	return &domain.Subscription{OwnerID: row.OwnerID, IsPremium: row.IsPremium, UpdatedAt: row.UpdatedAt.UTC()}, nil
}

func (s *Store) UpsertSubscription(ctx context.Context, sub domain.Subscription) (*domain.Subscription, error) {
	if sub.OwnerID == "" {
		return nil, store.ErrValidation
	}
	if sub.UpdatedAt.IsZero() {
		sub.UpdatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO subscriptions (owner_id, is_premium, updated_at)
		VALUES ($1,$2,$3)
		ON CONFLICT (owner_id)
		DO UPDATE SET is_premium = EXCLUDED.is_premium, updated_at = EXCLUDED.updated_at
	`, sub.OwnerID, sub.IsPremium, sub.UpdatedAt)
	if err != nil {
		return nil, errors.Wrap(err, "upsert subscription")
	}
	saved := sub
	return &saved, nil
}

type auditRow struct {
	ID            string    `db:"id"`
	OwnerID       string    `db:"owner_id"`
	ActorUsername string    `db:"actor_username"`
	Action        string    `db:"action"`
	EntityType    string    `db:"entity_type"`
	EntityID      string    `db:"entity_id"`
	Detail        string    `db:"detail"`
	CreatedAt     time.Time `db:"created_at"`
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO audit_logs (id, owner_id, actor_username, action, entity_type, entity_id, detail, created_at)
		VALUES (:id, :owner_id, :actor_username, :action, :entity_type, :entity_id, :detail, :created_at)
	`, auditRow(entry))
	return errors.Wrap(err, "insert audit log")
}

func (s *Store) ListAuditLogs(ctx context.Context, ownerID string, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}
	var rows []auditRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, owner_id, actor_username, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE ($1 = '' OR owner_id = $1)
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, ownerID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "list audit logs")
	}
	logs := make([]domain.AuditLog, 0, len(rows))
	for _, r := range rows {
		entry := domain.AuditLog(r)
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	return logs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrValidation
	}
	if user.Role == "" {
		user.Role = domain.RoleOwner
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return errors.Wrap(store.ErrConflict, "username already exists")
		}
		return errors.Wrap(err, "insert user")
	}
	return nil
}

type userRow struct {
	Username  string    `db:"username"`
	Password  string    `db:"password"`
	Role      string    `db:"role"`
	Active    bool      `db:"active"`
	CreatedAt time.Time `db:"created_at"`
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	var rows []userRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT username, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, errors.Wrap(err, "list users")
	}
	users := make([]domain.UserAccount, 0, len(rows))
	for _, r := range rows {
		user := domain.UserAccount(r)
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrValidation
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return errors.Wrap(err, "update user password")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "update user password")
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// decrementStock locks every product of the sale, checks all lines and only
// then applies the decrements. Lines for the same product are summed.
func decrementStock(ctx context.Context, tx *sqlx.Tx, ownerID string, items []domain.SaleItem) error {
	needed := make(map[string]int, len(items))
	ids := make([]string, 0, len(items))
	for _, item := range items {
		if item.Quantity < 1 {
			return store.ErrValidation
		}
		if _, seen := needed[item.ProductID]; !seen {
			ids = append(ids, item.ProductID)
		}
		needed[item.ProductID] += item.Quantity
	}

	var rows []productRow
	err := tx.SelectContext(ctx, &rows, `
		SELECT `+productColumns+`
		FROM products
		WHERE owner_id = $1 AND id = ANY($2)
		ORDER BY id
		FOR UPDATE
	`, ownerID, ids)
	if err != nil {
		return errors.Wrap(err, "lock products")
	}
	locked := make(map[string]productRow, len(rows))
	for _, r := range rows {
		locked[r.ID] = r
	}
	for _, id := range ids {
		row, ok := locked[id]
		if !ok {
			return errors.Wrapf(store.ErrNotFound, "product %s", id)
		}
		if row.Stock < needed[id] {
			return errors.Wrapf(store.ErrInsufficientStock, "not enough stock for %s", row.Name)
		}
	}
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `UPDATE products SET stock = stock - $2 WHERE id = $1`, id, needed[id]); err != nil {
			return errors.Wrap(err, "decrement stock")
		}
	}
	return nil
}

// restockItems skips products that no longer exist.
func restockItems(ctx context.Context, tx *sqlx.Tx, ownerID string, itemQuery string, parentID string) error {
	var items []struct {
		ProductID string `db:"product_id"`
		Quantity  int    `db:"quantity"`
	}
	if err := tx.SelectContext(ctx, &items, itemQuery, parentID); err != nil {
		return errors.Wrap(err, "load items for restock")
	}
	for _, item := range items {
		_, err := tx.ExecContext(ctx, `
			UPDATE products SET stock = stock + $3
			WHERE owner_id = $1 AND id = $2
		`, ownerID, item.ProductID, item.Quantity)
		if err != nil {
			return errors.Wrap(err, "restock product")
		}
	}
	return nil
}

func getInstallmentSale(ctx context.Context, q sqlx.QueryerContext, ownerID string, id string, forUpdate bool) (*domain.InstallmentSale, error) {
	query := `
		SELECT ` + installmentColumns + `
		FROM installment_sales
		WHERE owner_id = $1 AND id = $2`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var row installmentRow
	if err := sqlx.GetContext(ctx, q, &row, query, ownerID, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, errors.Wrap(err, "get installment sale")
	}
	sales, err := attachInstallmentDetails(ctx, q, []installmentRow{row})
	if err != nil {
		return nil, err
	}
	return &sales[0], nil
}

func attachInstallmentDetails(ctx context.Context, q sqlx.QueryerContext, rows []installmentRow) ([]domain.InstallmentSale, error) {
	sales := make([]domain.InstallmentSale, 0, len(rows))
	if len(rows) == 0 {
		return sales, nil
	}
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ID)
	}

	var items []itemRow
	err := sqlx.SelectContext(ctx, q, &items, `
		SELECT installment_sale_id AS parent_id, product_id, product_name, product_sku, quantity, unit_price_cents, total_price_cents
		FROM installment_sale_items
		WHERE installment_sale_id = ANY($1)
		ORDER BY id
	`, ids)
	if err != nil {
		return nil, errors.Wrap(err, "load installment sale items")
	}
	var payments []paymentRow
	err = sqlx.SelectContext(ctx, q, &payments, `
		SELECT id, installment_sale_id, amount_cents, paid_at
		FROM installment_payments
		WHERE installment_sale_id = ANY($1)
		ORDER BY paid_at, id
	`, ids)
	if err != nil {
		return nil, errors.Wrap(err, "load installment payments")
	}

	itemsBySale := make(map[string][]domain.SaleItem, len(rows))
	for _, item := range items {
		itemsBySale[item.ParentID] = append(itemsBySale[item.ParentID], item.toDomain())
	}
	paymentsBySale := make(map[string][]domain.Payment, len(rows))
	for _, p := range payments {
		paymentsBySale[p.SaleID] = append(paymentsBySale[p.SaleID], domain.Payment{ID: p.ID, AmountCents: p.AmountCents, Date: p.PaidAt.UTC()})
	}

	for _, r := range rows {
		saleItems := itemsBySale[r.ID]
		if saleItems == nil {
			saleItems = []domain.SaleItem{}
		}
		salePayments := paymentsBySale[r.ID]
		if salePayments == nil {
			salePayments = []domain.Payment{}
		}
		sales = append(sales, domain.InstallmentSale{
			ID:                     r.ID,
			OwnerID:                r.OwnerID,
			CustomerID:             r.CustomerID,
			CustomerName:           r.CustomerName,
			Items:                  saleItems,
			PaymentMethod:          r.PaymentMethod,
			TotalAmountCents:       r.TotalAmountCents,
			InitialPaymentCents:    r.InitialPaymentCents,
			Installments:           r.Installments,
			InstallmentAmountCents: r.InstallmentAmountCents,
			Date:                   r.SaleDate.UTC(),
			Payments:               salePayments,
		})
	}
	return sales, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullBound(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

func escapeLike(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(value)
}
