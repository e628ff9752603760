package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"invenda/backend/internal/domain"
	"invenda/backend/internal/store"
)

func seedProduct(t *testing.T, s *Store, owner, sku string, stock int) domain.Product {
	t.Helper()
	p, err := s.CreateProduct(context.Background(), domain.Product{
		OwnerID:        owner,
		Name:           "Capinha " + sku,
		Model:          "X",
		Variation:      "Azul",
		SalePriceCents: 1000,
		Stock:          stock,
		SKU:            sku,
	})
	require.NoError(t, err)
	return *p
}

func TestCreateProductRejectsCaseInsensitiveSKUCollision(t *testing.T) {
	s := New()
	seedProduct(t, s, "ana", "ABC2345", 1)

	_, err := s.CreateProduct(context.Background(), domain.Product{OwnerID: "ana", SKU: "abc2345", Name: "n"})
	require.ErrorIs(t, err, store.ErrConflict)

	_, err = s.CreateProduct(context.Background(), domain.Product{OwnerID: "bia", SKU: "ABC2345", Name: "n"})
	require.NoError(t, err, "other owners may reuse a code")
}

func TestCreateSaleIsAllOrNothing(t *testing.T) {
	s := New()
	ctx := context.Background()
	a := seedProduct(t, s, "ana", "AAAAAAA", 5)
	b := seedProduct(t, s, "ana", "BBBBBBB", 1)

	_, err := s.CreateSale(ctx, domain.Sale{
		OwnerID: "ana",
		Items: []domain.SaleItem{
			{ProductID: a.ID, Quantity: 2},
			{ProductID: b.ID, Quantity: 2},
		},
	})
	require.ErrorIs(t, err, store.ErrInsufficientStock)
	assert.Contains(t, err.Error(), b.Name)

	got, err := s.GetProduct(ctx, "ana", a.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, got.Stock, "first line must not be applied")
}

func TestCreateSaleSumsRepeatedLines(t *testing.T) {
	s := New()
	a := seedProduct(t, s, "ana", "AAAAAAA", 3)

	_, err := s.CreateSale(context.Background(), domain.Sale{
		OwnerID: "ana",
		Items:   []domain.SaleItem{{ProductID: a.ID, Quantity: 2}, {ProductID: a.ID, Quantity: 2}},
	})
	require.ErrorIs(t, err, store.ErrInsufficientStock)
}

func TestDeleteSaleRestocks(t *testing.T) {
	s := New()
	ctx := context.Background()
	a := seedProduct(t, s, "ana", "AAAAAAA", 5)

	sale, err := s.CreateSale(ctx, domain.Sale{OwnerID: "ana", Items: []domain.SaleItem{{ProductID: a.ID, Quantity: 3}}})
	require.NoError(t, err)
	got, _ := s.GetProduct(ctx, "ana", a.ID)
	require.Equal(t, 2, got.Stock)

	require.NoError(t, s.DeleteSale(ctx, "ana", sale.ID))
	got, _ = s.GetProduct(ctx, "ana", a.ID)
	assert.Equal(t, 5, got.Stock)

	require.ErrorIs(t, s.DeleteSale(ctx, "ana", sale.ID), store.ErrNotFound)
}

func TestDeleteProductLeavesSaleRestockToSkip(t *testing.T) {
	s := New()
	ctx := context.Background()
	a := seedProduct(t, s, "ana", "AAAAAAA", 5)
	b := seedProduct(t, s, "ana", "BBBBBBB", 5)

	sale, err := s.CreateSale(ctx, domain.Sale{OwnerID: "ana", Items: []domain.SaleItem{
		{ProductID: a.ID, Quantity: 1},
		{ProductID: b.ID, Quantity: 2},
	}})
	require.NoError(t, err)

	require.ErrorIs(t, s.DeleteProduct(ctx, "bia", a.ID), store.ErrNotFound)
	require.NoError(t, s.DeleteProduct(ctx, "ana", a.ID))
	count, err := s.CountProducts(ctx, "ana")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.NoError(t, s.DeleteSale(ctx, "ana", sale.ID))
	got, err := s.GetProduct(ctx, "ana", b.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, got.Stock)
	_, err = s.GetProduct(ctx, "ana", a.ID)
	require.ErrorIs(t, err, store.ErrNotFound, "restock must not recreate a removed product")
}

func TestOwnerScoping(t *testing.T) {
	s := New()
	ctx := context.Background()
	a := seedProduct(t, s, "ana", "AAAAAAA", 5)

	_, err := s.GetProduct(ctx, "bia", a.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.AdjustStock(ctx, "bia", a.ID, 1)
	require.ErrorIs(t, err, store.ErrNotFound)

	products, err := s.ListProducts(ctx, "bia")
	require.NoError(t, err)
	assert.Empty(t, products)
}

func TestAdjustStockRefusesNegative(t *testing.T) {
	s := New()
	a := seedProduct(t, s, "ana", "AAAAAAA", 2)

	_, err := s.AdjustStock(context.Background(), "ana", a.ID, -3)
	require.ErrorIs(t, err, store.ErrInsufficientStock)

	updated, err := s.AdjustStock(context.Background(), "ana", a.ID, -2)
	require.NoError(t, err)
	assert.Equal(t, 0, updated.Stock)
}

func TestAddPaymentRunsGuardUnderLock(t *testing.T) {
	s := New()
	ctx := context.Background()
	a := seedProduct(t, s, "ana", "AAAAAAA", 2)
	customer, err := s.CreateCustomer(ctx, domain.Customer{OwnerID: "ana", Name: "Maria"})
	require.NoError(t, err)

	sale, err := s.CreateInstallmentSale(ctx, domain.InstallmentSale{
		OwnerID:          "ana",
		CustomerID:       customer.ID,
		Items:            []domain.SaleItem{{ProductID: a.ID, Quantity: 1, UnitPriceCents: 1000, TotalPriceCents: 1000}},
		TotalAmountCents: 1000,
		Installments:     2,
	})
	require.NoError(t, err)
	assert.Equal(t, "Maria", sale.CustomerName)

	rejected := errors.New("rejected")
	_, err = s.AddPayment(ctx, "ana", sale.ID, domain.Payment{AmountCents: 500}, func(current domain.InstallmentSale, amount int64) error {
		assert.Empty(t, current.Payments)
		assert.Equal(t, int64(500), amount)
		return rejected
	})
	require.ErrorIs(t, err, rejected)

	updated, err := s.AddPayment(ctx, "ana", sale.ID, domain.Payment{AmountCents: 500}, nil)
	require.NoError(t, err)
	require.Len(t, updated.Payments, 1)
	assert.NotEmpty(t, updated.Payments[0].ID)
}

func TestCountSalesSinceCountsBothKinds(t *testing.T) {
	s := New()
	ctx := context.Background()
	a := seedProduct(t, s, "ana", "AAAAAAA", 10)
	customer, err := s.CreateCustomer(ctx, domain.Customer{OwnerID: "ana", Name: "Maria"})
	require.NoError(t, err)

	old := time.Date(2020, 1, 10, 0, 0, 0, 0, time.UTC)
	_, err = s.CreateSale(ctx, domain.Sale{OwnerID: "ana", Date: old, Items: []domain.SaleItem{{ProductID: a.ID, Quantity: 1}}})
	require.NoError(t, err)
	_, err = s.CreateSale(ctx, domain.Sale{OwnerID: "ana", Items: []domain.SaleItem{{ProductID: a.ID, Quantity: 1}}})
	require.NoError(t, err)
	_, err = s.CreateInstallmentSale(ctx, domain.InstallmentSale{
		OwnerID: "ana", CustomerID: customer.ID, Installments: 1,
		Items: []domain.SaleItem{{ProductID: a.ID, Quantity: 1}},
	})
	require.NoError(t, err)

	count, err := s.CountSalesSince(ctx, "ana", time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestSearchProductsMatchesAnyField(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedProduct(t, s, "ana", "QWE2345", 1)
	seedProduct(t, s, "ana", "ZXC6789", 1)

	found, err := s.SearchProducts(ctx, "ana", "qwe")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "QWE2345", found[0].SKU)

	found, err = s.SearchProducts(ctx, "ana", "AZUL")
	require.NoError(t, err)
	assert.Len(t, found, 2)
}
