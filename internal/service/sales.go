package service

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"invenda/backend/internal/domain"
	"invenda/backend/internal/store"
)

func (s *Service) RegisterSale(ctx context.Context, req domain.SaleCreateRequest) (domain.Sale, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.Sale{}, err
	}
	method, err := normalizePaymentMethod(req.PaymentMethod)
	if err != nil {
		return domain.Sale{}, err
	}
	lines, err := normalizeLines(req.Items)
	if err != nil {
		return domain.Sale{}, err
	}
	if err := s.enforceSaleLimit(ctx, actor.Username); err != nil {
		return domain.Sale{}, err
	}

	items, total, err := s.priceLines(ctx, actor.Username, lines)
	if err != nil {
		return domain.Sale{}, err
	}

	created, err := s.repo.CreateSale(ctx, domain.Sale{
		OwnerID:         actor.Username,
		Items:           items,
		PaymentMethod:   method,
		TotalPriceCents: total,
		Date:            s.now(),
	})
	if err != nil {
		return domain.Sale{}, err
	}

	s.usage.Invalidate(ctx, actor.Username)
	s.logAudit(ctx, actor.Username, "sale_create", "sale", created.ID,
		fmt.Sprintf("items=%d,total=%d,method=%s", len(created.Items), created.TotalPriceCents, created.PaymentMethod))
	return *created, nil
}

func (s *Service) GetSale(ctx context.Context, id string) (domain.Sale, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.Sale{}, err
	}
	sale, err := s.repo.GetSale(ctx, actor.Username, strings.TrimSpace(id))
	if err != nil {
		return domain.Sale{}, err
	}
	return *sale, nil
}

// ListSales returns every sale, or only those of one "YYYY-MM" month.
func (s *Service) ListSales(ctx context.Context, month string) ([]domain.Sale, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(month) == "" {
		return s.repo.ListSales(ctx, actor.Username, time.Time{}, time.Time{})
	}
	from, to, err := s.monthRange(month)
	if err != nil {
		return nil, err
	}
	return s.repo.ListSales(ctx, actor.Username, from, to)
}

// DeleteSale puts the sold quantities back in stock.
func (s *Service) DeleteSale(ctx context.Context, id string) error {
	actor, err := requireActor(ctx)
	if err != nil {
		return err
	}
	id = strings.TrimSpace(id)
	if err := s.repo.DeleteSale(ctx, actor.Username, id); err != nil {
		return err
	}
	s.usage.Invalidate(ctx, actor.Username)
	s.logAudit(ctx, actor.Username, "sale_delete", "sale", id, "restocked")
	return nil
}

// normalizeLines merges repeated products, keeping first-seen order.
func normalizeLines(lines []domain.CartLine) ([]domain.CartLine, error) {
	if len(lines) == 0 {
		return nil, fieldError("items", "at least one item is required")
	}
	index := make(map[string]int, len(lines))
	merged := make([]domain.CartLine, 0, len(lines))
	for i, line := range lines {
		productID := strings.TrimSpace(line.ProductID)
		if productID == "" {
			return nil, fieldError(fmt.Sprintf("items[%d].product_id", i), "product is required")
		}
		if line.Quantity < 1 {
			return nil, fieldError(fmt.Sprintf("items[%d].quantity", i), "quantity must be greater than zero")
		}
		if pos, ok := index[productID]; ok {
			merged[pos].Quantity += line.Quantity
			continue
		}
		index[productID] = len(merged)
		merged = append(merged, domain.CartLine{ProductID: productID, Quantity: line.Quantity})
	}
	return merged, nil
}

// priceLines snapshots name, SKU and current price for each line and checks
// every line's stock before anything is written. The store repeats the stock
// check under its own lock.
func (s *Service) priceLines(ctx context.Context, ownerID string, lines []domain.CartLine) ([]domain.SaleItem, int64, error) {
	ids := make([]string, 0, len(lines))
	for _, line := range lines {
		ids = append(ids, line.ProductID)
	}
	products, err := s.repo.GetProductsByIDs(ctx, ownerID, ids)
	if err != nil {
		return nil, 0, err
	}

	items := make([]domain.SaleItem, 0, len(lines))
	var total int64
	for i, line := range lines {
		product, ok := products[line.ProductID]
		if !ok {
			return nil, 0, fmt.Errorf("product %s: %w", line.ProductID, store.ErrNotFound)
		}
		if product.Stock < line.Quantity {
			return nil, 0, fmt.Errorf("%w for %s: available %d, requested %d",
				store.ErrInsufficientStock, product.Name, product.Stock, line.Quantity)
		}
		if product.SalePriceCents > 0 && int64(line.Quantity) > math.MaxInt64/product.SalePriceCents {
			return nil, 0, fieldError(fmt.Sprintf("items[%d].quantity", i), "line total is too large")
		}
		lineTotal := int64(line.Quantity) * product.SalePriceCents
		if total > math.MaxInt64-lineTotal {
			return nil, 0, fieldError("items", "sale total is too large")
		}
		items = append(items, domain.SaleItem{
			ProductID:       product.ID,
			ProductName:     product.Name,
			ProductSKU:      product.SKU,
			Quantity:        line.Quantity,
			UnitPriceCents:  product.SalePriceCents,
			TotalPriceCents: lineTotal,
		})
		total += lineTotal
	}
	return items, total, nil
}

func normalizePaymentMethod(method string) (string, error) {
	method = strings.ToLower(strings.TrimSpace(method))
	if !domain.IsSupportedPaymentMethod(method) {
		return "", fieldError("payment_method", "payment method must be one of cash, pix, card")
	}
	return method, nil
}
