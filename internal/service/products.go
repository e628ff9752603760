package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"invenda/backend/internal/domain"
	"invenda/backend/internal/store"
	"invenda/backend/internal/xid"
)

const skuAttempts = 5

// maxSalePriceCents caps a unit price at one billion in currency units.
const maxSalePriceCents int64 = 100_000_000_000

func (s *Service) ListProducts(ctx context.Context, query string) ([]domain.ProductView, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}

	var products []domain.Product
	if strings.TrimSpace(query) == "" {
		products, err = s.repo.ListProducts(ctx, actor.Username)
	} else {
		products, err = s.repo.SearchProducts(ctx, actor.Username, query)
	}
	if err != nil {
		return nil, err
	}
	return domain.NewProductViews(products), nil
}

func (s *Service) GetProduct(ctx context.Context, id string) (domain.ProductView, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.ProductView{}, err
	}
	product, err := s.repo.GetProduct(ctx, actor.Username, strings.TrimSpace(id))
	if err != nil {
		return domain.ProductView{}, err
	}
	return domain.NewProductView(*product), nil
}

func (s *Service) GetProductBySKU(ctx context.Context, sku string) (domain.ProductView, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.ProductView{}, err
	}
	sku = strings.TrimSpace(sku)
	if sku == "" {
		return domain.ProductView{}, fieldError("sku", "sku is required")
	}
	if !xid.IsSKU(sku) {
		return domain.ProductView{}, fieldError("sku", "sku must be 7 characters from the code alphabet")
	}
	product, err := s.repo.GetProductBySKU(ctx, actor.Username, sku)
	if err != nil {
		return domain.ProductView{}, err
	}
	return domain.NewProductView(*product), nil
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.ProductView, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.ProductView{}, err
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Model = strings.TrimSpace(req.Model)
	req.Variation = strings.TrimSpace(req.Variation)
	switch {
	case req.Name == "":
		return domain.ProductView{}, fieldError("name", "name is required")
	case req.Model == "":
		return domain.ProductView{}, fieldError("model", "model is required")
	case req.Variation == "":
		return domain.ProductView{}, fieldError("variation", "variation is required")
	case req.SalePriceCents < 0:
		return domain.ProductView{}, fieldError("sale_price_cents", "sale price must not be negative")
	case req.SalePriceCents > maxSalePriceCents:
		return domain.ProductView{}, fieldError("sale_price_cents", "sale price is too large")
	case req.InitialStock < 0:
		return domain.ProductView{}, fieldError("initial_stock", "initial stock must not be negative")
	}

	if err := s.enforceProductLimit(ctx, actor.Username); err != nil {
		return domain.ProductView{}, err
	}

	product := domain.Product{
		OwnerID:        actor.Username,
		Name:           req.Name,
		Model:          req.Model,
		Variation:      req.Variation,
		SalePriceCents: req.SalePriceCents,
		Stock:          req.InitialStock,
		CreatedAt:      s.now(),
	}

	// Generated codes may collide; the store's uniqueness check decides.
	var created *domain.Product
	for attempt := 1; attempt <= skuAttempts; attempt++ {
		product.SKU = s.newSKU()
		created, err = s.repo.CreateProduct(ctx, product)
		if err == nil {
			break
		}
		if !errors.Is(err, store.ErrConflict) {
			return domain.ProductView{}, err
		}
		s.logger.WithField("attempt", attempt).Debug("sku collision, regenerating")
	}
	if err != nil {
		return domain.ProductView{}, fmt.Errorf("%w: could not allocate a unique sku", store.ErrConflict)
	}

	s.usage.Invalidate(ctx, actor.Username)
	s.logAudit(ctx, actor.Username, "product_create", "product", created.ID,
		fmt.Sprintf("sku=%s,price=%d,stock=%d", created.SKU, created.SalePriceCents, created.Stock))
	return domain.NewProductView(*created), nil
}

func (s *Service) UpdateProduct(ctx context.Context, id string, req domain.ProductUpdateRequest) (domain.ProductView, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.ProductView{}, err
	}

	existing, err := s.repo.GetProduct(ctx, actor.Username, strings.TrimSpace(id))
	if err != nil {
		return domain.ProductView{}, err
	}

	updated := *existing
	changes := make([]string, 0, 4)
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.ProductView{}, fieldError("name", "name is required")
		}
		updated.Name = name
		changes = append(changes, "name")
	}
	if req.Model != nil {
		model := strings.TrimSpace(*req.Model)
		if model == "" {
			return domain.ProductView{}, fieldError("model", "model is required")
		}
		updated.Model = model
		changes = append(changes, "model")
	}
	if req.Variation != nil {
		variation := strings.TrimSpace(*req.Variation)
		if variation == "" {
			return domain.ProductView{}, fieldError("variation", "variation is required")
		}
		updated.Variation = variation
		changes = append(changes, "variation")
	}
	if req.SalePriceCents != nil {
		if *req.SalePriceCents < 0 {
			return domain.ProductView{}, fieldError("sale_price_cents", "sale price must not be negative")
		}
		if *req.SalePriceCents > maxSalePriceCents {
			return domain.ProductView{}, fieldError("sale_price_cents", "sale price is too large")
		}
		updated.SalePriceCents = *req.SalePriceCents
		changes = append(changes, "sale_price")
	}
	if len(changes) == 0 {
		return domain.ProductView{}, fieldError("body", "no changes supplied")
	}

	saved, err := s.repo.UpdateProduct(ctx, updated)
	if err != nil {
		return domain.ProductView{}, err
	}
	s.logAudit(ctx, actor.Username, "product_update", "product", saved.ID, "fields="+strings.Join(changes, ","))
	return domain.NewProductView(*saved), nil
}

// DeleteProduct removes a product from the catalog. Sales that sold it keep
// their item snapshots and can still be deleted.
func (s *Service) DeleteProduct(ctx context.Context, id string) error {
	actor, err := requireActor(ctx)
	if err != nil {
		return err
	}
	id = strings.TrimSpace(id)
	if err := s.repo.DeleteProduct(ctx, actor.Username, id); err != nil {
		return err
	}
	s.usage.Invalidate(ctx, actor.Username)
	s.logAudit(ctx, actor.Username, "product_delete", "product", id, "removed")
	return nil
}

// UpdateStock applies a signed delta. Results below zero are refused.
func (s *Service) UpdateStock(ctx context.Context, id string, delta int) (domain.ProductView, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.ProductView{}, err
	}
	product, err := s.repo.AdjustStock(ctx, actor.Username, strings.TrimSpace(id), delta)
	if err != nil {
		return domain.ProductView{}, err
	}
	s.logAudit(ctx, actor.Username, "stock_update", "product", product.ID, fmt.Sprintf("delta=%d,stock=%d", delta, product.Stock))
	return domain.NewProductView(*product), nil
}

func (s *Service) Restock(ctx context.Context, id string, quantity int) (domain.RestockResponse, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.RestockResponse{}, err
	}
	if quantity <= 0 {
		return domain.RestockResponse{}, fieldError("quantity", "quantity must be greater than zero")
	}
	product, err := s.repo.AdjustStock(ctx, actor.Username, strings.TrimSpace(id), quantity)
	if err != nil {
		return domain.RestockResponse{}, err
	}
	s.logAudit(ctx, actor.Username, "restock", "product", product.ID, fmt.Sprintf("added=%d,stock=%d", quantity, product.Stock))
	return domain.RestockResponse{
		Product:       domain.NewProductView(*product),
		PreviousStock: product.Stock - quantity,
		Added:         quantity,
	}, nil
}
