package service

import (
	"context"
	"strings"

	"invenda/backend/internal/domain"
	"invenda/backend/internal/ledger"
)

func (s *Service) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	return s.repo.ListCustomers(ctx, actor.Username)
}

func (s *Service) GetCustomer(ctx context.Context, id string) (domain.Customer, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.Customer{}, err
	}
	customer, err := s.repo.GetCustomer(ctx, actor.Username, strings.TrimSpace(id))
	if err != nil {
		return domain.Customer{}, err
	}
	return *customer, nil
}

func (s *Service) CreateCustomer(ctx context.Context, req domain.CustomerCreateRequest) (domain.Customer, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.Customer{}, err
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Customer{}, fieldError("name", "name is required")
	}

	created, err := s.repo.CreateCustomer(ctx, domain.Customer{
		OwnerID:   actor.Username,
		Name:      name,
		Phone:     strings.TrimSpace(req.Phone),
		CreatedAt: s.now(),
	})
	if err != nil {
		return domain.Customer{}, err
	}
	s.logAudit(ctx, actor.Username, "customer_create", "customer", created.ID, "name="+created.Name)
	return *created, nil
}

func (s *Service) UpdateCustomer(ctx context.Context, id string, req domain.CustomerUpdateRequest) (domain.Customer, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.Customer{}, err
	}
	existing, err := s.repo.GetCustomer(ctx, actor.Username, strings.TrimSpace(id))
	if err != nil {
		return domain.Customer{}, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Customer{}, fieldError("name", "name is required")
		}
		updated.Name = name
	}
	if req.Phone != nil {
		updated.Phone = strings.TrimSpace(*req.Phone)
	}

	saved, err := s.repo.UpdateCustomer(ctx, updated)
	if err != nil {
		return domain.Customer{}, err
	}
	s.logAudit(ctx, actor.Username, "customer_update", "customer", saved.ID, "name="+saved.Name)
	return *saved, nil
}

// CustomerSummary gathers a customer's installment history and open balance.
func (s *Service) CustomerSummary(ctx context.Context, id string) (domain.CustomerSummary, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.CustomerSummary{}, err
	}
	customer, err := s.repo.GetCustomer(ctx, actor.Username, strings.TrimSpace(id))
	if err != nil {
		return domain.CustomerSummary{}, err
	}
	sales, err := s.repo.ListInstallmentSales(ctx, actor.Username, customer.ID)
	if err != nil {
		return domain.CustomerSummary{}, err
	}

	summary := domain.CustomerSummary{
		Customer:         *customer,
		InstallmentSales: ledger.Views(sales),
		TotalOpenCents:   ledger.TotalOpen(sales),
	}
	for _, sale := range sales {
		summary.TotalPurchasesCents += sale.TotalAmountCents
		if ledger.IsOpen(sale) {
			summary.OpenSales++
		}
	}
	return summary, nil
}
