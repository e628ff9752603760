package service

import (
	"context"
	"fmt"
	"strings"

	"invenda/backend/internal/domain"
	"invenda/backend/internal/ledger"
	"invenda/backend/internal/money"
	"invenda/backend/internal/store"
)

func (s *Service) CreateInstallmentSale(ctx context.Context, req domain.InstallmentSaleCreateRequest) (domain.InstallmentSaleView, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.InstallmentSaleView{}, err
	}

	customerID := strings.TrimSpace(req.CustomerID)
	if customerID == "" {
		return domain.InstallmentSaleView{}, fieldError("customer_id", "customer is required")
	}
	if req.Installments < 1 {
		return domain.InstallmentSaleView{}, fieldError("installments", "installment count must be positive")
	}
	if req.InitialPaymentCents < 0 {
		return domain.InstallmentSaleView{}, fieldError("initial_payment_cents", "initial payment must not be negative")
	}
	method, err := normalizePaymentMethod(req.PaymentMethod)
	if err != nil {
		return domain.InstallmentSaleView{}, err
	}
	lines, err := normalizeLines(req.Items)
	if err != nil {
		return domain.InstallmentSaleView{}, err
	}

	customer, err := s.repo.GetCustomer(ctx, actor.Username, customerID)
	if err != nil {
		return domain.InstallmentSaleView{}, fmt.Errorf("customer: %w", err)
	}
	if err := s.enforceSaleLimit(ctx, actor.Username); err != nil {
		return domain.InstallmentSaleView{}, err
	}

	items, total, err := s.priceLines(ctx, actor.Username, lines)
	if err != nil {
		return domain.InstallmentSaleView{}, err
	}
	if req.InitialPaymentCents >= total {
		return domain.InstallmentSaleView{}, fieldError("initial_payment_cents", "initial payment must be less than total")
	}

	created, err := s.repo.CreateInstallmentSale(ctx, domain.InstallmentSale{
		OwnerID:                actor.Username,
		CustomerID:             customer.ID,
		CustomerName:           customer.Name,
		Items:                  items,
		PaymentMethod:          method,
		TotalAmountCents:       total,
		InitialPaymentCents:    req.InitialPaymentCents,
		Installments:           req.Installments,
		InstallmentAmountCents: ledger.InstallmentAmount(total, req.InitialPaymentCents, req.Installments),
		Date:                   s.now(),
	})
	if err != nil {
		return domain.InstallmentSaleView{}, err
	}

	s.usage.Invalidate(ctx, actor.Username)
	s.logAudit(ctx, actor.Username, "installment_sale_create", "installment_sale", created.ID,
		fmt.Sprintf("customer=%s,total=%d,initial=%d,installments=%d", created.CustomerID, created.TotalAmountCents, created.InitialPaymentCents, created.Installments))
	return ledger.View(*created), nil
}

func (s *Service) GetInstallmentSale(ctx context.Context, id string) (domain.InstallmentSaleView, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.InstallmentSaleView{}, err
	}
	sale, err := s.repo.GetInstallmentSale(ctx, actor.Username, strings.TrimSpace(id))
	if err != nil {
		return domain.InstallmentSaleView{}, err
	}
	return ledger.View(*sale), nil
}

func (s *Service) ListInstallmentSales(ctx context.Context, filter domain.InstallmentSaleFilter) ([]domain.InstallmentSaleView, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	sales, err := s.repo.ListInstallmentSales(ctx, actor.Username, strings.TrimSpace(filter.CustomerID))
	if err != nil {
		return nil, err
	}
	if !filter.OpenOnly {
		return ledger.Views(sales), nil
	}
	open := make([]domain.InstallmentSale, 0, len(sales))
	for _, sale := range sales {
		if ledger.IsOpen(sale) {
			open = append(open, sale)
		}
	}
	return ledger.Views(open), nil
}

// AddPayment records a payment against an open installment sale. The amount
// may exceed the remaining balance by at most the settlement tolerance.
func (s *Service) AddPayment(ctx context.Context, saleID string, amountCents int64) (domain.PaymentResponse, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.PaymentResponse{}, err
	}
	if amountCents <= 0 {
		return domain.PaymentResponse{}, fieldError("amount_cents", "payment amount must be greater than zero")
	}

	payment := domain.Payment{AmountCents: amountCents, Date: s.now()}
	updated, err := s.repo.AddPayment(ctx, actor.Username, strings.TrimSpace(saleID), payment, checkPayment)
	if err != nil {
		return domain.PaymentResponse{}, err
	}

	recorded := updated.Payments[len(updated.Payments)-1]
	view := ledger.View(*updated)
	s.logAudit(ctx, actor.Username, "installment_payment", "installment_sale", updated.ID,
		fmt.Sprintf("payment=%s,amount=%d,remaining=%d", recorded.ID, amountCents, view.RemainingCents))
	return domain.PaymentResponse{
		Sale:    view,
		Payment: recorded,
		Settled: !view.IsOpen,
	}, nil
}

func checkPayment(sale domain.InstallmentSale, amountCents int64) error {
	if !ledger.IsOpen(sale) {
		return fmt.Errorf("%w: sale is already settled", store.ErrOverpayment)
	}
	if amountCents > ledger.MaxPayment(sale) {
		return fmt.Errorf("%w; maximum allowed is %s", store.ErrOverpayment, money.Format(ledger.Remaining(sale)))
	}
	return nil
}

// DeleteInstallmentSale restocks the items and drops the sale with its payments.
func (s *Service) DeleteInstallmentSale(ctx context.Context, id string) error {
	actor, err := requireActor(ctx)
	if err != nil {
		return err
	}
	id = strings.TrimSpace(id)
	if err := s.repo.DeleteInstallmentSale(ctx, actor.Username, id); err != nil {
		return err
	}
	s.usage.Invalidate(ctx, actor.Username)
	s.logAudit(ctx, actor.Username, "installment_sale_delete", "installment_sale", id, "restocked")
	return nil
}
