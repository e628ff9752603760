// Package ledger derives the balance of an installment sale from its
// recorded payments. None of these values are persisted.
package ledger

import (
	"invenda/backend/internal/domain"
	"invenda/backend/internal/money"
)

// InstallmentAmount is the nominal value of one installment. The rounding
// residual is not redistributed across installments.
func InstallmentAmount(totalCents, initialCents int64, installments int) int64 {
	return money.DivRound(totalCents-initialCents, installments)
}

func Paid(sale domain.InstallmentSale) int64 {
	var paid int64
	for _, p := range sale.Payments {
		paid += p.AmountCents
	}
	return paid
}

// Remaining may go slightly negative when a payment used the tolerance.
func Remaining(sale domain.InstallmentSale) int64 {
	return sale.TotalAmountCents - sale.InitialPaymentCents - Paid(sale)
}

func IsOpen(sale domain.InstallmentSale) bool {
	return Remaining(sale) > money.Tolerance
}

// MaxPayment is the largest single payment the sale accepts right now.
func MaxPayment(sale domain.InstallmentSale) int64 {
	return Remaining(sale) + money.Tolerance
}

// Progress is the percentage of the financed amount already paid, clamped to 0..100.
func Progress(sale domain.InstallmentSale) int {
	financed := sale.TotalAmountCents - sale.InitialPaymentCents
	if financed <= 0 {
		return 100
	}
	pct := Paid(sale) * 100 / financed
	switch {
	case pct < 0:
		return 0
	case pct > 100:
		return 100
	default:
		return int(pct)
	}
}

func View(sale domain.InstallmentSale) domain.InstallmentSaleView {
	if sale.Payments == nil {
		sale.Payments = []domain.Payment{}
	}
	return domain.InstallmentSaleView{
		InstallmentSale: sale,
		PaidCents:       Paid(sale),
		RemainingCents:  Remaining(sale),
		IsOpen:          IsOpen(sale),
		ProgressPercent: Progress(sale),
	}
}

func Views(sales []domain.InstallmentSale) []domain.InstallmentSaleView {
	views := make([]domain.InstallmentSaleView, 0, len(sales))
	for _, s := range sales {
		views = append(views, View(s))
	}
	return views
}

// TotalOpen sums the remaining balance of every open sale.
func TotalOpen(sales []domain.InstallmentSale) int64 {
	var total int64
	for _, s := range sales {
		if IsOpen(s) {
			total += Remaining(s)
		}
	}
	return total
}
