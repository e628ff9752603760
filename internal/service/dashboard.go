package service

import (
	"context"
	"time"

	"invenda/backend/internal/domain"
	"invenda/backend/internal/ledger"
)

// Dashboard summarizes cash sales of the selected month: those dated today,
// those in the trailing seven days and the whole month. Days outside the
// month never count. The open installment balance is not month-bound.
func (s *Service) Dashboard(ctx context.Context, month string) (domain.Dashboard, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.Dashboard{}, err
	}
	monthStart, monthEnd, err := s.monthRange(month)
	if err != nil {
		return domain.Dashboard{}, err
	}

	today := startOfDay(s.now())
	tomorrow := today.AddDate(0, 0, 1)
	weekStart := today.AddDate(0, 0, -6)

	sales, err := s.repo.ListSales(ctx, actor.Username, monthStart, monthEnd)
	if err != nil {
		return domain.Dashboard{}, err
	}
	installments, err := s.repo.ListInstallmentSales(ctx, actor.Username, "")
	if err != nil {
		return domain.Dashboard{}, err
	}

	dash := domain.Dashboard{
		Month:      monthStart.Format("2006-01"),
		TodaySales: make([]domain.Sale, 0, 8),
	}
	for _, sale := range sales {
		if within(sale.Date, today, tomorrow) {
			dash.DailyTotalCents += sale.TotalPriceCents
			dash.TodaySales = append(dash.TodaySales, sale)
			for _, item := range sale.Items {
				dash.ItemsSoldToday += item.Quantity
			}
		}
		if within(sale.Date, weekStart, tomorrow) {
			dash.WeeklyTotalCents += sale.TotalPriceCents
		}
		dash.MonthTotalCents += sale.TotalPriceCents
	}

	open := make([]domain.InstallmentSale, 0, len(installments))
	for _, sale := range installments {
		if ledger.IsOpen(sale) {
			open = append(open, sale)
		}
	}
	dash.OpenSales = ledger.Views(open)
	dash.TotalOpenCents = ledger.TotalOpen(open)
	return dash, nil
}

func within(at time.Time, from time.Time, to time.Time) bool {
	return !at.Before(from) && at.Before(to)
}
