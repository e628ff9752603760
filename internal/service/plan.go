package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"invenda/backend/internal/domain"
	"invenda/backend/internal/store"
)

type planLimits struct {
	products     int
	monthlySales int
}

// UsageStats reports plan consumption for the current owner. Values may be
// served from the usage cache.
func (s *Service) UsageStats(ctx context.Context) (domain.UsageStats, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.UsageStats{}, err
	}
	stats, err := s.usage.Load(ctx, actor.Username, s.computeUsage)
	if err != nil {
		return domain.UsageStats{}, err
	}
	return *stats, nil
}

func (s *Service) CheckCanCreateProduct(ctx context.Context) (domain.LimitCheck, error) {
	stats, err := s.UsageStats(ctx)
	if err != nil {
		return domain.LimitCheck{}, err
	}
	return productCheck(stats), nil
}

func (s *Service) CheckCanCreateSale(ctx context.Context) (domain.LimitCheck, error) {
	stats, err := s.UsageStats(ctx)
	if err != nil {
		return domain.LimitCheck{}, err
	}
	return saleCheck(stats), nil
}

// SetPremium switches an owner's plan. Only admins may call it; it backs the
// payment provider's confirmation hook.
func (s *Service) SetPremium(ctx context.Context, ownerID string, premium bool) (domain.Subscription, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.Subscription{}, err
	}
	if actor.Role != domain.RoleAdmin {
		return domain.Subscription{}, fmt.Errorf("%w: admin role required", store.ErrForbidden)
	}
	ownerID = strings.ToLower(strings.TrimSpace(ownerID))
	if ownerID == "" {
		return domain.Subscription{}, fieldError("owner", "owner is required")
	}

	sub, err := s.repo.UpsertSubscription(ctx, domain.Subscription{
		OwnerID:   ownerID,
		IsPremium: premium,
		UpdatedAt: s.now(),
	})
	if err != nil {
		return domain.Subscription{}, err
	}
	s.usage.Invalidate(ctx, ownerID)
	s.logAudit(ctx, ownerID, "subscription_update", "subscription", ownerID, fmt.Sprintf("premium=%t", premium))
	return *sub, nil
}

func (s *Service) enforceProductLimit(ctx context.Context, ownerID string) error {
	stats, err := s.computeUsage(ctx, ownerID)
	if err != nil {
		return err
	}
	if check := productCheck(*stats); !check.Allowed {
		return fmt.Errorf("%w: %s", store.ErrPlanLimit, check.Message)
	}
	return nil
}

func (s *Service) enforceSaleLimit(ctx context.Context, ownerID string) error {
	stats, err := s.computeUsage(ctx, ownerID)
	if err != nil {
		return err
	}
	if check := saleCheck(*stats); !check.Allowed {
		return fmt.Errorf("%w: %s", store.ErrPlanLimit, check.Message)
	}
	return nil
}

// computeUsage always reads the store; enforcement never trusts the cache.
func (s *Service) computeUsage(ctx context.Context, ownerID string) (*domain.UsageStats, error) {
	premium, err := s.isPremium(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	products, err := s.repo.CountProducts(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	sales, err := s.repo.CountSalesSince(ctx, ownerID, monthStart)
	if err != nil {
		return nil, err
	}

	stats := &domain.UsageStats{
		IsPremium: premium,
		Products:  domain.UsageCounter{Count: products},
		Sales:     domain.UsageCounter{Count: sales},
	}
	if !premium {
		stats.Products = counterWithLimit(products, s.limits.products)
		stats.Sales = counterWithLimit(sales, s.limits.monthlySales)
	}
	return stats, nil
}

func (s *Service) isPremium(ctx context.Context, ownerID string) (bool, error) {
	sub, err := s.repo.GetSubscription(ctx, ownerID)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return sub.IsPremium, nil
}

func counterWithLimit(count int, limit int) domain.UsageCounter {
	pct := 0
	if limit > 0 {
		pct = (count*100 + limit/2) / limit
	}
	return domain.UsageCounter{Count: count, Limit: &limit, Percentage: &pct}
}

func productCheck(stats domain.UsageStats) domain.LimitCheck {
	return limitCheck(stats.IsPremium, stats.Products, "product limit reached for the free plan (%d products)")
}

func saleCheck(stats domain.UsageStats) domain.LimitCheck {
	return limitCheck(stats.IsPremium, stats.Sales, "monthly sale limit reached for the free plan (%d sales)")
}

func limitCheck(premium bool, counter domain.UsageCounter, message string) domain.LimitCheck {
	check := domain.LimitCheck{
		Allowed:      true,
		IsPremium:    premium,
		CurrentCount: counter.Count,
		Limit:        counter.Limit,
	}
	if premium || counter.Limit == nil {
		return check
	}
	if counter.Count >= *counter.Limit {
		check.Allowed = false
		check.Message = fmt.Sprintf(message, *counter.Limit)
	}
	return check
}
