package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"invenda/backend/internal/cache"
	"invenda/backend/internal/domain"
	"invenda/backend/internal/store"
	"invenda/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// FieldError is a validation failure tied to one request field.
// It matches store.ErrValidation with errors.Is.
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *FieldError) Unwrap() error {
	return store.ErrValidation
}

func fieldError(field string, message string) error {
	return &FieldError{Field: field, Message: message}
}

type Options struct {
	FreeProductLimit     int
	FreeMonthlySaleLimit int
	UsageCache           cache.UsageCache
	UsageCacheTTL        time.Duration
	// Now and NewSKU are replaceable in tests.
	Now    func() time.Time
	NewSKU func() string
}

type Service struct {
	repo   store.Repository
	usage  *cache.UsageLoader
	limits planLimits
	now    func() time.Time
	newSKU func() string
	logger *log.Entry
}

func New(repo store.Repository, opts Options) *Service {
	if opts.FreeProductLimit < 1 {
		opts.FreeProductLimit = 50
	}
	if opts.FreeMonthlySaleLimit < 1 {
		opts.FreeMonthlySaleLimit = 100
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewSKU == nil {
		opts.NewSKU = xid.NewSKU
	}

	return &Service{
		repo:   repo,
		usage:  cache.NewUsageLoader(opts.UsageCache, opts.UsageCacheTTL),
		limits: planLimits{products: opts.FreeProductLimit, monthlySales: opts.FreeMonthlySaleLimit},
		now:    func() time.Time { return opts.Now().UTC() },
		newSKU: opts.NewSKU,
		logger: log.WithField("component", "service"),
	}
}

// requireActor returns the authenticated actor whose username scopes every
// repository call.
func requireActor(ctx context.Context) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || strings.TrimSpace(actor.Username) == "" {
		return domain.Actor{}, store.ErrUnauthenticated
	}
	return actor, nil
}

func (s *Service) ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	if limit < 1 {
		limit = 100
	}
	ownerID := actor.Username
	if actor.Role == domain.RoleAdmin {
		ownerID = ""
	}
	return s.repo.ListAuditLogs(ctx, ownerID, limit)
}

func (s *Service) logAudit(ctx context.Context, ownerID string, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		OwnerID:       ownerID,
		ActorUsername: actor.Username,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     s.now(),
	}); err != nil {
		s.logger.WithError(err).WithFields(log.Fields{
			"action": action,
			"entity": entityType + "/" + entityID,
		}).Warn("failed to write audit log")
	}
}

// monthRange parses "YYYY-MM". An empty value selects the current month.
func (s *Service) monthRange(month string) (time.Time, time.Time, error) {
	month = strings.TrimSpace(month)
	var start time.Time
	if month == "" {
		now := s.now()
		start = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	} else {
		parsed, err := time.Parse("2006-01", month)
		if err != nil {
			return time.Time{}, time.Time{}, fieldError("month", "month must use the YYYY-MM format")
		}
		start = parsed.UTC()
	}
	return start, start.AddDate(0, 1, 0), nil
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
