package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"apotek/backend/internal/alerts"
	"apotek/backend/internal/cache"
	"apotek/backend/internal/config"
	"apotek/backend/internal/domain"
	"apotek/backend/internal/events"
	"apotek/backend/internal/lock"
	"apotek/backend/internal/logging"
	"apotek/backend/internal/store"
	"apotek/backend/internal/xid"
)

var ErrForbidden = errors.New("forbidden")

type sessionContextKey struct{}

func WithSession(ctx context.Context, session domain.Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, session)
}

func SessionFromContext(ctx context.Context) (domain.Session, bool) {
	session, ok := ctx.Value(sessionContextKey{}).(domain.Session)
	return session, ok
}

type Options struct {
	Cache              cache.Cache
	IncompleteCacheTTL time.Duration
	Locker             lock.Locker
	Publisher          events.Publisher
	Alerts             *alerts.Engine
	PriceMerge         string
}

type Service struct {
	repo          store.Repository
	cache         cache.Cache
	incompleteTTL time.Duration
	locker        lock.Locker
	publisher     events.Publisher
	alerts        *alerts.Engine
	priceMerge    string
	now           func() time.Time
}

func New(repo store.Repository, opts Options) *Service {
	if opts.Cache == nil {
		opts.Cache = cache.Noop{}
	}
	if opts.IncompleteCacheTTL <= 0 {
		opts.IncompleteCacheTTL = 30 * time.Second
	}
	if opts.Locker == nil {
		opts.Locker = lock.NewLocal(5 * time.Second)
	}
	if opts.Publisher == nil {
		opts.Publisher = events.Noop{}
	}
	if opts.Alerts == nil {
		opts.Alerts = alerts.NewEngine(opts.Cache, 0, 0, 0)
	}
	if opts.PriceMerge != config.PriceMergeWeighted {
		opts.PriceMerge = config.PriceMergeEqual
	}

	return &Service{
		repo:          repo,
		cache:         opts.Cache,
		incompleteTTL: opts.IncompleteCacheTTL,
		locker:        opts.Locker,
		publisher:     opts.Publisher,
		alerts:        opts.Alerts,
		priceMerge:    opts.PriceMerge,
		now:           time.Now,
	}
}

func (s *Service) requireRole(ctx context.Context, roles ...string) (domain.Session, error) {
	session, ok := SessionFromContext(ctx)
	if !ok {
		return domain.Session{}, fmt.Errorf("%w: session required", ErrForbidden)
	}
	if len(roles) == 0 {
		return session, nil
	}
	for _, role := range roles {
		if session.Role == role {
			return session, nil
		}
	}
	return domain.Session{}, fmt.Errorf("%w: %s role required", ErrForbidden, strings.Join(roles, " or "))
}

// withLock runs fn while holding the named lock.
func (s *Service) withLock(ctx context.Context, key string, fn func() error) error {
	held, err := s.locker.Obtain(ctx, key)
	if err != nil {
		return err
	}
	defer func() {
		if err := held.Release(context.WithoutCancel(ctx)); err != nil {
			logging.For("service").WithError(err).WithField("lock", key).Warn("failed to release lock")
		}
	}()
	return fn()
}

// stockChanged runs the post-commit side effects of any stock mutation.
func (s *Service) stockChanged(ctx context.Context, eventType string, reference string, updates []domain.StockUpdate) {
	if len(updates) > 0 {
		s.publisher.Publish(ctx, events.FromUpdates(eventType, reference, updates, s.now())...)
	}
	s.alerts.Invalidate(ctx)
	s.invalidateIncomplete(ctx)
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	session, ok := SessionFromContext(ctx)
	if !ok {
		session = domain.Session{UserID: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:         xid.New("audit"),
		ActorID:    session.UserID,
		ActorRole:  session.Role,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Detail:     detail,
		CreatedAt:  s.now().UTC(),
	}); err != nil {
		logging.For("audit").WithError(err).WithFields(map[string]any{
			"action": action,
			"entity": entityType + "/" + entityID,
		}).Warn("failed to write audit log")
	}
}

func (s *Service) ListStockMovements(ctx context.Context, nomorBatch string, limit int) ([]domain.StockMovement, error) {
	if limit < 1 {
		limit = 100
	}
	return s.repo.ListStockMovements(ctx, strings.TrimSpace(nomorBatch), limit)
}

func (s *Service) ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error) {
	if _, err := s.requireRole(ctx, domain.RoleAPA); err != nil {
		return nil, err
	}
	if limit < 1 {
		limit = 100
	}
	return s.repo.ListAuditLogs(ctx, limit)
}

func (s *Service) StockAlerts(ctx context.Context) (domain.StockAlertResponse, error) {
	return s.alerts.Evaluate(ctx, s.repo)
}

// parseDate accepts YYYY-MM-DD or RFC3339 and normalizes to a UTC date.
func parseDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if t, err := time.Parse(time.DateOnly, value); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: tanggal %q harus berformat YYYY-MM-DD", store.ErrInvalidInput, value)
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
}

func defaultString(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return strings.TrimSpace(value)
}
