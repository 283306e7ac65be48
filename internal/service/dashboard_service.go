package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/openshelf/libms-api/internal/models"
	appErrors "github.com/openshelf/libms-api/pkg/errors"
)

const dashboardCacheKey = "dashboard:summary"

type dashboardCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

type dashboardBookCounter interface {
	CountByStatus(ctx context.Context, status models.BookStatus) (int, error)
}

type dashboardBorrowingCounter interface {
	CountByStatus(ctx context.Context, status models.BorrowingStatus) (int, error)
}

type dashboardUserLister interface {
	List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error)
}

type dashboardActivityCounter interface {
	CountSince(ctx context.Context, status models.ActivityStatus, since time.Time) (int, error)
}

// DashboardService aggregates headline counts for the admin landing page.
type DashboardService struct {
	books      dashboardBookCounter
	borrowings dashboardBorrowingCounter
	users      dashboardUserLister
	activity   dashboardActivityCounter
	cache      dashboardCache
	metrics    *MetricsService
	cacheTTL   time.Duration
	logger     *zap.Logger
}

// NewDashboardService constructs the dashboard aggregator.
func NewDashboardService(
	books dashboardBookCounter,
	borrowings dashboardBorrowingCounter,
	users dashboardUserLister,
	activity dashboardActivityCounter,
	cache dashboardCache,
	metrics *MetricsService,
	cacheTTL time.Duration,
	logger *zap.Logger,
) *DashboardService {
	return &DashboardService{
		books:      books,
		borrowings: borrowings,
		users:      users,
		activity:   activity,
		cache:      cache,
		metrics:    metrics,
		cacheTTL:   cacheTTL,
		logger:     logger,
	}
}

// Summary returns the dashboard counters, served from cache when fresh.
func (s *DashboardService) Summary(ctx context.Context) (*models.DashboardSummary, error) {
	if s.cache != nil {
		var cached models.DashboardSummary
		err := s.cache.Get(ctx, dashboardCacheKey, &cached)
		if err == nil {
			s.metrics.RecordCacheOperation(true)
			return &cached, nil
		}
		if !errors.Is(err, appErrors.ErrCacheMiss) {
			s.logger.Warn("dashboard cache read failed", zap.Error(err))
		}
		s.metrics.RecordCacheOperation(false)
	}

	summary, err := s.build(ctx)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, dashboardCacheKey, summary, s.cacheTTL); err != nil {
			s.logger.Warn("dashboard cache write failed", zap.Error(err))
		}
	}

	return summary, nil
}

// Invalidate drops the cached summary so the next read recomputes it.
func (s *DashboardService) Invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, dashboardCacheKey); err != nil {
		s.logger.Warn("dashboard cache invalidate failed", zap.Error(err))
	}
}

func (s *DashboardService) build(ctx context.Context) (*models.DashboardSummary, error) {
	available, err := s.books.CountByStatus(ctx, models.BookAvailable)
	if err != nil {
		return nil, fmt.Errorf("count available books: %w", err)
	}
	unavailable, err := s.books.CountByStatus(ctx, models.BookUnavailable)
	if err != nil {
		return nil, fmt.Errorf("count unavailable books: %w", err)
	}

	active, err := s.borrowings.CountByStatus(ctx, models.BorrowingActive)
	if err != nil {
		return nil, fmt.Errorf("count active borrowings: %w", err)
	}
	overdue, err := s.borrowings.CountByStatus(ctx, models.BorrowingOverdue)
	if err != nil {
		return nil, fmt.Errorf("count overdue borrowings: %w", err)
	}

	_, totalUsers, err := s.users.List(ctx, models.UserFilter{Page: 1, PageSize: 1})
	if err != nil {
		return nil, fmt.Errorf("count users: %w", err)
	}

	since := time.Now().Add(-24 * time.Hour)
	recentFailures, err := s.activity.CountSince(ctx, models.ActivityFailure, since)
	if err != nil {
		return nil, fmt.Errorf("count recent failures: %w", err)
	}

	return &models.DashboardSummary{
		TotalBooks:        available + unavailable,
		AvailableBooks:    available,
		ActiveBorrowings:  active,
		OverdueBorrowings: overdue,
		TotalUsers:        totalUsers,
		RecentFailures24h: recentFailures,
		GeneratedAt:       time.Now().UTC(),
	}, nil
}
