package service

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/openshelf/libms-api/internal/models"
	appErrors "github.com/openshelf/libms-api/pkg/errors"
)

type activityRepository interface {
	Create(ctx context.Context, entry *models.ActivityEntry) error
	List(ctx context.Context, filter models.ActivityFilter) ([]models.ActivityEntry, int, error)
	Purge(ctx context.Context, olderThan time.Time) (int64, error)
}

// ActivityService writes and reads the audit trail. Writes are best-effort:
// a failed audit insert is reported on the error log and never aborts the
// business operation that triggered it.
type ActivityService struct {
	repo      activityRepository
	metrics   *MetricsService
	logger    *zap.Logger
	retention time.Duration
}

// NewActivityService constructs an ActivityService.
func NewActivityService(repo activityRepository, metrics *MetricsService, logger *zap.Logger, retention time.Duration) *ActivityService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ActivityService{repo: repo, metrics: metrics, logger: logger, retention: retention}
}

// Log appends one audit entry. Never returns the write error to the caller.
func (s *ActivityService) Log(ctx context.Context, entry models.ActivityEntry) {
	if entry.Status == "" {
		entry.Status = models.ActivitySuccess
	}
	if err := s.repo.Create(ctx, &entry); err != nil {
		s.metrics.RecordAuditWriteFailure()
		s.logger.Error("audit write failed",
			zap.String("action", entry.Action),
			zap.String("module", entry.Module),
			zap.Error(err),
		)
	}
}

// List returns scored audit entries for the reporting views.
func (s *ActivityService) List(ctx context.Context, filter models.ActivityFilter) ([]models.ScoredActivityEntry, *models.Pagination, error) {
	entries, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list activity")
	}

	scored := make([]models.ScoredActivityEntry, len(entries))
	for i, entry := range entries {
		score := ScoreEntry(entry)
		scored[i] = models.ScoredActivityEntry{
			ActivityEntry: entry,
			RiskScore:     score,
			RiskBand:      BandFor(score),
		}
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}

	return scored, &models.Pagination{Page: page, PageSize: pageSize, TotalCount: total}, nil
}

// Purge removes entries older than the configured retention.
func (s *ActivityService) Purge(ctx context.Context) (int64, error) {
	if s.retention <= 0 {
		return 0, nil
	}
	deleted, err := s.repo.Purge(ctx, time.Now().UTC().Add(-s.retention))
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to purge activity")
	}
	return deleted, nil
}

// riskRule pairs a predicate with its weight. The score is the sum of every
// matching rule, evaluated uniformly; the result is for display only and
// never gates an operation.
type riskRule struct {
	applies func(models.ActivityEntry) bool
	weight  int
}

var riskRules = []riskRule{
	{weight: 3, applies: func(e models.ActivityEntry) bool {
		return e.Action == models.ActionLoginFailed
	}},
	{weight: 2, applies: func(e models.ActivityEntry) bool {
		return e.Status == models.ActivityFailure
	}},
	{weight: 1, applies: func(e models.ActivityEntry) bool {
		hour := e.CreatedAt.Hour()
		return hour >= 22 || hour < 6
	}},
	{weight: 2, applies: func(e models.ActivityEntry) bool {
		return strings.HasSuffix(e.Action, "_DELETE")
	}},
	{weight: 1, applies: func(e models.ActivityEntry) bool {
		return e.Details != nil && strings.Contains(strings.ToLower(*e.Details), "multiple")
	}},
}

// ScoreEntry computes the heuristic risk score for one entry.
func ScoreEntry(entry models.ActivityEntry) int {
	score := 0
	for _, rule := range riskRules {
		if rule.applies(entry) {
			score += rule.weight
		}
	}
	return score
}

// BandFor maps a score into its display band.
func BandFor(score int) models.RiskBand {
	switch {
	case score >= 5:
		return models.RiskHigh
	case score >= 3:
		return models.RiskMedium
	case score >= 1:
		return models.RiskLow
	default:
		return models.RiskNormal
	}
}
