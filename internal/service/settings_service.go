package service

import (
	"context"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/openshelf/libms-api/internal/models"
	"github.com/openshelf/libms-api/pkg/config"
	appErrors "github.com/openshelf/libms-api/pkg/errors"
)

type settingsRepository interface {
	Get(ctx context.Context, key string) (*models.Setting, error)
	GetAll(ctx context.Context) ([]models.Setting, error)
	Upsert(ctx context.Context, key, value string) error
	Seed(ctx context.Context, defaults map[string]string) error
}

// SettingsService exposes the mutable settings table with typed accessors for
// the circulation policy. Reads go to the store every time; config values are
// only fallbacks for missing or malformed rows.
type SettingsService struct {
	repo     settingsRepository
	activity activityLogger
	logger   *zap.Logger
	defaults config.BorrowingConfig
}

// NewSettingsService constructs a SettingsService instance.
func NewSettingsService(repo settingsRepository, activity activityLogger, logger *zap.Logger, defaults config.BorrowingConfig) *SettingsService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SettingsService{repo: repo, activity: activity, logger: logger, defaults: defaults}
}

// Seed writes default values for missing keys.
func (s *SettingsService) Seed(ctx context.Context) error {
	defaults := map[string]string{
		models.SettingLoanPeriodDays:  strconv.Itoa(s.defaults.LoanPeriodDays),
		models.SettingMaxBooksPerUser: strconv.Itoa(s.defaults.MaxBooksPerUser),
		models.SettingFinePerDay:      strconv.FormatFloat(s.defaults.FinePerDay, 'f', 2, 64),
		models.SettingLibraryName:     "OpenShelf Library",
	}
	if err := s.repo.Seed(ctx, defaults); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to seed settings")
	}
	return nil
}

// GetAll returns every setting.
func (s *SettingsService) GetAll(ctx context.Context) ([]models.Setting, error) {
	settings, err := s.repo.GetAll(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load settings")
	}
	return settings, nil
}

// Update writes one setting value.
func (s *SettingsService) Update(ctx context.Context, key, value string, actor *models.Session, meta models.RequestMeta) error {
	if key == "" || value == "" {
		return appErrors.Clone(appErrors.ErrValidation, "key and value are required")
	}

	if err := s.repo.Upsert(ctx, key, value); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update setting")
	}

	details := fmt.Sprintf("set %s = %s", key, value)
	entry := models.ActivityEntry{
		Action:    models.ActionSettingsUpdate,
		Details:   &details,
		Module:    models.ModuleSettings,
		IPAddress: meta.IP,
		UserAgent: meta.UserAgent,
		Status:    models.ActivitySuccess,
	}
	if actor != nil {
		entry.ActorID = &actor.UserID
		entry.ActorLabel = actor.Email
	}
	s.activity.Log(ctx, entry)
	return nil
}

// LoanPeriodDays returns the configured loan period.
func (s *SettingsService) LoanPeriodDays(ctx context.Context) int {
	return s.intSetting(ctx, models.SettingLoanPeriodDays, s.defaults.LoanPeriodDays)
}

// MaxBooksPerUser returns the per-member loan limit.
func (s *SettingsService) MaxBooksPerUser(ctx context.Context) int {
	return s.intSetting(ctx, models.SettingMaxBooksPerUser, s.defaults.MaxBooksPerUser)
}

// FinePerDay returns the daily overdue fine.
func (s *SettingsService) FinePerDay(ctx context.Context) float64 {
	setting, err := s.repo.Get(ctx, models.SettingFinePerDay)
	if err != nil {
		return s.defaults.FinePerDay
	}
	value, err := strconv.ParseFloat(setting.Value, 64)
	if err != nil {
		s.logger.Warn("malformed setting value", zap.String("key", models.SettingFinePerDay), zap.String("value", setting.Value))
		return s.defaults.FinePerDay
	}
	return value
}

func (s *SettingsService) intSetting(ctx context.Context, key string, fallback int) int {
	setting, err := s.repo.Get(ctx, key)
	if err != nil {
		return fallback
	}
	value, err := strconv.Atoi(setting.Value)
	if err != nil {
		s.logger.Warn("malformed setting value", zap.String("key", key), zap.String("value", setting.Value))
		return fallback
	}
	return value
}
