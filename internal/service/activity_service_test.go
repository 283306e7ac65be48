package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openshelf/libms-api/internal/models"
)

type fakeActivityRepo struct {
	entries   []models.ActivityEntry
	createErr error
	purged    int64
}

func (f *fakeActivityRepo) Create(_ context.Context, entry *models.ActivityEntry) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.entries = append(f.entries, *entry)
	return nil
}

func (f *fakeActivityRepo) List(_ context.Context, _ models.ActivityFilter) ([]models.ActivityEntry, int, error) {
	return f.entries, len(f.entries), nil
}

func (f *fakeActivityRepo) Purge(_ context.Context, _ time.Time) (int64, error) {
	return f.purged, nil
}

func TestActivityServiceLogNeverFails(t *testing.T) {
	repo := &fakeActivityRepo{createErr: errors.New("db down")}
	metrics := NewMetricsService()
	svc := NewActivityService(repo, metrics, zap.NewNop(), 0)

	// Must not panic or surface the error.
	svc.Log(context.Background(), models.ActivityEntry{Action: models.ActionLogin, Module: models.ModuleAuth})
	require.Empty(t, repo.entries)
	require.Equal(t, float64(1), testutil.ToFloat64(metrics.auditWriteFails))
}

func TestActivityServiceLogDefaultsToSuccess(t *testing.T) {
	repo := &fakeActivityRepo{}
	svc := NewActivityService(repo, nil, zap.NewNop(), 0)

	svc.Log(context.Background(), models.ActivityEntry{Action: models.ActionLogin, Module: models.ModuleAuth})
	require.Len(t, repo.entries, 1)
	require.Equal(t, models.ActivitySuccess, repo.entries[0].Status)
}

func atHour(hour int) time.Time {
	return time.Date(2026, 3, 10, hour, 30, 0, 0, time.UTC)
}

func TestScoreEntryRules(t *testing.T) {
	details := "multiple failed attempts, login blocked"

	tests := []struct {
		name  string
		entry models.ActivityEntry
		score int
	}{
		{
			name:  "routine daytime success",
			entry: models.ActivityEntry{Action: models.ActionLogin, Status: models.ActivitySuccess, CreatedAt: atHour(10)},
			score: 0,
		},
		{
			name:  "failed login",
			entry: models.ActivityEntry{Action: models.ActionLoginFailed, Status: models.ActivityFailure, CreatedAt: atHour(10)},
			score: 5,
		},
		{
			name:  "off-hours delete",
			entry: models.ActivityEntry{Action: models.ActionBookDelete, Status: models.ActivitySuccess, CreatedAt: atHour(23)},
			score: 3,
		},
		{
			name:  "blocked login off-hours with multiple failures",
			entry: models.ActivityEntry{Action: models.ActionLoginFailed, Status: models.ActivityFailure, CreatedAt: atHour(2), Details: &details},
			score: 7,
		},
		{
			name:  "boundary hour six is on-hours",
			entry: models.ActivityEntry{Action: models.ActionLogin, Status: models.ActivitySuccess, CreatedAt: atHour(6)},
			score: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.score, ScoreEntry(tt.entry))
		})
	}
}

func TestBandFor(t *testing.T) {
	require.Equal(t, models.RiskNormal, BandFor(0))
	require.Equal(t, models.RiskLow, BandFor(1))
	require.Equal(t, models.RiskLow, BandFor(2))
	require.Equal(t, models.RiskMedium, BandFor(3))
	require.Equal(t, models.RiskMedium, BandFor(4))
	require.Equal(t, models.RiskHigh, BandFor(5))
	require.Equal(t, models.RiskHigh, BandFor(11))
}

func TestActivityServiceListScoresEntries(t *testing.T) {
	repo := &fakeActivityRepo{entries: []models.ActivityEntry{
		{Action: models.ActionLoginFailed, Status: models.ActivityFailure, CreatedAt: atHour(14)},
	}}
	svc := NewActivityService(repo, nil, zap.NewNop(), 0)

	scored, pagination, err := svc.List(context.Background(), models.ActivityFilter{})
	require.NoError(t, err)
	require.Len(t, scored, 1)
	require.Equal(t, 5, scored[0].RiskScore)
	require.Equal(t, models.RiskHigh, scored[0].RiskBand)
	require.Equal(t, 1, pagination.TotalCount)
}
