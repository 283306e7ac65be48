package service

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openshelf/libms-api/internal/models"
	"github.com/openshelf/libms-api/internal/repository"
	appErrors "github.com/openshelf/libms-api/pkg/errors"
)

type fakeReportRepo struct {
	jobs    map[string]*models.ReportJob
	created int
	updates []repository.UpdateReportJobParams
}

func newFakeReportRepo() *fakeReportRepo {
	return &fakeReportRepo{jobs: map[string]*models.ReportJob{}}
}

func (f *fakeReportRepo) Create(_ context.Context, job *models.ReportJob) error {
	f.created++
	job.ID = fmt.Sprintf("job-%d", f.created)
	copied := *job
	f.jobs[job.ID] = &copied
	return nil
}

func (f *fakeReportRepo) GetByID(_ context.Context, id string) (*models.ReportJob, error) {
	job, ok := f.jobs[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *job
	return &copied, nil
}

func (f *fakeReportRepo) Update(_ context.Context, id string, params repository.UpdateReportJobParams) error {
	f.updates = append(f.updates, params)
	if job, ok := f.jobs[id]; ok && params.Status != nil {
		job.Status = *params.Status
	}
	return nil
}

func (f *fakeReportRepo) ListByUser(_ context.Context, createdBy string, _ int) ([]models.ReportJob, error) {
	var out []models.ReportJob
	for _, job := range f.jobs {
		if job.CreatedBy == createdBy {
			out = append(out, *job)
		}
	}
	return out, nil
}

func newTestReportService(repo *fakeReportRepo, audit *capturingLogger) *ReportService {
	return NewReportService(repo, nil, nil, nil, audit, nil, nil, 1, 0, zap.NewNop())
}

func staffSession() *models.Session {
	return &models.Session{UserID: "staff-1", Email: "librarian@example.com", Role: models.RoleLibrarian}
}

func TestReportServiceEnqueueAudits(t *testing.T) {
	repo := newFakeReportRepo()
	audit := &capturingLogger{}
	svc := newTestReportService(repo, audit)

	job, err := svc.Enqueue(context.Background(), staffSession(), models.RequestMeta{IP: "203.0.113.7"},
		models.CreateReportRequest{Type: models.ReportTypeBorrowings, Format: models.ReportFormatCSV})
	require.NoError(t, err)
	require.Equal(t, models.ReportStatusQueued, job.Status)
	require.Equal(t, "staff-1", job.CreatedBy)

	require.Len(t, audit.entries, 1)
	require.Equal(t, models.ActionReportExport, audit.entries[0].Action)
	require.Equal(t, models.ModuleReports, audit.entries[0].Module)
	require.Equal(t, "203.0.113.7", audit.entries[0].IPAddress)
	require.NotNil(t, audit.entries[0].Details)
	require.Contains(t, *audit.entries[0].Details, "borrowings")
}

func TestReportServiceEnqueueSaturatedMarksJobFailed(t *testing.T) {
	repo := newFakeReportRepo()
	audit := &capturingLogger{}
	svc := newTestReportService(repo, audit)

	// One worker means a buffer of eight; the workers never start, so the
	// ninth submission has nowhere to go.
	req := models.CreateReportRequest{Type: models.ReportTypeActivity, Format: models.ReportFormatCSV}
	for i := 0; i < 8; i++ {
		_, err := svc.Enqueue(context.Background(), staffSession(), models.RequestMeta{}, req)
		require.NoError(t, err)
	}

	_, err := svc.Enqueue(context.Background(), staffSession(), models.RequestMeta{}, req)
	require.Error(t, err)
	require.Equal(t, appErrors.ErrInternal.Code, appErrors.FromError(err).Code)

	// The rejected job row is marked failed, and no audit entry claims an
	// export that never queued.
	require.Equal(t, models.ReportStatusFailed, repo.jobs["job-9"].Status)
	require.Len(t, audit.entries, 8)
}

func TestReportServiceStatusOwnership(t *testing.T) {
	repo := newFakeReportRepo()
	svc := newTestReportService(repo, &capturingLogger{})

	owner := staffSession()
	job, err := svc.Enqueue(context.Background(), owner, models.RequestMeta{},
		models.CreateReportRequest{Type: models.ReportTypeInventory, Format: models.ReportFormatPDF})
	require.NoError(t, err)

	got, err := svc.Status(context.Background(), owner, job.ID)
	require.NoError(t, err)
	require.Equal(t, job.ID, got.ID)

	other := &models.Session{UserID: "staff-2", Role: models.RoleLibrarian}
	_, err = svc.Status(context.Background(), other, job.ID)
	require.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	admin := &models.Session{UserID: "admin-1", Role: models.RoleAdmin}
	_, err = svc.Status(context.Background(), admin, job.ID)
	require.NoError(t, err)
}

func TestReportServiceStatusUnknownJob(t *testing.T) {
	svc := newTestReportService(newFakeReportRepo(), &capturingLogger{})

	_, err := svc.Status(context.Background(), staffSession(), "missing")
	require.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}
