package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/openshelf/libms-api/internal/models"
	"github.com/openshelf/libms-api/internal/repository"
	appErrors "github.com/openshelf/libms-api/pkg/errors"
	"github.com/openshelf/libms-api/pkg/export"
	"github.com/openshelf/libms-api/pkg/jobs"
	"github.com/openshelf/libms-api/pkg/storage"
)

const jobTypeReport = "report.generate"

// datasetPageSize bounds how many rows a single report pulls per query.
const datasetPageSize = 5000

type reportRepository interface {
	Create(ctx context.Context, job *models.ReportJob) error
	GetByID(ctx context.Context, id string) (*models.ReportJob, error)
	Update(ctx context.Context, id string, params repository.UpdateReportJobParams) error
	ListByUser(ctx context.Context, createdBy string, limit int) ([]models.ReportJob, error)
}

type reportBorrowingSource interface {
	List(ctx context.Context, filter models.BorrowingFilter) ([]models.BorrowingDetail, int, error)
}

type reportActivitySource interface {
	List(ctx context.Context, filter models.ActivityFilter) ([]models.ActivityEntry, int, error)
}

type reportBookSource interface {
	List(ctx context.Context, filter models.BookFilter) ([]models.Book, int, error)
}

// ReportService produces CSV and PDF exports through a background worker pool.
type ReportService struct {
	repo       reportRepository
	borrowings reportBorrowingSource
	activity   reportActivitySource
	books      reportBookSource
	audit      activityLogger
	pool       *jobs.Pool
	csv        *export.CSVExporter
	pdf        *export.PDFExporter
	store      *storage.Archive
	signer     *storage.SignedURLSigner
	logger     *zap.Logger
}

// NewReportService wires the report pipeline and its worker pool.
func NewReportService(
	repo reportRepository,
	borrowings reportBorrowingSource,
	activity reportActivitySource,
	books reportBookSource,
	audit activityLogger,
	store *storage.Archive,
	signer *storage.SignedURLSigner,
	workers, retries int,
	logger *zap.Logger,
) *ReportService {
	s := &ReportService{
		repo:       repo,
		borrowings: borrowings,
		activity:   activity,
		books:      books,
		audit:      audit,
		csv:        export.NewCSVExporter(),
		pdf:        export.NewPDFExporter(),
		store:      store,
		signer:     signer,
		logger:     logger,
	}
	s.pool = jobs.NewPool("reports", s.process, jobs.PoolConfig{
		Workers: workers,
		Retries: retries,
		Logger:  logger,
	})
	return s
}

// Start launches the background workers.
func (s *ReportService) Start(ctx context.Context) {
	s.pool.Start(ctx)
}

// Stop drains the worker pool.
func (s *ReportService) Stop() {
	s.pool.Stop()
}

// Enqueue persists a job row, schedules it for processing and audits who
// asked for the export.
func (s *ReportService) Enqueue(ctx context.Context, session *models.Session, meta models.RequestMeta, req models.CreateReportRequest) (*models.ReportJob, error) {
	job := &models.ReportJob{
		Type: req.Type,
		Params: models.ReportJobParams{
			From:   req.From,
			To:     req.To,
			Module: req.Module,
			Format: req.Format,
		},
		Status:    models.ReportStatusQueued,
		CreatedBy: session.UserID,
	}

	if err := s.repo.Create(ctx, job); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create report job")
	}

	if err := s.pool.Submit(jobs.Task{JobID: job.ID, Kind: jobTypeReport}); err != nil {
		failed := models.ReportStatusFailed
		msg := "worker queue unavailable"
		if uerr := s.repo.Update(ctx, job.ID, repository.UpdateReportJobParams{Status: &failed, ErrorMessage: &msg}); uerr != nil {
			s.logger.Warn("failed to mark report job failed", zap.String("job_id", job.ID), zap.Error(uerr))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enqueue report job")
	}

	details := fmt.Sprintf("queued %s export as %s", job.Type, job.Params.Format)
	entry := models.ActivityEntry{
		ActorID:    &session.UserID,
		ActorLabel: session.Email,
		Action:     models.ActionReportExport,
		Details:    &details,
		Module:     models.ModuleReports,
		IPAddress:  meta.IP,
		UserAgent:  meta.UserAgent,
		Status:     models.ActivitySuccess,
	}
	s.audit.Log(ctx, entry)

	return job, nil
}

// Status returns the job row, enforcing that non-admins only see their own jobs.
func (s *ReportService) Status(ctx context.Context, session *models.Session, id string) (*models.ReportJob, error) {
	job, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load report job")
	}
	if session.Role != models.RoleAdmin && job.CreatedBy != session.UserID {
		return nil, appErrors.ErrForbidden
	}
	return job, nil
}

// ListByUser returns the caller's recent report jobs.
func (s *ReportService) ListByUser(ctx context.Context, session *models.Session, limit int) ([]models.ReportJob, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	list, err := s.repo.ListByUser(ctx, session.UserID, limit)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list report jobs")
	}
	return list, nil
}

// Download validates a signed token and opens the generated file.
func (s *ReportService) Download(ctx context.Context, token string) (*os.File, *models.ReportJob, error) {
	jobID, relPath, _, err := s.signer.Parse(token, false)
	if err != nil {
		return nil, nil, appErrors.ErrForbidden
	}

	job, err := s.repo.GetByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, appErrors.ErrNotFound
		}
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load report job")
	}
	if job.Status != models.ReportStatusFinished {
		return nil, nil, appErrors.ErrNotFound
	}

	f, err := s.store.Open(relPath)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open report file")
	}
	return f, job, nil
}

func (s *ReportService) process(ctx context.Context, t jobs.Task) error {
	job, err := s.repo.GetByID(ctx, t.JobID)
	if err != nil {
		return fmt.Errorf("load report job %s: %w", t.JobID, err)
	}

	processing := models.ReportStatusProcessing
	if err := s.repo.Update(ctx, job.ID, repository.UpdateReportJobParams{Status: &processing}); err != nil {
		return fmt.Errorf("mark job processing: %w", err)
	}

	dataset, title, err := s.buildDataset(ctx, job)
	if err != nil {
		s.fail(ctx, job.ID, err)
		return nil
	}

	var payload []byte
	ext := "csv"
	switch job.Params.Format {
	case models.ReportFormatPDF:
		payload, err = s.pdf.Render(dataset, title)
		ext = "pdf"
	default:
		payload, err = s.csv.Render(dataset)
	}
	if err != nil {
		s.fail(ctx, job.ID, err)
		return nil
	}

	filename := fmt.Sprintf("%s-%s.%s", job.Type, job.ID, ext)
	rel, err := s.store.Store(filename, payload)
	if err != nil {
		s.fail(ctx, job.ID, err)
		return nil
	}

	token, _, err := s.signer.Generate(job.ID, rel)
	if err != nil {
		s.fail(ctx, job.ID, err)
		return nil
	}

	finished := models.ReportStatusFinished
	now := time.Now().UTC()
	url := "/api/v1/reports/download?token=" + token
	if err := s.repo.Update(ctx, job.ID, repository.UpdateReportJobParams{
		Status:     &finished,
		ResultURL:  &url,
		FinishedAt: &now,
	}); err != nil {
		return fmt.Errorf("mark job finished: %w", err)
	}

	s.logger.Info("report generated",
		zap.String("job_id", job.ID),
		zap.String("type", string(job.Type)),
		zap.String("format", string(job.Params.Format)))
	return nil
}

func (s *ReportService) fail(ctx context.Context, jobID string, cause error) {
	failed := models.ReportStatusFailed
	msg := cause.Error()
	now := time.Now().UTC()
	if err := s.repo.Update(ctx, jobID, repository.UpdateReportJobParams{
		Status:       &failed,
		ErrorMessage: &msg,
		FinishedAt:   &now,
	}); err != nil {
		s.logger.Error("failed to record report failure", zap.String("job_id", jobID), zap.Error(err))
	}
	s.logger.Warn("report generation failed", zap.String("job_id", jobID), zap.Error(cause))
}

func (s *ReportService) buildDataset(ctx context.Context, job *models.ReportJob) (export.Dataset, string, error) {
	switch job.Type {
	case models.ReportTypeBorrowings:
		return s.borrowingsDataset(ctx, job, false)
	case models.ReportTypeOverdue:
		return s.borrowingsDataset(ctx, job, true)
	case models.ReportTypeActivity:
		return s.activityDataset(ctx, job)
	case models.ReportTypeInventory:
		return s.inventoryDataset(ctx)
	default:
		return export.Dataset{}, "", fmt.Errorf("unknown report type %q", job.Type)
	}
}

func (s *ReportService) borrowingsDataset(ctx context.Context, job *models.ReportJob, overdueOnly bool) (export.Dataset, string, error) {
	filter := models.BorrowingFilter{Page: 1, PageSize: datasetPageSize}
	title := "Borrowings Report"
	if overdueOnly {
		overdue := models.BorrowingOverdue
		filter.Status = &overdue
		title = "Overdue Loans Report"
	}

	rows, _, err := s.borrowings.List(ctx, filter)
	if err != nil {
		return export.Dataset{}, "", fmt.Errorf("list borrowings: %w", err)
	}

	dataset := export.Dataset{
		Headers: []string{"Book", "Borrower", "Borrowed At", "Due At", "Returned At", "Fine", "Status"},
	}
	for _, row := range rows {
		returned := ""
		if row.ReturnedAt != nil {
			returned = row.ReturnedAt.Format(time.RFC3339)
		}
		dataset.Rows = append(dataset.Rows, map[string]string{
			"Book":        row.BookTitle,
			"Borrower":    row.BorrowerName,
			"Borrowed At": row.BorrowedAt.Format(time.RFC3339),
			"Due At":      row.DueAt.Format(time.RFC3339),
			"Returned At": returned,
			"Fine":        strconv.FormatFloat(row.Fine, 'f', 2, 64),
			"Status":      string(row.Status),
		})
	}
	return dataset, title, nil
}

func (s *ReportService) activityDataset(ctx context.Context, job *models.ReportJob) (export.Dataset, string, error) {
	filter := models.ActivityFilter{
		Module:   job.Params.Module,
		From:     job.Params.From,
		To:       job.Params.To,
		Page:     1,
		PageSize: datasetPageSize,
	}

	rows, _, err := s.activity.List(ctx, filter)
	if err != nil {
		return export.Dataset{}, "", fmt.Errorf("list activity: %w", err)
	}

	dataset := export.Dataset{
		Headers: []string{"Time", "Actor", "Action", "Module", "Status", "IP Address", "Details"},
	}
	for _, row := range rows {
		details := ""
		if row.Details != nil {
			details = *row.Details
		}
		dataset.Rows = append(dataset.Rows, map[string]string{
			"Time":       row.CreatedAt.Format(time.RFC3339),
			"Actor":      row.ActorLabel,
			"Action":     row.Action,
			"Module":     row.Module,
			"Status":     string(row.Status),
			"IP Address": row.IPAddress,
			"Details":    details,
		})
	}
	return dataset, "Activity Report", nil
}

func (s *ReportService) inventoryDataset(ctx context.Context) (export.Dataset, string, error) {
	rows, _, err := s.books.List(ctx, models.BookFilter{Page: 1, PageSize: datasetPageSize})
	if err != nil {
		return export.Dataset{}, "", fmt.Errorf("list books: %w", err)
	}

	dataset := export.Dataset{
		Headers: []string{"ISBN", "Title", "Author", "Category", "Shelf", "Copies Total", "Copies Available", "Status"},
	}
	for _, row := range rows {
		dataset.Rows = append(dataset.Rows, map[string]string{
			"ISBN":             row.ISBN,
			"Title":            row.Title,
			"Author":           row.Author,
			"Category":         row.Category,
			"Shelf":            row.ShelfLocation,
			"Copies Total":     strconv.Itoa(row.CopiesTotal),
			"Copies Available": strconv.Itoa(row.CopiesAvailable),
			"Status":           string(row.Status),
		})
	}
	return dataset, "Inventory Report", nil
}
