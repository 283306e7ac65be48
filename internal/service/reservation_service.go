package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/openshelf/libms-api/internal/models"
	appErrors "github.com/openshelf/libms-api/pkg/errors"
)

type reservationRepository interface {
	Create(ctx context.Context, reservation *models.Reservation) error
	FindByID(ctx context.Context, id string) (*models.Reservation, error)
	FindPendingByUserAndBook(ctx context.Context, userID, bookID string) (*models.Reservation, error)
	UpdateStatus(ctx context.Context, id string, from, to models.ReservationStatus, readyAt *time.Time) error
	List(ctx context.Context, filter models.ReservationFilter) ([]models.Reservation, int, error)
}

type bookFinder interface {
	FindByID(ctx context.Context, id string) (*models.Book, error)
}

// ReservationService manages the hold queue.
type ReservationService struct {
	repo      reservationRepository
	books     bookFinder
	activity  activityLogger
	validator *validator.Validate
	logger    *zap.Logger
}

// NewReservationService constructs a ReservationService instance.
func NewReservationService(repo reservationRepository, books bookFinder, activity activityLogger, validate *validator.Validate, logger *zap.Logger) *ReservationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &ReservationService{repo: repo, books: books, activity: activity, validator: validate, logger: logger}
}

// Reserve places a hold. Holds only make sense on books with no copies on the
// shelf; available books are borrowed directly.
func (s *ReservationService) Reserve(ctx context.Context, req models.ReserveRequest, actor *models.Session, meta models.RequestMeta) (*models.Reservation, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid reservation payload")
	}

	book, err := s.books.FindByID(ctx, req.BookID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "book not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load book")
	}

	if book.CopiesAvailable > 0 {
		return nil, appErrors.Clone(appErrors.ErrConflict, "book is available, borrow it instead")
	}

	if _, err := s.repo.FindPendingByUserAndBook(ctx, req.UserID, req.BookID); err == nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "hold already placed")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check existing hold")
	}

	reservation := &models.Reservation{
		UserID: req.UserID,
		BookID: req.BookID,
		Status: models.ReservationPending,
	}
	if err := s.repo.Create(ctx, reservation); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create reservation")
	}

	s.logMutation(ctx, actor, meta, models.ActionReservationCreate, "hold on "+book.Title)
	return reservation, nil
}

// Cancel withdraws a pending or ready hold.
func (s *ReservationService) Cancel(ctx context.Context, id string, actor *models.Session, meta models.RequestMeta) error {
	reservation, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "reservation not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load reservation")
	}

	if reservation.Status != models.ReservationPending && reservation.Status != models.ReservationReady {
		return appErrors.Clone(appErrors.ErrConflict, "reservation is closed")
	}

	if err := s.repo.UpdateStatus(ctx, id, reservation.Status, models.ReservationCancelled, nil); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrConflict, "reservation is closed")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to cancel reservation")
	}

	s.logMutation(ctx, actor, meta, models.ActionReservationCancel, "cancelled hold "+id)
	return nil
}

// Fulfill closes a ready hold once the patron picks the copy up.
func (s *ReservationService) Fulfill(ctx context.Context, id string, actor *models.Session, meta models.RequestMeta) error {
	if err := s.repo.UpdateStatus(ctx, id, models.ReservationReady, models.ReservationFulfilled, nil); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrConflict, "reservation is not ready")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fulfill reservation")
	}

	s.logMutation(ctx, actor, meta, models.ActionReservationFulfill, "fulfilled hold "+id)
	return nil
}

// List returns holds matching the filter.
func (s *ReservationService) List(ctx context.Context, filter models.ReservationFilter) ([]models.Reservation, *models.Pagination, error) {
	reservations, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list reservations")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}

	return reservations, &models.Pagination{Page: page, PageSize: pageSize, TotalCount: total}, nil
}

func (s *ReservationService) logMutation(ctx context.Context, actor *models.Session, meta models.RequestMeta, action, details string) {
	entry := models.ActivityEntry{
		Action:    action,
		Details:   &details,
		Module:    models.ModuleReservations,
		IPAddress: meta.IP,
		UserAgent: meta.UserAgent,
		Status:    models.ActivitySuccess,
	}
	if actor != nil {
		entry.ActorID = &actor.UserID
		entry.ActorLabel = actor.Email
	}
	s.activity.Log(ctx, entry)
}
