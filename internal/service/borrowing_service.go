package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/openshelf/libms-api/internal/models"
	"github.com/openshelf/libms-api/internal/repository"
	appErrors "github.com/openshelf/libms-api/pkg/errors"
)

type borrowingRepository interface {
	FindByID(ctx context.Context, id string) (*models.Borrowing, error)
	CountActiveByUser(ctx context.Context, userID string) (int, error)
	Borrow(ctx context.Context, borrowing *models.Borrowing) error
	Return(ctx context.Context, id string, returnedAt time.Time, fine float64) error
	List(ctx context.Context, filter models.BorrowingFilter) ([]models.BorrowingDetail, int, error)
	MarkOverdue(ctx context.Context, now time.Time) ([]models.Borrowing, error)
}

type reservationQueue interface {
	NextPending(ctx context.Context, bookID string) (*models.Reservation, error)
	UpdateStatus(ctx context.Context, id string, from, to models.ReservationStatus, readyAt *time.Time) error
}

type notifier interface {
	Notify(ctx context.Context, userID, kind, title, body string)
}

type circulationPolicy interface {
	LoanPeriodDays(ctx context.Context) int
	MaxBooksPerUser(ctx context.Context) int
	FinePerDay(ctx context.Context) float64
}

// BorrowingService provides circulation use cases. Borrow and return are each
// a single database transaction; no partial state is observable on failure.
type BorrowingService struct {
	repo         borrowingRepository
	reservations reservationQueue
	notifier     notifier
	policy       circulationPolicy
	activity     activityLogger
	validator    *validator.Validate
	logger       *zap.Logger
}

// NewBorrowingService constructs a BorrowingService instance.
func NewBorrowingService(repo borrowingRepository, reservations reservationQueue, notifier notifier, policy circulationPolicy, activity activityLogger, validate *validator.Validate, logger *zap.Logger) *BorrowingService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &BorrowingService{repo: repo, reservations: reservations, notifier: notifier, policy: policy, activity: activity, validator: validate, logger: logger}
}

// Borrow lends a copy to a user.
func (s *BorrowingService) Borrow(ctx context.Context, req models.BorrowRequest, actor *models.Session, meta models.RequestMeta) (*models.Borrowing, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid borrow payload")
	}

	active, err := s.repo.CountActiveByUser(ctx, req.UserID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count open loans")
	}
	if limit := s.policy.MaxBooksPerUser(ctx); active >= limit {
		return nil, appErrors.Clone(appErrors.ErrBorrowLimit, "")
	}

	now := time.Now().UTC()
	borrowing := &models.Borrowing{
		UserID:     req.UserID,
		BookID:     req.BookID,
		BorrowedAt: now,
		DueAt:      now.AddDate(0, 0, s.policy.LoanPeriodDays(ctx)),
		Status:     models.BorrowingActive,
	}

	if err := s.repo.Borrow(ctx, borrowing); err != nil {
		if errors.Is(err, repository.ErrNoAvailableCopies) {
			return nil, appErrors.Clone(appErrors.ErrBookUnavailable, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to borrow book")
	}

	s.logMutation(ctx, actor, meta, models.ActionBorrowCreate,
		fmt.Sprintf("borrowing %s: user %s book %s", borrowing.ID, req.UserID, req.BookID))
	return borrowing, nil
}

// Return closes a loan and computes the overdue fine at the configured daily
// rate. When holds exist the returned copy is promoted to the oldest pending
// reservation. Concurrent returns of the same loan resolve to one winner; the
// loser gets a conflict.
func (s *BorrowingService) Return(ctx context.Context, id string, actor *models.Session, meta models.RequestMeta) (*models.Borrowing, error) {
	borrowing, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "borrowing not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load borrowing")
	}

	now := time.Now().UTC()
	fine := s.fineFor(ctx, borrowing.DueAt, now)

	if err := s.repo.Return(ctx, id, now, fine); err != nil {
		if errors.Is(err, repository.ErrBorrowingNotActive) {
			return nil, appErrors.Clone(appErrors.ErrAlreadyReturned, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to return book")
	}

	borrowing.Status = models.BorrowingReturned
	borrowing.ReturnedAt = &now
	borrowing.Fine = fine

	s.promoteReservation(ctx, borrowing.BookID)

	s.logMutation(ctx, actor, meta, models.ActionBorrowReturn,
		fmt.Sprintf("borrowing %s returned, fine %.2f", borrowing.ID, fine))
	return borrowing, nil
}

// List returns loans matching the filter.
func (s *BorrowingService) List(ctx context.Context, filter models.BorrowingFilter) ([]models.BorrowingDetail, *models.Pagination, error) {
	borrowings, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list borrowings")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}

	return borrowings, &models.Pagination{Page: page, PageSize: pageSize, TotalCount: total}, nil
}

// MarkOverdue flips active loans past due and notifies the borrowers. Invoked
// from an admin endpoint rather than a scheduler. The sweep writes one audit
// entry summarizing the whole run.
func (s *BorrowingService) MarkOverdue(ctx context.Context, actor *models.Session, meta models.RequestMeta) (int, error) {
	overdue, err := s.repo.MarkOverdue(ctx, time.Now().UTC())
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark overdue loans")
	}

	for _, borrowing := range overdue {
		s.notifier.Notify(ctx, borrowing.UserID, models.NotificationOverdue,
			"Book overdue", fmt.Sprintf("Your loan from %s is overdue.", borrowing.BorrowedAt.Format("2006-01-02")))
	}

	s.logMutation(ctx, actor, meta, models.ActionBorrowOverdue,
		fmt.Sprintf("marked %d loans overdue", len(overdue)))
	return len(overdue), nil
}

// fineFor bills every started day late: any partial day rounds up.
func (s *BorrowingService) fineFor(ctx context.Context, dueAt, returnedAt time.Time) float64 {
	if !returnedAt.After(dueAt) {
		return 0
	}
	daysLate := int(math.Ceil(returnedAt.Sub(dueAt).Hours() / 24))
	return float64(daysLate) * s.policy.FinePerDay(ctx)
}

// promoteReservation hands the freed copy to the oldest pending hold.
// Best-effort: a failure here is logged, the return itself already committed.
func (s *BorrowingService) promoteReservation(ctx context.Context, bookID string) {
	reservation, err := s.reservations.NextPending(ctx, bookID)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("failed to look up pending reservation", zap.Error(err))
		}
		return
	}

	now := time.Now().UTC()
	if err := s.reservations.UpdateStatus(ctx, reservation.ID, models.ReservationPending, models.ReservationReady, &now); err != nil {
		s.logger.Warn("failed to promote reservation", zap.String("reservation_id", reservation.ID), zap.Error(err))
		return
	}

	s.notifier.Notify(ctx, reservation.UserID, models.NotificationReservationReady,
		"Reserved book available", "A book you reserved is ready for pickup.")
}

func (s *BorrowingService) logMutation(ctx context.Context, actor *models.Session, meta models.RequestMeta, action, details string) {
	entry := models.ActivityEntry{
		Action:    action,
		Details:   &details,
		Module:    models.ModuleBorrowings,
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
