package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openshelf/libms-api/internal/models"
	"github.com/openshelf/libms-api/internal/repository"
	appErrors "github.com/openshelf/libms-api/pkg/errors"
)

type fakeBorrowingRepo struct {
	active    int
	borrowErr error
	returnErr error
	borrowed  *models.Borrowing
	loan      *models.Borrowing
	retFine   float64
	overdue   []models.Borrowing
}

func (f *fakeBorrowingRepo) FindByID(_ context.Context, id string) (*models.Borrowing, error) {
	if f.loan == nil || f.loan.ID != id {
		return nil, sql.ErrNoRows
	}
	copied := *f.loan
	return &copied, nil
}

func (f *fakeBorrowingRepo) CountActiveByUser(_ context.Context, _ string) (int, error) {
	return f.active, nil
}

func (f *fakeBorrowingRepo) Borrow(_ context.Context, borrowing *models.Borrowing) error {
	if f.borrowErr != nil {
		return f.borrowErr
	}
	borrowing.ID = "loan-1"
	f.borrowed = borrowing
	return nil
}

func (f *fakeBorrowingRepo) Return(_ context.Context, _ string, _ time.Time, fine float64) error {
	if f.returnErr != nil {
		return f.returnErr
	}
	f.retFine = fine
	return nil
}

func (f *fakeBorrowingRepo) List(_ context.Context, _ models.BorrowingFilter) ([]models.BorrowingDetail, int, error) {
	return nil, 0, nil
}

func (f *fakeBorrowingRepo) MarkOverdue(_ context.Context, _ time.Time) ([]models.Borrowing, error) {
	return f.overdue, nil
}

type fakeReservationQueue struct {
	pending   *models.Reservation
	promoted  []string
	updateErr error
}

func (f *fakeReservationQueue) NextPending(_ context.Context, _ string) (*models.Reservation, error) {
	if f.pending == nil {
		return nil, sql.ErrNoRows
	}
	return f.pending, nil
}

func (f *fakeReservationQueue) UpdateStatus(_ context.Context, id string, _, _ models.ReservationStatus, _ *time.Time) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	f.promoted = append(f.promoted, id)
	return nil
}

type fakeNotifier struct {
	sent []string
}

func (f *fakeNotifier) Notify(_ context.Context, userID, kind, _, _ string) {
	f.sent = append(f.sent, userID+":"+kind)
}

type fixedPolicy struct {
	loanDays int
	maxBooks int
	finePer  float64
}

func (p fixedPolicy) LoanPeriodDays(context.Context) int  { return p.loanDays }
func (p fixedPolicy) MaxBooksPerUser(context.Context) int { return p.maxBooks }
func (p fixedPolicy) FinePerDay(context.Context) float64  { return p.finePer }

func newTestBorrowingService(repo *fakeBorrowingRepo, queue *fakeReservationQueue, notes *fakeNotifier, audit *capturingLogger) *BorrowingService {
	return NewBorrowingService(repo, queue, notes, fixedPolicy{loanDays: 14, maxBooks: 3, finePer: 0.5}, audit, nil, zap.NewNop())
}

func TestBorrowingServiceBorrow(t *testing.T) {
	repo := &fakeBorrowingRepo{active: 2}
	audit := &capturingLogger{}
	svc := newTestBorrowingService(repo, &fakeReservationQueue{}, &fakeNotifier{}, audit)

	borrowing, err := svc.Borrow(context.Background(), models.BorrowRequest{UserID: "user-1", BookID: "book-1"}, nil, models.RequestMeta{})
	require.NoError(t, err)
	require.Equal(t, "loan-1", borrowing.ID)
	require.Equal(t, models.BorrowingActive, borrowing.Status)
	require.Equal(t, borrowing.BorrowedAt.AddDate(0, 0, 14), borrowing.DueAt)

	require.Len(t, audit.entries, 1)
	require.Equal(t, models.ActionBorrowCreate, audit.entries[0].Action)
}

func TestBorrowingServiceBorrowLimitReached(t *testing.T) {
	repo := &fakeBorrowingRepo{active: 3}
	svc := newTestBorrowingService(repo, &fakeReservationQueue{}, &fakeNotifier{}, &capturingLogger{})

	_, err := svc.Borrow(context.Background(), models.BorrowRequest{UserID: "user-1", BookID: "book-1"}, nil, models.RequestMeta{})
	require.Equal(t, appErrors.ErrBorrowLimit.Code, appErrors.FromError(err).Code)
	require.Nil(t, repo.borrowed)
}

func TestBorrowingServiceBorrowNoCopies(t *testing.T) {
	repo := &fakeBorrowingRepo{borrowErr: repository.ErrNoAvailableCopies}
	svc := newTestBorrowingService(repo, &fakeReservationQueue{}, &fakeNotifier{}, &capturingLogger{})

	_, err := svc.Borrow(context.Background(), models.BorrowRequest{UserID: "user-1", BookID: "book-1"}, nil, models.RequestMeta{})
	require.Equal(t, appErrors.ErrBookUnavailable.Code, appErrors.FromError(err).Code)
}

func TestBorrowingServiceReturnOnTime(t *testing.T) {
	repo := &fakeBorrowingRepo{loan: &models.Borrowing{
		ID:     "loan-1",
		BookID: "book-1",
		Status: models.BorrowingActive,
		DueAt:  time.Now().UTC().Add(24 * time.Hour),
	}}
	svc := newTestBorrowingService(repo, &fakeReservationQueue{}, &fakeNotifier{}, &capturingLogger{})

	borrowing, err := svc.Return(context.Background(), "loan-1", nil, models.RequestMeta{})
	require.NoError(t, err)
	require.Equal(t, models.BorrowingReturned, borrowing.Status)
	require.NotNil(t, borrowing.ReturnedAt)
	require.Zero(t, borrowing.Fine)
}

func TestBorrowingServiceReturnLateFine(t *testing.T) {
	// Two and a half days late at 0.50/day: the started third day bills too.
	repo := &fakeBorrowingRepo{loan: &models.Borrowing{
		ID:     "loan-1",
		BookID: "book-1",
		Status: models.BorrowingActive,
		DueAt:  time.Now().UTC().Add(-60 * time.Hour),
	}}
	svc := newTestBorrowingService(repo, &fakeReservationQueue{}, &fakeNotifier{}, &capturingLogger{})

	borrowing, err := svc.Return(context.Background(), "loan-1", nil, models.RequestMeta{})
	require.NoError(t, err)
	require.InDelta(t, 1.5, borrowing.Fine, 0.001)
	require.InDelta(t, 1.5, repo.retFine, 0.001)
}

func TestBorrowingServiceReturnHoursLateCountsAsOneDay(t *testing.T) {
	repo := &fakeBorrowingRepo{loan: &models.Borrowing{
		ID:     "loan-1",
		BookID: "book-1",
		Status: models.BorrowingActive,
		DueAt:  time.Now().UTC().Add(-2 * time.Hour),
	}}
	svc := newTestBorrowingService(repo, &fakeReservationQueue{}, &fakeNotifier{}, &capturingLogger{})

	borrowing, err := svc.Return(context.Background(), "loan-1", nil, models.RequestMeta{})
	require.NoError(t, err)
	require.InDelta(t, 0.5, borrowing.Fine, 0.001)
}

func TestBorrowingServiceReturnAlreadyClosed(t *testing.T) {
	repo := &fakeBorrowingRepo{
		loan:      &models.Borrowing{ID: "loan-1", Status: models.BorrowingReturned, DueAt: time.Now().UTC()},
		returnErr: repository.ErrBorrowingNotActive,
	}
	svc := newTestBorrowingService(repo, &fakeReservationQueue{}, &fakeNotifier{}, &capturingLogger{})

	_, err := svc.Return(context.Background(), "loan-1", nil, models.RequestMeta{})
	require.Equal(t, appErrors.ErrAlreadyReturned.Code, appErrors.FromError(err).Code)
}

func TestBorrowingServiceReturnNotFound(t *testing.T) {
	svc := newTestBorrowingService(&fakeBorrowingRepo{}, &fakeReservationQueue{}, &fakeNotifier{}, &capturingLogger{})

	_, err := svc.Return(context.Background(), "missing", nil, models.RequestMeta{})
	require.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestBorrowingServiceReturnPromotesReservation(t *testing.T) {
	repo := &fakeBorrowingRepo{loan: &models.Borrowing{
		ID:     "loan-1",
		BookID: "book-1",
		Status: models.BorrowingActive,
		DueAt:  time.Now().UTC().Add(24 * time.Hour),
	}}
	queue := &fakeReservationQueue{pending: &models.Reservation{ID: "res-1", UserID: "user-2", BookID: "book-1"}}
	notes := &fakeNotifier{}
	svc := newTestBorrowingService(repo, queue, notes, &capturingLogger{})

	_, err := svc.Return(context.Background(), "loan-1", nil, models.RequestMeta{})
	require.NoError(t, err)
	require.Equal(t, []string{"res-1"}, queue.promoted)
	require.Equal(t, []string{"user-2:" + models.NotificationReservationReady}, notes.sent)
}

func TestBorrowingServiceReturnSucceedsWhenPromotionFails(t *testing.T) {
	repo := &fakeBorrowingRepo{loan: &models.Borrowing{
		ID:     "loan-1",
		BookID: "book-1",
		Status: models.BorrowingActive,
		DueAt:  time.Now().UTC().Add(24 * time.Hour),
	}}
	queue := &fakeReservationQueue{
		pending:   &models.Reservation{ID: "res-1", UserID: "user-2", BookID: "book-1"},
		updateErr: errors.New("db down"),
	}
	notes := &fakeNotifier{}
	svc := newTestBorrowingService(repo, queue, notes, &capturingLogger{})

	borrowing, err := svc.Return(context.Background(), "loan-1", nil, models.RequestMeta{})
	require.NoError(t, err)
	require.Equal(t, models.BorrowingReturned, borrowing.Status)
	require.Empty(t, notes.sent)
}

func TestBorrowingServiceMarkOverdueNotifies(t *testing.T) {
	repo := &fakeBorrowingRepo{overdue: []models.Borrowing{
		{ID: "loan-1", UserID: "user-1", BorrowedAt: time.Now().UTC().AddDate(0, 0, -30)},
		{ID: "loan-2", UserID: "user-2", BorrowedAt: time.Now().UTC().AddDate(0, 0, -20)},
	}}
	notes := &fakeNotifier{}
	audit := &capturingLogger{}
	svc := newTestBorrowingService(repo, &fakeReservationQueue{}, notes, audit)

	actor := &models.Session{UserID: "admin-1", Email: "root@example.com", Role: models.RoleAdmin}
	count, err := svc.MarkOverdue(context.Background(), actor, models.RequestMeta{IP: "203.0.113.9"})
	require.NoError(t, err)
	require.Equal(t, 2, count)
	require.Len(t, notes.sent, 2)
	require.Equal(t, "user-1:"+models.NotificationOverdue, notes.sent[0])

	// One audit entry for the whole sweep, not one per loan.
	require.Len(t, audit.entries, 1)
	require.Equal(t, models.ActionBorrowOverdue, audit.entries[0].Action)
	require.NotNil(t, audit.entries[0].Details)
	require.Contains(t, *audit.entries[0].Details, "2 loans")
}
