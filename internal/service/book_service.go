package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/openshelf/libms-api/internal/models"
	appErrors "github.com/openshelf/libms-api/pkg/errors"
)

type bookRepository interface {
	List(ctx context.Context, filter models.BookFilter) ([]models.Book, int, error)
	FindByID(ctx context.Context, id string) (*models.Book, error)
	FindByISBN(ctx context.Context, isbn string) (*models.Book, error)
	Create(ctx context.Context, book *models.Book) error
	Update(ctx context.Context, book *models.Book) error
	Delete(ctx context.Context, id string) error
}

// CreateBookRequest is the payload for adding a catalog record.
type CreateBookRequest struct {
	ISBN          string `json:"isbn" validate:"required"`
	Title         string `json:"title" validate:"required"`
	Author        string `json:"author" validate:"required"`
	Category      string `json:"category" validate:"required"`
	Publisher     string `json:"publisher"`
	PublishedYear int    `json:"published_year" validate:"omitempty,gte=0"`
	ShelfLocation string `json:"shelf_location"`
	CopiesTotal   int    `json:"copies_total" validate:"required,gte=1"`
}

// UpdateBookRequest is the payload for editing a catalog record.
type UpdateBookRequest struct {
	ISBN          string `json:"isbn" validate:"required"`
	Title         string `json:"title" validate:"required"`
	Author        string `json:"author" validate:"required"`
	Category      string `json:"category" validate:"required"`
	Publisher     string `json:"publisher"`
	PublishedYear int    `json:"published_year" validate:"omitempty,gte=0"`
	ShelfLocation string `json:"shelf_location"`
	CopiesTotal   int    `json:"copies_total" validate:"required,gte=1"`
}

// BookService provides catalog management use cases.
type BookService struct {
	repo      bookRepository
	activity  activityLogger
	validator *validator.Validate
	logger    *zap.Logger
}

// NewBookService constructs a BookService instance.
func NewBookService(repo bookRepository, activity activityLogger, validate *validator.Validate, logger *zap.Logger) *BookService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &BookService{repo: repo, activity: activity, validator: validate, logger: logger}
}

// List returns catalog records matching the filter.
func (s *BookService) List(ctx context.Context, filter models.BookFilter) ([]models.Book, *models.Pagination, error) {
	books, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list books")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}

	return books, &models.Pagination{Page: page, PageSize: pageSize, TotalCount: total}, nil
}

// Get returns one catalog record.
func (s *BookService) Get(ctx context.Context, id string) (*models.Book, error) {
	book, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "book not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load book")
	}
	return book, nil
}

// Create adds a catalog record with all copies on the shelf.
func (s *BookService) Create(ctx context.Context, req CreateBookRequest, actor *models.Session, meta models.RequestMeta) (*models.Book, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid book payload")
	}

	if _, err := s.repo.FindByISBN(ctx, req.ISBN); err == nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "isbn already in catalog")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check isbn")
	}

	book := &models.Book{
		ISBN:            req.ISBN,
		Title:           req.Title,
		Author:          req.Author,
		Category:        req.Category,
		Publisher:       req.Publisher,
		PublishedYear:   req.PublishedYear,
		ShelfLocation:   req.ShelfLocation,
		CopiesTotal:     req.CopiesTotal,
		CopiesAvailable: req.CopiesTotal,
		Status:          models.BookAvailable,
	}
	if err := s.repo.Create(ctx, book); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create book")
	}

	s.logMutation(ctx, actor, meta, models.ActionBookCreate, "added "+book.Title)
	return book, nil
}

// Update edits a catalog record. Raising copies_total puts the extra copies
// on the shelf; lowering it never drops copies_available below zero.
func (s *BookService) Update(ctx context.Context, id string, req UpdateBookRequest, actor *models.Session, meta models.RequestMeta) (*models.Book, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid book payload")
	}

	book, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "book not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load book")
	}

	borrowed := book.CopiesTotal - book.CopiesAvailable
	if req.CopiesTotal < borrowed {
		return nil, appErrors.Clone(appErrors.ErrConflict, "copies_total below outstanding loans")
	}

	book.ISBN = req.ISBN
	book.Title = req.Title
	book.Author = req.Author
	book.Category = req.Category
	book.Publisher = req.Publisher
	book.PublishedYear = req.PublishedYear
	book.ShelfLocation = req.ShelfLocation
	book.CopiesTotal = req.CopiesTotal
	book.CopiesAvailable = req.CopiesTotal - borrowed
	if book.CopiesAvailable > 0 {
		book.Status = models.BookAvailable
	} else {
		book.Status = models.BookUnavailable
	}

	if err := s.repo.Update(ctx, book); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update book")
	}

	s.logMutation(ctx, actor, meta, models.ActionBookUpdate, "updated "+book.Title)
	return book, nil
}

// Delete removes a catalog record. Books with open loans cannot be removed.
func (s *BookService) Delete(ctx context.Context, id string, actor *models.Session, meta models.RequestMeta) error {
	book, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "book not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load book")
	}

	if book.CopiesAvailable < book.CopiesTotal {
		return appErrors.Clone(appErrors.ErrConflict, "book has open loans")
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete book")
	}

	s.logMutation(ctx, actor, meta, models.ActionBookDelete, "removed "+book.Title)
	return nil
}

func (s *BookService) logMutation(ctx context.Context, actor *models.Session, meta models.RequestMeta, action, details string) {
	entry := models.ActivityEntry{
		Action:    action,
		Details:   &details,
		Module:    models.ModuleBooks,
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
