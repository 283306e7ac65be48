package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/openshelf/libms-api/internal/models"
	"github.com/openshelf/libms-api/internal/service"
	appErrors "github.com/openshelf/libms-api/pkg/errors"
	"github.com/openshelf/libms-api/pkg/response"
)

// BorrowingHandler exposes circulation endpoints.
type BorrowingHandler struct {
	service *service.BorrowingService
}

// NewBorrowingHandler creates a new handler.
func NewBorrowingHandler(svc *service.BorrowingService) *BorrowingHandler {
	return &BorrowingHandler{service: svc}
}

// List godoc
// @Summary List borrowings
// @Tags Borrowings
// @Produce json
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Param user_id query string false "Borrower filter"
// @Param book_id query string false "Book filter"
// @Param status query string false "Status filter"
// @Success 200 {object} response.Envelope
// @Router /borrowings [get]
func (h *BorrowingHandler) List(c *gin.Context) {
	filter := models.BorrowingFilter{
		UserID:   c.Query("user_id"),
		BookID:   c.Query("book_id"),
		Page:     queryInt(c, "page", 1),
		PageSize: queryInt(c, "page_size", 20),
	}
	if raw := c.Query("status"); raw != "" {
		status := models.BorrowingStatus(raw)
		filter.Status = &status
	}

	// Members only ever see their own loans.
	if sess := sessionFromContext(c); sess != nil && sess.Role == models.RoleMember {
		filter.UserID = sess.UserID
	}

	borrowings, pagination, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, borrowings, pagination)
}

// Borrow godoc
// @Summary Check out a book
// @Tags Borrowings
// @Accept json
// @Produce json
// @Param payload body models.BorrowRequest true "Borrow payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /borrowings [post]
func (h *BorrowingHandler) Borrow(c *gin.Context) {
	var req models.BorrowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid borrow payload"))
		return
	}

	borrowing, err := h.service.Borrow(c.Request.Context(), req, sessionFromContext(c), requestMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, borrowing)
}

// Return godoc
// @Summary Return a borrowed book
// @Tags Borrowings
// @Produce json
// @Param id path string true "Borrowing ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /borrowings/{id}/return [post]
func (h *BorrowingHandler) Return(c *gin.Context) {
	borrowing, err := h.service.Return(c.Request.Context(), c.Param("id"), sessionFromContext(c), requestMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, borrowing, nil)
}

// MarkOverdue godoc
// @Summary Flag overdue loans
// @Description Mark active loans past their due date as overdue and notify borrowers
// @Tags Borrowings
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /borrowings/mark-overdue [post]
func (h *BorrowingHandler) MarkOverdue(c *gin.Context) {
	count, err := h.service.MarkOverdue(c.Request.Context(), sessionFromContext(c), requestMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, gin.H{"marked": count}, nil)
}
