package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/openshelf/libms-api/internal/models"
	"github.com/openshelf/libms-api/internal/service"
	"github.com/openshelf/libms-api/pkg/response"
)

// ActivityHandler exposes the audit trail read view.
type ActivityHandler struct {
	service *service.ActivityService
}

// NewActivityHandler creates a new handler.
func NewActivityHandler(svc *service.ActivityService) *ActivityHandler {
	return &ActivityHandler{service: svc}
}

// List godoc
// @Summary List activity entries
// @Description Return audit entries with derived risk scores, newest first
// @Tags Activity
// @Produce json
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Param actor_id query string false "Actor filter"
// @Param action query string false "Action filter"
// @Param module query string false "Module filter"
// @Param status query string false "Status filter"
// @Param from query string false "RFC3339 lower bound"
// @Param to query string false "RFC3339 upper bound"
// @Success 200 {object} response.Envelope
// @Router /activity [get]
func (h *ActivityHandler) List(c *gin.Context) {
	filter := models.ActivityFilter{
		ActorID:  c.Query("actor_id"),
		Action:   c.Query("action"),
		Module:   c.Query("module"),
		Status:   models.ActivityStatus(c.Query("status")),
		Page:     queryInt(c, "page", 1),
		PageSize: queryInt(c, "page_size", 20),
	}
	if raw := c.Query("from"); raw != "" {
		if ts, err := time.Parse(time.RFC3339, raw); err == nil {
			filter.From = &ts
		}
	}
	if raw := c.Query("to"); raw != "" {
		if ts, err := time.Parse(time.RFC3339, raw); err == nil {
			filter.To = &ts
		}
	}

	entries, pagination, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, entries, pagination)
}

// Purge godoc
// @Summary Purge expired activity entries
// @Description Delete audit entries older than the retention window
// @Tags Activity
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /activity/purge [post]
func (h *ActivityHandler) Purge(c *gin.Context) {
	removed, err := h.service.Purge(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, gin.H{"removed": removed}, nil)
}
