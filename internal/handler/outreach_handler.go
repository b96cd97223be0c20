package handler

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/linguaops/lingua-ops-api/internal/models"
	"github.com/linguaops/lingua-ops-api/internal/service"
	appErrors "github.com/linguaops/lingua-ops-api/pkg/errors"
	"github.com/linguaops/lingua-ops-api/pkg/response"
)

// OutreachHandler exposes retention call endpoints.
type OutreachHandler struct {
	outreach *service.OutreachService
}

// NewOutreachHandler constructs OutreachHandler.
func NewOutreachHandler(outreach *service.OutreachService) *OutreachHandler {
	return &OutreachHandler{outreach: outreach}
}

// CallList godoc
// @Summary Today's prioritised call list
// @Tags Outreach
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /outreach/call-list [get]
func (h *OutreachHandler) CallList(c *gin.Context) {
	list, err := h.outreach.CallList(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, list, nil)
}

// Generate godoc
// @Summary Generate pending calls for all candidates
// @Tags Outreach
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /outreach/generate [post]
func (h *OutreachHandler) Generate(c *gin.Context) {
	result, err := h.outreach.GenerateCalls(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// List godoc
// @Summary List outreach calls
// @Tags Outreach
// @Produce json
// @Param studentId query string false "Filter by student"
// @Param status query string false "Filter by status"
// @Param priority query string false "Filter by priority"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /outreach/calls [get]
func (h *OutreachHandler) List(c *gin.Context) {
	var filter models.CallFilter
	filter.StudentID = c.Query("studentId")
	if status := strings.ToUpper(c.Query("status")); status != "" {
		s := models.CallStatus(status)
		filter.Status = &s
	}
	if priority := strings.ToUpper(c.Query("priority")); priority != "" {
		p := models.CallPriority(priority)
		filter.Priority = &p
	}
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}

	calls, total, err := h.outreach.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	pagination := &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}
	response.JSON(c, http.StatusOK, calls, pagination)
}

type snoozeRequest struct {
	Until time.Time `json:"until" binding:"required"`
}

// Snooze godoc
// @Summary Snooze a pending call
// @Tags Outreach
// @Accept json
// @Produce json
// @Param id path string true "Call ID"
// @Param payload body snoozeRequest true "Snooze payload"
// @Success 200 {object} response.Envelope
// @Router /outreach/calls/{id}/snooze [post]
func (h *OutreachHandler) Snooze(c *gin.Context) {
	var req snoozeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	call, err := h.outreach.Snooze(c.Request.Context(), c.Param("id"), req.Until)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, call, nil)
}

// Resume godoc
// @Summary Resume a snoozed call
// @Tags Outreach
// @Produce json
// @Param id path string true "Call ID"
// @Success 200 {object} response.Envelope
// @Router /outreach/calls/{id}/resume [post]
func (h *OutreachHandler) Resume(c *gin.Context) {
	call, err := h.outreach.Resume(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, call, nil)
}

// Complete godoc
// @Summary Complete a call, optionally scheduling a follow-up
// @Tags Outreach
// @Accept json
// @Produce json
// @Param id path string true "Call ID"
// @Param payload body service.CompleteCallRequest true "Completion payload"
// @Success 200 {object} response.Envelope
// @Router /outreach/calls/{id}/complete [post]
func (h *OutreachHandler) Complete(c *gin.Context) {
	var req service.CompleteCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	req.Actor = actorFromContext(c)
	result, err := h.outreach.CompleteCall(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}
