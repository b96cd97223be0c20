package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/linguaops/lingua-ops-api/internal/service"
	appErrors "github.com/linguaops/lingua-ops-api/pkg/errors"
	"github.com/linguaops/lingua-ops-api/pkg/response"
)

// ConnectionHandler exposes peer-connection endpoints.
type ConnectionHandler struct {
	connections *service.ConnectionService
}

// NewConnectionHandler constructs ConnectionHandler.
func NewConnectionHandler(connections *service.ConnectionService) *ConnectionHandler {
	return &ConnectionHandler{connections: connections}
}

// Suggest godoc
// @Summary Suggest peer connections for a student
// @Tags Connections
// @Produce json
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /students/{id}/connections/suggestions [get]
func (h *ConnectionHandler) Suggest(c *gin.Context) {
	suggestions, err := h.connections.Suggest(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, suggestions, nil)
}

// List godoc
// @Summary List a student's connections
// @Tags Connections
// @Produce json
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /students/{id}/connections [get]
func (h *ConnectionHandler) List(c *gin.Context) {
	connections, err := h.connections.ListByStudent(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, connections, nil)
}

type createConnectionRequest struct {
	ConnectedStudentID string `json:"connected_student_id" binding:"required"`
	Reason             string `json:"reason"`
}

// Create godoc
// @Summary Introduce two students
// @Tags Connections
// @Accept json
// @Produce json
// @Param id path string true "Student ID"
// @Param payload body createConnectionRequest true "Connection payload"
// @Success 201 {object} response.Envelope
// @Router /students/{id}/connections [post]
func (h *ConnectionHandler) Create(c *gin.Context) {
	var req createConnectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	connection, err := h.connections.Create(c.Request.Context(), c.Param("id"), req.ConnectedStudentID, req.Reason)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, connection)
}
