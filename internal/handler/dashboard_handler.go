package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/linguaops/lingua-ops-api/internal/service"
	"github.com/linguaops/lingua-ops-api/pkg/response"
)

// DashboardHandler exposes the retention dashboard.
type DashboardHandler struct {
	dashboard *service.DashboardService
}

// NewDashboardHandler constructs DashboardHandler.
func NewDashboardHandler(dashboard *service.DashboardService) *DashboardHandler {
	return &DashboardHandler{dashboard: dashboard}
}

// Overview godoc
// @Summary Retention and ledger overview
// @Tags Dashboard
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /dashboard/retention [get]
func (h *DashboardHandler) Overview(c *gin.Context) {
	overview, err := h.dashboard.Overview(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, overview, nil)
}
