package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/linguaops/lingua-ops-api/internal/service"
	appErrors "github.com/linguaops/lingua-ops-api/pkg/errors"
	"github.com/linguaops/lingua-ops-api/pkg/response"
)

// PaymentHandler exposes ledger endpoints: payments, refunds and recompute.
type PaymentHandler struct {
	ledger *service.LedgerService
}

// NewPaymentHandler constructs PaymentHandler.
func NewPaymentHandler(ledger *service.LedgerService) *PaymentHandler {
	return &PaymentHandler{ledger: ledger}
}

// Ledger godoc
// @Summary Get a student's full ledger
// @Tags Payments
// @Produce json
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /students/{id}/ledger [get]
func (h *PaymentHandler) Ledger(c *gin.Context) {
	ledger, err := h.ledger.GetStudentLedger(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, ledger, nil)
}

// Record godoc
// @Summary Record a payment
// @Tags Payments
// @Accept json
// @Produce json
// @Param payload body service.RecordPaymentRequest true "Payment payload"
// @Success 201 {object} response.Envelope
// @Router /payments [post]
func (h *PaymentHandler) Record(c *gin.Context) {
	var req service.RecordPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	req.Actor = actorFromContext(c)
	result, err := h.ledger.RecordPayment(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

// Update godoc
// @Summary Update a payment
// @Tags Payments
// @Accept json
// @Produce json
// @Param id path string true "Payment ID"
// @Param payload body service.UpdatePaymentRequest true "Payment payload"
// @Success 200 {object} response.Envelope
// @Router /payments/{id} [put]
func (h *PaymentHandler) Update(c *gin.Context) {
	var req service.UpdatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	req.Actor = actorFromContext(c)
	result, err := h.ledger.UpdatePayment(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Delete godoc
// @Summary Delete a payment
// @Tags Payments
// @Produce json
// @Param id path string true "Payment ID"
// @Success 200 {object} response.Envelope
// @Router /payments/{id} [delete]
func (h *PaymentHandler) Delete(c *gin.Context) {
	result, err := h.ledger.DeletePayment(c.Request.Context(), c.Param("id"), actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Refund godoc
// @Summary Apply a refund
// @Tags Payments
// @Accept json
// @Produce json
// @Param payload body service.ApplyRefundRequest true "Refund payload"
// @Success 201 {object} response.Envelope
// @Router /refunds [post]
func (h *PaymentHandler) Refund(c *gin.Context) {
	var req service.ApplyRefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	req.Actor = actorFromContext(c)
	result, err := h.ledger.ApplyRefund(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

// Recompute godoc
// @Summary Recompute a student's ledger totals
// @Tags Payments
// @Produce json
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /students/{id}/recompute [post]
func (h *PaymentHandler) Recompute(c *gin.Context) {
	result, err := h.ledger.RecomputeStudentTotals(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}
