package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/escolaplus/escola-api/internal/models"
	"github.com/escolaplus/escola-api/internal/service"
	appErrors "github.com/escolaplus/escola-api/pkg/errors"
	"github.com/escolaplus/escola-api/pkg/response"
)

// ChargeHandler wires HTTP endpoints to the billing ledger.
type ChargeHandler struct {
	service *service.BillingService
}

// NewChargeHandler creates a new handler.
func NewChargeHandler(svc *service.BillingService) *ChargeHandler {
	return &ChargeHandler{service: svc}
}

// List godoc
// @Summary List charges
// @Description Ledger listing with filters; late fees are refreshed on read
// @Tags Charges
// @Produce json
// @Param enrollment_id query string false "Filter by enrollment"
// @Param status query string false "Filter by status"
// @Param date_from query string false "Due date lower bound (YYYY-MM-DD)"
// @Param date_to query string false "Due date upper bound (YYYY-MM-DD)"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /charges [get]
func (h *ChargeHandler) List(c *gin.Context) {
	filter := models.ChargeFilter{
		EnrollmentID: c.Query("enrollment_id"),
		Status:       models.ChargeStatus(c.Query("status")),
		SortOrder:    c.Query("sort_order"),
	}
	if raw := c.Query("date_from"); raw != "" {
		if ts, err := time.Parse("2006-01-02", raw); err == nil {
			filter.DateFrom = &ts
		}
	}
	if raw := c.Query("date_to"); raw != "" {
		if ts, err := time.Parse("2006-01-02", raw); err == nil {
			filter.DateTo = &ts
		}
	}
	filter.Page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	filter.PageSize, _ = strconv.Atoi(c.DefaultQuery("page_size", "20"))

	charges, pagination, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, charges, pagination)
}

// Get godoc
// @Summary Get a charge
// @Tags Charges
// @Produce json
// @Param id path string true "Charge ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /charges/{id} [get]
func (h *ChargeHandler) Get(c *gin.Context) {
	detail, err := h.service.GetByID(c.Request.Context(), claimsFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, detail, nil)
}

// Create godoc
// @Summary Create a manual charge
// @Tags Charges
// @Accept json
// @Produce json
// @Param payload body service.CreateChargeRequest true "Charge payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /charges [post]
func (h *ChargeHandler) Create(c *gin.Context) {
	var req service.CreateChargeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid charge payload"))
		return
	}
	charge, err := h.service.CreateCharge(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, charge)
}

// RegisterPayment godoc
// @Summary Register a payment
// @Description Settles an open charge; the late fee computation is frozen at the payment date
// @Tags Charges
// @Accept json
// @Produce json
// @Param id path string true "Charge ID"
// @Param payload body service.RegisterPaymentRequest true "Payment payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /charges/{id}/pay [put]
func (h *ChargeHandler) RegisterPayment(c *gin.Context) {
	var req service.RegisterPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payment payload"))
		return
	}
	charge, err := h.service.RegisterPayment(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, charge, nil)
}

// UpdateStatus godoc
// @Summary Apply a terminal disposition
// @Description Cancels, refunds or charges back an open charge
// @Tags Charges
// @Accept json
// @Produce json
// @Param id path string true "Charge ID"
// @Param payload body service.UpdateChargeStatusRequest true "Status payload"
// @Success 204
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /charges/{id}/status [patch]
func (h *ChargeHandler) UpdateStatus(c *gin.Context) {
	var req service.UpdateChargeStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid status payload"))
		return
	}
	if err := h.service.UpdateStatus(c.Request.Context(), c.Param("id"), req); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Delete godoc
// @Summary Delete a charge
// @Description Administrative correction; removes the charge regardless of status
// @Tags Charges
// @Produce json
// @Param id path string true "Charge ID"
// @Success 204
// @Failure 404 {object} response.Envelope
// @Router /charges/{id} [delete]
func (h *ChargeHandler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
