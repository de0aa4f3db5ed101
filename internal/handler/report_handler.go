package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/escolaplus/escola-api/internal/service"
	"github.com/escolaplus/escola-api/pkg/response"
)

// ReportHandler wires HTTP endpoints to billing reports.
type ReportHandler struct {
	billing *service.BillingService
}

// NewReportHandler creates a new handler.
func NewReportHandler(billing *service.BillingService) *ReportHandler {
	return &ReportHandler{billing: billing}
}

// Delinquency godoc
// @Summary Delinquency report
// @Description Overdue open charges aggregated per enrollment with current totals
// @Tags Reports
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /reports/delinquency [get]
func (h *ReportHandler) Delinquency(c *gin.Context) {
	report, err := h.billing.DelinquencyReport(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, report, nil)
}
