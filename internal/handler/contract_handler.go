package handler

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/escolaplus/escola-api/internal/service"
	appErrors "github.com/escolaplus/escola-api/pkg/errors"
	"github.com/escolaplus/escola-api/pkg/response"
)

// maxSignedDocumentSize bounds the uploaded signed contract file.
const maxSignedDocumentSize = 10 << 20

// ContractHandler wires HTTP endpoints to the contract service.
type ContractHandler struct {
	service *service.ContractService
}

// NewContractHandler creates a new handler.
func NewContractHandler(svc *service.ContractService) *ContractHandler {
	return &ContractHandler{service: svc}
}

// Get godoc
// @Summary Get a contract
// @Tags Contracts
// @Produce json
// @Param id path string true "Contract ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /contracts/{id} [get]
func (h *ContractHandler) Get(c *gin.Context) {
	detail, err := h.service.Get(c.Request.Context(), claimsFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, detail, nil)
}

// Sign godoc
// @Summary Sign a contract
// @Description Uploads the signed document, stamps the signer's IP and timestamp, and re-issues a provisional token
// @Tags Contracts
// @Accept multipart/form-data
// @Produce json
// @Param id path string true "Contract ID"
// @Param document formData file true "Signed document (PDF)"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /contracts/{id}/sign [post]
func (h *ContractHandler) Sign(c *gin.Context) {
	fileHeader, err := c.FormFile("document")
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "signed document is required"))
		return
	}
	if fileHeader.Size > maxSignedDocumentSize {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "signed document exceeds the size limit"))
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "could not read signed document"))
		return
	}
	defer file.Close() //nolint:errcheck

	result, err := h.service.Sign(c.Request.Context(), claimsFromContext(c), c.Param("id"), file, c.ClientIP())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Validate godoc
// @Summary Validate a signed contract
// @Description Approves the paperwork and promotes the student's account
// @Tags Contracts
// @Produce json
// @Param id path string true "Contract ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /contracts/{id}/validate [put]
func (h *ContractHandler) Validate(c *gin.Context) {
	contract, err := h.service.Validate(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, contract, nil)
}

// Document godoc
// @Summary Download the contract document
// @Description Serves the signed version when present, otherwise the generated original
// @Tags Contracts
// @Produce application/pdf
// @Param id path string true "Contract ID"
// @Success 200 {file} binary
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /contracts/{id}/document [get]
func (h *ContractHandler) Document(c *gin.Context) {
	file, err := h.service.Document(c.Request.Context(), claimsFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	defer file.Close() //nolint:errcheck

	response.PDF(c, fmt.Sprintf("contract-%s.pdf", c.Param("id")), file)
}
