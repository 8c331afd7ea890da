package handler

import (
	"partnership-ledger/internal/adapter/http/dto"
	"partnership-ledger/internal/core/ports"
	"partnership-ledger/pkg/apperror"
	"partnership-ledger/pkg/response"

	"github.com/gin-gonic/gin"
)

// AdminHandler handles operator endpoints: reconciliation, repairs and
// manual penalty application.
type AdminHandler struct {
	reconSvc   ports.ReconciliationService
	penaltySvc ports.PenaltyService
	money      dto.MoneyFormatter
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(reconSvc ports.ReconciliationService, penaltySvc ports.PenaltyService, money dto.MoneyFormatter) *AdminHandler {
	return &AdminHandler{reconSvc: reconSvc, penaltySvc: penaltySvc, money: money}
}

// Verify handles GET /api/v1/admin/wallets/:userId/reconciliation.
func (h *AdminHandler) Verify(c *gin.Context) {
	userID, ok := pathUUID(c, "userId")
	if !ok {
		return
	}

	report, err := h.reconSvc.Verify(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, report)
}

// Repair handles POST /api/v1/admin/wallets/:userId/repairs. The operator
// named in the bearer token is recorded as the actor.
func (h *AdminHandler) Repair(c *gin.Context) {
	operatorID, ok := caller(c)
	if !ok {
		return
	}
	userID, ok := pathUUID(c, "userId")
	if !ok {
		return
	}

	var req dto.RepairRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	result, err := h.reconSvc.Repair(c.Request.Context(), userID, req.Correction(operatorID.String()))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, dto.RepairResponse{
		Wallet: h.money.Wallet(result.Wallet),
		Entry:  h.money.Entry(result.Entry),
		Report: result.Report,
	})
}

// ApplyPenalty handles POST /api/v1/admin/violations/:id/apply.
func (h *AdminHandler) ApplyPenalty(c *gin.Context) {
	violationID, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	result, err := h.penaltySvc.ApplyPenalty(c.Request.Context(), violationID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, dto.PenaltyResponse{
		ViolationID: result.Violation.ID.String(),
		MessageID:   result.Violation.MessageID,
		Wallet:      h.money.Wallet(result.Wallet),
		Entry:       h.money.Entry(result.Entry),
	})
}
