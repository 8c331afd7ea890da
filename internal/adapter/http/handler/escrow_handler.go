package handler

import (
	"partnership-ledger/internal/adapter/http/dto"
	"partnership-ledger/internal/core/ports"
	"partnership-ledger/pkg/apperror"
	"partnership-ledger/pkg/response"

	"github.com/gin-gonic/gin"
)

// EscrowHandler handles partnership escrow endpoints.
type EscrowHandler struct {
	escrowSvc ports.EscrowService
	money     dto.MoneyFormatter
}

// NewEscrowHandler creates a new EscrowHandler.
func NewEscrowHandler(escrowSvc ports.EscrowService, money dto.MoneyFormatter) *EscrowHandler {
	return &EscrowHandler{escrowSvc: escrowSvc, money: money}
}

// GetAgreement handles GET /api/v1/partnerships/:id/escrow.
func (h *EscrowHandler) GetAgreement(c *gin.Context) {
	userID, ok := caller(c)
	if !ok {
		return
	}
	partnershipID, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	view, err := h.escrowSvc.GetAgreement(c.Request.Context(), partnershipID, userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, h.money.Agreement(view.Agreement, view.DerivedState))
}

// Stake handles POST /api/v1/partnerships/:id/escrow/stake.
func (h *EscrowHandler) Stake(c *gin.Context) {
	userID, ok := caller(c)
	if !ok {
		return
	}
	partnershipID, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	var req dto.StakeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	result, err := h.escrowSvc.Stake(c.Request.Context(), ports.StakeRequest{
		PartnershipID: partnershipID,
		UserID:        userID,
		Amount:        req.Amount,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, h.escrowResponse(result))
}

// Release handles POST /api/v1/partnerships/:id/escrow/release.
func (h *EscrowHandler) Release(c *gin.Context) {
	userID, ok := caller(c)
	if !ok {
		return
	}
	partnershipID, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	var req dto.ReleaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	result, err := h.escrowSvc.Release(c.Request.Context(), ports.ReleaseRequest{
		PartnershipID: partnershipID,
		UserID:        userID,
		Success:       *req.Success,
		Description:   req.Description,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, h.escrowResponse(result))
}

func (h *EscrowHandler) escrowResponse(r *ports.EscrowResult) dto.EscrowResponse {
	return dto.EscrowResponse{
		Agreement: h.money.Agreement(r.Agreement, r.Agreement.State),
		Wallet:    h.money.Wallet(r.Wallet),
		Entry:     h.money.Entry(r.Entry),
	}
}
