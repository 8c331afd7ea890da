package handler

import (
	"context"

	"partnership-ledger/internal/adapter/http/dto"
	"partnership-ledger/internal/core/domain"
	"partnership-ledger/internal/core/ports"
	"partnership-ledger/pkg/apperror"
	"partnership-ledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// WalletHandler handles the caller's wallet endpoints.
type WalletHandler struct {
	walletSvc ports.WalletService
	money     dto.MoneyFormatter
}

// NewWalletHandler creates a new WalletHandler.
func NewWalletHandler(walletSvc ports.WalletService, money dto.MoneyFormatter) *WalletHandler {
	return &WalletHandler{walletSvc: walletSvc, money: money}
}

// GetWallet handles GET /api/v1/wallets/me. A caller without a wallet gets
// an empty one.
func (h *WalletHandler) GetWallet(c *gin.Context) {
	userID, ok := caller(c)
	if !ok {
		return
	}

	w, err := h.walletSvc.GetOrCreate(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, h.money.Wallet(w))
}

// Deposit handles POST /api/v1/wallets/me/deposits.
func (h *WalletHandler) Deposit(c *gin.Context) {
	h.mutate(c, h.walletSvc.Deposit)
}

// Withdraw handles POST /api/v1/wallets/me/withdrawals.
func (h *WalletHandler) Withdraw(c *gin.Context) {
	h.mutate(c, h.walletSvc.Withdraw)
}

type mutationFunc func(ctx context.Context, req ports.MutationRequest) (*ports.MutationResult, error)

func (h *WalletHandler) mutate(c *gin.Context, fn mutationFunc) {
	userID, ok := caller(c)
	if !ok {
		return
	}

	var req dto.MutationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	result, err := fn(c.Request.Context(), ports.MutationRequest{
		UserID:      userID,
		Amount:      req.Amount,
		Currency:    req.Currency,
		Reference:   req.Reference,
		Description: req.Description,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	resp := h.money.Mutation(result.Wallet, result.Entry, result.Replayed)
	if result.Replayed {
		response.OK(c, resp)
		return
	}
	response.Created(c, resp)
}

// ListTransactions handles GET /api/v1/wallets/me/transactions.
func (h *WalletHandler) ListTransactions(c *gin.Context) {
	userID, ok := caller(c)
	if !ok {
		return
	}

	page, pageSize := pagination(c)
	params := ports.LedgerListParams{
		UserID:   userID,
		Page:     page,
		PageSize: pageSize,
	}

	if k := c.Query("kind"); k != "" {
		kind := domain.EntryKind(k)
		if !kind.Valid() {
			response.Error(c, apperror.Validation("invalid kind filter"))
			return
		}
		params.Kind = &kind
	}
	if s := c.Query("status"); s != "" {
		status := domain.EntryStatus(s)
		if !status.Valid() {
			response.Error(c, apperror.Validation("invalid status filter"))
			return
		}
		params.Status = &status
	}
	if p := c.Query("partnership_id"); p != "" {
		id, err := uuid.Parse(p)
		if err != nil {
			response.Error(c, apperror.Validation("invalid partnership_id filter"))
			return
		}
		params.PartnershipID = &id
	}

	entries, total, err := h.walletSvc.ListTransactions(c.Request.Context(), params)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Page(c, h.money.Entries(entries), page, pageSize, total)
}
