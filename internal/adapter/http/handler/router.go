package handler

import (
	"partnership-ledger/internal/adapter/http/dto"
	"partnership-ledger/internal/adapter/http/middleware"
	"partnership-ledger/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	WalletSvc      ports.WalletService
	EscrowSvc      ports.EscrowService
	PenaltySvc     ports.PenaltyService
	ReconSvc       ports.ReconciliationService
	TokenSvc       ports.TokenService
	RateLimitStore ports.RateLimitStore // nil = rate limiting disabled
	HealthCheckers []ports.HealthChecker
	AuditSvc       ports.AuditService // nil = audit logging disabled
	Money          dto.MoneyFormatter
	Logger         zerolog.Logger
}

// SetupRouter initialises the Gin engine with all routes and middleware.
func SetupRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(middleware.RequestID())
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.MaxBodySize(1 << 20))

	if deps.AuditSvc != nil {
		r.Use(middleware.AuditLog(deps.AuditSvc))
	}

	r.GET("/health", HealthCheck(deps.HealthCheckers...))

	swagger := r.Group("/swagger")
	{
		swagger.GET("", SwaggerUI)
		swagger.GET("/spec", SwaggerSpec)
	}

	rules := middleware.DefaultRateLimitRules()
	rl := func(group string) gin.HandlerFunc {
		if deps.RateLimitStore == nil {
			return func(c *gin.Context) { c.Next() }
		}
		rule, ok := rules[group]
		if !ok {
			return func(c *gin.Context) { c.Next() }
		}
		return middleware.RateLimiter(deps.RateLimitStore, group, rule, deps.Logger)
	}

	v1 := r.Group("/api/v1", middleware.JWTAuth(deps.TokenSvc, deps.Logger))

	walletHandler := NewWalletHandler(deps.WalletSvc, deps.Money)
	wallets := v1.Group("/wallets/me")
	{
		wallets.GET("", rl(middleware.GroupReads), walletHandler.GetWallet)
		wallets.POST("/deposits", rl(middleware.GroupWalletMutations), walletHandler.Deposit)
		wallets.POST("/withdrawals", rl(middleware.GroupWalletMutations), walletHandler.Withdraw)
		wallets.GET("/transactions", rl(middleware.GroupReads), walletHandler.ListTransactions)
	}

	escrowHandler := NewEscrowHandler(deps.EscrowSvc, deps.Money)
	escrow := v1.Group("/partnerships/:id/escrow")
	{
		escrow.GET("", rl(middleware.GroupReads), escrowHandler.GetAgreement)
		escrow.POST("/stake", rl(middleware.GroupEscrow), escrowHandler.Stake)
		escrow.POST("/release", rl(middleware.GroupEscrow), escrowHandler.Release)
	}

	adminHandler := NewAdminHandler(deps.ReconSvc, deps.PenaltySvc, deps.Money)
	admin := v1.Group("/admin", middleware.RequireRole(ports.RoleAdmin), rl(middleware.GroupAdmin))
	{
		admin.GET("/wallets/:userId/reconciliation", adminHandler.Verify)
		admin.POST("/wallets/:userId/repairs", adminHandler.Repair)
		admin.POST("/violations/:id/apply", adminHandler.ApplyPenalty)
	}

	return r
}
