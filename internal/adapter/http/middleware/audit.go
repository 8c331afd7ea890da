package middleware

import (
	"encoding/json"
	"net/http"
	"time"

	"partnership-ledger/internal/core/domain"
	"partnership-ledger/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// AuditLog records successful mutations after the handler has run. Repairs
// are not listed: the reconciliation service writes their audit row in the
// same transaction as the correction.
func AuditLog(auditSvc ports.AuditService) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Status() < 200 || c.Writer.Status() >= 300 {
			return
		}
		if c.Request.Method != http.MethodPost {
			return
		}

		action, resourceType, resourceID := mapRouteToAction(c)
		if action == "" {
			return
		}

		var actorID *uuid.UUID
		if id, ok := UserID(c); ok {
			actorID = &id
		}

		details, _ := json.Marshal(map[string]interface{}{
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     c.Writer.Status(),
			"request_id": c.GetString("request_id"),
		})

		auditSvc.Log(c.Request.Context(), &domain.AuditLog{
			ID:           uuid.New(),
			ActorID:      actorID,
			Action:       action,
			ResourceType: resourceType,
			ResourceID:   resourceID,
			IPAddress:    c.ClientIP(),
			Details:      string(details),
			CreatedAt:    time.Now().UTC(),
		})
	}
}

// mapRouteToAction keys on the registered route pattern, not the raw path.
func mapRouteToAction(c *gin.Context) (domain.AuditAction, string, string) {
	switch c.FullPath() {
	case "/api/v1/wallets/me/deposits":
		return domain.AuditActionDeposit, "wallet", callerID(c)
	case "/api/v1/wallets/me/withdrawals":
		return domain.AuditActionWithdraw, "wallet", callerID(c)
	case "/api/v1/partnerships/:id/escrow/stake":
		return domain.AuditActionStake, "partnership", c.Param("id")
	case "/api/v1/partnerships/:id/escrow/release":
		return domain.AuditActionRelease, "partnership", c.Param("id")
	case "/api/v1/admin/violations/:id/apply":
		return domain.AuditActionApplyPenalty, "violation", c.Param("id")
	}
	return "", "", ""
}

func callerID(c *gin.Context) string {
	if id, ok := UserID(c); ok {
		return id.String()
	}
	return ""
}
