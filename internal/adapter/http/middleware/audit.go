package middleware

import (
	"encoding/json"
	"net/http"
	"time"

	"custodial-wallet/internal/core/domain"
	"custodial-wallet/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// CtxAuditSubject names the user of a route that runs before authentication (sign-in).
	CtxAuditSubject = "audit_subject"
	// CtxAuditResource is the id of the resource a handler created or changed.
	CtxAuditResource = "audit_resource"
)

type auditRoute struct {
	action       domain.AuditAction
	resourceType string
}

// auditedRoutes maps "METHOD route-template" to the audited action.
var auditedRoutes = map[string]auditRoute{
	"GET /auth/google/callback": {domain.AuditActionSignIn, "session"},
	"POST /keys/create":         {domain.AuditActionCreateAPIKey, "api_key"},
	"POST /keys/rollover":       {domain.AuditActionRolloverAPIKey, "api_key"},
	"POST /keys/:id/revoke":     {domain.AuditActionRevokeAPIKey, "api_key"},
	"POST /wallet/deposit":      {domain.AuditActionInitiateDeposit, "transaction"},
	"POST /wallet/transfer":     {domain.AuditActionTransfer, "transaction"},
}

// AuditLog records successful audited operations after the handler ran.
func AuditLog(auditSvc ports.AuditService) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		status := c.Writer.Status()
		if status < http.StatusOK || status >= http.StatusMultipleChoices {
			return
		}
		route, ok := auditedRoutes[c.Request.Method+" "+c.FullPath()]
		if !ok {
			return
		}

		entry := &domain.AuditLog{
			ID:           uuid.New(),
			Action:       route.action,
			ResourceType: route.resourceType,
			ResourceID:   c.GetString(CtxAuditResource),
			IPAddress:    c.ClientIP(),
			CreatedAt:    time.Now().UTC(),
		}
		if ac, ok := GetAuthContext(c); ok {
			subject := ac.Subject
			entry.UserID = &subject
			entry.Via = ac.Via
		} else if subject := c.GetString(CtxAuditSubject); subject != "" {
			entry.UserID = &subject
		}

		details, _ := json.Marshal(map[string]interface{}{
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     status,
			"request_id": c.GetString(CtxRequestID),
		})
		entry.Details = string(details)

		auditSvc.Log(c.Request.Context(), entry)
	}
}
