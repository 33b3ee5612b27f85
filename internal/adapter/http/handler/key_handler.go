package handler

import (
	"time"

	"custodial-wallet/internal/adapter/http/dto"
	"custodial-wallet/internal/adapter/http/middleware"
	"custodial-wallet/internal/core/domain"
	"custodial-wallet/internal/core/ports"
	"custodial-wallet/pkg/apperror"
	"custodial-wallet/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// KeyHandler handles the API key endpoints.
type KeyHandler struct {
	keySvc ports.APIKeyService
}

func NewKeyHandler(keySvc ports.APIKeyService) *KeyHandler {
	return &KeyHandler{keySvc: keySvc}
}

// Create handles POST /keys/create.
func (h *KeyHandler) Create(c *gin.Context) {
	ac, ok := authContext(c)
	if !ok {
		return
	}

	var req dto.CreateKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.ErrInvalidKeyRequest(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	perms, err := domain.ParsePermissionSet(req.Permissions)
	if err != nil {
		response.Error(c, apperror.ErrInvalidKeyRequest(err.Error()))
		return
	}
	expiry, err := domain.ParseExpiryClass(req.Expiry)
	if err != nil {
		response.Error(c, apperror.ErrInvalidKeyRequest(err.Error()))
		return
	}

	issued, err := h.keySvc.Create(c.Request.Context(), ac, ports.CreateAPIKeyRequest{
		Name:        req.Name,
		Permissions: perms,
		Expiry:      expiry,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Set(middleware.CtxAuditResource, issued.Key.ID.String())

	response.Created(c, issuedKeyResponse(issued))
}

// Rollover handles POST /keys/rollover.
func (h *KeyHandler) Rollover(c *gin.Context) {
	ac, ok := authContext(c)
	if !ok {
		return
	}

	var req dto.RolloverKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.ErrInvalidKeyRequest(err.Error()))
		return
	}
	keyID, err := uuid.Parse(req.ExpiredKeyID)
	if err != nil {
		response.Error(c, apperror.ErrInvalidKeyRequest("expired_key_id must be a UUID"))
		return
	}
	expiry, err := domain.ParseExpiryClass(req.Expiry)
	if err != nil {
		response.Error(c, apperror.ErrInvalidKeyRequest(err.Error()))
		return
	}

	issued, err := h.keySvc.Rollover(c.Request.Context(), ac, keyID, expiry)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Set(middleware.CtxAuditResource, issued.Key.ID.String())

	response.Created(c, issuedKeyResponse(issued))
}

// Revoke handles POST /keys/:id/revoke.
func (h *KeyHandler) Revoke(c *gin.Context) {
	ac, ok := authContext(c)
	if !ok {
		return
	}

	keyID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.ErrNotFound("API key"))
		return
	}

	if err := h.keySvc.Revoke(c.Request.Context(), ac, keyID); err != nil {
		response.Error(c, err)
		return
	}
	c.Set(middleware.CtxAuditResource, keyID.String())

	response.OK(c, gin.H{"status": "success", "message": "API key revoked"})
}

// List handles GET /keys.
func (h *KeyHandler) List(c *gin.Context) {
	ac, ok := authContext(c)
	if !ok {
		return
	}

	keys, err := h.keySvc.List(c.Request.Context(), ac)
	if err != nil {
		response.Error(c, err)
		return
	}

	now := time.Now()
	items := make([]dto.KeyResponse, 0, len(keys))
	for i := range keys {
		items = append(items, dto.NewKeyResponse(&keys[i], now))
	}
	response.OK(c, items)
}

func issuedKeyResponse(issued *domain.IssuedAPIKey) dto.IssuedKeyResponse {
	return dto.IssuedKeyResponse{
		ID:          issued.Key.ID.String(),
		APIKey:      issued.Secret,
		Name:        issued.Key.Name,
		Permissions: issued.Key.Permissions.Names(),
		ExpiresAt:   issued.Key.ExpiresAt,
	}
}
