package domain

import (
	"time"

	"github.com/google/uuid"
)

// AuditAction represents the type of audited action.
type AuditAction string

const (
	AuditActionSignIn          AuditAction = "SIGN_IN"
	AuditActionCreateAPIKey    AuditAction = "CREATE_API_KEY"
	AuditActionRolloverAPIKey  AuditAction = "ROLLOVER_API_KEY"
	AuditActionRevokeAPIKey    AuditAction = "REVOKE_API_KEY"
	AuditActionInitiateDeposit AuditAction = "INITIATE_DEPOSIT"
	AuditActionTransfer        AuditAction = "TRANSFER"
)

// AuditLog records a single audited action in the system.
type AuditLog struct {
	ID           uuid.UUID      `json:"id"`
	UserID       *string        `json:"user_id,omitempty"`
	Via          CredentialKind `json:"via,omitempty"`
	Action       AuditAction    `json:"action"`
	ResourceType string         `json:"resource_type"`
	ResourceID   string         `json:"resource_id,omitempty"`
	Details      string         `json:"details,omitempty"` // JSON string
	IPAddress    string         `json:"ip_address"`
	CreatedAt    time.Time      `json:"created_at"`
}
