package domain

import "github.com/google/uuid"

// CredentialKind identifies which credential resolved an AuthContext.
type CredentialKind string

const (
	CredentialBearer CredentialKind = "bearer"
	CredentialAPIKey CredentialKind = "api_key"
)

// AuthContext is the resolved identity of a request: who is calling and
// what they may do. It is produced by the authenticator and passed
// explicitly to every operation that needs it.
type AuthContext struct {
	Subject     string         `json:"subject"`
	Permissions PermissionSet  `json:"permissions"`
	Via         CredentialKind `json:"via"`
	APIKeyID    *uuid.UUID     `json:"api_key_id,omitempty"`
}

// Can reports whether the context carries p. A nil context carries nothing.
func (a *AuthContext) Can(p Permission) bool {
	return a != nil && a.Permissions.Has(p)
}
