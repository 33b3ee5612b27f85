package dto

import (
	"time"

	"custodial-wallet/internal/core/domain"

	"github.com/shopspring/decimal"
)

// CreateKeyRequest is the request body for POST /keys/create.
type CreateKeyRequest struct {
	Name        string   `json:"name" binding:"required,min=1,max=100"`
	Permissions []string `json:"permissions" binding:"required,min=1,dive,oneof=deposit transfer read"`
	Expiry      string   `json:"expiry" binding:"required,expiry_class"`
}

// RolloverKeyRequest is the request body for POST /keys/rollover.
type RolloverKeyRequest struct {
	ExpiredKeyID string `json:"expired_key_id" binding:"required,uuid"`
	Expiry       string `json:"expiry" binding:"required,expiry_class"`
}

// IssuedKeyResponse carries the raw key. It is the only time the key is shown.
type IssuedKeyResponse struct {
	ID          string    `json:"api_id"`
	APIKey      string    `json:"api_key"`
	Name        string    `json:"name"`
	Permissions []string  `json:"permissions"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// KeyResponse is the listing view of a key.
type KeyResponse struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Prefix      string     `json:"prefix"`
	Permissions []string   `json:"permissions"`
	ExpiresAt   time.Time  `json:"expires_at"`
	Revoked     bool       `json:"revoked"`
	RevokedAt   *time.Time `json:"revoked_at,omitempty"`
	Active      bool       `json:"active"`
	CreatedAt   time.Time  `json:"created_at"`
}

// DepositRequest is the request body for POST /wallet/deposit. Amount is in
// major units.
type DepositRequest struct {
	Amount decimal.Decimal `json:"amount" binding:"money"`
}

// DepositResponse is returned after a deposit is initialized.
type DepositResponse struct {
	Reference        string `json:"reference"`
	AuthorizationURL string `json:"authorization_url"`
	Amount           Money  `json:"amount"`
}

// TransferRequest is the request body for POST /wallet/transfer.
type TransferRequest struct {
	WalletNumber string          `json:"wallet_number" binding:"required,wallet_number"`
	Amount       decimal.Decimal `json:"amount" binding:"money"`
}

// TransferResponse is returned after a committed transfer.
type TransferResponse struct {
	Status      string              `json:"status"`
	Message     string              `json:"message"`
	Transaction TransactionResponse `json:"transaction"`
}

// TransactionQuery holds the history filters of GET /wallet/transactions.
type TransactionQuery struct {
	Type   string `form:"type" binding:"omitempty,oneof=deposit transfer_out transfer_in"`
	Status string `form:"status" binding:"omitempty,oneof=pending success failed"`
	Limit  int    `form:"limit" binding:"omitempty,min=1,max=100"`
	Offset int    `form:"offset" binding:"omitempty,min=0"`
}

// Filter converts the query to a domain filter.
func (q TransactionQuery) Filter() domain.TransactionFilter {
	return domain.TransactionFilter{
		Type:   domain.TransactionType(q.Type),
		Status: domain.TransactionStatus(q.Status),
		Limit:  q.Limit,
		Offset: q.Offset,
	}
}

// TransactionResponse is the public view of a ledger row.
type TransactionResponse struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Amount    Money     `json:"amount"`
	Status    string    `json:"status"`
	Reference string    `json:"reference,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// DepositStatusResponse is returned by GET /wallet/deposit/:reference/status.
type DepositStatusResponse struct {
	Reference string `json:"reference"`
	Status    string `json:"status"`
	Amount    Money  `json:"amount"`
}

// BalanceResponse is returned by GET /wallet/balance.
type BalanceResponse struct {
	Balance Money `json:"balance"`
}

// WalletResponse is returned by GET /wallet.
type WalletResponse struct {
	WalletNumber string `json:"wallet_number"`
	Balance      Money  `json:"balance"`
}

// WebhookAck is returned to the payment provider.
type WebhookAck struct {
	Status bool `json:"status"`
}

// SignInResponse is returned by the identity provider callback.
type SignInResponse struct {
	AccessToken  string    `json:"access_token"`
	TokenType    string    `json:"token_type"`
	ExpiresAt    time.Time `json:"expires_at"`
	UserID       string    `json:"user_id"`
	Email        string    `json:"email"`
	WalletNumber string    `json:"wallet_number"`
	NewUser      bool      `json:"new_user"`
}

// NewTransactionResponse renders a domain transaction.
func NewTransactionResponse(tx *domain.Transaction) TransactionResponse {
	return TransactionResponse{
		ID:        tx.ID.String(),
		Type:      string(tx.Type),
		Amount:    Money(tx.Amount),
		Status:    string(tx.Status),
		Reference: tx.ReferenceValue(),
		CreatedAt: tx.CreatedAt,
	}
}

// NewKeyResponse renders key metadata as of now.
func NewKeyResponse(k *domain.APIKey, now time.Time) KeyResponse {
	return KeyResponse{
		ID:          k.ID.String(),
		Name:        k.Name,
		Prefix:      k.Prefix,
		Permissions: k.Permissions.Names(),
		ExpiresAt:   k.ExpiresAt,
		Revoked:     k.Revoked,
		RevokedAt:   k.RevokedAt,
		Active:      k.IsActive(now),
		CreatedAt:   k.CreatedAt,
	}
}
