package ports

import (
	"context"
	"errors"
	"time"

	"custodial-wallet/internal/core/domain"

	"github.com/google/uuid"
)

var (
	// ErrTokenExpired is returned by TokenService.Validate for a well-formed,
	// correctly signed token whose exp has passed.
	ErrTokenExpired = errors.New("token expired")
	// ErrGatewayUnavailable wraps network failures, timeouts and 5xx answers.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	// ErrGatewayRejected wraps answers where the provider declined the request.
	ErrGatewayRejected = errors.New("payment gateway rejected request")
)

// TokenService handles bearer token operations.
type TokenService interface {
	Generate(subject, email string) (string, time.Time, error)
	Validate(tokenString string) (*TokenClaims, error)
}

// TokenClaims holds the parsed JWT claims.
type TokenClaims struct {
	Subject   string
	Email     string
	ExpiresAt time.Time
}

// SignatureService computes and checks keyed digests over raw bytes.
type SignatureService interface {
	Sign(secret string, payload []byte) string
	Verify(secret string, payload []byte, signature string) bool
}

// PaymentGateway is the external payment provider.
type PaymentGateway interface {
	// Initialize registers a payment intent and returns the URL the payer
	// is redirected to.
	Initialize(ctx context.Context, email string, amount int64, reference string) (*GatewayInit, error)
	VerifySignature(rawBody []byte, signature string) bool
	ParseWebhook(rawBody []byte) (*WebhookEvent, error)
}

// GatewayInit is the provider's answer to Initialize.
type GatewayInit struct {
	AuthorizationURL string
	AccessCode       string
	Reference        string
}

// WebhookEvent is the part of a provider notification the ledger trusts:
// the reference and the outcome. Amounts in the payload are ignored.
type WebhookEvent struct {
	Event     string
	Reference string
	Success   bool
}

// IdentityProvider performs the OAuth authorization-code exchange.
type IdentityProvider interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*domain.Identity, error)
}

// WebhookReplayCache remembers references that reached a terminal state.
type WebhookReplayCache interface {
	Seen(ctx context.Context, reference string) (bool, error)
	Remember(ctx context.Context, reference string, ttl time.Duration) error
}

// RateLimitStore counts requests per key in fixed windows.
type RateLimitStore interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (*RateLimitResult, error)
}

// RateLimitResult holds the outcome of a rate limit check.
type RateLimitResult struct {
	Allowed   bool
	Limit     int64
	Remaining int64
	ResetAt   int64 // Unix timestamp
}

// --- Service Ports (Business Logic) ---

// Credentials are the raw credential headers of a request.
type Credentials struct {
	BearerToken string
	APIKey      string
}

// Authenticator resolves credentials to an AuthContext.
type Authenticator interface {
	Authenticate(ctx context.Context, creds Credentials) (*domain.AuthContext, error)
	CheckPermission(ac *domain.AuthContext, required domain.Permission) error
}

// APIKeyService manages the API key lifecycle.
type APIKeyService interface {
	Create(ctx context.Context, ac *domain.AuthContext, req CreateAPIKeyRequest) (*domain.IssuedAPIKey, error)
	Rollover(ctx context.Context, ac *domain.AuthContext, keyID uuid.UUID, expiry domain.ExpiryClass) (*domain.IssuedAPIKey, error)
	Revoke(ctx context.Context, ac *domain.AuthContext, keyID uuid.UUID) error
	List(ctx context.Context, ac *domain.AuthContext) ([]domain.APIKey, error)
}

// CreateAPIKeyRequest holds validated input for key creation.
type CreateAPIKeyRequest struct {
	Name        string
	Permissions domain.PermissionSet
	Expiry      domain.ExpiryClass
}

// LedgerService is the only component that mutates balances.
type LedgerService interface {
	InitiateDeposit(ctx context.Context, ac *domain.AuthContext, amount int64) (*DepositIntent, error)
	ReconcileWebhook(ctx context.Context, rawBody []byte, signature string) (*WebhookResult, error)
	Transfer(ctx context.Context, ac *domain.AuthContext, req TransferRequest) (*TransferResult, error)
}

// DepositIntent is returned by InitiateDeposit.
type DepositIntent struct {
	Reference        string
	AuthorizationURL string
	Amount           int64
}

// WebhookOutcome describes what a webhook delivery did.
type WebhookOutcome string

const (
	WebhookCredited   WebhookOutcome = "credited"
	WebhookFailed     WebhookOutcome = "failed"
	WebhookDuplicate  WebhookOutcome = "duplicate"
	WebhookUnknownRef WebhookOutcome = "unknown_reference"
	WebhookIgnored    WebhookOutcome = "ignored"
)

// WebhookResult is the acknowledgment of a verified webhook.
type WebhookResult struct {
	Reference string
	Outcome   WebhookOutcome
}

// TransferRequest holds validated input for a peer transfer.
type TransferRequest struct {
	WalletNumber string
	Amount       int64
}

// TransferResult holds both legs of a committed transfer.
type TransferResult struct {
	Debit  *domain.Transaction
	Credit *domain.Transaction
}

// QueryService answers read-only wallet queries.
type QueryService interface {
	GetWallet(ctx context.Context, ac *domain.AuthContext) (*domain.Wallet, error)
	GetBalance(ctx context.Context, ac *domain.AuthContext) (int64, error)
	ListTransactions(ctx context.Context, ac *domain.AuthContext, filter domain.TransactionFilter) ([]domain.Transaction, error)
	GetDepositStatus(ctx context.Context, ac *domain.AuthContext, reference string) (*domain.Transaction, error)
}

// AuthService signs users in through the identity provider.
type AuthService interface {
	SignIn(ctx context.Context, identity *domain.Identity) (*SignInResult, error)
}

// SignInResult holds the provisioned user and the first bearer token.
type SignInResult struct {
	User        *domain.User
	Wallet      *domain.Wallet
	AccessToken string
	ExpiresAt   time.Time
	Created     bool
}

// AuditService records audit entries without blocking the caller.
type AuditService interface {
	Log(ctx context.Context, entry *domain.AuditLog)
}
