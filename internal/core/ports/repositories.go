package ports

import (
	"context"
	"errors"
	"time"

	"custodial-wallet/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Lookups return (nil, nil) when no row matches.

// ErrDuplicateEmail is returned when a new user's email is already bound to
// another subject.
var ErrDuplicateEmail = errors.New("email already registered")

// UserRepository defines persistence operations for users.
type UserRepository interface {
	// CreateIfAbsent inserts the user unless one with the same ID exists.
	// It reports whether a row was inserted.
	CreateIfAbsent(ctx context.Context, tx pgx.Tx, user *domain.User) (bool, error)
	GetByID(ctx context.Context, id string) (*domain.User, error)
	// GetByIDForUpdate locks the user row, serializing per-user key issuance.
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id string) (*domain.User, error)
}

// WalletRepository defines persistence operations for wallets.
// Methods accepting pgx.Tx are used inside transaction blocks for pessimistic locking.
type WalletRepository interface {
	Create(ctx context.Context, tx pgx.Tx, wallet *domain.Wallet) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Wallet, error)
	GetByUserID(ctx context.Context, userID string) (*domain.Wallet, error)
	GetByNumber(ctx context.Context, walletNumber string) (*domain.Wallet, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Wallet, error)
	UpdateBalance(ctx context.Context, tx pgx.Tx, walletID uuid.UUID, balance int64) error
}

// TransactionRepository defines persistence operations for transactions.
type TransactionRepository interface {
	Create(ctx context.Context, tx pgx.Tx, transaction *domain.Transaction) error
	GetByReference(ctx context.Context, reference string) (*domain.Transaction, error)
	GetByReferenceForUpdate(ctx context.Context, tx pgx.Tx, reference string) (*domain.Transaction, error)
	// UpdateStatus moves a pending transaction to status. It reports false
	// when the row was no longer pending.
	UpdateStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, status domain.TransactionStatus) (bool, error)
	ListByWallet(ctx context.Context, walletID uuid.UUID, filter domain.TransactionFilter) ([]domain.Transaction, error)
}

// APIKeyRepository defines persistence operations for API keys.
type APIKeyRepository interface {
	Create(ctx context.Context, tx pgx.Tx, key *domain.APIKey) error
	// GetActiveByHash returns the key with this digest only if it is not
	// revoked and expires strictly after now.
	GetActiveByHash(ctx context.Context, keyHash string, now time.Time) (*domain.APIKey, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.APIKey, error)
	CountActive(ctx context.Context, tx pgx.Tx, userID string, now time.Time) (int, error)
	// Revoke flips revoked to true. It reports false when already revoked.
	Revoke(ctx context.Context, tx pgx.Tx, id uuid.UUID, at time.Time) (bool, error)
	ListByUser(ctx context.Context, userID string) ([]domain.APIKey, error)
}

// AuditRepository persists audit entries.
type AuditRepository interface {
	Create(ctx context.Context, entry *domain.AuditLog) error
}

// DBTransactor provides database transaction management.
type DBTransactor interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}
