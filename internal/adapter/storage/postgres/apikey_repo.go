package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"custodial-wallet/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const apiKeyColumns = `id, user_id, name, prefix, key_hash, permissions, expires_at, revoked, revoked_at, created_at`

// APIKeyRepo implements ports.APIKeyRepository. Permissions are stored as
// the integer value of the bitmask.
type APIKeyRepo struct {
	pool Pool
}

// NewAPIKeyRepo creates a new APIKeyRepo.
func NewAPIKeyRepo(pool Pool) *APIKeyRepo {
	return &APIKeyRepo{pool: pool}
}

// Create inserts a new key within a database transaction.
func (r *APIKeyRepo) Create(ctx context.Context, tx pgx.Tx, k *domain.APIKey) error {
	query := `INSERT INTO api_keys (` + apiKeyColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := tx.Exec(ctx, query,
		k.ID, k.UserID, k.Name, k.Prefix, k.KeyHash, int16(k.Permissions),
		k.ExpiresAt, k.Revoked, k.RevokedAt, k.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert api key: %w", err)
	}
	return nil
}

// GetActiveByHash fetches a non-revoked, unexpired key by digest.
func (r *APIKeyRepo) GetActiveByHash(ctx context.Context, keyHash string, now time.Time) (*domain.APIKey, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys
		WHERE key_hash = $1 AND NOT revoked AND expires_at > $2`
	return scanAPIKey(r.pool.QueryRow(ctx, query, keyHash, now))
}

// GetByIDForUpdate fetches a key with pessimistic locking.
func (r *APIKeyRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.APIKey, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys WHERE id = $1 FOR UPDATE`
	return scanAPIKey(tx.QueryRow(ctx, query, id))
}

// CountActive counts the user's keys that are neither revoked nor expired.
func (r *APIKeyRepo) CountActive(ctx context.Context, tx pgx.Tx, userID string, now time.Time) (int, error) {
	query := `SELECT COUNT(*) FROM api_keys
		WHERE user_id = $1 AND NOT revoked AND expires_at > $2`

	var n int
	if err := tx.QueryRow(ctx, query, userID, now).Scan(&n); err != nil {
		return 0, fmt.Errorf("count active api keys: %w", err)
	}
	return n, nil
}

// Revoke flips a key to revoked. It reports false if it already was.
func (r *APIKeyRepo) Revoke(ctx context.Context, tx pgx.Tx, id uuid.UUID, at time.Time) (bool, error) {
	query := `UPDATE api_keys SET revoked = TRUE, revoked_at = $1
		WHERE id = $2 AND NOT revoked`

	tag, err := tx.Exec(ctx, query, at, id)
	if err != nil {
		return false, fmt.Errorf("revoke api key: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListByUser fetches every key of a user, newest first.
func (r *APIKeyRepo) ListByUser(ctx context.Context, userID string) ([]domain.APIKey, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys
		WHERE user_id = $1 ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	keys := []domain.APIKey{}
	for rows.Next() {
		k, err := scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, *k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate api key rows: %w", err)
	}
	return keys, nil
}

func scanAPIKey(row pgx.Row) (*domain.APIKey, error) {
	k := &domain.APIKey{}
	var perms int16
	err := row.Scan(
		&k.ID, &k.UserID, &k.Name, &k.Prefix, &k.KeyHash, &perms,
		&k.ExpiresAt, &k.Revoked, &k.RevokedAt, &k.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan api key: %w", err)
	}
	k.Permissions = domain.PermissionSet(perms)
	return k, nil
}
