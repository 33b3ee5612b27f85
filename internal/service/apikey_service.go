package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"custodial-wallet/internal/core/domain"
	"custodial-wallet/internal/core/ports"
	"custodial-wallet/pkg/apperror"
	"custodial-wallet/pkg/metrics"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	apiKeySecretBytes = 32
	apiKeyDisplayLen  = 4 // characters after the class prefix kept for display
	maxKeyNameLen     = 100
)

// HashAPIKey is the digest stored for, and looked up by, a raw API key.
func HashAPIKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// APIKeyServiceImpl implements ports.APIKeyService.
type APIKeyServiceImpl struct {
	keys       ports.APIKeyRepository
	users      ports.UserRepository
	transactor ports.DBTransactor
	prefix     string
	maxActive  int
	metrics    *metrics.Metrics
	log        zerolog.Logger
	now        func() time.Time
}

// NewAPIKeyService creates a new APIKeyServiceImpl.
func NewAPIKeyService(
	keys ports.APIKeyRepository,
	users ports.UserRepository,
	transactor ports.DBTransactor,
	prefix string,
	maxActive int,
	m *metrics.Metrics,
	log zerolog.Logger,
) *APIKeyServiceImpl {
	if maxActive < 1 {
		maxActive = domain.DefaultMaxActiveAPIKeys
	}
	return &APIKeyServiceImpl{
		keys:       keys,
		users:      users,
		transactor: transactor,
		prefix:     prefix,
		maxActive:  maxActive,
		metrics:    m,
		log:        log,
		now:        time.Now,
	}
}

// Create issues a new key for the caller. The raw secret is returned once.
func (s *APIKeyServiceImpl) Create(ctx context.Context, ac *domain.AuthContext, req ports.CreateAPIKeyRequest) (*domain.IssuedAPIKey, error) {
	if ac == nil {
		return nil, apperror.ErrUnauthenticated()
	}
	name := strings.TrimSpace(req.Name)
	if name == "" || utf8.RuneCountInString(name) > maxKeyNameLen {
		return nil, apperror.ErrInvalidKeyRequest("name must be 1-100 characters")
	}
	if !req.Permissions.Valid() {
		return nil, apperror.ErrInvalidKeyRequest("permissions must be a non-empty subset of deposit, transfer, read")
	}
	if req.Expiry.Duration() <= 0 {
		return nil, apperror.ErrInvalidKeyRequest("expiry must be one of 1H, 1D, 1M, 1Y")
	}
	if !req.Permissions.SubsetOf(ac.Permissions) {
		return nil, apperror.ErrForbidden("cannot grant permissions the caller does not hold")
	}

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	// Lock the owner so concurrent creates are counted one after another.
	user, err := s.users.GetByIDForUpdate(ctx, dbTx, ac.Subject)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("lock user: %w", err))
	}
	if user == nil {
		return nil, apperror.ErrNotFound("User")
	}

	now := s.now().UTC()
	active, err := s.keys.CountActive(ctx, dbTx, ac.Subject, now)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("count active keys: %w", err))
	}
	if active >= s.maxActive {
		return nil, apperror.ErrKeyLimitExceeded(s.maxActive)
	}

	issued, err := s.issue(ac.Subject, name, req.Permissions, req.Expiry, now)
	if err != nil {
		return nil, err
	}
	if err := s.keys.Create(ctx, dbTx, issued.Key); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("create api key: %w", err))
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	s.metrics.ObserveKeyIssued("create")
	s.log.Info().
		Str("user_id", ac.Subject).
		Str("key_id", issued.Key.ID.String()).
		Str("permissions", req.Permissions.String()).
		Time("expires_at", issued.Key.ExpiresAt).
		Msg("api key created")

	return issued, nil
}

// Rollover replaces an expired key with a fresh one carrying the same name
// and permissions. Revoking the source and creating the replacement commit
// together.
func (s *APIKeyServiceImpl) Rollover(ctx context.Context, ac *domain.AuthContext, keyID uuid.UUID, expiry domain.ExpiryClass) (*domain.IssuedAPIKey, error) {
	if ac == nil {
		return nil, apperror.ErrUnauthenticated()
	}
	if expiry.Duration() <= 0 {
		return nil, apperror.ErrInvalidKeyRequest("expiry must be one of 1H, 1D, 1M, 1Y")
	}

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	user, err := s.users.GetByIDForUpdate(ctx, dbTx, ac.Subject)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("lock user: %w", err))
	}
	if user == nil {
		return nil, apperror.ErrNotFound("User")
	}

	source, err := s.keys.GetByIDForUpdate(ctx, dbTx, keyID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("lock api key: %w", err))
	}
	if source == nil || source.UserID != ac.Subject {
		return nil, apperror.ErrNotFound("API key")
	}
	if source.Revoked {
		return nil, apperror.ErrKeyAlreadyRevoked()
	}

	now := s.now().UTC()
	if !source.IsExpired(now) {
		return nil, apperror.ErrKeyNotYetExpired()
	}
	if !source.Permissions.SubsetOf(ac.Permissions) {
		return nil, apperror.ErrForbidden("cannot grant permissions the caller does not hold")
	}

	active, err := s.keys.CountActive(ctx, dbTx, ac.Subject, now)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("count active keys: %w", err))
	}
	if active >= s.maxActive {
		return nil, apperror.ErrKeyLimitExceeded(s.maxActive)
	}

	if _, err := s.keys.Revoke(ctx, dbTx, source.ID, now); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("revoke source key: %w", err))
	}

	issued, err := s.issue(ac.Subject, source.Name, source.Permissions, expiry, now)
	if err != nil {
		return nil, err
	}
	if err := s.keys.Create(ctx, dbTx, issued.Key); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("create api key: %w", err))
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	s.metrics.ObserveKeyIssued("rollover")
	s.log.Info().
		Str("user_id", ac.Subject).
		Str("source_key_id", source.ID.String()).
		Str("key_id", issued.Key.ID.String()).
		Msg("api key rolled over")

	return issued, nil
}

// Revoke permanently disables one of the caller's keys.
func (s *APIKeyServiceImpl) Revoke(ctx context.Context, ac *domain.AuthContext, keyID uuid.UUID) error {
	if ac == nil {
		return apperror.ErrUnauthenticated()
	}

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	key, err := s.keys.GetByIDForUpdate(ctx, dbTx, keyID)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("lock api key: %w", err))
	}
	if key == nil || key.UserID != ac.Subject {
		return apperror.ErrNotFound("API key")
	}
	if key.Revoked {
		return apperror.ErrKeyAlreadyRevoked()
	}

	revoked, err := s.keys.Revoke(ctx, dbTx, key.ID, s.now().UTC())
	if err != nil {
		return apperror.InternalError(fmt.Errorf("revoke api key: %w", err))
	}
	if !revoked {
		return apperror.ErrKeyAlreadyRevoked()
	}

	if err := dbTx.Commit(ctx); err != nil {
		return apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	s.log.Info().Str("user_id", ac.Subject).Str("key_id", key.ID.String()).Msg("api key revoked")
	return nil
}

// List returns the caller's keys, newest first. Digests are never exposed.
func (s *APIKeyServiceImpl) List(ctx context.Context, ac *domain.AuthContext) ([]domain.APIKey, error) {
	if ac == nil {
		return nil, apperror.ErrUnauthenticated()
	}
	keys, err := s.keys.ListByUser(ctx, ac.Subject)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("list api keys: %w", err))
	}
	return keys, nil
}

func (s *APIKeyServiceImpl) issue(userID, name string, perms domain.PermissionSet, expiry domain.ExpiryClass, now time.Time) (*domain.IssuedAPIKey, error) {
	secret, err := s.generateSecret()
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("generate api key: %w", err))
	}
	display := secret
	if n := len(s.prefix) + apiKeyDisplayLen; len(display) > n {
		display = display[:n]
	}
	return &domain.IssuedAPIKey{
		Key: &domain.APIKey{
			ID:          uuid.New(),
			UserID:      userID,
			Name:        name,
			Prefix:      display,
			KeyHash:     HashAPIKey(secret),
			Permissions: perms,
			ExpiresAt:   expiry.ExpiresAt(now),
			CreatedAt:   now,
		},
		Secret: secret,
	}, nil
}

func (s *APIKeyServiceImpl) generateSecret() (string, error) {
	b := make([]byte, apiKeySecretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return s.prefix + base64.RawURLEncoding.EncodeToString(b), nil
}
