package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"custodial-wallet/internal/core/domain"
	"custodial-wallet/internal/core/ports"
	"custodial-wallet/pkg/apperror"
	"custodial-wallet/pkg/logger"
	"custodial-wallet/pkg/metrics"

	"github.com/rs/zerolog"
)

// AuthenticatorImpl implements ports.Authenticator. A bearer token, when
// present, is the only credential considered; otherwise the API key is.
type AuthenticatorImpl struct {
	tokens    ports.TokenService
	keys      ports.APIKeyRepository
	keyPrefix string
	metrics   *metrics.Metrics
	log       zerolog.Logger
	now       func() time.Time
}

// NewAuthenticator creates a new AuthenticatorImpl.
func NewAuthenticator(
	tokens ports.TokenService,
	keys ports.APIKeyRepository,
	keyPrefix string,
	m *metrics.Metrics,
	log zerolog.Logger,
) *AuthenticatorImpl {
	return &AuthenticatorImpl{
		tokens:    tokens,
		keys:      keys,
		keyPrefix: keyPrefix,
		metrics:   m,
		log:       log,
		now:       time.Now,
	}
}

// Authenticate resolves request credentials to an AuthContext.
func (a *AuthenticatorImpl) Authenticate(ctx context.Context, creds ports.Credentials) (*domain.AuthContext, error) {
	switch {
	case creds.BearerToken != "":
		ac, err := a.fromBearer(creds.BearerToken)
		a.metrics.ObserveAuth(string(domain.CredentialBearer), err)
		return ac, err
	case creds.APIKey != "":
		ac, err := a.fromAPIKey(ctx, creds.APIKey)
		a.metrics.ObserveAuth(string(domain.CredentialAPIKey), err)
		return ac, err
	default:
		return nil, apperror.ErrUnauthenticated()
	}
}

func (a *AuthenticatorImpl) fromBearer(token string) (*domain.AuthContext, error) {
	claims, err := a.tokens.Validate(token)
	if err != nil {
		if errors.Is(err, ports.ErrTokenExpired) {
			return nil, apperror.ErrTokenExpired()
		}
		a.log.Debug().Err(err).Msg("bearer token rejected")
		return nil, apperror.ErrInvalidToken()
	}

	// First-party sessions carry every permission.
	return &domain.AuthContext{
		Subject:     claims.Subject,
		Permissions: domain.FullPermissions,
		Via:         domain.CredentialBearer,
	}, nil
}

func (a *AuthenticatorImpl) fromAPIKey(ctx context.Context, raw string) (*domain.AuthContext, error) {
	if a.keyPrefix != "" && !strings.HasPrefix(raw, a.keyPrefix) {
		return nil, apperror.ErrInvalidAPIKey()
	}

	now := a.now()
	key, err := a.keys.GetActiveByHash(ctx, HashAPIKey(raw), now)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("lookup api key: %w", err))
	}
	if key == nil || !key.IsActive(now) {
		a.log.Debug().Str("key", logger.Mask(raw, len(a.keyPrefix)+4)).Msg("api key rejected")
		return nil, apperror.ErrInvalidAPIKey()
	}

	keyID := key.ID
	return &domain.AuthContext{
		Subject:     key.UserID,
		Permissions: key.Permissions & domain.FullPermissions,
		Via:         domain.CredentialAPIKey,
		APIKeyID:    &keyID,
	}, nil
}

// CheckPermission fails with Forbidden when required is not in the set.
func (a *AuthenticatorImpl) CheckPermission(ac *domain.AuthContext, required domain.Permission) error {
	return authorize(ac, required)
}

func authorize(ac *domain.AuthContext, required domain.Permission) error {
	if ac == nil {
		return apperror.ErrUnauthenticated()
	}
	if !ac.Can(required) {
		return apperror.ErrMissingPermission(required.String())
	}
	return nil
}
