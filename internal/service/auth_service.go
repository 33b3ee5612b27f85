package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"custodial-wallet/internal/core/domain"
	"custodial-wallet/internal/core/ports"
	"custodial-wallet/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const walletNumberBytes = 6

// AuthServiceImpl implements ports.AuthService.
type AuthServiceImpl struct {
	userRepo   ports.UserRepository
	walletRepo ports.WalletRepository
	transactor ports.DBTransactor
	tokenSvc   ports.TokenService
	log        zerolog.Logger
}

// NewAuthService creates a new AuthServiceImpl.
func NewAuthService(
	userRepo ports.UserRepository,
	walletRepo ports.WalletRepository,
	transactor ports.DBTransactor,
	tokenSvc ports.TokenService,
	log zerolog.Logger,
) *AuthServiceImpl {
	return &AuthServiceImpl{
		userRepo:   userRepo,
		walletRepo: walletRepo,
		transactor: transactor,
		tokenSvc:   tokenSvc,
		log:        log,
	}
}

// SignIn provisions the user and wallet on first sight of a subject and
// issues a bearer token. Signing in again with the same subject reuses the
// existing records.
func (s *AuthServiceImpl) SignIn(ctx context.Context, identity *domain.Identity) (*ports.SignInResult, error) {
	if identity == nil || identity.Subject == "" || identity.Email == "" {
		return nil, apperror.ErrSignInFailed(errors.New("identity provider returned no subject or email"))
	}

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	now := time.Now().UTC()
	user := &domain.User{
		ID:        identity.Subject,
		Email:     strings.ToLower(identity.Email),
		Name:      identity.Name,
		CreatedAt: now,
	}

	created, err := s.userRepo.CreateIfAbsent(ctx, dbTx, user)
	if err != nil {
		if errors.Is(err, ports.ErrDuplicateEmail) {
			return nil, apperror.ErrEmailInUse()
		}
		return nil, apperror.InternalError(fmt.Errorf("create user: %w", err))
	}

	var wallet *domain.Wallet
	if created {
		number, err := newWalletNumber()
		if err != nil {
			return nil, apperror.InternalError(fmt.Errorf("generate wallet number: %w", err))
		}
		wallet = &domain.Wallet{
			ID:           uuid.New(),
			UserID:       user.ID,
			WalletNumber: number,
			Balance:      0,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := s.walletRepo.Create(ctx, dbTx, wallet); err != nil {
			return nil, apperror.InternalError(fmt.Errorf("create wallet: %w", err))
		}
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	if !created {
		if user, err = s.userRepo.GetByID(ctx, identity.Subject); err != nil {
			return nil, apperror.InternalError(fmt.Errorf("get user: %w", err))
		}
		if wallet, err = s.walletRepo.GetByUserID(ctx, identity.Subject); err != nil {
			return nil, apperror.InternalError(fmt.Errorf("get wallet: %w", err))
		}
		if user == nil || wallet == nil {
			return nil, apperror.InternalError(fmt.Errorf("user %s exists without wallet", identity.Subject))
		}
	}

	token, expiresAt, err := s.tokenSvc.Generate(user.ID, user.Email)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("generate token: %w", err))
	}

	s.log.Info().
		Str("user_id", user.ID).
		Str("wallet_id", wallet.ID.String()).
		Bool("created", created).
		Msg("user signed in")

	return &ports.SignInResult{
		User:        user,
		Wallet:      wallet,
		AccessToken: token,
		ExpiresAt:   expiresAt,
		Created:     created,
	}, nil
}

// newWalletNumber generates a random hex string of walletNumberBytes bytes.
func newWalletNumber() (string, error) {
	b := make([]byte, walletNumberBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
