package service

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"custodial-wallet/internal/core/domain"
	"custodial-wallet/internal/core/ports"
	"custodial-wallet/pkg/apperror"
	"custodial-wallet/pkg/metrics"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
)

const referencePrefix = "txn_"

// LedgerServiceImpl implements ports.LedgerService. It is the only component
// that changes wallet balances or transaction status, and it does so only
// inside a database transaction holding row locks on what it changes.
type LedgerServiceImpl struct {
	users      ports.UserRepository
	walletRepo ports.WalletRepository
	txRepo     ports.TransactionRepository
	transactor ports.DBTransactor
	gateway    ports.PaymentGateway
	replay     ports.WebhookReplayCache
	replayTTL  time.Duration
	metrics    *metrics.Metrics
	log        zerolog.Logger
	now        func() time.Time
}

// NewLedgerService creates a new LedgerServiceImpl. replay may be nil.
func NewLedgerService(
	users ports.UserRepository,
	walletRepo ports.WalletRepository,
	txRepo ports.TransactionRepository,
	transactor ports.DBTransactor,
	gateway ports.PaymentGateway,
	replay ports.WebhookReplayCache,
	replayTTL time.Duration,
	m *metrics.Metrics,
	log zerolog.Logger,
) *LedgerServiceImpl {
	return &LedgerServiceImpl{
		users:      users,
		walletRepo: walletRepo,
		txRepo:     txRepo,
		transactor: transactor,
		gateway:    gateway,
		replay:     replay,
		replayTTL:  replayTTL,
		metrics:    m,
		log:        log,
		now:        time.Now,
	}
}

// InitiateDeposit records a pending deposit and asks the gateway for a
// payment URL. The balance is only credited later, by ReconcileWebhook.
func (s *LedgerServiceImpl) InitiateDeposit(ctx context.Context, ac *domain.AuthContext, amount int64) (*ports.DepositIntent, error) {
	if err := authorize(ac, domain.PermissionDeposit); err != nil {
		return nil, err
	}
	if amount <= 0 {
		return nil, apperror.ErrInvalidAmount()
	}

	wallet, err := s.walletRepo.GetByUserID(ctx, ac.Subject)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get wallet: %w", err))
	}
	if wallet == nil {
		return nil, apperror.ErrNotFound("Wallet")
	}
	user, err := s.users.GetByID(ctx, ac.Subject)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get user: %w", err))
	}
	if user == nil {
		return nil, apperror.ErrNotFound("User")
	}

	reference, err := newReference()
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("generate reference: %w", err))
	}

	now := s.now().UTC()
	txn := &domain.Transaction{
		ID:        uuid.New(),
		WalletID:  wallet.ID,
		Type:      domain.TransactionTypeDeposit,
		Amount:    amount,
		Status:    domain.TransactionStatusPending,
		Reference: &reference,
		CreatedAt: now,
		UpdatedAt: now,
	}

	// The pending row is committed before the gateway is called, so a
	// gateway failure can always be recorded against it.
	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	if err := s.txRepo.Create(ctx, dbTx, txn); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("create deposit: %w", err))
	}
	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	started := time.Now()
	gw, err := s.gateway.Initialize(ctx, user.Email, amount, reference)
	s.metrics.ObserveGatewayCall(time.Since(started), err)
	if err != nil {
		s.markFailed(context.WithoutCancel(ctx), txn)
		s.metrics.ObserveLedger("deposit_init", 0, err)
		s.log.Error().Err(err).
			Str("user_id", ac.Subject).
			Str("reference", reference).
			Int64("amount", amount).
			Msg("gateway initialization failed")
		if errors.Is(err, ports.ErrGatewayRejected) {
			return nil, apperror.ErrGatewayRejected(err)
		}
		return nil, apperror.ErrGatewayUnavailable(err)
	}

	s.metrics.ObserveLedger("deposit_init", amount, nil)
	s.log.Info().
		Str("user_id", ac.Subject).
		Str("wallet_id", wallet.ID.String()).
		Str("reference", reference).
		Int64("amount", amount).
		Msg("deposit initiated")

	return &ports.DepositIntent{
		Reference:        reference,
		AuthorizationURL: gw.AuthorizationURL,
		Amount:           amount,
	}, nil
}

// markFailed moves a pending deposit to failed in its own transaction.
func (s *LedgerServiceImpl) markFailed(ctx context.Context, txn *domain.Transaction) {
	err := func() error {
		dbTx, err := s.transactor.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer dbTx.Rollback(ctx) //nolint:errcheck

		if _, err := s.txRepo.UpdateStatus(ctx, dbTx, txn.ID, domain.TransactionStatusFailed); err != nil {
			return fmt.Errorf("update status: %w", err)
		}
		return dbTx.Commit(ctx)
	}()
	if err != nil {
		s.log.Error().Err(err).
			Str("reference", txn.ReferenceValue()).
			Msg("failed to mark deposit as failed")
		return
	}
	txn.Status = domain.TransactionStatusFailed
}

// ReconcileWebhook applies a signed gateway notification. Anything past the
// signature check is acknowledged, including unknown references and
// deliveries for transactions that already reached a terminal state.
func (s *LedgerServiceImpl) ReconcileWebhook(ctx context.Context, rawBody []byte, signature string) (*ports.WebhookResult, error) {
	if !s.gateway.VerifySignature(rawBody, signature) {
		s.metrics.ObserveWebhook("invalid_signature")
		return nil, apperror.ErrInvalidSignature()
	}

	event, err := s.gateway.ParseWebhook(rawBody)
	if err != nil || event.Reference == "" {
		s.log.Warn().Err(err).Msg("ignoring unparseable webhook")
		return s.ack("", ports.WebhookIgnored), nil
	}

	if s.replay != nil {
		seen, err := s.replay.Seen(ctx, event.Reference)
		if err != nil {
			s.log.Warn().Err(err).Str("reference", event.Reference).Msg("replay cache lookup failed, falling through to DB")
		}
		if seen {
			return s.ack(event.Reference, ports.WebhookDuplicate), nil
		}
	}

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	txn, err := s.txRepo.GetByReferenceForUpdate(ctx, dbTx, event.Reference)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("lock transaction: %w", err))
	}
	if txn == nil || txn.Type != domain.TransactionTypeDeposit {
		s.log.Warn().Str("reference", event.Reference).Msg("webhook for unknown reference")
		return s.ack(event.Reference, ports.WebhookUnknownRef), nil
	}
	if txn.IsTerminal() {
		s.remember(ctx, event.Reference)
		return s.ack(event.Reference, ports.WebhookDuplicate), nil
	}

	outcome := ports.WebhookFailed
	var wallet *domain.Wallet
	if event.Success {
		outcome = ports.WebhookCredited
		if wallet, err = s.credit(ctx, dbTx, txn); err != nil {
			return nil, err
		}
	} else if _, err := s.txRepo.UpdateStatus(ctx, dbTx, txn.ID, domain.TransactionStatusFailed); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("fail deposit: %w", err))
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}
	s.remember(ctx, event.Reference)

	if wallet != nil {
		s.metrics.ObserveLedger("deposit", txn.Amount, nil)
		s.log.Info().
			Str("user_id", wallet.UserID).
			Str("wallet_id", wallet.ID.String()).
			Str("reference", event.Reference).
			Int64("amount", txn.Amount).
			Msg("deposit credited")
	} else {
		s.log.Info().Str("reference", event.Reference).Msg("deposit marked failed")
	}

	return s.ack(event.Reference, outcome), nil
}

// credit marks txn successful and adds its stored amount to the owning
// wallet, both inside dbTx.
func (s *LedgerServiceImpl) credit(ctx context.Context, dbTx pgx.Tx, txn *domain.Transaction) (*domain.Wallet, error) {
	updated, err := s.txRepo.UpdateStatus(ctx, dbTx, txn.ID, domain.TransactionStatusSuccess)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("settle deposit: %w", err))
	}
	if !updated {
		return nil, apperror.InternalError(fmt.Errorf("deposit %s is no longer pending", txn.ID))
	}

	wallet, err := s.walletRepo.GetByIDForUpdate(ctx, dbTx, txn.WalletID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("lock wallet: %w", err))
	}
	if wallet == nil {
		return nil, apperror.InternalError(fmt.Errorf("wallet %s for deposit %s missing", txn.WalletID, txn.ID))
	}
	if !wallet.CanCredit(txn.Amount) {
		return nil, apperror.InternalError(fmt.Errorf("crediting wallet %s would overflow", wallet.ID))
	}

	wallet.Balance += txn.Amount
	if err := s.walletRepo.UpdateBalance(ctx, dbTx, wallet.ID, wallet.Balance); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("update balance: %w", err))
	}
	return wallet, nil
}

func (s *LedgerServiceImpl) remember(ctx context.Context, reference string) {
	if s.replay == nil {
		return
	}
	if err := s.replay.Remember(ctx, reference, s.replayTTL); err != nil {
		s.log.Warn().Err(err).Str("reference", reference).Msg("failed to cache webhook reference")
	}
}

func (s *LedgerServiceImpl) ack(reference string, outcome ports.WebhookOutcome) *ports.WebhookResult {
	s.metrics.ObserveWebhook(string(outcome))
	return &ports.WebhookResult{Reference: reference, Outcome: outcome}
}

// Transfer moves amount from the caller's wallet to the wallet with the
// given number. Both balances and both ledger rows commit together.
func (s *LedgerServiceImpl) Transfer(ctx context.Context, ac *domain.AuthContext, req ports.TransferRequest) (*ports.TransferResult, error) {
	if err := authorize(ac, domain.PermissionTransfer); err != nil {
		return nil, err
	}
	if req.Amount <= 0 {
		return nil, apperror.ErrInvalidAmount()
	}

	sender, err := s.walletRepo.GetByUserID(ctx, ac.Subject)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get sender wallet: %w", err))
	}
	if sender == nil {
		return nil, apperror.ErrNotFound("Wallet")
	}
	recipient, err := s.walletRepo.GetByNumber(ctx, req.WalletNumber)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get recipient wallet: %w", err))
	}
	if recipient == nil {
		return nil, apperror.ErrNotFound("Recipient wallet")
	}
	if sender.ID == recipient.ID {
		return nil, apperror.ErrSelfTransfer()
	}

	result, err := s.transfer(ctx, sender.ID, recipient.ID, req.Amount)
	s.metrics.ObserveLedger("transfer", req.Amount, err)
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("user_id", ac.Subject).
		Str("wallet_id", sender.ID.String()).
		Str("recipient_wallet_id", recipient.ID.String()).
		Int64("amount", req.Amount).
		Msg("transfer completed")

	return result, nil
}

func (s *LedgerServiceImpl) transfer(ctx context.Context, senderID, recipientID uuid.UUID, amount int64) (*ports.TransferResult, error) {
	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	// Lock both wallets in id order so opposing transfers cannot deadlock.
	first, second := senderID, recipientID
	if bytes.Compare(first[:], second[:]) > 0 {
		first, second = second, first
	}
	locked := make(map[uuid.UUID]*domain.Wallet, 2)
	for _, id := range []uuid.UUID{first, second} {
		w, err := s.walletRepo.GetByIDForUpdate(ctx, dbTx, id)
		if err != nil {
			return nil, apperror.InternalError(fmt.Errorf("lock wallet: %w", err))
		}
		if w == nil {
			return nil, apperror.ErrNotFound("Wallet")
		}
		locked[id] = w
	}
	sender, recipient := locked[senderID], locked[recipientID]

	// Business rule: sufficient funds, checked under the lock
	if !sender.CanDebit(amount) {
		return nil, apperror.ErrInsufficientFunds()
	}
	if !recipient.CanCredit(amount) {
		return nil, apperror.InternalError(fmt.Errorf("crediting wallet %s would overflow", recipient.ID))
	}

	if err := s.walletRepo.UpdateBalance(ctx, dbTx, sender.ID, sender.Balance-amount); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("debit sender: %w", err))
	}
	if err := s.walletRepo.UpdateBalance(ctx, dbTx, recipient.ID, recipient.Balance+amount); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("credit recipient: %w", err))
	}

	now := s.now().UTC()
	debit := &domain.Transaction{
		ID:                uuid.New(),
		WalletID:          sender.ID,
		Type:              domain.TransactionTypeTransferOut,
		Amount:            amount,
		Status:            domain.TransactionStatusSuccess,
		RecipientWalletID: &recipient.ID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	credit := &domain.Transaction{
		ID:                uuid.New(),
		WalletID:          recipient.ID,
		Type:              domain.TransactionTypeTransferIn,
		Amount:            amount,
		Status:            domain.TransactionStatusSuccess,
		RecipientWalletID: &sender.ID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.txRepo.Create(ctx, dbTx, debit); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("create debit record: %w", err))
	}
	if err := s.txRepo.Create(ctx, dbTx, credit); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("create credit record: %w", err))
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	return &ports.TransferResult{Debit: debit, Credit: credit}, nil
}

// newReference returns a fresh deposit reference, e.g. txn_9f86d081884c7d65.
func newReference() (string, error) {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return referencePrefix + hex.EncodeToString(b), nil
}
