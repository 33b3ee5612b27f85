package service

import (
	"context"
	"fmt"

	"custodial-wallet/internal/core/domain"
	"custodial-wallet/internal/core/ports"
	"custodial-wallet/pkg/apperror"
)

const maxHistoryPageSize = 100

// queryService implements ports.QueryService. Every query is scoped to the
// caller's own wallet.
type queryService struct {
	walletRepo ports.WalletRepository
	txRepo     ports.TransactionRepository
}

// NewQueryService creates a new query service.
func NewQueryService(walletRepo ports.WalletRepository, txRepo ports.TransactionRepository) ports.QueryService {
	return &queryService{walletRepo: walletRepo, txRepo: txRepo}
}

func (s *queryService) GetWallet(ctx context.Context, ac *domain.AuthContext) (*domain.Wallet, error) {
	if err := authorize(ac, domain.PermissionRead); err != nil {
		return nil, err
	}
	return s.ownWallet(ctx, ac)
}

func (s *queryService) GetBalance(ctx context.Context, ac *domain.AuthContext) (int64, error) {
	w, err := s.GetWallet(ctx, ac)
	if err != nil {
		return 0, err
	}
	return w.Balance, nil
}

// ListTransactions returns the caller's history, newest first.
func (s *queryService) ListTransactions(ctx context.Context, ac *domain.AuthContext, filter domain.TransactionFilter) ([]domain.Transaction, error) {
	if err := authorize(ac, domain.PermissionRead); err != nil {
		return nil, err
	}
	if filter.Type != "" && !filter.Type.Valid() {
		return nil, apperror.Validation("invalid type: must be deposit, transfer_out or transfer_in")
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, apperror.Validation("invalid status: must be pending, success or failed")
	}
	if filter.Limit < 0 || filter.Limit > maxHistoryPageSize {
		return nil, apperror.Validation(fmt.Sprintf("limit must be between 0 and %d", maxHistoryPageSize))
	}
	if filter.Offset < 0 {
		return nil, apperror.Validation("offset must not be negative")
	}

	w, err := s.ownWallet(ctx, ac)
	if err != nil {
		return nil, err
	}

	txs, err := s.txRepo.ListByWallet(ctx, w.ID, filter)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("list transactions: %w", err))
	}
	if txs == nil {
		txs = []domain.Transaction{}
	}
	return txs, nil
}

// GetDepositStatus looks a transaction up by reference. A reference that
// belongs to another user's wallet is Forbidden.
func (s *queryService) GetDepositStatus(ctx context.Context, ac *domain.AuthContext, reference string) (*domain.Transaction, error) {
	if err := authorize(ac, domain.PermissionRead); err != nil {
		return nil, err
	}

	txn, err := s.txRepo.GetByReference(ctx, reference)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get transaction: %w", err))
	}
	if txn == nil {
		return nil, apperror.ErrNotFound("Transaction")
	}

	w, err := s.ownWallet(ctx, ac)
	if err != nil {
		return nil, err
	}
	if txn.WalletID != w.ID {
		return nil, apperror.ErrForbidden("Transaction belongs to another wallet")
	}
	return txn, nil
}

func (s *queryService) ownWallet(ctx context.Context, ac *domain.AuthContext) (*domain.Wallet, error) {
	w, err := s.walletRepo.GetByUserID(ctx, ac.Subject)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get wallet: %w", err))
	}
	if w == nil {
		return nil, apperror.ErrNotFound("Wallet")
	}
	return w, nil
}
