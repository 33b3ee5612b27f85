package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"custodial-wallet/internal/core/domain"
	"custodial-wallet/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

var errConflict = errors.New("memory: unique constraint violation")

// UserRepo implements ports.UserRepository.
type UserRepo struct{ s *Store }

func (r *UserRepo) CreateIfAbsent(ctx context.Context, tx pgx.Tx, user *domain.User) (bool, error) {
	created := false
	err := r.s.write(tx, "users.create", func(d *tables) error {
		if _, ok := d.users[user.ID]; ok {
			return nil
		}
		for _, u := range d.users {
			if strings.EqualFold(u.Email, user.Email) {
				return ports.ErrDuplicateEmail
			}
		}
		if user.CreatedAt.IsZero() {
			user.CreatedAt = time.Now().UTC()
		}
		d.users[user.ID] = *user
		created = true
		return nil
	})
	return created, err
}

func (r *UserRepo) GetByID(ctx context.Context, id string) (*domain.User, error) {
	var out *domain.User
	r.s.read(func(d *tables) {
		if u, ok := d.users[id]; ok {
			out = &u
		}
	})
	return out, nil
}

func (r *UserRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id string) (*domain.User, error) {
	if err := r.s.own(tx); err != nil {
		return nil, err
	}
	return r.GetByID(ctx, id)
}

// WalletRepo implements ports.WalletRepository.
type WalletRepo struct{ s *Store }

func (r *WalletRepo) Create(ctx context.Context, tx pgx.Tx, wallet *domain.Wallet) error {
	return r.s.write(tx, "wallets.create", func(d *tables) error {
		for _, w := range d.wallets {
			if w.UserID == wallet.UserID || w.WalletNumber == wallet.WalletNumber {
				return fmt.Errorf("wallet %s: %w", wallet.WalletNumber, errConflict)
			}
		}
		if wallet.ID == uuid.Nil {
			wallet.ID = uuid.New()
		}
		now := time.Now().UTC()
		wallet.CreatedAt, wallet.UpdatedAt = now, now
		d.wallets[wallet.ID] = *wallet
		return nil
	})
}

func (r *WalletRepo) find(match func(w domain.Wallet) bool) *domain.Wallet {
	var out *domain.Wallet
	r.s.read(func(d *tables) {
		for _, w := range d.wallets {
			if match(w) {
				out = &w
				return
			}
		}
	})
	return out
}

func (r *WalletRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Wallet, error) {
	return r.find(func(w domain.Wallet) bool { return w.ID == id }), nil
}

func (r *WalletRepo) GetByUserID(ctx context.Context, userID string) (*domain.Wallet, error) {
	return r.find(func(w domain.Wallet) bool { return w.UserID == userID }), nil
}

func (r *WalletRepo) GetByNumber(ctx context.Context, walletNumber string) (*domain.Wallet, error) {
	return r.find(func(w domain.Wallet) bool { return w.WalletNumber == walletNumber }), nil
}

func (r *WalletRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Wallet, error) {
	if err := r.s.own(tx); err != nil {
		return nil, err
	}
	return r.GetByID(ctx, id)
}

func (r *WalletRepo) UpdateBalance(ctx context.Context, tx pgx.Tx, walletID uuid.UUID, balance int64) error {
	return r.s.write(tx, "wallets.update_balance", func(d *tables) error {
		w, ok := d.wallets[walletID]
		if !ok {
			return fmt.Errorf("wallet %s not found", walletID)
		}
		if balance < 0 {
			return fmt.Errorf("wallet %s: negative balance %d", walletID, balance)
		}
		w.Balance = balance
		w.UpdatedAt = time.Now().UTC()
		d.wallets[walletID] = w
		return nil
	})
}

// TransactionRepo implements ports.TransactionRepository.
type TransactionRepo struct{ s *Store }

func (r *TransactionRepo) Create(ctx context.Context, tx pgx.Tx, txn *domain.Transaction) error {
	return r.s.write(tx, "transactions.create", func(d *tables) error {
		if txn.Amount <= 0 {
			return fmt.Errorf("transaction amount %d must be positive", txn.Amount)
		}
		if ref := txn.ReferenceValue(); ref != "" {
			for _, t := range d.txs {
				if t.ReferenceValue() == ref {
					return fmt.Errorf("reference %s: %w", ref, errConflict)
				}
			}
		}
		if txn.ID == uuid.Nil {
			txn.ID = uuid.New()
		}
		now := time.Now().UTC()
		txn.CreatedAt, txn.UpdatedAt = now, now
		d.txs[txn.ID] = *txn
		d.txOrder = append(d.txOrder, txn.ID)
		return nil
	})
}

func (r *TransactionRepo) GetByReference(ctx context.Context, reference string) (*domain.Transaction, error) {
	var out *domain.Transaction
	r.s.read(func(d *tables) {
		for _, t := range d.txs {
			if t.ReferenceValue() == reference {
				out = &t
				return
			}
		}
	})
	return out, nil
}

func (r *TransactionRepo) GetByReferenceForUpdate(ctx context.Context, tx pgx.Tx, reference string) (*domain.Transaction, error) {
	if err := r.s.own(tx); err != nil {
		return nil, err
	}
	return r.GetByReference(ctx, reference)
}

func (r *TransactionRepo) UpdateStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, status domain.TransactionStatus) (bool, error) {
	updated := false
	err := r.s.write(tx, "transactions.update_status", func(d *tables) error {
		t, ok := d.txs[id]
		if !ok || t.Status != domain.TransactionStatusPending {
			return nil
		}
		t.Status = status
		t.UpdatedAt = time.Now().UTC()
		d.txs[id] = t
		updated = true
		return nil
	})
	return updated, err
}

// ListByWallet returns matching rows newest first.
func (r *TransactionRepo) ListByWallet(ctx context.Context, walletID uuid.UUID, filter domain.TransactionFilter) ([]domain.Transaction, error) {
	out := []domain.Transaction{}
	r.s.read(func(d *tables) {
		skipped := 0
		for i := len(d.txOrder) - 1; i >= 0; i-- {
			t := d.txs[d.txOrder[i]]
			if t.WalletID != walletID {
				continue
			}
			if filter.Type != "" && t.Type != filter.Type {
				continue
			}
			if filter.Status != "" && t.Status != filter.Status {
				continue
			}
			if skipped < filter.Offset {
				skipped++
				continue
			}
			out = append(out, t)
			if filter.Limit > 0 && len(out) == filter.Limit {
				return
			}
		}
	})
	return out, nil
}

// APIKeyRepo implements ports.APIKeyRepository.
type APIKeyRepo struct{ s *Store }

func (r *APIKeyRepo) Create(ctx context.Context, tx pgx.Tx, key *domain.APIKey) error {
	return r.s.write(tx, "api_keys.create", func(d *tables) error {
		for _, k := range d.keys {
			if k.KeyHash == key.KeyHash {
				return fmt.Errorf("api key hash: %w", errConflict)
			}
		}
		if key.ID == uuid.Nil {
			key.ID = uuid.New()
		}
		if key.CreatedAt.IsZero() {
			key.CreatedAt = time.Now().UTC()
		}
		d.keys[key.ID] = *key
		return nil
	})
}

func (r *APIKeyRepo) GetActiveByHash(ctx context.Context, keyHash string, now time.Time) (*domain.APIKey, error) {
	var out *domain.APIKey
	r.s.read(func(d *tables) {
		for _, k := range d.keys {
			if k.KeyHash == keyHash && k.IsActive(now) {
				out = &k
				return
			}
		}
	})
	return out, nil
}

func (r *APIKeyRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.APIKey, error) {
	if err := r.s.own(tx); err != nil {
		return nil, err
	}
	var out *domain.APIKey
	r.s.read(func(d *tables) {
		if k, ok := d.keys[id]; ok {
			out = &k
		}
	})
	return out, nil
}

func (r *APIKeyRepo) CountActive(ctx context.Context, tx pgx.Tx, userID string, now time.Time) (int, error) {
	if err := r.s.own(tx); err != nil {
		return 0, err
	}
	n := 0
	r.s.read(func(d *tables) {
		for _, k := range d.keys {
			if k.UserID == userID && k.IsActive(now) {
				n++
			}
		}
	})
	return n, nil
}

func (r *APIKeyRepo) Revoke(ctx context.Context, tx pgx.Tx, id uuid.UUID, at time.Time) (bool, error) {
	revoked := false
	err := r.s.write(tx, "api_keys.revoke", func(d *tables) error {
		k, ok := d.keys[id]
		if !ok || k.Revoked {
			return nil
		}
		k.Revoked = true
		k.RevokedAt = &at
		d.keys[id] = k
		revoked = true
		return nil
	})
	return revoked, err
}

// ListByUser returns every key of the user, newest first.
func (r *APIKeyRepo) ListByUser(ctx context.Context, userID string) ([]domain.APIKey, error) {
	out := []domain.APIKey{}
	r.s.read(func(d *tables) {
		for _, k := range d.keys {
			if k.UserID == userID {
				out = append(out, k)
			}
		}
	})
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// AuditRepo implements ports.AuditRepository. Audit writes are outside any
// ledger transaction.
type AuditRepo struct{ s *Store }

func (r *AuditRepo) Create(ctx context.Context, entry *domain.AuditLog) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.checkFault("audit_logs.create"); err != nil {
		return err
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	r.s.data.audits = append(r.s.data.audits, *entry)
	return nil
}

// Entries returns a copy of the recorded audit entries.
func (r *AuditRepo) Entries() []domain.AuditLog {
	var out []domain.AuditLog
	r.s.read(func(d *tables) {
		out = append(out, d.audits...)
	})
	return out
}

var (
	_ ports.UserRepository        = (*UserRepo)(nil)
	_ ports.WalletRepository      = (*WalletRepo)(nil)
	_ ports.TransactionRepository = (*TransactionRepo)(nil)
	_ ports.APIKeyRepository      = (*APIKeyRepo)(nil)
	_ ports.AuditRepository       = (*AuditRepo)(nil)
	_ ports.DBTransactor          = (*Store)(nil)
	_ ports.HealthChecker         = (*Store)(nil)
)
