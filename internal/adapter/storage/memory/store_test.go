package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"custodial-wallet/internal/core/domain"
	"custodial-wallet/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedWallet(t *testing.T, s *Store, userID, number string, balance int64) *domain.Wallet {
	t.Helper()
	ctx := context.Background()
	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	_, err = s.Users().CreateIfAbsent(ctx, tx, &domain.User{ID: userID, Email: userID + "@example.com"})
	require.NoError(t, err)
	w := &domain.Wallet{UserID: userID, WalletNumber: number}
	require.NoError(t, s.Wallets().Create(ctx, tx, w))
	require.NoError(t, s.Wallets().UpdateBalance(ctx, tx, w.ID, balance))
	require.NoError(t, tx.Commit(ctx))
	w.Balance = balance
	return w
}

func TestStore_RollbackRestoresState(t *testing.T) {
	s := New()
	ctx := context.Background()
	w := seedWallet(t, s, "u1", "100000000001", 500)

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, s.Wallets().UpdateBalance(ctx, tx, w.ID, 100))
	require.NoError(t, s.Transactions().Create(ctx, tx, &domain.Transaction{
		WalletID: w.ID, Type: domain.TransactionTypeTransferOut, Amount: 400, Status: domain.TransactionStatusSuccess,
	}))
	require.NoError(t, tx.Rollback(ctx))

	got, err := s.Wallets().GetByID(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(500), got.Balance)

	list, err := s.Transactions().ListByWallet(ctx, w.ID, domain.TransactionFilter{})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestStore_RollbackAfterCommitIsNoop(t *testing.T) {
	s := New()
	ctx := context.Background()
	w := seedWallet(t, s, "u1", "100000000001", 0)

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, s.Wallets().UpdateBalance(ctx, tx, w.ID, 42))
	require.NoError(t, tx.Commit(ctx))
	require.NoError(t, tx.Rollback(ctx))

	got, _ := s.Wallets().GetByID(ctx, w.ID)
	assert.Equal(t, int64(42), got.Balance)
	assert.ErrorIs(t, tx.Commit(ctx), pgx.ErrTxClosed)
}

func TestStore_WritesRequireOpenTx(t *testing.T) {
	s := New()
	ctx := context.Background()
	w := seedWallet(t, s, "u1", "100000000001", 0)

	err := s.Wallets().UpdateBalance(ctx, nil, w.ID, 1)
	assert.ErrorIs(t, err, errNoTx)

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))
	err = s.Wallets().UpdateBalance(ctx, tx, w.ID, 1)
	assert.ErrorIs(t, err, pgx.ErrTxClosed)

	other := New()
	otx, err := other.Begin(ctx)
	require.NoError(t, err)
	defer otx.Rollback(ctx) //nolint:errcheck
	assert.ErrorIs(t, s.Wallets().UpdateBalance(ctx, otx, w.ID, 1), errNoTx)
}

func TestStore_BeginHonoursContext(t *testing.T) {
	s := New()
	tx, err := s.Begin(context.Background())
	require.NoError(t, err)
	defer tx.Rollback(context.Background()) //nolint:errcheck

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = s.Begin(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStore_TransactionsSerialize(t *testing.T) {
	s := New()
	ctx := context.Background()
	w := seedWallet(t, s, "u1", "100000000001", 0)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tx, err := s.Begin(ctx)
			if !assert.NoError(t, err) {
				return
			}
			defer tx.Rollback(ctx) //nolint:errcheck
			cur, _ := s.Wallets().GetByIDForUpdate(ctx, tx, w.ID)
			assert.NoError(t, s.Wallets().UpdateBalance(ctx, tx, w.ID, cur.Balance+1))
			assert.NoError(t, tx.Commit(ctx))
		}()
	}
	wg.Wait()

	got, _ := s.Wallets().GetByID(ctx, w.ID)
	assert.Equal(t, int64(50), got.Balance)
}

func TestStore_FaultInjection(t *testing.T) {
	s := New()
	ctx := context.Background()
	w := seedWallet(t, s, "u1", "100000000001", 10)
	boom := errors.New("boom")
	s.SetFault(func(op string) error {
		if op == "transactions.create" {
			return boom
		}
		return nil
	})

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, s.Wallets().UpdateBalance(ctx, tx, w.ID, 0))
	err = s.Transactions().Create(ctx, tx, &domain.Transaction{WalletID: w.ID, Type: domain.TransactionTypeTransferOut, Amount: 10})
	assert.ErrorIs(t, err, boom)
	require.NoError(t, tx.Rollback(ctx))

	got, _ := s.Wallets().GetByID(ctx, w.ID)
	assert.Equal(t, int64(10), got.Balance)
}

func TestUserRepo_CreateIfAbsent(t *testing.T) {
	s := New()
	ctx := context.Background()
	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback(ctx) //nolint:errcheck

	created, err := s.Users().CreateIfAbsent(ctx, tx, &domain.User{ID: "sub-1", Email: "a@example.com"})
	require.NoError(t, err)
	assert.True(t, created)

	created, err = s.Users().CreateIfAbsent(ctx, tx, &domain.User{ID: "sub-1", Email: "a@example.com"})
	require.NoError(t, err)
	assert.False(t, created)

	_, err = s.Users().CreateIfAbsent(ctx, tx, &domain.User{ID: "sub-2", Email: "A@example.com"})
	assert.ErrorIs(t, err, ports.ErrDuplicateEmail)
}

func TestTransactionRepo_UpdateStatusOnlyFromPending(t *testing.T) {
	s := New()
	ctx := context.Background()
	w := seedWallet(t, s, "u1", "100000000001", 0)
	ref := "txn_abc"

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	txn := &domain.Transaction{WalletID: w.ID, Type: domain.TransactionTypeDeposit, Amount: 500, Status: domain.TransactionStatusPending, Reference: &ref}
	require.NoError(t, s.Transactions().Create(ctx, tx, txn))
	ok, err := s.Transactions().UpdateStatus(ctx, tx, txn.ID, domain.TransactionStatusSuccess)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.Transactions().UpdateStatus(ctx, tx, txn.ID, domain.TransactionStatusFailed)
	require.NoError(t, err)
	assert.False(t, ok)

	dup := &domain.Transaction{WalletID: w.ID, Type: domain.TransactionTypeDeposit, Amount: 1, Status: domain.TransactionStatusPending, Reference: &ref}
	assert.ErrorIs(t, s.Transactions().Create(ctx, tx, dup), errConflict)
	require.NoError(t, tx.Commit(ctx))

	got, err := s.Transactions().GetByReference(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusSuccess, got.Status)

	missing, err := s.Transactions().GetByReference(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestTransactionRepo_ListByWalletFiltersAndPages(t *testing.T) {
	s := New()
	ctx := context.Background()
	w := seedWallet(t, s, "u1", "100000000001", 0)
	other := seedWallet(t, s, "u2", "100000000002", 0)

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	for i := 1; i <= 5; i++ {
		require.NoError(t, s.Transactions().Create(ctx, tx, &domain.Transaction{
			WalletID: w.ID, Type: domain.TransactionTypeTransferIn, Amount: int64(i), Status: domain.TransactionStatusSuccess,
		}))
	}
	require.NoError(t, s.Transactions().Create(ctx, tx, &domain.Transaction{
		WalletID: other.ID, Type: domain.TransactionTypeTransferIn, Amount: 99, Status: domain.TransactionStatusSuccess,
	}))
	require.NoError(t, tx.Commit(ctx))

	list, err := s.Transactions().ListByWallet(ctx, w.ID, domain.TransactionFilter{Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, int64(4), list[0].Amount)
	assert.Equal(t, int64(3), list[1].Amount)

	list, err = s.Transactions().ListByWallet(ctx, w.ID, domain.TransactionFilter{Type: domain.TransactionTypeDeposit})
	require.NoError(t, err)
	assert.NotNil(t, list)
	assert.Empty(t, list)
}

func TestAPIKeyRepo_Lifecycle(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now().UTC()

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	live := &domain.APIKey{UserID: "u1", Name: "live", KeyHash: "h1", Permissions: domain.FullPermissions, ExpiresAt: now.Add(time.Hour), CreatedAt: now}
	expired := &domain.APIKey{UserID: "u1", Name: "old", KeyHash: "h2", Permissions: domain.FullPermissions, ExpiresAt: now.Add(-time.Second), CreatedAt: now.Add(-time.Hour)}
	require.NoError(t, s.APIKeys().Create(ctx, tx, live))
	require.NoError(t, s.APIKeys().Create(ctx, tx, expired))

	n, err := s.APIKeys().CountActive(ctx, tx, "u1", now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	ok, err := s.APIKeys().Revoke(ctx, tx, live.ID, now)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.APIKeys().Revoke(ctx, tx, live.ID, now)
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, tx.Commit(ctx))

	got, err := s.APIKeys().GetActiveByHash(ctx, "h1", now)
	require.NoError(t, err)
	assert.Nil(t, got)

	keys, err := s.APIKeys().ListByUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, keys, 2)
	assert.Equal(t, "live", keys[0].Name)
	assert.True(t, keys[0].Revoked)
}

func TestAuditRepo_SurvivesRollback(t *testing.T) {
	s := New()
	ctx := context.Background()
	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, s.Audit().Create(ctx, &domain.AuditLog{Action: domain.AuditActionTransfer, ResourceID: uuid.NewString()}))
	require.NoError(t, tx.Rollback(ctx))

	assert.Len(t, s.Audit().Entries(), 1)
}
