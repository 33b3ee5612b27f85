package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"custodial-wallet/internal/core/domain"
	"custodial-wallet/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockPool(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock
}

func beginTx(t *testing.T, mock pgxmock.PgxPoolIface) pgx.Tx {
	t.Helper()
	mock.ExpectBegin()
	tx, err := mock.Begin(context.Background())
	require.NoError(t, err)
	return tx
}

func ts() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// ==================== Users ====================

func TestUserRepo_CreateIfAbsent(t *testing.T) {
	mock := newMockPool(t)
	repo := NewUserRepo(mock)
	tx := beginTx(t, mock)
	u := &domain.User{ID: "google-1", Email: "a@example.com", Name: "A", CreatedAt: ts()}

	mock.ExpectExec("INSERT INTO users .+ ON CONFLICT \\(id\\) DO NOTHING").
		WithArgs(u.ID, u.Email, u.Name, u.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO users").
		WithArgs(u.ID, u.Email, u.Name, u.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	created, err := repo.CreateIfAbsent(context.Background(), tx, u)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = repo.CreateIfAbsent(context.Background(), tx, u)
	require.NoError(t, err)
	assert.False(t, created)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepo_CreateIfAbsent_DuplicateEmail(t *testing.T) {
	mock := newMockPool(t)
	repo := NewUserRepo(mock)
	tx := beginTx(t, mock)
	u := &domain.User{ID: "google-2", Email: "a@example.com", CreatedAt: ts()}

	mock.ExpectExec("INSERT INTO users").
		WithArgs(u.ID, u.Email, u.Name, u.CreatedAt).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "users_email_key"})

	_, err := repo.CreateIfAbsent(context.Background(), tx, u)
	assert.ErrorIs(t, err, ports.ErrDuplicateEmail)
}

func TestUserRepo_GetByID_NotFound(t *testing.T) {
	mock := newMockPool(t)
	repo := NewUserRepo(mock)

	mock.ExpectQuery("SELECT .+ FROM users WHERE id").
		WithArgs("nobody").
		WillReturnError(pgx.ErrNoRows)

	u, err := repo.GetByID(context.Background(), "nobody")
	assert.NoError(t, err)
	assert.Nil(t, u)
}

func TestUserRepo_GetByIDForUpdate(t *testing.T) {
	mock := newMockPool(t)
	repo := NewUserRepo(mock)
	tx := beginTx(t, mock)
	now := ts()

	mock.ExpectQuery("SELECT .+ FROM users WHERE id = \\$1 FOR UPDATE").
		WithArgs("google-1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "email", "name", "created_at"}).
			AddRow("google-1", "a@example.com", "A", now))

	u, err := repo.GetByIDForUpdate(context.Background(), tx, "google-1")
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", u.Email)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ==================== Wallets ====================

func newTestWallet() *domain.Wallet {
	return &domain.Wallet{
		ID:           uuid.New(),
		UserID:       "google-1",
		WalletNumber: "a1b2c3d4e5f6",
		Balance:      12500,
		CreatedAt:    ts(),
		UpdatedAt:    ts(),
	}
}

func walletRow(w *domain.Wallet) *pgxmock.Rows {
	return pgxmock.NewRows([]string{"id", "user_id", "wallet_number", "balance", "created_at", "updated_at"}).
		AddRow(w.ID, w.UserID, w.WalletNumber, w.Balance, w.CreatedAt, w.UpdatedAt)
}

func TestWalletRepo_Create(t *testing.T) {
	mock := newMockPool(t)
	repo := NewWalletRepo(mock)
	tx := beginTx(t, mock)
	w := newTestWallet()

	mock.ExpectExec("INSERT INTO wallets").
		WithArgs(w.ID, w.UserID, w.WalletNumber, w.Balance, w.CreatedAt, w.UpdatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	assert.NoError(t, repo.Create(context.Background(), tx, w))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWalletRepo_Lookups(t *testing.T) {
	mock := newMockPool(t)
	repo := NewWalletRepo(mock)
	w := newTestWallet()
	ctx := context.Background()

	mock.ExpectQuery("SELECT .+ FROM wallets WHERE id").WithArgs(w.ID).WillReturnRows(walletRow(w))
	mock.ExpectQuery("SELECT .+ FROM wallets WHERE user_id").WithArgs(w.UserID).WillReturnRows(walletRow(w))
	mock.ExpectQuery("SELECT .+ FROM wallets WHERE wallet_number").WithArgs(w.WalletNumber).WillReturnRows(walletRow(w))
	mock.ExpectQuery("SELECT .+ FROM wallets WHERE wallet_number").WithArgs("missing").WillReturnError(pgx.ErrNoRows)

	got, err := repo.GetByID(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, w.Balance, got.Balance)

	got, err = repo.GetByUserID(ctx, w.UserID)
	require.NoError(t, err)
	assert.Equal(t, w.ID, got.ID)

	got, err = repo.GetByNumber(ctx, w.WalletNumber)
	require.NoError(t, err)
	assert.Equal(t, w.UserID, got.UserID)

	got, err = repo.GetByNumber(ctx, "missing")
	assert.NoError(t, err)
	assert.Nil(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWalletRepo_GetByIDForUpdate(t *testing.T) {
	mock := newMockPool(t)
	repo := NewWalletRepo(mock)
	tx := beginTx(t, mock)
	w := newTestWallet()

	mock.ExpectQuery("SELECT .+ FROM wallets WHERE id = \\$1 FOR UPDATE").
		WithArgs(w.ID).
		WillReturnRows(walletRow(w))

	got, err := repo.GetByIDForUpdate(context.Background(), tx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, w.Balance, got.Balance)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWalletRepo_UpdateBalance(t *testing.T) {
	mock := newMockPool(t)
	repo := NewWalletRepo(mock)
	tx := beginTx(t, mock)
	id := uuid.New()

	mock.ExpectExec("UPDATE wallets SET balance").
		WithArgs(int64(900), id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE wallets SET balance").
		WithArgs(int64(900), id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	assert.NoError(t, repo.UpdateBalance(context.Background(), tx, id, 900))
	assert.Error(t, repo.UpdateBalance(context.Background(), tx, id, 900))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ==================== Transactions ====================

func transactionRow(txns ...*domain.Transaction) *pgxmock.Rows {
	rows := pgxmock.NewRows([]string{
		"id", "wallet_id", "type", "amount", "status", "reference", "recipient_wallet_id", "created_at", "updated_at",
	})
	for _, t := range txns {
		rows.AddRow(t.ID, t.WalletID, t.Type, t.Amount, t.Status, t.Reference, t.RecipientWalletID, t.CreatedAt, t.UpdatedAt)
	}
	return rows
}

func newTestDeposit(walletID uuid.UUID, ref string) *domain.Transaction {
	return &domain.Transaction{
		ID:        uuid.New(),
		WalletID:  walletID,
		Type:      domain.TransactionTypeDeposit,
		Amount:    5000,
		Status:    domain.TransactionStatusPending,
		Reference: &ref,
		CreatedAt: ts(),
		UpdatedAt: ts(),
	}
}

func TestTransactionRepo_Create(t *testing.T) {
	mock := newMockPool(t)
	repo := NewTransactionRepo(mock)
	tx := beginTx(t, mock)
	txn := newTestDeposit(uuid.New(), "txn_1")

	mock.ExpectExec("INSERT INTO transactions").
		WithArgs(txn.ID, txn.WalletID, txn.Type, txn.Amount, txn.Status,
			txn.Reference, txn.RecipientWalletID, txn.CreatedAt, txn.UpdatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	assert.NoError(t, repo.Create(context.Background(), tx, txn))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionRepo_GetByReferenceForUpdate(t *testing.T) {
	mock := newMockPool(t)
	repo := NewTransactionRepo(mock)
	tx := beginTx(t, mock)
	txn := newTestDeposit(uuid.New(), "txn_1")

	mock.ExpectQuery("SELECT .+ FROM transactions WHERE reference = \\$1 FOR UPDATE").
		WithArgs("txn_1").
		WillReturnRows(transactionRow(txn))

	got, err := repo.GetByReferenceForUpdate(context.Background(), tx, "txn_1")
	require.NoError(t, err)
	assert.Equal(t, txn.ID, got.ID)
	assert.Equal(t, "txn_1", got.ReferenceValue())
	assert.Equal(t, domain.TransactionStatusPending, got.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionRepo_GetByReference_NotFound(t *testing.T) {
	mock := newMockPool(t)
	repo := NewTransactionRepo(mock)

	mock.ExpectQuery("SELECT .+ FROM transactions WHERE reference").
		WithArgs("txn_unknown").
		WillReturnError(pgx.ErrNoRows)

	got, err := repo.GetByReference(context.Background(), "txn_unknown")
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestTransactionRepo_UpdateStatus_OnlyFromPending(t *testing.T) {
	mock := newMockPool(t)
	repo := NewTransactionRepo(mock)
	tx := beginTx(t, mock)
	id := uuid.New()

	mock.ExpectExec("UPDATE transactions SET status .+ AND status = 'pending'").
		WithArgs(domain.TransactionStatusSuccess, id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE transactions SET status").
		WithArgs(domain.TransactionStatusFailed, id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	ok, err := repo.UpdateStatus(context.Background(), tx, id, domain.TransactionStatusSuccess)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.UpdateStatus(context.Background(), tx, id, domain.TransactionStatusFailed)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionRepo_ListByWallet(t *testing.T) {
	mock := newMockPool(t)
	repo := NewTransactionRepo(mock)
	walletID := uuid.New()
	a := newTestDeposit(walletID, "txn_a")
	b := newTestDeposit(walletID, "txn_b")

	mock.ExpectQuery("SELECT .+ FROM transactions\\s+WHERE wallet_id = \\$1 AND type = \\$2 AND status = \\$3\\s+ORDER BY created_at DESC, id DESC LIMIT \\$4 OFFSET \\$5").
		WithArgs(walletID, domain.TransactionTypeDeposit, domain.TransactionStatusPending, 10, 20).
		WillReturnRows(transactionRow(a, b))

	txns, err := repo.ListByWallet(context.Background(), walletID, domain.TransactionFilter{
		Type:   domain.TransactionTypeDeposit,
		Status: domain.TransactionStatusPending,
		Limit:  10,
		Offset: 20,
	})
	require.NoError(t, err)
	require.Len(t, txns, 2)
	assert.Equal(t, a.ID, txns[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionRepo_ListByWallet_Empty(t *testing.T) {
	mock := newMockPool(t)
	repo := NewTransactionRepo(mock)
	walletID := uuid.New()

	mock.ExpectQuery("SELECT .+ FROM transactions\\s+WHERE wallet_id = \\$1\\s+ORDER BY").
		WithArgs(walletID).
		WillReturnRows(transactionRow())

	txns, err := repo.ListByWallet(context.Background(), walletID, domain.TransactionFilter{})
	require.NoError(t, err)
	assert.NotNil(t, txns)
	assert.Empty(t, txns)
}

// ==================== API keys ====================

func newTestKey() *domain.APIKey {
	return &domain.APIKey{
		ID:          uuid.New(),
		UserID:      "google-1",
		Name:        "ci",
		Prefix:      "sk_live_abcd",
		KeyHash:     "deadbeef",
		Permissions: domain.NewPermissionSet(domain.PermissionRead, domain.PermissionDeposit),
		ExpiresAt:   ts().Add(time.Hour),
		CreatedAt:   ts(),
	}
}

func apiKeyRow(k *domain.APIKey) *pgxmock.Rows {
	return pgxmock.NewRows([]string{
		"id", "user_id", "name", "prefix", "key_hash", "permissions", "expires_at", "revoked", "revoked_at", "created_at",
	}).AddRow(k.ID, k.UserID, k.Name, k.Prefix, k.KeyHash, int16(k.Permissions), k.ExpiresAt, k.Revoked, k.RevokedAt, k.CreatedAt)
}

func TestAPIKeyRepo_Create(t *testing.T) {
	mock := newMockPool(t)
	repo := NewAPIKeyRepo(mock)
	tx := beginTx(t, mock)
	k := newTestKey()

	mock.ExpectExec("INSERT INTO api_keys").
		WithArgs(k.ID, k.UserID, k.Name, k.Prefix, k.KeyHash, int16(5),
			k.ExpiresAt, false, k.RevokedAt, k.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	assert.NoError(t, repo.Create(context.Background(), tx, k))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAPIKeyRepo_GetActiveByHash(t *testing.T) {
	mock := newMockPool(t)
	repo := NewAPIKeyRepo(mock)
	k := newTestKey()
	now := ts()

	mock.ExpectQuery("SELECT .+ FROM api_keys\\s+WHERE key_hash = \\$1 AND NOT revoked AND expires_at > \\$2").
		WithArgs(k.KeyHash, now).
		WillReturnRows(apiKeyRow(k))

	got, err := repo.GetActiveByHash(context.Background(), k.KeyHash, now)
	require.NoError(t, err)
	assert.Equal(t, k.ID, got.ID)
	assert.Equal(t, k.Permissions, got.Permissions)
	assert.True(t, got.Permissions.Has(domain.PermissionDeposit))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAPIKeyRepo_CountActiveAndRevoke(t *testing.T) {
	mock := newMockPool(t)
	repo := NewAPIKeyRepo(mock)
	tx := beginTx(t, mock)
	now := ts()
	id := uuid.New()

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM api_keys").
		WithArgs("google-1", now).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(3))
	mock.ExpectExec("UPDATE api_keys SET revoked = TRUE").
		WithArgs(now, id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE api_keys SET revoked = TRUE").
		WithArgs(now, id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	n, err := repo.CountActive(context.Background(), tx, "google-1", now)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	ok, err := repo.Revoke(context.Background(), tx, id, now)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Revoke(context.Background(), tx, id, now)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAPIKeyRepo_ListByUser(t *testing.T) {
	mock := newMockPool(t)
	repo := NewAPIKeyRepo(mock)
	k := newTestKey()

	mock.ExpectQuery("SELECT .+ FROM api_keys\\s+WHERE user_id = \\$1 ORDER BY created_at DESC").
		WithArgs("google-1").
		WillReturnRows(apiKeyRow(k))

	keys, err := repo.ListByUser(context.Background(), "google-1")
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, "ci", keys[0].Name)
}

// ==================== Audit ====================

func TestAuditRepo_Create(t *testing.T) {
	mock := newMockPool(t)
	repo := NewAuditRepo(mock)
	userID := "google-1"
	entry := &domain.AuditLog{
		ID:           uuid.New(),
		UserID:       &userID,
		Via:          domain.CredentialBearer,
		Action:       domain.AuditActionTransfer,
		ResourceType: "wallet",
		ResourceID:   "a1b2c3d4e5f6",
		IPAddress:    "10.0.0.1",
		CreatedAt:    ts(),
	}

	mock.ExpectExec("INSERT INTO audit_logs").
		WithArgs(entry.ID, entry.UserID, "bearer", "TRANSFER", "wallet", "a1b2c3d4e5f6", nil, "10.0.0.1", entry.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO audit_logs").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(errors.New("connection refused"))

	assert.NoError(t, repo.Create(context.Background(), entry))
	assert.ErrorContains(t, repo.Create(context.Background(), entry), "connection refused")
	assert.NoError(t, mock.ExpectationsWereMet())
}

var (
	_ ports.UserRepository        = (*UserRepo)(nil)
	_ ports.WalletRepository      = (*WalletRepo)(nil)
	_ ports.TransactionRepository = (*TransactionRepo)(nil)
	_ ports.APIKeyRepository      = (*APIKeyRepo)(nil)
	_ ports.AuditRepository       = (*AuditRepo)(nil)
	_ ports.DBTransactor          = (*Transactor)(nil)
)
