// Package memory is an in-process implementation of the repositories used by
// the service and HTTP tests.
//
// Transactions are fully serialized: Begin blocks until no other transaction
// is open, and Rollback restores the state captured at Begin. Reads outside a
// transaction are not isolated from an open transaction. Audit entries are
// written outside transactions and survive a rollback.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"custodial-wallet/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	errNoTx        = errors.New("memory: operation requires an open transaction")
	errUnsupported = errors.New("memory: raw SQL is not supported")
)

type tables struct {
	users   map[string]domain.User
	wallets map[uuid.UUID]domain.Wallet
	txs     map[uuid.UUID]domain.Transaction
	txOrder []uuid.UUID
	keys    map[uuid.UUID]domain.APIKey
	audits  []domain.AuditLog
}

func newTables() tables {
	return tables{
		users:   make(map[string]domain.User),
		wallets: make(map[uuid.UUID]domain.Wallet),
		txs:     make(map[uuid.UUID]domain.Transaction),
		keys:    make(map[uuid.UUID]domain.APIKey),
	}
}

func (t tables) clone() tables {
	c := tables{
		users:   make(map[string]domain.User, len(t.users)),
		wallets: make(map[uuid.UUID]domain.Wallet, len(t.wallets)),
		txs:     make(map[uuid.UUID]domain.Transaction, len(t.txs)),
		txOrder: append([]uuid.UUID(nil), t.txOrder...),
		keys:    make(map[uuid.UUID]domain.APIKey, len(t.keys)),
		audits:  append([]domain.AuditLog(nil), t.audits...),
	}
	for k, v := range t.users {
		c.users[k] = v
	}
	for k, v := range t.wallets {
		c.wallets[k] = v
	}
	for k, v := range t.txs {
		c.txs[k] = v
	}
	for k, v := range t.keys {
		c.keys[k] = v
	}
	return c
}

// Store holds every table and hands out repositories over them.
type Store struct {
	sem chan struct{} // held from Begin to Commit/Rollback

	mu    sync.RWMutex
	data  tables
	fault func(op string) error
}

// New creates an empty store.
func New() *Store {
	return &Store{
		sem:  make(chan struct{}, 1),
		data: newTables(),
	}
}

// SetFault installs a hook consulted before every write. A non-nil error
// from the hook aborts that write, which lets tests fail an operation
// halfway through.
func (s *Store) SetFault(f func(op string) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fault = f
}

func (s *Store) checkFault(op string) error {
	if s.fault == nil {
		return nil
	}
	return s.fault(op)
}

// Begin implements ports.DBTransactor.
func (s *Store) Begin(ctx context.Context) (pgx.Tx, error) {
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	s.mu.RLock()
	snapshot := s.data.clone()
	s.mu.RUnlock()

	return &memTx{store: s, snapshot: snapshot}, nil
}

// Ping implements ports.HealthChecker.
func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Name implements ports.HealthChecker.
func (s *Store) Name() string {
	return "memory"
}

func (s *Store) Users() *UserRepo               { return &UserRepo{s: s} }
func (s *Store) Wallets() *WalletRepo           { return &WalletRepo{s: s} }
func (s *Store) Transactions() *TransactionRepo { return &TransactionRepo{s: s} }
func (s *Store) APIKeys() *APIKeyRepo           { return &APIKeyRepo{s: s} }
func (s *Store) Audit() *AuditRepo              { return &AuditRepo{s: s} }

// write runs fn under the data lock after checking tx belongs to this store
// and is still open.
func (s *Store) write(tx pgx.Tx, op string, fn func(d *tables) error) error {
	if err := s.own(tx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkFault(op); err != nil {
		return err
	}
	return fn(&s.data)
}

// read runs fn under the shared data lock.
func (s *Store) read(fn func(d *tables)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(&s.data)
}

func (s *Store) own(tx pgx.Tx) error {
	mt, ok := tx.(*memTx)
	if !ok || mt == nil || mt.store != s {
		return errNoTx
	}
	mt.mu.Lock()
	defer mt.mu.Unlock()
	if mt.done {
		return pgx.ErrTxClosed
	}
	return nil
}

// memTx implements pgx.Tx over the store.
type memTx struct {
	store    *Store
	snapshot tables

	mu   sync.Mutex
	done bool
}

func (t *memTx) finish(restore bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	if restore {
		t.store.mu.Lock()
		audits := t.store.data.audits
		t.store.data = t.snapshot
		t.store.data.audits = audits
		t.store.mu.Unlock()
	}
	<-t.store.sem
	return nil
}

func (t *memTx) Commit(ctx context.Context) error {
	return t.finish(false)
}

func (t *memTx) Rollback(ctx context.Context) error {
	err := t.finish(true)
	if errors.Is(err, pgx.ErrTxClosed) {
		// Rollback after Commit is the deferred-cleanup path; ignore it.
		return nil
	}
	return err
}

func (t *memTx) Begin(ctx context.Context) (pgx.Tx, error) {
	return nil, fmt.Errorf("memory: nested transactions: %w", errUnsupported)
}

func (t *memTx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	return 0, errUnsupported
}
func (t *memTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults { return nil }
func (t *memTx) LargeObjects() pgx.LargeObjects                               { return pgx.LargeObjects{} }
func (t *memTx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	return nil, errUnsupported
}
func (t *memTx) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	return pgconn.NewCommandTag(""), errUnsupported
}
func (t *memTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, errUnsupported
}
func (t *memTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return errRow{}
}
func (t *memTx) Conn() *pgx.Conn { return nil }

type errRow struct{}

func (errRow) Scan(dest ...any) error { return errUnsupported }
