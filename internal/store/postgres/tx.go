package postgres

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/leadlink/internal/store"
)

var _ store.Store = (*Store)(nil)

// querier is the statement surface shared by the pool and an open transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// beginner is a querier that can open transactions, satisfied by *pgxpool.Pool.
type beginner interface {
	querier
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store implements store.Store using PostgreSQL as the backend.
// Lead resolution is a single upsert on the dedup key, merges lock rows with SELECT ... FOR UPDATE.
type Store struct {
	db   beginner
	pool *pgxpool.Pool
	cfg  *StoreConfig
	orgs *OrganizationStore

	// Lifecycle
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewStore creates a new PostgreSQL-backed store on a shared connection pool.
func NewStore(pool *pgxpool.Pool, cfg *StoreConfig) *Store {
	s := newStore(pool, cfg)
	s.pool = pool
	return s
}

func newStore(db beginner, cfg *StoreConfig) *Store {
	if cfg == nil {
		cfg = &StoreConfig{}
	}
	cfg.ApplyDefaults()

	return &Store{
		db:     db,
		cfg:    cfg,
		orgs:   NewOrganizationStore(db),
		stopCh: make(chan struct{}),
	}
}

// Start starts background tasks.
func (s *Store) Start() error {
	if s.pool == nil {
		return nil
	}

	log.Info().Msg("Starting PostgreSQL lead store")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.monitorConnectionPool()
	}()

	return nil
}

// Stop waits for background tasks and closes the connection pool.
func (s *Store) Stop() error {
	log.Info().Msg("Stopping PostgreSQL lead store")

	close(s.stopCh)
	s.wg.Wait()

	if s.pool != nil {
		s.pool.Close()
	}

	log.Info().Msg("PostgreSQL lead store stopped")
	return nil
}

// monitorConnectionPool logs connection pool statistics periodically.
func (s *Store) monitorConnectionPool() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			stats := s.pool.Stat()
			log.Debug().
				Int32("total_conns", stats.TotalConns()).
				Int32("idle_conns", stats.IdleConns()).
				Int32("acquired_conns", stats.AcquiredConns()).
				Int64("acquire_count", stats.AcquireCount()).
				Int64("acquire_duration_ns", stats.AcquireDuration().Nanoseconds()).
				Msg("Connection pool stats")
		case <-s.stopCh:
			return
		}
	}
}

// Organizations returns the organization store.
func (s *Store) Organizations() store.OrganizationStore { return s.orgs }

// Leads returns a lead store running each call as its own statement, retried on conflict.
func (s *Store) Leads() store.LeadStore {
	return &leadStore{db: s.db, retry: &s.cfg.Retry}
}

// Ledger returns a ledger running each call as its own statement.
func (s *Store) Ledger() store.Ledger {
	return &ledger{db: s.db, historyLimit: s.cfg.HistoryLimit}
}

// WithinTx runs fn in a READ COMMITTED transaction. Row locks taken through the merge store
// are held until fn returns.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return mapPostgresError(fmt.Errorf("failed to begin transaction: %w", err))
	}

	if err := fn(ctx, &pgTx{tx: tx, historyLimit: s.cfg.HistoryLimit}); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			log.Warn().Err(rbErr).Msg("Failed to roll back transaction")
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return mapPostgresError(fmt.Errorf("failed to commit transaction: %w", err))
	}

	return nil
}

type pgTx struct {
	tx           pgx.Tx
	historyLimit int
}

func (t *pgTx) Leads() store.LeadStore   { return &leadStore{db: t.tx} }
func (t *pgTx) Ledger() store.Ledger     { return &ledger{db: t.tx, historyLimit: t.historyLimit} }
func (t *pgTx) Merges() store.MergeStore { return &mergeStore{db: t.tx} }
