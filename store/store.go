// Package store persists user state, bandit posteriors, sessions and the
// content graph. Store is the SQL implementation (sqlite3 or postgres);
// Memory is an in-process equivalent.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/iqrahapp/iqrah-mobile-sub001/domain"
)

// Supported driver names.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// DefaultBatchSize bounds the number of ids bound into one IN clause.
const DefaultBatchSize = 500

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries runs every statement against q, which is either the pool or an
// open transaction.
type queries struct {
	q         querier
	sb        sq.StatementBuilderType
	batchSize int
	logger    zerolog.Logger
}

// Store is the SQL-backed repository and content source.
type Store struct {
	*queries
	db     *sql.DB
	driver string
}

// Option customises a Store.
type Option func(*Store)

// WithBatchSize overrides DefaultBatchSize.
func WithBatchSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// New wraps an open database. driver selects the placeholder format.
func New(db *sql.DB, driver string, logger zerolog.Logger, opts ...Option) (*Store, error) {
	sb := sq.StatementBuilder
	switch driver {
	case DriverSQLite:
	case DriverPostgres:
		sb = sb.PlaceholderFormat(sq.Dollar)
	default:
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}
	logger = logger.With().Str("component", "store").Str("driver", driver).Logger()
	s := &Store{
		queries: &queries{q: db, sb: sb, batchSize: DefaultBatchSize, logger: logger},
		db:      db,
		driver:  driver,
	}
	for _, opt := range opts {
		opt(s)
	}
	logger.Info().Int("batch_size", s.batchSize).Msg("Initialized store")
	return s, nil
}

// Open opens and pings a database, then wraps it with New.
func Open(ctx context.Context, driver, dsn string, logger zerolog.Logger, opts ...Option) (*Store, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close() //nolint:errcheck // Already failing
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	return New(db, driver, logger, opts...)
}

// DB returns the underlying pool.
func (s *Store) DB() *sql.DB { return s.db }

// Driver returns the driver name the store was created with.
func (s *Store) Driver() string { return s.driver }

// Close closes the underlying pool.
func (s *Store) Close() error { return s.db.Close() }

// RunInTx implements domain.Transactor.
func (s *Store) RunInTx(ctx context.Context, fn func(tx domain.Repository) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify("RunInTx.begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&queries{q: tx, sb: s.sb, batchSize: s.batchSize, logger: s.logger}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return classify("RunInTx.commit", err)
	}
	return nil
}

// ApplyPropagation runs the batch in its own transaction when called outside RunInTx.
func (s *Store) ApplyPropagation(ctx context.Context, userID string, updates []domain.EnergyUpdate, event domain.PropagationEvent) (int64, error) {
	var id int64
	err := s.RunInTx(ctx, func(tx domain.Repository) error {
		var err error
		id, err = tx.ApplyPropagation(ctx, userID, updates, event)
		return err
	})
	return id, err
}

// classify wraps a driver error as a Repository error, marking lock and
// serialization conflicts retryable.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) && (liteErr.Code == sqlite3.ErrBusy || liteErr.Code == sqlite3.ErrLocked) {
		return domain.RetryableStorageError(op, err)
	}
	var pgErr *pq.Error
	if errors.As(err, &pgErr) && (pgErr.Code == "40001" || pgErr.Code == "40P01") {
		return domain.RetryableStorageError(op, err)
	}
	return domain.StorageError(op, err)
}

func (r *queries) exec(ctx context.Context, op string, b sq.Sqlizer) (sql.Result, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, domain.StorageError(op, fmt.Errorf("build query: %w", err))
	}
	res, err := r.q.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.Error().Err(err).Str("op", op).Msg("Statement failed")
		return nil, classify(op, err)
	}
	return res, nil
}

func (r *queries) query(ctx context.Context, op string, b sq.Sqlizer) (*sql.Rows, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, domain.StorageError(op, fmt.Errorf("build query: %w", err))
	}
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error().Err(err).Str("op", op).Msg("Query failed")
		return nil, classify(op, err)
	}
	return rows, nil
}

func (r *queries) queryRow(ctx context.Context, op string, b sq.Sqlizer) (*sql.Row, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, domain.StorageError(op, fmt.Errorf("build query: %w", err))
	}
	return r.q.QueryRowContext(ctx, query, args...), nil
}

// toMillis stores the zero time as 0.
func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

var (
	_ domain.ContentSource = (*Store)(nil)
	_ domain.Repository    = (*Store)(nil)
	_ domain.Transactor    = (*Store)(nil)
	_ domain.Repository    = (*queries)(nil)
)
