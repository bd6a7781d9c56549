// internal/store/postgres/postgres.go
package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // dialect registration
	_ "github.com/jackc/pgx/v5/stdlib"                 // "pgx" driver
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // "postgres" driver
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"bookrental/internal/domain"
	"bookrental/internal/store"
)

//go:embed schema.sql
var schemaSQL string

var dialect = goqu.Dialect("postgres")

const (
	DriverLibPQ = "postgres"
	DriverPGX   = "pgx"

	defaultMaxTries = 10
)

// DB is a store.DB backed by PostgreSQL. Units of work run at SERIALIZABLE
// isolation, so read-then-write paths never lose updates; conflicting
// transactions fail with 40001 and are rerun.
type DB struct {
	view
	x         *sqlx.DB
	logger    *zap.Logger
	tracer    trace.Tracer
	breaker   *gobreaker.CircuitBreaker
	now       func() time.Time
	maxTries  uint
	isolation sql.IsolationLevel
}

// Option configures a DB.
type Option func(*DB) error

// WithLogger sets the logger; SQL statements are logged at debug level.
func WithLogger(logger *zap.Logger) Option {
	return func(db *DB) error {
		if logger == nil {
			return errors.New("nil logger")
		}
		db.logger = logger
		return nil
	}
}

// WithClock replaces time.Now for audit timestamps.
func WithClock(now func() time.Time) Option {
	return func(db *DB) error {
		db.now = now
		return nil
	}
}

// WithMaxTries bounds how often a unit of work is attempted when it loses
// a serialization or deadlock race.
func WithMaxTries(n uint) Option {
	return func(db *DB) error {
		if n == 0 {
			return errors.New("max tries must be positive")
		}
		db.maxTries = n
		return nil
	}
}

// WithBreaker replaces the circuit breaker settings guarding units of work.
func WithBreaker(settings gobreaker.Settings) Option {
	return func(db *DB) error {
		if settings.IsSuccessful == nil {
			settings.IsSuccessful = breakerSuccess
		}
		db.breaker = gobreaker.NewCircuitBreaker(settings)
		return nil
	}
}

// WithMaxOpenConns sizes the connection pool.
func WithMaxOpenConns(n int) Option {
	return func(db *DB) error {
		if n < 1 {
			return fmt.Errorf("max open connections must be positive, got %d", n)
		}
		db.x.SetMaxOpenConns(n)
		db.x.SetMaxIdleConns(n / 2)
		db.x.SetConnMaxLifetime(30 * time.Minute)
		return nil
	}
}

// Open connects with the named driver (DriverLibPQ or DriverPGX).
func Open(ctx context.Context, driver, dsn string, opts ...Option) (*DB, error) {
	x, err := sqlx.ConnectContext(ctx, driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	db, err := New(x, opts...)
	if err != nil {
		x.Close()
		return nil, err
	}
	return db, nil
}

// New wraps an existing connection pool.
func New(x *sqlx.DB, opts ...Option) (*DB, error) {
	if x == nil {
		return nil, errors.New("nil database connection")
	}
	db := &DB{
		x:         x,
		logger:    zap.NewNop(),
		tracer:    otel.Tracer("bookrental/store/postgres"),
		now:       func() time.Time { return time.Now().UTC() },
		maxTries:  defaultMaxTries,
		isolation: sql.LevelSerializable,
	}
	db.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:         "postgres",
		Timeout:      30 * time.Second,
		IsSuccessful: breakerSuccess,
	})
	for _, opt := range opts {
		if err := opt(db); err != nil {
			return nil, err
		}
	}
	db.view = view{db: db, run: autoRunner{db: db}}
	return db, nil
}

// breakerSuccess counts everything except infrastructure faults as success;
// domain outcomes, serialization conflicts and the caller's own
// cancellation do not trip the breaker.
func breakerSuccess(err error) bool {
	return err == nil || !errors.Is(err, store.ErrStorage) || store.IsTimeout(err) || retryable(err)
}

// retryBackOff paces reruns after serialization conflicts and deadlocks.
func retryBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Millisecond
	b.MaxInterval = 250 * time.Millisecond
	return b
}

// EnsureSchema creates the tables and indexes when they are missing.
func (db *DB) EnsureSchema(ctx context.Context) error {
	if _, err := db.x.ExecContext(ctx, schemaSQL); err != nil {
		return store.Fault("ensure schema", err)
	}
	return nil
}

func (db *DB) Ping(ctx context.Context) error {
	return store.Fault("ping", db.x.PingContext(ctx))
}

func (db *DB) Close() error {
	return db.x.Close()
}

// InTx runs fn in a database transaction. Serialization failures and
// deadlocks rerun fn from the start with exponential backoff, so fn must
// not keep state across attempts.
func (db *DB) InTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	ctx, span := db.tracer.Start(ctx, "store.tx")
	defer span.End()

	attempts := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempts++
		_, err := db.breaker.Execute(func() (interface{}, error) {
			return nil, db.once(ctx, fn)
		})
		switch {
		case err == nil:
			return struct{}{}, nil
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			return struct{}{}, backoff.Permanent(store.Fault("circuit breaker", err))
		case retryable(err):
			db.logger.Warn("retrying transaction", zap.Int("attempt", attempts), zap.Error(err))
			return struct{}{}, err
		default:
			return struct{}{}, backoff.Permanent(err)
		}
	}, backoff.WithBackOff(retryBackOff()), backoff.WithMaxTries(db.maxTries))

	span.SetAttributes(attribute.Int("tx.attempts", attempts))
	if err != nil && errors.Is(err, store.ErrStorage) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	if err != nil && retryable(err) {
		return store.Fault("transaction", err)
	}
	return err
}

func (db *DB) once(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	tx, err := db.x.BeginTxx(ctx, &sql.TxOptions{Isolation: db.isolation})
	if err != nil {
		return store.Fault("begin transaction", err)
	}
	defer tx.Rollback()

	if err := fn(ctx, view{db: db, run: txRunner{tx: tx}}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return classify("commit transaction", err)
	}
	return nil
}

// runner hands repositories the executor of their unit of work.
type runner interface {
	ext(ctx context.Context) (sqlx.ExtContext, error)
}

// autoRunner executes each statement on its own, guarded by the breaker.
type autoRunner struct{ db *DB }

func (r autoRunner) ext(ctx context.Context) (sqlx.ExtContext, error) {
	if err := ctx.Err(); err != nil {
		return nil, store.Fault("acquire connection", err)
	}
	if r.db.breaker.State() == gobreaker.StateOpen {
		return nil, store.Fault("circuit breaker", gobreaker.ErrOpenState)
	}
	return r.db.x, nil
}

type txRunner struct{ tx *sqlx.Tx }

func (r txRunner) ext(ctx context.Context) (sqlx.ExtContext, error) {
	if err := ctx.Err(); err != nil {
		return nil, store.Fault("transaction", err)
	}
	return r.tx, nil
}

type view struct {
	db  *DB
	run runner
}

func (v view) Books() store.Repository[*domain.Book] {
	return &repo[*domain.Book]{db: v.db, run: v.run, t: booksTable}
}

func (v view) Customers() store.Repository[*domain.Customer] {
	return &repo[*domain.Customer]{db: v.db, run: v.run, t: customersTable}
}

func (v view) Genres() store.Repository[*domain.Genre] {
	return &repo[*domain.Genre]{db: v.db, run: v.run, t: genresTable}
}

func (v view) Orders() store.Repository[*domain.RentalOrder] {
	return &repo[*domain.RentalOrder]{db: v.db, run: v.run, t: ordersTable}
}

func (v view) Details() store.Repository[*domain.RentalOrderDetail] {
	return &repo[*domain.RentalOrderDetail]{db: v.db, run: v.run, t: detailsTable}
}

func (v view) Ledger() store.Ledger {
	return &ledger{books: &repo[*domain.Book]{db: v.db, run: v.run, t: booksTable}}
}

func (v view) History() store.History {
	return &history{db: v.db, run: v.run}
}
