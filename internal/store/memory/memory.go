// internal/store/memory/memory.go
package memory

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-memdb"

	"bookrental/internal/domain"
	"bookrental/internal/store"
)

// row is the unit stored in go-memdb. Value is never mutated after insert.
type row struct {
	Key   string
	Value domain.Entity
}

const indexID = "id"

// FaultFunc is consulted before every write; a non-nil result aborts the
// write as a storage fault.
type FaultFunc func(op, table string) error

// DB is an in-memory store.DB backed by go-memdb. Units of work are
// go-memdb write transactions, which are serialized, so conditional stock
// updates are atomic with respect to each other.
type DB struct {
	view
	mem *memdb.MemDB
	now func() time.Time

	mu    sync.RWMutex
	fault FaultFunc

	// eventSeq hands out order event ids; aborted units of work leave gaps.
	eventSeq atomic.Int64

	books     *table[*domain.Book]
	customers *table[*domain.Customer]
	genres    *table[*domain.Genre]
	orders    *table[*domain.RentalOrder]
	details   *table[*domain.RentalOrderDetail]
}

// Option configures a DB.
type Option func(*DB)

// WithClock replaces time.Now for audit timestamps.
func WithClock(now func() time.Time) Option {
	return func(db *DB) { db.now = now }
}

// New creates an empty in-memory database.
func New(opts ...Option) (*DB, error) {
	db := &DB{now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(db)
	}
	db.books = booksTable()
	db.customers = customersTable()
	db.genres = genresTable()
	db.orders = ordersTable()
	db.details = detailsTable()

	schema := &memdb.DBSchema{Tables: map[string]*memdb.TableSchema{}}
	for _, name := range []string{
		store.BooksTable.Name, store.CustomersTable.Name, store.GenresTable.Name,
		store.OrdersTable.Name, store.DetailsTable.Name,
	} {
		schema.Tables[name] = &memdb.TableSchema{
			Name: name,
			Indexes: map[string]*memdb.IndexSchema{
				indexID: {Name: indexID, Unique: true, Indexer: &memdb.StringFieldIndex{Field: "Key"}},
			},
		}
	}
	schema.Tables[tableOrderEvents] = &memdb.TableSchema{
		Name: tableOrderEvents,
		Indexes: map[string]*memdb.IndexSchema{
			indexID:    {Name: indexID, Unique: true, Indexer: &memdb.StringFieldIndex{Field: "Key"}},
			indexOrder: {Name: indexOrder, Indexer: &memdb.StringFieldIndex{Field: "OrderID"}},
		},
	}
	mem, err := memdb.NewMemDB(schema)
	if err != nil {
		return nil, fmt.Errorf("failed to create memdb: %w", err)
	}
	db.mem = mem
	db.view = view{db: db}
	return db, nil
}

// InjectFault installs (or with nil, removes) a write fault hook.
func (db *DB) InjectFault(f FaultFunc) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.fault = f
}

func (db *DB) checkFault(op, table string) error {
	db.mu.RLock()
	f := db.fault
	db.mu.RUnlock()
	if f == nil {
		return nil
	}
	return store.Fault(op, f(op, table))
}

// InTx runs fn inside one go-memdb write transaction. The non-transactional
// methods of db must not be called from fn; use tx instead.
func (db *DB) InTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return store.Fault("begin", err)
	}
	txn := db.mem.Txn(true)
	done := false
	defer func() {
		if !done {
			txn.Abort()
		}
	}()

	if err := fn(ctx, view{db: db, txn: txn}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return store.Fault("commit", err)
	}
	txn.Commit()
	done = true
	return nil
}

func (db *DB) Ping(ctx context.Context) error {
	return store.Fault("ping", ctx.Err())
}

func (db *DB) Close() error { return nil }

// view binds repositories to a transaction, or to none for autocommit.
type view struct {
	db  *DB
	txn *memdb.Txn
}

func (v view) Books() store.Repository[*domain.Book] {
	return &repo[*domain.Book]{db: v.db, t: v.db.books, txn: v.txn}
}

func (v view) Customers() store.Repository[*domain.Customer] {
	return &repo[*domain.Customer]{db: v.db, t: v.db.customers, txn: v.txn}
}

func (v view) Genres() store.Repository[*domain.Genre] {
	return &repo[*domain.Genre]{db: v.db, t: v.db.genres, txn: v.txn}
}

func (v view) Orders() store.Repository[*domain.RentalOrder] {
	return &repo[*domain.RentalOrder]{db: v.db, t: v.db.orders, txn: v.txn}
}

func (v view) Details() store.Repository[*domain.RentalOrderDetail] {
	return &repo[*domain.RentalOrderDetail]{db: v.db, t: v.db.details, txn: v.txn}
}

func (v view) Ledger() store.Ledger {
	return &ledger{books: &repo[*domain.Book]{db: v.db, t: v.db.books, txn: v.txn}}
}

func (v view) History() store.History {
	return &history{v: v}
}

func (v view) read(fn func(txn *memdb.Txn) error) error {
	if v.txn != nil {
		return fn(v.txn)
	}
	txn := v.db.mem.Txn(false)
	defer txn.Abort()
	return fn(txn)
}

func (v view) write(fn func(txn *memdb.Txn) error) error {
	if v.txn != nil {
		return fn(v.txn)
	}
	txn := v.db.mem.Txn(true)
	if err := fn(txn); err != nil {
		txn.Abort()
		return err
	}
	txn.Commit()
	return nil
}
