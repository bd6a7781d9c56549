// internal/store/store.go
package store

import (
	"context"

	"github.com/google/uuid"

	"bookrental/internal/domain"
	"bookrental/internal/query"
)

// Repository is the lifecycle-aware persistence contract every entity type
// shares. Default reads exclude soft-deleted records; the IncludingDeleted
// variants bypass that filter.
//
// Absent records and unmet preconditions are reported through the boolean
// results. The error result carries a *StorageError for persistence faults,
// or a *domain.Error of kind Conflict when a uniqueness or reference
// constraint rejects the write.
type Repository[T domain.Entity] interface {
	GetAll(ctx context.Context) ([]T, error)
	GetAllIncludingDeleted(ctx context.Context) ([]T, error)
	GetByID(ctx context.Context, id uuid.UUID) (T, bool, error)
	GetByIDIncludingDeleted(ctx context.Context, id uuid.UUID) (T, bool, error)
	Find(ctx context.Context, conds ...query.Cond) ([]T, error)

	// Create stamps the record (id when zero, Active, CreatedAt/UpdatedAt)
	// and persists it.
	Create(ctx context.Context, entity T) error
	// Update overwrites the fields of an existing active record. It never
	// creates; CreatedAt and the lifecycle status are preserved and copied
	// back onto entity. Columns owned by the Ledger (a book's stock and
	// availability) are never written here.
	Update(ctx context.Context, entity T) (bool, error)
	SoftDelete(ctx context.Context, id uuid.UUID) (bool, error)
	Restore(ctx context.Context, id uuid.UUID) (bool, error)
	HardDelete(ctx context.Context, id uuid.UUID) (bool, error)

	Exists(ctx context.Context, id uuid.UUID) (bool, error)
	Count(ctx context.Context) (int64, error)
	CountIncludingDeleted(ctx context.Context) (int64, error)

	Query() Query[T]
	QueryIncludingDeleted() Query[T]
}

// Query is a composable read handle. Handles are immutable; every builder
// method returns a new handle.
type Query[T domain.Entity] interface {
	Where(conds ...query.Cond) Query[T]
	// Search matches term case-insensitively against the table's search columns.
	Search(term string) Query[T]
	// OrderBy sorts by a public sort key; unknown keys fall back to the
	// table's default ordering.
	OrderBy(key string, desc bool) Query[T]
	Limit(offset, limit int) Query[T]
	// Paginate applies search, sort and window from a page request.
	Paginate(p query.Page) Query[T]

	List(ctx context.Context) ([]T, error)
	// Count ignores ordering and window.
	Count(ctx context.Context) (int64, error)
}

// Ledger is the per-book available-copy counter.
type Ledger interface {
	// TryReserve atomically decrements stock when the book is active,
	// available and holds at least quantity copies.
	TryReserve(ctx context.Context, bookID uuid.UUID, quantity int) (domain.ReserveFailure, error)
	// Release increments stock, including on soft-deleted books. It returns
	// false when the book does not exist at all.
	Release(ctx context.Context, bookID uuid.UUID, quantity int) (bool, error)
	// SetAvailability pins the availability flag when override is true, or
	// clears the pin and recomputes it from stock when override is false.
	SetAvailability(ctx context.Context, bookID uuid.UUID, available, override bool) (bool, error)
	// SetStock replaces the copy count of an active book and recomputes
	// availability unless it is pinned. It returns false when the book is
	// absent or deleted.
	SetStock(ctx context.Context, bookID uuid.UUID, stock int) (bool, error)
}

// History is the append-only event log of rental orders. Versions start at
// 1 and are contiguous per order.
type History interface {
	// Append stamps events with the versions following expectedVersion. A
	// different current version fails with ErrVersionConflict.
	Append(ctx context.Context, orderID uuid.UUID, expectedVersion int, events ...domain.OrderEvent) error
	// Load returns the events of an order in version order.
	Load(ctx context.Context, orderID uuid.UUID) ([]domain.OrderEvent, error)
	// Version is the latest version of an order, 0 when it has no events.
	Version(ctx context.Context, orderID uuid.UUID) (int, error)
}

// Tx exposes the repositories bound to one unit of work.
type Tx interface {
	Books() Repository[*domain.Book]
	Customers() Repository[*domain.Customer]
	Genres() Repository[*domain.Genre]
	Orders() Repository[*domain.RentalOrder]
	Details() Repository[*domain.RentalOrderDetail]
	Ledger() Ledger
	History() History
}

// DB is a storage backend. Its own Tx methods run every call in a separate
// unit of work.
type DB interface {
	Tx
	// InTx runs fn in one all-or-nothing unit of work. Any error returned by
	// fn rolls the unit back and is returned unchanged.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Ping(ctx context.Context) error
	Close() error
}
