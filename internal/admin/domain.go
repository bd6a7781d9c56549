// internal/admin/domain.go
package admin

import (
	"github.com/google/uuid"

	"bookrental/internal/domain"
	"bookrental/internal/query"
)

// EntityType names a restorable record kind.
type EntityType string

const (
	EntityBook     EntityType = "book"
	EntityCustomer EntityType = "customer"
	EntityGenre    EntityType = "genre"
	EntityOrder    EntityType = "order"

	// EntityOrderDetail is counted and listed but restored only through
	// its order.
	EntityOrderDetail EntityType = "order_detail"
)

// Per-item failure messages.
const (
	MsgNotFound   = "not found"
	MsgNotDeleted = "not deleted"
	MsgStorage    = "storage unavailable"
)

// BulkRestoreRequest lists the ids to restore per entity type.
type BulkRestoreRequest struct {
	BookIDs     []uuid.UUID `json:"book_ids"`
	CustomerIDs []uuid.UUID `json:"customer_ids"`
	GenreIDs    []uuid.UUID `json:"genre_ids"`
	OrderIDs    []uuid.UUID `json:"order_ids"`
}

// Empty reports whether the request names no ids at all.
func (r BulkRestoreRequest) Empty() bool {
	return len(r.BookIDs)+len(r.CustomerIDs)+len(r.GenreIDs)+len(r.OrderIDs) == 0
}

// RestoreResult is the outcome for one id.
type RestoreResult struct {
	EntityType EntityType `json:"entity_type"`
	ID         uuid.UUID  `json:"id"`
	Success    bool       `json:"success"`
	Error      string     `json:"error,omitempty"`
}

// BulkRestoreResult collects per-id results in request order: books,
// customers, genres, then orders.
type BulkRestoreResult struct {
	Results  []RestoreResult `json:"results"`
	Restored int             `json:"restored"`
	Failed   int             `json:"failed"`
}

// EntityCounts summarises the lifecycle of one entity type.
type EntityCounts struct {
	EntityType EntityType `json:"entity_type"`
	Total      int64      `json:"total"`
	Active     int64      `json:"active"`
	Deleted    int64      `json:"deleted"`
}

// DeletedEntities is one page of soft-deleted records per entity type.
type DeletedEntities struct {
	Books     query.Result[*domain.Book]              `json:"books"`
	Customers query.Result[*domain.Customer]          `json:"customers"`
	Genres    query.Result[*domain.Genre]             `json:"genres"`
	Orders    query.Result[*domain.RentalOrder]       `json:"orders"`
	Details   query.Result[*domain.RentalOrderDetail] `json:"order_details"`
}
