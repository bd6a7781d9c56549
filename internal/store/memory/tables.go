// internal/store/memory/tables.go
package memory

import (
	"strings"

	"bookrental/internal/domain"
	"bookrental/internal/store"
)

// unique mirrors a unique constraint of the relational schema.
type unique[T domain.Entity] struct {
	what string
	// key returns the constrained value; ok=false means the constraint
	// does not apply (NULL column).
	key func(T) (string, bool)
	// activeOnly limits the constraint to records that are not soft-deleted.
	activeOnly bool
}

// reference is a foreign key held by another table.
type reference struct {
	table  string
	column string
}

type table[T domain.Entity] struct {
	meta    store.Table
	uniques []unique[T]
	// restrictedBy blocks hard deletes while referencing rows exist.
	restrictedBy []reference
	// cascades lists child rows removed together with a hard delete.
	cascades []reference
	// preserve copies columns that Update must not overwrite from the
	// stored record onto the incoming one.
	preserve func(stored, next T)
}

func booksTable() *table[*domain.Book] {
	return &table[*domain.Book]{
		meta: store.BooksTable,
		uniques: []unique[*domain.Book]{{
			what: "isbn",
			key: func(b *domain.Book) (string, bool) {
				if b.ISBN == nil {
					return "", false
				}
				return *b.ISBN, true
			},
		}},
		restrictedBy: []reference{{table: store.DetailsTable.Name, column: "book_id"}},
		// Stock and availability are written only through the ledger.
		preserve: func(stored, next *domain.Book) {
			next.Stock = stored.Stock
			next.Available = stored.Available
			next.AvailabilityOverride = stored.AvailabilityOverride
		},
	}
}

func customersTable() *table[*domain.Customer] {
	return &table[*domain.Customer]{
		meta: store.CustomersTable,
		uniques: []unique[*domain.Customer]{
			{what: "email", key: func(c *domain.Customer) (string, bool) { return strings.ToLower(c.Email), true }},
			{what: "dni", key: func(c *domain.Customer) (string, bool) { return c.DNI, true }},
		},
		restrictedBy: []reference{{table: store.OrdersTable.Name, column: "customer_id"}},
	}
}

func genresTable() *table[*domain.Genre] {
	return &table[*domain.Genre]{
		meta: store.GenresTable,
		uniques: []unique[*domain.Genre]{
			{what: "name", key: func(g *domain.Genre) (string, bool) { return g.Name, true }},
		},
		restrictedBy: []reference{{table: store.BooksTable.Name, column: "genre_id"}},
	}
}

func ordersTable() *table[*domain.RentalOrder] {
	return &table[*domain.RentalOrder]{
		meta: store.OrdersTable,
		uniques: []unique[*domain.RentalOrder]{
			{what: "order number", key: func(o *domain.RentalOrder) (string, bool) { return o.OrderNumber, true }},
		},
		cascades: []reference{{table: store.DetailsTable.Name, column: "order_id"}},
	}
}

func detailsTable() *table[*domain.RentalOrderDetail] {
	return &table[*domain.RentalOrderDetail]{
		meta: store.DetailsTable,
		uniques: []unique[*domain.RentalOrderDetail]{{
			what: "book in order",
			key: func(d *domain.RentalOrderDetail) (string, bool) {
				return d.OrderID.String() + "/" + d.BookID.String(), true
			},
			activeOnly: true,
		}},
	}
}
