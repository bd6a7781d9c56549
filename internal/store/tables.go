// internal/store/tables.go
package store

// Table describes the backend-agnostic shape of an entity table.
type Table struct {
	Name string
	// Search lists the text columns matched by Query.Search.
	Search []string
	// Sort maps public sort keys onto columns.
	Sort map[string]string
	// DefaultSort is the column used when no valid sort key is given.
	DefaultSort string
}

// SortColumn resolves a public sort key.
func (t Table) SortColumn(key string) string {
	if col, ok := t.Sort[key]; ok {
		return col
	}
	return t.DefaultSort
}

var commonSort = map[string]string{
	"created_at": "created_at",
	"updated_at": "updated_at",
}

func withCommon(m map[string]string) map[string]string {
	out := make(map[string]string, len(m)+len(commonSort))
	for k, v := range commonSort {
		out[k] = v
	}
	for k, v := range m {
		out[k] = v
	}
	return out
}

var (
	BooksTable = Table{
		Name:        "books",
		Search:      []string{"title", "author", "isbn"},
		Sort:        withCommon(map[string]string{"title": "title", "author": "author", "stock": "stock"}),
		DefaultSort: "created_at",
	}
	CustomersTable = Table{
		Name:        "customers",
		Search:      []string{"name", "email", "dni"},
		Sort:        withCommon(map[string]string{"name": "name", "email": "email", "age": "age"}),
		DefaultSort: "created_at",
	}
	GenresTable = Table{
		Name:        "genres",
		Search:      []string{"name"},
		Sort:        withCommon(map[string]string{"name": "name"}),
		DefaultSort: "name",
	}
	OrdersTable = Table{
		Name:        "rental_orders",
		Search:      []string{"order_number", "notes"},
		Sort:        withCommon(map[string]string{"order_date": "order_date", "due_date": "due_date", "order_number": "order_number", "status": "order_status"}),
		DefaultSort: "order_date",
	}
	DetailsTable = Table{
		Name:        "rental_order_details",
		Search:      []string{"notes"},
		Sort:        withCommon(map[string]string{"due_date": "due_date"}),
		DefaultSort: "created_at",
	}
)
