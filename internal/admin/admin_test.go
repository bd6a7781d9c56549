package admin

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"bookrental/internal/circulation"
	"bookrental/internal/domain"
	"bookrental/internal/query"
	"bookrental/internal/store"
	"bookrental/internal/store/memory"
	"bookrental/internal/store/storetest"
)

type fixture struct {
	ctx   context.Context
	db    *memory.DB
	circ  circulation.Service
	admin Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	var (
		mu  sync.Mutex
		now = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	)
	tick := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	}
	db, err := memory.New(memory.WithClock(tick))
	require.NoError(t, err)
	circ := circulation.NewService(db)
	return &fixture{ctx: context.Background(), db: db, circ: circ, admin: NewService(db, circ, nil)}
}

func (f *fixture) deletedBook(t *testing.T, stock int) *domain.Book {
	t.Helper()
	b := storetest.NewBook("Deleted", stock)
	require.NoError(t, f.db.Books().Create(f.ctx, b))
	ok, err := f.db.Books().SoftDelete(f.ctx, b.ID)
	require.NoError(t, err)
	require.True(t, ok)
	return b
}

func TestBulkRestore(t *testing.T) {
	f := newFixture(t)

	deletedBook := f.deletedBook(t, 1)
	activeBook := storetest.NewBook("Active", 1)
	require.NoError(t, f.db.Books().Create(f.ctx, activeBook))

	customer := storetest.NewCustomer("reader")
	require.NoError(t, f.db.Customers().Create(f.ctx, customer))
	_, err := f.db.Customers().SoftDelete(f.ctx, customer.ID)
	require.NoError(t, err)

	genre := &domain.Genre{Name: "Essays"}
	require.NoError(t, f.db.Genres().Create(f.ctx, genre))
	_, err = f.db.Genres().SoftDelete(f.ctx, genre.ID)
	require.NoError(t, err)

	missing := uuid.New()
	res, err := f.admin.BulkRestore(f.ctx, BulkRestoreRequest{
		BookIDs:     []uuid.UUID{deletedBook.ID, activeBook.ID, missing},
		CustomerIDs: []uuid.UUID{customer.ID},
		GenreIDs:    []uuid.UUID{genre.ID},
		OrderIDs:    []uuid.UUID{missing},
	})
	require.NoError(t, err)
	assert.Equal(t, []RestoreResult{
		{EntityType: EntityBook, ID: deletedBook.ID, Success: true},
		{EntityType: EntityBook, ID: activeBook.ID, Error: MsgNotDeleted},
		{EntityType: EntityBook, ID: missing, Error: MsgNotFound},
		{EntityType: EntityCustomer, ID: customer.ID, Success: true},
		{EntityType: EntityGenre, ID: genre.ID, Success: true},
		{EntityType: EntityOrder, ID: missing, Error: MsgNotFound},
	}, res.Results)
	assert.Equal(t, 3, res.Restored)
	assert.Equal(t, 3, res.Failed)

	for _, id := range []uuid.UUID{deletedBook.ID, activeBook.ID} {
		_, ok, err := f.db.Books().GetByID(f.ctx, id)
		require.NoError(t, err)
		assert.True(t, ok)
	}

	again, err := f.admin.BulkRestore(f.ctx, BulkRestoreRequest{BookIDs: []uuid.UUID{deletedBook.ID}})
	require.NoError(t, err)
	assert.Equal(t, MsgNotDeleted, again.Results[0].Error, "restore is idempotent")
}

func TestBulkRestoreOrders(t *testing.T) {
	f := newFixture(t)
	customer := storetest.NewCustomer("reader")
	require.NoError(t, f.db.Customers().Create(f.ctx, customer))
	book := storetest.NewBook("Kindred", 2)
	require.NoError(t, f.db.Books().Create(f.ctx, book))

	booking, err := f.circ.CreateOrder(f.ctx, circulation.CreateOrderRequest{
		CustomerID: customer.ID,
		BookIDs:    []uuid.UUID{book.ID},
		RentalDays: 7,
	})
	require.NoError(t, err)
	require.True(t, booking.Success)
	out, err := f.circ.DeleteOrder(f.ctx, booking.OrderID)
	require.NoError(t, err)
	require.True(t, out.Success)

	res, err := f.admin.BulkRestore(f.ctx, BulkRestoreRequest{OrderIDs: []uuid.UUID{booking.OrderID}})
	require.NoError(t, err)
	require.Len(t, res.Results, 1)
	assert.True(t, res.Results[0].Success, res.Results[0].Error)

	order, ok, err := f.circ.GetOrder(f.ctx, booking.OrderID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, order.Details, 1, "line items come back with the order")
	b, _, err := f.db.Books().GetByID(f.ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, b.Stock, "the restored order holds its copy again")
}

func TestBulkRestoreOrderWithItsBook(t *testing.T) {
	for i := 0; i < 50; i++ {
		f := newFixture(t)
		customer := storetest.NewCustomer("reader")
		require.NoError(t, f.db.Customers().Create(f.ctx, customer))
		book := storetest.NewBook("Kindred", 1)
		require.NoError(t, f.db.Books().Create(f.ctx, book))

		booking, err := f.circ.CreateOrder(f.ctx, circulation.CreateOrderRequest{
			CustomerID: customer.ID,
			BookIDs:    []uuid.UUID{book.ID},
			RentalDays: 7,
		})
		require.NoError(t, err)
		require.True(t, booking.Success)
		out, err := f.circ.DeleteOrder(f.ctx, booking.OrderID)
		require.NoError(t, err)
		require.True(t, out.Success)
		ok, err := f.db.Books().SoftDelete(f.ctx, book.ID)
		require.NoError(t, err)
		require.True(t, ok)

		res, err := f.admin.BulkRestore(f.ctx, BulkRestoreRequest{
			BookIDs:  []uuid.UUID{book.ID},
			OrderIDs: []uuid.UUID{booking.OrderID},
		})
		require.NoError(t, err)
		require.Equal(t, []RestoreResult{
			{EntityType: EntityBook, ID: book.ID, Success: true},
			{EntityType: EntityOrder, ID: booking.OrderID, Success: true},
		}, res.Results)

		b, _, err := f.db.Books().GetByID(f.ctx, book.ID)
		require.NoError(t, err)
		require.Equal(t, 0, b.Stock, "the restored order holds the restored copy")
	}
}

type faultyOrders struct{ err error }

func (o faultyOrders) RestoreOrder(context.Context, uuid.UUID) (circulation.Outcome, error) {
	return circulation.Outcome{}, o.err
}

func TestBulkRestoreAggregatesFaults(t *testing.T) {
	f := newFixture(t)
	fault := store.Fault("restore", errors.New("connection reset"))
	svc := NewService(f.db, faultyOrders{err: fault}, nil)
	book := f.deletedBook(t, 1)

	res, err := svc.BulkRestore(f.ctx, BulkRestoreRequest{
		BookIDs:  []uuid.UUID{book.ID},
		OrderIDs: []uuid.UUID{uuid.New(), uuid.New()},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrStorage)
	assert.Len(t, multierr.Errors(err), 2)

	require.Len(t, res.Results, 3)
	assert.True(t, res.Results[0].Success, "siblings of a faulted id still run")
	assert.Equal(t, MsgStorage, res.Results[1].Error)
	assert.Equal(t, MsgStorage, res.Results[2].Error)
}

func TestDeletedSummaryAndEntities(t *testing.T) {
	f := newFixture(t)
	first := f.deletedBook(t, 0)
	f.deletedBook(t, 0)
	require.NoError(t, f.db.Books().Create(f.ctx, storetest.NewBook("Active", 1)))
	genre := &domain.Genre{Name: "Poetry"}
	require.NoError(t, f.db.Genres().Create(f.ctx, genre))

	summary, err := f.admin.DeletedSummary(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, []EntityCounts{
		{EntityType: EntityBook, Total: 3, Active: 1, Deleted: 2},
		{EntityType: EntityCustomer},
		{EntityType: EntityGenre, Total: 1, Active: 1},
		{EntityType: EntityOrder},
		{EntityType: EntityOrderDetail},
	}, summary)

	page, err := f.admin.DeletedEntities(f.ctx, query.Page{Size: 1, SortBy: "created_at"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, page.Books.Total)
	assert.Equal(t, 2, page.Books.TotalPages)
	require.Len(t, page.Books.Items, 1)
	assert.Equal(t, first.ID, page.Books.Items[0].ID)
	assert.Equal(t, domain.StatusDeleted, page.Books.Items[0].Status)
	assert.Empty(t, page.Genres.Items)
	assert.NotNil(t, page.Orders.Items)
	assert.NotNil(t, page.Details.Items)
}

func TestDeletedSummaryCountsLineItems(t *testing.T) {
	f := newFixture(t)
	customer := storetest.NewCustomer("reader")
	require.NoError(t, f.db.Customers().Create(f.ctx, customer))
	books := []uuid.UUID{}
	for _, title := range []string{"Kindred", "Dawn"} {
		b := storetest.NewBook(title, 1)
		require.NoError(t, f.db.Books().Create(f.ctx, b))
		books = append(books, b.ID)
	}
	first, err := f.circ.CreateOrder(f.ctx, circulation.CreateOrderRequest{CustomerID: customer.ID, BookIDs: books, RentalDays: 7})
	require.NoError(t, err)
	require.True(t, first.Success)
	out, err := f.circ.DeleteOrder(f.ctx, first.OrderID)
	require.NoError(t, err)
	require.True(t, out.Success)
	second, err := f.circ.CreateOrder(f.ctx, circulation.CreateOrderRequest{CustomerID: customer.ID, BookIDs: books[:1], RentalDays: 7})
	require.NoError(t, err)
	require.True(t, second.Success)

	summary, err := f.admin.DeletedSummary(f.ctx)
	require.NoError(t, err)
	require.Len(t, summary, 5)
	assert.Equal(t, EntityCounts{EntityType: EntityOrder, Total: 2, Active: 1, Deleted: 1}, summary[3])
	assert.Equal(t, EntityCounts{EntityType: EntityOrderDetail, Total: 3, Active: 1, Deleted: 2}, summary[4])

	page, err := f.admin.DeletedEntities(f.ctx, query.Page{Size: 10})
	require.NoError(t, err)
	assert.EqualValues(t, 2, page.Details.Total)
	for _, d := range page.Details.Items {
		assert.Equal(t, first.OrderID, d.OrderID)
	}
}

func TestHandler(t *testing.T) {
	f := newFixture(t)
	book := f.deletedBook(t, 1)
	r := chi.NewRouter()
	r.Route("/admin", NewHandler(f.admin).Routes)

	do := func(method, path, body string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader(body)))
		return rec
	}

	rec := do(http.MethodPost, "/admin/restore", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(http.MethodPost, "/admin/restore", `{"book_ids":["`+book.ID.String()+`"]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"restored":1`)

	rec = do(http.MethodGet, "/admin/deleted/summary", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"entity_type":"book"`)

	rec = do(http.MethodGet, "/admin/deleted?page_size=5", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"page_size":5`)
}
