// internal/store/storetest/storetest.go

// Package storetest holds the behavioural contract every store.DB backend
// must satisfy, run by each backend's own tests.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bookrental/internal/domain"
	"bookrental/internal/query"
	"bookrental/internal/store"
)

// Factory returns an empty database for one test.
type Factory func(t *testing.T) store.DB

// NewBook builds an unsaved book with the given stock.
func NewBook(title string, stock int) *domain.Book {
	b := &domain.Book{Title: title, Author: "Author of " + title, Stock: stock}
	b.RecomputeAvailability()
	return b
}

// NewCustomer builds an unsaved customer with unique email and dni.
func NewCustomer(name string) *domain.Customer {
	tag := uuid.NewString()[:8]
	return &domain.Customer{
		Name:  name,
		Email: fmt.Sprintf("%s-%s@example.com", name, tag),
		DNI:   "DNI-" + tag,
		Age:   30,
	}
}

// Run executes the whole contract against backend.
func Run(t *testing.T, newDB Factory) {
	t.Run("CreateStampsRecord", func(t *testing.T) { testCreateStampsRecord(t, newDB(t)) })
	t.Run("UpdateNeverCreates", func(t *testing.T) { testUpdateNeverCreates(t, newDB(t)) })
	t.Run("UpdatePreservesCreatedAt", func(t *testing.T) { testUpdatePreservesCreatedAt(t, newDB(t)) })
	t.Run("SoftDeleteIdempotence", func(t *testing.T) { testSoftDeleteIdempotence(t, newDB(t)) })
	t.Run("RestoreRoundTrip", func(t *testing.T) { testRestoreRoundTrip(t, newDB(t)) })
	t.Run("RestoreActiveIsNoop", func(t *testing.T) { testRestoreActiveIsNoop(t, newDB(t)) })
	t.Run("DefaultExclusion", func(t *testing.T) { testDefaultExclusion(t, newDB(t)) })
	t.Run("HardDelete", func(t *testing.T) { testHardDelete(t, newDB(t)) })
	t.Run("HardDeleteRestricted", func(t *testing.T) { testHardDeleteRestricted(t, newDB(t)) })
	t.Run("Uniqueness", func(t *testing.T) { testUniqueness(t, newDB(t)) })
	t.Run("DetailUniqueness", func(t *testing.T) { testDetailUniqueness(t, newDB(t)) })
	t.Run("QuerySearchSortPaginate", func(t *testing.T) { testQuery(t, newDB(t)) })
	t.Run("FindConditions", func(t *testing.T) { testFind(t, newDB(t)) })
	t.Run("LedgerReserveRelease", func(t *testing.T) { testLedger(t, newDB(t)) })
	t.Run("LedgerReleaseDeletedBook", func(t *testing.T) { testReleaseDeletedBook(t, newDB(t)) })
	t.Run("LedgerOverride", func(t *testing.T) { testOverride(t, newDB(t)) })
	t.Run("ConcurrentReservationRace", func(t *testing.T) { testConcurrentReservation(t, newDB(t)) })
	t.Run("UpdateKeepsLedgerColumns", func(t *testing.T) { testUpdateKeepsLedgerColumns(t, newDB(t)) })
	t.Run("LedgerSetStock", func(t *testing.T) { testSetStock(t, newDB(t)) })
	t.Run("ConcurrentEditAndReservation", func(t *testing.T) { testConcurrentEditAndReservation(t, newDB(t)) })
	t.Run("HistoryAppendLoad", func(t *testing.T) { testHistory(t, newDB(t)) })
	t.Run("HistoryVersionConflict", func(t *testing.T) { testHistoryVersionConflict(t, newDB(t)) })
	t.Run("TxRollback", func(t *testing.T) { testTxRollback(t, newDB(t)) })
	t.Run("CanceledContext", func(t *testing.T) { testCanceledContext(t, newDB(t)) })
}

func testCreateStampsRecord(t *testing.T, db store.DB) {
	ctx := context.Background()
	b := NewBook("Dune", 2)
	require.NoError(t, db.Books().Create(ctx, b))

	assert.NotEqual(t, uuid.Nil, b.ID)
	assert.Equal(t, domain.StatusActive, b.Status)
	assert.False(t, b.CreatedAt.IsZero())
	assert.Equal(t, b.CreatedAt, b.UpdatedAt)

	got, ok, err := db.Books().GetByID(ctx, b.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Dune", got.Title)
	assert.Equal(t, 2, got.Stock)
	assert.True(t, got.Available)
}

func testUpdateNeverCreates(t *testing.T, db store.DB) {
	ctx := context.Background()
	b := NewBook("Ghost", 1)
	b.ID = uuid.New()

	ok, err := db.Books().Update(ctx, b)
	require.NoError(t, err)
	assert.False(t, ok)

	exists, err := db.Books().Exists(ctx, b.ID)
	require.NoError(t, err)
	assert.False(t, exists)
}

func testUpdatePreservesCreatedAt(t *testing.T, db store.DB) {
	ctx := context.Background()
	b := NewBook("Emma", 1)
	require.NoError(t, db.Books().Create(ctx, b))
	created := b.CreatedAt

	b.Title = "Emma (annotated)"
	b.CreatedAt = created.Add(-48 * time.Hour)
	b.Status = domain.StatusDeleted
	ok, err := db.Books().Update(ctx, b)
	require.NoError(t, err)
	require.True(t, ok)

	got, ok, err := db.Books().GetByID(ctx, b.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Emma (annotated)", got.Title)
	assert.True(t, got.CreatedAt.Equal(created), "created_at must be preserved")
	assert.Equal(t, domain.StatusActive, got.Status)
	assert.False(t, got.UpdatedAt.Before(created))
}

func testSoftDeleteIdempotence(t *testing.T, db store.DB) {
	ctx := context.Background()
	g := &domain.Genre{Name: "Poetry"}
	require.NoError(t, db.Genres().Create(ctx, g))

	first, err := db.Genres().SoftDelete(ctx, g.ID)
	require.NoError(t, err)
	second, err := db.Genres().SoftDelete(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, []bool{true, false}, []bool{first, second})

	missing, err := db.Genres().SoftDelete(ctx, uuid.New())
	require.NoError(t, err)
	assert.False(t, missing)
}

func testRestoreRoundTrip(t *testing.T, db store.DB) {
	ctx := context.Background()
	c := NewCustomer("ada")
	require.NoError(t, db.Customers().Create(ctx, c))

	ok, err := db.Customers().SoftDelete(ctx, c.ID)
	require.NoError(t, err)
	require.True(t, ok)

	all, err := db.Customers().GetAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)

	ok, err = db.Customers().Restore(ctx, c.ID)
	require.NoError(t, err)
	require.True(t, ok)

	all, err = db.Customers().GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	got := all[0]
	assert.Equal(t, domain.StatusActive, got.Status)
	assert.Equal(t, c.Email, got.Email)
	assert.Equal(t, c.DNI, got.DNI)
	assert.Equal(t, c.Name, got.Name)
	assert.Equal(t, c.Age, got.Age)
	assert.True(t, got.CreatedAt.Equal(c.CreatedAt))
}

func testRestoreActiveIsNoop(t *testing.T, db store.DB) {
	ctx := context.Background()
	b := NewBook("Persuasion", 3)
	require.NoError(t, db.Books().Create(ctx, b))
	before, _, err := db.Books().GetByID(ctx, b.ID)
	require.NoError(t, err)

	ok, err := db.Books().Restore(ctx, b.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	after, _, err := db.Books().GetByID(ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, before.UpdatedAt.Equal(after.UpdatedAt))

	ok, err = db.Books().Restore(ctx, uuid.New())
	require.NoError(t, err)
	assert.False(t, ok)
}

func testDefaultExclusion(t *testing.T, db store.DB) {
	ctx := context.Background()
	keep := NewBook("Kept", 1)
	gone := NewBook("Gone", 1)
	require.NoError(t, db.Books().Create(ctx, keep))
	require.NoError(t, db.Books().Create(ctx, gone))
	_, err := db.Books().SoftDelete(ctx, gone.ID)
	require.NoError(t, err)

	_, ok, err := db.Books().GetByID(ctx, gone.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	got, ok, err := db.Books().GetByIDIncludingDeleted(ctx, gone.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.StatusDeleted, got.Status)

	active, err := db.Books().GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 1)
	all, err := db.Books().GetAllIncludingDeleted(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	n, err := db.Books().Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	n, err = db.Books().CountIncludingDeleted(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	found, err := db.Books().Find(ctx, query.Eq("title", "Gone"))
	require.NoError(t, err)
	assert.Empty(t, found)

	exists, err := db.Books().Exists(ctx, gone.ID)
	require.NoError(t, err)
	assert.False(t, exists)

	ok, err = db.Books().Update(ctx, gone)
	require.NoError(t, err)
	assert.False(t, ok, "update must not touch a deleted record")
}

func testHardDelete(t *testing.T, db store.DB) {
	ctx := context.Background()
	g := &domain.Genre{Name: "Drama"}
	require.NoError(t, db.Genres().Create(ctx, g))
	_, err := db.Genres().SoftDelete(ctx, g.ID)
	require.NoError(t, err)

	ok, err := db.Genres().HardDelete(ctx, g.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	_, ok, err = db.Genres().GetByIDIncludingDeleted(ctx, g.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = db.Genres().HardDelete(ctx, g.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func testHardDeleteRestricted(t *testing.T, db store.DB) {
	ctx := context.Background()
	c := NewCustomer("grace")
	require.NoError(t, db.Customers().Create(ctx, c))
	b := NewBook("Ulysses", 1)
	require.NoError(t, db.Books().Create(ctx, b))
	order := newOrder(c.ID, "ORD-RESTRICT-1")
	require.NoError(t, db.Orders().Create(ctx, order))
	require.NoError(t, db.Details().Create(ctx, newDetail(order, b.ID)))

	_, err := db.Customers().HardDelete(ctx, c.ID)
	assert.True(t, domain.IsKind(err, domain.KindConflict), "got %v", err)
	_, err = db.Books().HardDelete(ctx, b.ID)
	assert.True(t, domain.IsKind(err, domain.KindConflict), "got %v", err)

	// Removing the order cascades to its line items and frees the book.
	ok, err := db.Orders().HardDelete(ctx, order.ID)
	require.NoError(t, err)
	require.True(t, ok)
	n, err := db.Details().CountIncludingDeleted(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	ok, err = db.Books().HardDelete(ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func testUniqueness(t *testing.T, db store.DB) {
	ctx := context.Background()
	isbn := "978-0-00-000000-1"
	first := NewBook("First", 1)
	first.ISBN = &isbn
	require.NoError(t, db.Books().Create(ctx, first))

	dup := NewBook("Second", 1)
	dup.ISBN = &isbn
	err := db.Books().Create(ctx, dup)
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindConflict), "got %v", err)
	assert.False(t, errors.Is(err, store.ErrStorage))

	c := NewCustomer("linus")
	require.NoError(t, db.Customers().Create(ctx, c))
	other := NewCustomer("linus")
	other.Email = c.Email
	err = db.Customers().Create(ctx, other)
	assert.True(t, domain.IsKind(err, domain.KindConflict), "got %v", err)

	// Books without an ISBN never collide.
	require.NoError(t, db.Books().Create(ctx, NewBook("No ISBN 1", 1)))
	require.NoError(t, db.Books().Create(ctx, NewBook("No ISBN 2", 1)))
}

func testDetailUniqueness(t *testing.T, db store.DB) {
	ctx := context.Background()
	c := NewCustomer("ken")
	require.NoError(t, db.Customers().Create(ctx, c))
	b := NewBook("Hamlet", 2)
	require.NoError(t, db.Books().Create(ctx, b))
	order := newOrder(c.ID, "ORD-UNIQUE-1")
	require.NoError(t, db.Orders().Create(ctx, order))

	first := newDetail(order, b.ID)
	require.NoError(t, db.Details().Create(ctx, first))
	err := db.Details().Create(ctx, newDetail(order, b.ID))
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindConflict), "got %v", err)

	// Once the first line item is soft-deleted the pair is free again.
	_, err = db.Details().SoftDelete(ctx, first.ID)
	require.NoError(t, err)
	require.NoError(t, db.Details().Create(ctx, newDetail(order, b.ID)))
}

func testQuery(t *testing.T, db store.DB) {
	ctx := context.Background()
	for i, title := range []string{"Alpha", "beta", "Gamma", "Delta", "alphabet soup"} {
		b := NewBook(title, i)
		require.NoError(t, db.Books().Create(ctx, b))
	}
	hidden := NewBook("Alpha hidden", 1)
	require.NoError(t, db.Books().Create(ctx, hidden))
	_, err := db.Books().SoftDelete(ctx, hidden.ID)
	require.NoError(t, err)

	q := db.Books().Query().Search("ALPHA")
	n, err := q.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	n, err = db.Books().QueryIncludingDeleted().Search("alpha").Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	sorted, err := db.Books().Query().OrderBy("stock", true).List(ctx)
	require.NoError(t, err)
	require.Len(t, sorted, 5)
	assert.Equal(t, "alphabet soup", sorted[0].Title)
	assert.Equal(t, "Alpha", sorted[4].Title)

	page, err := db.Books().Query().Paginate(query.Page{Number: 2, Size: 2, SortBy: "stock"}).List(ctx)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "Gamma", page[0].Title)
	assert.Equal(t, "Delta", page[1].Title)

	// Unknown sort keys fall back to the default ordering instead of failing.
	_, err = db.Books().Query().OrderBy("title; DROP TABLE books", false).List(ctx)
	require.NoError(t, err)

	// Wildcards in search terms are literal.
	n, err = db.Books().Query().Search("%").Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func testFind(t *testing.T, db store.DB) {
	ctx := context.Background()
	g := &domain.Genre{Name: "Sci-Fi"}
	require.NoError(t, db.Genres().Create(ctx, g))
	withGenre := NewBook("Foundation", 4)
	withGenre.GenreID = &g.ID
	require.NoError(t, db.Books().Create(ctx, withGenre))
	require.NoError(t, db.Books().Create(ctx, NewBook("Loose", 0)))

	found, err := db.Books().Find(ctx, query.Eq("genre_id", g.ID))
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, withGenre.ID, found[0].ID)

	found, err = db.Books().Find(ctx, query.Eq("genre_id", nil))
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "Loose", found[0].Title)

	found, err = db.Books().Find(ctx, query.Gt("stock", 0), query.Eq("available", true))
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "Foundation", found[0].Title)
}

func testLedger(t *testing.T, db store.DB) {
	ctx := context.Background()
	b := NewBook("Middlemarch", 2)
	require.NoError(t, db.Books().Create(ctx, b))
	ledger := db.Ledger()

	for i := 0; i < 2; i++ {
		reason, err := ledger.TryReserve(ctx, b.ID, 1)
		require.NoError(t, err)
		require.Equal(t, domain.ReserveOK, reason)
	}
	reason, err := ledger.TryReserve(ctx, b.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.ReserveOutOfStock, reason)

	got := mustBook(t, db, b.ID)
	assert.Equal(t, 0, got.Stock)
	assert.False(t, got.Available)

	ok, err := ledger.Release(ctx, b.ID, 1)
	require.NoError(t, err)
	require.True(t, ok)
	got = mustBook(t, db, b.ID)
	assert.Equal(t, 1, got.Stock)
	assert.True(t, got.Available)

	reason, err = ledger.TryReserve(ctx, uuid.New(), 1)
	require.NoError(t, err)
	assert.Equal(t, domain.ReserveNotFound, reason)

	ok, err = ledger.Release(ctx, uuid.New(), 1)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = ledger.TryReserve(ctx, b.ID, 0)
	assert.True(t, domain.IsKind(err, domain.KindValidation))
}

func testReleaseDeletedBook(t *testing.T, db store.DB) {
	ctx := context.Background()
	b := NewBook("Beloved", 1)
	require.NoError(t, db.Books().Create(ctx, b))
	reason, err := db.Ledger().TryReserve(ctx, b.ID, 1)
	require.NoError(t, err)
	require.Equal(t, domain.ReserveOK, reason)
	_, err = db.Books().SoftDelete(ctx, b.ID)
	require.NoError(t, err)

	reason, err = db.Ledger().TryReserve(ctx, b.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.ReserveNotFound, reason)

	ok, err := db.Ledger().Release(ctx, b.ID, 1)
	require.NoError(t, err)
	assert.True(t, ok)
	got, _, err := db.Books().GetByIDIncludingDeleted(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Stock)
	assert.Equal(t, domain.StatusDeleted, got.Status)
}

func testOverride(t *testing.T, db store.DB) {
	ctx := context.Background()
	b := NewBook("Nostromo", 3)
	require.NoError(t, db.Books().Create(ctx, b))

	ok, err := db.Ledger().SetAvailability(ctx, b.ID, false, true)
	require.NoError(t, err)
	require.True(t, ok)

	reason, err := db.Ledger().TryReserve(ctx, b.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.ReserveUnavailable, reason)

	// A pinned flag survives stock changes.
	_, err = db.Ledger().Release(ctx, b.ID, 1)
	require.NoError(t, err)
	got := mustBook(t, db, b.ID)
	assert.Equal(t, 4, got.Stock)
	assert.False(t, got.Available)

	ok, err = db.Ledger().SetAvailability(ctx, b.ID, false, false)
	require.NoError(t, err)
	require.True(t, ok)
	got = mustBook(t, db, b.ID)
	assert.True(t, got.Available)
	assert.False(t, got.AvailabilityOverride)
}

func testConcurrentReservation(t *testing.T, db store.DB) {
	ctx := context.Background()
	b := NewBook("Last Copy", 1)
	require.NoError(t, db.Books().Create(ctx, b))

	var wg sync.WaitGroup
	reasons := make([]domain.ReserveFailure, 2)
	errs := make([]error, 2)
	for i := range reasons {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			reasons[i], errs[i] = db.Ledger().TryReserve(ctx, b.ID, 1)
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.ElementsMatch(t, []domain.ReserveFailure{domain.ReserveOK, domain.ReserveOutOfStock}, reasons)
	assert.Equal(t, 0, mustBook(t, db, b.ID).Stock)
}

func testUpdateKeepsLedgerColumns(t *testing.T, db store.DB) {
	ctx := context.Background()
	b := NewBook("Stale Copy", 2)
	require.NoError(t, db.Books().Create(ctx, b))

	stale := mustBook(t, db, b.ID)
	reason, err := db.Ledger().TryReserve(ctx, b.ID, 2)
	require.NoError(t, err)
	require.Equal(t, domain.ReserveOK, reason)

	stale.Title = "Stale Copy, Revised"
	ok, err := db.Books().Update(ctx, stale)
	require.NoError(t, err)
	require.True(t, ok)

	got := mustBook(t, db, b.ID)
	assert.Equal(t, "Stale Copy, Revised", got.Title)
	assert.Equal(t, 0, got.Stock)
	assert.False(t, got.Available)
	assert.Equal(t, 0, stale.Stock, "stored ledger columns are copied back")
}

func testSetStock(t *testing.T, db store.DB) {
	ctx := context.Background()
	b := NewBook("Restocked", 0)
	require.NoError(t, db.Books().Create(ctx, b))

	ok, err := db.Ledger().SetStock(ctx, b.ID, 4)
	require.NoError(t, err)
	require.True(t, ok)
	got := mustBook(t, db, b.ID)
	assert.Equal(t, 4, got.Stock)
	assert.True(t, got.Available)

	_, err = db.Ledger().SetAvailability(ctx, b.ID, false, true)
	require.NoError(t, err)
	ok, err = db.Ledger().SetStock(ctx, b.ID, 6)
	require.NoError(t, err)
	require.True(t, ok)
	got = mustBook(t, db, b.ID)
	assert.Equal(t, 6, got.Stock)
	assert.False(t, got.Available, "a pinned flag survives a stock change")

	_, err = db.Ledger().SetStock(ctx, b.ID, -1)
	assert.True(t, domain.IsKind(err, domain.KindValidation))

	ok, err = db.Ledger().SetStock(ctx, uuid.New(), 1)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = db.Books().SoftDelete(ctx, b.ID)
	require.NoError(t, err)
	ok, err = db.Ledger().SetStock(ctx, b.ID, 1)
	require.NoError(t, err)
	assert.False(t, ok)
}

// testConcurrentEditAndReservation races read-modify-write edits of a book
// against reservations of the same book; no reservation may be undone.
func testConcurrentEditAndReservation(t *testing.T, db store.DB) {
	ctx := context.Background()
	const copies = 8
	b := NewBook("Contended", copies)
	require.NoError(t, db.Books().Create(ctx, b))

	var wg sync.WaitGroup
	reserved := make([]bool, copies)
	errs := make([]error, 2*copies)
	for i := 0; i < copies; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			reason, err := db.Ledger().TryReserve(ctx, b.ID, 1)
			reserved[i], errs[i] = reason == domain.ReserveOK, err
		}(i)
		go func(i int) {
			defer wg.Done()
			errs[copies+i] = db.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
				cur, ok, err := tx.Books().GetByID(ctx, b.ID)
				if err != nil || !ok {
					return err
				}
				cur.Title = fmt.Sprintf("Edition %d", i)
				_, err = tx.Books().Update(ctx, cur)
				return err
			})
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	held := 0
	for _, ok := range reserved {
		if ok {
			held++
		}
	}
	assert.Equal(t, copies, held)
	got := mustBook(t, db, b.ID)
	assert.Equal(t, 0, got.Stock)
	assert.False(t, got.Available)
}

func testHistory(t *testing.T, db store.DB) {
	ctx := context.Background()
	c := NewCustomer("history")
	require.NoError(t, db.Customers().Create(ctx, c))
	o := newOrder(c.ID, "ORD-HISTORY")
	require.NoError(t, db.Orders().Create(ctx, o))
	h := db.History()

	v, err := h.Version(ctx, o.ID)
	require.NoError(t, err)
	assert.Zero(t, v)

	require.NoError(t, h.Append(ctx, o.ID, 0,
		domain.OrderEvent{Type: domain.EventOrderCreated, Data: []byte(`{"order_number":"ORD-HISTORY"}`)}))
	require.NoError(t, h.Append(ctx, o.ID, 1,
		domain.OrderEvent{Type: domain.EventBooksReturned},
		domain.OrderEvent{Type: domain.EventStatusChanged, Data: []byte(`{"from":"Active","to":"Returned"}`)}))

	v, err = h.Version(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, v)

	events, err := h.Load(ctx, o.ID)
	require.NoError(t, err)
	require.Len(t, events, 3)
	for i, e := range events {
		assert.Equal(t, i+1, e.Version)
		assert.Equal(t, o.ID, e.OrderID)
		assert.NotZero(t, e.ID)
		assert.False(t, e.CreatedAt.IsZero())
	}
	assert.Equal(t, domain.EventOrderCreated, events[0].Type)
	assert.JSONEq(t, `{"order_number":"ORD-HISTORY"}`, string(events[0].Data))
	assert.Equal(t, domain.EventStatusChanged, events[2].Type)

	other, err := h.Load(ctx, uuid.New())
	require.NoError(t, err)
	assert.Empty(t, other)

	// Events appended inside a rolled back unit of work are discarded.
	boom := errors.New("boom")
	err = db.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.History().Append(ctx, o.ID, 3, domain.OrderEvent{Type: domain.EventOrderUpdated}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)
	v, err = h.Version(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, v)
}

func testHistoryVersionConflict(t *testing.T, db store.DB) {
	ctx := context.Background()
	c := NewCustomer("conflict")
	require.NoError(t, db.Customers().Create(ctx, c))
	o := newOrder(c.ID, "ORD-CONFLICT")
	require.NoError(t, db.Orders().Create(ctx, o))
	h := db.History()
	require.NoError(t, h.Append(ctx, o.ID, 0, domain.OrderEvent{Type: domain.EventOrderCreated}))

	err := h.Append(ctx, o.ID, 0, domain.OrderEvent{Type: domain.EventOrderUpdated})
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrVersionConflict)
	assert.ErrorIs(t, err, store.ErrStorage)

	// Two writers expecting the same version: exactly one wins.
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = h.Append(ctx, o.ID, 1, domain.OrderEvent{Type: domain.EventOrderUpdated})
		}(i)
	}
	wg.Wait()
	failed := 0
	for _, err := range errs {
		if err != nil {
			assert.ErrorIs(t, err, store.ErrVersionConflict)
			failed++
		}
	}
	assert.Equal(t, 1, failed)
	v, err := h.Version(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, v)
}

func testTxRollback(t *testing.T, db store.DB) {
	ctx := context.Background()
	b := NewBook("Rollback", 2)
	require.NoError(t, db.Books().Create(ctx, b))
	boom := errors.New("boom")

	err := db.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.Ledger().TryReserve(ctx, b.ID, 1); err != nil {
			return err
		}
		if err := tx.Genres().Create(ctx, &domain.Genre{Name: "Transient"}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	assert.Equal(t, 2, mustBook(t, db, b.ID).Stock)
	n, err := db.Genres().CountIncludingDeleted(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	err = db.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		_, err := tx.Ledger().TryReserve(ctx, b.ID, 1)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 1, mustBook(t, db, b.ID).Stock)
}

func testCanceledContext(t *testing.T, db store.DB) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := db.Books().GetAll(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrStorage)
	assert.True(t, store.IsTimeout(err))

	err = db.InTx(ctx, func(ctx context.Context, tx store.Tx) error { return nil })
	assert.ErrorIs(t, err, store.ErrStorage)
}

func newOrder(customerID uuid.UUID, number string) *domain.RentalOrder {
	now := time.Now().UTC()
	return &domain.RentalOrder{
		OrderNumber: number,
		CustomerID:  customerID,
		OrderDate:   now,
		DueDate:     domain.DueDateFor(now, 7),
		OrderStatus: domain.OrderActive,
	}
}

func newDetail(order *domain.RentalOrder, bookID uuid.UUID) *domain.RentalOrderDetail {
	return &domain.RentalOrderDetail{
		OrderID:    order.ID,
		BookID:     bookID,
		Quantity:   1,
		RentalDays: 7,
		DueDate:    order.DueDate,
	}
}

func mustBook(t *testing.T, db store.DB, id uuid.UUID) *domain.Book {
	t.Helper()
	b, ok, err := db.Books().GetByIDIncludingDeleted(context.Background(), id)
	require.NoError(t, err)
	require.True(t, ok, "book %s missing", id)
	return b
}
