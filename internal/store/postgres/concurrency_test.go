package postgres

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bookrental/internal/catalog"
	"bookrental/internal/circulation"
	"bookrental/internal/domain"
	"bookrental/internal/store/storetest"
)

// These run the services against a real server, where units of work overlap
// instead of being serialized.

func TestConcurrentBookEditsKeepReservations(t *testing.T) {
	db := setupTestDB(t, DriverPGX)
	ctx := context.Background()
	books := catalog.NewService(db, nil)

	const copies = 10
	book, err := books.AddBook(ctx, catalog.NewBookRequest{Title: "Contended", Author: "Someone", Stock: copies})
	require.NoError(t, err)

	var wg sync.WaitGroup
	reasons := make([]domain.ReserveFailure, copies)
	errs := make([]error, 2*copies)
	for i := 0; i < copies; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			reasons[i], errs[i] = db.Ledger().TryReserve(ctx, book.ID, 1)
		}(i)
		go func(i int) {
			defer wg.Done()
			title := fmt.Sprintf("Contended, printing %d", i)
			_, errs[copies+i] = books.UpdateBook(ctx, book.ID, domain.BookPatch{Title: &title})
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	for _, r := range reasons {
		assert.Equal(t, domain.ReserveOK, r)
	}
	got, err := books.GetBook(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Stock, "every reservation survives the concurrent edits")
	assert.False(t, got.Available)
}

func TestConcurrentReturnsReleaseOnce(t *testing.T) {
	db := setupTestDB(t, DriverPGX)
	ctx := context.Background()
	orders := circulation.NewService(db)

	customer := storetest.NewCustomer("returner")
	require.NoError(t, db.Customers().Create(ctx, customer))
	var bookIDs []uuid.UUID
	for _, title := range []string{"First", "Second"} {
		b := storetest.NewBook(title, 1)
		require.NoError(t, db.Books().Create(ctx, b))
		bookIDs = append(bookIDs, b.ID)
	}
	booking, err := orders.CreateOrder(ctx, circulation.CreateOrderRequest{
		CustomerID: customer.ID,
		BookIDs:    bookIDs,
		RentalDays: 7,
	})
	require.NoError(t, err)
	require.True(t, booking.Success, "%v", booking.Failure)

	const workers = 8
	var wg sync.WaitGroup
	outs := make([]circulation.Outcome, workers)
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outs[i], errs[i] = orders.ReturnBooks(ctx, booking.OrderID, bookIDs)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for i := range outs {
		require.NoError(t, errs[i])
		if outs[i].Success {
			succeeded++
		}
	}
	assert.Equal(t, 1, succeeded)
	for _, id := range bookIDs {
		b, _, err := db.Books().GetByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 1, b.Stock, "book %s released exactly once", id)
	}

	events, ok, err := orders.History(ctx, booking.OrderID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, events, 3)
	assert.Equal(t, domain.EventBooksReturned, events[1].Type)
	assert.Equal(t, domain.EventStatusChanged, events[2].Type)
}
