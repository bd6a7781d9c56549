package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"bookrental/internal/domain"
	"bookrental/internal/store"
	"bookrental/internal/store/storetest"
)

func newTestDB(t testing.TB) *DB {
	t.Helper()
	db, err := New()
	require.NoError(t, err)
	return db
}

func TestContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.DB { return newTestDB(t) })
}

// TestLedgerInvariant checks that stock never goes negative and the
// availability flag tracks stock across any reserve/release sequence.
func TestLedgerInvariant(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ctx := context.Background()
		db, err := New()
		require.NoError(t, err)

		initial := rapid.IntRange(0, 5).Draw(t, "stock")
		b := storetest.NewBook("Property", initial)
		require.NoError(t, db.Books().Create(ctx, b))

		held := 0
		ops := rapid.SliceOfN(rapid.IntRange(0, 2), 1, 40).Draw(t, "ops")
		for _, op := range ops {
			qty := rapid.IntRange(1, 3).Draw(t, "qty")
			switch op {
			case 0, 1:
				before, _, err := db.Books().GetByID(ctx, b.ID)
				require.NoError(t, err)
				reason, err := db.Ledger().TryReserve(ctx, b.ID, qty)
				require.NoError(t, err)
				if before.Stock >= qty {
					require.Equal(t, domain.ReserveOK, reason)
					held += qty
				} else {
					require.Equal(t, domain.ReserveOutOfStock, reason)
				}
			case 2:
				if held < qty {
					continue
				}
				ok, err := db.Ledger().Release(ctx, b.ID, qty)
				require.NoError(t, err)
				require.True(t, ok)
				held -= qty
			}

			got, _, err := db.Books().GetByID(ctx, b.ID)
			require.NoError(t, err)
			require.GreaterOrEqual(t, got.Stock, 0)
			require.Equal(t, got.Stock > 0, got.Available)
			require.Equal(t, initial, got.Stock+held)
		}
	})
}

func TestInjectedFaultAbortsUnitOfWork(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	b := storetest.NewBook("Faulty", 2)
	require.NoError(t, db.Books().Create(ctx, b))

	boom := errors.New("disk on fire")
	db.InjectFault(func(op, table string) error {
		if table == store.GenresTable.Name {
			return boom
		}
		return nil
	})

	err := db.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.Ledger().TryReserve(ctx, b.ID, 1); err != nil {
			return err
		}
		return tx.Genres().Create(ctx, &domain.Genre{Name: "Never"})
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrStorage)
	assert.ErrorIs(t, err, boom)

	got, _, err := db.Books().GetByID(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Stock, "reservation must roll back with the failed unit of work")

	db.InjectFault(nil)
	require.NoError(t, db.Genres().Create(ctx, &domain.Genre{Name: "Now"}))
}

func TestClockDrivesTimestamps(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	db, err := New(WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	g := &domain.Genre{Name: "History"}
	require.NoError(t, db.Genres().Create(ctx, g))
	assert.Equal(t, now, g.CreatedAt)

	now = now.Add(time.Hour)
	ok, err := db.Genres().SoftDelete(ctx, g.ID)
	require.NoError(t, err)
	require.True(t, ok)

	got, _, err := db.Genres().GetByIDIncludingDeleted(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, now, got.UpdatedAt)
	assert.Equal(t, now.Add(-time.Hour), got.CreatedAt)
}

func TestReturnedRecordsAreCopies(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	g := &domain.Genre{Name: "Essays"}
	require.NoError(t, db.Genres().Create(ctx, g))

	got, _, err := db.Genres().GetByID(ctx, g.ID)
	require.NoError(t, err)
	got.Name = "Mutated"

	again, _, err := db.Genres().GetByID(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, "Essays", again.Name)
}

func TestReturnedRecordsDoNotSharePointers(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	isbn := "978-0-00-000000-1"
	b := storetest.NewBook("Pointers", 1)
	b.ISBN = &isbn
	require.NoError(t, db.Books().Create(ctx, b))

	// The caller's pointer was not captured by the store.
	isbn = "overwritten-before-read"

	got, _, err := db.Books().GetByID(ctx, b.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ISBN)
	assert.Equal(t, "978-0-00-000000-1", *got.ISBN)

	*got.ISBN = "overwritten-after-read"

	again, _, err := db.Books().GetByID(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "978-0-00-000000-1", *again.ISBN)

	list, err := db.Books().Query().List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	*list[0].ISBN = "overwritten-via-list"

	again, _, err = db.Books().GetByID(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "978-0-00-000000-1", *again.ISBN)
}

func TestOrderHardDeleteDropsHistory(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	c := storetest.NewCustomer("history")
	require.NoError(t, db.Customers().Create(ctx, c))
	now := time.Now().UTC()
	o := &domain.RentalOrder{CustomerID: c.ID, OrderNumber: "ORD-HIST", OrderStatus: domain.OrderActive,
		OrderDate: now, DueDate: now.Add(72 * time.Hour)}
	require.NoError(t, db.Orders().Create(ctx, o))
	require.NoError(t, db.History().Append(ctx, o.ID, 0, domain.OrderEvent{Type: domain.EventOrderCreated}))

	ok, err := db.Orders().HardDelete(ctx, o.ID)
	require.NoError(t, err)
	require.True(t, ok)

	events, err := db.History().Load(ctx, o.ID)
	require.NoError(t, err)
	assert.Empty(t, events)
}
