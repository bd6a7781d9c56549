package postgres

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bookrental/internal/domain"
	"bookrental/internal/query"
	"bookrental/internal/store"
	"bookrental/internal/store/storetest"
)

// setupTestDB attempts to connect to a PostgreSQL database for testing.
// It skips the test if the connection cannot be established.
func setupTestDB(t *testing.T, driver string) *DB {
	t.Helper()

	pgUser := getEnv("PGUSER", "user")
	pgPassword := getEnv("PGPASSWORD", "password")
	pgHost := getEnv("PGHOST", "localhost")
	pgPort := getEnv("PGPORT", "5432")
	pgDB := getEnv("PGDATABASE", "testdb")

	connStr := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		pgHost, pgPort, pgUser, pgPassword, pgDB)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Postgres keeps microseconds; a matching clock keeps round trips exact.
	db, err := Open(ctx, driver, connStr,
		WithClock(func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) }))
	if err != nil {
		t.Skipf("skipping postgres tests: could not connect to postgres: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	require.NoError(t, db.EnsureSchema(ctx))
	_, err = db.x.ExecContext(ctx,
		"TRUNCATE TABLE order_events, rental_order_details, rental_orders, books, customers, genres CASCADE")
	require.NoError(t, err)
	return db
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func TestContractLibPQ(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.DB { return setupTestDB(t, DriverLibPQ) })
}

func TestContractPGX(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.DB { return setupTestDB(t, DriverPGX) })
}

func TestUnitOfWorkSeesItsOwnWrites(t *testing.T) {
	db := setupTestDB(t, DriverLibPQ)
	ctx := context.Background()

	err := db.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		g := &domain.Genre{Name: "Inside"}
		if err := tx.Genres().Create(ctx, g); err != nil {
			return err
		}
		found, err := tx.Genres().Find(ctx, query.Eq("name", "Inside"))
		if err != nil {
			return err
		}
		assert.Len(t, found, 1)
		return nil
	})
	require.NoError(t, err)
}

func TestConstraintViolationsAreConflicts(t *testing.T) {
	db := setupTestDB(t, DriverPGX)
	ctx := context.Background()

	b := storetest.NewBook("Orphan", 1)
	missing := uuid.New()
	b.GenreID = &missing
	err := db.Books().Create(ctx, b)
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindConflict), "got %v", err)

	neg := storetest.NewBook("Negative", -1)
	err = db.Books().Create(ctx, neg)
	assert.True(t, domain.IsKind(err, domain.KindValidation), "got %v", err)
}

func TestQueryBuilderScopesDefaultExclusion(t *testing.T) {
	r := &repo[*domain.Book]{t: booksTable}

	sqlText, _, err := r.dataset(false).Select(goqu.COUNT(goqu.Star())).ToSQL()
	require.NoError(t, err)
	assert.Contains(t, sqlText, `"status" != $1`)

	sqlText, _, err = r.dataset(true).Select(goqu.COUNT(goqu.Star())).ToSQL()
	require.NoError(t, err)
	assert.NotContains(t, sqlText, "status")
}

func TestTableStatements(t *testing.T) {
	assert.Equal(t,
		"INSERT INTO genres (id, status, created_at, updated_at, name) VALUES (:id, :status, :created_at, :updated_at, :name)",
		genresTable.insertSQL)
	assert.Equal(t,
		"UPDATE genres SET name = :name, updated_at = :updated_at WHERE id = :id AND status <> 'Deleted' RETURNING id, status, created_at, updated_at, name",
		genresTable.updateSQL)
	assert.Equal(t,
		"UPDATE books SET title = :title, author = :author, isbn = :isbn, genre_id = :genre_id, updated_at = :updated_at "+
			"WHERE id = :id AND status <> 'Deleted' "+
			"RETURNING id, status, created_at, updated_at, title, author, isbn, stock, available, availability_override, genre_id",
		booksTable.updateSQL, "stock is written only through the ledger")
}

func TestSQLValue(t *testing.T) {
	id := uuid.New()
	var nilID *uuid.UUID
	assert.Equal(t, id.String(), sqlValue(id))
	assert.Equal(t, id.String(), sqlValue(&id))
	assert.Nil(t, sqlValue(nilID))
	assert.Equal(t, "Active", sqlValue(domain.OrderActive))
	assert.Equal(t, int64(3), sqlValue(3))
	assert.Equal(t, true, sqlValue(true))
}
