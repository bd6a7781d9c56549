package api

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bookrental/internal/admin"
	"bookrental/internal/catalog"
	"bookrental/internal/circulation"
	"bookrental/internal/membership"
	"bookrental/internal/store/postgres"
)

// setupServer runs the full API on PostgreSQL behind a real HTTP listener.
// It skips the test if the database cannot be reached.
func setupServer(t *testing.T) *httptest.Server {
	t.Helper()
	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		getEnv("PGHOST", "localhost"), getEnv("PGPORT", "5432"),
		getEnv("PGUSER", "user"), getEnv("PGPASSWORD", "password"), getEnv("PGDATABASE", "testdb"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	db, err := postgres.Open(ctx, postgres.DriverPGX, dsn, postgres.WithMaxOpenConns(20))
	if err != nil {
		t.Skipf("skipping integration tests: could not connect to postgres: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.EnsureSchema(ctx))

	circ := circulation.NewService(db)
	srv := httptest.NewServer(NewRouter(Services{
		Catalog:     catalog.NewService(db, nil),
		Membership:  membership.NewService(db),
		Circulation: circ,
		Admin:       admin.NewService(db, circ, nil),
		Store:       db,
	}, WithRateLimit(1000)))
	t.Cleanup(srv.Close)
	return srv
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func post(t *testing.T, url, body string, v any) int {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	if v != nil && resp.StatusCode < 300 {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	}
	return resp.StatusCode
}

func register(t *testing.T, base string) string {
	t.Helper()
	var c struct{ ID string }
	tag := uuid.NewString()
	code := post(t, base+"/api/v1/customers",
		`{"email":"`+tag+`@example.com","dni":"`+tag+`","name":"Integration","age":30}`, &c)
	require.Equal(t, http.StatusCreated, code)
	return c.ID
}

func stockOf(t *testing.T, base, bookID string) int {
	t.Helper()
	resp, err := http.Get(base + "/api/v1/books/" + bookID)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var b struct {
		Stock int `json:"stock"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&b))
	return b.Stock
}

func TestIntegrationBookAndReturn(t *testing.T) {
	srv := setupServer(t)
	customer := register(t, srv.URL)

	var book struct{ ID string }
	require.Equal(t, http.StatusCreated,
		post(t, srv.URL+"/api/v1/books", `{"title":"Pride and Prejudice","author":"Jane Austen","stock":5}`, &book))

	var booking struct {
		OrderID string `json:"order_id"`
	}
	require.Equal(t, http.StatusCreated, post(t, srv.URL+"/api/v1/orders",
		`{"customer_id":"`+customer+`","book_ids":["`+book.ID+`"],"rental_days":14}`, &booking))
	assert.Equal(t, 4, stockOf(t, srv.URL, book.ID))

	require.Equal(t, http.StatusOK, post(t, srv.URL+"/api/v1/orders/"+booking.OrderID+"/return", `{"book_ids":["`+book.ID+`"]}`, nil))
	assert.Equal(t, 5, stockOf(t, srv.URL, book.ID))
}

func TestIntegrationConcurrentBookingsPreventDoubleBooking(t *testing.T) {
	srv := setupServer(t)

	var book struct{ ID string }
	require.Equal(t, http.StatusCreated,
		post(t, srv.URL+"/api/v1/books", `{"title":"The Great Gatsby","author":"F. Scott Fitzgerald","stock":1}`, &book))

	customers := make([]string, 10)
	for i := range customers {
		customers[i] = register(t, srv.URL)
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		booked  int
		refused int
	)
	for _, c := range customers {
		wg.Add(1)
		go func(customer string) {
			defer wg.Done()
			resp, err := http.Post(srv.URL+"/api/v1/orders", "application/json", strings.NewReader(
				`{"customer_id":"`+customer+`","book_ids":["`+book.ID+`"],"rental_days":7}`))
			if err != nil {
				return
			}
			resp.Body.Close()
			mu.Lock()
			defer mu.Unlock()
			switch resp.StatusCode {
			case http.StatusCreated:
				booked++
			case http.StatusUnprocessableEntity:
				refused++
			}
		}(c)
	}
	wg.Wait()

	assert.Equal(t, 1, booked, "only one concurrent booking may take the last copy")
	assert.Equal(t, len(customers)-1, refused)
	assert.Equal(t, 0, stockOf(t, srv.URL, book.ID))
}
