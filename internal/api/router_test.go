package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bookrental/internal/admin"
	"bookrental/internal/catalog"
	"bookrental/internal/circulation"
	"bookrental/internal/membership"
	"bookrental/internal/store/memory"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func newServices(t *testing.T) Services {
	t.Helper()
	db, err := memory.New()
	require.NoError(t, err)
	circ := circulation.NewService(db)
	return Services{
		Catalog:     catalog.NewService(db, nil),
		Membership:  membership.NewService(db),
		Circulation: circ,
		Admin:       admin.NewService(db, circ, nil),
		Store:       db,
	}
}

type client struct {
	t *testing.T
	h http.Handler
}

func (c client) do(method, path, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	c.h.ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader(body)))
	return rec
}

func (c client) decode(rec *httptest.ResponseRecorder, v any) {
	c.t.Helper()
	require.NoError(c.t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func TestRentalFlow(t *testing.T) {
	c := client{t: t, h: NewRouter(newServices(t))}

	rec := c.do(http.MethodPost, "/api/v1/customers", `{"email":"ada@example.com","dni":"1","name":"Ada","age":36}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var customer struct{ ID string }
	c.decode(rec, &customer)

	var bookIDs []string
	for _, body := range []string{
		`{"title":"Solaris","author":"Lem","stock":0}`,
		`{"title":"Kindred","author":"Butler","stock":2}`,
	} {
		rec = c.do(http.MethodPost, "/api/v1/books", body)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		var b struct{ ID string }
		c.decode(rec, &b)
		bookIDs = append(bookIDs, b.ID)
	}

	order := `{"customer_id":"` + customer.ID + `","book_ids":["` + bookIDs[0] + `","` + bookIDs[1] + `"],"rental_days":7`
	rec = c.do(http.MethodPost, "/api/v1/orders", order+`}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, "strict booking rejects unavailable books")
	assert.Contains(t, rec.Body.String(), `"BooksUnavailable"`)

	rec = c.do(http.MethodPost, "/api/v1/orders", order+`,"allow_partial_order":true}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var booking struct {
		OrderID        string `json:"order_id"`
		IsPartialOrder bool   `json:"is_partial_order"`
	}
	c.decode(rec, &booking)
	assert.True(t, booking.IsPartialOrder)

	rec = c.do(http.MethodGet, "/api/v1/orders/"+booking.OrderID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"order_status":"Active"`)

	rec = c.do(http.MethodPost, "/api/v1/orders/"+booking.OrderID+"/return", `{"book_ids":["`+bookIDs[1]+`"]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = c.do(http.MethodGet, "/api/v1/orders/"+booking.OrderID, "")
	assert.Contains(t, rec.Body.String(), `"order_status":"Returned"`)

	rec = c.do(http.MethodGet, "/api/v1/books/"+bookIDs[1], "")
	assert.Contains(t, rec.Body.String(), `"stock":2`)

	rec = c.do(http.MethodPost, "/api/v1/orders/"+booking.OrderID+"/cancel", "")
	assert.Equal(t, http.StatusConflict, rec.Code, "returned orders cannot be cancelled")

	rec = c.do(http.MethodGet, "/api/v1/orders/"+booking.OrderID+"/history", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var history []struct {
		Type    string `json:"event_type"`
		Version int    `json:"version"`
	}
	c.decode(rec, &history)
	require.Len(t, history, 3)
	assert.Equal(t, "OrderCreated", history[0].Type)
	assert.Equal(t, "BooksReturned", history[1].Type)
	assert.Equal(t, "StatusChanged", history[2].Type)
	assert.Equal(t, 3, history[2].Version)

	rec = c.do(http.MethodGet, "/api/v1/orders/00000000-0000-0000-0000-000000000001/history", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = c.do(http.MethodGet, "/api/v1/orders?page_size=500", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"page_size":50`, "oversized pages are clamped")

	rec = c.do(http.MethodGet, "/api/v1/admin/deleted/summary", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealth(t *testing.T) {
	svc := newServices(t)
	c := client{t: t, h: NewRouter(svc)}
	rec := c.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	svc.Store = downStore{}
	c = client{t: t, h: NewRouter(svc)}
	rec = c.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")
}

type downStore struct{}

func (downStore) Ping(context.Context) error { return errors.New("connection refused") }

func TestRateLimit(t *testing.T) {
	c := client{t: t, h: NewRouter(newServices(t), WithRateLimit(1))}

	rec := c.do(http.MethodGet, "/api/v1/books", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = c.do(http.MethodGet, "/api/v1/books", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	rec = c.do(http.MethodGet, "/ping", "")
	assert.Equal(t, http.StatusOK, rec.Code, "health checks are not rate limited")
}
