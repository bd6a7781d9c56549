package membership

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bookrental/internal/domain"
	"bookrental/internal/query"
	"bookrental/internal/store/memory"
)

func newTestService(t *testing.T, opts ...Option) (Service, *memory.DB) {
	t.Helper()
	db, err := memory.New()
	require.NoError(t, err)
	return NewService(db, opts...), db
}

func ptr[T any](v T) *T { return &v }

var ada = RegisterRequest{Email: "Ada@Example.com", DNI: "12345678A", Name: "Ada Lovelace", Age: 36}

func TestRegisterCustomer(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	c, err := svc.RegisterCustomer(ctx, ada)
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", c.Email)
	assert.NotEqual(t, uuid.Nil, c.ID)
	assert.Equal(t, domain.StatusActive, c.Status)
	assert.Nil(t, c.IdentityRef)

	dup := ada
	dup.DNI = "99999999Z"
	dup.Email = "ADA@example.com"
	_, err = svc.RegisterCustomer(ctx, dup)
	assert.True(t, domain.IsKind(err, domain.KindConflict), "email is unique case-insensitively: %v", err)

	dup = ada
	dup.Email = "other@example.com"
	_, err = svc.RegisterCustomer(ctx, dup)
	assert.True(t, domain.IsKind(err, domain.KindConflict), "dni is unique: %v", err)

	tests := []struct {
		name string
		req  RegisterRequest
	}{
		{"bad email", RegisterRequest{Email: "nope", DNI: "1", Name: "n"}},
		{"missing dni", RegisterRequest{Email: "a@b.c", Name: "n"}},
		{"missing name", RegisterRequest{Email: "a@b.c", DNI: "1"}},
		{"negative age", RegisterRequest{Email: "a@b.c", DNI: "1", Name: "n", Age: -1}},
		{"age too high", RegisterRequest{Email: "a@b.c", DNI: "1", Name: "n", Age: MaxAge + 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.RegisterCustomer(ctx, tt.req)
			assert.True(t, domain.IsKind(err, domain.KindValidation), "got %v", err)
		})
	}
}

func TestRegistrationLimit(t *testing.T) {
	svc, _ := newTestService(t, WithRegistrationLimit(1, 1))
	ctx := context.Background()

	_, err := svc.RegisterCustomer(ctx, ada)
	require.NoError(t, err)

	second := RegisterRequest{Email: "grace@example.com", DNI: "2", Name: "Grace Hopper", Age: 40}
	_, err = svc.RegisterCustomer(ctx, second)
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestUpdateCustomer(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	c, err := svc.RegisterCustomer(ctx, ada)
	require.NoError(t, err)
	other, err := svc.RegisterCustomer(ctx, RegisterRequest{Email: "grace@example.com", DNI: "2", Name: "Grace", Age: 40})
	require.NoError(t, err)

	updated, err := svc.UpdateCustomer(ctx, c.ID, domain.CustomerPatch{Name: ptr("Augusta Ada King"), IdentityRef: ptr("idp|42")})
	require.NoError(t, err)
	assert.Equal(t, "Augusta Ada King", updated.Name)
	assert.Equal(t, "idp|42", *updated.IdentityRef)
	assert.Equal(t, "ada@example.com", updated.Email, "absent fields are untouched")
	assert.Equal(t, c.CreatedAt, updated.CreatedAt)

	_, err = svc.UpdateCustomer(ctx, other.ID, domain.CustomerPatch{Email: ptr("ADA@example.com")})
	assert.True(t, domain.IsKind(err, domain.KindConflict), "got %v", err)

	_, err = svc.UpdateCustomer(ctx, c.ID, domain.CustomerPatch{Age: ptr(200)})
	assert.True(t, domain.IsKind(err, domain.KindValidation))

	_, err = svc.UpdateCustomer(ctx, uuid.New(), domain.CustomerPatch{Name: ptr("x")})
	assert.True(t, domain.IsKind(err, domain.KindNotFound))
}

func TestCustomerLifecycle(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	c, err := svc.RegisterCustomer(ctx, ada)
	require.NoError(t, err)

	found, err := svc.FindByEmail(ctx, " ADA@example.com ")
	require.NoError(t, err)
	assert.Equal(t, c.ID, found.ID)

	ok, err := svc.DeleteCustomer(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = svc.GetCustomer(ctx, c.ID)
	assert.True(t, domain.IsKind(err, domain.KindNotFound))
	_, err = svc.FindByEmail(ctx, ada.Email)
	assert.True(t, domain.IsKind(err, domain.KindNotFound))

	_, err = svc.RegisterCustomer(ctx, ada)
	assert.True(t, domain.IsKind(err, domain.KindConflict), "deleted customers keep their email")

	ok, err = svc.RestoreCustomer(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = svc.RestoreCustomer(ctx, c.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	order := &domain.RentalOrder{OrderNumber: "ORD-1", CustomerID: c.ID, OrderStatus: domain.OrderActive}
	require.NoError(t, db.Orders().Create(ctx, order))
	_, err = svc.PurgeCustomer(ctx, c.ID)
	assert.True(t, domain.IsKind(err, domain.KindConflict), "customers with orders cannot be purged")
}

func TestListCustomers(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	for i, name := range []string{"Charlie", "alice", "Bob"} {
		_, err := svc.RegisterCustomer(ctx, RegisterRequest{
			Email: strings.ToLower(name) + "@example.com",
			DNI:   uuid.NewString(),
			Name:  name,
			Age:   20 + i,
		})
		require.NoError(t, err)
	}

	res, err := svc.ListCustomers(ctx, query.Page{SortBy: "age", Desc: true, Size: 2})
	require.NoError(t, err)
	assert.EqualValues(t, 3, res.Total)
	assert.Equal(t, 2, res.TotalPages)
	require.Len(t, res.Items, 2)
	assert.Equal(t, "Bob", res.Items[0].Name)

	res, err = svc.ListCustomers(ctx, query.Page{Search: "ALICE"})
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.Equal(t, "alice", res.Items[0].Name)
}

func TestHandler(t *testing.T) {
	svc, _ := newTestService(t, WithRegistrationLimit(60, 2))
	r := chi.NewRouter()
	r.Route("/customers", NewHandler(svc).Routes)

	do := func(method, path, body string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader(body)))
		return rec
	}

	rec := do(http.MethodPost, "/customers", `{"email":"ada@example.com","dni":"1","name":"Ada","age":36}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(http.MethodPost, "/customers", `{"email":"ada@example.com","dni":"2","name":"Ada","age":36}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(http.MethodPost, "/customers", `{"email":"grace@example.com","dni":"3","name":"Grace","age":40}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	rec = do(http.MethodGet, "/customers/by-email?email=ADA@example.com", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"name":"Ada"`)

	rec = do(http.MethodGet, "/customers/"+uuid.NewString(), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), domain.CodeCustomerNotFound)

	rec = do(http.MethodPatch, "/customers/"+uuid.NewString(), `{"age":"old"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
