// internal/api/render/render.go
package render

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	"bookrental/internal/domain"
	"bookrental/internal/query"
	"bookrental/internal/store"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Kind    string `json:"kind,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
	ID      string `json:"id,omitempty"`
}

// JSON writes v with the given status.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// Decode reads a JSON request body into v.
func Decode(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

// Message writes a plain error message.
func Message(w http.ResponseWriter, status int, msg string) {
	JSON(w, status, ErrorBody{Message: msg})
}

// StatusFor maps a domain outcome kind onto an HTTP status.
func StatusFor(kind domain.Kind) int {
	switch kind {
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindConflict, domain.KindInvalidState:
		return http.StatusConflict
	case domain.KindInventoryUnavailable:
		return http.StatusUnprocessableEntity
	case domain.KindValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Failure writes a domain outcome.
func Failure(w http.ResponseWriter, f *domain.Error) {
	body := ErrorBody{Kind: string(f.Kind), Code: f.Code, Message: f.Message}
	if f.ID != uuid.Nil {
		body.ID = f.ID.String()
	}
	JSON(w, StatusFor(f.Kind), body)
}

// Err writes err, which is either a domain outcome or a fault.
func Err(w http.ResponseWriter, err error) {
	if f, ok := domain.AsError(err); ok {
		Failure(w, f)
		return
	}
	switch {
	case store.IsTimeout(err):
		Message(w, http.StatusGatewayTimeout, "storage timed out")
	case errors.Is(err, store.ErrStorage):
		Message(w, http.StatusServiceUnavailable, "storage unavailable")
	default:
		Message(w, http.StatusInternalServerError, "internal error")
	}
}

// NotFound writes a not-found outcome for an entity kind.
func NotFound(w http.ResponseWriter, code string, id uuid.UUID) {
	Failure(w, domain.NewError(domain.KindNotFound, code, "not found").WithID(id))
}

// ID parses the named URL parameter as a UUID, writing 400 when it is not one.
func ID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		Message(w, http.StatusBadRequest, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

// Page reads the pagination convention from the query string:
// page, page_size, search, sort_by and sort_dir.
func Page(r *http.Request) query.Page {
	q := r.URL.Query()
	number, _ := strconv.Atoi(q.Get("page"))
	size, _ := strconv.Atoi(q.Get("page_size"))
	return query.Page{
		Number: number,
		Size:   size,
		Search: q.Get("search"),
		SortBy: q.Get("sort_by"),
		Desc:   query.ParseDirection(q.Get("sort_dir")),
	}.Normalize()
}

// Bool reads a boolean query parameter.
func Bool(r *http.Request, name string) bool {
	v, _ := strconv.ParseBool(r.URL.Query().Get(name))
	return v
}

// Lifecycle adapts a delete, restore or purge call whose false result means
// no record was in the required state.
func Lifecycle(param, code string, fn func(context.Context, uuid.UUID) (bool, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := ID(w, r, param)
		if !ok {
			return
		}
		done, err := fn(r.Context(), id)
		if err != nil {
			Err(w, err)
			return
		}
		if !done {
			NotFound(w, code, id)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
