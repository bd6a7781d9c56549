// internal/membership/handler.go
package membership

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"bookrental/internal/api/render"
	"bookrental/internal/domain"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// Routes mounts the customer endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/", h.HandleRegister)
	r.Get("/", h.HandleList)
	r.Get("/by-email", h.HandleByEmail)
	r.Route("/{customerID}", func(r chi.Router) {
		r.Get("/", h.HandleGet)
		r.Patch("/", h.HandleUpdate)
		r.Delete("/", render.Lifecycle("customerID", domain.CodeCustomerNotFound, h.service.DeleteCustomer))
		r.Post("/restore", render.Lifecycle("customerID", domain.CodeCustomerNotFound, h.service.RestoreCustomer))
		r.Delete("/purge", render.Lifecycle("customerID", domain.CodeCustomerNotFound, h.service.PurgeCustomer))
	})
}

func (h *Handler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := render.Decode(r, &req); err != nil {
		render.Message(w, http.StatusBadRequest, err.Error())
		return
	}

	customer, err := h.service.RegisterCustomer(r.Context(), req)
	if errors.Is(err, ErrRateLimited) {
		render.Message(w, http.StatusTooManyRequests, err.Error())
		return
	}
	if err != nil {
		render.Err(w, err)
		return
	}
	render.JSON(w, http.StatusCreated, customer)
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.ListCustomers(r.Context(), render.Page(r))
	if err != nil {
		render.Err(w, err)
		return
	}
	render.JSON(w, http.StatusOK, res)
}

func (h *Handler) HandleByEmail(w http.ResponseWriter, r *http.Request) {
	email := r.URL.Query().Get("email")
	if email == "" {
		render.Message(w, http.StatusBadRequest, "missing email")
		return
	}
	customer, err := h.service.FindByEmail(r.Context(), email)
	if err != nil {
		render.Err(w, err)
		return
	}
	render.JSON(w, http.StatusOK, customer)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := render.ID(w, r, "customerID")
	if !ok {
		return
	}
	customer, err := h.service.GetCustomer(r.Context(), id)
	if err != nil {
		render.Err(w, err)
		return
	}
	render.JSON(w, http.StatusOK, customer)
}

func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := render.ID(w, r, "customerID")
	if !ok {
		return
	}
	var patch domain.CustomerPatch
	if err := render.Decode(r, &patch); err != nil {
		render.Message(w, http.StatusBadRequest, err.Error())
		return
	}
	customer, err := h.service.UpdateCustomer(r.Context(), id, patch)
	if err != nil {
		render.Err(w, err)
		return
	}
	render.JSON(w, http.StatusOK, customer)
}
