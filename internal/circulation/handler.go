// internal/circulation/handler.go
package circulation

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"bookrental/internal/api/render"
	"bookrental/internal/domain"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// Routes mounts the order endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/", h.HandleCreate)
	r.Get("/", h.HandleList)
	r.Get("/overdue", h.HandleOverdue)
	r.Get("/by-customer/{customerID}", h.HandleByCustomer)
	r.Route("/{orderID}", func(r chi.Router) {
		r.Get("/", h.HandleGet)
		r.Get("/history", h.HandleHistory)
		r.Patch("/", h.HandleUpdate)
		r.Delete("/", h.HandleDelete)
		r.Post("/restore", h.HandleRestore)
		r.Post("/return", h.HandleReturn)
		r.Post("/cancel", h.HandleCancel)
		r.Put("/status", h.HandleSetStatus)
	})
}

func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if err := render.Decode(r, &req); err != nil {
		render.Message(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := h.service.CreateOrder(r.Context(), req)
	if err != nil {
		render.Err(w, err)
		return
	}
	status := http.StatusCreated
	if !res.Success {
		status = render.StatusFor(res.Failure.Kind)
	}
	render.JSON(w, status, res)
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.ListOrders(r.Context(), render.Page(r))
	if err != nil {
		render.Err(w, err)
		return
	}
	render.JSON(w, http.StatusOK, res)
}

func (h *Handler) HandleByCustomer(w http.ResponseWriter, r *http.Request) {
	customerID, ok := render.ID(w, r, "customerID")
	if !ok {
		return
	}
	res, err := h.service.OrdersByCustomer(r.Context(), customerID, render.Page(r))
	if err != nil {
		render.Err(w, err)
		return
	}
	render.JSON(w, http.StatusOK, res)
}

func (h *Handler) HandleOverdue(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.OverdueItems(r.Context(), time.Now().UTC())
	if err != nil {
		render.Err(w, err)
		return
	}
	render.JSON(w, http.StatusOK, items)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := render.ID(w, r, "orderID")
	if !ok {
		return
	}
	order, found, err := h.service.GetOrder(r.Context(), id)
	if err != nil {
		render.Err(w, err)
		return
	}
	if !found {
		render.NotFound(w, domain.CodeOrderNotFound, id)
		return
	}
	render.JSON(w, http.StatusOK, order)
}

func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := render.ID(w, r, "orderID")
	if !ok {
		return
	}
	events, found, err := h.service.History(r.Context(), id)
	if err != nil {
		render.Err(w, err)
		return
	}
	if !found {
		render.NotFound(w, domain.CodeOrderNotFound, id)
		return
	}
	render.JSON(w, http.StatusOK, events)
}

func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	var patch domain.OrderPatch
	h.transition(w, r, &patch, func(id uuid.UUID) (Outcome, error) {
		return h.service.UpdateOrder(r.Context(), id, patch)
	})
}

func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, nil, func(id uuid.UUID) (Outcome, error) {
		return h.service.DeleteOrder(r.Context(), id)
	})
}

func (h *Handler) HandleRestore(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, nil, func(id uuid.UUID) (Outcome, error) {
		return h.service.RestoreOrder(r.Context(), id)
	})
}

func (h *Handler) HandleReturn(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BookIDs []uuid.UUID `json:"book_ids"`
	}
	h.transition(w, r, &req, func(id uuid.UUID) (Outcome, error) {
		return h.service.ReturnBooks(r.Context(), id, req.BookIDs)
	})
}

func (h *Handler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, nil, func(id uuid.UUID) (Outcome, error) {
		return h.service.Cancel(r.Context(), id)
	})
}

func (h *Handler) HandleSetStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status domain.OrderStatus `json:"status"`
	}
	h.transition(w, r, &req, func(id uuid.UUID) (Outcome, error) {
		return h.service.SetStatus(r.Context(), id, req.Status)
	})
}

// transition decodes body (when non-nil), runs fn and writes its Outcome.
func (h *Handler) transition(w http.ResponseWriter, r *http.Request, body any, fn func(uuid.UUID) (Outcome, error)) {
	id, ok := render.ID(w, r, "orderID")
	if !ok {
		return
	}
	if body != nil {
		if err := render.Decode(r, body); err != nil {
			render.Message(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	out, err := fn(id)
	if err != nil {
		render.Err(w, err)
		return
	}
	if out.Failure != nil {
		render.Failure(w, out.Failure)
		return
	}
	render.JSON(w, http.StatusOK, out)
}
