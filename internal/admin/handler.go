// internal/admin/handler.go
package admin

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"bookrental/internal/api/render"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// Routes mounts the admin endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/restore", h.HandleBulkRestore)
	r.Get("/deleted", h.HandleDeleted)
	r.Get("/deleted/summary", h.HandleSummary)
}

func (h *Handler) HandleBulkRestore(w http.ResponseWriter, r *http.Request) {
	var req BulkRestoreRequest
	if err := render.Decode(r, &req); err != nil {
		render.Message(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Empty() {
		render.Message(w, http.StatusBadRequest, "no ids to restore")
		return
	}
	res, err := h.service.BulkRestore(r.Context(), req)
	if err != nil {
		render.Err(w, err)
		return
	}
	render.JSON(w, http.StatusOK, res)
}

func (h *Handler) HandleSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.DeletedSummary(r.Context())
	if err != nil {
		render.Err(w, err)
		return
	}
	render.JSON(w, http.StatusOK, summary)
}

func (h *Handler) HandleDeleted(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.DeletedEntities(r.Context(), render.Page(r))
	if err != nil {
		render.Err(w, err)
		return
	}
	render.JSON(w, http.StatusOK, res)
}
