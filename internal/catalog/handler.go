// internal/catalog/handler.go
package catalog

import (
	"net/http"

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

// BookRoutes mounts the book endpoints.
func (h *Handler) BookRoutes(r chi.Router) {
	r.Post("/", h.HandleAddBook)
	r.Get("/", h.HandleListBooks)
	r.Route("/{bookID}", func(r chi.Router) {
		r.Get("/", h.HandleGetBook)
		r.Patch("/", h.HandleUpdateBook)
		r.Delete("/", render.Lifecycle("bookID", domain.CodeBookNotFound, h.service.DeleteBook))
		r.Post("/restore", render.Lifecycle("bookID", domain.CodeBookNotFound, h.service.RestoreBook))
		r.Delete("/purge", render.Lifecycle("bookID", domain.CodeBookNotFound, h.service.PurgeBook))
		r.Post("/stock", h.HandleAdjustStock)
		r.Put("/availability", h.HandleSetAvailability)
		r.Delete("/availability", h.HandleClearAvailability)
	})
}

// GenreRoutes mounts the genre endpoints.
func (h *Handler) GenreRoutes(r chi.Router) {
	r.Post("/", h.HandleAddGenre)
	r.Get("/", h.HandleListGenres)
	r.Get("/stats", h.HandleGenreStats)
	r.Route("/{genreID}", func(r chi.Router) {
		r.Get("/", h.HandleGetGenre)
		r.Patch("/", h.HandleUpdateGenre)
		r.Delete("/", render.Lifecycle("genreID", domain.CodeGenreNotFound, h.service.DeleteGenre))
		r.Post("/restore", render.Lifecycle("genreID", domain.CodeGenreNotFound, h.service.RestoreGenre))
		r.Delete("/purge", render.Lifecycle("genreID", domain.CodeGenreNotFound, h.service.PurgeGenre))
	})
}

func (h *Handler) HandleAddBook(w http.ResponseWriter, r *http.Request) {
	var req NewBookRequest
	if err := render.Decode(r, &req); err != nil {
		render.Message(w, http.StatusBadRequest, err.Error())
		return
	}
	book, err := h.service.AddBook(r.Context(), req)
	if err != nil {
		render.Err(w, err)
		return
	}
	render.JSON(w, http.StatusCreated, book)
}

func (h *Handler) HandleListBooks(w http.ResponseWriter, r *http.Request) {
	filter := BookFilter{AvailableOnly: render.Bool(r, "available")}
	if g := r.URL.Query().Get("genre_id"); g != "" {
		id, err := uuid.Parse(g)
		if err != nil {
			render.Message(w, http.StatusBadRequest, "invalid genre_id")
			return
		}
		filter.GenreID = &id
	}
	res, err := h.service.ListBooks(r.Context(), render.Page(r), filter)
	if err != nil {
		render.Err(w, err)
		return
	}
	render.JSON(w, http.StatusOK, res)
}

func (h *Handler) HandleGetBook(w http.ResponseWriter, r *http.Request) {
	id, ok := render.ID(w, r, "bookID")
	if !ok {
		return
	}
	book, err := h.service.GetBook(r.Context(), id)
	if err != nil {
		render.Err(w, err)
		return
	}
	render.JSON(w, http.StatusOK, book)
}

func (h *Handler) HandleUpdateBook(w http.ResponseWriter, r *http.Request) {
	id, ok := render.ID(w, r, "bookID")
	if !ok {
		return
	}
	var patch domain.BookPatch
	if err := render.Decode(r, &patch); err != nil {
		render.Message(w, http.StatusBadRequest, err.Error())
		return
	}
	book, err := h.service.UpdateBook(r.Context(), id, patch)
	if err != nil {
		render.Err(w, err)
		return
	}
	render.JSON(w, http.StatusOK, book)
}

func (h *Handler) HandleAdjustStock(w http.ResponseWriter, r *http.Request) {
	id, ok := render.ID(w, r, "bookID")
	if !ok {
		return
	}
	var req struct {
		Delta int `json:"delta"`
	}
	if err := render.Decode(r, &req); err != nil {
		render.Message(w, http.StatusBadRequest, err.Error())
		return
	}
	book, err := h.service.AdjustStock(r.Context(), id, req.Delta)
	if err != nil {
		render.Err(w, err)
		return
	}
	render.JSON(w, http.StatusOK, book)
}

func (h *Handler) HandleSetAvailability(w http.ResponseWriter, r *http.Request) {
	id, ok := render.ID(w, r, "bookID")
	if !ok {
		return
	}
	var req struct {
		Available bool `json:"available"`
	}
	if err := render.Decode(r, &req); err != nil {
		render.Message(w, http.StatusBadRequest, err.Error())
		return
	}
	book, err := h.service.SetAvailability(r.Context(), id, req.Available)
	if err != nil {
		render.Err(w, err)
		return
	}
	render.JSON(w, http.StatusOK, book)
}

func (h *Handler) HandleClearAvailability(w http.ResponseWriter, r *http.Request) {
	id, ok := render.ID(w, r, "bookID")
	if !ok {
		return
	}
	book, err := h.service.ClearAvailabilityOverride(r.Context(), id)
	if err != nil {
		render.Err(w, err)
		return
	}
	render.JSON(w, http.StatusOK, book)
}

func (h *Handler) HandleAddGenre(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := render.Decode(r, &req); err != nil {
		render.Message(w, http.StatusBadRequest, err.Error())
		return
	}
	genre, err := h.service.AddGenre(r.Context(), req.Name)
	if err != nil {
		render.Err(w, err)
		return
	}
	render.JSON(w, http.StatusCreated, genre)
}

func (h *Handler) HandleListGenres(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.ListGenres(r.Context(), render.Page(r))
	if err != nil {
		render.Err(w, err)
		return
	}
	render.JSON(w, http.StatusOK, res)
}

func (h *Handler) HandleGenreStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.GenreStats(r.Context())
	if err != nil {
		render.Err(w, err)
		return
	}
	render.JSON(w, http.StatusOK, stats)
}

func (h *Handler) HandleGetGenre(w http.ResponseWriter, r *http.Request) {
	id, ok := render.ID(w, r, "genreID")
	if !ok {
		return
	}
	genre, err := h.service.GetGenre(r.Context(), id)
	if err != nil {
		render.Err(w, err)
		return
	}
	render.JSON(w, http.StatusOK, genre)
}

func (h *Handler) HandleUpdateGenre(w http.ResponseWriter, r *http.Request) {
	id, ok := render.ID(w, r, "genreID")
	if !ok {
		return
	}
	var patch domain.GenrePatch
	if err := render.Decode(r, &patch); err != nil {
		render.Message(w, http.StatusBadRequest, err.Error())
		return
	}
	genre, err := h.service.UpdateGenre(r.Context(), id, patch)
	if err != nil {
		render.Err(w, err)
		return
	}
	render.JSON(w, http.StatusOK, genre)
}
