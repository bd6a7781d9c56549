// internal/catalog/domain.go
package catalog

import (
	"strings"

	"github.com/google/uuid"

	"bookrental/internal/domain"
)

// NewBookRequest describes a title added to the catalog.
type NewBookRequest struct {
	Title   string     `json:"title"`
	Author  string     `json:"author"`
	ISBN    string     `json:"isbn"`
	Stock   int        `json:"stock"`
	GenreID *uuid.UUID `json:"genre_id,omitempty"`
}

// Validate checks the request before it reaches storage.
func (r NewBookRequest) Validate() *domain.Error {
	if strings.TrimSpace(r.Title) == "" {
		return domain.Invalid("title is required")
	}
	if strings.TrimSpace(r.Author) == "" {
		return domain.Invalid("author is required")
	}
	if r.Stock < 0 {
		return domain.Invalid("stock must not be negative")
	}
	return nil
}

// Book builds the unsaved record.
func (r NewBookRequest) Book() *domain.Book {
	b := &domain.Book{
		Title:   strings.TrimSpace(r.Title),
		Author:  strings.TrimSpace(r.Author),
		ISBN:    domain.NormalizeISBN(r.ISBN),
		Stock:   r.Stock,
		GenreID: r.GenreID,
	}
	b.RecomputeAvailability()
	return b
}

// BookFilter narrows ListBooks beyond the pagination convention.
type BookFilter struct {
	GenreID       *uuid.UUID
	AvailableOnly bool
}

// GenreStat summarises one genre's shelf.
type GenreStat struct {
	GenreID        uuid.UUID `json:"genre_id"`
	Name           string    `json:"name"`
	BookCount      int64     `json:"book_count"`
	AvailableBooks int64     `json:"available_books"`
	CopiesInStock  int64     `json:"copies_in_stock"`
}
