// internal/domain/patch.go
package domain

import (
	"strings"

	"github.com/google/uuid"
)

// BookPatch holds optional overrides for a Book. Nil fields are left alone.
type BookPatch struct {
	Title   *string    `json:"title,omitempty"`
	Author  *string    `json:"author,omitempty"`
	ISBN    *string    `json:"isbn,omitempty"`
	Stock   *int       `json:"stock,omitempty"`
	GenreID *uuid.UUID `json:"genre_id,omitempty"`
}

// Validate checks the fields that are present.
func (p BookPatch) Validate() *Error {
	if p.Title != nil && strings.TrimSpace(*p.Title) == "" {
		return Invalid("title must not be empty")
	}
	if p.Author != nil && strings.TrimSpace(*p.Author) == "" {
		return Invalid("author must not be empty")
	}
	if p.Stock != nil && *p.Stock < 0 {
		return Invalid("stock must not be negative")
	}
	return nil
}

// Apply copies present descriptive fields onto b. An empty ISBN clears it.
// Stock is not applied here; it is set through the stock ledger.
func (p BookPatch) Apply(b *Book) {
	if p.Title != nil {
		b.Title = strings.TrimSpace(*p.Title)
	}
	if p.Author != nil {
		b.Author = strings.TrimSpace(*p.Author)
	}
	if p.ISBN != nil {
		b.ISBN = NormalizeISBN(*p.ISBN)
	}
	if p.GenreID != nil {
		if *p.GenreID == uuid.Nil {
			b.GenreID = nil
		} else {
			id := *p.GenreID
			b.GenreID = &id
		}
	}
}

// NormalizeISBN strips separators; an empty result means "no ISBN".
func NormalizeISBN(s string) *string {
	s = strings.NewReplacer("-", "", " ", "").Replace(strings.TrimSpace(s))
	if s == "" {
		return nil
	}
	return &s
}

// CustomerPatch holds optional overrides for a Customer.
type CustomerPatch struct {
	Email       *string `json:"email,omitempty"`
	DNI         *string `json:"dni,omitempty"`
	Name        *string `json:"name,omitempty"`
	Age         *int    `json:"age,omitempty"`
	IdentityRef *string `json:"identity_ref,omitempty"`
}

// Validate checks the fields that are present.
func (p CustomerPatch) Validate() *Error {
	if p.Email != nil && !LooksLikeEmail(*p.Email) {
		return Invalid("email %q is malformed", *p.Email)
	}
	if p.DNI != nil && strings.TrimSpace(*p.DNI) == "" {
		return Invalid("dni must not be empty")
	}
	if p.Name != nil && strings.TrimSpace(*p.Name) == "" {
		return Invalid("name must not be empty")
	}
	if p.Age != nil && (*p.Age < 0 || *p.Age > 150) {
		return Invalid("age %d is out of range", *p.Age)
	}
	return nil
}

// Apply copies present fields onto c.
func (p CustomerPatch) Apply(c *Customer) {
	if p.Email != nil {
		c.Email = strings.ToLower(strings.TrimSpace(*p.Email))
	}
	if p.DNI != nil {
		c.DNI = strings.TrimSpace(*p.DNI)
	}
	if p.Name != nil {
		c.Name = strings.TrimSpace(*p.Name)
	}
	if p.Age != nil {
		c.Age = *p.Age
	}
	if p.IdentityRef != nil {
		if ref := strings.TrimSpace(*p.IdentityRef); ref != "" {
			c.IdentityRef = &ref
		} else {
			c.IdentityRef = nil
		}
	}
}

// LooksLikeEmail is a shallow shape check, not RFC validation.
func LooksLikeEmail(s string) bool {
	s = strings.TrimSpace(s)
	at := strings.LastIndex(s, "@")
	return at > 0 && at < len(s)-1 && !strings.ContainsAny(s, " \t")
}

// GenrePatch holds optional overrides for a Genre.
type GenrePatch struct {
	Name *string `json:"name,omitempty"`
}

// Validate checks the fields that are present.
func (p GenrePatch) Validate() *Error {
	if p.Name != nil && strings.TrimSpace(*p.Name) == "" {
		return Invalid("name must not be empty")
	}
	return nil
}

// Apply copies present fields onto g.
func (p GenrePatch) Apply(g *Genre) {
	if p.Name != nil {
		g.Name = strings.TrimSpace(*p.Name)
	}
}

// OrderPatch holds optional changes to an active order. BookIDs, when
// present, is the complete desired book set.
type OrderPatch struct {
	CustomerID *uuid.UUID   `json:"customer_id,omitempty"`
	RentalDays *int         `json:"rental_days,omitempty"`
	Notes      *string      `json:"notes,omitempty"`
	BookIDs    *[]uuid.UUID `json:"book_ids,omitempty"`
}

// Validate checks the fields that are present.
func (p OrderPatch) Validate() *Error {
	if p.RentalDays != nil && (*p.RentalDays < MinRentalDays || *p.RentalDays > MaxRentalDays) {
		return Invalid("rental days must be between %d and %d", MinRentalDays, MaxRentalDays)
	}
	if p.BookIDs != nil && len(*p.BookIDs) == 0 {
		return Invalid("book list must not be empty")
	}
	return nil
}

// DistinctIDs collapses duplicates, keeping first-seen order.
func DistinctIDs(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
