// internal/domain/models.go
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Book is a catalog title together with its rentable copy count.
type Book struct {
	Base
	Title                string     `json:"title" db:"title"`
	Author               string     `json:"author" db:"author"`
	ISBN                 *string    `json:"isbn,omitempty" db:"isbn"`
	Stock                int        `json:"stock" db:"stock"`
	Available            bool       `json:"available" db:"available"`
	AvailabilityOverride bool       `json:"availability_override" db:"availability_override"`
	GenreID              *uuid.UUID `json:"genre_id,omitempty" db:"genre_id"`
}

// RecomputeAvailability derives Available from Stock unless an
// administrative override pins it.
func (b *Book) RecomputeAvailability() {
	if b.AvailabilityOverride {
		return
	}
	b.Available = b.Stock > 0
}

// Customer is a person allowed to rent books.
type Customer struct {
	Base
	Email       string  `json:"email" db:"email"`
	DNI         string  `json:"dni" db:"dni"`
	Name        string  `json:"name" db:"name"`
	Age         int     `json:"age" db:"age"`
	IdentityRef *string `json:"identity_ref,omitempty" db:"identity_ref"`
}

// Genre groups books. BookCount is derived, never stored.
type Genre struct {
	Base
	Name      string `json:"name" db:"name"`
	BookCount int64  `json:"book_count" db:"-"`
}

// RentalOrder is the header of a multi-book rental.
type RentalOrder struct {
	Base
	OrderNumber string               `json:"order_number" db:"order_number"`
	CustomerID  uuid.UUID            `json:"customer_id" db:"customer_id"`
	OrderDate   time.Time            `json:"order_date" db:"order_date"`
	DueDate     time.Time            `json:"due_date" db:"due_date"`
	ReturnDate  *time.Time           `json:"return_date,omitempty" db:"return_date"`
	OrderStatus OrderStatus          `json:"order_status" db:"order_status"`
	Notes       string               `json:"notes" db:"notes"`
	Details     []*RentalOrderDetail `json:"details,omitempty" db:"-"`
}

// RentalOrderDetail is one book within an order.
type RentalOrderDetail struct {
	Base
	OrderID    uuid.UUID  `json:"order_id" db:"order_id"`
	BookID     uuid.UUID  `json:"book_id" db:"book_id"`
	Quantity   int        `json:"quantity" db:"quantity"`
	RentalDays int        `json:"rental_days" db:"rental_days"`
	DueDate    time.Time  `json:"due_date" db:"due_date"`
	ReturnDate *time.Time `json:"return_date,omitempty" db:"return_date"`
	Returned   bool       `json:"returned" db:"returned"`
	Notes      string     `json:"notes" db:"notes"`
}

// MarkReturned flags the line item as physically back.
func (d *RentalOrderDetail) MarkReturned(at time.Time) {
	d.Returned = true
	d.ReturnDate = &at
}

// Reopen puts a returned line item back on loan until due.
func (d *RentalOrderDetail) Reopen(due time.Time, rentalDays int) {
	d.Returned = false
	d.ReturnDate = nil
	d.DueDate = due
	d.RentalDays = rentalDays
}

// IsOverdue reports whether the line item is unreturned past its due date.
func (d *RentalOrderDetail) IsOverdue(now time.Time) bool {
	return !d.Returned && d.DueDate.Before(now)
}
