// internal/circulation/domain.go
package circulation

import (
	"github.com/google/uuid"

	"bookrental/internal/domain"
)

// CreateOrderRequest asks for a multi-book rental.
type CreateOrderRequest struct {
	CustomerID        uuid.UUID   `json:"customer_id"`
	BookIDs           []uuid.UUID `json:"book_ids"`
	RentalDays        int         `json:"rental_days"`
	Notes             string      `json:"notes"`
	AllowPartialOrder bool        `json:"allow_partial_order"`
}

// Validate rejects malformed requests before any storage access.
func (r CreateOrderRequest) Validate() *domain.Error {
	if len(r.BookIDs) == 0 {
		return domain.Invalid("at least one book is required")
	}
	if r.RentalDays < domain.MinRentalDays || r.RentalDays > domain.MaxRentalDays {
		return domain.Invalid("rental days must be between %d and %d", domain.MinRentalDays, domain.MaxRentalDays)
	}
	if r.CustomerID == uuid.Nil {
		return domain.Invalid("customer id is required")
	}
	return nil
}

// UnavailableBook is a requested book that could not be reserved.
type UnavailableBook struct {
	BookID uuid.UUID             `json:"book_id"`
	Reason domain.ReserveFailure `json:"reason"`
}

// BookingResult reports a CreateOrder attempt. On failure the processed and
// unavailable lists still describe what the scan found, but nothing was
// persisted.
type BookingResult struct {
	Success          bool              `json:"success"`
	OrderID          uuid.UUID         `json:"order_id,omitempty"`
	OrderNumber      string            `json:"order_number,omitempty"`
	ProcessedBooks   []uuid.UUID       `json:"processed_books"`
	UnavailableBooks []UnavailableBook `json:"unavailable_books"`
	IsPartialOrder   bool              `json:"is_partial_order"`
	Failure          *domain.Error     `json:"error,omitempty"`
}

// Outcome reports a lifecycle transition.
type Outcome struct {
	Success bool          `json:"success"`
	Failure *domain.Error `json:"error,omitempty"`
}

func succeeded() Outcome { return Outcome{Success: true} }

func failed(f *domain.Error) Outcome { return Outcome{Failure: f} }

func orderNotFound(id uuid.UUID) *domain.Error {
	return domain.NewError(domain.KindNotFound, domain.CodeOrderNotFound, "order not found").WithID(id)
}

func customerNotFound(id uuid.UUID) *domain.Error {
	return domain.NewError(domain.KindNotFound, domain.CodeCustomerNotFound, "customer not found").WithID(id)
}

func invalidState(id uuid.UUID, format string, args ...any) *domain.Error {
	return domain.NewError(domain.KindInvalidState, domain.CodeInvalidState, format, args...).WithID(id)
}

func bookUnavailable(bookID uuid.UUID, reason domain.ReserveFailure) *domain.Error {
	return domain.NewError(domain.KindInventoryUnavailable, domain.CodeBookUnavailable,
		"book cannot be reserved: %s", reason).WithID(bookID)
}
