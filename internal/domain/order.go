// internal/domain/order.go
package domain

import "time"

// OrderStatus is the state of a rental order as a whole.
type OrderStatus string

const (
	OrderPending   OrderStatus = "Pending"
	OrderActive    OrderStatus = "Active"
	OrderReturned  OrderStatus = "Returned"
	OrderOverdue   OrderStatus = "Overdue"
	OrderCancelled OrderStatus = "Cancelled"
)

var orderStatuses = []OrderStatus{OrderPending, OrderActive, OrderReturned, OrderOverdue, OrderCancelled}

// ParseOrderStatus maps a name onto a defined order status.
func ParseOrderStatus(s string) (OrderStatus, bool) {
	for _, st := range orderStatuses {
		if string(st) == s {
			return st, true
		}
	}
	return "", false
}

// Valid reports whether s is a defined order status.
func (s OrderStatus) Valid() bool {
	_, ok := ParseOrderStatus(string(s))
	return ok
}

// HoldsInventory reports whether unreturned line items of an order in this
// status still account for reserved stock.
func (s OrderStatus) HoldsInventory() bool {
	return s == OrderActive || s == OrderOverdue
}

// Rental period bounds, in days.
const (
	MinRentalDays = 1
	MaxRentalDays = 365
)

// DueDateFor returns the due date of a rental starting at from.
func DueDateFor(from time.Time, rentalDays int) time.Time {
	return from.AddDate(0, 0, rentalDays)
}

// ReserveFailure explains why a reservation did not happen.
type ReserveFailure string

const (
	ReserveOK          ReserveFailure = ""
	ReserveNotFound    ReserveFailure = "NotFound"
	ReserveOutOfStock  ReserveFailure = "OutOfStock"
	ReserveUnavailable ReserveFailure = "Unavailable"
)

// ClassifyReservation picks the failure reason for a book that could not
// be reserved. The stock check takes precedence over the availability flag.
func ClassifyReservation(b *Book, quantity int) ReserveFailure {
	switch {
	case b == nil || b.IsDeleted():
		return ReserveNotFound
	case b.Stock < quantity:
		return ReserveOutOfStock
	case !b.Available:
		return ReserveUnavailable
	default:
		return ReserveOK
	}
}
