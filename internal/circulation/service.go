// internal/circulation/service.go
package circulation

import (
	"context"
	"time"

	"github.com/google/uuid"

	"bookrental/internal/domain"
	"bookrental/internal/query"
)

// Service defines the booking and order lifecycle operations.
//
// Domain outcomes are reported inside the returned result; the error return
// is reserved for storage faults.
type Service interface {
	CreateOrder(ctx context.Context, req CreateOrderRequest) (*BookingResult, error)

	ReturnBooks(ctx context.Context, orderID uuid.UUID, bookIDs []uuid.UUID) (Outcome, error)
	SetStatus(ctx context.Context, orderID uuid.UUID, status domain.OrderStatus) (Outcome, error)
	Cancel(ctx context.Context, orderID uuid.UUID) (Outcome, error)
	UpdateOrder(ctx context.Context, orderID uuid.UUID, patch domain.OrderPatch) (Outcome, error)
	DeleteOrder(ctx context.Context, orderID uuid.UUID) (Outcome, error)
	RestoreOrder(ctx context.Context, orderID uuid.UUID) (Outcome, error)

	GetOrder(ctx context.Context, orderID uuid.UUID) (*domain.RentalOrder, bool, error)
	// History lists the recorded changes of an order, deleted or not.
	History(ctx context.Context, orderID uuid.UUID) ([]domain.OrderEvent, bool, error)
	ListOrders(ctx context.Context, page query.Page) (query.Result[*domain.RentalOrder], error)
	OrdersByCustomer(ctx context.Context, customerID uuid.UUID, page query.Page) (query.Result[*domain.RentalOrder], error)
	OverdueItems(ctx context.Context, now time.Time) ([]*domain.RentalOrderDetail, error)
}
