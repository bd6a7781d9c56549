// internal/circulation/queries.go
package circulation

import (
	"context"
	"time"

	"github.com/google/uuid"

	"bookrental/internal/domain"
	"bookrental/internal/query"
	"bookrental/internal/store"
)

// GetOrder returns an active order together with its active line items.
func (s *service) GetOrder(ctx context.Context, orderID uuid.UUID) (*domain.RentalOrder, bool, error) {
	order, ok, err := s.db.Orders().GetByID(ctx, orderID)
	if err != nil || !ok {
		return nil, false, err
	}
	details, err := orderDetails(ctx, s.db, orderID)
	if err != nil {
		return nil, false, err
	}
	order.Details = details
	return order, true, nil
}

func (s *service) ListOrders(ctx context.Context, page query.Page) (query.Result[*domain.RentalOrder], error) {
	return store.PageOf(ctx, s.db.Orders().Query(), page)
}

func (s *service) OrdersByCustomer(ctx context.Context, customerID uuid.UUID, page query.Page) (query.Result[*domain.RentalOrder], error) {
	return store.PageOf(ctx, s.db.Orders().Query().Where(query.Eq("customer_id", customerID)), page)
}

// OverdueItems derives the overdue set at query time: unreturned line items
// past their due date whose order still holds inventory.
func (s *service) OverdueItems(ctx context.Context, now time.Time) ([]*domain.RentalOrderDetail, error) {
	candidates, err := s.db.Details().Query().
		Where(query.Eq("returned", false), query.Lt("due_date", now)).
		OrderBy("due_date", false).
		List(ctx)
	if err != nil {
		return nil, err
	}

	holds := make(map[uuid.UUID]bool)
	out := make([]*domain.RentalOrderDetail, 0, len(candidates))
	for _, d := range candidates {
		held, seen := holds[d.OrderID]
		if !seen {
			order, ok, err := s.db.Orders().GetByID(ctx, d.OrderID)
			if err != nil {
				return nil, err
			}
			held = ok && order.OrderStatus.HoldsInventory()
			holds[d.OrderID] = held
		}
		if held {
			out = append(out, d)
		}
	}
	return out, nil
}
