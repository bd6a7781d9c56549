// internal/circulation/history.go
package circulation

import (
	"context"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"bookrental/internal/domain"
	"bookrental/internal/store"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// eventData is the payload of an order history event. Only the fields a
// given event type uses are set.
type eventData struct {
	OrderNumber string             `json:"order_number,omitempty"`
	CustomerID  *uuid.UUID         `json:"customer_id,omitempty"`
	From        domain.OrderStatus `json:"from,omitempty"`
	To          domain.OrderStatus `json:"to,omitempty"`
	Books       []uuid.UUID        `json:"books,omitempty"`
	Released    []uuid.UUID        `json:"released,omitempty"`
	Reserved    []uuid.UUID        `json:"reserved,omitempty"`
	RentalDays  int                `json:"rental_days,omitempty"`
	Notes       *string            `json:"notes,omitempty"`
}

// record appends one event to the order's history inside tx, so the event
// commits or rolls back with the change it describes.
func (s *service) record(ctx context.Context, tx store.Tx, orderID uuid.UUID, typ domain.OrderEventType, data eventData) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return store.Fault("encode "+string(typ), err)
	}
	version, err := tx.History().Version(ctx, orderID)
	if err != nil {
		return err
	}
	if err := tx.History().Append(ctx, orderID, version, domain.OrderEvent{Type: typ, Data: payload}); err != nil {
		s.logger.Warn("order history append failed",
			zap.Stringer("order_id", orderID), zap.String("event", string(typ)), zap.Error(err))
		return err
	}
	return nil
}

// History returns the order's events oldest first. Deleted orders keep
// their history; ok is false only for an order that never existed.
func (s *service) History(ctx context.Context, orderID uuid.UUID) ([]domain.OrderEvent, bool, error) {
	_, ok, err := s.db.Orders().GetByIDIncludingDeleted(ctx, orderID)
	if err != nil || !ok {
		return nil, false, err
	}
	events, err := s.db.History().Load(ctx, orderID)
	if err != nil {
		return nil, false, err
	}
	if events == nil {
		events = []domain.OrderEvent{}
	}
	return events, true, nil
}
