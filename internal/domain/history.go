// internal/domain/history.go
package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// OrderEventType names a change recorded in an order's history.
type OrderEventType string

const (
	EventOrderCreated   OrderEventType = "OrderCreated"
	EventBooksReturned  OrderEventType = "BooksReturned"
	EventStatusChanged  OrderEventType = "StatusChanged"
	EventOrderCancelled OrderEventType = "OrderCancelled"
	EventOrderUpdated   OrderEventType = "OrderUpdated"
	EventOrderDeleted   OrderEventType = "OrderDeleted"
	EventOrderRestored  OrderEventType = "OrderRestored"
)

// OrderEvent is one entry of an order's append-only history. History is
// kept for soft-deleted orders too.
type OrderEvent struct {
	ID        int64           `json:"id"`
	OrderID   uuid.UUID       `json:"order_id"`
	Type      OrderEventType  `json:"event_type"`
	Data      json.RawMessage `json:"event_data"`
	Version   int             `json:"version"`
	CreatedAt time.Time       `json:"created_at"`
}
