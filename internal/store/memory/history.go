// internal/store/memory/history.go
package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/hashicorp/go-memdb"

	"bookrental/internal/domain"
	"bookrental/internal/store"
)

const (
	tableOrderEvents = "order_events"
	indexOrder       = "order_id"
)

// eventRow stores one order event; Key orders events by version.
type eventRow struct {
	Key     string
	OrderID string
	Event   domain.OrderEvent
}

type history struct {
	v view
}

func eventsOf(txn *memdb.Txn, orderID uuid.UUID) ([]domain.OrderEvent, error) {
	it, err := txn.Get(tableOrderEvents, indexOrder, orderID.String())
	if err != nil {
		return nil, store.Fault("scan "+tableOrderEvents, err)
	}
	var out []domain.OrderEvent
	for obj := it.Next(); obj != nil; obj = it.Next() {
		e := obj.(*eventRow).Event
		e.Data = append([]byte(nil), e.Data...)
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

func (h *history) Version(ctx context.Context, orderID uuid.UUID) (int, error) {
	if err := live(ctx, "history version"); err != nil {
		return 0, err
	}
	version := 0
	err := h.v.read(func(txn *memdb.Txn) error {
		events, err := eventsOf(txn, orderID)
		if err != nil {
			return err
		}
		if n := len(events); n > 0 {
			version = events[n-1].Version
		}
		return nil
	})
	return version, err
}

func (h *history) Append(ctx context.Context, orderID uuid.UUID, expectedVersion int, events ...domain.OrderEvent) error {
	if err := live(ctx, "append history"); err != nil {
		return err
	}
	return h.v.write(func(txn *memdb.Txn) error {
		current, err := eventsOf(txn, orderID)
		if err != nil {
			return err
		}
		if len(current) != expectedVersion {
			return store.Fault("append history", store.ErrVersionConflict)
		}
		if err := h.v.db.checkFault("append history", tableOrderEvents); err != nil {
			return err
		}
		now := h.v.db.now()
		for i, e := range events {
			e.ID = h.v.db.eventSeq.Add(1)
			e.OrderID = orderID
			e.Version = expectedVersion + i + 1
			e.CreatedAt = now
			e.Data = append([]byte(nil), e.Data...)
			rw := &eventRow{Key: fmt.Sprintf("%s/%010d", orderID, e.Version), OrderID: orderID.String(), Event: e}
			if err := txn.Insert(tableOrderEvents, rw); err != nil {
				return store.Fault("append history", err)
			}
		}
		return nil
	})
}

func (h *history) Load(ctx context.Context, orderID uuid.UUID) ([]domain.OrderEvent, error) {
	if err := live(ctx, "load history"); err != nil {
		return nil, err
	}
	var out []domain.OrderEvent
	err := h.v.read(func(txn *memdb.Txn) error {
		var err error
		out, err = eventsOf(txn, orderID)
		return err
	})
	return out, err
}
