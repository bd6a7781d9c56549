// internal/circulation/lifecycle.go
package circulation

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"bookrental/internal/domain"
	"bookrental/internal/query"
	"bookrental/internal/store"
)

// step is the body of one lifecycle transition. A non-nil failure rolls the
// unit of work back.
type step func(ctx context.Context, tx store.Tx) (*domain.Error, error)

// transition runs fn as one unit of work and folds its result into an Outcome.
func (s *service) transition(ctx context.Context, op string, orderID uuid.UUID, fn step) (Outcome, error) {
	ctx, span := s.tracer.Start(ctx, "circulation."+op,
		trace.WithAttributes(attribute.String("order.id", orderID.String())))
	defer span.End()

	var failure *domain.Error
	err := s.db.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		f, err := fn(ctx, tx)
		failure = f
		if err != nil {
			return err
		}
		if f != nil {
			return errRollback
		}
		return nil
	})
	if err != nil && !errors.Is(err, errRollback) {
		f, ok := domain.AsError(err)
		if !ok {
			span.RecordError(err)
			s.logger.Error("order transition failed",
				zap.String("op", op), zap.Stringer("order_id", orderID), zap.Error(err))
			return Outcome{}, err
		}
		failure = f
	}
	s.count(ctx, op, failure)
	if failure != nil {
		s.logger.Warn("order transition rejected",
			zap.String("op", op), zap.Stringer("order_id", orderID), zap.String("code", failure.Code))
		return failed(failure), nil
	}
	s.logger.Info("order transition applied", zap.String("op", op), zap.Stringer("order_id", orderID))
	return succeeded(), nil
}

// activeOrder loads a non-deleted order.
func activeOrder(ctx context.Context, tx store.Tx, id uuid.UUID) (*domain.RentalOrder, *domain.Error, error) {
	order, ok, err := tx.Orders().GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, orderNotFound(id), nil
	}
	return order, nil, nil
}

// orderDetails lists the non-deleted line items of an order.
func orderDetails(ctx context.Context, tx store.Tx, orderID uuid.UUID) ([]*domain.RentalOrderDetail, error) {
	return tx.Details().Find(ctx, query.Eq("order_id", orderID))
}

func (s *service) release(ctx context.Context, tx store.Tx, d *domain.RentalOrderDetail) error {
	ok, err := tx.Ledger().Release(ctx, d.BookID, d.Quantity)
	if err != nil {
		return err
	}
	if !ok {
		s.logger.Warn("released book no longer exists", zap.Stringer("book_id", d.BookID))
	}
	return nil
}

// releaseOpen returns the stock held by every unreturned line item and
// reports the books released. Orders that hold no inventory release
// nothing. When markReturned is set the items are also flagged as
// physically back.
func (s *service) releaseOpen(ctx context.Context, tx store.Tx, order *domain.RentalOrder, details []*domain.RentalOrderDetail, markReturned bool) ([]uuid.UUID, error) {
	now := s.now()
	var released []uuid.UUID
	for _, d := range details {
		if d.Returned {
			continue
		}
		if order.OrderStatus.HoldsInventory() {
			if err := s.release(ctx, tx, d); err != nil {
				return nil, err
			}
			released = append(released, d.BookID)
		}
		if markReturned {
			d.MarkReturned(now)
			if _, err := tx.Details().Update(ctx, d); err != nil {
				return nil, err
			}
		}
	}
	return released, nil
}

// reserveOpen takes stock again for every unreturned line item of an order
// that is about to hold inventory.
func (s *service) reserveOpen(ctx context.Context, tx store.Tx, details []*domain.RentalOrderDetail) ([]uuid.UUID, *domain.Error, error) {
	var reserved []uuid.UUID
	for _, d := range details {
		if d.Returned {
			continue
		}
		reason, err := tx.Ledger().TryReserve(ctx, d.BookID, d.Quantity)
		if err != nil {
			return nil, nil, err
		}
		if reason != domain.ReserveOK {
			return nil, bookUnavailable(d.BookID, reason), nil
		}
		reserved = append(reserved, d.BookID)
	}
	return reserved, nil, nil
}

func (s *service) ReturnBooks(ctx context.Context, orderID uuid.UUID, bookIDs []uuid.UUID) (Outcome, error) {
	return s.transition(ctx, "return", orderID, func(ctx context.Context, tx store.Tx) (*domain.Error, error) {
		if len(bookIDs) == 0 {
			return domain.Invalid("at least one book is required"), nil
		}
		order, f, err := activeOrder(ctx, tx, orderID)
		if f != nil || err != nil {
			return f, err
		}
		if !order.OrderStatus.HoldsInventory() {
			return invalidState(orderID, "cannot return books of a %s order", order.OrderStatus), nil
		}
		details, err := orderDetails(ctx, tx, orderID)
		if err != nil {
			return nil, err
		}

		wanted := make(map[uuid.UUID]bool, len(bookIDs))
		for _, id := range bookIDs {
			wanted[id] = true
		}
		now := s.now()
		var matched []uuid.UUID
		allReturned := true
		for _, d := range details {
			if !d.Returned && wanted[d.BookID] {
				d.MarkReturned(now)
				if _, err := tx.Details().Update(ctx, d); err != nil {
					return nil, err
				}
				if err := s.release(ctx, tx, d); err != nil {
					return nil, err
				}
				matched = append(matched, d.BookID)
			}
			allReturned = allReturned && d.Returned
		}
		if len(matched) == 0 {
			return domain.NewError(domain.KindInvalidState, domain.CodeNoMatchingItems,
				"no unreturned line item matches the given books").WithID(orderID), nil
		}
		if err := s.record(ctx, tx, orderID, domain.EventBooksReturned, eventData{Books: matched}); err != nil {
			return nil, err
		}

		if allReturned {
			from := order.OrderStatus
			order.OrderStatus = domain.OrderReturned
			order.ReturnDate = &now
			if _, err := tx.Orders().Update(ctx, order); err != nil {
				return nil, err
			}
			if err := s.record(ctx, tx, orderID, domain.EventStatusChanged, eventData{From: from, To: order.OrderStatus}); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
}

func (s *service) SetStatus(ctx context.Context, orderID uuid.UUID, status domain.OrderStatus) (Outcome, error) {
	return s.transition(ctx, "set_status", orderID, func(ctx context.Context, tx store.Tx) (*domain.Error, error) {
		if !status.Valid() {
			return domain.Invalid("unknown order status %q", status), nil
		}
		order, f, err := activeOrder(ctx, tx, orderID)
		if f != nil || err != nil {
			return f, err
		}
		if order.OrderStatus == status {
			return nil, nil
		}
		if order.OrderStatus == domain.OrderCancelled {
			return invalidState(orderID, "a cancelled order cannot become %s", status), nil
		}

		details, err := orderDetails(ctx, tx, orderID)
		if err != nil {
			return nil, err
		}
		change := eventData{From: order.OrderStatus, To: status}
		switch {
		case status == domain.OrderReturned || status == domain.OrderCancelled:
			if change.Released, err = s.releaseOpen(ctx, tx, order, details, status == domain.OrderReturned); err != nil {
				return nil, err
			}
			if status == domain.OrderReturned {
				now := s.now()
				order.ReturnDate = &now
			}
		case order.OrderStatus.HoldsInventory() && !status.HoldsInventory():
			// Leaving the holding states (to Pending) gives the stock back.
			if change.Released, err = s.releaseOpen(ctx, tx, order, details, false); err != nil {
				return nil, err
			}
		case !order.OrderStatus.HoldsInventory() && status.HoldsInventory():
			var f *domain.Error
			if change.Reserved, f, err = s.reserveOpen(ctx, tx, details); f != nil || err != nil {
				return f, err
			}
		}
		order.OrderStatus = status
		if _, err := tx.Orders().Update(ctx, order); err != nil {
			return nil, err
		}
		return nil, s.record(ctx, tx, orderID, domain.EventStatusChanged, change)
	})
}

func (s *service) Cancel(ctx context.Context, orderID uuid.UUID) (Outcome, error) {
	return s.transition(ctx, "cancel", orderID, func(ctx context.Context, tx store.Tx) (*domain.Error, error) {
		order, f, err := activeOrder(ctx, tx, orderID)
		if f != nil || err != nil {
			return f, err
		}
		if order.OrderStatus != domain.OrderActive {
			return invalidState(orderID, "only active orders can be cancelled, order is %s", order.OrderStatus), nil
		}
		details, err := orderDetails(ctx, tx, orderID)
		if err != nil {
			return nil, err
		}
		released, err := s.releaseOpen(ctx, tx, order, details, false)
		if err != nil {
			return nil, err
		}
		order.OrderStatus = domain.OrderCancelled
		if _, err := tx.Orders().Update(ctx, order); err != nil {
			return nil, err
		}
		return nil, s.record(ctx, tx, orderID, domain.EventOrderCancelled,
			eventData{From: domain.OrderActive, To: domain.OrderCancelled, Released: released})
	})
}

func (s *service) UpdateOrder(ctx context.Context, orderID uuid.UUID, patch domain.OrderPatch) (Outcome, error) {
	return s.transition(ctx, "update", orderID, func(ctx context.Context, tx store.Tx) (*domain.Error, error) {
		if f := patch.Validate(); f != nil {
			return f, nil
		}
		order, f, err := activeOrder(ctx, tx, orderID)
		if f != nil || err != nil {
			return f, err
		}
		if order.OrderStatus != domain.OrderActive {
			return invalidState(orderID, "only active orders can be updated, order is %s", order.OrderStatus), nil
		}

		if patch.CustomerID != nil && *patch.CustomerID != order.CustomerID {
			ok, err := tx.Customers().Exists(ctx, *patch.CustomerID)
			if err != nil {
				return nil, err
			}
			if !ok {
				return customerNotFound(*patch.CustomerID), nil
			}
			order.CustomerID = *patch.CustomerID
		}
		if patch.Notes != nil {
			order.Notes = *patch.Notes
		}
		change := eventData{CustomerID: patch.CustomerID, Notes: patch.Notes}

		details, err := orderDetails(ctx, tx, orderID)
		if err != nil {
			return nil, err
		}
		rentalDays := 0
		if patch.RentalDays != nil {
			rentalDays = *patch.RentalDays
			change.RentalDays = rentalDays
			order.DueDate = domain.DueDateFor(order.OrderDate, rentalDays)
			for _, d := range details {
				if d.Returned {
					continue
				}
				d.RentalDays = rentalDays
				d.DueDate = order.DueDate
				if _, err := tx.Details().Update(ctx, d); err != nil {
					return nil, err
				}
			}
		}

		if patch.BookIDs != nil {
			change.Books = domain.DistinctIDs(*patch.BookIDs)
			var f *domain.Error
			if change.Released, change.Reserved, f, err = s.reconcileBooks(ctx, tx, order, details, change.Books, rentalDays); f != nil || err != nil {
				return f, err
			}
		}

		if _, err := tx.Orders().Update(ctx, order); err != nil {
			return nil, err
		}
		return nil, s.record(ctx, tx, orderID, domain.EventOrderUpdated, change)
	})
}

// reconcileBooks makes the order's open book set equal to desired. A book
// whose line item was already returned is put back on loan through that
// same line item, since an order holds at most one line item per book.
func (s *service) reconcileBooks(ctx context.Context, tx store.Tx, order *domain.RentalOrder, details []*domain.RentalOrderDetail, desired []uuid.UUID, rentalDays int) (released, reserved []uuid.UUID, _ *domain.Error, _ error) {
	keep := make(map[uuid.UUID]bool, len(desired))
	for _, id := range desired {
		keep[id] = true
	}
	open := make(map[uuid.UUID]bool, len(details))
	closed := make(map[uuid.UUID]*domain.RentalOrderDetail)
	now := s.now()
	for _, d := range details {
		if d.Returned {
			closed[d.BookID] = d
			continue
		}
		open[d.BookID] = true
		if keep[d.BookID] {
			continue
		}
		d.MarkReturned(now)
		if _, err := tx.Details().Update(ctx, d); err != nil {
			return nil, nil, nil, err
		}
		if err := s.release(ctx, tx, d); err != nil {
			return nil, nil, nil, err
		}
		released = append(released, d.BookID)
	}

	if rentalDays == 0 {
		rentalDays = orderRentalDays(order, details)
	}
	for _, bookID := range desired {
		if open[bookID] {
			continue
		}
		reason, err := tx.Ledger().TryReserve(ctx, bookID, 1)
		if err != nil {
			return nil, nil, nil, err
		}
		if reason != domain.ReserveOK {
			return nil, nil, bookUnavailable(bookID, reason), nil
		}
		reserved = append(reserved, bookID)
		if d := closed[bookID]; d != nil {
			d.Reopen(order.DueDate, rentalDays)
			if _, err := tx.Details().Update(ctx, d); err != nil {
				return nil, nil, nil, err
			}
			continue
		}
		detail := &domain.RentalOrderDetail{
			OrderID:    order.ID,
			BookID:     bookID,
			Quantity:   1,
			RentalDays: rentalDays,
			DueDate:    order.DueDate,
		}
		if err := tx.Details().Create(ctx, detail); err != nil {
			return nil, nil, nil, err
		}
	}
	return released, reserved, nil, nil
}

// orderRentalDays recovers the rental period of an order for new line items.
func orderRentalDays(order *domain.RentalOrder, details []*domain.RentalOrderDetail) int {
	for _, d := range details {
		if d.RentalDays >= domain.MinRentalDays {
			return d.RentalDays
		}
	}
	days := int(order.DueDate.Sub(order.OrderDate).Hours() / 24)
	if days < domain.MinRentalDays {
		return domain.MinRentalDays
	}
	if days > domain.MaxRentalDays {
		return domain.MaxRentalDays
	}
	return days
}

func (s *service) DeleteOrder(ctx context.Context, orderID uuid.UUID) (Outcome, error) {
	return s.transition(ctx, "delete", orderID, func(ctx context.Context, tx store.Tx) (*domain.Error, error) {
		order, ok, err := tx.Orders().GetByIDIncludingDeleted(ctx, orderID)
		if err != nil {
			return nil, err
		}
		switch {
		case !ok:
			return orderNotFound(orderID), nil
		case order.IsDeleted():
			return domain.NewError(domain.KindInvalidState, domain.CodeAlreadyDeleted, "order is already deleted").WithID(orderID), nil
		case order.OrderStatus == domain.OrderCancelled:
			return invalidState(orderID, "cancelled orders cannot be deleted"), nil
		}

		details, err := orderDetails(ctx, tx, orderID)
		if err != nil {
			return nil, err
		}
		released, err := s.releaseOpen(ctx, tx, order, details, false)
		if err != nil {
			return nil, err
		}
		for _, d := range details {
			if _, err := tx.Details().SoftDelete(ctx, d.ID); err != nil {
				return nil, err
			}
		}
		if _, err := tx.Orders().SoftDelete(ctx, orderID); err != nil {
			return nil, err
		}
		return nil, s.record(ctx, tx, orderID, domain.EventOrderDeleted, eventData{Released: released})
	})
}

func (s *service) RestoreOrder(ctx context.Context, orderID uuid.UUID) (Outcome, error) {
	return s.transition(ctx, "restore", orderID, func(ctx context.Context, tx store.Tx) (*domain.Error, error) {
		order, ok, err := tx.Orders().GetByIDIncludingDeleted(ctx, orderID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return orderNotFound(orderID), nil
		}
		if !order.IsDeleted() {
			return domain.NewError(domain.KindInvalidState, domain.CodeNotDeleted, "order is not deleted").WithID(orderID), nil
		}
		if _, err := tx.Orders().Restore(ctx, orderID); err != nil {
			return nil, err
		}

		deleted, err := tx.Details().QueryIncludingDeleted().
			Where(query.Eq("order_id", orderID), query.Eq("status", domain.StatusDeleted)).
			List(ctx)
		if err != nil {
			return nil, err
		}
		var reserved []uuid.UUID
		for _, d := range deleted {
			if _, err := tx.Details().Restore(ctx, d.ID); err != nil {
				return nil, err
			}
			if d.Returned || !order.OrderStatus.HoldsInventory() {
				continue
			}
			reason, err := tx.Ledger().TryReserve(ctx, d.BookID, d.Quantity)
			if err != nil {
				return nil, err
			}
			if reason != domain.ReserveOK {
				return bookUnavailable(d.BookID, reason), nil
			}
			reserved = append(reserved, d.BookID)
		}
		return nil, s.record(ctx, tx, orderID, domain.EventOrderRestored, eventData{Reserved: reserved})
	})
}
