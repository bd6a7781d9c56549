// internal/store/memory/ledger.go
package memory

import (
	"context"

	"github.com/google/uuid"
	"github.com/hashicorp/go-memdb"

	"bookrental/internal/domain"
)

type ledger struct {
	books *repo[*domain.Book]
}

func (l *ledger) TryReserve(ctx context.Context, bookID uuid.UUID, quantity int) (domain.ReserveFailure, error) {
	if quantity < 1 {
		return domain.ReserveOK, domain.Invalid("quantity must be positive, got %d", quantity)
	}
	if err := live(ctx, "reserve"); err != nil {
		return domain.ReserveOK, err
	}
	reason := domain.ReserveOK
	err := l.books.v().write(func(txn *memdb.Txn) error {
		b, _, err := l.books.get(txn, bookID)
		if err != nil {
			return err
		}
		if reason = domain.ClassifyReservation(b, quantity); reason != domain.ReserveOK {
			return nil
		}
		next := clone(b)
		next.Stock -= quantity
		next.RecomputeAvailability()
		next.UpdatedAt = l.books.db.now()
		return l.books.put(txn, "reserve", next)
	})
	return reason, err
}

func (l *ledger) Release(ctx context.Context, bookID uuid.UUID, quantity int) (bool, error) {
	if quantity < 1 {
		return false, domain.Invalid("quantity must be positive, got %d", quantity)
	}
	if err := live(ctx, "release"); err != nil {
		return false, err
	}
	released := false
	err := l.books.v().write(func(txn *memdb.Txn) error {
		b, ok, err := l.books.get(txn, bookID)
		if err != nil || !ok {
			return err
		}
		next := clone(b)
		next.Stock += quantity
		next.RecomputeAvailability()
		next.UpdatedAt = l.books.db.now()
		if err := l.books.put(txn, "release", next); err != nil {
			return err
		}
		released = true
		return nil
	})
	return released, err
}

func (l *ledger) SetAvailability(ctx context.Context, bookID uuid.UUID, available, override bool) (bool, error) {
	if err := live(ctx, "set availability"); err != nil {
		return false, err
	}
	changed := false
	err := l.books.v().write(func(txn *memdb.Txn) error {
		b, ok, err := l.books.get(txn, bookID)
		if err != nil || !ok || b.IsDeleted() {
			return err
		}
		next := clone(b)
		next.AvailabilityOverride = override
		if override {
			next.Available = available
		} else {
			next.RecomputeAvailability()
		}
		next.UpdatedAt = l.books.db.now()
		if err := l.books.put(txn, "set availability", next); err != nil {
			return err
		}
		changed = true
		return nil
	})
	return changed, err
}

func (l *ledger) SetStock(ctx context.Context, bookID uuid.UUID, stock int) (bool, error) {
	if stock < 0 {
		return false, domain.Invalid("stock must not be negative, got %d", stock)
	}
	if err := live(ctx, "set stock"); err != nil {
		return false, err
	}
	changed := false
	err := l.books.v().write(func(txn *memdb.Txn) error {
		b, ok, err := l.books.get(txn, bookID)
		if err != nil || !ok || b.IsDeleted() {
			return err
		}
		next := clone(b)
		next.Stock = stock
		next.RecomputeAvailability()
		next.UpdatedAt = l.books.db.now()
		if err := l.books.put(txn, "set stock", next); err != nil {
			return err
		}
		changed = true
		return nil
	})
	return changed, err
}
