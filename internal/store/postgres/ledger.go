// internal/store/postgres/ledger.go
package postgres

import (
	"context"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"

	"bookrental/internal/domain"
)

// reserveRaces bounds how often TryReserve re-reads a book that looked
// reservable but lost the conditional update to a concurrent writer.
const reserveRaces = 3

type ledger struct {
	books *repo[*domain.Book]
}

// TryReserve decrements stock in one conditional UPDATE, so concurrent
// reservations never oversell. When no row matches, the current row is read
// to report why.
func (l *ledger) TryReserve(ctx context.Context, bookID uuid.UUID, quantity int) (_ domain.ReserveFailure, err error) {
	if quantity < 1 {
		return domain.ReserveOK, domain.Invalid("quantity must be positive, got %d", quantity)
	}
	ctx, span := l.books.trace(ctx, "reserve")
	defer func() { endSpan(span, err) }()

	for i := 0; i < reserveRaces; i++ {
		n, err := l.books.exec(ctx, "reserve", dialect.Update(booksTable.meta.Name).Prepared(true).
			Set(goqu.Record{
				"stock":      goqu.L("stock - ?", quantity),
				"available":  goqu.L("CASE WHEN availability_override THEN available ELSE stock - ? > 0 END", quantity),
				colUpdatedAt: l.books.db.now(),
			}).
			Where(
				goqu.C(colID).Eq(bookID.String()),
				notDeleted(),
				goqu.C("available").IsTrue(),
				goqu.C("stock").Gte(quantity),
			))
		if err != nil {
			return domain.ReserveOK, err
		}
		if n == 1 {
			return domain.ReserveOK, nil
		}

		b, _, err := l.books.GetByIDIncludingDeleted(ctx, bookID)
		if err != nil {
			return domain.ReserveOK, err
		}
		if reason := domain.ClassifyReservation(b, quantity); reason != domain.ReserveOK {
			return reason, nil
		}
	}
	return domain.ReserveUnavailable, nil
}

func (l *ledger) Release(ctx context.Context, bookID uuid.UUID, quantity int) (_ bool, err error) {
	if quantity < 1 {
		return false, domain.Invalid("quantity must be positive, got %d", quantity)
	}
	ctx, span := l.books.trace(ctx, "release")
	defer func() { endSpan(span, err) }()

	n, err := l.books.exec(ctx, "release", dialect.Update(booksTable.meta.Name).Prepared(true).
		Set(goqu.Record{
			"stock":      goqu.L("stock + ?", quantity),
			"available":  goqu.L("CASE WHEN availability_override THEN available ELSE stock + ? > 0 END", quantity),
			colUpdatedAt: l.books.db.now(),
		}).
		Where(goqu.C(colID).Eq(bookID.String())))
	return n == 1, err
}

func (l *ledger) SetAvailability(ctx context.Context, bookID uuid.UUID, available, override bool) (_ bool, err error) {
	ctx, span := l.books.trace(ctx, "set_availability")
	defer func() { endSpan(span, err) }()

	value := goqu.L("stock > 0")
	if override {
		value = goqu.L("?", available)
	}
	n, err := l.books.exec(ctx, "set availability", dialect.Update(booksTable.meta.Name).Prepared(true).
		Set(goqu.Record{
			"available":             value,
			"availability_override": override,
			colUpdatedAt:            l.books.db.now(),
		}).
		Where(goqu.C(colID).Eq(bookID.String()), notDeleted()))
	return n == 1, err
}

func (l *ledger) SetStock(ctx context.Context, bookID uuid.UUID, stock int) (_ bool, err error) {
	if stock < 0 {
		return false, domain.Invalid("stock must not be negative, got %d", stock)
	}
	ctx, span := l.books.trace(ctx, "set_stock")
	defer func() { endSpan(span, err) }()

	n, err := l.books.exec(ctx, "set stock", dialect.Update(booksTable.meta.Name).Prepared(true).
		Set(goqu.Record{
			"stock":      stock,
			"available":  goqu.L("CASE WHEN availability_override THEN available ELSE ? > 0 END", stock),
			colUpdatedAt: l.books.db.now(),
		}).
		Where(goqu.C(colID).Eq(bookID.String()), notDeleted()))
	return n == 1, err
}
