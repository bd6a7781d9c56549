// internal/store/postgres/history.go
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"bookrental/internal/domain"
	"bookrental/internal/store"
)

const (
	orderEventsTable      = "order_events"
	orderEventsVersionKey = "order_events_order_version_key"
)

type history struct {
	db  *DB
	run runner
}

// eventRecord is the scan target of order_events; event_data is read as raw
// bytes and copied so the driver buffer is never retained.
type eventRecord struct {
	ID        int64     `db:"id"`
	OrderID   uuid.UUID `db:"order_id"`
	Type      string    `db:"event_type"`
	Data      []byte    `db:"event_data"`
	Version   int       `db:"version"`
	CreatedAt time.Time `db:"created_at"`
}

func (h *history) trace(ctx context.Context, op string, orderID uuid.UUID) (context.Context, trace.Span) {
	return h.db.tracer.Start(ctx, "history."+op,
		trace.WithAttributes(attribute.String("order.id", orderID.String())))
}

func (h *history) Version(ctx context.Context, orderID uuid.UUID) (_ int, err error) {
	ctx, span := h.trace(ctx, "version", orderID)
	defer func() { endSpan(span, err) }()

	sqlText, args, err := dialect.From(orderEventsTable).Prepared(true).
		Select(goqu.COALESCE(goqu.MAX("version"), 0)).
		Where(goqu.C("order_id").Eq(orderID.String())).
		ToSQL()
	if err != nil {
		return 0, store.Fault("build history version", err)
	}
	ext, err := h.run.ext(ctx)
	if err != nil {
		return 0, err
	}
	var version int
	if err := sqlx.GetContext(ctx, ext, &version, sqlText, args...); err != nil {
		return 0, store.Fault("history version", err)
	}
	span.SetAttributes(attribute.Int("current.version", version))
	return version, nil
}

// Append checks the expected version and inserts the events. The unique
// (order_id, version) constraint catches appends that race past the check.
func (h *history) Append(ctx context.Context, orderID uuid.UUID, expectedVersion int, events ...domain.OrderEvent) (err error) {
	ctx, span := h.trace(ctx, "append", orderID)
	defer func() { endSpan(span, err) }()
	span.SetAttributes(
		attribute.Int("expected.version", expectedVersion),
		attribute.Int("event.count", len(events)))

	current, err := h.Version(ctx, orderID)
	if err != nil {
		return err
	}
	if current != expectedVersion {
		span.SetAttributes(attribute.Int("actual.version", current), attribute.Bool("conflict.detected", true))
		return store.Fault("append history", store.ErrVersionConflict)
	}

	ext, err := h.run.ext(ctx)
	if err != nil {
		return err
	}
	now := h.db.now()
	for i, e := range events {
		data := string(e.Data)
		if data == "" {
			data = "{}"
		}
		version := expectedVersion + i + 1
		sqlText, args, err := dialect.Insert(orderEventsTable).Prepared(true).
			Rows(goqu.Record{
				"order_id":   orderID.String(),
				"event_type": string(e.Type),
				"event_data": data,
				"version":    version,
				"created_at": now,
			}).
			Returning("id").
			ToSQL()
		if err != nil {
			return store.Fault("build append history", err)
		}
		var id int64
		if err := ext.QueryRowxContext(ctx, sqlText, args...).Scan(&id); err != nil {
			if code, constraint, ok := pgError(err); ok && code == codeUniqueViolation && constraint == orderEventsVersionKey {
				return store.Fault("append history", fmt.Errorf("%w: %w", store.ErrVersionConflict, err))
			}
			return classify("append history", err)
		}
		span.AddEvent("event.appended", trace.WithAttributes(
			attribute.Int64("event.id", id),
			attribute.Int("event.version", version),
			attribute.String("event.type", string(e.Type))))
	}
	h.db.logger.Debug("order history appended",
		zap.Stringer("order_id", orderID), zap.Int("version", expectedVersion+len(events)))
	return nil
}

func (h *history) Load(ctx context.Context, orderID uuid.UUID) (_ []domain.OrderEvent, err error) {
	ctx, span := h.trace(ctx, "load", orderID)
	defer func() { endSpan(span, err) }()

	sqlText, args, err := dialect.From(orderEventsTable).Prepared(true).
		Select("id", "order_id", "event_type", "event_data", "version", "created_at").
		Where(goqu.C("order_id").Eq(orderID.String())).
		Order(goqu.C("version").Asc()).
		ToSQL()
	if err != nil {
		return nil, store.Fault("build load history", err)
	}
	ext, err := h.run.ext(ctx)
	if err != nil {
		return nil, err
	}
	var records []eventRecord
	if err := sqlx.SelectContext(ctx, ext, &records, sqlText, args...); err != nil {
		return nil, store.Fault("load history", err)
	}
	events := make([]domain.OrderEvent, len(records))
	for i, r := range records {
		events[i] = domain.OrderEvent{
			ID:        r.ID,
			OrderID:   r.OrderID,
			Type:      domain.OrderEventType(r.Type),
			Data:      append([]byte(nil), r.Data...),
			Version:   r.Version,
			CreatedAt: r.CreatedAt,
		}
	}
	span.SetAttributes(attribute.Int("events.loaded", len(events)))
	return events, nil
}
