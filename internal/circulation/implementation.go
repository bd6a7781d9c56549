// internal/circulation/implementation.go
package circulation

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"bookrental/internal/domain"
	"bookrental/internal/store"
)

// maxOrderNumberAttempts bounds how often CreateOrder draws a fresh order
// number after a uniqueness conflict.
const maxOrderNumberAttempts = 3

var (
	// errRollback aborts a unit of work whose outcome is a domain failure.
	errRollback = errors.New("unit of work rolled back")
	// errOrderNumberTaken signals that the generated order number collided.
	errOrderNumberTaken = errors.New("order number already taken")
)

// service implements the Service interface.
type service struct {
	db     store.DB
	logger *zap.Logger
	tracer trace.Tracer
	now    func() time.Time
	number func(time.Time) string

	reservations metric.Int64Counter
	orders       metric.Int64Counter
}

// Option configures the circulation service.
type Option func(*service)

// WithLogger sets the service logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock replaces time.Now for order, due and return dates.
func WithClock(now func() time.Time) Option {
	return func(s *service) { s.now = now }
}

// WithOrderNumbers replaces the order number generator.
func WithOrderNumbers(gen func(time.Time) string) Option {
	return func(s *service) { s.number = gen }
}

// WithMeter records reservation and order counters on meter.
func WithMeter(meter metric.Meter) Option {
	return func(s *service) {
		if meter == nil {
			return
		}
		if c, err := meter.Int64Counter("bookrental.reservations",
			metric.WithDescription("Book reservation attempts by outcome")); err == nil {
			s.reservations = c
		}
		if c, err := meter.Int64Counter("bookrental.orders",
			metric.WithDescription("Order operations by operation and outcome")); err == nil {
			s.orders = c
		}
	}
}

// NewService creates a new circulation service instance.
func NewService(db store.DB, opts ...Option) Service {
	s := &service{
		db:     db,
		logger: zap.NewNop(),
		tracer: otel.Tracer("bookrental/circulation"),
		now:    func() time.Time { return time.Now().UTC() },
		number: NewOrderNumber,
	}
	WithMeter(noop.NewMeterProvider().Meter(""))(s)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewOrderNumber formats ORD-YYYYMMDDHHMMSS-XXXXXX with a random hex suffix.
// Uniqueness is enforced by storage, not by the generator.
func NewOrderNumber(at time.Time) string {
	u := uuid.New()
	return fmt.Sprintf("ORD-%s-%s", at.UTC().Format("20060102150405"), strings.ToUpper(hex.EncodeToString(u[10:13])))
}

// CreateOrder reserves every requested book and persists the order in one
// unit of work.
func (s *service) CreateOrder(ctx context.Context, req CreateOrderRequest) (*BookingResult, error) {
	ctx, span := s.tracer.Start(ctx, "circulation.CreateOrder",
		trace.WithAttributes(
			attribute.String("customer.id", req.CustomerID.String()),
			attribute.Int("books.requested", len(req.BookIDs)),
			attribute.Bool("order.allow_partial", req.AllowPartialOrder),
		))
	defer span.End()

	if f := req.Validate(); f != nil {
		s.count(ctx, "create", f)
		return &BookingResult{Failure: f}, nil
	}
	bookIDs := domain.DistinctIDs(req.BookIDs)

	res := &BookingResult{}
	for attempt := 1; ; attempt++ {
		err := s.db.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
			res = &BookingResult{ProcessedBooks: []uuid.UUID{}, UnavailableBooks: []UnavailableBook{}}
			return s.book(ctx, tx, req, bookIDs, res)
		})
		switch {
		case err == nil:
			span.SetAttributes(attribute.String("order.number", res.OrderNumber))
			s.count(ctx, "create", nil)
			s.logger.Info("order created",
				zap.Stringer("order_id", res.OrderID),
				zap.String("order_number", res.OrderNumber),
				zap.Stringer("customer_id", req.CustomerID),
				zap.Int("books", len(res.ProcessedBooks)),
				zap.Bool("partial", res.IsPartialOrder))
			return res, nil
		case errors.Is(err, errRollback):
			s.count(ctx, "create", res.Failure)
			s.logger.Warn("order rejected",
				zap.Stringer("customer_id", req.CustomerID),
				zap.String("code", res.Failure.Code),
				zap.Int("unavailable", len(res.UnavailableBooks)))
			return res, nil
		case errors.Is(err, errOrderNumberTaken) && attempt < maxOrderNumberAttempts:
			s.logger.Warn("order number collision, retrying", zap.Int("attempt", attempt))
			continue
		}

		if f, ok := domain.AsError(err); ok {
			s.count(ctx, "create", f)
			return &BookingResult{
				ProcessedBooks:   res.ProcessedBooks,
				UnavailableBooks: res.UnavailableBooks,
				Failure:          f,
			}, nil
		}
		if errors.Is(err, errOrderNumberTaken) {
			f := domain.Conflict(domain.CodeDuplicate, "could not allocate a unique order number")
			s.count(ctx, "create", f)
			return &BookingResult{Failure: f}, nil
		}
		span.RecordError(err)
		s.logger.Error("create order failed", zap.Stringer("customer_id", req.CustomerID), zap.Error(err))
		return nil, err
	}
}

// book is one attempt of CreateOrder inside a unit of work.
func (s *service) book(ctx context.Context, tx store.Tx, req CreateOrderRequest, bookIDs []uuid.UUID, res *BookingResult) error {
	ok, err := tx.Customers().Exists(ctx, req.CustomerID)
	if err != nil {
		return err
	}
	if !ok {
		res.Failure = customerNotFound(req.CustomerID)
		return errRollback
	}

	// Reserve in id order so concurrent bookings lock rows consistently;
	// report in request order.
	sorted := append([]uuid.UUID(nil), bookIDs...)
	sort.Slice(sorted, func(i, j int) bool { return bytes.Compare(sorted[i][:], sorted[j][:]) < 0 })
	reasons := make(map[uuid.UUID]domain.ReserveFailure, len(sorted))
	for _, id := range sorted {
		reason, err := tx.Ledger().TryReserve(ctx, id, 1)
		if err != nil {
			return err
		}
		reasons[id] = reason
		s.reservations.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", reservationOutcome(reason))))
	}
	for _, id := range bookIDs {
		if reason := reasons[id]; reason != domain.ReserveOK {
			res.UnavailableBooks = append(res.UnavailableBooks, UnavailableBook{BookID: id, Reason: reason})
			continue
		}
		res.ProcessedBooks = append(res.ProcessedBooks, id)
	}

	switch {
	case len(res.UnavailableBooks) > 0 && !req.AllowPartialOrder:
		res.Failure = domain.NewError(domain.KindInventoryUnavailable, domain.CodeBooksUnavailable,
			"%d of %d books are unavailable", len(res.UnavailableBooks), len(bookIDs))
		return errRollback
	case len(res.ProcessedBooks) == 0:
		res.Failure = domain.NewError(domain.KindInventoryUnavailable, domain.CodeNoBooksAvailable,
			"none of the requested books are available")
		return errRollback
	}

	now := s.now()
	order := &domain.RentalOrder{
		OrderNumber: s.number(now),
		CustomerID:  req.CustomerID,
		OrderDate:   now,
		DueDate:     domain.DueDateFor(now, req.RentalDays),
		OrderStatus: domain.OrderActive,
		Notes:       req.Notes,
	}
	if err := tx.Orders().Create(ctx, order); err != nil {
		if f, ok := domain.AsError(err); ok && f.Code == domain.CodeDuplicate {
			return errOrderNumberTaken
		}
		return err
	}
	for _, bookID := range res.ProcessedBooks {
		detail := &domain.RentalOrderDetail{
			OrderID:    order.ID,
			BookID:     bookID,
			Quantity:   1,
			RentalDays: req.RentalDays,
			DueDate:    order.DueDate,
		}
		if err := tx.Details().Create(ctx, detail); err != nil {
			return err
		}
	}
	if err := s.record(ctx, tx, order.ID, domain.EventOrderCreated, eventData{
		OrderNumber: order.OrderNumber,
		CustomerID:  &order.CustomerID,
		To:          order.OrderStatus,
		Books:       res.ProcessedBooks,
		RentalDays:  req.RentalDays,
	}); err != nil {
		return err
	}

	res.Success = true
	res.OrderID = order.ID
	res.OrderNumber = order.OrderNumber
	res.IsPartialOrder = len(res.UnavailableBooks) > 0
	return nil
}

func reservationOutcome(reason domain.ReserveFailure) string {
	if reason == domain.ReserveOK {
		return "reserved"
	}
	return string(reason)
}

func (s *service) count(ctx context.Context, op string, f *domain.Error) {
	outcome := "success"
	if f != nil {
		outcome = f.Code
	}
	s.orders.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", op),
		attribute.String("outcome", outcome)))
}
