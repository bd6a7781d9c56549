// internal/chaos/experiments.go
package chaos

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"bookrental/internal/circulation"
	"bookrental/internal/domain"
	"bookrental/internal/query"
)

// Target is the rental engine under test: a fault-injecting store and the
// circulation service running on top of it.
type Target struct {
	DB       *FaultyDB
	Orders   circulation.Service
	customer uuid.UUID
}

// NewTarget seeds a customer that experiments book for.
func NewTarget(ctx context.Context, db *FaultyDB, orders circulation.Service) (*Target, error) {
	c := &domain.Customer{
		Email: fmt.Sprintf("chaos-%s@example.com", uuid.NewString()[:8]),
		DNI:   "CHAOS-" + uuid.NewString()[:8],
		Name:  "Chaos Monkey",
		Age:   30,
	}
	if err := db.Customers().Create(ctx, c); err != nil {
		return nil, fmt.Errorf("failed to seed customer: %w", err)
	}
	return &Target{DB: db, Orders: orders, customer: c.ID}, nil
}

func (t *Target) seedBook(ctx context.Context, title string, stock int) (uuid.UUID, error) {
	b := &domain.Book{Title: title, Author: "Chaos", Stock: stock}
	b.RecomputeAvailability()
	if err := t.DB.Books().Create(ctx, b); err != nil {
		return uuid.Nil, fmt.Errorf("failed to seed book: %w", err)
	}
	return b.ID, nil
}

func (t *Target) book(ctx context.Context, bookID uuid.UUID) (*circulation.BookingResult, error) {
	return t.Orders.CreateOrder(ctx, circulation.CreateOrderRequest{
		CustomerID: t.customer,
		BookIDs:    []uuid.UUID{bookID},
		RentalDays: 1,
		Notes:      "chaos experiment",
	})
}

// ledgerDrift compares the copies a book started with against the copies on
// the shelf plus the copies held by open line items.
func (t *Target) ledgerDrift(ctx context.Context, bookID uuid.UUID, initial int) (float64, error) {
	b, ok, err := t.DB.Books().GetByIDIncludingDeleted(ctx, bookID)
	if err != nil || !ok {
		return -1, fmt.Errorf("book %s unreadable: %v", bookID, err)
	}
	details, err := t.DB.Details().Find(ctx, query.Eq("book_id", bookID), query.Eq("returned", false))
	if err != nil {
		return -1, err
	}
	held := 0
	for _, d := range details {
		o, ok, err := t.DB.Orders().GetByID(ctx, d.OrderID)
		if err != nil {
			return -1, err
		}
		if ok && o.OrderStatus.HoldsInventory() {
			held += d.Quantity
		}
	}
	return math.Abs(float64(initial - (b.Stock + held))), nil
}

func (t *Target) driftGauge(bookID uuid.UUID, initial int) Gauge {
	return Gauge{
		Name:      "ledger_drift",
		Query:     func(ctx context.Context) (float64, error) { return t.ledgerDrift(ctx, bookID, initial) },
		Threshold: Threshold{Operator: "==", Value: 0},
	}
}

// bookingGauge books one copy and cancels it again within budget; 100 means
// the round trip succeeded.
func (t *Target) bookingGauge(bookID uuid.UUID, budget time.Duration) Gauge {
	return Gauge{
		Name: "booking_success_rate",
		Query: func(ctx context.Context) (float64, error) {
			ctx, cancel := context.WithTimeout(ctx, budget)
			defer cancel()
			res, err := t.book(ctx, bookID)
			if err != nil || !res.Success {
				return 0, nil
			}
			if out, err := t.Orders.Cancel(ctx, res.OrderID); err != nil || !out.Success {
				return 0, nil
			}
			return 100, nil
		},
		Threshold: Threshold{Operator: ">=", Value: 100},
	}
}

// ReservationRace fires concurrency simultaneous bookings at a book with
// stock copies. No more than stock bookings may succeed and the ledger must
// balance afterwards.
func (t *Target) ReservationRace(ctx context.Context, concurrency, stock int) (Experiment, error) {
	bookID, err := t.seedBook(ctx, "Race Condition", stock)
	if err != nil {
		return Experiment{}, err
	}
	var booked atomic.Int64

	return Experiment{
		Name:       "concurrent-reservation-race",
		Hypothesis: "Concurrent bookings never oversell a book",
		SteadyState: []Gauge{
			t.driftGauge(bookID, stock),
			{
				Name:      "oversold_copies",
				Query:     func(context.Context) (float64, error) { return math.Max(0, float64(booked.Load()-int64(stock))), nil },
				Threshold: Threshold{Operator: "==", Value: 0},
			},
		},
		Method: []Action{{
			Type:   "concurrent-requests",
			Target: "circulation",
			Execute: func(ctx context.Context) error {
				var (
					wg     sync.WaitGroup
					faults atomic.Int64
				)
				for i := 0; i < concurrency; i++ {
					wg.Add(1)
					go func() {
						defer wg.Done()
						res, err := t.book(ctx, bookID)
						switch {
						case err != nil:
							faults.Add(1)
						case res.Success:
							booked.Add(1)
						}
					}()
				}
				wg.Wait()
				if n := faults.Load(); n > 0 {
					return fmt.Errorf("%d of %d bookings hit storage faults", n, concurrency)
				}
				return nil
			},
		}},
		Duration: time.Second,
		Interval: 200 * time.Millisecond,
	}, nil
}

// StorageLatency slows every unit of work by latency. Bookings must still
// complete within budget.
func (t *Target) StorageLatency(ctx context.Context, latency, budget time.Duration) (Experiment, error) {
	bookID, err := t.seedBook(ctx, "Slow Read", 1)
	if err != nil {
		return Experiment{}, err
	}
	return Experiment{
		Name:        "storage-latency-injection",
		Hypothesis:  "Bookings degrade gracefully while storage latency stays below the request budget",
		SteadyState: []Gauge{t.bookingGauge(bookID, budget), t.driftGauge(bookID, 1)},
		Method: []Action{{
			Type:    "latency",
			Target:  "store",
			Execute: func(context.Context) error { t.DB.SetLatency(latency); return nil },
		}},
		Rollback: []Action{{
			Type:    "heal",
			Target:  "store",
			Execute: func(context.Context) error { t.DB.Heal(); return nil },
		}},
		Duration: 2 * time.Second,
		Interval: 250 * time.Millisecond,
	}, nil
}

// StorageOutage fails every unit of work. Bookings fail while it lasts but
// no copy may leak, and bookings succeed again once storage heals.
func (t *Target) StorageOutage(ctx context.Context) (Experiment, error) {
	bookID, err := t.seedBook(ctx, "Outage", 3)
	if err != nil {
		return Experiment{}, err
	}
	return Experiment{
		Name:        "storage-outage",
		Hypothesis:  "A storage outage leaks no inventory and bookings recover afterwards",
		SteadyState: []Gauge{t.bookingGauge(bookID, time.Second), t.driftGauge(bookID, 3)},
		Method: []Action{{
			Type:    "failure",
			Target:  "store",
			Execute: func(context.Context) error { t.DB.SetFailureRate(1); return nil },
		}},
		Rollback: []Action{{
			Type:    "heal",
			Target:  "store",
			Execute: func(context.Context) error { t.DB.Heal(); return nil },
		}},
		Duration: time.Second,
		Interval: 250 * time.Millisecond,
	}, nil
}

// Experiments builds the standard game day scenarios.
func (t *Target) Experiments(ctx context.Context) ([]Experiment, error) {
	race, err := t.ReservationRace(ctx, 50, 5)
	if err != nil {
		return nil, err
	}
	latency, err := t.StorageLatency(ctx, 100*time.Millisecond, time.Second)
	if err != nil {
		return nil, err
	}
	outage, err := t.StorageOutage(ctx)
	if err != nil {
		return nil, err
	}
	return []Experiment{race, latency, outage}, nil
}
