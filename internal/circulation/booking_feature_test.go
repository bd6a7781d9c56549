package circulation

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"testing"

	"github.com/cucumber/godog"
	"github.com/google/uuid"

	"bookrental/internal/domain"
	"bookrental/internal/store/memory"
	"bookrental/internal/store/storetest"
)

type bookingTestContext struct {
	ctx      context.Context
	db       *memory.DB
	svc      Service
	customer uuid.UUID
	books    map[string]uuid.UUID
	result   *BookingResult
	outcome  Outcome
}

func (c *bookingTestContext) reset() error {
	db, err := memory.New()
	if err != nil {
		return err
	}
	c.ctx = context.Background()
	c.db = db
	c.svc = NewService(db)
	c.customer = uuid.Nil
	c.books = map[string]uuid.UUID{}
	c.result = nil
	c.outcome = Outcome{}
	return nil
}

func (c *bookingTestContext) aRegisteredCustomer() error {
	customer := storetest.NewCustomer("feature")
	if err := c.db.Customers().Create(c.ctx, customer); err != nil {
		return err
	}
	c.customer = customer.ID
	return nil
}

func (c *bookingTestContext) theCatalogHoldsBooks(table *godog.Table) error {
	for _, row := range table.Rows[1:] {
		title := row.Cells[0].Value
		stock, err := strconv.Atoi(row.Cells[1].Value)
		if err != nil {
			return fmt.Errorf("stock of %q: %w", title, err)
		}
		b := storetest.NewBook(title, stock)
		if err := c.db.Books().Create(c.ctx, b); err != nil {
			return err
		}
		c.books[title] = b.ID
	}
	return nil
}

func (c *bookingTestContext) ids(titles string) ([]uuid.UUID, error) {
	var out []uuid.UUID
	for _, title := range strings.Split(titles, ",") {
		id, ok := c.books[strings.TrimSpace(title)]
		if !ok {
			return nil, fmt.Errorf("unknown book %q", title)
		}
		out = append(out, id)
	}
	return out, nil
}

func (c *bookingTestContext) book(titles string, days int, partial bool) error {
	ids, err := c.ids(titles)
	if err != nil {
		return err
	}
	c.result, err = c.svc.CreateOrder(c.ctx, CreateOrderRequest{
		CustomerID:        c.customer,
		BookIDs:           ids,
		RentalDays:        days,
		AllowPartialOrder: partial,
	})
	return err
}

func (c *bookingTestContext) theCustomerBooksForDays(titles string, days int) error {
	return c.book(titles, days, false)
}

func (c *bookingTestContext) theCustomerBooksForDaysAllowingAPartialOrder(titles string, days int) error {
	return c.book(titles, days, true)
}

func (c *bookingTestContext) theCustomerReturns(titles string) error {
	ids, err := c.ids(titles)
	if err != nil {
		return err
	}
	c.outcome, err = c.svc.ReturnBooks(c.ctx, c.result.OrderID, ids)
	if err == nil && !c.outcome.Success {
		return fmt.Errorf("return failed: %v", c.outcome.Failure)
	}
	return err
}

func (c *bookingTestContext) theCustomerCancelsTheOrder() error {
	var err error
	c.outcome, err = c.svc.Cancel(c.ctx, c.result.OrderID)
	if err == nil && !c.outcome.Success {
		return fmt.Errorf("cancel failed: %v", c.outcome.Failure)
	}
	return err
}

func (c *bookingTestContext) theBookingSucceeds() error {
	if !c.result.Success {
		return fmt.Errorf("expected success, got %v", c.result.Failure)
	}
	return nil
}

func (c *bookingTestContext) theBookingFailsWith(code string) error {
	if c.result.Success {
		return fmt.Errorf("expected failure %s, booking succeeded", code)
	}
	if c.result.Failure.Code != code {
		return fmt.Errorf("expected failure %s, got %s", code, c.result.Failure.Code)
	}
	return nil
}

func (c *bookingTestContext) theBookingIsPartialWithUnavailableBooks(n int) error {
	if !c.result.IsPartialOrder {
		return fmt.Errorf("expected a partial order")
	}
	if len(c.result.UnavailableBooks) != n {
		return fmt.Errorf("expected %d unavailable books, got %d", n, len(c.result.UnavailableBooks))
	}
	return nil
}

func (c *bookingTestContext) theStockOfIs(title string, stock int) error {
	b, ok, err := c.db.Books().GetByID(c.ctx, c.books[title])
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("book %q not found", title)
	}
	if b.Stock != stock {
		return fmt.Errorf("expected stock of %q to be %d, got %d", title, stock, b.Stock)
	}
	return nil
}

func (c *bookingTestContext) theOrderStatusIs(status string) error {
	order, ok, err := c.svc.GetOrder(c.ctx, c.result.OrderID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("order %s not found", c.result.OrderID)
	}
	if order.OrderStatus != domain.OrderStatus(status) {
		return fmt.Errorf("expected order status %s, got %s", status, order.OrderStatus)
	}
	return nil
}

func (c *bookingTestContext) noLineItemOfTheOrderIsReturned() error {
	order, _, err := c.svc.GetOrder(c.ctx, c.result.OrderID)
	if err != nil {
		return err
	}
	for _, d := range order.Details {
		if d.Returned {
			return fmt.Errorf("line item for book %s is marked returned", d.BookID)
		}
	}
	return nil
}

func InitializeBookingScenario(ctx *godog.ScenarioContext) {
	tc := &bookingTestContext{}

	ctx.Before(func(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
		return ctx, tc.reset()
	})

	// Given steps
	ctx.Step(`^a registered customer$`, tc.aRegisteredCustomer)
	ctx.Step(`^the catalog holds books:$`, tc.theCatalogHoldsBooks)

	// When steps
	ctx.Step(`^the customer books "([^"]*)" for (\d+) days$`, tc.theCustomerBooksForDays)
	ctx.Step(`^the customer books "([^"]*)" for (\d+) days allowing a partial order$`, tc.theCustomerBooksForDaysAllowingAPartialOrder)
	ctx.Step(`^the customer returns "([^"]*)"$`, tc.theCustomerReturns)
	ctx.Step(`^the customer cancels the order$`, tc.theCustomerCancelsTheOrder)

	// Then steps
	ctx.Step(`^the booking succeeds$`, tc.theBookingSucceeds)
	ctx.Step(`^the booking fails with "([^"]*)"$`, tc.theBookingFailsWith)
	ctx.Step(`^the booking is partial with (\d+) unavailable books?$`, tc.theBookingIsPartialWithUnavailableBooks)
	ctx.Step(`^the stock of "([^"]*)" is (\d+)$`, tc.theStockOfIs)
	ctx.Step(`^the order status is "([^"]*)"$`, tc.theOrderStatusIs)
	ctx.Step(`^no line item of the order is returned$`, tc.noLineItemOfTheOrderIsReturned)
}

func TestBookingFeatures(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: InitializeBookingScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features/booking.feature"},
			TestingT: t,
			Strict:   true,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}
