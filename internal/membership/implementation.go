// internal/membership/implementation.go
package membership

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"bookrental/internal/domain"
	"bookrental/internal/query"
	"bookrental/internal/store"
)

// service implements the Service interface.
type service struct {
	db          store.DB
	logger      *zap.Logger
	rateLimiter *rate.Limiter
}

// Option configures the membership service.
type Option func(*service)

// WithLogger sets the service logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithRegistrationLimit caps registrations to perMinute with the given burst.
// A non-positive rate disables the limit.
func WithRegistrationLimit(perMinute float64, burst int) Option {
	return func(s *service) {
		if perMinute <= 0 {
			s.rateLimiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		s.rateLimiter = rate.NewLimiter(rate.Limit(perMinute/60), burst)
	}
}

// NewService creates a new membership service instance.
func NewService(db store.DB, opts ...Option) Service {
	s := &service{
		db:          db,
		logger:      zap.NewNop(),
		rateLimiter: rate.NewLimiter(rate.Inf, 0),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("membership")
	return s
}

// RegisterCustomer creates a new customer. Email and DNI must be unique
// among all customers, deleted ones included.
func (s *service) RegisterCustomer(ctx context.Context, req RegisterRequest) (*domain.Customer, error) {
	if !s.rateLimiter.Allow() {
		return nil, ErrRateLimited
	}
	if f := req.Validate(); f != nil {
		return nil, f
	}

	customer := req.Customer()
	if err := s.db.Customers().Create(ctx, customer); err != nil {
		if domain.IsKind(err, domain.KindConflict) {
			s.logger.Warn("duplicate registration", zap.String("email", customer.Email), zap.Error(err))
		}
		return nil, err
	}
	s.logger.Info("customer registered", zap.Stringer("customer_id", customer.ID))
	return customer, nil
}

// GetCustomer retrieves an active customer by ID.
func (s *service) GetCustomer(ctx context.Context, id uuid.UUID) (*domain.Customer, error) {
	return store.Active(ctx, s.db.Customers(), id, domain.CodeCustomerNotFound)
}

// FindByEmail looks a customer up by email, case-insensitively.
func (s *service) FindByEmail(ctx context.Context, email string) (*domain.Customer, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	found, err := s.db.Customers().Find(ctx, query.Eq("email", email))
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, domain.NewError(domain.KindNotFound, domain.CodeCustomerNotFound, "no customer with email %q", email)
	}
	return found[0], nil
}

func (s *service) ListCustomers(ctx context.Context, page query.Page) (query.Result[*domain.Customer], error) {
	return store.PageOf(ctx, s.db.Customers().Query(), page)
}

// UpdateCustomer applies a partial update to an active customer.
func (s *service) UpdateCustomer(ctx context.Context, id uuid.UUID, patch domain.CustomerPatch) (*domain.Customer, error) {
	if f := patch.Validate(); f != nil {
		return nil, f
	}
	var customer *domain.Customer
	err := s.db.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		if customer, err = store.Active(ctx, tx.Customers(), id, domain.CodeCustomerNotFound); err != nil {
			return err
		}
		patch.Apply(customer)
		_, err = tx.Customers().Update(ctx, customer)
		return err
	})
	if err != nil {
		return nil, err
	}
	return customer, nil
}

func (s *service) DeleteCustomer(ctx context.Context, id uuid.UUID) (bool, error) {
	ok, err := s.db.Customers().SoftDelete(ctx, id)
	if ok {
		s.logger.Info("customer deleted", zap.Stringer("customer_id", id))
	}
	return ok, err
}

func (s *service) RestoreCustomer(ctx context.Context, id uuid.UUID) (bool, error) {
	return s.db.Customers().Restore(ctx, id)
}

// PurgeCustomer removes a customer permanently. Customers with orders are
// kept and reported as a Conflict.
func (s *service) PurgeCustomer(ctx context.Context, id uuid.UUID) (bool, error) {
	ok, err := s.db.Customers().HardDelete(ctx, id)
	if ok {
		s.logger.Warn("customer purged", zap.Stringer("customer_id", id))
	}
	return ok, err
}
