// internal/membership/service.go
package membership

import (
	"context"

	"github.com/google/uuid"

	"bookrental/internal/domain"
	"bookrental/internal/query"
)

// Service defines the interface for the membership service.
type Service interface {
	RegisterCustomer(ctx context.Context, req RegisterRequest) (*domain.Customer, error)
	GetCustomer(ctx context.Context, id uuid.UUID) (*domain.Customer, error)
	FindByEmail(ctx context.Context, email string) (*domain.Customer, error)
	ListCustomers(ctx context.Context, page query.Page) (query.Result[*domain.Customer], error)
	UpdateCustomer(ctx context.Context, id uuid.UUID, patch domain.CustomerPatch) (*domain.Customer, error)
	DeleteCustomer(ctx context.Context, id uuid.UUID) (bool, error)
	RestoreCustomer(ctx context.Context, id uuid.UUID) (bool, error)
	PurgeCustomer(ctx context.Context, id uuid.UUID) (bool, error)
}
