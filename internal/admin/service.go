// internal/admin/service.go
package admin

import (
	"context"

	"github.com/google/uuid"

	"bookrental/internal/circulation"
	"bookrental/internal/query"
)

// Service defines the interface for the admin service.
type Service interface {
	// BulkRestore restores every listed id independently. Per-id outcomes
	// are reported in the result; the error aggregates storage faults and is
	// returned together with the partial result.
	BulkRestore(ctx context.Context, req BulkRestoreRequest) (*BulkRestoreResult, error)
	DeletedSummary(ctx context.Context) ([]EntityCounts, error)
	DeletedEntities(ctx context.Context, page query.Page) (*DeletedEntities, error)
}

// OrderRestorer restores an order header together with its line items and
// the inventory they hold.
type OrderRestorer interface {
	RestoreOrder(ctx context.Context, orderID uuid.UUID) (circulation.Outcome, error)
}
