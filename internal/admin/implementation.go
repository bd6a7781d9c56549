// internal/admin/implementation.go
package admin

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"bookrental/internal/domain"
	"bookrental/internal/query"
	"bookrental/internal/store"
)

// service implements the Service interface.
type service struct {
	db     store.DB
	orders OrderRestorer
	logger *zap.Logger
}

// NewService creates a new admin service. Orders are restored through
// orders so their line items and reservations come back with them.
func NewService(db store.DB, orders OrderRestorer, logger *zap.Logger) Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &service{db: db, orders: orders, logger: logger.Named("admin")}
}

// faults collects storage faults from concurrent workers.
type faults struct {
	mu  sync.Mutex
	err error
}

func (f *faults) add(err error) {
	f.mu.Lock()
	f.err = multierr.Append(f.err, err)
	f.mu.Unlock()
}

// BulkRestore fans out one worker per book, customer and genre list, then
// restores orders once those workers are done, so an order can reserve a
// book restored by the same request. Ids are independent: a failure or fault
// on one never stops its siblings, and there is no cross-entity unit of work.
func (s *service) BulkRestore(ctx context.Context, req BulkRestoreRequest) (*BulkRestoreResult, error) {
	books := make([]RestoreResult, len(req.BookIDs))
	customers := make([]RestoreResult, len(req.CustomerIDs))
	genres := make([]RestoreResult, len(req.GenreIDs))
	orders := make([]RestoreResult, len(req.OrderIDs))

	var (
		wg   sync.WaitGroup
		errs faults
	)
	wg.Add(3)
	go func() {
		defer wg.Done()
		restoreAll(ctx, s.db.Books(), EntityBook, req.BookIDs, books, &errs)
	}()
	go func() {
		defer wg.Done()
		restoreAll(ctx, s.db.Customers(), EntityCustomer, req.CustomerIDs, customers, &errs)
	}()
	go func() {
		defer wg.Done()
		restoreAll(ctx, s.db.Genres(), EntityGenre, req.GenreIDs, genres, &errs)
	}()
	wg.Wait()

	for i, id := range req.OrderIDs {
		orders[i] = s.restoreOrder(ctx, id, &errs)
	}

	res := &BulkRestoreResult{Results: make([]RestoreResult, 0, len(books)+len(customers)+len(genres)+len(orders))}
	for _, part := range [][]RestoreResult{books, customers, genres, orders} {
		for _, r := range part {
			if r.Success {
				res.Restored++
			} else {
				res.Failed++
			}
			res.Results = append(res.Results, r)
		}
	}

	s.logger.Info("bulk restore finished",
		zap.Int("restored", res.Restored),
		zap.Int("failed", res.Failed),
		zap.Error(errs.err))
	return res, errs.err
}

func restoreAll[T domain.Entity](ctx context.Context, repo store.Repository[T], kind EntityType, ids []uuid.UUID, out []RestoreResult, errs *faults) {
	for i, id := range ids {
		out[i] = restoreOne(ctx, repo, kind, id, errs)
	}
}

func restoreOne[T domain.Entity](ctx context.Context, repo store.Repository[T], kind EntityType, id uuid.UUID, errs *faults) RestoreResult {
	res := RestoreResult{EntityType: kind, ID: id}
	e, ok, err := repo.GetByIDIncludingDeleted(ctx, id)
	if err != nil {
		errs.add(err)
		res.Error = MsgStorage
		return res
	}
	switch {
	case !ok:
		res.Error = MsgNotFound
		return res
	case !e.Meta().IsDeleted():
		res.Error = MsgNotDeleted
		return res
	}

	restored, err := repo.Restore(ctx, id)
	switch {
	case err != nil:
		errs.add(err)
		res.Error = MsgStorage
	case !restored:
		// Restored concurrently by someone else.
		res.Error = MsgNotDeleted
	default:
		res.Success = true
	}
	return res
}

func (s *service) restoreOrder(ctx context.Context, id uuid.UUID, errs *faults) RestoreResult {
	res := RestoreResult{EntityType: EntityOrder, ID: id}
	out, err := s.orders.RestoreOrder(ctx, id)
	if err != nil {
		errs.add(err)
		res.Error = MsgStorage
		return res
	}
	if f := out.Failure; f != nil {
		switch f.Code {
		case domain.CodeOrderNotFound:
			res.Error = MsgNotFound
		case domain.CodeNotDeleted:
			res.Error = MsgNotDeleted
		default:
			res.Error = f.Error()
		}
		return res
	}
	res.Success = true
	return res
}

// DeletedSummary counts records per entity type, deleted ones included.
func (s *service) DeletedSummary(ctx context.Context) ([]EntityCounts, error) {
	out := make([]EntityCounts, 5)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) { out[0], err = countsOf(ctx, s.db.Books(), EntityBook); return })
	g.Go(func() (err error) { out[1], err = countsOf(ctx, s.db.Customers(), EntityCustomer); return })
	g.Go(func() (err error) { out[2], err = countsOf(ctx, s.db.Genres(), EntityGenre); return })
	g.Go(func() (err error) { out[3], err = countsOf(ctx, s.db.Orders(), EntityOrder); return })
	g.Go(func() (err error) { out[4], err = countsOf(ctx, s.db.Details(), EntityOrderDetail); return })
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func countsOf[T domain.Entity](ctx context.Context, repo store.Repository[T], kind EntityType) (EntityCounts, error) {
	total, err := repo.CountIncludingDeleted(ctx)
	if err != nil {
		return EntityCounts{}, err
	}
	active, err := repo.Count(ctx)
	if err != nil {
		return EntityCounts{}, err
	}
	return EntityCounts{EntityType: kind, Total: total, Active: active, Deleted: total - active}, nil
}

// DeletedEntities returns the same page of soft-deleted records for every
// entity type.
func (s *service) DeletedEntities(ctx context.Context, page query.Page) (*DeletedEntities, error) {
	out := &DeletedEntities{}
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) { out.Books, err = deleted(ctx, s.db.Books(), page); return })
	g.Go(func() (err error) { out.Customers, err = deleted(ctx, s.db.Customers(), page); return })
	g.Go(func() (err error) { out.Genres, err = deleted(ctx, s.db.Genres(), page); return })
	g.Go(func() (err error) { out.Orders, err = deleted(ctx, s.db.Orders(), page); return })
	g.Go(func() (err error) { out.Details, err = deleted(ctx, s.db.Details(), page); return })
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func deleted[T domain.Entity](ctx context.Context, repo store.Repository[T], page query.Page) (query.Result[T], error) {
	q := repo.QueryIncludingDeleted().Where(query.Eq("status", domain.StatusDeleted))
	return store.PageOf(ctx, q, page)
}
