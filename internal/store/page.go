// internal/store/page.go
package store

import (
	"context"

	"github.com/google/uuid"

	"bookrental/internal/domain"
	"bookrental/internal/query"
)

// PageOf runs q as one page of the pagination convention.
func PageOf[T domain.Entity](ctx context.Context, q Query[T], p query.Page) (query.Result[T], error) {
	p = p.Normalize()
	q = q.Search(p.Search)
	total, err := q.Count(ctx)
	if err != nil {
		return query.Result[T]{}, err
	}
	items, err := q.Paginate(p).List(ctx)
	if err != nil {
		return query.Result[T]{}, err
	}
	return query.NewResult(items, p, total), nil
}

// Active loads an active record, reporting absence as a NotFound outcome
// with the given code.
func Active[T domain.Entity](ctx context.Context, repo Repository[T], id uuid.UUID, code string) (T, error) {
	e, ok, err := repo.GetByID(ctx, id)
	if err != nil {
		return e, err
	}
	if !ok {
		return e, domain.NewError(domain.KindNotFound, code, "record not found").WithID(id)
	}
	return e, nil
}
