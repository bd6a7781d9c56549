// internal/store/memory/repo.go
package memory

import (
	"context"
	"sort"

	"github.com/google/uuid"
	"github.com/hashicorp/go-memdb"

	"bookrental/internal/domain"
	"bookrental/internal/query"
	"bookrental/internal/store"
)

type repo[T domain.Entity] struct {
	db  *DB
	t   *table[T]
	txn *memdb.Txn
}

func (r *repo[T]) v() view { return view{db: r.db, txn: r.txn} }

func (r *repo[T]) name() string { return r.t.meta.Name }

// visible is the single default-exclusion predicate of this backend.
func visible(e domain.Entity, includeDeleted bool) bool {
	return includeDeleted || !e.Meta().IsDeleted()
}

func (r *repo[T]) get(txn *memdb.Txn, id uuid.UUID) (T, bool, error) {
	var zero T
	obj, err := txn.First(r.name(), indexID, id.String())
	if err != nil {
		return zero, false, store.Fault("get "+r.name(), err)
	}
	if obj == nil {
		return zero, false, nil
	}
	return obj.(*row).Value.(T), true, nil
}

func (r *repo[T]) put(txn *memdb.Txn, op string, e T) error {
	if err := r.db.checkFault(op, r.name()); err != nil {
		return err
	}
	if err := txn.Insert(r.name(), &row{Key: e.Meta().ID.String(), Value: clone(e)}); err != nil {
		return store.Fault(op+" "+r.name(), err)
	}
	return nil
}

func (r *repo[T]) scan(txn *memdb.Txn, includeDeleted bool) ([]T, error) {
	it, err := txn.Get(r.name(), indexID)
	if err != nil {
		return nil, store.Fault("scan "+r.name(), err)
	}
	var out []T
	for obj := it.Next(); obj != nil; obj = it.Next() {
		e := obj.(*row).Value.(T)
		if visible(e, includeDeleted) {
			out = append(out, e)
		}
	}
	return out, nil
}

// checkUnique rejects e when another record holds one of its unique keys.
func (r *repo[T]) checkUnique(txn *memdb.Txn, e T) error {
	if len(r.t.uniques) == 0 {
		return nil
	}
	all, err := r.scan(txn, true)
	if err != nil {
		return err
	}
	for _, u := range r.t.uniques {
		if u.activeOnly && e.Meta().IsDeleted() {
			continue
		}
		key, ok := u.key(e)
		if !ok {
			continue
		}
		for _, other := range all {
			if other.Meta().ID == e.Meta().ID || (u.activeOnly && other.Meta().IsDeleted()) {
				continue
			}
			if k, ok := u.key(other); ok && k == key {
				return domain.Conflict(domain.CodeDuplicate, "%s %q already exists", u.what, key)
			}
		}
	}
	return nil
}

func referencing(txn *memdb.Txn, ref reference, id uuid.UUID) ([]*row, error) {
	it, err := txn.Get(ref.table, indexID)
	if err != nil {
		return nil, store.Fault("scan "+ref.table, err)
	}
	want := id.String()
	var out []*row
	for obj := it.Next(); obj != nil; obj = it.Next() {
		rw := obj.(*row)
		if v, ok := column(rw.Value, ref.column); ok && normalize(v) == want {
			out = append(out, rw)
		}
	}
	return out, nil
}

func live(ctx context.Context, op string) error {
	return store.Fault(op, ctx.Err())
}

func (r *repo[T]) GetAll(ctx context.Context) ([]T, error) {
	return r.Query().List(ctx)
}

func (r *repo[T]) GetAllIncludingDeleted(ctx context.Context) ([]T, error) {
	return r.QueryIncludingDeleted().List(ctx)
}

func (r *repo[T]) GetByID(ctx context.Context, id uuid.UUID) (T, bool, error) {
	return r.getByID(ctx, id, false)
}

func (r *repo[T]) GetByIDIncludingDeleted(ctx context.Context, id uuid.UUID) (T, bool, error) {
	return r.getByID(ctx, id, true)
}

func (r *repo[T]) getByID(ctx context.Context, id uuid.UUID, includeDeleted bool) (T, bool, error) {
	var (
		out   T
		found bool
	)
	if err := live(ctx, "get "+r.name()); err != nil {
		return out, false, err
	}
	err := r.v().read(func(txn *memdb.Txn) error {
		e, ok, err := r.get(txn, id)
		if err != nil || !ok || !visible(e, includeDeleted) {
			return err
		}
		out, found = clone(e), true
		return nil
	})
	return out, found, err
}

func (r *repo[T]) Find(ctx context.Context, conds ...query.Cond) ([]T, error) {
	return r.Query().Where(conds...).List(ctx)
}

func (r *repo[T]) Create(ctx context.Context, entity T) error {
	if err := live(ctx, "create "+r.name()); err != nil {
		return err
	}
	domain.Stamp(entity, r.db.now())
	return r.v().write(func(txn *memdb.Txn) error {
		if _, exists, err := r.get(txn, entity.Meta().ID); err != nil {
			return err
		} else if exists {
			return domain.Conflict(domain.CodeDuplicate, "%s record %s already exists", r.name(), entity.Meta().ID)
		}
		if err := r.checkUnique(txn, entity); err != nil {
			return err
		}
		return r.put(txn, "create", entity)
	})
}

func (r *repo[T]) Update(ctx context.Context, entity T) (bool, error) {
	if err := live(ctx, "update "+r.name()); err != nil {
		return false, err
	}
	updated := false
	err := r.v().write(func(txn *memdb.Txn) error {
		existing, ok, err := r.get(txn, entity.Meta().ID)
		if err != nil || !ok || existing.Meta().IsDeleted() {
			return err
		}
		if r.t.preserve != nil {
			r.t.preserve(existing, entity)
		}
		m := entity.Meta()
		m.CreatedAt = existing.Meta().CreatedAt
		m.Status = existing.Meta().Status
		m.UpdatedAt = r.db.now()
		if err := r.checkUnique(txn, entity); err != nil {
			return err
		}
		if err := r.put(txn, "update", entity); err != nil {
			return err
		}
		updated = true
		return nil
	})
	return updated, err
}

func (r *repo[T]) SoftDelete(ctx context.Context, id uuid.UUID) (bool, error) {
	return r.transition(ctx, "soft delete", id, domain.StatusActive, domain.StatusDeleted)
}

func (r *repo[T]) Restore(ctx context.Context, id uuid.UUID) (bool, error) {
	return r.transition(ctx, "restore", id, domain.StatusDeleted, domain.StatusActive)
}

func (r *repo[T]) transition(ctx context.Context, op string, id uuid.UUID, from, to domain.LifecycleStatus) (bool, error) {
	if err := live(ctx, op+" "+r.name()); err != nil {
		return false, err
	}
	changed := false
	err := r.v().write(func(txn *memdb.Txn) error {
		existing, ok, err := r.get(txn, id)
		if err != nil || !ok || existing.Meta().Status != from {
			return err
		}
		next := clone(existing)
		next.Meta().Status = to
		next.Meta().UpdatedAt = r.db.now()
		if to == domain.StatusActive {
			if err := r.checkUnique(txn, next); err != nil {
				return err
			}
		}
		if err := r.put(txn, op, next); err != nil {
			return err
		}
		changed = true
		return nil
	})
	return changed, err
}

func (r *repo[T]) HardDelete(ctx context.Context, id uuid.UUID) (bool, error) {
	if err := live(ctx, "hard delete "+r.name()); err != nil {
		return false, err
	}
	deleted := false
	err := r.v().write(func(txn *memdb.Txn) error {
		existing, ok, err := r.get(txn, id)
		if err != nil || !ok {
			return err
		}
		for _, ref := range r.t.restrictedBy {
			rows, err := referencing(txn, ref, id)
			if err != nil {
				return err
			}
			if len(rows) > 0 {
				return domain.Conflict(domain.CodeInUse, "%s record is referenced by %s", r.name(), ref.table).WithID(id)
			}
		}
		if err := r.db.checkFault("hard delete", r.name()); err != nil {
			return err
		}
		for _, ref := range r.t.cascades {
			rows, err := referencing(txn, ref, id)
			if err != nil {
				return err
			}
			for _, rw := range rows {
				if err := txn.Delete(ref.table, rw); err != nil {
					return store.Fault("cascade delete "+ref.table, err)
				}
			}
		}
		if r.name() == store.OrdersTable.Name {
			if _, err := txn.DeleteAll(tableOrderEvents, indexOrder, id.String()); err != nil {
				return store.Fault("cascade delete "+tableOrderEvents, err)
			}
		}
		if err := txn.Delete(r.name(), &row{Key: existing.Meta().ID.String()}); err != nil {
			return store.Fault("hard delete "+r.name(), err)
		}
		deleted = true
		return nil
	})
	return deleted, err
}

func (r *repo[T]) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	_, ok, err := r.GetByID(ctx, id)
	return ok, err
}

func (r *repo[T]) Count(ctx context.Context) (int64, error) {
	return r.Query().Count(ctx)
}

func (r *repo[T]) CountIncludingDeleted(ctx context.Context) (int64, error) {
	return r.QueryIncludingDeleted().Count(ctx)
}

func (r *repo[T]) Query() store.Query[T] {
	return memQuery[T]{r: r}
}

func (r *repo[T]) QueryIncludingDeleted() store.Query[T] {
	return memQuery[T]{r: r, includeDeleted: true}
}

type memQuery[T domain.Entity] struct {
	r              *repo[T]
	includeDeleted bool
	conds          []query.Cond
	search         string
	sortKey        string
	desc           bool
	offset, limit  int
}

func (q memQuery[T]) Where(conds ...query.Cond) store.Query[T] {
	q.conds = append(append([]query.Cond(nil), q.conds...), conds...)
	return q
}

func (q memQuery[T]) Search(term string) store.Query[T] {
	q.search = term
	return q
}

func (q memQuery[T]) OrderBy(key string, desc bool) store.Query[T] {
	q.sortKey, q.desc = key, desc
	return q
}

func (q memQuery[T]) Limit(offset, limit int) store.Query[T] {
	q.offset, q.limit = offset, limit
	return q
}

func (q memQuery[T]) Paginate(p query.Page) store.Query[T] {
	p = p.Normalize()
	return q.Search(p.Search).OrderBy(p.SortBy, p.Desc).Limit(p.Offset(), p.Size)
}

func (q memQuery[T]) filtered(ctx context.Context) ([]T, error) {
	if err := live(ctx, "query "+q.r.name()); err != nil {
		return nil, err
	}
	var out []T
	err := q.r.v().read(func(txn *memdb.Txn) error {
		all, err := q.r.scan(txn, q.includeDeleted)
		if err != nil {
			return err
		}
	next:
		for _, e := range all {
			for _, c := range q.conds {
				if !matches(e, c) {
					continue next
				}
			}
			if q.search != "" && !contains(e, q.r.t.meta.Search, q.search) {
				continue
			}
			out = append(out, e)
		}
		return nil
	})
	return out, err
}

func (q memQuery[T]) List(ctx context.Context) ([]T, error) {
	items, err := q.filtered(ctx)
	if err != nil {
		return nil, err
	}
	col := q.r.t.meta.SortColumn(q.sortKey)
	sort.SliceStable(items, func(i, j int) bool {
		a, _ := column(items[i], col)
		b, _ := column(items[j], col)
		n, _ := compare(normalize(a), normalize(b))
		if n == 0 {
			n, _ = compare(items[i].Meta().ID.String(), items[j].Meta().ID.String())
		}
		if q.desc {
			return n > 0
		}
		return n < 0
	})

	if q.offset > 0 {
		if q.offset >= len(items) {
			items = nil
		} else {
			items = items[q.offset:]
		}
	}
	if q.limit > 0 && len(items) > q.limit {
		items = items[:q.limit]
	}
	out := make([]T, 0, len(items))
	for _, e := range items {
		out = append(out, clone(e))
	}
	return out, nil
}

func (q memQuery[T]) Count(ctx context.Context) (int64, error) {
	items, err := q.filtered(ctx)
	return int64(len(items)), err
}
