// internal/store/postgres/repo.go
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"bookrental/internal/domain"
	"bookrental/internal/query"
	"bookrental/internal/store"
)

const (
	colID        = "id"
	colStatus    = "status"
	colCreatedAt = "created_at"
	colUpdatedAt = "updated_at"
)

var baseColumns = []string{colID, colStatus, colCreatedAt, colUpdatedAt}

type table[T domain.Entity] struct {
	meta    store.Table
	newT    func() T
	columns []string // entity-specific columns, excluding baseColumns

	selectCols []interface{}
	insertSQL  string
	updateSQL  string
}

func newTable[T domain.Entity](meta store.Table, newT func() T, columns ...string) *table[T] {
	t := &table[T]{meta: meta, newT: newT, columns: columns}
	all := append(append([]string{}, baseColumns...), columns...)
	for _, c := range all {
		t.selectCols = append(t.selectCols, goqu.C(c))
	}

	named := make([]string, len(all))
	for i, c := range all {
		named[i] = ":" + c
	}
	t.insertSQL = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		meta.Name, strings.Join(all, ", "), strings.Join(named, ", "))

	t.updateSQL = updateStatement(meta.Name, all, nil)
	return t
}

// ledgerOwned drops columns that only the Ledger writes from the update
// statement; Update reads their stored values back instead.
func (t *table[T]) ledgerOwned(cols ...string) *table[T] {
	skip := make(map[string]bool, len(cols))
	for _, c := range cols {
		skip[c] = true
	}
	t.updateSQL = updateStatement(t.meta.Name, append(append([]string{}, baseColumns...), t.columns...), skip)
	return t
}

func updateStatement(name string, all []string, skip map[string]bool) string {
	sets := make([]string, 0, len(all))
	for _, c := range all[len(baseColumns):] {
		if !skip[c] {
			sets = append(sets, c+" = :"+c)
		}
	}
	sets = append(sets, colUpdatedAt+" = :"+colUpdatedAt)
	return fmt.Sprintf("UPDATE %s SET %s WHERE id = :id AND status <> '%s' RETURNING %s",
		name, strings.Join(sets, ", "), domain.StatusDeleted, strings.Join(all, ", "))
}

var (
	booksTable = newTable(store.BooksTable, func() *domain.Book { return &domain.Book{} },
		"title", "author", "isbn", "stock", "available", "availability_override", "genre_id").
		ledgerOwned("stock", "available", "availability_override")
	customersTable = newTable(store.CustomersTable, func() *domain.Customer { return &domain.Customer{} },
		"email", "dni", "name", "age", "identity_ref")
	genresTable = newTable(store.GenresTable, func() *domain.Genre { return &domain.Genre{} },
		"name")
	ordersTable = newTable(store.OrdersTable, func() *domain.RentalOrder { return &domain.RentalOrder{} },
		"order_number", "customer_id", "order_date", "due_date", "return_date", "order_status", "notes")
	detailsTable = newTable(store.DetailsTable, func() *domain.RentalOrderDetail { return &domain.RentalOrderDetail{} },
		"order_id", "book_id", "quantity", "rental_days", "due_date", "return_date", "returned", "notes")
)

// notDeleted is the single default-exclusion predicate of this backend.
func notDeleted() exp.Expression {
	return goqu.C(colStatus).Neq(string(domain.StatusDeleted))
}

type repo[T domain.Entity] struct {
	db  *DB
	run runner
	t   *table[T]
}

func (r *repo[T]) name() string { return r.t.meta.Name }

// trace starts a span for a repository operation.
func (r *repo[T]) trace(ctx context.Context, op string) (context.Context, trace.Span) {
	return r.db.tracer.Start(ctx, "store."+op,
		trace.WithAttributes(attribute.String("db.table", r.name())))
}

func endSpan(span trace.Span, err error) {
	if err != nil && errors.Is(err, store.ErrStorage) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (r *repo[T]) logSQL(op, sqlText string, started time.Time) {
	r.db.logger.Debug("executed sql",
		zap.String("op", op),
		zap.String("table", r.name()),
		zap.String("query", sqlText),
		zap.Duration("duration", time.Since(started)))
}

// exec runs a statement and returns the number of affected rows.
func (r *repo[T]) exec(ctx context.Context, op string, ds interface {
	ToSQL() (string, []interface{}, error)
}) (int64, error) {
	sqlText, args, err := ds.ToSQL()
	if err != nil {
		return 0, store.Fault("build "+op, err)
	}
	ext, err := r.run.ext(ctx)
	if err != nil {
		return 0, err
	}
	started := time.Now()
	res, err := ext.ExecContext(ctx, sqlText, args...)
	r.logSQL(op, sqlText, started)
	if err != nil {
		return 0, classify(op+" "+r.name(), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, store.Fault("rows affected", err)
	}
	return n, nil
}

// dataset returns the base select, honouring the default exclusion.
func (r *repo[T]) dataset(includeDeleted bool) *goqu.SelectDataset {
	ds := dialect.From(r.name()).Prepared(true)
	if !includeDeleted {
		ds = ds.Where(notDeleted())
	}
	return ds
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

func (r *repo[T]) getByID(ctx context.Context, id uuid.UUID, includeDeleted bool) (_ T, _ bool, err error) {
	var zero T
	ctx, span := r.trace(ctx, "get")
	defer func() { endSpan(span, err) }()

	sqlText, args, err := r.dataset(includeDeleted).
		Select(r.t.selectCols...).
		Where(goqu.C(colID).Eq(id.String())).
		ToSQL()
	if err != nil {
		return zero, false, store.Fault("build get", err)
	}
	ext, err := r.run.ext(ctx)
	if err != nil {
		return zero, false, err
	}
	dest := r.t.newT()
	started := time.Now()
	err = sqlx.GetContext(ctx, ext, dest, sqlText, args...)
	r.logSQL("get", sqlText, started)
	if errors.Is(err, sql.ErrNoRows) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, store.Fault("get "+r.name(), err)
	}
	return dest, true, nil
}

func (r *repo[T]) Find(ctx context.Context, conds ...query.Cond) ([]T, error) {
	return r.Query().Where(conds...).List(ctx)
}

func (r *repo[T]) Create(ctx context.Context, entity T) (err error) {
	ctx, span := r.trace(ctx, "create")
	defer func() { endSpan(span, err) }()

	domain.Stamp(entity, r.db.now())
	ext, err := r.run.ext(ctx)
	if err != nil {
		return err
	}
	started := time.Now()
	_, err = sqlx.NamedExecContext(ctx, ext, r.t.insertSQL, entity)
	r.logSQL("create", r.t.insertSQL, started)
	return classify("create "+r.name(), err)
}

func (r *repo[T]) Update(ctx context.Context, entity T) (_ bool, err error) {
	ctx, span := r.trace(ctx, "update")
	defer func() { endSpan(span, err) }()

	m := entity.Meta()
	m.UpdatedAt = r.db.now()
	ext, err := r.run.ext(ctx)
	if err != nil {
		return false, err
	}
	started := time.Now()
	rows, err := sqlx.NamedQueryContext(ctx, ext, r.t.updateSQL, entity)
	r.logSQL("update", r.t.updateSQL, started)
	if err != nil {
		return false, classify("update "+r.name(), err)
	}
	defer rows.Close()

	if !rows.Next() {
		return false, classify("update "+r.name(), rows.Err())
	}
	if err := rows.StructScan(entity); err != nil {
		return false, store.Fault("scan update", err)
	}
	return true, nil
}

func (r *repo[T]) SoftDelete(ctx context.Context, id uuid.UUID) (bool, error) {
	return r.transition(ctx, "soft_delete", id, domain.StatusActive, domain.StatusDeleted)
}

func (r *repo[T]) Restore(ctx context.Context, id uuid.UUID) (bool, error) {
	return r.transition(ctx, "restore", id, domain.StatusDeleted, domain.StatusActive)
}

// transition flips the lifecycle status with a conditional update; the
// affected-row count tells whether the precondition held.
func (r *repo[T]) transition(ctx context.Context, op string, id uuid.UUID, from, to domain.LifecycleStatus) (_ bool, err error) {
	ctx, span := r.trace(ctx, op)
	defer func() { endSpan(span, err) }()

	n, err := r.exec(ctx, op, dialect.Update(r.name()).Prepared(true).
		Set(goqu.Record{colStatus: string(to), colUpdatedAt: r.db.now()}).
		Where(goqu.C(colID).Eq(id.String()), goqu.C(colStatus).Eq(string(from))))
	return n == 1, err
}

func (r *repo[T]) HardDelete(ctx context.Context, id uuid.UUID) (_ bool, err error) {
	ctx, span := r.trace(ctx, "hard_delete")
	defer func() { endSpan(span, err) }()

	n, err := r.exec(ctx, "hard delete", dialect.Delete(r.name()).Prepared(true).
		Where(goqu.C(colID).Eq(id.String())))
	if de, ok := domain.AsError(err); ok {
		de.ID = id
	}
	return n == 1, err
}

func (r *repo[T]) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	n, err := r.Query().Where(query.Eq(colID, id)).Count(ctx)
	return n > 0, err
}

func (r *repo[T]) Count(ctx context.Context) (int64, error) {
	return r.Query().Count(ctx)
}

func (r *repo[T]) CountIncludingDeleted(ctx context.Context) (int64, error) {
	return r.QueryIncludingDeleted().Count(ctx)
}

func (r *repo[T]) Query() store.Query[T] {
	return pgQuery[T]{r: r}
}

func (r *repo[T]) QueryIncludingDeleted() store.Query[T] {
	return pgQuery[T]{r: r, includeDeleted: true}
}

type pgQuery[T domain.Entity] struct {
	r              *repo[T]
	includeDeleted bool
	conds          []query.Cond
	search         string
	sortKey        string
	desc           bool
	offset, limit  int
}

func (q pgQuery[T]) Where(conds ...query.Cond) store.Query[T] {
	q.conds = append(append([]query.Cond(nil), q.conds...), conds...)
	return q
}

func (q pgQuery[T]) Search(term string) store.Query[T] {
	q.search = term
	return q
}

func (q pgQuery[T]) OrderBy(key string, desc bool) store.Query[T] {
	q.sortKey, q.desc = key, desc
	return q
}

func (q pgQuery[T]) Limit(offset, limit int) store.Query[T] {
	q.offset, q.limit = offset, limit
	return q
}

func (q pgQuery[T]) Paginate(p query.Page) store.Query[T] {
	p = p.Normalize()
	return q.Search(p.Search).OrderBy(p.SortBy, p.Desc).Limit(p.Offset(), p.Size)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func (q pgQuery[T]) filtered() *goqu.SelectDataset {
	ds := q.r.dataset(q.includeDeleted)
	for _, c := range q.conds {
		ds = ds.Where(condExpr(c))
	}
	if q.search != "" {
		pattern := "%" + likeEscaper.Replace(q.search) + "%"
		ors := make([]exp.Expression, 0, len(q.r.t.meta.Search))
		for _, col := range q.r.t.meta.Search {
			ors = append(ors, goqu.C(col).ILike(pattern))
		}
		ds = ds.Where(goqu.Or(ors...))
	}
	return ds
}

func (q pgQuery[T]) List(ctx context.Context) (_ []T, err error) {
	ctx, span := q.r.trace(ctx, "list")
	defer func() { endSpan(span, err) }()

	col := goqu.C(q.r.t.meta.SortColumn(q.sortKey))
	order := []exp.OrderedExpression{col.Asc(), goqu.C(colID).Asc()}
	if q.desc {
		order = []exp.OrderedExpression{col.Desc(), goqu.C(colID).Desc()}
	}
	ds := q.filtered().Select(q.r.t.selectCols...).Order(order...)
	if q.offset > 0 {
		ds = ds.Offset(uint(q.offset))
	}
	if q.limit > 0 {
		ds = ds.Limit(uint(q.limit))
	}

	sqlText, args, err := ds.ToSQL()
	if err != nil {
		return nil, store.Fault("build list", err)
	}
	ext, err := q.r.run.ext(ctx)
	if err != nil {
		return nil, err
	}
	var out []T
	started := time.Now()
	err = sqlx.SelectContext(ctx, ext, &out, sqlText, args...)
	q.r.logSQL("list", sqlText, started)
	if err != nil {
		return nil, store.Fault("list "+q.r.name(), err)
	}
	return out, nil
}

func (q pgQuery[T]) Count(ctx context.Context) (_ int64, err error) {
	ctx, span := q.r.trace(ctx, "count")
	defer func() { endSpan(span, err) }()

	sqlText, args, err := q.filtered().Select(goqu.COUNT(goqu.Star())).ToSQL()
	if err != nil {
		return 0, store.Fault("build count", err)
	}
	ext, err := q.r.run.ext(ctx)
	if err != nil {
		return 0, err
	}
	var n int64
	started := time.Now()
	err = sqlx.GetContext(ctx, ext, &n, sqlText, args...)
	q.r.logSQL("count", sqlText, started)
	if err != nil {
		return 0, store.Fault("count "+q.r.name(), err)
	}
	return n, nil
}

func condExpr(c query.Cond) exp.Expression {
	col := goqu.C(c.Field)
	v := sqlValue(c.Value)
	if v == nil {
		if c.Op == query.OpNeq {
			return col.IsNotNull()
		}
		return col.IsNull()
	}
	switch c.Op {
	case query.OpNeq:
		return col.Neq(v)
	case query.OpLt:
		return col.Lt(v)
	case query.OpLte:
		return col.Lte(v)
	case query.OpGt:
		return col.Gt(v)
	case query.OpGte:
		return col.Gte(v)
	default:
		return col.Eq(v)
	}
}

// sqlValue reduces condition values to types every driver binds directly.
func sqlValue(v any) any {
	rv := reflect.ValueOf(v)
	if !rv.IsValid() {
		return nil
	}
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	switch x := rv.Interface().(type) {
	case uuid.UUID:
		return x.String()
	case time.Time:
		return x
	}
	switch rv.Kind() {
	case reflect.String:
		return rv.String()
	case reflect.Bool:
		return rv.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	}
	return rv.Interface()
}
