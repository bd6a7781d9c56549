// internal/store/memory/reflect.go
package memory

import (
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"bookrental/internal/query"
)

// fieldMap maps db column names onto struct field index paths.
type fieldMap struct {
	columns  map[string][]int
	skipped  [][]int
	pointers [][]int
}

var fieldMaps sync.Map // reflect.Type -> *fieldMap

func fieldsOf(t reflect.Type) *fieldMap {
	if fm, ok := fieldMaps.Load(t); ok {
		return fm.(*fieldMap)
	}
	fm := &fieldMap{columns: make(map[string][]int)}
	for _, f := range reflect.VisibleFields(t) {
		if f.Anonymous || !f.IsExported() {
			continue
		}
		tag := f.Tag.Get("db")
		switch tag {
		case "":
		case "-":
			fm.skipped = append(fm.skipped, f.Index)
		default:
			fm.columns[tag] = f.Index
			if f.Type.Kind() == reflect.Pointer {
				fm.pointers = append(fm.pointers, f.Index)
			}
		}
	}
	actual, _ := fieldMaps.LoadOrStore(t, fm)
	return actual.(*fieldMap)
}

// column returns the value of the field tagged with col.
func column(entity any, col string) (any, bool) {
	v := reflect.ValueOf(entity)
	if v.Kind() == reflect.Pointer {
		v = v.Elem()
	}
	idx, ok := fieldsOf(v.Type()).columns[col]
	if !ok {
		return nil, false
	}
	return v.FieldByIndex(idx).Interface(), true
}

// clone copies a record, giving it its own copy of every pointer column,
// and zeroes its non-persisted fields.
func clone[T any](entity T) T {
	src := reflect.ValueOf(entity)
	dst := reflect.New(src.Elem().Type())
	dst.Elem().Set(src.Elem())
	fm := fieldsOf(src.Elem().Type())
	for _, idx := range fm.pointers {
		f := dst.Elem().FieldByIndex(idx)
		if f.IsNil() {
			continue
		}
		cp := reflect.New(f.Type().Elem())
		cp.Elem().Set(f.Elem())
		f.Set(cp)
	}
	for _, idx := range fm.skipped {
		f := dst.Elem().FieldByIndex(idx)
		f.Set(reflect.Zero(f.Type()))
	}
	return dst.Interface().(T)
}

// normalize reduces a value to nil, string, int64, float64, bool or time.Time.
func normalize(v any) any {
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
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	case reflect.Bool:
		return rv.Bool()
	}
	return rv.Interface()
}

// compare orders two normalized values. ok is false when they are not
// comparable; nil sorts before everything.
func compare(a, b any) (int, bool) {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0, true
		case a == nil:
			return -1, true
		default:
			return 1, true
		}
	}
	switch x := a.(type) {
	case string:
		y, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(x, y), true
	case int64:
		y, ok := b.(int64)
		if !ok {
			return 0, false
		}
		return cmpOrdered(x, y), true
	case float64:
		y, ok := b.(float64)
		if !ok {
			return 0, false
		}
		return cmpOrdered(x, y), true
	case bool:
		y, ok := b.(bool)
		if !ok {
			return 0, false
		}
		switch {
		case x == y:
			return 0, true
		case !x:
			return -1, true
		default:
			return 1, true
		}
	case time.Time:
		y, ok := b.(time.Time)
		if !ok {
			return 0, false
		}
		return x.Compare(y), true
	}
	return 0, false
}

func cmpOrdered[N int64 | float64](a, b N) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// matches evaluates a condition with SQL null semantics.
func matches(entity any, c query.Cond) bool {
	raw, ok := column(entity, c.Field)
	if !ok {
		return false
	}
	fv, cv := normalize(raw), normalize(c.Value)
	if cv == nil {
		switch c.Op {
		case query.OpEq:
			return fv == nil
		case query.OpNeq:
			return fv != nil
		}
		return false
	}
	if fv == nil {
		return false
	}
	n, ok := compare(fv, cv)
	if !ok {
		return false
	}
	switch c.Op {
	case query.OpEq:
		return n == 0
	case query.OpNeq:
		return n != 0
	case query.OpLt:
		return n < 0
	case query.OpLte:
		return n <= 0
	case query.OpGt:
		return n > 0
	case query.OpGte:
		return n >= 0
	}
	return false
}

// contains reports whether any of the columns contains term, ignoring case.
func contains(entity any, cols []string, term string) bool {
	term = strings.ToLower(term)
	for _, col := range cols {
		raw, ok := column(entity, col)
		if !ok {
			continue
		}
		if s, ok := normalize(raw).(string); ok && strings.Contains(strings.ToLower(s), term) {
			return true
		}
	}
	return false
}
