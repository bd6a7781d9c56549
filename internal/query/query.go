// internal/query/query.go
package query

import (
	"strings"
)

// Op is a comparison operator usable by every storage backend.
type Op string

const (
	OpEq  Op = "eq"
	OpNeq Op = "neq"
	OpLt  Op = "lt"
	OpLte Op = "lte"
	OpGt  Op = "gt"
	OpGte Op = "gte"
)

// Cond compares a column (by its db tag name) against a value.
// A nil Value with OpEq/OpNeq means IS NULL / IS NOT NULL.
type Cond struct {
	Field string
	Op    Op
	Value any
}

func Eq(field string, v any) Cond  { return Cond{Field: field, Op: OpEq, Value: v} }
func Neq(field string, v any) Cond { return Cond{Field: field, Op: OpNeq, Value: v} }
func Lt(field string, v any) Cond  { return Cond{Field: field, Op: OpLt, Value: v} }
func Lte(field string, v any) Cond { return Cond{Field: field, Op: OpLte, Value: v} }
func Gt(field string, v any) Cond  { return Cond{Field: field, Op: OpGt, Value: v} }
func Gte(field string, v any) Cond { return Cond{Field: field, Op: OpGte, Value: v} }

const (
	DefaultPage     = 1
	DefaultPageSize = 10
	MaxPageSize     = 50
)

// Page is the pagination convention shared by all list operations.
type Page struct {
	Number int    `json:"page"`
	Size   int    `json:"page_size"`
	Search string `json:"search,omitempty"`
	SortBy string `json:"sort_by,omitempty"`
	Desc   bool   `json:"desc,omitempty"`
}

// Normalize applies defaults and silently clamps out-of-range values.
func (p Page) Normalize() Page {
	if p.Number < 1 {
		p.Number = DefaultPage
	}
	switch {
	case p.Size <= 0:
		p.Size = DefaultPageSize
	case p.Size > MaxPageSize:
		p.Size = MaxPageSize
	}
	p.Search = strings.TrimSpace(p.Search)
	p.SortBy = strings.TrimSpace(p.SortBy)
	return p
}

// Offset is the number of rows skipped before this page.
func (p Page) Offset() int {
	p = p.Normalize()
	return (p.Number - 1) * p.Size
}

// ParseDirection reads "desc"/"asc" style sort directions.
func ParseDirection(s string) bool {
	return strings.EqualFold(strings.TrimSpace(s), "desc")
}

// Result is one page of records plus totals.
type Result[T any] struct {
	Items      []T   `json:"items"`
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
}

// NewResult assembles a page result.
func NewResult[T any](items []T, p Page, total int64) Result[T] {
	p = p.Normalize()
	if items == nil {
		items = []T{}
	}
	pages := int((total + int64(p.Size) - 1) / int64(p.Size))
	return Result[T]{Items: items, Page: p.Number, PageSize: p.Size, Total: total, TotalPages: pages}
}
