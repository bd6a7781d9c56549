// internal/domain/errors.go
package domain

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Kind classifies an expected domain outcome.
type Kind string

const (
	KindNotFound             Kind = "NotFound"
	KindConflict             Kind = "Conflict"
	KindInvalidState         Kind = "InvalidState"
	KindInventoryUnavailable Kind = "InventoryUnavailable"
	KindValidation           Kind = "ValidationError"
)

// Codes name the specific reason inside a kind.
const (
	CodeCustomerNotFound = "CustomerNotFound"
	CodeBookNotFound     = "BookNotFound"
	CodeGenreNotFound    = "GenreNotFound"
	CodeOrderNotFound    = "OrderNotFound"
	CodeBooksUnavailable = "BooksUnavailable"
	CodeNoBooksAvailable = "NoBooksAvailable"
	CodeBookUnavailable  = "BookUnavailable"
	CodeInvalidState     = "InvalidState"
	CodeAlreadyDeleted   = "AlreadyDeleted"
	CodeNotDeleted       = "NotDeleted"
	CodeDuplicate        = "Duplicate"
	CodeInUse            = "InUse"
	CodeInvalidInput     = "InvalidInput"
	CodeNoMatchingItems  = "NoMatchingItems"
)

// Error is a domain outcome. It is returned as a value so callers can keep
// processing sibling items after one of them fails.
type Error struct {
	Kind    Kind      `json:"kind"`
	Code    string    `json:"code"`
	Message string    `json:"message"`
	ID      uuid.UUID `json:"id,omitempty"`
}

func (e *Error) Error() string {
	if e.ID != uuid.Nil {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.ID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewError builds a domain outcome.
func NewError(kind Kind, code, format string, args ...any) *Error {
	return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithID attaches the id of the record the outcome refers to.
func (e *Error) WithID(id uuid.UUID) *Error {
	e.ID = id
	return e
}

// Invalid is shorthand for a malformed-input outcome.
func Invalid(format string, args ...any) *Error {
	return NewError(KindValidation, CodeInvalidInput, format, args...)
}

// Conflict is shorthand for a uniqueness or reference violation.
func Conflict(code, format string, args ...any) *Error {
	return NewError(KindConflict, code, format, args...)
}

// AsError extracts a domain outcome from err.
func AsError(err error) (*Error, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// IsKind reports whether err carries a domain outcome of the given kind.
func IsKind(err error, kind Kind) bool {
	de, ok := AsError(err)
	return ok && de.Kind == kind
}
