// internal/store/postgres/errors.go
package postgres

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"bookrental/internal/domain"
	"bookrental/internal/store"
)

const (
	codeUniqueViolation      = "23505"
	codeForeignKeyViolation  = "23503"
	codeCheckViolation       = "23514"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

var constraintMessages = map[string]string{
	"books_isbn_key":                       "isbn already exists",
	"customers_email_lower_idx":            "email already exists",
	"customers_dni_key":                    "dni already exists",
	"genres_name_key":                      "genre name already exists",
	"rental_orders_order_number_key":       "order number already exists",
	"rental_order_details_order_book_idx":  "book already present in order",
	"books_genre_id_fkey":                  "genre is referenced by books",
	"rental_orders_customer_id_fkey":       "customer is referenced by rental orders",
	"rental_order_details_book_id_fkey":    "book is referenced by rental orders",
	"rental_order_details_order_id_fkey":   "order does not exist",
	"books_stock_check":                    "stock must not be negative",
	"rental_order_details_quantity_check":  "line item quantity must be 1",
	"rental_order_details_rental_days_chk": "rental days out of range",
	orderEventsVersionKey:                  "order history version already taken",
}

// pgError extracts the SQLSTATE and constraint name from either driver.
func pgError(err error) (code, constraint string, ok bool) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code), pqErr.Constraint, true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code, pgErr.ConstraintName, true
	}
	return "", "", false
}

func constraintMessage(constraint string) string {
	if msg, ok := constraintMessages[constraint]; ok {
		return msg
	}
	return "constraint " + constraint + " violated"
}

// classify turns constraint violations into domain outcomes and everything
// else into storage faults.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	code, constraint, ok := pgError(err)
	if !ok {
		return store.Fault(op, err)
	}
	switch code {
	case codeUniqueViolation:
		return domain.Conflict(domain.CodeDuplicate, "%s", constraintMessage(constraint))
	case codeForeignKeyViolation:
		return domain.Conflict(domain.CodeInUse, "%s", constraintMessage(constraint))
	case codeCheckViolation:
		return domain.Invalid("%s", constraintMessage(constraint))
	}
	return store.Fault(op, err)
}

// retryable reports whether a unit of work failed only because of
// concurrent transactions and can be run again. A duplicate order history
// version is one: another transaction appended to the same order first.
func retryable(err error) bool {
	code, constraint, ok := pgError(err)
	if !ok {
		return false
	}
	switch code {
	case codeSerializationFailure, codeDeadlockDetected:
		return true
	case codeUniqueViolation:
		return constraint == orderEventsVersionKey
	}
	return false
}
