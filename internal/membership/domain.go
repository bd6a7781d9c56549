// internal/membership/domain.go
package membership

import (
	"errors"
	"strings"

	"bookrental/internal/domain"
)

// ErrRateLimited is returned when registrations arrive faster than allowed.
var ErrRateLimited = errors.New("rate limit exceeded")

// MaxAge bounds the accepted customer age.
const MaxAge = 150

// RegisterRequest carries the fields of a new customer.
type RegisterRequest struct {
	Email       string  `json:"email"`
	DNI         string  `json:"dni"`
	Name        string  `json:"name"`
	Age         int     `json:"age"`
	IdentityRef *string `json:"identity_ref,omitempty"`
}

// Validate checks the request before it reaches storage.
func (r RegisterRequest) Validate() *domain.Error {
	switch {
	case !domain.LooksLikeEmail(r.Email):
		return domain.Invalid("email %q is malformed", r.Email)
	case strings.TrimSpace(r.DNI) == "":
		return domain.Invalid("dni is required")
	case strings.TrimSpace(r.Name) == "":
		return domain.Invalid("name is required")
	case r.Age < 0 || r.Age > MaxAge:
		return domain.Invalid("age %d is out of range", r.Age)
	}
	return nil
}

// Customer builds the unsaved record. Emails are stored lower-cased.
func (r RegisterRequest) Customer() *domain.Customer {
	c := &domain.Customer{
		Email: strings.ToLower(strings.TrimSpace(r.Email)),
		DNI:   strings.TrimSpace(r.DNI),
		Name:  strings.TrimSpace(r.Name),
		Age:   r.Age,
	}
	if r.IdentityRef != nil {
		if ref := strings.TrimSpace(*r.IdentityRef); ref != "" {
			c.IdentityRef = &ref
		}
	}
	return c
}
