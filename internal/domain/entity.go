// internal/domain/entity.go
package domain

import (
	"time"

	"github.com/google/uuid"
)

// LifecycleStatus governs the default visibility of a record.
type LifecycleStatus string

const (
	StatusActive  LifecycleStatus = "Active"
	StatusDeleted LifecycleStatus = "Deleted"
)

// Valid reports whether s is one of the two lifecycle states.
func (s LifecycleStatus) Valid() bool {
	return s == StatusActive || s == StatusDeleted
}

// Base carries the fields every persisted record shares.
type Base struct {
	ID        uuid.UUID       `json:"id" db:"id"`
	Status    LifecycleStatus `json:"status" db:"status"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// Meta gives generic code access to the shared record fields.
func (b *Base) Meta() *Base { return b }

// IsDeleted reports whether the record has been soft-deleted.
func (b *Base) IsDeleted() bool { return b.Status == StatusDeleted }

// Entity is implemented by every record type through an embedded Base.
type Entity interface {
	Meta() *Base
}

// Stamp prepares a record for its first write.
func Stamp(e Entity, now time.Time) {
	m := e.Meta()
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	m.Status = StatusActive
	m.CreatedAt = now
	m.UpdatedAt = now
}
