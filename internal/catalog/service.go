// internal/catalog/service.go
package catalog

import (
	"context"

	"github.com/google/uuid"

	"bookrental/internal/domain"
	"bookrental/internal/query"
)

// Service defines the interface for the catalog service.
//
// Expected outcomes (not found, conflicts, invalid input) are returned as a
// *domain.Error; any other error is a storage fault.
type Service interface {
	AddBook(ctx context.Context, req NewBookRequest) (*domain.Book, error)
	GetBook(ctx context.Context, id uuid.UUID) (*domain.Book, error)
	ListBooks(ctx context.Context, page query.Page, filter BookFilter) (query.Result[*domain.Book], error)
	UpdateBook(ctx context.Context, id uuid.UUID, patch domain.BookPatch) (*domain.Book, error)
	AdjustStock(ctx context.Context, id uuid.UUID, delta int) (*domain.Book, error)
	SetAvailability(ctx context.Context, id uuid.UUID, available bool) (*domain.Book, error)
	ClearAvailabilityOverride(ctx context.Context, id uuid.UUID) (*domain.Book, error)
	DeleteBook(ctx context.Context, id uuid.UUID) (bool, error)
	RestoreBook(ctx context.Context, id uuid.UUID) (bool, error)
	PurgeBook(ctx context.Context, id uuid.UUID) (bool, error)

	AddGenre(ctx context.Context, name string) (*domain.Genre, error)
	GetGenre(ctx context.Context, id uuid.UUID) (*domain.Genre, error)
	ListGenres(ctx context.Context, page query.Page) (query.Result[*domain.Genre], error)
	UpdateGenre(ctx context.Context, id uuid.UUID, patch domain.GenrePatch) (*domain.Genre, error)
	DeleteGenre(ctx context.Context, id uuid.UUID) (bool, error)
	RestoreGenre(ctx context.Context, id uuid.UUID) (bool, error)
	PurgeGenre(ctx context.Context, id uuid.UUID) (bool, error)
	GenreStats(ctx context.Context) ([]GenreStat, error)
}
