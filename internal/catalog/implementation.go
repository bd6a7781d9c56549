// internal/catalog/implementation.go
package catalog

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"bookrental/internal/domain"
	"bookrental/internal/query"
	"bookrental/internal/store"
)

// service implements the Service interface.
type service struct {
	db     store.DB
	logger *zap.Logger
}

// NewService creates a new catalog service instance.
func NewService(db store.DB, logger *zap.Logger) Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &service{
		db:     db,
		logger: logger.Named("catalog"),
	}
}

// AddBook creates a new book in the catalog.
func (s *service) AddBook(ctx context.Context, req NewBookRequest) (*domain.Book, error) {
	if f := req.Validate(); f != nil {
		return nil, f
	}
	book := req.Book()
	err := s.db.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := genreExists(ctx, tx, book.GenreID); err != nil {
			return err
		}
		return tx.Books().Create(ctx, book)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("book added", zap.Stringer("book_id", book.ID), zap.String("title", book.Title), zap.Int("stock", book.Stock))
	return book, nil
}

func genreExists(ctx context.Context, tx store.Tx, id *uuid.UUID) error {
	if id == nil {
		return nil
	}
	_, err := store.Active(ctx, tx.Genres(), *id, domain.CodeGenreNotFound)
	return err
}

func (s *service) GetBook(ctx context.Context, id uuid.UUID) (*domain.Book, error) {
	return store.Active(ctx, s.db.Books(), id, domain.CodeBookNotFound)
}

// ListBooks pages through active books; search matches title, author and ISBN.
func (s *service) ListBooks(ctx context.Context, page query.Page, filter BookFilter) (query.Result[*domain.Book], error) {
	q := s.db.Books().Query()
	if filter.GenreID != nil {
		q = q.Where(query.Eq("genre_id", *filter.GenreID))
	}
	if filter.AvailableOnly {
		q = q.Where(query.Eq("available", true))
	}
	return store.PageOf(ctx, q, page)
}

func (s *service) UpdateBook(ctx context.Context, id uuid.UUID, patch domain.BookPatch) (*domain.Book, error) {
	if f := patch.Validate(); f != nil {
		return nil, f
	}
	var book *domain.Book
	err := s.db.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		if book, err = store.Active(ctx, tx.Books(), id, domain.CodeBookNotFound); err != nil {
			return err
		}
		patch.Apply(book)
		if err := genreExists(ctx, tx, book.GenreID); err != nil {
			return err
		}
		if _, err = tx.Books().Update(ctx, book); err != nil {
			return err
		}
		if patch.Stock == nil {
			return nil
		}
		if _, err = tx.Ledger().SetStock(ctx, id, *patch.Stock); err != nil {
			return err
		}
		book, err = store.Active(ctx, tx.Books(), id, domain.CodeBookNotFound)
		return err
	})
	if err != nil {
		return nil, err
	}
	return book, nil
}

// AdjustStock adds delta copies (negative to withdraw) through the ledger so
// concurrent reservations are never overwritten.
func (s *service) AdjustStock(ctx context.Context, id uuid.UUID, delta int) (*domain.Book, error) {
	if delta == 0 {
		return nil, domain.Invalid("stock adjustment must not be zero")
	}
	var book *domain.Book
	err := s.db.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := store.Active(ctx, tx.Books(), id, domain.CodeBookNotFound); err != nil {
			return err
		}
		if delta > 0 {
			if _, err := tx.Ledger().Release(ctx, id, delta); err != nil {
				return err
			}
		} else {
			reason, err := tx.Ledger().TryReserve(ctx, id, -delta)
			if err != nil {
				return err
			}
			switch reason {
			case domain.ReserveOK:
			case domain.ReserveOutOfStock:
				return domain.Invalid("cannot withdraw %d copies, not enough in stock", -delta).WithID(id)
			default:
				return domain.NewError(domain.KindInventoryUnavailable, domain.CodeBookUnavailable,
					"book is not available: %s", reason).WithID(id)
			}
		}
		var err error
		book, err = store.Active(ctx, tx.Books(), id, domain.CodeBookNotFound)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("stock adjusted", zap.Stringer("book_id", id), zap.Int("delta", delta), zap.Int("stock", book.Stock))
	return book, nil
}

// SetAvailability pins the availability flag regardless of stock.
func (s *service) SetAvailability(ctx context.Context, id uuid.UUID, available bool) (*domain.Book, error) {
	return s.availability(ctx, id, available, true)
}

// ClearAvailabilityOverride lets availability follow stock again.
func (s *service) ClearAvailabilityOverride(ctx context.Context, id uuid.UUID) (*domain.Book, error) {
	return s.availability(ctx, id, false, false)
}

func (s *service) availability(ctx context.Context, id uuid.UUID, available, override bool) (*domain.Book, error) {
	ok, err := s.db.Ledger().SetAvailability(ctx, id, available, override)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.NewError(domain.KindNotFound, domain.CodeBookNotFound, "book not found").WithID(id)
	}
	s.logger.Info("availability changed", zap.Stringer("book_id", id), zap.Bool("available", available), zap.Bool("override", override))
	return s.GetBook(ctx, id)
}

func (s *service) DeleteBook(ctx context.Context, id uuid.UUID) (bool, error) {
	return s.db.Books().SoftDelete(ctx, id)
}

func (s *service) RestoreBook(ctx context.Context, id uuid.UUID) (bool, error) {
	return s.db.Books().Restore(ctx, id)
}

// PurgeBook removes a book permanently; books referenced by orders are kept
// and reported as a Conflict.
func (s *service) PurgeBook(ctx context.Context, id uuid.UUID) (bool, error) {
	ok, err := s.db.Books().HardDelete(ctx, id)
	if ok {
		s.logger.Warn("book purged", zap.Stringer("book_id", id))
	}
	return ok, err
}

func (s *service) AddGenre(ctx context.Context, name string) (*domain.Genre, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, domain.Invalid("genre name is required")
	}
	genre := &domain.Genre{Name: name}
	if err := s.db.Genres().Create(ctx, genre); err != nil {
		return nil, err
	}
	return genre, nil
}

// GetGenre returns a genre with its active book count.
func (s *service) GetGenre(ctx context.Context, id uuid.UUID) (*domain.Genre, error) {
	genre, err := store.Active(ctx, s.db.Genres(), id, domain.CodeGenreNotFound)
	if err != nil {
		return nil, err
	}
	if genre.BookCount, err = s.db.Books().Query().Where(query.Eq("genre_id", id)).Count(ctx); err != nil {
		return nil, err
	}
	return genre, nil
}

func (s *service) ListGenres(ctx context.Context, page query.Page) (query.Result[*domain.Genre], error) {
	res, err := store.PageOf(ctx, s.db.Genres().Query(), page)
	if err != nil {
		return res, err
	}
	for _, g := range res.Items {
		if g.BookCount, err = s.db.Books().Query().Where(query.Eq("genre_id", g.ID)).Count(ctx); err != nil {
			return res, err
		}
	}
	return res, nil
}

func (s *service) UpdateGenre(ctx context.Context, id uuid.UUID, patch domain.GenrePatch) (*domain.Genre, error) {
	if f := patch.Validate(); f != nil {
		return nil, f
	}
	var genre *domain.Genre
	err := s.db.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		if genre, err = store.Active(ctx, tx.Genres(), id, domain.CodeGenreNotFound); err != nil {
			return err
		}
		patch.Apply(genre)
		_, err = tx.Genres().Update(ctx, genre)
		return err
	})
	if err != nil {
		return nil, err
	}
	return genre, nil
}

func (s *service) DeleteGenre(ctx context.Context, id uuid.UUID) (bool, error) {
	return s.db.Genres().SoftDelete(ctx, id)
}

func (s *service) RestoreGenre(ctx context.Context, id uuid.UUID) (bool, error) {
	return s.db.Genres().Restore(ctx, id)
}

func (s *service) PurgeGenre(ctx context.Context, id uuid.UUID) (bool, error) {
	return s.db.Genres().HardDelete(ctx, id)
}

// GenreStats reports, per active genre, how many active books it holds, how
// many of them can be rented and the copies on the shelf.
func (s *service) GenreStats(ctx context.Context) ([]GenreStat, error) {
	genres, err := s.db.Genres().Query().OrderBy("name", false).List(ctx)
	if err != nil {
		return nil, err
	}
	books, err := s.db.Books().Find(ctx, query.Neq("genre_id", nil))
	if err != nil {
		return nil, err
	}

	index := make(map[uuid.UUID]int, len(genres))
	stats := make([]GenreStat, len(genres))
	for i, g := range genres {
		index[g.ID] = i
		stats[i] = GenreStat{GenreID: g.ID, Name: g.Name}
	}
	for _, b := range books {
		i, ok := index[*b.GenreID]
		if !ok {
			continue
		}
		stats[i].BookCount++
		stats[i].CopiesInStock += int64(b.Stock)
		if b.Available {
			stats[i].AvailableBooks++
		}
	}
	return stats, nil
}
