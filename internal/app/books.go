package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"bookswap/internal/store"
	"bookswap/pkg/domain"
	"bookswap/pkg/storage"
)

const maxBookFieldLength = 255

// BookAttrs carries the caller-supplied book fields.
type BookAttrs struct {
	Title           string
	Author          string
	Genre           string
	PublicationYear int
}

func (attrs *BookAttrs) validate() error {
	attrs.Title = strings.TrimSpace(attrs.Title)
	attrs.Author = strings.TrimSpace(attrs.Author)
	attrs.Genre = strings.TrimSpace(attrs.Genre)
	for field, value := range map[string]string{
		"title":  attrs.Title,
		"author": attrs.Author,
		"genre":  attrs.Genre,
	} {
		if value == "" {
			return fmt.Errorf("%w: %s required", ErrInvalidInput, field)
		}
		if len(value) > maxBookFieldLength {
			return fmt.Errorf("%w: %s must be at most %d characters", ErrInvalidInput, field, maxBookFieldLength)
		}
	}
	if attrs.PublicationYear < 0 {
		return fmt.Errorf("%w: publication year must not be negative", ErrInvalidInput)
	}
	return nil
}

// CreateBook adds a book to the owner's catalog.
func (a *App) CreateBook(ownerID string, attrs BookAttrs) (domain.Book, error) {
	if err := attrs.validate(); err != nil {
		return domain.Book{}, err
	}
	if _, err := a.GetUser(ownerID); err != nil {
		return domain.Book{}, err
	}
	now := time.Now().UTC()
	book := domain.Book{
		ID:              store.NewID(),
		OwnerID:         ownerID,
		Title:           attrs.Title,
		Author:          attrs.Author,
		Genre:           attrs.Genre,
		PublicationYear: attrs.PublicationYear,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := a.store.SaveBook(book); err != nil {
		return domain.Book{}, fmt.Errorf("save book: %w", err)
	}
	return book, nil
}

// GetBook returns a single book by id.
func (a *App) GetBook(id string) (domain.Book, error) {
	book, ok, err := a.store.GetBook(id)
	if err != nil {
		return domain.Book{}, fmt.Errorf("fetch book: %w", err)
	}
	if !ok {
		return domain.Book{}, ErrBookNotFound
	}
	return book, nil
}

// ListBooks returns the whole catalog.
func (a *App) ListBooks() ([]domain.Book, error) {
	return a.store.ListBooks()
}

// ListBooksByOwner returns a user's catalog.
func (a *App) ListBooksByOwner(ownerID string) ([]domain.Book, error) {
	if _, err := a.GetUser(ownerID); err != nil {
		return nil, err
	}
	return a.store.ListBooksByOwner(ownerID)
}

// UpdateBook replaces the book's attributes. Owner only.
func (a *App) UpdateBook(id, actingID string, attrs BookAttrs) (domain.Book, error) {
	if err := attrs.validate(); err != nil {
		return domain.Book{}, err
	}
	book, err := a.GetBook(id)
	if err != nil {
		return domain.Book{}, err
	}
	if book.OwnerID != actingID {
		return domain.Book{}, ErrNotBookOwner
	}
	book.Title = attrs.Title
	book.Author = attrs.Author
	book.Genre = attrs.Genre
	book.PublicationYear = attrs.PublicationYear
	book.UpdatedAt = time.Now().UTC()
	if err := a.store.SaveBook(book); err != nil {
		return domain.Book{}, fmt.Errorf("update book: %w", err)
	}
	return book, nil
}

// DeleteBook removes a book and its stored cover. Owner only.
func (a *App) DeleteBook(ctx context.Context, id, actingID string) error {
	book, err := a.GetBook(id)
	if err != nil {
		return err
	}
	if book.OwnerID != actingID {
		return ErrNotBookOwner
	}
	if err := a.store.DeleteBook(id); err != nil {
		return fmt.Errorf("delete book: %w", err)
	}
	if book.CoverKey != "" && a.covers != nil {
		// best effort, the orphaned object is harmless
		_ = a.covers.DeleteCover(ctx, book.ID)
	}
	return nil
}

// UploadCover stores a cover image for the book. Owner only; requires a
// configured object store.
func (a *App) UploadCover(ctx context.Context, bookID, actingID string, r io.Reader, size int64, contentType string) error {
	if a.covers == nil {
		return ErrCoversNotConfigured
	}
	book, err := a.GetBook(bookID)
	if err != nil {
		return err
	}
	if book.OwnerID != actingID {
		return ErrNotBookOwner
	}
	if err := a.covers.PutCover(ctx, bookID, r, size, contentType); err != nil {
		if errors.Is(err, storage.ErrUnsupportedCoverType) {
			return fmt.Errorf("%w: cover must be an image", ErrInvalidInput)
		}
		return fmt.Errorf("store cover: %w", err)
	}
	book.CoverKey = storage.CoverKey(bookID)
	book.UpdatedAt = time.Now().UTC()
	if err := a.store.SaveBook(book); err != nil {
		return fmt.Errorf("update book: %w", err)
	}
	return nil
}

// CoverURL returns a short-lived presigned URL for the book's cover.
func (a *App) CoverURL(ctx context.Context, bookID string) (string, error) {
	if a.covers == nil {
		return "", ErrCoversNotConfigured
	}
	book, err := a.GetBook(bookID)
	if err != nil {
		return "", err
	}
	if book.CoverKey == "" {
		return "", fmt.Errorf("%w: cover", ErrNotFound)
	}
	url, err := a.covers.PresignCover(ctx, book.ID, a.coverURLTTL)
	if err != nil {
		return "", fmt.Errorf("presign cover: %w", err)
	}
	return url, nil
}
