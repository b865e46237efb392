package app

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"bookswap/internal/store"
	"bookswap/pkg/domain"
	"bookswap/pkg/storage"
)

func newTestApp(t *testing.T) *App {
	t.Helper()
	return newTestAppWith(t, Config{})
}

func newTestAppWith(t *testing.T, cfg Config) *App {
	t.Helper()
	if cfg.Store == nil {
		cfg.Store = store.NewMemoryStore()
	}
	if cfg.Sessions == nil {
		cfg.Sessions = store.NewJWTSessionStore("test-secret", time.Hour)
	}
	a, err := New(cfg)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	return a
}

func signUp(t *testing.T, a *App, name, email string) domain.User {
	t.Helper()
	user, _, err := a.SignUp(name, email, "password")
	if err != nil {
		t.Fatalf("sign up %s: %v", email, err)
	}
	return user
}

func addBook(t *testing.T, a *App, ownerID, title string) domain.Book {
	t.Helper()
	book, err := a.CreateBook(ownerID, BookAttrs{
		Title:           title,
		Author:          "Some Author",
		Genre:           "Fiction",
		PublicationYear: 1999,
	})
	if err != nil {
		t.Fatalf("create book %s: %v", title, err)
	}
	return book
}

// requestAndApprove runs book through a full exchange between requester and
// the book's owner, returning the terminal exchange.
func requestAndApprove(t *testing.T, a *App, requesterID string, book domain.Book) domain.Exchange {
	t.Helper()
	exchange, err := a.CreateExchange(requesterID, book.ID)
	if err != nil {
		t.Fatalf("create exchange: %v", err)
	}
	updated, err := a.UpdateExchangeStatus(context.Background(), exchange.ID, book.OwnerID, domain.ExchangeApproved)
	if err != nil {
		t.Fatalf("approve exchange: %v", err)
	}
	return updated
}

func TestSignUpAndLogin(t *testing.T) {
	a := newTestApp(t)

	user, token, err := a.SignUp("Ana", "ana@example.com", "secret")
	if err != nil {
		t.Fatalf("sign up: %v", err)
	}
	if token == "" {
		t.Fatalf("sign up must issue a token")
	}
	if user.PasswordHash == "secret" {
		t.Fatalf("password stored in the clear")
	}

	got, ok := a.UserFromToken(token)
	if !ok || got.ID != user.ID {
		t.Fatalf("token must resolve the new user")
	}

	if _, _, err := a.Login("ana@example.com", "secret"); err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, _, err := a.Login("ana@example.com", "wrong"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("bad password err = %v, want forbidden kind", err)
	}
	if _, _, err := a.Login("ghost@example.com", "secret"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("unknown email err = %v, want forbidden kind", err)
	}
}

func TestSignUpValidation(t *testing.T) {
	a := newTestApp(t)

	if _, _, err := a.SignUp("Al", "al@example.com", "secret"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("short name err = %v, want invalid input", err)
	}
	if _, _, err := a.SignUp("Alice", "not-an-email", "secret"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("bad email err = %v, want invalid input", err)
	}
	if _, _, err := a.SignUp("Alice", "alice@example.com", "1234"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("short password err = %v, want invalid input", err)
	}

	signUp(t, a, "Alice", "alice@example.com")
	if _, _, err := a.SignUp("Other", "alice@example.com", "secret"); !errors.Is(err, ErrConflict) {
		t.Fatalf("duplicate email err = %v, want conflict", err)
	}
}

func TestChangePassword(t *testing.T) {
	a := newTestApp(t)
	user := signUp(t, a, "Ana", "ana@example.com")
	other := signUp(t, a, "Bob", "bob@example.com")

	if err := a.ChangePassword(user.ID, other.ID, "newpass"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("change by another user err = %v, want forbidden", err)
	}
	if err := a.ChangePassword(user.ID, user.ID, "password"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("same password err = %v, want invalid input", err)
	}
	if err := a.ChangePassword(user.ID, user.ID, "newpass"); err != nil {
		t.Fatalf("change password: %v", err)
	}
	if _, _, err := a.Login("ana@example.com", "newpass"); err != nil {
		t.Fatalf("login with new password: %v", err)
	}
	if _, _, err := a.Login("ana@example.com", "password"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("old password must stop working, err = %v", err)
	}
}

func TestUpdateUserSelfOnly(t *testing.T) {
	a := newTestApp(t)
	user := signUp(t, a, "Ana", "ana@example.com")
	other := signUp(t, a, "Bob", "bob@example.com")

	name := "Ana Maria"
	if _, err := a.UpdateUser(user.ID, other.ID, &name, nil); !errors.Is(err, ErrForbidden) {
		t.Fatalf("update by another user err = %v, want forbidden", err)
	}
	updated, err := a.UpdateUser(user.ID, user.ID, &name, nil)
	if err != nil {
		t.Fatalf("update user: %v", err)
	}
	if updated.Name != "Ana Maria" {
		t.Fatalf("name = %q", updated.Name)
	}

	taken := "bob@example.com"
	if _, err := a.UpdateUser(user.ID, user.ID, nil, &taken); !errors.Is(err, ErrConflict) {
		t.Fatalf("taken email err = %v, want conflict", err)
	}

	if err := a.DeleteUser(user.ID, other.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("delete by another user err = %v, want forbidden", err)
	}
	if err := a.DeleteUser(user.ID, user.ID); err != nil {
		t.Fatalf("delete user: %v", err)
	}
	if _, err := a.GetUser(user.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("deleted user err = %v, want not found", err)
	}
}

func TestBookOwnershipGates(t *testing.T) {
	a := newTestApp(t)
	owner := signUp(t, a, "Ana", "ana@example.com")
	other := signUp(t, a, "Bob", "bob@example.com")
	book := addBook(t, a, owner.ID, "Dune")

	attrs := BookAttrs{Title: "Dune Messiah", Author: "Frank Herbert", Genre: "SF", PublicationYear: 1969}
	if _, err := a.UpdateBook(book.ID, other.ID, attrs); !errors.Is(err, ErrForbidden) {
		t.Fatalf("update by non-owner err = %v, want forbidden", err)
	}
	updated, err := a.UpdateBook(book.ID, owner.ID, attrs)
	if err != nil {
		t.Fatalf("update book: %v", err)
	}
	if updated.Title != "Dune Messiah" {
		t.Fatalf("title = %q", updated.Title)
	}

	if err := a.DeleteBook(context.Background(), book.ID, other.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("delete by non-owner err = %v, want forbidden", err)
	}
	if err := a.DeleteBook(context.Background(), book.ID, owner.ID); err != nil {
		t.Fatalf("delete book: %v", err)
	}
	if _, err := a.GetBook(book.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("deleted book err = %v, want not found", err)
	}
}

func TestBookValidation(t *testing.T) {
	a := newTestApp(t)
	owner := signUp(t, a, "Ana", "ana@example.com")

	if _, err := a.CreateBook(owner.ID, BookAttrs{Author: "X", Genre: "Y"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("missing title err = %v, want invalid input", err)
	}
	long := make([]byte, 256)
	for i := range long {
		long[i] = 'a'
	}
	if _, err := a.CreateBook(owner.ID, BookAttrs{Title: string(long), Author: "X", Genre: "Y"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("long title err = %v, want invalid input", err)
	}
}

// memoryCoverStore doubles for MinIO in tests, mirroring its content type
// check.
type memoryCoverStore struct {
	objects map[string]string // bookID -> contentType
}

func (f *memoryCoverStore) PutCover(_ context.Context, bookID string, _ io.Reader, _ int64, contentType string) error {
	if !strings.HasPrefix(contentType, "image/") {
		return storage.ErrUnsupportedCoverType
	}
	if f.objects == nil {
		f.objects = make(map[string]string)
	}
	f.objects[bookID] = contentType
	return nil
}

func (f *memoryCoverStore) PresignCover(_ context.Context, bookID string, _ time.Duration) (string, error) {
	return "https://covers.test/" + bookID, nil
}

func (f *memoryCoverStore) DeleteCover(_ context.Context, bookID string) error {
	delete(f.objects, bookID)
	return nil
}

func TestCoverLifecycle(t *testing.T) {
	covers := &memoryCoverStore{}
	a := newTestAppWith(t, Config{Covers: covers})
	owner := signUp(t, a, "Ana", "ana@example.com")
	book := addBook(t, a, owner.ID, "Dune")
	ctx := context.Background()

	err := a.UploadCover(ctx, book.ID, owner.ID, strings.NewReader("plain text"), 10, "text/plain")
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("non-image upload err = %v, want invalid input", err)
	}

	if err := a.UploadCover(ctx, book.ID, owner.ID, strings.NewReader("png bytes"), 9, "image/png"); err != nil {
		t.Fatalf("upload cover: %v", err)
	}
	url, err := a.CoverURL(ctx, book.ID)
	if err != nil {
		t.Fatalf("cover url: %v", err)
	}
	if url != "https://covers.test/"+book.ID {
		t.Fatalf("cover url = %q", url)
	}

	// deleting the book removes the stored cover
	if err := a.DeleteBook(ctx, book.ID, owner.ID); err != nil {
		t.Fatalf("delete book: %v", err)
	}
	if _, ok := covers.objects[book.ID]; ok {
		t.Fatalf("cover object must be removed with the book")
	}
}

func TestCoversUnconfigured(t *testing.T) {
	a := newTestApp(t)
	owner := signUp(t, a, "Ana", "ana@example.com")
	book := addBook(t, a, owner.ID, "Dune")

	err := a.UploadCover(context.Background(), book.ID, owner.ID, nil, 0, "image/png")
	if !errors.Is(err, ErrCoversNotConfigured) {
		t.Fatalf("upload without object store err = %v", err)
	}
	if _, err := a.CoverURL(context.Background(), book.ID); !errors.Is(err, ErrCoversNotConfigured) {
		t.Fatalf("cover url without object store err = %v", err)
	}
}
