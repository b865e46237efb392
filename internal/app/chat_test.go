package app

import (
	"errors"
	"testing"
)

func TestSendMessageGates(t *testing.T) {
	a := newTestApp(t)
	owner := signUp(t, a, "Ana", "ana@example.com")
	requester := signUp(t, a, "Bob", "bob@example.com")
	stranger := signUp(t, a, "Cleo", "cleo@example.com")
	book := addBook(t, a, owner.ID, "Dune")

	exchange, err := a.CreateExchange(requester.ID, book.ID)
	if err != nil {
		t.Fatalf("create exchange: %v", err)
	}

	if _, err := a.SendMessage(exchange.ID, requester.ID, "   "); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("blank body err = %v, want invalid input", err)
	}
	if _, err := a.SendMessage("missing", requester.ID, "hi"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing exchange err = %v, want not found", err)
	}
	if _, err := a.SendMessage(exchange.ID, stranger.ID, "hi"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("stranger err = %v, want forbidden", err)
	}
	if _, err := a.SendMessage(exchange.ID, requester.ID, "is this still available?"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if _, err := a.ListMessages(exchange.ID, stranger.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("stranger list err = %v, want forbidden", err)
	}
}

func TestListMessagesOwnMessagesByDefault(t *testing.T) {
	a := newTestApp(t)
	owner := signUp(t, a, "Ana", "ana@example.com")
	requester := signUp(t, a, "Bob", "bob@example.com")
	book := addBook(t, a, owner.ID, "Dune")

	exchange, err := a.CreateExchange(requester.ID, book.ID)
	if err != nil {
		t.Fatalf("create exchange: %v", err)
	}
	if _, err := a.SendMessage(exchange.ID, requester.ID, "hello"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if _, err := a.SendMessage(exchange.ID, owner.ID, "hi there"); err != nil {
		t.Fatalf("send: %v", err)
	}

	// each side sees only its own messages
	got, err := a.ListMessages(exchange.ID, requester.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0].AuthorID != requester.ID {
		t.Fatalf("requester view = %+v, want only own message", got)
	}
	got, err = a.ListMessages(exchange.ID, owner.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0].AuthorID != owner.ID {
		t.Fatalf("owner view = %+v, want only own message", got)
	}
}

func TestListMessagesFullThread(t *testing.T) {
	a := newTestAppWith(t, Config{ChatFullThread: true})
	owner := signUp(t, a, "Ana", "ana@example.com")
	requester := signUp(t, a, "Bob", "bob@example.com")
	book := addBook(t, a, owner.ID, "Dune")

	exchange, err := a.CreateExchange(requester.ID, book.ID)
	if err != nil {
		t.Fatalf("create exchange: %v", err)
	}
	if _, err := a.SendMessage(exchange.ID, requester.ID, "hello"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if _, err := a.SendMessage(exchange.ID, owner.ID, "hi there"); err != nil {
		t.Fatalf("send: %v", err)
	}

	got, err := a.ListMessages(exchange.ID, requester.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("full thread = %d messages, want 2", len(got))
	}
	if got[0].Body != "hello" || got[1].Body != "hi there" {
		t.Fatalf("thread order = %+v", got)
	}
}
