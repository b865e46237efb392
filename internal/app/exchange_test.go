package app

import (
	"context"
	"errors"
	"testing"

	"bookswap/internal/store"
	"bookswap/pkg/domain"
)

// pendingSnapshotStore reports every exchange as pending, standing in for a
// request that read the row before a concurrent transition landed.
type pendingSnapshotStore struct {
	store.Store
}

func (s pendingSnapshotStore) GetExchange(id string) (domain.Exchange, bool, error) {
	e, ok, err := s.Store.GetExchange(id)
	if ok {
		e.Status = domain.ExchangePending
	}
	return e, ok, err
}

func TestCreateExchangeGates(t *testing.T) {
	a := newTestApp(t)
	owner := signUp(t, a, "Ana", "ana@example.com")
	requester := signUp(t, a, "Bob", "bob@example.com")
	book := addBook(t, a, owner.ID, "Dune")

	if _, err := a.CreateExchange(requester.ID, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing book err = %v, want not found", err)
	}
	if _, err := a.CreateExchange(owner.ID, book.ID); !errors.Is(err, ErrInvalidOperation) {
		t.Fatalf("own book err = %v, want invalid operation", err)
	}

	if _, err := a.CreateExchange(requester.ID, book.ID); err != nil {
		t.Fatalf("create exchange: %v", err)
	}
	third := signUp(t, a, "Cleo", "cleo@example.com")
	if _, err := a.CreateExchange(third.ID, book.ID); !errors.Is(err, ErrConflict) {
		t.Fatalf("second pending err = %v, want conflict", err)
	}
}

func TestCancelExchange(t *testing.T) {
	a := newTestApp(t)
	owner := signUp(t, a, "Ana", "ana@example.com")
	requester := signUp(t, a, "Bob", "bob@example.com")
	book := addBook(t, a, owner.ID, "Dune")

	exchange, err := a.CreateExchange(requester.ID, book.ID)
	if err != nil {
		t.Fatalf("create exchange: %v", err)
	}

	if err := a.CancelExchange(exchange.ID, owner.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("cancel by owner err = %v, want forbidden", err)
	}
	if err := a.CancelExchange(exchange.ID, requester.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := a.GetExchange(exchange.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("cancelled exchange err = %v, want not found", err)
	}
	// cancellation leaves no trace in the ledger
	history, err := a.HistoryForUser(requester.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("history after cancel = %d entries, want 0", len(history))
	}

	// the book is requestable again
	if _, err := a.CreateExchange(requester.ID, book.ID); err != nil {
		t.Fatalf("re-request after cancel: %v", err)
	}
}

func TestUpdateExchangeStatus(t *testing.T) {
	a := newTestApp(t)
	owner := signUp(t, a, "Ana", "ana@example.com")
	requester := signUp(t, a, "Bob", "bob@example.com")
	book := addBook(t, a, owner.ID, "Dune")

	exchange, err := a.CreateExchange(requester.ID, book.ID)
	if err != nil {
		t.Fatalf("create exchange: %v", err)
	}
	ctx := context.Background()

	if _, err := a.UpdateExchangeStatus(ctx, exchange.ID, owner.ID, domain.ExchangePending); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("pending target err = %v, want invalid input", err)
	}
	if _, err := a.UpdateExchangeStatus(ctx, exchange.ID, requester.ID, domain.ExchangeApproved); !errors.Is(err, ErrForbidden) {
		t.Fatalf("decision by requester err = %v, want forbidden", err)
	}

	updated, err := a.UpdateExchangeStatus(ctx, exchange.ID, owner.ID, domain.ExchangeApproved)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if updated.Status != domain.ExchangeApproved {
		t.Fatalf("status = %s", updated.Status)
	}

	// terminal exchanges refuse further transitions
	if _, err := a.UpdateExchangeStatus(ctx, exchange.ID, owner.ID, domain.ExchangeRejected); !errors.Is(err, ErrForbidden) {
		t.Fatalf("re-transition err = %v, want forbidden", err)
	}
	if err := a.CancelExchange(exchange.ID, requester.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("cancel after approval err = %v, want forbidden", err)
	}
}

func TestConcurrentDecisionsCannotBothLand(t *testing.T) {
	mem := store.NewMemoryStore()
	a := newTestAppWith(t, Config{Store: pendingSnapshotStore{Store: mem}})
	owner := signUp(t, a, "Ana", "ana@example.com")
	requester := signUp(t, a, "Bob", "bob@example.com")
	book := addBook(t, a, owner.ID, "Dune")

	exchange, err := a.CreateExchange(requester.ID, book.ID)
	if err != nil {
		t.Fatalf("create exchange: %v", err)
	}
	ctx := context.Background()
	if _, err := a.UpdateExchangeStatus(ctx, exchange.ID, owner.ID, domain.ExchangeApproved); err != nil {
		t.Fatalf("approve: %v", err)
	}

	// the snapshot store makes the pre-check see a stale pending row, as a
	// racing request would; the conditional write must still refuse
	if _, err := a.UpdateExchangeStatus(ctx, exchange.ID, owner.ID, domain.ExchangeRejected); !errors.Is(err, ErrForbidden) {
		t.Fatalf("racing reject err = %v, want forbidden", err)
	}
	got, ok, _ := mem.GetExchange(exchange.ID)
	if !ok || got.Status != domain.ExchangeApproved {
		t.Fatalf("status = %s, want approved to survive the race", got.Status)
	}

	// same for a cancellation that read the row before the approval
	if err := a.CancelExchange(exchange.ID, requester.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("racing cancel err = %v, want forbidden", err)
	}
	if _, ok, _ := mem.GetExchange(exchange.ID); !ok {
		t.Fatalf("approved exchange must survive a racing cancellation")
	}
}

func TestTerminalTransitionWritesHistoryForBothParticipants(t *testing.T) {
	a := newTestApp(t)
	owner := signUp(t, a, "Ana", "ana@example.com")
	requester := signUp(t, a, "Bob", "bob@example.com")
	book := addBook(t, a, owner.ID, "Dune")

	exchange := requestAndApprove(t, a, requester.ID, book)

	for _, u := range []domain.User{owner, requester} {
		history, err := a.HistoryForUser(u.ID)
		if err != nil {
			t.Fatalf("history for %s: %v", u.Name, err)
		}
		if len(history) != 1 {
			t.Fatalf("history for %s = %d entries, want 1", u.Name, len(history))
		}
		item := history[0]
		if item.ExchangeID != exchange.ID || item.ExchangeStatus != domain.ExchangeApproved {
			t.Fatalf("history item = %+v", item)
		}
		if item.BookTitle != "Dune" {
			t.Fatalf("book title = %q", item.BookTitle)
		}
	}

	// counterparty resolution is symmetric
	ownerHistory, _ := a.HistoryForUser(owner.ID)
	if ownerHistory[0].CounterpartyID != requester.ID {
		t.Fatalf("owner counterparty = %s, want requester", ownerHistory[0].CounterpartyID)
	}
	requesterHistory, _ := a.HistoryForUser(requester.ID)
	if requesterHistory[0].CounterpartyID != owner.ID {
		t.Fatalf("requester counterparty = %s, want owner", requesterHistory[0].CounterpartyID)
	}
}

func TestReconcileIdempotent(t *testing.T) {
	a := newTestApp(t)
	owner := signUp(t, a, "Ana", "ana@example.com")
	requester := signUp(t, a, "Bob", "bob@example.com")
	book := addBook(t, a, owner.ID, "Dune")
	exchange := requestAndApprove(t, a, requester.ID, book)

	// the terminal transition already wrote both entries
	written, err := a.Reconcile()
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if written != 0 {
		t.Fatalf("reconcile wrote %d entries over a complete ledger, want 0", written)
	}
	if err := a.ReconcileExchange(exchange.ID); err != nil {
		t.Fatalf("single reconcile: %v", err)
	}
	history, err := a.HistoryForUser(requester.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("history = %d entries after double reconcile, want 1", len(history))
	}

	// unknown and pending exchanges drain as no-ops
	if err := a.ReconcileExchange("missing"); err != nil {
		t.Fatalf("reconcile missing exchange: %v", err)
	}
}

func TestListExchangesForUserRoles(t *testing.T) {
	a := newTestApp(t)
	owner := signUp(t, a, "Ana", "ana@example.com")
	requester := signUp(t, a, "Bob", "bob@example.com")
	book := addBook(t, a, owner.ID, "Dune")

	if _, err := a.CreateExchange(requester.ID, book.ID); err != nil {
		t.Fatalf("create exchange: %v", err)
	}

	items, err := a.ListExchangesForUser(requester.ID)
	if err != nil {
		t.Fatalf("list for requester: %v", err)
	}
	if len(items) != 1 || items[0].Role != domain.RoleRequested {
		t.Fatalf("requester items = %+v, want one with role requested", items)
	}
	if items[0].Book.Title != "Dune" || items[0].Requester.Name != "Bob" {
		t.Fatalf("summaries = %+v", items[0])
	}

	items, err = a.ListExchangesForUser(owner.ID)
	if err != nil {
		t.Fatalf("list for owner: %v", err)
	}
	if len(items) != 1 || items[0].Role != domain.RoleReceived {
		t.Fatalf("owner items = %+v, want one with role received", items)
	}
}
