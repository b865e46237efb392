package app

import (
	"context"
	"errors"
	"testing"

	"bookswap/pkg/domain"
)

// End-to-end walk through the marketplace: signup, catalog, exchange
// lifecycle, ledger, reviews, reputation and chat.
func TestMarketplaceScenario(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	ana := signUp(t, a, "Ana", "ana@example.com")
	bob := signUp(t, a, "Bob", "bob@example.com")
	dune := addBook(t, a, ana.ID, "Dune")

	exchange, err := a.CreateExchange(bob.ID, dune.ID)
	if err != nil {
		t.Fatalf("create exchange: %v", err)
	}
	if exchange.Status != domain.ExchangePending {
		t.Fatalf("new exchange status = %s", exchange.Status)
	}

	// chat opens as soon as the exchange exists
	if _, err := a.SendMessage(exchange.ID, bob.ID, "still available?"); err != nil {
		t.Fatalf("chat: %v", err)
	}

	// review is gated until the exchange terminates
	if _, err := a.CreateReview(exchange.ID, bob.ID, 5, ""); !errors.Is(err, ErrPreconditionFailed) {
		t.Fatalf("early review err = %v, want precondition failed", err)
	}

	if _, err := a.UpdateExchangeStatus(ctx, exchange.ID, ana.ID, domain.ExchangeApproved); err != nil {
		t.Fatalf("approve: %v", err)
	}

	// both ledgers carry exactly one entry, even after a manual sweep
	if _, err := a.Reconcile(); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	for _, u := range []domain.User{ana, bob} {
		history, err := a.HistoryForUser(u.ID)
		if err != nil {
			t.Fatalf("history: %v", err)
		}
		if len(history) != 1 {
			t.Fatalf("history for %s = %d, want 1", u.Name, len(history))
		}
	}

	// both sides review once; reputation derives from the counterparty's rating
	if _, err := a.CreateReview(exchange.ID, bob.ID, 5, "smooth trade"); err != nil {
		t.Fatalf("bob review: %v", err)
	}
	if _, err := a.CreateReview(exchange.ID, ana.ID, 4, ""); err != nil {
		t.Fatalf("ana review: %v", err)
	}
	anaRep, err := a.ReputationFor(ana.ID)
	if err != nil {
		t.Fatalf("reputation: %v", err)
	}
	if anaRep != 5.0 {
		t.Fatalf("ana reputation = %v, want 5.0", anaRep)
	}
	bobRep, err := a.ReputationFor(bob.ID)
	if err != nil {
		t.Fatalf("reputation: %v", err)
	}
	if bobRep != 4.0 {
		t.Fatalf("bob reputation = %v, want 4.0", bobRep)
	}
}

type recordingEnqueuer struct {
	ids  []string
	fail bool
}

func (r *recordingEnqueuer) Enqueue(_ context.Context, exchangeID string) error {
	if r.fail {
		return errors.New("redis down")
	}
	r.ids = append(r.ids, exchangeID)
	return nil
}

func TestTerminalTransitionEnqueuesReconcile(t *testing.T) {
	enq := &recordingEnqueuer{}
	a := newTestAppWith(t, Config{Reconcile: enq})
	owner := signUp(t, a, "Ana", "ana@example.com")
	requester := signUp(t, a, "Bob", "bob@example.com")
	book := addBook(t, a, owner.ID, "Dune")
	exchange := requestAndApprove(t, a, requester.ID, book)

	if len(enq.ids) != 1 || enq.ids[0] != exchange.ID {
		t.Fatalf("enqueued = %v, want [%s]", enq.ids, exchange.ID)
	}
	// with a healthy queue nothing is written synchronously
	history, err := a.HistoryForUser(requester.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("history before worker ran = %d, want 0", len(history))
	}

	// the worker path drains the id
	if err := a.ReconcileExchange(exchange.ID); err != nil {
		t.Fatalf("worker reconcile: %v", err)
	}
	history, _ = a.HistoryForUser(requester.ID)
	if len(history) != 1 {
		t.Fatalf("history after worker = %d, want 1", len(history))
	}
}

func TestTerminalTransitionFallsBackWhenEnqueueFails(t *testing.T) {
	a := newTestAppWith(t, Config{Reconcile: &recordingEnqueuer{fail: true}})
	owner := signUp(t, a, "Ana", "ana@example.com")
	requester := signUp(t, a, "Bob", "bob@example.com")
	book := addBook(t, a, owner.ID, "Dune")
	requestAndApprove(t, a, requester.ID, book)

	history, err := a.HistoryForUser(requester.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("synchronous fallback wrote %d entries, want 1", len(history))
	}
}
