package app

import (
	"fmt"
	"time"

	"bookswap/internal/store"
	"bookswap/pkg/domain"
)

// Reconcile sweeps every terminal exchange and backfills missing history
// entries. Idempotent; safe to run concurrently with the queue worker.
func (a *App) Reconcile() (int, error) {
	exchanges, err := a.store.ListTerminalExchanges()
	if err != nil {
		return 0, fmt.Errorf("list terminal exchanges: %w", err)
	}
	written := 0
	for _, e := range exchanges {
		n, err := a.reconcileOne(e)
		if err != nil {
			return written, err
		}
		written += n
	}
	return written, nil
}

// ReconcileExchange backfills history for a single exchange. Invoked by the
// queue worker and the synchronous fallback; a missing or still-pending
// exchange is a no-op so stale queue entries drain cleanly.
func (a *App) ReconcileExchange(exchangeID string) error {
	exchange, ok, err := a.store.GetExchange(exchangeID)
	if err != nil {
		return fmt.Errorf("fetch exchange: %w", err)
	}
	if !ok || !exchange.Status.Terminal() {
		return nil
	}
	_, err = a.reconcileOne(exchange)
	return err
}

func (a *App) reconcileOne(exchange domain.Exchange) (int, error) {
	existing, err := a.store.ListHistoryForExchange(exchange.ID)
	if err != nil {
		return 0, fmt.Errorf("list history: %w", err)
	}
	recorded := make(map[string]struct{}, len(existing))
	for _, entry := range existing {
		recorded[entry.ParticipantID] = struct{}{}
	}
	written := 0
	for _, participantID := range a.participants(exchange) {
		if _, ok := recorded[participantID]; ok {
			continue
		}
		entry := domain.HistoryEntry{
			ID:            store.NewID(),
			ExchangeID:    exchange.ID,
			ParticipantID: participantID,
			CreatedAt:     time.Now().UTC(),
		}
		if err := a.store.AppendHistory(entry); err != nil {
			return written, fmt.Errorf("append history: %w", err)
		}
		written++
	}
	return written, nil
}

// participants returns the user ids on both sides of an exchange. The owner
// side is resolved through the book; if the book was deleted after the
// transition, the ledger already names the owner and keeps the set complete.
func (a *App) participants(exchange domain.Exchange) []string {
	ids := []string{exchange.RequesterID}
	if book, ok, err := a.store.GetBook(exchange.RequestedBookID); err == nil && ok {
		if book.OwnerID != exchange.RequesterID {
			ids = append(ids, book.OwnerID)
		}
		return ids
	}
	entries, err := a.store.ListHistoryForExchange(exchange.ID)
	if err != nil {
		return ids
	}
	for _, entry := range entries {
		if entry.ParticipantID != exchange.RequesterID {
			ids = append(ids, entry.ParticipantID)
		}
	}
	return ids
}

// HistoryForUser returns the user's ledger entries joined with exchange
// outcome, book and counterparty data. An empty slice is a valid result.
func (a *App) HistoryForUser(userID string) ([]domain.HistoryItem, error) {
	if _, err := a.GetUser(userID); err != nil {
		return nil, err
	}
	entries, err := a.store.ListHistoryForUser(userID)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	items := make([]domain.HistoryItem, 0, len(entries))
	for _, entry := range entries {
		item := domain.HistoryItem{HistoryEntry: entry}
		exchange, ok, err := a.store.GetExchange(entry.ExchangeID)
		if err == nil && ok {
			item.ExchangeStatus = exchange.Status
			counterpartyID := exchange.RequesterID
			if book, ok, err := a.store.GetBook(exchange.RequestedBookID); err == nil && ok {
				item.BookTitle = book.Title
				item.BookAuthor = book.Author
				if exchange.RequesterID == userID {
					counterpartyID = book.OwnerID
				}
			}
			if counterpartyID != userID {
				item.CounterpartyID = counterpartyID
				if counterparty, ok, err := a.store.GetUserByID(counterpartyID); err == nil && ok {
					item.CounterpartyName = counterparty.Name
				}
			}
		}
		items = append(items, item)
	}
	return items, nil
}
