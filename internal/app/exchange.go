package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"bookswap/internal/store"
	"bookswap/pkg/domain"
)

// CreateExchange opens a pending exchange for a book. At most one pending
// exchange may exist per book; requesting one's own book is rejected.
func (a *App) CreateExchange(requesterID, requestedBookID string) (domain.Exchange, error) {
	book, ok, err := a.store.GetBook(requestedBookID)
	if err != nil {
		return domain.Exchange{}, fmt.Errorf("fetch book: %w", err)
	}
	if !ok {
		return domain.Exchange{}, ErrBookNotFound
	}
	if book.OwnerID == requesterID {
		return domain.Exchange{}, ErrOwnBookRequest
	}
	now := time.Now().UTC()
	exchange := domain.Exchange{
		ID:              store.NewID(),
		RequestedBookID: requestedBookID,
		RequesterID:     requesterID,
		Status:          domain.ExchangePending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := a.store.CreateExchange(exchange); err != nil {
		if isDuplicate(err) {
			return domain.Exchange{}, ErrPendingExchangeExists
		}
		return domain.Exchange{}, fmt.Errorf("create exchange: %w", err)
	}
	return exchange, nil
}

// GetExchange returns a single exchange by id.
func (a *App) GetExchange(id string) (domain.Exchange, error) {
	exchange, ok, err := a.store.GetExchange(id)
	if err != nil {
		return domain.Exchange{}, fmt.Errorf("fetch exchange: %w", err)
	}
	if !ok {
		return domain.Exchange{}, ErrExchangeNotFound
	}
	return exchange, nil
}

// CancelExchange withdraws a pending exchange. Requester only; the row is
// deleted and no history is written.
func (a *App) CancelExchange(id, actingID string) error {
	exchange, err := a.GetExchange(id)
	if err != nil {
		return err
	}
	if exchange.Status != domain.ExchangePending {
		return ErrExchangeNotPending
	}
	if exchange.RequesterID != actingID {
		return ErrNotRequester
	}
	// conditional delete: a concurrent approval or rejection wins the race
	// and the cancellation fails instead of erasing the decided exchange
	if err := a.store.DeleteExchange(id); err != nil {
		if errors.Is(err, store.ErrNotPending) {
			return ErrExchangeNotPending
		}
		return fmt.Errorf("delete exchange: %w", err)
	}
	return nil
}

// UpdateExchangeStatus moves a pending exchange to approved or rejected.
// Only the requested book's owner may decide. The transition is terminal and
// triggers history propagation.
func (a *App) UpdateExchangeStatus(ctx context.Context, id, actingID string, status domain.ExchangeStatus) (domain.Exchange, error) {
	if !status.Terminal() {
		return domain.Exchange{}, ErrInvalidStatus
	}
	exchange, err := a.GetExchange(id)
	if err != nil {
		return domain.Exchange{}, err
	}
	if exchange.Status != domain.ExchangePending {
		return domain.Exchange{}, ErrExchangeNotPending
	}
	book, ok, err := a.store.GetBook(exchange.RequestedBookID)
	if err != nil {
		return domain.Exchange{}, fmt.Errorf("fetch book: %w", err)
	}
	if !ok || book.OwnerID != actingID {
		return domain.Exchange{}, ErrNotBookOwner
	}
	// the store only writes if the row is still pending, so two concurrent
	// decisions cannot both land; the loser fails like any late decider
	if err := a.store.SetExchangeStatus(id, status); err != nil {
		if errors.Is(err, store.ErrNotPending) {
			return domain.Exchange{}, ErrExchangeNotPending
		}
		return domain.Exchange{}, fmt.Errorf("set exchange status: %w", err)
	}
	exchange.Status = status
	exchange.UpdatedAt = time.Now().UTC()

	a.propagateHistory(ctx, id)
	return exchange, nil
}

// propagateHistory enqueues the exchange for the reconcile worker, falling
// back to a synchronous write when no queue is wired or the enqueue fails.
// The manual sweep catches anything lost here.
func (a *App) propagateHistory(ctx context.Context, exchangeID string) {
	if a.reconcile != nil {
		err := a.reconcile.Enqueue(ctx, exchangeID)
		if err == nil {
			return
		}
		slog.Warn("enqueue history reconcile failed, writing synchronously",
			"exchange_id", exchangeID, "err", err)
	}
	if err := a.ReconcileExchange(exchangeID); err != nil {
		slog.Error("synchronous history reconcile failed",
			"exchange_id", exchangeID, "err", err)
	}
}

// ListExchanges returns every exchange.
func (a *App) ListExchanges() ([]domain.Exchange, error) {
	return a.store.ListExchanges()
}

// ListExchangesForUser returns the exchanges the user participates in, each
// annotated with the user's role and book/requester summaries.
func (a *App) ListExchangesForUser(userID string) ([]domain.ExchangeListItem, error) {
	if _, err := a.GetUser(userID); err != nil {
		return nil, err
	}
	exchanges, err := a.store.ListExchangesForUser(userID)
	if err != nil {
		return nil, fmt.Errorf("list exchanges: %w", err)
	}
	items := make([]domain.ExchangeListItem, 0, len(exchanges))
	for _, e := range exchanges {
		item := domain.ExchangeListItem{Exchange: e, Role: domain.RoleReceived}
		if e.RequesterID == userID {
			item.Role = domain.RoleRequested
		}
		if book, ok, err := a.store.GetBook(e.RequestedBookID); err == nil && ok {
			item.Book = domain.BookSummary{ID: book.ID, Title: book.Title, Author: book.Author}
		}
		if requester, ok, err := a.store.GetUserByID(e.RequesterID); err == nil && ok {
			item.Requester = domain.UserSummary{ID: requester.ID, Name: requester.Name}
		}
		items = append(items, item)
	}
	return items, nil
}
