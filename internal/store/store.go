package store

import (
	"errors"

	"bookswap/pkg/domain"
)

// ErrDuplicate reports a write that violates a uniqueness invariant
// (duplicate email, second pending exchange for a book, second review by
// the same author).
var ErrDuplicate = errors.New("store: duplicate record")

// ErrNotPending reports a conditional exchange write (terminal transition or
// cancellation delete) that found the row no longer pending, usually because
// a concurrent request resolved the exchange first.
var ErrNotPending = errors.New("store: exchange not pending")

// Store defines persistence operations for the marketplace. All methods are
// safe for concurrent use; check-then-act sequences run inside one
// transaction (or one critical section) in the implementations.
type Store interface {
	// users
	SaveUser(domain.User) error
	HasUserEmail(email string) (bool, error)
	GetUserByEmail(email string) (domain.User, bool, error)
	GetUserByID(id string) (domain.User, bool, error)
	ListUsers() ([]domain.User, error)
	DeleteUser(id string) error

	// books
	SaveBook(domain.Book) error
	GetBook(id string) (domain.Book, bool, error)
	ListBooks() ([]domain.Book, error)
	ListBooksByOwner(ownerID string) ([]domain.Book, error)
	DeleteBook(id string) error

	// exchanges
	CreateExchange(domain.Exchange) error
	GetExchange(id string) (domain.Exchange, bool, error)
	ListExchanges() ([]domain.Exchange, error)
	ListExchangesForUser(userID string) ([]domain.Exchange, error)
	ListTerminalExchanges() ([]domain.Exchange, error)
	// SetExchangeStatus and DeleteExchange only touch rows that are still
	// pending and return ErrNotPending otherwise; a terminal status is
	// final at the storage level.
	SetExchangeStatus(id string, status domain.ExchangeStatus) error
	DeleteExchange(id string) error

	// history (append-only)
	AppendHistory(domain.HistoryEntry) error
	HasHistory(exchangeID, participantID string) (bool, error)
	ListHistoryForUser(userID string) ([]domain.HistoryEntry, error)
	ListHistoryForExchange(exchangeID string) ([]domain.HistoryEntry, error)

	// reviews
	SaveReview(domain.Review) error
	HasReview(exchangeID, authorID string) (bool, error)
	ListReviewsForExchange(exchangeID string) ([]domain.Review, error)
	ListReviewsAboutUser(userID string) ([]domain.Review, error)

	// chat (append-only)
	AppendMessage(domain.ChatMessage) error
	ListMessages(exchangeID string) ([]domain.ChatMessage, error)
}

// SessionStore issues and validates session tokens.
type SessionStore interface {
	NewSession(userID string) (string, error)
	GetUserIDByToken(token string) (string, bool, error)
}
