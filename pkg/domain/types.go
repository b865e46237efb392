package domain

import "time"

type ExchangeStatus string

const (
	ExchangePending  ExchangeStatus = "pending"
	ExchangeApproved ExchangeStatus = "approved"
	ExchangeRejected ExchangeStatus = "rejected"
)

// Terminal reports whether the status admits no further transitions.
func (s ExchangeStatus) Terminal() bool {
	return s == ExchangeApproved || s == ExchangeRejected
}

// ExchangeRole tags an exchange relative to a given user.
type ExchangeRole string

const (
	RoleRequested ExchangeRole = "requested"
	RoleReceived  ExchangeRole = "received"
)

type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

type Book struct {
	ID              string    `json:"id"`
	OwnerID         string    `json:"ownerId"`
	Title           string    `json:"title"`
	Author          string    `json:"author"`
	Genre           string    `json:"genre"`
	PublicationYear int       `json:"publicationYear"`
	CoverKey        string    `json:"-"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

type Exchange struct {
	ID              string         `json:"id"`
	RequestedBookID string         `json:"requestedBookId"`
	RequesterID     string         `json:"requesterId"`
	Status          ExchangeStatus `json:"status"`
	CreatedAt       time.Time      `json:"createdAt"`
	UpdatedAt       time.Time      `json:"updatedAt"`
}

// ExchangeListItem is an exchange annotated for a specific user's listing.
type ExchangeListItem struct {
	Exchange
	Role      ExchangeRole `json:"role"`
	Book      BookSummary  `json:"book"`
	Requester UserSummary  `json:"requester"`
}

type BookSummary struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Author string `json:"author"`
}

type UserSummary struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// HistoryEntry marks one user's participation in a terminated exchange.
// Entries are append-only and unique per (exchange, participant).
type HistoryEntry struct {
	ID            string    `json:"id"`
	ExchangeID    string    `json:"exchangeId"`
	ParticipantID string    `json:"participantId"`
	CreatedAt     time.Time `json:"createdAt"`
}

// HistoryItem is a history entry joined with exchange and counterparty data.
type HistoryItem struct {
	HistoryEntry
	ExchangeStatus   ExchangeStatus `json:"exchangeStatus"`
	BookTitle        string         `json:"bookTitle"`
	BookAuthor       string         `json:"bookAuthor"`
	CounterpartyID   string         `json:"counterpartyId"`
	CounterpartyName string         `json:"counterpartyName"`
}

type Review struct {
	ID         string    `json:"id"`
	ExchangeID string    `json:"exchangeId"`
	AuthorID   string    `json:"authorId"`
	Rating     int       `json:"rating"`
	Comment    string    `json:"comment,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

type ChatMessage struct {
	ID         string    `json:"id"`
	ExchangeID string    `json:"exchangeId"`
	AuthorID   string    `json:"authorId"`
	Body       string    `json:"body"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Profile is the public view of a user: derived reputation plus history.
type Profile struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Reputation float64       `json:"reputation"`
	History    []HistoryItem `json:"history"`
}
