package store

import "time"

// GORM models used for persistence. Uniqueness invariants live here as
// indexes so concurrent writers cannot bypass them; a partial unique index on
// pending exchanges is created separately in NewGormStore.
type UserModel struct {
	ID           string    `gorm:"primaryKey"`
	Name         string    `gorm:"not null"`
	Email        string    `gorm:"uniqueIndex;not null"`
	PasswordHash string    `gorm:"not null"`
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time `gorm:"not null"`
}

type BookModel struct {
	ID              string    `gorm:"primaryKey"`
	OwnerID         string    `gorm:"not null;index"`
	Title           string    `gorm:"not null"`
	Author          string    `gorm:"not null"`
	Genre           string    `gorm:"not null"`
	PublicationYear int       `gorm:"not null"`
	CoverKey        string    ``
	CreatedAt       time.Time `gorm:"not null"`
	UpdatedAt       time.Time `gorm:"not null"`
}

type ExchangeModel struct {
	ID              string    `gorm:"primaryKey"`
	RequestedBookID string    `gorm:"not null;index"`
	RequesterID     string    `gorm:"not null;index"`
	Status          string    `gorm:"not null;index"`
	CreatedAt       time.Time `gorm:"not null"`
	UpdatedAt       time.Time `gorm:"not null"`
}

type HistoryEntryModel struct {
	ID            string    `gorm:"primaryKey"`
	ExchangeID    string    `gorm:"not null;uniqueIndex:idx_history_exchange_participant"`
	ParticipantID string    `gorm:"not null;uniqueIndex:idx_history_exchange_participant;index"`
	CreatedAt     time.Time `gorm:"not null"`
}

type ReviewModel struct {
	ID         string    `gorm:"primaryKey"`
	ExchangeID string    `gorm:"not null;uniqueIndex:idx_review_exchange_author"`
	AuthorID   string    `gorm:"not null;uniqueIndex:idx_review_exchange_author"`
	Rating     int       `gorm:"not null"`
	Comment    string    `gorm:"type:varchar(255)"`
	CreatedAt  time.Time `gorm:"not null"`
}

type ChatMessageModel struct {
	ID         string    `gorm:"primaryKey"`
	ExchangeID string    `gorm:"not null;index"`
	AuthorID   string    `gorm:"not null;index"`
	Body       string    `gorm:"not null"`
	CreatedAt  time.Time `gorm:"not null;index"`
}
