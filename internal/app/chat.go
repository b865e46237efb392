package app

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"bookswap/internal/store"
	"bookswap/pkg/domain"
)

const maxMessageLength = 2000

// SendMessage appends a chat message to an exchange thread. Participants only.
func (a *App) SendMessage(exchangeID, authorID, body string) (domain.ChatMessage, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return domain.ChatMessage{}, ErrEmptyMessage
	}
	if utf8.RuneCountInString(body) > maxMessageLength {
		return domain.ChatMessage{}, ErrMessageTooLong
	}
	exchange, err := a.GetExchange(exchangeID)
	if err != nil {
		return domain.ChatMessage{}, err
	}
	if !contains(a.participants(exchange), authorID) {
		return domain.ChatMessage{}, ErrNotParticipant
	}
	message := domain.ChatMessage{
		ID:         store.NewID(),
		ExchangeID: exchangeID,
		AuthorID:   authorID,
		Body:       body,
		CreatedAt:  time.Now().UTC(),
	}
	if err := a.store.AppendMessage(message); err != nil {
		return domain.ChatMessage{}, fmt.Errorf("append message: %w", err)
	}
	return message, nil
}

// ListMessages returns the exchange thread in ascending order. By default
// each participant sees only their own messages; chatFullThread switches to
// the whole thread.
func (a *App) ListMessages(exchangeID, requesterID string) ([]domain.ChatMessage, error) {
	exchange, err := a.GetExchange(exchangeID)
	if err != nil {
		return nil, err
	}
	if !contains(a.participants(exchange), requesterID) {
		return nil, ErrNotParticipant
	}
	messages, err := a.store.ListMessages(exchangeID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	if a.chatFullThread {
		return messages, nil
	}
	own := make([]domain.ChatMessage, 0, len(messages))
	for _, message := range messages {
		if message.AuthorID == requesterID {
			own = append(own, message)
		}
	}
	return own, nil
}
