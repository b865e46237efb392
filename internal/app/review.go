package app

import (
	"fmt"
	"sort"
	"time"
	"unicode/utf8"

	"bookswap/internal/store"
	"bookswap/pkg/domain"
)

const maxCommentLength = 255

// CreateReview records a review of an exchange by one of its participants.
// Requires history entries for both participants; one review per author per
// exchange.
func (a *App) CreateReview(exchangeID, authorID string, rating int, comment string) (domain.Review, error) {
	if rating < 1 || rating > 5 {
		return domain.Review{}, ErrRatingOutOfRange
	}
	if utf8.RuneCountInString(comment) > maxCommentLength {
		return domain.Review{}, ErrCommentTooLong
	}
	exchange, err := a.GetExchange(exchangeID)
	if err != nil {
		return domain.Review{}, err
	}
	participants := a.participants(exchange)
	if !contains(participants, authorID) {
		return domain.Review{}, ErrNotParticipant
	}
	for _, participantID := range participants {
		has, err := a.store.HasHistory(exchangeID, participantID)
		if err != nil {
			return domain.Review{}, fmt.Errorf("check history: %w", err)
		}
		if !has {
			return domain.Review{}, ErrHistoryIncomplete
		}
	}
	if has, err := a.store.HasReview(exchangeID, authorID); err != nil {
		return domain.Review{}, fmt.Errorf("check review: %w", err)
	} else if has {
		return domain.Review{}, ErrReviewExists
	}
	review := domain.Review{
		ID:         store.NewID(),
		ExchangeID: exchangeID,
		AuthorID:   authorID,
		Rating:     rating,
		Comment:    comment,
		CreatedAt:  time.Now().UTC(),
	}
	if err := a.store.SaveReview(review); err != nil {
		if isDuplicate(err) {
			return domain.Review{}, ErrReviewExists
		}
		return domain.Review{}, fmt.Errorf("save review: %w", err)
	}
	return review, nil
}

// ReviewsForExchange returns an exchange's reviews in creation order.
func (a *App) ReviewsForExchange(exchangeID string) ([]domain.Review, error) {
	if _, err := a.GetExchange(exchangeID); err != nil {
		return nil, err
	}
	reviews, err := a.store.ListReviewsForExchange(exchangeID)
	if err != nil {
		return nil, fmt.Errorf("list reviews: %w", err)
	}
	sort.SliceStable(reviews, func(i, j int) bool {
		return reviews[i].CreatedAt.Before(reviews[j].CreatedAt)
	})
	return reviews, nil
}

func contains(ids []string, id string) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}
