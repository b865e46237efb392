package app

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"bookswap/pkg/domain"
)

// ListUsers returns every registered user.
func (a *App) ListUsers() ([]domain.User, error) {
	return a.store.ListUsers()
}

// GetUser returns a single user by id.
func (a *App) GetUser(id string) (domain.User, error) {
	user, ok, err := a.store.GetUserByID(id)
	if err != nil {
		return domain.User{}, fmt.Errorf("fetch user: %w", err)
	}
	if !ok {
		return domain.User{}, ErrUserNotFound
	}
	return user, nil
}

// GetProfile returns the public view of a user: name, derived reputation and
// transaction history.
func (a *App) GetProfile(id string) (domain.Profile, error) {
	user, err := a.GetUser(id)
	if err != nil {
		return domain.Profile{}, err
	}
	reputation, err := a.ReputationFor(id)
	if err != nil {
		return domain.Profile{}, err
	}
	history, err := a.HistoryForUser(id)
	if err != nil {
		return domain.Profile{}, err
	}
	return domain.Profile{
		ID:         user.ID,
		Name:       user.Name,
		Reputation: reputation,
		History:    history,
	}, nil
}

// UpdateUser changes name and/or email on the user's own account. Nil fields
// are left untouched.
func (a *App) UpdateUser(id, actingID string, name, email *string) (domain.User, error) {
	if id != actingID {
		return domain.User{}, ErrNotSelf
	}
	user, err := a.GetUser(id)
	if err != nil {
		return domain.User{}, err
	}
	if name != nil {
		trimmed := strings.TrimSpace(*name)
		if utf8.RuneCountInString(trimmed) < minNameLength {
			return domain.User{}, ErrNameTooShort
		}
		user.Name = trimmed
	}
	if email != nil {
		normalized, err := normalizeEmail(*email)
		if err != nil {
			return domain.User{}, err
		}
		if normalized != user.Email {
			existing, ok, err := a.store.GetUserByEmail(normalized)
			if err != nil {
				return domain.User{}, fmt.Errorf("check email: %w", err)
			}
			if ok && existing.ID != user.ID {
				return domain.User{}, ErrEmailTaken
			}
			user.Email = normalized
		}
	}
	user.UpdatedAt = time.Now().UTC()
	if err := a.store.SaveUser(user); err != nil {
		if isDuplicate(err) {
			return domain.User{}, ErrEmailTaken
		}
		return domain.User{}, fmt.Errorf("update user: %w", err)
	}
	return user, nil
}

// DeleteUser removes the user's own account.
func (a *App) DeleteUser(id, actingID string) error {
	if id != actingID {
		return ErrNotSelf
	}
	if _, err := a.GetUser(id); err != nil {
		return err
	}
	if err := a.store.DeleteUser(id); err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return nil
}

// ReputationFor computes the arithmetic mean of ratings given to the user by
// exchange counterparties. Derived on every call, never stored; 0.0 without
// reviews.
func (a *App) ReputationFor(userID string) (float64, error) {
	if _, err := a.GetUser(userID); err != nil {
		return 0, err
	}
	reviews, err := a.store.ListReviewsAboutUser(userID)
	if err != nil {
		return 0, fmt.Errorf("list reviews: %w", err)
	}
	if len(reviews) == 0 {
		return 0, nil
	}
	sum := 0
	for _, r := range reviews {
		sum += r.Rating
	}
	return float64(sum) / float64(len(reviews)), nil
}
