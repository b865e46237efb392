package store

import "github.com/google/uuid"

// NewID returns a new record id.
func NewID() string {
	return uuid.NewString()
}
