package app

import (
	"errors"
	"fmt"
)

// Error kinds. Every domain failure wraps exactly one kind so the transport
// layer can pick a status code with errors.Is without knowing the specifics.
var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrNotFound           = errors.New("not found")
	ErrForbidden          = errors.New("forbidden")
	ErrConflict           = errors.New("conflict")
	ErrPreconditionFailed = errors.New("precondition failed")
	ErrInvalidOperation   = errors.New("invalid operation")
)

var (
	// ErrInvalidCredentials deliberately does not reveal whether the account
	// exists.
	ErrInvalidCredentials = fmt.Errorf("%w: incorrect email address or password", ErrForbidden)

	ErrNameTooShort = fmt.Errorf("%w: name must be at least 3 characters", ErrInvalidInput)
	ErrEmailInvalid = fmt.Errorf("%w: a valid email address is required", ErrInvalidInput)
	ErrEmailTaken   = fmt.Errorf("%w: email already registered", ErrConflict)
	ErrSamePassword = fmt.Errorf("%w: new password must differ from the current one", ErrInvalidInput)

	ErrUserNotFound     = fmt.Errorf("%w: user", ErrNotFound)
	ErrBookNotFound     = fmt.Errorf("%w: book", ErrNotFound)
	ErrExchangeNotFound = fmt.Errorf("%w: exchange", ErrNotFound)

	ErrNotSelf        = fmt.Errorf("%w: only the account owner may do this", ErrForbidden)
	ErrNotBookOwner   = fmt.Errorf("%w: only the book owner may do this", ErrForbidden)
	ErrNotRequester   = fmt.Errorf("%w: only the requester may do this", ErrForbidden)
	ErrNotParticipant = fmt.Errorf("%w: not a participant of this exchange", ErrForbidden)

	ErrOwnBookRequest        = fmt.Errorf("%w: cannot request your own book", ErrInvalidOperation)
	ErrPendingExchangeExists = fmt.Errorf("%w: book already has a pending exchange", ErrConflict)
	ErrExchangeNotPending    = fmt.Errorf("%w: exchange is no longer pending", ErrForbidden)
	ErrInvalidStatus         = fmt.Errorf("%w: status must be approved or rejected", ErrInvalidInput)

	ErrRatingOutOfRange  = fmt.Errorf("%w: rating must be between 1 and 5", ErrInvalidInput)
	ErrCommentTooLong    = fmt.Errorf("%w: comment must be at most 255 characters", ErrInvalidInput)
	ErrHistoryIncomplete = fmt.Errorf("%w: exchange history not recorded for both participants", ErrPreconditionFailed)
	ErrReviewExists      = fmt.Errorf("%w: review already submitted for this exchange", ErrConflict)

	ErrEmptyMessage   = fmt.Errorf("%w: message body required", ErrInvalidInput)
	ErrMessageTooLong = fmt.Errorf("%w: message must be at most 2000 characters", ErrInvalidInput)

	// ErrCoversNotConfigured reports that no object store was wired in.
	// The server maps it to 501 rather than one of the kind codes.
	ErrCoversNotConfigured = errors.New("cover storage not configured")
)
