package domain

import "errors"

var (
	// ErrUserNotFound is returned when a referenced user does not exist.
	ErrUserNotFound = errors.New("user not found")
	// ErrAttemptNotFound is returned when a submitted attempt id is unknown.
	ErrAttemptNotFound = errors.New("attempt not found")
	// ErrTaskNotFound indicates the task behind an attempt could not be loaded.
	ErrTaskNotFound = errors.New("task not found")
	// ErrLevelNotFound indicates the requested learning level has no seed.
	ErrLevelNotFound = errors.New("learning level not found")
	// ErrBadReference is returned when createdById does not reference an existing user.
	ErrBadReference = errors.New("createdById does not reference an existing user")
	// ErrInvalidSelection indicates a selected option index outside the task options.
	ErrInvalidSelection = errors.New("selected option index out of range")
	// ErrInvalidRequest covers malformed input such as missing ids.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrNotOwner is returned when a user submits an attempt owned by someone else.
	ErrNotOwner = errors.New("attempt does not belong to user")
	// ErrAlreadyFinalized is returned for a second submission of the same attempt.
	ErrAlreadyFinalized = errors.New("attempt already submitted")

	// ErrWriteConflict is the store's signal that a concurrent transaction invalidated
	// the rows of the current unit. It is the only retryable error.
	ErrWriteConflict = errors.New("write conflict")
	// ErrRetriesExhausted wraps the last write conflict once the retry budget is spent.
	ErrRetriesExhausted = errors.New("retries exhausted")

	// ErrContentGeneration is returned when the content source fails or returns an invalid task.
	ErrContentGeneration = errors.New("content generation failed")
)
