package common

import "errors"

// Shared error taxonomy. Services wrap these with fmt.Errorf("...: %w", ...)
// and the api layer maps them to HTTP statuses with errors.Is.
var (
	// ErrValidation indicates the input failed a validation rule
	ErrValidation = errors.New("invalid input")

	// ErrNotFound indicates the requested record doesn't exist
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates the record already exists
	ErrConflict = errors.New("already exists")

	// ErrUnauthorized indicates bad credentials
	ErrUnauthorized = errors.New("username or password wrong")

	// ErrForbidden indicates the requester lacks the required role
	ErrForbidden = errors.New("forbidden")

	// ErrGhostTarget indicates a like/unlike aimed at a deleted comment
	ErrGhostTarget = errors.New("target is gone")

	// ErrUnavailable indicates the store timed out or exhausted its retries
	ErrUnavailable = errors.New("store unavailable")
)
