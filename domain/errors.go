package domain

import "errors"

var (
	// ErrUnauthorized means no verified caller was presented.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden means the caller is known but lacks the required role.
	ErrForbidden = errors.New("forbidden")
	// ErrNotFound covers both absent entities and entities the caller cannot see.
	ErrNotFound = errors.New("not found")
	// ErrValidation wraps malformed input.
	ErrValidation = errors.New("validation failed")
	// ErrInvalidMove rejects moves that would cross board boundaries.
	ErrInvalidMove = errors.New("invalid move")
	// ErrConflict reports a uniqueness violation such as a duplicate member.
	ErrConflict = errors.New("conflict")
)
