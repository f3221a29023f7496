package domain

import "errors"

var (
	// ErrNotFound indicates that a referenced item, lane or parent is absent.
	ErrNotFound = errors.New("not found")
	// ErrInvalidIndex indicates a target position outside the lane bounds.
	ErrInvalidIndex = errors.New("invalid index")
	// ErrInvalidLane indicates a lane name outside the fixed set.
	ErrInvalidLane = errors.New("invalid lane")
	// ErrUnauthorized indicates a missing or invalid session.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrPersistence indicates that the persistence collaborator rejected an
	// update or could not be reached.
	ErrPersistence = errors.New("persistence failure")
	// ErrInvalidRequest indicates a request rejected by validation.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrConflict indicates a uniqueness violation, e.g. a duplicate email.
	ErrConflict = errors.New("conflict")
)
