package board

import "errors"

// ErrOutOfRange is returned when a coordinate lies outside the board bounds.
var ErrOutOfRange = errors.New("coordinate out of range")

// ErrInvalidRegion is returned when a rectangle's start lies past its end.
var ErrInvalidRegion = errors.New("invalid coordinate range")

// ErrStorage is returned when a mutation could not be durably recorded.
// The in-memory grid is left untouched and the request may be retried.
var ErrStorage = errors.New("storage failure")
