package apperrors

import "errors"

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrClosed       = errors.New("closed")
	ErrMalformed    = errors.New("malformed payload")
)
