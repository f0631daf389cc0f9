package domain

import "errors"

var (
	ErrNotFound               = errors.New("not found")
	ErrTemporarilyUnavailable = errors.New("temporarily unavailable")
	ErrInvalidResponse        = errors.New("invalid response")
	ErrUnauthorized           = errors.New("unauthorized")
)
