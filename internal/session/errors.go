package session

import "errors"

var (
	ErrSessionNotFound   = errors.New("session not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrInvalidStatus     = errors.New("invalid status")
	ErrUnknownDocument   = errors.New("unknown document index")
	ErrInvalidTTL        = errors.New("session ttl must be positive")
)
