package domain

import "errors"

var (
	// ErrEmptyRule is returned when a rule is added with blank input.
	ErrEmptyRule = errors.New("rule input must not be empty")
	// ErrQuotaExceeded is returned when the hourly grant quota is used up.
	ErrQuotaExceeded = errors.New("quota exceeded")
	// ErrInvalidKey covers both unknown and expired keys on purpose.
	ErrInvalidKey = errors.New("invalid or expired")
	// ErrGrantUnavailable is reported when a grant could not be issued for
	// any reason other than quota.
	ErrGrantUnavailable = errors.New("grant unavailable")
	// ErrKeySpaceExhausted is returned when no unused key could be drawn.
	ErrKeySpaceExhausted = errors.New("could not generate a unique grant key")
	// ErrUnknownMessage is returned for message kinds outside the protocol.
	ErrUnknownMessage = errors.New("unknown message type")
)
