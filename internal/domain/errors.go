package domain

import "errors"

var (
	ErrSerializationFailure = errors.New("serialization failure")
	ErrNotFound             = errors.New("not found")
	ErrTripInactive         = errors.New("trip inactive")
	ErrDuplicateTicket      = errors.New("buyer already holds a ticket for this trip")
	ErrCapacityFull         = errors.New("trip capacity full")
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrBadSignature         = errors.New("signature mismatch")
)
