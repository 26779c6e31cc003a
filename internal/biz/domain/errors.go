package domain

import "errors"

var (
	// ErrInvalidArgument marks caller misuse: nil or blank required input
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotFound marks a lookup miss
	ErrNotFound = errors.New("not found")

	// ErrInvalidCast marks a conversion from the wrong native shape
	ErrInvalidCast = errors.New("invalid cast")

	// ErrPermanentDelivery marks an outbound message that ran out of retries
	ErrPermanentDelivery = errors.New("permanent delivery failure")
)
