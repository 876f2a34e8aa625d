// Copyright (c) 2025 BVK Chaitanya

package exchange

import "errors"

var (
	// ErrUnavailable indicates a transient network or venue availability
	// failure. Operations failing with this error are safe to retry.
	ErrUnavailable = errors.New("exchange is unavailable")

	// ErrTimeout indicates that a request was sent but no response was
	// received, so the operation may or may not have taken effect on the
	// venue. Callers must not blindly retry order creation on this error.
	ErrTimeout = errors.New("exchange request timed out")

	// ErrOrderNotFound indicates that the venue does not know the given
	// order id, typically because the order is already filled or canceled.
	ErrOrderNotFound = errors.New("order not found at the exchange")

	// ErrInvalidOrder indicates the venue rejected the order parameters.
	// This is a configuration problem, not a transient failure.
	ErrInvalidOrder = errors.New("order is invalid")
)

// IsTransient reports whether the error is a retryable availability
// failure. Timeouts are deliberately excluded; see ErrTimeout.
func IsTransient(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// IsNetwork reports whether the error is any networking-class failure,
// including timeouts. Suitable for retrying idempotent operations.
func IsNetwork(err error) bool {
	return errors.Is(err, ErrUnavailable) || errors.Is(err, ErrTimeout)
}
