package notifications

import (
	"errors"
	"fmt"
)

// Dispatch errors.
var (
	ErrInvalidRequest     = errors.New("invalid notification request")
	ErrUnsupportedChannel = errors.New("unsupported channel")
	ErrRateLimitExceeded  = errors.New("rate limit exceeded")
	ErrProviderDelivery   = errors.New("provider delivery failed")
	ErrSettingsLookup     = errors.New("settings lookup failed")
)

// Repository errors.
var (
	ErrNotificationNotFound = errors.New("notification not found")
	ErrSettingsNotFound     = errors.New("notification settings not found")
	// ErrNotPending is returned when a state change targets an item that is
	// no longer pending, so terminal rows are never rewritten.
	ErrNotPending = errors.New("notification is not pending")
	// ErrClaimLost is returned when a pass no longer holds the claim on an
	// item, either because it was resolved or another pass claimed it.
	ErrClaimLost = errors.New("notification claim lost")
)

// ErrDuplicateRequest is returned when an idempotency key was already used.
var ErrDuplicateRequest = errors.New("duplicate request")

func invalidRequest(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, msg)
}
