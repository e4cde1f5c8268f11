package domain

import "errors"

var (
	// ErrSubscriptionFailed is returned when subscription to events fails
	ErrSubscriptionFailed = errors.New("subscription failed")

	// ErrInvalidEvent is returned when an event is missing required fields
	ErrInvalidEvent = errors.New("invalid ledger event")

	// ErrUnknownEventType is returned for events the projection does not handle
	ErrUnknownEventType = errors.New("unknown event type")

	// ErrInvalidAmount is returned when a wei or ether amount cannot be parsed
	ErrInvalidAmount = errors.New("invalid amount")
)
