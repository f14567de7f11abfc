// Package services defines the call-signaling business logic: transport
// selection, the lifecycle dispatcher and the user directory.
// This file centralizes the service-level error values so that they can be
// consistently carried in outcomes and checked by callers with errors.Is.
//
// Translation into HTTP status codes or WebSocket error frames is performed
// at the handler layer.
package services

import "errors"

// Dispatch failure classes.
var (
	// ErrInvalidEvent is returned when a call id, caller or callee is
	// missing, or when a lifecycle signal sets more than one phase flag.
	ErrInvalidEvent = errors.New("invalid call event")

	// ErrUnknownRecipient indicates the target user is not in the directory.
	ErrUnknownRecipient = errors.New("recipient not registered")

	// ErrRecipientNotReachable indicates the target exists but lacks the
	// device token the signal needs.
	ErrRecipientNotReachable = errors.New("recipient not reachable")

	// ErrTransportFailure is returned when the vendor did not confirm
	// delivery or could not be contacted.
	ErrTransportFailure = errors.New("push transport failure")
)

// Directory errors.
var (
	// ErrUserNotFound indicates that the requested user does not exist.
	ErrUserNotFound = errors.New("user not found")

	// ErrUserExists is returned when registering a username that is taken.
	ErrUserExists = errors.New("user already exists")

	// ErrInvalidUser is returned when a registration or update is missing
	// required fields or names an unsupported platform.
	ErrInvalidUser = errors.New("invalid user")
)
