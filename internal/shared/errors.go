package shared

import "errors"

var (
	ErrNotImplemented = errors.New("not implemented")

	// Configuration errors
	ErrMissingConfig = errors.New("configuration not found")
	ErrInvalidConfig = errors.New("invalid configuration")

	// Persistence errors
	ErrStorage         = errors.New("storage fault")
	ErrMalformedData   = errors.New("malformed persisted data")
	ErrVersionConflict = errors.New("collection changed since it was loaded")

	// Queue errors
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrQueueClosed       = errors.New("queue closed")
	ErrDrainInProgress   = errors.New("drain already in progress")

	// API and service errors
	ErrAPIRequest         = errors.New("API request failed")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrPermanent          = errors.New("request rejected by backend")
	ErrNotAuthenticated   = errors.New("not authenticated")

	// Input validation errors
	ErrInvalidInput    = errors.New("invalid input")
	ErrMissingArgument = errors.New("missing required argument")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotFound        = errors.New("not found")
)
