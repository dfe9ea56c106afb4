package api

import "errors"

// Sentinel errors for API operations.
var (
	ErrTaskNotFound         = errors.New("task not found")
	ErrNotificationNotFound = errors.New("notification not found")
	ErrForbidden            = errors.New("not authorized")
	ErrInvalidInput         = errors.New("invalid input")
	ErrRecurringDisabled    = errors.New("recurring generation is disabled")
)
