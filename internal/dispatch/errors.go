package dispatch

import "errors"

var (
	// ErrAlreadySent reports that the idempotency key was already claimed,
	// so this notification was delivered (or is being delivered) elsewhere.
	ErrAlreadySent = errors.New("dispatch: notification already sent")

	// ErrNotFound is returned when a log entry does not exist.
	ErrNotFound = errors.New("dispatch: notification not found")
)
