package entitlement

import "errors"

var (
	// ErrStaleEvent marks an event whose occurred_at is not strictly after
	// the entitlement's last-applied event. Benign: logged, never retried.
	ErrStaleEvent = errors.New("stale event")

	// ErrInvalidTransition marks a (current status, event type) pair outside
	// the closed transition table. Non-retryable; the event is parked so an
	// operator can review it.
	ErrInvalidTransition = errors.New("invalid transition")
)

// IsNonRetryable reports whether reconciliation should park instead of retry.
// Anything else (storage hiccups and the like) is handed back to the task
// queue's bounded retry policy.
func IsNonRetryable(err error) bool {
	return errors.Is(err, ErrInvalidTransition)
}
