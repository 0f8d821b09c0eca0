package fitq

import "errors"

// ErrBrokerUnavailable is returned when the broker has no live connection and
// the operation could not be attempted. Callers must treat this as "could not
// schedule", not as a crash condition.
var ErrBrokerUnavailable = errors.New("fitq: broker unavailable")

// ErrUnknownStatus is returned when an invalid status string is parsed.
var ErrUnknownStatus = errors.New("fitq: unknown status")

// ErrNoHandler indicates there is no handler registered for the task type.
// The worker marks such tasks FAILED without retry.
var ErrNoHandler = errors.New("fitq: no handler for task type")
