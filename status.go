package fitq

// Status represents the lifecycle state of a task or job.
// Use the exported constants (StatusQueued, StatusProcessing, etc.) instead of
// raw strings to avoid typos.
type Status string

const (
	// StatusQueued means the task is waiting in the pending list.
	StatusQueued Status = "QUEUED"
	// StatusProcessing means a worker has claimed the task and is running it.
	StatusProcessing Status = "PROCESSING"
	// StatusCompleted means the task finished and produced results.
	StatusCompleted Status = "COMPLETED"
	// StatusFailed means the task finished with an error.
	StatusFailed Status = "FAILED"
)

// AllStatuses lists every valid status in lifecycle order.
var AllStatuses = []Status{StatusQueued, StatusProcessing, StatusCompleted, StatusFailed}

// String returns the raw string value of the status.
func (s Status) String() string { return string(s) }

// Terminal reports whether the status permits no further transitions.
func (s Status) Terminal() bool { return s == StatusCompleted || s == StatusFailed }

// ParseStatus converts a string into a Status, returning an error for unknown values.
func ParseStatus(s string) (Status, error) {
	switch s {
	case string(StatusQueued):
		return StatusQueued, nil
	case string(StatusProcessing):
		return StatusProcessing, nil
	case string(StatusCompleted):
		return StatusCompleted, nil
	case string(StatusFailed):
		return StatusFailed, nil
	default:
		return "", ErrUnknownStatus
	}
}
