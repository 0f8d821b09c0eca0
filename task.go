package fitq

// Task is the transient, queue-resident unit of work. It is serialized to
// JSON and lives in Redis only: from enqueue until a worker consumes it, with
// a TTL-bound status record surviving until terminal state expiry.
type Task struct {
	// ID is the unique identifier for the task, generated at enqueue time.
	ID string `json:"id"`
	// Type selects the worker handler that processes this task.
	Type string `json:"type"`
	// Queue is the name of the queue this task belongs to.
	Queue string `json:"queue"`
	// Payload is the raw handler-specific input data.
	Payload []byte `json:"payload"`
	// Status mirrors the durable job lifecycle for fast polling against the
	// broker without touching the durable store.
	Status Status `json:"status"`
	// CreatedAt is the timestamp (ms) when the task was enqueued.
	CreatedAt int64 `json:"created_at,omitempty"`
}

// StatusRecord is the broker-side status mirror stored per task id under a
// TTL. It is redundant with the durable job record on purpose: polling it is
// cheap and its expiry bounds broker memory.
type StatusRecord struct {
	// Status is the last broker-visible lifecycle state of the task.
	Status Status `json:"status"`
	// UpdatedAt is the timestamp (ms) of the last status write.
	UpdatedAt int64 `json:"updated_at"`
	// Error holds the truncated failure message when Status is FAILED.
	Error string `json:"error,omitempty"`
	// Results holds result references when Status is COMPLETED.
	Results []string `json:"results,omitempty"`
}
