package keys

// Package keys centralizes Redis key construction.
// It is kept in internal to avoid leaking key formats to public API.

func Pending(q string) string    { return "fitq:{" + q + "}:pending" }
func Processing(q string) string { return "fitq:{" + q + "}:processing" }

// Status returns the per-task STRING key holding the broker-side status record.
func Status(q, id string) string { return "fitq:{" + q + "}:status:" + id }

// Queue holds precomputed keys for a queue name to avoid repeated concatenations.
type Queue struct {
	Pending      string
	Processing   string
	statusPrefix string
}

// For returns a set of precomputed keys for the provided queue.
func For(q string) Queue {
	prefix := "fitq:{" + q + "}:"
	return Queue{
		Pending:      prefix + "pending",
		Processing:   prefix + "processing",
		statusPrefix: prefix + "status:",
	}
}

// Status returns the status key for a task id within this queue.
func (k Queue) Status(id string) string { return k.statusPrefix + id }
