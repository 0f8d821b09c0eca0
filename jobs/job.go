package jobs

import (
	"time"

	fitq "github.com/wearlab/fitq"
)

// MaxResults bounds the transient result set attached to a job.
const MaxResults = 6

// ErrorLimit bounds the stored failure message.
const ErrorLimit = 1000

// Job is the durable, user-visible representation of a try-on request and
// its outcome. Transitions are forward-only: QUEUED, PROCESSING, then one of
// COMPLETED or FAILED. Results are non-empty exactly when the job completed;
// ErrorMessage is set exactly when it failed. A job row is deleted only by a
// client-driven finalize or cancel, never by workers or the queue.
type Job struct {
	ID      int64       `json:"id"`
	OwnerID int64       `json:"owner_id"`
	Status  fitq.Status `json:"status"`

	// Input image references. Retained through PROCESSING for debugging;
	// cleaned up only on terminal states, and only when they live under the
	// temp namespace.
	ModelImagePath string `json:"model_image_path"`
	ClothImagePath string `json:"cloth_image_path"`

	// Results holds up to MaxResults transient result references, populated
	// only on COMPLETED.
	Results []string `json:"results,omitempty"`
	// ErrorMessage is populated only on FAILED, truncated to ErrorLimit.
	ErrorMessage string `json:"error_message,omitempty"`

	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Fitting is the permanent record created when a client finalizes a completed
// job by selecting one result image.
type Fitting struct {
	ID        int64     `json:"fitting_id"`
	OwnerID   int64     `json:"owner_id"`
	ImageURL  string    `json:"image_url"`
	CreatedAt time.Time `json:"created_at"`
}
