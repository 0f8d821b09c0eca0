package fitting

// Task types routed through the queue mux. FastTryOn is the same pipeline
// with low-sample defaults for quick previews.
const (
	TypeTryOn     = "virtual_fitting"
	TypeFastTryOn = "fast_fitting"
)

// Default sampling parameters per task type.
const (
	DefaultSamples     = 4
	DefaultFastSamples = 2
	DefaultScale       = 2.0
	DefaultModelType   = "dc"
)

// TryOnPayload is the typed task payload for both try-on task types.
type TryOnPayload struct {
	JobID   int64 `json:"job_id"`
	OwnerID int64 `json:"owner_id"`

	ModelImagePath string `json:"model_image_path"`
	ClothImagePath string `json:"cloth_image_path"`

	// Category selects the garment region (0 upper, 1 lower, 2 dress).
	Category  int     `json:"category"`
	ModelType string  `json:"model_type"`
	Scale     float64 `json:"scale"`
	Samples   int     `json:"samples"`
}

// normalize fills zero-valued parameters with the defaults for the task type.
func (p *TryOnPayload) normalize(taskType string) {
	if p.ModelType == "" {
		p.ModelType = DefaultModelType
	}
	if p.Scale <= 0 {
		p.Scale = DefaultScale
	}
	if p.Samples <= 0 {
		if taskType == TypeFastTryOn {
			p.Samples = DefaultFastSamples
		} else {
			p.Samples = DefaultSamples
		}
	}
}
