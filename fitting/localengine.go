package fitting

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"

	fitq "github.com/wearlab/fitq"
)

// LocalEngine is a compositing engine for development and previews: it
// overlays the garment image onto the model image at a few placements
// instead of calling a diffusion model. Outputs land in ResultsDir as PNG.
type LocalEngine struct {
	resultsDir string
	log        fitq.Logger
}

// NewLocalEngine creates the engine and ensures the results directory exists.
func NewLocalEngine(resultsDir string, log fitq.Logger) (*LocalEngine, error) {
	if log == nil {
		log = fitq.NewFmtLogger()
	}
	if err := os.MkdirAll(resultsDir, 0o755); err != nil {
		return nil, err
	}
	return &LocalEngine{resultsDir: resultsDir, log: log}, nil
}

func (e *LocalEngine) TryOn(ctx context.Context, req Request) ([]string, error) {
	model, err := imaging.Open(req.ModelImagePath)
	if err != nil {
		return nil, fmt.Errorf("open model image: %w", err)
	}
	cloth, err := imaging.Open(req.ClothImagePath)
	if err != nil {
		return nil, fmt.Errorf("open cloth image: %w", err)
	}

	mw := model.Bounds().Dx()
	mh := model.Bounds().Dy()
	runID := uuid.NewString()

	paths := make([]string, 0, req.Samples)
	for i := 0; i < req.Samples; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		// Vary placement scale per sample so every output differs.
		frac := 0.45 + 0.05*float64(i)
		w := int(float64(mw) * frac)
		fitted := imaging.Resize(cloth, w, 0, imaging.Lanczos)

		x := (mw - fitted.Bounds().Dx()) / 2
		y := anchorY(req.Category, mh)
		out := imaging.Overlay(model, fitted, image.Pt(x, y), 1.0)

		name := fmt.Sprintf("%s_result_%d.png", runID, i)
		dst := filepath.Join(e.resultsDir, name)
		if err := imaging.Save(out, dst); err != nil {
			return nil, fmt.Errorf("save result: %w", err)
		}
		paths = append(paths, dst)
	}
	e.log.Infof("local engine: generated %d samples run=%s", len(paths), runID)
	return paths, nil
}

// anchorY places the garment by category: upper body, lower body or full dress.
func anchorY(category, modelH int) int {
	switch category {
	case 1:
		return modelH / 2
	case 2:
		return modelH / 5
	default:
		return modelH / 4
	}
}
