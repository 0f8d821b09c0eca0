package fitting

import (
	"context"
	"errors"
)

// ErrCapacity marks transient resource exhaustion in the inference backend
// (GPU memory, quota). Handlers retry such failures a bounded number of
// times with degraded parameters; every other error is fatal and fails the
// job immediately.
var ErrCapacity = errors.New("fitting: inference capacity exhausted")

// Request carries the inputs for one inference call.
type Request struct {
	ModelImagePath string
	ClothImagePath string
	// Category selects the garment region (0 upper, 1 lower, 2 dress).
	Category  int
	ModelType string
	Scale     float64
	Samples   int
}

// Engine is the inference port: a synchronous call that produces result
// image references or an error. Latency is seconds to minutes; callers bound
// the wall clock through ctx. Implementations classify transient capacity
// failures by wrapping ErrCapacity.
type Engine interface {
	TryOn(ctx context.Context, req Request) ([]string, error)
}

// EngineFunc adapts a function to the Engine interface, mainly for tests.
type EngineFunc func(ctx context.Context, req Request) ([]string, error)

func (f EngineFunc) TryOn(ctx context.Context, req Request) ([]string, error) {
	return f(ctx, req)
}
