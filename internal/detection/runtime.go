package detection

import "context"

// ModelInfo describes a loaded model
type ModelInfo struct {
	Name      string `json:"name"`
	InputSize int    `json:"input_size"`
	Classes   int    `json:"classes"`
	Anchors   int    `json:"anchors"`
}

// Runtime executes a compiled detection model.
// Implementations wrap an on-device inference backend.
type Runtime interface {
	// Load prepares the model at the given artifact path
	Load(ctx context.Context, artifact string) (ModelInfo, error)

	// Run feeds an NHWC float32 tensor and returns the raw output tensor
	Run(ctx context.Context, input []float32) ([]float32, error)

	// Close releases runtime resources
	Close() error
}
