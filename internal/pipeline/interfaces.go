package pipeline

import (
	"context"
	"time"
)

// FrameSource captures still images on demand
type FrameSource interface {
	// Name returns the source identifier (e.g., "http", "file", "device")
	Name() string

	// Capture takes a single still
	Capture(ctx context.Context) (FrameSample, error)

	// Close releases the underlying device or connection
	Close() error
}

// LocationProvider returns the node's current geographic fix
type LocationProvider interface {
	CurrentPosition(ctx context.Context) (Location, error)
}

// ChangeDetector decides whether the scene changed between consecutive samples
type ChangeDetector interface {
	// Prime stores the sample's signature without comparing (warmup frames)
	Prime(sample FrameSample)

	// Observe compares the sample with the previous one and then replaces it
	Observe(sample FrameSample) Comparison

	// SetThreshold adjusts the change sensitivity in percent
	SetThreshold(percent float64)

	// Reset forgets the previous signature
	Reset()
}

// Classifier runs the on-device detector on a candidate frame
type Classifier interface {
	// Initialize loads the model; idempotent
	Initialize(ctx context.Context) error

	// Predict returns ranked predictions, or false when nothing usable was found
	Predict(ctx context.Context, image []byte) (RankedPredictions, bool)

	// Ready returns true if the model is loaded
	Ready() bool

	// Disposed returns true once the model was released for good
	Disposed() bool
}

// AlertPolicy gates predictions by exclusion list and cooldown
type AlertPolicy interface {
	// Admit reports the verdict Evaluate would reach, without mutating state
	Admit(preds RankedPredictions, nodeID string, now time.Time) Decision

	// Evaluate builds the alert event and arms the cooldown on acceptance
	Evaluate(preds RankedPredictions, image []byte, loc Location, nodeID string, now time.Time) (*AlertEvent, Decision)
}

// Gateway delivers alert events to the backend
type Gateway interface {
	Name() string
	Dispatch(ctx context.Context, event *AlertEvent) (DispatchAck, error)
	Close() error
}

// Dispatcher hands alert events to a gateway without blocking the caller
type Dispatcher interface {
	// Submit starts the dispatch and returns immediately.
	// Reading the returned channel is optional.
	Submit(ctx context.Context, event *AlertEvent) <-chan DispatchResult
}

// AlertHandler receives accepted alert events
type AlertHandler interface {
	// OnAlert is called for every accepted alert
	OnAlert(event *AlertEvent)
}

// CycleRunner executes one capture cycle for the scheduler
type CycleRunner interface {
	RunCycle(ctx context.Context, tick Tick) error
	Reset()
}
