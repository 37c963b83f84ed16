package services

import (
	"context"
	"errors"

	goa "goa.design/goa/v3/pkg"

	"aranyani/internal/pipeline"
)

// CameraImplementation serves on-demand stills from the frame source
type CameraImplementation struct {
	source pipeline.FrameSource
}

// NewCameraService creates a new camera service implementation
func NewCameraService(source pipeline.FrameSource) *CameraImplementation {
	return &CameraImplementation{source: source}
}

// Snapshot captures one still. It does not touch the change detector, so
// an operator peeking at the camera never affects motion gating. The source
// should share the scheduler's capture guard (see Scheduler.Exclusive).
func (c *CameraImplementation) Snapshot(ctx context.Context) (*pipeline.FrameSample, error) {
	sample, err := c.source.Capture(ctx)
	if err != nil {
		if errors.Is(err, pipeline.ErrCaptureBusy) || errors.Is(err, pipeline.ErrCaptureFailure) {
			return nil, goa.TemporaryError("unavailable", "%s", err)
		}
		return nil, goa.Fault("%s", err)
	}
	return &sample, nil
}

// SourceName returns the frame source identifier
func (c *CameraImplementation) SourceName() string {
	return c.source.Name()
}
