//go:build !opencv

package camera

import (
	"errors"

	"aranyani/internal/pipeline"
)

// ErrOpenCVUnavailable is returned when the binary was built without the
// opencv tag
var ErrOpenCVUnavailable = errors.New("device capture requires a build with -tags opencv")

// DeviceSource is unavailable without OpenCV
type DeviceSource struct {
	pipeline.FrameSource
}

// NewDeviceSource always fails in builds without OpenCV
func NewDeviceSource(device int) (*DeviceSource, error) {
	return nil, ErrOpenCVUnavailable
}
