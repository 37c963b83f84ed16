//go:build opencv

package camera

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"aranyani/internal/pipeline"
)

// DeviceSource reads frames from a local camera through OpenCV
type DeviceSource struct {
	mu      sync.Mutex
	device  int
	capture *gocv.VideoCapture
	frame   gocv.Mat
}

// NewDeviceSource opens a local camera by index
func NewDeviceSource(device int) (*DeviceSource, error) {
	capture, err := gocv.OpenVideoCapture(device)
	if err != nil {
		return nil, fmt.Errorf("failed to open camera %d: %w", device, err)
	}
	log.Printf("[Camera] Opened device %d", device)

	return &DeviceSource{
		device:  device,
		capture: capture,
		frame:   gocv.NewMat(),
	}, nil
}

// Name implements pipeline.FrameSource
func (s *DeviceSource) Name() string {
	return "device"
}

// Capture implements pipeline.FrameSource
func (s *DeviceSource) Capture(ctx context.Context) (pipeline.FrameSample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.capture == nil {
		return pipeline.FrameSample{}, captureError(s.Name(), fmt.Errorf("source closed"))
	}
	if err := ctx.Err(); err != nil {
		return pipeline.FrameSample{}, captureError(s.Name(), err)
	}

	if ok := s.capture.Read(&s.frame); !ok || s.frame.Empty() {
		return pipeline.FrameSample{}, captureError(s.Name(), fmt.Errorf("no frame from device %d", s.device))
	}

	buf, err := gocv.IMEncode(".jpg", s.frame)
	if err != nil {
		return pipeline.FrameSample{}, captureError(s.Name(), fmt.Errorf("failed to encode frame: %w", err))
	}
	defer buf.Close()

	// GetBytes aliases C memory released by buf.Close
	data := append([]byte(nil), buf.GetBytes()...)
	return pipeline.FrameSample{Data: data, CapturedAt: time.Now()}, nil
}

// Close implements pipeline.FrameSource
func (s *DeviceSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.capture == nil {
		return nil
	}
	s.frame.Close()
	err := s.capture.Close()
	s.capture = nil
	return err
}

var _ pipeline.FrameSource = (*DeviceSource)(nil)
