package camera

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"

	"aranyani/internal/pipeline"
)

// FFmpegSource grabs single frames from RTSP streams or V4L2 devices by
// shelling out to ffmpeg
type FFmpegSource struct {
	closer
	device     string
	resolution string
	binary     string
}

// NewFFmpegSource creates an ffmpeg-backed source. resolution applies to
// V4L2 devices only.
func NewFFmpegSource(device, resolution string) (*FFmpegSource, error) {
	if device == "" {
		return nil, fmt.Errorf("ffmpeg input is required")
	}
	return &FFmpegSource{
		device:     device,
		resolution: resolution,
		binary:     "ffmpeg",
	}, nil
}

// Name implements pipeline.FrameSource
func (s *FFmpegSource) Name() string {
	return "ffmpeg"
}

func (s *FFmpegSource) args() []string {
	var args []string
	if isNetworkSource(s.device) {
		args = []string{"-y", "-i", s.device}
	} else {
		args = []string{"-f", "v4l2"}
		if s.resolution != "" {
			args = append(args, "-video_size", s.resolution)
		}
		args = append(args, "-i", s.device)
	}
	return append(args, "-vframes", "1", "-f", "mjpeg", "-q:v", "2", "-")
}

// Capture implements pipeline.FrameSource
func (s *FFmpegSource) Capture(ctx context.Context) (pipeline.FrameSample, error) {
	if s.isClosed() {
		return pipeline.FrameSample{}, captureError(s.Name(), fmt.Errorf("source closed"))
	}

	cmd := exec.CommandContext(ctx, s.binary, s.args()...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return pipeline.FrameSample{}, captureError(s.Name(), fmt.Errorf("ffmpeg failed: %w (stderr: %s)", err, stderr.String()))
	}
	if stdout.Len() == 0 {
		return pipeline.FrameSample{}, captureError(s.Name(), fmt.Errorf("empty frame"))
	}

	return pipeline.FrameSample{Data: stdout.Bytes(), CapturedAt: time.Now()}, nil
}

// Close implements pipeline.FrameSource
func (s *FFmpegSource) Close() error {
	s.close()
	return nil
}

var _ pipeline.FrameSource = (*FFmpegSource)(nil)
