package camera

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"aranyani/internal/pipeline"
)

const maxFrameBytes = 16 << 20

// isNetworkSource checks if a device string is an HTTP/RTSP URL
func isNetworkSource(device string) bool {
	return strings.HasPrefix(device, "http://") ||
		strings.HasPrefix(device, "https://") ||
		strings.HasPrefix(device, "rtsp://")
}

// closer tracks the closed state shared by all sources
type closer struct {
	mu     sync.RWMutex
	closed bool
}

func (c *closer) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

func (c *closer) close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func captureError(source string, err error) error {
	return fmt.Errorf("%w: %s: %v", pipeline.ErrCaptureFailure, source, err)
}

// HTTPSnapshotSource fetches one JPEG per capture from a camera's snapshot
// endpoint
type HTTPSnapshotSource struct {
	closer
	url    string
	client *http.Client
}

// NewHTTPSnapshotSource creates a snapshot source
func NewHTTPSnapshotSource(url string, timeout time.Duration) (*HTTPSnapshotSource, error) {
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return nil, fmt.Errorf("snapshot URL must be http(s): %q", url)
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPSnapshotSource{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}, nil
}

// Name implements pipeline.FrameSource
func (s *HTTPSnapshotSource) Name() string {
	return "http"
}

// Capture implements pipeline.FrameSource
func (s *HTTPSnapshotSource) Capture(ctx context.Context) (pipeline.FrameSample, error) {
	if s.isClosed() {
		return pipeline.FrameSample{}, captureError(s.Name(), fmt.Errorf("source closed"))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return pipeline.FrameSample{}, captureError(s.Name(), err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return pipeline.FrameSample{}, captureError(s.Name(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return pipeline.FrameSample{}, captureError(s.Name(), fmt.Errorf("camera returned %d", resp.StatusCode))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFrameBytes))
	if err != nil {
		return pipeline.FrameSample{}, captureError(s.Name(), err)
	}
	if len(data) == 0 {
		return pipeline.FrameSample{}, captureError(s.Name(), fmt.Errorf("empty frame"))
	}

	return pipeline.FrameSample{Data: data, CapturedAt: time.Now()}, nil
}

// Close implements pipeline.FrameSource
func (s *HTTPSnapshotSource) Close() error {
	s.close()
	s.client.CloseIdleConnections()
	return nil
}

// FileSource re-reads a snapshot file written by an external capture
// daemon
type FileSource struct {
	closer
	path string
}

// NewFileSource creates a file-backed source
func NewFileSource(path string) (*FileSource, error) {
	if path == "" {
		return nil, fmt.Errorf("snapshot path is required")
	}
	return &FileSource{path: path}, nil
}

// Name implements pipeline.FrameSource
func (s *FileSource) Name() string {
	return "file"
}

// Capture implements pipeline.FrameSource
func (s *FileSource) Capture(ctx context.Context) (pipeline.FrameSample, error) {
	if s.isClosed() {
		return pipeline.FrameSample{}, captureError(s.Name(), fmt.Errorf("source closed"))
	}
	if err := ctx.Err(); err != nil {
		return pipeline.FrameSample{}, captureError(s.Name(), err)
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return pipeline.FrameSample{}, captureError(s.Name(), err)
	}
	if len(data) == 0 {
		return pipeline.FrameSample{}, captureError(s.Name(), fmt.Errorf("empty frame"))
	}

	return pipeline.FrameSample{Data: data, CapturedAt: time.Now()}, nil
}

// Close implements pipeline.FrameSource
func (s *FileSource) Close() error {
	s.close()
	return nil
}

var (
	_ pipeline.FrameSource = (*HTTPSnapshotSource)(nil)
	_ pipeline.FrameSource = (*FileSource)(nil)
)
