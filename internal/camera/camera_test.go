package camera

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"aranyani/internal/pipeline"
)

func TestHTTPSnapshotSource(t *testing.T) {
	frame := []byte{0xff, 0xd8, 0xff, 0xe0, 1, 2, 3}
	status := http.StatusOK

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		if status == http.StatusOK {
			w.Write(frame)
		}
	}))
	defer srv.Close()

	src, err := NewHTTPSnapshotSource(srv.URL+"/snapshot.jpg", 0)
	if err != nil {
		t.Fatalf("NewHTTPSnapshotSource: %v", err)
	}

	sample, err := src.Capture(context.Background())
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if !bytes.Equal(sample.Data, frame) {
		t.Errorf("data = %v, want %v", sample.Data, frame)
	}
	if sample.CapturedAt.IsZero() {
		t.Error("CapturedAt not set")
	}

	status = http.StatusServiceUnavailable
	if _, err := src.Capture(context.Background()); !errors.Is(err, pipeline.ErrCaptureFailure) {
		t.Errorf("error = %v, want ErrCaptureFailure", err)
	}

	src.Close()
	status = http.StatusOK
	if _, err := src.Capture(context.Background()); !errors.Is(err, pipeline.ErrCaptureFailure) {
		t.Errorf("closed source error = %v, want ErrCaptureFailure", err)
	}
}

func TestHTTPSnapshotSourceRejectsNonHTTP(t *testing.T) {
	if _, err := NewHTTPSnapshotSource("rtsp://cam/stream", 0); err == nil {
		t.Fatal("expected error for rtsp URL")
	}
}

func TestFileSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "latest.jpg")

	src, err := NewFileSource(path)
	if err != nil {
		t.Fatalf("NewFileSource: %v", err)
	}

	if _, err := src.Capture(context.Background()); !errors.Is(err, pipeline.ErrCaptureFailure) {
		t.Fatalf("missing file error = %v, want ErrCaptureFailure", err)
	}

	os.WriteFile(path, nil, 0o644)
	if _, err := src.Capture(context.Background()); !errors.Is(err, pipeline.ErrCaptureFailure) {
		t.Fatalf("empty file error = %v, want ErrCaptureFailure", err)
	}

	os.WriteFile(path, []byte("frame-1"), 0o644)
	sample, err := src.Capture(context.Background())
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if string(sample.Data) != "frame-1" {
		t.Errorf("data = %q", sample.Data)
	}

	os.WriteFile(path, []byte("frame-2"), 0o644)
	sample, _ = src.Capture(context.Background())
	if string(sample.Data) != "frame-2" {
		t.Errorf("file not re-read: %q", sample.Data)
	}
}

func TestFFmpegArgs(t *testing.T) {
	tests := []struct {
		name       string
		device     string
		resolution string
		want       string
	}{
		{"rtsp", "rtsp://cam/stream", "", "-y -i rtsp://cam/stream -vframes 1 -f mjpeg -q:v 2 -"},
		{"v4l2", "/dev/video0", "", "-f v4l2 -i /dev/video0 -vframes 1 -f mjpeg -q:v 2 -"},
		{"v4l2 sized", "/dev/video0", "1280x720", "-f v4l2 -video_size 1280x720 -i /dev/video0 -vframes 1 -f mjpeg -q:v 2 -"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src, err := NewFFmpegSource(tt.device, tt.resolution)
			if err != nil {
				t.Fatalf("NewFFmpegSource: %v", err)
			}
			if got := strings.Join(src.args(), " "); got != tt.want {
				t.Errorf("args = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFFmpegMissingBinary(t *testing.T) {
	src, _ := NewFFmpegSource("/dev/video0", "")
	src.binary = filepath.Join(t.TempDir(), "no-ffmpeg")

	if _, err := src.Capture(context.Background()); !errors.Is(err, pipeline.ErrCaptureFailure) {
		t.Fatalf("error = %v, want ErrCaptureFailure", err)
	}
}
