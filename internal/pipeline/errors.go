package pipeline

import "errors"

var (
	ErrAlreadyRunning      = errors.New("scheduler already running")
	ErrCaptureFailure      = errors.New("capture failure")
	ErrCaptureBusy         = errors.New("camera busy with another capture")
	ErrModelNotReady       = errors.New("model not ready")
	ErrDecodeFailure       = errors.New("decode failure")
	ErrLocationUnavailable = errors.New("location unavailable")
	ErrDispatchFailure     = errors.New("dispatch failure")
)
