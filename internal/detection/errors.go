package detection

import (
	"errors"
	"fmt"

	"aranyani/internal/pipeline"
)

var (
	// ErrNoDetection means no anchor scored above the existence floor
	ErrNoDetection = errors.New("no detection above existence floor")
	// ErrBelowConfidence means the top class did not reach the minimum confidence
	ErrBelowConfidence = errors.New("top prediction below minimum confidence")
	// ErrModelDisposed is returned by Initialize after Dispose
	ErrModelDisposed = errors.New("model has been disposed")
)

// ModelLoadError reports a failure to load the model artifact
type ModelLoadError struct {
	Artifact string
	Err      error
}

func (e *ModelLoadError) Error() string {
	return fmt.Sprintf("failed to load model %q: %v", e.Artifact, e.Err)
}

func (e *ModelLoadError) Unwrap() error {
	return e.Err
}

// DecodeError reports an image or tensor that could not be decoded
type DecodeError struct {
	Stage  string // "image" or "output"
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode %s: %s", e.Stage, e.Reason)
}

func (e *DecodeError) Unwrap() error {
	return pipeline.ErrDecodeFailure
}
