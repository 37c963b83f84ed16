package detection

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"aranyani/internal/pipeline"
)

const (
	// DefaultInputSize is the square input edge of the bundled model
	DefaultInputSize = 640
	// DefaultMinConfidence is the minimum top-class confidence in percent
	DefaultMinConfidence = 25.0
)

// EngineConfig holds inference settings
type EngineConfig struct {
	Artifact       string     // Path to the compiled model artifact
	InputSize      int        // Square input edge (default 640)
	Classes        ClassTable // Label per class index
	MinConfidence  float64    // Percent, 0-100 (default 25)
	ExistenceFloor float32    // Raw score floor (default 0.001)
}

// Engine owns the model lifecycle and turns candidate frames into ranked
// class predictions.
type Engine struct {
	runtime Runtime
	config  EngineConfig
	loads   singleflight.Group

	mu       sync.RWMutex
	ready    bool
	disposed bool
	info     ModelInfo
	minConf  float64
}

// NewEngine creates an engine; the model is not loaded until Initialize
func NewEngine(runtime Runtime, config EngineConfig) *Engine {
	if config.InputSize <= 0 {
		config.InputSize = DefaultInputSize
	}
	if len(config.Classes) == 0 {
		config.Classes = DefaultClasses
	}
	if config.MinConfidence <= 0 {
		config.MinConfidence = DefaultMinConfidence
	}
	if config.ExistenceFloor <= 0 {
		config.ExistenceFloor = DefaultExistenceFloor
	}

	return &Engine{
		runtime: runtime,
		config:  config,
		minConf: config.MinConfidence,
	}
}

// Initialize loads the model. Concurrent callers share one load, and a
// loaded model is never reloaded.
func (e *Engine) Initialize(ctx context.Context) error {
	e.mu.RLock()
	ready, disposed := e.ready, e.disposed
	e.mu.RUnlock()

	if disposed {
		return ErrModelDisposed
	}
	if ready {
		return nil
	}

	_, err, _ := e.loads.Do("load", func() (interface{}, error) {
		return nil, e.load(ctx)
	})
	return err
}

func (e *Engine) load(ctx context.Context) error {
	e.mu.RLock()
	if e.ready {
		e.mu.RUnlock()
		return nil
	}
	e.mu.RUnlock()

	artifact := e.config.Artifact
	if artifact == "" {
		return &ModelLoadError{Artifact: artifact, Err: errors.New("no model artifact configured")}
	}
	st, err := os.Stat(artifact)
	if err != nil {
		return &ModelLoadError{Artifact: artifact, Err: err}
	}
	if st.Size() == 0 {
		return &ModelLoadError{Artifact: artifact, Err: errors.New("artifact is empty")}
	}
	if e.runtime == nil {
		return &ModelLoadError{Artifact: artifact, Err: errors.New("no model runtime available")}
	}

	start := time.Now()
	info, err := e.runtime.Load(ctx, artifact)
	if err != nil {
		return &ModelLoadError{Artifact: artifact, Err: err}
	}
	if info.Classes > 0 && info.Classes != len(e.config.Classes) {
		return &ModelLoadError{
			Artifact: artifact,
			Err:      fmt.Errorf("model reports %d classes, label table has %d", info.Classes, len(e.config.Classes)),
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.disposed {
		e.runtime.Close()
		return ErrModelDisposed
	}
	e.info = info
	e.ready = true

	log.Printf("[Engine] Model %s loaded in %v (input %dx%d, %d classes)",
		info.Name, time.Since(start).Round(time.Millisecond), e.config.InputSize, e.config.InputSize, len(e.config.Classes))
	return nil
}

// Classify runs the full inference path and reports why nothing was found
func (e *Engine) Classify(ctx context.Context, image []byte) (pipeline.RankedPredictions, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if !e.ready {
		return nil, pipeline.ErrModelNotReady
	}

	tensor, err := Preprocess(image, e.config.InputSize)
	if err != nil {
		return nil, err
	}

	output, err := e.runtime.Run(ctx, tensor)
	if err != nil {
		return nil, fmt.Errorf("failed to run model: %w", err)
	}

	det, err := DecodeOutput(output, len(e.config.Classes), e.config.ExistenceFloor)
	if err != nil {
		return nil, err
	}

	preds := Rank(det.Scores, e.config.Classes)
	top, _ := preds.Top()
	if !meetsConfidence(top.Confidence, e.minConf) {
		return nil, fmt.Errorf("%w: %s %.1f%% < %.1f%%", ErrBelowConfidence, top.Label, top.Confidence, e.minConf)
	}

	log.Printf("[Engine] Top %s %.1f%% (anchor %d, raw %.3f, box %.0f,%.0f %.0fx%.0f)",
		top.Label, top.Confidence, det.Anchor, det.Score, det.Box[0], det.Box[1], det.Box[2], det.Box[3])
	return preds, nil
}

// meetsConfidence is false for a NaN confidence
func meetsConfidence(confidence, floor float64) bool {
	return confidence >= floor
}

// Predict maps every failure to "no result"
func (e *Engine) Predict(ctx context.Context, image []byte) (pipeline.RankedPredictions, bool) {
	preds, err := e.Classify(ctx, image)
	if err != nil {
		if !errors.Is(err, ErrNoDetection) && !errors.Is(err, ErrBelowConfidence) {
			log.Printf("[Engine] Prediction failed: %v", err)
		}
		return nil, false
	}
	return preds, true
}

// Dispose releases the model; later predictions fail fast
func (e *Engine) Dispose() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.disposed {
		return nil
	}
	e.disposed = true
	e.ready = false

	if e.runtime != nil {
		if err := e.runtime.Close(); err != nil {
			return fmt.Errorf("failed to release model runtime: %w", err)
		}
	}
	log.Printf("[Engine] Model disposed")
	return nil
}

// Ready returns true if the model is loaded
func (e *Engine) Ready() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ready
}

// Disposed returns true after Dispose
func (e *Engine) Disposed() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.disposed
}

// Info returns the loaded model description
func (e *Engine) Info() ModelInfo {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.info
}

// SetMinConfidence adjusts the confidence floor in percent
func (e *Engine) SetMinConfidence(percent float64) {
	if percent <= 0 || percent > 100 {
		return
	}
	e.mu.Lock()
	e.minConf = percent
	e.mu.Unlock()
}

// MinConfidence returns the confidence floor in percent
func (e *Engine) MinConfidence() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.minConf
}

var _ pipeline.Classifier = (*Engine)(nil)
