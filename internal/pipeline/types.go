package pipeline

import (
	"time"

	"github.com/google/uuid"
)

// FrameSample is a single captured still. It is never mutated after capture.
type FrameSample struct {
	Data       []byte    // Encoded image bytes (JPEG/PNG)
	CapturedAt time.Time // Capture timestamp
	Seq        uint64    // Frame counter value at capture (1-based, reset on Stop)
}

// FrameSignature is the scalar fingerprint used for cheap change detection
type FrameSignature struct {
	Value      float64
	ComputedAt time.Time
}

// IsZero reports whether the signature carries no usable value
func (s FrameSignature) IsZero() bool {
	return s.Value == 0
}

// Comparison is the outcome of comparing two consecutive signatures
type Comparison struct {
	Changed       bool
	PercentChange float64
}

// DetectionCandidate is a sample whose signature changed beyond the threshold
type DetectionCandidate struct {
	Sample        FrameSample
	PercentChange float64
}

// ClassPrediction is one class score of the selected detection
type ClassPrediction struct {
	ClassID    int     `json:"class_id"`
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"` // Percent, 0-100
}

// RankedPredictions is ordered by confidence, highest first
type RankedPredictions []ClassPrediction

// Top returns the highest-ranked prediction
func (r RankedPredictions) Top() (ClassPrediction, bool) {
	if len(r) == 0 {
		return ClassPrediction{}, false
	}
	return r[0], true
}

// Location is a geographic fix
type Location struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lng"`
}

// Decision is the alert policy verdict for a set of predictions
type Decision string

const (
	DecisionAccepted Decision = "accepted"
	DecisionExcluded Decision = "excluded"
	DecisionCooling  Decision = "cooling"
	DecisionEmpty    Decision = "empty"
)

// AlertEvent is an accepted detection ready for hand-off.
// It is dispatched at most once and never replayed from local state.
type AlertEvent struct {
	ID          uuid.UUID         `json:"id"`
	Label       string            `json:"label"`
	ClassID     int               `json:"class_id"`
	Confidence  float64           `json:"confidence"`
	Image       []byte            `json:"-"`
	Location    Location          `json:"location"`
	NodeID      string            `json:"node_id"`
	Timestamp   time.Time         `json:"timestamp"`
	Predictions RankedPredictions `json:"predictions"`
}

// NewAlertEvent builds an event from the top prediction
func NewAlertEvent(preds RankedPredictions, image []byte, loc Location, nodeID string, at time.Time) *AlertEvent {
	top, _ := preds.Top()
	return &AlertEvent{
		ID:          uuid.New(),
		Label:       top.Label,
		ClassID:     top.ClassID,
		Confidence:  top.Confidence,
		Image:       image,
		Location:    loc,
		NodeID:      nodeID,
		Timestamp:   at,
		Predictions: preds,
	}
}

// DispatchAck is the backend acknowledgement of an alert
type DispatchAck struct {
	Success  bool   `json:"success"`
	RecordID string `json:"record_id,omitempty"`
	Message  string `json:"message,omitempty"`
}

// DispatchResult reports the outcome of one fire-and-forget dispatch
type DispatchResult struct {
	EventID  uuid.UUID
	Gateway  string
	Ack      DispatchAck
	Err      error
	Duration time.Duration
}

// Tick is one accepted scheduler tick
type Tick struct {
	Seq    uint64
	Warmup bool
	At     time.Time
}
