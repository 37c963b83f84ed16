package pipeline

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// SentinelConfig holds the cycle context wiring
type SentinelConfig struct {
	NodeID             string
	Source             FrameSource
	Detector           ChangeDetector
	Classifier         Classifier
	Policy             AlertPolicy
	Location           LocationProvider
	Dispatcher         Dispatcher
	Bus                *EventBus
	ModelRetryInterval time.Duration // Minimum gap between lazy model reloads
	MotionResetDelay   time.Duration // How long the motion indicator stays on
	Now                func() time.Time
}

// SentinelStats contains per-stage counters
type SentinelStats struct {
	Frames           uint64     `json:"frames"`
	WarmupFrames     uint64     `json:"warmup_frames"`
	CaptureFailures  uint64     `json:"capture_failures"`
	Candidates       uint64     `json:"candidates"`
	MotionOnly       uint64     `json:"motion_only"`
	NoDetection      uint64     `json:"no_detection"`
	Excluded         uint64     `json:"excluded"`
	Cooling          uint64     `json:"cooling"`
	LocationFailures uint64     `json:"location_failures"`
	Accepted         uint64     `json:"accepted"`
	LastMotionAt     *time.Time `json:"last_motion_at,omitempty"`
	LastAlertAt      *time.Time `json:"last_alert_at,omitempty"`
	LastAlertLabel   string     `json:"last_alert_label,omitempty"`
	MotionActive     bool       `json:"motion_active"`
	ModelReady       bool       `json:"model_ready"`
}

// Sentinel is the pipeline context for one capture cycle:
// capture, change detection, inference, policy and dispatch hand-off.
type Sentinel struct {
	nodeID     string
	source     FrameSource
	detector   ChangeDetector
	classifier Classifier
	policy     AlertPolicy
	location   LocationProvider
	dispatcher Dispatcher
	bus        *EventBus
	now        func() time.Time

	retryInterval    time.Duration
	motionResetDelay time.Duration

	mu              sync.Mutex
	lastLoadAttempt time.Time
	lastMotionAt    time.Time
	lastAlertAt     time.Time
	lastAlertLabel  string

	frames           atomic.Uint64
	warmupFrames     atomic.Uint64
	captureFailures  atomic.Uint64
	candidates       atomic.Uint64
	motionOnly       atomic.Uint64
	noDetection      atomic.Uint64
	excluded         atomic.Uint64
	cooling          atomic.Uint64
	locationFailures atomic.Uint64
	accepted         atomic.Uint64
}

// NewSentinel creates the cycle context
func NewSentinel(config SentinelConfig) (*Sentinel, error) {
	if config.Source == nil {
		return nil, fmt.Errorf("frame source is required")
	}
	if config.Detector == nil {
		return nil, fmt.Errorf("change detector is required")
	}
	if config.Policy == nil {
		return nil, fmt.Errorf("alert policy is required")
	}
	if config.Location == nil {
		return nil, fmt.Errorf("location provider is required")
	}
	if config.ModelRetryInterval <= 0 {
		config.ModelRetryInterval = time.Minute
	}
	if config.MotionResetDelay <= 0 {
		config.MotionResetDelay = 3 * time.Second
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if config.Bus == nil {
		config.Bus = NewEventBus()
	}

	return &Sentinel{
		nodeID:           config.NodeID,
		source:           config.Source,
		detector:         config.Detector,
		classifier:       config.Classifier,
		policy:           config.Policy,
		location:         config.Location,
		dispatcher:       config.Dispatcher,
		bus:              config.Bus,
		now:              config.Now,
		retryInterval:    config.ModelRetryInterval,
		motionResetDelay: config.MotionResetDelay,
	}, nil
}

// RunCycle implements CycleRunner
func (s *Sentinel) RunCycle(ctx context.Context, tick Tick) error {
	sample, err := s.source.Capture(ctx)
	if err != nil {
		s.captureFailures.Add(1)
		return fmt.Errorf("%w: %v", ErrCaptureFailure, err)
	}
	sample.Seq = tick.Seq
	s.frames.Add(1)

	if tick.Warmup {
		s.detector.Prime(sample)
		s.warmupFrames.Add(1)
		return nil
	}

	cmp := s.detector.Observe(sample)
	if !cmp.Changed {
		return nil
	}

	s.candidates.Add(1)
	s.mu.Lock()
	s.lastMotionAt = s.now()
	s.mu.Unlock()

	log.Printf("[Sentinel] Change detected on frame %d (%.2f%%)", sample.Seq, cmp.PercentChange)
	return s.inspect(ctx, DetectionCandidate{Sample: sample, PercentChange: cmp.PercentChange})
}

// inspect runs the classifier and alert policy on a candidate
func (s *Sentinel) inspect(ctx context.Context, candidate DetectionCandidate) error {
	if !s.ensureModel(ctx) {
		s.motionOnly.Add(1)
		return nil
	}

	preds, ok := s.classifier.Predict(ctx, candidate.Sample.Data)
	if !ok {
		s.noDetection.Add(1)
		return nil
	}

	now := s.now()
	if decision := s.policy.Admit(preds, s.nodeID, now); decision != DecisionAccepted {
		s.countDecision(decision, preds)
		return nil
	}

	loc, err := s.location.CurrentPosition(ctx)
	if err != nil {
		s.locationFailures.Add(1)
		return fmt.Errorf("%w: %v", ErrLocationUnavailable, err)
	}

	event, decision := s.policy.Evaluate(preds, candidate.Sample.Data, loc, s.nodeID, now)
	if decision != DecisionAccepted {
		s.countDecision(decision, preds)
		return nil
	}

	s.accepted.Add(1)
	s.mu.Lock()
	s.lastAlertAt = event.Timestamp
	s.lastAlertLabel = event.Label
	s.mu.Unlock()

	log.Printf("[Sentinel] Alert %s: %s (%.1f%%) at %.5f,%.5f",
		event.ID, event.Label, event.Confidence, loc.Latitude, loc.Longitude)

	// Local announcers run regardless of the backend outcome
	s.bus.Publish(event)

	if s.dispatcher != nil {
		s.dispatcher.Submit(ctx, event)
	}
	return nil
}

func (s *Sentinel) countDecision(decision Decision, preds RankedPredictions) {
	top, _ := preds.Top()
	switch decision {
	case DecisionExcluded:
		s.excluded.Add(1)
		log.Printf("[Sentinel] %s (%.1f%%) is excluded, no alert", top.Label, top.Confidence)
	case DecisionCooling:
		s.cooling.Add(1)
		log.Printf("[Sentinel] %s (%.1f%%) suppressed by cooldown", top.Label, top.Confidence)
	default:
		s.noDetection.Add(1)
	}
}

// ensureModel lazily (re)initializes the classifier, at most once per retry interval.
// Returns false when the cycle must continue in motion-only mode.
func (s *Sentinel) ensureModel(ctx context.Context) bool {
	if s.classifier == nil {
		return false
	}
	if s.classifier.Ready() {
		return true
	}
	if s.classifier.Disposed() {
		return false
	}

	s.mu.Lock()
	now := s.now()
	if !s.lastLoadAttempt.IsZero() && now.Sub(s.lastLoadAttempt) < s.retryInterval {
		s.mu.Unlock()
		return false
	}
	s.lastLoadAttempt = now
	s.mu.Unlock()

	if err := s.classifier.Initialize(ctx); err != nil {
		log.Printf("[Sentinel] Model unavailable, continuing motion-only: %v", err)
		return false
	}
	return true
}

// Reset implements CycleRunner
func (s *Sentinel) Reset() {
	s.detector.Reset()
}

// Bus returns the alert event bus
func (s *Sentinel) Bus() *EventBus {
	return s.bus
}

// MotionActive reports whether a change was seen within the reset delay
func (s *Sentinel) MotionActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.lastMotionAt.IsZero() && s.now().Sub(s.lastMotionAt) < s.motionResetDelay
}

// Stats returns a snapshot of the per-stage counters
func (s *Sentinel) Stats() SentinelStats {
	stats := SentinelStats{
		Frames:           s.frames.Load(),
		WarmupFrames:     s.warmupFrames.Load(),
		CaptureFailures:  s.captureFailures.Load(),
		Candidates:       s.candidates.Load(),
		MotionOnly:       s.motionOnly.Load(),
		NoDetection:      s.noDetection.Load(),
		Excluded:         s.excluded.Load(),
		Cooling:          s.cooling.Load(),
		LocationFailures: s.locationFailures.Load(),
		Accepted:         s.accepted.Load(),
		MotionActive:     s.MotionActive(),
		ModelReady:       s.classifier != nil && s.classifier.Ready(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.lastMotionAt.IsZero() {
		t := s.lastMotionAt
		stats.LastMotionAt = &t
	}
	if !s.lastAlertAt.IsZero() {
		t := s.lastAlertAt
		stats.LastAlertAt = &t
		stats.LastAlertLabel = s.lastAlertLabel
	}
	return stats
}

var _ CycleRunner = (*Sentinel)(nil)
