package motion

import (
	"math"
	"sync"
	"time"

	"aranyani/internal/pipeline"
)

// DefaultSensitivity is the percent change that counts as a scene change
const DefaultSensitivity = 5.0

// Compare decides whether current differs from previous by more than
// threshold percent. An unset or zero previous signature never triggers.
func Compare(current, previous pipeline.FrameSignature, threshold float64) pipeline.Comparison {
	if previous.IsZero() {
		return pipeline.Comparison{}
	}

	pct := math.Abs(current.Value-previous.Value) / previous.Value * 100
	return pipeline.Comparison{
		Changed:       pct > threshold,
		PercentChange: pct,
	}
}

// ChangeDetector keeps the previous frame signature and compares each new
// sample against it. Only the signature is retained, never the image.
type ChangeDetector struct {
	signer    Signer
	threshold float64
	previous  pipeline.FrameSignature
	mu        sync.Mutex
}

// NewChangeDetector creates a detector with the given signer and threshold
func NewChangeDetector(signer Signer, threshold float64) *ChangeDetector {
	if signer == nil {
		signer = ChecksumSigner{}
	}
	if threshold <= 0 {
		threshold = DefaultSensitivity
	}

	return &ChangeDetector{
		signer:    signer,
		threshold: threshold,
	}
}

// Signature computes the signature of a sample
func (d *ChangeDetector) Signature(sample pipeline.FrameSample) pipeline.FrameSignature {
	at := sample.CapturedAt
	if at.IsZero() {
		at = time.Now()
	}
	return pipeline.FrameSignature{
		Value:      d.signer.Sign(sample.Data),
		ComputedAt: at,
	}
}

// Prime stores the sample's signature without comparing
func (d *ChangeDetector) Prime(sample pipeline.FrameSample) {
	sig := d.Signature(sample)

	d.mu.Lock()
	d.previous = sig
	d.mu.Unlock()
}

// Observe compares against the previous signature, then replaces it
func (d *ChangeDetector) Observe(sample pipeline.FrameSample) pipeline.Comparison {
	sig := d.Signature(sample)

	d.mu.Lock()
	defer d.mu.Unlock()

	cmp := Compare(sig, d.previous, d.threshold)
	d.previous = sig
	return cmp
}

// SetThreshold adjusts the sensitivity in percent
func (d *ChangeDetector) SetThreshold(percent float64) {
	if percent <= 0 {
		return
	}

	d.mu.Lock()
	d.threshold = percent
	d.mu.Unlock()
}

// Threshold returns the current sensitivity in percent
func (d *ChangeDetector) Threshold() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.threshold
}

// Previous returns the stored signature
func (d *ChangeDetector) Previous() pipeline.FrameSignature {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.previous
}

// Reset forgets the previous signature
func (d *ChangeDetector) Reset() {
	d.mu.Lock()
	d.previous = pipeline.FrameSignature{}
	d.mu.Unlock()
}

var _ pipeline.ChangeDetector = (*ChangeDetector)(nil)
