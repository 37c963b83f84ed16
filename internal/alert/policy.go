// Package alert decides which predictions become alerts.
//
// A prediction is dropped when its top label is on the exclusion list or
// when the node accepted another alert less than one cooldown ago. Only an
// accepted alert arms the cooldown; suppressed detections never extend it.
package alert

import (
	"strings"
	"sync"
	"time"

	"aranyani/internal/pipeline"
)

const DefaultCooldown = 5 * time.Minute

// DefaultExcluded are labels that never raise an alert
var DefaultExcluded = []string{"Human", "Elephant"}

// Config holds policy settings
type Config struct {
	Cooldown time.Duration
	Excluded []string
}

// Policy gates predictions by exclusion list and per-node cooldown
type Policy struct {
	mu           sync.RWMutex
	cooldown     time.Duration
	excluded     map[string]bool
	lastAccepted map[string]time.Time
}

// NewPolicy creates a policy. A nil Excluded list uses DefaultExcluded;
// an empty non-nil list excludes nothing.
func NewPolicy(config Config) *Policy {
	if config.Cooldown <= 0 {
		config.Cooldown = DefaultCooldown
	}
	if config.Excluded == nil {
		config.Excluded = DefaultExcluded
	}

	p := &Policy{
		cooldown:     config.Cooldown,
		lastAccepted: make(map[string]time.Time),
	}
	p.excluded = toSet(config.Excluded)
	return p
}

func toSet(labels []string) map[string]bool {
	set := make(map[string]bool, len(labels))
	for _, l := range labels {
		if l = strings.TrimSpace(l); l != "" {
			set[strings.ToLower(l)] = true
		}
	}
	return set
}

// Admit implements pipeline.AlertPolicy
func (p *Policy) Admit(preds pipeline.RankedPredictions, nodeID string, now time.Time) pipeline.Decision {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.decide(preds, nodeID, now)
}

// Evaluate implements pipeline.AlertPolicy
func (p *Policy) Evaluate(preds pipeline.RankedPredictions, image []byte, loc pipeline.Location, nodeID string, now time.Time) (*pipeline.AlertEvent, pipeline.Decision) {
	p.mu.Lock()
	defer p.mu.Unlock()

	decision := p.decide(preds, nodeID, now)
	if decision != pipeline.DecisionAccepted {
		return nil, decision
	}

	p.lastAccepted[nodeID] = now
	return pipeline.NewAlertEvent(preds, image, loc, nodeID, now), pipeline.DecisionAccepted
}

func (p *Policy) decide(preds pipeline.RankedPredictions, nodeID string, now time.Time) pipeline.Decision {
	top, ok := preds.Top()
	if !ok {
		return pipeline.DecisionEmpty
	}
	if p.excluded[strings.ToLower(top.Label)] {
		return pipeline.DecisionExcluded
	}
	if last, ok := p.lastAccepted[nodeID]; ok && now.Sub(last) < p.cooldown {
		return pipeline.DecisionCooling
	}
	return pipeline.DecisionAccepted
}

// Cooling reports whether the node is inside its cooldown window
func (p *Policy) Cooling(nodeID string, now time.Time) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	last, ok := p.lastAccepted[nodeID]
	return ok && now.Sub(last) < p.cooldown
}

// LastAccepted returns the last accepted instant for a node
func (p *Policy) LastAccepted(nodeID string) (time.Time, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	t, ok := p.lastAccepted[nodeID]
	return t, ok
}

// SetCooldown replaces the cooldown window
func (p *Policy) SetCooldown(d time.Duration) {
	if d <= 0 {
		return
	}
	p.mu.Lock()
	p.cooldown = d
	p.mu.Unlock()
}

// Cooldown returns the cooldown window
func (p *Policy) Cooldown() time.Duration {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cooldown
}

// SetExcluded replaces the exclusion list
func (p *Policy) SetExcluded(labels []string) {
	set := toSet(labels)
	p.mu.Lock()
	p.excluded = set
	p.mu.Unlock()
}

// Excluded returns the excluded labels in lower case
func (p *Policy) Excluded() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.excluded))
	for l := range p.excluded {
		out = append(out, l)
	}
	return out
}

var _ pipeline.AlertPolicy = (*Policy)(nil)
