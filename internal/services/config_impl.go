package services

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	goa "goa.design/goa/v3/pkg"

	"aranyani/internal/config"
)

// ThresholdSetter is implemented by the change detector
type ThresholdSetter interface {
	SetThreshold(percent float64)
}

// ConfidenceSetter is implemented by the inference engine
type ConfidenceSetter interface {
	SetMinConfidence(percent float64)
}

// PolicySetter is implemented by the alert policy
type PolicySetter interface {
	SetCooldown(d time.Duration)
	SetExcluded(labels []string)
}

// Tunables are the live components a runtime config change is applied to.
// Any of them may be nil.
type Tunables struct {
	Detector   ThresholdSetter
	Classifier ConfidenceSetter
	Policy     PolicySetter
}

// ConfigImplementation implements the config service
type ConfigImplementation struct {
	mu       sync.RWMutex
	current  config.Runtime
	store    config.Store
	tunables Tunables
}

// NewConfigService creates a new config service implementation starting
// from the loaded runtime settings. store may be nil, in which case
// changes are applied but not persisted.
func NewConfigService(initial config.Runtime, store config.Store, tunables Tunables) *ConfigImplementation {
	return &ConfigImplementation{
		current:  initial,
		store:    store,
		tunables: tunables,
	}
}

// Get returns the current runtime settings
func (c *ConfigImplementation) Get(ctx context.Context) (*config.Runtime, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	rt := c.current
	rt.ExcludedLabels = append([]string{}, c.current.ExcludedLabels...)
	return &rt, nil
}

// Update merges the payload into the current settings, validates, persists
// and applies them. Nothing is applied if validation or persistence fails.
func (c *ConfigImplementation) Update(ctx context.Context, payload *UpdateConfigPayload) (*config.Runtime, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rt := c.current
	if payload.ChangeSensitivity != nil {
		rt.ChangeSensitivity = *payload.ChangeSensitivity
	}
	if payload.MinConfidence != nil {
		rt.MinConfidence = *payload.MinConfidence
	}
	if payload.CooldownMs != nil {
		rt.CooldownMs = *payload.CooldownMs
	}
	if payload.ExcludedLabels != nil {
		labels := make([]string, len(payload.ExcludedLabels))
		for i, l := range payload.ExcludedLabels {
			labels[i] = strings.TrimSpace(l)
		}
		rt.ExcludedLabels = labels
	}

	if err := rt.Validate(); err != nil {
		return nil, err
	}

	if c.store != nil {
		if err := config.SaveRuntime(c.store, rt); err != nil {
			return nil, goa.Fault("%s", err)
		}
	}

	c.apply(rt)
	c.current = rt

	log.Printf("[API] Runtime config updated: sensitivity=%.2f%% min_confidence=%.1f%% cooldown=%s excluded=%v",
		rt.ChangeSensitivity, rt.MinConfidence, rt.Cooldown(), rt.ExcludedLabels)

	out := rt
	out.ExcludedLabels = append([]string{}, rt.ExcludedLabels...)
	return &out, nil
}

func (c *ConfigImplementation) apply(rt config.Runtime) {
	if c.tunables.Detector != nil {
		c.tunables.Detector.SetThreshold(rt.ChangeSensitivity)
	}
	if c.tunables.Classifier != nil {
		c.tunables.Classifier.SetMinConfidence(rt.MinConfidence)
	}
	if c.tunables.Policy != nil {
		c.tunables.Policy.SetCooldown(rt.Cooldown())
		c.tunables.Policy.SetExcluded(rt.ExcludedLabels)
	}
}
