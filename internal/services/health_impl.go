package services

import (
	"context"
)

// HealthImplementation implements the health service
type HealthImplementation struct {
	model     ModelStatus
	scheduler Scheduler
	device    DeviceMonitor
}

// NewHealthService creates a new health service implementation.
// model and device may be nil.
func NewHealthService(model ModelStatus, scheduler Scheduler, device DeviceMonitor) *HealthImplementation {
	return &HealthImplementation{
		model:     model,
		scheduler: scheduler,
		device:    device,
	}
}

// Healthz implements the liveness check. A node without a loaded model or
// low on battery is still alive but reported as degraded.
func (h *HealthImplementation) Healthz(ctx context.Context) (*HealthResult, error) {
	res := &HealthResult{
		Status:    "ok",
		Scheduler: h.scheduler.State(),
	}
	if h.model != nil {
		res.ModelReady = h.model.Ready()
	}
	if h.device != nil {
		if ds, ok := h.device.Status(); ok {
			res.Device = &ds
		}
	}
	if !res.ModelReady || (res.Device != nil && res.Device.LowBattery) {
		res.Status = "degraded"
	}
	return res, nil
}
