package services

import (
	"context"
	"errors"
	"log"
	"time"

	goa "goa.design/goa/v3/pkg"

	"aranyani/internal/pipeline"
)

// SystemImplementation implements the status and scheduler control service
type SystemImplementation struct {
	nodeID     string
	scheduler  Scheduler
	status     StatusSource
	dispatcher DispatchStatus
	device     DeviceMonitor
	startTime  time.Time
}

// NewSystemService creates a new system service implementation.
// dispatcher and device may be nil.
func NewSystemService(nodeID string, scheduler Scheduler, status StatusSource, dispatcher DispatchStatus, device DeviceMonitor) *SystemImplementation {
	return &SystemImplementation{
		nodeID:     nodeID,
		scheduler:  scheduler,
		status:     status,
		dispatcher: dispatcher,
		device:     device,
		startTime:  time.Now(),
	}
}

// Status returns the pipeline, scheduler and dispatch counters and the
// latest device reading
func (s *SystemImplementation) Status(ctx context.Context) (*StatusResult, error) {
	res := &StatusResult{
		NodeID:    s.nodeID,
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
		Scheduler: s.scheduler.Stats(),
		Pipeline:  s.status.Stats(),
	}
	if s.dispatcher != nil {
		stats := s.dispatcher.Stats()
		res.Dispatch = &stats
	}
	if s.device != nil {
		if ds, ok := s.device.Status(); ok {
			res.Device = &ds
		}
	}
	return res, nil
}

// StartScheduler arms the sentinel
func (s *SystemImplementation) StartScheduler(ctx context.Context) (*SchedulerResult, error) {
	if err := s.scheduler.Start(); err != nil {
		if errors.Is(err, pipeline.ErrAlreadyRunning) {
			return nil, goa.PermanentError("conflict", "scheduler is already running")
		}
		return nil, goa.Fault("failed to start scheduler: %s", err)
	}

	log.Printf("[API] Scheduler started")
	return &SchedulerResult{State: s.scheduler.State()}, nil
}

// StopScheduler disarms the sentinel. Stopping an idle scheduler is a no-op.
func (s *SystemImplementation) StopScheduler(ctx context.Context) (*SchedulerResult, error) {
	if s.scheduler.State() != pipeline.StateIdle {
		s.scheduler.Stop()
		log.Printf("[API] Scheduler stopped")
	}
	return &SchedulerResult{State: s.scheduler.State()}, nil
}
