package dispatch

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"aranyani/internal/database"
	"aranyani/internal/pipeline"
)

// Recorder stores dispatch outcomes for auditing. Records carry metadata
// only and are never used to re-send an event.
type Recorder interface {
	SaveDispatch(record *database.DispatchRecord) error
}

// Stats contains dispatch counters
type Stats struct {
	Gateway   string `json:"gateway"`
	Submitted uint64 `json:"submitted"`
	Succeeded uint64 `json:"succeeded"`
	Failed    uint64 `json:"failed"`
	InFlight  int64  `json:"in_flight"`
}

// Dispatcher hands events to a gateway on background goroutines.
// Each event is attempted exactly once.
type Dispatcher struct {
	gateway  pipeline.Gateway
	recorder Recorder
	timeout  time.Duration
	wg       sync.WaitGroup

	submitted atomic.Uint64
	succeeded atomic.Uint64
	failed    atomic.Uint64
	inFlight  atomic.Int64
}

// NewDispatcher creates a fire-and-forget dispatcher. recorder may be nil.
func NewDispatcher(gateway pipeline.Gateway, recorder Recorder, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Dispatcher{
		gateway:  gateway,
		recorder: recorder,
		timeout:  timeout,
	}
}

// Submit implements pipeline.Dispatcher. The dispatch outlives the
// caller's context but is bounded by the dispatcher timeout.
func (d *Dispatcher) Submit(ctx context.Context, event *pipeline.AlertEvent) <-chan pipeline.DispatchResult {
	results := make(chan pipeline.DispatchResult, 1)
	d.submitted.Add(1)
	d.inFlight.Add(1)
	d.wg.Add(1)

	go func() {
		defer d.wg.Done()
		defer d.inFlight.Add(-1)
		defer close(results)

		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
		defer cancel()

		start := time.Now()
		ack, err := d.gateway.Dispatch(dctx, event)
		result := pipeline.DispatchResult{
			EventID:  event.ID,
			Gateway:  d.gateway.Name(),
			Ack:      ack,
			Err:      err,
			Duration: time.Since(start),
		}

		if err != nil {
			d.failed.Add(1)
			log.Printf("[Dispatch] Event %s (%s) failed via %s after %v: %v",
				event.ID, event.Label, result.Gateway, result.Duration.Round(time.Millisecond), err)
		} else {
			d.succeeded.Add(1)
			log.Printf("[Dispatch] Event %s (%s) delivered via %s (record %s, %v)",
				event.ID, event.Label, result.Gateway, ack.RecordID, result.Duration.Round(time.Millisecond))
		}

		d.record(event, result)
		results <- result
	}()

	return results
}

func (d *Dispatcher) record(event *pipeline.AlertEvent, result pipeline.DispatchResult) {
	if d.recorder == nil {
		return
	}

	rec := &database.DispatchRecord{
		EventID:    event.ID.String(),
		NodeID:     event.NodeID,
		Label:      event.Label,
		Confidence: event.Confidence,
		Latitude:   event.Location.Latitude,
		Longitude:  event.Location.Longitude,
		DetectedAt: event.Timestamp,
		Gateway:    result.Gateway,
		Success:    result.Err == nil,
		RecordID:   result.Ack.RecordID,
		DurationMs: float64(result.Duration.Microseconds()) / 1000,
	}
	if result.Err != nil {
		rec.Error = result.Err.Error()
	}

	if err := d.recorder.SaveDispatch(rec); err != nil {
		log.Printf("[Dispatch] Failed to record dispatch of %s: %v", event.ID, err)
	}
}

// Wait blocks until in-flight dispatches finish or ctx ends
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("dispatches still in flight: %w", ctx.Err())
	}
}

// Stats returns a snapshot of the counters
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Gateway:   d.gateway.Name(),
		Submitted: d.submitted.Load(),
		Succeeded: d.succeeded.Load(),
		Failed:    d.failed.Load(),
		InFlight:  d.inFlight.Load(),
	}
}

// NopGateway accepts every event without sending it anywhere.
// Used for motion-only field tests.
type NopGateway struct{}

func (NopGateway) Name() string { return "none" }

func (NopGateway) Dispatch(ctx context.Context, event *pipeline.AlertEvent) (pipeline.DispatchAck, error) {
	return pipeline.DispatchAck{Success: true, Message: "dispatch disabled"}, nil
}

func (NopGateway) Close() error { return nil }

var (
	_ pipeline.Dispatcher = (*Dispatcher)(nil)
	_ pipeline.Gateway    = NopGateway{}
)
