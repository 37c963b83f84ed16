package pipeline

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// SchedulerState is the run state of the capture scheduler
type SchedulerState string

const (
	StateIdle    SchedulerState = "idle"
	StateRunning SchedulerState = "running"
)

// SchedulerConfig holds capture cadence settings
type SchedulerConfig struct {
	Interval     time.Duration // Sampling interval (default 1s)
	WarmupFrames uint64        // Frames that only prime the change detector
}

// SchedulerStats contains tick counters
type SchedulerStats struct {
	State    SchedulerState `json:"state"`
	Ticks    uint64         `json:"ticks"`
	Skipped  uint64         `json:"skipped"`
	Cycles   uint64         `json:"cycles"`
	Failures uint64         `json:"failures"`
	Frames   uint64         `json:"frames"`
}

// Scheduler fires capture cycles on a fixed cadence.
// At most one cycle is in flight at any time; ticks that arrive while a
// cycle is running are dropped, never queued.
type Scheduler struct {
	runner CycleRunner

	mu       sync.Mutex
	config   SchedulerConfig
	state    SchedulerState
	cancel   context.CancelFunc
	loopDone chan struct{}

	// Cycles run on rootCtx so Stop does not abort an in-flight cycle
	rootCtx    context.Context
	rootCancel context.CancelFunc

	busy   atomic.Bool
	frames atomic.Uint64
	epoch  atomic.Uint64 // Incremented by every Stop
	wg     sync.WaitGroup

	ticks    atomic.Uint64
	skipped  atomic.Uint64
	cycles   atomic.Uint64
	failures atomic.Uint64
}

// NewScheduler creates an idle scheduler driving the given runner
func NewScheduler(runner CycleRunner, config SchedulerConfig) *Scheduler {
	if config.Interval <= 0 {
		config.Interval = time.Second
	}

	rootCtx, rootCancel := context.WithCancel(context.Background())

	return &Scheduler{
		runner:     runner,
		config:     config,
		state:      StateIdle,
		rootCtx:    rootCtx,
		rootCancel: rootCancel,
	}
}

// Start begins firing ticks. Returns ErrAlreadyRunning if already started.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateRunning {
		return ErrAlreadyRunning
	}
	if s.rootCtx.Err() != nil {
		return fmt.Errorf("scheduler has been shut down")
	}

	ctx, cancel := context.WithCancel(s.rootCtx)
	s.cancel = cancel
	s.loopDone = make(chan struct{})
	s.state = StateRunning

	go s.loop(ctx, s.config, s.loopDone)

	log.Printf("[Scheduler] Started (interval: %v, warmup frames: %d)", s.config.Interval, s.config.WarmupFrames)
	return nil
}

// Stop cancels the ticker and clears per-run state. Safe to call repeatedly.
// A cycle already in flight runs to completion and keeps the in-flight
// guard until it returns; the runner is reset again once it does.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateRunning {
		return
	}

	s.cancel()
	<-s.loopDone

	s.state = StateIdle
	s.frames.Store(0)
	s.epoch.Add(1)
	if s.runner != nil {
		s.runner.Reset()
	}

	log.Printf("[Scheduler] Stopped")
}

// Shutdown stops the scheduler and waits for the in-flight cycle to finish
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.Stop()
	s.rootCancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("failed to drain in-flight cycle: %w", ctx.Err())
	}
}

// Configure replaces the cadence settings; they apply on the next Start
func (s *Scheduler) Configure(config SchedulerConfig) {
	if config.Interval <= 0 {
		config.Interval = time.Second
	}

	s.mu.Lock()
	s.config = config
	s.mu.Unlock()
}

// State returns the current run state
func (s *Scheduler) State() SchedulerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Busy reports whether a cycle is in flight
func (s *Scheduler) Busy() bool {
	return s.busy.Load()
}

// Stats returns a snapshot of the tick counters
func (s *Scheduler) Stats() SchedulerStats {
	return SchedulerStats{
		State:    s.State(),
		Ticks:    s.ticks.Load(),
		Skipped:  s.skipped.Load(),
		Cycles:   s.cycles.Load(),
		Failures: s.failures.Load(),
		Frames:   s.frames.Load(),
	}
}

func (s *Scheduler) loop(ctx context.Context, config SchedulerConfig, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.tick(now, config.WarmupFrames)
		}
	}
}

// tick claims the in-flight guard before spawning the cycle
func (s *Scheduler) tick(now time.Time, warmupFrames uint64) bool {
	s.ticks.Add(1)

	if !s.busy.CompareAndSwap(false, true) {
		s.skipped.Add(1)
		return false
	}

	seq := s.frames.Add(1)
	t := Tick{
		Seq:    seq,
		Warmup: seq <= warmupFrames,
		At:     now,
	}

	s.wg.Add(1)
	go s.runCycle(t, s.epoch.Load())
	return true
}

func (s *Scheduler) runCycle(t Tick, epoch uint64) {
	defer s.wg.Done()
	defer s.busy.Store(false)
	defer func() {
		// Stopped mid-cycle: drop the state this cycle stored after the reset
		if s.epoch.Load() != epoch {
			s.runner.Reset()
		}
	}()
	defer func() {
		if r := recover(); r != nil {
			s.failures.Add(1)
			log.Printf("[Scheduler] Cycle %d panicked: %v", t.Seq, r)
		}
	}()

	s.cycles.Add(1)
	if err := s.runner.RunCycle(s.rootCtx, t); err != nil {
		s.failures.Add(1)
		log.Printf("[Scheduler] Cycle %d failed: %v", t.Seq, err)
	}
}

// Exclusive wraps source so its captures share the cycle's in-flight guard.
// A capture attempted while a cycle or another capture holds the guard
// fails with ErrCaptureBusy, and ticks arriving during the capture are
// skipped.
func (s *Scheduler) Exclusive(source FrameSource) FrameSource {
	return &exclusiveSource{FrameSource: source, busy: &s.busy}
}

type exclusiveSource struct {
	FrameSource
	busy *atomic.Bool
}

func (g *exclusiveSource) Capture(ctx context.Context) (FrameSample, error) {
	if !g.busy.CompareAndSwap(false, true) {
		return FrameSample{}, ErrCaptureBusy
	}
	defer g.busy.Store(false)
	return g.FrameSource.Capture(ctx)
}
