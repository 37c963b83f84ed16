package device

import (
	"context"
	"log"
	"sync"
	"time"
)

// DefaultLowBatteryThreshold is the charge level in percent at or below
// which a discharging node is reported as low on battery
const DefaultLowBatteryThreshold = 20

// LowBatteryHandler is told when the node crosses into low battery
type LowBatteryHandler interface {
	OnLowBattery(status Status)
}

// MonitorConfig holds polling settings
type MonitorConfig struct {
	Interval            time.Duration // Default 10s
	LowBatteryThreshold int           // Percent (default 20)
	Handlers            []LowBatteryHandler
}

// Monitor polls a Reader and keeps the latest status. Handlers are called
// once per transition into low battery; the warning re-arms after the node
// charges or recovers above the threshold.
type Monitor struct {
	reader Reader
	config MonitorConfig

	mu      sync.RWMutex
	status  Status
	hasRead bool
	warned  bool
	fails   uint64
}

// NewMonitor creates a monitor; call Run to start polling
func NewMonitor(reader Reader, config MonitorConfig) *Monitor {
	if config.Interval <= 0 {
		config.Interval = 10 * time.Second
	}
	if config.LowBatteryThreshold <= 0 {
		config.LowBatteryThreshold = DefaultLowBatteryThreshold
	}
	return &Monitor{reader: reader, config: config}
}

// Run polls until ctx is cancelled, starting with an immediate reading
func (m *Monitor) Run(ctx context.Context) {
	m.Poll(ctx)

	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Poll(ctx)
		}
	}
}

// Poll takes one reading and notifies handlers on a low battery transition.
// A failed reading keeps the previous status.
func (m *Monitor) Poll(ctx context.Context) {
	status, err := m.reader.Read(ctx)
	if err != nil {
		m.mu.Lock()
		m.fails++
		m.mu.Unlock()
		log.Printf("[Device] Status read failed: %v", err)
		return
	}

	status.LowBattery = status.HasBattery && !status.Charging && status.BatteryLevel <= m.config.LowBatteryThreshold

	m.mu.Lock()
	m.status = status
	m.hasRead = true
	warn := status.LowBattery && !m.warned
	m.warned = status.LowBattery
	m.mu.Unlock()

	if warn {
		log.Printf("[Device] Low battery: %d%% (threshold %d%%)", status.BatteryLevel, m.config.LowBatteryThreshold)
		for _, h := range m.config.Handlers {
			h.OnLowBattery(status)
		}
	}
}

// Status returns the latest reading, or false before the first one
func (m *Monitor) Status() (Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status, m.hasRead
}

// Failures returns the number of failed readings
func (m *Monitor) Failures() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fails
}
