package device

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/distatus/battery"
)

// Connection types reported in Status.ConnectionType
const (
	ConnectionWiFi     = "wifi"
	ConnectionEthernet = "ethernet"
	ConnectionCellular = "cellular"
	ConnectionNone     = "none"
	ConnectionUnknown  = "unknown"
)

// Status is a point-in-time reading of the node's power and network state
type Status struct {
	HasBattery     bool      `json:"has_battery"`
	BatteryLevel   int       `json:"battery_level"` // Percent, 0 without a battery
	Charging       bool      `json:"charging"`
	LowPowerMode   bool      `json:"low_power_mode"`
	LowBattery     bool      `json:"low_battery"`
	Connected      bool      `json:"connected"`
	ConnectionType string    `json:"connection_type"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Reader takes one status reading
type Reader interface {
	Read(ctx context.Context) (Status, error)
}

// SystemReader reads battery state through the OS power supply interface,
// the platform power profile and the network interface table.
type SystemReader struct {
	NetDir          string // Default /sys/class/net
	PlatformProfile string // Default /sys/firmware/acpi/platform_profile

	batteries  func() ([]*battery.Battery, error)
	interfaces func() ([]net.Interface, error)
}

// NewSystemReader creates a reader for the local machine
func NewSystemReader() *SystemReader {
	return &SystemReader{
		NetDir:          "/sys/class/net",
		PlatformProfile: "/sys/firmware/acpi/platform_profile",
		batteries:       battery.GetAll,
		interfaces:      net.Interfaces,
	}
}

// Read implements Reader. A machine without a battery is a valid reading;
// only a failure of both readings is an error.
func (r *SystemReader) Read(ctx context.Context) (Status, error) {
	status := Status{ConnectionType: ConnectionUnknown, UpdatedAt: time.Now()}

	// On partial errors the readable batteries are still returned
	var batErr error
	batteries, err := r.batteries()
	if err != nil && len(batteries) == 0 {
		batErr = fmt.Errorf("failed to read battery: %w", err)
	}
	status.BatteryLevel, status.Charging, status.HasBattery = summarizeBatteries(batteries)
	status.LowPowerMode = r.lowPowerMode()

	ifaces, netErr := r.interfaces()
	if netErr != nil {
		netErr = fmt.Errorf("failed to list network interfaces: %w", netErr)
	} else {
		status.Connected, status.ConnectionType = r.connection(ifaces)
	}

	if batErr != nil && netErr != nil {
		return status, errors.Join(batErr, netErr)
	}
	return status, nil
}

// summarizeBatteries reports the combined charge level in percent and
// whether any battery is being charged. Nil entries (batteries that failed
// to read) are skipped.
func summarizeBatteries(batteries []*battery.Battery) (level int, charging bool, ok bool) {
	var current, full float64
	for _, b := range batteries {
		if b == nil || b.Full <= 0 {
			continue
		}
		ok = true
		current += b.Current
		full += b.Full
		switch b.State.Raw {
		case battery.Charging, battery.Full:
			charging = true
		}
	}
	if !ok {
		return 0, false, false
	}

	level = int(current/full*100 + 0.5)
	if level > 100 {
		level = 100
	}
	return level, charging, true
}

func (r *SystemReader) lowPowerMode() bool {
	if r.PlatformProfile == "" {
		return false
	}
	data, err := os.ReadFile(r.PlatformProfile)
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(data)) == "low-power"
}

// connection picks the first running non-loopback interface by name
func (r *SystemReader) connection(ifaces []net.Interface) (bool, string) {
	sort.Slice(ifaces, func(a, b int) bool { return ifaces[a].Name < ifaces[b].Name })

	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagRunning == 0 {
			continue
		}
		return true, r.connectionType(iface.Name)
	}
	return false, ConnectionNone
}

func (r *SystemReader) connectionType(name string) string {
	if r.NetDir != "" {
		if _, err := os.Stat(filepath.Join(r.NetDir, name, "wireless")); err == nil {
			return ConnectionWiFi
		}
	}
	switch {
	case strings.HasPrefix(name, "wl"):
		return ConnectionWiFi
	case strings.HasPrefix(name, "wwan"), strings.HasPrefix(name, "ppp"), strings.HasPrefix(name, "usb"):
		return ConnectionCellular
	case strings.HasPrefix(name, "en"), strings.HasPrefix(name, "eth"):
		return ConnectionEthernet
	default:
		return ConnectionUnknown
	}
}
