package services

import (
	"time"

	"aranyani/internal/database"
	"aranyani/internal/device"
	"aranyani/internal/dispatch"
	"aranyani/internal/pipeline"
)

// Scheduler is the capture scheduler surface exposed over HTTP
type Scheduler interface {
	Start() error
	Stop()
	State() pipeline.SchedulerState
	Stats() pipeline.SchedulerStats
}

// StatusSource reports pipeline counters
type StatusSource interface {
	Stats() pipeline.SentinelStats
}

// DispatchStatus reports gateway counters
type DispatchStatus interface {
	Stats() dispatch.Stats
}

// ModelStatus reports whether the detection model is loaded
type ModelStatus interface {
	Ready() bool
}

// DeviceMonitor reports the latest power and network reading
type DeviceMonitor interface {
	Status() (device.Status, bool)
}

// AlertLog lists recorded dispatches
type AlertLog interface {
	ListDispatches(nodeID string, since *time.Time, limit int) ([]*database.DispatchRecord, error)
}

// HealthResult is the liveness response
type HealthResult struct {
	Status     string                  `json:"status"`
	ModelReady bool                    `json:"model_ready"`
	Scheduler  pipeline.SchedulerState `json:"scheduler"`
	Device     *device.Status          `json:"device,omitempty"`
}

// LoginPayload is the login request body
type LoginPayload struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResult carries the issued operator token
type LoginResult struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
}

// AuthStatusResult describes the caller's authentication state
type AuthStatusResult struct {
	Enabled       bool    `json:"enabled"`
	Authenticated bool    `json:"authenticated"`
	Username      *string `json:"username,omitempty"`
}

// StatusResult is the combined pipeline status
type StatusResult struct {
	NodeID    string                  `json:"node_id"`
	Uptime    string                  `json:"uptime"`
	Scheduler pipeline.SchedulerStats `json:"scheduler"`
	Pipeline  pipeline.SentinelStats  `json:"pipeline"`
	Dispatch  *dispatch.Stats         `json:"dispatch,omitempty"`
	Device    *device.Status          `json:"device,omitempty"`
}

// SchedulerResult is returned by the start and stop endpoints
type SchedulerResult struct {
	State pipeline.SchedulerState `json:"state"`
}

// UpdateConfigPayload changes a subset of the runtime settings.
// Omitted or null fields keep their current value; an empty label list
// clears the exclusions.
type UpdateConfigPayload struct {
	ChangeSensitivity *float64 `json:"change_sensitivity_percent,omitempty"`
	MinConfidence     *float64 `json:"min_confidence_percent,omitempty"`
	CooldownMs        *int64   `json:"cooldown_ms,omitempty"`
	ExcludedLabels    []string `json:"excluded_labels"`
}

// ListAlertsPayload filters the alert history
type ListAlertsPayload struct {
	Limit int
	Since *time.Time
}

// AlertRecord is one dispatch audit entry
type AlertRecord struct {
	EventID    string    `json:"event_id"`
	Label      string    `json:"label"`
	Confidence float64   `json:"confidence"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	DetectedAt time.Time `json:"detected_at"`
	Gateway    string    `json:"gateway"`
	Success    bool      `json:"success"`
	RecordID   string    `json:"record_id,omitempty"`
	Error      string    `json:"error,omitempty"`
	DurationMs float64   `json:"duration_ms"`
}

// AlertList is the alert history response
type AlertList struct {
	Alerts []*AlertRecord `json:"alerts"`
	Count  int            `json:"count"`
}
