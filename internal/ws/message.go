package ws

import (
	"encoding/base64"
	"time"

	"aranyani/internal/pipeline"
)

// AlertMessage is the broadcast form of an accepted alert
type AlertMessage struct {
	Type        string                     `json:"type"` // "alert"
	EventID     string                     `json:"event_id"`
	NodeID      string                     `json:"node_id"`
	Label       string                     `json:"label"`
	Confidence  float64                    `json:"confidence"`
	Location    pipeline.Location          `json:"location"`
	Timestamp   time.Time                  `json:"timestamp"`
	Predictions pipeline.RankedPredictions `json:"predictions"`
	Frame       string                     `json:"frame,omitempty"` // Base64 encoded JPEG
}

// NewAlertMessage converts an alert event. The frame is attached only when
// withFrame is set.
func NewAlertMessage(event *pipeline.AlertEvent, withFrame bool) *AlertMessage {
	msg := &AlertMessage{
		Type:        "alert",
		EventID:     event.ID.String(),
		NodeID:      event.NodeID,
		Label:       event.Label,
		Confidence:  event.Confidence,
		Location:    event.Location,
		Timestamp:   event.Timestamp,
		Predictions: event.Predictions,
	}
	if withFrame && len(event.Image) > 0 {
		msg.Frame = base64.StdEncoding.EncodeToString(event.Image)
	}
	return msg
}

// HelloMessage is sent once after a client connects
type HelloMessage struct {
	Type      string    `json:"type"` // "hello"
	NodeID    string    `json:"node_id"`
	Label     string    `json:"label,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
