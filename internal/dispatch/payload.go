package dispatch

import (
	"encoding/base64"
	"encoding/json"
	"time"

	"aranyani/internal/pipeline"
)

// RecordPayload is the backend's animal record body
type RecordPayload struct {
	AnimalType  string    `json:"animalType"`
	NodeID      string    `json:"nodeId"`
	Lat         float64   `json:"lat"`
	Lng         float64   `json:"lng"`
	ImageBase64 string    `json:"imageBase64"`
	Confidence  float64   `json:"confidence,omitempty"`
	EventID     string    `json:"eventId,omitempty"`
	DetectedAt  time.Time `json:"detectedAt"`
}

// RecordResponse is the backend's reply to a record write
type RecordResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    struct {
		ID     string `json:"_id"`
		ImgURL string `json:"img_url"`
	} `json:"data"`
}

// NewRecordPayload converts an alert event into the backend body
func NewRecordPayload(event *pipeline.AlertEvent) RecordPayload {
	return RecordPayload{
		AnimalType:  event.Label,
		NodeID:      event.NodeID,
		Lat:         event.Location.Latitude,
		Lng:         event.Location.Longitude,
		ImageBase64: base64.StdEncoding.EncodeToString(event.Image),
		Confidence:  event.Confidence,
		EventID:     event.ID.String(),
		DetectedAt:  event.Timestamp.UTC(),
	}
}

func encodeEvent(event *pipeline.AlertEvent) ([]byte, error) {
	return json.Marshal(NewRecordPayload(event))
}
