package services

import (
	"context"

	goa "goa.design/goa/v3/pkg"
)

const (
	defaultAlertLimit = 20
	maxAlertLimit     = 200
)

// AlertsImplementation serves the dispatch audit log
type AlertsImplementation struct {
	nodeID string
	log    AlertLog
}

// NewAlertsService creates a new alerts service implementation
func NewAlertsService(nodeID string, log AlertLog) *AlertsImplementation {
	return &AlertsImplementation{
		nodeID: nodeID,
		log:    log,
	}
}

// List returns the most recent dispatch records, newest first
func (a *AlertsImplementation) List(ctx context.Context, payload *ListAlertsPayload) (*AlertList, error) {
	limit := payload.Limit
	if limit == 0 {
		limit = defaultAlertLimit
	}
	if limit < 1 {
		return nil, goa.InvalidRangeError("limit", limit, 1, true)
	}
	if limit > maxAlertLimit {
		return nil, goa.InvalidRangeError("limit", limit, maxAlertLimit, false)
	}

	records, err := a.log.ListDispatches(a.nodeID, payload.Since, limit)
	if err != nil {
		return nil, goa.Fault("failed to list alerts: %s", err)
	}

	res := &AlertList{Alerts: make([]*AlertRecord, 0, len(records))}
	for _, rec := range records {
		res.Alerts = append(res.Alerts, &AlertRecord{
			EventID:    rec.EventID,
			Label:      rec.Label,
			Confidence: rec.Confidence,
			Latitude:   rec.Latitude,
			Longitude:  rec.Longitude,
			DetectedAt: rec.DetectedAt,
			Gateway:    rec.Gateway,
			Success:    rec.Success,
			RecordID:   rec.RecordID,
			Error:      rec.Error,
			DurationMs: rec.DurationMs,
		})
	}
	res.Count = len(res.Alerts)
	return res, nil
}
