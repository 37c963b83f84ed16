package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"aranyani/internal/pipeline"
)

const (
	// DefaultRecordPath is the backend route for new animal records
	DefaultRecordPath = "/api/v1/animal-records/add"
	// DefaultTimeout bounds one dispatch round trip
	DefaultTimeout = 50 * time.Second

	maxResponseBytes = 1 << 20
)

// TokenSource issues bearer tokens identifying this device
type TokenSource interface {
	DeviceToken(nodeID string) (string, error)
}

// HTTPGatewayConfig holds backend connection settings
type HTTPGatewayConfig struct {
	BaseURL string
	Path    string
	Timeout time.Duration
	Tokens  TokenSource
	Client  *http.Client
}

// HTTPGateway posts alert records to the backend API
type HTTPGateway struct {
	url    string
	tokens TokenSource
	client *http.Client
}

// NewHTTPGateway creates a backend gateway
func NewHTTPGateway(config HTTPGatewayConfig) (*HTTPGateway, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("backend URL is required")
	}
	if config.Path == "" {
		config.Path = DefaultRecordPath
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.Client == nil {
		config.Client = &http.Client{Timeout: config.Timeout}
	}

	return &HTTPGateway{
		url:    strings.TrimRight(config.BaseURL, "/") + config.Path,
		tokens: config.Tokens,
		client: config.Client,
	}, nil
}

// Name implements pipeline.Gateway
func (g *HTTPGateway) Name() string {
	return "http"
}

// Dispatch implements pipeline.Gateway
func (g *HTTPGateway) Dispatch(ctx context.Context, event *pipeline.AlertEvent) (pipeline.DispatchAck, error) {
	body, err := encodeEvent(event)
	if err != nil {
		return pipeline.DispatchAck{}, fmt.Errorf("failed to encode record: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(body))
	if err != nil {
		return pipeline.DispatchAck{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("device-id", event.NodeID)

	if g.tokens != nil {
		token, err := g.tokens.DeviceToken(event.NodeID)
		if err != nil {
			return pipeline.DispatchAck{}, fmt.Errorf("failed to sign device token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return pipeline.DispatchAck{}, fmt.Errorf("%w: %v", pipeline.ErrDispatchFailure, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return pipeline.DispatchAck{}, fmt.Errorf("%w: failed to read response: %v", pipeline.ErrDispatchFailure, err)
	}

	var rr RecordResponse
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &rr); err != nil && resp.StatusCode < 300 {
			return pipeline.DispatchAck{}, fmt.Errorf("%w: invalid response: %v", pipeline.ErrDispatchFailure, err)
		}
	}

	ack := pipeline.DispatchAck{
		Success:  rr.Success,
		RecordID: rr.Data.ID,
		Message:  rr.Message,
	}

	if resp.StatusCode >= 300 {
		msg := rr.Message
		if msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		return ack, fmt.Errorf("%w: backend returned %d: %s", pipeline.ErrDispatchFailure, resp.StatusCode, msg)
	}
	if !rr.Success {
		return ack, fmt.Errorf("%w: backend rejected record: %s", pipeline.ErrDispatchFailure, rr.Message)
	}
	return ack, nil
}

// Close implements pipeline.Gateway
func (g *HTTPGateway) Close() error {
	g.client.CloseIdleConnections()
	return nil
}

var _ pipeline.Gateway = (*HTTPGateway)(nil)
