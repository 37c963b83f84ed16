package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"aranyani/internal/pipeline"
)

// StaticProvider reports a fixed, surveyed position
type StaticProvider struct {
	location pipeline.Location
}

// NewStaticProvider creates a provider for a fixed installation
func NewStaticProvider(lat, lng float64) *StaticProvider {
	return &StaticProvider{location: pipeline.Location{Latitude: lat, Longitude: lng}}
}

// CurrentPosition implements pipeline.LocationProvider
func (p *StaticProvider) CurrentPosition(ctx context.Context) (pipeline.Location, error) {
	return p.location, nil
}

// fix is the JSON document served by the GPS bridge
type fix struct {
	Lat *float64 `json:"lat"`
	Lng *float64 `json:"lng"`
}

// HTTPProviderConfig configures a GPS bridge client
type HTTPProviderConfig struct {
	URL     string
	Timeout time.Duration
	// MaxAge allows the last good fix to be reused when the bridge is down.
	// Zero disables the fallback.
	MaxAge time.Duration
	Client *http.Client
}

// HTTPProvider polls a local GPS bridge for the current position
type HTTPProvider struct {
	url    string
	maxAge time.Duration
	client *http.Client

	mu     sync.Mutex
	last   pipeline.Location
	lastAt time.Time
}

// NewHTTPProvider creates a GPS bridge client
func NewHTTPProvider(config HTTPProviderConfig) (*HTTPProvider, error) {
	if config.URL == "" {
		return nil, fmt.Errorf("location URL is required")
	}
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Second
	}
	if config.Client == nil {
		config.Client = &http.Client{Timeout: config.Timeout}
	}

	return &HTTPProvider{
		url:    config.URL,
		maxAge: config.MaxAge,
		client: config.Client,
	}, nil
}

// CurrentPosition implements pipeline.LocationProvider
func (p *HTTPProvider) CurrentPosition(ctx context.Context) (pipeline.Location, error) {
	loc, err := p.fetch(ctx)
	if err == nil {
		p.mu.Lock()
		p.last, p.lastAt = loc, time.Now()
		p.mu.Unlock()
		return loc, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.maxAge > 0 && !p.lastAt.IsZero() && time.Since(p.lastAt) <= p.maxAge {
		log.Printf("[Geo] Using fix from %v ago: %v", time.Since(p.lastAt).Round(time.Second), err)
		return p.last, nil
	}
	return pipeline.Location{}, err
}

func (p *HTTPProvider) fetch(ctx context.Context) (pipeline.Location, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return pipeline.Location{}, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return pipeline.Location{}, fmt.Errorf("failed to query GPS bridge: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return pipeline.Location{}, fmt.Errorf("GPS bridge returned %d: %s", resp.StatusCode, body)
	}

	var f fix
	if err := json.NewDecoder(resp.Body).Decode(&f); err != nil {
		return pipeline.Location{}, fmt.Errorf("failed to decode fix: %w", err)
	}
	if f.Lat == nil || f.Lng == nil {
		return pipeline.Location{}, fmt.Errorf("no fix available")
	}
	if *f.Lat < -90 || *f.Lat > 90 || *f.Lng < -180 || *f.Lng > 180 {
		return pipeline.Location{}, fmt.Errorf("fix out of range: %v,%v", *f.Lat, *f.Lng)
	}

	return pipeline.Location{Latitude: *f.Lat, Longitude: *f.Lng}, nil
}

var (
	_ pipeline.LocationProvider = (*StaticProvider)(nil)
	_ pipeline.LocationProvider = (*HTTPProvider)(nil)
)
