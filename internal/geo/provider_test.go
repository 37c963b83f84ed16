package geo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestStaticProvider(t *testing.T) {
	loc, err := NewStaticProvider(11.4, 76.7).CurrentPosition(context.Background())
	if err != nil {
		t.Fatalf("CurrentPosition: %v", err)
	}
	if loc.Latitude != 11.4 || loc.Longitude != 76.7 {
		t.Fatalf("location = %+v", loc)
	}
}

func TestHTTPProvider(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr bool
	}{
		{"fix", http.StatusOK, `{"lat": 11.41, "lng": 76.69}`, false},
		{"equator", http.StatusOK, `{"lat": 0, "lng": 0}`, false},
		{"no fix", http.StatusOK, `{}`, true},
		{"out of range", http.StatusOK, `{"lat": 123, "lng": 0}`, true},
		{"malformed", http.StatusOK, `{"lat":`, true},
		{"bridge error", http.StatusServiceUnavailable, `searching`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			p, err := NewHTTPProvider(HTTPProviderConfig{URL: srv.URL})
			if err != nil {
				t.Fatalf("NewHTTPProvider: %v", err)
			}

			_, err = p.CurrentPosition(context.Background())
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestHTTPProviderReusesRecentFix(t *testing.T) {
	var down atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if down.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"lat": 11.41, "lng": 76.69}`))
	}))
	defer srv.Close()

	withFallback, _ := NewHTTPProvider(HTTPProviderConfig{URL: srv.URL, MaxAge: time.Minute})
	without, _ := NewHTTPProvider(HTTPProviderConfig{URL: srv.URL})

	for _, p := range []*HTTPProvider{withFallback, without} {
		if _, err := p.CurrentPosition(context.Background()); err != nil {
			t.Fatalf("CurrentPosition: %v", err)
		}
	}

	down.Store(true)

	loc, err := withFallback.CurrentPosition(context.Background())
	if err != nil {
		t.Fatalf("fallback error: %v", err)
	}
	if loc.Latitude != 11.41 {
		t.Errorf("fallback location = %+v", loc)
	}

	if _, err := without.CurrentPosition(context.Background()); err == nil {
		t.Error("provider without MaxAge should fail when the bridge is down")
	}
}
