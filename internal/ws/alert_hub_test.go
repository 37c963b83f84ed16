package ws

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"aranyani/internal/pipeline"
)

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/alerts" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	var hello HelloMessage
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&hello); err != nil {
		t.Fatalf("read hello: %v", err)
	}
	if hello.Type != "hello" || hello.NodeID != "node-9" {
		t.Fatalf("hello = %+v", hello)
	}
	return conn
}

func waitForClients(t *testing.T, hub *AlertHub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("client count = %d, want %d", hub.ClientCount(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func event(label string) *pipeline.AlertEvent {
	preds := pipeline.RankedPredictions{{ClassID: 0, Label: label, Confidence: 77}}
	return pipeline.NewAlertEvent(preds, []byte{0xff, 0xd8, 1}, pipeline.Location{Latitude: 9.9, Longitude: 76.2}, "node-9", time.Now())
}

func TestAlertHubBroadcast(t *testing.T) {
	hub := NewAlertHub("node-9")
	srv := httptest.NewServer(NewHandler(hub))
	defer srv.Close()

	all := dial(t, srv, "")
	boarOnly := dial(t, srv, "?label=wild%20boar&frame=1")
	waitForClients(t, hub, 2)

	hub.OnAlert(event("Leopard"))
	hub.OnAlert(event("Wild Boar"))

	var msg AlertMessage
	all.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := all.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Type != "alert" || msg.Label != "Leopard" || msg.Frame != "" {
		t.Errorf("first message = %+v", msg)
	}
	if err := all.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Label != "Wild Boar" {
		t.Errorf("second message label = %q", msg.Label)
	}

	boarOnly.SetReadDeadline(time.Now().Add(2 * time.Second))
	var filtered AlertMessage
	if err := boarOnly.ReadJSON(&filtered); err != nil {
		t.Fatalf("read: %v", err)
	}
	if filtered.Label != "Wild Boar" {
		t.Errorf("filtered client got %q", filtered.Label)
	}
	if filtered.Frame == "" {
		t.Error("frame not attached for frame=1 client")
	}
	if filtered.Location.Latitude != 9.9 || filtered.NodeID != "node-9" {
		t.Errorf("filtered message = %+v", filtered)
	}
}

func TestAlertHubUnregistersClosedClients(t *testing.T) {
	hub := NewAlertHub("node-9")
	srv := httptest.NewServer(NewHandler(hub))
	defer srv.Close()

	conn := dial(t, srv, "")
	waitForClients(t, hub, 1)

	conn.Close()
	waitForClients(t, hub, 0)

	// Broadcasting with no clients is a no-op
	hub.OnAlert(event("Cattle"))
}

func TestAlertMessage(t *testing.T) {
	ev := event("Cheetah")
	data, err := json.Marshal(NewAlertMessage(ev, false))
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if strings.Contains(string(data), `"frame"`) {
		t.Errorf("frame present without request: %s", data)
	}
	if !strings.Contains(string(data), `"event_id":"`+ev.ID.String()+`"`) {
		t.Errorf("event id missing: %s", data)
	}
}

func TestCloseAll(t *testing.T) {
	hub := NewAlertHub("node-9")
	srv := httptest.NewServer(NewHandler(hub))
	defer srv.Close()

	conn := dial(t, srv, "")
	waitForClients(t, hub, 1)

	hub.CloseAll()
	if hub.ClientCount() != 0 {
		t.Fatalf("client count = %d after CloseAll", hub.ClientCount())
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("expected connection to be closed")
	}
}
