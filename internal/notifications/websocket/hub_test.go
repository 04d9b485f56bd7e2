package websocket

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gorilla "github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	alarmapp "gasgrid-cloud/internal/alarms/application"
	alarms "gasgrid-cloud/internal/alarms/domain"
	thresholds "gasgrid-cloud/internal/thresholds/domain"
)

func dialTestHub(t *testing.T) (*Hub, *gorilla.Conn, func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(zerolog.Nop())
	go hub.Run(ctx)

	server := httptest.NewServer(NewHandler(hub))
	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := gorilla.DefaultDialer.Dial(url, nil)
	if err != nil {
		cancel()
		server.Close()
		t.Fatalf("dial: %v", err)
	}
	cleanup := func() {
		_ = conn.Close()
		server.Close()
		cancel()
	}
	return hub, conn, cleanup
}

func readEnvelope(t *testing.T, conn *gorilla.Conn) map[string]json.RawMessage {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(raw, &envelope); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return envelope
}

func TestHubBroadcastsAlarmEvents(t *testing.T) {
	hub, conn, cleanup := dialTestHub(t)
	defer cleanup()

	// Give the register select a moment before broadcasting.
	time.Sleep(20 * time.Millisecond)

	hub.Notify(context.Background(), alarmapp.AlarmEvent{
		Type: alarmapp.EventTriggered,
		Alarm: alarms.Alarm{
			ID:        "a-1",
			DeviceID:  "dev-1",
			Parameter: "T12",
			Severity:  thresholds.SeverityHigh,
		},
	})

	envelope := readEnvelope(t, conn)
	var messageType string
	if err := json.Unmarshal(envelope["type"], &messageType); err != nil {
		t.Fatalf("type: %v", err)
	}
	if messageType != MessageAlarm {
		t.Fatalf("type = %q", messageType)
	}
	if !strings.Contains(string(envelope["payload"]), `"a-1"`) {
		t.Fatalf("payload = %s", envelope["payload"])
	}
}

func TestHubDropAfterShutdownDoesNotBlock(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(zerolog.Nop())
	go hub.Run(ctx)

	cancel()
	select {
	case <-hub.done:
	case <-time.After(2 * time.Second):
		t.Fatal("hub never signalled shutdown")
	}

	released := make(chan struct{})
	go func() {
		hub.drop(&Client{hub: hub, send: make(chan []byte, 1)})
		close(released)
	}()
	select {
	case <-released:
	case <-time.After(2 * time.Second):
		t.Fatal("drop blocked after shutdown")
	}
}

func TestHubBroadcastReachesMultipleClients(t *testing.T) {
	hub, first, cleanup := dialTestHub(t)
	defer cleanup()

	server := httptest.NewServer(NewHandler(hub))
	defer server.Close()
	url := "ws" + strings.TrimPrefix(server.URL, "http")
	second, _, err := gorilla.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial second: %v", err)
	}
	defer second.Close()

	time.Sleep(20 * time.Millisecond)
	hub.Broadcast("reading", map[string]string{"client_id": "SMS-001"})

	for _, conn := range []*gorilla.Conn{first, second} {
		envelope := readEnvelope(t, conn)
		if !strings.Contains(string(envelope["payload"]), "SMS-001") {
			t.Fatalf("payload = %s", envelope["payload"])
		}
	}
}
