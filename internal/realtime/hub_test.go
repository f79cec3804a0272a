package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"apotek/backend/internal/events"
)

func TestHubBroadcastsPublishedEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub("*")
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	// Registration completes asynchronously after the handshake, so keep
	// publishing until the first broadcast arrives.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				hub.Publish(context.Background(), events.StockEvent{Type: events.TypeSale, NomorBatch: "AMOX-2024-001", NewStock: 8})
			}
		}
	}()

	var payload struct {
		Type   string              `json:"type"`
		Events []events.StockEvent `json:"events"`
	}
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("no broadcast received: %v", err)
	}
	if err := json.Unmarshal(msg, &payload); err != nil {
		t.Fatalf("invalid message: %v", err)
	}
	if payload.Type != "stock_update" || len(payload.Events) != 1 || payload.Events[0].NomorBatch != "AMOX-2024-001" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestHubRejectsForeignOrigin(t *testing.T) {
	hub := NewHub("http://localhost:5173")
	req := httptest.NewRequest(http.MethodGet, "/api/ws/stock", nil)
	req.Header.Set("Origin", "http://evil.example")
	if hub.upgrader.CheckOrigin(req) {
		t.Fatal("expected foreign origin to be rejected")
	}
	req.Header.Set("Origin", "http://localhost:5173")
	if !hub.upgrader.CheckOrigin(req) {
		t.Fatal("expected configured origin to be accepted")
	}
}
