package events

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"apotek/backend/internal/domain"
)

type recordingPublisher struct {
	got []StockEvent
}

func (r *recordingPublisher) Publish(_ context.Context, evts ...StockEvent) {
	r.got = append(r.got, evts...)
}

type fakeWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	done chan struct{}
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	f.msgs = append(f.msgs, msgs...)
	f.mu.Unlock()
	close(f.done)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func TestFromUpdatesCopiesStockChange(t *testing.T) {
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	evts := FromUpdates(TypeSale, "pjl-1", []domain.StockUpdate{
		{NomorBatch: "AMOX-2024-001", IDObat: "obt-1", OldStock: 10, NewStock: 8, Delta: -2},
	}, at)

	if len(evts) != 1 {
		t.Fatalf("expected one event, got %d", len(evts))
	}
	evt := evts[0]
	if evt.Type != TypeSale || evt.Reference != "pjl-1" || evt.NewStock != 8 || evt.Delta != -2 || !evt.At.Equal(at) {
		t.Fatalf("unexpected event: %+v", evt)
	}
}

func TestMultiFansOutAndSkipsEmpty(t *testing.T) {
	a, b := &recordingPublisher{}, &recordingPublisher{}
	m := Multi{a, nil, b}

	m.Publish(context.Background())
	m.Publish(context.Background(), StockEvent{NomorBatch: "X"})

	if len(a.got) != 1 || len(b.got) != 1 {
		t.Fatalf("expected one event per publisher, got %d and %d", len(a.got), len(b.got))
	}
}

func TestKafkaPublishKeysByBatch(t *testing.T) {
	w := &fakeWriter{done: make(chan struct{})}
	k := &Kafka{writer: w, timeout: time.Second}

	k.Publish(context.Background(), StockEvent{Type: TypeReceipt, NomorBatch: "PARA-2026-001", Delta: 50})

	select {
	case <-w.done:
	case <-time.After(2 * time.Second):
		t.Fatal("kafka writer was not called")
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.msgs) != 1 {
		t.Fatalf("expected one message, got %d", len(w.msgs))
	}
	if string(w.msgs[0].Key) != "PARA-2026-001" {
		t.Fatalf("expected batch key, got %q", w.msgs[0].Key)
	}
	var evt StockEvent
	if err := json.Unmarshal(w.msgs[0].Value, &evt); err != nil {
		t.Fatalf("invalid payload: %v", err)
	}
	if evt.Delta != 50 || evt.Type != TypeReceipt {
		t.Fatalf("unexpected payload: %+v", evt)
	}
}
