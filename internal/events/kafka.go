package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"apotek/backend/internal/logging"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka writes stock events to a topic keyed by batch number so every change
// to one batch lands on the same partition.
type Kafka struct {
	writer  messageWriter
	timeout time.Duration
}

func NewKafka(brokers []string, topic string) *Kafka {
	return &Kafka{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireOne,
			AllowAutoTopicCreation: true,
		},
		timeout: 5 * time.Second,
	}
}

func (k *Kafka) Publish(_ context.Context, evts ...StockEvent) {
	if len(evts) == 0 {
		return
	}
	msgs, err := toMessages(evts)
	if err != nil {
		logging.LogError("events", "Publish", "marshal stock events", len(evts), err)
		return
	}

	// The request context is gone once the handler returns.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), k.timeout)
		defer cancel()
		if err := k.writer.WriteMessages(ctx, msgs...); err != nil {
			logging.LogError("events", "Publish", "write stock events to kafka", len(msgs), err)
		}
	}()
}

func (k *Kafka) Close() error {
	return k.writer.Close()
}

func toMessages(evts []StockEvent) ([]kafka.Message, error) {
	msgs := make([]kafka.Message, 0, len(evts))
	for _, evt := range evts {
		payload, err := json.Marshal(evt)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(evt.NomorBatch),
			Value: payload,
			Time:  evt.At,
			Headers: []kafka.Header{
				{Key: "type", Value: []byte(evt.Type)},
			},
		})
	}
	return msgs, nil
}
