package events

import (
	"context"
	"time"

	"apotek/backend/internal/domain"
)

const (
	TypeSale        = "sale.created"
	TypeSaleDeleted = "sale.deleted"
	TypeReceipt     = "purchase_order.received"
	TypeCompletion  = "batch.completed"
	TypeAdjustment  = "batch.adjusted"
)

// StockEvent announces one committed change to a batch's stock.
type StockEvent struct {
	Type       string    `json:"type"`
	NomorBatch string    `json:"nomor_batch"`
	IDObat     string    `json:"id_obat"`
	OldStock   int       `json:"old_stock"`
	NewStock   int       `json:"new_stock"`
	Delta      int       `json:"delta"`
	Reference  string    `json:"reference"`
	At         time.Time `json:"at"`
}

// Publisher fans committed stock changes out to other systems. Publishing is
// fire-and-forget: failures are logged by the implementation and never undo
// the change.
type Publisher interface {
	Publish(ctx context.Context, evts ...StockEvent)
}

type Noop struct{}

func (Noop) Publish(_ context.Context, _ ...StockEvent) {}

// Multi publishes to every wrapped publisher in order.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, evts ...StockEvent) {
	if len(evts) == 0 {
		return
	}
	for _, p := range m {
		if p != nil {
			p.Publish(ctx, evts...)
		}
	}
}

func FromUpdates(eventType string, reference string, updates []domain.StockUpdate, at time.Time) []StockEvent {
	evts := make([]StockEvent, 0, len(updates))
	for _, u := range updates {
		evts = append(evts, StockEvent{
			Type:       eventType,
			NomorBatch: u.NomorBatch,
			IDObat:     u.IDObat,
			OldStock:   u.OldStock,
			NewStock:   u.NewStock,
			Delta:      u.Delta,
			Reference:  reference,
			At:         at.UTC(),
		})
	}
	return evts
}
