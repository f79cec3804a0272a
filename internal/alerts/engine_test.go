package alerts

import (
	"context"
	"testing"
	"time"

	"apotek/backend/internal/cache"
	"apotek/backend/internal/domain"
)

type fakeSource struct {
	medicines []domain.ObatSummary
	batches   []domain.BatchView
	calls     int
}

func (f *fakeSource) ListObat(_ context.Context) ([]domain.ObatSummary, error) {
	f.calls++
	return f.medicines, nil
}

func (f *fakeSource) ListBatches(_ context.Context) ([]domain.BatchView, error) {
	return f.batches, nil
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestEvaluateClassifiesStockAndExpiry(t *testing.T) {
	engine := NewEngine(nil, time.Minute, 10, 90)
	engine.now = func() time.Time { return day(2026, 6, 1).Add(9 * time.Hour) }

	src := &fakeSource{
		medicines: []domain.ObatSummary{
			{Obat: domain.Obat{ID: "o1", Nama: "Paracetamol"}, TotalStok: 120},
			{Obat: domain.Obat{ID: "o2", Nama: "Amoxicillin"}, TotalStok: 4},
			{Obat: domain.Obat{ID: "o3", Nama: "Vitamin C"}, TotalStok: 0},
		},
		batches: []domain.BatchView{
			{Batch: domain.Batch{NomorBatch: "PARA-2026-001", IDObat: "o1", Stok: 100, Kadaluarsa: day(2027, 1, 1)}, NamaObat: "Paracetamol"},
			{Batch: domain.Batch{NomorBatch: "PARA-2026-002", IDObat: "o1", Stok: 20, Kadaluarsa: day(2026, 5, 20)}, NamaObat: "Paracetamol"},
			{Batch: domain.Batch{NomorBatch: "AMOX-2026-001", IDObat: "o2", Stok: 4, Kadaluarsa: day(2026, 6, 15)}, NamaObat: "Amoxicillin"},
			{Batch: domain.Batch{NomorBatch: "AMOX-2026-002", IDObat: "o2", Stok: 0, Kadaluarsa: day(2026, 5, 1)}, NamaObat: "Amoxicillin"},
			{Batch: domain.Batch{NomorBatch: "IBUP-2026-001", IDObat: "o4", Stok: 30, Kadaluarsa: day(2026, 8, 1)}, NamaObat: "Ibuprofen"},
		},
	}

	resp, err := engine.Evaluate(context.Background(), src)
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}

	if resp.Critical != 2 || resp.Warning != 2 || resp.Info != 1 {
		t.Fatalf("unexpected counts critical=%d warning=%d info=%d: %+v", resp.Critical, resp.Warning, resp.Info, resp.Alerts)
	}
	if resp.Alerts[0].Severity != SeverityCritical {
		t.Fatalf("expected critical alerts first, got %+v", resp.Alerts[0])
	}

	kinds := map[string]string{}
	for _, a := range resp.Alerts {
		key := a.IDObat
		if a.NomorBatch != "" {
			key = a.NomorBatch
		}
		kinds[key] = a.Kind
	}
	if kinds["o3"] != KindOutOfStock || kinds["o2"] != KindLowStock || kinds["PARA-2026-002"] != KindExpired {
		t.Fatalf("unexpected alert kinds: %+v", kinds)
	}
	if kinds["AMOX-2026-001"] != KindExpiring || kinds["IBUP-2026-001"] != KindExpiring {
		t.Fatalf("expected expiring batches to be reported: %+v", kinds)
	}
	if _, ok := kinds["AMOX-2026-002"]; ok {
		t.Fatal("empty batches must not raise expiry alerts")
	}
	if _, ok := kinds["PARA-2026-001"]; ok {
		t.Fatal("batch outside the warning window must not be reported")
	}
}

func TestEvaluateUsesCacheUntilInvalidated(t *testing.T) {
	engine := NewEngine(cache.NewMemory(), time.Minute, 10, 90)
	src := &fakeSource{medicines: []domain.ObatSummary{{Obat: domain.Obat{ID: "o1", Nama: "A"}, TotalStok: 1}}}

	for i := 0; i < 3; i++ {
		if _, err := engine.Evaluate(context.Background(), src); err != nil {
			t.Fatalf("evaluate failed: %v", err)
		}
	}
	if src.calls != 1 {
		t.Fatalf("expected one source read while cached, got %d", src.calls)
	}

	engine.Invalidate(context.Background())
	if _, err := engine.Evaluate(context.Background(), src); err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	if src.calls != 2 {
		t.Fatalf("expected re-read after invalidation, got %d", src.calls)
	}
}
