package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"apotek/backend/internal/domain"
	"apotek/backend/internal/store"
)

// sentOrder creates a sent purchase order with one line per medicine.
func sentOrder(t *testing.T, s *Store, lines map[string]int) domain.PurchaseOrder {
	t.Helper()
	ctx := context.Background()
	if _, err := s.GetSupplier(ctx, "sup-uji"); err != nil {
		if _, err := s.CreateSupplier(ctx, domain.Supplier{ID: "sup-uji", Nama: "PT Uji"}); err != nil {
			t.Fatalf("create supplier: %v", err)
		}
	}

	po := domain.PurchaseOrder{IDSupplier: "sup-uji", DibuatOleh: "usr-uji"}
	for idObat, jumlah := range lines {
		if _, err := s.GetObat(ctx, idObat); err != nil {
			if _, err := s.CreateObat(ctx, domain.Obat{ID: idObat, Nama: idObat}); err != nil {
				t.Fatalf("create obat %s: %v", idObat, err)
			}
		}
		if _, err := s.UpsertOffering(ctx, domain.SupplierOffering{IDSupplier: "sup-uji", IDObat: idObat, HargaBeli: 1000}); err != nil {
			t.Fatalf("upsert offering: %v", err)
		}
		po.Items = append(po.Items, domain.PurchaseOrderItem{IDObat: idObat, IDSupplier: "sup-uji", Jumlah: jumlah, Harga: 1000})
	}

	saved, err := s.CreatePurchaseOrders(ctx, []domain.PurchaseOrder{po})
	if err != nil {
		t.Fatalf("create purchase order: %v", err)
	}
	sent, err := s.TransitionPurchaseOrder(ctx, saved[0].ID, domain.POStatusDiproses, domain.POStatusDikirim)
	if err != nil {
		t.Fatalf("send purchase order: %v", err)
	}
	return *sent
}

func lineFor(t *testing.T, po domain.PurchaseOrder, idObat string) domain.PurchaseOrderItem {
	t.Helper()
	for _, line := range po.Items {
		if line.IDObat == idObat {
			return line
		}
	}
	t.Fatalf("purchase order %s has no line for %s", po.ID, idObat)
	return domain.PurchaseOrderItem{}
}

func intakeOf(nomor string) *domain.BatchIntake {
	return &domain.BatchIntake{
		NomorBatch: nomor,
		Kadaluarsa: time.Date(2028, 1, 31, 0, 0, 0, 0, time.UTC),
		Satuan:     "strip",
		HargaJual:  2500,
	}
}

func TestReceiveWithoutIntakeLeavesLineForCompletion(t *testing.T) {
	s := New()
	ctx := context.Background()
	po := sentOrder(t, s, map[string]int{"obt-para": 10})
	s.SeedBatch(domain.Batch{NomorBatch: "PARA-2026-001", IDObat: "obt-para", Kadaluarsa: time.Now().AddDate(1, 0, 0), Stok: 5, Satuan: "strip", HargaJual: 2500})

	nomor := "PARA-2026-001"
	line := lineFor(t, po, "obt-para")
	result, err := s.ReceivePurchaseOrder(ctx, domain.BarangDiterima{
		IDPO:  po.ID,
		Items: []domain.BarangDiterimaItem{{IDDetailPO: line.ID, Jumlah: 10, NomorBatch: &nomor}},
	})
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if result.Receipt.Items[0].NomorBatch != nil {
		t.Fatalf("expected batch number to stay empty without intake, got %q", *result.Receipt.Items[0].NomorBatch)
	}

	incomplete, err := s.ListIncompleteMedicines(ctx)
	if err != nil {
		t.Fatalf("list incomplete: %v", err)
	}
	if len(incomplete) != 1 || incomplete[0].Alasan != domain.IncompleteNoBatchNumber || incomplete[0].Jumlah != 10 {
		t.Fatalf("expected one nomor_batch_kosong entry, got %+v", incomplete)
	}

	resp, err := s.CompleteBatch(ctx, line.ID, *intakeOf(nomor))
	if err != nil {
		t.Fatalf("complete batch: %v", err)
	}
	if resp.BatchBaru || resp.Batch.Stok != 15 {
		t.Fatalf("expected existing batch topped up to 15, got %+v", resp)
	}
	incomplete, _ = s.ListIncompleteMedicines(ctx)
	if len(incomplete) != 0 {
		t.Fatalf("expected nothing left to complete, got %+v", incomplete)
	}
}

func TestReceiveRejectsOneNewBatchForTwoMedicines(t *testing.T) {
	s := New()
	ctx := context.Background()
	po := sentOrder(t, s, map[string]int{"obt-para": 3, "obt-amox": 4})

	_, err := s.ReceivePurchaseOrder(ctx, domain.BarangDiterima{
		IDPO: po.ID,
		Items: []domain.BarangDiterimaItem{
			{IDDetailPO: lineFor(t, po, "obt-para").ID, Jumlah: 3, Intake: intakeOf("X-1")},
			{IDDetailPO: lineFor(t, po, "obt-amox").ID, Jumlah: 4, Intake: intakeOf("X-1")},
		},
	})
	if !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if _, err := s.GetBatch(ctx, "X-1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected no batch written, got %v", err)
	}
	current, _ := s.GetPurchaseOrder(ctx, po.ID)
	if current.Status != domain.POStatusDikirim {
		t.Fatalf("expected status to stay dikirim, got %s", current.Status)
	}
}

func TestReceiveMergesRepeatedBatchForSameMedicine(t *testing.T) {
	s := New()
	ctx := context.Background()
	first := sentOrder(t, s, map[string]int{"obt-para": 3})
	second := sentOrder(t, s, map[string]int{"obt-para": 4})

	for _, po := range []domain.PurchaseOrder{first, second} {
		line := lineFor(t, po, "obt-para")
		if _, err := s.ReceivePurchaseOrder(ctx, domain.BarangDiterima{
			IDPO:  po.ID,
			Items: []domain.BarangDiterimaItem{{IDDetailPO: line.ID, Jumlah: line.Jumlah, Intake: intakeOf("PARA-X")}},
		}); err != nil {
			t.Fatalf("receive %s: %v", po.ID, err)
		}
	}
	batch, err := s.GetBatch(ctx, "PARA-X")
	if err != nil {
		t.Fatalf("get batch: %v", err)
	}
	if batch.Stok != 7 {
		t.Fatalf("expected merged stock 7, got %d", batch.Stok)
	}
}

func TestUpdateBatchRejectsNegativeStockBeforeLookup(t *testing.T) {
	s := New()
	negative := -1

	_, err := s.UpdateBatch(context.Background(), "TIDAK-ADA", domain.BatchUpdate{Stok: &negative})
	if !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}
