package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"apotek/backend/internal/cache"
	"apotek/backend/internal/config"
	"apotek/backend/internal/domain"
	"apotek/backend/internal/events"
	"apotek/backend/internal/lock"
	"apotek/backend/internal/store"
	"apotek/backend/internal/store/memory"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.StockEvent
}

func (r *recordingPublisher) Publish(_ context.Context, evts ...events.StockEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evts...)
}

func (r *recordingPublisher) all() []events.StockEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.StockEvent(nil), r.events...)
}

type fixture struct {
	svc  *Service
	repo *memory.Store
	pub  *recordingPublisher
}

func newFixture(t *testing.T, priceMerge string) fixture {
	t.Helper()
	repo := memory.New()
	pub := &recordingPublisher{}
	svc := New(repo, Options{
		Cache:              cache.NewMemory(),
		IncompleteCacheTTL: time.Minute,
		Locker:             lock.NewLocal(time.Second),
		Publisher:          pub,
		PriceMerge:         priceMerge,
	})
	svc.now = func() time.Time { return time.Date(2026, 5, 10, 9, 30, 0, 0, time.UTC) }
	return fixture{svc: svc, repo: repo, pub: pub}
}

func newTestService(t *testing.T) fixture {
	return newFixture(t, config.PriceMergeEqual)
}

func apaCtx() context.Context {
	return WithSession(context.Background(), domain.Session{UserID: "usr-apa", Nama: "Apoteker", Email: "apa@apotek.local", Role: domain.RoleAPA})
}

func pegawaiCtx() context.Context {
	return WithSession(context.Background(), domain.Session{UserID: "usr-pegawai", Nama: "Pegawai", Email: "pegawai@apotek.local", Role: domain.RolePegawai})
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func mustCreateObat(t *testing.T, repo *memory.Store, id string, nama string) {
	t.Helper()
	if _, err := repo.CreateObat(context.Background(), domain.Obat{ID: id, Nama: nama, Kategori: "Umum"}); err != nil {
		t.Fatalf("create obat %s failed: %v", id, err)
	}
}

func stockOf(t *testing.T, repo *memory.Store, nomorBatch string) int {
	t.Helper()
	batch, err := repo.GetBatch(context.Background(), nomorBatch)
	if err != nil {
		t.Fatalf("get batch %s failed: %v", nomorBatch, err)
	}
	return batch.Stok
}

func TestRequireRoleRejectsMissingOrWrongSession(t *testing.T) {
	f := newTestService(t)

	if _, err := f.svc.requireRole(context.Background()); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden without session, got %v", err)
	}
	if _, err := f.svc.requireRole(pegawaiCtx(), domain.RoleAPA); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for pegawai, got %v", err)
	}
	session, err := f.svc.requireRole(apaCtx(), domain.RoleAPA)
	if err != nil || session.UserID != "usr-apa" {
		t.Fatalf("expected APA session, got %+v err=%v", session, err)
	}
}

func TestParseDateAcceptsDateAndRFC3339(t *testing.T) {
	cases := map[string]time.Time{
		"2027-01-31":                date(2027, 1, 31),
		"2027-01-31T17:00:00+07:00": date(2027, 1, 31),
	}
	for input, want := range cases {
		got, err := parseDate(input)
		if err != nil {
			t.Fatalf("parseDate(%q) failed: %v", input, err)
		}
		if !got.Equal(want) {
			t.Fatalf("parseDate(%q) = %v, want %v", input, got, want)
		}
	}
	if _, err := parseDate("31/01/2027"); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestListAuditLogsRequiresAPA(t *testing.T) {
	f := newTestService(t)
	mustCreateObat(t, f.repo, "obt-amox", "Amoxicillin")
	f.repo.SeedBatch(domain.Batch{NomorBatch: "AMOX-2024-001", IDObat: "obt-amox", Kadaluarsa: date(2027, 1, 1), Stok: 10, HargaJual: 1000})

	if _, err := f.svc.CreateSale(pegawaiCtx(), domain.SaleCreateRequest{Items: []domain.SaleItemRequest{
		{IDObat: "obt-amox", NomorBatch: "AMOX-2024-001", JumlahTerjual: 1, Harga: 1000},
	}}); err != nil {
		t.Fatalf("create sale failed: %v", err)
	}

	if _, err := f.svc.ListAuditLogs(pegawaiCtx(), 10); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	logs, err := f.svc.ListAuditLogs(apaCtx(), 10)
	if err != nil {
		t.Fatalf("list audit logs failed: %v", err)
	}
	if len(logs) != 1 || logs[0].Action != "sale_create" || logs[0].ActorID != "usr-pegawai" {
		t.Fatalf("unexpected audit logs: %+v", logs)
	}
}

func TestStockAlertsReflectSalesAfterInvalidation(t *testing.T) {
	f := newTestService(t)
	mustCreateObat(t, f.repo, "obt-amox", "Amoxicillin")
	f.repo.SeedBatch(domain.Batch{NomorBatch: "AMOX-2024-001", IDObat: "obt-amox", Kadaluarsa: date(2030, 1, 1), Stok: 12, HargaJual: 1000})

	resp, err := f.svc.StockAlerts(context.Background())
	if err != nil {
		t.Fatalf("alerts failed: %v", err)
	}
	if len(resp.Alerts) != 0 {
		t.Fatalf("expected no alerts with healthy stock, got %+v", resp.Alerts)
	}

	if _, err := f.svc.CreateSale(pegawaiCtx(), domain.SaleCreateRequest{Items: []domain.SaleItemRequest{
		{IDObat: "obt-amox", NomorBatch: "AMOX-2024-001", JumlahTerjual: 5, Harga: 1000},
	}}); err != nil {
		t.Fatalf("create sale failed: %v", err)
	}

	resp, err = f.svc.StockAlerts(context.Background())
	if err != nil {
		t.Fatalf("alerts failed: %v", err)
	}
	if resp.Warning != 1 || resp.Alerts[0].Kind != "low_stock" {
		t.Fatalf("expected low stock warning after sale, got %+v", resp)
	}
}
