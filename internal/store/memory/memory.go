package memory

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"apotek/backend/internal/domain"
	"apotek/backend/internal/logging"
	"apotek/backend/internal/store"
	"apotek/backend/internal/xid"
)

type Store struct {
	mu        sync.RWMutex
	obat      map[string]domain.Obat
	batches   map[string]domain.Batch
	suppliers map[string]domain.Supplier
	offerings map[string]domain.SupplierOffering
	sales     map[string]domain.Penjualan
	saleItems map[string][]domain.PenjualanItem
	orders    map[string]domain.PurchaseOrder
	receipts  map[string]domain.BarangDiterima
	movements []domain.StockMovement
	auditLogs []domain.AuditLog
	usersByID map[string]domain.UserAccount
}

// seedUsers builds the initial in-memory accounts for dev/demo mode.
// Passwords come from SEED_APA_PASSWORD and SEED_PEGAWAI_PASSWORD; when unset,
// dev defaults are used and a warning is logged. Postgres deployments never
// use these accounts.
func seedUsers() map[string]domain.UserAccount {
	apaPwd := envOr("SEED_APA_PASSWORD", "apa12345")
	pegawaiPwd := envOr("SEED_PEGAWAI_PASSWORD", "pegawai123")
	if os.Getenv("SEED_APA_PASSWORD") == "" || os.Getenv("SEED_PEGAWAI_PASSWORD") == "" {
		logging.For("memory-store").Warn("using default dev credentials; set SEED_APA_PASSWORD and SEED_PEGAWAI_PASSWORD to override")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		id       string
		nama     string
		email    string
		password string
		role     string
	}{
		{"usr-apa", "Apoteker Penanggung Jawab", "apa@apotek.local", apaPwd, domain.RoleAPA},
		{"usr-pegawai", "Pegawai Apotek", "pegawai@apotek.local", pegawaiPwd, domain.RolePegawai},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			logging.For("memory-store").WithError(err).Fatalf("failed to hash seed password for %s", u.email)
		}
		users[u.id] = domain.UserAccount{
			Pengguna: domain.Pengguna{
				ID:        u.id,
				Nama:      u.nama,
				Email:     u.email,
				Role:      u.role,
				Active:    true,
				CreatedAt: now,
			},
			PasswordHash: string(hash),
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// New returns an empty catalog with the seed accounts.
func New() *Store {
	return &Store{
		obat:      make(map[string]domain.Obat),
		batches:   make(map[string]domain.Batch),
		suppliers: make(map[string]domain.Supplier),
		offerings: make(map[string]domain.SupplierOffering),
		sales:     make(map[string]domain.Penjualan),
		saleItems: make(map[string][]domain.PenjualanItem),
		orders:    make(map[string]domain.PurchaseOrder),
		receipts:  make(map[string]domain.BarangDiterima),
		movements: make([]domain.StockMovement, 0, 128),
		auditLogs: make([]domain.AuditLog, 0, 128),
		usersByID: seedUsers(),
	}
}

// NewSeeded returns a store with a small demo catalog.
func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()
	year := now.Year()

	medicines := []domain.Obat{
		{ID: "obt-paracetamol", Nama: "Paracetamol 500 mg", Kategori: "Analgesik", Komposisi: "Paracetamol 500 mg"},
		{ID: "obt-amoxicillin", Nama: "Amoxicillin 500 mg", Kategori: "Antibiotik", Komposisi: "Amoxicillin trihydrate 500 mg"},
		{ID: "obt-ibuprofen", Nama: "Ibuprofen 400 mg", Kategori: "Analgesik", Komposisi: "Ibuprofen 400 mg"},
		{ID: "obt-vitamin-c", Nama: "Vitamin C 500 mg", Kategori: "Suplemen", Komposisi: "Asam askorbat 500 mg"},
	}
	for _, m := range medicines {
		m.CreatedAt = now
		s.obat[m.ID] = m
	}

	batches := []domain.Batch{
		{NomorBatch: fmt.Sprintf("PARA-%d-001", year), IDObat: "obt-paracetamol", Kadaluarsa: dateUTC(year+1, 3, 31), Stok: 120, Satuan: "strip", HargaJual: 2500},
		{NomorBatch: fmt.Sprintf("AMOX-%d-001", year), IDObat: "obt-amoxicillin", Kadaluarsa: dateUTC(year+1, 1, 31), Stok: 60, Satuan: "strip", HargaJual: 8000},
		{NomorBatch: fmt.Sprintf("AMOX-%d-002", year), IDObat: "obt-amoxicillin", Kadaluarsa: dateUTC(year, 12, 31), Stok: 40, Satuan: "strip", HargaJual: 8000},
		{NomorBatch: fmt.Sprintf("IBUP-%d-001", year), IDObat: "obt-ibuprofen", Kadaluarsa: dateUTC(year+2, 6, 30), Stok: 80, Satuan: "strip", HargaJual: 4500},
	}
	for _, b := range batches {
		s.SeedBatch(b)
	}

	for _, sup := range []domain.Supplier{
		{ID: "sup-kimia-farma", Nama: "PT Kimia Farma Trading & Distribution", Alamat: "Jakarta", Telepon: "021-4244211"},
		{ID: "sup-enseval", Nama: "PT Enseval Putera Megatrading", Alamat: "Jakarta", Telepon: "021-46822422"},
	} {
		sup.CreatedAt = now
		s.suppliers[sup.ID] = sup
	}
	for _, o := range []domain.SupplierOffering{
		{IDSupplier: "sup-kimia-farma", IDObat: "obt-paracetamol", HargaBeli: 1800},
		{IDSupplier: "sup-kimia-farma", IDObat: "obt-amoxicillin", HargaBeli: 6000},
		{IDSupplier: "sup-enseval", IDObat: "obt-ibuprofen", HargaBeli: 3200},
		{IDSupplier: "sup-enseval", IDObat: "obt-vitamin-c", HargaBeli: 900},
	} {
		s.offerings[offeringKey(o.IDSupplier, o.IDObat)] = o
	}

	return s
}

// SeedBatch inserts or replaces a batch without recording a movement. It is
// meant for fixtures and demo data.
func (s *Store) SeedBatch(batch domain.Batch) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if batch.CreatedAt.IsZero() {
		batch.CreatedAt = now
	}
	batch.UpdatedAt = now
	batch.Kadaluarsa = nowDateUTC(batch.Kadaluarsa)
	s.batches[batch.NomorBatch] = batch
}

func (s *Store) ListObat(_ context.Context) ([]domain.ObatSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summaries := make([]domain.ObatSummary, 0, len(s.obat))
	for _, obat := range s.obat {
		summary := domain.ObatSummary{Obat: obat}
		for _, batch := range s.batches {
			if batch.IDObat != obat.ID {
				continue
			}
			summary.JumlahBatch++
			summary.TotalStok += batch.Stok
			if batch.Stok > 0 && (summary.KadaluarsaTerdekat == nil || batch.Kadaluarsa.Before(*summary.KadaluarsaTerdekat)) {
				expiry := batch.Kadaluarsa
				summary.KadaluarsaTerdekat = &expiry
			}
		}
		summaries = append(summaries, summary)
	}

	slices.SortFunc(summaries, func(a, b domain.ObatSummary) int {
		if a.Nama == b.Nama {
			return cmpString(a.ID, b.ID)
		}
		return cmpString(a.Nama, b.Nama)
	})
	return summaries, nil
}

func (s *Store) GetObat(_ context.Context, id string) (*domain.Obat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	obat, ok := s.obat[id]
	if !ok {
		return nil, fmt.Errorf("%w: obat %s", store.ErrNotFound, id)
	}
	return &obat, nil
}

func (s *Store) CreateObat(_ context.Context, obat domain.Obat) (*domain.Obat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(obat.Nama) == "" {
		return nil, store.ErrInvalidInput
	}
	if obat.ID == "" {
		obat.ID = xid.New("obt")
	}
	if _, exists := s.obat[obat.ID]; exists {
		return nil, fmt.Errorf("%w: obat %s already exists", store.ErrConflict, obat.ID)
	}
	if obat.CreatedAt.IsZero() {
		obat.CreatedAt = time.Now().UTC()
	}
	s.obat[obat.ID] = obat
	created := obat
	return &created, nil
}

func (s *Store) GetBatch(_ context.Context, nomorBatch string) (*domain.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	batch, ok := s.batches[nomorBatch]
	if !ok {
		return nil, fmt.Errorf("%w: batch %s", store.ErrNotFound, nomorBatch)
	}
	return &batch, nil
}

func (s *Store) ListBatchesByObat(_ context.Context, idObat string) ([]domain.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	batches := make([]domain.Batch, 0, 8)
	for _, batch := range s.batches {
		if batch.IDObat == idObat {
			batches = append(batches, batch)
		}
	}
	slices.SortFunc(batches, compareBatchForFEFO)
	return batches, nil
}

func (s *Store) ListBatches(_ context.Context) ([]domain.BatchView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	views := make([]domain.BatchView, 0, len(s.batches))
	for _, batch := range s.batches {
		views = append(views, s.batchViewLocked(batch))
	}
	slices.SortFunc(views, func(a, b domain.BatchView) int {
		if a.NamaObat != b.NamaObat {
			return cmpString(a.NamaObat, b.NamaObat)
		}
		return compareBatchForFEFO(a.Batch, b.Batch)
	})
	return views, nil
}

func (s *Store) ListBatchNumbersWithPrefix(_ context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	numbers := make([]string, 0, 8)
	for nomor := range s.batches {
		if strings.HasPrefix(nomor, prefix) {
			numbers = append(numbers, nomor)
		}
	}
	slices.Sort(numbers)
	return numbers, nil
}

func (s *Store) UpdateBatch(_ context.Context, nomorBatch string, update domain.BatchUpdate) (*domain.BatchUpdateResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if update.Stok != nil && *update.Stok < 0 {
		return nil, store.ErrInvalidInput
	}
	if update.HargaJual != nil && *update.HargaJual < 0 {
		return nil, store.ErrInvalidInput
	}

	batch, ok := s.batches[nomorBatch]
	if !ok {
		return nil, fmt.Errorf("%w: batch %s", store.ErrNotFound, nomorBatch)
	}
	obat, ok := s.obat[batch.IDObat]
	if !ok {
		return nil, fmt.Errorf("%w: obat %s", store.ErrNotFound, batch.IDObat)
	}

	now := time.Now().UTC()
	resp := &domain.BatchUpdateResponse{}
	if update.Kadaluarsa != nil {
		batch.Kadaluarsa = nowDateUTC(*update.Kadaluarsa)
	}
	if update.Satuan != nil {
		batch.Satuan = *update.Satuan
	}
	if update.HargaJual != nil {
		batch.HargaJual = *update.HargaJual
	}
	if update.Stok != nil && *update.Stok != batch.Stok {
		change := domain.StockUpdate{
			NomorBatch: batch.NomorBatch,
			IDObat:     batch.IDObat,
			OldStock:   batch.Stok,
			NewStock:   *update.Stok,
			Delta:      *update.Stok - batch.Stok,
		}
		batch.Stok = *update.Stok
		s.recordMovementLocked(change, domain.MovementPenyesuaian, "kelola-obat", now)
		resp.StockUpdate = &change
	}
	if update.Nama != nil {
		obat.Nama = *update.Nama
	}
	if update.Kategori != nil {
		obat.Kategori = *update.Kategori
	}
	if update.Komposisi != nil {
		obat.Komposisi = *update.Komposisi
	}
	batch.UpdatedAt = now

	s.batches[nomorBatch] = batch
	s.obat[obat.ID] = obat
	resp.Batch = s.batchViewLocked(batch)
	return resp, nil
}

func (s *Store) DeleteBatch(_ context.Context, nomorBatch string) (*domain.BatchDeleteResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch, ok := s.batches[nomorBatch]
	if !ok {
		return nil, fmt.Errorf("%w: batch %s", store.ErrNotFound, nomorBatch)
	}
	delete(s.batches, nomorBatch)

	resp := &domain.BatchDeleteResponse{NomorBatch: nomorBatch, IDObat: batch.IDObat}
	for _, other := range s.batches {
		if other.IDObat == batch.IDObat {
			return resp, nil
		}
	}

	delete(s.obat, batch.IDObat)
	for key, offering := range s.offerings {
		if offering.IDObat == batch.IDObat {
			delete(s.offerings, key)
		}
	}
	resp.ObatDihapus = true
	return resp, nil
}

func (s *Store) ListSuppliers(_ context.Context) ([]domain.Supplier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	suppliers := make([]domain.Supplier, 0, len(s.suppliers))
	for _, supplier := range s.suppliers {
		suppliers = append(suppliers, supplier)
	}
	slices.SortFunc(suppliers, func(a, b domain.Supplier) int {
		return cmpString(a.Nama, b.Nama)
	})
	return suppliers, nil
}

func (s *Store) GetSupplier(_ context.Context, id string) (*domain.Supplier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	supplier, ok := s.suppliers[id]
	if !ok {
		return nil, fmt.Errorf("%w: supplier %s", store.ErrNotFound, id)
	}
	return &supplier, nil
}

func (s *Store) CreateSupplier(_ context.Context, supplier domain.Supplier) (*domain.Supplier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(supplier.Nama) == "" {
		return nil, store.ErrInvalidInput
	}
	if supplier.ID == "" {
		supplier.ID = xid.New("sup")
	}
	if _, exists := s.suppliers[supplier.ID]; exists {
		return nil, fmt.Errorf("%w: supplier %s already exists", store.ErrConflict, supplier.ID)
	}
	if supplier.CreatedAt.IsZero() {
		supplier.CreatedAt = time.Now().UTC()
	}
	s.suppliers[supplier.ID] = supplier
	created := supplier
	return &created, nil
}

func (s *Store) ListOfferings(_ context.Context, idSupplier string) ([]domain.SupplierOffering, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.suppliers[idSupplier]; !ok {
		return nil, fmt.Errorf("%w: supplier %s", store.ErrNotFound, idSupplier)
	}
	return s.offeringsLocked(func(o domain.SupplierOffering) bool { return o.IDSupplier == idSupplier }), nil
}

func (s *Store) ListOfferingsByObat(_ context.Context, idObat string) ([]domain.SupplierOffering, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.offeringsLocked(func(o domain.SupplierOffering) bool { return o.IDObat == idObat }), nil
}

func (s *Store) GetOffering(_ context.Context, idSupplier string, idObat string) (*domain.SupplierOffering, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	offering, ok := s.offerings[offeringKey(idSupplier, idObat)]
	if !ok {
		return nil, fmt.Errorf("%w: supplier %s does not offer obat %s", store.ErrNotFound, idSupplier, idObat)
	}
	named := s.namedOfferingLocked(offering)
	return &named, nil
}

func (s *Store) UpsertOffering(_ context.Context, offering domain.SupplierOffering) (*domain.SupplierOffering, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.suppliers[offering.IDSupplier]; !ok {
		return nil, fmt.Errorf("%w: supplier %s", store.ErrNotFound, offering.IDSupplier)
	}
	if _, ok := s.obat[offering.IDObat]; !ok {
		return nil, fmt.Errorf("%w: obat %s", store.ErrNotFound, offering.IDObat)
	}
	if offering.HargaBeli < 0 {
		return nil, store.ErrInvalidInput
	}
	s.offerings[offeringKey(offering.IDSupplier, offering.IDObat)] = offering
	named := s.namedOfferingLocked(offering)
	return &named, nil
}

func (s *Store) CreateSale(_ context.Context, sale domain.Penjualan, items []domain.PenjualanItem) (*domain.SaleResult, error) {
	if len(items) == 0 {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	demand := make(map[string]int, len(items))
	for _, item := range items {
		if item.JumlahTerjual < 1 || item.Harga < 0 {
			return nil, store.ErrInvalidInput
		}
		batch, ok := s.batches[item.NomorBatch]
		if !ok {
			return nil, fmt.Errorf("%w: batch %s", store.ErrNotFound, item.NomorBatch)
		}
		if batch.IDObat != item.IDObat {
			return nil, fmt.Errorf("%w: batch %s does not belong to obat %s", store.ErrInvalidInput, item.NomorBatch, item.IDObat)
		}
		demand[item.NomorBatch] += item.JumlahTerjual
		if batch.Stok < demand[item.NomorBatch] {
			return nil, fmt.Errorf("%w: batch %s has %d, requested %d", store.ErrInsufficientStock, item.NomorBatch, batch.Stok, demand[item.NomorBatch])
		}
	}

	now := time.Now().UTC()
	if sale.ID == "" {
		sale.ID = xid.New("pjl")
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = now
	}
	if _, exists := s.sales[sale.ID]; exists {
		return nil, fmt.Errorf("%w: penjualan %s already exists", store.ErrConflict, sale.ID)
	}

	sale.Total = 0
	saved := make([]domain.PenjualanItem, 0, len(items))
	updates := make([]domain.StockUpdate, 0, len(items))
	for _, item := range items {
		item.ID = xid.New("dpj")
		item.IDPenjualan = sale.ID
		sale.Total += item.Harga * int64(item.JumlahTerjual)
		saved = append(saved, item)

		batch := s.batches[item.NomorBatch]
		change := domain.StockUpdate{
			NomorBatch: batch.NomorBatch,
			IDObat:     batch.IDObat,
			OldStock:   batch.Stok,
			NewStock:   batch.Stok - item.JumlahTerjual,
			Delta:      -item.JumlahTerjual,
		}
		batch.Stok = change.NewStock
		batch.UpdatedAt = now
		s.batches[batch.NomorBatch] = batch
		s.recordMovementLocked(change, domain.MovementKeluar, sale.ID, now)
		updates = append(updates, change)
	}

	s.sales[sale.ID] = sale
	s.saleItems[sale.ID] = saved
	return &domain.SaleResult{
		Sale:         sale,
		Items:        slices.Clone(saved),
		StockUpdates: updates,
	}, nil
}

func (s *Store) GetSale(_ context.Context, id string) (*domain.SaleDetail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.sales[id]
	if !ok {
		return nil, fmt.Errorf("%w: penjualan %s", store.ErrNotFound, id)
	}
	return &domain.SaleDetail{Sale: sale, Items: slices.Clone(s.saleItems[id])}, nil
}

func (s *Store) ListSales(_ context.Context, limit int) ([]domain.SaleDetail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	details := make([]domain.SaleDetail, 0, len(s.sales))
	for id, sale := range s.sales {
		details = append(details, domain.SaleDetail{Sale: sale, Items: slices.Clone(s.saleItems[id])})
	}
	slices.SortFunc(details, func(a, b domain.SaleDetail) int {
		return compareNewestFirst(a.Sale.CreatedAt, b.Sale.CreatedAt, a.Sale.ID, b.Sale.ID)
	})
	if limit > 0 && len(details) > limit {
		details = details[:limit]
	}
	return details, nil
}

func (s *Store) DeleteSale(_ context.Context, id string) (*domain.SaleDeleteResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sales[id]; !ok {
		return nil, fmt.Errorf("%w: penjualan %s", store.ErrNotFound, id)
	}

	now := time.Now().UTC()
	resp := &domain.SaleDeleteResponse{ID: id, StockUpdates: make([]domain.StockUpdate, 0, len(s.saleItems[id]))}
	for _, item := range s.saleItems[id] {
		batch, ok := s.batches[item.NomorBatch]
		if !ok {
			logging.For("memory-store").WithFields(map[string]any{
				"id_penjualan": id,
				"nomor_batch":  item.NomorBatch,
			}).Warn("restock skipped: batch no longer exists")
			resp.Skipped = append(resp.Skipped, item.NomorBatch)
			continue
		}
		change := domain.StockUpdate{
			NomorBatch: batch.NomorBatch,
			IDObat:     batch.IDObat,
			OldStock:   batch.Stok,
			NewStock:   batch.Stok + item.JumlahTerjual,
			Delta:      item.JumlahTerjual,
		}
		batch.Stok = change.NewStock
		batch.UpdatedAt = now
		s.batches[batch.NomorBatch] = batch
		s.recordMovementLocked(change, domain.MovementMasuk, id, now)
		resp.StockUpdates = append(resp.StockUpdates, change)
	}

	delete(s.saleItems, id)
	delete(s.sales, id)
	return resp, nil
}

func (s *Store) CreatePurchaseOrders(_ context.Context, orders []domain.PurchaseOrder) ([]domain.PurchaseOrder, error) {
	if len(orders) == 0 {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, po := range orders {
		if len(po.Items) == 0 {
			return nil, store.ErrInvalidInput
		}
		if _, ok := s.suppliers[po.IDSupplier]; !ok {
			return nil, fmt.Errorf("%w: supplier %s", store.ErrNotFound, po.IDSupplier)
		}
		for _, item := range po.Items {
			if item.Jumlah < 1 || item.Harga < 0 || item.IDSupplier != po.IDSupplier {
				return nil, store.ErrInvalidInput
			}
			if _, ok := s.offerings[offeringKey(po.IDSupplier, item.IDObat)]; !ok {
				return nil, fmt.Errorf("%w: supplier %s does not offer obat %s", store.ErrNotFound, po.IDSupplier, item.IDObat)
			}
		}
	}

	now := time.Now().UTC()
	saved := make([]domain.PurchaseOrder, 0, len(orders))
	for _, po := range orders {
		if po.ID == "" {
			po.ID = xid.New("po")
		}
		if po.Status == "" {
			po.Status = domain.POStatusDiproses
		}
		if po.CreatedAt.IsZero() {
			po.CreatedAt = now
		}
		po.UpdatedAt = po.CreatedAt
		po.Total = 0
		items := make([]domain.PurchaseOrderItem, 0, len(po.Items))
		for _, item := range po.Items {
			item.ID = xid.New("dpo")
			item.IDPO = po.ID
			po.Total += item.Harga * int64(item.Jumlah)
			items = append(items, item)
		}
		po.Items = items
		s.orders[po.ID] = clonePurchaseOrder(po)
		saved = append(saved, s.namedPurchaseOrderLocked(po))
	}
	return saved, nil
}

func (s *Store) GetPurchaseOrder(_ context.Context, id string) (*domain.PurchaseOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	po, ok := s.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: purchase order %s", store.ErrNotFound, id)
	}
	named := s.namedPurchaseOrderLocked(po)
	return &named, nil
}

func (s *Store) ListPurchaseOrders(_ context.Context, status string, limit int) ([]domain.PurchaseOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	orders := make([]domain.PurchaseOrder, 0, len(s.orders))
	for _, po := range s.orders {
		if status != "" && po.Status != status {
			continue
		}
		orders = append(orders, s.namedPurchaseOrderLocked(po))
	}
	slices.SortFunc(orders, func(a, b domain.PurchaseOrder) int {
		return compareNewestFirst(a.CreatedAt, b.CreatedAt, a.ID, b.ID)
	})
	if limit > 0 && len(orders) > limit {
		orders = orders[:limit]
	}
	return orders, nil
}

func (s *Store) TransitionPurchaseOrder(_ context.Context, id string, from string, to string) (*domain.PurchaseOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	po, ok := s.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: purchase order %s", store.ErrNotFound, id)
	}
	if po.Status != from {
		return nil, fmt.Errorf("%w: purchase order %s is %s, expected %s", store.ErrInvalidStatus, id, po.Status, from)
	}
	po.Status = to
	po.UpdatedAt = time.Now().UTC()
	s.orders[id] = po
	named := s.namedPurchaseOrderLocked(po)
	return &named, nil
}

func (s *Store) GetPurchaseOrderLine(_ context.Context, idDetailPO string) (*domain.PurchaseOrderLineState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	po, line, ok := s.findLineLocked(idDetailPO)
	if !ok {
		return nil, fmt.Errorf("%w: detail purchase order %s", store.ErrNotFound, idDetailPO)
	}
	state := &domain.PurchaseOrderLineState{Line: line, POStatus: po.Status}
	if obat, ok := s.obat[line.IDObat]; ok {
		state.Line.NamaObat = obat.Nama
	}
	if _, item, ok := s.findReceiptItemLocked(po.ID, idDetailPO); ok {
		dup := item
		state.ReceiptItem = &dup
		if item.NomorBatch != nil {
			_, state.BatchExists = s.batches[*item.NomorBatch]
		}
	}
	return state, nil
}

func (s *Store) ReceivePurchaseOrder(_ context.Context, receipt domain.BarangDiterima) (*domain.ReceiptResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	po, ok := s.orders[receipt.IDPO]
	if !ok {
		return nil, fmt.Errorf("%w: purchase order %s", store.ErrNotFound, receipt.IDPO)
	}
	if po.Status != domain.POStatusDikirim {
		return nil, fmt.Errorf("%w: purchase order %s is %s, expected %s", store.ErrInvalidStatus, po.ID, po.Status, domain.POStatusDikirim)
	}

	lines := make(map[string]domain.PurchaseOrderItem, len(po.Items))
	for _, line := range po.Items {
		lines[line.ID] = line
	}
	seen := make(map[string]struct{}, len(receipt.Items))
	claims := make(map[string]string, len(receipt.Items))
	for _, item := range receipt.Items {
		line, ok := lines[item.IDDetailPO]
		if !ok {
			return nil, fmt.Errorf("%w: detail %s is not part of purchase order %s", store.ErrInvalidInput, item.IDDetailPO, po.ID)
		}
		if _, dup := seen[item.IDDetailPO]; dup {
			return nil, fmt.Errorf("%w: detail %s received twice", store.ErrInvalidInput, item.IDDetailPO)
		}
		seen[item.IDDetailPO] = struct{}{}
		if item.Jumlah < 1 {
			return nil, store.ErrInvalidInput
		}
		if item.Intake != nil {
			nomor := item.Intake.NomorBatch
			owner := line.IDObat
			if existing, ok := s.batches[nomor]; ok {
				owner = existing.IDObat
			} else if claimed, ok := claims[nomor]; ok {
				owner = claimed
			}
			if owner != line.IDObat {
				return nil, fmt.Errorf("%w: batch %s belongs to another obat", store.ErrInvalidInput, nomor)
			}
			claims[nomor] = line.IDObat
		}
	}

	now := time.Now().UTC()
	if receipt.ID == "" {
		receipt.ID = xid.New("bd")
	}
	if receipt.CreatedAt.IsZero() {
		receipt.CreatedAt = now
	}
	if receipt.TibaPada.IsZero() {
		receipt.TibaPada = now
	}

	updates := make([]domain.StockUpdate, 0, len(receipt.Items))
	items := make([]domain.BarangDiterimaItem, 0, len(receipt.Items))
	for _, item := range receipt.Items {
		item.ID = xid.New("dbd")
		item.IDBarangDiterima = receipt.ID
		item.IDObat = lines[item.IDDetailPO].IDObat
		item.NomorBatch = nil
		if item.Intake != nil {
			intake := *item.Intake
			intake.IDObat = item.IDObat
			intake.Jumlah = item.Jumlah
			if intake.Referensi == "" {
				intake.Referensi = receipt.ID
			}
			change, _ := s.applyIntakeLocked(intake, now)
			updates = append(updates, change)
			nomor := intake.NomorBatch
			item.NomorBatch = &nomor
			item.Intake = nil
		}
		items = append(items, item)
	}
	receipt.Items = items
	s.receipts[receipt.ID] = cloneReceipt(receipt)

	po.Status = domain.POStatusDiterima
	po.UpdatedAt = now
	s.orders[po.ID] = po

	return &domain.ReceiptResult{
		Receipt:       cloneReceipt(receipt),
		PurchaseOrder: s.namedPurchaseOrderLocked(po),
		StockUpdates:  updates,
	}, nil
}

func (s *Store) ListReceipts(_ context.Context, limit int) ([]domain.BarangDiterima, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	receipts := make([]domain.BarangDiterima, 0, len(s.receipts))
	for _, receipt := range s.receipts {
		receipts = append(receipts, cloneReceipt(receipt))
	}
	slices.SortFunc(receipts, func(a, b domain.BarangDiterima) int {
		return compareNewestFirst(a.CreatedAt, b.CreatedAt, a.ID, b.ID)
	})
	if limit > 0 && len(receipts) > limit {
		receipts = receipts[:limit]
	}
	return receipts, nil
}

func (s *Store) ListIncompleteMedicines(_ context.Context) ([]domain.IncompleteMedicine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.IncompleteMedicine, 0, 16)
	for _, po := range s.orders {
		if po.Status != domain.POStatusDiterima {
			continue
		}
		receipt, hasReceipt := s.receiptForPOLocked(po.ID)
		for _, line := range po.Items {
			entry := domain.IncompleteMedicine{
				IDPO:         po.ID,
				IDDetailPO:   line.ID,
				IDObat:       line.IDObat,
				NamaObat:     s.obat[line.IDObat].Nama,
				IDSupplier:   po.IDSupplier,
				NamaSupplier: s.suppliers[po.IDSupplier].Nama,
				Jumlah:       line.Jumlah,
			}
			if hasReceipt {
				entry.TibaPada = receipt.TibaPada
			}

			item, found := receiptItemFor(receipt, line.ID)
			switch {
			case !found:
				entry.Alasan = domain.IncompleteNoReceiptLine
			case item.NomorBatch == nil || strings.TrimSpace(*item.NomorBatch) == "":
				entry.IDDetailBarangDiterima = item.ID
				entry.Jumlah = item.Jumlah
				entry.Alasan = domain.IncompleteNoBatchNumber
			default:
				if _, ok := s.batches[*item.NomorBatch]; ok {
					continue
				}
				entry.IDDetailBarangDiterima = item.ID
				entry.Jumlah = item.Jumlah
				entry.NomorBatch = *item.NomorBatch
				entry.Alasan = domain.IncompleteMissingBatchRow
			}
			result = append(result, entry)
		}
	}

	slices.SortFunc(result, func(a, b domain.IncompleteMedicine) int {
		if !a.TibaPada.Equal(b.TibaPada) {
			if a.TibaPada.Before(b.TibaPada) {
				return -1
			}
			return 1
		}
		if a.IDPO != b.IDPO {
			return cmpString(a.IDPO, b.IDPO)
		}
		return cmpString(a.IDDetailPO, b.IDDetailPO)
	})
	return result, nil
}

func (s *Store) CompleteBatch(_ context.Context, idDetailPO string, intake domain.BatchIntake) (*domain.BatchCompleteResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	po, line, ok := s.findLineLocked(idDetailPO)
	if !ok {
		return nil, fmt.Errorf("%w: detail purchase order %s", store.ErrNotFound, idDetailPO)
	}
	if po.Status != domain.POStatusDiterima {
		return nil, fmt.Errorf("%w: purchase order %s is %s, expected %s", store.ErrInvalidStatus, po.ID, po.Status, domain.POStatusDiterima)
	}
	receipt, ok := s.receiptForPOLocked(po.ID)
	if !ok {
		return nil, fmt.Errorf("%w: purchase order %s has no goods receipt", store.ErrInvalidStatus, po.ID)
	}

	itemIndex := -1
	for i, item := range receipt.Items {
		if item.IDDetailPO == idDetailPO {
			itemIndex = i
			break
		}
	}
	if itemIndex >= 0 {
		existing := receipt.Items[itemIndex]
		if existing.NomorBatch != nil && *existing.NomorBatch != "" {
			if _, ok := s.batches[*existing.NomorBatch]; ok {
				return nil, fmt.Errorf("%w: detail %s already has batch %s", store.ErrInvalidStatus, idDetailPO, *existing.NomorBatch)
			}
		}
	}
	if existing, ok := s.batches[intake.NomorBatch]; ok && existing.IDObat != line.IDObat {
		return nil, fmt.Errorf("%w: batch %s belongs to another obat", store.ErrInvalidInput, intake.NomorBatch)
	}

	intake.IDObat = line.IDObat
	if intake.Jumlah < 1 {
		intake.Jumlah = line.Jumlah
		if itemIndex >= 0 {
			intake.Jumlah = receipt.Items[itemIndex].Jumlah
		}
	}
	if intake.Referensi == "" {
		intake.Referensi = receipt.ID
	}

	nomor := intake.NomorBatch
	if itemIndex >= 0 {
		receipt.Items[itemIndex].NomorBatch = &nomor
	} else {
		receipt.Items = append(receipt.Items, domain.BarangDiterimaItem{
			ID:               xid.New("dbd"),
			IDBarangDiterima: receipt.ID,
			IDDetailPO:       idDetailPO,
			IDObat:           line.IDObat,
			Jumlah:           intake.Jumlah,
			NomorBatch:       &nomor,
		})
		itemIndex = len(receipt.Items) - 1
	}
	s.receipts[receipt.ID] = receipt

	change, created := s.applyIntakeLocked(intake, time.Now().UTC())
	return &domain.BatchCompleteResponse{
		Batch:                  s.batches[intake.NomorBatch],
		BatchBaru:              created,
		IDDetailBarangDiterima: receipt.Items[itemIndex].ID,
		StockUpdate:            change,
	}, nil
}

func (s *Store) ListStockMovements(_ context.Context, nomorBatch string, limit int) ([]domain.StockMovement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	movements := make([]domain.StockMovement, 0, 32)
	for i := len(s.movements) - 1; i >= 0; i-- {
		m := s.movements[i]
		if nomorBatch != "" && m.NomorBatch != nomorBatch {
			continue
		}
		movements = append(movements, m)
		if limit > 0 && len(movements) >= limit {
			break
		}
	}
	return movements, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	logs := make([]domain.AuditLog, 0, len(s.auditLogs))
	for i := len(s.auditLogs) - 1; i >= 0; i-- {
		logs = append(logs, s.auditLogs[i])
		if limit > 0 && len(logs) >= limit {
			break
		}
	}
	return logs, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	if user.Email == "" || strings.TrimSpace(user.PasswordHash) == "" {
		return store.ErrInvalidInput
	}
	for _, existing := range s.usersByID {
		if existing.Email == user.Email {
			return fmt.Errorf("%w: email %s already registered", store.ErrConflict, user.Email)
		}
	}
	if user.ID == "" {
		user.ID = xid.New("usr")
	}
	if user.Role == "" {
		user.Role = domain.RolePegawai
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.usersByID[user.ID] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByID))
	for _, user := range s.usersByID {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return cmpString(a.Email, b.Email)
	})
	return users, nil
}

func (s *Store) UpdateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.usersByID[user.ID]
	if !ok {
		return fmt.Errorf("%w: pengguna %s", store.ErrNotFound, user.ID)
	}
	user.Email = existing.Email
	user.CreatedAt = existing.CreatedAt
	if user.PasswordHash == "" {
		user.PasswordHash = existing.PasswordHash
	}
	s.usersByID[user.ID] = user
	return nil
}

func (s *Store) UpdateUserPassword(_ context.Context, id string, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(passwordHash) == "" {
		return store.ErrInvalidInput
	}
	user, ok := s.usersByID[id]
	if !ok {
		return fmt.Errorf("%w: pengguna %s", store.ErrNotFound, id)
	}
	user.PasswordHash = passwordHash
	s.usersByID[id] = user
	return nil
}

func (s *Store) DeleteUser(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.usersByID[id]; !ok {
		return fmt.Errorf("%w: pengguna %s", store.ErrNotFound, id)
	}
	delete(s.usersByID, id)
	return nil
}

// applyIntakeLocked adds the intake to an existing batch or creates it.
// Callers must hold s.mu and have checked that an existing batch belongs to
// intake.IDObat.
func (s *Store) applyIntakeLocked(intake domain.BatchIntake, now time.Time) (domain.StockUpdate, bool) {
	batch, exists := s.batches[intake.NomorBatch]
	if !exists {
		batch = domain.Batch{
			NomorBatch: intake.NomorBatch,
			IDObat:     intake.IDObat,
			Kadaluarsa: nowDateUTC(intake.Kadaluarsa),
			Satuan:     intake.Satuan,
			HargaJual:  intake.HargaJual,
			CreatedAt:  now,
		}
	}
	change := domain.StockUpdate{
		NomorBatch: batch.NomorBatch,
		IDObat:     batch.IDObat,
		OldStock:   batch.Stok,
		NewStock:   batch.Stok + intake.Jumlah,
		Delta:      intake.Jumlah,
	}
	batch.Stok = change.NewStock
	batch.UpdatedAt = now
	s.batches[batch.NomorBatch] = batch
	s.recordMovementLocked(change, domain.MovementMasuk, intake.Referensi, now)
	return change, !exists
}

func (s *Store) recordMovementLocked(change domain.StockUpdate, tipe string, referensi string, at time.Time) {
	jumlah := change.Delta
	if jumlah < 0 {
		jumlah = -jumlah
	}
	s.movements = append(s.movements, domain.StockMovement{
		ID:         xid.New("mv"),
		NomorBatch: change.NomorBatch,
		IDObat:     change.IDObat,
		Tipe:       tipe,
		StokAwal:   change.OldStock,
		StokAkhir:  change.NewStock,
		Jumlah:     jumlah,
		Referensi:  referensi,
		CreatedAt:  at,
	})
}

func (s *Store) batchViewLocked(batch domain.Batch) domain.BatchView {
	obat := s.obat[batch.IDObat]
	return domain.BatchView{Batch: batch, NamaObat: obat.Nama, Kategori: obat.Kategori}
}

func (s *Store) offeringsLocked(keep func(domain.SupplierOffering) bool) []domain.SupplierOffering {
	offerings := make([]domain.SupplierOffering, 0, 8)
	for _, offering := range s.offerings {
		if keep(offering) {
			offerings = append(offerings, s.namedOfferingLocked(offering))
		}
	}
	slices.SortFunc(offerings, func(a, b domain.SupplierOffering) int {
		if a.NamaSupplier != b.NamaSupplier {
			return cmpString(a.NamaSupplier, b.NamaSupplier)
		}
		return cmpString(a.NamaObat, b.NamaObat)
	})
	return offerings
}

func (s *Store) namedOfferingLocked(offering domain.SupplierOffering) domain.SupplierOffering {
	offering.NamaSupplier = s.suppliers[offering.IDSupplier].Nama
	offering.NamaObat = s.obat[offering.IDObat].Nama
	return offering
}

func (s *Store) namedPurchaseOrderLocked(po domain.PurchaseOrder) domain.PurchaseOrder {
	dup := clonePurchaseOrder(po)
	dup.NamaSupplier = s.suppliers[po.IDSupplier].Nama
	for i := range dup.Items {
		dup.Items[i].NamaObat = s.obat[dup.Items[i].IDObat].Nama
	}
	return dup
}

func (s *Store) findLineLocked(idDetailPO string) (domain.PurchaseOrder, domain.PurchaseOrderItem, bool) {
	for _, po := range s.orders {
		for _, line := range po.Items {
			if line.ID == idDetailPO {
				return po, line, true
			}
		}
	}
	return domain.PurchaseOrder{}, domain.PurchaseOrderItem{}, false
}

func (s *Store) receiptForPOLocked(idPO string) (domain.BarangDiterima, bool) {
	for _, receipt := range s.receipts {
		if receipt.IDPO == idPO {
			return cloneReceipt(receipt), true
		}
	}
	return domain.BarangDiterima{}, false
}

func (s *Store) findReceiptItemLocked(idPO string, idDetailPO string) (domain.BarangDiterima, domain.BarangDiterimaItem, bool) {
	receipt, ok := s.receiptForPOLocked(idPO)
	if !ok {
		return domain.BarangDiterima{}, domain.BarangDiterimaItem{}, false
	}
	item, ok := receiptItemFor(receipt, idDetailPO)
	return receipt, item, ok
}

func receiptItemFor(receipt domain.BarangDiterima, idDetailPO string) (domain.BarangDiterimaItem, bool) {
	for _, item := range receipt.Items {
		if item.IDDetailPO == idDetailPO {
			return item, true
		}
	}
	return domain.BarangDiterimaItem{}, false
}

func offeringKey(idSupplier string, idObat string) string {
	return idSupplier + "::" + idObat
}

func nowDateUTC(t time.Time) time.Time {
	return time.Date(t.UTC().Year(), t.UTC().Month(), t.UTC().Day(), 0, 0, 0, 0, time.UTC)
}

func dateUTC(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// compareBatchForFEFO orders batches first-expired-first-out.
func compareBatchForFEFO(a domain.Batch, b domain.Batch) int {
	if a.Kadaluarsa.Before(b.Kadaluarsa) {
		return -1
	}
	if a.Kadaluarsa.After(b.Kadaluarsa) {
		return 1
	}
	return cmpString(a.NomorBatch, b.NomorBatch)
}

func compareNewestFirst(a time.Time, b time.Time, aID string, bID string) int {
	if a.After(b) {
		return -1
	}
	if a.Before(b) {
		return 1
	}
	return cmpString(aID, bID)
}

func cmpString(a string, b string) int {
	if a == b {
		return 0
	}
	if a < b {
		return -1
	}
	return 1
}

func clonePurchaseOrder(src domain.PurchaseOrder) domain.PurchaseOrder {
	dup := src
	dup.Items = slices.Clone(src.Items)
	return dup
}

func cloneReceipt(src domain.BarangDiterima) domain.BarangDiterima {
	dup := src
	dup.Items = make([]domain.BarangDiterimaItem, len(src.Items))
	for i, item := range src.Items {
		if item.NomorBatch != nil {
			nomor := *item.NomorBatch
			item.NomorBatch = &nomor
		}
		dup.Items[i] = item
	}
	return dup
}
