package service

import (
	"context"
	"fmt"
	"io"
	"strings"

	"apotek/backend/internal/domain"
	"apotek/backend/internal/events"
	"apotek/backend/internal/report"
	"apotek/backend/internal/store"
)

const (
	ExportXLSX = "xlsx"
	ExportCSV  = "csv"
)

func (s *Service) ListObat(ctx context.Context) ([]domain.ObatSummary, error) {
	return s.repo.ListObat(ctx)
}

func (s *Service) GetObat(ctx context.Context, id string) (domain.ObatDetail, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.ObatDetail{}, store.ErrInvalidInput
	}
	obat, err := s.repo.GetObat(ctx, id)
	if err != nil {
		return domain.ObatDetail{}, err
	}
	batches, err := s.repo.ListBatchesByObat(ctx, id)
	if err != nil {
		return domain.ObatDetail{}, err
	}
	offerings, err := s.repo.ListOfferingsByObat(ctx, id)
	if err != nil {
		return domain.ObatDetail{}, err
	}

	detail := domain.ObatDetail{Obat: *obat, Batches: batches, Suppliers: offerings}
	for _, b := range batches {
		detail.TotalStok += b.Stok
	}
	return detail, nil
}

func (s *Service) CreateObat(ctx context.Context, req domain.ObatCreateRequest) (domain.Obat, error) {
	if _, err := s.requireRole(ctx, domain.RoleAPA); err != nil {
		return domain.Obat{}, err
	}
	obat := domain.Obat{
		Nama:      strings.TrimSpace(req.Nama),
		Kategori:  strings.TrimSpace(req.Kategori),
		Komposisi: strings.TrimSpace(req.Komposisi),
	}
	if obat.Nama == "" {
		return domain.Obat{}, fmt.Errorf("%w: nama obat wajib diisi", store.ErrInvalidInput)
	}

	created, err := s.repo.CreateObat(ctx, obat)
	if err != nil {
		return domain.Obat{}, err
	}
	s.logAudit(ctx, "obat_create", "obat", created.ID, "nama="+created.Nama)
	s.alerts.Invalidate(ctx)
	return *created, nil
}

func (s *Service) ListSuppliers(ctx context.Context) ([]domain.Supplier, error) {
	return s.repo.ListSuppliers(ctx)
}

func (s *Service) CreateSupplier(ctx context.Context, req domain.SupplierCreateRequest) (domain.Supplier, error) {
	if _, err := s.requireRole(ctx, domain.RoleAPA); err != nil {
		return domain.Supplier{}, err
	}
	supplier := domain.Supplier{
		Nama:    strings.TrimSpace(req.Nama),
		Alamat:  strings.TrimSpace(req.Alamat),
		Telepon: strings.TrimSpace(req.Telepon),
	}
	if supplier.Nama == "" {
		return domain.Supplier{}, fmt.Errorf("%w: nama supplier wajib diisi", store.ErrInvalidInput)
	}

	created, err := s.repo.CreateSupplier(ctx, supplier)
	if err != nil {
		return domain.Supplier{}, err
	}
	s.logAudit(ctx, "supplier_create", "supplier", created.ID, "nama="+created.Nama)
	return *created, nil
}

func (s *Service) GetSupplier(ctx context.Context, id string) (domain.Supplier, error) {
	supplier, err := s.repo.GetSupplier(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Supplier{}, err
	}
	return *supplier, nil
}

func (s *Service) ListOfferings(ctx context.Context, idSupplier string) ([]domain.SupplierOffering, error) {
	idSupplier = strings.TrimSpace(idSupplier)
	if idSupplier == "" {
		return nil, store.ErrInvalidInput
	}
	return s.repo.ListOfferings(ctx, idSupplier)
}

func (s *Service) UpsertOffering(ctx context.Context, idSupplier string, req domain.SupplierOfferingRequest) (domain.SupplierOffering, error) {
	if _, err := s.requireRole(ctx, domain.RoleAPA); err != nil {
		return domain.SupplierOffering{}, err
	}
	offering := domain.SupplierOffering{
		IDSupplier: strings.TrimSpace(idSupplier),
		IDObat:     strings.TrimSpace(req.IDObat),
		HargaBeli:  req.HargaBeli,
	}
	if offering.IDSupplier == "" || offering.IDObat == "" || offering.HargaBeli < 0 {
		return domain.SupplierOffering{}, store.ErrInvalidInput
	}

	saved, err := s.repo.UpsertOffering(ctx, offering)
	if err != nil {
		return domain.SupplierOffering{}, err
	}
	s.logAudit(ctx, "supplier_obat_upsert", "supplier", saved.IDSupplier, fmt.Sprintf("obat=%s,harga_beli=%d", saved.IDObat, saved.HargaBeli))
	return *saved, nil
}

func (s *Service) ListBatches(ctx context.Context) ([]domain.BatchView, error) {
	return s.repo.ListBatches(ctx)
}

func (s *Service) UpdateBatch(ctx context.Context, nomorBatch string, req domain.BatchUpdateRequest) (domain.BatchUpdateResponse, error) {
	if _, err := s.requireRole(ctx, domain.RoleAPA); err != nil {
		return domain.BatchUpdateResponse{}, err
	}
	nomorBatch = strings.TrimSpace(nomorBatch)
	if nomorBatch == "" {
		return domain.BatchUpdateResponse{}, store.ErrInvalidInput
	}

	var update domain.BatchUpdate
	if req.Kadaluarsa != nil {
		kadaluarsa, err := parseDate(*req.Kadaluarsa)
		if err != nil {
			return domain.BatchUpdateResponse{}, err
		}
		update.Kadaluarsa = &kadaluarsa
	}
	if req.Stok != nil {
		if *req.Stok < 0 {
			return domain.BatchUpdateResponse{}, fmt.Errorf("%w: stok tidak boleh negatif", store.ErrInvalidInput)
		}
		update.Stok = req.Stok
	}
	if req.HargaJual != nil {
		if *req.HargaJual < 0 {
			return domain.BatchUpdateResponse{}, fmt.Errorf("%w: harga jual tidak boleh negatif", store.ErrInvalidInput)
		}
		update.HargaJual = req.HargaJual
	}
	var err error
	if update.Satuan, err = trimmedNonEmpty(req.Satuan, "satuan"); err != nil {
		return domain.BatchUpdateResponse{}, err
	}
	if update.Nama, err = trimmedNonEmpty(req.Nama, "nama"); err != nil {
		return domain.BatchUpdateResponse{}, err
	}
	if req.Kategori != nil {
		kategori := strings.TrimSpace(*req.Kategori)
		update.Kategori = &kategori
	}
	if req.Komposisi != nil {
		komposisi := strings.TrimSpace(*req.Komposisi)
		update.Komposisi = &komposisi
	}

	resp, err := s.repo.UpdateBatch(ctx, nomorBatch, update)
	if err != nil {
		return domain.BatchUpdateResponse{}, err
	}

	detail := "fields_only"
	var updates []domain.StockUpdate
	if resp.StockUpdate != nil {
		detail = fmt.Sprintf("stok=%d->%d", resp.StockUpdate.OldStock, resp.StockUpdate.NewStock)
		updates = append(updates, *resp.StockUpdate)
	}
	s.logAudit(ctx, "batch_update", "detail_obat", nomorBatch, detail)
	s.stockChanged(ctx, events.TypeAdjustment, nomorBatch, updates)
	return *resp, nil
}

func trimmedNonEmpty(value *string, field string) (*string, error) {
	if value == nil {
		return nil, nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: %s tidak boleh kosong", store.ErrInvalidInput, field)
	}
	return &trimmed, nil
}

// DeleteBatch removes a batch. Removing a medicine's last batch removes the
// medicine and its supplier links as well.
func (s *Service) DeleteBatch(ctx context.Context, nomorBatch string) (domain.BatchDeleteResponse, error) {
	if _, err := s.requireRole(ctx, domain.RoleAPA); err != nil {
		return domain.BatchDeleteResponse{}, err
	}
	nomorBatch = strings.TrimSpace(nomorBatch)
	if nomorBatch == "" {
		return domain.BatchDeleteResponse{}, store.ErrInvalidInput
	}

	resp, err := s.repo.DeleteBatch(ctx, nomorBatch)
	if err != nil {
		return domain.BatchDeleteResponse{}, err
	}
	s.logAudit(ctx, "batch_delete", "detail_obat", nomorBatch, fmt.Sprintf("obat=%s,obat_dihapus=%t", resp.IDObat, resp.ObatDihapus))
	s.stockChanged(ctx, events.TypeAdjustment, nomorBatch, nil)
	return *resp, nil
}

// ExportBatches writes the batch list as a spreadsheet or CSV.
func (s *Service) ExportBatches(ctx context.Context, format string, w io.Writer) error {
	batches, err := s.repo.ListBatches(ctx)
	if err != nil {
		return err
	}
	switch format {
	case ExportXLSX:
		return report.WriteXLSX(w, batches, s.now())
	case ExportCSV:
		return report.WriteCSV(w, batches)
	default:
		return fmt.Errorf("%w: format %q tidak didukung", store.ErrInvalidInput, format)
	}
}
