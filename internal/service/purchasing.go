package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"apotek/backend/internal/domain"
	"apotek/backend/internal/events"
	"apotek/backend/internal/logging"
	"apotek/backend/internal/store"
)

// CreatePurchaseOrders splits a cart into one order per supplier, in the order
// suppliers first appear in the cart, and writes all of them together.
func (s *Service) CreatePurchaseOrders(ctx context.Context, req domain.PurchaseOrderCreateRequest) (domain.PurchaseOrderCreateResponse, error) {
	session, err := s.requireRole(ctx)
	if err != nil {
		return domain.PurchaseOrderCreateResponse{}, err
	}
	if len(req.Items) == 0 {
		return domain.PurchaseOrderCreateResponse{}, fmt.Errorf("%w: keranjang kosong", store.ErrInvalidInput)
	}

	orders := make([]domain.PurchaseOrder, 0, 2)
	bySupplier := make(map[string]int)
	totals := make([]decimal.Decimal, 0, 2)
	for i, item := range req.Items {
		item.IDObat = strings.TrimSpace(item.IDObat)
		item.IDSupplier = strings.TrimSpace(item.IDSupplier)
		if item.IDObat == "" || item.IDSupplier == "" || item.Jumlah < 1 || item.Harga < 0 {
			return domain.PurchaseOrderCreateResponse{}, fmt.Errorf("%w: item %d tidak valid", store.ErrInvalidInput, i+1)
		}

		offering, err := s.repo.GetOffering(ctx, item.IDSupplier, item.IDObat)
		if err != nil {
			return domain.PurchaseOrderCreateResponse{}, err
		}
		harga := item.Harga
		if harga == 0 {
			harga = offering.HargaBeli
		}

		idx, ok := bySupplier[item.IDSupplier]
		if !ok {
			idx = len(orders)
			bySupplier[item.IDSupplier] = idx
			orders = append(orders, domain.PurchaseOrder{
				IDSupplier: item.IDSupplier,
				DibuatOleh: session.UserID,
				Status:     domain.POStatusDiproses,
			})
			totals = append(totals, decimal.Zero)
		}
		orders[idx].Items = append(orders[idx].Items, domain.PurchaseOrderItem{
			IDObat:     item.IDObat,
			IDSupplier: item.IDSupplier,
			Jumlah:     item.Jumlah,
			Harga:      harga,
		})
		totals[idx] = totals[idx].Add(decimal.NewFromInt(harga).Mul(decimal.NewFromInt(int64(item.Jumlah))))
	}
	for i := range orders {
		orders[i].Total = totals[i].IntPart()
	}

	saved, err := s.repo.CreatePurchaseOrders(ctx, orders)
	if err != nil {
		return domain.PurchaseOrderCreateResponse{}, err
	}
	for _, po := range saved {
		s.logAudit(ctx, "purchase_order_create", "purchase_order", po.ID, fmt.Sprintf("supplier=%s,items=%d,total=%d", po.IDSupplier, len(po.Items), po.Total))
	}
	return domain.PurchaseOrderCreateResponse{PurchaseOrders: saved}, nil
}

func (s *Service) SendPurchaseOrder(ctx context.Context, id string) (domain.PurchaseOrder, error) {
	if _, err := s.requireRole(ctx); err != nil {
		return domain.PurchaseOrder{}, err
	}
	return s.transitionPurchaseOrder(ctx, id, domain.POStatusDiproses, domain.POStatusDikirim, "purchase_order_send")
}

// RejectPurchaseOrder marks a sent order as refused by the supplier. It has
// no inventory effect.
func (s *Service) RejectPurchaseOrder(ctx context.Context, id string) (domain.PurchaseOrder, error) {
	if _, err := s.requireRole(ctx, domain.RoleAPA); err != nil {
		return domain.PurchaseOrder{}, err
	}
	return s.transitionPurchaseOrder(ctx, id, domain.POStatusDikirim, domain.POStatusDitolak, "purchase_order_reject")
}

func (s *Service) transitionPurchaseOrder(ctx context.Context, id string, from string, to string, action string) (domain.PurchaseOrder, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.PurchaseOrder{}, store.ErrInvalidInput
	}

	var po *domain.PurchaseOrder
	err := s.withLock(ctx, "po:"+id, func() error {
		var err error
		po, err = s.repo.TransitionPurchaseOrder(ctx, id, from, to)
		return err
	})
	if err != nil {
		return domain.PurchaseOrder{}, err
	}

	s.logAudit(ctx, action, "purchase_order", id, fmt.Sprintf("%s->%s", from, to))
	return *po, nil
}

func (s *Service) GetPurchaseOrder(ctx context.Context, id string) (domain.PurchaseOrder, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.PurchaseOrder{}, store.ErrInvalidInput
	}
	po, err := s.repo.GetPurchaseOrder(ctx, id)
	if err != nil {
		return domain.PurchaseOrder{}, err
	}
	return *po, nil
}

func (s *Service) ListPurchaseOrders(ctx context.Context, status string, limit int) ([]domain.PurchaseOrder, error) {
	status = strings.ToLower(strings.TrimSpace(status))
	switch status {
	case "", domain.POStatusDiproses, domain.POStatusDikirim, domain.POStatusDiterima, domain.POStatusDitolak:
	default:
		return nil, fmt.Errorf("%w: status %q tidak dikenal", store.ErrInvalidInput, status)
	}
	if limit < 1 {
		limit = 100
	}
	return s.repo.ListPurchaseOrders(ctx, status, limit)
}

// ReceivePurchaseOrder records goods arrival for a sent order. Lines that
// carry batch number, expiry, unit and price are stocked immediately; the
// rest wait for batch completion.
func (s *Service) ReceivePurchaseOrder(ctx context.Context, req domain.BarangDiterimaRequest) (domain.ReceiptResult, error) {
	session, err := s.requireRole(ctx)
	if err != nil {
		return domain.ReceiptResult{}, err
	}
	req.IDPO = strings.TrimSpace(req.IDPO)
	if req.IDPO == "" {
		return domain.ReceiptResult{}, fmt.Errorf("%w: id_po wajib diisi", store.ErrInvalidInput)
	}

	tibaPada := s.now().UTC()
	if strings.TrimSpace(req.TibaPada) != "" {
		tibaPada, err = parseArrival(req.TibaPada)
		if err != nil {
			return domain.ReceiptResult{}, err
		}
	}

	receipt := domain.BarangDiterima{
		IDPO:         req.IDPO,
		TibaPada:     tibaPada,
		DiterimaOleh: session.UserID,
		Items:        make([]domain.BarangDiterimaItem, 0, len(req.Items)),
	}
	for i, line := range req.Items {
		item, err := receiptItem(line)
		if err != nil {
			return domain.ReceiptResult{}, fmt.Errorf("item %d: %w", i+1, err)
		}
		receipt.Items = append(receipt.Items, item)
	}

	var result *domain.ReceiptResult
	err = s.withLock(ctx, "po:"+req.IDPO, func() error {
		var err error
		result, err = s.repo.ReceivePurchaseOrder(ctx, receipt)
		return err
	})
	if err != nil {
		return domain.ReceiptResult{}, err
	}

	logging.For("service").WithFields(map[string]any{
		"id_po":      req.IDPO,
		"lines":      len(result.Receipt.Items),
		"batches_in": len(result.StockUpdates),
	}).Info("purchase order received")
	s.logAudit(ctx, "purchase_order_receive", "purchase_order", req.IDPO, fmt.Sprintf("receipt=%s,lines=%d", result.Receipt.ID, len(result.Receipt.Items)))
	s.stockChanged(ctx, events.TypeReceipt, result.Receipt.ID, result.StockUpdates)
	return *result, nil
}

func receiptItem(line domain.BarangDiterimaItemRequest) (domain.BarangDiterimaItem, error) {
	line.IDDetailPO = strings.TrimSpace(line.IDDetailPO)
	line.NomorBatch = strings.TrimSpace(line.NomorBatch)
	line.Satuan = strings.TrimSpace(line.Satuan)
	if line.IDDetailPO == "" || line.Jumlah < 1 {
		return domain.BarangDiterimaItem{}, store.ErrInvalidInput
	}
	if line.HargaJual != nil && *line.HargaJual < 0 {
		return domain.BarangDiterimaItem{}, store.ErrInvalidInput
	}

	// A batch number is only recorded together with a stock intake. Partial
	// detail leaves the line for batch completion.
	item := domain.BarangDiterimaItem{IDDetailPO: line.IDDetailPO, Jumlah: line.Jumlah}
	if line.NomorBatch == "" || strings.TrimSpace(line.Kadaluarsa) == "" || line.Satuan == "" || line.HargaJual == nil {
		return item, nil
	}
	kadaluarsa, err := parseDate(line.Kadaluarsa)
	if err != nil {
		return domain.BarangDiterimaItem{}, err
	}
	nomor := line.NomorBatch
	item.NomorBatch = &nomor
	item.Intake = &domain.BatchIntake{
		NomorBatch: nomor,
		Kadaluarsa: kadaluarsa,
		Satuan:     line.Satuan,
		HargaJual:  *line.HargaJual,
		Jumlah:     line.Jumlah,
	}
	return item, nil
}

func parseArrival(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.UTC(), nil
	}
	return parseDate(value)
}

func (s *Service) ListReceipts(ctx context.Context, limit int) ([]domain.BarangDiterima, error) {
	if limit < 1 {
		limit = 50
	}
	return s.repo.ListReceipts(ctx, limit)
}
