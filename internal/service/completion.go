package service

import (
	"context"
	"fmt"
	"strings"

	"apotek/backend/internal/batchno"
	"apotek/backend/internal/domain"
	"apotek/backend/internal/events"
	"apotek/backend/internal/logging"
	"apotek/backend/internal/store"
)

const incompleteCacheKey = "apotek:incomplete-medicines"

func (s *Service) ListIncompleteMedicines(ctx context.Context) ([]domain.IncompleteMedicine, error) {
	var cached []domain.IncompleteMedicine
	if ok, err := s.cache.GetJSON(ctx, incompleteCacheKey, &cached); err == nil && ok {
		return cached, nil
	} else if err != nil {
		logging.For("service").WithError(err).Warn("incomplete medicines cache read failed")
	}

	result, err := s.repo.ListIncompleteMedicines(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.cache.SetJSON(ctx, incompleteCacheKey, result, s.incompleteTTL); err != nil {
		logging.For("service").WithError(err).Warn("incomplete medicines cache write failed")
	}
	return result, nil
}

func (s *Service) invalidateIncomplete(ctx context.Context) {
	if err := s.cache.Delete(ctx, incompleteCacheKey); err != nil {
		logging.For("service").WithError(err).Warn("incomplete medicines cache invalidation failed")
	}
}

// GetPurchaseOrderLine returns one PO line with its receipt and batch state.
func (s *Service) GetPurchaseOrderLine(ctx context.Context, idDetailPO string) (domain.PurchaseOrderLineState, error) {
	idDetailPO = strings.TrimSpace(idDetailPO)
	if idDetailPO == "" {
		return domain.PurchaseOrderLineState{}, fmt.Errorf("%w: id_detail_po wajib diisi", store.ErrInvalidInput)
	}
	state, err := s.repo.GetPurchaseOrderLine(ctx, idDetailPO)
	if err != nil {
		return domain.PurchaseOrderLineState{}, err
	}
	return *state, nil
}

// CompleteBatch fills in the batch of a received line. An existing batch of
// the same medicine gains the quantity; its expiry, unit and price stay.
func (s *Service) CompleteBatch(ctx context.Context, req domain.BatchCompleteRequest) (domain.BatchCompleteResponse, error) {
	if _, err := s.requireRole(ctx); err != nil {
		return domain.BatchCompleteResponse{}, err
	}

	req.IDDetailPO = strings.TrimSpace(req.IDDetailPO)
	req.NomorBatch = strings.TrimSpace(req.NomorBatch)
	req.Satuan = strings.TrimSpace(req.Satuan)
	if req.IDDetailPO == "" || req.NomorBatch == "" || req.Satuan == "" || req.HargaJual < 0 {
		return domain.BatchCompleteResponse{}, fmt.Errorf("%w: data batch belum lengkap", store.ErrInvalidInput)
	}
	kadaluarsa, err := parseDate(req.Kadaluarsa)
	if err != nil {
		return domain.BatchCompleteResponse{}, err
	}

	intake := domain.BatchIntake{
		NomorBatch: req.NomorBatch,
		Kadaluarsa: kadaluarsa,
		Satuan:     req.Satuan,
		HargaJual:  req.HargaJual,
	}
	if req.Jumlah != nil {
		if *req.Jumlah < 1 {
			return domain.BatchCompleteResponse{}, fmt.Errorf("%w: jumlah minimal 1", store.ErrInvalidInput)
		}
		intake.Jumlah = *req.Jumlah
	}

	var resp *domain.BatchCompleteResponse
	err = s.withLock(ctx, "po-line:"+req.IDDetailPO, func() error {
		var err error
		resp, err = s.repo.CompleteBatch(ctx, req.IDDetailPO, intake)
		return err
	})
	if err != nil {
		return domain.BatchCompleteResponse{}, err
	}

	s.logAudit(ctx, "batch_complete", "detail_obat", resp.Batch.NomorBatch, fmt.Sprintf("id_detail_po=%s,jumlah=%d,baru=%t", req.IDDetailPO, resp.StockUpdate.Delta, resp.BatchBaru))
	s.stockChanged(ctx, events.TypeCompletion, req.IDDetailPO, []domain.StockUpdate{resp.StockUpdate})
	return *resp, nil
}

func (s *Service) GenerateBatchNumber(ctx context.Context, idObat string) (domain.GenerateBatchNumberResponse, error) {
	idObat = strings.TrimSpace(idObat)
	if idObat == "" {
		return domain.GenerateBatchNumberResponse{}, fmt.Errorf("%w: id_obat wajib diisi", store.ErrInvalidInput)
	}
	obat, err := s.repo.GetObat(ctx, idObat)
	if err != nil {
		return domain.GenerateBatchNumberResponse{}, err
	}

	prefix := batchno.Prefix(obat.Nama)
	year := s.now().Year()
	existing, err := s.repo.ListBatchNumbersWithPrefix(ctx, batchno.Stem(prefix, year))
	if err != nil {
		return domain.GenerateBatchNumberResponse{}, err
	}
	return domain.GenerateBatchNumberResponse{
		BatchNumber: batchno.Format(prefix, year, batchno.NextSequence(prefix, year, existing)),
	}, nil
}
