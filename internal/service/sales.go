package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"apotek/backend/internal/config"
	"apotek/backend/internal/domain"
	"apotek/backend/internal/events"
	"apotek/backend/internal/store"
)

// SaleValidationError lists every line of a sale that could not be served.
// Nothing is written when it is returned.
type SaleValidationError struct {
	Problems []string
}

func (e *SaleValidationError) Error() string {
	return "validasi stok gagal: " + strings.Join(e.Problems, "; ")
}

func (e *SaleValidationError) Unwrap() error {
	return store.ErrInsufficientStock
}

type saleLine struct {
	idObat     string
	nomorBatch string
	qty        int
	price      decimal.Decimal
	amount     decimal.Decimal
}

func (l saleLine) unitPrice(mode string) int64 {
	if mode == config.PriceMergeWeighted && l.qty > 0 {
		return l.amount.Div(decimal.NewFromInt(int64(l.qty))).Round(0).IntPart()
	}
	return l.price.Round(0).IntPart()
}

// consolidateSaleItems merges lines for the same medicine and batch, keeping
// first-seen order. In equal mode each merge averages the running price with
// the new line's price regardless of quantity.
func consolidateSaleItems(items []domain.SaleItemRequest) []saleLine {
	index := make(map[string]int, len(items))
	lines := make([]saleLine, 0, len(items))
	for _, item := range items {
		key := item.IDObat + "\x00" + item.NomorBatch
		price := decimal.NewFromInt(item.Harga)
		amount := price.Mul(decimal.NewFromInt(int64(item.JumlahTerjual)))
		if i, ok := index[key]; ok {
			lines[i].qty += item.JumlahTerjual
			lines[i].price = lines[i].price.Add(price).Div(decimal.NewFromInt(2))
			lines[i].amount = lines[i].amount.Add(amount)
			continue
		}
		index[key] = len(lines)
		lines = append(lines, saleLine{
			idObat:     item.IDObat,
			nomorBatch: item.NomorBatch,
			qty:        item.JumlahTerjual,
			price:      price,
			amount:     amount,
		})
	}
	return lines
}

func (s *Service) CreateSale(ctx context.Context, req domain.SaleCreateRequest) (domain.SaleResult, error) {
	session, err := s.requireRole(ctx)
	if err != nil {
		return domain.SaleResult{}, err
	}
	if len(req.Items) == 0 {
		return domain.SaleResult{}, fmt.Errorf("%w: penjualan tanpa item", store.ErrInvalidInput)
	}
	for i := range req.Items {
		req.Items[i].IDObat = strings.TrimSpace(req.Items[i].IDObat)
		req.Items[i].NomorBatch = strings.TrimSpace(req.Items[i].NomorBatch)
		item := req.Items[i]
		if item.IDObat == "" || item.JumlahTerjual < 1 || item.Harga < 0 {
			return domain.SaleResult{}, fmt.Errorf("%w: item %d tidak valid", store.ErrInvalidInput, i+1)
		}
	}

	lines := consolidateSaleItems(req.Items)
	items, err := s.resolveSaleBatches(ctx, lines)
	if err != nil {
		return domain.SaleResult{}, err
	}

	sale := domain.Penjualan{DiprosesOleh: defaultString(req.DiprosesOleh, session.UserID)}
	result, err := s.repo.CreateSale(ctx, sale, items)
	if err != nil {
		return domain.SaleResult{}, err
	}

	s.logAudit(ctx, "sale_create", "penjualan", result.Sale.ID, fmt.Sprintf("items=%d,total=%d", len(result.Items), result.Sale.Total))
	s.stockChanged(ctx, events.TypeSale, result.Sale.ID, result.StockUpdates)
	return *result, nil
}

// resolveSaleBatches checks every line against current stock before anything
// is written. A line whose batch is unknown falls back to the soonest-expiring
// batch of the same medicine that can still cover it after earlier lines.
func (s *Service) resolveSaleBatches(ctx context.Context, lines []saleLine) ([]domain.PenjualanItem, error) {
	claimed := make(map[string]int, len(lines))
	problems := make([]string, 0)
	items := make([]domain.PenjualanItem, 0, len(lines))

	for _, line := range lines {
		if line.nomorBatch != "" {
			batch, err := s.repo.GetBatch(ctx, line.nomorBatch)
			switch {
			case err == nil && batch.IDObat == line.idObat:
				available := batch.Stok - claimed[batch.NomorBatch]
				if available < line.qty {
					problems = append(problems, fmt.Sprintf("batch %s: stok tersedia %d, diminta %d", batch.NomorBatch, max(available, 0), line.qty))
					continue
				}
				claimed[batch.NomorBatch] += line.qty
				items = append(items, s.saleItem(line, batch.NomorBatch))
				continue
			case err != nil && !errors.Is(err, store.ErrNotFound):
				return nil, err
			}
		}

		candidates, err := s.repo.ListBatchesByObat(ctx, line.idObat)
		if err != nil {
			return nil, err
		}
		picked := ""
		considered := make([]string, 0, len(candidates))
		for _, candidate := range candidates {
			if candidate.Stok <= 0 {
				continue
			}
			available := candidate.Stok - claimed[candidate.NomorBatch]
			considered = append(considered, fmt.Sprintf("%s(%d)", candidate.NomorBatch, max(available, 0)))
			if picked == "" && available >= line.qty {
				picked = candidate.NomorBatch
			}
		}
		if picked == "" {
			requested := line.nomorBatch
			if requested == "" {
				requested = "-"
			}
			alternatives := "tidak ada"
			if len(considered) > 0 {
				alternatives = strings.Join(considered, ", ")
			}
			problems = append(problems, fmt.Sprintf("obat %s: batch %s tidak ditemukan dan tidak ada batch lain yang cukup untuk %d (alternatif: %s)", line.idObat, requested, line.qty, alternatives))
			continue
		}
		claimed[picked] += line.qty
		items = append(items, s.saleItem(line, picked))
	}

	if len(problems) > 0 {
		return nil, &SaleValidationError{Problems: problems}
	}
	return items, nil
}

func (s *Service) saleItem(line saleLine, nomorBatch string) domain.PenjualanItem {
	return domain.PenjualanItem{
		IDObat:        line.idObat,
		NomorBatch:    nomorBatch,
		JumlahTerjual: line.qty,
		Harga:         line.unitPrice(s.priceMerge),
	}
}

func (s *Service) DeleteSale(ctx context.Context, id string) (domain.SaleDeleteResponse, error) {
	if _, err := s.requireRole(ctx); err != nil {
		return domain.SaleDeleteResponse{}, err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.SaleDeleteResponse{}, fmt.Errorf("%w: id penjualan wajib diisi", store.ErrInvalidInput)
	}

	var resp *domain.SaleDeleteResponse
	err := s.withLock(ctx, "sale:"+id, func() error {
		var err error
		resp, err = s.repo.DeleteSale(ctx, id)
		return err
	})
	if err != nil {
		return domain.SaleDeleteResponse{}, err
	}

	s.logAudit(ctx, "sale_delete", "penjualan", id, fmt.Sprintf("restocked=%d,skipped=%d", len(resp.StockUpdates), len(resp.Skipped)))
	s.stockChanged(ctx, events.TypeSaleDeleted, id, resp.StockUpdates)
	return *resp, nil
}

func (s *Service) GetSale(ctx context.Context, id string) (domain.SaleDetail, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.SaleDetail{}, store.ErrInvalidInput
	}
	detail, err := s.repo.GetSale(ctx, id)
	if err != nil {
		return domain.SaleDetail{}, err
	}
	return *detail, nil
}

func (s *Service) ListSales(ctx context.Context, limit int) ([]domain.SaleDetail, error) {
	if limit < 1 {
		limit = 50
	}
	return s.repo.ListSales(ctx, limit)
}
