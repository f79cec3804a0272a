package alerts

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"apotek/backend/internal/cache"
	"apotek/backend/internal/domain"
	"apotek/backend/internal/logging"
)

const (
	SeverityCritical = "critical"
	SeverityWarning  = "warning"
	SeverityInfo     = "info"

	KindOutOfStock = "out_of_stock"
	KindLowStock   = "low_stock"
	KindExpired    = "expired"
	KindExpiring   = "expiring"

	cacheKey = "apotek:alerts:stock"

	// Expiring batches this close to their date are warnings, not info.
	urgentExpiryDays = 30
)

// Source is the read side the engine needs; store.Repository satisfies it.
type Source interface {
	ListObat(ctx context.Context) ([]domain.ObatSummary, error)
	ListBatches(ctx context.Context) ([]domain.BatchView, error)
}

type Engine struct {
	cache             cache.Cache
	cacheTTL          time.Duration
	lowStockThreshold int
	expiryWarningDays int
	now               func() time.Time
}

func NewEngine(cacheStore cache.Cache, cacheTTL time.Duration, lowStockThreshold int, expiryWarningDays int) *Engine {
	if cacheStore == nil {
		cacheStore = cache.Noop{}
	}
	if cacheTTL <= 0 {
		cacheTTL = 30 * time.Second
	}
	if lowStockThreshold <= 0 {
		lowStockThreshold = 10
	}
	if expiryWarningDays <= 0 {
		expiryWarningDays = 90
	}
	return &Engine{
		cache:             cacheStore,
		cacheTTL:          cacheTTL,
		lowStockThreshold: lowStockThreshold,
		expiryWarningDays: expiryWarningDays,
		now:               time.Now,
	}
}

func (e *Engine) Evaluate(ctx context.Context, src Source) (domain.StockAlertResponse, error) {
	var cached domain.StockAlertResponse
	if ok, err := e.cache.GetJSON(ctx, cacheKey, &cached); err == nil && ok {
		return cached, nil
	} else if err != nil {
		logging.For("alerts").WithError(err).Warn("alert cache read failed")
	}

	medicines, err := src.ListObat(ctx)
	if err != nil {
		return domain.StockAlertResponse{}, err
	}
	batches, err := src.ListBatches(ctx)
	if err != nil {
		return domain.StockAlertResponse{}, err
	}

	resp := e.build(medicines, batches)
	if err := e.cache.SetJSON(ctx, cacheKey, resp, e.cacheTTL); err != nil {
		logging.For("alerts").WithError(err).Warn("alert cache write failed")
	}
	return resp, nil
}

// Invalidate drops the cached result after any stock change.
func (e *Engine) Invalidate(ctx context.Context) {
	if err := e.cache.Delete(ctx, cacheKey); err != nil {
		logging.For("alerts").WithError(err).Warn("alert cache invalidation failed")
	}
}

func (e *Engine) build(medicines []domain.ObatSummary, batches []domain.BatchView) domain.StockAlertResponse {
	now := e.now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	alerts := make([]domain.StockAlert, 0, 16)

	for _, m := range medicines {
		switch {
		case m.TotalStok <= 0:
			alerts = append(alerts, domain.StockAlert{
				Severity: SeverityCritical,
				Kind:     KindOutOfStock,
				IDObat:   m.ID,
				NamaObat: m.Nama,
				Message:  fmt.Sprintf("%s habis", m.Nama),
			})
		case m.TotalStok < e.lowStockThreshold:
			alerts = append(alerts, domain.StockAlert{
				Severity: SeverityWarning,
				Kind:     KindLowStock,
				IDObat:   m.ID,
				NamaObat: m.Nama,
				Stok:     m.TotalStok,
				Message:  fmt.Sprintf("stok %s tinggal %d", m.Nama, m.TotalStok),
			})
		}
	}

	for _, b := range batches {
		if b.Stok <= 0 {
			continue
		}
		expiry := time.Date(b.Kadaluarsa.Year(), b.Kadaluarsa.Month(), b.Kadaluarsa.Day(), 0, 0, 0, 0, time.UTC)
		days := int(expiry.Sub(today).Hours() / 24)
		if days > e.expiryWarningDays {
			continue
		}

		alert := domain.StockAlert{
			IDObat:      b.IDObat,
			NamaObat:    b.NamaObat,
			NomorBatch:  b.NomorBatch,
			Stok:        b.Stok,
			Kadaluarsa:  &expiry,
			HariTersisa: &days,
		}
		switch {
		case days < 0:
			alert.Severity = SeverityCritical
			alert.Kind = KindExpired
			alert.Message = fmt.Sprintf("batch %s sudah kadaluarsa", b.NomorBatch)
		case days <= urgentExpiryDays:
			alert.Severity = SeverityWarning
			alert.Kind = KindExpiring
			alert.Message = fmt.Sprintf("batch %s kadaluarsa dalam %d hari", b.NomorBatch, days)
		default:
			alert.Severity = SeverityInfo
			alert.Kind = KindExpiring
			alert.Message = fmt.Sprintf("batch %s kadaluarsa dalam %d hari", b.NomorBatch, days)
		}
		alerts = append(alerts, alert)
	}

	slices.SortFunc(alerts, compareAlerts)

	resp := domain.StockAlertResponse{GeneratedAt: now, Alerts: alerts}
	for _, a := range alerts {
		switch a.Severity {
		case SeverityCritical:
			resp.Critical++
		case SeverityWarning:
			resp.Warning++
		default:
			resp.Info++
		}
	}
	return resp
}

func severityRank(severity string) int {
	switch severity {
	case SeverityCritical:
		return 0
	case SeverityWarning:
		return 1
	default:
		return 2
	}
}

func compareAlerts(a domain.StockAlert, b domain.StockAlert) int {
	if ra, rb := severityRank(a.Severity), severityRank(b.Severity); ra != rb {
		return ra - rb
	}
	if a.HariTersisa != nil && b.HariTersisa != nil && *a.HariTersisa != *b.HariTersisa {
		return *a.HariTersisa - *b.HariTersisa
	}
	if a.Stok != b.Stok {
		return a.Stok - b.Stok
	}
	if c := strings.Compare(a.NamaObat, b.NamaObat); c != 0 {
		return c
	}
	return strings.Compare(a.NomorBatch, b.NomorBatch)
}
