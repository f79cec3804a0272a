package store

import (
	"context"
	"errors"

	"apotek/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrInvalidStatus     = errors.New("invalid status transition")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrConflict          = errors.New("conflict")
)

type Repository interface {
	ListObat(ctx context.Context) ([]domain.ObatSummary, error)
	GetObat(ctx context.Context, id string) (*domain.Obat, error)
	CreateObat(ctx context.Context, obat domain.Obat) (*domain.Obat, error)

	GetBatch(ctx context.Context, nomorBatch string) (*domain.Batch, error)
	// ListBatchesByObat returns the medicine's batches ordered by soonest expiry.
	ListBatchesByObat(ctx context.Context, idObat string) ([]domain.Batch, error)
	ListBatches(ctx context.Context) ([]domain.BatchView, error)
	ListBatchNumbersWithPrefix(ctx context.Context, prefix string) ([]string, error)
	UpdateBatch(ctx context.Context, nomorBatch string, update domain.BatchUpdate) (*domain.BatchUpdateResponse, error)
	// DeleteBatch removes the batch and, when it was the last one, the medicine
	// and its supplier links.
	DeleteBatch(ctx context.Context, nomorBatch string) (*domain.BatchDeleteResponse, error)

	ListSuppliers(ctx context.Context) ([]domain.Supplier, error)
	GetSupplier(ctx context.Context, id string) (*domain.Supplier, error)
	CreateSupplier(ctx context.Context, supplier domain.Supplier) (*domain.Supplier, error)
	ListOfferings(ctx context.Context, idSupplier string) ([]domain.SupplierOffering, error)
	ListOfferingsByObat(ctx context.Context, idObat string) ([]domain.SupplierOffering, error)
	GetOffering(ctx context.Context, idSupplier string, idObat string) (*domain.SupplierOffering, error)
	UpsertOffering(ctx context.Context, offering domain.SupplierOffering) (*domain.SupplierOffering, error)

	// CreateSale writes the sale, its lines and the stock decrements atomically.
	// A batch holding less than its line's quantity aborts the whole sale with
	// ErrInsufficientStock.
	CreateSale(ctx context.Context, sale domain.Penjualan, items []domain.PenjualanItem) (*domain.SaleResult, error)
	GetSale(ctx context.Context, id string) (*domain.SaleDetail, error)
	ListSales(ctx context.Context, limit int) ([]domain.SaleDetail, error)
	DeleteSale(ctx context.Context, id string) (*domain.SaleDeleteResponse, error)

	CreatePurchaseOrders(ctx context.Context, orders []domain.PurchaseOrder) ([]domain.PurchaseOrder, error)
	GetPurchaseOrder(ctx context.Context, id string) (*domain.PurchaseOrder, error)
	ListPurchaseOrders(ctx context.Context, status string, limit int) ([]domain.PurchaseOrder, error)
	TransitionPurchaseOrder(ctx context.Context, id string, from string, to string) (*domain.PurchaseOrder, error)
	GetPurchaseOrderLine(ctx context.Context, idDetailPO string) (*domain.PurchaseOrderLineState, error)

	ReceivePurchaseOrder(ctx context.Context, receipt domain.BarangDiterima) (*domain.ReceiptResult, error)
	ListReceipts(ctx context.Context, limit int) ([]domain.BarangDiterima, error)
	ListIncompleteMedicines(ctx context.Context) ([]domain.IncompleteMedicine, error)
	CompleteBatch(ctx context.Context, idDetailPO string, intake domain.BatchIntake) (*domain.BatchCompleteResponse, error)

	ListStockMovements(ctx context.Context, nomorBatch string, limit int) ([]domain.StockMovement, error)
	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUser(ctx context.Context, user domain.UserAccount) error
	UpdateUserPassword(ctx context.Context, id string, passwordHash string) error
	DeleteUser(ctx context.Context, id string) error
}
