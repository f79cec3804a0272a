package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"apotek/backend/internal/domain"
	"apotek/backend/internal/logging"
	"apotek/backend/internal/store"
	"apotek/backend/internal/xid"
)

//go:embed schema.sql
var schemaSQL string

type Store struct {
	db *sql.DB
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Migrate creates missing tables and indexes. It is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ListObat(ctx context.Context) ([]domain.ObatSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT o.id, o.nama, o.kategori, o.komposisi, o.created_at,
			COALESCE(SUM(d.stok), 0), COUNT(d.nomor_batch),
			MIN(d.kadaluarsa) FILTER (WHERE d.stok > 0)
		FROM obat o
		LEFT JOIN detail_obat d ON d.id_obat = o.id
		GROUP BY o.id
		ORDER BY o.nama, o.id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	summaries := make([]domain.ObatSummary, 0, 64)
	for rows.Next() {
		var summary domain.ObatSummary
		var nearest sql.NullTime
		if err := rows.Scan(
			&summary.ID, &summary.Nama, &summary.Kategori, &summary.Komposisi, &summary.CreatedAt,
			&summary.TotalStok, &summary.JumlahBatch, &nearest,
		); err != nil {
			return nil, err
		}
		summary.CreatedAt = summary.CreatedAt.UTC()
		if nearest.Valid {
			expiry := nowDateUTC(nearest.Time)
			summary.KadaluarsaTerdekat = &expiry
		}
		summaries = append(summaries, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return summaries, nil
}

func (s *Store) GetObat(ctx context.Context, id string) (*domain.Obat, error) {
	return getObat(ctx, s.db, id, false)
}

func getObat(ctx context.Context, q queryer, id string, forUpdate bool) (*domain.Obat, error) {
	query := `SELECT id, nama, kategori, komposisi, created_at FROM obat WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var obat domain.Obat
	err := q.QueryRowContext(ctx, query, id).Scan(&obat.ID, &obat.Nama, &obat.Kategori, &obat.Komposisi, &obat.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: obat %s", store.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	obat.CreatedAt = obat.CreatedAt.UTC()
	return &obat, nil
}

func (s *Store) CreateObat(ctx context.Context, obat domain.Obat) (*domain.Obat, error) {
	if strings.TrimSpace(obat.Nama) == "" {
		return nil, store.ErrInvalidInput
	}
	if obat.ID == "" {
		obat.ID = xid.New("obt")
	}
	if obat.CreatedAt.IsZero() {
		obat.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO obat (id, nama, kategori, komposisi, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, obat.ID, obat.Nama, obat.Kategori, obat.Komposisi, obat.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: obat %s already exists", store.ErrConflict, obat.ID)
		}
		return nil, err
	}
	created := obat
	return &created, nil
}

const batchColumns = `nomor_batch, id_obat, kadaluarsa, stok, satuan, harga_jual, created_at, updated_at`

func scanBatch(row rowScanner, extra ...any) (domain.Batch, error) {
	var b domain.Batch
	dest := append([]any{
		&b.NomorBatch, &b.IDObat, &b.Kadaluarsa, &b.Stok, &b.Satuan, &b.HargaJual, &b.CreatedAt, &b.UpdatedAt,
	}, extra...)
	if err := row.Scan(dest...); err != nil {
		return domain.Batch{}, err
	}
	b.Kadaluarsa = nowDateUTC(b.Kadaluarsa)
	b.CreatedAt = b.CreatedAt.UTC()
	b.UpdatedAt = b.UpdatedAt.UTC()
	return b, nil
}

func (s *Store) GetBatch(ctx context.Context, nomorBatch string) (*domain.Batch, error) {
	batch, err := scanBatch(s.db.QueryRowContext(ctx, `SELECT `+batchColumns+` FROM detail_obat WHERE nomor_batch = $1`, nomorBatch))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: batch %s", store.ErrNotFound, nomorBatch)
	}
	if err != nil {
		return nil, err
	}
	return &batch, nil
}

func (s *Store) ListBatchesByObat(ctx context.Context, idObat string) ([]domain.Batch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+batchColumns+`
		FROM detail_obat
		WHERE id_obat = $1
		ORDER BY kadaluarsa, nomor_batch
	`, idObat)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	batches := make([]domain.Batch, 0, 8)
	for rows.Next() {
		batch, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, batch)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return batches, nil
}

func (s *Store) ListBatches(ctx context.Context) ([]domain.BatchView, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT d.nomor_batch, d.id_obat, d.kadaluarsa, d.stok, d.satuan, d.harga_jual, d.created_at, d.updated_at,
			o.nama, o.kategori
		FROM detail_obat d
		JOIN obat o ON o.id = d.id_obat
		ORDER BY o.nama, d.kadaluarsa, d.nomor_batch
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	views := make([]domain.BatchView, 0, 128)
	for rows.Next() {
		var view domain.BatchView
		batch, err := scanBatch(rows, &view.NamaObat, &view.Kategori)
		if err != nil {
			return nil, err
		}
		view.Batch = batch
		views = append(views, view)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return views, nil
}

func (s *Store) ListBatchNumbersWithPrefix(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT nomor_batch
		FROM detail_obat
		WHERE starts_with(nomor_batch, $1)
		ORDER BY nomor_batch
	`, prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	numbers := make([]string, 0, 8)
	for rows.Next() {
		var nomor string
		if err := rows.Scan(&nomor); err != nil {
			return nil, err
		}
		numbers = append(numbers, nomor)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return numbers, nil
}

func (s *Store) UpdateBatch(ctx context.Context, nomorBatch string, update domain.BatchUpdate) (*domain.BatchUpdateResponse, error) {
	if update.Stok != nil && *update.Stok < 0 {
		return nil, store.ErrInvalidInput
	}
	if update.HargaJual != nil && *update.HargaJual < 0 {
		return nil, store.ErrInvalidInput
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	batch, err := scanBatch(tx.QueryRowContext(ctx, `SELECT `+batchColumns+` FROM detail_obat WHERE nomor_batch = $1 FOR UPDATE`, nomorBatch))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: batch %s", store.ErrNotFound, nomorBatch)
	}
	if err != nil {
		return nil, err
	}
	obat, err := getObat(ctx, tx, batch.IDObat, true)
	if err != nil {
		return nil, err
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
		if err := insertMovement(ctx, tx, change, domain.MovementPenyesuaian, "kelola-obat", now); err != nil {
			return nil, err
		}
		resp.StockUpdate = &change
	}
	batch.UpdatedAt = now

	if _, err := tx.ExecContext(ctx, `
		UPDATE detail_obat
		SET kadaluarsa = $2, stok = $3, satuan = $4, harga_jual = $5, updated_at = $6
		WHERE nomor_batch = $1
	`, batch.NomorBatch, batch.Kadaluarsa, batch.Stok, batch.Satuan, batch.HargaJual, batch.UpdatedAt); err != nil {
		return nil, err
	}

	if update.Nama != nil || update.Kategori != nil || update.Komposisi != nil {
		if update.Nama != nil {
			obat.Nama = *update.Nama
		}
		if update.Kategori != nil {
			obat.Kategori = *update.Kategori
		}
		if update.Komposisi != nil {
			obat.Komposisi = *update.Komposisi
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE obat SET nama = $2, kategori = $3, komposisi = $4 WHERE id = $1
		`, obat.ID, obat.Nama, obat.Kategori, obat.Komposisi); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	resp.Batch = domain.BatchView{Batch: batch, NamaObat: obat.Nama, Kategori: obat.Kategori}
	return resp, nil
}

func (s *Store) DeleteBatch(ctx context.Context, nomorBatch string) (*domain.BatchDeleteResponse, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var idObat string
	err = tx.QueryRowContext(ctx, `SELECT id_obat FROM detail_obat WHERE nomor_batch = $1`, nomorBatch).Scan(&idObat)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: batch %s", store.ErrNotFound, nomorBatch)
	}
	if err != nil {
		return nil, err
	}

	// Serialize deletions per medicine so two "last batch" deletes cannot both
	// see the other's batch and leave an empty medicine behind.
	if _, err := getObat(ctx, tx, idObat, true); err != nil {
		return nil, err
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM detail_obat WHERE nomor_batch = $1`, nomorBatch)
	if err != nil {
		return nil, err
	}
	if affected, err := res.RowsAffected(); err != nil {
		return nil, err
	} else if affected == 0 {
		return nil, fmt.Errorf("%w: batch %s", store.ErrNotFound, nomorBatch)
	}

	resp := &domain.BatchDeleteResponse{NomorBatch: nomorBatch, IDObat: idObat}
	var remaining int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM detail_obat WHERE id_obat = $1`, idObat).Scan(&remaining); err != nil {
		return nil, err
	}
	if remaining == 0 {
		if _, err := tx.ExecContext(ctx, `DELETE FROM obat WHERE id = $1`, idObat); err != nil {
			return nil, err
		}
		resp.ObatDihapus = true
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return resp, nil
}

func (s *Store) ListSuppliers(ctx context.Context) ([]domain.Supplier, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, nama, alamat, telepon, created_at
		FROM supplier
		ORDER BY nama, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	suppliers := make([]domain.Supplier, 0, 16)
	for rows.Next() {
		var supplier domain.Supplier
		if err := rows.Scan(&supplier.ID, &supplier.Nama, &supplier.Alamat, &supplier.Telepon, &supplier.CreatedAt); err != nil {
			return nil, err
		}
		supplier.CreatedAt = supplier.CreatedAt.UTC()
		suppliers = append(suppliers, supplier)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return suppliers, nil
}

func (s *Store) GetSupplier(ctx context.Context, id string) (*domain.Supplier, error) {
	var supplier domain.Supplier
	err := s.db.QueryRowContext(ctx, `
		SELECT id, nama, alamat, telepon, created_at FROM supplier WHERE id = $1
	`, id).Scan(&supplier.ID, &supplier.Nama, &supplier.Alamat, &supplier.Telepon, &supplier.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: supplier %s", store.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	supplier.CreatedAt = supplier.CreatedAt.UTC()
	return &supplier, nil
}

func (s *Store) CreateSupplier(ctx context.Context, supplier domain.Supplier) (*domain.Supplier, error) {
	if strings.TrimSpace(supplier.Nama) == "" {
		return nil, store.ErrInvalidInput
	}
	if supplier.ID == "" {
		supplier.ID = xid.New("sup")
	}
	if supplier.CreatedAt.IsZero() {
		supplier.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO supplier (id, nama, alamat, telepon, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, supplier.ID, supplier.Nama, supplier.Alamat, supplier.Telepon, supplier.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: supplier %s already exists", store.ErrConflict, supplier.ID)
		}
		return nil, err
	}
	created := supplier
	return &created, nil
}

const offeringSelect = `
	SELECT so.id_supplier, s.nama, so.id_obat, o.nama, so.harga_beli
	FROM supplier_obat so
	JOIN supplier s ON s.id = so.id_supplier
	JOIN obat o ON o.id = so.id_obat
`

func (s *Store) ListOfferings(ctx context.Context, idSupplier string) ([]domain.SupplierOffering, error) {
	if _, err := s.GetSupplier(ctx, idSupplier); err != nil {
		return nil, err
	}
	return s.queryOfferings(ctx, offeringSelect+` WHERE so.id_supplier = $1 ORDER BY s.nama, o.nama`, idSupplier)
}

func (s *Store) ListOfferingsByObat(ctx context.Context, idObat string) ([]domain.SupplierOffering, error) {
	return s.queryOfferings(ctx, offeringSelect+` WHERE so.id_obat = $1 ORDER BY s.nama, o.nama`, idObat)
}

func (s *Store) queryOfferings(ctx context.Context, query string, args ...any) ([]domain.SupplierOffering, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	offerings := make([]domain.SupplierOffering, 0, 8)
	for rows.Next() {
		var o domain.SupplierOffering
		if err := rows.Scan(&o.IDSupplier, &o.NamaSupplier, &o.IDObat, &o.NamaObat, &o.HargaBeli); err != nil {
			return nil, err
		}
		offerings = append(offerings, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return offerings, nil
}

func (s *Store) GetOffering(ctx context.Context, idSupplier string, idObat string) (*domain.SupplierOffering, error) {
	var o domain.SupplierOffering
	err := s.db.QueryRowContext(ctx, offeringSelect+` WHERE so.id_supplier = $1 AND so.id_obat = $2`, idSupplier, idObat).
		Scan(&o.IDSupplier, &o.NamaSupplier, &o.IDObat, &o.NamaObat, &o.HargaBeli)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: supplier %s does not offer obat %s", store.ErrNotFound, idSupplier, idObat)
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *Store) UpsertOffering(ctx context.Context, offering domain.SupplierOffering) (*domain.SupplierOffering, error) {
	if offering.HargaBeli < 0 {
		return nil, store.ErrInvalidInput
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO supplier_obat (id_supplier, id_obat, harga_beli)
		VALUES ($1,$2,$3)
		ON CONFLICT (id_supplier, id_obat)
		DO UPDATE SET harga_beli = excluded.harga_beli
	`, offering.IDSupplier, offering.IDObat, offering.HargaBeli)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, fmt.Errorf("%w: supplier %s or obat %s", store.ErrNotFound, offering.IDSupplier, offering.IDObat)
		}
		return nil, err
	}
	return s.GetOffering(ctx, offering.IDSupplier, offering.IDObat)
}

func (s *Store) CreateSale(ctx context.Context, sale domain.Penjualan, items []domain.PenjualanItem) (*domain.SaleResult, error) {
	if len(items) == 0 {
		return nil, store.ErrInvalidInput
	}
	for _, item := range items {
		if item.JumlahTerjual < 1 || item.Harga < 0 || item.NomorBatch == "" {
			return nil, store.ErrInvalidInput
		}
	}

	now := time.Now().UTC()
	if sale.ID == "" {
		sale.ID = xid.New("pjl")
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = now
	}
	sale.Total = 0
	for _, item := range items {
		sale.Total += item.Harga * int64(item.JumlahTerjual)
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO penjualan (id, diproses_oleh, total, created_at)
		VALUES ($1,$2,$3,$4)
	`, sale.ID, sale.DiprosesOleh, sale.Total, sale.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: penjualan %s already exists", store.ErrConflict, sale.ID)
		}
		return nil, err
	}

	saved := make([]domain.PenjualanItem, 0, len(items))
	updates := make([]domain.StockUpdate, 0, len(items))
	for i, item := range items {
		// The stock guard lives in the WHERE clause, so two sales racing for
		// the same batch cannot both pass a stale read.
		var newStock int
		err := tx.QueryRowContext(ctx, `
			UPDATE detail_obat
			SET stok = stok - $2, updated_at = $4
			WHERE nomor_batch = $1 AND id_obat = $3 AND stok >= $2
			RETURNING stok
		`, item.NomorBatch, item.JumlahTerjual, item.IDObat, now).Scan(&newStock)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, explainShortfall(ctx, tx, item)
		}
		if err != nil {
			return nil, err
		}

		item.ID = xid.New("dpj")
		item.IDPenjualan = sale.ID
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO detail_penjualan (id, id_penjualan, id_obat, nomor_batch, jumlah_terjual, harga, urutan)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
		`, item.ID, item.IDPenjualan, item.IDObat, item.NomorBatch, item.JumlahTerjual, item.Harga, i); err != nil {
			return nil, err
		}

		change := domain.StockUpdate{
			NomorBatch: item.NomorBatch,
			IDObat:     item.IDObat,
			OldStock:   newStock + item.JumlahTerjual,
			NewStock:   newStock,
			Delta:      -item.JumlahTerjual,
		}
		if err := insertMovement(ctx, tx, change, domain.MovementKeluar, sale.ID, now); err != nil {
			return nil, err
		}
		saved = append(saved, item)
		updates = append(updates, change)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &domain.SaleResult{Sale: sale, Items: saved, StockUpdates: updates}, nil
}

// explainShortfall tells apart the reasons a guarded decrement matched no row.
func explainShortfall(ctx context.Context, q queryer, item domain.PenjualanItem) error {
	var idObat string
	var stok int
	err := q.QueryRowContext(ctx, `SELECT id_obat, stok FROM detail_obat WHERE nomor_batch = $1`, item.NomorBatch).Scan(&idObat, &stok)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: batch %s", store.ErrNotFound, item.NomorBatch)
	}
	if err != nil {
		return err
	}
	if idObat != item.IDObat {
		return fmt.Errorf("%w: batch %s does not belong to obat %s", store.ErrInvalidInput, item.NomorBatch, item.IDObat)
	}
	return fmt.Errorf("%w: batch %s has %d, requested %d", store.ErrInsufficientStock, item.NomorBatch, stok, item.JumlahTerjual)
}

func (s *Store) GetSale(ctx context.Context, id string) (*domain.SaleDetail, error) {
	var sale domain.Penjualan
	err := s.db.QueryRowContext(ctx, `
		SELECT id, diproses_oleh, total, created_at FROM penjualan WHERE id = $1
	`, id).Scan(&sale.ID, &sale.DiprosesOleh, &sale.Total, &sale.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: penjualan %s", store.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	sale.CreatedAt = sale.CreatedAt.UTC()

	items, err := loadSaleItems(ctx, s.db, []string{id})
	if err != nil {
		return nil, err
	}
	return &domain.SaleDetail{Sale: sale, Items: nonNilSaleItems(items[id])}, nil
}

func (s *Store) ListSales(ctx context.Context, limit int) ([]domain.SaleDetail, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, diproses_oleh, total, created_at
		FROM penjualan
		ORDER BY created_at DESC, id
		LIMIT $1
	`, nullLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	details := make([]domain.SaleDetail, 0, 64)
	ids := make([]string, 0, 64)
	for rows.Next() {
		var sale domain.Penjualan
		if err := rows.Scan(&sale.ID, &sale.DiprosesOleh, &sale.Total, &sale.CreatedAt); err != nil {
			return nil, err
		}
		sale.CreatedAt = sale.CreatedAt.UTC()
		details = append(details, domain.SaleDetail{Sale: sale})
		ids = append(ids, sale.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return details, nil
	}

	items, err := loadSaleItems(ctx, s.db, ids)
	if err != nil {
		return nil, err
	}
	for i := range details {
		details[i].Items = nonNilSaleItems(items[details[i].Sale.ID])
	}
	return details, nil
}

func loadSaleItems(ctx context.Context, q queryer, saleIDs []string) (map[string][]domain.PenjualanItem, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, id_penjualan, id_obat, nomor_batch, jumlah_terjual, harga
		FROM detail_penjualan
		WHERE id_penjualan = ANY($1)
		ORDER BY id_penjualan, urutan
	`, saleIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make(map[string][]domain.PenjualanItem, len(saleIDs))
	for rows.Next() {
		var item domain.PenjualanItem
		if err := rows.Scan(&item.ID, &item.IDPenjualan, &item.IDObat, &item.NomorBatch, &item.JumlahTerjual, &item.Harga); err != nil {
			return nil, err
		}
		items[item.IDPenjualan] = append(items[item.IDPenjualan], item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) DeleteSale(ctx context.Context, id string) (*domain.SaleDeleteResponse, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var locked string
	err = tx.QueryRowContext(ctx, `SELECT id FROM penjualan WHERE id = $1 FOR UPDATE`, id).Scan(&locked)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: penjualan %s", store.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	items, err := loadSaleItems(ctx, tx, []string{id})
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	resp := &domain.SaleDeleteResponse{ID: id, StockUpdates: make([]domain.StockUpdate, 0, len(items[id]))}
	for _, item := range items[id] {
		var newStock int
		err := tx.QueryRowContext(ctx, `
			UPDATE detail_obat
			SET stok = stok + $2, updated_at = $3
			WHERE nomor_batch = $1
			RETURNING stok
		`, item.NomorBatch, item.JumlahTerjual, now).Scan(&newStock)
		if errors.Is(err, sql.ErrNoRows) {
			logging.For("postgres-store").WithFields(map[string]any{
				"id_penjualan": id,
				"nomor_batch":  item.NomorBatch,
			}).Warn("restock skipped: batch no longer exists")
			resp.Skipped = append(resp.Skipped, item.NomorBatch)
			continue
		}
		if err != nil {
			return nil, err
		}
		change := domain.StockUpdate{
			NomorBatch: item.NomorBatch,
			IDObat:     item.IDObat,
			OldStock:   newStock - item.JumlahTerjual,
			NewStock:   newStock,
			Delta:      item.JumlahTerjual,
		}
		if err := insertMovement(ctx, tx, change, domain.MovementMasuk, id, now); err != nil {
			return nil, err
		}
		resp.StockUpdates = append(resp.StockUpdates, change)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM penjualan WHERE id = $1`, id); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return resp, nil
}

func (s *Store) CreatePurchaseOrders(ctx context.Context, orders []domain.PurchaseOrder) ([]domain.PurchaseOrder, error) {
	if len(orders) == 0 {
		return nil, store.ErrInvalidInput
	}
	for _, po := range orders {
		if len(po.Items) == 0 || po.IDSupplier == "" {
			return nil, store.ErrInvalidInput
		}
		for _, item := range po.Items {
			if item.Jumlah < 1 || item.Harga < 0 || item.IDSupplier != po.IDSupplier {
				return nil, store.ErrInvalidInput
			}
		}
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	ids := make([]string, 0, len(orders))
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
		po.Total = 0
		for _, item := range po.Items {
			var exists bool
			if err := tx.QueryRowContext(ctx, `
				SELECT EXISTS (SELECT 1 FROM supplier_obat WHERE id_supplier = $1 AND id_obat = $2)
			`, po.IDSupplier, item.IDObat).Scan(&exists); err != nil {
				return nil, err
			}
			if !exists {
				return nil, fmt.Errorf("%w: supplier %s does not offer obat %s", store.ErrNotFound, po.IDSupplier, item.IDObat)
			}
			po.Total += item.Harga * int64(item.Jumlah)
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO purchase_order (id, id_supplier, dibuat_oleh, total, status, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$6)
		`, po.ID, po.IDSupplier, po.DibuatOleh, po.Total, po.Status, po.CreatedAt)
		if err != nil {
			if isForeignKeyViolation(err) {
				return nil, fmt.Errorf("%w: supplier %s", store.ErrNotFound, po.IDSupplier)
			}
			if isUniqueViolation(err) {
				return nil, fmt.Errorf("%w: purchase order %s already exists", store.ErrConflict, po.ID)
			}
			return nil, err
		}

		for i, item := range po.Items {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO detail_po (id, id_po, id_obat, id_supplier, jumlah, harga, urutan)
				VALUES ($1,$2,$3,$4,$5,$6,$7)
			`, xid.New("dpo"), po.ID, item.IDObat, item.IDSupplier, item.Jumlah, item.Harga, i); err != nil {
				return nil, err
			}
		}
		ids = append(ids, po.ID)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	saved := make([]domain.PurchaseOrder, 0, len(ids))
	for _, id := range ids {
		po, err := s.GetPurchaseOrder(ctx, id)
		if err != nil {
			return nil, err
		}
		saved = append(saved, *po)
	}
	return saved, nil
}

const purchaseOrderSelect = `
	SELECT po.id, po.id_supplier, COALESCE(s.nama, ''), po.dibuat_oleh, po.total, po.status, po.created_at, po.updated_at
	FROM purchase_order po
	LEFT JOIN supplier s ON s.id = po.id_supplier
`

func scanPurchaseOrder(row rowScanner) (domain.PurchaseOrder, error) {
	var po domain.PurchaseOrder
	if err := row.Scan(&po.ID, &po.IDSupplier, &po.NamaSupplier, &po.DibuatOleh, &po.Total, &po.Status, &po.CreatedAt, &po.UpdatedAt); err != nil {
		return domain.PurchaseOrder{}, err
	}
	po.CreatedAt = po.CreatedAt.UTC()
	po.UpdatedAt = po.UpdatedAt.UTC()
	return po, nil
}

func (s *Store) GetPurchaseOrder(ctx context.Context, id string) (*domain.PurchaseOrder, error) {
	po, err := scanPurchaseOrder(s.db.QueryRowContext(ctx, purchaseOrderSelect+` WHERE po.id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: purchase order %s", store.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	items, err := loadPurchaseOrderItems(ctx, s.db, []string{id})
	if err != nil {
		return nil, err
	}
	po.Items = nonNilPOItems(items[id])
	return &po, nil
}

func (s *Store) ListPurchaseOrders(ctx context.Context, status string, limit int) ([]domain.PurchaseOrder, error) {
	rows, err := s.db.QueryContext(ctx, purchaseOrderSelect+`
		WHERE ($1::text = '' OR po.status = $1)
		ORDER BY po.created_at DESC, po.id
		LIMIT $2
	`, status, nullLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := make([]domain.PurchaseOrder, 0, 32)
	ids := make([]string, 0, 32)
	for rows.Next() {
		po, err := scanPurchaseOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, po)
		ids = append(ids, po.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return orders, nil
	}

	items, err := loadPurchaseOrderItems(ctx, s.db, ids)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		orders[i].Items = nonNilPOItems(items[orders[i].ID])
	}
	return orders, nil
}

func loadPurchaseOrderItems(ctx context.Context, q queryer, poIDs []string) (map[string][]domain.PurchaseOrderItem, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT d.id, d.id_po, d.id_obat, COALESCE(o.nama, ''), d.id_supplier, d.jumlah, d.harga
		FROM detail_po d
		LEFT JOIN obat o ON o.id = d.id_obat
		WHERE d.id_po = ANY($1)
		ORDER BY d.id_po, d.urutan
	`, poIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make(map[string][]domain.PurchaseOrderItem, len(poIDs))
	for rows.Next() {
		var item domain.PurchaseOrderItem
		if err := rows.Scan(&item.ID, &item.IDPO, &item.IDObat, &item.NamaObat, &item.IDSupplier, &item.Jumlah, &item.Harga); err != nil {
			return nil, err
		}
		items[item.IDPO] = append(items[item.IDPO], item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) TransitionPurchaseOrder(ctx context.Context, id string, from string, to string) (*domain.PurchaseOrder, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE purchase_order
		SET status = $3, updated_at = $4
		WHERE id = $1 AND status = $2
	`, id, from, to, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		var current string
		err := s.db.QueryRowContext(ctx, `SELECT status FROM purchase_order WHERE id = $1`, id).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: purchase order %s", store.ErrNotFound, id)
		}
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: purchase order %s is %s, expected %s", store.ErrInvalidStatus, id, current, from)
	}
	return s.GetPurchaseOrder(ctx, id)
}

func (s *Store) GetPurchaseOrderLine(ctx context.Context, idDetailPO string) (*domain.PurchaseOrderLineState, error) {
	var (
		state       domain.PurchaseOrderLineState
		itemID      sql.NullString
		itemReceipt sql.NullString
		itemJumlah  sql.NullInt64
		itemNomor   sql.NullString
	)
	line := &state.Line
	err := s.db.QueryRowContext(ctx, `
		SELECT d.id, d.id_po, d.id_obat, COALESCE(o.nama, ''), d.id_supplier, d.jumlah, d.harga, po.status,
			dbd.id, dbd.id_barang_diterima, dbd.jumlah, dbd.nomor_batch,
			EXISTS (SELECT 1 FROM detail_obat b WHERE b.nomor_batch = dbd.nomor_batch)
		FROM detail_po d
		JOIN purchase_order po ON po.id = d.id_po
		LEFT JOIN obat o ON o.id = d.id_obat
		LEFT JOIN detail_barang_diterima dbd ON dbd.id_detail_po = d.id
		WHERE d.id = $1
	`, idDetailPO).Scan(
		&line.ID, &line.IDPO, &line.IDObat, &line.NamaObat, &line.IDSupplier, &line.Jumlah, &line.Harga, &state.POStatus,
		&itemID, &itemReceipt, &itemJumlah, &itemNomor, &state.BatchExists,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: detail purchase order %s", store.ErrNotFound, idDetailPO)
	}
	if err != nil {
		return nil, err
	}
	if itemID.Valid {
		state.ReceiptItem = &domain.BarangDiterimaItem{
			ID:               itemID.String,
			IDBarangDiterima: itemReceipt.String,
			IDDetailPO:       line.ID,
			IDObat:           line.IDObat,
			Jumlah:           int(itemJumlah.Int64),
			NomorBatch:       nullStringPtr(itemNomor),
		}
	}
	return &state, nil
}

func (s *Store) ReceivePurchaseOrder(ctx context.Context, receipt domain.BarangDiterima) (*domain.ReceiptResult, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var status string
	err = tx.QueryRowContext(ctx, `SELECT status FROM purchase_order WHERE id = $1 FOR UPDATE`, receipt.IDPO).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: purchase order %s", store.ErrNotFound, receipt.IDPO)
	}
	if err != nil {
		return nil, err
	}
	if status != domain.POStatusDikirim {
		return nil, fmt.Errorf("%w: purchase order %s is %s, expected %s", store.ErrInvalidStatus, receipt.IDPO, status, domain.POStatusDikirim)
	}

	lines, err := loadPurchaseOrderItems(ctx, tx, []string{receipt.IDPO})
	if err != nil {
		return nil, err
	}
	obatByLine := make(map[string]string, len(lines[receipt.IDPO]))
	for _, line := range lines[receipt.IDPO] {
		obatByLine[line.ID] = line.IDObat
	}
	seen := make(map[string]struct{}, len(receipt.Items))
	for _, item := range receipt.Items {
		if _, ok := obatByLine[item.IDDetailPO]; !ok {
			return nil, fmt.Errorf("%w: detail %s is not part of purchase order %s", store.ErrInvalidInput, item.IDDetailPO, receipt.IDPO)
		}
		if _, dup := seen[item.IDDetailPO]; dup {
			return nil, fmt.Errorf("%w: detail %s received twice", store.ErrInvalidInput, item.IDDetailPO)
		}
		seen[item.IDDetailPO] = struct{}{}
		if item.Jumlah < 1 {
			return nil, store.ErrInvalidInput
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

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO barang_diterima (id, id_po, tiba_pada, diterima_oleh, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, receipt.ID, receipt.IDPO, receipt.TibaPada, receipt.DiterimaOleh, receipt.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: purchase order %s already has a goods receipt", store.ErrConflict, receipt.IDPO)
		}
		return nil, err
	}

	updates := make([]domain.StockUpdate, 0, len(receipt.Items))
	items := make([]domain.BarangDiterimaItem, 0, len(receipt.Items))
	for i, item := range receipt.Items {
		item.ID = xid.New("dbd")
		item.IDBarangDiterima = receipt.ID
		item.IDObat = obatByLine[item.IDDetailPO]
		item.NomorBatch = nil
		if item.Intake != nil {
			intake := *item.Intake
			intake.IDObat = item.IDObat
			intake.Jumlah = item.Jumlah
			if intake.Referensi == "" {
				intake.Referensi = receipt.ID
			}
			_, change, _, err := applyIntake(ctx, tx, intake, now)
			if err != nil {
				return nil, err
			}
			updates = append(updates, change)
			nomor := intake.NomorBatch
			item.NomorBatch = &nomor
			item.Intake = nil
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO detail_barang_diterima (id, id_barang_diterima, id_detail_po, id_obat, jumlah, nomor_batch, urutan)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
		`, item.ID, item.IDBarangDiterima, item.IDDetailPO, item.IDObat, item.Jumlah, nullStringValue(item.NomorBatch), i); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	receipt.Items = items

	if _, err := tx.ExecContext(ctx, `
		UPDATE purchase_order SET status = $2, updated_at = $3 WHERE id = $1
	`, receipt.IDPO, domain.POStatusDiterima, now); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	po, err := s.GetPurchaseOrder(ctx, receipt.IDPO)
	if err != nil {
		return nil, err
	}
	return &domain.ReceiptResult{Receipt: receipt, PurchaseOrder: *po, StockUpdates: updates}, nil
}

func (s *Store) ListReceipts(ctx context.Context, limit int) ([]domain.BarangDiterima, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, id_po, tiba_pada, diterima_oleh, created_at
		FROM barang_diterima
		ORDER BY created_at DESC, id
		LIMIT $1
	`, nullLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	receipts := make([]domain.BarangDiterima, 0, 32)
	ids := make([]string, 0, 32)
	for rows.Next() {
		var r domain.BarangDiterima
		if err := rows.Scan(&r.ID, &r.IDPO, &r.TibaPada, &r.DiterimaOleh, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.TibaPada = r.TibaPada.UTC()
		r.CreatedAt = r.CreatedAt.UTC()
		receipts = append(receipts, r)
		ids = append(ids, r.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return receipts, nil
	}

	itemRows, err := s.db.QueryContext(ctx, `
		SELECT id, id_barang_diterima, id_detail_po, id_obat, jumlah, nomor_batch
		FROM detail_barang_diterima
		WHERE id_barang_diterima = ANY($1)
		ORDER BY id_barang_diterima, urutan
	`, ids)
	if err != nil {
		return nil, err
	}
	defer itemRows.Close()

	items := make(map[string][]domain.BarangDiterimaItem, len(ids))
	for itemRows.Next() {
		var item domain.BarangDiterimaItem
		var nomor sql.NullString
		if err := itemRows.Scan(&item.ID, &item.IDBarangDiterima, &item.IDDetailPO, &item.IDObat, &item.Jumlah, &nomor); err != nil {
			return nil, err
		}
		item.NomorBatch = nullStringPtr(nomor)
		items[item.IDBarangDiterima] = append(items[item.IDBarangDiterima], item)
	}
	if err := itemRows.Err(); err != nil {
		return nil, err
	}
	for i := range receipts {
		receipts[i].Items = items[receipts[i].ID]
		if receipts[i].Items == nil {
			receipts[i].Items = []domain.BarangDiterimaItem{}
		}
	}
	return receipts, nil
}

func (s *Store) ListIncompleteMedicines(ctx context.Context) ([]domain.IncompleteMedicine, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT po.id, d.id, d.id_obat, COALESCE(o.nama, ''), po.id_supplier, COALESCE(s.nama, ''), d.jumlah,
			bd.tiba_pada, dbd.id, dbd.jumlah, dbd.nomor_batch, b.nomor_batch IS NOT NULL
		FROM purchase_order po
		JOIN detail_po d ON d.id_po = po.id
		LEFT JOIN barang_diterima bd ON bd.id_po = po.id
		LEFT JOIN detail_barang_diterima dbd ON dbd.id_detail_po = d.id
		LEFT JOIN detail_obat b ON b.nomor_batch = dbd.nomor_batch
		LEFT JOIN obat o ON o.id = d.id_obat
		LEFT JOIN supplier s ON s.id = po.id_supplier
		WHERE po.status = $1
		ORDER BY bd.tiba_pada NULLS FIRST, po.id, d.id
	`, domain.POStatusDiterima)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.IncompleteMedicine, 0, 16)
	for rows.Next() {
		var (
			entry       domain.IncompleteMedicine
			tibaPada    sql.NullTime
			itemID      sql.NullString
			itemJumlah  sql.NullInt64
			itemNomor   sql.NullString
			batchExists bool
		)
		if err := rows.Scan(
			&entry.IDPO, &entry.IDDetailPO, &entry.IDObat, &entry.NamaObat, &entry.IDSupplier, &entry.NamaSupplier, &entry.Jumlah,
			&tibaPada, &itemID, &itemJumlah, &itemNomor, &batchExists,
		); err != nil {
			return nil, err
		}
		if tibaPada.Valid {
			entry.TibaPada = tibaPada.Time.UTC()
		}

		switch {
		case !itemID.Valid:
			entry.Alasan = domain.IncompleteNoReceiptLine
		case !itemNomor.Valid || strings.TrimSpace(itemNomor.String) == "":
			entry.IDDetailBarangDiterima = itemID.String
			entry.Jumlah = int(itemJumlah.Int64)
			entry.Alasan = domain.IncompleteNoBatchNumber
		case batchExists:
			continue
		default:
			entry.IDDetailBarangDiterima = itemID.String
			entry.Jumlah = int(itemJumlah.Int64)
			entry.NomorBatch = itemNomor.String
			entry.Alasan = domain.IncompleteMissingBatchRow
		}
		result = append(result, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) CompleteBatch(ctx context.Context, idDetailPO string, intake domain.BatchIntake) (*domain.BatchCompleteResponse, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var idPO, idObat, status string
	var lineJumlah int
	err = tx.QueryRowContext(ctx, `
		SELECT d.id_po, d.id_obat, d.jumlah, po.status
		FROM detail_po d
		JOIN purchase_order po ON po.id = d.id_po
		WHERE d.id = $1
		FOR UPDATE OF po
	`, idDetailPO).Scan(&idPO, &idObat, &lineJumlah, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: detail purchase order %s", store.ErrNotFound, idDetailPO)
	}
	if err != nil {
		return nil, err
	}
	if status != domain.POStatusDiterima {
		return nil, fmt.Errorf("%w: purchase order %s is %s, expected %s", store.ErrInvalidStatus, idPO, status, domain.POStatusDiterima)
	}

	var receiptID string
	err = tx.QueryRowContext(ctx, `SELECT id FROM barang_diterima WHERE id_po = $1`, idPO).Scan(&receiptID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: purchase order %s has no goods receipt", store.ErrInvalidStatus, idPO)
	}
	if err != nil {
		return nil, err
	}

	var (
		itemID     string
		itemJumlah int
		itemNomor  sql.NullString
	)
	hasItem := true
	err = tx.QueryRowContext(ctx, `
		SELECT id, jumlah, nomor_batch FROM detail_barang_diterima WHERE id_detail_po = $1 FOR UPDATE
	`, idDetailPO).Scan(&itemID, &itemJumlah, &itemNomor)
	if errors.Is(err, sql.ErrNoRows) {
		hasItem = false
	} else if err != nil {
		return nil, err
	}
	if hasItem && itemNomor.Valid && itemNomor.String != "" {
		var exists bool
		if err := tx.QueryRowContext(ctx, `
			SELECT EXISTS (SELECT 1 FROM detail_obat WHERE nomor_batch = $1)
		`, itemNomor.String).Scan(&exists); err != nil {
			return nil, err
		}
		if exists {
			return nil, fmt.Errorf("%w: detail %s already has batch %s", store.ErrInvalidStatus, idDetailPO, itemNomor.String)
		}
	}

	intake.IDObat = idObat
	if intake.Jumlah < 1 {
		intake.Jumlah = lineJumlah
		if hasItem {
			intake.Jumlah = itemJumlah
		}
	}
	if intake.Referensi == "" {
		intake.Referensi = receiptID
	}

	if hasItem {
		if _, err := tx.ExecContext(ctx, `
			UPDATE detail_barang_diterima SET nomor_batch = $2 WHERE id = $1
		`, itemID, intake.NomorBatch); err != nil {
			return nil, err
		}
	} else {
		itemID = xid.New("dbd")
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO detail_barang_diterima (id, id_barang_diterima, id_detail_po, id_obat, jumlah, nomor_batch, urutan)
			VALUES ($1,$2,$3,$4,$5,$6,
				(SELECT COALESCE(MAX(urutan) + 1, 0) FROM detail_barang_diterima WHERE id_barang_diterima = $2))
		`, itemID, receiptID, idDetailPO, idObat, intake.Jumlah, intake.NomorBatch); err != nil {
			return nil, err
		}
	}

	batch, change, created, err := applyIntake(ctx, tx, intake, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &domain.BatchCompleteResponse{
		Batch:                  batch,
		BatchBaru:              created,
		IDDetailBarangDiterima: itemID,
		StockUpdate:            change,
	}, nil
}

// applyIntake adds the intake to its batch, creating the batch when the number
// is new. A batch number already used by another medicine is rejected.
func applyIntake(ctx context.Context, q queryer, intake domain.BatchIntake, now time.Time) (domain.Batch, domain.StockUpdate, bool, error) {
	var created bool
	batch, err := scanBatch(q.QueryRowContext(ctx, `
		INSERT INTO detail_obat (nomor_batch, id_obat, kadaluarsa, stok, satuan, harga_jual, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$7)
		ON CONFLICT (nomor_batch)
		DO UPDATE SET stok = detail_obat.stok + excluded.stok, updated_at = excluded.updated_at
		RETURNING `+batchColumns+`, (xmax = 0)
	`, intake.NomorBatch, intake.IDObat, nowDateUTC(intake.Kadaluarsa), intake.Jumlah, intake.Satuan, intake.HargaJual, now), &created)
	if err != nil {
		return domain.Batch{}, domain.StockUpdate{}, false, err
	}
	if batch.IDObat != intake.IDObat {
		return domain.Batch{}, domain.StockUpdate{}, false, fmt.Errorf("%w: batch %s belongs to another obat", store.ErrInvalidInput, intake.NomorBatch)
	}

	change := domain.StockUpdate{
		NomorBatch: batch.NomorBatch,
		IDObat:     batch.IDObat,
		OldStock:   batch.Stok - intake.Jumlah,
		NewStock:   batch.Stok,
		Delta:      intake.Jumlah,
	}
	if err := insertMovement(ctx, q, change, domain.MovementMasuk, intake.Referensi, now); err != nil {
		return domain.Batch{}, domain.StockUpdate{}, false, err
	}
	return batch, change, created, nil
}

func insertMovement(ctx context.Context, q queryer, change domain.StockUpdate, tipe string, referensi string, at time.Time) error {
	jumlah := change.Delta
	if jumlah < 0 {
		jumlah = -jumlah
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO riwayat_stok (id, nomor_batch, id_obat, tipe, stok_awal, stok_akhir, jumlah, referensi, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, xid.New("mv"), change.NomorBatch, change.IDObat, tipe, change.OldStock, change.NewStock, jumlah, referensi, at)
	return err
}

func (s *Store) ListStockMovements(ctx context.Context, nomorBatch string, limit int) ([]domain.StockMovement, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, nomor_batch, id_obat, tipe, stok_awal, stok_akhir, jumlah, referensi, created_at
		FROM riwayat_stok
		WHERE ($1::text = '' OR nomor_batch = $1)
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, nomorBatch, nullLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	movements := make([]domain.StockMovement, 0, 32)
	for rows.Next() {
		var m domain.StockMovement
		if err := rows.Scan(&m.ID, &m.NomorBatch, &m.IDObat, &m.Tipe, &m.StokAwal, &m.StokAkhir, &m.Jumlah, &m.Referensi, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.CreatedAt = m.CreatedAt.UTC()
		movements = append(movements, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return movements, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO log_aktivitas (id, actor_id, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.ActorID, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_id, actor_role, action, entity_type, entity_id, detail, created_at
		FROM log_aktivitas
		ORDER BY created_at DESC, id DESC
		LIMIT $1
	`, nullLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, 64)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ActorID, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	if user.Email == "" || strings.TrimSpace(user.PasswordHash) == "" {
		return store.ErrInvalidInput
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

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pengguna (id, nama, email, password_hash, role, active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, user.ID, user.Nama, user.Email, user.PasswordHash, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: email %s already registered", store.ErrConflict, user.Email)
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, nama, email, password_hash, role, active, created_at
		FROM pengguna
		ORDER BY email ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.ID, &user.Nama, &user.Email, &user.PasswordHash, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

// UpdateUser rewrites name, role and active flag. An empty PasswordHash keeps
// the stored one.
func (s *Store) UpdateUser(ctx context.Context, user domain.UserAccount) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE pengguna
		SET nama = $2, role = $3, active = $4, password_hash = COALESCE($5, password_hash)
		WHERE id = $1
	`, user.ID, user.Nama, user.Role, user.Active, nullIfEmpty(user.PasswordHash))
	if err != nil {
		return err
	}
	return expectAffected(res, fmt.Errorf("%w: pengguna %s", store.ErrNotFound, user.ID))
}

func (s *Store) UpdateUserPassword(ctx context.Context, id string, passwordHash string) error {
	if strings.TrimSpace(passwordHash) == "" {
		return store.ErrInvalidInput
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE pengguna SET password_hash = $2 WHERE id = $1
	`, id, passwordHash)
	if err != nil {
		return err
	}
	return expectAffected(res, fmt.Errorf("%w: pengguna %s", store.ErrNotFound, id))
}

func (s *Store) DeleteUser(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM pengguna WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return expectAffected(res, fmt.Errorf("%w: pengguna %s", store.ErrNotFound, id))
}

func expectAffected(res sql.Result, notFound error) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return notFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}

func nowDateUTC(t time.Time) time.Time {
	return time.Date(t.UTC().Year(), t.UTC().Month(), t.UTC().Day(), 0, 0, 0, 0, time.UTC)
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

// nullLimit turns a non-positive limit into SQL NULL, which LIMIT treats as
// "no limit".
func nullLimit(limit int) any {
	if limit <= 0 {
		return nil
	}
	return limit
}

func nullStringPtr(val sql.NullString) *string {
	if !val.Valid {
		return nil
	}
	s := val.String
	return &s
}

func nullStringValue(val *string) any {
	if val == nil {
		return nil
	}
	return *val
}

func nonNilSaleItems(items []domain.PenjualanItem) []domain.PenjualanItem {
	if items == nil {
		return []domain.PenjualanItem{}
	}
	return items
}

func nonNilPOItems(items []domain.PurchaseOrderItem) []domain.PurchaseOrderItem {
	if items == nil {
		return []domain.PurchaseOrderItem{}
	}
	return items
}
