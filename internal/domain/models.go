package domain

import "time"

const (
	RoleAPA     = "APA"
	RolePegawai = "Pegawai"
)

const (
	POStatusDiproses = "diproses"
	POStatusDikirim  = "dikirim"
	POStatusDiterima = "diterima"
	POStatusDitolak  = "ditolak"
)

const (
	MovementMasuk       = "MASUK"
	MovementKeluar      = "KELUAR"
	MovementPenyesuaian = "PENYESUAIAN"
)

// Reasons a received purchase-order line still needs batch completion.
const (
	IncompleteNoReceiptLine   = "belum_ada_detail"
	IncompleteNoBatchNumber   = "nomor_batch_kosong"
	IncompleteMissingBatchRow = "batch_tidak_ditemukan"
)

type Obat struct {
	ID        string    `json:"id"`
	Nama      string    `json:"nama"`
	Kategori  string    `json:"kategori"`
	Komposisi string    `json:"komposisi"`
	CreatedAt time.Time `json:"created_at"`
}

type ObatSummary struct {
	Obat
	TotalStok          int        `json:"total_stok"`
	JumlahBatch        int        `json:"jumlah_batch"`
	KadaluarsaTerdekat *time.Time `json:"kadaluarsa_terdekat,omitempty"`
}

type ObatDetail struct {
	Obat      Obat               `json:"obat"`
	TotalStok int                `json:"total_stok"`
	Batches   []Batch            `json:"batches"`
	Suppliers []SupplierOffering `json:"suppliers"`
}

type ObatCreateRequest struct {
	Nama      string `json:"nama" validate:"required"`
	Kategori  string `json:"kategori"`
	Komposisi string `json:"komposisi"`
}

// Batch is one detail_obat row: the unit of stock.
type Batch struct {
	NomorBatch string    `json:"nomor_batch"`
	IDObat     string    `json:"id_obat"`
	Kadaluarsa time.Time `json:"kadaluarsa"`
	Stok       int       `json:"stok"`
	Satuan     string    `json:"satuan"`
	HargaJual  int64     `json:"harga_jual"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type BatchView struct {
	Batch
	NamaObat string `json:"nama_obat"`
	Kategori string `json:"kategori"`
}

// BatchIntake is stock arriving for a batch number. When the batch exists the
// quantity is added to it; otherwise a batch is created from the other fields.
type BatchIntake struct {
	NomorBatch string
	IDObat     string
	Kadaluarsa time.Time
	Satuan     string
	HargaJual  int64
	Jumlah     int
	Referensi  string
}

type BatchUpdate struct {
	Kadaluarsa *time.Time
	Stok       *int
	Satuan     *string
	HargaJual  *int64
	Nama       *string
	Kategori   *string
	Komposisi  *string
}

type BatchUpdateRequest struct {
	Kadaluarsa *string `json:"kadaluarsa,omitempty"`
	Stok       *int    `json:"stok,omitempty" validate:"omitempty,min=0"`
	Satuan     *string `json:"satuan,omitempty"`
	HargaJual  *int64  `json:"harga_jual,omitempty" validate:"omitempty,min=0"`
	Nama       *string `json:"nama,omitempty"`
	Kategori   *string `json:"kategori,omitempty"`
	Komposisi  *string `json:"komposisi,omitempty"`
}

type BatchUpdateResponse struct {
	Batch       BatchView    `json:"batch"`
	StockUpdate *StockUpdate `json:"stock_update,omitempty"`
}

type BatchDeleteResponse struct {
	NomorBatch  string `json:"nomor_batch"`
	IDObat      string `json:"id_obat"`
	ObatDihapus bool   `json:"obat_dihapus"`
}

type Supplier struct {
	ID        string    `json:"id"`
	Nama      string    `json:"nama"`
	Alamat    string    `json:"alamat"`
	Telepon   string    `json:"telepon"`
	CreatedAt time.Time `json:"created_at"`
}

type SupplierCreateRequest struct {
	Nama    string `json:"nama" validate:"required"`
	Alamat  string `json:"alamat"`
	Telepon string `json:"telepon" validate:"omitempty,max=32"`
}

// SupplierOffering is a supplier_obat link: a medicine a supplier sells.
type SupplierOffering struct {
	IDSupplier   string `json:"id_supplier"`
	NamaSupplier string `json:"nama_supplier,omitempty"`
	IDObat       string `json:"id_obat"`
	NamaObat     string `json:"nama_obat,omitempty"`
	HargaBeli    int64  `json:"harga_beli"`
}

type SupplierOfferingRequest struct {
	IDObat    string `json:"id_obat" validate:"required"`
	HargaBeli int64  `json:"harga_beli" validate:"min=0"`
}

type PurchaseOrder struct {
	ID           string              `json:"id"`
	IDSupplier   string              `json:"id_supplier"`
	NamaSupplier string              `json:"nama_supplier,omitempty"`
	DibuatOleh   string              `json:"dibuat_oleh"`
	Total        int64               `json:"total"`
	Status       string              `json:"status"`
	CreatedAt    time.Time           `json:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at"`
	Items        []PurchaseOrderItem `json:"items"`
}

type PurchaseOrderItem struct {
	ID         string `json:"id"`
	IDPO       string `json:"id_po"`
	IDObat     string `json:"id_obat"`
	NamaObat   string `json:"nama_obat,omitempty"`
	IDSupplier string `json:"id_supplier"`
	Jumlah     int    `json:"jumlah"`
	Harga      int64  `json:"harga"`
}

type PurchaseOrderCartItem struct {
	IDObat     string `json:"id_obat" validate:"required"`
	IDSupplier string `json:"id_supplier" validate:"required"`
	Jumlah     int    `json:"jumlah" validate:"required,min=1"`
	Harga      int64  `json:"harga" validate:"min=0"`
}

type PurchaseOrderCreateRequest struct {
	Items []PurchaseOrderCartItem `json:"items" validate:"required,min=1,dive"`
}

type PurchaseOrderCreateResponse struct {
	PurchaseOrders []PurchaseOrder `json:"purchase_orders"`
}

// PurchaseOrderLineState is a PO line together with everything batch
// completion needs to decide whether it is still open.
type PurchaseOrderLineState struct {
	Line        PurchaseOrderItem   `json:"line"`
	POStatus    string              `json:"po_status"`
	ReceiptItem *BarangDiterimaItem `json:"receipt_item,omitempty"`
	BatchExists bool                `json:"batch_exists"`
}

type BarangDiterima struct {
	ID           string               `json:"id"`
	IDPO         string               `json:"id_po"`
	TibaPada     time.Time            `json:"tiba_pada"`
	DiterimaOleh string               `json:"diterima_oleh"`
	CreatedAt    time.Time            `json:"created_at"`
	Items        []BarangDiterimaItem `json:"items"`
}

type BarangDiterimaItem struct {
	ID               string       `json:"id"`
	IDBarangDiterima string       `json:"id_barang_diterima"`
	IDDetailPO       string       `json:"id_detail_po"`
	IDObat           string       `json:"id_obat"`
	Jumlah           int          `json:"jumlah"`
	NomorBatch       *string      `json:"nomor_batch"`
	Intake           *BatchIntake `json:"-"`
}

type BarangDiterimaItemRequest struct {
	IDDetailPO string `json:"id_detail_po" validate:"required"`
	Jumlah     int    `json:"jumlah" validate:"required,min=1"`
	NomorBatch string `json:"nomor_batch,omitempty"`
	Kadaluarsa string `json:"kadaluarsa,omitempty"`
	Satuan     string `json:"satuan,omitempty"`
	HargaJual  *int64 `json:"harga_jual,omitempty" validate:"omitempty,min=0"`
}

type BarangDiterimaRequest struct {
	IDPO     string                      `json:"id_po" validate:"required"`
	TibaPada string                      `json:"tiba_pada"`
	Items    []BarangDiterimaItemRequest `json:"items,omitempty" validate:"omitempty,dive"`
}

type ReceiptResult struct {
	Receipt       BarangDiterima `json:"barang_diterima"`
	PurchaseOrder PurchaseOrder  `json:"purchase_order"`
	StockUpdates  []StockUpdate  `json:"stock_updates"`
}

type IncompleteMedicine struct {
	IDPO                   string    `json:"id_po"`
	IDDetailPO             string    `json:"id_detail_po"`
	IDDetailBarangDiterima string    `json:"id_detail_barang_diterima,omitempty"`
	IDObat                 string    `json:"id_obat"`
	NamaObat               string    `json:"nama_obat"`
	IDSupplier             string    `json:"id_supplier"`
	NamaSupplier           string    `json:"nama_supplier"`
	Jumlah                 int       `json:"jumlah"`
	NomorBatch             string    `json:"nomor_batch,omitempty"`
	TibaPada               time.Time `json:"tiba_pada"`
	Alasan                 string    `json:"alasan"`
}

type BatchCompleteRequest struct {
	IDDetailPO string `json:"id_detail_po" validate:"required"`
	NomorBatch string `json:"nomor_batch" validate:"required"`
	Kadaluarsa string `json:"kadaluarsa" validate:"required"`
	Satuan     string `json:"satuan" validate:"required"`
	HargaJual  int64  `json:"harga_jual" validate:"min=0"`
	Jumlah     *int   `json:"jumlah,omitempty" validate:"omitempty,min=1"`
}

type BatchCompleteResponse struct {
	Batch                  Batch       `json:"batch"`
	BatchBaru              bool        `json:"batch_baru"`
	IDDetailBarangDiterima string      `json:"id_detail_barang_diterima"`
	StockUpdate            StockUpdate `json:"stock_update"`
}

type GenerateBatchNumberRequest struct {
	IDObat string `json:"id_obat" validate:"required"`
}

type GenerateBatchNumberResponse struct {
	BatchNumber string `json:"batch_number"`
}

type Penjualan struct {
	ID           string    `json:"id"`
	DiprosesOleh string    `json:"diproses_oleh"`
	Total        int64     `json:"total"`
	CreatedAt    time.Time `json:"created_at"`
}

type PenjualanItem struct {
	ID            string `json:"id"`
	IDPenjualan   string `json:"id_penjualan"`
	IDObat        string `json:"id_obat"`
	NomorBatch    string `json:"nomor_batch"`
	JumlahTerjual int    `json:"jumlah_terjual"`
	Harga         int64  `json:"harga"`
}

type SaleItemRequest struct {
	IDObat        string `json:"id_obat" validate:"required"`
	JumlahTerjual int    `json:"jumlah_terjual" validate:"required,min=1"`
	Harga         int64  `json:"harga" validate:"min=0"`
	NomorBatch    string `json:"nomor_batch"`
}

type SaleCreateRequest struct {
	DiprosesOleh string            `json:"diproses_oleh"`
	Items        []SaleItemRequest `json:"items" validate:"required,min=1,dive"`
}

type SaleDetail struct {
	Sale  Penjualan       `json:"sale"`
	Items []PenjualanItem `json:"items"`
}

type SaleResult struct {
	Sale         Penjualan       `json:"sale"`
	Items        []PenjualanItem `json:"items"`
	StockUpdates []StockUpdate   `json:"stock_updates"`
}

type SaleDeleteResponse struct {
	ID           string        `json:"id"`
	StockUpdates []StockUpdate `json:"stock_updates"`
	Skipped      []string      `json:"skipped,omitempty"`
}

type StockUpdate struct {
	NomorBatch string `json:"nomor_batch"`
	IDObat     string `json:"id_obat"`
	OldStock   int    `json:"old_stock"`
	NewStock   int    `json:"new_stock"`
	Delta      int    `json:"delta"`
}

type StockMovement struct {
	ID         string    `json:"id"`
	NomorBatch string    `json:"nomor_batch"`
	IDObat     string    `json:"id_obat"`
	Tipe       string    `json:"tipe"`
	StokAwal   int       `json:"stok_awal"`
	StokAkhir  int       `json:"stok_akhir"`
	Jumlah     int       `json:"jumlah"`
	Referensi  string    `json:"referensi"`
	CreatedAt  time.Time `json:"created_at"`
}

type StockAlert struct {
	Severity    string     `json:"severity"`
	Kind        string     `json:"kind"`
	IDObat      string     `json:"id_obat"`
	NamaObat    string     `json:"nama_obat"`
	NomorBatch  string     `json:"nomor_batch,omitempty"`
	Stok        int        `json:"stok"`
	Kadaluarsa  *time.Time `json:"kadaluarsa,omitempty"`
	HariTersisa *int       `json:"hari_tersisa,omitempty"`
	Message     string     `json:"message"`
}

type StockAlertResponse struct {
	GeneratedAt time.Time    `json:"generated_at"`
	Critical    int          `json:"critical"`
	Warning     int          `json:"warning"`
	Info        int          `json:"info"`
	Alerts      []StockAlert `json:"alerts"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	AccessToken string   `json:"access_token"`
	ExpiresAt   string   `json:"expires_at"`
	User        Pengguna `json:"user"`
}

// Session is the authenticated caller, carried explicitly in the request context.
type Session struct {
	UserID string `json:"user_id"`
	Nama   string `json:"nama"`
	Email  string `json:"email"`
	Role   string `json:"role"`
}

type Pengguna struct {
	ID        string    `json:"id"`
	Nama      string    `json:"nama"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Pengguna
	PasswordHash string
}

type PenggunaCreateRequest struct {
	Nama     string `json:"nama" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
	Role     string `json:"role" validate:"required,oneof=APA Pegawai"`
}

type PenggunaUpdateRequest struct {
	Nama     *string `json:"nama,omitempty"`
	Role     *string `json:"role,omitempty" validate:"omitempty,oneof=APA Pegawai"`
	Active   *bool   `json:"active,omitempty"`
	Password *string `json:"password,omitempty" validate:"omitempty,min=6"`
}

type AuditLog struct {
	ID         string    `json:"id"`
	ActorID    string    `json:"actor_id"`
	ActorRole  string    `json:"actor_role"`
	Action     string    `json:"action"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	Detail     string    `json:"detail"`
	CreatedAt  time.Time `json:"created_at"`
}
