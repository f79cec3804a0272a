package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"apotek/backend/internal/domain"
	"apotek/backend/internal/service"
	"apotek/backend/internal/store/memory"
)

const (
	testAPAEmail        = "apa@apotek.local"
	testAPAPassword     = "apa-test-pass"
	testPegawaiEmail    = "pegawai@apotek.local"
	testPegawaiPassword = "pegawai-test-pass"
)

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) (*API, *memory.Store) {
	t.Helper()
	t.Setenv("SEED_APA_PASSWORD", testAPAPassword)
	t.Setenv("SEED_PEGAWAI_PASSWORD", testPegawaiPassword)

	repo := memory.NewSeeded()
	svc := service.New(repo, service.Options{})
	auth := NewAuthManager("test-secret-key-with-enough-length", time.Hour, repo)
	return New(svc, auth, nil, "*"), repo
}

type testEnvelope struct {
	Success bool              `json:"success"`
	Data    json.RawMessage   `json:"data"`
	Error   string            `json:"error"`
	Message string            `json:"message"`
	Details map[string]string `json:"details"`
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) testEnvelope {
	t.Helper()
	var body testEnvelope
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	return body
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, dest any) {
	t.Helper()
	body := decodeEnvelope(t, rec)
	if !body.Success {
		t.Fatalf("expected success envelope, got error %q", body.Error)
	}
	if err := json.Unmarshal(body.Data, dest); err != nil {
		t.Fatalf("decode data: %v", err)
	}
}

func login(t *testing.T, api *API, email string, password string) string {
	t.Helper()
	payload, _ := json.Marshal(domain.LoginRequest{Email: email, Password: password})
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("login %s failed: %d %s", email, rec.Code, rec.Body.String())
	}
	var resp domain.LoginResponse
	decodeData(t, rec, &resp)
	return resp.AccessToken
}

func loginAsAPA(t *testing.T, api *API) string {
	return login(t, api, testAPAEmail, testAPAPassword)
}

func loginAsPegawai(t *testing.T, api *API) string {
	return login(t, api, testPegawaiEmail, testPegawaiPassword)
}

func fetchCSRFToken(t *testing.T, api *API) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/auth/csrf-token", nil)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("csrf token: %d %s", rec.Code, rec.Body.String())
	}
	var resp map[string]string
	decodeData(t, rec, &resp)
	if resp["csrf_token"] == "" {
		t.Fatalf("expected csrf_token, got %v", resp)
	}
	return resp["csrf_token"]
}

// call sends an authenticated request with a fresh CSRF token.
func call(t *testing.T, api *API, method string, path string, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if method != http.MethodGet {
		req.Header.Set("X-CSRF-Token", fetchCSRFToken(t, api))
	}
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHandleHealth(t *testing.T) {
	api, _ := newTestAPI(t)
	rec := call(t, api, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]any
	decodeData(t, rec, &body)
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestHandleLoginSuccess(t *testing.T) {
	api, _ := newTestAPI(t)
	token := loginAsAPA(t, api)

	rec := call(t, api, http.MethodGet, "/api/auth/me", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var session domain.Session
	decodeData(t, rec, &session)
	if session.UserID != "usr-apa" || session.Role != domain.RoleAPA {
		t.Fatalf("unexpected session %+v", session)
	}
}

func TestHandleLoginInvalidCredentials(t *testing.T) {
	api, _ := newTestAPI(t)
	rec := call(t, api, http.MethodPost, "/api/auth/login", "", domain.LoginRequest{
		Email:    testAPAEmail,
		Password: "wrong-password",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	if body := decodeEnvelope(t, rec); body.Success || body.Error != errInvalidCredentials.Error() {
		t.Fatalf("unexpected envelope %+v", body)
	}
}

func TestProtectedRouteRequiresToken(t *testing.T) {
	api, _ := newTestAPI(t)
	rec := call(t, api, http.MethodGet, "/api/obat", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestListObatWithValidToken(t *testing.T) {
	api, _ := newTestAPI(t)
	token := loginAsPegawai(t, api)

	rec := call(t, api, http.MethodGet, "/api/obat", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var medicines []domain.ObatSummary
	decodeData(t, rec, &medicines)
	if len(medicines) != 4 {
		t.Fatalf("expected 4 seeded medicines, got %d", len(medicines))
	}
}

func TestRoleRestrictedRoutes(t *testing.T) {
	api, _ := newTestAPI(t)
	token := loginAsPegawai(t, api)

	cases := []struct {
		method string
		path   string
		body   any
	}{
		{http.MethodGet, "/api/audit-logs", nil},
		{http.MethodGet, "/api/pengguna", nil},
		{http.MethodDelete, "/api/kelola-obat/PARA-001", nil},
		{http.MethodPost, "/api/obat", domain.ObatCreateRequest{Nama: "Cetirizine 10 mg"}},
	}
	for _, tc := range cases {
		rec := call(t, api, tc.method, tc.path, token, tc.body)
		if rec.Code != http.StatusForbidden {
			t.Fatalf("%s %s: expected 403, got %d (body: %s)", tc.method, tc.path, rec.Code, rec.Body.String())
		}
	}
}

func TestCreateSaleValidationReturnsFieldDetails(t *testing.T) {
	api, _ := newTestAPI(t)
	token := loginAsPegawai(t, api)

	rec := call(t, api, http.MethodPost, "/api/sales", token, map[string]any{"items": []any{}})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	body := decodeEnvelope(t, rec)
	if _, ok := body.Details["items"]; !ok {
		t.Fatalf("expected details for items, got %+v", body)
	}
}

func TestCreateSaleRejectsUnknownFields(t *testing.T) {
	api, _ := newTestAPI(t)
	token := loginAsPegawai(t, api)

	rec := call(t, api, http.MethodPost, "/api/sales", token, map[string]any{
		"items":    []map[string]any{{"id_obat": "obt-paracetamol", "jumlah_terjual": 1}},
		"discount": 10,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestSaleCreateAndDeleteRestoresStock(t *testing.T) {
	api, repo := newTestAPI(t)
	token := loginAsPegawai(t, api)
	nomorBatch := fmt.Sprintf("PARA-%d-001", time.Now().UTC().Year())

	rec := call(t, api, http.MethodPost, "/api/sales", token, domain.SaleCreateRequest{
		Items: []domain.SaleItemRequest{{IDObat: "obt-paracetamol", JumlahTerjual: 10, Harga: 2500, NomorBatch: nomorBatch}},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var sale domain.SaleResult
	decodeData(t, rec, &sale)
	if len(sale.StockUpdates) != 1 || sale.StockUpdates[0].NewStock != 110 {
		t.Fatalf("unexpected stock updates %+v", sale.StockUpdates)
	}
	if sale.Sale.Total != 25000 {
		t.Fatalf("expected total 25000, got %d", sale.Sale.Total)
	}

	rec = call(t, api, http.MethodGet, "/api/sales?id="+sale.Sale.ID, token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get sale: %d %s", rec.Code, rec.Body.String())
	}

	rec = call(t, api, http.MethodDelete, "/api/sales?id="+sale.Sale.ID, token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete sale: %d %s", rec.Code, rec.Body.String())
	}
	batch, err := repo.GetBatch(t.Context(), nomorBatch)
	if err != nil {
		t.Fatalf("get batch: %v", err)
	}
	if batch.Stok != 120 {
		t.Fatalf("expected stock restored to 120, got %d", batch.Stok)
	}

	rec = call(t, api, http.MethodDelete, "/api/sales?id="+sale.Sale.ID, token, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 deleting twice, got %d", rec.Code)
	}
}

func TestSaleInsufficientStockReturns400(t *testing.T) {
	api, _ := newTestAPI(t)
	token := loginAsPegawai(t, api)

	rec := call(t, api, http.MethodPost, "/api/sales", token, domain.SaleCreateRequest{
		Items: []domain.SaleItemRequest{{IDObat: "obt-ibuprofen", JumlahTerjual: 500, Harga: 4500}},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestDeleteSaleRequiresID(t *testing.T) {
	api, _ := newTestAPI(t)
	token := loginAsPegawai(t, api)

	rec := call(t, api, http.MethodDelete, "/api/sales", token, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestPurchaseOrderFlow(t *testing.T) {
	api, repo := newTestAPI(t)
	pegawai := loginAsPegawai(t, api)
	apa := loginAsAPA(t, api)

	rec := call(t, api, http.MethodPost, "/api/purchase-orders", pegawai, domain.PurchaseOrderCreateRequest{
		Items: []domain.PurchaseOrderCartItem{{IDObat: "obt-paracetamol", IDSupplier: "sup-kimia-farma", Jumlah: 30, Harga: 1800}},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create po: %d %s", rec.Code, rec.Body.String())
	}
	var created domain.PurchaseOrderCreateResponse
	decodeData(t, rec, &created)
	if len(created.PurchaseOrders) != 1 {
		t.Fatalf("expected one purchase order, got %d", len(created.PurchaseOrders))
	}
	po := created.PurchaseOrders[0]
	if po.Status != domain.POStatusDiproses || len(po.Items) != 1 {
		t.Fatalf("unexpected purchase order %+v", po)
	}

	rec = call(t, api, http.MethodPost, "/api/purchase-orders/"+po.ID+"/kirim", pegawai, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("send po: %d %s", rec.Code, rec.Body.String())
	}

	rec = call(t, api, http.MethodPost, "/api/purchase-orders/"+po.ID+"/tolak", pegawai, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected pegawai reject to be 403, got %d", rec.Code)
	}

	hargaJual := int64(2700)
	rec = call(t, api, http.MethodPost, "/api/barang-diterima", apa, domain.BarangDiterimaRequest{
		IDPO: po.ID,
		Items: []domain.BarangDiterimaItemRequest{{
			IDDetailPO: po.Items[0].ID,
			Jumlah:     30,
			NomorBatch: "PARA-TEST-777",
			Kadaluarsa: "2030-06-30",
			Satuan:     "strip",
			HargaJual:  &hargaJual,
		}},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("receive po: %d %s", rec.Code, rec.Body.String())
	}
	var received domain.ReceiptResult
	decodeData(t, rec, &received)
	if received.PurchaseOrder.Status != domain.POStatusDiterima {
		t.Fatalf("expected diterima, got %s", received.PurchaseOrder.Status)
	}

	batch, err := repo.GetBatch(t.Context(), "PARA-TEST-777")
	if err != nil {
		t.Fatalf("get batch: %v", err)
	}
	if batch.Stok != 30 || batch.HargaJual != 2700 {
		t.Fatalf("unexpected batch %+v", batch)
	}

	rec = call(t, api, http.MethodGet, "/api/incomplete-medicines/"+po.Items[0].ID, pegawai, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("line state: %d %s", rec.Code, rec.Body.String())
	}
	var state domain.PurchaseOrderLineState
	decodeData(t, rec, &state)
	if state.POStatus != domain.POStatusDiterima || !state.BatchExists {
		t.Fatalf("expected completed line, got %+v", state)
	}

	rec = call(t, api, http.MethodPost, "/api/barang-diterima", apa, domain.BarangDiterimaRequest{IDPO: po.ID})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected second receipt to fail with 400, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestPurchaseOrderDetailNotFound(t *testing.T) {
	api, _ := newTestAPI(t)
	token := loginAsPegawai(t, api)

	rec := call(t, api, http.MethodGet, "/api/purchase-orders/po-missing", token, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestGenerateBatchNumber(t *testing.T) {
	api, _ := newTestAPI(t)
	token := loginAsPegawai(t, api)

	rec := call(t, api, http.MethodPost, "/api/generate-batch-number", token, domain.GenerateBatchNumberRequest{IDObat: "obt-vitamin-c"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var resp domain.GenerateBatchNumberResponse
	decodeData(t, rec, &resp)
	if resp.BatchNumber == "" {
		t.Fatalf("expected a batch number")
	}
}

func TestExportBatchesCSV(t *testing.T) {
	api, _ := newTestAPI(t)
	token := loginAsPegawai(t, api)

	rec := call(t, api, http.MethodGet, "/api/kelola-obat/export?format=csv", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Content-Type"); !strings.HasPrefix(got, "text/csv") {
		t.Fatalf("expected csv content type, got %q", got)
	}
	if got := rec.Header().Get("Content-Disposition"); !strings.Contains(got, ".csv") {
		t.Fatalf("expected csv attachment, got %q", got)
	}
	if !strings.Contains(rec.Body.String(), "obt-paracetamol") && !strings.Contains(rec.Body.String(), "Paracetamol") {
		t.Fatalf("expected paracetamol row in export")
	}
}

func TestExportBatchesUnknownFormat(t *testing.T) {
	api, _ := newTestAPI(t)
	token := loginAsPegawai(t, api)

	rec := call(t, api, http.MethodGet, "/api/kelola-obat/export?format=pdf", token, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestStockFeedUnavailableWithoutHub(t *testing.T) {
	api, _ := newTestAPI(t)
	rec := call(t, api, http.MethodGet, "/api/ws/stock", "", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	api, _ := newTestAPI(t)
	token := loginAsPegawai(t, api)

	rec := call(t, api, http.MethodPut, "/api/obat", token, map[string]any{})
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestSupplierDetailAndOfferings(t *testing.T) {
	api, _ := newTestAPI(t)
	token := loginAsPegawai(t, api)

	rec := call(t, api, http.MethodGet, "/api/supplier/sup-enseval", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var supplier domain.Supplier
	decodeData(t, rec, &supplier)
	if supplier.ID != "sup-enseval" {
		t.Fatalf("unexpected supplier %+v", supplier)
	}

	rec = call(t, api, http.MethodGet, "/api/supplier/sup-enseval/obat", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var offerings []domain.SupplierOffering
	decodeData(t, rec, &offerings)
	if len(offerings) != 2 {
		t.Fatalf("expected 2 offerings, got %d", len(offerings))
	}

	rec = call(t, api, http.MethodGet, "/api/supplier/sup-missing", token, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
