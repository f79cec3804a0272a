package httpapi

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"apotek/backend/internal/domain"
	"apotek/backend/internal/service"
)

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := a.decodeRequest(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	writeJSONMessage(w, http.StatusOK, resp, "login berhasil")
}

// handleCSRFToken returns a stateless token valid for the current hour bucket.
func (a *API) handleCSRFToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"csrf_token": a.generateCSRFToken(),
	})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	session, _ := service.SessionFromContext(r.Context())
	writeJSON(w, http.StatusOK, session)
}

// handleStockFeed upgrades to a websocket. Browsers cannot set headers on the
// upgrade request, so the token may also come as ?token=.
func (a *API) handleStockFeed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	if a.hub == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("stock feed disabled"))
		return
	}
	token, ok := bearerToken(r)
	if !ok {
		token = strings.TrimSpace(r.URL.Query().Get("token"))
	}
	if token == "" {
		writeError(w, http.StatusUnauthorized, errors.New("missing token"))
		return
	}
	if _, err := a.auth.ParseToken(token); err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	a.hub.ServeWS(w, r)
}

func (a *API) handleUsers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		users, err := a.auth.ListUsers(r.Context())
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, users)
	case http.MethodPost:
		var req domain.PenggunaCreateRequest
		if err := a.decodeRequest(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		user, err := a.auth.CreateUser(r.Context(), req)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSONMessage(w, http.StatusCreated, user, "pengguna ditambahkan")
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleUserActions(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	switch r.Method {
	case http.MethodPut:
		var req domain.PenggunaUpdateRequest
		if err := a.decodeRequest(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		user, err := a.auth.UpdateUser(r.Context(), id, req)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSONMessage(w, http.StatusOK, user, "pengguna diperbarui")
	case http.MethodDelete:
		session, _ := service.SessionFromContext(r.Context())
		if err := a.auth.DeleteUser(r.Context(), id, session.UserID); err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSONMessage(w, http.StatusOK, map[string]any{"id": id}, "pengguna dihapus")
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleObat(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		medicines, err := a.service.ListObat(r.Context())
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, medicines)
	case http.MethodPost:
		var req domain.ObatCreateRequest
		if err := a.decodeRequest(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		obat, err := a.service.CreateObat(r.Context(), req)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, obat)
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleObatDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	detail, err := a.service.GetObat(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (a *API) handleSuppliers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		suppliers, err := a.service.ListSuppliers(r.Context())
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, suppliers)
	case http.MethodPost:
		var req domain.SupplierCreateRequest
		if err := a.decodeRequest(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		supplier, err := a.service.CreateSupplier(r.Context(), req)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, supplier)
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleSupplierDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	supplier, err := a.service.GetSupplier(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, supplier)
}

func (a *API) handleSupplierOfferings(w http.ResponseWriter, r *http.Request) {
	idSupplier := r.PathValue("id")
	switch r.Method {
	case http.MethodGet:
		offerings, err := a.service.ListOfferings(r.Context(), idSupplier)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, offerings)
	case http.MethodPost:
		var req domain.SupplierOfferingRequest
		if err := a.decodeRequest(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		offering, err := a.service.UpsertOffering(r.Context(), idSupplier, req)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, offering)
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleBatches(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	batches, err := a.service.ListBatches(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, batches)
}

func (a *API) handleBatchExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	format := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("format")))
	if format == "" {
		format = service.ExportXLSX
	}
	contentType := "text/csv; charset=utf-8"
	if format == service.ExportXLSX {
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}

	// Render fully before writing headers so a failure still gets a JSON error.
	var buf bytes.Buffer
	if err := a.service.ExportBatches(r.Context(), format, &buf); err != nil {
		writeServiceError(w, r, err)
		return
	}

	filename := fmt.Sprintf("stok-obat-%s.%s", time.Now().UTC().Format("20060102"), format)
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (a *API) handleBatchActions(w http.ResponseWriter, r *http.Request) {
	nomorBatch := r.PathValue("noBatch")
	switch r.Method {
	case http.MethodPut:
		var req domain.BatchUpdateRequest
		if err := a.decodeRequest(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		resp, err := a.service.UpdateBatch(r.Context(), nomorBatch, req)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSONMessage(w, http.StatusOK, resp, "batch diperbarui")
	case http.MethodDelete:
		resp, err := a.service.DeleteBatch(r.Context(), nomorBatch)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		message := "batch dihapus"
		if resp.ObatDihapus {
			message = "batch terakhir dihapus, data obat ikut dihapus"
		}
		writeJSONMessage(w, http.StatusOK, resp, message)
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleSales(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if id := strings.TrimSpace(r.URL.Query().Get("id")); id != "" {
			sale, err := a.service.GetSale(r.Context(), id)
			if err != nil {
				writeServiceError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, sale)
			return
		}
		limit := parsePositiveLimit(r.URL.Query().Get("limit"), 50, 500)
		sales, err := a.service.ListSales(r.Context(), limit)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, sales)
	case http.MethodPost:
		var req domain.SaleCreateRequest
		if err := a.decodeRequest(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		result, err := a.service.CreateSale(r.Context(), req)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSONMessage(w, http.StatusOK, result, "penjualan tersimpan")
	case http.MethodDelete:
		id := strings.TrimSpace(r.URL.Query().Get("id"))
		if id == "" {
			writeError(w, http.StatusBadRequest, errors.New("id penjualan wajib diisi"))
			return
		}
		resp, err := a.service.DeleteSale(r.Context(), id)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSONMessage(w, http.StatusOK, resp, "penjualan dihapus, stok dikembalikan")
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handlePurchaseOrders(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		status := strings.TrimSpace(r.URL.Query().Get("status"))
		limit := parsePositiveLimit(r.URL.Query().Get("limit"), 50, 500)
		orders, err := a.service.ListPurchaseOrders(r.Context(), status, limit)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, orders)
	case http.MethodPost:
		var req domain.PurchaseOrderCreateRequest
		if err := a.decodeRequest(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		resp, err := a.service.CreatePurchaseOrders(r.Context(), req)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSONMessage(w, http.StatusCreated, resp, fmt.Sprintf("%d purchase order dibuat", len(resp.PurchaseOrders)))
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handlePurchaseOrderDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	po, err := a.service.GetPurchaseOrder(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, po)
}

func (a *API) handleSendPurchaseOrder(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	po, err := a.service.SendPurchaseOrder(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSONMessage(w, http.StatusOK, po, "purchase order dikirim")
}

func (a *API) handleRejectPurchaseOrder(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	po, err := a.service.RejectPurchaseOrder(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSONMessage(w, http.StatusOK, po, "purchase order ditolak")
}

func (a *API) handleReceipts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		limit := parsePositiveLimit(r.URL.Query().Get("limit"), 50, 500)
		receipts, err := a.service.ListReceipts(r.Context(), limit)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, receipts)
	case http.MethodPost:
		var req domain.BarangDiterimaRequest
		if err := a.decodeRequest(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		result, err := a.service.ReceivePurchaseOrder(r.Context(), req)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSONMessage(w, http.StatusCreated, result, "barang diterima")
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleIncompleteMedicines(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	items, err := a.service.ListIncompleteMedicines(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (a *API) handlePurchaseOrderLine(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	state, err := a.service.GetPurchaseOrderLine(r.Context(), r.PathValue("idDetailPO"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (a *API) handleCompleteBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	var req domain.BatchCompleteRequest
	if err := a.decodeRequest(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := a.service.CompleteBatch(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	message := "stok batch ditambahkan"
	if resp.BatchBaru {
		message = "batch baru dibuat"
	}
	writeJSONMessage(w, http.StatusOK, resp, message)
}

func (a *API) handleGenerateBatchNumber(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	var req domain.GenerateBatchNumberRequest
	if err := a.decodeRequest(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := a.service.GenerateBatchNumber(r.Context(), req.IDObat)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleStockAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	resp, err := a.service.StockAlerts(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleStockMovements(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	nomorBatch := strings.TrimSpace(r.URL.Query().Get("nomor_batch"))
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 100, 1000)
	movements, err := a.service.ListStockMovements(r.Context(), nomorBatch, limit)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, movements)
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 100, 1000)
	logs, err := a.service.ListAuditLogs(r.Context(), limit)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, logs)
}
