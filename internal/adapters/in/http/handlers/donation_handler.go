// internal/adapters/in/http/handlers/donation_handler.go
package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"savinggrace/internal/application/query"
	"savinggrace/internal/application/usecase"
	"savinggrace/internal/domain/common"
	donationdom "savinggrace/internal/domain/donation"
	lotdom "savinggrace/internal/domain/lot"
)

type DonationHandler struct {
	UC *usecase.DonationUsecase

	// Reports は /donations/expiring（期限間近ロット一覧）用
	Reports *query.ReportQuery
}

func NewDonationHandler(uc *usecase.DonationUsecase, reports *query.ReportQuery) *DonationHandler {
	return &DonationHandler{UC: uc, Reports: reports}
}

func (h *DonationHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimSuffix(r.URL.Path, "/")

	log.Printf("[donation_handler] IN %s %s query=%q", r.Method, path, r.URL.RawQuery)

	// /donations/{id} より先に判定する（"expiring" は id ではない）
	if path == "/donations/expiring" {
		if r.Method != http.MethodGet {
			log.Printf("[donation_handler] METHOD_NOT_ALLOWED %s %s", r.Method, path)
			methodNotAllowed(w)
			return
		}
		h.Expiring(w, r)
		return
	}

	if path == "/donations" {
		switch r.Method {
		case http.MethodGet:
			h.List(w, r)
			return
		case http.MethodPost:
			h.Record(w, r)
			return
		default:
			log.Printf("[donation_handler] METHOD_NOT_ALLOWED %s %s", r.Method, path)
			methodNotAllowed(w)
			return
		}
	}

	if strings.HasPrefix(path, "/donations/") {
		id, rest := splitResourcePath(path, "/donations/")
		if id == "" {
			writeError(w, http.StatusBadRequest, "invalid donation id")
			return
		}

		if rest == "receipt" {
			switch r.Method {
			case http.MethodPost:
				h.IssueReceiptUploadURL(w, r, id)
				return
			case http.MethodGet:
				h.ReceiptDownloadURL(w, r, id)
				return
			default:
				log.Printf("[donation_handler] METHOD_NOT_ALLOWED %s %s", r.Method, path)
				methodNotAllowed(w)
				return
			}
		}
		if rest != "" {
			log.Printf("[donation_handler] NOT_FOUND %s %s", r.Method, path)
			writeError(w, http.StatusNotFound, "route not found")
			return
		}

		switch r.Method {
		case http.MethodGet:
			h.GetByID(w, r, id)
			return
		case http.MethodPut:
			h.UpdateNotes(w, r, id)
			return
		case http.MethodDelete:
			h.Delete(w, r, id)
			return
		default:
			log.Printf("[donation_handler] METHOD_NOT_ALLOWED %s %s", r.Method, path)
			methodNotAllowed(w)
			return
		}
	}

	log.Printf("[donation_handler] NOT_FOUND %s %s", r.Method, path)
	writeError(w, http.StatusNotFound, "route not found")
}

// ============================================================
// DTOs (request)
// ============================================================

type donationItemRequest struct {
	Name            string `json:"name"`
	Category        string `json:"category"`
	Quantity        int64  `json:"quantity"`
	Unit            string `json:"unit"`
	ExpirationDate  string `json:"expirationDate"`
	StorageLocation string `json:"storageLocation"`
}

type recordDonationRequest struct {
	DonorID      string                `json:"donorId"`
	DonationDate string                `json:"donationDate"`
	Items        []donationItemRequest `json:"items"`
	Notes        string                `json:"notes"`
}

type updateDonationRequest struct {
	Notes *string `json:"notes"`
}

type receiptUploadRequest struct {
	FileName    string `json:"fileName"`
	ContentType string `json:"contentType"`
}

// ============================================================
// Handlers
// ============================================================

func (h *DonationHandler) List(w http.ResponseWriter, r *http.Request) {
	if h.UC == nil {
		writeError(w, http.StatusNotImplemented, "donation usecase is not configured")
		return
	}
	ctx := r.Context()

	filter := donationdom.Filter{
		DonorID: strings.TrimSpace(r.URL.Query().Get("donorId")),
		Donated: common.TimeRange{
			From: parseRFC3339Ptr(r.URL.Query().Get("from")),
			To:   parseRFC3339Ptr(r.URL.Query().Get("to")),
		},
	}

	res, err := h.UC.List(ctx, filter, parseSort(r), parsePage(r))
	if err != nil {
		log.Printf("[donation_handler][List] failed err=%v", err)
		writeDomainError(w, err)
		return
	}

	log.Printf("[donation_handler][List] ok count=%d total=%d", len(res.Items), res.TotalCount)
	writeData(w, http.StatusOK, toListPayload(res, toDonationDTO))
}

// Record は寄付受付。品目 1 行につき在庫ロットが 1 件作られます。
func (h *DonationHandler) Record(w http.ResponseWriter, r *http.Request) {
	if h.UC == nil {
		writeError(w, http.StatusNotImplemented, "donation usecase is not configured")
		return
	}
	ctx := r.Context()

	var req recordDonationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	donationDate, ok := parseDate(req.DonationDate)
	if !ok {
		writeError(w, http.StatusBadRequest, "donationDate must be RFC3339 or YYYY-MM-DD")
		return
	}

	items := make([]usecase.DonationItemInput, 0, len(req.Items))
	for _, it := range req.Items {
		var exp *time.Time
		if strings.TrimSpace(it.ExpirationDate) != "" {
			t, ok := parseDate(it.ExpirationDate)
			if !ok {
				writeError(w, http.StatusBadRequest, "item expirationDate must be RFC3339 or YYYY-MM-DD")
				return
			}
			exp = &t
		}
		items = append(items, usecase.DonationItemInput{
			Name:            it.Name,
			Category:        it.Category,
			Quantity:        it.Quantity,
			Unit:            it.Unit,
			ExpirationDate:  exp,
			StorageLocation: it.StorageLocation,
		})
	}

	res, err := h.UC.Record(ctx, usecase.RecordDonationInput{
		DonorID:      req.DonorID,
		DonationDate: donationDate,
		Items:        items,
		Notes:        req.Notes,
	})
	if err != nil {
		log.Printf("[donation_handler][Record] failed err=%v", err)
		writeDomainError(w, err)
		return
	}

	log.Printf("[donation_handler][Record] ok id=%s lots=%d", res.Donation.ID, len(res.Lots))
	writeData(w, http.StatusCreated, toRecordDonationResultDTO(res))
}

func (h *DonationHandler) GetByID(w http.ResponseWriter, r *http.Request, id string) {
	if h.UC == nil {
		writeError(w, http.StatusNotImplemented, "donation usecase is not configured")
		return
	}

	d, err := h.UC.GetByID(r.Context(), id)
	if err != nil {
		log.Printf("[donation_handler][GetByID] failed id=%q err=%v", id, err)
		writeDomainError(w, err)
		return
	}
	writeData(w, http.StatusOK, toDonationDTO(d))
}

// UpdateNotes が唯一の更新口です。品目や数量は受付後は変更できません
// （在庫の増減はロット側の台帳操作で行う）。
func (h *DonationHandler) UpdateNotes(w http.ResponseWriter, r *http.Request, id string) {
	if h.UC == nil {
		writeError(w, http.StatusNotImplemented, "donation usecase is not configured")
		return
	}
	ctx := r.Context()

	var req updateDonationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if req.Notes == nil {
		writeError(w, http.StatusBadRequest, "notes is required")
		return
	}

	d, err := h.UC.UpdateNotes(ctx, id, *req.Notes)
	if err != nil {
		log.Printf("[donation_handler][UpdateNotes] failed id=%q err=%v", id, err)
		writeDomainError(w, err)
		return
	}

	log.Printf("[donation_handler][UpdateNotes] ok id=%s", d.ID)
	writeData(w, http.StatusOK, toDonationDTO(d))
}

// Delete は受付記録の取り消しです。ロットに予約・配布・除却の動きが
// 出た後は 409 になります（ロット側は write-off され、履歴は残る）。
func (h *DonationHandler) Delete(w http.ResponseWriter, r *http.Request, id string) {
	if h.UC == nil {
		writeError(w, http.StatusNotImplemented, "donation usecase is not configured")
		return
	}

	if err := h.UC.Delete(r.Context(), id); err != nil {
		log.Printf("[donation_handler][Delete] failed id=%q err=%v", id, err)
		writeDomainError(w, err)
		return
	}

	log.Printf("[donation_handler][Delete] ok id=%s", id)
	writeData(w, http.StatusOK, map[string]any{"id": id, "deleted": true})
}

func (h *DonationHandler) IssueReceiptUploadURL(w http.ResponseWriter, r *http.Request, id string) {
	if h.UC == nil {
		writeError(w, http.StatusNotImplemented, "donation usecase is not configured")
		return
	}
	ctx := r.Context()

	var req receiptUploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if strings.TrimSpace(req.ContentType) == "" {
		writeError(w, http.StatusBadRequest, "contentType is required")
		return
	}

	uploadURL, objectPath, err := h.UC.IssueReceiptUploadURL(ctx, id, req.FileName, req.ContentType)
	if err != nil {
		log.Printf("[donation_handler][Receipt] issue failed id=%q err=%v", id, err)
		writeDomainError(w, err)
		return
	}

	log.Printf("[donation_handler][Receipt] ok id=%s path=%s", id, objectPath)
	writeData(w, http.StatusOK, map[string]any{
		"uploadUrl":  uploadURL,
		"objectPath": objectPath,
	})
}

func (h *DonationHandler) ReceiptDownloadURL(w http.ResponseWriter, r *http.Request, id string) {
	if h.UC == nil {
		writeError(w, http.StatusNotImplemented, "donation usecase is not configured")
		return
	}

	url, err := h.UC.ReceiptDownloadURL(r.Context(), id)
	if err != nil {
		log.Printf("[donation_handler][Receipt] download failed id=%q err=%v", id, err)
		writeDomainError(w, err)
		return
	}

	writeData(w, http.StatusOK, map[string]any{"downloadUrl": url})
}

// Expiring は指定日数以内に期限を迎えるロット（Available > 0）を返します。
func (h *DonationHandler) Expiring(w http.ResponseWriter, r *http.Request) {
	if h.Reports == nil {
		writeError(w, http.StatusNotImplemented, "report query is not configured")
		return
	}

	days := parseIntDefault(r.URL.Query().Get("days"), lotdom.ExpiringSoonDays)

	rep, err := h.Reports.Expiring(r.Context(), days)
	if err != nil {
		log.Printf("[donation_handler][Expiring] failed days=%d err=%v", days, err)
		writeDomainError(w, err)
		return
	}

	log.Printf("[donation_handler][Expiring] ok days=%d lots=%d atRisk=%d", rep.WithinDays, len(rep.Lots), rep.TotalAtRisk)
	writeData(w, http.StatusOK, toExpiringReportDTO(rep))
}
