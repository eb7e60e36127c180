// internal/adapters/in/http/handlers/distribution_handler.go
package handlers

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"savinggrace/internal/application/usecase"
	"savinggrace/internal/domain/common"
	distdom "savinggrace/internal/domain/distribution"
)

type DistributionHandler struct {
	UC *usecase.DistributionUsecase
}

func NewDistributionHandler(uc *usecase.DistributionUsecase) *DistributionHandler {
	return &DistributionHandler{UC: uc}
}

func (h *DistributionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimSuffix(r.URL.Path, "/")

	log.Printf("[distribution_handler] IN %s %s query=%q", r.Method, path, r.URL.RawQuery)

	if path == "/distributions" {
		switch r.Method {
		case http.MethodGet:
			h.List(w, r)
			return
		case http.MethodPost:
			h.Plan(w, r)
			return
		default:
			log.Printf("[distribution_handler] METHOD_NOT_ALLOWED %s %s", r.Method, path)
			methodNotAllowed(w)
			return
		}
	}

	if strings.HasPrefix(path, "/distributions/") {
		id, rest := splitResourcePath(path, "/distributions/")
		if id == "" {
			writeError(w, http.StatusBadRequest, "invalid distribution id")
			return
		}

		switch rest {
		case "complete":
			if r.Method != http.MethodPost {
				log.Printf("[distribution_handler] METHOD_NOT_ALLOWED %s %s", r.Method, path)
				methodNotAllowed(w)
				return
			}
			h.Complete(w, r, id)
			return
		case "cancel":
			if r.Method != http.MethodPost {
				log.Printf("[distribution_handler] METHOD_NOT_ALLOWED %s %s", r.Method, path)
				methodNotAllowed(w)
				return
			}
			h.Cancel(w, r, id)
			return
		case "":
			// fallthrough to CRUD below
		default:
			log.Printf("[distribution_handler] NOT_FOUND %s %s", r.Method, path)
			writeError(w, http.StatusNotFound, "route not found")
			return
		}

		switch r.Method {
		case http.MethodGet:
			h.GetByID(w, r, id)
			return
		case http.MethodPut:
			h.Reschedule(w, r, id)
			return
		default:
			log.Printf("[distribution_handler] METHOD_NOT_ALLOWED %s %s", r.Method, path)
			methodNotAllowed(w)
			return
		}
	}

	log.Printf("[distribution_handler] NOT_FOUND %s %s", r.Method, path)
	writeError(w, http.StatusNotFound, "route not found")
}

// ============================================================
// DTOs (request)
// ============================================================

type distributionLineRequest struct {
	LotID    string `json:"lotId"`
	Quantity int64  `json:"quantity"`
}

type planDistributionRequest struct {
	RecipientID   string                    `json:"recipientId"`
	ScheduledDate string                    `json:"scheduledDate"`
	Lines         []distributionLineRequest `json:"lines"`
	Notes         string                    `json:"notes"`
}

type rescheduleDistributionRequest struct {
	ScheduledDate *string `json:"scheduledDate"`
	Notes         *string `json:"notes"`
}

type completeDistributionRequest struct {
	CompletionNotes string `json:"completionNotes"`
}

// ============================================================
// Handlers
// ============================================================

func (h *DistributionHandler) List(w http.ResponseWriter, r *http.Request) {
	if h.UC == nil {
		writeError(w, http.StatusNotImplemented, "distribution usecase is not configured")
		return
	}
	ctx := r.Context()

	filter := distdom.Filter{
		RecipientID: strings.TrimSpace(r.URL.Query().Get("recipientId")),
		Status:      distdom.Status(strings.TrimSpace(r.URL.Query().Get("status"))),
		Scheduled: common.TimeRange{
			From: parseRFC3339Ptr(r.URL.Query().Get("from")),
			To:   parseRFC3339Ptr(r.URL.Query().Get("to")),
		},
		CreatedBy: strings.TrimSpace(r.URL.Query().Get("createdBy")),
	}

	res, err := h.UC.List(ctx, filter, parseSort(r), parsePage(r))
	if err != nil {
		log.Printf("[distribution_handler][List] failed err=%v", err)
		writeDomainError(w, err)
		return
	}

	log.Printf("[distribution_handler][List] ok count=%d total=%d", len(res.Items), res.TotalCount)
	writeData(w, http.StatusOK, toListPayload(res, toDistributionDTO))
}

// Plan は配布計画の作成です。全行の予約が原子的に取れたときだけ 201 が返り、
// 1 行でも在庫が足りなければ 409 INSUFFICIENT_INVENTORY（在庫は無傷）になります。
func (h *DistributionHandler) Plan(w http.ResponseWriter, r *http.Request) {
	if h.UC == nil {
		writeError(w, http.StatusNotImplemented, "distribution usecase is not configured")
		return
	}
	ctx := r.Context()

	var req planDistributionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	scheduled, ok := parseDate(req.ScheduledDate)
	if !ok {
		writeError(w, http.StatusBadRequest, "scheduledDate must be RFC3339 or YYYY-MM-DD")
		return
	}

	lines := make([]usecase.DistributionLineInput, 0, len(req.Lines))
	for _, ln := range req.Lines {
		lines = append(lines, usecase.DistributionLineInput{LotID: ln.LotID, Quantity: ln.Quantity})
	}

	d, err := h.UC.Plan(ctx, usecase.PlanDistributionInput{
		RecipientID:   req.RecipientID,
		ScheduledDate: scheduled,
		Lines:         lines,
		Notes:         req.Notes,
	})
	if err != nil {
		log.Printf("[distribution_handler][Plan] failed err=%v", err)
		writeDomainError(w, err)
		return
	}

	log.Printf("[distribution_handler][Plan] ok id=%s lines=%d qty=%d", d.ID, len(d.Lines), d.TotalQuantity())
	writeData(w, http.StatusCreated, toDistributionDTO(d))
}

func (h *DistributionHandler) GetByID(w http.ResponseWriter, r *http.Request, id string) {
	if h.UC == nil {
		writeError(w, http.StatusNotImplemented, "distribution usecase is not configured")
		return
	}

	d, err := h.UC.GetByID(r.Context(), id)
	if err != nil {
		log.Printf("[distribution_handler][GetByID] failed id=%q err=%v", id, err)
		writeDomainError(w, err)
		return
	}
	writeData(w, http.StatusOK, toDistributionDTO(d))
}

// Reschedule は planned の間だけ予定日とメモを変えられます。
// 行（ロットと数量）の変更は不可。作り直してください。
func (h *DistributionHandler) Reschedule(w http.ResponseWriter, r *http.Request, id string) {
	if h.UC == nil {
		writeError(w, http.StatusNotImplemented, "distribution usecase is not configured")
		return
	}
	ctx := r.Context()

	var req rescheduleDistributionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	var date *time.Time
	if req.ScheduledDate != nil {
		t, ok := parseDate(*req.ScheduledDate)
		if !ok {
			writeError(w, http.StatusBadRequest, "scheduledDate must be RFC3339 or YYYY-MM-DD")
			return
		}
		date = &t
	}

	d, err := h.UC.Reschedule(ctx, id, date, req.Notes)
	if err != nil {
		log.Printf("[distribution_handler][Reschedule] failed id=%q err=%v", id, err)
		writeDomainError(w, err)
		return
	}

	log.Printf("[distribution_handler][Reschedule] ok id=%s", d.ID)
	writeData(w, http.StatusOK, toDistributionDTO(d))
}

// Complete は予約の確定（Reserved→Distributed）です。
// すでに終端の配布には台帳に触れず、現状を 200 で返します
// （再送と、取消と交錯した場合の両方をカバー）。
func (h *DistributionHandler) Complete(w http.ResponseWriter, r *http.Request, id string) {
	if h.UC == nil {
		writeError(w, http.StatusNotImplemented, "distribution usecase is not configured")
		return
	}
	ctx := r.Context()

	// ボディは任意（{"completionNotes": "..."} または空）
	var req completeDistributionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	d, err := h.UC.Complete(ctx, id, req.CompletionNotes)
	if err != nil {
		log.Printf("[distribution_handler][Complete] failed id=%q err=%v", id, err)
		writeDomainError(w, err)
		return
	}

	log.Printf("[distribution_handler][Complete] ok id=%s status=%s", d.ID, d.Status)
	writeData(w, http.StatusOK, toDistributionDTO(d))
}

// Cancel は予約の解放（Reserved→Available に戻す）です。
// すでに終端の配布には台帳に触れず、現状を 200 で返します。
func (h *DistributionHandler) Cancel(w http.ResponseWriter, r *http.Request, id string) {
	if h.UC == nil {
		writeError(w, http.StatusNotImplemented, "distribution usecase is not configured")
		return
	}

	d, err := h.UC.Cancel(r.Context(), id)
	if err != nil {
		log.Printf("[distribution_handler][Cancel] failed id=%q err=%v", id, err)
		writeDomainError(w, err)
		return
	}

	log.Printf("[distribution_handler][Cancel] ok id=%s status=%s", d.ID, d.Status)
	writeData(w, http.StatusOK, toDistributionDTO(d))
}
