// internal/adapters/in/http/handlers/inventory_handler.go
package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"savinggrace/internal/application/usecase"
	"savinggrace/internal/domain/common"
	lotdom "savinggrace/internal/domain/lot"
)

type InventoryHandler struct {
	UC *usecase.InventoryUsecase
}

func NewInventoryHandler(uc *usecase.InventoryUsecase) *InventoryHandler {
	return &InventoryHandler{UC: uc}
}

func (h *InventoryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimSuffix(r.URL.Path, "/")

	log.Printf("[inventory_handler] IN %s %s query=%q", r.Method, path, r.URL.RawQuery)

	// 固定パスを {category} より先に判定する
	switch path {
	case "/inventory/alerts/dispatch":
		if r.Method != http.MethodPost {
			log.Printf("[inventory_handler] METHOD_NOT_ALLOWED %s %s", r.Method, path)
			methodNotAllowed(w)
			return
		}
		h.DispatchAlerts(w, r)
		return

	case "/inventory/alerts":
		if r.Method != http.MethodGet {
			log.Printf("[inventory_handler] METHOD_NOT_ALLOWED %s %s", r.Method, path)
			methodNotAllowed(w)
			return
		}
		h.Alerts(w, r)
		return

	case "/inventory/adjust":
		if r.Method != http.MethodPost {
			log.Printf("[inventory_handler] METHOD_NOT_ALLOWED %s %s", r.Method, path)
			methodNotAllowed(w)
			return
		}
		h.Adjust(w, r)
		return

	case "/inventory":
		if r.Method != http.MethodGet {
			log.Printf("[inventory_handler] METHOD_NOT_ALLOWED %s %s", r.Method, path)
			methodNotAllowed(w)
			return
		}
		h.List(w, r)
		return
	}

	// GET /inventory/{category}
	if strings.HasPrefix(path, "/inventory/") {
		if r.Method != http.MethodGet {
			log.Printf("[inventory_handler] METHOD_NOT_ALLOWED %s %s", r.Method, path)
			methodNotAllowed(w)
			return
		}
		category, rest := splitResourcePath(path, "/inventory/")
		if rest != "" {
			log.Printf("[inventory_handler] NOT_FOUND %s %s", r.Method, path)
			writeError(w, http.StatusNotFound, "route not found")
			return
		}
		h.ListByCategory(w, r, category)
		return
	}

	log.Printf("[inventory_handler] NOT_FOUND %s %s", r.Method, path)
	writeError(w, http.StatusNotFound, "route not found")
}

// ============================================================
// DTOs (request)
// ============================================================

type adjustInventoryRequest struct {
	LotID           string `json:"lotId"`
	Quantity        int64  `json:"quantity"`
	Reason          string `json:"reason"`
	Note            string `json:"note"`
	ExpectedVersion int64  `json:"expectedVersion"`
}

// ============================================================
// Handlers
// ============================================================

// List は在庫ロット一覧です。
// クエリ: category / donationId / lowStock=true / expiringDays=N / includeZero=true / q
func (h *InventoryHandler) List(w http.ResponseWriter, r *http.Request) {
	if h.UC == nil {
		writeError(w, http.StatusNotImplemented, "inventory usecase is not configured")
		return
	}
	ctx := r.Context()
	q := r.URL.Query()

	filter := lotdom.Filter{
		DonationID:   strings.TrimSpace(q.Get("donationId")),
		Category:     lotdom.Category(strings.TrimSpace(q.Get("category"))),
		LowStockOnly: strings.EqualFold(strings.TrimSpace(q.Get("lowStock")), "true"),
		IncludeZero:  strings.EqualFold(strings.TrimSpace(q.Get("includeZero")), "true"),
		SearchQuery:  strings.TrimSpace(q.Get("q")),
	}
	if days := parseIntDefault(q.Get("expiringDays"), 0); days > 0 {
		deadline := time.Now().UTC().AddDate(0, 0, days)
		filter.ExpiringBefore = &common.TimeRange{To: &deadline}
	}

	res, err := h.UC.List(ctx, filter, parseSort(r), parsePage(r))
	if err != nil {
		log.Printf("[inventory_handler][List] failed err=%v", err)
		writeDomainError(w, err)
		return
	}

	log.Printf("[inventory_handler][List] ok count=%d total=%d", len(res.Items), res.TotalCount)
	writeData(w, http.StatusOK, toListPayload(res, toLotDTO))
}

func (h *InventoryHandler) ListByCategory(w http.ResponseWriter, r *http.Request, category string) {
	if h.UC == nil {
		writeError(w, http.StatusNotImplemented, "inventory usecase is not configured")
		return
	}

	c := lotdom.Category(strings.TrimSpace(category))
	if !lotdom.IsValidCategory(c) {
		writeError(w, http.StatusNotFound, "unknown category: "+category)
		return
	}

	res, err := h.UC.List(r.Context(), lotdom.Filter{Category: c}, parseSort(r), parsePage(r))
	if err != nil {
		log.Printf("[inventory_handler][ListByCategory] failed category=%q err=%v", category, err)
		writeDomainError(w, err)
		return
	}

	log.Printf("[inventory_handler][ListByCategory] ok category=%s count=%d", c, len(res.Items))
	writeData(w, http.StatusOK, toListPayload(res, toLotDTO))
}

// Adjust は手動除却（Available→Removed）です。expectedVersion が現在と
// 食い違っていれば 409 CONFLICT（読み直してやり直し）。
func (h *InventoryHandler) Adjust(w http.ResponseWriter, r *http.Request) {
	if h.UC == nil {
		writeError(w, http.StatusNotImplemented, "inventory usecase is not configured")
		return
	}
	ctx := r.Context()

	var req adjustInventoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	l, err := h.UC.Adjust(ctx, usecase.AdjustInput{
		LotID:           req.LotID,
		Quantity:        req.Quantity,
		Reason:          req.Reason,
		Note:            req.Note,
		ExpectedVersion: req.ExpectedVersion,
	})
	if err != nil {
		log.Printf("[inventory_handler][Adjust] failed lotId=%q err=%v", req.LotID, err)
		writeDomainError(w, err)
		return
	}

	log.Printf("[inventory_handler][Adjust] ok lotId=%s removed=%d available=%d", l.ID, req.Quantity, l.Available)
	writeData(w, http.StatusOK, toLotDTO(l))
}

func (h *InventoryHandler) Alerts(w http.ResponseWriter, r *http.Request) {
	if h.UC == nil {
		writeError(w, http.StatusNotImplemented, "inventory usecase is not configured")
		return
	}

	alerts, err := h.UC.Alerts(r.Context())
	if err != nil {
		log.Printf("[inventory_handler][Alerts] failed err=%v", err)
		writeDomainError(w, err)
		return
	}

	log.Printf("[inventory_handler][Alerts] ok count=%d", len(alerts))
	writeData(w, http.StatusOK, toAlertDTOs(alerts))
}

// DispatchAlerts はアラートを計算し、未通知分だけをメールで送ります。
// 同じロット×種別は TTL の間 1 回だけです。
func (h *InventoryHandler) DispatchAlerts(w http.ResponseWriter, r *http.Request) {
	if h.UC == nil {
		writeError(w, http.StatusNotImplemented, "inventory usecase is not configured")
		return
	}

	res, err := h.UC.DispatchAlerts(r.Context())
	if err != nil {
		log.Printf("[inventory_handler][DispatchAlerts] failed err=%v", err)
		writeDomainError(w, err)
		return
	}

	log.Printf("[inventory_handler][DispatchAlerts] ok active=%d sent=%d suppressed=%d",
		res.Active, res.Sent, res.Suppressed,
	)
	writeData(w, http.StatusOK, dispatchAlertsResultDTO{
		Active:     res.Active,
		Sent:       res.Sent,
		Suppressed: res.Suppressed,
	})
}
