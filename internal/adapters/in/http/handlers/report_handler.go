// internal/adapters/in/http/handlers/report_handler.go
package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"savinggrace/internal/application/query"
)

type ReportHandler struct {
	Dashboard *query.DashboardQuery
	Reports   *query.ReportQuery
	Impact    *query.ImpactQuery
	Exports   *query.ExportQuery
}

func NewReportHandler(
	dashboard *query.DashboardQuery,
	reports *query.ReportQuery,
	impact *query.ImpactQuery,
	exports *query.ExportQuery,
) *ReportHandler {
	return &ReportHandler{Dashboard: dashboard, Reports: reports, Impact: impact, Exports: exports}
}

func (h *ReportHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimSuffix(r.URL.Path, "/")

	log.Printf("[report_handler] IN %s %s query=%q", r.Method, path, r.URL.RawQuery)

	switch path {
	case "/reports/dashboard":
		if r.Method != http.MethodGet {
			log.Printf("[report_handler] METHOD_NOT_ALLOWED %s %s", r.Method, path)
			methodNotAllowed(w)
			return
		}
		h.DashboardOverview(w, r)
		return

	case "/reports/donations":
		if r.Method != http.MethodGet {
			log.Printf("[report_handler] METHOD_NOT_ALLOWED %s %s", r.Method, path)
			methodNotAllowed(w)
			return
		}
		h.Donations(w, r)
		return

	case "/reports/distributions":
		if r.Method != http.MethodGet {
			log.Printf("[report_handler] METHOD_NOT_ALLOWED %s %s", r.Method, path)
			methodNotAllowed(w)
			return
		}
		h.Distributions(w, r)
		return

	case "/reports/impact":
		if r.Method != http.MethodGet {
			log.Printf("[report_handler] METHOD_NOT_ALLOWED %s %s", r.Method, path)
			methodNotAllowed(w)
			return
		}
		h.ImpactReport(w, r)
		return

	case "/reports/export":
		if r.Method != http.MethodPost {
			log.Printf("[report_handler] METHOD_NOT_ALLOWED %s %s", r.Method, path)
			methodNotAllowed(w)
			return
		}
		h.Export(w, r)
		return
	}

	log.Printf("[report_handler] NOT_FOUND %s %s", r.Method, path)
	writeError(w, http.StatusNotFound, "route not found")
}

// ============================================================
// DTOs (request)
// ============================================================

type exportRequest struct {
	Kind   string `json:"kind"`
	Format string `json:"format"`
	From   string `json:"from"`
	To     string `json:"to"`
}

// ============================================================
// Handlers
// ============================================================

func (h *ReportHandler) DashboardOverview(w http.ResponseWriter, r *http.Request) {
	if h.Dashboard == nil {
		writeError(w, http.StatusNotImplemented, "dashboard query is not configured")
		return
	}

	m, err := h.Dashboard.Overview(r.Context())
	if err != nil {
		log.Printf("[report_handler][Dashboard] failed err=%v", err)
		writeDomainError(w, err)
		return
	}

	log.Printf("[report_handler][Dashboard] ok available=%d alerts={low:%d expSoon:%d expired:%d}",
		m.TotalAvailable, m.LowStockLots, m.ExpiringSoonLots, m.ExpiredLots,
	)
	writeData(w, http.StatusOK, toDashboardDTO(m))
}

func (h *ReportHandler) Donations(w http.ResponseWriter, r *http.Request) {
	if h.Reports == nil {
		writeError(w, http.StatusNotImplemented, "report query is not configured")
		return
	}

	from, to := parseReportRange(r, time.Now())

	rep, err := h.Reports.Donations(r.Context(), from, to)
	if err != nil {
		log.Printf("[report_handler][Donations] failed err=%v", err)
		writeDomainError(w, err)
		return
	}

	log.Printf("[report_handler][Donations] ok donations=%d qty=%d", rep.TotalDonations, rep.TotalQuantity)
	writeData(w, http.StatusOK, toDonationsReportDTO(rep))
}

func (h *ReportHandler) Distributions(w http.ResponseWriter, r *http.Request) {
	if h.Reports == nil {
		writeError(w, http.StatusNotImplemented, "report query is not configured")
		return
	}

	from, to := parseReportRange(r, time.Now())

	rep, err := h.Reports.Distributions(r.Context(), from, to)
	if err != nil {
		log.Printf("[report_handler][Distributions] failed err=%v", err)
		writeDomainError(w, err)
		return
	}

	log.Printf("[report_handler][Distributions] ok completed=%d cancelled=%d planned=%d",
		rep.Completed, rep.Cancelled, rep.Planned,
	)
	writeData(w, http.StatusOK, toDistributionsReportDTO(rep))
}

func (h *ReportHandler) ImpactReport(w http.ResponseWriter, r *http.Request) {
	if h.Impact == nil {
		writeError(w, http.StatusNotImplemented, "impact query is not configured")
		return
	}

	from, to := parseReportRange(r, time.Now())

	rep, err := h.Impact.Compute(r.Context(), from, to)
	if err != nil {
		log.Printf("[report_handler][Impact] failed err=%v", err)
		writeDomainError(w, err)
		return
	}

	log.Printf("[report_handler][Impact] ok pounds=%s meals=%s households=%d",
		rep.PoundsDistributed, rep.MealsServed, rep.HouseholdsReached,
	)
	writeData(w, http.StatusOK, toImpactReportDTO(rep))
}

// Export はレポートを CSV/JSON で書き出し、署名付きダウンロード URL を返します。
// body: {"kind":"donations|distributions","format":"csv|json","from":"...","to":"..."}
func (h *ReportHandler) Export(w http.ResponseWriter, r *http.Request) {
	if h.Exports == nil {
		writeError(w, http.StatusNotImplemented, "export query is not configured")
		return
	}
	ctx := r.Context()

	var req exportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	now := time.Now().UTC()
	to, okTo := parseDate(req.To)
	if !okTo {
		to = now
	} else if len(strings.TrimSpace(req.To)) == len("2006-01-02") {
		to = to.Add(24*time.Hour - time.Nanosecond)
	}
	from, okFrom := parseDate(req.From)
	if !okFrom {
		from = to.AddDate(0, 0, -30)
	}

	res, err := h.Exports.Export(ctx, req.Kind, req.Format, from, to)
	if err != nil {
		log.Printf("[report_handler][Export] failed kind=%q format=%q err=%v", req.Kind, req.Format, err)
		writeDomainError(w, err)
		return
	}

	log.Printf("[report_handler][Export] ok kind=%s format=%s rows=%d path=%s",
		res.Kind, res.Format, res.Rows, res.ObjectPath,
	)
	writeData(w, http.StatusOK, toExportResultDTO(res))
}
