// internal/adapters/in/http/handlers/helpers.go
package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"savinggrace/internal/application/allocation"
	"savinggrace/internal/application/query"
	"savinggrace/internal/application/usecase"
	"savinggrace/internal/domain/common"
	distdom "savinggrace/internal/domain/distribution"
	donationdom "savinggrace/internal/domain/donation"
	donordom "savinggrace/internal/domain/donor"
	lotdom "savinggrace/internal/domain/lot"
	"savinggrace/internal/domain/permission"
	recipientdom "savinggrace/internal/domain/recipient"
	userdom "savinggrace/internal/domain/user"
)

// ============================================================
// Response envelope
// - 全レスポンス共通: {"success":true,"data":...} / {"success":false,"error":{...}}
// ============================================================

const (
	codeValidation   = "VALIDATION_ERROR"
	codeAuth         = "AUTHORIZATION_ERROR"
	codeNotFound     = "NOT_FOUND"
	codeInsufficient = "INSUFFICIENT_INVENTORY"
	codeConflict     = "CONFLICT"
	codeTransition   = "INVALID_TRANSITION"
	codeCompletion   = "COMPLETION_FAILED"
	codeDatabase     = "DATABASE_ERROR"
)

type successEnvelope struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
}

type errorEnvelope struct {
	Success bool      `json:"success"`
	Error   errorBody `json:"error"`
}

type errorBody struct {
	Message string         `json:"message"`
	Code    string         `json:"code"`
	Details map[string]any `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, successEnvelope{Success: true, Data: data})
}

// writeError はステータスからエラーコードを導いて包みます。
// コードを明示したい場合は writeErrorCode を使います。
func writeError(w http.ResponseWriter, status int, msg string) {
	writeErrorCode(w, status, codeForStatus(status), msg, nil)
}

func writeErrorCode(w http.ResponseWriter, status int, code, msg string, details map[string]any) {
	log.Printf("[http] RESP_ERROR status=%d code=%s msg=%q", status, code, msg)
	writeJSON(w, status, errorEnvelope{
		Success: false,
		Error:   errorBody{Message: msg, Code: code, Details: details},
	})
}

func codeForStatus(status int) string {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return codeAuth
	case status == http.StatusNotFound:
		return codeNotFound
	case status == http.StatusConflict:
		return codeConflict
	case status >= 400 && status < 500:
		return codeValidation
	default:
		return codeDatabase
	}
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

// WriteNotFound は router のフォールバック用。ハンドラ外からも
// エンベロープ形式で 404 を返せるように公開しています。
func WriteNotFound(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusNotFound, msg)
}

// ============================================================
// Domain error mapping
// ============================================================

// writeDomainError は usecase/domain のエラーを HTTP に写します。
// 判定は errors.Is、details の抽出は errors.As で行います。
func writeDomainError(w http.ResponseWriter, err error) {
	switch {

	// --- authn / authz ---
	case errors.Is(err, permission.ErrUnauthenticated):
		writeErrorCode(w, http.StatusUnauthorized, codeAuth, err.Error(), nil)

	case errors.Is(err, permission.ErrDenied):
		var de *permission.DeniedError
		if errors.As(err, &de) {
			writeErrorCode(w, http.StatusForbidden, codeAuth, err.Error(), map[string]any{
				"role":       string(de.Role),
				"capability": string(de.Capability),
			})
			return
		}
		writeErrorCode(w, http.StatusForbidden, codeAuth, err.Error(), nil)

	case errors.Is(err, userdom.ErrInactive):
		writeErrorCode(w, http.StatusForbidden, codeAuth, err.Error(), nil)

	// --- not found ---
	case errors.Is(err, donordom.ErrNotFound),
		errors.Is(err, donationdom.ErrNotFound),
		errors.Is(err, recipientdom.ErrNotFound),
		errors.Is(err, lotdom.ErrNotFound),
		errors.Is(err, distdom.ErrNotFound),
		errors.Is(err, userdom.ErrNotFound),
		errors.Is(err, usecase.ErrNoReceipt):
		writeErrorCode(w, http.StatusNotFound, codeNotFound, err.Error(), nil)

	// --- inventory shortfall ---
	case errors.Is(err, lotdom.ErrInsufficient):
		details := map[string]any(nil)
		var ie *lotdom.InsufficientError
		if errors.As(err, &ie) {
			details = map[string]any{
				"lotId":     ie.LotID,
				"requested": ie.Requested,
				"available": ie.Available,
				"shortfall": ie.Requested - ie.Available,
			}
		}
		writeErrorCode(w, http.StatusConflict, codeInsufficient, err.Error(), details)

	// --- lifecycle misuse ---
	case errors.Is(err, distdom.ErrInvalidTransition):
		details := map[string]any(nil)
		var te *distdom.TransitionError
		if errors.As(err, &te) {
			details = map[string]any{
				"distributionId": te.ID,
				"currentStatus":  string(te.From),
				"attempted":      string(te.To),
			}
		}
		writeErrorCode(w, http.StatusConflict, codeTransition, err.Error(), details)

	// --- contention（リトライ上限到達 or 条件付き更新の競合） ---
	case errors.Is(err, allocation.ErrContention),
		errors.Is(err, lotdom.ErrVersionConflict),
		errors.Is(err, distdom.ErrVersionConflict),
		errors.Is(err, donationdom.ErrHasActivity):
		writeErrorCode(w, http.StatusConflict, codeConflict, err.Error(), nil)

	// --- 確定/解放の途中失敗（オペレーター照合用の詳細付き） ---
	case errors.Is(err, distdom.ErrCompletionFailed):
		details := map[string]any(nil)
		var ce *distdom.CompletionFailedError
		if errors.As(err, &ce) {
			details = map[string]any{
				"distributionId": ce.ID,
				"op":             ce.Op,
				"failedLotId":    ce.Failed.LotID,
				"committedLines": len(ce.Committed),
			}
		}
		writeErrorCode(w, http.StatusInternalServerError, codeCompletion, err.Error(), details)

	// --- 台帳の予約数不整合（通常は CompletionFailed に包まれて届く） ---
	case errors.Is(err, lotdom.ErrInvalidState):
		details := map[string]any(nil)
		var se *lotdom.StateMismatchError
		if errors.As(err, &se) {
			details = map[string]any{
				"lotId":     se.LotID,
				"requested": se.Requested,
				"reserved":  se.Reserved,
			}
		}
		writeErrorCode(w, http.StatusInternalServerError, codeDatabase, err.Error(), details)

	// --- validation ---
	case errors.Is(err, donordom.ErrInvalidID),
		errors.Is(err, donordom.ErrInvalidName),
		errors.Is(err, donordom.ErrInvalidEmail),
		errors.Is(err, donordom.ErrInvalidPhone),
		errors.Is(err, donordom.ErrInvalidStatus),
		errors.Is(err, donordom.ErrNotesTooLong):
		writeErrorCode(w, http.StatusBadRequest, codeValidation, err.Error(), nil)

	case errors.Is(err, donationdom.ErrInvalidID),
		errors.Is(err, donationdom.ErrInvalidDonorID),
		errors.Is(err, donationdom.ErrInvalidDate),
		errors.Is(err, donationdom.ErrNoItems),
		errors.Is(err, donationdom.ErrInvalidItemName),
		errors.Is(err, donationdom.ErrInvalidCategory),
		errors.Is(err, donationdom.ErrInvalidQuantity),
		errors.Is(err, donationdom.ErrInvalidUnit),
		errors.Is(err, donationdom.ErrNotesTooLong),
		errors.Is(err, donationdom.ErrReceiptPathLong):
		writeErrorCode(w, http.StatusBadRequest, codeValidation, err.Error(), nil)

	case errors.Is(err, recipientdom.ErrInvalidID),
		errors.Is(err, recipientdom.ErrInvalidName),
		errors.Is(err, recipientdom.ErrInvalidEmail),
		errors.Is(err, recipientdom.ErrInvalidPhone),
		errors.Is(err, recipientdom.ErrInvalidHouseholdSize),
		errors.Is(err, recipientdom.ErrInvalidStatus),
		errors.Is(err, recipientdom.ErrNotesTooLong):
		writeErrorCode(w, http.StatusBadRequest, codeValidation, err.Error(), nil)

	case errors.Is(err, lotdom.ErrInvalidID),
		errors.Is(err, lotdom.ErrInvalidDonationID),
		errors.Is(err, lotdom.ErrInvalidItemName),
		errors.Is(err, lotdom.ErrInvalidCategory),
		errors.Is(err, lotdom.ErrInvalidUnit),
		errors.Is(err, lotdom.ErrInvalidQuantity),
		errors.Is(err, lotdom.ErrInvalidReason):
		writeErrorCode(w, http.StatusBadRequest, codeValidation, err.Error(), nil)

	case errors.Is(err, distdom.ErrInvalidID),
		errors.Is(err, distdom.ErrInvalidRecipientID),
		errors.Is(err, distdom.ErrInvalidDate),
		errors.Is(err, distdom.ErrInvalidStatus),
		errors.Is(err, distdom.ErrNotesTooLong),
		errors.Is(err, distdom.ErrNoLines),
		errors.Is(err, distdom.ErrInvalidLotID),
		errors.Is(err, distdom.ErrInvalidQuantity),
		errors.Is(err, distdom.ErrDuplicateLot):
		writeErrorCode(w, http.StatusBadRequest, codeValidation, err.Error(), nil)

	case errors.Is(err, userdom.ErrInvalidID),
		errors.Is(err, userdom.ErrInvalidEmail),
		errors.Is(err, userdom.ErrInvalidDisplayName),
		errors.Is(err, userdom.ErrInvalidStatus),
		errors.Is(err, permission.ErrInvalidRole),
		errors.Is(err, usecase.ErrSelfDeactivation):
		writeErrorCode(w, http.StatusBadRequest, codeValidation, err.Error(), nil)

	case errors.Is(err, query.ErrUnknownExportKind),
		errors.Is(err, query.ErrUnknownExportFormat):
		writeErrorCode(w, http.StatusBadRequest, codeValidation, err.Error(), nil)

	// --- 未構成（デプロイ設定の問題） ---
	case errors.Is(err, usecase.ErrReceiptStoreNotConfigured),
		errors.Is(err, usecase.ErrAlertMailerNotConfigured),
		errors.Is(err, usecase.ErrAuthAdminNotConfigured),
		errors.Is(err, query.ErrExportStoreNotConfigured):
		writeErrorCode(w, http.StatusNotImplemented, codeDatabase, err.Error(), nil)

	default:
		writeErrorCode(w, http.StatusInternalServerError, codeDatabase, err.Error(), nil)
	}
}

// ============================================================
// Request parsing
// ============================================================

func parseIntDefault(s string, def int) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func parseRFC3339Ptr(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	tt := t.UTC()
	return &tt
}

// parseDate は RFC3339 と日付のみ（YYYY-MM-DD）の両方を受けます。
func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), true
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t.UTC(), true
	}
	return time.Time{}, false
}

// parsePage は page/perPage クエリを読みます。perPage 未指定はリポジトリ既定に任せます。
func parsePage(r *http.Request) common.Page {
	return common.Page{
		Number:  parseIntDefault(r.URL.Query().Get("page"), 1),
		PerPage: parseIntDefault(r.URL.Query().Get("perPage"), 0),
	}
}

// parseSort は sort/order クエリを読みます。order は desc のみ明示、他は asc。
func parseSort(r *http.Request) common.Sort {
	s := common.Sort{Column: strings.TrimSpace(r.URL.Query().Get("sort"))}
	if strings.EqualFold(strings.TrimSpace(r.URL.Query().Get("order")), "desc") {
		s.Order = common.SortDesc
	} else {
		s.Order = common.SortAsc
	}
	return s
}

// parseReportRange は from/to クエリを読みます。省略時は直近 30 日。
// to が日付のみの場合はその日の終わりまで含めます。
func parseReportRange(r *http.Request, now time.Time) (time.Time, time.Time) {
	rawTo := strings.TrimSpace(r.URL.Query().Get("to"))

	from, okFrom := parseDate(r.URL.Query().Get("from"))
	to, okTo := parseDate(rawTo)

	if !okTo {
		to = now.UTC()
	} else if len(rawTo) == len("2006-01-02") {
		to = to.Add(24*time.Hour - time.Nanosecond)
	}
	if !okFrom {
		from = to.AddDate(0, 0, -30)
	}
	return from, to
}

func pathParamLast(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return ""
	}
	path = strings.TrimSuffix(path, "/")
	i := strings.LastIndex(path, "/")
	if i < 0 || i == len(path)-1 {
		return ""
	}
	return path[i+1:]
}

// splitResourcePath は "/donors/{id}/donations" 形式のパスを id と残りに分けます。
// 例: splitResourcePath("/donors/d1/donations", "/donors/") -> ("d1", "donations")
func splitResourcePath(path, prefix string) (id, rest string) {
	p := strings.TrimPrefix(strings.TrimSuffix(path, "/"), prefix)
	if p == "" {
		return "", ""
	}
	if i := strings.Index(p, "/"); i >= 0 {
		return strings.TrimSpace(p[:i]), strings.TrimSpace(p[i+1:])
	}
	return strings.TrimSpace(p), ""
}
