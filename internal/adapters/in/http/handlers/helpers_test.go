// internal/adapters/in/http/handlers/helpers_test.go
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"savinggrace/internal/application/allocation"
	"savinggrace/internal/application/usecase"
	"savinggrace/internal/domain/common"
	distdom "savinggrace/internal/domain/distribution"
	donordom "savinggrace/internal/domain/donor"
	lotdom "savinggrace/internal/domain/lot"
	"savinggrace/internal/domain/permission"
)

func decodeErrorEnvelope(t *testing.T, rec *httptest.ResponseRecorder) errorEnvelope {
	t.Helper()
	var env errorEnvelope
	if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if env.Success {
		t.Fatalf("success = true, want false")
	}
	return env
}

func TestWriteDomainError_StatusAndCode(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"unauthenticated", permission.ErrUnauthenticated, http.StatusUnauthorized, "AUTHORIZATION_ERROR"},
		{"denied", &permission.DeniedError{Role: permission.RoleVolunteer, Capability: permission.UsersManage}, http.StatusForbidden, "AUTHORIZATION_ERROR"},
		{"not found", donordom.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
		{"no receipt", usecase.ErrNoReceipt, http.StatusNotFound, "NOT_FOUND"},
		{"insufficient", &lotdom.InsufficientError{LotID: "lot-1", Requested: 10, Available: 4}, http.StatusConflict, "INSUFFICIENT_INVENTORY"},
		{"transition", &distdom.TransitionError{ID: "dist-1", From: distdom.StatusCompleted, To: distdom.StatusCancelled}, http.StatusConflict, "INVALID_TRANSITION"},
		{"contention", allocation.ErrContention, http.StatusConflict, "CONFLICT"},
		{"version conflict", lotdom.ErrVersionConflict, http.StatusConflict, "CONFLICT"},
		{"completion failed", &distdom.CompletionFailedError{ID: "dist-1", Op: "complete", Failed: distdom.Line{LotID: "lot-2"}}, http.StatusInternalServerError, "COMPLETION_FAILED"},
		{"validation", donordom.ErrInvalidName, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"self deactivation", usecase.ErrSelfDeactivation, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"not configured", usecase.ErrReceiptStoreNotConfigured, http.StatusNotImplemented, "DATABASE_ERROR"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "DATABASE_ERROR"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			writeDomainError(rec, tc.err)
			if rec.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tc.wantStatus)
			}
			env := decodeErrorEnvelope(t, rec)
			if env.Error.Code != tc.wantCode {
				t.Fatalf("code = %q, want %q", env.Error.Code, tc.wantCode)
			}
			if env.Error.Message == "" {
				t.Fatalf("message is empty")
			}
		})
	}
}

func TestWriteDomainError_InsufficientDetails(t *testing.T) {
	rec := httptest.NewRecorder()
	writeDomainError(rec, &lotdom.InsufficientError{LotID: "lot-9", Requested: 12, Available: 5})

	env := decodeErrorEnvelope(t, rec)
	if env.Error.Details["lotId"] != "lot-9" {
		t.Fatalf("lotId = %v", env.Error.Details["lotId"])
	}
	// JSON 経由なので数値は float64 になる
	if env.Error.Details["shortfall"] != float64(7) {
		t.Fatalf("shortfall = %v, want 7", env.Error.Details["shortfall"])
	}
	if env.Error.Details["available"] != float64(5) {
		t.Fatalf("available = %v, want 5", env.Error.Details["available"])
	}
}

func TestWriteDomainError_TransitionDetails(t *testing.T) {
	rec := httptest.NewRecorder()
	writeDomainError(rec, &distdom.TransitionError{ID: "dist-3", From: distdom.StatusCancelled, To: distdom.StatusCompleted})

	env := decodeErrorEnvelope(t, rec)
	if env.Error.Details["distributionId"] != "dist-3" {
		t.Fatalf("distributionId = %v", env.Error.Details["distributionId"])
	}
	if env.Error.Details["currentStatus"] != "cancelled" {
		t.Fatalf("currentStatus = %v, want cancelled", env.Error.Details["currentStatus"])
	}
	if env.Error.Details["attempted"] != "completed" {
		t.Fatalf("attempted = %v, want completed", env.Error.Details["attempted"])
	}
}

func TestWriteData_Envelope(t *testing.T) {
	rec := httptest.NewRecorder()
	writeData(rec, http.StatusCreated, map[string]string{"id": "x"})

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Fatalf("content-type = %q", ct)
	}
	var env struct {
		Success bool              `json:"success"`
		Data    map[string]string `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !env.Success || env.Data["id"] != "x" {
		t.Fatalf("unexpected envelope: %+v", env)
	}
}

func TestParseDate(t *testing.T) {
	if _, ok := parseDate(""); ok {
		t.Fatalf("empty should not parse")
	}
	if _, ok := parseDate("not-a-date"); ok {
		t.Fatalf("garbage should not parse")
	}

	d, ok := parseDate("2026-03-15")
	if !ok {
		t.Fatalf("date-only should parse")
	}
	if d.Year() != 2026 || d.Month() != time.March || d.Day() != 15 {
		t.Fatalf("parsed = %v", d)
	}

	ts, ok := parseDate("2026-03-15T10:30:00+09:00")
	if !ok {
		t.Fatalf("rfc3339 should parse")
	}
	if ts.UTC().Hour() != 1 {
		t.Fatalf("hour = %d, want 1 (UTC)", ts.UTC().Hour())
	}
}

func TestParseReportRange_Defaults(t *testing.T) {
	now := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)
	r := httptest.NewRequest(http.MethodGet, "/reports/donations", nil)

	from, to := parseReportRange(r, now)
	if !to.Equal(now) {
		t.Fatalf("to = %v, want %v", to, now)
	}
	if !from.Equal(now.AddDate(0, 0, -30)) {
		t.Fatalf("from = %v", from)
	}
}

func TestParseReportRange_DateOnlyToIncludesWholeDay(t *testing.T) {
	now := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)
	r := httptest.NewRequest(http.MethodGet, "/reports/donations?from=2026-06-01&to=2026-06-10", nil)

	from, to := parseReportRange(r, now)
	if from.Day() != 1 {
		t.Fatalf("from day = %d", from.Day())
	}
	// 6/10 いっぱいまで含む
	if to.Day() != 10 || to.Hour() != 23 {
		t.Fatalf("to = %v, want end of 2026-06-10", to)
	}
}

func TestParsePageAndSort(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/donors?page=3&perPage=25&sort=name&order=desc", nil)

	p := parsePage(r)
	if p.Number != 3 || p.PerPage != 25 {
		t.Fatalf("page = %+v", p)
	}
	s := parseSort(r)
	if s.Column != "name" || s.Order != common.SortDesc {
		t.Fatalf("sort = %+v", s)
	}

	// 既定値
	r2 := httptest.NewRequest(http.MethodGet, "/donors", nil)
	p2 := parsePage(r2)
	if p2.Number != 1 || p2.PerPage != 0 {
		t.Fatalf("default page = %+v", p2)
	}
	s2 := parseSort(r2)
	if s2.Order != common.SortAsc {
		t.Fatalf("default order = %v", s2.Order)
	}
}

func TestSplitResourcePath(t *testing.T) {
	cases := []struct {
		path     string
		wantID   string
		wantRest string
	}{
		{"/donors/d1", "d1", ""},
		{"/donors/d1/", "d1", ""},
		{"/donors/d1/donations", "d1", "donations"},
		{"/donors/", "", ""},
	}
	for _, tc := range cases {
		id, rest := splitResourcePath(tc.path, "/donors/")
		if id != tc.wantID || rest != tc.wantRest {
			t.Fatalf("splitResourcePath(%q) = (%q, %q), want (%q, %q)",
				tc.path, id, rest, tc.wantID, tc.wantRest)
		}
	}
}

func TestCodeForStatus(t *testing.T) {
	cases := map[int]string{
		http.StatusUnauthorized:        "AUTHORIZATION_ERROR",
		http.StatusForbidden:           "AUTHORIZATION_ERROR",
		http.StatusNotFound:            "NOT_FOUND",
		http.StatusConflict:            "CONFLICT",
		http.StatusBadRequest:          "VALIDATION_ERROR",
		http.StatusMethodNotAllowed:    "VALIDATION_ERROR",
		http.StatusInternalServerError: "DATABASE_ERROR",
	}
	for status, want := range cases {
		if got := codeForStatus(status); got != want {
			t.Errorf("codeForStatus(%d) = %q, want %q", status, got, want)
		}
	}
}

// listPayload の Items は nil でも [] で出す（フロントの map 対策）
func TestToListPayload_EmptyItems(t *testing.T) {
	res := common.PageResult[string]{TotalCount: 0, TotalPages: 0, Page: 1, PerPage: 50}
	payload := toListPayload(res, func(s string) string { return s })
	if payload.Items == nil {
		t.Fatalf("Items should be non-nil")
	}

	b, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(b), `"items":[]`) {
		t.Fatalf("items not rendered as []: %s", b)
	}
	if !strings.Contains(string(b), `"totalCount":0`) {
		t.Fatalf("totalCount missing: %s", b)
	}
}
