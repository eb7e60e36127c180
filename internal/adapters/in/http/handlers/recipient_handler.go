// internal/adapters/in/http/handlers/recipient_handler.go
package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"savinggrace/internal/application/query"
	"savinggrace/internal/application/usecase"
	recipientdom "savinggrace/internal/domain/recipient"
)

type RecipientHandler struct {
	UC *usecase.RecipientUsecase

	// Reports は /recipients/{id}/history（配布履歴）用
	Reports *query.ReportQuery
}

func NewRecipientHandler(uc *usecase.RecipientUsecase, reports *query.ReportQuery) *RecipientHandler {
	return &RecipientHandler{UC: uc, Reports: reports}
}

func (h *RecipientHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimSuffix(r.URL.Path, "/")

	log.Printf("[recipient_handler] IN %s %s query=%q", r.Method, path, r.URL.RawQuery)

	if path == "/recipients" {
		switch r.Method {
		case http.MethodGet:
			h.List(w, r)
			return
		case http.MethodPost:
			h.Create(w, r)
			return
		default:
			log.Printf("[recipient_handler] METHOD_NOT_ALLOWED %s %s", r.Method, path)
			methodNotAllowed(w)
			return
		}
	}

	if strings.HasPrefix(path, "/recipients/") {
		id, rest := splitResourcePath(path, "/recipients/")
		if id == "" {
			writeError(w, http.StatusBadRequest, "invalid recipient id")
			return
		}

		// GET /recipients/{id}/history
		if rest == "history" {
			if r.Method != http.MethodGet {
				log.Printf("[recipient_handler] METHOD_NOT_ALLOWED %s %s", r.Method, path)
				methodNotAllowed(w)
				return
			}
			h.History(w, r, id)
			return
		}
		if rest != "" {
			log.Printf("[recipient_handler] NOT_FOUND %s %s", r.Method, path)
			writeError(w, http.StatusNotFound, "route not found")
			return
		}

		switch r.Method {
		case http.MethodGet:
			h.GetByID(w, r, id)
			return
		case http.MethodPut:
			h.Update(w, r, id)
			return
		case http.MethodDelete:
			h.Deactivate(w, r, id)
			return
		default:
			log.Printf("[recipient_handler] METHOD_NOT_ALLOWED %s %s", r.Method, path)
			methodNotAllowed(w)
			return
		}
	}

	log.Printf("[recipient_handler] NOT_FOUND %s %s", r.Method, path)
	writeError(w, http.StatusNotFound, "route not found")
}

// ============================================================
// DTOs (request)
// ============================================================

type createRecipientRequest struct {
	Name                string   `json:"name"`
	Email               string   `json:"email"`
	Phone               string   `json:"phone"`
	Address             string   `json:"address"`
	HouseholdSize       int      `json:"householdSize"`
	DietaryRestrictions []string `json:"dietaryRestrictions"`
	Notes               string   `json:"notes"`
}

type updateRecipientRequest struct {
	Name                *string   `json:"name"`
	Email               *string   `json:"email"`
	Phone               *string   `json:"phone"`
	Address             *string   `json:"address"`
	HouseholdSize       *int      `json:"householdSize"`
	DietaryRestrictions *[]string `json:"dietaryRestrictions"`
	Notes               *string   `json:"notes"`
	Status              *string   `json:"status"`
}

// ============================================================
// Handlers
// ============================================================

func (h *RecipientHandler) List(w http.ResponseWriter, r *http.Request) {
	if h.UC == nil {
		writeError(w, http.StatusNotImplemented, "recipient usecase is not configured")
		return
	}
	ctx := r.Context()

	filter := recipientdom.Filter{
		Status:      recipientdom.Status(strings.TrimSpace(r.URL.Query().Get("status"))),
		SearchQuery: strings.TrimSpace(r.URL.Query().Get("q")),
	}

	res, err := h.UC.List(ctx, filter, parseSort(r), parsePage(r))
	if err != nil {
		log.Printf("[recipient_handler][List] failed err=%v", err)
		writeDomainError(w, err)
		return
	}

	log.Printf("[recipient_handler][List] ok count=%d total=%d", len(res.Items), res.TotalCount)
	writeData(w, http.StatusOK, toListPayload(res, toRecipientDTO))
}

func (h *RecipientHandler) Create(w http.ResponseWriter, r *http.Request) {
	if h.UC == nil {
		writeError(w, http.StatusNotImplemented, "recipient usecase is not configured")
		return
	}
	ctx := r.Context()

	var req createRecipientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	rec, err := h.UC.Create(ctx, usecase.CreateRecipientInput{
		Name:                req.Name,
		Email:               req.Email,
		Phone:               req.Phone,
		Address:             req.Address,
		HouseholdSize:       req.HouseholdSize,
		DietaryRestrictions: req.DietaryRestrictions,
		Notes:               req.Notes,
	})
	if err != nil {
		log.Printf("[recipient_handler][Create] failed err=%v", err)
		writeDomainError(w, err)
		return
	}

	log.Printf("[recipient_handler][Create] ok id=%s", rec.ID)
	writeData(w, http.StatusCreated, toRecipientDTO(rec))
}

func (h *RecipientHandler) GetByID(w http.ResponseWriter, r *http.Request, id string) {
	if h.UC == nil {
		writeError(w, http.StatusNotImplemented, "recipient usecase is not configured")
		return
	}

	rec, err := h.UC.GetByID(r.Context(), id)
	if err != nil {
		log.Printf("[recipient_handler][GetByID] failed id=%q err=%v", id, err)
		writeDomainError(w, err)
		return
	}
	writeData(w, http.StatusOK, toRecipientDTO(rec))
}

func (h *RecipientHandler) Update(w http.ResponseWriter, r *http.Request, id string) {
	if h.UC == nil {
		writeError(w, http.StatusNotImplemented, "recipient usecase is not configured")
		return
	}
	ctx := r.Context()

	var req updateRecipientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	patch := recipientdom.Patch{
		Name:                req.Name,
		Email:               req.Email,
		Phone:               req.Phone,
		Address:             req.Address,
		HouseholdSize:       req.HouseholdSize,
		DietaryRestrictions: req.DietaryRestrictions,
		Notes:               req.Notes,
	}
	if req.Status != nil {
		s := recipientdom.Status(strings.TrimSpace(*req.Status))
		patch.Status = &s
	}

	rec, err := h.UC.Update(ctx, id, patch)
	if err != nil {
		log.Printf("[recipient_handler][Update] failed id=%q err=%v", id, err)
		writeDomainError(w, err)
		return
	}

	log.Printf("[recipient_handler][Update] ok id=%s", rec.ID)
	writeData(w, http.StatusOK, toRecipientDTO(rec))
}

// Deactivate は status=inactive への変更です。配布履歴を保つためドキュメントは残します。
func (h *RecipientHandler) Deactivate(w http.ResponseWriter, r *http.Request, id string) {
	if h.UC == nil {
		writeError(w, http.StatusNotImplemented, "recipient usecase is not configured")
		return
	}

	rec, err := h.UC.Deactivate(r.Context(), id)
	if err != nil {
		log.Printf("[recipient_handler][Deactivate] failed id=%q err=%v", id, err)
		writeDomainError(w, err)
		return
	}

	log.Printf("[recipient_handler][Deactivate] ok id=%s", rec.ID)
	writeData(w, http.StatusOK, toRecipientDTO(rec))
}

func (h *RecipientHandler) History(w http.ResponseWriter, r *http.Request, id string) {
	if h.Reports == nil {
		writeError(w, http.StatusNotImplemented, "report query is not configured")
		return
	}

	hist, err := h.Reports.RecipientHistory(r.Context(), id)
	if err != nil {
		log.Printf("[recipient_handler][History] failed id=%q err=%v", id, err)
		writeDomainError(w, err)
		return
	}

	log.Printf("[recipient_handler][History] ok id=%s distributions=%d", id, len(hist.Distributions))
	writeData(w, http.StatusOK, toRecipientHistoryDTO(hist))
}
