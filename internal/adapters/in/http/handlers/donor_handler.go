// internal/adapters/in/http/handlers/donor_handler.go
package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"savinggrace/internal/application/usecase"
	donordom "savinggrace/internal/domain/donor"
)

type DonorHandler struct {
	UC *usecase.DonorUsecase

	// Donations は /donors/{id}/donations（寄付履歴）用
	Donations *usecase.DonationUsecase
}

func NewDonorHandler(uc *usecase.DonorUsecase, donations *usecase.DonationUsecase) *DonorHandler {
	return &DonorHandler{UC: uc, Donations: donations}
}

func (h *DonorHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimSuffix(r.URL.Path, "/")

	log.Printf("[donor_handler] IN %s %s query=%q", r.Method, path, r.URL.RawQuery)

	if path == "/donors" {
		switch r.Method {
		case http.MethodGet:
			h.List(w, r)
			return
		case http.MethodPost:
			h.Create(w, r)
			return
		default:
			log.Printf("[donor_handler] METHOD_NOT_ALLOWED %s %s", r.Method, path)
			methodNotAllowed(w)
			return
		}
	}

	if strings.HasPrefix(path, "/donors/") {
		id, rest := splitResourcePath(path, "/donors/")
		if id == "" {
			writeError(w, http.StatusBadRequest, "invalid donor id")
			return
		}

		// GET /donors/{id}/donations
		if rest == "donations" {
			if r.Method != http.MethodGet {
				log.Printf("[donor_handler] METHOD_NOT_ALLOWED %s %s", r.Method, path)
				methodNotAllowed(w)
				return
			}
			h.ListDonations(w, r, id)
			return
		}
		if rest != "" {
			log.Printf("[donor_handler] NOT_FOUND %s %s", r.Method, path)
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
			log.Printf("[donor_handler] METHOD_NOT_ALLOWED %s %s", r.Method, path)
			methodNotAllowed(w)
			return
		}
	}

	log.Printf("[donor_handler] NOT_FOUND %s %s", r.Method, path)
	writeError(w, http.StatusNotFound, "route not found")
}

// ============================================================
// DTOs (request)
// ============================================================

type createDonorRequest struct {
	Name        string `json:"name"`
	ContactName string `json:"contactName"`
	Email       string `json:"email"`
	Phone       string `json:"phone"`
	Address     string `json:"address"`
	Notes       string `json:"notes"`
}

type updateDonorRequest struct {
	Name        *string `json:"name"`
	ContactName *string `json:"contactName"`
	Email       *string `json:"email"`
	Phone       *string `json:"phone"`
	Address     *string `json:"address"`
	Notes       *string `json:"notes"`
	Status      *string `json:"status"`
}

// ============================================================
// Handlers
// ============================================================

func (h *DonorHandler) List(w http.ResponseWriter, r *http.Request) {
	if h.UC == nil {
		writeError(w, http.StatusNotImplemented, "donor usecase is not configured")
		return
	}
	ctx := r.Context()

	filter := donordom.Filter{
		Status:      donordom.Status(strings.TrimSpace(r.URL.Query().Get("status"))),
		SearchQuery: strings.TrimSpace(r.URL.Query().Get("q")),
	}

	res, err := h.UC.List(ctx, filter, parseSort(r), parsePage(r))
	if err != nil {
		log.Printf("[donor_handler][List] failed err=%v", err)
		writeDomainError(w, err)
		return
	}

	log.Printf("[donor_handler][List] ok count=%d total=%d", len(res.Items), res.TotalCount)
	writeData(w, http.StatusOK, toListPayload(res, toDonorDTO))
}

func (h *DonorHandler) Create(w http.ResponseWriter, r *http.Request) {
	if h.UC == nil {
		writeError(w, http.StatusNotImplemented, "donor usecase is not configured")
		return
	}
	ctx := r.Context()

	var req createDonorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	d, err := h.UC.Create(ctx, usecase.CreateDonorInput{
		Name:        req.Name,
		ContactName: req.ContactName,
		Email:       req.Email,
		Phone:       req.Phone,
		Address:     req.Address,
		Notes:       req.Notes,
	})
	if err != nil {
		log.Printf("[donor_handler][Create] failed err=%v", err)
		writeDomainError(w, err)
		return
	}

	log.Printf("[donor_handler][Create] ok id=%s", d.ID)
	writeData(w, http.StatusCreated, toDonorDTO(d))
}

func (h *DonorHandler) GetByID(w http.ResponseWriter, r *http.Request, id string) {
	if h.UC == nil {
		writeError(w, http.StatusNotImplemented, "donor usecase is not configured")
		return
	}

	d, err := h.UC.GetByID(r.Context(), id)
	if err != nil {
		log.Printf("[donor_handler][GetByID] failed id=%q err=%v", id, err)
		writeDomainError(w, err)
		return
	}
	writeData(w, http.StatusOK, toDonorDTO(d))
}

func (h *DonorHandler) Update(w http.ResponseWriter, r *http.Request, id string) {
	if h.UC == nil {
		writeError(w, http.StatusNotImplemented, "donor usecase is not configured")
		return
	}
	ctx := r.Context()

	var req updateDonorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	patch := donordom.Patch{
		Name:        req.Name,
		ContactName: req.ContactName,
		Email:       req.Email,
		Phone:       req.Phone,
		Address:     req.Address,
		Notes:       req.Notes,
	}
	if req.Status != nil {
		s := donordom.Status(strings.TrimSpace(*req.Status))
		patch.Status = &s
	}

	d, err := h.UC.Update(ctx, id, patch)
	if err != nil {
		log.Printf("[donor_handler][Update] failed id=%q err=%v", id, err)
		writeDomainError(w, err)
		return
	}

	log.Printf("[donor_handler][Update] ok id=%s", d.ID)
	writeData(w, http.StatusOK, toDonorDTO(d))
}

// Deactivate は物理削除ではなく status=inactive への変更です。
// 過去の寄付記録との参照整合を保つため、ドキュメントは残します。
func (h *DonorHandler) Deactivate(w http.ResponseWriter, r *http.Request, id string) {
	if h.UC == nil {
		writeError(w, http.StatusNotImplemented, "donor usecase is not configured")
		return
	}

	d, err := h.UC.Deactivate(r.Context(), id)
	if err != nil {
		log.Printf("[donor_handler][Deactivate] failed id=%q err=%v", id, err)
		writeDomainError(w, err)
		return
	}

	log.Printf("[donor_handler][Deactivate] ok id=%s", d.ID)
	writeData(w, http.StatusOK, toDonorDTO(d))
}

func (h *DonorHandler) ListDonations(w http.ResponseWriter, r *http.Request, id string) {
	if h.Donations == nil {
		writeError(w, http.StatusNotImplemented, "donation usecase is not configured")
		return
	}

	ds, err := h.Donations.ListByDonorID(r.Context(), id)
	if err != nil {
		log.Printf("[donor_handler][ListDonations] failed donorId=%q err=%v", id, err)
		writeDomainError(w, err)
		return
	}

	items := make([]donationDTO, 0, len(ds))
	for _, d := range ds {
		items = append(items, toDonationDTO(d))
	}

	log.Printf("[donor_handler][ListDonations] ok donorId=%s count=%d", id, len(items))
	writeData(w, http.StatusOK, items)
}
