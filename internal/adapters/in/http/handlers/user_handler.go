// internal/adapters/in/http/handlers/user_handler.go
package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"savinggrace/internal/application/usecase"
	userdom "savinggrace/internal/domain/user"
)

type UserHandler struct {
	UC *usecase.UserUsecase
}

func NewUserHandler(uc *usecase.UserUsecase) *UserHandler {
	return &UserHandler{UC: uc}
}

func (h *UserHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimSuffix(r.URL.Path, "/")

	log.Printf("[user_handler] IN %s %s query=%q", r.Method, path, r.URL.RawQuery)

	if path == "/users" {
		switch r.Method {
		case http.MethodGet:
			h.List(w, r)
			return
		case http.MethodPost:
			h.Create(w, r)
			return
		default:
			log.Printf("[user_handler] METHOD_NOT_ALLOWED %s %s", r.Method, path)
			methodNotAllowed(w)
			return
		}
	}

	if strings.HasPrefix(path, "/users/") {
		id, rest := splitResourcePath(path, "/users/")
		if id == "" {
			writeError(w, http.StatusBadRequest, "invalid user id")
			return
		}

		// PUT /users/{id}/role
		if rest == "role" {
			if r.Method != http.MethodPut {
				log.Printf("[user_handler] METHOD_NOT_ALLOWED %s %s", r.Method, path)
				methodNotAllowed(w)
				return
			}
			h.ChangeRole(w, r, id)
			return
		}
		if rest != "" {
			log.Printf("[user_handler] NOT_FOUND %s %s", r.Method, path)
			writeError(w, http.StatusNotFound, "route not found")
			return
		}

		switch r.Method {
		case http.MethodGet:
			// GET /users/me は自身のレコード（capability 不要）
			if id == "me" {
				h.Me(w, r)
				return
			}
			h.GetByID(w, r, id)
			return
		case http.MethodPut:
			h.Update(w, r, id)
			return
		case http.MethodDelete:
			h.Deactivate(w, r, id)
			return
		default:
			log.Printf("[user_handler] METHOD_NOT_ALLOWED %s %s", r.Method, path)
			methodNotAllowed(w)
			return
		}
	}

	log.Printf("[user_handler] NOT_FOUND %s %s", r.Method, path)
	writeError(w, http.StatusNotFound, "route not found")
}

// ============================================================
// DTOs (request)
// ============================================================

type createUserRequest struct {
	Email        string `json:"email"`
	DisplayName  string `json:"displayName"`
	Role         string `json:"role"`
	TempPassword string `json:"tempPassword"`
}

type updateUserRequest struct {
	DisplayName *string `json:"displayName"`
}

type changeRoleRequest struct {
	Role string `json:"role"`
}

// ============================================================
// Handlers
// ============================================================

func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	if h.UC == nil {
		writeError(w, http.StatusNotImplemented, "user usecase is not configured")
		return
	}
	ctx := r.Context()

	filter := userdom.Filter{
		Status:      userdom.Status(strings.TrimSpace(r.URL.Query().Get("status"))),
		SearchQuery: strings.TrimSpace(r.URL.Query().Get("q")),
	}

	res, err := h.UC.List(ctx, filter, parseSort(r), parsePage(r))
	if err != nil {
		log.Printf("[user_handler][List] failed err=%v", err)
		writeDomainError(w, err)
		return
	}

	log.Printf("[user_handler][List] ok count=%d total=%d", len(res.Items), res.TotalCount)
	writeData(w, http.StatusOK, toListPayload(res, toUserDTO))
}

// Create はスタッフアカウント作成です。Firebase 側のアカウント作成と
// role claim の同期まで行います。tempPassword は初回サインイン用。
func (h *UserHandler) Create(w http.ResponseWriter, r *http.Request) {
	if h.UC == nil {
		writeError(w, http.StatusNotImplemented, "user usecase is not configured")
		return
	}
	ctx := r.Context()

	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	u, err := h.UC.Create(ctx, usecase.CreateUserInput{
		Email:        req.Email,
		DisplayName:  req.DisplayName,
		Role:         req.Role,
		TempPassword: req.TempPassword,
	})
	if err != nil {
		log.Printf("[user_handler][Create] failed email=%q err=%v", req.Email, err)
		writeDomainError(w, err)
		return
	}

	log.Printf("[user_handler][Create] ok uid=%s role=%s", u.ID, u.Role)
	writeData(w, http.StatusCreated, toUserDTO(u))
}

func (h *UserHandler) GetByID(w http.ResponseWriter, r *http.Request, id string) {
	if h.UC == nil {
		writeError(w, http.StatusNotImplemented, "user usecase is not configured")
		return
	}

	u, err := h.UC.GetByID(r.Context(), id)
	if err != nil {
		log.Printf("[user_handler][GetByID] failed id=%q err=%v", id, err)
		writeDomainError(w, err)
		return
	}
	writeData(w, http.StatusOK, toUserDTO(u))
}

func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	if h.UC == nil {
		writeError(w, http.StatusNotImplemented, "user usecase is not configured")
		return
	}

	u, err := h.UC.Me(r.Context())
	if err != nil {
		log.Printf("[user_handler][Me] failed err=%v", err)
		writeDomainError(w, err)
		return
	}
	writeData(w, http.StatusOK, toUserDTO(u))
}

func (h *UserHandler) Update(w http.ResponseWriter, r *http.Request, id string) {
	if h.UC == nil {
		writeError(w, http.StatusNotImplemented, "user usecase is not configured")
		return
	}
	ctx := r.Context()

	var req updateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if req.DisplayName == nil {
		writeError(w, http.StatusBadRequest, "displayName is required")
		return
	}

	u, err := h.UC.Update(ctx, id, *req.DisplayName)
	if err != nil {
		log.Printf("[user_handler][Update] failed id=%q err=%v", id, err)
		writeDomainError(w, err)
		return
	}

	log.Printf("[user_handler][Update] ok uid=%s", u.ID)
	writeData(w, http.StatusOK, toUserDTO(u))
}

// ChangeRole は役割変更です。Firebase の custom claim も同期されます。
func (h *UserHandler) ChangeRole(w http.ResponseWriter, r *http.Request, id string) {
	if h.UC == nil {
		writeError(w, http.StatusNotImplemented, "user usecase is not configured")
		return
	}
	ctx := r.Context()

	var req changeRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	u, err := h.UC.ChangeRole(ctx, id, req.Role)
	if err != nil {
		log.Printf("[user_handler][ChangeRole] failed id=%q role=%q err=%v", id, req.Role, err)
		writeDomainError(w, err)
		return
	}

	log.Printf("[user_handler][ChangeRole] ok uid=%s role=%s", u.ID, u.Role)
	writeData(w, http.StatusOK, toUserDTO(u))
}

// Deactivate は status=inactive への変更と Firebase 側の無効化です。自分自身は不可。
func (h *UserHandler) Deactivate(w http.ResponseWriter, r *http.Request, id string) {
	if h.UC == nil {
		writeError(w, http.StatusNotImplemented, "user usecase is not configured")
		return
	}

	u, err := h.UC.Deactivate(r.Context(), id)
	if err != nil {
		log.Printf("[user_handler][Deactivate] failed id=%q err=%v", id, err)
		writeDomainError(w, err)
		return
	}

	log.Printf("[user_handler][Deactivate] ok uid=%s", u.ID)
	writeData(w, http.StatusOK, toUserDTO(u))
}
