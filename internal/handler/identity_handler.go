package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/hitoshi/attendman/internal/model"
)

// IdentityServiceInterface はIdentityハンドラーが必要とするサービスインターフェース。
type IdentityServiceInterface interface {
	Create(ctx context.Context, in model.IdentityInput) (*model.Identity, error)
	GetByID(ctx context.Context, id int64) (*model.Identity, error)
	GetByExternalID(ctx context.Context, externalID string) (*model.Identity, error)
	GetByEmail(ctx context.Context, email string) (*model.Identity, error)
	ListAll(ctx context.Context, activeOnly bool, skip, limit int) ([]*model.Identity, error)
	Update(ctx context.Context, id int64, upd model.IdentityUpdate) (*model.Identity, error)
	Deactivate(ctx context.Context, id int64) (*model.Identity, error)
	Reactivate(ctx context.Context, id int64) (*model.Identity, error)
	// Delete はIdentityと出席記録を削除する。対象が存在しない場合はNotFoundErrorを返す。
	Delete(ctx context.Context, id int64) (bool, error)
}

// IdentityHandler はIdentity管理のHTTPハンドラー。
type IdentityHandler struct {
	service IdentityServiceInterface
}

// NewIdentityHandler はIdentityHandlerを生成する。
func NewIdentityHandler(service IdentityServiceInterface) *IdentityHandler {
	return &IdentityHandler{service: service}
}

// createIdentityRequest はIdentity登録リクエストのボディ。
type createIdentityRequest struct {
	Name       string  `json:"name"`
	Email      string  `json:"email"`
	ExternalID string  `json:"external_id"`
	Phone      *string `json:"phone"`
}

// updateIdentityRequest はIdentity更新リクエストのボディ。省略した項目は変更しない。
type updateIdentityRequest struct {
	Name  *string `json:"name"`
	Email *string `json:"email"`
	Phone *string `json:"phone"`
}

// Create はIdentityを登録する。
// POST /api/identities
func (h *IdentityHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createIdentityRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, r, err)
		return
	}

	identity, err := h.service.Create(r.Context(), model.IdentityInput{
		Name:       req.Name,
		Email:      req.Email,
		ExternalID: req.ExternalID,
		Phone:      req.Phone,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toIdentityResponse(identity))
}

// List はIdentityを登録順に一覧する。
// GET /api/identities?active_only=&skip=&limit=
func (h *IdentityHandler) List(w http.ResponseWriter, r *http.Request) {
	activeOnly, err := queryBool(r, "active_only", false)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	skip, err := queryInt(r, "skip", 0)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	limit, err := queryInt(r, "limit", model.DefaultPageLimit)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	identities, err := h.service.ListAll(r.Context(), activeOnly, skip, limit)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toIdentityResponses(identities))
}

// Lookup はメールアドレスまたは社員番号でIdentityを検索する。
// GET /api/identities/lookup?email= または ?external_id=
func (h *IdentityHandler) Lookup(w http.ResponseWriter, r *http.Request) {
	email := strings.TrimSpace(r.URL.Query().Get("email"))
	externalID := strings.TrimSpace(r.URL.Query().Get("external_id"))

	if (email == "") == (externalID == "") {
		handleServiceError(w, r, model.NewInvalidInputError("emailとexternal_idのどちらか一方を指定してください"))
		return
	}

	var (
		identity *model.Identity
		err      error
		field    string
		value    string
	)
	if email != "" {
		identity, err = h.service.GetByEmail(r.Context(), email)
		field, value = "email", email
	} else {
		identity, err = h.service.GetByExternalID(r.Context(), externalID)
		field, value = "external_id", externalID
	}
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if identity == nil {
		handleServiceError(w, r, model.NewIdentityLookupNotFoundError(field, value))
		return
	}

	writeJSON(w, http.StatusOK, toIdentityResponse(identity))
}

// Get はIdentityを取得する。
// GET /api/identities/{id}
func (h *IdentityHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	identity, err := h.service.GetByID(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if identity == nil {
		handleServiceError(w, r, model.NewIdentityNotFoundError(id))
		return
	}

	writeJSON(w, http.StatusOK, toIdentityResponse(identity))
}

// Update はIdentityの名前、メールアドレス、電話番号を部分更新する。
// PATCH /api/identities/{id}
func (h *IdentityHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	var req updateIdentityRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, r, err)
		return
	}

	identity, err := h.service.Update(r.Context(), id, model.IdentityUpdate{
		Name:  req.Name,
		Email: req.Email,
		Phone: req.Phone,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toIdentityResponse(identity))
}

// Deactivate はIdentityを無効化する。
// POST /api/identities/{id}/deactivate
func (h *IdentityHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, h.service.Deactivate)
}

// Reactivate は無効化されたIdentityを再度有効にする。
// POST /api/identities/{id}/reactivate
func (h *IdentityHandler) Reactivate(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, h.service.Reactivate)
}

func (h *IdentityHandler) setActive(w http.ResponseWriter, r *http.Request, fn func(context.Context, int64) (*model.Identity, error)) {
	id, err := idParam(r, "id")
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	identity, err := fn(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toIdentityResponse(identity))
}

// Delete はIdentityとその出席記録を削除する。
// DELETE /api/identities/{id}
func (h *IdentityHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	if _, err := h.service.Delete(r.Context(), id); err != nil {
		handleServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
