package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog"

	apiContext "stencil/internal/api/context"
	apiErrors "stencil/internal/pkg/errors"
	"stencil/internal/platform/config"
	"stencil/internal/platform/models"
	"stencil/internal/platform/repositories"
)

const (
	maxItemNameLength        = 255
	maxItemDescriptionLength = 5000
)

type ItemHandler struct {
	repo   *repositories.ItemRepository
	limits config.LimitsConfig
}

func NewItemHandler(repo *repositories.ItemRepository, limits config.LimitsConfig) *ItemHandler {
	return &ItemHandler{repo: repo, limits: limits}
}

type itemRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
}

type itemListResponse struct {
	Items  []models.Item `json:"items"`
	Total  int64         `json:"total"`
	Offset int           `json:"offset"`
	Limit  int           `json:"limit"`
}

func (h *ItemHandler) Create(w http.ResponseWriter, r *http.Request) {
	correlationID := apiContext.CorrelationIDFrom(r.Context())

	var req itemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiErrors.WriteError(w, http.StatusBadRequest, apiErrors.ErrCodeInvalidInput, "invalid request body", correlationID, nil)
		return
	}

	name, msg := validateItemName(req.Name, true)
	if msg != "" {
		apiErrors.WriteError(w, http.StatusBadRequest, apiErrors.ErrCodeInvalidInput, msg, correlationID, nil)
		return
	}
	if req.Description != nil && len(*req.Description) > maxItemDescriptionLength {
		apiErrors.WriteError(w, http.StatusBadRequest, apiErrors.ErrCodeInvalidInput, "description too long", correlationID, nil)
		return
	}

	item := &models.Item{Name: name, Description: req.Description}
	if err := h.repo.Create(r.Context(), item); err != nil {
		h.internalError(w, r, err, correlationID)
		return
	}

	writeJSON(w, http.StatusCreated, item)
}

func (h *ItemHandler) List(w http.ResponseWriter, r *http.Request) {
	correlationID := apiContext.CorrelationIDFrom(r.Context())

	offset, limit, msg := h.pagination(r)
	if msg != "" {
		apiErrors.WriteError(w, http.StatusBadRequest, apiErrors.ErrCodeInvalidInput, msg, correlationID, nil)
		return
	}

	items, total, err := h.repo.List(r.Context(), offset, limit)
	if err != nil {
		h.internalError(w, r, err, correlationID)
		return
	}
	if items == nil {
		items = []models.Item{}
	}

	writeJSON(w, http.StatusOK, itemListResponse{Items: items, Total: total, Offset: offset, Limit: limit})
}

func (h *ItemHandler) Get(w http.ResponseWriter, r *http.Request) {
	correlationID := apiContext.CorrelationIDFrom(r.Context())

	id, ok := h.itemID(w, r, correlationID)
	if !ok {
		return
	}

	item, err := h.repo.GetByID(r.Context(), id)
	if errors.Is(err, repositories.ErrNotFound) {
		apiErrors.WriteError(w, http.StatusNotFound, apiErrors.ErrCodeNotFound, "item not found", correlationID, nil)
		return
	}
	if err != nil {
		h.internalError(w, r, err, correlationID)
		return
	}

	writeJSON(w, http.StatusOK, item)
}

func (h *ItemHandler) Update(w http.ResponseWriter, r *http.Request) {
	correlationID := apiContext.CorrelationIDFrom(r.Context())

	id, ok := h.itemID(w, r, correlationID)
	if !ok {
		return
	}

	var req itemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiErrors.WriteError(w, http.StatusBadRequest, apiErrors.ErrCodeInvalidInput, "invalid request body", correlationID, nil)
		return
	}

	var name *string
	if req.Name != nil {
		trimmed, msg := validateItemName(req.Name, true)
		if msg != "" {
			apiErrors.WriteError(w, http.StatusBadRequest, apiErrors.ErrCodeInvalidInput, msg, correlationID, nil)
			return
		}
		name = &trimmed
	}
	if req.Description != nil && len(*req.Description) > maxItemDescriptionLength {
		apiErrors.WriteError(w, http.StatusBadRequest, apiErrors.ErrCodeInvalidInput, "description too long", correlationID, nil)
		return
	}

	item, err := h.repo.Update(r.Context(), id, name, req.Description)
	if errors.Is(err, repositories.ErrNotFound) {
		apiErrors.WriteError(w, http.StatusNotFound, apiErrors.ErrCodeNotFound, "item not found", correlationID, nil)
		return
	}
	if err != nil {
		h.internalError(w, r, err, correlationID)
		return
	}

	writeJSON(w, http.StatusOK, item)
}

func (h *ItemHandler) Delete(w http.ResponseWriter, r *http.Request) {
	correlationID := apiContext.CorrelationIDFrom(r.Context())

	id, ok := h.itemID(w, r, correlationID)
	if !ok {
		return
	}

	err := h.repo.Delete(r.Context(), id)
	if errors.Is(err, repositories.ErrNotFound) {
		apiErrors.WriteError(w, http.StatusNotFound, apiErrors.ErrCodeNotFound, "item not found", correlationID, nil)
		return
	}
	if err != nil {
		h.internalError(w, r, err, correlationID)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *ItemHandler) itemID(w http.ResponseWriter, r *http.Request, correlationID string) (string, bool) {
	params, _ := r.Context().Value(apiContext.Params).(httprouter.Params)
	id := params.ByName("item_id")
	if _, err := uuid.Parse(id); err != nil {
		apiErrors.WriteError(w, http.StatusBadRequest, apiErrors.ErrCodeInvalidInput, "invalid item id", correlationID, nil)
		return "", false
	}
	return id, true
}

func (h *ItemHandler) pagination(r *http.Request) (offset, limit int, msg string) {
	offset = 0
	limit = h.limits.DefaultPageSize

	q := r.URL.Query()
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 || n > h.limits.MaxPageOffset {
			return 0, 0, "offset out of range"
		}
		offset = n
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > h.limits.MaxPageSize {
			return 0, 0, "limit out of range"
		}
		limit = n
	}
	return offset, limit, ""
}

func (h *ItemHandler) internalError(w http.ResponseWriter, r *http.Request, err error, correlationID string) {
	zerolog.Ctx(r.Context()).Error().Err(err).Msg("item operation failed")
	apiErrors.WriteError(w, http.StatusInternalServerError, apiErrors.ErrCodeInternal, "internal server error", correlationID, nil)
}

func validateItemName(name *string, required bool) (string, string) {
	if name == nil {
		if required {
			return "", "name is required"
		}
		return "", ""
	}
	trimmed := strings.TrimSpace(*name)
	if trimmed == "" {
		return "", "name cannot be empty"
	}
	if len(trimmed) > maxItemNameLength {
		return "", "name too long"
	}
	return trimmed, ""
}
