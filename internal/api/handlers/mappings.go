package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/spendsight/spendsight/internal/merchant"
	"github.com/spendsight/spendsight/internal/tenant"
)

type MappingHandler struct {
	store *merchant.Store
}

func NewMappingHandler(store *merchant.Store) *MappingHandler {
	return &MappingHandler{store: store}
}

type confirmMappingRequest struct {
	MerchantName string `json:"merchant_name"`
	CategoryName string `json:"category_name"`
}

// Confirm appends one merchant→category association. The log feeds
// extraction and refinement as context, it never rewrites past imports.
func (h *MappingHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	var req confirmMappingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	req.MerchantName = strings.TrimSpace(req.MerchantName)
	req.CategoryName = strings.TrimSpace(req.CategoryName)
	if req.MerchantName == "" || req.CategoryName == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "merchant_name and category_name required"})
		return
	}

	m, err := h.store.Append(r.Context(), tenant.IDFromContext(r.Context()), req.MerchantName, req.CategoryName)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusCreated, m)
}

func (h *MappingHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 50
	}

	mappings, err := h.store.Recent(r.Context(), tenant.IDFromContext(r.Context()), limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"mappings": mappings, "count": len(mappings)})
}
