package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/spendsight/spendsight/internal/models"
	"github.com/spendsight/spendsight/internal/rules"
	"github.com/spendsight/spendsight/internal/tenant"
)

type RuleHandler struct {
	store *rules.Store
}

func NewRuleHandler(store *rules.Store) *RuleHandler {
	return &RuleHandler{store: store}
}

type createRuleRequest struct {
	Name       string                 `json:"name"`
	Priority   int                    `json:"priority"`
	Logic      string                 `json:"logic"`
	Conditions []models.RuleCondition `json:"conditions"`
	Actions    []models.RuleAction    `json:"actions"`
	Enabled    *bool                  `json:"enabled"`
}

func (h *RuleHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	rule := &models.Rule{
		TenantID:   tenant.IDFromContext(r.Context()),
		Name:       req.Name,
		Priority:   req.Priority,
		Logic:      req.Logic,
		Conditions: req.Conditions,
		Actions:    req.Actions,
		Enabled:    enabled,
	}

	if err := h.store.Create(r.Context(), rule); err != nil {
		var verr *models.RuleValidationError
		if errors.As(err, &verr) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": verr.Error()})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusCreated, rule)
}

func (h *RuleHandler) List(w http.ResponseWriter, r *http.Request) {
	ruleSet, err := h.store.List(r.Context(), tenant.IDFromContext(r.Context()))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"rules": ruleSet, "count": len(ruleSet)})
}

func (h *RuleHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid rule ID"})
		return
	}

	if err := h.store.Delete(r.Context(), tenant.IDFromContext(r.Context()), id); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
