package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/spendsight/spendsight/internal/tenant"
	"github.com/spendsight/spendsight/internal/transaction"
)

type TransactionHandler struct {
	store *transaction.Store
}

func NewTransactionHandler(store *transaction.Store) *TransactionHandler {
	return &TransactionHandler{store: store}
}

// ListByDocument returns the transactions imported from one document.
func (h *TransactionHandler) ListByDocument(w http.ResponseWriter, r *http.Request) {
	docID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid document ID"})
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if limit <= 0 {
		limit = 100
	}

	txs, err := h.store.ListByDocument(r.Context(), tenant.IDFromContext(r.Context()), docID, limit, offset)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"transactions": txs, "count": len(txs)})
}
