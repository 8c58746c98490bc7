package handlers

import (
	"encoding/json"
	"net/http"

	appMiddleware "github.com/markdave123-py/clindoc/internal/api/middlewares"
)

type batchRequest struct {
	DocumentIDs []string `json:"document_ids"`
	Workers     int      `json:"workers"`
}

// maxBatchSize bounds one synchronous request; larger runs go through cmd/batch.
const maxBatchSize = 500

// RunBatch processes the listed documents synchronously and returns the report.
func (h *DocumentHandler) RunBatch(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := appMiddleware.TenantID(r.Context())
	if !ok {
		http.Error(w, "tenant_id not found in context", http.StatusUnauthorized)
		return
	}

	var req batchRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if len(req.DocumentIDs) == 0 {
		http.Error(w, "document_ids is required", http.StatusBadRequest)
		return
	}
	if len(req.DocumentIDs) > maxBatchSize {
		http.Error(w, "too many documents in one batch", http.StatusRequestEntityTooLarge)
		return
	}

	report, err := h.docs.RunBatch(r.Context(), tenantID, req.DocumentIDs, req.Workers)
	if err != nil {
		h.logger.Error("batch failed", "tenant_id", tenantID, "error", err)
		http.Error(w, "batch failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// Health reports liveness.
func Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
