package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	appMiddleware "github.com/markdave123-py/clindoc/internal/api/middlewares"
	"github.com/markdave123-py/clindoc/internal/core"
	"github.com/markdave123-py/clindoc/internal/core/ingestion_engine"
	"github.com/markdave123-py/clindoc/internal/models"
	"github.com/markdave123-py/clindoc/internal/services"
)

// maxUploadBytes bounds the multipart body kept in memory.
const maxUploadBytes = 52 << 20

// DocumentService is satisfied by *services.DocumentService.
type DocumentService interface {
	UploadAndCreate(ctx context.Context, u services.Upload) (*models.Document, error)
	Get(ctx context.Context, tenantID, id string) (*models.Document, error)
	Chunks(ctx context.Context, tenantID, id string) ([]models.DocumentChunk, error)
	ListByTenant(ctx context.Context, tenantID string) ([]models.Document, error)
	RunBatch(ctx context.Context, tenantID string, ids []string, workers int) (*ingestion_engine.BatchReport, error)
}

type DocumentHandler struct {
	docs   DocumentService
	logger *slog.Logger
}

func NewDocumentHandler(docs DocumentService, logger *slog.Logger) *DocumentHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &DocumentHandler{docs: docs, logger: logger}
}

// UploadDocument stores the file, records it and queues background processing.
func (h *DocumentHandler) UploadDocument(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := appMiddleware.TenantID(r.Context())
	if !ok {
		http.Error(w, "tenant_id not found in context", http.StatusUnauthorized)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		http.Error(w, "invalid multipart body", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "invalid file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	uploadctx, cancel := context.WithTimeout(r.Context(), 5*time.Minute)
	defer cancel()

	doc, err := h.docs.UploadAndCreate(uploadctx, services.Upload{
		TenantID:    tenantID,
		PatientID:   r.FormValue("patient_id"),
		FileName:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		SourceType:  r.FormValue("source_type"),
		Body:        file,
	})
	if err != nil {
		h.logger.Error("upload failed", "tenant_id", tenantID, "error", err)
		http.Error(w, "upload failed", http.StatusInternalServerError)
		return
	}

	h.logger.Info("document uploaded", "document_id", doc.ID, "tenant_id", tenantID, "source_type", doc.SourceType)
	writeJSON(w, http.StatusAccepted, doc)
}

func (h *DocumentHandler) GetDocuments(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := appMiddleware.TenantID(r.Context())
	if !ok {
		http.Error(w, "tenant_id not found in context", http.StatusUnauthorized)
		return
	}

	documents, err := h.docs.ListByTenant(r.Context(), tenantID)
	if err != nil {
		h.logger.Error("list documents failed", "tenant_id", tenantID, "error", err)
		http.Error(w, "failed to list documents", http.StatusInternalServerError)
		return
	}
	if documents == nil {
		documents = []models.Document{}
	}
	writeJSON(w, http.StatusOK, documents)
}

func (h *DocumentHandler) GetDocument(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := appMiddleware.TenantID(r.Context())
	if !ok {
		http.Error(w, "tenant_id not found in context", http.StatusUnauthorized)
		return
	}

	doc, err := h.docs.Get(r.Context(), tenantID, chi.URLParam(r, "id"))
	if errors.Is(err, core.ErrDocumentNotFound) {
		http.Error(w, "document not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error("get document failed", "tenant_id", tenantID, "error", err)
		http.Error(w, "failed to load document", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// GetDocumentChunks returns the redacted chunks stored for a document.
func (h *DocumentHandler) GetDocumentChunks(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := appMiddleware.TenantID(r.Context())
	if !ok {
		http.Error(w, "tenant_id not found in context", http.StatusUnauthorized)
		return
	}

	chunks, err := h.docs.Chunks(r.Context(), tenantID, chi.URLParam(r, "id"))
	if errors.Is(err, core.ErrDocumentNotFound) {
		http.Error(w, "document not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error("get chunks failed", "tenant_id", tenantID, "error", err)
		http.Error(w, "failed to load chunks", http.StatusInternalServerError)
		return
	}
	if chunks == nil {
		chunks = []models.DocumentChunk{}
	}
	writeJSON(w, http.StatusOK, chunks)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
