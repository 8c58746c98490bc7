package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/markdave123-py/clindoc/internal/core"
	"github.com/markdave123-py/clindoc/internal/core/ingestion_engine"
	"github.com/markdave123-py/clindoc/internal/models"
)

// BatchRunner is satisfied by *ingestion_engine.Orchestrator.
type BatchRunner interface {
	ProcessBatch(ctx context.Context, ids []string, workers int, progress ingestion_engine.ProgressFunc) (*ingestion_engine.BatchReport, error)
}

type DocumentService struct {
	db       core.DbClient
	storage  core.ObjectClient
	bucket   string
	batches  BatchRunner
	ingestor ingestion_engine.Ingestor
}

func NewDocumentService(db core.DbClient, storage core.ObjectClient, bucket string, batches BatchRunner, ing ingestion_engine.Ingestor) *DocumentService {
	return &DocumentService{db: db, storage: storage, bucket: bucket, batches: batches, ingestor: ing}
}

// Upload describes one incoming document. ContentType is whatever the
// client declared.
type Upload struct {
	TenantID    string
	PatientID   string
	FileName    string
	ContentType string
	SourceType  string
	Body        io.Reader
}

// UploadAndCreate stores the bytes, records the document and queues it for
// background processing.
func (s *DocumentService) UploadAndCreate(ctx context.Context, u Upload) (*models.Document, error) {
	if u.TenantID == "" {
		return nil, errors.New("tenant id is required")
	}
	switch u.SourceType {
	case "":
		u.SourceType = models.SourceUpload
	case models.SourceUpload, models.SourceEMR:
	default:
		return nil, fmt.Errorf("unknown source type %q", u.SourceType)
	}
	if u.ContentType == "" {
		u.ContentType = "application/octet-stream"
	}

	docID := uuid.NewString()
	key := s.objectKey(u.TenantID, docID, u.FileName)

	url, err := s.storage.UploadFile(ctx, s.bucket, key, u.Body, u.ContentType)
	if err != nil {
		return nil, fmt.Errorf("upload document: %w", err)
	}

	doc := &models.Document{
		ID:          docID,
		TenantID:    u.TenantID,
		PatientID:   u.PatientID,
		FileName:    filepath.Base(u.FileName),
		StorageURL:  url,
		SourceType:  u.SourceType,
		ContentType: u.ContentType,
		Status:      models.StatusUploaded,
	}
	if err := s.db.CreateDocument(ctx, doc); err != nil {
		_ = s.storage.DeleteFile(context.WithoutCancel(ctx), s.bucket, key)
		return nil, fmt.Errorf("store document metadata: %w", err)
	}

	if s.ingestor != nil {
		s.ingestor.Enqueue(doc.ID)
	}
	return doc, nil
}

// Get returns the document only when it belongs to tenantID.
func (s *DocumentService) Get(ctx context.Context, tenantID, id string) (*models.Document, error) {
	doc, err := s.db.GetDocumentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc == nil || doc.TenantID != tenantID {
		return nil, fmt.Errorf("%w: %s", core.ErrDocumentNotFound, id)
	}
	return doc, nil
}

func (s *DocumentService) ListByTenant(ctx context.Context, tenantID string) ([]models.Document, error) {
	return s.db.ListDocumentsByTenant(ctx, tenantID)
}

// Chunks returns the stored chunks of one of the tenant's documents.
func (s *DocumentService) Chunks(ctx context.Context, tenantID, id string) ([]models.DocumentChunk, error) {
	if _, err := s.Get(ctx, tenantID, id); err != nil {
		return nil, err
	}
	return s.db.GetChunksByDocument(ctx, id)
}

// RunBatch processes the tenant's documents among ids. Ids the tenant does
// not own are reported as failed without being touched.
func (s *DocumentService) RunBatch(ctx context.Context, tenantID string, ids []string, workers int) (*ingestion_engine.BatchReport, error) {
	var (
		owned   []string
		foreign []string
		seen    = make(map[string]bool, len(ids))
	)
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true

		doc, err := s.db.GetDocumentByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("load document %s: %w", id, err)
		}
		if doc == nil || doc.TenantID != tenantID {
			foreign = append(foreign, id)
			continue
		}
		owned = append(owned, id)
	}

	report, err := s.batches.ProcessBatch(ctx, owned, workers, nil)
	if err != nil {
		return nil, err
	}
	if len(foreign) == 0 {
		return report, nil
	}

	for _, id := range foreign {
		report.Total++
		report.Failed = append(report.Failed, ingestion_engine.FailedDocument{ID: id, Error: core.ErrDocumentNotFound.Error()})
	}
	if report.DurationSeconds > 0 {
		report.Throughput = float64(report.Resolved()) / report.DurationSeconds
	}
	return report, nil
}

// objectKey creates a consistent storage key layout.
func (s *DocumentService) objectKey(tenantID, docID, filename string) string {
	filename = filepath.Base(strings.TrimSpace(filename))
	filename = strings.ReplaceAll(filename, " ", "_")
	if filename == "." || filename == "/" || filename == "" {
		filename = "document"
	}
	return path.Join("tenants", tenantID, "documents", docID, filename)
}
