package core

import (
	"context"
	"io"

	"github.com/markdave123-py/clindoc/internal/models"
)

// DbClient defines all persistence operations the services need.
// It abstracts Postgres/SQLite so higher layers never depend on a specific DB.
type DbClient interface {
	CreateDocument(ctx context.Context, doc *models.Document) error
	GetDocumentByID(ctx context.Context, id string) (*models.Document, error)
	ListDocumentsByTenant(ctx context.Context, tenantID string) ([]models.Document, error)
	UpdateDocumentStatus(ctx context.Context, id string, status string) error
	MarkTimedOut(ctx context.Context, ids []string, reason string) error

	GetChunksByDocument(ctx context.Context, documentID string) ([]models.DocumentChunk, error)

	InsertAuditEvent(ctx context.Context, event *models.AuditEvent) error

	// Session pins one pooled connection for the caller's exclusive use.
	Session(ctx context.Context) (DbSession, error)

	Close() error
}

// DbSession is a persistence handle owned by a single batch worker.
type DbSession interface {
	GetDocumentByID(ctx context.Context, id string) (*models.Document, error)
	MarkProcessing(ctx context.Context, id string) error
	RecordPageCount(ctx context.Context, id string, pages int) error
	// SaveOutcome writes the document's terminal state and chunks in one transaction.
	SaveOutcome(ctx context.Context, outcome DocumentOutcome) error
	Close() error
}

// DocumentOutcome is what a worker commits for one document.
type DocumentOutcome struct {
	DocumentID string
	Status     string
	Format     Format
	Outcome    Outcome
	Reason     string
	PageCount  *int
	Confidence float64
	TextLength int
	PHICounts  map[string]int
	Chunks     []models.DocumentChunk
}

// ObjectClient defines interactions with S3 or any object storage.
// It's abstract so the bytes can live in AWS, MinIO or a local directory.
type ObjectClient interface {
	UploadFile(ctx context.Context, bucket, key string, data io.Reader, contentType string) (url string, err error)
	DeleteFile(ctx context.Context, bucket, key string) error
	GetFile(ctx context.Context, bucket, key string) ([]byte, error)
	GetObjectReader(ctx context.Context, bucket, key string) (io.ReadCloser, error)

	// ParseURL splits a storage URL produced by UploadFile into bucket and key.
	ParseURL(storageURL string) (bucket, key string, err error)
}
