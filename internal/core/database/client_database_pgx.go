package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/markdave123-py/clindoc/internal/config"
	"github.com/markdave123-py/clindoc/internal/core"
	"github.com/markdave123-py/clindoc/internal/models"
)

var _ core.DbClient = (*DatabaseClient)(nil)

// DatabaseClient implements core.DbClient over database/sql. Queries use
// ascending $n placeholders, which both pgx and SQLite bind positionally.
type DatabaseClient struct {
	db *sql.DB
}

func NewDatabaseClient(ctx context.Context, cfg *config.Config) (core.DbClient, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database client configuration is nil")
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is empty")
	}
	return Open(ctx, cfg.DatabaseURL)
}

// Open connects to a postgres:// or sqlite:// URL and bootstraps the schema.
func Open(ctx context.Context, databaseURL string) (*DatabaseClient, error) {
	var (
		db  *sql.DB
		err error
	)
	switch {
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		db, err = openPostgres(databaseURL)
	case strings.HasPrefix(databaseURL, "sqlite://"):
		db, err = openSQLite(strings.TrimPrefix(databaseURL, "sqlite://"))
	default:
		return nil, fmt.Errorf("unsupported DATABASE_URL scheme: %q", databaseURL)
	}
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if err := EnsureBootstrapped(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	return &DatabaseClient{db: db}, nil
}

func openPostgres(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)
	return db, nil
}

func (c *DatabaseClient) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// DB exposes the pool for components that keep their own tables, such as
// the audit sink.
func (c *DatabaseClient) DB() *sql.DB { return c.db }

// Implementing the db interface for Document

func (c *DatabaseClient) CreateDocument(ctx context.Context, doc *models.Document) error {
	if doc == nil {
		return errors.New("nil document")
	}
	now := time.Now().UTC()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	if doc.UpdatedAt.IsZero() {
		doc.UpdatedAt = now
	}
	if doc.Status == "" {
		doc.Status = models.StatusUploaded
	}

	const q = `
		INSERT INTO documents
			(id, tenant_id, patient_id, file_name, storage_url, source_type, content_type, status, created_at, updated_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := c.db.ExecContext(ctx, q,
		doc.ID, doc.TenantID, nullString(doc.PatientID), doc.FileName, doc.StorageURL,
		doc.SourceType, doc.ContentType, doc.Status, doc.CreatedAt, doc.UpdatedAt)
	return err
}

func (c *DatabaseClient) GetDocumentByID(ctx context.Context, id string) (*models.Document, error) {
	return getDocument(ctx, c.db, id)
}

func (c *DatabaseClient) ListDocumentsByTenant(ctx context.Context, tenantID string) ([]models.Document, error) {
	q := `SELECT ` + documentColumns + ` FROM documents WHERE tenant_id = $1 ORDER BY created_at DESC`
	rows, err := c.db.QueryContext(ctx, q, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func (c *DatabaseClient) UpdateDocumentStatus(ctx context.Context, id string, status string) error {
	const q = `
		UPDATE documents
		SET status = $1, updated_at = $2
		WHERE id = $3
	`
	res, err := c.db.ExecContext(ctx, q, status, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%w: %s", core.ErrDocumentNotFound, id)
	}
	return nil
}

// MarkTimedOut flags documents abandoned at the batch deadline. Documents
// that already reached another terminal status keep it.
func (c *DatabaseClient) MarkTimedOut(ctx context.Context, ids []string, reason string) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	const q = `
		UPDATE documents
		SET status = $1, outcome = $2, reason = $3, updated_at = $4
		WHERE id = $5 AND status IN ('uploaded', 'processing')
	`
	now := time.Now().UTC()
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, q, models.StatusTimedOut, string(core.OutcomeTimeout), reason, now, id); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("mark %s timed out: %w", id, err)
		}
	}
	return tx.Commit()
}

// Implementing the db interface for Document Chunks

func (c *DatabaseClient) GetChunksByDocument(ctx context.Context, documentID string) ([]models.DocumentChunk, error) {
	const q = `
		SELECT id, document_id, position, text, token_count, created_at
		FROM document_chunks
		WHERE document_id = $1
		ORDER BY position ASC
	`
	rows, err := c.db.QueryContext(ctx, q, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.DocumentChunk
	for rows.Next() {
		var ch models.DocumentChunk
		if err := rows.Scan(
			&ch.ID, &ch.DocumentID, &ch.Position, &ch.Text, &ch.TokenCount, &ch.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, ch)
	}
	return out, rows.Err()
}

// Implementing the db interface for audit events

func (c *DatabaseClient) InsertAuditEvent(ctx context.Context, e *models.AuditEvent) error {
	if e == nil {
		return errors.New("nil audit event")
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	const q = `
		INSERT INTO audit_events
			(id, event, document_id, tenant_id, patient_id, confidence, text_length, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := c.db.ExecContext(ctx, q,
		e.ID, e.Event, e.DocumentID, e.TenantID, nullString(e.PatientID), e.Confidence, e.TextLength, e.Detail, e.CreatedAt)
	return err
}

// ListAuditEvents returns the audit trail of one document, oldest first.
func (c *DatabaseClient) ListAuditEvents(ctx context.Context, documentID string) ([]models.AuditEvent, error) {
	const q = `
		SELECT id, event, document_id, tenant_id, patient_id, confidence, text_length, detail, created_at
		FROM audit_events
		WHERE document_id = $1
		ORDER BY created_at ASC
	`
	rows, err := c.db.QueryContext(ctx, q, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.AuditEvent
	for rows.Next() {
		var (
			e       models.AuditEvent
			patient sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.Event, &e.DocumentID, &e.TenantID, &patient,
			&e.Confidence, &e.TextLength, &e.Detail, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.PatientID = patient.String
		out = append(out, e)
	}
	return out, rows.Err()
}

// Session pins one pooled connection for a batch worker.
func (c *DatabaseClient) Session(ctx context.Context) (core.DbSession, error) {
	conn, err := c.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	return &session{conn: conn}, nil
}
