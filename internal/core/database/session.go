package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/markdave123-py/clindoc/internal/core"
	"github.com/markdave123-py/clindoc/internal/models"
)

const documentColumns = `id, tenant_id, patient_id, file_name, storage_url, source_type, content_type,
	status, format, outcome, reason, page_count, confidence, text_length, phi_counts, created_at, updated_at`

type rowQueryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

func getDocument(ctx context.Context, q rowQueryer, id string) (*models.Document, error) {
	row := q.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = $1`, id)
	d, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return d, err
}

func scanDocument(s scanner) (*models.Document, error) {
	var (
		d       models.Document
		patient sql.NullString
		pages   sql.NullInt64
	)
	err := s.Scan(
		&d.ID, &d.TenantID, &patient, &d.FileName, &d.StorageURL, &d.SourceType, &d.ContentType,
		&d.Status, &d.Format, &d.Outcome, &d.Reason, &pages, &d.Confidence, &d.TextLength, &d.PHICounts,
		&d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	d.PatientID = patient.String
	if pages.Valid {
		n := int(pages.Int64)
		d.PageCount = &n
	}
	return &d, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// session is a DbSession bound to one connection. It is owned by a single
// worker and must not be shared.
type session struct {
	conn *sql.Conn
}

var _ core.DbSession = (*session)(nil)

func (s *session) GetDocumentByID(ctx context.Context, id string) (*models.Document, error) {
	return getDocument(ctx, s.conn, id)
}

func (s *session) MarkProcessing(ctx context.Context, id string) error {
	res, err := s.conn.ExecContext(ctx,
		`UPDATE documents SET status = $1, updated_at = $2 WHERE id = $3`,
		models.StatusProcessing, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", core.ErrDocumentNotFound, id)
	}
	return nil
}

func (s *session) RecordPageCount(ctx context.Context, id string, pages int) error {
	_, err := s.conn.ExecContext(ctx,
		`UPDATE documents SET page_count = $1, updated_at = $2 WHERE id = $3`,
		pages, time.Now().UTC(), id)
	return err
}

// SaveOutcome replaces the document's chunks and terminal fields in one
// transaction, so a failed write leaves the previous state intact.
func (s *session) SaveOutcome(ctx context.Context, o core.DocumentOutcome) error {
	phi := ""
	if len(o.PHICounts) > 0 {
		b, err := json.Marshal(o.PHICounts)
		if err != nil {
			return fmt.Errorf("encode phi counts: %w", err)
		}
		phi = string(b)
	}
	var pages sql.NullInt64
	if o.PageCount != nil {
		pages = sql.NullInt64{Int64: int64(*o.PageCount), Valid: true}
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	const update = `
		UPDATE documents
		SET status = $1, format = $2, outcome = $3, reason = $4,
		    page_count = COALESCE($5, page_count), confidence = $6, text_length = $7,
		    phi_counts = $8, updated_at = $9
		WHERE id = $10
	`
	res, err := tx.ExecContext(ctx, update,
		o.Status, string(o.Format), string(o.Outcome), o.Reason, pages, o.Confidence, o.TextLength, phi, now, o.DocumentID)
	if err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", core.ErrDocumentNotFound, o.DocumentID)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM document_chunks WHERE document_id = $1`, o.DocumentID); err != nil {
		return fmt.Errorf("clear chunks: %w", err)
	}

	if len(o.Chunks) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO document_chunks (id, document_id, position, text, token_count, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for i := range o.Chunks {
			ch := &o.Chunks[i]
			if ch.CreatedAt.IsZero() {
				ch.CreatedAt = now
			}
			if _, err := stmt.ExecContext(ctx, ch.ID, o.DocumentID, ch.Position, ch.Text, ch.TokenCount, ch.CreatedAt); err != nil {
				return fmt.Errorf("insert chunk %d: %w", ch.Position, err)
			}
		}
	}

	return tx.Commit()
}

func (s *session) Close() error { return s.conn.Close() }
