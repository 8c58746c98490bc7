// Package audit records pipeline milestones. Events carry identifiers and
// metrics only, never document text.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/markdave123-py/clindoc/internal/core"
	"github.com/markdave123-py/clindoc/internal/models"
)

// SlogLogger writes each event as one structured log record.
type SlogLogger struct {
	logger *slog.Logger
}

var _ core.AuditLogger = (*SlogLogger)(nil)

func NewSlogLogger(logger *slog.Logger) *SlogLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogLogger{logger: logger.With("component", "audit")}
}

func (l *SlogLogger) Log(ctx context.Context, e core.AuditEvent) error {
	attrs := []any{
		"event", e.Name,
		"document_id", e.DocumentID,
		"tenant_id", e.TenantID,
		"confidence", e.Confidence,
		"text_length", e.TextLength,
	}
	if e.PatientID != "" {
		attrs = append(attrs, "patient_id", e.PatientID)
	}
	for k, v := range e.Detail {
		attrs = append(attrs, k, v)
	}
	l.logger.InfoContext(ctx, "audit event", attrs...)
	return nil
}

// EventStore is the slice of core.DbClient the database sink needs.
type EventStore interface {
	InsertAuditEvent(ctx context.Context, event *models.AuditEvent) error
}

// DBLogger persists events to the audit_events table.
type DBLogger struct {
	store EventStore
	now   func() time.Time
}

var _ core.AuditLogger = (*DBLogger)(nil)

func NewDBLogger(store EventStore) *DBLogger {
	return &DBLogger{store: store, now: time.Now}
}

func (l *DBLogger) Log(ctx context.Context, e core.AuditEvent) error {
	rec := &models.AuditEvent{
		ID:         uuid.NewString(),
		Event:      e.Name,
		DocumentID: e.DocumentID,
		TenantID:   e.TenantID,
		PatientID:  e.PatientID,
		Confidence: e.Confidence,
		TextLength: e.TextLength,
		CreatedAt:  l.now().UTC(),
	}
	if len(e.Detail) > 0 {
		if b, err := json.Marshal(e.Detail); err == nil {
			rec.Detail = string(b)
		}
	}
	return l.store.InsertAuditEvent(ctx, rec)
}

// Multi fans an event out to every logger and joins their errors.
type Multi []core.AuditLogger

func (m Multi) Log(ctx context.Context, e core.AuditEvent) error {
	var errs []error
	for _, l := range m {
		if err := l.Log(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
