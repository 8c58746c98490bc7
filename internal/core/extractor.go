package core

import (
	"context"
)

// RawDocument is the immutable input to the pipeline. ContentType and Title
// are caller-declared and never trusted over the bytes themselves.
type RawDocument struct {
	ID          string
	TenantID    string
	PatientID   string
	Source      string
	Data        []byte
	ContentType string
	Title       string
}

// PHIFilter redacts protected health information. It returns the filtered
// text and a count per PHI type found.
type PHIFilter interface {
	Redact(ctx context.Context, text string) (string, map[string]int, error)
}

// AuditLogger receives processing milestones. Events carry ids and metrics only.
type AuditLogger interface {
	Log(ctx context.Context, event AuditEvent) error
}

// Audit event names.
const (
	EventProcessingStarted   = "processing_started"
	EventPHIRedacted         = "phi_redacted"
	EventProcessingCompleted = "processing_completed"
	EventProcessingFailed    = "processing_failed"
)

// AuditEvent is the in-process form of models.AuditEvent.
type AuditEvent struct {
	Name       string
	DocumentID string
	TenantID   string
	PatientID  string
	Confidence float64
	TextLength int
	Detail     map[string]any
}

// PassthroughPHIFilter returns text unchanged. It is only meant for local runs
// where the redaction service is not deployed.
type PassthroughPHIFilter struct{}

func (PassthroughPHIFilter) Redact(_ context.Context, text string) (string, map[string]int, error) {
	return text, map[string]int{}, nil
}
