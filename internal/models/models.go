package models

import (
	"time"
)

// Document status values. Processed and Oversized are terminal markers that a
// later batch run short-circuits on.
const (
	StatusUploaded    = "uploaded"
	StatusProcessing  = "processing"
	StatusProcessed   = "processed"
	StatusFailed      = "failed"
	StatusOversized   = "oversized"
	StatusTimedOut    = "timed_out"
	StatusUnsupported = "unsupported"
)

// Source types. Both origins share one OCR timeout.
const (
	SourceUpload = "upload"
	SourceEMR    = "emr"
)

// Document represents a clinical document fetched from an upload or an EMR feed.
type Document struct {
	ID          string    `db:"id" json:"id"`
	TenantID    string    `db:"tenant_id" json:"tenant_id"`
	PatientID   string    `db:"patient_id" json:"patient_id,omitempty"`
	FileName    string    `db:"file_name" json:"file_name"`
	StorageURL  string    `db:"storage_url" json:"storage_url"`   // s3 or file URL
	SourceType  string    `db:"source_type" json:"source_type"`   // "upload" or "emr"
	ContentType string    `db:"content_type" json:"content_type"` // declared by the caller, untrusted
	Status      string    `db:"status" json:"status"`
	Format      string    `db:"format" json:"format,omitempty"`   // resolved by sniffing
	Outcome     string    `db:"outcome" json:"outcome,omitempty"` // extraction outcome
	Reason      string    `db:"reason" json:"reason,omitempty"`   // human readable, for audit
	PageCount   *int      `db:"page_count" json:"page_count,omitempty"`
	Confidence  float64   `db:"confidence" json:"confidence"`
	TextLength  int       `db:"text_length" json:"text_length"`
	PHICounts   string    `db:"phi_counts" json:"phi_counts,omitempty"` // JSON object
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// DocumentChunk represents one token-bounded slice of redacted document text.
type DocumentChunk struct {
	ID         string    `db:"id" json:"id"`
	DocumentID string    `db:"document_id" json:"document_id"`
	Text       string    `db:"text" json:"text"`
	Position   int       `db:"position" json:"position"`
	TokenCount int       `db:"token_count" json:"token_count"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// AuditEvent is one processing milestone. It never carries document text.
type AuditEvent struct {
	ID         string    `db:"id" json:"id"`
	Event      string    `db:"event" json:"event"`
	DocumentID string    `db:"document_id" json:"document_id"`
	TenantID   string    `db:"tenant_id" json:"tenant_id"`
	PatientID  string    `db:"patient_id" json:"patient_id,omitempty"`
	Confidence float64   `db:"confidence" json:"confidence"`
	TextLength int       `db:"text_length" json:"text_length"`
	Detail     string    `db:"detail" json:"detail,omitempty"` // JSON
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}
