package audit

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/clindoc/internal/core"
	"github.com/markdave123-py/clindoc/internal/models"
)

type memStore struct {
	events []*models.AuditEvent
	err    error
}

func (m *memStore) InsertAuditEvent(_ context.Context, e *models.AuditEvent) error {
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, e)
	return nil
}

func TestDBLoggerStoresMetricsOnly(t *testing.T) {
	store := &memStore{}
	l := NewDBLogger(store)

	err := l.Log(context.Background(), core.AuditEvent{
		Name:       core.EventPHIRedacted,
		DocumentID: "doc-1",
		TenantID:   "clinic-a",
		PatientID:  "p-7",
		Confidence: 0.82,
		TextLength: 512,
		Detail:     map[string]any{"phi_counts": map[string]int{"name": 3}},
	})
	require.NoError(t, err)
	require.Len(t, store.events, 1)

	got := store.events[0]
	assert.NotEmpty(t, got.ID)
	assert.Equal(t, core.EventPHIRedacted, got.Event)
	assert.Equal(t, "p-7", got.PatientID)
	assert.JSONEq(t, `{"phi_counts":{"name":3}}`, got.Detail)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestSlogLoggerWritesStructuredRecord(t *testing.T) {
	var buf bytes.Buffer
	l := NewSlogLogger(slog.New(slog.NewJSONHandler(&buf, nil)))

	require.NoError(t, l.Log(context.Background(), core.AuditEvent{
		Name: core.EventProcessingStarted, DocumentID: "doc-1", TenantID: "clinic-a",
	}))
	assert.Contains(t, buf.String(), `"event":"processing_started"`)
	assert.Contains(t, buf.String(), `"document_id":"doc-1"`)
	assert.NotContains(t, buf.String(), "patient_id")
}

func TestMultiJoinsErrors(t *testing.T) {
	ok := &memStore{}
	broken := &memStore{err: errors.New("db down")}

	err := Multi{NewDBLogger(broken), NewDBLogger(ok)}.Log(context.Background(), core.AuditEvent{Name: "x"})
	assert.ErrorContains(t, err, "db down")
	assert.Len(t, ok.events, 1, "a failing sink does not starve the others")
}
