package ingestion_engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/clindoc/internal/core"
	"github.com/markdave123-py/clindoc/internal/core/extraction"
)

func newCoordinator(t *testing.T, engine *fakeExtractor, phi core.PHIFilter) (*Coordinator, *recordingAudit) {
	t.Helper()
	audit := &recordingAudit{}
	c, err := NewCoordinator(engine, phi, audit, nil)
	require.NoError(t, err)
	return c, audit
}

func rawText(id, body string) core.RawDocument {
	return core.RawDocument{ID: id, TenantID: "clinic-a", PatientID: "p-1", Data: []byte(body), ContentType: "text/plain", Title: id + ".txt"}
}

func TestNewCoordinatorValidatesCollaborators(t *testing.T) {
	_, err := NewCoordinator(nil, core.PassthroughPHIFilter{}, &recordingAudit{}, nil)
	assert.Error(t, err)
	_, err = NewCoordinator(&fakeExtractor{}, nil, &recordingAudit{}, nil)
	assert.Error(t, err)
	_, err = NewCoordinator(&fakeExtractor{}, core.PassthroughPHIFilter{}, nil, nil)
	assert.Error(t, err)
}

func TestCoordinatorRedactsBeforeChunking(t *testing.T) {
	engine := &fakeExtractor{}
	c, audit := newCoordinator(t, engine, nameFilter{name: "Jane Roe"})

	p := c.Process(context.Background(), testSettings(time.Second), rawText("doc-1", "Patient Jane Roe\nHbA1c 6.9%"))

	assert.Equal(t, core.OutcomeOK, p.Result.Outcome)
	assert.Equal(t, core.FormatText, p.Format)
	assert.Empty(t, p.Result.Text, "unredacted text never leaves the coordinator")
	assert.Equal(t, "Patient [NAME]\nHbA1c 6.9%", p.Text)
	assert.Equal(t, map[string]int{"name": 1}, p.PHICounts)
	assert.Equal(t, len([]rune(p.Text)), p.TextLength)
	require.Len(t, p.Chunks, 1)
	assert.NotContains(t, p.Chunks[0].Text, "Jane")
	assert.Equal(t, "doc-1", p.Chunks[0].DocumentID)

	assert.Equal(t, []string{
		core.EventProcessingStarted,
		core.EventPHIRedacted,
		core.EventProcessingCompleted,
	}, audit.names("doc-1"))
	for _, e := range audit.events {
		assert.Equal(t, "clinic-a", e.TenantID)
		assert.Equal(t, "p-1", e.PatientID)
		for _, v := range e.Detail {
			assert.NotContains(t, fmt.Sprint(v), "Jane")
		}
	}
}

func TestCoordinatorOversizedNeverExtracts(t *testing.T) {
	engine := &fakeExtractor{}
	c, audit := newCoordinator(t, engine, core.PassthroughPHIFilter{})

	p := c.Process(context.Background(), testSettings(time.Second), core.RawDocument{
		ID: "big", Data: pageTree(25), ContentType: "text/plain", Title: "big.txt",
	})

	assert.Equal(t, core.OutcomeOversized, p.Result.Outcome)
	assert.Equal(t, core.FormatPDF, p.Format, "magic bytes beat the declared type")
	require.NotNil(t, p.PageCount())
	assert.Equal(t, 25, *p.PageCount())
	assert.Zero(t, engine.total())
	assert.Equal(t, []string{core.EventProcessingStarted, core.EventProcessingCompleted}, audit.names("big"))
}

func TestCoordinatorRejectsBinaryText(t *testing.T) {
	engine := &fakeExtractor{fn: func(context.Context, extraction.Request) core.ExtractionResult {
		return core.Ok("%PDF-1.7\n1 0 obj << /Length 5 >> stream", 1, "fake")
	}}
	c, audit := newCoordinator(t, engine, core.PassthroughPHIFilter{})

	p := c.Process(context.Background(), testSettings(time.Second), rawText("doc-1", "looks like text"))

	assert.Equal(t, core.OutcomeBinaryRejected, p.Result.Outcome)
	assert.Empty(t, p.Text)
	assert.Empty(t, p.Chunks)
	assert.Equal(t, []string{core.EventProcessingStarted, core.EventProcessingFailed}, audit.names("doc-1"))
}

func TestCoordinatorUnknownFormatIsUnsupported(t *testing.T) {
	engine := &fakeExtractor{}
	c, _ := newCoordinator(t, engine, core.PassthroughPHIFilter{})

	p := c.Process(context.Background(), testSettings(time.Second), core.RawDocument{
		ID: "blob", Data: []byte{0x00, 0x01, 0x02, 0x03, 0xfe}, ContentType: "application/octet-stream", Title: "blob.bin",
	})

	assert.Equal(t, core.OutcomeUnsupported, p.Result.Outcome)
	assert.NotEmpty(t, p.Result.Reason)
	assert.Zero(t, engine.total())
}

func TestCoordinatorWhitespaceIsEmpty(t *testing.T) {
	engine := &fakeExtractor{fn: func(context.Context, extraction.Request) core.ExtractionResult {
		return core.Ok(" \n\t ", 0.9, "fake")
	}}
	c, audit := newCoordinator(t, engine, core.PassthroughPHIFilter{})

	p := c.Process(context.Background(), testSettings(time.Second), rawText("doc-1", "x"))

	assert.Equal(t, core.OutcomeEmpty, p.Result.Outcome)
	assert.Zero(t, p.Result.Confidence)
	assert.Equal(t, []string{core.EventProcessingStarted, core.EventProcessingCompleted}, audit.names("doc-1"))
}

func TestCoordinatorRedactionFailureIsToolError(t *testing.T) {
	c, audit := newCoordinator(t, &fakeExtractor{}, nameFilter{err: errors.New("redactor unavailable")})

	p := c.Process(context.Background(), testSettings(time.Second), rawText("doc-1", "Patient Jane Roe"))

	assert.Equal(t, core.OutcomeToolError, p.Result.Outcome)
	assert.Contains(t, p.Result.Reason, "redactor unavailable")
	assert.Empty(t, p.Text)
	assert.Equal(t, []string{core.EventProcessingStarted, core.EventProcessingFailed}, audit.names("doc-1"))
}

func TestCoordinatorPassesSettingsSnapshot(t *testing.T) {
	var seen extraction.Request
	engine := &fakeExtractor{fn: func(_ context.Context, req extraction.Request) core.ExtractionResult {
		seen = req
		return core.Ok("ok", 1, "fake")
	}}
	c, _ := newCoordinator(t, engine, core.PassthroughPHIFilter{})

	set := testSettings(7 * time.Second)
	set.MaxPages = 3
	c.Process(context.Background(), set, rawText("doc-1", "hello"))

	assert.Equal(t, set, seen.Settings)
	assert.Equal(t, core.FormatText, seen.Format)
	assert.Equal(t, "doc-1", seen.DocumentID)
}
