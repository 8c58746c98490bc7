package extraction

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/clindoc/internal/core"
	"github.com/markdave123-py/clindoc/internal/core/ocr"
)

var longText = strings.Repeat("Patient presents with intermittent chest pain. ", 3)

func extractPDF(t *testing.T, pages []fakePage) (core.ExtractionResult, *fakeSource, *pageRecognizer) {
	t.Helper()
	src := &fakeSource{pages: pages}
	rec := newPageRecognizer(t, pages)
	s := NewPDFStrategy(src.opener(), rec, nil)
	res := s.Extract(context.Background(), Request{DocumentID: "doc", Format: core.FormatPDF, Settings: testSettings()})
	return res, src, rec
}

func TestPDFAllEmbeddedPagesNeverRender(t *testing.T) {
	res, src, rec := extractPDF(t, []fakePage{{embedded: longText}, {embedded: longText}, {embedded: longText}})

	require.Equal(t, core.OutcomeOK, res.Outcome)
	assert.Equal(t, 1.0, res.Confidence)
	assert.Equal(t, "pdf-embedded", res.Method)
	assert.Equal(t, 3, res.Pages.Embedded)
	require.NotNil(t, res.PageCount)
	assert.Equal(t, 3, *res.PageCount)
	assert.Zero(t, src.renders.Load())
	assert.Zero(t, rec.calls.Load())
	assert.True(t, src.closed)
}

func TestPDFOCRPagesLowerConfidence(t *testing.T) {
	scanned := fakePage{ocr: []ocr.Word{{Text: "Impression:", Confidence: 0.8}, {Text: "normal", Confidence: 0.8}}}

	res, src, _ := extractPDF(t, []fakePage{{embedded: longText}, scanned, {embedded: longText}})

	require.Equal(t, core.OutcomeOK, res.Outcome)
	assert.Less(t, res.Confidence, 1.0)
	assert.InDelta(t, (1.0+0.8+1.0)/3, res.Confidence, 1e-9)
	assert.Equal(t, "pdf-hybrid", res.Method)
	assert.Equal(t, int32(1), src.renders.Load(), "only the image page is rendered")

	lines := strings.Split(res.Text, "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "Impression: normal", lines[1], "page order is preserved")
}

func TestPDFPageTimeoutFallsBackToShortEmbeddedText(t *testing.T) {
	res, _, _ := extractPDF(t, []fakePage{
		{embedded: longText},
		{embedded: "Page 2 of 3", hang: true},
		{embedded: longText},
	})

	require.Equal(t, core.OutcomeOK, res.Outcome)
	assert.Contains(t, res.Text, "Page 2 of 3")
	assert.InDelta(t, (1.0+embeddedFallbackConfidence+1.0)/3, res.Confidence, 1e-9)
	assert.Equal(t, 1, res.Pages.TimedOut)
	assert.Equal(t, 2, res.Pages.Embedded)
}

func TestPDFAllPagesTimedOutWithoutTextIsTimeout(t *testing.T) {
	res, _, _ := extractPDF(t, []fakePage{{hang: true}, {hang: true}})

	assert.Equal(t, core.OutcomeTimeout, res.Outcome)
	assert.Empty(t, res.Text)
	require.NotNil(t, res.PageCount)
	assert.Equal(t, 2, res.Pages.TimedOut)
}

func TestPDFOverCeilingIsNeverRendered(t *testing.T) {
	src := &fakeSource{count: 25}
	rec := newPageRecognizer(t, nil)
	s := NewPDFStrategy(src.opener(), rec, nil)

	res := s.Extract(context.Background(), Request{Format: core.FormatPDF, Settings: testSettings()})

	assert.Equal(t, core.OutcomeOversized, res.Outcome)
	require.NotNil(t, res.PageCount)
	assert.Equal(t, 25, *res.PageCount)
	assert.Zero(t, src.renders.Load())
	assert.Zero(t, rec.calls.Load())
}

func TestPDFRenderFailureKeepsGoing(t *testing.T) {
	pages := []fakePage{{embedded: "short"}, {embedded: longText}}
	src := &fakeSource{pages: pages, renderFn: func(int) ([]byte, error) { return nil, errors.New("pdftoppm crashed") }}
	s := NewPDFStrategy(src.opener(), newPageRecognizer(t, pages), nil)

	res := s.Extract(context.Background(), Request{Format: core.FormatPDF, Settings: testSettings()})

	require.Equal(t, core.OutcomeOK, res.Outcome)
	assert.Equal(t, "short\n"+strings.TrimSpace(longText), res.Text)
}

func TestPDFRenderFailureWithoutTextIsToolError(t *testing.T) {
	pages := []fakePage{{}, {}}
	src := &fakeSource{pages: pages, renderFn: func(int) ([]byte, error) {
		return nil, errors.New("pdftoppm: executable file not found")
	}}
	s := NewPDFStrategy(src.opener(), newPageRecognizer(t, pages), nil)

	res := s.Extract(context.Background(), Request{Format: core.FormatPDF, Settings: testSettings()})

	assert.Equal(t, core.OutcomeToolError, res.Outcome)
	assert.Contains(t, res.Reason, "2 of 2 pages")
	assert.Equal(t, 2, res.Pages.Failed)
	assert.Zero(t, res.Pages.TimedOut)
}

func TestPDFRenderDeadlineIsTimeout(t *testing.T) {
	pages := []fakePage{{}, {}}
	src := &fakeSource{pages: pages, renderFn: func(int) ([]byte, error) {
		return nil, context.DeadlineExceeded
	}}
	s := NewPDFStrategy(src.opener(), newPageRecognizer(t, pages), nil)

	res := s.Extract(context.Background(), Request{Format: core.FormatPDF, Settings: testSettings()})

	assert.Equal(t, core.OutcomeTimeout, res.Outcome)
	assert.Equal(t, 2, res.Pages.TimedOut)
	assert.Zero(t, res.Pages.Failed)
}

func TestPDFOpenFailureIsToolError(t *testing.T) {
	s := NewPDFStrategy(func(context.Context, []byte, int, int) (PageSource, error) {
		return nil, errors.New("xref table broken")
	}, nil, nil)

	res := s.Extract(context.Background(), Request{Format: core.FormatPDF, Settings: testSettings()})
	assert.Equal(t, core.OutcomeToolError, res.Outcome)
	assert.Contains(t, res.Reason, "xref table broken")
}

func TestTextFromContentStream(t *testing.T) {
	stream := []byte(`BT
/F1 12 Tf
72 712 Td
(Discharge Summary) Tj
0 -14 Td
[(Hemo) 20 (globin) -250 (12.1 g/dL)] TJ
(Follow up \(2 weeks\)) '
<48656C6C6F> Tj
ET`)

	got := textFromContentStream(stream)
	assert.Equal(t, "Discharge Summary\nHemoglobin 12.1 g/dL\nFollow up (2 weeks)Hello", got)
}

func TestTextFromContentStreamDecodesWinAnsi(t *testing.T) {
	stream := []byte(`BT /F1 12 Tf (Caf\351 au lait, n\351e Dupont) Tj ET` + "\nBT (\x93stable\x94) Tj ET")

	got := textFromContentStream(stream)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, "Café au lait, née Dupont\n\u201cstable\u201d", got)
	assert.NoError(t, CheckBinary(got))
}
