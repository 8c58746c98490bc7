package core

import (
	"errors"
	"fmt"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported format")
	ErrNoExtractor       = errors.New("no extractor registered")
	ErrDocumentNotFound  = errors.New("document not found")

	// ErrTryNext tells a fallback chain to move on to its next step.
	ErrTryNext = errors.New("try next extractor")
)

// Format is the resolved content format of a document.
type Format string

const (
	FormatPDF     Format = "pdf"
	FormatJPEG    Format = "jpeg"
	FormatPNG     Format = "png"
	FormatTIFF    Format = "tiff"
	FormatBMP     Format = "bmp"
	FormatHTML    Format = "html"
	FormatDOCX    Format = "docx"
	FormatDOC     Format = "doc"
	FormatText    Format = "plain-text"
	FormatUnknown Format = "unknown"
)

// MandatoryFormats must all have an extraction strategy before a batch can run.
var MandatoryFormats = []Format{
	FormatPDF, FormatJPEG, FormatPNG, FormatTIFF, FormatBMP,
	FormatHTML, FormatDOCX, FormatDOC, FormatText,
}

func (f Format) IsImage() bool {
	switch f {
	case FormatJPEG, FormatPNG, FormatTIFF, FormatBMP:
		return true
	}
	return false
}

// IsPageOriented reports whether the page governor applies.
func (f Format) IsPageOriented() bool {
	return f == FormatPDF
}

// ResolvedFormat is the sniffer's verdict. Payload holds the bytes to extract
// from, which differ from the input when the input was base64 or armored.
type ResolvedFormat struct {
	Kind       Format
	Confidence float64
	Payload    []byte
	Reason     string
}

// PageProfile is the governor's cheap page measurement. PageCount is nil when
// no cheap method could determine it.
type PageProfile struct {
	PageCount    *int
	ExceedsLimit bool
	Method       string
}

// Outcome classifies how extraction of one document ended.
type Outcome string

const (
	OutcomeOK             Outcome = "ok"
	OutcomeEmpty          Outcome = "empty"
	OutcomeTimeout        Outcome = "timeout"
	OutcomeOversized      Outcome = "oversized"
	OutcomeUnsupported    Outcome = "unsupported-format"
	OutcomeBinaryRejected Outcome = "binary-content-rejected"
	OutcomeToolError      Outcome = "tool-error"
)

// IsError reports whether the outcome is a failure rather than a skip or success.
func (o Outcome) IsError() bool {
	return o == OutcomeBinaryRejected || o == OutcomeToolError
}

// PageStats counts how each PDF page was resolved.
type PageStats struct {
	Embedded int `json:"embedded"`
	OCR      int `json:"ocr"`
	TimedOut int `json:"timed_out"`
	Failed   int `json:"failed"`
	Empty    int `json:"empty"`
}

// ExtractionResult is a tagged result: Outcome says why Text may be absent,
// so Confidence is always a real score in [0,1] and never a sentinel.
type ExtractionResult struct {
	Outcome    Outcome
	Text       string
	Confidence float64
	Method     string
	Reason     string
	PageCount  *int
	Pages      PageStats
}

func Ok(text string, confidence float64, method string) ExtractionResult {
	if text == "" {
		return Empty(method)
	}
	return ExtractionResult{Outcome: OutcomeOK, Text: text, Confidence: clamp01(confidence), Method: method}
}

func Empty(method string) ExtractionResult {
	return ExtractionResult{Outcome: OutcomeEmpty, Method: method, Reason: "extraction produced no text"}
}

func TimedOut(reason string) ExtractionResult {
	return ExtractionResult{Outcome: OutcomeTimeout, Reason: reason}
}

func Oversized(pages, limit int) ExtractionResult {
	return ExtractionResult{
		Outcome:   OutcomeOversized,
		PageCount: &pages,
		Reason:    fmt.Sprintf("document has %d pages, limit is %d", pages, limit),
	}
}

func Rejected(outcome Outcome, reason string) ExtractionResult {
	return ExtractionResult{Outcome: outcome, Reason: reason}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
