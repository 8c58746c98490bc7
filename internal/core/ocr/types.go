package ocr

import "context"

// Input is one bitmap submitted for recognition.
type Input struct {
	// ID is echoed into logs and spans, e.g. "doc-42/page-3".
	ID string
	// Image is a PNG-encoded grayscale bitmap.
	Image []byte
	// DPI is the rendering resolution; zero means unknown.
	DPI      int
	Language string
}

// Word is a single recognized token. Confidence is in [0,1].
type Word struct {
	Text       string
	Confidence float64
	// Line groups words that share a text line, in reading order.
	Line int
}

// Result is the raw output of a recognizer.
type Result struct {
	Words []Word
}

// Recognizer is the OCR engine contract: one image in, word boxes out.
// Implementations should honour ctx but are not required to; the Breaker
// bounds them either way.
type Recognizer interface {
	Name() string
	Recognize(ctx context.Context, in Input) (Result, error)
}

// RecognizerFunc adapts a function to the Recognizer interface.
type RecognizerFunc func(ctx context.Context, in Input) (Result, error)

func (f RecognizerFunc) Name() string { return "func" }

func (f RecognizerFunc) Recognize(ctx context.Context, in Input) (Result, error) {
	return f(ctx, in)
}
