package extraction

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/draw"
	_ "image/jpeg"
	"image/png"
	"log/slog"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"

	"github.com/markdave123-py/clindoc/internal/core"
	"github.com/markdave123-py/clindoc/internal/core/ocr"
)

// ImageStrategy OCRs a single bitmap through the breaker.
type ImageStrategy struct {
	recognizer ocr.Recognizer
	logger     *slog.Logger
}

func NewImageStrategy(r ocr.Recognizer, logger *slog.Logger) *ImageStrategy {
	if logger == nil {
		logger = slog.Default()
	}
	return &ImageStrategy{recognizer: r, logger: logger}
}

func (s *ImageStrategy) Extract(ctx context.Context, req Request) core.ExtractionResult {
	if s.recognizer == nil {
		return core.Rejected(core.OutcomeToolError, "no OCR engine configured")
	}

	gray, err := toGrayPNG(req.Data)
	if err != nil {
		return core.Rejected(core.OutcomeToolError, err.Error())
	}

	breaker := newBreaker(req, s.logger)
	rec := breaker.Run(ctx, s.recognizer, ocr.Input{
		ID:       req.DocumentID,
		Image:    gray,
		Language: req.Settings.Language,
	})
	return fromRecognition(rec, breaker, "image-ocr")
}

func newBreaker(req Request, logger *slog.Logger) *ocr.Breaker {
	return ocr.NewBreaker(req.Settings.Timeout, req.Settings.MinTokenConfidence/100, logger)
}

func fromRecognition(rec ocr.Recognition, b *ocr.Breaker, method string) core.ExtractionResult {
	switch rec.Status {
	case ocr.StatusRecognized:
		return core.Ok(rec.Text, rec.Confidence, method)
	case ocr.StatusNoText:
		return core.Empty(method)
	case ocr.StatusTimedOut:
		return core.TimedOut(fmt.Sprintf("ocr exceeded %s", b.Timeout()))
	default:
		return core.Rejected(core.OutcomeToolError, fmt.Sprintf("ocr: %v", rec.Err))
	}
}

// toGrayPNG decodes any registered bitmap format and re-encodes it as an
// 8-bit grayscale PNG so every engine sees one color mode.
func toGrayPNG(data []byte) ([]byte, error) {
	src, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	gray, ok := src.(*image.Gray)
	if !ok {
		gray = image.NewGray(src.Bounds())
		draw.Draw(gray, gray.Bounds(), src, src.Bounds().Min, draw.Src)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, gray); err != nil {
		return nil, fmt.Errorf("encode %s as png: %w", format, err)
	}
	return buf.Bytes(), nil
}
