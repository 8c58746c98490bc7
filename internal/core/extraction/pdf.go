package extraction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/markdave123-py/clindoc/internal/core"
	"github.com/markdave123-py/clindoc/internal/core/ocr"
)

// Confidence given to a page whose OCR failed and whose short embedded text
// is used instead.
const embeddedFallbackConfidence = 0.5

// PageSource gives page-level access to an opened PDF. Pages are 1-based.
type PageSource interface {
	PageCount() int
	EmbeddedText(page int) string
	// Render rasterizes a single page to PNG.
	Render(ctx context.Context, page, dpi int) ([]byte, error)
	Close() error
}

// SourceOpener opens a PDF payload. maxPages lets an opener that has to
// convert the whole document to count pages stop early.
type SourceOpener func(ctx context.Context, data []byte, dpi, maxPages int) (PageSource, error)

// PDFStrategy extracts embedded text page by page and renders a page for OCR
// only when its embedded text is too short to be meaningful.
type PDFStrategy struct {
	open       SourceOpener
	recognizer ocr.Recognizer
	logger     *slog.Logger
}

func NewPDFStrategy(open SourceOpener, r ocr.Recognizer, logger *slog.Logger) *PDFStrategy {
	if logger == nil {
		logger = slog.Default()
	}
	return &PDFStrategy{open: open, recognizer: r, logger: logger}
}

type pageResult struct {
	text       string
	confidence float64
}

func (s *PDFStrategy) Extract(ctx context.Context, req Request) core.ExtractionResult {
	set := req.Settings

	src, err := s.open(ctx, req.Data, set.RenderDPI, set.MaxPages)
	if err != nil {
		if ctx.Err() != nil {
			return core.TimedOut(fmt.Sprintf("opening pdf: %v", ctx.Err()))
		}
		return core.Rejected(core.OutcomeToolError, fmt.Sprintf("open pdf: %v", err))
	}
	defer src.Close()

	n := src.PageCount()
	if n > set.MaxPages {
		return core.Oversized(n, set.MaxPages)
	}
	if n == 0 {
		res := core.Empty("pdf")
		res.PageCount = &n
		return res
	}

	breaker := newBreaker(req, s.logger)
	var stats core.PageStats
	pages := make([]pageResult, 0, n)

	for page := 1; page <= n; page++ {
		if err := ctx.Err(); err != nil {
			return core.TimedOut(fmt.Sprintf("stopped at page %d of %d: %v", page, n, err))
		}
		pr := s.page(ctx, req, src, breaker, page, &stats)
		pages = append(pages, pr)
	}

	var (
		texts []string
		sum   float64
	)
	for _, pr := range pages {
		sum += pr.confidence
		if pr.text != "" {
			texts = append(texts, pr.text)
		}
	}

	text := strings.Join(texts, "\n")
	var res core.ExtractionResult
	switch {
	case text == "" && stats.TimedOut > 0:
		res = core.TimedOut(fmt.Sprintf("ocr timed out on %d of %d pages and no embedded text was found", stats.TimedOut, n))
	case text == "" && stats.Failed > 0:
		res = core.Rejected(core.OutcomeToolError, fmt.Sprintf("rendering or ocr failed on %d of %d pages and no embedded text was found", stats.Failed, n))
	default:
		res = core.Ok(text, sum/float64(n), pdfMethod(stats))
	}
	res.PageCount = &n
	res.Pages = stats

	s.logger.Debug("pdf extracted",
		"document_id", req.DocumentID,
		"pages", n,
		"embedded_pages", stats.Embedded,
		"ocr_pages", stats.OCR,
		"timed_out_pages", stats.TimedOut,
		"failed_pages", stats.Failed,
	)
	return res
}

func (s *PDFStrategy) page(ctx context.Context, req Request, src PageSource, b *ocr.Breaker, page int, stats *core.PageStats) pageResult {
	set := req.Settings
	embedded := strings.TrimSpace(src.EmbeddedText(page))
	if utf8.RuneCountInString(embedded) >= set.MinEmbeddedChars {
		stats.Embedded++
		return pageResult{text: embedded, confidence: 1.0}
	}

	fallback := func() pageResult {
		if embedded == "" {
			return pageResult{}
		}
		return pageResult{text: embedded, confidence: embeddedFallbackConfidence}
	}

	if s.recognizer == nil {
		stats.Empty++
		return fallback()
	}

	renderCtx, cancel := context.WithTimeout(ctx, set.Timeout)
	img, err := src.Render(renderCtx, page, set.RenderDPI)
	expired := renderCtx.Err() != nil
	cancel()
	if err != nil {
		s.logger.Warn("page render failed", "document_id", req.DocumentID, "page", page, "error", err)
		if expired || errors.Is(err, context.DeadlineExceeded) {
			stats.TimedOut++
		} else {
			stats.Failed++
		}
		return fallback()
	}

	rec := b.Run(ctx, s.recognizer, ocr.Input{
		ID:       fmt.Sprintf("%s/page-%d", req.DocumentID, page),
		Image:    img,
		DPI:      set.RenderDPI,
		Language: set.Language,
	})
	switch rec.Status {
	case ocr.StatusRecognized:
		stats.OCR++
		return pageResult{text: rec.Text, confidence: rec.Confidence}
	case ocr.StatusNoText:
		stats.Empty++
	case ocr.StatusTimedOut:
		stats.TimedOut++
	default:
		stats.Failed++
	}
	return fallback()
}

func pdfMethod(st core.PageStats) string {
	switch {
	case st.OCR == 0 && st.TimedOut == 0 && st.Failed == 0 && st.Empty == 0:
		return "pdf-embedded"
	case st.Embedded == 0:
		return "pdf-ocr"
	}
	return "pdf-hybrid"
}
