// Package extraction turns a payload of a resolved format into text and a
// confidence score. Every failure is reported as a tagged ExtractionResult;
// strategies never return bare errors to the coordinator.
package extraction

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/markdave123-py/clindoc/internal/config"
	"github.com/markdave123-py/clindoc/internal/core"
	"github.com/markdave123-py/clindoc/internal/core/ocr"
	"github.com/markdave123-py/clindoc/internal/core/sniffer"
)

// Request is one extraction job. Settings is the batch snapshot.
type Request struct {
	DocumentID string
	Format     core.Format
	Data       []byte
	Settings   config.PipelineSettings
}

// Strategy extracts one format.
type Strategy interface {
	Extract(ctx context.Context, req Request) core.ExtractionResult
}

// StrategyFunc adapts a function to the Strategy interface.
type StrategyFunc func(ctx context.Context, req Request) core.ExtractionResult

func (f StrategyFunc) Extract(ctx context.Context, req Request) core.ExtractionResult {
	return f(ctx, req)
}

// Engine dispatches requests to the strategy registered for their format.
type Engine struct {
	strategies map[core.Format]Strategy
	logger     *slog.Logger
}

// NewEngine fails with core.ErrNoExtractor when any mandatory format is
// missing a strategy.
func NewEngine(strategies map[core.Format]Strategy, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var missing []string
	for _, f := range core.MandatoryFormats {
		if strategies[f] == nil {
			missing = append(missing, string(f))
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("%w: %s", core.ErrNoExtractor, strings.Join(missing, ", "))
	}

	registry := make(map[core.Format]Strategy, len(strategies))
	for f, s := range strategies {
		registry[f] = s
	}
	return &Engine{strategies: registry, logger: logger}, nil
}

// Extract runs the strategy for req.Format. Plain text that carries a binary
// signature is re-routed to the strategy for that signature.
func (e *Engine) Extract(ctx context.Context, req Request) core.ExtractionResult {
	if req.Format == core.FormatText {
		if kind, ok := sniffer.MagicFormat(req.Data); ok && kind != core.FormatText {
			e.logger.Info("re-routing mislabelled text payload", "document_id", req.DocumentID, "format", kind)
			req.Format = kind
		}
	}

	s, ok := e.strategies[req.Format]
	if !ok {
		return core.Rejected(core.OutcomeUnsupported, fmt.Sprintf("no extractor for format %q", req.Format))
	}

	start := time.Now()
	res := e.safeExtract(ctx, s, req)
	e.logger.Debug("extraction finished",
		"document_id", req.DocumentID,
		"format", req.Format,
		"outcome", res.Outcome,
		"method", res.Method,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return res
}

func (e *Engine) safeExtract(ctx context.Context, s Strategy, req Request) (res core.ExtractionResult) {
	defer func() {
		if p := recover(); p != nil {
			e.logger.Error("extraction panic", "document_id", req.DocumentID, "format", req.Format, "panic", p)
			res = core.Rejected(core.OutcomeToolError, fmt.Sprintf("extractor panic: %v", p))
		}
	}()
	return s.Extract(ctx, req)
}

// Deps are the collaborators of the default strategies.
type Deps struct {
	Runner     Runner
	Recognizer ocr.Recognizer
	Tools      config.Tools
	Logger     *slog.Logger
}

// DefaultStrategies wires the production strategy for every mandatory format.
func DefaultStrategies(d Deps) map[core.Format]Strategy {
	if d.Runner == nil {
		d.Runner = ExecRunner{}
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	tools := d.Tools.WithDefaults()

	pdf := NewPDFStrategy(OpenPDF(d.Runner, tools.Pdftoppm), d.Recognizer, d.Logger)
	img := NewImageStrategy(d.Recognizer, d.Logger)

	return map[core.Format]Strategy{
		core.FormatPDF:  pdf,
		core.FormatJPEG: img,
		core.FormatPNG:  img,
		core.FormatTIFF: img,
		core.FormatBMP:  img,
		core.FormatHTML: NewHTMLStrategy(),
		core.FormatDOCX: StrategyFunc(extractDocx),
		core.FormatDOC:  LegacyDocChain(d.Runner, tools, pdf),
		core.FormatText: StrategyFunc(extractText),
	}
}
