package ingestion_engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"github.com/markdave123-py/clindoc/internal/config"
	"github.com/markdave123-py/clindoc/internal/core"
	"github.com/markdave123-py/clindoc/internal/core/extraction"
	"github.com/markdave123-py/clindoc/internal/core/governor"
	"github.com/markdave123-py/clindoc/internal/core/sniffer"
	"github.com/markdave123-py/clindoc/internal/models"
)

const instrumentationName = "github.com/markdave123-py/clindoc/ingestion"

// Extractor is satisfied by *extraction.Engine.
type Extractor interface {
	Extract(ctx context.Context, req extraction.Request) core.ExtractionResult
}

// Measurement is the cheap, render-free view of a document: its resolved
// format and, for page-oriented formats, its page profile.
type Measurement struct {
	Format  core.ResolvedFormat
	Profile core.PageProfile
}

// Processed is the coordinator's verdict for one document. Text is the
// redacted text; the unredacted extraction never leaves Process.
type Processed struct {
	DocumentID string
	Format     core.Format
	Profile    core.PageProfile
	Result     core.ExtractionResult
	Text       string
	TextLength int
	PHICounts  map[string]int
	Chunks     []models.DocumentChunk
}

// PageCount prefers the count measured during extraction over the
// governor's estimate.
func (p Processed) PageCount() *int {
	if p.Result.PageCount != nil {
		return p.Result.PageCount
	}
	return p.Profile.PageCount
}

// Coordinator runs one document through sniffing, governance, extraction,
// the binary gate, redaction and enrichment.
type Coordinator struct {
	engine Extractor
	phi    core.PHIFilter
	audit  core.AuditLogger
	chunks ChunkConfig
	logger *slog.Logger

	outcomes metric.Int64Counter
	duration metric.Float64Histogram
}

func NewCoordinator(engine Extractor, phi core.PHIFilter, audit core.AuditLogger, logger *slog.Logger) (*Coordinator, error) {
	if engine == nil {
		return nil, errors.New("coordinator: extraction engine is nil")
	}
	if phi == nil {
		return nil, errors.New("coordinator: PHI filter is nil")
	}
	if audit == nil {
		return nil, errors.New("coordinator: audit logger is nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	meter := otel.Meter(instrumentationName)
	outcomes, err := meter.Int64Counter("clindoc.documents",
		metric.WithDescription("Documents processed, by outcome and format."))
	if err != nil {
		return nil, fmt.Errorf("create outcome counter: %w", err)
	}
	duration, err := meter.Float64Histogram("clindoc.document.duration",
		metric.WithDescription("Wall-clock processing time per document."),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("create duration histogram: %w", err)
	}

	return &Coordinator{
		engine:   engine,
		phi:      phi,
		audit:    audit,
		chunks:   DefaultChunkConfig(),
		logger:   logger,
		outcomes: outcomes,
		duration: duration,
	}, nil
}

// WithChunkConfig overrides the enrichment window.
func (c *Coordinator) WithChunkConfig(cfg ChunkConfig) *Coordinator {
	if cfg.TargetTokens > 0 && cfg.OverlapTokens >= 0 {
		c.chunks = cfg
	}
	return c
}

// Measure sniffs the document and, for page-oriented formats, estimates its
// page count. It never renders.
func (c *Coordinator) Measure(doc core.RawDocument, set config.PipelineSettings) Measurement {
	m := Measurement{Format: sniffer.Sniff(doc.Data, doc.ContentType, doc.Title)}
	if m.Format.Kind.IsPageOriented() {
		m.Profile = governor.Estimate(m.Format.Payload, m.Format.Kind, set.MaxPages)
	}
	return m
}

// Process runs the full pipeline for doc under the batch settings snapshot.
func (c *Coordinator) Process(ctx context.Context, set config.PipelineSettings, doc core.RawDocument) Processed {
	return c.process(ctx, set, doc, c.Measure(doc, set))
}

func (c *Coordinator) process(ctx context.Context, set config.PipelineSettings, doc core.RawDocument, m Measurement) (p Processed) {
	ctx, span := otel.Tracer(instrumentationName).Start(ctx, "document.process")
	defer span.End()
	start := time.Now()

	p = Processed{DocumentID: doc.ID, Format: m.Format.Kind, Profile: m.Profile}
	c.emit(ctx, doc, core.EventProcessingStarted, 0, 0, map[string]any{"source": doc.Source})

	defer func() {
		attrs := []attribute.KeyValue{
			attribute.String("outcome", string(p.Result.Outcome)),
			attribute.String("format", string(p.Format)),
		}
		span.SetAttributes(append(attrs,
			attribute.String("document.id", doc.ID),
			attribute.String("method", p.Result.Method),
			attribute.Float64("confidence", p.Result.Confidence),
		)...)
		c.outcomes.Add(ctx, 1, metric.WithAttributes(attrs...))
		c.duration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(attrs...))

		detail := map[string]any{
			"format":  string(p.Format),
			"outcome": string(p.Result.Outcome),
			"method":  p.Result.Method,
		}
		if n := p.PageCount(); n != nil {
			detail["page_count"] = *n
		}
		if p.Result.Reason != "" {
			detail["reason"] = p.Result.Reason
		}

		event := core.EventProcessingCompleted
		if !completed(p.Result.Outcome) {
			event = core.EventProcessingFailed
			span.SetStatus(codes.Error, p.Result.Reason)
		}
		c.emit(ctx, doc, event, p.Result.Confidence, p.TextLength, detail)

		c.logger.Info("document processed",
			"document_id", doc.ID,
			"format", p.Format,
			"outcome", p.Result.Outcome,
			"method", p.Result.Method,
			"confidence", p.Result.Confidence,
			"text_length", p.TextLength,
			"chunks", len(p.Chunks),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}()

	res := c.extract(ctx, set, doc, m)
	if res.Outcome != core.OutcomeOK {
		res.Text = ""
		res.Confidence = 0
		p.Result = res
		return p
	}

	redacted, counts, err := c.phi.Redact(ctx, res.Text)
	if err != nil {
		p.Result = core.Rejected(core.OutcomeToolError, fmt.Sprintf("phi redaction: %v", err))
		return p
	}
	res.Text = ""
	p.Result = res
	p.Text = redacted
	p.TextLength = utf8.RuneCountInString(redacted)
	p.PHICounts = counts
	c.emit(ctx, doc, core.EventPHIRedacted, res.Confidence, p.TextLength, map[string]any{"phi_counts": counts})

	chunks, err := enrich(ctx, redacted, c.chunks)
	if err != nil {
		p.Result = core.Rejected(core.OutcomeTimeout, fmt.Sprintf("enrichment interrupted: %v", err))
		p.Text, p.TextLength, p.PHICounts = "", 0, nil
		return p
	}
	p.Chunks = make([]models.DocumentChunk, 0, len(chunks))
	for _, ch := range chunks {
		p.Chunks = append(p.Chunks, models.DocumentChunk{
			ID:         uuid.NewString(),
			DocumentID: doc.ID,
			Text:       ch.Text,
			Position:   ch.Pos,
			TokenCount: ch.TokenCnt,
		})
	}
	return p
}

// extract covers everything up to the point where text may leave the
// pipeline: format and page gates, extraction, and the binary gate.
func (c *Coordinator) extract(ctx context.Context, set config.PipelineSettings, doc core.RawDocument, m Measurement) core.ExtractionResult {
	if m.Format.Kind == core.FormatUnknown {
		reason := m.Format.Reason
		if reason == "" {
			reason = "format could not be determined"
		}
		return core.Rejected(core.OutcomeUnsupported, reason)
	}

	if m.Profile.ExceedsLimit && m.Profile.PageCount != nil {
		return core.Oversized(*m.Profile.PageCount, set.MaxPages)
	}

	res := c.engine.Extract(ctx, extraction.Request{
		DocumentID: doc.ID,
		Format:     m.Format.Kind,
		Data:       m.Format.Payload,
		Settings:   set,
	})
	if res.Outcome != core.OutcomeOK {
		return res
	}

	if err := extraction.CheckBinary(res.Text); err != nil {
		c.logger.Warn("extracted text rejected", "document_id", doc.ID, "format", m.Format.Kind, "method", res.Method, "error", err)
		rej := core.Rejected(core.OutcomeBinaryRejected, err.Error())
		rej.Method = res.Method
		rej.PageCount = res.PageCount
		return rej
	}

	if strings.TrimSpace(res.Text) == "" {
		empty := core.Empty(res.Method)
		empty.PageCount = res.PageCount
		empty.Pages = res.Pages
		return empty
	}
	return res
}

func (c *Coordinator) emit(ctx context.Context, doc core.RawDocument, name string, confidence float64, textLength int, detail map[string]any) {
	err := c.audit.Log(ctx, core.AuditEvent{
		Name:       name,
		DocumentID: doc.ID,
		TenantID:   doc.TenantID,
		PatientID:  doc.PatientID,
		Confidence: confidence,
		TextLength: textLength,
		Detail:     detail,
	})
	if err != nil {
		c.logger.Warn("audit event not recorded", "document_id", doc.ID, "event", name, "error", err)
	}
}

// completed reports whether an outcome is a normal end of processing.
// Oversized is a deliberate skip, not a failure.
func completed(o core.Outcome) bool {
	switch o {
	case core.OutcomeOK, core.OutcomeEmpty, core.OutcomeOversized:
		return true
	}
	return false
}
